package session

import (
	"fmt"
	"time"
)

// Reason records why a status transition happened.
type Reason string

const (
	ReasonReady     Reason = "ready"
	ReasonEnded     Reason = "ended"
	ReasonPredicate Reason = "predicate"
	// ReasonAborted is the only way a session leaves waiting without ever
	// becoming active.
	ReasonAborted Reason = "aborted"
)

// Transition describes an accepted status change, reported to hooks after the
// per-session lock is released.
type Transition struct {
	SessionID string
	GameType  string
	From      Status
	To        Status
	Reason    Reason
}

func canTransition(from, to Status, reason Reason) bool {
	switch {
	case from == StatusWaiting && to == StatusActive:
		return reason == ReasonReady
	case from == StatusActive && to == StatusCompleted:
		return reason == ReasonEnded || reason == ReasonPredicate
	case from == StatusWaiting && to == StatusCompleted:
		return reason == ReasonAborted
	}
	return false
}

func (s *Session) transition(to Status, reason Reason, at time.Time) error {
	if !canTransition(s.Status, to, reason) {
		return fmt.Errorf("%w: %s -> %s (%s)", ErrIllegalTransition, s.Status, to, reason)
	}
	s.Status = to
	switch to {
	case StatusActive:
		s.ActivatedAt = &at
	case StatusCompleted:
		s.CompletedAt = &at
		s.EndReason = reason
	}
	return nil
}

// advance applies the automatic transitions after a mutation: activation once
// enough players are ready, then the gameType's completion predicate.
func (st *Store) advance(s *Session, at time.Time) []Transition {
	rules := st.rules.For(s.GameType)
	var out []Transition

	if s.Status == StatusWaiting && s.Players.ReadyCount() >= rules.threshold() {
		if err := s.transition(StatusActive, ReasonReady, at); err == nil {
			out = append(out, Transition{s.ID, s.GameType, StatusWaiting, StatusActive, ReasonReady})
		}
	}
	if s.Status == StatusActive && rules.Complete != nil && rules.Complete(s) {
		if err := s.transition(StatusCompleted, ReasonPredicate, at); err == nil {
			out = append(out, Transition{s.ID, s.GameType, StatusActive, StatusCompleted, ReasonPredicate})
		}
	}
	return out
}

// EndGame completes the session. Ending a waiting session is accepted as an
// abort rather than rejected, so hosts can always abandon a game. Ending an
// already completed session returns the snapshot with ErrAlreadyCompleted.
func (st *Store) EndGame(id string) (*Session, error) {
	return st.Mutate(id, func(s *Session) error {
		now := st.now()
		if s.Status == StatusWaiting {
			return s.transition(StatusCompleted, ReasonAborted, now)
		}
		return s.transition(StatusCompleted, ReasonEnded, now)
	})
}

// checkInvariants rejects any mutation function that broke the forward-only
// lifecycle, dropped or reordered players, or lowered a score.
func checkInvariants(prev, next *Session) error {
	if next.ID != prev.ID || next.GameType != prev.GameType || !next.CreatedAt.Equal(prev.CreatedAt) {
		return fmt.Errorf("%w: identity fields changed", ErrInvariant)
	}
	if !next.Status.Valid() || next.Status.rank() < prev.Status.rank() {
		return fmt.Errorf("%w: status %s -> %s", ErrInvariant, prev.Status, next.Status)
	}
	if len(next.Players) < len(prev.Players) {
		return fmt.Errorf("%w: players removed", ErrInvariant)
	}
	for i, p := range prev.Players {
		q := next.Players[i]
		if q.Identity != p.Identity {
			return fmt.Errorf("%w: player slot %d reordered", ErrInvariant, i)
		}
		if q.Score < p.Score {
			return fmt.Errorf("%w: score of %q decreased", ErrInvariant, p.Identity)
		}
	}
	seen := make(map[string]struct{}, len(next.Players))
	for _, p := range next.Players {
		if p.Identity == "" {
			return fmt.Errorf("%w: empty identity", ErrInvariant)
		}
		if p.Score < 0 {
			return fmt.Errorf("%w: negative score for %q", ErrInvariant, p.Identity)
		}
		if _, dup := seen[p.Identity]; dup {
			return fmt.Errorf("%w: duplicate player %q", ErrInvariant, p.Identity)
		}
		seen[p.Identity] = struct{}{}
	}
	return nil
}
