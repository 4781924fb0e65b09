// Package games holds the per-gameType rules the mini-game screens rely on.
// Each game decodes the opaque gameData into its own typed view and derives
// its completion predicate from that view.
package games

import (
	"encoding/json"

	"github.com/playperu/valentines/internal/session"
)

const (
	HugChain     = "hug-chain"
	Trivia       = "trivia"
	SpinWheel    = "spin-wheel"
	ReactionRace = "reaction-race"
	LoveVote     = "love-vote"
)

const (
	defaultHugTarget      = 10
	minSpins              = 5
	defaultReactionTarget = 5
)

// view decodes gameData into a typed struct. ok is false when a known key
// holds a value of the wrong shape; predicates then treat the game as not
// finished rather than reading a half-decoded view.
func view[T any](s *session.Session) (v T, ok bool) {
	data, err := json.Marshal(s.GameData)
	if err != nil {
		return v, false
	}
	if err := json.Unmarshal(data, &v); err != nil {
		var zero T
		return zero, false
	}
	return v, true
}

type hugChain struct {
	Chain      int    `json:"chain"`
	Target     int    `json:"target"`
	LastHugger string `json:"lastHugger"`
}

func hugChainDone(s *session.Session) bool {
	v, ok := view[hugChain](s)
	if !ok {
		return false
	}
	target := v.Target
	if target <= 0 {
		target = defaultHugTarget
	}
	return v.Chain >= target
}

type trivia struct {
	Questions            []json.RawMessage `json:"questions"`
	CurrentQuestionIndex int               `json:"currentQuestionIndex"`
}

func triviaDone(s *session.Session) bool {
	v, ok := view[trivia](s)
	return ok && len(v.Questions) > 0 && v.CurrentQuestionIndex >= len(v.Questions)
}

type spinWheel struct {
	Spins    int  `json:"spins"`
	Finished bool `json:"finished"`
}

func spinWheelDone(s *session.Session) bool {
	v, ok := view[spinWheel](s)
	return ok && v.Spins >= minSpins && v.Finished
}

type reactionRace struct {
	Target int `json:"target"`
}

func reactionRaceDone(s *session.Session) bool {
	v, ok := view[reactionRace](s)
	if !ok {
		return false
	}
	target := v.Target
	if target <= 0 {
		target = defaultReactionTarget
	}
	for _, p := range s.Players {
		if p.Score >= target {
			return true
		}
	}
	return false
}

// Votes arrive as answers, so concurrent voters never overwrite each other.
type loveVote struct {
	Votes map[string]json.RawMessage `json:"lastAnswer"`
}

func loveVoteDone(s *session.Session) bool {
	if len(s.Players) == 0 {
		return false
	}
	v, ok := view[loveVote](s)
	if !ok {
		return false
	}
	votes := v.Votes
	for _, p := range s.Players {
		if _, ok := votes[p.Identity]; !ok {
			return false
		}
	}
	return true
}

// Register installs every built-in game into b.
func Register(b *session.RuleBook) {
	b.Register(HugChain, session.Rules{
		ActorKey: "lastHugger",
		Arbiter:  session.Alternation{Key: "lastHugger"},
		Complete: hugChainDone,
	})
	b.Register(Trivia, session.Rules{
		Arbiter:  session.AllowAll,
		Complete: triviaDone,
	})
	b.Register(SpinWheel, session.Rules{
		Arbiter:  session.AllowAll,
		Complete: spinWheelDone,
	})
	b.Register(ReactionRace, session.Rules{
		ReadyThreshold: 2,
		Arbiter:        session.AllowAll,
		Complete:       reactionRaceDone,
	})
	b.Register(LoveVote, session.Rules{
		Arbiter:  session.AllowAll,
		Complete: loveVoteDone,
	})
}
