// Package session is the shared game-session engine behind every mini-game.
// Sessions live in a Store that serializes mutations per session id; the
// lifecycle, player registry, turn arbiter and scoring rules are all applied
// inside that single choke point.
package session

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
)

func (s Status) rank() int {
	switch s {
	case StatusWaiting:
		return 0
	case StatusActive:
		return 1
	case StatusCompleted:
		return 2
	}
	return -1
}

func (s Status) Valid() bool { return s.rank() >= 0 }

// PlayerState is the per-identity bookkeeping of a session.
type PlayerState struct {
	Score        int       `json:"score"`
	Ready        bool      `json:"ready"`
	LastActionAt time.Time `json:"lastActionAt"`
}

type Player struct {
	Identity string `json:"identity"`
	PlayerState
}

// Roster is the ordered player mapping. Slot 0 is the first identity to join.
// It encodes as a JSON object whose key order is the join order.
type Roster []Player

func (r Roster) index(identity string) int {
	for i := range r {
		if r[i].Identity == identity {
			return i
		}
	}
	return -1
}

// Get returns the state for identity.
func (r Roster) Get(identity string) (PlayerState, bool) {
	if i := r.index(identity); i >= 0 {
		return r[i].PlayerState, true
	}
	return PlayerState{}, false
}

// ReadyCount reports how many players are currently ready.
func (r Roster) ReadyCount() int {
	n := 0
	for _, p := range r {
		if p.Ready {
			n++
		}
	}
	return n
}

// upsert returns the slot for identity, appending a new one if needed.
func (r *Roster) upsert(identity string) *Player {
	if i := r.index(identity); i >= 0 {
		return &(*r)[i]
	}
	*r = append(*r, Player{Identity: identity})
	return &(*r)[len(*r)-1]
}

func (r Roster) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, p := range r {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(p.Identity)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(p.PlayerState)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (r *Roster) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*r = nil
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return errors.New("session: players must be a JSON object")
	}

	var out Roster
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		identity, ok := tok.(string)
		if !ok {
			return fmt.Errorf("session: unexpected players key %v", tok)
		}
		var st PlayerState
		if err := dec.Decode(&st); err != nil {
			return fmt.Errorf("session: decoding player %q: %w", identity, err)
		}
		if out.index(identity) >= 0 {
			return fmt.Errorf("session: duplicate player %q", identity)
		}
		out = append(out, Player{Identity: identity, PlayerState: st})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*r = out
	return nil
}

// Session is the unit of shared state for one run of one mini-game.
// Version counts committed mutations, starting at 1 on creation.
type Session struct {
	ID          string         `json:"id"`
	GameType    string         `json:"gameType"`
	Status      Status         `json:"status"`
	Players     Roster         `json:"players"`
	GameData    map[string]any `json:"gameData"`
	EndReason   Reason         `json:"endReason,omitempty"`
	Version     uint64         `json:"version"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
	ActivatedAt *time.Time     `json:"activatedAt,omitempty"`
	CompletedAt *time.Time     `json:"completedAt,omitempty"`

	// Tokens records the idempotency tokens already applied per identity.
	// It is kept out of client snapshots but persisted with the session.
	Tokens Ledger `json:"-"`
}

// Supersedes reports whether s is at least as recent as o. A session
// recreated under a reused id supersedes every snapshot of its predecessor.
func (s *Session) Supersedes(o *Session) bool {
	if !s.CreatedAt.Equal(o.CreatedAt) {
		return s.CreatedAt.After(o.CreatedAt)
	}
	return s.Version >= o.Version
}

// Clone returns a deep copy. GameData values are copied recursively so a
// snapshot never shares mutable structure with the stored record.
func (s *Session) Clone() *Session {
	c := *s
	if s.Players != nil {
		c.Players = append(Roster(nil), s.Players...)
	}
	c.GameData = copyMap(s.GameData)
	c.Tokens = s.Tokens.clone()
	if s.ActivatedAt != nil {
		t := *s.ActivatedAt
		c.ActivatedAt = &t
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return copyMap(t)
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = copyValue(t[i])
		}
		return out
	default:
		return v
	}
}

// Ledger maps an identity to the idempotency tokens it has already spent.
type Ledger map[string][]string

func (l Ledger) seen(identity, token string) bool {
	for _, t := range l[identity] {
		if t == token {
			return true
		}
	}
	return false
}

func (l Ledger) clone() Ledger {
	if l == nil {
		return nil
	}
	out := make(Ledger, len(l))
	for k, v := range l {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// AsInt converts a decoded JSON number to an int. Non-integral floats are
// rejected.
func AsInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n != float64(int(n)) {
			return 0, false
		}
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return int(i), true
	}
	return 0, false
}
