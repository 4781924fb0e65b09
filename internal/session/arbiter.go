package session

import "fmt"

// Arbiter decides whether identity may perform an action of kind on s. A
// refusal is not an error; callers surface it as "not your turn".
type Arbiter interface {
	Authorize(s *Session, identity, kind string) bool
}

type ArbiterFunc func(s *Session, identity, kind string) bool

func (f ArbiterFunc) Authorize(s *Session, identity, kind string) bool { return f(s, identity, kind) }

// AllowAll places no turn constraint on actions.
var AllowAll Arbiter = ArbiterFunc(func(*Session, string, string) bool { return true })

// Alternation refuses an identity that was also the last actor recorded
// under Key. A session with no recorded actor authorizes anyone.
type Alternation struct {
	Key string
}

func (a Alternation) Authorize(s *Session, identity, _ string) bool {
	key := a.Key
	if key == "" {
		key = DefaultActorKey
	}
	last, _ := s.GameData[key].(string)
	return last == "" || last != identity
}

// Authorize consults the gameType's arbiter against the current snapshot.
func (st *Store) Authorize(id, identity, kind string) (bool, error) {
	s, err := st.Get(id)
	if err != nil {
		return false, err
	}
	return st.rules.For(s.GameType).arbiter().Authorize(s, identity, kind), nil
}

// Action is one turn in a turn-constrained game.
type Action struct {
	Identity string
	Kind     string
	// GameData is shallow-merged into the session.
	GameData map[string]any
	// Increments are added server-side to integer gameData counters so
	// concurrent actors never overwrite each other's count.
	Increments map[string]int
	Delta      int
	Token      string
}

// Act authorizes, applies and records an action in one atomic mutation: the
// actor key, counters and score change together, so no other identity can
// observe a stale actor between them.
func (st *Store) Act(id string, a Action) (*Session, error) {
	if a.Identity == "" {
		return nil, ErrInvalidIdentity
	}
	if err := validDelta(a.Delta); err != nil {
		return nil, err
	}
	return st.mutateOnce(id, a.Identity, a.Token, func(s *Session) error {
		// A replayed token must win over the arbiter: the original attempt
		// already made this identity the last actor.
		if err := claimToken(s, a.Identity, a.Token); err != nil {
			return err
		}

		rules := st.rules.For(s.GameType)
		if !rules.arbiter().Authorize(s, a.Identity, a.Kind) {
			return ErrTurnViolation
		}

		merge(s.GameData, a.GameData)
		for k, n := range a.Increments {
			cur := 0
			if v, ok := s.GameData[k]; ok && v != nil {
				i, ok := AsInt(v)
				if !ok {
					return fmt.Errorf("%w: %s is not an integer", ErrInvalidPayload, k)
				}
				cur = i
			}
			s.GameData[k] = cur + n
		}
		s.GameData[rules.actorKey()] = a.Identity

		p := s.Players.upsert(a.Identity)
		p.Score += a.Delta
		p.LastActionAt = st.now()
		return nil
	})
}
