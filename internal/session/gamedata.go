package session

import "fmt"

// merge shallow-merges patch into dst: keys present in patch overwrite,
// all other keys survive.
func merge(dst, patch map[string]any) {
	for k, v := range patch {
		dst[k] = copyValue(v)
	}
}

// UpdateGameData shallow-merges patch into the session's gameData.
func (st *Store) UpdateGameData(id string, patch map[string]any) (*Session, error) {
	return st.Mutate(id, func(s *Session) error {
		merge(s.GameData, patch)
		return nil
	})
}

// Answer is a submitted answer. Delta optionally scores it in the same
// mutation.
type Answer struct {
	Identity string
	Payload  any
	Delta    int
	Token    string
}

// SubmitAnswer stores the payload under gameData.lastAnswer[identity].
func (st *Store) SubmitAnswer(id string, a Answer) (*Session, error) {
	if a.Identity == "" {
		return nil, ErrInvalidIdentity
	}
	if err := validDelta(a.Delta); err != nil {
		return nil, err
	}
	return st.mutateOnce(id, a.Identity, a.Token, func(s *Session) error {
		if err := claimToken(s, a.Identity, a.Token); err != nil {
			return err
		}

		answers := map[string]any{}
		switch prev := s.GameData[AnswerKey].(type) {
		case nil:
		case map[string]any:
			answers = prev
		default:
			return fmt.Errorf("%w: %s is not an object", ErrInvalidPayload, AnswerKey)
		}
		answers[a.Identity] = copyValue(a.Payload)
		s.GameData[AnswerKey] = answers

		p := s.Players.upsert(a.Identity)
		p.Score += a.Delta
		p.LastActionAt = st.now()
		return nil
	})
}
