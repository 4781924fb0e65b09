package session

// MaxDelta bounds a single score change.
const MaxDelta = 1_000_000

func validDelta(delta int) error {
	if delta < 0 || delta > MaxDelta {
		return ErrInvalidDelta
	}
	return nil
}

// claimToken spends token for identity. A token already spent yields
// errUnchanged so the whole mutation becomes a no-op. An empty token always
// applies.
func claimToken(s *Session, identity, token string) error {
	if token == "" {
		return nil
	}
	if s.Tokens.seen(identity, token) {
		return errUnchanged
	}
	if s.Tokens == nil {
		s.Tokens = make(Ledger)
	}
	s.Tokens[identity] = append(s.Tokens[identity], token)
	return nil
}

// UpdateScore adds delta to identity's score, creating the slot if absent.
// When token is non-empty, a repeat of the same (session, identity, token)
// returns the unchanged session instead of applying delta again.
func (st *Store) UpdateScore(id, identity string, delta int, token string) (*Session, error) {
	if identity == "" {
		return nil, ErrInvalidIdentity
	}
	if err := validDelta(delta); err != nil {
		return nil, err
	}
	return st.mutateOnce(id, identity, token, func(s *Session) error {
		if err := claimToken(s, identity, token); err != nil {
			return err
		}
		p := s.Players.upsert(identity)
		p.Score += delta
		p.LastActionAt = st.now()
		return nil
	})
}
