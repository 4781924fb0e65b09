package session

// SetPlayerReady upserts identity's slot and sets its readiness. Enough ready
// players moves a waiting session to active in the same mutation.
// Un-readying never moves a session backwards.
func (st *Store) SetPlayerReady(id, identity string, ready bool) (*Session, error) {
	if identity == "" {
		return nil, ErrInvalidIdentity
	}
	return st.Mutate(id, func(s *Session) error {
		p := s.Players.upsert(identity)
		p.Ready = ready
		p.LastActionAt = st.now()
		return nil
	})
}

func (st *Store) GetPlayer(id, identity string) (PlayerState, error) {
	s, err := st.Get(id)
	if err != nil {
		return PlayerState{}, err
	}
	p, ok := s.Players.Get(identity)
	if !ok {
		return PlayerState{}, ErrPlayerNotFound
	}
	return p, nil
}
