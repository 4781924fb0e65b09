package session

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

const maxIDLength = 128

// Sink receives the post-commit snapshot of every accepted mutation. Publish
// is called after the per-session lock is released and must not block.
type Sink interface {
	Publish(s *Session)
}

type Option func(*Store)

func WithRules(b *RuleBook) Option { return func(s *Store) { s.rules = b } }

func WithSink(sink Sink) Option { return func(s *Store) { s.sink = sink } }

func WithLogger(l *slog.Logger) Option { return func(s *Store) { s.logger = l } }

func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

// WithTransitionHook registers fn to observe lifecycle transitions.
func WithTransitionHook(fn func(Transition)) Option {
	return func(s *Store) { s.hooks = append(s.hooks, fn) }
}

// Store owns every Session. The map lock is held only to find or insert an
// entry; mutations serialize on the entry's own lock, so sessions never wait
// on each other.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry

	rules  *RuleBook
	sink   Sink
	hooks  []func(Transition)
	logger *slog.Logger
	now    func() time.Time
}

type entry struct {
	mu   sync.Mutex
	sess *Session
}

func (e *entry) snapshot() *Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sess.Clone()
}

func NewStore(opts ...Option) *Store {
	s := &Store{
		entries: make(map[string]*entry),
		rules:   NewRuleBook(Rules{ReadyThreshold: 1}),
		logger:  slog.New(slog.DiscardHandler),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Rules exposes the rule book the store consults.
func (st *Store) Rules() *RuleBook { return st.rules }

type createConfig struct {
	gameData map[string]any
}

type CreateOption func(*createConfig)

// WithGameData seeds gameData when the call creates the session. It is
// ignored when the session already exists.
func WithGameData(m map[string]any) CreateOption {
	return func(c *createConfig) { c.gameData = m }
}

// CreateOrGet returns the session stored under id, creating it in waiting
// state if absent. Concurrent callers with the same new id all observe the
// single record created by the winner. An empty id gets a generated one. The
// boolean reports whether this call created the session.
func (st *Store) CreateOrGet(id, gameType string, opts ...CreateOption) (*Session, bool, error) {
	if id == "" {
		id = uuid.NewString()
	}
	if len(id) > maxIDLength {
		return nil, false, ErrInvalidID
	}

	st.mu.RLock()
	e, ok := st.entries[id]
	st.mu.RUnlock()
	if ok {
		return e.snapshot(), false, nil
	}

	var cfg createConfig
	for _, o := range opts {
		o(&cfg)
	}

	st.mu.Lock()
	// Double-check after acquiring write lock.
	if e, ok := st.entries[id]; ok {
		st.mu.Unlock()
		return e.snapshot(), false, nil
	}
	now := st.now()
	sess := &Session{
		ID:        id,
		GameType:  gameType,
		Status:    StatusWaiting,
		Players:   Roster{},
		GameData:  copyMap(cfg.gameData),
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	st.entries[id] = &entry{sess: sess}
	snap := sess.Clone()
	st.mu.Unlock()

	st.logger.Debug("session created", "session_id", id, "game_type", gameType)
	st.publish(snap)
	return snap, true, nil
}

func (st *Store) lookup(id string) (*entry, error) {
	st.mu.RLock()
	e, ok := st.entries[id]
	st.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return e, nil
}

func (st *Store) Get(id string) (*Session, error) {
	e, err := st.lookup(id)
	if err != nil {
		return nil, err
	}
	return e.snapshot(), nil
}

// Mutate applies fn to a private copy of the session under the session's
// exclusive lock and commits it only if fn succeeds and every invariant
// still holds. It returns the post-mutation snapshot. A completed session is
// never passed to fn: the current snapshot is returned with
// ErrAlreadyCompleted.
func (st *Store) Mutate(id string, fn func(*Session) error) (*Session, error) {
	e, err := st.lookup(id)
	if err != nil {
		return nil, err
	}

	return st.commit(e, nil, fn)
}

// mutateOnce is Mutate for calls carrying an idempotency token. A token
// identity already spent is answered with the current snapshot even after
// completion, so a retried call that finished the game still succeeds.
func (st *Store) mutateOnce(id, identity, token string, fn func(*Session) error) (*Session, error) {
	e, err := st.lookup(id)
	if err != nil {
		return nil, err
	}
	replayed := func(s *Session) bool { return token != "" && s.Tokens.seen(identity, token) }
	return st.commit(e, replayed, fn)
}

func (st *Store) commit(e *entry, replayed func(*Session) bool, fn func(*Session) error) (*Session, error) {
	snap, transitions, committed, err := st.apply(e, replayed, fn)
	if committed {
		st.publish(snap)
		for _, t := range transitions {
			st.observe(t)
		}
	}
	return snap, err
}

func (st *Store) apply(e *entry, replayed func(*Session) bool, fn func(*Session) error) (*Session, []Transition, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	cur := e.sess
	if replayed != nil && replayed(cur) {
		return cur.Clone(), nil, false, nil
	}
	if cur.Status == StatusCompleted {
		return cur.Clone(), nil, false, ErrAlreadyCompleted
	}

	next := cur.Clone()
	if err := fn(next); err != nil {
		if errors.Is(err, errUnchanged) {
			return cur.Clone(), nil, false, nil
		}
		return nil, nil, false, err
	}
	if err := checkInvariants(cur, next); err != nil {
		return nil, nil, false, err
	}

	now := st.now()
	next.UpdatedAt = now
	next.Version = cur.Version + 1

	var transitions []Transition
	if next.Status != cur.Status {
		// fn drove the transition itself (EndGame).
		transitions = append(transitions, Transition{next.ID, next.GameType, cur.Status, next.Status, next.EndReason})
	}
	transitions = append(transitions, st.advance(next, now)...)

	e.sess = next
	return next.Clone(), transitions, true, nil
}

func (st *Store) publish(s *Session) {
	if st.sink != nil {
		st.sink.Publish(s)
	}
}

func (st *Store) observe(t Transition) {
	switch t.To {
	case StatusActive:
		st.logger.Info("session activated", "session_id", t.SessionID, "game_type", t.GameType)
	case StatusCompleted:
		st.logger.Info("session completed", "session_id", t.SessionID, "game_type", t.GameType, "reason", t.Reason)
	}
	for _, h := range st.hooks {
		h(t)
	}
}

// List returns snapshots of every session, or only those of gameType when it
// is non-empty, oldest first.
func (st *Store) List(gameType string) []*Session {
	st.mu.RLock()
	entries := make([]*entry, 0, len(st.entries))
	for _, e := range st.entries {
		entries = append(entries, e)
	}
	st.mu.RUnlock()

	out := make([]*Session, 0, len(entries))
	for _, e := range entries {
		s := e.snapshot()
		if gameType != "" && s.GameType != gameType {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.entries)
}

// Load inserts a previously persisted session without publishing it. It
// returns false if the id is already present.
func (st *Store) Load(s *Session) bool {
	if s == nil || s.ID == "" {
		return false
	}
	c := s.Clone()
	if c.Players == nil {
		c.Players = Roster{}
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if _, ok := st.entries[c.ID]; ok {
		return false
	}
	st.entries[c.ID] = &entry{sess: c}
	return true
}

// Evict removes a session regardless of status.
func (st *Store) Evict(id string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, ok := st.entries[id]; !ok {
		return false
	}
	delete(st.entries, id)
	return true
}

// EvictCompleted removes completed sessions that finished before cutoff and
// returns their ids.
func (st *Store) EvictCompleted(cutoff time.Time) []string {
	st.mu.RLock()
	candidates := make(map[string]*entry, len(st.entries))
	for id, e := range st.entries {
		candidates[id] = e
	}
	st.mu.RUnlock()

	var expired []string
	for id, e := range candidates {
		s := e.snapshot()
		if s.Status == StatusCompleted && s.CompletedAt != nil && s.CompletedAt.Before(cutoff) {
			expired = append(expired, id)
		}
	}

	st.mu.Lock()
	for _, id := range expired {
		delete(st.entries, id)
	}
	st.mu.Unlock()

	sort.Strings(expired)
	return expired
}
