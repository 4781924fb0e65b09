package session

import (
	"sort"
	"sync"
)

const (
	// DefaultActorKey is the gameData key the default arbiter reads.
	DefaultActorKey = "lastActor"
	// AnswerKey holds the latest answer per identity.
	AnswerKey = "lastAnswer"
)

// Rules is the per-gameType configuration supplied by the mini-game layer.
type Rules struct {
	// ReadyThreshold is the number of ready players that activates a session.
	ReadyThreshold int
	// Complete is evaluated after every accepted mutation of an active
	// session. It must be a pure function of the post-mutation state.
	Complete func(*Session) bool
	// Arbiter decides whether an identity may act. Nil means alternation on
	// ActorKey.
	Arbiter Arbiter
	// ActorKey is where Act records the acting identity.
	ActorKey string
}

func (r Rules) threshold() int {
	if r.ReadyThreshold < 1 {
		return 1
	}
	return r.ReadyThreshold
}

func (r Rules) actorKey() string {
	if r.ActorKey == "" {
		return DefaultActorKey
	}
	return r.ActorKey
}

func (r Rules) arbiter() Arbiter {
	if r.Arbiter == nil {
		return Alternation{Key: r.actorKey()}
	}
	return r.Arbiter
}

// RuleBook resolves Rules by gameType. Unknown gameTypes get the fallback.
type RuleBook struct {
	mu       sync.RWMutex
	byType   map[string]Rules
	fallback Rules
}

func NewRuleBook(fallback Rules) *RuleBook {
	return &RuleBook{
		byType:   make(map[string]Rules),
		fallback: fallback,
	}
}

// Register installs rules for gameType, replacing any previous entry. A zero
// ReadyThreshold inherits the fallback threshold.
func (b *RuleBook) Register(gameType string, r Rules) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.byType[gameType] = r
}

func (b *RuleBook) For(gameType string) Rules {
	b.mu.RLock()
	r, ok := b.byType[gameType]
	fallback := b.fallback
	b.mu.RUnlock()

	if !ok {
		return fallback
	}
	if r.ReadyThreshold == 0 {
		r.ReadyThreshold = fallback.ReadyThreshold
	}
	return r
}

// GameTypes lists the registered gameTypes in sorted order.
func (b *RuleBook) GameTypes() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]string, 0, len(b.byType))
	for t := range b.byType {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
