// Package leaderboard ranks identities by their best score in a gameType.
package leaderboard

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/playperu/valentines/internal/session"
)

type Entry struct {
	Identity string `json:"identity"`
	Score    int    `json:"score"`
}

// Board returns the top n entries for gameType, best first. Reset starts
// the gameType's board over.
type Board interface {
	Top(ctx context.Context, gameType string, n int) ([]Entry, error)
	Reset(ctx context.Context, gameType string) error
}

func key(gameType string) string { return "game:" + gameType + ":lb" }

// Redis keeps one sorted set per gameType. It is fed by the journal, so it
// trails the store by at most one flush.
type Redis struct {
	rdb *redis.Client
}

func NewRedis(rdb *redis.Client) *Redis {
	return &Redis{rdb: rdb}
}

// Save records every player's score, keeping the higher of the stored and
// the new value.
func (r *Redis) Save(ctx context.Context, s *session.Session) error {
	if len(s.Players) == 0 {
		return nil
	}
	members := make([]redis.Z, 0, len(s.Players))
	for _, p := range s.Players {
		members = append(members, redis.Z{Score: float64(p.Score), Member: p.Identity})
	}
	if err := r.rdb.ZAddArgs(ctx, key(s.GameType), redis.ZAddArgs{GT: true, Members: members}).Err(); err != nil {
		return fmt.Errorf("updating leaderboard %s: %w", s.GameType, err)
	}
	return nil
}

func (r *Redis) Top(ctx context.Context, gameType string, n int) ([]Entry, error) {
	if n <= 0 {
		return []Entry{}, nil
	}
	zs, err := r.rdb.ZRevRangeWithScores(ctx, key(gameType), 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("reading leaderboard %s: %w", gameType, err)
	}
	out := make([]Entry, 0, len(zs))
	for _, z := range zs {
		member, _ := z.Member.(string)
		out = append(out, Entry{Identity: member, Score: int(z.Score)})
	}
	return out, nil
}

// Reset drops the board for gameType.
func (r *Redis) Reset(ctx context.Context, gameType string) error {
	return r.rdb.Del(ctx, key(gameType)).Err()
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

// Memory ranks straight from the live sessions. Evicted sessions drop out,
// as do sessions created before the gameType's last reset.
type Memory struct {
	store *session.Store
	now   func() time.Time

	mu      sync.Mutex
	resetAt map[string]time.Time
}

func NewMemory(store *session.Store) *Memory {
	return &Memory{
		store:   store,
		now:     time.Now,
		resetAt: make(map[string]time.Time),
	}
}

func (m *Memory) Top(_ context.Context, gameType string, n int) ([]Entry, error) {
	m.mu.Lock()
	since, reset := m.resetAt[gameType]
	m.mu.Unlock()

	best := make(map[string]int)
	for _, s := range m.store.List(gameType) {
		if reset && s.CreatedAt.Before(since) {
			continue
		}
		for _, p := range s.Players {
			if cur, ok := best[p.Identity]; !ok || p.Score > cur {
				best[p.Identity] = p.Score
			}
		}
	}
	return rank(best, n), nil
}

func (m *Memory) Reset(_ context.Context, gameType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetAt[gameType] = m.now()
	return nil
}

// rank orders by score descending, then identity descending to match Redis.
func rank(best map[string]int, n int) []Entry {
	out := make([]Entry, 0, len(best))
	for id, score := range best {
		out = append(out, Entry{Identity: id, Score: score})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Identity > out[j].Identity
	})
	if n < 0 {
		n = 0
	}
	if len(out) > n {
		out = out[:n]
	}
	return out
}
