// Package janitor evicts completed sessions once they have outlived their
// retention period.
package janitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/playperu/valentines/internal/session"
)

// Persisted is the durable copy of the sessions. PurgeCompleted catches
// rows the store never loaded, such as after a cold start.
type Persisted interface {
	Delete(ctx context.Context, ids ...string) error
	PurgeCompleted(ctx context.Context, cutoff time.Time) (int64, error)
}

type Janitor struct {
	store    *session.Store
	db       Persisted
	logger   *slog.Logger
	ttl      time.Duration
	interval time.Duration
	now      func() time.Time
}

// New returns a janitor sweeping every interval. db may be nil when nothing
// is persisted.
func New(store *session.Store, db Persisted, logger *slog.Logger, ttl, interval time.Duration) *Janitor {
	return &Janitor{
		store:    store,
		db:       db,
		logger:   logger,
		ttl:      ttl,
		interval: interval,
		now:      time.Now,
	}
}

// Sweep evicts every completed session that finished more than ttl ago,
// deletes their rows and purges any other expired rows. It returns the ids
// evicted from memory.
func (j *Janitor) Sweep(ctx context.Context) ([]string, error) {
	cutoff := j.now().Add(-j.ttl)
	evicted := j.store.EvictCompleted(cutoff)
	if len(evicted) > 0 {
		j.logger.Info("evicted completed sessions", "count", len(evicted))
	}
	if j.db == nil {
		return evicted, nil
	}

	if err := j.db.Delete(ctx, evicted...); err != nil {
		return evicted, fmt.Errorf("deleting evicted sessions: %w", err)
	}
	purged, err := j.db.PurgeCompleted(ctx, cutoff)
	if err != nil {
		return evicted, fmt.Errorf("purging stored sessions: %w", err)
	}
	if purged > 0 {
		j.logger.Info("purged stored sessions", "count", purged)
	}
	return evicted, nil
}

func (j *Janitor) Run(ctx context.Context) error {
	t := time.NewTicker(j.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if _, err := j.Sweep(ctx); err != nil {
				j.logger.Error("janitor sweep failed", "error", err)
			}
		}
	}
}
