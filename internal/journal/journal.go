// Package journal is the write-behind queue between the session store and
// durable storage. The store publishes a snapshot after every accepted
// mutation; the journal keeps only the newest pending snapshot per session
// and writes it out from a single background goroutine.
package journal

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/playperu/valentines/internal/session"
)

// Writer stores one snapshot. Save must be safe to call again with the same
// or a newer snapshot.
type Writer interface {
	Save(ctx context.Context, s *session.Session) error
}

type namedWriter struct {
	name string
	w    Writer
}

type Option func(*Journal)

// WithWriter adds a destination. Writers are called in registration order.
func WithWriter(name string, w Writer) Option {
	return func(j *Journal) { j.writers = append(j.writers, namedWriter{name, w}) }
}

// WithMaxTries bounds the attempts per snapshot and writer.
func WithMaxTries(n uint) Option { return func(j *Journal) { j.maxTries = n } }

// WithInitialInterval sets the first retry delay.
func WithInitialInterval(d time.Duration) Option { return func(j *Journal) { j.initial = d } }

// WithFailureHook is called once per snapshot a writer gave up on.
func WithFailureHook(fn func(writer string)) Option { return func(j *Journal) { j.onFailure = fn } }

// WithFlushTimeout bounds the final flush on shutdown.
func WithFlushTimeout(d time.Duration) Option { return func(j *Journal) { j.flushTimeout = d } }

type Journal struct {
	mu      sync.Mutex
	pending map[string]*session.Session
	notify  chan struct{}

	writers      []namedWriter
	maxTries     uint
	initial      time.Duration
	flushTimeout time.Duration
	onFailure    func(string)
	logger       *slog.Logger
}

func New(logger *slog.Logger, opts ...Option) *Journal {
	j := &Journal{
		pending:      make(map[string]*session.Session),
		notify:       make(chan struct{}, 1),
		maxTries:     5,
		initial:      100 * time.Millisecond,
		flushTimeout: 10 * time.Second,
		logger:       logger,
	}
	for _, o := range opts {
		o(j)
	}
	return j
}

// Publish queues s. It never blocks: a snapshot superseding the queued one
// for the same session replaces it.
func (j *Journal) Publish(s *session.Session) {
	j.mu.Lock()
	if prev, ok := j.pending[s.ID]; !ok || s.Supersedes(prev) {
		j.pending[s.ID] = s
	}
	j.mu.Unlock()

	select {
	case j.notify <- struct{}{}:
	default:
	}
}

// Pending reports how many sessions await a write.
func (j *Journal) Pending() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.pending)
}

// Run writes queued snapshots until ctx is done, then flushes what is left.
func (j *Journal) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), j.flushTimeout)
			defer cancel()
			n := j.flush(fctx)
			j.logger.Info("journal flushed", "sessions", n)
			return nil
		case <-j.notify:
			j.flush(ctx)
		}
	}
}

func (j *Journal) drain() []*session.Session {
	j.mu.Lock()
	batch := j.pending
	j.pending = make(map[string]*session.Session, len(batch))
	j.mu.Unlock()

	out := make([]*session.Session, 0, len(batch))
	for _, s := range batch {
		out = append(out, s)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out
}

func (j *Journal) flush(ctx context.Context) int {
	batch := j.drain()
	for _, s := range batch {
		for _, nw := range j.writers {
			j.write(ctx, nw, s)
		}
	}
	return len(batch)
}

func (j *Journal) write(ctx context.Context, nw namedWriter, s *session.Session) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = j.initial

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, nw.w.Save(ctx, s)
	}, backoff.WithBackOff(b), backoff.WithMaxTries(j.maxTries))
	if err != nil {
		j.logger.Error("journal write failed",
			"writer", nw.name,
			"session_id", s.ID,
			"error", err,
		)
		if j.onFailure != nil {
			j.onFailure(nw.name)
		}
	}
}
