package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/playperu/valentines/internal/config"
	"github.com/playperu/valentines/internal/database"
	"github.com/playperu/valentines/internal/games"
	"github.com/playperu/valentines/internal/handler/health"
	"github.com/playperu/valentines/internal/janitor"
	"github.com/playperu/valentines/internal/journal"
	"github.com/playperu/valentines/internal/leaderboard"
	"github.com/playperu/valentines/internal/metrics"
	"github.com/playperu/valentines/internal/migrations"
	"github.com/playperu/valentines/internal/server"
	"github.com/playperu/valentines/internal/session"
	"github.com/playperu/valentines/internal/sessiondb"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, stdout io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))

	// --- SQLite ---
	if cfg.DBPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
			return fmt.Errorf("creating data dir: %w", err)
		}
	}
	db, err := database.Open(ctx, cfg.DBPath)
	if err != nil {
		return fmt.Errorf("connecting to sqlite: %w", err)
	}
	defer db.Close()

	if err := migrations.Run(ctx, db); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("connected to sqlite", "path", cfg.DBPath)
	sdb := sessiondb.New(db)

	// --- Metrics ---
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	checks := map[string]health.Checker{"sqlite": health.CheckFunc(sdb.Ping)}
	sinks := []journal.Option{
		journal.WithWriter("sqlite", sdb),
		journal.WithFailureHook(m.JournalFailed),
	}

	// --- Redis (optional) ---
	var board leaderboard.Board
	if cfg.RedisURL != "" {
		rdb, err := openRedis(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		defer rdb.Close()
		logger.Info("connected to redis")

		lb := leaderboard.NewRedis(rdb)
		board = lb
		checks["redis"] = health.CheckFunc(lb.Ping)
		sinks = append(sinks, journal.WithWriter("redis", lb))
	}

	// --- Session engine ---
	rules := session.NewRuleBook(session.Rules{ReadyThreshold: cfg.ReadyThreshold})
	games.Register(rules)

	jnl := journal.New(logger, sinks...)
	store := session.NewStore(
		session.WithRules(rules),
		session.WithSink(jnl),
		session.WithLogger(logger),
		session.WithTransitionHook(m.ObserveTransition),
	)
	m.TrackSessions(reg, store.Len)
	if board == nil {
		board = leaderboard.NewMemory(store)
	}

	if cfg.WarmStart {
		n, err := sdb.Restore(ctx, store)
		if err != nil {
			return fmt.Errorf("restoring sessions: %w", err)
		}
		logger.Info("sessions restored", "count", n)
	}
	if cfg.SeedDemo {
		if err := server.SeedDemo(logger, store); err != nil {
			return fmt.Errorf("seeding demo: %w", err)
		}
	}

	jan := janitor.New(store, sdb, logger, cfg.CompletedTTL, cfg.JanitorInterval)

	// --- HTTP Server ---
	srv := server.New(cfg.HTTPAddr, logger, server.Deps{
		Store:              store,
		Board:              board,
		Metrics:            m,
		Persisted:          sdb,
		Janitor:            jan,
		AdminTokenHash:     cfg.AdminTokenHash,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		SPADir:             cfg.SPADir,
	}, func(r chi.Router) {
		r.Mount("/healthz", health.NewHandler(logger, checks).Routes())
		r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	})

	// --- Run ---
	g, gctx := errgroup.WithContext(ctx)

	// The journal outlives the HTTP server so the last mutations are flushed.
	jctx, stopJournal := context.WithCancel(context.WithoutCancel(ctx))
	defer stopJournal()

	g.Go(func() error {
		logger.Info("starting http server", "addr", cfg.HTTPAddr)
		return srv.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down http server")
		err := srv.Shutdown(context.Background())
		stopJournal()
		return err
	})

	g.Go(func() error {
		return jnl.Run(jctx)
	})

	g.Go(func() error {
		return jan.Run(gctx)
	})

	return g.Wait()
}

func openRedis(ctx context.Context, rawURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return rdb, nil
}
