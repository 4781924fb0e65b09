package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/playperu/valentines/internal/leaderboard"
	"github.com/playperu/valentines/internal/metrics"
	"github.com/playperu/valentines/internal/session"
)

// Deleter removes persisted sessions.
type Deleter interface {
	Delete(ctx context.Context, ids ...string) error
}

// Sweeper evicts expired sessions on demand.
type Sweeper interface {
	Sweep(ctx context.Context) ([]string, error)
}

// Deps are the collaborators the HTTP layer drives.
type Deps struct {
	Store   *session.Store
	Board   leaderboard.Board
	Metrics *metrics.Metrics

	// Persisted and Janitor back the admin routes and may be nil.
	Persisted Deleter
	Janitor   Sweeper

	// AdminTokenHash is a bcrypt hash. Admin routes are not mounted when it
	// is empty.
	AdminTokenHash string
	// RateLimitPerMinute caps mutations per client IP. Zero disables it.
	RateLimitPerMinute int
	SPADir             string
}

type Server struct {
	srv    *http.Server
	logger *slog.Logger
}

// New builds the HTTP server. mount attaches infrastructure routes such as
// health and metrics that live outside this package.
func New(addr string, logger *slog.Logger, deps Deps, mount func(chi.Router)) *Server {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(newStructuredLogger(logger))
	r.Use(middleware.Recoverer)

	if mount != nil {
		mount(r)
	}
	addRoutes(r, logger, deps)

	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		logger: logger,
	}
}

func (s *Server) Run(_ context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.srv.Addr, err)
	}

	err = s.srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}

func newStructuredLogger(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				logger.Info("http request",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"bytes", ww.BytesWritten(),
					"duration_ms", time.Since(start).Milliseconds(),
					"request_id", middleware.GetReqID(r.Context()),
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
