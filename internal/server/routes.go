package server

import (
	"log/slog"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/swaggest/swgui/v5emb"
)

func addRoutes(r chi.Router, logger *slog.Logger, d Deps) {
	rp := responder{logger: logger, metrics: d.Metrics}
	store := d.Store
	limit := rateLimit(d.RateLimitPerMinute)

	r.Get("/openapi.json", handleOpenAPI())
	r.Mount("/docs", v5emb.New("Valentines Session API", "/openapi.json", "/docs"))

	r.Route("/api", func(r chi.Router) {
		r.Get("/games", handleListGames(store.Rules()))
		r.Get("/leaderboards/{gameType}", handleLeaderboard(logger, d.Board))

		r.Route("/sessions", func(r chi.Router) {
			r.With(limit).Post("/", handleCreateSession(store, rp))

			r.Route("/{id}", func(r chi.Router) {
				// Polling reads stay outside the limiter.
				r.Get("/", handleGetSession(store, rp))
				r.Get("/players/{identity}", handleGetPlayer(store, rp))
				r.Get("/authorize", handleAuthorize(store, rp))

				r.Group(func(r chi.Router) {
					r.Use(limit)
					r.Put("/", handleCreateOrGet(store, rp))
					r.Post("/ready", handleReady(store, rp))
					r.Post("/score", handleScore(store, rp))
					r.Post("/answer", handleAnswer(store, rp))
					r.Post("/gameData", handleGameData(store, rp))
					r.Post("/action", handleAction(store, rp))
					r.Post("/end", handleEnd(store, rp))
				})
			})
		})

		if d.AdminTokenHash != "" {
			r.Route("/admin", func(r chi.Router) {
				r.Use(adminAuthMiddleware(d.AdminTokenHash))
				r.Get("/sessions", handleAdminListSessions(store))
				r.Delete("/sessions/{id}", handleAdminDeleteSession(logger, store, d.Persisted))
				r.Delete("/leaderboards/{gameType}", handleAdminResetLeaderboard(logger, d.Board))
				if d.Janitor != nil {
					r.Post("/purge", handleAdminPurge(logger, d.Janitor))
				}
			})
		}
	})

	if d.SPADir != "" {
		if info, err := os.Stat(d.SPADir); err == nil && info.IsDir() {
			logger.Info("serving SPA", "dir", d.SPADir)
			r.NotFound(handleSPA(d.SPADir))
		}
	}
}
