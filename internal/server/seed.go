package server

import (
	"log/slog"

	"github.com/playperu/valentines/internal/games"
	"github.com/playperu/valentines/internal/session"
)

const DemoSessionID = "demo-hug"

// SeedDemo creates the demo hug-chain session if it does not exist yet.
// Idempotent: a warm-started demo session is left as it is.
func SeedDemo(logger *slog.Logger, store *session.Store) error {
	_, created, err := store.CreateOrGet(DemoSessionID, games.HugChain, session.WithGameData(map[string]any{
		"chain":  0,
		"target": 10,
	}))
	if err != nil {
		return err
	}
	if created {
		logger.Info("demo session created", "session_id", DemoSessionID)
	}
	return nil
}
