package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/playperu/valentines/internal/session"
)

type AdminSessionSummary struct {
	ID          string         `json:"id"`
	GameType    string         `json:"gameType"`
	Status      session.Status `json:"status"`
	Players     int            `json:"players"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
	CompletedAt *time.Time     `json:"completedAt,omitempty"`
}

type PurgeResponse struct {
	Evicted []string `json:"evicted"`
}

func handleAdminListSessions(store *session.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := session.Status(r.URL.Query().Get("status"))
		if status != "" && !status.Valid() {
			writeError(w, http.StatusBadRequest, "unknown status")
			return
		}

		out := []AdminSessionSummary{}
		for _, s := range store.List(r.URL.Query().Get("gameType")) {
			if status != "" && s.Status != status {
				continue
			}
			out = append(out, AdminSessionSummary{
				ID:          s.ID,
				GameType:    s.GameType,
				Status:      s.Status,
				Players:     len(s.Players),
				CreatedAt:   s.CreatedAt,
				UpdatedAt:   s.UpdatedAt,
				CompletedAt: s.CompletedAt,
			})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleAdminDeleteSession(logger *slog.Logger, store *session.Store, persisted Deleter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := sessionID(r)
		if !store.Evict(id) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		if persisted != nil {
			if err := persisted.Delete(r.Context(), id); err != nil {
				logger.Error("deleting persisted session", "session_id", id, "error", err)
				writeError(w, http.StatusInternalServerError, "internal error")
				return
			}
		}
		logger.Info("session evicted by admin", "session_id", id)
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleAdminPurge(logger *slog.Logger, janitor Sweeper) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		evicted, err := janitor.Sweep(r.Context())
		if err != nil {
			logger.Error("admin purge", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if evicted == nil {
			evicted = []string{}
		}
		writeJSON(w, http.StatusOK, PurgeResponse{Evicted: evicted})
	}
}
