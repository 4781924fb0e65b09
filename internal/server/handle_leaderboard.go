package server

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/playperu/valentines/internal/leaderboard"
)

const (
	defaultTop = 10
	maxTop     = 100
)

type LeaderboardResponse struct {
	GameType string              `json:"gameType"`
	Entries  []leaderboard.Entry `json:"entries"`
}

func handleLeaderboard(logger *slog.Logger, board leaderboard.Board) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		gameType := chi.URLParam(r, "gameType")

		top := defaultTop
		if raw := r.URL.Query().Get("top"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				writeError(w, http.StatusBadRequest, "top must be a positive integer")
				return
			}
			top = min(n, maxTop)
		}

		entries, err := board.Top(r.Context(), gameType, top)
		if err != nil {
			logger.Error("reading leaderboard", "game_type", gameType, "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, LeaderboardResponse{GameType: gameType, Entries: entries})
	}
}

func handleAdminResetLeaderboard(logger *slog.Logger, board leaderboard.Board) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		gameType := chi.URLParam(r, "gameType")
		if err := board.Reset(r.Context(), gameType); err != nil {
			logger.Error("resetting leaderboard", "game_type", gameType, "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		logger.Info("leaderboard reset by admin", "game_type", gameType)
		w.WriteHeader(http.StatusNoContent)
	}
}
