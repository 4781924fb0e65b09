package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/playperu/valentines/internal/metrics"
	"github.com/playperu/valentines/internal/session"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// readJSON keeps numbers as json.Number so gameData integers round-trip
// exactly.
func readJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	return dec.Decode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// responder turns store results into HTTP responses and records them.
type responder struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// session writes s on success or maps err. snap is the snapshot the store
// returned alongside err, if any.
func (rp responder) session(w http.ResponseWriter, r *http.Request, op string, status int, s *session.Session, err error) {
	rp.metrics.ObserveMutation(op, err)
	if err != nil {
		rp.fail(w, r, op, s, err)
		return
	}
	writeJSON(w, status, s)
}

func (rp responder) fail(w http.ResponseWriter, r *http.Request, op string, snap *session.Session, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		writeError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, session.ErrPlayerNotFound):
		writeError(w, http.StatusNotFound, "player not found")
	case errors.Is(err, session.ErrAlreadyCompleted):
		writeJSON(w, http.StatusConflict, ConflictResponse{Error: "session already completed", Session: snap})
	case errors.Is(err, session.ErrTurnViolation):
		writeError(w, http.StatusForbidden, "not your turn")
	case errors.Is(err, session.ErrInvalidDelta),
		errors.Is(err, session.ErrInvalidIdentity),
		errors.Is(err, session.ErrInvalidID),
		errors.Is(err, session.ErrInvalidPayload):
		rp.logger.Warn("rejected session request",
			"op", op,
			"session_id", sessionID(r),
			"error", err,
			"request_id", middleware.GetReqID(r.Context()),
		)
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		rp.logger.Error("session operation failed",
			"op", op,
			"session_id", sessionID(r),
			"error", err,
			"request_id", middleware.GetReqID(r.Context()),
		)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// badRequest answers a body that could not be decoded at all.
func (rp responder) badRequest(w http.ResponseWriter, r *http.Request, op string, err error) {
	rp.metrics.ObserveMutation(op, session.ErrInvalidPayload)
	rp.logger.Warn("malformed request body",
		"op", op,
		"session_id", sessionID(r),
		"error", err,
		"request_id", middleware.GetReqID(r.Context()),
	)
	writeError(w, http.StatusBadRequest, "invalid request body")
}
