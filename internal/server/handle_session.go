package server

import (
	"math"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/playperu/valentines/internal/session"
)

type CreateSessionRequest struct {
	GameType string         `json:"gameType"`
	GameData map[string]any `json:"gameData,omitempty"`
}

type ReadyRequest struct {
	Identity string `json:"identity"`
	// Ready defaults to true.
	Ready *bool `json:"ready,omitempty"`
}

type ScoreRequest struct {
	Identity string  `json:"identity"`
	Delta    float64 `json:"delta"`
	Token    string  `json:"token,omitempty"`
}

type AnswerRequest struct {
	Identity string  `json:"identity"`
	Payload  any     `json:"payload"`
	Delta    float64 `json:"delta,omitempty"`
	Token    string  `json:"token,omitempty"`
}

type ActionRequest struct {
	Identity   string         `json:"identity"`
	Kind       string         `json:"kind,omitempty"`
	GameData   map[string]any `json:"gameData,omitempty"`
	Increments map[string]int `json:"increments,omitempty"`
	Delta      float64        `json:"delta,omitempty"`
	Token      string         `json:"token,omitempty"`
}

type AuthorizeResponse struct {
	Authorized bool `json:"authorized"`
}

func sessionID(r *http.Request) string {
	return chi.URLParam(r, "id")
}

// intDelta accepts only whole, non-negative JSON numbers.
func intDelta(f float64) (int, error) {
	if f < 0 || f > session.MaxDelta || f != math.Trunc(f) {
		return 0, session.ErrInvalidDelta
	}
	return int(f), nil
}

func handleGetSession(store *session.Store, rp responder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := store.Get(sessionID(r))
		if err != nil {
			rp.fail(w, r, "get", nil, err)
			return
		}
		writeJSON(w, http.StatusOK, s)
	}
}

func handleCreateSession(store *session.Store, rp responder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateSessionRequest
		if err := readJSON(r, &req); err != nil {
			rp.badRequest(w, r, "create", err)
			return
		}
		req.GameType = strings.TrimSpace(req.GameType)
		if req.GameType == "" {
			writeError(w, http.StatusUnprocessableEntity, "gameType is required")
			return
		}

		s, _, err := store.CreateOrGet("", req.GameType, session.WithGameData(req.GameData))
		rp.session(w, r, "create", http.StatusCreated, s, err)
	}
}

// handleCreateOrGet answers 201 when this call created the session and 200
// when it already existed. Seed gameData only applies on creation.
func handleCreateOrGet(store *session.Store, rp responder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateSessionRequest
		if err := readJSON(r, &req); err != nil {
			rp.badRequest(w, r, "create", err)
			return
		}
		req.GameType = strings.TrimSpace(req.GameType)
		if req.GameType == "" {
			writeError(w, http.StatusUnprocessableEntity, "gameType is required")
			return
		}

		s, created, err := store.CreateOrGet(sessionID(r), req.GameType, session.WithGameData(req.GameData))
		status := http.StatusOK
		if created {
			status = http.StatusCreated
		}
		rp.session(w, r, "create", status, s, err)
	}
}

func handleGetPlayer(store *session.Store, rp responder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := store.GetPlayer(sessionID(r), chi.URLParam(r, "identity"))
		if err != nil {
			rp.fail(w, r, "player", nil, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

func handleReady(store *session.Store, rp responder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ReadyRequest
		if err := readJSON(r, &req); err != nil {
			rp.badRequest(w, r, "ready", err)
			return
		}
		ready := true
		if req.Ready != nil {
			ready = *req.Ready
		}

		s, err := store.SetPlayerReady(sessionID(r), strings.TrimSpace(req.Identity), ready)
		rp.session(w, r, "ready", http.StatusOK, s, err)
	}
}

func handleScore(store *session.Store, rp responder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ScoreRequest
		if err := readJSON(r, &req); err != nil {
			rp.badRequest(w, r, "score", err)
			return
		}
		delta, err := intDelta(req.Delta)
		if err != nil {
			rp.session(w, r, "score", http.StatusOK, nil, err)
			return
		}

		s, err := store.UpdateScore(sessionID(r), strings.TrimSpace(req.Identity), delta, req.Token)
		rp.session(w, r, "score", http.StatusOK, s, err)
	}
}

func handleAnswer(store *session.Store, rp responder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AnswerRequest
		if err := readJSON(r, &req); err != nil {
			rp.badRequest(w, r, "answer", err)
			return
		}
		delta, err := intDelta(req.Delta)
		if err != nil {
			rp.session(w, r, "answer", http.StatusOK, nil, err)
			return
		}

		s, err := store.SubmitAnswer(sessionID(r), session.Answer{
			Identity: strings.TrimSpace(req.Identity),
			Payload:  req.Payload,
			Delta:    delta,
			Token:    req.Token,
		})
		rp.session(w, r, "answer", http.StatusOK, s, err)
	}
}

// handleGameData shallow-merges the request body, which is the partial
// mapping itself.
func handleGameData(store *session.Store, rp responder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var patch map[string]any
		if err := readJSON(r, &patch); err != nil {
			rp.badRequest(w, r, "gameData", err)
			return
		}

		s, err := store.UpdateGameData(sessionID(r), patch)
		rp.session(w, r, "gameData", http.StatusOK, s, err)
	}
}

func handleAction(store *session.Store, rp responder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ActionRequest
		if err := readJSON(r, &req); err != nil {
			rp.badRequest(w, r, "action", err)
			return
		}
		delta, err := intDelta(req.Delta)
		if err != nil {
			rp.session(w, r, "action", http.StatusOK, nil, err)
			return
		}

		s, err := store.Act(sessionID(r), session.Action{
			Identity:   strings.TrimSpace(req.Identity),
			Kind:       req.Kind,
			GameData:   req.GameData,
			Increments: req.Increments,
			Delta:      delta,
			Token:      req.Token,
		})
		rp.session(w, r, "action", http.StatusOK, s, err)
	}
}

func handleAuthorize(store *session.Store, rp responder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := strings.TrimSpace(r.URL.Query().Get("identity"))
		if identity == "" {
			rp.fail(w, r, "authorize", nil, session.ErrInvalidIdentity)
			return
		}

		ok, err := store.Authorize(sessionID(r), identity, r.URL.Query().Get("kind"))
		if err != nil {
			rp.fail(w, r, "authorize", nil, err)
			return
		}
		writeJSON(w, http.StatusOK, AuthorizeResponse{Authorized: ok})
	}
}

func handleEnd(store *session.Store, rp responder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := store.EndGame(sessionID(r))
		rp.session(w, r, "end", http.StatusOK, s, err)
	}
}

func handleListGames(rules *session.RuleBook) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, GamesResponse{GameTypes: rules.GameTypes()})
	}
}

type GamesResponse struct {
	GameTypes []string `json:"gameTypes"`
}
