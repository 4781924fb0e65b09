package server

import (
	"encoding/json"
	"net/http"
	"time"

	openapi "github.com/swaggest/openapi-go"
	"github.com/swaggest/openapi-go/openapi3"

	"github.com/playperu/valentines/internal/session"
)

// ErrorResponse is returned for all error responses.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ConflictResponse is returned when a session has already completed. It
// carries the final snapshot so clients can show the end screen.
type ConflictResponse struct {
	Error   string           `json:"error"`
	Session *session.Session `json:"session,omitempty"`
}

// sessionDoc describes the snapshot wire shape. Players encode as an object
// keyed by identity in join order, which reflection cannot infer from Roster.
type sessionDoc struct {
	ID          string                         `json:"id"`
	GameType    string                         `json:"gameType"`
	Status      string                         `json:"status" enum:"waiting,active,completed"`
	Players     map[string]session.PlayerState `json:"players"`
	GameData    map[string]any                 `json:"gameData"`
	EndReason   string                         `json:"endReason,omitempty" enum:"ended,predicate,aborted"`
	Version     uint64                         `json:"version"`
	CreatedAt   time.Time                      `json:"createdAt"`
	UpdatedAt   time.Time                      `json:"updatedAt"`
	ActivatedAt *time.Time                     `json:"activatedAt,omitempty"`
	CompletedAt *time.Time                     `json:"completedAt,omitempty"`
}

type conflictDoc struct {
	Error   string     `json:"error"`
	Session sessionDoc `json:"session"`
}

type healthStatus struct {
	Status string `json:"status" enum:"ok,error"`
}

type sessionPath struct {
	ID string `path:"id"`
}

type createOrGetDoc struct {
	sessionPath
	CreateSessionRequest
}

type readyDoc struct {
	sessionPath
	ReadyRequest
}

type scoreDoc struct {
	sessionPath
	ScoreRequest
}

type answerDoc struct {
	sessionPath
	AnswerRequest
}

type actionDoc struct {
	sessionPath
	ActionRequest
}

type authorizeDoc struct {
	sessionPath
	Identity string `query:"identity" required:"true"`
	Kind     string `query:"kind"`
}

type playerDoc struct {
	sessionPath
	Identity string `path:"identity"`
}

type leaderboardDoc struct {
	GameType string `path:"gameType"`
	Top      int    `query:"top" minimum:"1" maximum:"100" default:"10"`
}

type gameTypePath struct {
	GameType string `path:"gameType"`
}

type adminListDoc struct {
	GameType string `query:"gameType"`
	Status   string `query:"status" enum:"waiting,active,completed"`
}

func newOpenAPISpec() *openapi3.Spec {
	r := openapi3.NewReflector()
	r.Spec.Info.Title = "Valentines Session API"
	r.Spec.Info.Version = "0.1.0"
	r.Spec.Info.WithDescription("Shared game-session engine behind the Valentine's mini-games. Clients poll snapshots; every mutation returns the post-mutation snapshot.")

	// GET /healthz
	getHealthz, _ := r.NewOperationContext(http.MethodGet, "/healthz")
	getHealthz.SetSummary("Health check")
	getHealthz.SetDescription("Returns the health status of backend dependencies.")
	getHealthz.AddRespStructure(map[string]healthStatus{}, openapi.WithHTTPStatus(http.StatusOK))
	getHealthz.AddRespStructure(map[string]healthStatus{}, openapi.WithHTTPStatus(http.StatusServiceUnavailable))
	_ = r.AddOperation(getHealthz)

	// GET /api/games
	listGames, _ := r.NewOperationContext(http.MethodGet, "/api/games")
	listGames.SetSummary("List game types")
	listGames.SetDescription("Game types with registered rules. Unknown types fall back to the defaults.")
	listGames.AddRespStructure(GamesResponse{}, openapi.WithHTTPStatus(http.StatusOK))
	_ = r.AddOperation(listGames)

	// POST /api/sessions
	create, _ := r.NewOperationContext(http.MethodPost, "/api/sessions")
	create.SetSummary("Create session")
	create.SetDescription("Creates a waiting session with a generated id.")
	create.AddReqStructure(CreateSessionRequest{})
	create.AddRespStructure(sessionDoc{}, openapi.WithHTTPStatus(http.StatusCreated))
	create.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusBadRequest))
	create.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusUnprocessableEntity))
	_ = r.AddOperation(create)

	// GET /api/sessions/{id}
	get, _ := r.NewOperationContext(http.MethodGet, "/api/sessions/{id}")
	get.SetSummary("Get session")
	get.SetDescription("Full session snapshot. Safe to poll.")
	get.AddReqStructure(sessionPath{})
	get.AddRespStructure(sessionDoc{}, openapi.WithHTTPStatus(http.StatusOK))
	get.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusNotFound))
	_ = r.AddOperation(get)

	// PUT /api/sessions/{id}
	put, _ := r.NewOperationContext(http.MethodPut, "/api/sessions/{id}")
	put.SetSummary("Create or get session")
	put.SetDescription("Returns the session under id, creating it if absent. Seed gameData only applies on creation.")
	put.AddReqStructure(createOrGetDoc{})
	put.AddRespStructure(sessionDoc{}, openapi.WithHTTPStatus(http.StatusOK))
	put.AddRespStructure(sessionDoc{}, openapi.WithHTTPStatus(http.StatusCreated))
	put.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusUnprocessableEntity))
	_ = r.AddOperation(put)

	// GET /api/sessions/{id}/players/{identity}
	getPlayer, _ := r.NewOperationContext(http.MethodGet, "/api/sessions/{id}/players/{identity}")
	getPlayer.SetSummary("Get player")
	getPlayer.AddReqStructure(playerDoc{})
	getPlayer.AddRespStructure(session.PlayerState{}, openapi.WithHTTPStatus(http.StatusOK))
	getPlayer.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusNotFound))
	_ = r.AddOperation(getPlayer)

	// GET /api/sessions/{id}/authorize
	authorize, _ := r.NewOperationContext(http.MethodGet, "/api/sessions/{id}/authorize")
	authorize.SetSummary("Check turn")
	authorize.SetDescription("Reports whether identity may act now, for enabling the action button.")
	authorize.AddReqStructure(authorizeDoc{})
	authorize.AddRespStructure(AuthorizeResponse{}, openapi.WithHTTPStatus(http.StatusOK))
	authorize.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusNotFound))
	authorize.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusUnprocessableEntity))
	_ = r.AddOperation(authorize)

	mutations := []struct {
		path, summary, description string
		req                        any
		forbidden                  bool
	}{
		{"/api/sessions/{id}/ready", "Set ready", "Upserts the player and sets readiness. Enough ready players activate the session.", readyDoc{}, false},
		{"/api/sessions/{id}/score", "Update score", "Adds a non-negative integer delta. A repeated token is a no-op.", scoreDoc{}, false},
		{"/api/sessions/{id}/answer", "Submit answer", "Stores the payload under gameData.lastAnswer[identity].", answerDoc{}, false},
		{"/api/sessions/{id}/gameData", "Merge game data", "Shallow-merges the request body into gameData.", sessionPath{}, false},
		{"/api/sessions/{id}/action", "Take a turn", "Authorizes, merges, increments counters and records the actor atomically.", actionDoc{}, true},
		{"/api/sessions/{id}/end", "End game", "Completes the session. Ending a waiting session aborts it.", sessionPath{}, false},
	}
	for _, m := range mutations {
		op, _ := r.NewOperationContext(http.MethodPost, m.path)
		op.SetSummary(m.summary)
		op.SetDescription(m.description)
		op.AddReqStructure(m.req)
		op.AddRespStructure(sessionDoc{}, openapi.WithHTTPStatus(http.StatusOK))
		op.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusBadRequest))
		op.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusNotFound))
		op.AddRespStructure(conflictDoc{}, openapi.WithHTTPStatus(http.StatusConflict))
		op.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusUnprocessableEntity))
		if m.forbidden {
			op.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusForbidden))
		}
		_ = r.AddOperation(op)
	}

	// GET /api/leaderboards/{gameType}
	lb, _ := r.NewOperationContext(http.MethodGet, "/api/leaderboards/{gameType}")
	lb.SetSummary("Leaderboard")
	lb.SetDescription("Best score per identity across sessions of a game type.")
	lb.AddReqStructure(leaderboardDoc{})
	lb.AddRespStructure(LeaderboardResponse{}, openapi.WithHTTPStatus(http.StatusOK))
	lb.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusBadRequest))
	_ = r.AddOperation(lb)

	// GET /api/admin/sessions
	adminList, _ := r.NewOperationContext(http.MethodGet, "/api/admin/sessions")
	adminList.SetSummary("List sessions")
	adminList.SetDescription("Live sessions, oldest first. Requires the admin bearer token.")
	adminList.AddReqStructure(adminListDoc{})
	adminList.AddRespStructure([]AdminSessionSummary{}, openapi.WithHTTPStatus(http.StatusOK))
	adminList.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusUnauthorized))
	_ = r.AddOperation(adminList)

	// DELETE /api/admin/sessions/{id}
	adminDelete, _ := r.NewOperationContext(http.MethodDelete, "/api/admin/sessions/{id}")
	adminDelete.SetSummary("Evict session")
	adminDelete.SetDescription("Removes a session from memory and storage regardless of status. Requires the admin bearer token.")
	adminDelete.AddReqStructure(sessionPath{})
	adminDelete.AddRespStructure(nil, openapi.WithHTTPStatus(http.StatusNoContent))
	adminDelete.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusNotFound))
	adminDelete.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusUnauthorized))
	_ = r.AddOperation(adminDelete)

	// DELETE /api/admin/leaderboards/{gameType}
	lbReset, _ := r.NewOperationContext(http.MethodDelete, "/api/admin/leaderboards/{gameType}")
	lbReset.SetSummary("Reset leaderboard")
	lbReset.SetDescription("Starts the gameType's leaderboard over. Requires the admin bearer token.")
	lbReset.AddReqStructure(gameTypePath{})
	lbReset.AddRespStructure(nil, openapi.WithHTTPStatus(http.StatusNoContent))
	lbReset.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusUnauthorized))
	_ = r.AddOperation(lbReset)

	// POST /api/admin/purge
	purge, _ := r.NewOperationContext(http.MethodPost, "/api/admin/purge")
	purge.SetSummary("Purge expired sessions")
	purge.SetDescription("Runs the completed-session eviction now. Requires the admin bearer token.")
	purge.AddRespStructure(PurgeResponse{}, openapi.WithHTTPStatus(http.StatusOK))
	purge.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusUnauthorized))
	_ = r.AddOperation(purge)

	return r.Spec
}

func handleOpenAPI() http.HandlerFunc {
	spec := newOpenAPISpec()
	data, _ := json.MarshalIndent(spec, "", "  ")

	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	}
}
