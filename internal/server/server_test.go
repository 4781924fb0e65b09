package server

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/playperu/valentines/internal/games"
	"github.com/playperu/valentines/internal/leaderboard"
	"github.com/playperu/valentines/internal/metrics"
	"github.com/playperu/valentines/internal/session"
)

func testDeps(t *testing.T) Deps {
	t.Helper()
	rules := session.NewRuleBook(session.Rules{ReadyThreshold: 1})
	games.Register(rules)
	store := session.NewStore(session.WithRules(rules))
	return Deps{
		Store:   store,
		Board:   leaderboard.NewMemory(store),
		Metrics: metrics.New(prometheus.NewRegistry()),
	}
}

func testRouter(t *testing.T, d Deps) *chi.Mux {
	t.Helper()
	r := chi.NewRouter()
	addRoutes(r, slog.New(slog.DiscardHandler), d)
	return r
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		if err := json.NewEncoder(&buf).Encode(b); err != nil {
			t.Fatalf("encoding body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeSession(t *testing.T, w *httptest.ResponseRecorder) session.Session {
	t.Helper()
	var s session.Session
	if err := json.NewDecoder(w.Body).Decode(&s); err != nil {
		t.Fatalf("decoding session: %v (%s)", err, w.Body.String())
	}
	return s
}

func TestSessionFlow(t *testing.T) {
	r := testRouter(t, testDeps(t))

	w := do(t, r, http.MethodPut, "/api/sessions/quiz-1", CreateSessionRequest{
		GameType: games.Trivia,
		GameData: map[string]any{"questions": []string{"q0", "q1"}, "currentQuestionIndex": 0},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", w.Code, w.Body.String())
	}

	w = do(t, r, http.MethodPut, "/api/sessions/quiz-1", CreateSessionRequest{GameType: games.Trivia})
	if w.Code != http.StatusOK {
		t.Fatalf("create again: expected 200, got %d", w.Code)
	}
	if s := decodeSession(t, w); len(s.GameData) == 0 {
		t.Errorf("second create must return the seeded session, got gameData %v", s.GameData)
	}

	w = do(t, r, http.MethodPost, "/api/sessions/quiz-1/ready", ReadyRequest{Identity: "maria"})
	if w.Code != http.StatusOK {
		t.Fatalf("ready: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if s := decodeSession(t, w); s.Status != session.StatusActive {
		t.Errorf("expected active after ready, got %q", s.Status)
	}

	w = do(t, r, http.MethodPost, "/api/sessions/quiz-1/answer", AnswerRequest{Identity: "maria", Payload: "Cupid", Delta: 10})
	if w.Code != http.StatusOK {
		t.Fatalf("answer: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	s := decodeSession(t, w)
	if got := s.GameData[session.AnswerKey].(map[string]any)["maria"]; got != "Cupid" {
		t.Errorf("expected stored answer Cupid, got %v", got)
	}

	w = do(t, r, http.MethodPost, "/api/sessions/quiz-1/score", ScoreRequest{Identity: "maria", Delta: 5, Token: "q0"})
	if w.Code != http.StatusOK {
		t.Fatalf("score: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	w = do(t, r, http.MethodPost, "/api/sessions/quiz-1/score", ScoreRequest{Identity: "maria", Delta: 5, Token: "q0"})
	if w.Code != http.StatusOK {
		t.Fatalf("score retry: expected 200, got %d", w.Code)
	}
	w = do(t, r, http.MethodGet, "/api/sessions/quiz-1/players/maria", nil)
	var p session.PlayerState
	json.NewDecoder(w.Body).Decode(&p)
	if p.Score != 15 {
		t.Errorf("expected score 15 after token retry, got %d", p.Score)
	}

	// Advancing past the last question completes the quiz.
	w = do(t, r, http.MethodPost, "/api/sessions/quiz-1/gameData", map[string]any{"currentQuestionIndex": 2})
	if w.Code != http.StatusOK {
		t.Fatalf("gameData: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if s := decodeSession(t, w); s.Status != session.StatusCompleted || s.EndReason != session.ReasonPredicate {
		t.Errorf("expected completed by predicate, got %q (%q)", s.Status, s.EndReason)
	}

	w = do(t, r, http.MethodPost, "/api/sessions/quiz-1/score", ScoreRequest{Identity: "maria", Delta: 1})
	if w.Code != http.StatusConflict {
		t.Fatalf("late score: expected 409, got %d", w.Code)
	}
	var conflict ConflictResponse
	json.NewDecoder(w.Body).Decode(&conflict)
	if conflict.Session == nil || conflict.Session.Status != session.StatusCompleted {
		t.Errorf("409 body must carry the completed snapshot, got %+v", conflict)
	}

	w = do(t, r, http.MethodPost, "/api/sessions/quiz-1/end", nil)
	if w.Code != http.StatusConflict {
		t.Errorf("second end: expected 409, got %d", w.Code)
	}
}

func TestGameDataKeepsLargeIntegers(t *testing.T) {
	r := testRouter(t, testDeps(t))
	if w := do(t, r, http.MethodPut, "/api/sessions/spin-1", CreateSessionRequest{GameType: games.SpinWheel}); w.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d", w.Code)
	}

	w := do(t, r, http.MethodPost, "/api/sessions/spin-1/gameData", `{"seed": 9007199254740993, "spins": 2}`)
	if w.Code != http.StatusOK {
		t.Fatalf("gameData: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !bytes.Contains(w.Body.Bytes(), []byte(`"seed":9007199254740993`)) {
		t.Errorf("seed was not returned verbatim: %s", w.Body.String())
	}

	// Counters decoded as json.Number still increment.
	w = do(t, r, http.MethodPost, "/api/sessions/spin-1/action", ActionRequest{Identity: "ana", Kind: "spin", Increments: map[string]int{"spins": 1}})
	if w.Code != http.StatusOK {
		t.Fatalf("action: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !bytes.Contains(w.Body.Bytes(), []byte(`"spins":3`)) {
		t.Errorf("expected spins 3, got %s", w.Body.String())
	}
}

func TestScoreRetryAfterFinishingTap(t *testing.T) {
	r := testRouter(t, testDeps(t))
	w := do(t, r, http.MethodPut, "/api/sessions/race-1", CreateSessionRequest{
		GameType: games.ReactionRace,
		GameData: map[string]any{"target": 1},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d", w.Code)
	}
	for _, who := range []string{"ana", "ben"} {
		if w := do(t, r, http.MethodPost, "/api/sessions/race-1/ready", ReadyRequest{Identity: who}); w.Code != http.StatusOK {
			t.Fatalf("ready %s: expected 200, got %d", who, w.Code)
		}
	}

	tap := ScoreRequest{Identity: "ana", Delta: 1, Token: "tap-1"}
	w = do(t, r, http.MethodPost, "/api/sessions/race-1/score", tap)
	if w.Code != http.StatusOK {
		t.Fatalf("tap: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if s := decodeSession(t, w); s.Status != session.StatusCompleted {
		t.Fatalf("winning tap should complete the race, got %q", s.Status)
	}

	// The response was lost; the client retries the same tap.
	w = do(t, r, http.MethodPost, "/api/sessions/race-1/score", tap)
	if w.Code != http.StatusOK {
		t.Fatalf("retried tap: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	s := decodeSession(t, w)
	if p, _ := s.Players.Get("ana"); p.Score != 1 || s.Status != session.StatusCompleted {
		t.Errorf("retry must return the unchanged completed session, got score %d status %q", p.Score, s.Status)
	}

	w = do(t, r, http.MethodPost, "/api/sessions/race-1/score", ScoreRequest{Identity: "ben", Delta: 1, Token: "tap-1"})
	if w.Code != http.StatusConflict {
		t.Errorf("another identity's late tap: expected 409, got %d", w.Code)
	}
}

func TestCreateSession(t *testing.T) {
	r := testRouter(t, testDeps(t))

	w := do(t, r, http.MethodPost, "/api/sessions", CreateSessionRequest{GameType: games.LoveVote})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	s := decodeSession(t, w)
	if s.ID == "" || s.Status != session.StatusWaiting {
		t.Errorf("expected waiting session with generated id, got %+v", s)
	}

	w = do(t, r, http.MethodGet, "/api/sessions/"+s.ID, nil)
	if w.Code != http.StatusOK {
		t.Errorf("get created: expected 200, got %d", w.Code)
	}

	w = do(t, r, http.MethodPost, "/api/sessions", CreateSessionRequest{})
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("missing gameType: expected 422, got %d", w.Code)
	}
}

func TestErrorMapping(t *testing.T) {
	d := testDeps(t)
	r := testRouter(t, d)
	if _, _, err := d.Store.CreateOrGet("hug", games.HugChain); err != nil {
		t.Fatal(err)
	}
	if _, err := d.Store.Act("hug", session.Action{Identity: "ana", Kind: "hug", Increments: map[string]int{"chain": 1}}); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"unknown session", http.MethodGet, "/api/sessions/nope", nil, http.StatusNotFound},
		{"unknown session mutation", http.MethodPost, "/api/sessions/nope/ready", ReadyRequest{Identity: "ana"}, http.StatusNotFound},
		{"unknown player", http.MethodGet, "/api/sessions/hug/players/zed", nil, http.StatusNotFound},
		{"negative delta", http.MethodPost, "/api/sessions/hug/score", ScoreRequest{Identity: "ana", Delta: -1}, http.StatusUnprocessableEntity},
		{"fractional delta", http.MethodPost, "/api/sessions/hug/score", ScoreRequest{Identity: "ana", Delta: 1.5}, http.StatusUnprocessableEntity},
		{"missing identity", http.MethodPost, "/api/sessions/hug/ready", ReadyRequest{}, http.StatusUnprocessableEntity},
		{"malformed json", http.MethodPost, "/api/sessions/hug/score", `{"delta":`, http.StatusBadRequest},
		{"wrong field type", http.MethodPost, "/api/sessions/hug/score", `{"identity":"ana","delta":"ten"}`, http.StatusBadRequest},
		{"same hugger twice", http.MethodPost, "/api/sessions/hug/action", ActionRequest{Identity: "ana", Kind: "hug", Increments: map[string]int{"chain": 1}}, http.StatusForbidden},
		{"authorize without identity", http.MethodGet, "/api/sessions/hug/authorize", nil, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, r, tt.method, tt.path, tt.body)
			if w.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
			var resp ErrorResponse
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil || resp.Error == "" {
				t.Errorf("expected JSON error body, got %q", w.Body.String())
			}
		})
	}

	s, err := d.Store.Get("hug")
	if err != nil {
		t.Fatal(err)
	}
	if chain, _ := session.AsInt(s.GameData["chain"]); chain != 1 {
		t.Errorf("rejected requests must not change the session, chain = %d", chain)
	}
}

func TestHugChainTurns(t *testing.T) {
	d := testDeps(t)
	r := testRouter(t, d)
	do(t, r, http.MethodPut, "/api/sessions/hug", CreateSessionRequest{GameType: games.HugChain, GameData: map[string]any{"target": 4}})
	do(t, r, http.MethodPost, "/api/sessions/hug/ready", ReadyRequest{Identity: "ana"})

	authorized := func(who string) bool {
		t.Helper()
		w := do(t, r, http.MethodGet, "/api/sessions/hug/authorize?kind=hug&identity="+who, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("authorize: expected 200, got %d", w.Code)
		}
		var resp AuthorizeResponse
		json.NewDecoder(w.Body).Decode(&resp)
		return resp.Authorized
	}

	huggers := []string{"ana", "ben", "ana", "ben"}
	for i, who := range huggers {
		if !authorized(who) {
			t.Fatalf("hug %d: %s should be allowed", i, who)
		}
		w := do(t, r, http.MethodPost, "/api/sessions/hug/action", ActionRequest{Identity: who, Kind: "hug", Increments: map[string]int{"chain": 1}, Delta: 1})
		if w.Code != http.StatusOK {
			t.Fatalf("hug %d: expected 200, got %d: %s", i, w.Code, w.Body.String())
		}
		s := decodeSession(t, w)
		if s.GameData["lastHugger"] != who {
			t.Errorf("hug %d: lastHugger = %v, want %s", i, s.GameData["lastHugger"], who)
		}
		if i < len(huggers)-1 && authorized(who) {
			t.Errorf("hug %d: %s must wait for the partner", i, who)
		}
	}

	s, _ := d.Store.Get("hug")
	if s.Status != session.StatusCompleted {
		t.Errorf("expected completed chain, got %q", s.Status)
	}
}

func TestConcurrentScoresOverHTTP(t *testing.T) {
	d := testDeps(t)
	r := testRouter(t, d)
	do(t, r, http.MethodPut, "/api/sessions/race", CreateSessionRequest{GameType: "tap-fest"})

	const players, taps = 4, 25
	var wg sync.WaitGroup
	for i := 0; i < players; i++ {
		wg.Add(1)
		go func(who string) {
			defer wg.Done()
			for j := 0; j < taps; j++ {
				w := do(t, r, http.MethodPost, "/api/sessions/race/score", ScoreRequest{Identity: who, Delta: 2})
				if w.Code != http.StatusOK {
					t.Errorf("tap: expected 200, got %d", w.Code)
					return
				}
			}
		}(string(rune('a' + i)))
	}
	wg.Wait()

	s, _ := d.Store.Get("race")
	for _, p := range s.Players {
		if p.Score != taps*2 {
			t.Errorf("%s score = %d, want %d", p.Identity, p.Score, taps*2)
		}
	}
}

func TestLeaderboard(t *testing.T) {
	d := testDeps(t)
	r := testRouter(t, d)
	for id, scores := range map[string]map[string]int{
		"r1": {"ana": 3, "ben": 5},
		"r2": {"ana": 6},
	} {
		if _, _, err := d.Store.CreateOrGet(id, games.ReactionRace); err != nil {
			t.Fatal(err)
		}
		for who, n := range scores {
			if _, err := d.Store.UpdateScore(id, who, n, ""); err != nil {
				t.Fatal(err)
			}
		}
	}

	w := do(t, r, http.MethodGet, "/api/leaderboards/reaction-race?top=1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp LeaderboardResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if len(resp.Entries) != 1 || resp.Entries[0].Identity != "ana" || resp.Entries[0].Score != 6 {
		t.Errorf("unexpected leaderboard %+v", resp.Entries)
	}

	w = do(t, r, http.MethodGet, "/api/leaderboards/reaction-race?top=zero", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad top: expected 400, got %d", w.Code)
	}
}

func TestRateLimit(t *testing.T) {
	d := testDeps(t)
	d.RateLimitPerMinute = 2
	r := testRouter(t, d)
	if _, _, err := d.Store.CreateOrGet("s1", games.Trivia); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		if w := do(t, r, http.MethodPost, "/api/sessions/s1/ready", ReadyRequest{Identity: "ana"}); w.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, w.Code)
		}
	}
	w := do(t, r, http.MethodPost, "/api/sessions/s1/ready", ReadyRequest{Identity: "ana"})
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}

	// Polling is never limited.
	if w := do(t, r, http.MethodGet, "/api/sessions/s1", nil); w.Code != http.StatusOK {
		t.Errorf("poll: expected 200, got %d", w.Code)
	}
}

func TestSeedDemo(t *testing.T) {
	d := testDeps(t)
	logger := slog.New(slog.DiscardHandler)
	for i := 0; i < 2; i++ {
		if err := SeedDemo(logger, d.Store); err != nil {
			t.Fatalf("seed %d: %v", i, err)
		}
	}
	s, err := d.Store.Get(DemoSessionID)
	if err != nil {
		t.Fatalf("demo session missing: %v", err)
	}
	if s.GameType != games.HugChain {
		t.Errorf("expected hug-chain demo, got %q", s.GameType)
	}
	if d.Store.Len() != 1 {
		t.Errorf("seeding twice must not duplicate, have %d sessions", d.Store.Len())
	}
}

func TestNewMountsInfrastructure(t *testing.T) {
	srv := New(":0", slog.New(slog.DiscardHandler), testDeps(t), func(r chi.Router) {
		r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})
	})

	w := do(t, srv.srv.Handler, http.MethodGet, "/healthz", nil)
	if w.Code != http.StatusOK {
		t.Errorf("healthz: expected 200, got %d", w.Code)
	}
	if err := srv.Shutdown(context.Background()); err != nil {
		t.Errorf("shutdown before run: %v", err)
	}
}
