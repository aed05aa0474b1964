package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/opentac/controller/internal/controller"
	"github.com/opentac/controller/internal/economy"
	"github.com/opentac/controller/internal/game"
	"github.com/opentac/controller/internal/protocol"
	"github.com/opentac/controller/internal/store"
)

func testServer(t *testing.T) (*Server, *store.MemoryStore) {
	t.Helper()

	params := controller.Parameters{
		ExperimentID:        "exp-live",
		MinAgents:           2,
		NbGoods:             3,
		TxFee:               decimal.NewFromInt(1),
		Economy:             economy.Params{MoneyEndowment: 200, BaseGoodEndowment: 2, LowerBoundFactor: 1, UpperBoundFactor: 2},
		StartTime:           time.Now().Add(time.Hour),
		RegistrationTimeout: time.Minute,
		InactivityTimeout:   time.Minute,
		CompetitionTimeout:  time.Minute,
		Seed:                1,
	}

	st := store.NewMemoryStore()
	hub := NewHub(nil)
	ctrl, err := controller.New(params, hub, st, nil)
	if err != nil {
		t.Fatalf("controller: %v", err)
	}
	hub.Bind(ctrl)
	return NewServer(ctrl, hub, st, nil), st
}

func archivedRecord(t *testing.T) *store.Record {
	t.Helper()

	cfg, err := game.NewConfiguration(2, 2, decimal.NewFromInt(1),
		map[string]string{"agent_a": "alice", "agent_b": "bob"},
		map[string]string{"good_0": "Good 0", "good_1": "Good 1"})
	if err != nil {
		t.Fatalf("configuration: %v", err)
	}
	init, err := game.NewInitialization(
		[]decimal.Decimal{decimal.NewFromInt(20), decimal.NewFromInt(20)},
		[][]int{{1, 1}, {1, 1}},
		[][]float64{{50, 50}, {40, 60}},
		[]float64{1, 1},
		[][]float64{{1, 1}, {1, 1}},
		[]float64{20, 20},
	)
	if err != nil {
		t.Fatalf("initialization: %v", err)
	}
	g, err := game.NewGame(cfg, init)
	if err != nil {
		t.Fatalf("game: %v", err)
	}
	tx, err := game.NewTransaction("tx_01", true, "agent_a", "agent_b", decimal.NewFromInt(5),
		map[string]int{"good_0": 1})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
	g.SettleTransaction(tx)

	return &store.Record{
		ExperimentID: "exp-done",
		Reason:       "competition timeout",
		FinishedAt:   time.Now(),
		Game:         g.Dump(),
	}
}

func get(t *testing.T, router http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

// --- WebSocket transport tests ---

func TestHandleWS_RegisterRoundTrip(t *testing.T) {
	srv, _ := testServer(t)

	go srv.hub.Run()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.ctrl.Run(ctx)

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	// The upgrade must succeed through the full middleware stack, not
	// just against a bare handler.
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws?address=agent_ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	env := `{"type":"register","payload":{"agent_name":"wanda"}}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(env)); err != nil {
		t.Fatalf("write: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var reply protocol.Envelope
	if err := json.Unmarshal(data, &reply); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if reply.Type != "ok" {
		t.Fatalf("expected ok envelope, got %q (%s)", reply.Type, data)
	}
}

func TestHandleWS_MalformedEnvelopeRejected(t *testing.T) {
	srv, _ := testServer(t)

	go srv.hub.Run()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.ctrl.Run(ctx)

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws?address=agent_bad"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"summon"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var reply protocol.Envelope
	if err := json.Unmarshal(data, &reply); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if reply.Type != "error" {
		t.Fatalf("expected error envelope, got %q", reply.Type)
	}
	var e protocol.Error
	if err := json.Unmarshal(reply.Payload, &e); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if e.Code != protocol.RequestNotValid {
		t.Errorf("expected %s, got %s", protocol.RequestNotValid, e.Code)
	}
}

func TestHealth(t *testing.T) {
	srv, _ := testServer(t)
	rec := get(t, srv.Router(), "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestGetPhase(t *testing.T) {
	srv, _ := testServer(t)
	rec := get(t, srv.Router(), "/api/v1/phase")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["phase"] != "pre_game" {
		t.Errorf("expected phase pre_game, got %q", body["phase"])
	}
}

func TestGetScores_NoGame(t *testing.T) {
	srv, _ := testServer(t)
	rec := get(t, srv.Router(), "/api/v1/scores")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 before a game exists, got %d", rec.Code)
	}
}

func TestGetPrices_NoGame(t *testing.T) {
	srv, _ := testServer(t)
	rec := get(t, srv.Router(), "/api/v1/prices")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 before a game exists, got %d", rec.Code)
	}
}

func TestGetGame_NoGame(t *testing.T) {
	srv, _ := testServer(t)
	rec := get(t, srv.Router(), "/api/v1/game")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 before a game exists, got %d", rec.Code)
	}
}

func TestListExperiments(t *testing.T) {
	srv, st := testServer(t)
	if err := st.SaveRecord(context.Background(), archivedRecord(t)); err != nil {
		t.Fatalf("save: %v", err)
	}

	rec := get(t, srv.Router(), "/api/v1/experiments")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var ids []string
	if err := json.Unmarshal(rec.Body.Bytes(), &ids); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(ids) != 1 || ids[0] != "exp-done" {
		t.Errorf("expected [exp-done], got %v", ids)
	}
}

func TestGetExperiment(t *testing.T) {
	srv, st := testServer(t)
	if err := st.SaveRecord(context.Background(), archivedRecord(t)); err != nil {
		t.Fatalf("save: %v", err)
	}
	router := srv.Router()

	rec := get(t, router, "/api/v1/experiments/exp-done")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var stored store.Record
	if err := json.Unmarshal(rec.Body.Bytes(), &stored); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if stored.ExperimentID != "exp-done" || stored.Game == nil {
		t.Errorf("unexpected record: %+v", stored)
	}

	if rec := get(t, router, "/api/v1/experiments/nope"); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for an unknown experiment, got %d", rec.Code)
	}
}

func TestGetExperimentStats(t *testing.T) {
	srv, st := testServer(t)
	if err := st.SaveRecord(context.Background(), archivedRecord(t)); err != nil {
		t.Fatalf("save: %v", err)
	}

	rec := get(t, srv.Router(), "/api/v1/experiments/exp-done/stats")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var body struct {
		Transactions int `json:"transactions"`
		Standings    []struct {
			AgentName string  `json:"agent_name"`
			Score     float64 `json:"score"`
		} `json:"standings"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Transactions != 1 {
		t.Errorf("expected 1 transaction, got %d", body.Transactions)
	}
	if len(body.Standings) != 2 {
		t.Errorf("expected 2 standings rows, got %d", len(body.Standings))
	}
}

func TestGetExperimentStats_NoGame(t *testing.T) {
	srv, st := testServer(t)
	rec := &store.Record{ExperimentID: "exp-empty", Reason: "not enough agents registered", FinishedAt: time.Now()}
	if err := st.SaveRecord(context.Background(), rec); err != nil {
		t.Fatalf("save: %v", err)
	}

	res := get(t, srv.Router(), "/api/v1/experiments/exp-empty/stats")
	if res.Code != http.StatusNotFound {
		t.Errorf("expected 404 for a gameless record, got %d", res.Code)
	}
}
