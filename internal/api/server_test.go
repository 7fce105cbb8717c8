package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"beergame/internal/auth"
	"beergame/internal/config"
	"beergame/internal/events"
	"beergame/internal/game"
	"beergame/internal/store/memory"
)

const testPassword = "beer123"

func newTestServer(t *testing.T) (*httptest.Server, *game.Service) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	gate, err := auth.NewInstructorGate(testPassword)
	if err != nil {
		t.Fatalf("gate: %v", err)
	}
	broker := events.NewBroker(logger)
	svc := game.NewService(memory.New(), game.DefaultConfig(), logger, broker)
	ctx := context.Background()
	if err := svc.EnsureSeeded(ctx); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := svc.SetActive(ctx, true); err != nil {
		t.Fatalf("activate: %v", err)
	}
	srv := New(config.APIConfig{}, logger, gate, svc, broker)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		broker.Close()
		ts.Close()
	})
	return ts, svc
}

func doJSON(t *testing.T, ts *httptest.Server, method, path, password string, body any, out any) int {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, ts.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if password != "" {
		req.Header.Set(InstructorHeader, password)
	}
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func TestHealthAndSettings(t *testing.T) {
	ts, _ := newTestServer(t)

	if status := doJSON(t, ts, http.MethodGet, "/healthz", "", nil, nil); status != http.StatusOK {
		t.Fatalf("healthz status %d", status)
	}
	var settings game.Settings
	if status := doJSON(t, ts, http.MethodGet, "/v1/settings", "", nil, &settings); status != http.StatusOK {
		t.Fatalf("settings status %d", status)
	}
	if !settings.Active || settings.Demand != game.DefaultDemand {
		t.Fatalf("settings = %+v", settings)
	}
}

func TestClaimConflict(t *testing.T) {
	ts, _ := newTestServer(t)

	var rec game.RoundRecord
	status := doJSON(t, ts, http.MethodPost, "/v1/teams/A/roles/retailer/claim", "", map[string]string{"occupant": "u1"}, &rec)
	if status != http.StatusOK {
		t.Fatalf("claim status %d", status)
	}
	if rec.Occupant == nil || *rec.Occupant != "u1" || rec.Week != 1 {
		t.Fatalf("claimed record = %+v", rec)
	}
	if status := doJSON(t, ts, http.MethodPost, "/v1/teams/A/roles/retailer/claim", "", map[string]string{"occupant": "u1"}, nil); status != http.StatusOK {
		t.Fatalf("reclaim by same occupant status %d", status)
	}
	var errBody map[string]string
	status = doJSON(t, ts, http.MethodPost, "/v1/teams/A/roles/retailer/claim", "", map[string]string{"occupant": "u2"}, &errBody)
	if status != http.StatusConflict || errBody["error"] == "" {
		t.Fatalf("second claim status %d body %v", status, errBody)
	}
}

func TestOrderFlowAdvancesRound(t *testing.T) {
	ts, _ := newTestServer(t)

	roles := []string{"retailer", "wholesaler", "distributor", "factory"}
	for i, role := range roles {
		var res game.AdvanceResult
		status := doJSON(t, ts, http.MethodPost, "/v1/teams/A/roles/"+role+"/orders", "", map[string]int{"amount": 4}, &res)
		if status != http.StatusCreated {
			t.Fatalf("%s order status %d", role, status)
		}
		want := game.StatusNotReady
		if i == len(roles)-1 {
			want = game.StatusAdvanced
		}
		if res.Status != want {
			t.Fatalf("%s order status = %s want %s", role, res.Status, want)
		}
	}

	var rec game.RoundRecord
	if status := doJSON(t, ts, http.MethodGet, "/v1/teams/A/roles/retailer/latest", "", nil, &rec); status != http.StatusOK {
		t.Fatalf("latest status %d", status)
	}
	if rec.Week != 2 || rec.Submitted() {
		t.Fatalf("latest = %+v", rec)
	}

	// A stale week is rejected.
	status := doJSON(t, ts, http.MethodPost, "/v1/teams/A/roles/retailer/orders", "", map[string]int{"week": 1, "amount": 4}, nil)
	if status != http.StatusConflict {
		t.Fatalf("stale week status %d", status)
	}

	var history struct {
		Records []game.RoundRecord `json:"records"`
	}
	if status := doJSON(t, ts, http.MethodGet, "/v1/teams/A/history?since=2", "", nil, &history); status != http.StatusOK {
		t.Fatalf("history status %d", status)
	}
	if len(history.Records) != len(game.Roles) {
		t.Fatalf("history since week 2 has %d records", len(history.Records))
	}
	for _, r := range history.Records {
		if r.Week != 2 {
			t.Fatalf("unexpected week %d in filtered history", r.Week)
		}
	}
}

func TestRequestErrors(t *testing.T) {
	ts, _ := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{name: "bad role", method: http.MethodGet, path: "/v1/teams/A/roles/brewer/latest", want: http.StatusBadRequest},
		{name: "unknown team", method: http.MethodGet, path: "/v1/teams/Z/roles/retailer/latest", want: http.StatusNotFound},
		{name: "unknown history team", method: http.MethodGet, path: "/v1/teams/Z/history", want: http.StatusNotFound},
		{name: "missing amount", method: http.MethodPost, path: "/v1/teams/A/roles/retailer/orders", body: map[string]int{"week": 1}, want: http.StatusBadRequest},
		{name: "negative amount", method: http.MethodPost, path: "/v1/teams/A/roles/retailer/orders", body: map[string]int{"amount": -1}, want: http.StatusBadRequest},
		{name: "unknown field", method: http.MethodPost, path: "/v1/teams/A/roles/retailer/orders", body: map[string]int{"qty": 4}, want: http.StatusBadRequest},
		{name: "future week", method: http.MethodPost, path: "/v1/teams/A/roles/retailer/orders", body: map[string]int{"week": 9, "amount": 4}, want: http.StatusNotFound},
		{name: "empty occupant", method: http.MethodPost, path: "/v1/teams/A/roles/retailer/claim", body: map[string]string{"occupant": " "}, want: http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if status := doJSON(t, ts, tc.method, tc.path, "", tc.body, nil); status != tc.want {
				t.Fatalf("status %d want %d", status, tc.want)
			}
		})
	}
}

func TestInstructorRoutes(t *testing.T) {
	ts, _ := newTestServer(t)

	if status := doJSON(t, ts, http.MethodGet, "/v1/instructor/progress", "", nil, nil); status != http.StatusUnauthorized {
		t.Fatalf("missing password status %d", status)
	}
	if status := doJSON(t, ts, http.MethodGet, "/v1/instructor/progress", "nope", nil, nil); status != http.StatusUnauthorized {
		t.Fatalf("wrong password status %d", status)
	}

	if status := doJSON(t, ts, http.MethodPost, "/v1/teams/A/roles/retailer/orders", "", map[string]int{"amount": 6}, nil); status != http.StatusCreated {
		t.Fatalf("order status %d", status)
	}
	var progress struct {
		Teams []game.TeamProgress `json:"teams"`
	}
	if status := doJSON(t, ts, http.MethodGet, "/v1/instructor/progress", testPassword, nil, &progress); status != http.StatusOK {
		t.Fatalf("progress status %d", status)
	}
	if len(progress.Teams) != 3 || progress.Teams[0].Team != "A" || len(progress.Teams[0].Submitted) != 1 {
		t.Fatalf("progress = %+v", progress.Teams)
	}

	var settings game.Settings
	if status := doJSON(t, ts, http.MethodPost, "/v1/instructor/demand", testPassword, map[string]int{"demand": 7}, &settings); status != http.StatusOK {
		t.Fatalf("demand status %d", status)
	}
	if settings.Demand != 7 {
		t.Fatalf("demand = %d", settings.Demand)
	}
	if status := doJSON(t, ts, http.MethodPost, "/v1/instructor/demand", testPassword, map[string]int{"demand": 21}, nil); status != http.StatusBadRequest {
		t.Fatalf("out of range demand status %d", status)
	}

	// An empty body toggles the gateway.
	if status := doJSON(t, ts, http.MethodPost, "/v1/instructor/active", testPassword, map[string]any{}, &settings); status != http.StatusOK {
		t.Fatalf("toggle status %d", status)
	}
	if settings.Active {
		t.Fatalf("toggle should have closed the game")
	}
	if status := doJSON(t, ts, http.MethodPost, "/v1/teams/A/roles/wholesaler/orders", "", map[string]int{"amount": 4}, nil); status != http.StatusLocked {
		t.Fatalf("order on closed game status %d", status)
	}
	if status := doJSON(t, ts, http.MethodPost, "/v1/instructor/active", testPassword, map[string]bool{"active": true}, &settings); status != http.StatusOK || !settings.Active {
		t.Fatalf("open status %d active %v", status, settings.Active)
	}

	var res game.AdvanceResult
	if status := doJSON(t, ts, http.MethodPost, "/v1/instructor/teams/A/advance", testPassword, nil, &res); status != http.StatusOK {
		t.Fatalf("advance status %d", status)
	}
	if res.Status != game.StatusAdvanced || !res.Forced || res.Week != 1 {
		t.Fatalf("advance = %+v", res)
	}
	if status := doJSON(t, ts, http.MethodPost, "/v1/instructor/teams/A/advance", testPassword, map[string]int{"week": 1}, &res); status != http.StatusOK {
		t.Fatalf("repeat advance status %d", status)
	}
	if res.Status != game.StatusAlreadyAdvanced {
		t.Fatalf("repeat advance = %s", res.Status)
	}

	var reset struct {
		OK       bool          `json:"ok"`
		Settings game.Settings `json:"settings"`
	}
	if status := doJSON(t, ts, http.MethodPost, "/v1/instructor/reset", testPassword, nil, &reset); status != http.StatusOK {
		t.Fatalf("reset status %d", status)
	}
	if !reset.OK || reset.Settings.Active || reset.Settings.Demand != game.DefaultDemand {
		t.Fatalf("reset = %+v", reset)
	}
}

func TestStreamDeliversEvents(t *testing.T) {
	ts, svc := newTestServer(t)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/stream?team=B"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("handshake status %d", resp.StatusCode)
	}

	ctx := context.Background()
	// The subscription is registered after the upgrade; publish until it lands.
	deadline := time.Now().Add(2 * time.Second)
	_ = conn.SetReadDeadline(deadline)
	got := make(chan events.Message, 1)
	go func() {
		var msg events.Message
		if err := conn.ReadJSON(&msg); err == nil {
			got <- msg
		}
		close(got)
	}()
	for time.Now().Before(deadline) {
		if err := svc.ClaimRole(ctx, "A", game.Retailer, "ignored"); err != nil {
			t.Fatalf("claim A: %v", err)
		}
		if _, err := svc.SetDemand(ctx, 9); err != nil {
			t.Fatalf("set demand: %v", err)
		}
		select {
		case msg, ok := <-got:
			if !ok {
				t.Fatalf("stream closed without a message")
			}
			if msg.Event.Kind != game.EventSettings || msg.Event.Settings == nil || msg.Event.Settings.Demand != 9 {
				t.Fatalf("unexpected message %+v", msg)
			}
			return
		case <-time.After(50 * time.Millisecond):
		}
	}
	t.Fatalf("no event received")
}

func TestStreamUnknownTeam(t *testing.T) {
	ts, _ := newTestServer(t)
	if status := doJSON(t, ts, http.MethodGet, "/v1/stream?team=Z", "", nil, nil); status != http.StatusNotFound {
		t.Fatalf("status %d", status)
	}
}

func TestSetDemandLockedByShock(t *testing.T) {
	ts, svc := newTestServer(t)
	ctx := context.Background()
	for week := 1; week < svc.Config().ShockWeek+1; week++ {
		if _, err := svc.AdvanceTeam(ctx, "A"); err != nil {
			t.Fatalf("week %d: %v", week, err)
		}
	}
	var errBody map[string]string
	status := doJSON(t, ts, http.MethodPost, "/v1/instructor/demand", testPassword, map[string]int{"demand": 3}, &errBody)
	if status != http.StatusConflict || errBody["error"] == "" {
		t.Fatalf("status %d body %v", status, errBody)
	}
	var settings game.Settings
	doJSON(t, ts, http.MethodGet, "/v1/settings", "", nil, &settings)
	if settings.Demand != game.DefaultShockDemand || !settings.ShockTriggered {
		t.Fatalf("settings = %+v", settings)
	}
}
