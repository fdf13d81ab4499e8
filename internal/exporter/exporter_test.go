package exporter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/validaoxyz/ephemery-sync-exporter/internal/config"
	"github.com/validaoxyz/ephemery-sync-exporter/internal/statusapi"
	"github.com/validaoxyz/ephemery-sync-exporter/internal/telemetry"
)

const statusBody = `{"success":true,"timestamp":"2025-03-01T10:00:00Z","lighthouse":{"data":{"is_syncing":true,"head_slot":"1000","sync_distance":"6000"}},"geth":{"result":false}}`

func testConfig(apiURL, wsURL string) config.Config {
	cfg := config.Default()
	cfg.StatusAPIURL = apiURL
	cfg.StatusWSURL = wsURL
	cfg.ReconnectDelay = 10 * time.Millisecond
	cfg.FallbackPollInterval = 20 * time.Millisecond
	cfg.RequestTimeout = time.Second
	cfg.CommandTimeout = time.Second
	cfg.ListenPort = 0
	cfg.LogStatsEvery = 0
	return cfg
}

func statusServer(t *testing.T, commandOK *atomic.Bool) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/status":
			w.Write([]byte(statusBody))
		case "/api/history":
			w.Write([]byte(`[` + statusBody + `]`))
		case "/api/restart/lighthouse":
			if commandOK.Load() {
				w.Write([]byte(`{"success":true,"output":"restarted"}`))
				return
			}
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"success":false,"error":"systemctl failed"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCommandRoutes(t *testing.T) {
	var ok atomic.Bool
	ok.Store(true)
	srv := statusServer(t, &ok)
	exp := New(testConfig(srv.URL, "ws://127.0.0.1:1/"))
	routes := exp.Routes()

	for _, cmd := range statusapi.Commands() {
		if _, found := routes[commandPrefix+cmd]; !found {
			t.Fatalf("missing route for %s", cmd)
		}
	}

	h := routes["/api/commands/restart-consensus"]

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/commands/restart-consensus", nil))
	var res statusapi.CommandResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.Code != http.StatusOK || !res.Success || res.Output != "restarted" {
		t.Fatalf("unexpected success answer %d %+v", rec.Code, res)
	}

	ok.Store(false)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/commands/restart-consensus", nil))
	res = statusapi.CommandResult{}
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.Code != http.StatusOK || res.Success || res.Error != "systemctl failed" {
		t.Fatalf("unexpected failure answer %d %+v", rec.Code, res)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/commands/restart-consensus", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestCommandUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	exp := New(testConfig(url, "ws://127.0.0.1:1/"))
	rec := httptest.NewRecorder()
	exp.Routes()["/api/commands/run-fix-script"].ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/commands/run-fix-script", nil))
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
}

func TestHistoryRequestRoute(t *testing.T) {
	exp := New(testConfig("http://127.0.0.1:1", "ws://127.0.0.1:1/"))
	h := exp.Routes()["/api/history/request"]

	tests := []struct {
		method string
		query  string
		code   int
	}{
		{http.MethodPost, "?days=7", http.StatusAccepted},
		{http.MethodPost, "", http.StatusAccepted},
		{http.MethodPost, "?days=-1", http.StatusBadRequest},
		{http.MethodPost, "?days=week", http.StatusBadRequest},
		{http.MethodGet, "?days=7", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(tt.method, "/api/history/request"+tt.query, nil))
		if rec.Code != tt.code {
			t.Fatalf("%s %s: expected %d, got %d", tt.method, tt.query, tt.code, rec.Code)
		}
	}
}

func TestRunStreamsIntoView(t *testing.T) {
	var ok atomic.Bool
	api := statusServer(t, &ok)

	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	push := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var req telemetry.HistoryRequest
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		conn.WriteMessage(websocket.TextMessage, []byte(`{"action":"history_data","data":[`+statusBody+`]}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"timestamp":"2025-03-01T11:00:00Z","lighthouse":{"is_syncing":true,"head_slot":"1500","sync_distance":"5500"}}`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer push.Close()

	exp := New(testConfig(api.URL, "ws"+strings.TrimPrefix(push.URL, "http")))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- exp.Run(ctx) }()

	deadline := time.Now().Add(3 * time.Second)
	for {
		v := exp.Aggregator().View()
		if v.Connection == telemetry.Connected && v.Counters.Backfills >= 1 && hasHeadSlot(v.Samples, 1500) {
			break
		}
		if time.Now().After(deadline) {
			cancel()
			t.Fatalf("view never caught up: %+v", v)
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("exporter did not stop")
	}
}

func hasHeadSlot(samples []telemetry.Sample, slot int64) bool {
	for _, s := range samples {
		if s.Consensus.HeadSlot == telemetry.KnownInt(slot) {
			return true
		}
	}
	return false
}
