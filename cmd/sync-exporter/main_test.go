package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/validaoxyz/ephemery-sync-exporter/internal/config"
)

var now = time.Date(2025, 3, 2, 12, 0, 0, 0, time.UTC)

// historyServer answers /api/history with n samples 10 minutes apart, the last one at
// now, each 100 slots ahead of the previous. It records the query strings it saw.
func historyServer(t *testing.T, n int) (*httptest.Server, func() []string) {
	t.Helper()
	docs := make([]map[string]interface{}, n)
	for i := 0; i < n; i++ {
		docs[i] = map[string]interface{}{
			"timestamp": now.Add(-time.Duration(n-1-i) * 10 * time.Minute).Format(time.RFC3339),
			"lighthouse": map[string]interface{}{"data": map[string]interface{}{
				"is_syncing":    true,
				"head_slot":     strconv.Itoa(1000 + 100*i),
				"sync_distance": strconv.Itoa(100000 - 100*i),
			}},
			"geth": map[string]interface{}{"result": false},
		}
	}
	// served newest first, so the command has to sort
	for i, j := 0, len(docs)-1; i < j; i, j = i+1, j-1 {
		docs[i], docs[j] = docs[j], docs[i]
	}
	body, err := json.Marshal(docs)
	if err != nil {
		t.Fatalf("marshal history: %v", err)
	}

	var mu sync.Mutex
	var queries []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/history" {
			http.NotFound(w, r)
			return
		}
		mu.Lock()
		queries = append(queries, r.URL.RawQuery)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), queries...)
	}
}

func TestPrintStatusUsesWholeHistory(t *testing.T) {
	const samples = 200 // about 33h, well past both the live window and the 24h gain window
	srv, queries := historyServer(t, samples)

	cfg := config.Default()
	cfg.StatusAPIURL = srv.URL
	cfg.HistoryDays = 7
	cfg.RequestTimeout = time.Second

	var out bytes.Buffer
	if err := printStatus(context.Background(), &out, cfg, 0, now); err != nil {
		t.Fatalf("status: %v", err)
	}
	got := out.String()

	// first sample inside the window is index 55: (199-55)*100 slots
	for _, want := range []string{
		"200 samples since 2025-03-01T02:50:00Z",
		"head slot 20,900",
		"avg 600 slots/hour",
		"24h gain +14,400 slots",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("output missing %q:\n%s", want, got)
		}
	}
	if q := queries(); len(q) != 1 || q[0] != "days=7" {
		t.Fatalf("expected one days=7 pull, got %v", q)
	}
}

func TestPrintStatusLimit(t *testing.T) {
	srv, queries := historyServer(t, 30)

	cfg := config.Default()
	cfg.StatusAPIURL = srv.URL
	cfg.RequestTimeout = time.Second

	var out bytes.Buffer
	if err := printStatus(context.Background(), &out, cfg, 30, now); err != nil {
		t.Fatalf("status: %v", err)
	}
	if q := queries(); len(q) != 1 || q[0] != "limit=30" {
		t.Fatalf("expected one limit=30 pull, got %v", q)
	}
	if !strings.Contains(out.String(), "24h gain +2,900 slots") {
		t.Fatalf("unexpected output:\n%s", out.String())
	}
}

func TestPrintStatusEmpty(t *testing.T) {
	srv, _ := historyServer(t, 0)

	cfg := config.Default()
	cfg.StatusAPIURL = srv.URL
	cfg.RequestTimeout = time.Second

	var out bytes.Buffer
	if err := printStatus(context.Background(), &out, cfg, 0, now); err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.HasPrefix(out.String(), "No samples available from "+srv.URL) {
		t.Fatalf("unexpected output %q", out.String())
	}
}
