package aggregator

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/validaoxyz/ephemery-sync-exporter/internal/logger"
	"github.com/validaoxyz/ephemery-sync-exporter/internal/telemetry"
)

// Routes returns the read-only view API.
func (a *Aggregator) Routes() map[string]http.Handler {
	return map[string]http.Handler{
		"/api/view":    getOnly(a.serveView),
		"/api/samples": getOnly(a.serveSamples),
		"/api/events":  getOnly(a.serveEvents),
		"/api/stats":   getOnly(a.serveStats),
	}
}

func getOnly(h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	})
}

func (a *Aggregator) serveView(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, a.View())
}

func (a *Aggregator) serveSamples(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, a.View().Samples)
}

// ?since=<RFC 3339> keeps events at or after the given instant
func (a *Aggregator) serveEvents(w http.ResponseWriter, r *http.Request) {
	evs := a.View().Events
	if raw := r.URL.Query().Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			WriteJSON(w, http.StatusBadRequest, map[string]interface{}{"success": false, "error": "since must be RFC 3339"})
			return
		}
		filtered := make([]telemetry.TimelineEvent, 0, len(evs))
		for _, ev := range evs {
			if !ev.Timestamp.Before(since) {
				filtered = append(filtered, ev)
			}
		}
		evs = filtered
	}
	WriteJSON(w, http.StatusOK, evs)
}

func (a *Aggregator) serveStats(w http.ResponseWriter, r *http.Request) {
	v := a.View()
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"consensus": v.Consensus,
		"execution": v.Execution,
	})
}

func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.DebugComponent("system", "Failed to write response: %v", err)
	}
}
