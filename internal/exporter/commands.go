package exporter

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/validaoxyz/ephemery-sync-exporter/internal/aggregator"
	"github.com/validaoxyz/ephemery-sync-exporter/internal/logger"
	"github.com/validaoxyz/ephemery-sync-exporter/internal/statusapi"
)

const commandPrefix = "/api/commands/"

func (e *Exporter) commandRoutes() map[string]http.Handler {
	routes := make(map[string]http.Handler)
	for _, cmd := range statusapi.Commands() {
		routes[commandPrefix+cmd] = e.commandHandler(cmd)
	}
	return routes
}

// commandHandler forwards one remote command and triggers a status pull afterwards, so
// the view reflects what the command changed.
func (e *Exporter) commandHandler(command string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			aggregator.WriteJSON(w, http.StatusMethodNotAllowed, statusapi.CommandResult{Command: command, Error: "method not allowed"})
			return
		}

		res, err := e.client.Run(r.Context(), command)
		defer e.controller.Refresh()

		var remote *statusapi.RemoteCommandError
		switch {
		case err == nil:
			logger.InfoComponent("system", "Command %s succeeded", command)
			aggregator.WriteJSON(w, http.StatusOK, res)
		case errors.As(err, &remote):
			logger.WarningComponent("system", "Command %s failed: %s", command, remote.Message)
			res.Error = remote.Message
			aggregator.WriteJSON(w, http.StatusOK, res)
		default:
			logger.ErrorComponent("system", "Command %s could not be sent: %v", command, err)
			res.Error = err.Error()
			aggregator.WriteJSON(w, http.StatusBadGateway, res)
		}
	})
}

// POST /api/history/request?days=N re-requests history for the date filter.
func (e *Exporter) serveHistoryRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	days := e.cfg.HistoryDays
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			aggregator.WriteJSON(w, http.StatusBadRequest, map[string]interface{}{"success": false, "error": "days must be a positive integer"})
			return
		}
		days = n
	}
	e.controller.RequestHistory(days)
	aggregator.WriteJSON(w, http.StatusAccepted, map[string]interface{}{"success": true, "days": days})
}

func (e *Exporter) serveRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	e.controller.Refresh()
	aggregator.WriteJSON(w, http.StatusAccepted, map[string]interface{}{"success": true})
}
