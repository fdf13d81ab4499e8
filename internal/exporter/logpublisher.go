package exporter

import (
	"sync"

	"github.com/validaoxyz/ephemery-sync-exporter/internal/aggregator"
	"github.com/validaoxyz/ephemery-sync-exporter/internal/logger"
	"github.com/validaoxyz/ephemery-sync-exporter/internal/telemetry"
)

// logPublisher writes new timeline events, connection changes and a periodic stats
// summary to the log.
type logPublisher struct {
	every int

	mu       sync.Mutex
	state    telemetry.ConnectionState
	lastLive uint64
	lastErr  string
}

func newLogPublisher(every int) *logPublisher {
	return &logPublisher{every: every}
}

func (p *logPublisher) Publish(v aggregator.View) {
	for _, ev := range v.NewEvents {
		logEvent(ev)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if v.Connection != p.state {
		logger.InfoComponent("transport", "Connection %s -> %s (attempts %d)", p.state, v.Connection, v.ReconnectAttempts)
		if v.Connection == telemetry.FallbackPolling {
			logger.WarningComponent("transport", "Push stream unavailable, polling the status API")
		}
		p.state = v.Connection
	}

	if v.LastError != "" && v.LastError != p.lastErr && v.ErrorLabel != "" {
		logger.WarningComponent("transport", "Status source error: %s", v.LastError)
	}
	p.lastErr = v.LastError

	if p.every > 0 && v.Counters.LiveSamples != p.lastLive && v.Counters.LiveSamples%uint64(p.every) == 0 {
		logger.InfoComponent("stats", "%s", v.Consensus.Summary())
		logger.InfoComponent("stats", "%s", v.Execution.Summary())
	}
	p.lastLive = v.Counters.LiveSamples
}

func logEvent(ev telemetry.TimelineEvent) {
	switch ev.Severity {
	case telemetry.SeverityWarning:
		logger.WarningComponent("events", "%s: %s", ev.Title, ev.Description)
	case telemetry.SeverityError:
		logger.ErrorComponent("events", "%s: %s", ev.Title, ev.Description)
	default:
		logger.InfoComponent("events", "%s: %s", ev.Title, ev.Description)
	}
}
