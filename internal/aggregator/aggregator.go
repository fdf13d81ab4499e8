// Package aggregator is the sink of the acquisition pipeline. It applies samples to the
// live series in application order and derives the view handed to the rendering layer.
package aggregator

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/zeebo/xxh3"

	"github.com/validaoxyz/ephemery-sync-exporter/internal/cache"
	"github.com/validaoxyz/ephemery-sync-exporter/internal/events"
	"github.com/validaoxyz/ephemery-sync-exporter/internal/series"
	"github.com/validaoxyz/ephemery-sync-exporter/internal/stats"
	"github.com/validaoxyz/ephemery-sync-exporter/internal/telemetry"
)

const ErrorLabel = "Error"

// StaleResponseError is returned for a backfill older than the last applied update.
type StaleResponseError struct {
	Seq         uint64
	LastApplied uint64
}

func (e *StaleResponseError) Error() string {
	return fmt.Sprintf("stale backfill: seq %d older than last applied %d", e.Seq, e.LastApplied)
}

// Publisher receives every recomputed view. Publish runs on the acquisition goroutine
// and must not block.
type Publisher interface {
	Publish(View)
}

type Counters struct {
	LiveSamples     uint64 `json:"live_samples"`
	Backfills       uint64 `json:"backfills"`
	StaleBackfills  uint64 `json:"stale_backfills"`
	ParseErrors     uint64 `json:"parse_errors"`
	TransportErrors uint64 `json:"transport_errors"`
	Events          uint64 `json:"events"`
}

// View is the plain-data bundle for the rendering layer.
type View struct {
	GeneratedAt       time.Time                 `json:"generated_at"`
	Connection        telemetry.ConnectionState `json:"connection"`
	ReconnectAttempts int                       `json:"reconnect_attempts"`
	Latest            *telemetry.Sample         `json:"latest,omitempty"`
	Samples           []telemetry.Sample        `json:"samples"`
	Consensus         stats.LayerStats          `json:"consensus_stats"`
	Execution         stats.LayerStats          `json:"execution_stats"`
	Events            []telemetry.TimelineEvent `json:"events"`
	ErrorLabel        string                    `json:"error,omitempty"`
	LastError         string                    `json:"last_error,omitempty"`
	Counters          Counters                  `json:"counters"`

	// events first seen by this recompute
	NewEvents []telemetry.TimelineEvent `json:"-"`
}

type Options struct {
	MaxPoints      int
	Rules          events.Rules
	EventCacheSize int
}

type Aggregator struct {
	mu          sync.RWMutex
	buffer      *series.Buffer
	rules       events.Rules
	now         func() time.Time
	lastApplied uint64
	state       telemetry.ConnectionState
	attempts    int
	errorLabel  string
	lastError   string
	counters    Counters
	view        View
	publishers  []Publisher

	// announced pair events keyed by content hash; boundary events are tracked by title
	seen         *cache.LRU[uint64, time.Time]
	started      bool
	lastTerminal string
}

func New(opts Options, publishers ...Publisher) *Aggregator {
	if opts.EventCacheSize <= 0 {
		opts.EventCacheSize = 1024
	}
	a := &Aggregator{
		buffer:     series.NewBuffer(opts.MaxPoints),
		rules:      opts.Rules,
		now:        time.Now,
		publishers: publishers,
		seen:       cache.NewLRU[uint64, time.Time](opts.EventCacheSize, 0),
	}
	a.view = a.buildLocked(nil, nil)
	return a
}

// SetClock overrides the time source, for tests.
func (a *Aggregator) SetClock(now func() time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.now = now
}

func (a *Aggregator) ApplyLive(seq uint64, sample telemetry.Sample) error {
	a.mu.Lock()
	a.buffer.Append(sample)
	if seq > a.lastApplied {
		a.lastApplied = seq
	}
	a.counters.LiveSamples++
	a.errorLabel = ""
	v := a.recomputeLocked()
	a.mu.Unlock()

	a.publish(v)
	return nil
}

// ApplyHistory replaces the series with samples unless a newer update was applied since
// the backfill was requested.
func (a *Aggregator) ApplyHistory(seq uint64, samples []telemetry.Sample) error {
	a.mu.Lock()
	if seq < a.lastApplied {
		a.counters.StaleBackfills++
		err := &StaleResponseError{Seq: seq, LastApplied: a.lastApplied}
		a.mu.Unlock()
		return err
	}
	a.buffer.ReplaceAll(samples)
	a.lastApplied = seq
	a.counters.Backfills++
	v := a.recomputeLocked()
	a.mu.Unlock()

	a.publish(v)
	return nil
}

func (a *Aggregator) SetConnection(state telemetry.ConnectionState, attempts int) {
	a.mu.Lock()
	a.state, a.attempts = state, attempts
	a.view.Connection, a.view.ReconnectAttempts = state, attempts
	v := a.view
	v.NewEvents = nil
	a.mu.Unlock()

	a.publish(v)
}

// ReportError records a pipeline failure. Parse errors only count; anything else marks
// the view with the error label until the next live sample.
func (a *Aggregator) ReportError(err error) {
	if err == nil {
		return
	}
	a.mu.Lock()
	var perr *telemetry.ParseError
	if errors.As(err, &perr) {
		a.counters.ParseErrors++
		a.view.Counters = a.counters
		a.mu.Unlock()
		return
	}
	a.counters.TransportErrors++
	a.errorLabel = ErrorLabel
	a.lastError = err.Error()
	a.view.Counters = a.counters
	a.view.ErrorLabel, a.view.LastError = a.errorLabel, a.lastError
	v := a.view
	v.NewEvents = nil
	a.mu.Unlock()

	a.publish(v)
}

// View returns the latest view.
func (a *Aggregator) View() View {
	a.mu.RLock()
	defer a.mu.RUnlock()
	v := a.view
	v.NewEvents = nil
	return v
}

func (a *Aggregator) publish(v View) {
	for _, p := range a.publishers {
		p.Publish(v)
	}
}

func (a *Aggregator) recomputeLocked() View {
	samples := a.buffer.Snapshot()
	detected := events.Detect(samples, a.rules)
	fresh := a.newEventsLocked(detected)
	a.counters.Events += uint64(len(fresh))
	a.view = a.buildLocked(samples, detected)
	a.view.NewEvents = fresh
	return a.view
}

func (a *Aggregator) buildLocked(samples []telemetry.Sample, detected []telemetry.TimelineEvent) View {
	if samples == nil {
		samples = []telemetry.Sample{}
	}
	now := a.now()
	v := View{
		GeneratedAt:       now,
		Connection:        a.state,
		ReconnectAttempts: a.attempts,
		Samples:           samples,
		Consensus:         stats.Compute(samples, telemetry.LayerConsensus, now),
		Execution:         stats.Compute(samples, telemetry.LayerExecution, now),
		Events:            detected,
		ErrorLabel:        a.errorLabel,
		LastError:         a.lastError,
		Counters:          a.counters,
	}
	if len(samples) > 0 {
		latest := samples[len(samples)-1]
		v.Latest = &latest
	}
	if v.Events == nil {
		v.Events = []telemetry.TimelineEvent{}
	}
	return v
}

// newEventsLocked filters detected down to events not announced before. Detection reruns
// over a sliding window, so the start event moves with the window and the terminal event
// moves with the newest sample; those are announced on change only.
func (a *Aggregator) newEventsLocked(detected []telemetry.TimelineEvent) []telemetry.TimelineEvent {
	var fresh []telemetry.TimelineEvent
	terminal := ""
	for _, ev := range detected {
		switch ev.Title {
		case events.TitleSyncStarted:
			if !a.started {
				a.started = true
				fresh = append(fresh, ev)
			}
		case events.TitleSyncComplete, events.TitleNearComplete:
			terminal = ev.Title
			if terminal != a.lastTerminal {
				fresh = append(fresh, ev)
			}
		default:
			if a.seen.Add(eventKey(ev), ev.Timestamp) {
				fresh = append(fresh, ev)
			}
		}
	}
	a.lastTerminal = terminal
	return fresh
}

func eventKey(ev telemetry.TimelineEvent) uint64 {
	buf := make([]byte, 8, 8+len(ev.Title)+len(ev.Description)+1)
	binary.LittleEndian.PutUint64(buf, uint64(ev.Timestamp.UnixNano()))
	buf = append(buf, ev.Title...)
	buf = append(buf, 0)
	buf = append(buf, ev.Description...)
	return xxh3.Hash(buf)
}
