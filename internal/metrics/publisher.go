package metrics

import (
	"sync"
	"time"

	"github.com/validaoxyz/ephemery-sync-exporter/internal/aggregator"
)

// Publisher mirrors aggregator views into the observable instruments.
type Publisher struct {
	mu         sync.Mutex
	lastLive   uint64
	lastSample time.Time
}

func NewPublisher() *Publisher {
	return &Publisher{}
}

func (p *Publisher) Publish(v aggregator.View) {
	if v.Latest != nil {
		SetConsensusStatus(v.Latest.Consensus)
		SetExecutionStatus(v.Latest.Execution)
		SetLastSampleTime(v.Latest.Timestamp)
	}
	SetLayerStats(v.Consensus)
	SetLayerStats(v.Execution)
	SetConnection(v.Connection, v.ReconnectAttempts)
	SetBufferSamples(len(v.Samples))
	SetSourceError(v.ErrorLabel != "")
	c := v.Counters
	SetPipelineTotals(c.LiveSamples, c.Backfills, c.StaleBackfills, c.ParseErrors, c.TransportErrors)

	for _, ev := range v.NewEvents {
		RecordEvent(ev)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	// one live sample since the last view: time the gap
	if v.Latest != nil && c.LiveSamples == p.lastLive+1 && !p.lastSample.IsZero() {
		RecordSampleInterval(v.Latest.Timestamp.Sub(p.lastSample))
	}
	p.lastLive = c.LiveSamples
	if v.Latest != nil {
		p.lastSample = v.Latest.Timestamp
	}
}
