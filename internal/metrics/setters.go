package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	api "go.opentelemetry.io/otel/metric"

	"github.com/validaoxyz/ephemery-sync-exporter/internal/stats"
	"github.com/validaoxyz/ephemery-sync-exporter/internal/telemetry"
)

var connectionStates = []telemetry.ConnectionState{
	telemetry.Disconnected,
	telemetry.Connecting,
	telemetry.Connected,
	telemetry.FallbackPolling,
}

// setInt records v, or drops the series when v is Unknown. caller holds metricsMutex.
func setInt(instrument api.Observable, v telemetry.Int) {
	if !v.Known {
		delete(currentValues, instrument)
		return
	}
	currentValues[instrument] = v.Value
}

func setLabeled(instrument api.Observable, key string, value float64, labels ...attribute.KeyValue) {
	if _, exists := labeledValues[instrument]; !exists {
		labeledValues[instrument] = make(map[string]labeledValue)
	}
	labeledValues[instrument][key] = labeledValue{value: value, labels: labels}
}

func deleteLabeled(instrument api.Observable, key string) {
	if values, exists := labeledValues[instrument]; exists {
		delete(values, key)
	}
}

func setSyncing(layer telemetry.Layer, kind telemetry.StatusKind) {
	key := layer.String()
	switch kind {
	case telemetry.StatusSyncing:
		setLabeled(SyncLayerSyncingGauge, key, 1, attribute.String("layer", key))
	case telemetry.StatusSynced:
		setLabeled(SyncLayerSyncingGauge, key, 0, attribute.String("layer", key))
	default:
		deleteLabeled(SyncLayerSyncingGauge, key)
	}
}

func SetConsensusStatus(c telemetry.ConsensusStatus) {
	metricsMutex.Lock()
	defer metricsMutex.Unlock()
	setInt(SyncConsensusHeadSlotGauge, c.HeadSlot)
	if c.Kind == telemetry.StatusUnknown {
		setInt(SyncConsensusDistanceGauge, telemetry.UnknownInt)
	} else {
		setInt(SyncConsensusDistanceGauge, c.SyncDistance)
	}
	setSyncing(telemetry.LayerConsensus, c.Kind)
}

func SetExecutionStatus(e telemetry.ExecutionStatus) {
	metricsMutex.Lock()
	defer metricsMutex.Unlock()
	setInt(SyncExecutionCurrentBlockGauge, e.CurrentBlock)
	setInt(SyncExecutionHighestBlockGauge, e.HighestBlock)
	setInt(SyncExecutionDistanceGauge, e.SyncDistance())
	setSyncing(telemetry.LayerExecution, e.Kind)
}

// SetLayerStats publishes rates, ETA and 24h gain. Insufficient stats remove the series
// rather than reporting zeros.
func SetLayerStats(s stats.LayerStats) {
	metricsMutex.Lock()
	defer metricsMutex.Unlock()

	layer := s.Layer.String()
	avgKey, maxKey := layer+"/avg", layer+"/max"
	if !s.Sufficient {
		deleteLabeled(SyncRateGauge, avgKey)
		deleteLabeled(SyncRateGauge, maxKey)
		deleteLabeled(SyncETAHoursGauge, layer)
		deleteLabeled(SyncGain24hGauge, layer)
		return
	}

	layerLabel := attribute.String("layer", layer)
	setLabeled(SyncRateGauge, avgKey, s.AvgRatePerHour, layerLabel, attribute.String("kind", "avg"))
	setLabeled(SyncRateGauge, maxKey, s.MaxRatePerHour, layerLabel, attribute.String("kind", "max"))

	eta := s.ETA.Hours
	if s.ETA.Complete {
		eta = 0
	}
	setLabeled(SyncETAHoursGauge, layer, eta, layerLabel)
	setLabeled(SyncGain24hGauge, layer, float64(s.GainLast24h), layerLabel)
}

// SetConnection marks the current state with 1 and every other state with 0.
func SetConnection(state telemetry.ConnectionState, attempts int) {
	metricsMutex.Lock()
	defer metricsMutex.Unlock()
	for _, st := range connectionStates {
		v := 0.0
		if st == state {
			v = 1
		}
		setLabeled(SyncConnectionStateGauge, st.String(), v, attribute.String("state", st.String()))
	}
	currentValues[SyncReconnectAttemptsGauge] = int64(attempts)
}

func SetBufferSamples(n int) {
	metricsMutex.Lock()
	defer metricsMutex.Unlock()
	currentValues[SyncBufferSamplesGauge] = int64(n)
}

func SetLastSampleTime(t time.Time) {
	metricsMutex.Lock()
	defer metricsMutex.Unlock()
	if t.IsZero() {
		delete(currentValues, SyncLastSampleTimeGauge)
		return
	}
	currentValues[SyncLastSampleTimeGauge] = t.Unix()
}

func SetSourceError(failing bool) {
	metricsMutex.Lock()
	defer metricsMutex.Unlock()
	var v int64
	if failing {
		v = 1
	}
	currentValues[SyncSourceErrorGauge] = v
}

// SetPipelineTotals mirrors the aggregator's cumulative counters.
func SetPipelineTotals(live, backfills, stale, parseErrors, transportErrors uint64) {
	metricsMutex.Lock()
	defer metricsMutex.Unlock()
	currentValues[SyncSamplesCounter] = int64(live)
	currentValues[SyncParseErrorsCounter] = int64(parseErrors)
	currentValues[SyncTransportErrorsCounter] = int64(transportErrors)
	setLabeled(SyncBackfillsCounter, "applied", float64(backfills), attribute.String("result", "applied"))
	setLabeled(SyncBackfillsCounter, "stale", float64(stale), attribute.String("result", "stale"))
}

func RecordEvent(ev telemetry.TimelineEvent) {
	if SyncEventsCounter == nil {
		return
	}
	labels := append([]attribute.KeyValue{
		attribute.String("severity", string(ev.Severity)),
		attribute.String("title", ev.Title),
	}, commonLabelsSnapshot()...)
	SyncEventsCounter.Add(context.Background(), 1, api.WithAttributes(labels...))
}

func RecordSampleInterval(d time.Duration) {
	if SyncSampleIntervalHistogram == nil || d <= 0 {
		return
	}
	SyncSampleIntervalHistogram.Record(context.Background(), d.Seconds(), api.WithAttributes(commonLabelsSnapshot()...))
}

func commonLabelsSnapshot() []attribute.KeyValue {
	metricsMutex.RLock()
	defer metricsMutex.RUnlock()
	return getCommonLabels()
}
