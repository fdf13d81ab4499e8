package metrics

import (
	"fmt"

	api "go.opentelemetry.io/otel/metric"
)

// metric instruments for sync-exporter
var (
	// synchronous
	SyncEventsCounter           api.Int64Counter
	SyncSampleIntervalHistogram api.Float64Histogram

	// observable gauges, consensus layer
	SyncConsensusHeadSlotGauge api.Int64ObservableGauge
	SyncConsensusDistanceGauge api.Int64ObservableGauge

	// observable gauges, execution layer
	SyncExecutionCurrentBlockGauge api.Int64ObservableGauge
	SyncExecutionHighestBlockGauge api.Int64ObservableGauge
	SyncExecutionDistanceGauge     api.Int64ObservableGauge

	// observable gauges, labeled by layer
	SyncLayerSyncingGauge api.Int64ObservableGauge
	SyncRateGauge         api.Float64ObservableGauge
	SyncETAHoursGauge     api.Float64ObservableGauge
	SyncGain24hGauge      api.Int64ObservableGauge

	// observable gauges, acquisition
	SyncConnectionStateGauge   api.Int64ObservableGauge
	SyncReconnectAttemptsGauge api.Int64ObservableGauge
	SyncBufferSamplesGauge     api.Int64ObservableGauge
	SyncLastSampleTimeGauge    api.Int64ObservableGauge
	SyncSourceErrorGauge       api.Int64ObservableGauge

	// observable counters, cumulative pipeline totals
	SyncSamplesCounter         api.Int64ObservableCounter
	SyncBackfillsCounter       api.Int64ObservableCounter
	SyncParseErrorsCounter     api.Int64ObservableCounter
	SyncTransportErrorsCounter api.Int64ObservableCounter
)

func createInstruments() error {
	var err error

	SyncEventsCounter, err = meter.Int64Counter(
		"sync_timeline_events_total",
		api.WithDescription("Timeline events detected, by severity and title"),
	)
	if err != nil {
		return fmt.Errorf("failed to create timeline events counter: %w", err)
	}

	intervalBuckets := []float64{
		1, 2, 3, 5, 7, 10, 15, 20, 30, 45, 60,
		120, 300, 600, 900, 1800, 3600,
	}

	SyncSampleIntervalHistogram, err = meter.Float64Histogram(
		"sync_sample_interval_seconds",
		api.WithDescription("Time between consecutive live samples"),
		api.WithUnit("s"),
		api.WithExplicitBucketBoundaries(intervalBuckets...),
	)
	if err != nil {
		return fmt.Errorf("failed to create sample interval histogram: %w", err)
	}

	SyncConsensusHeadSlotGauge, err = meter.Int64ObservableGauge(
		"sync_consensus_head_slot",
		api.WithDescription("Head slot reported by the consensus client"),
	)
	if err != nil {
		return fmt.Errorf("failed to create consensus head slot gauge: %w", err)
	}

	SyncConsensusDistanceGauge, err = meter.Int64ObservableGauge(
		"sync_consensus_sync_distance",
		api.WithDescription("Slots the consensus client is behind the network head"),
	)
	if err != nil {
		return fmt.Errorf("failed to create consensus distance gauge: %w", err)
	}

	SyncExecutionCurrentBlockGauge, err = meter.Int64ObservableGauge(
		"sync_execution_current_block",
		api.WithDescription("Current block of the execution client"),
	)
	if err != nil {
		return fmt.Errorf("failed to create execution current block gauge: %w", err)
	}

	SyncExecutionHighestBlockGauge, err = meter.Int64ObservableGauge(
		"sync_execution_highest_block",
		api.WithDescription("Highest block known to the execution client"),
	)
	if err != nil {
		return fmt.Errorf("failed to create execution highest block gauge: %w", err)
	}

	SyncExecutionDistanceGauge, err = meter.Int64ObservableGauge(
		"sync_execution_sync_distance",
		api.WithDescription("Highest minus current block; negative when the client reports current above highest"),
	)
	if err != nil {
		return fmt.Errorf("failed to create execution distance gauge: %w", err)
	}

	SyncLayerSyncingGauge, err = meter.Int64ObservableGauge(
		"sync_layer_syncing",
		api.WithDescription("1 while the layer is syncing, 0 once synced; absent when unknown"),
	)
	if err != nil {
		return fmt.Errorf("failed to create layer syncing gauge: %w", err)
	}

	SyncRateGauge, err = meter.Float64ObservableGauge(
		"sync_rate_per_hour",
		api.WithDescription("Sync progress rate per hour over the live window (kind=avg|max)"),
	)
	if err != nil {
		return fmt.Errorf("failed to create rate gauge: %w", err)
	}

	SyncETAHoursGauge, err = meter.Float64ObservableGauge(
		"sync_eta_hours",
		api.WithDescription("Estimated hours until synced; 0 when complete"),
		api.WithUnit("h"),
	)
	if err != nil {
		return fmt.Errorf("failed to create eta gauge: %w", err)
	}

	SyncGain24hGauge, err = meter.Int64ObservableGauge(
		"sync_gain_24h",
		api.WithDescription("Progress over the last 24 hours"),
	)
	if err != nil {
		return fmt.Errorf("failed to create 24h gain gauge: %w", err)
	}

	SyncConnectionStateGauge, err = meter.Int64ObservableGauge(
		"sync_connection_state",
		api.WithDescription("1 for the current connection state of the push stream"),
	)
	if err != nil {
		return fmt.Errorf("failed to create connection state gauge: %w", err)
	}

	SyncReconnectAttemptsGauge, err = meter.Int64ObservableGauge(
		"sync_reconnect_attempts",
		api.WithDescription("Consecutive failed reconnect attempts"),
	)
	if err != nil {
		return fmt.Errorf("failed to create reconnect attempts gauge: %w", err)
	}

	SyncBufferSamplesGauge, err = meter.Int64ObservableGauge(
		"sync_buffer_samples",
		api.WithDescription("Samples in the live window"),
	)
	if err != nil {
		return fmt.Errorf("failed to create buffer samples gauge: %w", err)
	}

	SyncLastSampleTimeGauge, err = meter.Int64ObservableGauge(
		"sync_last_sample_timestamp",
		api.WithDescription("Unix time of the newest sample"),
		api.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("failed to create last sample time gauge: %w", err)
	}

	SyncSourceErrorGauge, err = meter.Int64ObservableGauge(
		"sync_source_error",
		api.WithDescription("1 while the last pull or transport operation failed"),
	)
	if err != nil {
		return fmt.Errorf("failed to create source error gauge: %w", err)
	}

	SyncSamplesCounter, err = meter.Int64ObservableCounter(
		"sync_live_samples_total",
		api.WithDescription("Live samples applied to the window"),
	)
	if err != nil {
		return fmt.Errorf("failed to create samples counter: %w", err)
	}

	SyncBackfillsCounter, err = meter.Int64ObservableCounter(
		"sync_backfills_total",
		api.WithDescription("Historical backfills, by result (applied|stale)"),
	)
	if err != nil {
		return fmt.Errorf("failed to create backfills counter: %w", err)
	}

	SyncParseErrorsCounter, err = meter.Int64ObservableCounter(
		"sync_parse_errors_total",
		api.WithDescription("Malformed snapshot fields replaced with Unknown"),
	)
	if err != nil {
		return fmt.Errorf("failed to create parse errors counter: %w", err)
	}

	SyncTransportErrorsCounter, err = meter.Int64ObservableCounter(
		"sync_transport_errors_total",
		api.WithDescription("Failed dials, reads and pulls against the status source"),
	)
	if err != nil {
		return fmt.Errorf("failed to create transport errors counter: %w", err)
	}

	if err := InitMemoryMetrics(meter); err != nil {
		return fmt.Errorf("failed to create memory metrics: %w", err)
	}

	return nil
}
