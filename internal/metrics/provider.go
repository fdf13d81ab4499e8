package metrics

import (
	api "go.opentelemetry.io/otel/metric"
)

var (
	meter api.Meter
)

func getAllObservables() []api.Observable {
	return []api.Observable{
		// consensus layer
		SyncConsensusHeadSlotGauge,
		SyncConsensusDistanceGauge,

		// execution layer
		SyncExecutionCurrentBlockGauge,
		SyncExecutionHighestBlockGauge,
		SyncExecutionDistanceGauge,

		// per layer
		SyncLayerSyncingGauge,
		SyncRateGauge,
		SyncETAHoursGauge,
		SyncGain24hGauge,

		// acquisition
		SyncConnectionStateGauge,
		SyncReconnectAttemptsGauge,
		SyncBufferSamplesGauge,
		SyncLastSampleTimeGauge,
		SyncSourceErrorGauge,

		// pipeline counters
		SyncSamplesCounter,
		SyncBackfillsCounter,
		SyncParseErrorsCounter,
		SyncTransportErrorsCounter,

		// memory metrics
		SyncGoHeapObjects,
		SyncGoHeapInuseMB,
		SyncGoHeapIdleMB,
		SyncGoSysMB,
		SyncGoNumGoroutines,
	}
}
