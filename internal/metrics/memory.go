package metrics

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/dustin/go-humanize"
	"go.opentelemetry.io/otel/metric"

	"github.com/validaoxyz/ephemery-sync-exporter/internal/logger"
)

var (
	// process memory
	SyncGoHeapObjects   metric.Int64ObservableGauge
	SyncGoHeapInuseMB   metric.Float64ObservableGauge
	SyncGoHeapIdleMB    metric.Float64ObservableGauge
	SyncGoSysMB         metric.Float64ObservableGauge
	SyncGoNumGoroutines metric.Int64ObservableGauge
)

const (
	mb = 1024 * 1024

	heapWarnBytes       = 512 * mb
	goroutineGrowthStep = 10
	goroutineLeakStrike = 10
)

func InitMemoryMetrics(meter metric.Meter) error {
	var err error

	if SyncGoHeapObjects, err = meter.Int64ObservableGauge(
		"sync_go_heap_objects",
		metric.WithDescription("Number of allocated heap objects"),
	); err != nil {
		return fmt.Errorf("heap objects: %w", err)
	}

	if SyncGoHeapInuseMB, err = meter.Float64ObservableGauge(
		"sync_go_heap_inuse_mb",
		metric.WithDescription("Heap memory in use in MB"),
	); err != nil {
		return fmt.Errorf("heap inuse: %w", err)
	}

	if SyncGoHeapIdleMB, err = meter.Float64ObservableGauge(
		"sync_go_heap_idle_mb",
		metric.WithDescription("Heap memory idle in MB"),
	); err != nil {
		return fmt.Errorf("heap idle: %w", err)
	}

	if SyncGoSysMB, err = meter.Float64ObservableGauge(
		"sync_go_sys_mb",
		metric.WithDescription("Total memory obtained from the OS in MB"),
	); err != nil {
		return fmt.Errorf("sys: %w", err)
	}

	if SyncGoNumGoroutines, err = meter.Int64ObservableGauge(
		"sync_go_num_goroutines",
		metric.WithDescription("Number of goroutines"),
	); err != nil {
		return fmt.Errorf("goroutines: %w", err)
	}

	return nil
}

func collectMemoryStats(_ context.Context, observer metric.Observer) error {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	observer.ObserveInt64(SyncGoHeapObjects, int64(m.HeapObjects))
	observer.ObserveFloat64(SyncGoHeapInuseMB, float64(m.HeapInuse)/mb)
	observer.ObserveFloat64(SyncGoHeapIdleMB, float64(m.HeapIdle)/mb)
	observer.ObserveFloat64(SyncGoSysMB, float64(m.Sys)/mb)
	observer.ObserveInt64(SyncGoNumGoroutines, int64(runtime.NumGoroutine()))

	return nil
}

// StartMemoryMonitoring logs heap pressure and steady goroutine growth every interval.
func StartMemoryMonitoring(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := runtime.NumGoroutine()
	strikes := 0

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var m runtime.MemStats
			runtime.ReadMemStats(&m)
			current := runtime.NumGoroutine()

			if m.HeapInuse > heapWarnBytes {
				logger.WarningComponent("memory", "High memory usage: heap in use %s, %s objects, %d goroutines",
					humanize.IBytes(m.HeapInuse), humanize.Comma(int64(m.HeapObjects)), current)
			}

			switch {
			case current > last+goroutineGrowthStep:
				strikes++
				logger.DebugComponent("memory", "Goroutine count growing: %d -> %d (%d strikes)", last, current, strikes)
				if strikes >= goroutineLeakStrike {
					logger.ErrorComponent("memory", "Potential goroutine leak: %d goroutines", current)
				}
			case current < last:
				strikes = 0
			}
			last = current
		}
	}
}
