package stats

import (
	"math"
	"testing"
	"time"

	"github.com/validaoxyz/ephemery-sync-exporter/internal/telemetry"
)

var t0 = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

func consensus(at time.Duration, slot, distance int64) telemetry.Sample {
	return telemetry.Sample{
		Timestamp: t0.Add(at),
		Consensus: telemetry.ConsensusStatus{
			Kind:         telemetry.StatusSyncing,
			HeadSlot:     telemetry.KnownInt(slot),
			SyncDistance: telemetry.KnownInt(distance),
		},
	}
}

func execution(at time.Duration, current, highest int64) telemetry.Sample {
	return telemetry.Sample{
		Timestamp: t0.Add(at),
		Execution: telemetry.ExecutionStatus{
			Kind:         telemetry.StatusSyncing,
			CurrentBlock: telemetry.KnownInt(current),
			HighestBlock: telemetry.KnownInt(highest),
		},
	}
}

func TestComputeAverageRate(t *testing.T) {
	samples := []telemetry.Sample{consensus(0, 1000, 2000), consensus(time.Hour, 1500, 1000)}
	got := Compute(samples, telemetry.LayerConsensus, t0.Add(time.Hour))

	if !got.Sufficient || got.SampleCount != 2 {
		t.Fatalf("expected sufficient data, got %+v", got)
	}
	if got.AvgRatePerHour != 500 {
		t.Fatalf("expected 500 slots/hour, got %v", got.AvgRatePerHour)
	}
	if got.MaxRatePerHour != 500 {
		t.Fatalf("expected max 500 slots/hour, got %v", got.MaxRatePerHour)
	}
	if got.ETA.Complete || got.ETA.Hours != 2 {
		t.Fatalf("expected 2h eta, got %+v", got.ETA)
	}
	if got.GainLast24h != 500 {
		t.Fatalf("expected 24h gain 500, got %d", got.GainLast24h)
	}
}

func TestComputeIdenticalTimestamps(t *testing.T) {
	samples := []telemetry.Sample{consensus(0, 1000, 50), consensus(0, 1200, 50)}
	got := Compute(samples, telemetry.LayerConsensus, t0)

	if got.AvgRatePerHour != 0 || got.MaxRatePerHour != 0 {
		t.Fatalf("expected zero rates, got avg=%v max=%v", got.AvgRatePerHour, got.MaxRatePerHour)
	}
	if math.IsNaN(got.AvgRatePerHour) || math.IsInf(got.AvgRatePerHour, 0) {
		t.Fatalf("rate must be finite, got %v", got.AvgRatePerHour)
	}
	if !got.ETA.Complete {
		t.Fatalf("zero rate should report complete, got %+v", got.ETA)
	}
}

func TestComputeInsufficientData(t *testing.T) {
	tests := []struct {
		name    string
		samples []telemetry.Sample
	}{
		{name: "empty"},
		{name: "single", samples: []telemetry.Sample{consensus(0, 1, 1)}},
		{name: "unknown layer", samples: []telemetry.Sample{{Timestamp: t0}, {Timestamp: t0.Add(time.Hour)}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Compute(tc.samples, telemetry.LayerConsensus, t0)
			if got.Sufficient || got.AvgRatePerHour != 0 {
				t.Fatalf("expected insufficient data, got %+v", got)
			}
		})
	}
}

func TestComputeMaxRateSkipsZeroIntervals(t *testing.T) {
	samples := []telemetry.Sample{
		consensus(0, 0, 10),
		consensus(30*time.Minute, 100, 10), // 200/h
		consensus(30*time.Minute, 900, 10), // zero interval, skipped
		consensus(90*time.Minute, 1000, 10), // 100/h
	}
	got := Compute(samples, telemetry.LayerConsensus, t0)
	if got.MaxRatePerHour != 200 {
		t.Fatalf("expected max 200/h, got %v", got.MaxRatePerHour)
	}
}

func TestComputeExecutionETA(t *testing.T) {
	samples := []telemetry.Sample{
		execution(0, 100, 1100),
		execution(2*time.Hour, 300, 1300),
	}
	got := Compute(samples, telemetry.LayerExecution, t0.Add(2*time.Hour))
	if got.AvgRatePerHour != 100 {
		t.Fatalf("expected 100 blocks/hour, got %v", got.AvgRatePerHour)
	}
	if got.ETA.Complete || got.ETA.Hours != 10 {
		t.Fatalf("expected 10h eta, got %+v", got.ETA)
	}

	// current above highest gives a negative distance, which reads as complete
	samples[1] = execution(2*time.Hour, 300, 250)
	if got := Compute(samples, telemetry.LayerExecution, t0); !got.ETA.Complete {
		t.Fatalf("negative distance should report complete, got %+v", got.ETA)
	}
}

func TestComputeGainLast24h(t *testing.T) {
	samples := []telemetry.Sample{
		consensus(0, 100, 0),
		consensus(20*time.Hour, 600, 0),
		consensus(30*time.Hour, 1000, 0),
		consensus(40*time.Hour, 1600, 0),
	}
	now := t0.Add(44 * time.Hour) // cutoff at 20h

	got := Compute(samples, telemetry.LayerConsensus, now)
	if got.GainLast24h != 1000 {
		t.Fatalf("expected gain 1000 from the 20h sample, got %d", got.GainLast24h)
	}

	// nothing inside the window: fall back to the total gain
	got = Compute(samples, telemetry.LayerConsensus, t0.Add(100*time.Hour))
	if got.GainLast24h != 1500 {
		t.Fatalf("expected total gain 1500, got %d", got.GainLast24h)
	}
}

func TestFormatEstimate(t *testing.T) {
	tests := []struct {
		hours float64
		want  string
	}{
		{0.25, "15 minutes"},
		{0.501, "31 minutes"},
		{1, "1 hours"},
		{5.2, "6 hours"},
		{24, "1 days, 0 hours"},
		{50.5, "2 days, 3 hours"},
	}
	for _, tc := range tests {
		if got := FormatEstimate(tc.hours); got != tc.want {
			t.Fatalf("FormatEstimate(%v) = %q, want %q", tc.hours, got, tc.want)
		}
	}
	if got := (Estimate{Complete: true}).String(); got != "Sync complete" {
		t.Fatalf("unexpected complete string %q", got)
	}
}

func TestSummary(t *testing.T) {
	s := LayerStats{Layer: telemetry.LayerConsensus, Sufficient: true, AvgRatePerHour: 1234.5, MaxRatePerHour: 2000,
		ETA: Estimate{Hours: 2}, GainLast24h: 12345}
	want := "consensus: avg 1,234.5 slots/hour, max 2,000 slots/hour, eta 2 hours, 24h gain +12,345 slots"
	if got := s.Summary(); got != want {
		t.Fatalf("unexpected summary\n got %q\nwant %q", got, want)
	}
}
