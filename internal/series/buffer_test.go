package series

import (
	"testing"
	"time"

	"github.com/validaoxyz/ephemery-sync-exporter/internal/telemetry"
)

var t0 = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

func sampleAt(minute int, slot int64) telemetry.Sample {
	return telemetry.Sample{
		Timestamp: t0.Add(time.Duration(minute) * time.Minute),
		Consensus: telemetry.ConsensusStatus{Kind: telemetry.StatusSyncing, HeadSlot: telemetry.KnownInt(slot)},
	}
}

func TestAppendEvictsOldestFirst(t *testing.T) {
	const maxPoints, extra = 5, 3
	b := NewBuffer(maxPoints)
	for i := 0; i < maxPoints+extra; i++ {
		b.Append(sampleAt(i, int64(i)))
	}

	got := b.Snapshot()
	if len(got) != maxPoints {
		t.Fatalf("expected %d samples, got %d", maxPoints, len(got))
	}
	for i, s := range got {
		want := int64(i + extra)
		if s.Consensus.HeadSlot.Value != want {
			t.Fatalf("position %d: expected slot %d, got %d", i, want, s.Consensus.HeadSlot.Value)
		}
	}
}

func TestAppendBelowCapacity(t *testing.T) {
	b := NewBuffer(0)
	if got := b.Snapshot(); len(got) != 0 {
		t.Fatalf("expected empty snapshot, got %d samples", len(got))
	}
	for i := 0; i < DefaultMaxPoints+1; i++ {
		b.Append(sampleAt(i, int64(i)))
	}
	if got := b.Snapshot(); len(got) != DefaultMaxPoints || got[0].Consensus.HeadSlot.Value != 1 {
		t.Fatalf("expected default capacity %d, got %d samples", DefaultMaxPoints, len(got))
	}

	b = NewBuffer(5)
	b.Append(sampleAt(0, 1))
	b.Append(sampleAt(1, 2))
	if got := b.Snapshot(); len(got) != 2 || got[0].Consensus.HeadSlot.Value != 1 {
		t.Fatalf("unexpected snapshot %+v", got)
	}
}

func TestReplaceAllSortsAscending(t *testing.T) {
	b := NewBuffer(10)
	b.Append(sampleAt(100, 999))

	b.ReplaceAll([]telemetry.Sample{sampleAt(3, 3), sampleAt(1, 1), sampleAt(2, 2), sampleAt(0, 0)})

	got := b.Snapshot()
	if len(got) != 4 {
		t.Fatalf("expected replace to drop prior contents, got %d samples", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].Timestamp.Before(got[i-1].Timestamp) {
			t.Fatalf("snapshot not ascending at %d: %v before %v", i, got[i].Timestamp, got[i-1].Timestamp)
		}
	}
}

func TestReplaceAllKeepsNewest(t *testing.T) {
	b := NewBuffer(3)
	b.ReplaceAll([]telemetry.Sample{sampleAt(5, 5), sampleAt(1, 1), sampleAt(4, 4), sampleAt(2, 2), sampleAt(3, 3)})

	got := b.Snapshot()
	if len(got) != 3 || got[0].Consensus.HeadSlot.Value != 3 || got[2].Consensus.HeadSlot.Value != 5 {
		t.Fatalf("expected newest three samples, got %+v", got)
	}

	// appends after a replace continue the ring from the replaced contents
	b.Append(sampleAt(6, 6))
	got = b.Snapshot()
	if got[0].Consensus.HeadSlot.Value != 4 || got[2].Consensus.HeadSlot.Value != 6 {
		t.Fatalf("unexpected snapshot after append %+v", got)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	b := NewBuffer(2)
	b.Append(sampleAt(0, 1))
	snap := b.Snapshot()
	snap[0].Consensus.HeadSlot = telemetry.KnownInt(42)
	if got := b.Snapshot()[0].Consensus.HeadSlot.Value; got != 1 {
		t.Fatalf("snapshot mutation leaked into buffer: %d", got)
	}
}

func TestSortedLeavesInputAlone(t *testing.T) {
	in := []telemetry.Sample{sampleAt(2, 2), sampleAt(0, 0), sampleAt(1, 1)}
	out := Sorted(in)
	for i, s := range out {
		if s.Consensus.HeadSlot.Value != int64(i) {
			t.Fatalf("position %d: expected slot %d, got %d", i, i, s.Consensus.HeadSlot.Value)
		}
	}
	if in[0].Consensus.HeadSlot.Value != 2 {
		t.Fatal("Sorted reordered its input")
	}
}
