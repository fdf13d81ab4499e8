// Package series holds the bounded live time series of sync samples.
package series

import (
	"sort"
	"sync"

	"github.com/validaoxyz/ephemery-sync-exporter/internal/telemetry"
)

const DefaultMaxPoints = 50

// Buffer is a fixed-capacity ring of samples in application order. Once full, each
// Append evicts the oldest sample. Safe for concurrent use; callers are still expected
// to serialize mutations in the order they want them applied.
type Buffer struct {
	mu    sync.RWMutex
	slots []telemetry.Sample
	head  int // index of the oldest sample
	size  int
}

// NewBuffer creates a buffer holding at most maxPoints samples. maxPoints <= 0 selects
// DefaultMaxPoints.
func NewBuffer(maxPoints int) *Buffer {
	if maxPoints <= 0 {
		maxPoints = DefaultMaxPoints
	}
	return &Buffer{slots: make([]telemetry.Sample, maxPoints)}
}

// Append adds s at the tail, evicting the head when the buffer is full.
func (b *Buffer) Append(s telemetry.Sample) {
	b.mu.Lock()
	defer b.mu.Unlock()

	capacity := len(b.slots)
	if b.size < capacity {
		b.slots[(b.head+b.size)%capacity] = s
		b.size++
	} else {
		b.slots[b.head] = s
		b.head = (b.head + 1) % capacity
	}
}

// Sorted returns a copy of samples ordered ascending by timestamp. The sort is stable,
// so equal timestamps keep their input order.
func Sorted(samples []telemetry.Sample) []telemetry.Sample {
	out := make([]telemetry.Sample, len(samples))
	copy(out, samples)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// ReplaceAll discards the current contents and stores Sorted(samples). Only the newest
// samples up to the buffer capacity are kept.
func (b *Buffer) ReplaceAll(samples []telemetry.Sample) {
	sorted := Sorted(samples)

	b.mu.Lock()
	defer b.mu.Unlock()

	capacity := len(b.slots)
	if len(sorted) > capacity {
		sorted = sorted[len(sorted)-capacity:]
	}
	for i := range b.slots {
		b.slots[i] = telemetry.Sample{}
	}
	copy(b.slots, sorted)
	b.head = 0
	b.size = len(sorted)
}

// Snapshot returns a copy of the stored samples, oldest first.
func (b *Buffer) Snapshot() []telemetry.Sample {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]telemetry.Sample, b.size)
	capacity := len(b.slots)
	for i := 0; i < b.size; i++ {
		out[i] = b.slots[(b.head+i)%capacity]
	}
	return out
}
