// Package telemetry holds the typed sync-status model shared by the pipeline and the
// normalization boundary that turns loosely-typed status snapshots into it.
package telemetry

import (
	"encoding/json"
	"strconv"
	"time"
)

// Int is a numeric field that may be Unknown. The zero value is Unknown.
type Int struct {
	Value int64
	Known bool
}

func KnownInt(v int64) Int { return Int{Value: v, Known: true} }

var UnknownInt = Int{}

func (i Int) String() string {
	if !i.Known {
		return "Unknown"
	}
	return strconv.FormatInt(i.Value, 10)
}

// MarshalJSON encodes a known value as a number and an unknown one as "Unknown",
// matching what the status source itself writes for unreachable clients.
func (i Int) MarshalJSON() ([]byte, error) {
	if !i.Known {
		return []byte(`"Unknown"`), nil
	}
	return strconv.AppendInt(nil, i.Value, 10), nil
}

func (i *Int) UnmarshalJSON(b []byte) error {
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		*i = UnknownInt
		return nil
	}
	v, err := n.Int64()
	if err != nil {
		*i = UnknownInt
		return nil
	}
	*i = KnownInt(v)
	return nil
}

type StatusKind uint8

const (
	StatusUnknown StatusKind = iota
	StatusSyncing
	StatusSynced
)

func (k StatusKind) String() string {
	switch k {
	case StatusSyncing:
		return "syncing"
	case StatusSynced:
		return "synced"
	default:
		return "unknown"
	}
}

func (k StatusKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// Layer selects the consensus or execution half of a sample.
type Layer uint8

const (
	LayerConsensus Layer = iota
	LayerExecution
)

func (l Layer) String() string {
	if l == LayerExecution {
		return "execution"
	}
	return "consensus"
}

func (l Layer) MarshalText() ([]byte, error) { return []byte(l.String()), nil }

// ConsensusStatus is the consensus-layer view of one sample. SyncDistance is 0 when Synced.
type ConsensusStatus struct {
	Kind         StatusKind `json:"status"`
	HeadSlot     Int        `json:"head_slot"`
	SyncDistance Int        `json:"sync_distance"`
}

// ExecutionStatus is the execution-layer view of one sample.
type ExecutionStatus struct {
	Kind         StatusKind `json:"status"`
	CurrentBlock Int        `json:"current_block"`
	HighestBlock Int        `json:"highest_block"`
}

// SyncDistance is HighestBlock - CurrentBlock. A source reporting current > highest
// yields a negative distance, which is passed through as-is.
func (e ExecutionStatus) SyncDistance() Int {
	switch e.Kind {
	case StatusSynced:
		return KnownInt(0)
	case StatusSyncing:
		if e.CurrentBlock.Known && e.HighestBlock.Known {
			return KnownInt(e.HighestBlock.Value - e.CurrentBlock.Value)
		}
	}
	return UnknownInt
}

// Sample is one point-in-time observation of both layers.
type Sample struct {
	Timestamp time.Time       `json:"timestamp"`
	Consensus ConsensusStatus `json:"consensus"`
	Execution ExecutionStatus `json:"execution"`
}

// Progress returns the monotonic progress metric for a layer: head slot for consensus,
// current block for execution. ok is false when the layer is Unknown or the field is.
func (s Sample) Progress(layer Layer) (int64, bool) {
	if layer == LayerExecution {
		if s.Execution.Kind == StatusUnknown || !s.Execution.CurrentBlock.Known {
			return 0, false
		}
		return s.Execution.CurrentBlock.Value, true
	}
	if s.Consensus.Kind == StatusUnknown || !s.Consensus.HeadSlot.Known {
		return 0, false
	}
	return s.Consensus.HeadSlot.Value, true
}

// Remaining returns the distance still to sync for a layer.
func (s Sample) Remaining(layer Layer) Int {
	if layer == LayerExecution {
		return s.Execution.SyncDistance()
	}
	if s.Consensus.Kind == StatusUnknown {
		return UnknownInt
	}
	return s.Consensus.SyncDistance
}

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// TimelineEvent is a derived, immutable fact about a sync transition.
type TimelineEvent struct {
	Timestamp   time.Time `json:"timestamp"`
	Severity    Severity  `json:"type"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
}

type ConnectionState uint8

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	FallbackPolling
)

func (c ConnectionState) String() string {
	switch c {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case FallbackPolling:
		return "fallback_polling"
	default:
		return "disconnected"
	}
}

func (c ConnectionState) MarshalText() ([]byte, error) { return []byte(c.String()), nil }
