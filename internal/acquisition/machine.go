// Package acquisition owns the dual-transport strategy: a push stream with bounded
// reconnects that falls back to periodic pulls once attempts are exhausted.
package acquisition

import (
	"github.com/validaoxyz/ephemery-sync-exporter/internal/telemetry"
)

type Trigger uint8

const (
	TriggerStart Trigger = iota
	TriggerOpened
	TriggerClosed
	TriggerRetryElapsed
	TriggerStop
)

func (t Trigger) String() string {
	switch t {
	case TriggerStart:
		return "start"
	case TriggerOpened:
		return "opened"
	case TriggerClosed:
		return "closed"
	case TriggerRetryElapsed:
		return "retry_elapsed"
	case TriggerStop:
		return "stop"
	}
	return "unknown"
}

type Action uint8

const (
	ActionDial Action = iota
	ActionScheduleRetry
	ActionCancelRetry
	ActionRequestBackfill
	ActionStartPolling
	ActionStopPolling
	ActionCloseConn
)

func (a Action) String() string {
	switch a {
	case ActionDial:
		return "dial"
	case ActionScheduleRetry:
		return "schedule_retry"
	case ActionCancelRetry:
		return "cancel_retry"
	case ActionRequestBackfill:
		return "request_backfill"
	case ActionStartPolling:
		return "start_polling"
	case ActionStopPolling:
		return "stop_polling"
	case ActionCloseConn:
		return "close_conn"
	}
	return "unknown"
}

// Machine is the connection state machine. It is a value: Next returns the successor
// state and the side effects the caller must perform, and never performs them itself.
type Machine struct {
	State       telemetry.ConnectionState
	Attempts    int
	MaxAttempts int
	Stopped     bool
}

func NewMachine(maxAttempts int) Machine {
	return Machine{State: telemetry.Disconnected, MaxAttempts: maxAttempts}
}

// Next applies t. Triggers that do not apply to the current state leave it unchanged
// and yield no actions. FallbackPolling only leaves on Stop.
func (m Machine) Next(t Trigger) (Machine, []Action) {
	if m.Stopped {
		return m, nil
	}
	if t == TriggerStop {
		m.Stopped = true
		m.State = telemetry.Disconnected
		return m, []Action{ActionCancelRetry, ActionStopPolling, ActionCloseConn}
	}

	switch m.State {
	case telemetry.Disconnected:
		switch t {
		case TriggerStart, TriggerRetryElapsed:
			m.State = telemetry.Connecting
			return m, []Action{ActionDial}
		}

	case telemetry.Connecting:
		switch t {
		case TriggerOpened:
			m.State = telemetry.Connected
			m.Attempts = 0
			return m, []Action{ActionCancelRetry, ActionRequestBackfill}
		case TriggerClosed:
			return m.closed()
		}

	case telemetry.Connected:
		if t == TriggerClosed {
			return m.closed()
		}
	}
	return m, nil
}

func (m Machine) closed() (Machine, []Action) {
	if m.Attempts < m.MaxAttempts {
		m.State = telemetry.Disconnected
		m.Attempts++
		return m, []Action{ActionCloseConn, ActionScheduleRetry}
	}
	m.State = telemetry.FallbackPolling
	return m, []Action{ActionCloseConn, ActionCancelRetry, ActionStartPolling, ActionRequestBackfill}
}
