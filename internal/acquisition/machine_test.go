package acquisition

import (
	"testing"

	"github.com/validaoxyz/ephemery-sync-exporter/internal/telemetry"
)

func equalActions(a, b []Action) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestMachineTransitions(t *testing.T) {
	tests := []struct {
		name      string
		from      Machine
		trigger   Trigger
		wantState telemetry.ConnectionState
		attempts  int
		actions   []Action
	}{
		{
			name:      "start dials",
			from:      Machine{State: telemetry.Disconnected, MaxAttempts: 5},
			trigger:   TriggerStart,
			wantState: telemetry.Connecting,
			actions:   []Action{ActionDial},
		},
		{
			name:      "open resets attempts and requests backfill",
			from:      Machine{State: telemetry.Connecting, Attempts: 3, MaxAttempts: 5},
			trigger:   TriggerOpened,
			wantState: telemetry.Connected,
			attempts:  0,
			actions:   []Action{ActionCancelRetry, ActionRequestBackfill},
		},
		{
			name:      "close while connecting schedules retry",
			from:      Machine{State: telemetry.Connecting, Attempts: 1, MaxAttempts: 5},
			trigger:   TriggerClosed,
			wantState: telemetry.Disconnected,
			attempts:  2,
			actions:   []Action{ActionCloseConn, ActionScheduleRetry},
		},
		{
			name:      "close while connected schedules retry",
			from:      Machine{State: telemetry.Connected, MaxAttempts: 5},
			trigger:   TriggerClosed,
			wantState: telemetry.Disconnected,
			attempts:  1,
			actions:   []Action{ActionCloseConn, ActionScheduleRetry},
		},
		{
			name:      "retry elapsed dials",
			from:      Machine{State: telemetry.Disconnected, Attempts: 2, MaxAttempts: 5},
			trigger:   TriggerRetryElapsed,
			wantState: telemetry.Connecting,
			attempts:  2,
			actions:   []Action{ActionDial},
		},
		{
			name:      "exhausted attempts fall back to polling",
			from:      Machine{State: telemetry.Connecting, Attempts: 5, MaxAttempts: 5},
			trigger:   TriggerClosed,
			wantState: telemetry.FallbackPolling,
			attempts:  5,
			actions:   []Action{ActionCloseConn, ActionCancelRetry, ActionStartPolling, ActionRequestBackfill},
		},
		{
			name:      "fallback ignores retry",
			from:      Machine{State: telemetry.FallbackPolling, Attempts: 5, MaxAttempts: 5},
			trigger:   TriggerRetryElapsed,
			wantState: telemetry.FallbackPolling,
			attempts:  5,
		},
		{
			name:      "fallback ignores start",
			from:      Machine{State: telemetry.FallbackPolling, Attempts: 5, MaxAttempts: 5},
			trigger:   TriggerStart,
			wantState: telemetry.FallbackPolling,
			attempts:  5,
		},
		{
			name:      "stale open while disconnected is ignored",
			from:      Machine{State: telemetry.Disconnected, Attempts: 1, MaxAttempts: 5},
			trigger:   TriggerOpened,
			wantState: telemetry.Disconnected,
			attempts:  1,
		},
		{
			name:      "stop tears everything down",
			from:      Machine{State: telemetry.FallbackPolling, Attempts: 5, MaxAttempts: 5},
			trigger:   TriggerStop,
			wantState: telemetry.Disconnected,
			attempts:  5,
			actions:   []Action{ActionCancelRetry, ActionStopPolling, ActionCloseConn},
		},
		{
			name:      "zero max attempts falls back on first close",
			from:      Machine{State: telemetry.Connecting, MaxAttempts: 0},
			trigger:   TriggerClosed,
			wantState: telemetry.FallbackPolling,
			actions:   []Action{ActionCloseConn, ActionCancelRetry, ActionStartPolling, ActionRequestBackfill},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, actions := tc.from.Next(tc.trigger)
			if got.State != tc.wantState {
				t.Fatalf("expected state %v, got %v", tc.wantState, got.State)
			}
			if got.Attempts != tc.attempts {
				t.Fatalf("expected %d attempts, got %d", tc.attempts, got.Attempts)
			}
			if !equalActions(actions, tc.actions) {
				t.Fatalf("expected actions %v, got %v", tc.actions, actions)
			}
		})
	}
}

func TestMachineExhaustsAfterMaxRetries(t *testing.T) {
	m := NewMachine(5)
	m, actions := m.Next(TriggerStart)
	dials := 0
	for _, a := range actions {
		if a == ActionDial {
			dials++
		}
	}

	for i := 0; i < 20 && m.State != telemetry.FallbackPolling; i++ {
		m, _ = m.Next(TriggerClosed)
		if m.State == telemetry.FallbackPolling {
			break
		}
		m, actions = m.Next(TriggerRetryElapsed)
		for _, a := range actions {
			if a == ActionDial {
				dials++
			}
		}
	}

	if m.State != telemetry.FallbackPolling {
		t.Fatalf("expected fallback polling, got %v", m.State)
	}
	if dials != 6 {
		t.Fatalf("expected one initial dial plus 5 retries, got %d dials", dials)
	}
	if _, actions := m.Next(TriggerRetryElapsed); len(actions) != 0 {
		t.Fatalf("fallback must not schedule more work, got %v", actions)
	}
}

func TestMachineStoppedIgnoresEverything(t *testing.T) {
	m, _ := NewMachine(5).Next(TriggerStop)
	for _, tr := range []Trigger{TriggerStart, TriggerOpened, TriggerClosed, TriggerRetryElapsed, TriggerStop} {
		next, actions := m.Next(tr)
		if next != m || len(actions) != 0 {
			t.Fatalf("%v after stop: expected no-op, got %+v %v", tr, next, actions)
		}
	}
}
