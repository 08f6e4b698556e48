package hub

import (
	"testing"
	"time"
)

func TestMachine_Transitions(t *testing.T) {
	tests := []struct {
		name       string
		start      machine
		event      socketEvent
		wantState  SocketState
		wantAction socketAction
		wantRetry  int
	}{
		{"open sends auth", machine{State: StateConnecting}, evOpened, StateAwaitingAuth, actSendAuth, 0},
		{"auth ok resolves and resets retries", machine{State: StateAwaitingAuth, Retries: 3}, evAuthOK, StateAuthenticated, actResolve, 0},
		{"auth invalid rejects", machine{State: StateAwaitingAuth}, evAuthInvalid, StateClosed, actReject, 0},
		{"invalid refresh rejects", machine{State: StateAwaitingAuth, Retries: 1}, evRefreshInvalid, StateClosed, actReject, 1},
		{"close while connecting retries", machine{State: StateConnecting}, evClosed, StateConnecting, actRetry, 1},
		{"close while awaiting auth retries", machine{State: StateAwaitingAuth, Retries: 1}, evClosed, StateConnecting, actRetry, 2},
		{"close after invalid auth rejects", machine{State: StateAwaitingAuth, InvalidAuth: true}, evClosed, StateClosed, actReject, 0},
		{"close after authenticated ends", machine{State: StateAuthenticated}, evClosed, StateClosed, actNone, 0},
		{"closed is terminal", machine{State: StateClosed}, evOpened, StateClosed, actNone, 0},
		{"auth ok ignored while connecting", machine{State: StateConnecting}, evAuthOK, StateConnecting, actNone, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, act := tt.start.transition(tt.event)
			if got.State != tt.wantState {
				t.Errorf("State = %v, want %v", got.State, tt.wantState)
			}
			if act != tt.wantAction {
				t.Errorf("action = %v, want %v", act, tt.wantAction)
			}
			if got.Retries != tt.wantRetry {
				t.Errorf("Retries = %d, want %d", got.Retries, tt.wantRetry)
			}
		})
	}
}

func TestRetryDelay(t *testing.T) {
	d := retryDelay{Unit: time.Second, Max: 5 * time.Minute}

	tests := []struct {
		retries int
		want    time.Duration
	}{
		{0, 0},
		{1, time.Second},
		{2, 4 * time.Second},
		{3, 9 * time.Second},
		{17, 289 * time.Second},
		{18, 5 * time.Minute},
		{100, 5 * time.Minute},
	}

	for _, tt := range tests {
		if got := d.delay(tt.retries); got != tt.want {
			t.Errorf("delay(%d) = %v, want %v", tt.retries, got, tt.want)
		}
	}

	withBase := retryDelay{Base: 500 * time.Millisecond, Unit: time.Second}
	if got := withBase.delay(2); got != 4500*time.Millisecond {
		t.Errorf("delay with base = %v, want 4.5s", got)
	}
}

func TestSocketState_String(t *testing.T) {
	if StateAwaitingAuth.String() != "awaiting_auth" {
		t.Errorf("String() = %q", StateAwaitingAuth.String())
	}
	if SocketState(99).String() != "unknown" {
		t.Errorf("unknown state String() = %q", SocketState(99).String())
	}
}
