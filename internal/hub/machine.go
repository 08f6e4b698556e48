package hub

import "time"

// SocketState is the handshake state of one connection attempt.
type SocketState int

const (
	StateConnecting SocketState = iota
	StateAwaitingAuth
	StateAuthenticated
	StateClosed
)

func (s SocketState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAwaitingAuth:
		return "awaiting_auth"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// socketEvent is an input to the handshake machine.
type socketEvent int

const (
	evOpened socketEvent = iota
	evAuthOK
	evAuthInvalid
	evRefreshInvalid
	evClosed
)

// socketAction tells the opener what to do after a transition.
type socketAction int

const (
	actNone socketAction = iota
	actSendAuth
	actResolve
	actReject
	actRetry
)

// machine is the pure handshake state: no I/O, no timers.
type machine struct {
	State       SocketState
	Retries     int
	InvalidAuth bool
}

// transition applies ev and returns the next machine plus the side effect
// the caller must perform.
func (m machine) transition(ev socketEvent) (machine, socketAction) {
	if m.State == StateClosed {
		return m, actNone
	}

	switch ev {
	case evOpened:
		if m.State == StateConnecting {
			m.State = StateAwaitingAuth
			return m, actSendAuth
		}

	case evAuthOK:
		if m.State == StateAwaitingAuth {
			m.State = StateAuthenticated
			m.Retries = 0
			m.InvalidAuth = false
			return m, actResolve
		}

	case evAuthInvalid, evRefreshInvalid:
		if m.State == StateAwaitingAuth {
			m.State = StateClosed
			m.InvalidAuth = true
			return m, actReject
		}

	case evClosed:
		if m.InvalidAuth {
			m.State = StateClosed
			return m, actReject
		}
		if m.State == StateAuthenticated {
			m.State = StateClosed
			return m, actNone
		}
		m.State = StateConnecting
		m.Retries++
		return m, actRetry
	}

	return m, actNone
}

// retryDelay computes reconnect delays: base + retries² × unit, capped at max.
type retryDelay struct {
	Base time.Duration
	Unit time.Duration
	Max  time.Duration
}

func (b retryDelay) delay(retries int) time.Duration {
	d := b.Base + time.Duration(retries*retries)*b.Unit
	if b.Max > 0 && d > b.Max {
		return b.Max
	}
	return d
}
