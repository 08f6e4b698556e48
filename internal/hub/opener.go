package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nerrad567/hub-companion/internal/infrastructure/metrics"
	"github.com/nerrad567/hub-companion/internal/scheduler"
)

// socketOpener runs the handshake machine against real sockets until one
// authenticates, the hub rejects the credentials, or ctx ends.
type socketOpener struct {
	url    string
	creds  *Credentials
	dialer Dialer
	clock  scheduler.Clock
	delays retryDelay
	logger Logger
}

// open returns an authenticated socket.
func (o *socketOpener) open(ctx context.Context) (Socket, error) {
	m := machine{State: StateConnecting}

	for {
		sock, err := o.attempt(ctx, &m)
		if err == nil {
			return sock, nil
		}
		if m.State == StateClosed {
			return nil, err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		delay := o.delays.delay(m.Retries)
		metrics.IncHubReconnect()
		o.logger.Warn("hub socket failed, retrying",
			"url", o.url,
			"retries", m.Retries,
			"delay", delay,
			"error", err,
		)
		if err := scheduler.Sleep(ctx, o.clock, delay); err != nil {
			return nil, err
		}
	}
}

// attempt performs one dial plus handshake and advances m.
func (o *socketOpener) attempt(ctx context.Context, m *machine) (Socket, error) {
	var act socketAction

	sock, err := o.dialer.Dial(ctx, o.url)
	if err != nil {
		*m, _ = m.transition(evClosed)
		return nil, err
	}

	// Unblock the handshake read if ctx ends first.
	stop := context.AfterFunc(ctx, func() { sock.Close() }) //nolint:errcheck // Abort path
	defer stop()

	*m, act = m.transition(evOpened)
	if act == actSendAuth {
		if err := o.sendAuth(ctx, sock); err != nil {
			sock.Close() //nolint:errcheck // Socket is abandoned
			if errors.Is(err, ErrInvalidAuth) {
				*m, _ = m.transition(evRefreshInvalid)
				return nil, err
			}
			*m, act = m.transition(evClosed)
			if act == actReject {
				return nil, ErrInvalidAuth
			}
			return nil, err
		}
	}

	for {
		data, err := sock.Read()
		if err != nil {
			sock.Close() //nolint:errcheck // Socket is abandoned
			*m, act = m.transition(evClosed)
			if act == actReject {
				return nil, ErrInvalidAuth
			}
			return nil, fmt.Errorf("%w during handshake: %w", ErrConnectionLost, err)
		}

		var msg envelope
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		switch msg.Type {
		case msgAuthOK:
			*m, _ = m.transition(evAuthOK)
			return sock, nil
		case msgAuthInvalid:
			*m, _ = m.transition(evAuthInvalid)
			sock.Close() //nolint:errcheck // Credentials rejected
			if msg.Message != "" {
				return nil, fmt.Errorf("%w: %s", ErrInvalidAuth, msg.Message)
			}
			return nil, ErrInvalidAuth
		}
		// auth_required and anything else before auth_ok is ignored.
	}
}

func (o *socketOpener) sendAuth(ctx context.Context, sock Socket) error {
	token, err := o.creds.AccessToken(ctx)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(map[string]string{
		"type":         msgAuth,
		"access_token": token,
	})
	if err != nil {
		return fmt.Errorf("encoding auth message: %w", err)
	}
	return sock.Write(payload)
}
