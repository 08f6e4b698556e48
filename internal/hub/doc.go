// Package hub owns the duplex connection to the home-automation hub.
//
// This package manages:
//   - The authentication handshake (auth_required, auth, auth_ok/auth_invalid)
//   - Reconnection with quadratic backoff after a lost socket
//   - Request/response correlation by message id
//   - Event subscriptions scoped to the socket they were made on
//   - The single shared connection (Manager) and its stored credentials
//   - The REST surface (history) behind a circuit breaker
//
// # Handshake
//
// Each connection attempt runs a small state machine:
//
//	connecting → awaiting_auth → authenticated
//	      ↑            │
//	      └── retry ───┘      (auth_invalid → closed, never retried)
//
// A failed attempt waits base + retries² × unit before the next one, so with
// the defaults the delays are 1s, 4s, 9s and so on, capped at max_delay.
// Retries reset once a socket authenticates.
//
// # Credentials
//
// The shared connection uses, in order: an explicit token passed to
// Reauthenticate, the supervisor token, then the token stored under
// global-connection/access-token. Only an explicit token is persisted.
//
// # Usage
//
//	mgr := hub.NewManager(cfg.Hub, store, hub.WithLogger(log))
//	mgr.On(hub.SignalConnected, func() { reg.Resubscribe(ctx) })
//
//	conn, err := mgr.GlobalConnect(ctx)
//	if errors.Is(err, hub.ErrInvalidAuth) {
//	    // ask the user for a new token
//	}
//
//	unsub, err := conn.Subscribe(ctx, "state_changed", func(ev hub.Event) {
//	    ...
//	})
package hub
