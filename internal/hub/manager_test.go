package hub

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestGlobalConnect_NoCredentials(t *testing.T) {
	h := newFakeHub("good")
	m, _ := newTestManager(t, h, testHubConfig(), newMemStore())

	conn, err := m.GlobalConnect(context.Background())
	if err != nil || conn != nil {
		t.Errorf("GlobalConnect() = %v, %v; want nil, nil", conn, err)
	}

	if _, err := m.Reauthenticate(context.Background(), ""); !errors.Is(err, ErrNoCredentials) {
		t.Errorf("Reauthenticate(\"\") error = %v, want ErrNoCredentials", err)
	}
	if h.dials != 0 {
		t.Errorf("dials = %d, want 0", h.dials)
	}
}

func TestGlobalConnect_CredentialPriority(t *testing.T) {
	t.Run("stored token is used and not rewritten", func(t *testing.T) {
		h := newFakeHub("stored")
		store := newMemStore()
		store.Set(context.Background(), keyAccessToken, "stored") //nolint:errcheck // Memory store
		m, _ := newTestManager(t, h, testHubConfig(), store)

		conn, err := m.GlobalConnect(context.Background())
		if err != nil || conn == nil {
			t.Fatalf("GlobalConnect() = %v, %v", conn, err)
		}
		if got := h.authTokens(); len(got) != 1 || got[0] != "stored" {
			t.Errorf("auth tokens = %v", got)
		}
		if h.urls[0] != "ws://hub.test:8123/api/websocket" {
			t.Errorf("dial url = %q", h.urls[0])
		}
	})

	t.Run("supervisor beats stored", func(t *testing.T) {
		h := newFakeHub("supervisor")
		store := newMemStore()
		store.Set(context.Background(), keyAccessToken, "stored") //nolint:errcheck // Memory store
		cfg := testHubConfig()
		cfg.SupervisorToken = "supervisor"
		m, _ := newTestManager(t, h, cfg, store)

		if _, err := m.GlobalConnect(context.Background()); err != nil {
			t.Fatalf("GlobalConnect() error = %v", err)
		}
		if got := h.authTokens(); got[0] != "supervisor" {
			t.Errorf("auth token = %q, want supervisor", got[0])
		}
		if h.urls[0] != cfg.SupervisorWSURL {
			t.Errorf("dial url = %q, want %q", h.urls[0], cfg.SupervisorWSURL)
		}
	})

	t.Run("explicit beats supervisor and is persisted", func(t *testing.T) {
		h := newFakeHub("explicit", "supervisor")
		store := newMemStore()
		cfg := testHubConfig()
		cfg.SupervisorToken = "supervisor"
		m, _ := newTestManager(t, h, cfg, store)

		if _, err := m.Reauthenticate(context.Background(), "explicit"); err != nil {
			t.Fatalf("Reauthenticate() error = %v", err)
		}
		if got := h.authTokens(); got[0] != "explicit" {
			t.Errorf("auth token = %q, want explicit", got[0])
		}
		if v, _ := store.getString(t, keyAccessToken); v != "explicit" {
			t.Errorf("stored token = %q, want explicit", v)
		}
	})

	t.Run("rejected explicit token is not persisted", func(t *testing.T) {
		h := newFakeHub("good")
		store := newMemStore()
		m, _ := newTestManager(t, h, testHubConfig(), store)

		_, err := m.Reauthenticate(context.Background(), "wrong")
		if !errors.Is(err, ErrInvalidAuth) {
			t.Fatalf("Reauthenticate() error = %v, want ErrInvalidAuth", err)
		}
		if _, found := store.getString(t, keyAccessToken); found {
			t.Error("rejected token was persisted")
		}
	})
}

func TestGlobalConnect_Signals(t *testing.T) {
	h := newFakeHub("good")
	store := newMemStore()
	store.Set(context.Background(), keyAccessToken, "good") //nolint:errcheck // Memory store
	m, _ := newTestManager(t, h, testHubConfig(), store)

	var connected, initial, disconnected atomic.Int32
	m.On(SignalConnected, func() { connected.Add(1) })
	m.On(SignalInitiallyConnected, func() { initial.Add(1) })
	m.On(SignalDisconnected, func() { disconnected.Add(1) })

	first, err := m.GlobalConnect(context.Background())
	if err != nil {
		t.Fatalf("GlobalConnect() error = %v", err)
	}

	// An open shared connection is reused without a new handshake.
	again, err := m.GlobalConnect(context.Background())
	if err != nil {
		t.Fatalf("second GlobalConnect() error = %v", err)
	}
	if again != first || !first.Connected() {
		t.Error("GlobalConnect() replaced an open shared connection")
	}
	if h.socketCount() != 1 || len(h.authTokens()) != 1 {
		t.Errorf("sockets=%d auths=%d, want 1 and 1", h.socketCount(), len(h.authTokens()))
	}
	if connected.Load() != 1 {
		t.Errorf("connected = %d after reuse, want 1", connected.Load())
	}

	// An explicit token always replaces the shared connection.
	second, err := m.Reauthenticate(context.Background(), "good")
	if err != nil {
		t.Fatalf("Reauthenticate() error = %v", err)
	}
	if first.Connected() {
		t.Error("previous shared connection still open")
	}
	if m.Conn() != second {
		t.Error("Conn() is not the latest shared connection")
	}
	if connected.Load() != 2 || initial.Load() != 1 {
		t.Errorf("connected=%d initial=%d, want 2 and 1", connected.Load(), initial.Load())
	}

	// Socket loss and recovery of the shared connection are re-emitted.
	h.socket(1).Close() //nolint:errcheck // Simulate a dropped socket
	waitFor(t, "reconnect", func() bool { return connected.Load() == 3 })
	if disconnected.Load() != 1 {
		t.Errorf("disconnected = %d, want 1", disconnected.Load())
	}

	// The replaced connection's lifecycle is ignored.
	if initial.Load() != 1 {
		t.Errorf("initial = %d after reconnect, want 1", initial.Load())
	}
}

func TestManager_SetAndUnsetGlobalConnection(t *testing.T) {
	h := newFakeHub("user-token", "minted-token")
	h.setHandler(func(s *fakeSocket, msg map[string]any) {
		if msg["type"] == MsgLongLivedToken {
			s.push(map[string]any{"id": msg["id"], "type": msgResult, "success": true, "result": "minted-token"})
			return
		}
		s.push(map[string]any{"id": msg["id"], "type": msgResult, "success": true})
	})
	store := newMemStore()
	m, _ := newTestManager(t, h, testHubConfig(), store)
	ctx := context.Background()

	if err := m.SetGlobalConnection(ctx, LongLivedCredentials("http://hub.test:8123", "user-token")); err != nil {
		t.Fatalf("SetGlobalConnection() error = %v", err)
	}

	req := h.socket(0).sent(MsgLongLivedToken)
	if len(req) != 1 {
		t.Fatalf("long-lived token requests = %d, want 1", len(req))
	}
	name, _ := req[0]["client_name"].(string)
	if !strings.HasPrefix(name, "Test Companion (") || !strings.HasSuffix(name, ")") {
		t.Errorf("client_name = %q", name)
	}
	if req[0]["lifespan"] != float64(3650) {
		t.Errorf("lifespan = %v, want 3650", req[0]["lifespan"])
	}

	if v, _ := store.getString(t, keyAccessToken); v != "minted-token" {
		t.Errorf("stored token = %q", v)
	}
	st, err := m.Status(ctx)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if !st.Connected || st.ClientName != name {
		t.Errorf("Status() = %+v", st)
	}

	// The temporary user session is closed.
	waitFor(t, "user session closed", func() bool {
		select {
		case <-h.socket(0).closed:
			return true
		default:
			return false
		}
	})

	if err := m.UnsetGlobalConnection(ctx); err != nil {
		t.Fatalf("UnsetGlobalConnection() error = %v", err)
	}
	if m.Conn() != nil {
		t.Error("Conn() != nil after unset")
	}
	if _, found := store.getString(t, keyAccessToken); found {
		t.Error("token survived unset")
	}
	if _, found := store.getString(t, keyClientName); found {
		t.Error("client name survived unset")
	}
	st, _ = m.Status(ctx)
	if st.Connected {
		t.Error("Status().Connected = true after unset")
	}
}

func TestManager_SupervisedMode(t *testing.T) {
	h := newFakeHub("supervisor")
	cfg := testHubConfig()
	cfg.SupervisorToken = "supervisor"
	m, _ := newTestManager(t, h, cfg, newMemStore())
	ctx := context.Background()

	if err := m.SetGlobalConnection(ctx, LongLivedCredentials(cfg.URL, "x")); !errors.Is(err, ErrSupervised) {
		t.Errorf("SetGlobalConnection() error = %v, want ErrSupervised", err)
	}
	if err := m.UnsetGlobalConnection(ctx); !errors.Is(err, ErrSupervised) {
		t.Errorf("UnsetGlobalConnection() error = %v, want ErrSupervised", err)
	}

	st, err := m.Status(ctx)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if st.ClientName != "Supervisor" || st.Connected {
		t.Errorf("Status() = %+v", st)
	}

	base, token, err := m.restEndpoint(ctx)
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("restEndpoint() before connect error = %v", err)
	}

	if _, err := m.GlobalConnect(ctx); err != nil {
		t.Fatalf("GlobalConnect() error = %v", err)
	}
	base, token, err = m.restEndpoint(ctx)
	if err != nil || base != cfg.SupervisorRESTURL || token != "supervisor" {
		t.Errorf("restEndpoint() = %q, %q, %v", base, token, err)
	}
}

func TestManager_RESTEndpointFromURL(t *testing.T) {
	h := newFakeHub("good")
	m, _ := newTestManager(t, h, testHubConfig(), newMemStore())

	if _, err := m.Reauthenticate(context.Background(), "good"); err != nil {
		t.Fatalf("Reauthenticate() error = %v", err)
	}
	base, token, err := m.restEndpoint(context.Background())
	if err != nil || base != "http://hub.test:8123/api" || token != "good" {
		t.Errorf("restEndpoint() = %q, %q, %v", base, token, err)
	}
}

func TestManager_ReconnectAfterLossUsesBackoff(t *testing.T) {
	h := newFakeHub("good")
	m, clock := newTestManager(t, h, testHubConfig(), newMemStore())

	if _, err := m.Reauthenticate(context.Background(), "good"); err != nil {
		t.Fatalf("Reauthenticate() error = %v", err)
	}

	var connected atomic.Int32
	m.On(SignalConnected, func() { connected.Add(1) })

	h.mu.Lock()
	h.failDials = 1
	h.mu.Unlock()
	h.socket(0).Close() //nolint:errcheck // Simulate a dropped socket

	clock.BlockUntil(1)
	if d, _ := clock.NextDelay(); d != time.Second {
		t.Errorf("retry delay = %v, want 1s", d)
	}
	clock.Advance(time.Second)

	waitFor(t, "reconnected", func() bool { return connected.Load() == 1 })
}
