package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/hub-companion/internal/infrastructure/config"
	"github.com/nerrad567/hub-companion/internal/infrastructure/metrics"
	"github.com/nerrad567/hub-companion/internal/scheduler"
)

// Key-value paths owned by the Manager.
const (
	keyGlobalConnection = "global-connection"
	keyAccessToken      = "global-connection/access-token"
	keyClientName       = "global-connection/client-name"

	// supervisorClientName is reported by Status in supervised mode.
	supervisorClientName = "Supervisor"

	// longLivedLifespanDays is the lifespan requested for minted tokens.
	longLivedLifespanDays = 3650
)

// Logger is the logging interface used by the hub package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Store persists the shared connection's token and client name.
// kvstore.Store satisfies it.
type Store interface {
	Get(ctx context.Context, path string, out any) (bool, error)
	Set(ctx context.Context, path string, value any) error
	Delete(ctx context.Context, path string) error
}

// Signal is a Manager-level notification about the shared connection.
type Signal int

const (
	// SignalConnected fires after every (re)connect of the shared connection.
	SignalConnected Signal = iota

	// SignalDisconnected fires when the shared connection's socket drops
	// or the shared connection is unset.
	SignalDisconnected

	// SignalInitiallyConnected fires once per Manager, after the first
	// successful shared connect.
	SignalInitiallyConnected
)

func (s Signal) String() string {
	switch s {
	case SignalConnected:
		return "connected"
	case SignalDisconnected:
		return "disconnected"
	case SignalInitiallyConnected:
		return "initially_connected"
	default:
		return "unknown"
	}
}

// Status describes the shared connection for the HTTP surface.
type Status struct {
	Connected  bool   `json:"connected"`
	ClientName string `json:"client_name,omitempty"`
}

// Option configures a Manager.
type Option func(*Manager)

// WithDialer replaces the websocket dialer.
func WithDialer(d Dialer) Option {
	return func(m *Manager) { m.dialer = d }
}

// WithClock replaces the clock used for reconnect delays.
func WithClock(c scheduler.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithHTTPClient sets the REST transport.
func WithHTTPClient(c *http.Client) Option {
	return func(m *Manager) { m.httpClient = c }
}

// Manager owns the single shared connection to the hub and hands out
// ad-hoc connections for user credentials.
//
// Thread Safety: All methods are safe for concurrent use. Connect and
// credential changes are serialised; signal handlers run after internal
// locks are released.
type Manager struct {
	cfg        config.HubConfig
	store      Store
	dialer     Dialer
	clock      scheduler.Clock
	logger     Logger
	httpClient *http.Client
	rest       *RESTClient

	// connectMu serialises GlobalConnect, Reauthenticate and Unset.
	connectMu sync.Mutex

	mu                 sync.RWMutex
	conn               *Connection
	creds              *Credentials
	initiallyConnected bool

	listenerMu   sync.Mutex
	listeners    map[Signal]map[uint64]func()
	nextListener uint64
}

// NewManager creates a Manager.
//
// Parameters:
//   - cfg: Hub settings (URL, supervisor mode, timeouts, reconnect shape)
//   - store: Persistence for the shared token and client name
//   - opts: Optional dialer, clock, logger and HTTP client
//
// Returns:
//   - *Manager: Ready to GlobalConnect
func NewManager(cfg config.HubConfig, store Store, opts ...Option) *Manager {
	m := &Manager{
		cfg:       cfg,
		store:     store,
		dialer:    WebsocketDialer{HandshakeTimeout: cfg.GetHandshakeTimeout()},
		clock:     scheduler.RealClock{},
		logger:    noopLogger{},
		listeners: make(map[Signal]map[uint64]func()),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.rest = NewRESTClient(m.httpClient, cfg.REST, m.restEndpoint, m.logger)
	return m
}

// On registers fn for sig and returns a function removing it.
func (m *Manager) On(sig Signal, fn func()) func() {
	m.listenerMu.Lock()
	defer m.listenerMu.Unlock()

	if m.listeners[sig] == nil {
		m.listeners[sig] = make(map[uint64]func())
	}
	m.nextListener++
	id := m.nextListener
	m.listeners[sig][id] = fn

	return func() {
		m.listenerMu.Lock()
		delete(m.listeners[sig], id)
		m.listenerMu.Unlock()
	}
}

func (m *Manager) emit(sig Signal) {
	m.listenerMu.Lock()
	fns := make([]func(), 0, len(m.listeners[sig]))
	for _, fn := range m.listeners[sig] {
		fns = append(fns, fn)
	}
	m.listenerMu.Unlock()

	for _, fn := range fns {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error("signal handler panicked", "signal", sig.String(), "panic", r)
				}
			}()
			fn()
		}()
	}
}

// Supervised reports whether the Manager runs with a supervisor token.
func (m *Manager) Supervised() bool {
	return m.cfg.Supervised()
}

// Conn returns the shared connection, or nil if there is none.
func (m *Manager) Conn() *Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.conn
}

// REST returns the REST client bound to the shared connection's credentials.
func (m *Manager) REST() *RESTClient {
	return m.rest
}

// Connect opens one transport session with creds. The session retries
// transient failures with the configured backoff until ctx ends.
//
// Returns:
//   - *Connection: Authenticated session; the caller owns it
//   - error: ErrInvalidAuth if the hub rejected creds, otherwise ctx's error
func (m *Manager) Connect(ctx context.Context, creds *Credentials) (*Connection, error) {
	return m.connect(ctx, creds, nil)
}

func (m *Manager) connect(ctx context.Context, creds *Credentials, onLifecycle func(*Connection, ConnectionEvent)) (*Connection, error) {
	if creds == nil || creds.WSURL == "" {
		return nil, fmt.Errorf("%w: missing websocket url", ErrNoCredentials)
	}

	opener := &socketOpener{
		url:    creds.WSURL,
		creds:  creds,
		dialer: m.dialer,
		clock:  m.clock,
		delays: retryDelay{
			Base: time.Duration(m.cfg.Reconnect.BaseDelay) * time.Millisecond,
			Unit: time.Duration(m.cfg.Reconnect.Unit) * time.Millisecond,
			Max:  time.Duration(m.cfg.Reconnect.MaxDelay) * time.Millisecond,
		},
		logger: m.logger,
	}

	sock, err := opener.open(ctx)
	if err != nil {
		return nil, err
	}

	conn := newConnection(opener, sock, m.cfg.GetRequestTimeout(), m.logger)
	if onLifecycle != nil {
		conn.OnLifecycle(func(ev ConnectionEvent) { onLifecycle(conn, ev) })
	}
	conn.start()
	return conn, nil
}

// GlobalConnect returns the shared connection, opening it with the best
// available credentials (the supervisor token, then the persisted token)
// when it is not already connected.
//
// Returns:
//   - *Connection: The new shared connection, or nil if no credentials exist
//   - error: ErrInvalidAuth if the hub rejected the credentials
func (m *Manager) GlobalConnect(ctx context.Context) (*Connection, error) {
	return m.globalConnect(ctx, "")
}

// Reauthenticate replaces the shared connection using an explicit token,
// which is persisted after a successful connect.
//
// Returns:
//   - *Connection: The new shared connection
//   - error: ErrNoCredentials when token is empty and nothing else is
//     configured, ErrInvalidAuth if the hub rejected the token
func (m *Manager) Reauthenticate(ctx context.Context, token string) (*Connection, error) {
	conn, err := m.globalConnect(ctx, token)
	if err != nil {
		return nil, err
	}
	if conn == nil {
		return nil, ErrNoCredentials
	}
	return conn, nil
}

func (m *Manager) globalConnect(ctx context.Context, explicit string) (*Connection, error) {
	m.connectMu.Lock()

	// Without an explicit token an open shared connection is kept as is.
	if explicit == "" {
		m.mu.RLock()
		open := m.conn
		m.mu.RUnlock()
		if open != nil && open.Connected() {
			m.connectMu.Unlock()
			return open, nil
		}
	}

	creds, persist, err := m.resolveCredentials(ctx, explicit)
	if err != nil {
		m.connectMu.Unlock()
		return nil, err
	}
	if creds == nil {
		m.connectMu.Unlock()
		m.logger.Info("no hub credentials available")
		return nil, nil
	}

	m.mu.Lock()
	prev := m.conn
	m.conn = nil
	m.creds = nil
	m.mu.Unlock()
	if prev != nil {
		prev.Close() //nolint:errcheck // Replaced connection
		metrics.SetHubConnected(false)
	}

	conn, err := m.connect(ctx, creds, m.onLifecycle)
	if err != nil {
		m.connectMu.Unlock()
		return nil, fmt.Errorf("connecting to hub: %w", err)
	}

	if persist {
		if err := m.store.Set(ctx, keyAccessToken, explicit); err != nil {
			m.logger.Warn("persisting hub token failed", "error", err)
		}
	}

	m.mu.Lock()
	m.conn = conn
	m.creds = creds
	first := !m.initiallyConnected
	m.initiallyConnected = true
	m.mu.Unlock()

	m.connectMu.Unlock()

	metrics.SetHubConnected(true)
	m.logger.Info("connected to hub", "url", creds.WSURL, "supervised", m.Supervised())

	m.emit(SignalConnected)
	if first {
		m.emit(SignalInitiallyConnected)
	}
	return conn, nil
}

// resolveCredentials picks explicit > supervisor > persisted. persist is
// true only for the explicit token.
func (m *Manager) resolveCredentials(ctx context.Context, explicit string) (*Credentials, bool, error) {
	if explicit != "" {
		return LongLivedCredentials(m.cfg.URL, explicit), true, nil
	}

	if m.cfg.Supervised() {
		creds := LongLivedCredentials(m.cfg.URL, m.cfg.SupervisorToken)
		creds.WSURL = m.cfg.SupervisorWSURL
		return creds, false, nil
	}

	if m.store == nil {
		return nil, false, nil
	}
	var stored string
	found, err := m.store.Get(ctx, keyAccessToken, &stored)
	if err != nil {
		return nil, false, fmt.Errorf("loading stored hub token: %w", err)
	}
	if !found || stored == "" {
		return nil, false, nil
	}
	return LongLivedCredentials(m.cfg.URL, stored), false, nil
}

// onLifecycle re-emits socket lifecycle of the current shared connection.
func (m *Manager) onLifecycle(conn *Connection, ev ConnectionEvent) {
	m.mu.RLock()
	current := m.conn == conn
	m.mu.RUnlock()
	if !current {
		return
	}

	switch ev {
	case EventReady:
		metrics.SetHubConnected(true)
		m.emit(SignalConnected)
	case EventDisconnected:
		metrics.SetHubConnected(false)
		m.emit(SignalDisconnected)
	}
}

// CreateLongLivedToken mints a long-lived access token over conn.
func (m *Manager) CreateLongLivedToken(ctx context.Context, conn *Connection, clientName string) (string, error) {
	raw, err := conn.SendMessage(ctx, map[string]any{
		"type":        MsgLongLivedToken,
		"client_name": clientName,
		"lifespan":    longLivedLifespanDays,
	})
	if err != nil {
		return "", fmt.Errorf("creating long-lived token: %w", err)
	}

	var token string
	if err := json.Unmarshal(raw, &token); err != nil {
		return "", fmt.Errorf("decoding long-lived token: %w", err)
	}
	return token, nil
}

// SetGlobalConnection derives a long-lived token from a user's credentials
// and makes it the shared connection.
//
// Returns:
//   - error: ErrSupervised in supervised mode, ErrInvalidAuth if the
//     user's credentials were rejected
func (m *Manager) SetGlobalConnection(ctx context.Context, user *Credentials) error {
	if m.Supervised() {
		return ErrSupervised
	}

	conn, err := m.Connect(ctx, user)
	if err != nil {
		return err
	}
	defer conn.Close() //nolint:errcheck // Temporary user session

	clientName := fmt.Sprintf("%s (%s)", m.cfg.ClientName, uuid.NewString())
	token, err := m.CreateLongLivedToken(ctx, conn, clientName)
	if err != nil {
		return err
	}

	if _, err := m.Reauthenticate(ctx, token); err != nil {
		return err
	}

	if err := m.store.Set(ctx, keyClientName, clientName); err != nil {
		return fmt.Errorf("persisting client name: %w", err)
	}
	m.logger.Info("global connection set", "client_name", clientName)
	return nil
}

// UnsetGlobalConnection closes the shared connection and forgets its token.
func (m *Manager) UnsetGlobalConnection(ctx context.Context) error {
	if m.Supervised() {
		return ErrSupervised
	}

	m.connectMu.Lock()
	m.mu.Lock()
	prev := m.conn
	m.conn = nil
	m.creds = nil
	m.mu.Unlock()

	if prev != nil {
		prev.Close() //nolint:errcheck // Connection is being discarded
	}
	err := m.store.Delete(ctx, keyGlobalConnection)
	m.connectMu.Unlock()

	metrics.SetHubConnected(false)
	if prev != nil {
		m.emit(SignalDisconnected)
	}
	if err != nil {
		return fmt.Errorf("deleting stored connection: %w", err)
	}
	return nil
}

// Status reports whether the shared connection is up and which client
// name its token was minted for.
func (m *Manager) Status(ctx context.Context) (Status, error) {
	conn := m.Conn()
	st := Status{Connected: conn != nil && conn.Connected()}

	if m.Supervised() {
		st.ClientName = supervisorClientName
		return st, nil
	}

	if m.store == nil {
		return st, nil
	}
	if _, err := m.store.Get(ctx, keyClientName, &st.ClientName); err != nil {
		return st, fmt.Errorf("loading client name: %w", err)
	}
	return st, nil
}

// restEndpoint resolves the REST base for the current credentials.
func (m *Manager) restEndpoint(ctx context.Context) (string, string, error) {
	m.mu.RLock()
	creds := m.creds
	m.mu.RUnlock()

	if creds == nil {
		return "", "", ErrNotConnected
	}

	token, err := creds.AccessToken(ctx)
	if err != nil {
		return "", "", err
	}

	if m.cfg.Supervised() && m.cfg.SupervisorRESTURL != "" {
		return m.cfg.SupervisorRESTURL, token, nil
	}
	return strings.TrimRight(creds.URL, "/") + "/api", token, nil
}

// Close closes the shared connection.
func (m *Manager) Close() error {
	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}
