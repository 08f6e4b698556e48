package hub

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/hub-companion/internal/infrastructure/config"
	"github.com/nerrad567/hub-companion/internal/scheduler"
)

var errSocketClosed = errors.New("fake socket closed")

// fakeSocket is an in-memory Socket driven by a fakeHub.
type fakeSocket struct {
	hub    *fakeHub
	in     chan []byte
	closed chan struct{}
	once   sync.Once

	mu      sync.Mutex
	written []map[string]any
}

func (s *fakeSocket) Read() ([]byte, error) {
	select {
	case <-s.closed:
		return nil, errSocketClosed
	default:
	}
	select {
	case data := <-s.in:
		return data, nil
	case <-s.closed:
		return nil, errSocketClosed
	}
}

func (s *fakeSocket) Write(data []byte) error {
	select {
	case <-s.closed:
		return errSocketClosed
	default:
	}

	var msg map[string]any
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}
	s.mu.Lock()
	s.written = append(s.written, msg)
	s.mu.Unlock()

	s.hub.receive(s, msg)
	return nil
}

func (s *fakeSocket) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

// push delivers v to the client as one frame.
func (s *fakeSocket) push(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	s.in <- data
}

// sent returns the messages the client wrote of the given type.
func (s *fakeSocket) sent(msgType string) []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []map[string]any
	for _, m := range s.written {
		if m["type"] == msgType {
			out = append(out, m)
		}
	}
	return out
}

// fakeHub plays the server side: it authenticates tokens and answers
// requests through handle.
type fakeHub struct {
	mu        sync.Mutex
	valid     map[string]bool
	failDials int
	dials     int
	urls      []string
	tokens    []string
	sockets   []*fakeSocket
	handle    func(s *fakeSocket, msg map[string]any)
}

func newFakeHub(validTokens ...string) *fakeHub {
	h := &fakeHub{valid: make(map[string]bool)}
	for _, t := range validTokens {
		h.valid[t] = true
	}
	return h
}

func (h *fakeHub) Dial(_ context.Context, url string) (Socket, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.dials++
	h.urls = append(h.urls, url)
	if h.failDials > 0 {
		h.failDials--
		return nil, errors.New("connection refused")
	}

	s := &fakeSocket{hub: h, in: make(chan []byte, 64), closed: make(chan struct{})}
	h.sockets = append(h.sockets, s)
	s.push(map[string]any{"type": msgAuthRequired, "ha_version": "2026.10.0"})
	return s, nil
}

func (h *fakeHub) receive(s *fakeSocket, msg map[string]any) {
	if msg["type"] == msgAuth {
		token, _ := msg["access_token"].(string)
		h.mu.Lock()
		h.tokens = append(h.tokens, token)
		ok := h.valid[token]
		h.mu.Unlock()

		if ok {
			s.push(map[string]any{"type": msgAuthOK})
		} else {
			s.push(map[string]any{"type": msgAuthInvalid, "message": "Invalid access token or password"})
		}
		return
	}

	h.mu.Lock()
	handle := h.handle
	h.mu.Unlock()
	if handle != nil {
		handle(s, msg)
		return
	}
	s.push(map[string]any{"id": msg["id"], "type": msgResult, "success": true, "result": nil})
}

func (h *fakeHub) setHandler(fn func(s *fakeSocket, msg map[string]any)) {
	h.mu.Lock()
	h.handle = fn
	h.mu.Unlock()
}

func (h *fakeHub) socket(i int) *fakeSocket {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sockets[i]
}

func (h *fakeHub) socketCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sockets)
}

func (h *fakeHub) authTokens() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.tokens...)
}

// memStore is an in-memory Store with kvstore's JSON and subtree semantics.
type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string][]byte)}
}

func (s *memStore) Get(_ context.Context, path string, out any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, ok := s.data[path]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, out)
}

func (s *memStore) Set(_ context.Context, path string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[path] = raw
	return nil
}

func (s *memStore) Delete(_ context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.data {
		if k == path || strings.HasPrefix(k, path+"/") {
			delete(s.data, k)
		}
	}
	return nil
}

func (s *memStore) getString(t *testing.T, path string) (string, bool) {
	t.Helper()
	var v string
	found, err := s.Get(context.Background(), path, &v)
	if err != nil {
		t.Fatalf("Get(%q) error = %v", path, err)
	}
	return v, found
}

func testHubConfig() config.HubConfig {
	return config.HubConfig{
		URL:               "http://hub.test:8123",
		SupervisorWSURL:   "ws://supervisor/core/websocket",
		SupervisorRESTURL: "http://supervisor/core/api",
		ClientName:        "Test Companion",
		RequestTimeout:    5,
		Reconnect: config.HubReconnectConfig{
			BaseDelay: 0,
			Unit:      1000,
			MaxDelay:  300000,
		},
	}
}

var testEpoch = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestManager(t *testing.T, h *fakeHub, cfg config.HubConfig, store Store) (*Manager, *scheduler.FakeClock) {
	t.Helper()
	clock := scheduler.NewFakeClock(testEpoch)
	m := NewManager(cfg, store, WithDialer(h), WithClock(clock))
	t.Cleanup(func() { m.Close() }) //nolint:errcheck // Test cleanup
	return m, clock
}

// waitFor polls cond until it holds or the test times out.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}
