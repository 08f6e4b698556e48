package hub

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"

	"github.com/nerrad567/hub-companion/internal/infrastructure/config"
)

func newTestREST(t *testing.T, handler http.HandlerFunc, cfg config.HubRESTConfig) *RESTClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	endpoint := func(context.Context) (string, string, error) {
		return srv.URL + "/api", "secret", nil
	}
	return NewRESTClient(srv.Client(), cfg, endpoint, nil)
}

func TestRESTClient_History(t *testing.T) {
	c := newTestREST(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Path != "/api/history/period/2026-06-01T00:00:00Z" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("filter_entity_id"); got != "switch.garden_valve" {
			t.Errorf("filter_entity_id = %q", got)
		}
		if got := r.URL.Query().Get("end_time"); got != "2026-06-02T00:00:00Z" {
			t.Errorf("end_time = %q", got)
		}
		body := `[[
			{"entity_id":"switch.garden_valve","state":"on","last_changed":"2026-06-01T06:00:00+00:00"},
			{"state":"off","last_changed":"2026-06-01T06:20:00+00:00"}
		]]`
		w.Write([]byte(body)) //nolint:errcheck // Test response
	}, config.HubRESTConfig{})

	start := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	series, err := c.History(context.Background(), "switch.garden_valve", start, start.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(series) != 1 || len(series[0]) != 2 {
		t.Fatalf("History() = %+v", series)
	}
	if series[0][1].State != "off" || series[0][1].LastChanged.Sub(series[0][0].LastChanged) != 20*time.Minute {
		t.Errorf("History() entries = %+v", series[0])
	}
}

func TestRESTClient_RetryPolicy(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		method   string
		wantHits int32
		wantAuth bool
	}{
		{"client error is permanent", http.StatusNotFound, http.MethodGet, 1, false},
		{"unauthorized maps to invalid auth", http.StatusUnauthorized, http.MethodGet, 1, true},
		{"server error retried for GET", http.StatusBadGateway, http.MethodGet, 2, false},
		{"server error not retried for POST", http.StatusBadGateway, http.MethodPost, 1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hits atomic.Int32
			c := newTestREST(t, func(w http.ResponseWriter, _ *http.Request) {
				hits.Add(1)
				w.WriteHeader(tt.status)
			}, config.HubRESTConfig{Retries: 1, BreakerFailures: 10})

			var err error
			if tt.method == http.MethodGet {
				err = c.Get(context.Background(), "/states", nil)
			} else {
				err = c.Post(context.Background(), "/services/x/y", map[string]any{}, nil)
			}

			if !errors.Is(err, ErrRequestFailed) {
				t.Errorf("error = %v, want ErrRequestFailed", err)
			}
			if errors.Is(err, ErrInvalidAuth) != tt.wantAuth {
				t.Errorf("errors.Is(ErrInvalidAuth) = %v, want %v", !tt.wantAuth, tt.wantAuth)
			}
			if hits.Load() != tt.wantHits {
				t.Errorf("hits = %d, want %d", hits.Load(), tt.wantHits)
			}
		})
	}
}

func TestRESTClient_BreakerOpens(t *testing.T) {
	var hits atomic.Int32
	c := newTestREST(t, func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}, config.HubRESTConfig{BreakerFailures: 2, BreakerOpenSeconds: 60})

	for range 2 {
		c.Get(context.Background(), "/states", nil) //nolint:errcheck // Tripping the breaker
	}

	err := c.Get(context.Background(), "/states", nil)
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("error = %v, want ErrOpenState", err)
	}
	if hits.Load() != 2 {
		t.Errorf("hits = %d, want 2", hits.Load())
	}
}

func TestRESTClient_NoEndpoint(t *testing.T) {
	c := NewRESTClient(nil, config.HubRESTConfig{Retries: 3}, func(context.Context) (string, string, error) {
		return "", "", ErrNotConnected
	}, nil)

	if err := c.Get(context.Background(), "/states", nil); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Get() error = %v, want ErrNotConnected", err)
	}
}

func TestRESTClient_OfflineDoesNotTripBreaker(t *testing.T) {
	var offline atomic.Bool
	offline.Store(true)
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.Write([]byte(`[]`)) //nolint:errcheck // Test server
	}))
	t.Cleanup(srv.Close)

	c := NewRESTClient(srv.Client(), config.HubRESTConfig{BreakerFailures: 2, BreakerOpenSeconds: 60},
		func(context.Context) (string, string, error) {
			if offline.Load() {
				return "", "", ErrNotConnected
			}
			return srv.URL, "token", nil
		}, nil)

	for range 5 {
		if err := c.Get(context.Background(), "/states", nil); !errors.Is(err, ErrNotConnected) {
			t.Fatalf("offline Get() error = %v, want ErrNotConnected", err)
		}
	}

	offline.Store(false)
	if err := c.Get(context.Background(), "/states", nil); err != nil {
		t.Fatalf("Get() after reconnect error = %v", err)
	}
	if hits.Load() != 1 {
		t.Errorf("hits = %d, want 1", hits.Load())
	}
}
