package hub

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

type tokenSourceFunc func() (*oauth2.Token, error)

func (f tokenSourceFunc) Token() (*oauth2.Token, error) { return f() }

func TestWebsocketURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"http://homeassistant.local:8123", "ws://homeassistant.local:8123/api/websocket"},
		{"https://hub.example.com/", "wss://hub.example.com/api/websocket"},
		{"https://hub.example.com/prefix", "wss://hub.example.com/prefix/api/websocket"},
		{"not a url", ""},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := WebsocketURL(tt.in); got != tt.want {
				t.Errorf("WebsocketURL(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestCredentials_AccessToken(t *testing.T) {
	ctx := context.Background()
	expired := &oauth2.Token{AccessToken: "old", Expiry: time.Now().Add(-time.Hour)}

	t.Run("long lived never refreshes", func(t *testing.T) {
		c := LongLivedCredentials("http://hub.test", "abc")
		if c.Expired() {
			t.Fatal("Expired() = true for long-lived token")
		}
		got, err := c.AccessToken(ctx)
		if err != nil || got != "abc" {
			t.Errorf("AccessToken() = %q, %v", got, err)
		}
	})

	t.Run("expired without source is invalid auth", func(t *testing.T) {
		c := NewCredentials("http://hub.test", expired, nil)
		if !c.Expired() {
			t.Fatal("Expired() = false")
		}
		if _, err := c.AccessToken(ctx); !errors.Is(err, ErrInvalidAuth) {
			t.Errorf("AccessToken() error = %v, want ErrInvalidAuth", err)
		}
	})

	t.Run("refresh succeeds", func(t *testing.T) {
		calls := 0
		c := NewCredentials("http://hub.test", expired, tokenSourceFunc(func() (*oauth2.Token, error) {
			calls++
			return &oauth2.Token{AccessToken: "new", Expiry: time.Now().Add(time.Hour)}, nil
		}))
		for range 2 {
			got, err := c.AccessToken(ctx)
			if err != nil || got != "new" {
				t.Fatalf("AccessToken() = %q, %v", got, err)
			}
		}
		if calls != 1 {
			t.Errorf("refresh calls = %d, want 1", calls)
		}
	})

	t.Run("rejected refresh is invalid auth", func(t *testing.T) {
		c := NewCredentials("http://hub.test", expired, tokenSourceFunc(func() (*oauth2.Token, error) {
			return nil, &oauth2.RetrieveError{Response: &http.Response{StatusCode: http.StatusBadRequest}}
		}))
		if _, err := c.AccessToken(ctx); !errors.Is(err, ErrInvalidAuth) {
			t.Errorf("AccessToken() error = %v, want ErrInvalidAuth", err)
		}
	})

	t.Run("server error on refresh is transient", func(t *testing.T) {
		c := NewCredentials("http://hub.test", expired, tokenSourceFunc(func() (*oauth2.Token, error) {
			return nil, &oauth2.RetrieveError{Response: &http.Response{StatusCode: http.StatusBadGateway}}
		}))
		_, err := c.AccessToken(ctx)
		if err == nil || errors.Is(err, ErrInvalidAuth) {
			t.Errorf("AccessToken() error = %v, want transient error", err)
		}
	})
}

func TestDecodeFrame(t *testing.T) {
	envs, err := decodeFrame([]byte(` [{"id":1,"type":"result","success":true},{"id":2,"type":"event","event":{}}]`))
	if err != nil {
		t.Fatalf("decodeFrame() error = %v", err)
	}
	if len(envs) != 2 || envs[0].ID != 1 || envs[1].Type != msgEvent {
		t.Errorf("decodeFrame() = %+v", envs)
	}

	envs, err = decodeFrame([]byte(`{"id":7,"type":"result","success":false,"error":{"code":"not_found","message":"x"}}`))
	if err != nil {
		t.Fatalf("decodeFrame() error = %v", err)
	}
	if len(envs) != 1 || envs[0].Error == nil || envs[0].Error.Code != "not_found" {
		t.Errorf("decodeFrame() = %+v", envs)
	}

	if _, err := decodeFrame([]byte(`{`)); err == nil {
		t.Error("decodeFrame() accepted malformed JSON")
	}
}
