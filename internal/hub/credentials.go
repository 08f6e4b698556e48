package hub

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/oauth2"
)

// Credentials carry the hub location and the access token used for the
// websocket handshake and REST calls.
//
// Long-lived tokens never expire. Tokens with an expiry are refreshed through
// the optional TokenSource right before the auth message is sent.
type Credentials struct {
	// URL is the hub base URL, e.g. "http://homeassistant.local:8123".
	URL string

	// WSURL is the websocket endpoint, derived from URL unless set.
	WSURL string

	mu     sync.Mutex
	token  *oauth2.Token
	source oauth2.TokenSource
}

// LongLivedCredentials builds credentials for a non-expiring access token.
func LongLivedCredentials(hubURL, accessToken string) *Credentials {
	return NewCredentials(hubURL, &oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"}, nil)
}

// NewCredentials builds credentials from an OAuth2 token and an optional
// source used to refresh it once expired.
func NewCredentials(hubURL string, token *oauth2.Token, source oauth2.TokenSource) *Credentials {
	return &Credentials{
		URL:    strings.TrimRight(hubURL, "/"),
		WSURL:  WebsocketURL(hubURL),
		token:  token,
		source: source,
	}
}

// WebsocketURL derives the websocket endpoint from a hub base URL:
// http becomes ws, https becomes wss, and /api/websocket is appended.
func WebsocketURL(hubURL string) string {
	u, err := url.Parse(strings.TrimRight(hubURL, "/"))
	if err != nil || u.Host == "" {
		return ""
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/websocket"
	return u.String()
}

// Expired reports whether the current token can no longer be used as is.
func (c *Credentials) Expired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.token.Valid()
}

// AccessToken returns a usable access token, refreshing it first if expired.
//
// Returns:
//   - string: Access token for the auth message or bearer header
//   - error: ErrInvalidAuth if the refresh was rejected or impossible,
//     otherwise the transient refresh failure
func (c *Credentials) AccessToken(_ context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token.Valid() {
		return c.token.AccessToken, nil
	}
	if c.source == nil {
		return "", fmt.Errorf("%w: token expired and cannot be refreshed", ErrInvalidAuth)
	}

	tok, err := c.source.Token()
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil && re.Response.StatusCode < http.StatusInternalServerError {
			return "", fmt.Errorf("%w: refresh rejected: %w", ErrInvalidAuth, err)
		}
		return "", fmt.Errorf("refreshing token: %w", err)
	}
	c.token = tok
	return tok.AccessToken, nil
}
