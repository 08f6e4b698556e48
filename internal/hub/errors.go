package hub

import (
	"errors"
	"fmt"
)

// Domain errors for the hub package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, hub.ErrInvalidAuth) {
//	    // ask the user for new credentials
//	}
var (
	// ErrInvalidAuth is returned when the hub rejects the credentials.
	// It is never retried.
	ErrInvalidAuth = errors.New("hub: invalid auth")

	// ErrNoCredentials is returned when an explicit reauthentication was
	// requested but no token could be resolved.
	ErrNoCredentials = errors.New("hub: no credentials")

	// ErrNotConnected is returned for requests while the socket is down.
	ErrNotConnected = errors.New("hub: not connected")

	// ErrConnectionLost is returned to requests in flight when the socket drops.
	ErrConnectionLost = errors.New("hub: connection lost")

	// ErrConnectionClosed is returned after Close.
	ErrConnectionClosed = errors.New("hub: connection closed")

	// ErrSupervised is returned by operations unavailable in supervised mode.
	ErrSupervised = errors.New("hub: not available in supervised mode")

	// ErrRequestFailed is returned for REST calls with a non-2xx answer.
	ErrRequestFailed = errors.New("hub: request failed")
)

// ResultError is an error result returned by the hub for a request.
type ResultError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *ResultError) Error() string {
	return fmt.Sprintf("hub: %s: %s", e.Code, e.Message)
}
