package registry

import "errors"

// Domain errors for the registry package.
var (
	// ErrNotConnected is returned by writes and rebuilds while the hub
	// connection is down. Cached data is left untouched.
	ErrNotConnected = errors.New("registry: not connected")

	// ErrNotFound is returned when the hub reports an unknown entity.
	ErrNotFound = errors.New("registry: not found")
)
