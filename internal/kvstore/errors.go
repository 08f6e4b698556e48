package kvstore

import "errors"

// Domain errors for the kvstore package.
var (
	// ErrInvalidPath is returned when a path is empty after normalisation.
	ErrInvalidPath = errors.New("kvstore: invalid path")
)
