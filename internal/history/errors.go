package history

import "errors"

// Sentinel errors for history operations.
var (
	// ErrDisabled indicates history is disabled in configuration.
	ErrDisabled = errors.New("history: disabled in configuration")

	// ErrConnectionFailed indicates the initial connection attempt failed.
	ErrConnectionFailed = errors.New("history: connection failed")
)
