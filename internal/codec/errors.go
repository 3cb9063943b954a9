package codec

import "errors"

// Sentinel errors returned by the decoders.
var (
	// ErrEmptyLine indicates the coordinator sent a blank line.
	ErrEmptyLine = errors.New("codec: empty line")

	// ErrMalformedLine indicates a serial line that does not match the
	// telemetry grammar.
	ErrMalformedLine = errors.New("codec: malformed telemetry line")

	// ErrUnknownChannel indicates a cloud message on an undefined virtual channel.
	ErrUnknownChannel = errors.New("codec: unknown virtual channel")

	// ErrInvalidValue indicates a cloud command value other than 0 or 1.
	ErrInvalidValue = errors.New("codec: invalid power state value")
)
