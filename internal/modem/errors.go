package modem

import "errors"

var (
	// ErrInvalidInput reports an empty or degenerate sample buffer or kernel.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInsufficientSamples reports that timing recovery produced no symbols.
	ErrInsufficientSamples = errors.New("insufficient samples")

	// ErrSynchronization reports that the preamble peak does not leave room
	// for a complete payload.
	ErrSynchronization = errors.New("synchronization failure")
)
