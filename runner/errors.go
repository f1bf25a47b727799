package runner

import "errors"

var (
	// ErrProtocolVersion indicates the runner was built for another segment layout.
	ErrProtocolVersion = errors.New("protocol version mismatch")

	// ErrInvalidToken indicates the attachment token does not hold a descriptor.
	ErrInvalidToken = errors.New("invalid attachment token")

	// ErrInvalidSlot indicates a slot index outside the slot table.
	ErrInvalidSlot = errors.New("invalid slot index")

	// ErrTimedOut indicates the runner was evicted by its watchdog.
	ErrTimedOut = errors.New("runner timed out")
)
