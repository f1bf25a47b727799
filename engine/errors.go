package engine

import "errors"

var (
	// ErrInvalidOptions indicates the engine was configured with impossible parameters.
	ErrInvalidOptions = errors.New("invalid engine options")
)
