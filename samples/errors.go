package samples

import "errors"

var (
	// ErrInvalidCoefficient indicates a filter coefficient outside [0, 1].
	ErrInvalidCoefficient = errors.New("coefficient must be within [0, 1]")

	// ErrInvalidGain indicates a gain outside [0, MaxGain].
	ErrInvalidGain = errors.New("gain out of range")

	// ErrInvalidChannels indicates an unusable channel count.
	ErrInvalidChannels = errors.New("invalid channel count")

	// ErrInvalidSampleRate indicates a zero or negative sample rate.
	ErrInvalidSampleRate = errors.New("invalid sample rate")

	// ErrQueueFull indicates that an OpusSource holds as much audio as it may buffer.
	ErrQueueFull = errors.New("opus source queue full")
)
