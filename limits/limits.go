// Package limits provides centralized capacity limits for the patchfield engine.
// This ensures consistent validation across the registry, the engine and the
// client-side runners that share one memory layout.
package limits

import (
	"errors"
	"fmt"
)

const (
	// ProtocolVersion identifies the shared-memory layout and the attachment handshake.
	// Clients refuse to attach to a service reporting a different version.
	ProtocolVersion = 6

	// MaxModules is the number of engine slots, including the two system modules.
	MaxModules = 32

	// MaxConnections is the number of input connections a single sink module can hold.
	MaxConnections = 16

	// SystemModules is the number of built-in modules occupying the first slots.
	SystemModules = 2

	// SegmentSize is the size in bytes of the shared audio segment.
	SegmentSize = 262144

	// MaxMessageLength is the largest payload accepted by PostMessage.
	MaxMessageLength = 1024

	// MessageRegionSize is the space per render cycle available to queued messages,
	// including the 4-byte length prefix and padding of each message.
	MessageRegionSize = 16384

	// MaxChannels bounds the channel count of a single module side.
	MaxChannels = 64
)

var (
	// ErrMessageTooLong is returned for payloads above MaxMessageLength.
	ErrMessageTooLong = errors.New("message longer than MaxMessageLength")

	// ErrMessageEmpty is returned for zero-length payloads.
	ErrMessageEmpty = errors.New("message has no payload")

	// ErrInvalidChannels indicates a channel configuration no module can have
	ErrInvalidChannels = errors.New("invalid channel counts")
)

// ValidateMessage checks a payload for PostMessage. Length is checked before
// emptiness, so an oversized payload always reports ErrMessageTooLong.
func ValidateMessage(payload []byte) error {
	switch n := len(payload); {
	case n > MaxMessageLength:
		return fmt.Errorf("%w: %d bytes", ErrMessageTooLong, n)
	case n == 0:
		return ErrMessageEmpty
	}
	return nil
}

// ValidateChannels checks that a module has non-negative channel counts, at least
// one channel in total, and no side above MaxChannels.
func ValidateChannels(inputChannels, outputChannels int) error {
	if inputChannels < 0 || outputChannels < 0 {
		return fmt.Errorf("%w: negative count (in=%d, out=%d)", ErrInvalidChannels, inputChannels, outputChannels)
	}
	if inputChannels+outputChannels == 0 {
		return fmt.Errorf("%w: module has no channels", ErrInvalidChannels)
	}
	if inputChannels > MaxChannels || outputChannels > MaxChannels {
		return fmt.Errorf("%w: more than %d channels on one side (in=%d, out=%d)",
			ErrInvalidChannels, MaxChannels, inputChannels, outputChannels)
	}
	return nil
}

// PaddedMessageSize returns the number of bytes a message occupies in the message
// region: a 4-byte length prefix followed by the payload rounded up to 4 bytes.
func PaddedMessageSize(length int) int {
	if rem := length & 0x03; rem != 0 {
		length += 4 - rem
	}
	return length + 4
}
