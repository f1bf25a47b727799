package shm

import "errors"

var (
	// ErrNoReceiver indicates no client is currently listening for a descriptor.
	ErrNoReceiver = errors.New("no descriptor receiver listening")

	// ErrNoDescriptor indicates a message arrived without a file descriptor.
	ErrNoDescriptor = errors.New("message carried no file descriptor")

	// ErrSegmentSize indicates a mapped file does not have the expected size.
	ErrSegmentSize = errors.New("unexpected segment size")

	// ErrTokenClosed indicates a token was used after it was closed.
	ErrTokenClosed = errors.New("token closed")

	// ErrRegionFull indicates the message snapshot does not fit the message region.
	ErrRegionFull = errors.New("message region full")
)
