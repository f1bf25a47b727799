//go:build unix

package shm

import (
	"sync"

	"golang.org/x/sys/unix"
)

// Token is a transferable handle to a shared memory segment. A valid token wraps an
// open file descriptor; an invalid token carries the negative status code explaining
// why no descriptor was obtained.
type Token struct {
	mu     sync.Mutex
	fd     int
	closed bool
}

// NewToken wraps an open file descriptor. Ownership of fd passes to the token.
func NewToken(fd int) *Token {
	return &Token{fd: fd}
}

// InvalidToken returns a token that carries the given negative code instead of a descriptor.
func InvalidToken(code int) *Token {
	if code >= 0 {
		code = -1
	}
	return &Token{fd: code}
}

// FD returns the wrapped descriptor, or -1 once the token is closed or invalid.
func (t *Token) FD() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || t.fd < 0 {
		return -1
	}
	return t.fd
}

// Valid reports whether the token still wraps an open descriptor.
func (t *Token) Valid() bool {
	if t == nil {
		return false
	}
	return t.FD() >= 0
}

// Code returns the failure code of an invalid token and 0 for a valid one.
func (t *Token) Code() int {
	if t == nil {
		return -1
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fd < 0 {
		return t.fd
	}
	return 0
}

// Closed reports whether Close has been called on a valid token.
func (t *Token) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Close releases the descriptor. Closing an invalid or already closed token is a no-op.
func (t *Token) Close() error {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || t.fd < 0 {
		return nil
	}
	t.closed = true
	return unix.Close(t.fd)
}
