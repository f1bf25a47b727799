//go:build linux

package shm

import (
	"math"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	futexWait = 0
	futexWake = 1
)

// Barrier is a single-bit futex: 0 means lowered, 1 means raised. Any other value
// means the word was overwritten and every wait fails.
type Barrier struct {
	p *int32
}

// NewBarrier returns a barrier backed by the given word.
func NewBarrier(p *int32) Barrier {
	return Barrier{p: p}
}

// Clobber lowers the barrier unconditionally.
func (b Barrier) Clobber() {
	atomic.StoreInt32(b.p, 0)
}

// Wake raises the barrier and wakes all waiters. It returns false if the barrier was
// not lowered.
func (b Barrier) Wake() bool {
	if !atomic.CompareAndSwapInt32(b.p, 0, 1) {
		return false
	}
	unix.Syscall6(unix.SYS_FUTEX, uintptr(unsafe.Pointer(b.p)), futexWake, math.MaxInt32, 0, 0, 0)
	return true
}

// Raised reports whether the barrier is currently raised.
func (b Barrier) Raised() bool {
	return atomic.LoadInt32(b.p) == 1
}

// Wait blocks until the barrier is raised or the monotonic deadline (nanoseconds, see
// Now) passes. A zero deadline waits forever. It reports whether the barrier was raised.
func (b Barrier) Wait(deadline int64) bool {
	for {
		switch atomic.LoadInt32(b.p) {
		case 1:
			return true
		case 0:
		default:
			return false
		}
		var ts *unix.Timespec
		if deadline != 0 {
			remaining := deadline - Now()
			if remaining <= 0 {
				return atomic.LoadInt32(b.p) == 1
			}
			t := unix.NsecToTimespec(remaining)
			ts = &t
		}
		// EAGAIN, EINTR and ETIMEDOUT all lead back to the value check.
		unix.Syscall6(unix.SYS_FUTEX, uintptr(unsafe.Pointer(b.p)), futexWait, 0, uintptr(unsafe.Pointer(ts)), 0, 0)
	}
}

// WaitAndClear waits like Wait and lowers the barrier again if it was raised.
func (b Barrier) WaitAndClear(deadline int64) bool {
	if !b.Wait(deadline) {
		return false
	}
	return atomic.CompareAndSwapInt32(b.p, 1, 0)
}

// Now returns the monotonic clock in nanoseconds. Deadlines stored in the slot table
// use this clock so that every process agrees on them.
func Now() int64 {
	var ts unix.Timespec
	unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts)
	return ts.Nano()
}
