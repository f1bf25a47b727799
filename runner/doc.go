// Package runner binds a client's processing context to an engine slot.
//
// A Runner maps the segment behind an attachment token and services one slot of
// the slot table: each render cycle it reports readiness, waits to be woken,
// sums the slot's input connections, invokes the configured ProcessFunc and
// signals that its output is ready.
//
// Every invocation is guarded by a watchdog. A callback that does not return
// within the watchdog timeout (one second by default), or that panics, evicts the
// runner: the slot is marked timed out in shared memory, the service loop exits,
// and the goroutine still inside the callback is abandoned. A timed-out runner
// never processes again; its owner is expected to release it and attach afresh.
//
// Example:
//
//	r, err := runner.New(limits.ProtocolVersion, token, slot)
//	if err != nil {
//		return err
//	}
//	r.Configure(func(sampleRate, frames, inCh int, in []float32, outCh int, out []float32) {
//		copy(out, in)
//	})
//	defer r.Release()
package runner
