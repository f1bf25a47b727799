//go:build linux

package runner

import (
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/opd-ai/patchfield/limits"
	"github.com/opd-ai/patchfield/shm"
	"github.com/sirupsen/logrus"
)

// DefaultWatchdogTimeout is the longest a processing callback may run.
const DefaultWatchdogTimeout = time.Second

// Option customizes a Runner.
type Option func(*Runner)

// WithWatchdogTimeout sets the per-invocation deadline of the processing callback.
func WithWatchdogTimeout(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithTimeProvider replaces the clock used by the watchdog.
func WithTimeProvider(tp TimeProvider) Option {
	return func(r *Runner) {
		if tp != nil {
			r.timeProvider = tp
		}
	}
}

// Runner services one engine slot from the client side.
type Runner struct {
	seg  *shm.Segment
	slot int

	timeout      time.Duration
	timeProvider TimeProvider

	process atomic.Pointer[ProcessFunc]

	done     atomic.Bool
	timedOut atomic.Bool
	released atomic.Bool

	// exited is closed when the service loop returns.
	exited chan struct{}

	// The worker goroutine runs callbacks so that the loop can abandon one that
	// overruns the watchdog.
	jobs         chan struct{}
	results      chan any
	workerExited chan struct{}
}

// New maps the segment behind token and starts servicing slot. The token stays
// owned by the caller; the runner keeps its own mapping until Release.
func New(version int, token *shm.Token, slot int, opts ...Option) (*Runner, error) {
	if version != limits.ProtocolVersion {
		logrus.WithFields(logrus.Fields{
			"function": "New",
			"version":  version,
			"expected": limits.ProtocolVersion,
		}).Warn("Protocol version mismatch")
		return nil, fmt.Errorf("%w: got %d, want %d", ErrProtocolVersion, version, limits.ProtocolVersion)
	}
	if !token.Valid() {
		return nil, ErrInvalidToken
	}
	if slot < limits.SystemModules || slot >= limits.MaxModules {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSlot, slot)
	}

	seg, err := shm.Map(token.FD())
	if err != nil {
		return nil, fmt.Errorf("map segment: %w", err)
	}

	r := &Runner{
		seg:          seg,
		slot:         slot,
		timeout:      DefaultWatchdogTimeout,
		timeProvider: DefaultTimeProvider{},
		exited:       make(chan struct{}),
		jobs:         make(chan struct{}),
		results:      make(chan any, 1),
		workerExited: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}

	s := seg.Slot(slot)
	s.Report().Clobber()
	s.Wake().Clobber()
	s.Ready().Clobber()

	go r.work()
	go r.loop()

	logrus.WithFields(logrus.Fields{
		"function": "New",
		"slot":     slot,
		"timeout":  r.timeout,
	}).Info("Runner started")

	return r, nil
}

// Configure installs the processing callback. Until it is called the runner emits
// silence. Configuring a released runner is a programming error.
func (r *Runner) Configure(fn ProcessFunc) error {
	if r.released.Load() {
		panic("runner: Configure called after Release")
	}
	if r.timedOut.Load() {
		return ErrTimedOut
	}
	r.process.Store(&fn)
	return nil
}

// Slot returns the engine slot the runner services.
func (r *Runner) Slot() int { return r.slot }

// SampleRate returns the sample rate of the slot.
func (r *Runner) SampleRate() int { return r.seg.Slot(r.slot).SampleRate() }

// BufferFrames returns the block length of the slot.
func (r *Runner) BufferFrames() int { return r.seg.Slot(r.slot).BufferFrames() }

// InputChannels returns the input channel count of the slot.
func (r *Runner) InputChannels() int { return r.seg.Slot(r.slot).InputChannels() }

// OutputChannels returns the output channel count of the slot.
func (r *Runner) OutputChannels() int { return r.seg.Slot(r.slot).OutputChannels() }

// Messages returns the messages posted for the current render cycle. It is meant to
// be called from the processing callback.
func (r *Runner) Messages() [][]byte {
	if r.released.Load() {
		return nil
	}
	return r.seg.ReadMessages()
}

// HasTimedOut reports whether the watchdog evicted the runner.
func (r *Runner) HasTimedOut() bool {
	return r.timedOut.Load()
}

func (r *Runner) loop() {
	defer close(r.exited)
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	s := r.seg.Slot(r.slot)
	for {
		s.Report().Wake()
		woken := s.Wake().WaitAndClear(0)
		if r.done.Load() {
			break
		}
		if !woken {
			logrus.WithFields(logrus.Fields{
				"function": "loop",
				"slot":     r.slot,
			}).Warn("Wake barrier corrupted; leaving slot")
			return
		}
		r.seg.CollectInput(r.slot)
		if reason := r.invoke(); reason != nil {
			r.timedOut.Store(true)
			s.MarkTimedOut()
			logrus.WithFields(logrus.Fields{
				"function": "loop",
				"slot":     r.slot,
				"reason":   fmt.Sprint(reason),
			}).Warn("Process callback evicted by watchdog; terminating runner")
			return
		}
		s.Ready().Wake()
	}

	logrus.WithFields(logrus.Fields{
		"function": "loop",
		"slot":     r.slot,
	}).Debug("Runner loop finished")
}

// invoke runs the callback on the worker and returns a non-nil reason when it
// overran the watchdog or panicked.
func (r *Runner) invoke() any {
	if r.process.Load() == nil {
		clear(r.seg.Slot(r.slot).Output())
		return nil
	}
	start := r.timeProvider.Now()
	r.jobs <- struct{}{}
	select {
	case p := <-r.results:
		return p
	case <-r.timeProvider.After(r.timeout):
		return fmt.Sprintf("no return after %v", r.timeProvider.Since(start))
	}
}

func (r *Runner) work() {
	defer close(r.workerExited)
	for range r.jobs {
		r.results <- r.call()
	}
}

func (r *Runner) call() (p any) {
	defer func() {
		if v := recover(); v != nil {
			p = fmt.Sprintf("panic: %v", v)
		}
	}()
	fn := *r.process.Load()
	s := r.seg.Slot(r.slot)
	fn(s.SampleRate(), s.BufferFrames(), s.InputChannels(), s.Input(), s.OutputChannels(), s.Output())
	return nil
}

// Release stops the service loop and unmaps the segment. It is idempotent. If a
// callback abandoned by the watchdog is still running, unmapping is deferred until
// it returns.
func (r *Runner) Release() error {
	if !r.released.CompareAndSwap(false, true) {
		return nil
	}
	r.done.Store(true)
	r.seg.Slot(r.slot).Wake().Wake()
	<-r.exited
	close(r.jobs)

	select {
	case <-r.workerExited:
	default:
		if !r.timedOut.Load() {
			<-r.workerExited
			break
		}
		logrus.WithFields(logrus.Fields{
			"function": "Release",
			"slot":     r.slot,
		}).Warn("Abandoned callback still running; deferring unmap")
		go func() {
			<-r.workerExited
			r.seg.Close()
		}()
		return nil
	}

	logrus.WithFields(logrus.Fields{
		"function": "Release",
		"slot":     r.slot,
	}).Info("Runner released")

	return r.seg.Close()
}
