//go:build linux

package engine

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opd-ai/patchfield/limits"
	"github.com/opd-ai/patchfield/shm"
	"github.com/opd-ai/patchfield/status"
	"github.com/sirupsen/logrus"
)

// DefaultRendezvous is the abstract unix socket name clients listen on for the
// segment descriptor.
const DefaultRendezvous = "@patchfield-shm"

// Options configures a Local engine.
type Options struct {
	SampleRate     int
	BufferFrames   int
	InputChannels  int
	OutputChannels int

	// Rendezvous is the address SendSharedMemoryFileDescriptor delivers to.
	// Empty means DefaultRendezvous.
	Rendezvous string

	// Device defaults to NullDevice.
	Device Device

	// Recorder is optional.
	Recorder Recorder
}

// Local is the reference engine. It owns one shared segment and renders its slot
// table on a goroutine while the transport runs.
type Local struct {
	sampleRate     int
	bufferFrames   int
	inputChannels  int
	outputChannels int
	rendezvous     string
	period         time.Duration

	seg      *shm.Segment
	device   Device
	recorder Recorder
	evicted  [limits.MaxModules]atomic.Bool

	// mu guards the buffer allocator and serializes reclamation with allocation.
	mu         sync.Mutex
	nextBuffer int
	closed     atomic.Bool

	messages messageQueue

	// transport serializes Start, Stop and Close.
	transport sync.Mutex
	running   atomic.Bool
	stop      chan struct{}
	done      chan struct{}

	// Per-channel views of the system slots. System slots hold the lowest buffers
	// and are never deleted, so compaction never moves them.
	capture  [][]float32
	playback [][]float32
}

var _ Binding = (*Local)(nil)

// NewLocal creates the shared segment, allocates and activates the two system
// modules, and returns a stopped engine.
func NewLocal(opts Options) (*Local, error) {
	logrus.WithFields(logrus.Fields{
		"function":        "NewLocal",
		"sample_rate":     opts.SampleRate,
		"buffer_frames":   opts.BufferFrames,
		"input_channels":  opts.InputChannels,
		"output_channels": opts.OutputChannels,
	}).Info("Creating local engine")

	if opts.SampleRate <= 0 || opts.BufferFrames <= 0 {
		return nil, fmt.Errorf("%w: sample rate %d, buffer frames %d", ErrInvalidOptions, opts.SampleRate, opts.BufferFrames)
	}
	if opts.InputChannels < 0 || opts.InputChannels > limits.MaxChannels ||
		opts.OutputChannels < 0 || opts.OutputChannels > limits.MaxChannels {
		return nil, fmt.Errorf("%w: device channels in=%d out=%d", ErrInvalidOptions, opts.InputChannels, opts.OutputChannels)
	}
	if opts.Rendezvous == "" {
		opts.Rendezvous = DefaultRendezvous
	}
	if opts.Device == nil {
		opts.Device = NullDevice{}
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}

	seg, err := shm.Create("patchfield")
	if err != nil {
		return nil, fmt.Errorf("create segment: %w", err)
	}
	seg.Lock()

	e := &Local{
		sampleRate:     opts.SampleRate,
		bufferFrames:   opts.BufferFrames,
		inputChannels:  opts.InputChannels,
		outputChannels: opts.OutputChannels,
		rendezvous:     opts.Rendezvous,
		period:         time.Duration(opts.BufferFrames) * time.Second / time.Duration(opts.SampleRate),
		seg:            seg,
		device:         opts.Device,
		recorder:       opts.Recorder,
		nextBuffer:     shm.BufferOffset,
	}

	in := e.allocateLocked(0, opts.InputChannels)
	out := e.allocateLocked(opts.OutputChannels, 0)
	if in != 0 || out != 1 {
		seg.Close()
		return nil, fmt.Errorf("%w: no room for system modules (%d, %d)", ErrInvalidOptions, in, out)
	}
	seg.Slot(0).SetActive(true)
	seg.Slot(1).SetActive(true)

	e.capture = e.blocks(seg.Slot(0).OutputBuffer(), opts.InputChannels)
	e.playback = e.blocks(seg.Slot(1).InputBuffer(), opts.OutputChannels)

	logrus.WithFields(logrus.Fields{
		"function":   "NewLocal",
		"period":     e.period,
		"rendezvous": e.rendezvous,
		"fd":         seg.FD(),
	}).Info("Local engine created")

	return e, nil
}

func (e *Local) blocks(offset, channels int) [][]float32 {
	views := make([][]float32, channels)
	for c := range views {
		views[c] = e.seg.Floats(offset+c*e.bufferFrames, e.bufferFrames)
	}
	return views
}

// SampleRate implements Binding.
func (e *Local) SampleRate() int { return e.sampleRate }

// BufferSize implements Binding.
func (e *Local) BufferSize() int { return e.bufferFrames }

// ProtocolVersion implements Binding.
func (e *Local) ProtocolVersion() int { return limits.ProtocolVersion }

// Period returns the duration of one render cycle.
func (e *Local) Period() time.Duration { return e.period }

// Rendezvous returns the address the segment descriptor is delivered to.
func (e *Local) Rendezvous() string { return e.rendezvous }

// SendSharedMemoryFileDescriptor implements Binding. It fails until a client
// listens on the rendezvous address.
func (e *Local) SendSharedMemoryFileDescriptor() int {
	if e.closed.Load() {
		return int(status.Failure)
	}
	if err := shm.Send(e.rendezvous, e.seg.FD()); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":   "SendSharedMemoryFileDescriptor",
			"rendezvous": e.rendezvous,
			"error":      err.Error(),
		}).Debug("Descriptor not delivered")
		return int(status.Failure)
	}
	return int(status.Success)
}

// CreateModule implements Binding.
func (e *Local) CreateModule(inputChannels, outputChannels int) int {
	if limits.ValidateChannels(inputChannels, outputChannels) != nil {
		return int(status.InvalidParameters)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed.Load() {
		return int(status.Failure)
	}
	if !e.running.Load() {
		e.reclaimLocked()
	}
	return e.allocateLocked(inputChannels, outputChannels)
}

func (e *Local) allocateLocked(inputChannels, outputChannels int) int {
	size := (inputChannels + outputChannels) * e.bufferFrames
	if e.nextBuffer+size > limits.SegmentSize/4 {
		return int(status.OutOfBufferSpace)
	}
	for i := 0; i < limits.MaxModules; i++ {
		s := e.seg.Slot(i)
		if s.Status() != shm.StatusFree {
			continue
		}
		input := e.nextBuffer
		output := input + inputChannels*e.bufferFrames
		s.Init(e.sampleRate, e.bufferFrames, inputChannels, outputChannels, input, output)
		e.nextBuffer += size
		e.evicted[i].Store(false)
		s.CompareAndSwapStatus(shm.StatusFree, shm.StatusCurrent)
		return i
	}
	return int(status.TooManyModules)
}

// DeleteModule implements Binding. The slot is slated for deletion and reclaimed
// after the next render cycle, or at once while the transport is stopped.
func (e *Local) DeleteModule(slot int) int {
	s, code := e.current(slot)
	if code != status.Success {
		return int(code)
	}
	s.CompareAndSwapStatus(shm.StatusCurrent, shm.StatusDeleted)
	e.mu.Lock()
	if !e.running.Load() {
		e.reclaimLocked()
	}
	e.mu.Unlock()
	return int(status.Success)
}

// reclaimLocked frees deleted slots and connections and compacts the buffer region.
func (e *Local) reclaimLocked() {
	for i := 0; i < limits.MaxModules; i++ {
		s := e.seg.Slot(i)
		if s.Status() != shm.StatusDeleted {
			for k := 0; k < limits.MaxConnections; k++ {
				s.Connection(k).CompareAndSwapStatus(shm.StatusDeleted, shm.StatusFree)
			}
			continue
		}
		size := (s.InputChannels() + s.OutputChannels()) * e.bufferFrames
		e.nextBuffer -= size
		for j := 0; j < limits.MaxModules; j++ {
			other := e.seg.Slot(j)
			if other.InputBuffer() > s.InputBuffer() {
				other.Shift(size)
			}
			for k := 0; k < limits.MaxConnections; k++ {
				c := other.Connection(k)
				if c.SourceIndex() == i && c.Status() != shm.StatusFree {
					c.Free()
				}
			}
		}
		s.SetInUse(false)
		s.CompareAndSwapStatus(shm.StatusDeleted, shm.StatusFree)
	}
}

// ConnectPorts implements Binding.
func (e *Local) ConnectPorts(sourceSlot, sourcePort, sinkSlot, sinkPort int) int {
	source, code := e.current(sourceSlot)
	if code != status.Success {
		return int(code)
	}
	sink, code := e.current(sinkSlot)
	if code != status.Success {
		return int(code)
	}
	if sourcePort < 0 || sourcePort >= source.OutputChannels() || sinkPort < 0 || sinkPort >= sink.InputChannels() {
		return int(status.PortOutOfRange)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running.Load() {
		e.reclaimLocked()
	}
	if e.IsConnected(sourceSlot, sourcePort, sinkSlot, sinkPort) {
		return int(status.Success)
	}
	for k := 0; k < limits.MaxConnections; k++ {
		c := sink.Connection(k)
		if c.Status() == shm.StatusFree && c.Set(sourceSlot, sourcePort, sinkPort) {
			return int(status.Success)
		}
	}
	return int(status.TooManyConnections)
}

// DisconnectPorts implements Binding. Removing a missing connection succeeds.
func (e *Local) DisconnectPorts(sourceSlot, sourcePort, sinkSlot, sinkPort int) int {
	sink, code := e.current(sinkSlot)
	if code != status.Success {
		return int(code)
	}
	for k := 0; k < limits.MaxConnections; k++ {
		c := sink.Connection(k)
		if c.Matches(sourceSlot, sourcePort, sinkPort) && c.CompareAndSwapStatus(shm.StatusCurrent, shm.StatusDeleted) {
			break
		}
	}
	e.mu.Lock()
	if !e.running.Load() {
		e.reclaimLocked()
	}
	e.mu.Unlock()
	return int(status.Success)
}

// IsConnected implements Binding.
func (e *Local) IsConnected(sourceSlot, sourcePort, sinkSlot, sinkPort int) bool {
	if e.closed.Load() || !validSlot(sinkSlot) {
		return false
	}
	sink := e.seg.Slot(sinkSlot)
	for k := 0; k < limits.MaxConnections; k++ {
		c := sink.Connection(k)
		if c.Matches(sourceSlot, sourcePort, sinkPort) && c.Status() == shm.StatusCurrent {
			return true
		}
	}
	return false
}

// ActivateModule implements Binding.
func (e *Local) ActivateModule(slot int) int {
	s, code := e.current(slot)
	if code != status.Success {
		return int(code)
	}
	s.SetActive(true)
	return int(status.Success)
}

// DeactivateModule implements Binding.
func (e *Local) DeactivateModule(slot int) int {
	s, code := e.current(slot)
	if code != status.Success {
		return int(code)
	}
	s.SetActive(false)
	return int(status.Success)
}

// IsActive implements Binding.
func (e *Local) IsActive(slot int) bool {
	s, code := e.current(slot)
	return code == status.Success && s.Active()
}

// InputChannels implements Binding.
func (e *Local) InputChannels(slot int) int {
	s, code := e.current(slot)
	if code != status.Success {
		return int(code)
	}
	return s.InputChannels()
}

// OutputChannels implements Binding.
func (e *Local) OutputChannels(slot int) int {
	s, code := e.current(slot)
	if code != status.Success {
		return int(code)
	}
	return s.OutputChannels()
}

// TimedOut reports whether the runner serving slot was evicted by its watchdog.
func (e *Local) TimedOut(slot int) bool {
	s, code := e.current(slot)
	return code == status.Success && s.TimedOut()
}

// PostMessage implements Binding.
func (e *Local) PostMessage(data []byte) int {
	if e.closed.Load() {
		return int(status.Failure)
	}
	return e.messages.post(data)
}

func (e *Local) current(slot int) (shm.Slot, status.Code) {
	if e.closed.Load() {
		return shm.Slot{}, status.Failure
	}
	if !validSlot(slot) {
		return shm.Slot{}, status.InvalidParameters
	}
	s := e.seg.Slot(slot)
	if s.Status() != shm.StatusCurrent {
		return shm.Slot{}, status.NoSuchModule
	}
	return s, status.Success
}

func validSlot(slot int) bool {
	return slot >= 0 && slot < limits.MaxModules
}

// Start implements Binding.
func (e *Local) Start() int {
	e.transport.Lock()
	defer e.transport.Unlock()
	if e.closed.Load() {
		return int(status.Failure)
	}
	if e.running.Load() {
		return int(status.Success)
	}
	e.stop = make(chan struct{})
	e.done = make(chan struct{})
	e.running.Store(true)
	go e.loop(e.stop, e.done)
	return int(status.Success)
}

// Stop implements Binding. It returns after the current render cycle completed and
// pending deletions were reclaimed.
func (e *Local) Stop() int {
	e.transport.Lock()
	defer e.transport.Unlock()
	e.stopLocked()
	return int(status.Success)
}

func (e *Local) stopLocked() {
	if !e.running.Load() {
		return
	}
	close(e.stop)
	<-e.done
	e.mu.Lock()
	e.running.Store(false)
	e.reclaimLocked()
	e.mu.Unlock()
}

// IsRunning implements Binding.
func (e *Local) IsRunning() bool { return e.running.Load() }

// Close stops the transport and unmaps the segment. Clients that already mapped
// the segment keep their own mapping.
func (e *Local) Close() error {
	e.transport.Lock()
	defer e.transport.Unlock()
	if e.closed.Load() {
		return nil
	}
	e.stopLocked()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed.Store(true)

	logrus.WithFields(logrus.Fields{
		"function": "Close",
	}).Info("Closing local engine")

	return e.seg.Close()
}
