package engine

import "time"

// Binding is the handle to an audio engine. Slot indices are the ones returned by
// CreateModule; callers validate names, ports and graph shape before calling in.
type Binding interface {
	SampleRate() int
	BufferSize() int
	ProtocolVersion() int

	// SendSharedMemoryFileDescriptor pushes the engine's segment descriptor to a
	// listening client. It is the service half of the attachment handshake.
	SendSharedMemoryFileDescriptor() int

	CreateModule(inputChannels, outputChannels int) int
	DeleteModule(slot int) int
	ConnectPorts(sourceSlot, sourcePort, sinkSlot, sinkPort int) int
	DisconnectPorts(sourceSlot, sourcePort, sinkSlot, sinkPort int) int
	IsConnected(sourceSlot, sourcePort, sinkSlot, sinkPort int) bool
	ActivateModule(slot int) int
	DeactivateModule(slot int) int
	IsActive(slot int) bool
	InputChannels(slot int) int
	OutputChannels(slot int) int

	Start() int
	Stop() int
	IsRunning() bool

	// PostMessage queues an opaque message for delivery to every module during the
	// next render cycle.
	PostMessage(data []byte) int

	Close() error
}

// Device is the hardware side of the render cycle. Capture fills one block per
// input channel; Playback consumes one block per output channel. Blocks are only
// valid for the duration of the call.
type Device interface {
	Capture(blocks [][]float32)
	Playback(blocks [][]float32)
}

// NullDevice captures silence and discards playback.
type NullDevice struct{}

// Capture implements Device.
func (NullDevice) Capture(blocks [][]float32) {
	for _, b := range blocks {
		clear(b)
	}
}

// Playback implements Device.
func (NullDevice) Playback([][]float32) {}

// Recorder receives render statistics. Implementations must not block.
type Recorder interface {
	// ObserveCycle reports the wall time of one render cycle.
	ObserveCycle(d time.Duration)
	// SkippedModule reports an active slot whose runner was not ready in time to
	// take part in a cycle.
	SkippedModule(slot int)
	// LateModule reports a slot that missed its processing deadline.
	LateModule(slot int)
	// EvictedModule reports, once per allocation, a slot whose runner was
	// evicted by its watchdog.
	EvictedModule(slot int)
}

type nopRecorder struct{}

func (nopRecorder) ObserveCycle(time.Duration) {}
func (nopRecorder) SkippedModule(int)          {}
func (nopRecorder) LateModule(int)             {}
func (nopRecorder) EvictedModule(int)          {}
