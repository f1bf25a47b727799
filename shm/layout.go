//go:build linux

package shm

import (
	"encoding/binary"
	"sync/atomic"

	"github.com/opd-ai/patchfield/limits"
)

// Slot status values.
const (
	StatusFree    int32 = 0
	StatusCurrent int32 = 1
	StatusDeleted int32 = 2
)

// Word offsets within a slot.
const (
	slotStatus = iota
	slotInUse
	slotActive
	slotSampleRate
	slotBufferFrames
	slotInputChannels
	slotOutputChannels
	slotInputBuffer
	slotOutputBuffer
	slotTimedOut
	slotDeadline // two words, 8-byte aligned
	_
	slotReport
	slotWake
	slotReady
	slotHeaderWords = 16
)

// Word offsets within a connection.
const (
	connStatus = iota
	connInUse
	connSourceIndex
	connSourcePort
	connSinkPort
	connectionWords
)

const (
	slotWords = slotHeaderWords + limits.MaxConnections*connectionWords

	// MessageOffset is the byte offset of the message region.
	MessageOffset = 16384

	// BufferOffset is the float index at which audio blocks start.
	BufferOffset = (MessageOffset + limits.MessageRegionSize) / 4

	// BufferCapacity is the number of float32 values available for audio blocks.
	BufferCapacity = limits.SegmentSize/4 - BufferOffset
)

// Slot is a view of one module entry in the slot table.
type Slot struct {
	seg  *Segment
	base int
}

// Slot returns the view of slot index.
func (s *Segment) Slot(index int) Slot {
	return Slot{seg: s, base: index * slotWords}
}

func (s Slot) load(field int) int32 {
	return atomic.LoadInt32(s.seg.word(s.base + field))
}

func (s Slot) store(field int, v int32) {
	atomic.StoreInt32(s.seg.word(s.base+field), v)
}

// Status returns the slot status.
func (s Slot) Status() int32 { return s.load(slotStatus) }

// CompareAndSwapStatus atomically moves the slot between two statuses.
func (s Slot) CompareAndSwapStatus(from, to int32) bool {
	return atomic.CompareAndSwapInt32(s.seg.word(s.base+slotStatus), from, to)
}

// InUse reports whether the slot takes part in the current render cycle.
func (s Slot) InUse() bool { return s.load(slotInUse) != 0 }

// SetInUse marks participation in the current render cycle.
func (s Slot) SetInUse(v bool) { s.store(slotInUse, boolWord(v)) }

// Active reports whether the module is activated.
func (s Slot) Active() bool { return s.load(slotActive) != 0 }

// SetActive atomically changes the active flag and reports whether it changed.
func (s Slot) SetActive(v bool) bool {
	return atomic.CompareAndSwapInt32(s.seg.word(s.base+slotActive), boolWord(!v), boolWord(v))
}

// SampleRate returns the sample rate the slot was created with.
func (s Slot) SampleRate() int { return int(s.load(slotSampleRate)) }

// BufferFrames returns the block length in frames.
func (s Slot) BufferFrames() int { return int(s.load(slotBufferFrames)) }

// InputChannels returns the number of input channels.
func (s Slot) InputChannels() int { return int(s.load(slotInputChannels)) }

// OutputChannels returns the number of output channels.
func (s Slot) OutputChannels() int { return int(s.load(slotOutputChannels)) }

// InputBuffer returns the float index of the first input block.
func (s Slot) InputBuffer() int { return int(s.load(slotInputBuffer)) }

// OutputBuffer returns the float index of the first output block.
func (s Slot) OutputBuffer() int { return int(s.load(slotOutputBuffer)) }

// Init writes the static description of a freshly allocated slot. It must only be
// called while the slot is free.
func (s Slot) Init(sampleRate, bufferFrames, inputChannels, outputChannels, inputBuffer, outputBuffer int) {
	s.store(slotActive, 0)
	s.store(slotInUse, 0)
	s.store(slotTimedOut, 0)
	s.store(slotSampleRate, int32(sampleRate))
	s.store(slotBufferFrames, int32(bufferFrames))
	s.store(slotInputChannels, int32(inputChannels))
	s.store(slotOutputChannels, int32(outputChannels))
	s.store(slotInputBuffer, int32(inputBuffer))
	s.store(slotOutputBuffer, int32(outputBuffer))
	s.store(slotDeadline, 0)
	s.store(slotDeadline+1, 0)
	s.Report().Clobber()
	s.Wake().Clobber()
	s.Ready().Clobber()
	for k := 0; k < limits.MaxConnections; k++ {
		c := s.Connection(k)
		for f := 0; f < connectionWords; f++ {
			c.store(f, 0)
		}
	}
}

// Shift moves both buffer offsets down by n floats after compaction.
func (s Slot) Shift(n int) {
	s.store(slotInputBuffer, s.load(slotInputBuffer)-int32(n))
	s.store(slotOutputBuffer, s.load(slotOutputBuffer)-int32(n))
}

// Input returns the input blocks of the slot, one per channel, back to back.
func (s Slot) Input() []float32 {
	return s.seg.Floats(s.InputBuffer(), s.InputChannels()*s.BufferFrames())
}

// Output returns the output blocks of the slot, one per channel, back to back.
func (s Slot) Output() []float32 {
	return s.seg.Floats(s.OutputBuffer(), s.OutputChannels()*s.BufferFrames())
}

// TimedOut reports whether the slot's runner was evicted by its watchdog.
func (s Slot) TimedOut() bool { return s.load(slotTimedOut) != 0 }

// MarkTimedOut records a watchdog eviction.
func (s Slot) MarkTimedOut() { s.store(slotTimedOut, 1) }

// Deadline returns the monotonic deadline of the current cycle in nanoseconds.
func (s Slot) Deadline() int64 {
	return atomic.LoadInt64(s.seg.dword(s.base + slotDeadline))
}

// SetDeadline publishes the monotonic deadline of the current cycle.
func (s Slot) SetDeadline(ns int64) {
	atomic.StoreInt64(s.seg.dword(s.base+slotDeadline), ns)
}

// Report is raised by the runner when it waits for work.
func (s Slot) Report() Barrier { return Barrier{p: s.seg.word(s.base + slotReport)} }

// Wake is raised by the engine when work is available.
func (s Slot) Wake() Barrier { return Barrier{p: s.seg.word(s.base + slotWake)} }

// Ready is raised when the slot's output blocks are complete.
func (s Slot) Ready() Barrier { return Barrier{p: s.seg.word(s.base + slotReady)} }

// Connection returns the k-th input connection of the slot.
func (s Slot) Connection(k int) Connection {
	return Connection{seg: s.seg, base: s.base + slotHeaderWords + k*connectionWords}
}

// Connection is a view of one input connection of a sink slot.
type Connection struct {
	seg  *Segment
	base int
}

func (c Connection) load(field int) int32 {
	return atomic.LoadInt32(c.seg.word(c.base + field))
}

func (c Connection) store(field int, v int32) {
	atomic.StoreInt32(c.seg.word(c.base+field), v)
}

// Status returns the connection status.
func (c Connection) Status() int32 { return c.load(connStatus) }

// CompareAndSwapStatus atomically moves the connection between two statuses.
func (c Connection) CompareAndSwapStatus(from, to int32) bool {
	return atomic.CompareAndSwapInt32(c.seg.word(c.base+connStatus), from, to)
}

// Free returns the connection to the free list regardless of its status.
func (c Connection) Free() {
	c.store(connInUse, 0)
	c.store(connStatus, StatusFree)
}

// Set fills in the endpoints of a free connection and publishes it.
func (c Connection) Set(sourceIndex, sourcePort, sinkPort int) bool {
	c.store(connSourceIndex, int32(sourceIndex))
	c.store(connSourcePort, int32(sourcePort))
	c.store(connSinkPort, int32(sinkPort))
	return c.CompareAndSwapStatus(StatusFree, StatusCurrent)
}

// Matches reports whether the connection links the given endpoints.
func (c Connection) Matches(sourceIndex, sourcePort, sinkPort int) bool {
	return int(c.load(connSourceIndex)) == sourceIndex &&
		int(c.load(connSourcePort)) == sourcePort &&
		int(c.load(connSinkPort)) == sinkPort
}

// SourceIndex returns the slot of the connection's source.
func (c Connection) SourceIndex() int { return int(c.load(connSourceIndex)) }

// SourcePort returns the output port of the source.
func (c Connection) SourcePort() int { return int(c.load(connSourcePort)) }

// SinkPort returns the input port of the sink.
func (c Connection) SinkPort() int { return int(c.load(connSinkPort)) }

// InUse reports whether the connection takes part in the current render cycle.
func (c Connection) InUse() bool { return c.load(connInUse) != 0 }

// SetInUse marks participation in the current render cycle.
func (c Connection) SetInUse(v bool) { c.store(connInUse, boolWord(v)) }

// CollectInput zeroes the input blocks of slot index and sums into them the output of
// every in-use connection whose source finished before its deadline.
func (s *Segment) CollectInput(index int) {
	sink := s.Slot(index)
	frames := sink.BufferFrames()
	input := sink.Input()
	for i := range input {
		input[i] = 0
	}
	for k := 0; k < limits.MaxConnections; k++ {
		conn := sink.Connection(k)
		if !conn.InUse() {
			continue
		}
		source := s.Slot(conn.SourceIndex())
		if !source.InUse() {
			continue
		}
		if !source.Ready().Wait(source.Deadline()) {
			continue
		}
		dst := input[conn.SinkPort()*frames : (conn.SinkPort()+1)*frames]
		src := s.Floats(source.OutputBuffer()+conn.SourcePort()*frames, frames)
		for j := range dst {
			dst[j] += src[j]
		}
	}
}

// WriteMessages stores the snapshot of messages for the current cycle.
func (s *Segment) WriteMessages(messages [][]byte) error {
	region := s.data[MessageOffset : MessageOffset+limits.MessageRegionSize]
	pos := 4
	for _, m := range messages {
		n := limits.PaddedMessageSize(len(m))
		if pos+n > len(region) {
			binary.LittleEndian.PutUint32(region, 0)
			return ErrRegionFull
		}
		binary.LittleEndian.PutUint32(region[pos:], uint32(len(m)))
		copy(region[pos+4:], m)
		pos += n
	}
	binary.LittleEndian.PutUint32(region, uint32(len(messages)))
	return nil
}

// ReadMessages returns copies of the messages stored for the current cycle.
func (s *Segment) ReadMessages() [][]byte {
	region := s.data[MessageOffset : MessageOffset+limits.MessageRegionSize]
	count := int(binary.LittleEndian.Uint32(region))
	if count == 0 {
		return nil
	}
	out := make([][]byte, 0, count)
	pos := 4
	for i := 0; i < count && pos+4 <= len(region); i++ {
		n := int(binary.LittleEndian.Uint32(region[pos:]))
		if pos+4+n > len(region) {
			break
		}
		m := make([]byte, n)
		copy(m, region[pos+4:pos+4+n])
		out = append(out, m)
		pos += limits.PaddedMessageSize(n)
	}
	return out
}

func boolWord(v bool) int32 {
	if v {
		return 1
	}
	return 0
}
