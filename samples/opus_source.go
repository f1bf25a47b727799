package samples

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/opd-ai/patchfield/module"
	"github.com/pion/opus"
	"github.com/sirupsen/logrus"
)

const (
	// opusDecodedSamples is the size of the decoder's output: one 20 ms SILK
	// frame at 16 kHz with every sample repeated three times.
	opusDecodedSamples = 960

	// opusFramesPerSecond follows from the decoder accepting only 20 ms frames.
	opusFramesPerSecond = 50

	// defaultQueueFrames bounds the decoded audio an OpusSource buffers.
	defaultQueueFrames = 48000
)

// OpusSource is a native source module that plays Opus packets pushed from any
// goroutine. Decoding happens in Push; the render path only copies queued
// frames and emits silence when the queue runs dry.
type OpusSource struct {
	*module.Native

	decodeMu sync.Mutex
	decoder  opus.Decoder
	decoded  []float32

	// rate is the graph sample rate, known after Setup.
	rate     atomic.Int64
	channels int

	mu        sync.Mutex
	resampler *resampler
	queue     []float32 // interleaved frames, channels wide
	limit     int

	underruns atomic.Uint64
}

// NewOpusSource returns a source with outputChannels channels. The decoder
// produces mono audio, which is copied to every channel.
func NewOpusSource(outputChannels int) (*OpusSource, error) {
	if outputChannels <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidChannels, outputChannels)
	}
	s := &OpusSource{
		decoder:  opus.NewDecoder(),
		decoded:  make([]float32, opusDecodedSamples),
		channels: outputChannels,
		limit:    defaultQueueFrames,
	}
	s.rate.Store(48000)
	s.Native = module.NewNative(0, outputChannels, s.process)
	return s, nil
}

// Setup implements module.Processor and records the graph sample rate.
func (s *OpusSource) Setup(name string, r module.Runner, sampleRate, bufferSize int) error {
	if sampleRate > 0 {
		s.rate.Store(int64(sampleRate))
	}
	return s.Native.Setup(name, r, sampleRate, bufferSize)
}

// Push decodes one Opus packet and queues the audio for playback.
func (s *OpusSource) Push(packet []byte) error {
	s.decodeMu.Lock()
	defer s.decodeMu.Unlock()

	bandwidth, _, err := s.decoder.DecodeFloat32(packet, s.decoded)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Push",
			"size":     len(packet),
			"error":    err.Error(),
		}).Warn("Opus decode failed")
		return fmt.Errorf("opus decode: %w", err)
	}
	// Only the first 20 ms at three times the coded rate are fresh; narrower
	// bandwidths leave the tail of the buffer untouched.
	rate := 3 * bandwidth.SampleRate()
	n := min(rate/opusFramesPerSecond, len(s.decoded))
	return s.enqueue(s.decoded[:n], rate, 1)
}

// enqueue resamples interleaved pcm to the graph rate and appends it to the
// queue in the module's channel layout.
func (s *OpusSource) enqueue(pcm []float32, sampleRate, channels int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rate := int(s.rate.Load())
	r := s.resampler
	if r == nil || r.inputRate != sampleRate || r.outputRate != rate || r.channels != channels {
		var err error
		if r, err = newResampler(sampleRate, rate, channels); err != nil {
			return err
		}
		s.resampler = r
	}
	converted := r.resample(pcm)
	frames := len(converted) / channels
	if len(s.queue)/s.channels+frames > s.limit {
		return ErrQueueFull
	}
	for f := 0; f < frames; f++ {
		for c := 0; c < s.channels; c++ {
			s.queue = append(s.queue, converted[f*channels+c%channels])
		}
	}
	return nil
}

// Buffered returns the number of queued frames.
func (s *OpusSource) Buffered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue) / s.channels
}

// Underruns returns how many blocks were padded with silence.
func (s *OpusSource) Underruns() uint64 {
	return s.underruns.Load()
}

func (s *OpusSource) process(_, frames, _ int, _ []float32, outputChannels int, out []float32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	channels := min(outputChannels, s.channels)
	available := min(frames, len(s.queue)/s.channels)
	for f := 0; f < available; f++ {
		for c := 0; c < channels; c++ {
			out[c*frames+f] = s.queue[f*s.channels+c]
		}
	}
	for c := 0; c < outputChannels; c++ {
		start := available
		if c >= channels {
			start = 0
		}
		clear(out[c*frames+start : (c+1)*frames])
	}
	s.queue = s.queue[:copy(s.queue, s.queue[available*s.channels:])]
	if available < frames {
		s.underruns.Add(1)
	}
}
