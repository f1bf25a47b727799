// Package render runs processing callbacks on a goroutine owned by the client
// instead of the runner's real-time loop.
//
// A Pump bridges the two sides: the runner invokes Pump.Process once per cycle,
// which hands the input block to the client goroutine and waits for the output
// block. A Supervisor owns that client goroutine and its cancellation.
package render

import (
	"sync"
)

// Pump moves one block per cycle between the runner and a client goroutine.
type Pump struct {
	input  []float32
	output []float32

	wake  chan struct{}
	ready chan struct{}

	done      chan struct{}
	closeOnce sync.Once
}

// NewPump allocates the exchange buffers for blocks of the given shape.
func NewPump(bufferFrames, inputChannels, outputChannels int) *Pump {
	return &Pump{
		input:  make([]float32, bufferFrames*inputChannels),
		output: make([]float32, bufferFrames*outputChannels),
		wake:   make(chan struct{}, 1),
		ready:  make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Process is the runner side. It publishes the input block and blocks until the
// client sends its output or the pump is closed, in which case it emits silence.
func (p *Pump) Process(_, _, _ int, in []float32, _ int, out []float32) {
	copy(p.input, in)
	select {
	case p.wake <- struct{}{}:
	default:
	}
	select {
	case <-p.ready:
		copy(out, p.output)
	case <-p.done:
		clear(out)
	}
}

// FillInput blocks until the next input block is available and copies it into buf.
// It returns false once the pump is closed.
func (p *Pump) FillInput(buf []float32) bool {
	select {
	case <-p.wake:
		copy(buf, p.input)
		return true
	case <-p.done:
		return false
	}
}

// SendOutput hands the output block back to the runner side.
func (p *Pump) SendOutput(buf []float32) {
	copy(p.output, buf)
	select {
	case p.ready <- struct{}{}:
	default:
	}
}

// Signal closes the pump, unblocking both sides. It is idempotent.
func (p *Pump) Signal() {
	p.closeOnce.Do(func() { close(p.done) })
}
