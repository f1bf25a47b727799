package module

import (
	"fmt"
	"sync"

	"github.com/opd-ai/patchfield/render"
	"github.com/opd-ai/patchfield/runner"
)

// Runner is the binding between a processing context and an engine slot, as
// provided by runner.Runner.
type Runner interface {
	Configure(fn runner.ProcessFunc) error
	HasTimedOut() bool
	Messages() [][]byte
	SampleRate() int
	BufferFrames() int
	InputChannels() int
	OutputChannels() int
	Release() error
}

// Processor is a module kind: it declares its channel counts and binds its
// processing to a runner once the slot exists.
type Processor interface {
	InputChannels() int
	OutputChannels() int

	// Setup initializes the processing context and installs it on r.
	Setup(name string, r Runner, sampleRate, bufferSize int) error

	// Teardown drops the processing context. It runs after the runner was released.
	Teardown()
}

// Quiescer is implemented by processors that drive the runner from goroutines of
// their own. Quiesce returns once those goroutines stopped; it runs before the
// runner is released.
type Quiescer interface {
	Quiesce()
}

// Native runs a callback on the runner's real-time goroutine.
type Native struct {
	inputChannels  int
	outputChannels int
	process        runner.ProcessFunc
}

// NewNative returns a native processor with the given shape.
func NewNative(inputChannels, outputChannels int, process runner.ProcessFunc) *Native {
	return &Native{inputChannels: inputChannels, outputChannels: outputChannels, process: process}
}

// InputChannels implements Processor.
func (n *Native) InputChannels() int { return n.inputChannels }

// OutputChannels implements Processor.
func (n *Native) OutputChannels() int { return n.outputChannels }

// Setup implements Processor.
func (n *Native) Setup(_ string, r Runner, _, _ int) error {
	return r.Configure(n.process)
}

// Teardown implements Processor.
func (n *Native) Teardown() {}

// Callback runs a callback on a goroutine supervised by render.Supervisor.
type Callback struct {
	inputChannels  int
	outputChannels int
	process        runner.ProcessFunc

	mu         sync.Mutex
	supervisor *render.Supervisor
}

// NewCallback returns a callback processor with the given shape.
func NewCallback(inputChannels, outputChannels int, process runner.ProcessFunc) *Callback {
	return &Callback{inputChannels: inputChannels, outputChannels: outputChannels, process: process}
}

// InputChannels implements Processor.
func (c *Callback) InputChannels() int { return c.inputChannels }

// OutputChannels implements Processor.
func (c *Callback) OutputChannels() int { return c.outputChannels }

// Setup implements Processor.
func (c *Callback) Setup(name string, r Runner, _, _ int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.supervisor != nil {
		return fmt.Errorf("callback %q already running", name)
	}
	s, err := render.Start(r, c.process)
	if err != nil {
		return err
	}
	c.supervisor = s
	return nil
}

// Quiesce implements Quiescer by stopping the render loop.
func (c *Callback) Quiesce() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.supervisor != nil {
		c.supervisor.Stop()
	}
}

// Teardown implements Processor.
func (c *Callback) Teardown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.supervisor != nil {
		c.supervisor.Stop()
		c.supervisor = nil
	}
}
