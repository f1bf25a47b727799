package module

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	lua "github.com/yuin/gopher-lua"
)

// The script engine is a process-wide singleton: one interpreter, handed out to
// every AcquireScript caller whose request it can satisfy.
var (
	scriptMu       sync.Mutex
	scriptInstance *scriptEngine
)

type scriptEngine struct {
	inputChannels  int
	outputChannels int
	source         string
	refs           int

	// mu serializes every use of L.
	mu       sync.Mutex
	L        *lua.LState
	attached bool
	input    *lua.LTable
	output   *lua.LTable

	// cancelMu guards cancel separately from mu, which a running script holds.
	cancelMu sync.Mutex
	cancel   context.CancelFunc
}

// Script is a handle to the process-wide script engine. The engine runs a Lua
// chunk that defines a global
//
//	function process(input, output, frames) ... end
//
// where input and output are flat arrays holding one block per channel, back to
// back, 1-based. An optional global message(text) receives posted messages
// before each block.
type Script struct {
	engine *scriptEngine
	once   sync.Once
	closed atomic.Bool
}

// AcquireScript returns a handle to the script engine, creating it on first use.
// An existing engine is reused when it has at least the requested channels and
// source is empty or equal to the loaded one; otherwise ErrScriptConflict is
// returned. Every handle must be closed.
func AcquireScript(inputChannels, outputChannels int, source string) (*Script, error) {
	scriptMu.Lock()
	defer scriptMu.Unlock()

	if e := scriptInstance; e != nil {
		if e.inputChannels < inputChannels || e.outputChannels < outputChannels ||
			(source != "" && source != e.source) {
			return nil, fmt.Errorf("%w: have %d/%d channels", ErrScriptConflict, e.inputChannels, e.outputChannels)
		}
		e.refs++
		return &Script{engine: e}, nil
	}

	L := lua.NewState()
	if err := L.DoString(source); err != nil {
		L.Close()
		return nil, fmt.Errorf("load script: %w", err)
	}
	scriptInstance = &scriptEngine{
		inputChannels:  inputChannels,
		outputChannels: outputChannels,
		source:         source,
		refs:           1,
		L:              L,
	}
	logrus.WithFields(logrus.Fields{
		"function":        "AcquireScript",
		"input_channels":  inputChannels,
		"output_channels": outputChannels,
	}).Info("Script engine created")
	return &Script{engine: scriptInstance}, nil
}

// Close drops the handle. The interpreter is closed with the last handle.
func (s *Script) Close() error {
	closed := true
	s.once.Do(func() {
		closed = false
		s.closed.Store(true)
		scriptMu.Lock()
		defer scriptMu.Unlock()
		e := s.engine
		e.refs--
		if e.refs > 0 {
			return
		}
		e.mu.Lock()
		e.L.Close()
		e.mu.Unlock()
		if scriptInstance == e {
			scriptInstance = nil
		}
	})
	if closed {
		return ErrScriptClosed
	}
	return nil
}

// InputChannels implements Processor.
func (s *Script) InputChannels() int { return s.engine.inputChannels }

// OutputChannels implements Processor.
func (s *Script) OutputChannels() int { return s.engine.outputChannels }

// Setup implements Processor. Only one module may be attached to the engine at
// a time.
func (s *Script) Setup(name string, r Runner, _, _ int) error {
	e := s.engine
	e.mu.Lock()
	defer e.mu.Unlock()

	if s.closed.Load() {
		return ErrScriptClosed
	}
	if e.attached {
		return ErrScriptInUse
	}
	if e.L.GetGlobal("process").Type() != lua.LTFunction {
		return ErrNoProcessFunction
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.L.SetContext(ctx)
	e.input = e.L.NewTable()
	e.output = e.L.NewTable()
	if err := r.Configure(func(_, frames, _ int, in []float32, _ int, out []float32) {
		e.render(r, frames, in, out)
	}); err != nil {
		cancel()
		e.L.RemoveContext()
		return err
	}
	e.setCancel(cancel)
	e.attached = true
	logrus.WithFields(logrus.Fields{
		"function": "Setup",
		"module":   name,
	}).Debug("Script attached")
	return nil
}

// Quiesce implements Quiescer. It interrupts a running script so that the
// runner can be released without waiting on it.
func (s *Script) Quiesce() {
	s.engine.setCancel(nil)
}

// Teardown implements Processor.
func (s *Script) Teardown() {
	e := s.engine
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.attached {
		return
	}
	e.setCancel(nil)
	e.L.RemoveContext()
	e.input, e.output = nil, nil
	e.attached = false
}

// setCancel cancels the current script context, if any, and installs fn.
func (e *scriptEngine) setCancel(fn context.CancelFunc) {
	e.cancelMu.Lock()
	defer e.cancelMu.Unlock()
	if e.cancel != nil {
		e.cancel()
	}
	e.cancel = fn
}

func (e *scriptEngine) render(r Runner, frames int, in, out []float32) {
	e.mu.Lock()
	defer e.mu.Unlock()

	L := e.L
	if handler := L.GetGlobal("message"); handler.Type() == lua.LTFunction {
		for _, msg := range r.Messages() {
			if err := L.CallByParam(lua.P{Fn: handler, NRet: 0, Protect: true}, lua.LString(msg)); err != nil {
				logrus.WithError(err).WithField("function", "render").Warn("Script message handler failed")
			}
		}
	}

	for i, v := range in {
		e.input.RawSetInt(i+1, lua.LNumber(v))
	}
	for i := range out {
		e.output.RawSetInt(i+1, lua.LNumber(0))
	}
	err := L.CallByParam(lua.P{Fn: L.GetGlobal("process"), NRet: 0, Protect: true},
		e.input, e.output, lua.LNumber(frames))
	if err != nil {
		clear(out)
		panic(fmt.Sprintf("script process failed: %v", err))
	}
	for i := range out {
		out[i] = float32(lua.LVAsNumber(e.output.RawGetInt(i + 1)))
	}
}
