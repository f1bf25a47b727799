package render

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/opd-ai/patchfield/runner"
	"github.com/sirupsen/logrus"
)

// Runner is the part of runner.Runner a Supervisor drives.
type Runner interface {
	Configure(fn runner.ProcessFunc) error
	HasTimedOut() bool
	SampleRate() int
	BufferFrames() int
	InputChannels() int
	OutputChannels() int
}

// Supervisor runs a processing callback on its own goroutine, fed through a Pump.
type Supervisor struct {
	runner  Runner
	pump    *Pump
	process runner.ProcessFunc

	sampleRate     int
	bufferFrames   int
	inputChannels  int
	outputChannels int
	input          []float32
	output         []float32

	cancelled atomic.Bool
	wg        sync.WaitGroup
}

// Start installs a pump on r and launches the loop that feeds process.
func Start(r Runner, process runner.ProcessFunc) (*Supervisor, error) {
	s := &Supervisor{
		runner:         r,
		process:        process,
		sampleRate:     r.SampleRate(),
		bufferFrames:   r.BufferFrames(),
		inputChannels:  r.InputChannels(),
		outputChannels: r.OutputChannels(),
	}
	s.pump = NewPump(s.bufferFrames, s.inputChannels, s.outputChannels)
	s.input = make([]float32, s.bufferFrames*s.inputChannels)
	s.output = make([]float32, s.bufferFrames*s.outputChannels)

	if err := r.Configure(s.pump.Process); err != nil {
		return nil, fmt.Errorf("install pump: %w", err)
	}

	s.wg.Add(1)
	go s.loop()
	return s, nil
}

func (s *Supervisor) loop() {
	defer s.wg.Done()
	defer func() {
		if v := recover(); v != nil {
			logrus.WithFields(logrus.Fields{
				"function": "loop",
				"panic":    fmt.Sprint(v),
			}).Error("Process callback panicked; render loop stopped")
		}
	}()

	logrus.WithFields(logrus.Fields{
		"function":    "loop",
		"sample_rate": s.sampleRate,
		"frames":      s.bufferFrames,
	}).Debug("Render loop started")

	for !s.runner.HasTimedOut() {
		ok := s.pump.FillInput(s.input)
		if s.cancelled.Load() || !ok {
			break
		}
		s.process(s.sampleRate, s.bufferFrames, s.inputChannels, s.input, s.outputChannels, s.output)
		s.pump.SendOutput(s.output)
	}

	logrus.WithFields(logrus.Fields{
		"function":  "loop",
		"timed_out": s.runner.HasTimedOut(),
	}).Debug("Render loop finished")
}

// Stop cancels the loop, wakes it if it is waiting for input, and waits for it to
// return. The runner may only be released afterwards. Stop is idempotent and safe
// after the loop already exited.
func (s *Supervisor) Stop() {
	s.cancelled.Store(true)
	s.pump.Signal()
	s.wg.Wait()
}
