//go:build linux

package engine

import (
	"math"
	"runtime"
	"time"

	"github.com/opd-ai/patchfield/limits"
	"github.com/opd-ai/patchfield/shm"
	"github.com/sirupsen/logrus"
)

// reportWindow is how long a cycle waits for client runners to report that they
// are ready for the next block.
const reportWindow = 100 * time.Microsecond

func (e *Local) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	logrus.WithFields(logrus.Fields{
		"function": "loop",
		"period":   e.period,
	}).Info("Render loop started")

	ticker := time.NewTicker(e.period)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			logrus.WithFields(logrus.Fields{
				"function": "loop",
			}).Info("Render loop stopped")
			return
		case <-ticker.C:
			e.cycle()
		}
	}
}

// cycle renders one block.
func (e *Local) cycle() {
	begin := time.Now()
	// The queue never holds more than one region's worth of messages.
	_ = e.seg.WriteMessages(e.messages.take())

	reportDeadline := shm.Now() + int64(reportWindow)
	for i := 0; i < limits.MaxModules; i++ {
		s := e.seg.Slot(i)
		current := s.Status() == shm.StatusCurrent
		if current && s.TimedOut() && !e.evicted[i].Swap(true) {
			e.recorder.EvictedModule(i)
		}
		candidate := current && s.Active() && !s.TimedOut()
		inUse := candidate && (i < limits.SystemModules || s.Report().WaitAndClear(reportDeadline))
		s.SetInUse(inUse)
		if candidate && !inUse {
			e.recorder.SkippedModule(i)
		}
		if !inUse {
			continue
		}
		s.Ready().Clobber()
		for k := 0; k < limits.MaxConnections; k++ {
			c := s.Connection(k)
			c.SetInUse(c.Status() == shm.StatusCurrent)
		}
	}

	deadline := shm.Now() + 2*int64(e.period)
	system := e.seg.Slot(0)
	if system.InUse() {
		e.device.Capture(e.capture)
		system.SetDeadline(deadline)
		system.Ready().Wake()
	}
	for i := limits.SystemModules; i < limits.MaxModules; i++ {
		s := e.seg.Slot(i)
		if s.InUse() {
			s.SetDeadline(deadline)
			s.Wake().Wake()
		}
	}

	sink := e.seg.Slot(1)
	if sink.InUse() {
		e.seg.CollectInput(1)
		clamp(sink.Input())
	} else {
		for _, b := range e.playback {
			clear(b)
		}
	}
	e.device.Playback(e.playback)

	for i := limits.SystemModules; i < limits.MaxModules; i++ {
		s := e.seg.Slot(i)
		if s.InUse() && !s.Ready().Wait(s.Deadline()) {
			e.recorder.LateModule(i)
		}
	}

	// A control call holding mu postpones reclamation to a later cycle.
	if e.mu.TryLock() {
		e.reclaimLocked()
		e.mu.Unlock()
	}

	e.recorder.ObserveCycle(time.Since(begin))
}

// clamp limits samples to [-1, 1] and silences NaN.
func clamp(samples []float32) {
	for i, v := range samples {
		switch {
		case math.IsNaN(float64(v)):
			samples[i] = 0
		case v < -1:
			samples[i] = -1
		case v > 1:
			samples[i] = 1
		}
	}
}
