//go:build linux

package module

import (
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/opd-ai/patchfield"
	"github.com/opd-ai/patchfield/engine"
	"github.com/opd-ai/patchfield/status"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type steadyDevice struct {
	mu     sync.Mutex
	value  float32
	played []float32
}

func (d *steadyDevice) Capture(blocks [][]float32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, b := range blocks {
		for i := range b {
			b[i] = d.value
		}
	}
}

func (d *steadyDevice) Playback(blocks [][]float32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(blocks) > 0 {
		d.played = append(d.played[:0], blocks[0]...)
	}
}

func (d *steadyDevice) playing(v float32) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.played) > 0 && d.played[0] == v && d.played[len(d.played)-1] == v
}

func newPatchfield(t *testing.T, dev engine.Device) (*patchfield.Patchfield, string) {
	t.Helper()
	addr := fmt.Sprintf("@patchfield-module-%d-%s", os.Getpid(), t.Name())
	e, err := engine.NewLocal(engine.Options{
		SampleRate:     48000,
		BufferFrames:   64,
		InputChannels:  1,
		OutputChannels: 1,
		Rendezvous:     addr,
		Device:         dev,
	})
	require.NoError(t, err)
	pf := patchfield.New(e)
	t.Cleanup(func() { pf.Close() })
	return pf, addr
}

func route(t *testing.T, pf *patchfield.Patchfield, name string) {
	t.Helper()
	require.Equal(t, int(status.Success), pf.ConnectPorts(patchfield.SystemIn, 0, name, 0))
	require.Equal(t, int(status.Success), pf.ConnectPorts(name, 0, patchfield.SystemOut, 0))
	require.Equal(t, int(status.Success), pf.ActivateModule(name))
}

func double(_, _, _ int, in []float32, _ int, out []float32) {
	for i := range out {
		out[i] = 2 * in[i]
	}
}

// TestAttachNative attaches a native module to a running engine and renders
// through it.
func TestAttachNative(t *testing.T) {
	dev := &steadyDevice{value: 0.25}
	pf, addr := newPatchfield(t, dev)

	m := New(NewNative(1, 1, double), &patchfield.Metadata{Title: "Double"}, WithRendezvous(addr))
	require.Equal(t, int(status.Success), m.Configure(pf, "double"))
	assert.Equal(t, "Double", pf.Metadata("double").Title)
	route(t, pf, "double")
	require.Equal(t, int(status.Success), pf.Start())

	require.Eventually(t, func() bool { return dev.playing(0.5) }, 5*time.Second, 5*time.Millisecond)

	require.NoError(t, m.Release(pf))
	assert.ElementsMatch(t, []string{patchfield.SystemIn, patchfield.SystemOut}, pf.Modules())
	require.Eventually(t, func() bool { return dev.playing(0) }, 5*time.Second, 5*time.Millisecond)
}

// TestAttachCallback renders through a supervised callback goroutine.
func TestAttachCallback(t *testing.T) {
	dev := &steadyDevice{value: 0.25}
	pf, addr := newPatchfield(t, dev)

	m := New(NewCallback(1, 1, double), nil, WithRendezvous(addr))
	require.Equal(t, int(status.Success), m.Configure(pf, "double"))
	route(t, pf, "double")
	require.Equal(t, int(status.Success), pf.Start())

	require.Eventually(t, func() bool { return dev.playing(0.5) }, 5*time.Second, 5*time.Millisecond)
	require.NoError(t, m.Release(pf))
}

// TestAttachDuplicateName verifies that a name clash unwinds the attachment.
func TestAttachDuplicateName(t *testing.T) {
	pf, addr := newPatchfield(t, &steadyDevice{})

	a := New(NewNative(1, 1, double), nil, WithRendezvous(addr))
	require.Equal(t, int(status.Success), a.Configure(pf, "x"))
	defer a.Release(pf)

	b := New(NewNative(1, 1, double), nil, WithRendezvous(addr))
	assert.Equal(t, int(status.ModuleNameTaken), b.Configure(pf, "x"))
	assert.Equal(t, Unconfigured, b.State())
	assert.Len(t, pf.Modules(), 3)
}

// TestAttachWatchdogEviction lets the engine keep running after a module's
// callback stalls.
func TestAttachWatchdogEviction(t *testing.T) {
	dev := &steadyDevice{value: 0.25}
	pf, addr := newPatchfield(t, dev)

	stall := make(chan struct{})
	defer close(stall)
	m := New(NewNative(1, 1, func(_, _, _ int, _ []float32, _ int, _ []float32) { <-stall }), nil,
		WithRendezvous(addr), WithWatchdogTimeout(20*time.Millisecond))
	require.Equal(t, int(status.Success), m.Configure(pf, "stall"))
	route(t, pf, "stall")
	require.Equal(t, int(status.Success), pf.Start())

	require.Eventually(t, m.HasTimedOut, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, TimedOut, m.State())
	assert.True(t, pf.IsRunning())
	require.NoError(t, m.Release(pf))
}
