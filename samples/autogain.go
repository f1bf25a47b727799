package samples

import (
	"fmt"
	"math"
	"sync/atomic"

	"github.com/opd-ai/patchfield/module"
)

// AutoGain is a native automatic gain control. It follows the block peak with
// a fast attack and slow release and steers its gain toward target/peak,
// bounded by [MinAutoGain, MaxGain].
type AutoGain struct {
	*module.Native

	target atomic.Uint64

	// Render state, touched only by the processing callback.
	gain float64
	peak float64
}

// AutoGain tuning.
const (
	MinAutoGain = 0.1

	defaultTargetLevel = 0.3
	gainAttackRate     = 0.001  // per sample
	gainReleaseRate    = 0.0001 // per sample
	peakAttack         = 0.1
	peakRelease        = 0.01
	silenceFloor       = 0.001
)

// NewAutoGain returns an AGC stage with the default target level of 0.3.
func NewAutoGain(channels int) (*AutoGain, error) {
	if channels <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidChannels, channels)
	}
	a := &AutoGain{gain: 1}
	a.target.Store(math.Float64bits(defaultTargetLevel))
	a.Native = module.NewNative(channels, channels, a.process)
	return a, nil
}

// SetTargetLevel sets the peak level the stage aims for, within [0, 1].
func (a *AutoGain) SetTargetLevel(level float64) error {
	if math.IsNaN(level) || level < 0 || level > 1 {
		return fmt.Errorf("target level must be within [0, 1]: %v", level)
	}
	a.target.Store(math.Float64bits(level))
	return nil
}

// TargetLevel returns the current target level.
func (a *AutoGain) TargetLevel() float64 {
	return math.Float64frombits(a.target.Load())
}

func (a *AutoGain) process(_, frames, inputChannels int, in []float32, outputChannels int, out []float32) {
	n := min(inputChannels, outputChannels) * frames
	block := in[:n]

	var peak float64
	for _, x := range block {
		peak = max(peak, math.Abs(float64(x)))
	}
	if peak > a.peak {
		a.peak += (peak - a.peak) * peakAttack
	} else {
		a.peak += (peak - a.peak) * peakRelease
	}

	desired := MaxGain
	if a.peak > silenceFloor {
		desired = a.TargetLevel() / a.peak
	}
	desired = min(max(desired, MinAutoGain), MaxGain)
	if desired > a.gain {
		a.gain = min(a.gain+gainAttackRate*float64(len(block)), desired)
	} else {
		a.gain = max(a.gain-gainReleaseRate*float64(len(block)), desired)
	}

	k := float32(a.gain)
	for i, x := range block {
		out[i] = k * x
	}
	clear(out[n:])
}
