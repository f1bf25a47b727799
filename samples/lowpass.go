package samples

import (
	"fmt"
	"math"
	"sync/atomic"

	"github.com/opd-ai/patchfield/module"
)

// Lowpass is a one-pole RC lowpass filter with one state per channel. The
// coefficient may be changed while the filter is rendering.
type Lowpass struct {
	*module.Native

	coefficient atomic.Uint32
	state       []float32
}

// NewLowpass returns a filter with the given number of channels. A coefficient
// of 1 passes the input unchanged; 0 holds the output.
func NewLowpass(channels int, coefficient float64) (*Lowpass, error) {
	if channels <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidChannels, channels)
	}
	l := &Lowpass{state: make([]float32, channels)}
	if err := l.SetCoefficient(coefficient); err != nil {
		return nil, err
	}
	l.Native = module.NewNative(channels, channels, l.process)
	return l, nil
}

// SetCoefficient changes the smoothing coefficient.
func (l *Lowpass) SetCoefficient(c float64) error {
	if math.IsNaN(c) || c < 0 || c > 1 {
		return fmt.Errorf("%w: %v", ErrInvalidCoefficient, c)
	}
	l.coefficient.Store(math.Float32bits(float32(c)))
	return nil
}

// Coefficient returns the current smoothing coefficient.
func (l *Lowpass) Coefficient() float64 {
	return float64(math.Float32frombits(l.coefficient.Load()))
}

func (l *Lowpass) process(_, frames, inputChannels int, in []float32, outputChannels int, out []float32) {
	alpha := math.Float32frombits(l.coefficient.Load())
	channels := min(inputChannels, outputChannels, len(l.state))
	for c := 0; c < channels; c++ {
		y := l.state[c]
		src := in[c*frames : (c+1)*frames]
		dst := out[c*frames : (c+1)*frames]
		for i, x := range src {
			y += alpha * (x - y)
			dst[i] = y
		}
		l.state[c] = y
	}
	clear(out[channels*frames:])
}
