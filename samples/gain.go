package samples

import (
	"fmt"
	"math"
	"sync/atomic"

	"github.com/opd-ai/patchfield/module"
	"github.com/sirupsen/logrus"
)

// MaxGain is the largest accepted linear gain (+12 dB).
const MaxGain = 4.0

// Gain scales every channel by a linear factor. It runs as a callback module,
// off the runner's real-time goroutine.
type Gain struct {
	*module.Callback

	gain atomic.Uint64
}

// NewGain returns a gain stage with the given channel count and factor.
func NewGain(channels int, gain float64) (*Gain, error) {
	if channels <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidChannels, channels)
	}
	g := &Gain{}
	if err := g.SetGain(gain); err != nil {
		return nil, err
	}
	g.Callback = module.NewCallback(channels, channels, g.process)

	logrus.WithFields(logrus.Fields{
		"function": "NewGain",
		"channels": channels,
		"gain":     gain,
	}).Debug("Gain stage created")
	return g, nil
}

// SetGain changes the factor; 0 silences, 1 is unity.
func (g *Gain) SetGain(gain float64) error {
	if math.IsNaN(gain) || gain < 0 || gain > MaxGain {
		return fmt.Errorf("%w: %v (max %v)", ErrInvalidGain, gain, MaxGain)
	}
	g.gain.Store(math.Float64bits(gain))
	return nil
}

// Gain returns the current factor.
func (g *Gain) Gain() float64 {
	return math.Float64frombits(g.gain.Load())
}

func (g *Gain) process(_, frames, inputChannels int, in []float32, outputChannels int, out []float32) {
	k := float32(g.Gain())
	n := min(inputChannels, outputChannels) * frames
	for i, x := range in[:n] {
		out[i] = k * x
	}
	clear(out[n:])
}
