package samples

import "fmt"

// resampler converts interleaved float frames between sample rates by linear
// interpolation. It carries the last input frame and the fractional read
// position across calls so that consecutive packets join without clicks.
type resampler struct {
	inputRate  int
	outputRate int
	channels   int
	last       []float32
	position   float64
}

func newResampler(inputRate, outputRate, channels int) (*resampler, error) {
	if inputRate <= 0 || outputRate <= 0 {
		return nil, fmt.Errorf("%w: input=%d output=%d", ErrInvalidSampleRate, inputRate, outputRate)
	}
	if channels <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidChannels, channels)
	}
	return &resampler{
		inputRate:  inputRate,
		outputRate: outputRate,
		channels:   channels,
		last:       make([]float32, channels),
	}, nil
}

// resample returns input converted to the output rate. input holds whole
// interleaved frames.
func (r *resampler) resample(input []float32) []float32 {
	frames := len(input) / r.channels
	if frames == 0 {
		return nil
	}
	if r.inputRate == r.outputRate {
		copy(r.last, input[(frames-1)*r.channels:frames*r.channels])
		return append([]float32(nil), input[:frames*r.channels]...)
	}

	step := float64(r.inputRate) / float64(r.outputRate)
	out := make([]float32, 0, int(float64(frames)/step+1)*r.channels)

	// Position -1 refers to the last frame of the previous call.
	at := func(index, ch int) float32 {
		if index < 0 {
			return r.last[ch]
		}
		return input[index*r.channels+ch]
	}
	pos := r.position
	for pos < float64(frames-1) {
		i := int(pos)
		if pos < 0 {
			i = -1
		}
		frac := float32(pos - float64(i))
		for ch := 0; ch < r.channels; ch++ {
			a, b := at(i, ch), at(i+1, ch)
			out = append(out, a+(b-a)*frac)
		}
		pos += step
	}
	copy(r.last, input[(frames-1)*r.channels:frames*r.channels])
	r.position = pos - float64(frames)
	return out
}
