package samples

import "github.com/opd-ai/patchfield/module"

// NewIdentity returns a native processor that copies the first
// min(inputChannels, outputChannels) channels and silences the rest.
func NewIdentity(inputChannels, outputChannels int) *module.Native {
	return module.NewNative(inputChannels, outputChannels, identity)
}

func identity(_, frames, inputChannels int, in []float32, outputChannels int, out []float32) {
	n := min(inputChannels, outputChannels) * frames
	copy(out[:n], in[:n])
	clear(out[n:])
}
