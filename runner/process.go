package runner

// ProcessFunc renders one block. Input and output hold one block of bufferFrames
// samples per channel, back to back. Both slices alias shared memory and must not
// be retained after the call returns.
type ProcessFunc func(sampleRate, bufferFrames, inputChannels int, input []float32, outputChannels int, output []float32)
