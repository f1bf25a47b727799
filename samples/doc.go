// Package samples provides ready-made processors for the module package.
//
// Lowpass and Identity are native processors, Gain runs on a supervised
// callback goroutine, and OpusSource feeds decoded Opus packets into the graph.
// None of them allocate on the render path.
package samples
