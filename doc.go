// Package patchfield implements the control plane of a low-latency audio routing
// service: a registry of named audio modules, the signal graph connecting their
// ports, and the fan-out of graph changes to registered observers.
//
// Modules register with fixed input and output channel counts, are wired into a
// point-to-point graph at runtime, and are rendered together as one synchronized
// transport by an engine (see package engine). The graph never contains a cycle;
// a connection that would close one is rejected with CYCLIC_DEPENDENCY.
//
// # Getting Started
//
// Create an engine and wrap it in a Patchfield:
//
//	eng, err := engine.NewLocal(engine.Options{
//	    SampleRate:     48000,
//	    BufferFrames:   256,
//	    InputChannels:  2,
//	    OutputChannels: 2,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	pf := patchfield.New(eng)
//	defer pf.Close()
//
//	pf.CreateModule("lowpass", 2, 2, &patchfield.Metadata{Title: "Lowpass"})
//	pf.ConnectPorts(patchfield.SystemIn, 0, "lowpass", 0)
//	pf.ConnectPorts("lowpass", 0, patchfield.SystemOut, 0)
//	pf.Start()
//
// # Status Codes
//
// Every mutation returns an int status code as defined in package status:
// non-negative values are successes (CreateModule returns the slot index),
// negative values are canonical errors. Use status.Check to turn a code into an
// error value.
//
// # Observers
//
// Observers receive one callback per successful mutation, synchronously and in
// application order. A failing observer is skipped for that event and never
// affects the mutation or the other observers:
//
//	pf.RegisterObserver(observer.NewLog(nil))
//
// # System Modules
//
// Two modules exist from the start: SystemIn exposes the captured device input on
// its output ports and SystemOut plays whatever reaches its input ports. They can
// be connected like any other module but not deleted.
//
// # Thread Safety
//
// Patchfield is safe for concurrent use. All control-plane operations are
// serialized behind one mutex per instance; the render plane never takes it.
package patchfield
