// Package engine defines the primitive operations the patchfield registry forwards
// to the real-time audio engine, and provides Local, a reference engine that renders
// a slot table in shared memory on a fixed cadence.
//
// The registry treats the engine as a black box: it allocates slots, records
// connections between slot ports, toggles activation, and starts or stops the
// transport. Every operation returns an int status code from package status;
// non-negative values are successes or slot indices.
//
// Local keeps two built-in slots: slot 0 carries the captured device input as its
// outputs, slot 1 collects the device output on its inputs. Client slots are
// serviced by runners in other processes (or goroutines) that map the same
// segment. Deletions and disconnections are deferred and reclaimed at the end of
// the next render cycle, or at once while the transport is stopped.
//
// Example:
//
//	eng, err := engine.NewLocal(engine.Options{SampleRate: 48000, BufferFrames: 256})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer eng.Close()
//	slot := eng.CreateModule(1, 1)
//	eng.ActivateModule(slot)
//	eng.Start()
package engine
