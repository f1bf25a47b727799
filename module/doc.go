// Package module implements the client side of module attachment.
//
// An AudioModule runs the attachment protocol once per instance: it checks the
// protocol version, obtains the shared segment over the rendezvous socket, asks
// the service for a slot, binds a runner to that slot and hands the runner to its
// Processor. Any failure unwinds exactly the steps taken so far, so no slot or
// descriptor ever leaks.
//
// A Processor is the module kind. Three kinds are provided:
//
//   - Native runs its callback directly on the runner's real-time goroutine.
//   - Callback runs its callback on a goroutine owned by a render.Supervisor.
//   - Script runs a Lua script. Only one script engine exists per process; it is
//     handed out by AcquireScript and reference counted.
//
// Example:
//
//	gain := module.NewNative(1, 1, func(_, _, _ int, in []float32, _ int, out []float32) {
//		for i := range out {
//			out[i] = 0.5 * in[i]
//		}
//	})
//	m := module.New(gain, &patchfield.Metadata{Title: "Gain"})
//	if _, err := status.Check(m.Configure(pf, "gain")); err != nil {
//		return err
//	}
//	defer m.Release(pf)
package module
