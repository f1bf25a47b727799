// Package limits provides centralized capacity constants and validation functions
// for patchfield. The registry, the engine and the client runners all derive their
// bounds from this package so that a module accepted by one layer is accepted by all.
//
// # Capacity Hierarchy
//
//   - MaxModules (32): engine slots, the first SystemModules of which are taken by
//     system_in and system_out.
//
//   - MaxConnections (16): input connections per sink module. A source port may fan out
//     to any number of sinks; each sink has its own connection table.
//
//   - SegmentSize (256 KiB): the shared memory segment holding the slot table, the
//     message region and the per-channel audio blocks. Running out of it is reported as
//     OUT_OF_BUFFER_SPACE rather than degraded.
//
//   - MaxMessageLength (1 KiB) and MessageRegionSize (16 KiB): limits for messages
//     posted to modules, per message and per render cycle.
//
// # Validation Functions
//
//	err := limits.ValidateChannels(in, out)
//	if err != nil {
//	    // errors.Is(err, limits.ErrInvalidChannels)
//	}
//
//	err = limits.ValidateMessage(payload)
//	if errors.Is(err, limits.ErrMessageTooLong) {
//	    // reject
//	}
//
// # Protocol Version
//
// ProtocolVersion changes whenever the shared-memory layout or the attachment
// handshake changes. A client compiled against a different version refuses to attach.
package limits
