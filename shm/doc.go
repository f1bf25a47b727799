// Package shm implements the shared memory plumbing between the patchfield engine and
// the client processes that attach audio modules to it.
//
// # Segment
//
// A Segment is a fixed-size anonymous memory file (memfd) mapped read/write and shared.
// The engine creates it once; clients map the same file through the descriptor they
// receive during attachment. The segment holds three regions:
//
//	+--------------------+  0
//	| slot table         |  MaxModules slots, each with MaxConnections input connections
//	+--------------------+  MessageOffset
//	| message region     |  snapshot of the messages posted for the current cycle
//	+--------------------+  BufferOffset
//	| audio blocks       |  fixed-size, non-interleaved, per-channel float32 blocks
//	+--------------------+  SegmentSize
//
// Every field of the slot table is an int32 word accessed atomically, which is what
// makes the table usable across processes without a lock.
//
// # Token
//
// A Token is the one-shot capability to a segment: the file descriptor handed from the
// service to a client. Whoever holds a Token must either hand it on or Close it.
//
//	tok, err := shm.Receive(ctx, "@patchfield-shm")
//	if err != nil {
//	    return err
//	}
//	defer tok.Close()
//
// # Barrier
//
// A Barrier is a one-bit futex in shared memory. The render cycle uses three per slot:
// report (the client is waiting for work), wake (work is available) and ready (the
// client's output is complete).
//
// # Platform
//
// The package relies on memfd_create, futex and SCM_RIGHTS and is Linux-only.
package shm
