// Package shm provides a turn-taking byte channel over a single shared memory
// segment, for exactly one writer process and one reader process.
//
// The segment holds a status byte followed by a fixed-size payload. The status
// cycles AwaitingWrite, Writing, AwaitingRead, Reading and back; a side may
// only touch the payload while it holds the matching claim. No kernel mutex
// or semaphore is involved: waiting sides poll the status byte.
//
// Writer:
//
//	buf, err := shm.Open(ctx, shm.OpenOptions{Name: "mychan", Capacity: 256})
//	// ...
//	if err := buf.WriteAll(ctx, []byte("hello")); err != nil {
//		// ...
//	}
//	err = buf.Finalize(shm.Write)
//
// Reader:
//
//	snap, err := buf.ReadClearRelease(ctx)
//	// ...
//	text, _ := snap.Text(0, nil)
//
// The buffer is instrumented with OpenTelemetry metrics and tracing when a
// Meter and Tracer are given.
//
// Platform-specific backends are in internal/shm.
package shm
