package shm

import (
	"errors"

	internalshm "github.com/CoolandonRS/polyglot/internal/shm"
)

var (
	// ErrDisposed is returned by every operation after Close.
	ErrDisposed = errors.New("shared buffer is disposed")
	// ErrStateConflict is returned when a claim or finalize does not match the protocol state.
	ErrStateConflict = errors.New("shared buffer state conflict")
	// ErrOutOfRange is returned when an access exceeds the payload. Nothing is modified.
	ErrOutOfRange = errors.New("shared buffer access out of range")
	// ErrMalformedStatus is returned when the status byte decodes to no known state.
	ErrMalformedStatus = errors.New("malformed shared buffer status")
	// ErrCancelled is returned when a wait for a claim was aborted by its context.
	ErrCancelled = errors.New("shared buffer wait cancelled")
	// ErrClaimTimeout is returned when the poll back-off gave up before the claim was possible.
	ErrClaimTimeout = errors.New("shared buffer claim timed out")

	// ErrPlatformUnsupported is returned when no backend exists for the running OS.
	ErrPlatformUnsupported = internalshm.ErrPlatformUnsupported
	// ErrBackendFailure wraps OS level segment failures.
	ErrBackendFailure = internalshm.ErrBackendFailure
	// ErrInvalidName is returned by Open for a name that cannot identify a segment.
	ErrInvalidName = internalshm.ErrInvalidName
)

// cancelledError matches both ErrCancelled and the context error that caused it.
type cancelledError struct {
	cause error
}

func (e *cancelledError) Error() string {
	return ErrCancelled.Error() + ": " + e.cause.Error()
}

func (e *cancelledError) Is(target error) bool { return target == ErrCancelled }

func (e *cancelledError) Unwrap() error { return e.cause }

// IsCancelled reports whether err is the result of a cancelled wait.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}
