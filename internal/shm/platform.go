// Package shm contains the platform-specific backends that map a named shared
// memory object into the process.
//
// Every backend reduces to the same contract: a fixed-length, byte-addressable
// region visible to every process that opened the same name, plus teardown.
// The region is capacity+1 bytes long; byte 0 is reserved for the protocol
// status and is handled through the helpers in atomic.go.
package shm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrPlatformUnsupported is returned by Probe when no backend exists for the running OS.
	ErrPlatformUnsupported = errors.New("shared memory is not supported on this platform")
	// ErrBackendFailure wraps OS level failures while creating, sizing, mapping or tearing down a segment.
	ErrBackendFailure = errors.New("shared memory backend failure")
	// ErrInvalidName is returned for names that cannot identify a segment.
	ErrInvalidName = errors.New("invalid shared memory name")
)

// MinRegionSize is the smallest region a backend maps. The status transitions
// operate on the aligned 32-bit word at offset 0.
const MinRegionSize = 4

// Region is a mapped shared memory segment.
type Region interface {
	// Bytes returns the mutable view of the segment, status byte included.
	Bytes() []byte
	// Close unmaps the segment and releases the OS object.
	Close() error
}

// Backend opens regions by name.
type Backend interface {
	Name() string
	// OpenOrCreate maps the segment called name, creating it with
	// capacity+1 bytes if it does not exist yet.
	OpenOrCreate(ctx context.Context, name string, capacity int) (Region, error)
}

// Probe returns the backend for the running OS.
func Probe() (Backend, error) {
	return platformBackend()
}

// regionSize returns the mapped size for a payload capacity.
func regionSize(capacity int) (int, error) {
	size := capacity + 1
	if capacity < 0 || size < MinRegionSize {
		return 0, fmt.Errorf("%w: capacity %d, need at least %d", ErrBackendFailure, capacity, MinRegionSize-1)
	}
	return size, nil
}

// segmentName normalizes a POSIX style name ("/foo" and "foo" are the same segment).
func segmentName(name string) (string, error) {
	n := strings.TrimPrefix(name, "/")
	if n == "" || strings.ContainsRune(n, '/') || strings.ContainsRune(n, 0) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return n, nil
}

func backendError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrBackendFailure, op, err)
}
