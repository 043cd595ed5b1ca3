package shm

import (
	internalshm "github.com/CoolandonRS/polyglot/internal/shm"
)

// Backend maps named shared memory segments. See PlatformBackend and HeapBackend.
type Backend = internalshm.Backend

// Region is a mapped segment of capacity+1 bytes.
type Region = internalshm.Region

// PlatformBackend returns the backend for the running OS, or
// ErrPlatformUnsupported.
func PlatformBackend() (Backend, error) {
	return internalshm.Probe()
}

// HeapBackend returns a backend whose segments live in process memory and
// are shared by name within the process only.
func HeapBackend() Backend {
	return internalshm.HeapBackend{}
}
