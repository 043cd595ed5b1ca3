//go:build !linux && !darwin && !windows

package shm

func platformBackend() (Backend, error) {
	return nil, ErrPlatformUnsupported
}
