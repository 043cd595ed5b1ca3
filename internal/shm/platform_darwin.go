//go:build darwin

package shm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

// PosixBackend maps segments created with shm_open.
type PosixBackend struct{}

func platformBackend() (Backend, error) {
	return PosixBackend{}, nil
}

// Name implements Backend.
func (PosixBackend) Name() string { return "posix" }

// OpenOrCreate implements Backend.
func (PosixBackend) OpenOrCreate(ctx context.Context, name string, capacity int) (Region, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n, err := segmentName(name)
	if err != nil {
		return nil, err
	}
	size, err := regionSize(capacity)
	if err != nil {
		return nil, err
	}
	n = "/" + n

	fd, err := shmOpen(n, unix.O_RDWR|unix.O_CREAT, 0600)
	if err != nil {
		return nil, backendError("shm_open "+n, err)
	}
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		_ = unix.Close(fd)
		return nil, backendError("fstat", err)
	}
	// macOS only lets a shm object be sized once.
	if st.Size == 0 {
		if err := unix.Ftruncate(fd, int64(size)); err != nil {
			_ = unix.Close(fd)
			return nil, backendError("ftruncate", err)
		}
	} else if st.Size != int64(size) && st.Size != int64(pageAligned(size)) {
		// macOS reports the size rounded up to a page
		_ = unix.Close(fd)
		return nil, fmt.Errorf("%w: %s has %d bytes, want %d", ErrBackendFailure, n, st.Size, size)
	}
	mem, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = unix.Close(fd)
		return nil, backendError("mmap", err)
	}
	return &posixRegion{mem: mem, fd: fd, name: n}, nil
}

type posixRegion struct {
	mem  []byte
	fd   int
	name string
}

func (r *posixRegion) Bytes() []byte { return r.mem }

func (r *posixRegion) Close() error {
	var errs []error
	if r.mem != nil {
		if err := unix.Munmap(r.mem); err != nil {
			errs = append(errs, backendError("munmap", err))
		}
		r.mem = nil
	}
	if r.fd >= 0 {
		if err := unix.Close(r.fd); err != nil {
			errs = append(errs, backendError("close", err))
		}
		r.fd = -1
	}
	if r.name != "" {
		if err := shmUnlink(r.name); err != nil && !errors.Is(err, unix.ENOENT) {
			errs = append(errs, backendError("shm_unlink", err))
		}
		r.name = ""
	}
	return errors.Join(errs...)
}

func shmOpen(name string, mode int, perm uint32) (int, error) {
	namePtr, err := syscall.BytePtrFromString(name)
	if err != nil {
		return -1, err
	}
	fd, _, errno := syscall.Syscall(
		syscall.SYS_SHM_OPEN,
		uintptr(unsafe.Pointer(namePtr)),
		uintptr(mode),
		uintptr(perm))
	if int32(fd) < 0 || errno != 0 {
		return -1, errno
	}
	return int(fd), nil
}

func shmUnlink(name string) error {
	namePtr, err := syscall.BytePtrFromString(name)
	if err != nil {
		return err
	}
	_, _, errno := syscall.Syscall(
		syscall.SYS_SHM_UNLINK,
		uintptr(unsafe.Pointer(namePtr)),
		0, 0)
	if errno != 0 {
		return errno
	}
	return nil
}

func pageAligned(size int) int {
	page := os.Getpagesize()
	return (size + page - 1) / page * page
}
