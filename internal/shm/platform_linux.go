//go:build linux

package shm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/shirou/gopsutil/v3/disk"
	"golang.org/x/sys/unix"
)

// DefaultDevShmDir is where linux exposes POSIX shared memory objects.
const DefaultDevShmDir = "/dev/shm"

// DevShmBackend maps segments as files under Dir, which is what shm_open
// does on linux.
type DevShmBackend struct {
	Dir string
}

func platformBackend() (Backend, error) {
	return &DevShmBackend{Dir: DefaultDevShmDir}, nil
}

// Name implements Backend.
func (b *DevShmBackend) Name() string { return "devshm" }

// OpenOrCreate implements Backend.
func (b *DevShmBackend) OpenOrCreate(ctx context.Context, name string, capacity int) (Region, error) {
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
	dir := b.Dir
	if dir == "" {
		dir = DefaultDevShmDir
	}
	path := filepath.Join(dir, n)

	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT|unix.O_CLOEXEC, 0600)
	if err != nil {
		return nil, backendError("open "+path, err)
	}
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		_ = unix.Close(fd)
		return nil, backendError("fstat", err)
	}
	switch {
	case st.Size == 0:
		if !canCreateOnDevShm(uint64(size), path) {
			_ = unix.Close(fd)
			return nil, fmt.Errorf("%w: not enough space for %d bytes at %s", ErrBackendFailure, size, path)
		}
		if err := unix.Ftruncate(fd, int64(size)); err != nil {
			_ = unix.Close(fd)
			return nil, backendError("ftruncate", err)
		}
	case st.Size != int64(size):
		_ = unix.Close(fd)
		return nil, fmt.Errorf("%w: %s has %d bytes, want %d", ErrBackendFailure, path, st.Size, size)
	}
	mem, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = unix.Close(fd)
		return nil, backendError("mmap", err)
	}
	return &devShmRegion{mem: mem, fd: fd, path: path}, nil
}

type devShmRegion struct {
	mem  []byte
	fd   int
	path string
}

func (r *devShmRegion) Bytes() []byte { return r.mem }

// Close unmaps, closes the descriptor and unlinks the file. The peer may
// have unlinked it already.
func (r *devShmRegion) Close() error {
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
	if r.path != "" {
		if err := os.Remove(r.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, backendError("unlink", err))
		}
		r.path = ""
	}
	return errors.Join(errs...)
}

// canCreateOnDevShm reports whether the filesystem behind path has size
// bytes free. Paths outside DefaultDevShmDir are not checked.
func canCreateOnDevShm(size uint64, path string) bool {
	if filepath.Dir(path) != DefaultDevShmDir {
		return true
	}
	stat, err := disk.Usage(DefaultDevShmDir)
	if err != nil {
		return true
	}
	return stat.Free >= size
}
