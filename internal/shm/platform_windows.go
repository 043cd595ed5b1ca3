//go:build windows

package shm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/windows"
)

// FileMappingBackend maps named file mappings backed by the paging file.
type FileMappingBackend struct{}

func platformBackend() (Backend, error) {
	return FileMappingBackend{}, nil
}

// Name implements Backend.
func (FileMappingBackend) Name() string { return "filemapping" }

// OpenOrCreate implements Backend.
func (FileMappingBackend) OpenOrCreate(ctx context.Context, name string, capacity int) (Region, error) {
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
	namep, err := windows.UTF16PtrFromString(n)
	if err != nil {
		return nil, backendError("name", err)
	}
	// An existing mapping with the same name is opened instead of created;
	// its size is then checked against the view.
	h, err := windows.CreateFileMapping(windows.InvalidHandle, nil, windows.PAGE_READWRITE, 0, uint32(size), namep)
	existed := errors.Is(err, windows.ERROR_ALREADY_EXISTS)
	if err != nil && !existed {
		return nil, backendError("CreateFileMapping", err)
	}
	// a zero length maps the whole section
	addr, err := windows.MapViewOfFile(h, windows.FILE_MAP_READ|windows.FILE_MAP_WRITE, 0, 0, 0)
	if err != nil {
		_ = windows.CloseHandle(h)
		return nil, backendError("MapViewOfFile", err)
	}
	if existed {
		var info windows.MemoryBasicInformation
		if err := windows.VirtualQuery(addr, &info, unsafe.Sizeof(info)); err != nil {
			_ = windows.UnmapViewOfFile(addr)
			_ = windows.CloseHandle(h)
			return nil, backendError("VirtualQuery", err)
		}
		// sections are page granular, smaller differences go unnoticed
		if info.RegionSize != uintptr(pageAligned(size)) {
			_ = windows.UnmapViewOfFile(addr)
			_ = windows.CloseHandle(h)
			return nil, fmt.Errorf("%w: mapping %s has %d bytes, want %d", ErrBackendFailure, n, info.RegionSize, size)
		}
	}
	return &fileMappingRegion{
		handle: h,
		addr:   addr,
		mem:    toSlice(addr, size),
	}, nil
}

func pageAligned(size int) int {
	page := os.Getpagesize()
	return (size + page - 1) / page * page
}

func toSlice(p uintptr, size int) []byte {
	addr := *(*unsafe.Pointer)(unsafe.Pointer(&p))
	return unsafe.Slice((*byte)(addr), size)
}

type fileMappingRegion struct {
	handle windows.Handle
	addr   uintptr
	mem    []byte
}

func (r *fileMappingRegion) Bytes() []byte { return r.mem }

// Close unmaps the view and closes the handle. Windows drops the mapping
// once the last handle is gone, there is nothing to unlink.
func (r *fileMappingRegion) Close() error {
	var errs []error
	if r.addr != 0 {
		if err := windows.UnmapViewOfFile(r.addr); err != nil {
			errs = append(errs, backendError("UnmapViewOfFile", err))
		}
		r.addr = 0
		r.mem = nil
	}
	if r.handle != 0 {
		if err := windows.CloseHandle(r.handle); err != nil {
			errs = append(errs, backendError("CloseHandle", err))
		}
		r.handle = 0
	}
	return errors.Join(errs...)
}
