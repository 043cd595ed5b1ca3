package shm

import (
	"context"
	"fmt"
	"sync"
	"unsafe"
)

var heapRegions = &globalHeapRegions{
	regions: make(map[string]*heapSegment, 8),
}

type globalHeapRegions struct {
	sync.Mutex
	regions map[string]*heapSegment
}

type heapSegment struct {
	words    []uint32
	mem      []byte
	refCount int
}

// HeapBackend keeps segments in process memory. Two regions opened with the
// same name share bytes, which lets both ends of a channel live in one
// process. Nothing is visible to other processes.
type HeapBackend struct{}

// Name implements Backend.
func (HeapBackend) Name() string { return "heap" }

// OpenOrCreate implements Backend.
func (HeapBackend) OpenOrCreate(ctx context.Context, name string, capacity int) (Region, error) {
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

	heapRegions.Lock()
	defer heapRegions.Unlock()
	seg, ok := heapRegions.regions[n]
	if !ok {
		// backed by uint32 words so offset 0 is aligned for the status word
		words := make([]uint32, (size+3)/4)
		seg = &heapSegment{
			words: words,
			mem:   unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), size),
		}
		heapRegions.regions[n] = seg
	} else if len(seg.mem) != size {
		return nil, fmt.Errorf("%w: heap segment %q has %d bytes, want %d", ErrBackendFailure, n, len(seg.mem), size)
	}
	seg.refCount++
	return &heapRegion{name: n, seg: seg}, nil
}

type heapRegion struct {
	name string
	seg  *heapSegment
}

func (r *heapRegion) Bytes() []byte {
	if r.seg == nil {
		return nil
	}
	return r.seg.mem
}

// Close drops this reference; the last reference frees the segment.
func (r *heapRegion) Close() error {
	if r.seg == nil {
		return nil
	}
	heapRegions.Lock()
	defer heapRegions.Unlock()
	r.seg.refCount--
	if r.seg.refCount <= 0 && heapRegions.regions[r.name] == r.seg {
		delete(heapRegions.regions, r.name)
	}
	r.seg = nil
	return nil
}
