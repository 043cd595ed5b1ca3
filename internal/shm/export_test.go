package shm

// heapRefCount returns how many open regions reference the heap segment name.
func heapRefCount(name string) int {
	n, err := segmentName(name)
	if err != nil {
		return 0
	}
	heapRegions.Lock()
	defer heapRegions.Unlock()
	if seg, ok := heapRegions.regions[n]; ok {
		return seg.refCount
	}
	return 0
}
