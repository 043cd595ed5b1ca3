package shm

import (
	"encoding/binary"
	"sync/atomic"
	"unsafe"
)

// The status lives in byte 0 of the region. Go has no 8-bit atomics, so the
// helpers below operate on the aligned 32-bit word at offset 0. Payload bytes
// 1..3 share that word: the peer may load it at any time while polling, so
// those bytes are only ever read and written through LoadHead and
// StoreHeadByte. Callers must pass a region of at least MinRegionSize bytes
// whose first byte is 4-byte aligned, which every backend guarantees.

// HeadLen is the number of payload bytes that share the status word.
const HeadLen = MinRegionSize - 1

func statusWord(mem []byte) *uint32 {
	return (*uint32)(unsafe.Pointer(&mem[0]))
}

func byteAt(word uint32, i int) byte {
	var b [4]byte
	binary.NativeEndian.PutUint32(b[:], word)
	return b[i]
}

func withByte(word uint32, i int, v byte) uint32 {
	var b [4]byte
	binary.NativeEndian.PutUint32(b[:], word)
	b[i] = v
	return binary.NativeEndian.Uint32(b[:])
}

// storeByte atomically sets byte i of the status word, leaving the others.
func storeByte(mem []byte, i int, v byte) {
	w := statusWord(mem)
	for {
		old := atomic.LoadUint32(w)
		if atomic.CompareAndSwapUint32(w, old, withByte(old, i, v)) {
			return
		}
	}
}

// LoadStatus atomically reads byte 0.
func LoadStatus(mem []byte) byte {
	return byteAt(atomic.LoadUint32(statusWord(mem)), 0)
}

// StoreStatus atomically sets byte 0, leaving bytes 1..3 as they are.
func StoreStatus(mem []byte, v byte) {
	storeByte(mem, 0, v)
}

// CompareAndSwapStatus sets byte 0 to new if it currently holds old.
// Concurrent changes to bytes 1..3 are retried, not reported as a failed swap.
func CompareAndSwapStatus(mem []byte, old, new byte) bool {
	w := statusWord(mem)
	for {
		cur := atomic.LoadUint32(w)
		if byteAt(cur, 0) != old {
			return false
		}
		if atomic.CompareAndSwapUint32(w, cur, withByte(cur, 0, new)) {
			return true
		}
	}
}

// LoadHead atomically reads region bytes 1..3, the first HeadLen payload bytes.
func LoadHead(mem []byte) (head [HeadLen]byte) {
	word := atomic.LoadUint32(statusWord(mem))
	for i := range head {
		head[i] = byteAt(word, i+1)
	}
	return head
}

// StoreHeadByte atomically sets payload byte i, 0 <= i < HeadLen, which is
// region byte i+1.
func StoreHeadByte(mem []byte, i int, v byte) {
	storeByte(mem, i+1, v)
}
