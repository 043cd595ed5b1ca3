package shm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeapBackend_SharedByName(t *testing.T) {
	ctx := context.Background()
	b := HeapBackend{}
	r1, err := b.OpenOrCreate(ctx, "/heap-shared", 8)
	require.NoError(t, err)
	r2, err := b.OpenOrCreate(ctx, "heap-shared", 8)
	require.NoError(t, err)
	assert.Equal(t, 2, heapRefCount("heap-shared"))

	require.Len(t, r1.Bytes(), 9)
	r1.Bytes()[5] = 42
	assert.Equal(t, byte(42), r2.Bytes()[5])

	require.NoError(t, r1.Close())
	assert.Equal(t, 1, heapRefCount("heap-shared"))
	require.NoError(t, r2.Close())
	assert.Equal(t, 0, heapRefCount("heap-shared"))

	// a fresh open after the last close starts zeroed
	r3, err := b.OpenOrCreate(ctx, "heap-shared", 8)
	require.NoError(t, err)
	defer r3.Close()
	assert.Equal(t, make([]byte, 9), r3.Bytes())
}

func TestHeapBackend_SizeMismatch(t *testing.T) {
	ctx := context.Background()
	r, err := HeapBackend{}.OpenOrCreate(ctx, "heap-mismatch", 8)
	require.NoError(t, err)
	defer r.Close()
	_, err = HeapBackend{}.OpenOrCreate(ctx, "heap-mismatch", 16)
	assert.ErrorIs(t, err, ErrBackendFailure)
}

func TestHeapBackend_InvalidArguments(t *testing.T) {
	ctx := context.Background()
	_, err := HeapBackend{}.OpenOrCreate(ctx, "", 8)
	assert.ErrorIs(t, err, ErrInvalidName)
	_, err = HeapBackend{}.OpenOrCreate(ctx, "a/b", 8)
	assert.ErrorIs(t, err, ErrInvalidName)
	_, err = HeapBackend{}.OpenOrCreate(ctx, "tiny", 2)
	assert.ErrorIs(t, err, ErrBackendFailure)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = HeapBackend{}.OpenOrCreate(cancelled, "heap-cancelled", 8)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHeapRegion_CloseTwice(t *testing.T) {
	r, err := HeapBackend{}.OpenOrCreate(context.Background(), "heap-close-twice", 4)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.NoError(t, r.Close())
	assert.Nil(t, r.Bytes())
}
