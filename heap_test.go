package secd

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestFixedCellReuse covers the free-list half of spec.md §4.B: a
// dropped cons cell returns to the free list and is handed back out
// by the next allocation instead of bumping fixedptr further.
func TestFixedCellReuse(t *testing.T) {
	h, err := NewHeap(1 << 12)
	require.NoError(t, err)

	before := h.fixedptr
	r, err := h.NewCons(NilRef, NilRef)
	require.NoError(t, err)
	require.Equal(t, before+1, h.fixedptr)

	h.Drop(r)
	require.Equal(t, before, h.fixedptr, "dropping the high-water cell should retract fixedptr")

	r2, err := h.NewCons(NilRef, NilRef)
	require.NoError(t, err)
	require.Equal(t, r, r2, "the reclaimed cell should be handed back out first")
}

// TestArrayRoundTrip covers spec.md §8 scenario 4: allocating,
// dropping, and re-allocating a vector in a loop must not leak array
// region space -- arrayptr should return to (near) its starting point
// after every iteration.
func TestArrayRoundTrip(t *testing.T) {
	h, err := NewHeap(1 << 16)
	require.NoError(t, err)

	startArrayptr := h.arrayptr
	for i := 0; i < 1000; i++ {
		r, err := h.NewArray(8)
		require.NoError(t, err)
		for j := 0; j < 8; j++ {
			h.ArraySet(r, j, NilRef)
		}
		h.Drop(r)
	}
	require.Equal(t, startArrayptr, h.arrayptr, "array region must not leak across alloc/drop cycles")
}

// TestArrayChunkCoalescing covers spec.md §4.B's coalescing
// requirement: dropping two adjacent array chunks must merge them
// back into the free region rather than leaving two small free
// chunks fragmenting the array region.
func TestArrayChunkCoalescing(t *testing.T) {
	h, err := NewHeap(1 << 12)
	require.NoError(t, err)

	a, err := h.NewArray(4)
	require.NoError(t, err)
	b, err := h.NewArray(4)
	require.NoError(t, err)

	h.Drop(a)
	h.Drop(b)
	require.Equal(t, h.arrlist, h.arrayptr, "dropping both adjacent chunks should fully reclaim the array region")
}

// TestHeapExhaustion covers spec.md §4.B's only failure mode: a heap
// with no room left returns an error rather than corrupting state.
func TestHeapExhaustion(t *testing.T) {
	size := int(firstFixed) + 8
	h, err := NewHeap(size)
	require.NoError(t, err)

	available := h.arrayptr - int(firstFixed)
	for i := 0; i < available; i++ {
		_, err := h.NewCons(NilRef, NilRef)
		require.NoError(t, err)
	}
	_, err = h.NewCons(NilRef, NilRef)
	require.Error(t, err)
}

// TestArrayNrefInvariant covers spec.md §8's "no dangling arrays"
// property: a freshly allocated chunk's ArrMeta.nref is >= 1 while
// live, and drops to 0 (and is reported free) only once its owning
// Array handle is dropped.
func TestArrayNrefInvariant(t *testing.T) {
	h, err := NewHeap(1 << 12)
	require.NoError(t, err)

	r, err := h.NewArray(4)
	require.NoError(t, err)
	meta := h.ArrayMeta(r)
	require.GreaterOrEqual(t, h.at(meta).nref, int32(1))
	require.False(t, h.isArrayFree(meta))

	h.Drop(r)
	require.True(t, h.isArrayFree(meta))
}
