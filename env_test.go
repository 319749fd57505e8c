package secd

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func mkList(t *testing.T, h *Heap, names ...string) Ref {
	t.Helper()
	lst := NilRef
	for i := len(names) - 1; i >= 0; i-- {
		sym, err := h.NewSymbol(names[i], false)
		require.NoError(t, err)
		cons, err := h.NewCons(sym, lst)
		require.NoError(t, err)
		lst = cons
	}
	return lst
}

func mkInts(t *testing.T, h *Heap, vals ...int64) Ref {
	t.Helper()
	lst := NilRef
	for i := len(vals) - 1; i >= 0; i-- {
		n, err := h.NewInt(vals[i])
		require.NoError(t, err)
		cons, err := h.NewCons(n, lst)
		require.NoError(t, err)
		lst = cons
	}
	return lst
}

// TestLookupOuterToInner covers spec.md 4.D: Lookup scans the
// environment list from its head, the innermost frame, outward, so an
// inner frame's binding shadows an outer one.
func TestLookupOuterToInner(t *testing.T) {
	h, err := NewHeap(1 << 12)
	require.NoError(t, err)

	outerFrame, err := h.NewFrame(mkList(t, h, "x"), mkInts(t, h, 1))
	require.NoError(t, err)
	outerEnv, err := h.NewCons(outerFrame, NilRef)
	require.NoError(t, err)

	innerFrame, err := h.NewFrame(mkList(t, h, "x"), mkInts(t, h, 2))
	require.NoError(t, err)
	innerEnv, err := h.NewCons(innerFrame, outerEnv)
	require.NoError(t, err)

	v, err := Lookup(h, innerEnv, "x")
	require.NoError(t, err)
	require.Equal(t, int64(2), intOf(t, h, v))

	v2, err := Lookup(h, innerEnv, "X") // case-insensitive
	require.NoError(t, err)
	require.Equal(t, int64(2), intOf(t, h, v2))
}

// TestLookupUnbound covers spec.md 4.D's "failure is surfaced as an
// error, not silently NIL".
func TestLookupUnbound(t *testing.T) {
	h, err := NewHeap(1 << 12)
	require.NoError(t, err)
	_, err = Lookup(h, NilRef, "nope")
	require.Error(t, err)
}

// TestBindRebindsExisting covers env.go's Bind used by secd-bind!:
// rebinding an existing name replaces its value without growing the
// frame's symbol list.
func TestBindRebindsExisting(t *testing.T) {
	h, err := NewHeap(1 << 12)
	require.NoError(t, err)

	frame, err := h.NewFrame(mkList(t, h, "x"), mkInts(t, h, 1))
	require.NoError(t, err)
	env, err := h.NewCons(frame, NilRef)
	require.NoError(t, err)

	nv, err := h.NewInt(42)
	require.NoError(t, err)
	require.NoError(t, Bind(h, env, "x", nv))

	v, err := Lookup(h, env, "x")
	require.NoError(t, err)
	require.Equal(t, int64(42), intOf(t, h, v))
	require.Equal(t, 1, listLen(h, h.at(frame).cons.car))
}

// TestBindExtendsFrame covers the "introduce a new binding" path.
func TestBindExtendsFrame(t *testing.T) {
	h, err := NewHeap(1 << 12)
	require.NoError(t, err)

	frame, err := h.NewFrame(mkList(t, h, "x"), mkInts(t, h, 1))
	require.NoError(t, err)
	env, err := h.NewCons(frame, NilRef)
	require.NoError(t, err)

	nv, err := h.NewInt(99)
	require.NoError(t, err)
	require.NoError(t, Bind(h, env, "y", nv))

	v, err := Lookup(h, env, "y")
	require.NoError(t, err)
	require.Equal(t, int64(99), intOf(t, h, v))

	vx, err := Lookup(h, env, "x")
	require.NoError(t, err)
	require.Equal(t, int64(1), intOf(t, h, vx))
}
