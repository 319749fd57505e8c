package secd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestStringPortWriteGrows covers the Open Questions "Port resize"
// decision: a string output port's backing buffer grows across
// multiple writes rather than truncating or erroring.
func TestStringPortWriteGrows(t *testing.T) {
	h, err := NewHeap(1 << 12)
	require.NoError(t, err)

	p, err := OpenStringPort(h, true, "")
	require.NoError(t, err)

	one, err := h.NewInt(1)
	require.NoError(t, err)
	require.NoError(t, WriteToPort(h, p, one))

	two, err := h.NewInt(2)
	require.NoError(t, err)
	require.NoError(t, WriteToPort(h, p, two))

	require.Equal(t, "12", string(h.at(p.str).str.bytes))
	require.NoError(t, p.Close(h))
}

// TestStringPortReadAdvancesOffset covers ReadFromPort's incremental
// consumption of an input string port, and the eof Error cell it
// yields at end of input.
func TestStringPortReadAdvancesOffset(t *testing.T) {
	h, err := NewHeap(1 << 12)
	require.NoError(t, err)

	p, err := OpenStringPort(h, false, "1 2")
	require.NoError(t, err)

	first, err := ReadFromPort(h, p)
	require.NoError(t, err)
	require.Equal(t, int64(1), intOf(t, h, first))

	second, err := ReadFromPort(h, p)
	require.NoError(t, err)
	require.Equal(t, int64(2), intOf(t, h, second))

	eof, err := ReadFromPort(h, p)
	require.NoError(t, err)
	c := h.at(eof)
	require.Equal(t, ctError, c.typ)
	require.Equal(t, eofMessage, c.err)

	require.NoError(t, p.Close(h))
}

// TestFilePortRoundTrip covers posix-io.c's secd_fopen/secd_fclose for
// real OS files.
func TestFilePortRoundTrip(t *testing.T) {
	h, err := NewHeap(1 << 12)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "port.txt")

	wp, err := OpenFile(path, true)
	require.NoError(t, err)
	n, err := h.NewInt(42)
	require.NoError(t, err)
	require.NoError(t, WriteToPort(h, wp, n))
	require.NoError(t, wp.Close(h))

	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "42", string(contents))

	rp, err := OpenFile(path, false)
	require.NoError(t, err)
	v, err := ReadFromPort(h, rp)
	require.NoError(t, err)
	require.Equal(t, int64(42), intOf(t, h, v))
	require.NoError(t, rp.Close(h))
}

// TestFilePortCloseIdempotent covers posix-io.c's secd_pclose contract:
// closing an already-closed port is a no-op, not an error.
func TestFilePortCloseIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idempotent.txt")
	p, err := OpenFile(path, true)
	require.NoError(t, err)

	require.NoError(t, p.Close(nil))
	require.NoError(t, p.Close(nil))
}

// TestClosedPortReadWriteFail covers spec.md §5's "closing a port
// transitions it to an empty state: further reads return EOF, further
// writes fail" -- for a string port, since its backing Str cell is
// dropped on Close and a naive implementation would then index past
// the end of the heap on the next read or write.
func TestClosedPortReadWriteFail(t *testing.T) {
	h, err := NewHeap(1 << 12)
	require.NoError(t, err)

	p, err := OpenStringPort(h, false, "1")
	require.NoError(t, err)
	require.NoError(t, p.Close(h))

	eof, err := ReadFromPort(h, p)
	require.NoError(t, err)
	c := h.at(eof)
	require.Equal(t, ctError, c.typ)
	require.Equal(t, eofMessage, c.err)

	out, err := OpenStringPort(h, true, "")
	require.NoError(t, err)
	require.NoError(t, out.Close(h))

	n, err := h.NewInt(1)
	require.NoError(t, err)
	require.Error(t, WriteToPort(h, out, n))
}

// TestStdioPortsDontClose covers closing stdin/stdout ports: Close
// succeeds and marks the port closed, while the "isStd" guard keeps it
// from closing the underlying OS stream (which this test does not
// observe directly).
func TestStdioPortsDontClose(t *testing.T) {
	in := NewStdinPort()
	require.NoError(t, in.file.Close())
	require.True(t, in.file.closed)

	out := NewStdoutPort()
	require.NoError(t, out.file.Close())
	require.True(t, out.file.closed)
}
