package secd

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestParseReaderMacros covers spec.md §8 scenario 5: quote,
// quasiquote, unquote, unquote-splicing and vector literals all
// expand the way readparse.c's special_form_for/read_token do.
func TestParseReaderMacros(t *testing.T) {
	h, err := NewHeap(1 << 14)
	require.NoError(t, err)

	prog, err := Parse(h, []byte(`(a 'b `+"`"+`c ,d ,@e #(1 2))`))
	require.NoError(t, err)

	// prog is a one-element top-level list: ((a (quote b) ...))
	require.Equal(t, ctCons, h.at(prog).typ)
	outer := h.at(prog).cons.car
	require.Equal(t, "(a (quote b) (quasiquote c) (unquote d) (unquote-splicing e) #(1 2))", PrintString(h, outer))
}

func TestParseIntegersAndSymbols(t *testing.T) {
	h, err := NewHeap(1 << 12)
	require.NoError(t, err)

	prog, err := Parse(h, []byte("(1 -2 foo BAR)"))
	require.NoError(t, err)
	lst := h.at(prog).cons.car
	require.Equal(t, "(1 -2 foo BAR)", PrintString(h, lst))
}

// TestParseStringEscapes covers FEATURES SUPPLEMENTED item 2: \xNN;
// decodes to the UTF-8 encoding of the given code point.
func TestParseStringEscapes(t *testing.T) {
	h, err := NewHeap(1 << 12)
	require.NoError(t, err)

	prog, err := Parse(h, []byte(`("a\tb\x41;")`))
	require.NoError(t, err)
	str := h.at(h.at(prog).cons.car).cons.car
	c := h.at(str)
	require.Equal(t, ctStr, c.typ)
	require.Equal(t, "a\tbA", string(c.str.bytes))
}

// TestParseDottedPair covers the improper-list reader path.
func TestParseDottedPair(t *testing.T) {
	h, err := NewHeap(1 << 12)
	require.NoError(t, err)

	prog, err := Parse(h, []byte("(x . y)"))
	require.NoError(t, err)
	pair := h.at(prog).cons.car
	require.Equal(t, "(x . y)", PrintString(h, pair))
}

// TestParseBooleanLiterals covers #t/#f tokens.
func TestParseBooleanLiterals(t *testing.T) {
	h, err := NewHeap(1 << 12)
	require.NoError(t, err)

	prog, err := Parse(h, []byte("(#t #f)"))
	require.NoError(t, err)
	lst := h.at(prog).cons.car
	require.Equal(t, "(#t #f)", PrintString(h, lst))
}

// TestParseComments covers the ';' to end-of-line comment rule.
func TestParseComments(t *testing.T) {
	h, err := NewHeap(1 << 12)
	require.NoError(t, err)

	prog, err := Parse(h, []byte("(1 2) ; trailing comment\n(3 4)"))
	require.NoError(t, err)
	require.Equal(t, 2, listLen(h, prog))
}
