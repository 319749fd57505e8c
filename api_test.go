package secd

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestMachine(t *testing.T) *Machine {
	t.Helper()
	cfg := NewConfig()
	cfg.SetBool("io.stdio", false)
	m, err := NewMachine(cfg)
	require.NoError(t, err)
	return m
}

func intOf(t *testing.T, h *Heap, r Ref) int64 {
	t.Helper()
	c := h.at(r)
	require.Equal(t, ctAtom, c.typ)
	require.Equal(t, atomInt, c.atom.kind)
	return c.atom.num
}

// TestArithmetic covers the arithmetic scenario from spec.md §8: a
// chain of ADDs folds from the stack top down (2+3 first, then 1+5).
func TestArithmetic(t *testing.T) {
	m := newTestMachine(t)
	result, err := RunSource(m, []byte("(LDC 1 LDC 2 LDC 3 ADD ADD STOP)"))
	require.NoError(t, err)
	require.Equal(t, int64(6), intOf(t, m.Heap, result))
}

// TestSelJoin covers the conditional-branch scenario: SEL picks a
// branch based on the comparison result and JOIN rejoins it with the
// continuation that follows.
func TestSelJoin(t *testing.T) {
	m := newTestMachine(t)
	result, err := RunSource(m, []byte(
		"(LDC 3 LDC 4 LEQ SEL (LDC 100 JOIN) (LDC 200 JOIN) STOP)"))
	require.NoError(t, err)
	require.Equal(t, int64(100), intOf(t, m.Heap, result))
}

// TestLetrecFactorial builds fact(6) via DUM/RAP, tying the recursive
// knot the way secdRap patches a dummy frame in place (spec.md 4.E /
// vm.go's secdDum+secdRap). The closure bound to "fact" captures the
// same environment cons cell RAP later patches, so LD fact inside the
// function body resolves to itself on every recursive call.
//
// Argument lists are built bottom-up: NIL pushes the empty tail, the
// value is pushed on top of it, and CONS conses them together (its
// operand order is car=popped-first, cdr=popped-second), so building a
// list always reads "NIL <value> CONS" rather than "<value> NIL CONS".
func TestLetrecFactorial(t *testing.T) {
	m := newTestMachine(t)
	src := `(
  DUM
  NIL
  LDF ((n)
    LD n LDC 1 LEQ
    SEL
      (LDC 1 JOIN)
      (NIL LD n LDC 1 SUB CONS LD fact AP LD n MUL JOIN)
    RTN)
  CONS
  LDF ((fact)
    NIL LDC 6 CONS LD fact AP RTN)
  RAP
  STOP
)`
	result, err := RunSource(m, []byte(src))
	require.NoError(t, err)
	require.Equal(t, int64(720), intOf(t, m.Heap, result))
}

func listLen(h *Heap, r Ref) int {
	n := 0
	for cur := r; cur.NotNil(); {
		c := h.at(cur)
		if c.typ != ctCons {
			break
		}
		n++
		cur = c.cons.cdr
	}
	return n
}

// TestTailCallBound covers spec.md §8's tail-call bound property: a
// tail-recursive loop guarded by a conditional must run in constant
// dump depth, not one dump frame per iteration. The loop body's else
// branch calls itself with "AP JOIN", which resolveTailTarget (vm.go)
// must collapse through the SEL-pushed dump entry for this to reuse
// the existing dump frame instead of growing it.
func TestTailCallBound(t *testing.T) {
	m := newTestMachine(t)
	src := `(
  DUM
  NIL
  LDF ((n acc)
    LD n LDC 0 EQ
    SEL
      (LD acc JOIN)
      (NIL LD acc LD n ADD CONS LD n LDC 1 SUB CONS LD loop AP JOIN)
    RTN)
  CONS
  LDF ((loop)
    NIL LDC 0 CONS LDC 10000 CONS LD loop AP RTN)
  RAP
  STOP
)`
	compiled, err := compileSource(m.Heap, []byte(src))
	require.NoError(t, err)
	m.Load(compiled)

	maxDumpDepth := 0
	steps := 0
	for !m.halted {
		require.NoError(t, m.Step())
		if d := listLen(m.Heap, m.D); d > maxDumpDepth {
			maxDumpDepth = d
		}
		steps++
		require.Less(t, steps, 1_000_000, "machine failed to halt")
	}
	require.Less(t, maxDumpDepth, 12)
	require.Equal(t, int64(50005000), intOf(t, m.Heap, m.result))
}

// TestDivisionByZeroPropagates covers spec.md §8's error-propagation
// scenario: DIV by zero yields an Error cell (a domain error, not a
// fatal RuntimeError), and that cell keeps propagating through later
// arithmetic instead of being silently swallowed.
func TestDivisionByZeroPropagates(t *testing.T) {
	m := newTestMachine(t)
	result, err := RunSource(m, []byte("(LDC 1 LDC 0 DIV STOP)"))
	require.NoError(t, err)
	require.True(t, isErrorCell(m.Heap, result))

	m2 := newTestMachine(t)
	result2, err := RunSource(m2, []byte("(LDC 1 LDC 0 DIV LDC 1 ADD STOP)"))
	require.NoError(t, err)
	require.True(t, isErrorCell(m2.Heap, result2))
}

// TestReadPrintWithoutStdio covers spec.md §6: a machine built with
// io.stdio disabled has no stdin/stdout ports, and READ/PRINT must
// degrade gracefully (EOF, pass-through) rather than dereference a nil
// port.
func TestReadPrintWithoutStdio(t *testing.T) {
	m := newTestMachine(t) // newTestMachine disables io.stdio

	result, err := RunSource(m, []byte("(READ STOP)"))
	require.NoError(t, err)
	require.True(t, isErrorCell(m.Heap, result))

	m2 := newTestMachine(t)
	result2, err := RunSource(m2, []byte("(LDC 42 PRINT STOP)"))
	require.NoError(t, err)
	require.Equal(t, int64(42), intOf(t, m2.Heap, result2))
}

func listEq(h *Heap, a, b Ref) bool {
	for {
		if a.IsNil() || b.IsNil() {
			return a.IsNil() && b.IsNil()
		}
		ca, cb := h.at(a), h.at(b)
		if ca.typ != cb.typ {
			return false
		}
		switch ca.typ {
		case ctAtom:
			if !atomEq(ca, cb) {
				return false
			}
			return true
		case ctCons:
			if !listEq(h, ca.cons.car, cb.cons.car) {
				return false
			}
			a, b = ca.cons.cdr, cb.cons.cdr
		default:
			return false
		}
	}
}

// TestCompilationIdempotent checks that compiling the same source
// twice produces structurally identical control lists. Recompiling an
// already-compiled list is covered by compiler_test.go's
// TestCompileTwiceIsNoOp.
func TestCompilationIdempotent(t *testing.T) {
	h, err := NewHeap(1 << 16)
	require.NoError(t, err)

	src := []byte("(LDC 1 LDC 2 ADD STOP)")

	first, err := compileSource(h, src)
	require.NoError(t, err)
	second, err := compileSource(h, src)
	require.NoError(t, err)

	require.True(t, listEq(h, first, second))
}
