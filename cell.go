package secd

// Ref is an index into a Machine's heap region. It plays the role the
// original SECD implementation gives to a raw cell_t* pointer: cells
// never reference each other through Go pointers, only through Ref,
// so the whole value graph stays inside one contiguous slice and the
// fixed/array allocators can do pointer (index) arithmetic on it.
type Ref int32

// NilRef is the shared sentinel terminating every list and marking
// every empty register. It is not an index into the heap slice (heap
// indices are always >= 0), so `ref == NilRef` is a total, trivial
// test, matching spec's "not_nil/is_nil are total on references".
const NilRef Ref = -1

// IsNil reports whether r is the NIL sentinel.
func (r Ref) IsNil() bool { return r == NilRef }

// NotNil reports whether r is anything other than NIL.
func (r Ref) NotNil() bool { return r != NilRef }

// Pinned is the saturating refcount used for cells that must never be
// freed: statically declared constants (the three sentinel errors and
// the compile-sentinel atom NewHeap sets up). share/drop on a pinned
// cell are no-ops, so its storage can never be recycled.
const Pinned int32 = 1<<30 - 1

// cellType tags the variant stored in a cell. It is the Go analogue of
// the original's `celltype_e` enum (secd.h / memory.c switch statements).
type cellType uint8

const (
	ctFree cellType = iota
	ctUndef
	ctCons
	ctFrame
	ctAtom
	ctArray
	ctStr
	ctPort
	ctRef
	ctError
	ctArrMeta
)

// atomKind tags the sub-variant of an Atom cell.
type atomKind uint8

const (
	atomInt atomKind = iota
	atomSym
	atomOp
	atomNative
)

// consPayload backs both Cons and Frame cells: a Frame is structurally
// a cons of (syms . vals), per spec.md 4.A.
type consPayload struct {
	car, cdr Ref
}

// atomPayload backs Atom cells. Only the field matching `kind` is
// meaningful.
type atomPayload struct {
	kind atomKind

	num int64 // atomInt

	sym    string // atomSym: interned-ish symbol name
	pinned bool   // atomSym: true if this symbol's name storage must never be reclaimed (DONT_FREE_THIS)

	op int // atomOp: opcode index

	native int // atomNative: index into the machine's native-function table; used for identity comparisons instead of a Go func pointer, since func values aren't comparable
}

// arrPayload backs Array cells: an owning handle into the array region.
type arrPayload struct {
	data Ref // Ref of the first payload cell of the chunk
}

// strPayload backs Str cells: an owning handle on an array-region
// chunk reserved for the string, the bytes themselves (held in a Go
// buffer), a precomputed hash (memory.c's jenkins_hash) and a read
// offset used by string ports.
type strPayload struct {
	meta   Ref // Ref of the ArrMeta heading the backing chunk
	bytes  []byte
	hash   uint32
	offset int
}

// portDirection and portKind mirror spec.md 3/5's port model.
type portDirection uint8

const (
	portInput portDirection = 1 << iota
	portOutput
)

type portKind uint8

const (
	portFile portKind = iota
	portString
)

type portPayload struct {
	dir    portDirection
	kind   portKind
	closed bool

	file *filePort   // portFile
	str  Ref         // portString: Ref of the backing Str cell
}

// metaPayload backs ArrMeta cells: the header of one array-region
// chunk. `nref` (on the owning cell, not here) doubles as the chunk's
// used/free flag, per spec.md 4.B.
type metaPayload struct {
	prev, next Ref
	holdsCells bool
}

// cell is the tagged-union value type. Go has no union type, so the
// per-variant payloads live in separate fields the way a struct of
// Maybe-present fields usually does in this codebase; only the field
// matching `typ` is meaningful for a given cell.
type cell struct {
	typ  cellType
	nref int32

	cons consPayload
	atom atomPayload
	arr  arrPayload
	str  strPayload
	port portPayload
	ref  Ref
	err  string
	meta metaPayload
}

func (c *cell) isCons() bool { return c.typ == ctCons || c.typ == ctFrame }

// AtomEq is total equality on atoms: integers by value, symbols by
// case-insensitive name, native funcs by identity (table index).
// Opcodes compare by index. Mirrors interp.c's atom_eq.
func atomEq(a, b *cell) bool {
	if a == b {
		return true
	}
	if a.typ != ctAtom || b.typ != ctAtom {
		return false
	}
	if a.atom.kind != b.atom.kind {
		return false
	}
	switch a.atom.kind {
	case atomInt:
		return a.atom.num == b.atom.num
	case atomSym:
		return strCaseEq(a.atom.sym, b.atom.sym)
	case atomOp:
		return a.atom.op == b.atom.op
	case atomNative:
		return a.atom.native == b.atom.native
	}
	return false
}

func strCaseEq(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
