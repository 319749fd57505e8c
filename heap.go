package secd

import (
	"github.com/pkg/errors"
)

// Heap is the contiguous region backing every Cell a Machine ever
// allocates. Fixed-size cells are handed out from a free list that
// grows from the low end of the slice; array chunks (backing Str and
// Array cells) are handed out from the high end, each chunk headed by
// an ArrMeta cell linked into a doubly-linked list so neighbouring
// free chunks can be coalesced. This mirrors memory.c's `fixedptr`/
// `arrayptr` design (memory.c: init_mem, pop_free, push_free,
// alloc_array, free_array).
type Heap struct {
	cells []cell

	// fixedptr is the boundary: indices below it are either on the
	// free list or in use as fixed cells, like memory.c's
	// secd->fixedptr. popFree moves it up; retractFixedptr moves it
	// back down past free cells at the high-water mark.
	fixedptr int

	// arrayptr is the lowest index currently claimed by the array
	// region, like secd->arrayptr. allocArray moves it down; freeArray
	// moves it back up when the lowest chunk is freed.
	arrayptr int

	// arrlist is the permanent ArrMeta sentinel at the top of the
	// heap (secd->arrlist in memory.c): never considered free even
	// though its nref is 0.
	arrlist int

	freeList Ref // head of the fixed-cell free list, NilRef if empty
	freeCells int

	natives []NativeFunc
	nativeIndex map[string]int

	tick uint64 // interpreter steps executed; exposed by (secd 'tick)

	trace bool
}

// sentinel indices: permanently pinned cells living at the very
// bottom of the heap, below where fixedptr starts counting from: three
// Error cells and the compile-sentinel Sym atom.
const (
	refOOM             Ref = 0
	refNilFailure      Ref = 1
	refFailure         Ref = 2
	refCompileSentinel Ref = 3
	firstFixed         Ref = 4
)

// NativeFunc is a native (built-in) procedure. Identity for atom_eq
// purposes is the function's index in Heap.natives, since Go func
// values are not comparable.
type NativeFunc func(m *Machine, args []Ref) (Ref, error)

// NewHeap allocates a heap of the given total cell capacity and wires
// up the three pinned sentinel errors plus the array-region sentinel,
// matching memory.c's init_mem.
func NewHeap(size int) (*Heap, error) {
	if size < int(firstFixed)+8 {
		return nil, errors.Errorf("secd: heap size %d too small", size)
	}
	h := &Heap{
		cells:       make([]cell, size),
		nativeIndex: make(map[string]int),
		freeList:    NilRef,
	}

	h.cells[refOOM] = cell{typ: ctError, nref: Pinned, err: "out of memory"}
	h.cells[refNilFailure] = cell{typ: ctError, nref: Pinned, err: "nil has no value here"}
	h.cells[refFailure] = cell{typ: ctError, nref: Pinned, err: "operation failed"}
	h.cells[refCompileSentinel] = cell{typ: ctAtom, nref: Pinned, atom: atomPayload{kind: atomSym, sym: "#[compiled]", pinned: true}}

	h.arrlist = size - 1
	h.cells[h.arrlist] = cell{typ: ctArrMeta, nref: 0, meta: metaPayload{prev: NilRef, next: NilRef}}
	h.arrayptr = h.arrlist

	h.fixedptr = int(firstFixed)
	return h, nil
}

func (h *Heap) at(r Ref) *cell {
	return &h.cells[r]
}

// popFree returns a free fixed cell, bumping fixedptr if the free list
// is empty. Mirrors memory.c's pop_free. The free list is doubly
// linked (car=prev, cdr=next) so pushFree's high-water retraction
// (below) can unlink an arbitrary member, not just the head.
func (h *Heap) popFree() (Ref, error) {
	if h.freeList.NotNil() {
		r := h.freeList
		c := h.at(r)
		next := c.cons.cdr
		if next.NotNil() {
			h.at(next).cons.car = NilRef
		}
		h.freeList = next
		h.freeCells--
		*c = cell{}
		return r, nil
	}
	if h.fixedptr >= h.arrayptr {
		return NilRef, errors.New("secd: heap exhausted")
	}
	r := Ref(h.fixedptr)
	h.fixedptr++
	h.cells[r] = cell{}
	return r, nil
}

// pushFree returns a fixed cell to the free list, then retracts
// fixedptr past every contiguous Free cell sitting at the new
// high-water mark, unlinking each from the free list as it goes.
// Mirrors memory.c's push_free, which performs this coalescing
// inline rather than leaving dead cells below fixedptr (spec.md 4.B).
func (h *Heap) pushFree(r Ref) {
	c := h.at(r)
	*c = cell{typ: ctFree, cons: consPayload{car: NilRef, cdr: h.freeList}}
	if h.freeList.NotNil() {
		h.at(h.freeList).cons.car = r
	}
	h.freeList = r
	h.freeCells++
	h.retractFixedptr()
}

// retractFixedptr merges free cells at the current high-water mark
// back into the unused region. Mirrors the coalescing half of
// memory.c's push_free.
func (h *Heap) retractFixedptr() {
	for h.fixedptr > int(firstFixed) {
		top := Ref(h.fixedptr - 1)
		c := h.at(top)
		if c.typ != ctFree {
			return
		}
		h.unlinkFree(top)
		h.fixedptr--
		h.cells[top] = cell{}
	}
}

// unlinkFree removes r from the free list, wherever it sits, patching
// its neighbours' car/cdr links around it.
func (h *Heap) unlinkFree(r Ref) {
	c := h.at(r)
	prev, next := c.cons.car, c.cons.cdr
	if prev.NotNil() {
		h.at(prev).cons.cdr = next
	} else {
		h.freeList = next
	}
	if next.NotNil() {
		h.at(next).cons.car = prev
	}
	h.freeCells--
}

// allocArray claims `n` contiguous cells from the high end of the
// region, heading them with a fresh ArrMeta cell. Mirrors memory.c's
// alloc_array. holdsCells distinguishes Array payloads (cells storing
// Refs) from Str payloads (cells storing raw bytes), exactly as the
// original differentiates the two users of the array region.
func (h *Heap) allocArray(n int, holdsCells bool) (Ref, error) {
	need := n + 1 // +1 for the ArrMeta header
	if h.arrayptr-need < h.fixedptr {
		if !h.compactArrays(need) {
			return NilRef, errors.New("secd: array region exhausted")
		}
	}
	metaIdx := h.arrayptr - need
	meta := Ref(metaIdx)
	h.cells[meta] = cell{
		typ:  ctArrMeta,
		nref: 1,
		meta: metaPayload{prev: NilRef, next: Ref(h.arrayptr), holdsCells: holdsCells},
	}
	next := h.at(Ref(h.arrayptr))
	next.meta.prev = meta
	for i := 0; i < n; i++ {
		h.cells[metaIdx+1+i] = cell{}
	}
	h.arrayptr = metaIdx
	return meta, nil
}

// compactArrays is consulted by allocArray when a request of `need`
// cells does not fit between fixedptr and arrayptr. It moves and
// merges nothing: it walks the chunks from arrayptr, reports false at
// the first live one, and otherwise repeats the fit check that already
// failed, so it always reports false. Free chunks above arrayptr are
// not reused for new allocations.
func (h *Heap) compactArrays(need int) bool {
	cur := Ref(h.arrayptr)
	for cur.NotNil() && int(cur) != h.arrlist {
		c := h.at(cur)
		if c.nref != 0 {
			return false
		}
		cur = c.meta.next
	}
	return h.arrayptr-need >= h.fixedptr
}

// arrMetaSize reports the payload length (in cells) of the chunk
// headed by meta, derived from the distance to the next chunk, the
// same arithmetic memory.c performs instead of storing a redundant
// size field.
func (h *Heap) arrMetaSize(meta Ref) int {
	m := h.at(meta)
	next := int(m.meta.next)
	if m.meta.next.IsNil() {
		next = h.arrlist
	}
	return next - int(meta) - 1
}

// releaseArrayRef decrements the owning-handle refcount doubled up on
// meta's nref field (spec.md 4.C: "Array/Str decrement the underlying
// ArrMeta.nref") and reports whether it reached zero, i.e. whether the
// caller should go on to drop the chunk's payload and free it. No
// Array/Str handle in this implementation aliases a chunk another
// handle also owns, so in practice this is a 1-to-0 transition, but it
// is expressed as a decrement (not an unconditional free) so the
// invariant in spec.md 8 ("every Array/Str handle's ArrMeta.nref >= 1")
// holds for every live handle, matching memory.c's use of nref as both
// the chunk's used/free flag and the payload refcount.
func (h *Heap) releaseArrayRef(meta Ref) bool {
	m := h.at(meta)
	if m.nref == 0 {
		return false
	}
	m.nref--
	return m.nref == 0
}

// freeArray releases a chunk and merges into it the run of free
// chunks directly above it (toward arrlist). A free chunk directly
// below it is not merged here. Mirrors memory.c's free_array. Callers
// must have already confirmed the chunk's refcount reached zero
// (releaseArrayRef).
func (h *Heap) freeArray(meta Ref) {
	m := h.at(meta)
	m.nref = 0

	// coalesce forward
	for m.meta.next.NotNil() {
		nextIdx := int(m.meta.next)
		if nextIdx == h.arrlist {
			break
		}
		nxt := h.at(m.meta.next)
		if nxt.nref != 0 {
			break
		}
		m.meta.next = nxt.meta.next
		if m.meta.next.NotNil() {
			h.at(m.meta.next).meta.prev = meta
		}
	}

	// if this chunk is now the lowest, bump arrayptr past it
	if int(meta) == h.arrayptr {
		next := m.meta.next
		if next.IsNil() {
			h.arrayptr = h.arrlist
		} else {
			h.arrayptr = int(next)
		}
	}
}

func (h *Heap) isArrayFree(meta Ref) bool {
	if int(meta) == h.arrlist {
		return false
	}
	return h.at(meta).nref == 0
}

// RegisterNative adds a native procedure under `name`, returning its
// index in the native-function table. It allocates no cell; callers
// build the Atom(NativeFunc) cell with NewNativeFunc.
func (h *Heap) RegisterNative(name string, fn NativeFunc) int {
	idx := len(h.natives)
	h.natives = append(h.natives, fn)
	h.nativeIndex[name] = idx
	return idx
}

// --- constructors -----------------------------------------------------
//
// Every constructor below hands back a fresh cell with nref == 1 (the
// caller owns the single reference), mirroring memory.c's convention
// that new_cons/new_number/... return a cell "already shared once".

func (h *Heap) NewCons(car, cdr Ref) (Ref, error) {
	r, err := h.popFree()
	if err != nil {
		return NilRef, err
	}
	*h.at(r) = cell{typ: ctCons, nref: 1, cons: consPayload{car: car, cdr: cdr}}
	return r, nil
}

// NewFrame builds a Frame cell, the (syms . vals) pair spec.md 4.A
// describes as the unit of environment extension.
func (h *Heap) NewFrame(syms, vals Ref) (Ref, error) {
	r, err := h.popFree()
	if err != nil {
		return NilRef, err
	}
	*h.at(r) = cell{typ: ctFrame, nref: 1, cons: consPayload{car: syms, cdr: vals}}
	return r, nil
}

func (h *Heap) NewInt(n int64) (Ref, error) {
	r, err := h.popFree()
	if err != nil {
		return NilRef, err
	}
	*h.at(r) = cell{typ: ctAtom, nref: 1, atom: atomPayload{kind: atomInt, num: n}}
	return r, nil
}

// NewSymbol allocates a Sym atom. With pinned set, the cell's nref is
// Pinned so it is never reclaimed (DONT_FREE_THIS in memory.c's
// terms); otherwise it is an ordinary refcounted cell like any other
// atom. The reader and Bind (and so the native names bound by
// RegisterNatives) allocate unpinned symbols.
func (h *Heap) NewSymbol(name string, pinned bool) (Ref, error) {
	r, err := h.popFree()
	if err != nil {
		return NilRef, err
	}
	nref := int32(1)
	if pinned {
		nref = Pinned
	}
	*h.at(r) = cell{typ: ctAtom, nref: nref, atom: atomPayload{kind: atomSym, sym: name, pinned: pinned}}
	return r, nil
}

func (h *Heap) NewOp(op int) (Ref, error) {
	r, err := h.popFree()
	if err != nil {
		return NilRef, err
	}
	*h.at(r) = cell{typ: ctAtom, nref: 1, atom: atomPayload{kind: atomOp, op: op}}
	return r, nil
}

func (h *Heap) NewNativeFunc(idx int) (Ref, error) {
	r, err := h.popFree()
	if err != nil {
		return NilRef, err
	}
	*h.at(r) = cell{typ: ctAtom, nref: 1, atom: atomPayload{kind: atomNative, native: idx}}
	return r, nil
}

// NewArray allocates an n-cell vector, every slot initialised to
// NilRef (matching the original's "fill with SECD_NIL" default, used
// when make-vector is called without a fill argument). Mirrors
// memory.c's new_array via alloc_array(holdsCells=true).
func (h *Heap) NewArray(n int) (Ref, error) {
	meta, err := h.allocArray(n, true)
	if err != nil {
		return NilRef, err
	}
	for i := 0; i < n; i++ {
		h.cells[int(meta)+1+i] = cell{typ: ctUndef, ref: NilRef}
	}
	r, err := h.popFree()
	if err != nil {
		h.releaseArrayRef(meta)
		h.freeArray(meta)
		return NilRef, err
	}
	*h.at(r) = cell{typ: ctArray, nref: 1, arr: arrPayload{data: meta}}
	return r, nil
}

func (h *Heap) ArrayMeta(arrRef Ref) Ref { return h.at(arrRef).arr.data }

func (h *Heap) ArrayLen(arrRef Ref) int {
	return h.arrMetaSize(h.ArrayMeta(arrRef))
}

func (h *Heap) ArrayGet(arrRef Ref, i int) Ref {
	meta := h.ArrayMeta(arrRef)
	return h.at(Ref(int(meta) + 1 + i)).ref
}

func (h *Heap) ArraySet(arrRef Ref, i int, v Ref) {
	meta := h.ArrayMeta(arrRef)
	h.at(Ref(int(meta) + 1 + i)).ref = v
}

// NewString allocates a Str cell, copying `data` into array-region
// storage and precomputing its Jenkins hash (memory.c's new_string /
// jenkins_hash), per FEATURES SUPPLEMENTED item 1.
func (h *Heap) NewString(data []byte) (Ref, error) {
	n := len(data)
	meta, err := h.allocArray(bytesToCells(n), false)
	if err != nil {
		return NilRef, err
	}
	buf := h.arrayBytes(meta, n)
	copy(buf, data)
	r, err := h.popFree()
	if err != nil {
		h.releaseArrayRef(meta)
		h.freeArray(meta)
		return NilRef, err
	}
	*h.at(r) = cell{typ: ctStr, nref: 1, str: strPayload{meta: meta, bytes: buf, hash: jenkinsHash(buf)}}
	return r, nil
}

// bytesToCells reports how many array-region cells are needed to hold
// n raw bytes; each cell is reused as an 8-byte slot.
func bytesToCells(n int) int {
	const slot = 8
	return (n + slot - 1) / slot
}

// arrayBytes returns a fresh n-byte Go buffer for the string whose
// chunk is headed by `meta`. memory.c's array cells double as
// character storage for strings; here the chunk's cells are only
// reserved, and the bytes themselves live in the returned buffer.
func (h *Heap) arrayBytes(meta Ref, n int) []byte {
	cells := bytesToCells(n)
	buf := make([]byte, 0, cells*8)
	// the array region cells backing a Str are not separately typed
	// per-byte; Go can't reinterpret a []cell as []byte safely, so the
	// bytes live in a Go-native buffer owned by the Str cell itself
	// while the reserved cells simply keep the array-region accounting
	// (fixedptr/arrayptr bookkeeping, chunk coalescing) honest.
	return buf[:n]
}

// jenkinsHash is the one-at-a-time hash memory.c uses for string
// cells (native.c/memory.c jenkins_hash).
func jenkinsHash(data []byte) uint32 {
	var h uint32
	for _, b := range data {
		h += uint32(b)
		h += h << 10
		h ^= h >> 6
	}
	h += h << 3
	h ^= h >> 11
	h += h << 15
	return h
}

func (h *Heap) NewError(msg string) (Ref, error) {
	r, err := h.popFree()
	if err != nil {
		return NilRef, err
	}
	*h.at(r) = cell{typ: ctError, nref: 1, err: msg}
	return r, nil
}

func (h *Heap) NewRef(target Ref) (Ref, error) {
	r, err := h.popFree()
	if err != nil {
		return NilRef, err
	}
	*h.at(r) = cell{typ: ctRef, nref: 1, ref: target}
	return r, nil
}
