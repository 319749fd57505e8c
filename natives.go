package secd

import "unicode/utf8"

// RegisterNatives installs every native procedure into the heap's
// native-function table and binds its name in the global frame as an
// Atom(NativeFunc), matching native.c's table of secdf_*/secdv_*/
// secdstr_* entries (FEATURES SUPPLEMENTED items 3-6, 9).
func RegisterNatives(m *Machine) {
	h := m.Heap
	bind := func(name string, fn NativeFunc) {
		idx := h.RegisterNative(name, fn)
		ref, err := h.NewNativeFunc(idx)
		if err != nil {
			return
		}
		_ = Bind(h, m.Global, name, ref)
		h.Drop(ref)
	}

	bind("cons", nativeCons)
	bind("car", nativeCar)
	bind("cdr", nativeCdr)
	bind("list", nativeList)
	bind("list-copy", nativeListCopy)
	bind("append", nativeAppend)
	bind("null?", nativeNullP)
	bind("number?", nativeNumberP)
	bind("symbol?", nativeSymbolP)
	bind("eof-object?", nativeEofObjectP)

	bind("vector?", nativeVectorP)
	bind("make-vector", nativeMakeVector)
	bind("vector-ref", nativeVectorRef)
	bind("vector-set!", nativeVectorSet)
	bind("list->vector", nativeListToVector)

	bind("string?", nativeStringP)
	bind("string-length", nativeStringLength)

	bind("secd-bind!", nativeSecdBind)
	bind("interaction-environment", nativeInteractionEnv)
	bind("secd", nativeSecdCtl)
}

func arg(args []Ref, i int) Ref {
	if i < len(args) {
		return args[i]
	}
	return NilRef
}

func nativeCons(m *Machine, args []Ref) (Ref, error) {
	h := m.Heap
	return h.NewCons(h.Share(arg(args, 0)), h.Share(arg(args, 1)))
}

func nativeCar(m *Machine, args []Ref) (Ref, error) {
	a := arg(args, 0)
	c := m.Heap.at(a)
	if !c.isCons() {
		return newDomainError(m.Heap, "car: not a pair")
	}
	return m.Heap.Share(c.cons.car), nil
}

func nativeCdr(m *Machine, args []Ref) (Ref, error) {
	a := arg(args, 0)
	c := m.Heap.at(a)
	if !c.isCons() {
		return newDomainError(m.Heap, "cdr: not a pair")
	}
	return m.Heap.Share(c.cons.cdr), nil
}

// list builds a fresh proper list out of args, the way native.c's
// secdf_list conses its varargs together.
func nativeList(m *Machine, args []Ref) (Ref, error) {
	h := m.Heap
	result := NilRef
	for i := len(args) - 1; i >= 0; i-- {
		next, err := h.NewCons(h.Share(args[i]), result)
		if err != nil {
			return NilRef, err
		}
		result = next
	}
	return result, nil
}

// listCopy performs a shallow structural copy of a list, matching
// native.c's secdf_list_copy (used so callers can safely mutate a
// copy without aliasing the original's cons cells).
func nativeListCopy(m *Machine, args []Ref) (Ref, error) {
	return listCopy(m.Heap, arg(args, 0))
}

func listCopy(h *Heap, lst Ref) (Ref, error) {
	if lst.IsNil() {
		return NilRef, nil
	}
	c := h.at(lst)
	if !c.isCons() {
		return h.Share(lst), nil
	}
	tail, err := listCopy(h, c.cons.cdr)
	if err != nil {
		return NilRef, err
	}
	return h.NewCons(h.Share(c.cons.car), tail)
}

// append concatenates two lists. When the first list's cell has
// refcount 1 (nobody else can observe it), its tail is mutated in
// place instead of copied, the destructive-append optimisation
// native.c's secdf_append performs.
func nativeAppend(m *Machine, args []Ref) (Ref, error) {
	h := m.Heap
	a, b := arg(args, 0), arg(args, 1)
	if a.IsNil() {
		return h.Share(b), nil
	}
	ac := h.at(a)
	if !ac.isCons() {
		return newDomainError(h, "append: not a list")
	}
	if ac.nref == 1 {
		cur := a
		for {
			cc := h.at(cur)
			if cc.cons.cdr.IsNil() {
				cc.cons.cdr = h.Share(b)
				break
			}
			next := cc.cons.cdr
			if h.at(next).nref != 1 || !h.at(next).isCons() {
				tail, err := nativeAppend(m, []Ref{next, b})
				if err != nil {
					return NilRef, err
				}
				h.Drop(cc.cons.cdr)
				cc.cons.cdr = tail
				break
			}
			cur = next
		}
		return h.Share(a), nil
	}
	tail, err := nativeAppend(m, []Ref{ac.cons.cdr, b})
	if err != nil {
		return NilRef, err
	}
	return h.NewCons(h.Share(ac.cons.car), tail)
}

func nativeNullP(m *Machine, args []Ref) (Ref, error) {
	return boolRef(m.Heap, arg(args, 0).IsNil())
}

func nativeNumberP(m *Machine, args []Ref) (Ref, error) {
	a := arg(args, 0)
	c := m.Heap.at(a)
	return boolRef(m.Heap, a.NotNil() && c.typ == ctAtom && c.atom.kind == atomInt)
}

func nativeSymbolP(m *Machine, args []Ref) (Ref, error) {
	a := arg(args, 0)
	c := m.Heap.at(a)
	return boolRef(m.Heap, a.NotNil() && c.typ == ctAtom && c.atom.kind == atomSym)
}

func nativeEofObjectP(m *Machine, args []Ref) (Ref, error) {
	a := arg(args, 0)
	return boolRef(m.Heap, a.NotNil() && m.Heap.at(a).typ == ctError && m.Heap.at(a).err == eofMessage)
}

func nativeVectorP(m *Machine, args []Ref) (Ref, error) {
	a := arg(args, 0)
	return boolRef(m.Heap, a.NotNil() && m.Heap.at(a).typ == ctArray)
}

// makeVector allocates a vector of the requested length, filled with
// `fill` when given, per native.c's secdv_make (FEATURES SUPPLEMENTED
// item 5). Without a fill argument every slot is an Undef cell whose
// ref is NilRef, so it reads back as NIL.
func nativeMakeVector(m *Machine, args []Ref) (Ref, error) {
	h := m.Heap
	n := h.at(arg(args, 0)).atom.num
	r, err := h.NewArray(int(n))
	if err != nil {
		return NilRef, err
	}
	if len(args) > 1 {
		fill := args[1]
		for i := 0; i < int(n); i++ {
			h.ArraySet(r, i, h.Share(fill))
		}
	}
	return r, nil
}

func nativeVectorRef(m *Machine, args []Ref) (Ref, error) {
	h := m.Heap
	v, idx := arg(args, 0), arg(args, 1)
	if h.at(v).typ != ctArray {
		return newDomainError(h, "vector-ref: not a vector")
	}
	i := int(h.at(idx).atom.num)
	if i < 0 || i >= h.ArrayLen(v) {
		return newDomainError(h, "vector-ref: index out of range")
	}
	return h.Share(h.ArrayGet(v, i)), nil
}

func nativeVectorSet(m *Machine, args []Ref) (Ref, error) {
	h := m.Heap
	v, idx, val := arg(args, 0), arg(args, 1), arg(args, 2)
	if h.at(v).typ != ctArray {
		return newDomainError(h, "vector-set!: not a vector")
	}
	i := int(h.at(idx).atom.num)
	if i < 0 || i >= h.ArrayLen(v) {
		return newDomainError(h, "vector-set!: index out of range")
	}
	old := h.ArrayGet(v, i)
	h.ArraySet(v, i, h.Share(val))
	h.Drop(old)
	return NilRef, nil
}

func nativeListToVector(m *Machine, args []Ref) (Ref, error) {
	h := m.Heap
	lst := arg(args, 0)
	n := 0
	for cur := lst; cur.NotNil(); cur = h.at(cur).cons.cdr {
		n++
	}
	r, err := h.NewArray(n)
	if err != nil {
		return NilRef, err
	}
	i := 0
	for cur := lst; cur.NotNil(); cur = h.at(cur).cons.cdr {
		h.ArraySet(r, i, h.Share(h.at(cur).cons.car))
		i++
	}
	return r, nil
}

func nativeStringP(m *Machine, args []Ref) (Ref, error) {
	a := arg(args, 0)
	return boolRef(m.Heap, a.NotNil() && m.Heap.at(a).typ == ctStr)
}

// stringLength counts Unicode code points, not bytes, per
// native.c's utf8strlen (FEATURES SUPPLEMENTED item 2).
func nativeStringLength(m *Machine, args []Ref) (Ref, error) {
	h := m.Heap
	s := arg(args, 0)
	if h.at(s).typ != ctStr {
		return newDomainError(h, "string-length: not a string")
	}
	return h.NewInt(int64(utf8.RuneCount(h.at(s).str.bytes)))
}

// secdBind! rebinds (or introduces) a symbol directly into the
// current environment's global frame, matching native.c's
// secdf_bind (FEATURES SUPPLEMENTED item 3).
func nativeSecdBind(m *Machine, args []Ref) (Ref, error) {
	h := m.Heap
	sym := arg(args, 0)
	val := arg(args, 1)
	c := h.at(sym)
	if c.typ != ctAtom || c.atom.kind != atomSym {
		return newDomainError(h, "secd-bind!: not a symbol")
	}
	if err := Bind(h, m.Global, c.atom.sym, val); err != nil {
		return NilRef, err
	}
	return h.Share(val), nil
}

// interactionEnvironment exposes the running machine's current
// environment register, matching native.c's secdf_getenv (FEATURES
// SUPPLEMENTED item 3).
func nativeInteractionEnv(m *Machine, args []Ref) (Ref, error) {
	return m.Heap.Share(m.E), nil
}

// secdCtl implements `(secd 'free|heap|env|tick)`, the diagnostic
// surface native.c's secdf_ctl exposes and spec.md §6 names by
// mnemonic (FEATURES SUPPLEMENTED item 9).
func nativeSecdCtl(m *Machine, args []Ref) (Ref, error) {
	h := m.Heap
	sym := h.at(arg(args, 0))
	if sym.typ != ctAtom || sym.atom.kind != atomSym {
		return newDomainError(h, "secd: expected a symbol argument")
	}
	switch {
	case strCaseEq(sym.atom.sym, "free"):
		return h.NewInt(int64(h.freeCells))
	case strCaseEq(sym.atom.sym, "heap"):
		return h.NewInt(int64(len(h.cells)))
	case strCaseEq(sym.atom.sym, "env"):
		return h.Share(m.E), nil
	case strCaseEq(sym.atom.sym, "tick"):
		return h.NewInt(int64(h.tick))
	}
	return newDomainError(h, "secd: unknown control symbol %s", sym.atom.sym)
}

const eofMessage = "end of file"
