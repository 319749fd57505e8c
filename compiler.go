package secd

import "github.com/pkg/errors"

// CompileControl converts a symbolic control-path list (opcode
// mnemonics as Sym atoms, data and nested LDF/SEL bodies as Cons
// cells) into the compiled form the interpreter actually dispatches
// on: a list prefixed by the compile-sentinel atom (spec.md §4.E /
// §6, GLOSSARY "Compiled control path") followed by opcode atoms,
// with every opcode mnemonic replaced by an Atom(Op) cell. This is
// the one-shot control-path compiler spec.md §4.E calls for; it runs
// exactly once per program, matching the teacher's own
// "instruction-as-type, then fold to the runtime representation"
// pipeline (vm_program.go's Encode step does the analogous job for
// the PEG bytecode).
//
// Compilation is idempotent (spec.md §8): IsControlCompiled lets a
// second call on an already-compiled list short-circuit to a no-op
// (mirroring interp.c's is_control_compiled check at the top of
// compile_control_path), sharing src instead of reproducing it.
func CompileControl(h *Heap, src Ref) (Ref, error) {
	if IsControlCompiled(h, src) {
		return h.Share(src), nil
	}
	body, err := compileBody(h, src)
	if err != nil {
		return NilRef, err
	}
	return h.NewCons(h.Share(refCompileSentinel), body)
}

// IsControlCompiled reports whether ctrl is already a compiled
// control list, i.e. its head is the compile-sentinel atom. Mirrors
// interp.c's is_control_compiled.
func IsControlCompiled(h *Heap, ctrl Ref) bool {
	if ctrl.IsNil() {
		return false
	}
	c := h.at(ctrl)
	return c.typ == ctCons && c.cons.car == refCompileSentinel
}

// compileBody is the recursive workhorse behind CompileControl: it
// walks one (uncompiled) control list, with no sentinel of its own,
// since only the top-level program carries one. Only LDF's body and
// SEL's two branches are recursed into, since those are the only
// operand positions that hold code rather than data; LDC/LD operands
// are copied through untouched.
func compileBody(h *Heap, src Ref) (Ref, error) {
	if src.IsNil() {
		return NilRef, nil
	}
	c := h.at(src)
	if c.typ != ctCons {
		return NilRef, errors.New("secd: malformed control list")
	}

	head := c.cons.car
	rest := c.cons.cdr

	headCell := h.at(head)
	if headCell.typ == ctAtom && headCell.atom.kind == atomSym {
		info, ok := LookupOpcode(headCell.atom.sym)
		if ok {
			opRef, err := h.NewOp(int(info.op))
			if err != nil {
				return NilRef, err
			}
			switch info.args {
			case argNone:
				compiledRest, err := compileBody(h, rest)
				if err != nil {
					return NilRef, err
				}
				return h.NewCons(opRef, compiledRest)

			case argData:
				restCell := h.at(rest)
				if restCell.typ != ctCons {
					return NilRef, errors.Errorf("secd: %s missing operand", info.name)
				}
				dataArg := h.Share(restCell.cons.car)
				tail, err := compileBody(h, restCell.cons.cdr)
				if err != nil {
					return NilRef, err
				}
				dataCons, err := h.NewCons(dataArg, tail)
				if err != nil {
					return NilRef, err
				}
				return h.NewCons(opRef, dataCons)

			case argCode:
				restCell := h.at(rest)
				if restCell.typ != ctCons {
					return NilRef, errors.Errorf("secd: %s missing body", info.name)
				}
				body, err := compileBody(h, restCell.cons.car)
				if err != nil {
					return NilRef, err
				}
				tail, err := compileBody(h, restCell.cons.cdr)
				if err != nil {
					return NilRef, err
				}
				bodyCons, err := h.NewCons(body, tail)
				if err != nil {
					return NilRef, err
				}
				return h.NewCons(opRef, bodyCons)

			case argCodeCode:
				restCell := h.at(rest)
				if restCell.typ != ctCons {
					return NilRef, errors.Errorf("secd: %s missing then-branch", info.name)
				}
				thenRaw := restCell.cons.car
				rest2 := h.at(restCell.cons.cdr)
				if rest2.typ != ctCons {
					return NilRef, errors.Errorf("secd: %s missing else-branch", info.name)
				}
				elseRaw := rest2.cons.car

				thenC, err := compileBody(h, thenRaw)
				if err != nil {
					return NilRef, err
				}
				elseC, err := compileBody(h, elseRaw)
				if err != nil {
					return NilRef, err
				}
				tail, err := compileBody(h, rest2.cons.cdr)
				if err != nil {
					return NilRef, err
				}
				elseCons, err := h.NewCons(elseC, tail)
				if err != nil {
					return NilRef, err
				}
				thenCons, err := h.NewCons(thenC, elseCons)
				if err != nil {
					return NilRef, err
				}
				return h.NewCons(opRef, thenCons)
			}
		}
	}

	// not an opcode mnemonic at this position (e.g. the parameter list
	// at the head of an LDF body, or a symbol that names no opcode):
	// share the head as-is, without walking into it, and go on
	// compiling the rest of the list.
	tail, err := compileBody(h, rest)
	if err != nil {
		return NilRef, err
	}
	return h.NewCons(h.Share(head), tail)
}

// isTailPosition decides whether AP should reuse the current dump
// frame instead of pushing a new one: true iff, once the call's
// arguments are on the stack, the remaining control list is exactly
// (RTN) or exactly (JOIN). This is a structural, O(1) check on the
// already-compiled control list (Atom(Op) cells), not a string
// comparison or list scan, per the "Tail-call eligibility predicate"
// decision in SPEC_FULL.md.
func isTailPosition(h *Heap, control Ref) bool {
	if control.IsNil() {
		return false
	}
	c := h.at(control)
	if c.typ != ctCons {
		return false
	}
	opCell := h.at(c.cons.car)
	if opCell.typ != ctAtom || opCell.atom.kind != atomOp {
		return false
	}
	op := Opcode(opCell.atom.op)
	if op != OpRTN && op != OpJOIN {
		return false
	}
	return c.cons.cdr.IsNil() || h.at(c.cons.cdr).typ != ctCons
}
