package secd

import "github.com/pkg/errors"

// ErrUnbound is returned by Lookup when a symbol has no binding in
// the environment chain. It surfaces to SECD code as a recoverable
// Error cell (vm.go's secdLd turns it into one via newDomainError), not
// a fatal Go error, matching spec.md 4.D's "unbound variable" edge case.
var ErrUnbound = errors.New("unbound symbol")

// Lookup walks the environment (a list of Frame cells, each a
// (syms . vals) pair) looking for sym, returning the Ref bound to it.
// Mirrors interp.c's lookup_env.
func Lookup(h *Heap, env Ref, symName string) (Ref, error) {
	for frame := env; frame.NotNil(); frame = h.at(frame).cons.cdr {
		f := h.at(h.at(frame).cons.car)
		syms := f.cons.car
		vals := f.cons.cdr
		for syms.NotNil() && vals.NotNil() {
			sc := h.at(syms)
			vc := h.at(vals)
			if sc.typ != ctCons {
				// improper frame (e.g. a dotted variadic tail bound
				// directly to the rest of the value list)
				if sc.typ == ctAtom && sc.atom.kind == atomSym && strCaseEq(sc.atom.sym, symName) {
					return vals, nil
				}
				break
			}
			nameCell := h.at(sc.cons.car)
			if nameCell.typ == ctAtom && nameCell.atom.kind == atomSym && strCaseEq(nameCell.atom.sym, symName) {
				return vc.cons.car, nil
			}
			syms = sc.cons.cdr
			vals = vc.cons.cdr
		}
	}
	return NilRef, errors.Wrapf(ErrUnbound, "%s", symName)
}

// Bind rebinds symName to val in env's first frame, or adds the
// binding to that frame when the name is not there yet. Used by
// RegisterNatives and by the secd-bind! native (FEATURES SUPPLEMENTED
// item 3).
func Bind(h *Heap, env Ref, symName string, val Ref) error {
	if env.IsNil() {
		return errors.New("secd: cannot bind into empty environment")
	}
	f := h.at(h.at(env).cons.car)
	syms, vals := f.cons.car, f.cons.cdr
	for syms.NotNil() && vals.NotNil() {
		sc := h.at(syms)
		if sc.typ != ctCons {
			break
		}
		nameCell := h.at(sc.cons.car)
		if nameCell.typ == ctAtom && nameCell.atom.kind == atomSym && strCaseEq(nameCell.atom.sym, symName) {
			vc := h.at(vals)
			old := vc.cons.car
			vc.cons.car = h.Share(val)
			h.Drop(old)
			return nil
		}
		syms = sc.cons.cdr
		vals = h.at(vals).cons.cdr
	}

	// not found: extend this frame with a new (name . val) pair
	nameRef, err := h.NewSymbol(symName, false)
	if err != nil {
		return err
	}
	newSyms, err := h.NewCons(nameRef, f.cons.car)
	if err != nil {
		return err
	}
	newVals, err := h.NewCons(h.Share(val), f.cons.cdr)
	if err != nil {
		return err
	}
	f.cons.car = newSyms
	f.cons.cdr = newVals
	return nil
}

// ExtendEnv pushes a new Frame binding syms to vals onto env,
// producing the environment a closure's body should execute under.
// Mirrors interp.c's secd_ap building a fresh frame via new_frame.
func ExtendEnv(h *Heap, env, syms, vals Ref) (Ref, error) {
	frame, err := h.NewFrame(h.Share(syms), h.Share(vals))
	if err != nil {
		return NilRef, err
	}
	return h.NewCons(frame, h.Share(env))
}
