package secd

import "github.com/pkg/errors"

// compileSource is the shared parse-then-compile pipeline every
// top-level entry point in api.go funnels through, mirroring the
// teacher's api_internal.go (GrammarTransformations): the public
// constructors differ only in how they obtain their input, not in
// what happens to it afterwards.
//
// Parse gathers every top-level datum in src into one list (so a file
// of several definitions can be read in one pass); a SECD control
// program is conventionally a single top-level list, so the first (and
// normally only) top-level form is what gets handed to the compiler.
func compileSource(h *Heap, src []byte) (Ref, error) {
	parsed, err := Parse(h, src)
	if err != nil {
		return NilRef, err
	}
	pc := h.at(parsed)
	if pc.typ != ctCons {
		return NilRef, errors.New("secd: empty source")
	}
	return CompileControl(h, pc.cons.car)
}
