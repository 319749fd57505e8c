package secd

// LoadProgram parses src, compiles its first top-level s-expression as
// the control-path list (spec.md §4.E), and installs it on
// m as the next program Run will execute. It returns the compiled
// control list so callers can inspect it (e.g. to verify compilation
// idempotence, spec.md §8).
func LoadProgram(m *Machine, src []byte) (Ref, error) {
	compiled, err := compileSource(m.Heap, src)
	if err != nil {
		return NilRef, err
	}
	m.Load(compiled)
	return compiled, nil
}

// Run installs prog (a control-path list produced by LoadProgram or
// CompileControl) and drives the machine to completion, the thin
// orchestration layer mirroring the teacher's api.go constructors: one
// call to get from source to result.
func Run(m *Machine, prog Ref) (Ref, error) {
	m.Load(prog)
	return m.Run()
}

// RunSource is the one-shot convenience entry point: parse, compile
// and run a whole source buffer, returning the final stack top.
func RunSource(m *Machine, src []byte) (Ref, error) {
	compiled, err := LoadProgram(m, src)
	if err != nil {
		return NilRef, err
	}
	return Run(m, compiled)
}
