package secd

import (
	"github.com/asticode/go-astilog"
)

// Machine holds the four SECD registers plus the heap and environment
// they operate over. Stack, Environment, Control and Dump are each the
// Ref of a heap-resident list (NilRef when empty), per spec.md 4.A/4.E.
type Machine struct {
	S, E, C, D Ref

	Heap   *Heap
	Global Ref // the bottom environment frame, shared by every top-level Run

	cfg *Config

	stdin  *Port
	stdout *Port

	halted bool
	result Ref
}

// NewMachine allocates a heap of the configured size, registers the
// native-function table, and opens the default stdio ports -- the
// equivalent of the teacher's thin constructors in api.go, but for a
// machine rather than a one-shot grammar compile.
func NewMachine(cfg *Config) (*Machine, error) {
	if cfg == nil {
		cfg = NewConfig()
	}
	h, err := NewHeap(cfg.GetInt("heap.size"))
	if err != nil {
		return nil, err
	}
	m := &Machine{Heap: h, cfg: cfg, S: NilRef, E: NilRef, C: NilRef, D: NilRef}

	globalFrame, err := h.NewFrame(NilRef, NilRef)
	if err != nil {
		return nil, err
	}
	m.Global, err = h.NewCons(globalFrame, NilRef)
	if err != nil {
		return nil, err
	}
	m.E = m.Global

	RegisterNatives(m)

	if cfg.GetBool("io.stdio") {
		m.stdin = NewStdinPort()
		m.stdout = NewStdoutPort()
	}
	return m, nil
}

func (m *Machine) trace(format string, args ...any) {
	if m.cfg.GetBool("trace.enabled") {
		astilog.Debugf(format, args...)
	}
}

// Load installs a compiled control-path list as the program to run,
// resetting S/D and leaving E pointed at the (possibly already
// populated) global environment. The interpreter dispatches directly
// on opcode atoms, so a leading compile-sentinel (CompileControl's
// wrapper, spec.md §6's "compiled program format") is stripped here
// rather than on every Step.
func (m *Machine) Load(control Ref) {
	m.S = NilRef
	if IsControlCompiled(m.Heap, control) {
		m.C = m.Heap.at(control).cons.cdr
	} else {
		m.C = control
	}
	m.D = NilRef
	m.halted = false
	m.result = NilRef
}

// Run dispatches opcodes until the machine halts (STOP, or RTN from
// the outermost call) or Step returns an error. It returns the
// program's result -- the top cell of S at STOP, or the value that
// outermost RTN returned -- or the error that stopped Step.
func (m *Machine) Run() (Ref, error) {
	for !m.halted {
		if err := m.Step(); err != nil {
			return NilRef, err
		}
	}
	return m.result, nil
}

// Step executes exactly one opcode, mirroring interp.c's main
// dispatch switch in secd_execute. Each secd_* method is grounded on
// the C function of the same name.
func (m *Machine) Step() error {
	h := m.Heap
	if m.C.IsNil() {
		return newRuntimeError("step", "control register exhausted without STOP")
	}
	cCell := h.at(m.C)
	if cCell.typ != ctCons {
		return newRuntimeError("step", "control register is not a list")
	}
	opCell := h.at(cCell.cons.car)
	if opCell.typ != ctAtom || opCell.atom.kind != atomOp {
		return newRuntimeError("step", "control head is not a compiled opcode")
	}
	op := Opcode(opCell.atom.op)
	h.tick++
	m.trace("tick=%d op=%s", h.tick, OpcodeName(op))

	rest := cCell.cons.cdr

	switch op {
	case OpNIL:
		return m.secdNil(rest)
	case OpLDC:
		return m.secdLdc(rest)
	case OpLD:
		return m.secdLd(rest)
	case OpCAR:
		return m.secdUnary(rest, secdCar)
	case OpCDR:
		return m.secdUnary(rest, secdCdr)
	case OpATOM:
		return m.secdUnary(rest, secdAtom)
	case OpCONS:
		return m.secdCons(rest)
	case OpEQ:
		return m.secdBinary(rest, secdEq)
	case OpADD:
		return m.secdArith(rest, opAdd)
	case OpSUB:
		return m.secdArith(rest, opSub)
	case OpMUL:
		return m.secdArith(rest, opMul)
	case OpDIV:
		return m.secdArith(rest, opDiv)
	case OpREM:
		return m.secdArith(rest, opRem)
	case OpLEQ:
		return m.secdArith(rest, opLeq)
	case OpSEL:
		return m.secdSel(rest)
	case OpJOIN:
		return m.secdJoin()
	case OpLDF:
		return m.secdLdf(rest)
	case OpAP:
		return m.secdAp(rest)
	case OpRTN:
		return m.secdRtn()
	case OpDUM:
		return m.secdDum(rest)
	case OpRAP:
		return m.secdRap(rest)
	case OpREAD:
		return m.secdRead(rest)
	case OpPRINT:
		return m.secdPrint(rest)
	case OpSTOP:
		return m.secdStop()
	}
	return newRuntimeError("step", "unknown opcode")
}

// --- S/C/E/D manipulation helpers -------------------------------------

func (m *Machine) push(reg *Ref, v Ref) error {
	h := m.Heap
	cell, err := h.NewCons(h.Share(v), *reg)
	if err != nil {
		return err
	}
	*reg = cell
	return nil
}

// pop unlinks the head cons cell of *reg, returning its car as an
// owned reference (the caller must eventually Drop it) and advancing
// *reg to its cdr. Both outgoing references are pre-shared so that
// dropDependencies' unconditional Drop(car)/Drop(cdr), triggered when
// the spent cons cell's count reaches zero, nets out to a pure
// transfer rather than an accidental release.
func (m *Machine) pop(reg *Ref) (Ref, error) {
	h := m.Heap
	if reg.IsNil() {
		return NilRef, newRuntimeError("pop", "register underflow")
	}
	c := h.at(*reg)
	v := c.cons.car
	next := c.cons.cdr
	h.Share(v)
	h.Share(next)
	h.Drop(*reg)
	*reg = next
	return v, nil
}

// --- opcode bodies ------------------------------------------------------

func (m *Machine) secdNil(rest Ref) error {
	if err := m.push(&m.S, NilRef); err != nil {
		return err
	}
	m.C = rest
	return nil
}

func (m *Machine) secdLdc(rest Ref) error {
	h := m.Heap
	rc := h.at(rest)
	if rc.typ != ctCons {
		return newRuntimeError("LDC", "missing literal operand")
	}
	if err := m.push(&m.S, rc.cons.car); err != nil {
		return err
	}
	m.C = rc.cons.cdr
	return nil
}

// secdLd resolves a variable reference by name through the
// environment chain. Mirrors interp.c's secd_ld, which calls
// lookup_env rather than doing positional (i . j) frame arithmetic --
// this repo's Frame is a named (syms . vals) pair (spec.md 4.A), so LD
// shares the same name-based walk env.go's Lookup performs for
// secd-bind!/interaction-environment.
func (m *Machine) secdLd(rest Ref) error {
	h := m.Heap
	rc := h.at(rest)
	if rc.typ != ctCons {
		return newRuntimeError("LD", "missing variable operand")
	}
	sym := h.at(rc.cons.car)
	if sym.typ != ctAtom || sym.atom.kind != atomSym {
		return newRuntimeError("LD", "LD operand must be a symbol")
	}
	v, err := Lookup(h, m.E, sym.atom.sym)
	if err != nil {
		errCell, derr := newDomainError(h, "unbound symbol: %s", sym.atom.sym)
		if derr != nil {
			return derr
		}
		if perr := m.push(&m.S, errCell); perr != nil {
			return perr
		}
		h.Drop(errCell)
		m.C = rc.cons.cdr
		return nil
	}
	if err := m.push(&m.S, v); err != nil {
		return err
	}
	m.C = rc.cons.cdr
	return nil
}

func (m *Machine) secdUnary(rest Ref, fn func(h *Heap, a Ref) (Ref, error)) error {
	h := m.Heap
	a, err := m.pop(&m.S)
	if err != nil {
		return err
	}
	r, err := fn(h, a)
	if err != nil {
		return err
	}
	h.Drop(a)
	if err := m.push(&m.S, r); err != nil {
		return err
	}
	h.Drop(r)
	m.C = rest
	return nil
}

func (m *Machine) secdBinary(rest Ref, fn func(h *Heap, a, b Ref) (Ref, error)) error {
	h := m.Heap
	b, err := m.pop(&m.S)
	if err != nil {
		return err
	}
	a, err := m.pop(&m.S)
	if err != nil {
		return err
	}
	r, err := fn(h, a, b)
	if err != nil {
		return err
	}
	h.Drop(a)
	h.Drop(b)
	if err := m.push(&m.S, r); err != nil {
		return err
	}
	h.Drop(r)
	m.C = rest
	return nil
}

func (m *Machine) secdCons(rest Ref) error {
	h := m.Heap
	a, err := m.pop(&m.S)
	if err != nil {
		return err
	}
	b, err := m.pop(&m.S)
	if err != nil {
		return err
	}
	cell, err := h.NewCons(h.Share(a), h.Share(b))
	h.Drop(a)
	h.Drop(b)
	if err != nil {
		return err
	}
	if err := m.push(&m.S, cell); err != nil {
		return err
	}
	h.Drop(cell)
	m.C = rest
	return nil
}

func (m *Machine) secdArith(rest Ref, op arithOp) error {
	return m.secdBinary(rest, func(h *Heap, a, b Ref) (Ref, error) {
		return arith(h, op, a, b)
	})
}

func (m *Machine) secdSel(rest Ref) error {
	h := m.Heap
	rc := h.at(rest)
	if rc.typ != ctCons {
		return newRuntimeError("SEL", "missing then-branch")
	}
	thenC := rc.cons.car
	rc2 := h.at(rc.cons.cdr)
	if rc2.typ != ctCons {
		return newRuntimeError("SEL", "missing else-branch")
	}
	elseC := rc2.cons.car
	after := rc2.cons.cdr

	cond, err := m.pop(&m.S)
	if err != nil {
		return err
	}
	truthy := isTruthy(h, cond)
	h.Drop(cond)

	if err := m.push(&m.D, after); err != nil {
		return err
	}
	if truthy {
		m.C = thenC
	} else {
		m.C = elseC
	}
	return nil
}

func (m *Machine) secdJoin() error {
	c, err := m.pop(&m.D)
	if err != nil {
		return err
	}
	m.C = c
	return nil
}

func (m *Machine) secdLdf(rest Ref) error {
	h := m.Heap
	rc := h.at(rest)
	if rc.typ != ctCons {
		return newRuntimeError("LDF", "missing function body")
	}
	body := rc.cons.car
	closure, err := h.NewCons(h.Share(body), h.Share(m.E))
	if err != nil {
		return err
	}
	if err := m.push(&m.S, closure); err != nil {
		return err
	}
	h.Drop(closure)
	m.C = rc.cons.cdr
	return nil
}

func (m *Machine) secdAp(rest Ref) error {
	h := m.Heap

	closure, err := m.pop(&m.S)
	if err != nil {
		return err
	}
	args, err := m.pop(&m.S)
	if err != nil {
		return err
	}

	cc := h.at(closure)
	if cc.typ == ctAtom && cc.atom.kind == atomNative {
		argv := refsOf(h, args)
		result, nerr := h.natives[cc.atom.native](m, argv)
		for _, a := range argv {
			h.Drop(a)
		}
		h.Drop(closure)
		h.Drop(args)
		if nerr != nil {
			return nerr
		}
		if err := m.push(&m.S, result); err != nil {
			return err
		}
		h.Drop(result)
		m.C = rest
		return nil
	}
	if cc.typ != ctCons {
		h.Drop(closure)
		h.Drop(args)
		return newRuntimeError("AP", "cannot apply a non-function")
	}
	body, closedEnv := cc.cons.car, cc.cons.cdr

	// A closure is (body . env) where body is itself (paramSyms . code)
	// -- LDF's operand pairs the parameter name list with the compiled
	// code so AP can build a named (syms . vals) frame for LD/Bind to
	// walk, per spec.md 4.A/4.D.
	frameTemplate := h.at(body).cons.car
	realBody := h.at(body).cons.cdr

	env, err := ExtendEnv(h, closedEnv, frameTemplate, args)
	if err != nil {
		h.Drop(closure)
		h.Drop(args)
		return err
	}

	// A branch compiled under SEL always ends in JOIN, never RTN
	// directly (spec.md 8's SEL/JOIN balance invariant), so a call in
	// tail position inside such a branch has "(JOIN)" as its rest, not
	// "(RTN)". That JOIN never actually runs once this call reuses the
	// dump frame -- its pending continuation must be resolved now, or
	// SEL's dump entry would never be popped and D would grow by one
	// per guarded tail call instead of staying bounded.
	tailTarget, err := m.resolveTailTarget(rest)
	if err != nil {
		h.Drop(closure)
		h.Drop(args)
		return err
	}

	tailCall := m.cfg.GetBool("interp.tailcalls") && isTailPosition(h, tailTarget)
	if !tailCall {
		if err := m.push(&m.D, tailTarget); err != nil {
			return err
		}
		if err := m.push(&m.D, m.E); err != nil {
			return err
		}
		if err := m.push(&m.D, m.S); err != nil {
			return err
		}
	}

	h.Drop(m.S)
	m.S = NilRef
	h.Drop(m.E)
	m.E = env
	m.C = realBody

	h.Drop(closure)
	h.Drop(args)
	return nil
}

// resolveTailTarget collapses a chain of bare trailing JOINs by
// popping their dump entries directly, returning the control list a
// tail call would actually resume at once those JOINs are accounted
// for. Used only to decide tail-call eligibility and, if the call
// turns out not to be a tail call after all, as the continuation
// saved onto D in its place (pushing the original "(JOIN)" rest back
// would re-save a dump entry already consumed by this unwinding).
func (m *Machine) resolveTailTarget(rest Ref) (Ref, error) {
	h := m.Heap
	cur := rest
	for {
		c := h.at(cur)
		if c.typ != ctCons || c.cons.cdr.NotNil() {
			return cur, nil
		}
		opCell := h.at(c.cons.car)
		if opCell.typ != ctAtom || opCell.atom.kind != atomOp || Opcode(opCell.atom.op) != OpJOIN {
			return cur, nil
		}
		if m.D.IsNil() {
			return cur, nil
		}
		next, err := m.pop(&m.D)
		if err != nil {
			return NilRef, err
		}
		cur = next
	}
}

func (m *Machine) secdRtn() error {
	h := m.Heap
	result, err := m.pop(&m.S)
	if err != nil {
		return err
	}
	if m.D.IsNil() {
		// returning from the outermost call: this is the program's result
		m.result = result
		m.halted = true
		return nil
	}
	savedS, err := m.pop(&m.D)
	if err != nil {
		return err
	}
	savedE, err := m.pop(&m.D)
	if err != nil {
		return err
	}
	savedC, err := m.pop(&m.D)
	if err != nil {
		return err
	}
	h.Drop(m.S)
	m.S = savedS
	if err := m.push(&m.S, result); err != nil {
		return err
	}
	h.Drop(result)
	h.Drop(m.E)
	m.E = savedE
	m.C = savedC
	return nil
}

// secdDum allocates a placeholder (NIL . NIL) frame and pushes it onto
// E, to be patched in place by RAP once the closure list exists.
// Mirrors interp.c's secd_dum.
func (m *Machine) secdDum(rest Ref) error {
	h := m.Heap
	frame, err := h.NewFrame(NilRef, NilRef)
	if err != nil {
		return err
	}
	env, err := h.NewCons(frame, h.Share(m.E))
	if err != nil {
		return err
	}
	h.Drop(m.E)
	m.E = env
	m.C = rest
	return nil
}

// secdRap patches the DUM frame's car/cdr in place so every closure
// captured inside the letrec body can see its siblings, then enters
// the body of the closure built under that frame. Mirrors interp.c's secd_rap
// (Open Questions decision: option (a), patched-cell mutation).
func (m *Machine) secdRap(rest Ref) error {
	h := m.Heap

	closure, err := m.pop(&m.S)
	if err != nil {
		return err
	}
	args, err := m.pop(&m.S)
	if err != nil {
		return err
	}
	cc := h.at(closure)
	if cc.typ != ctCons {
		h.Drop(closure)
		h.Drop(args)
		return newRuntimeError("RAP", "cannot apply a non-function")
	}
	body, dumEnv := cc.cons.car, cc.cons.cdr

	if h.at(dumEnv).typ != ctCons {
		h.Drop(closure)
		h.Drop(args)
		return newRuntimeError("RAP", "RAP without a matching DUM frame")
	}
	frameRef := h.at(dumEnv).cons.car
	frame := h.at(frameRef)

	frameTemplate := h.at(body).cons.car
	realBody := h.at(body).cons.cdr

	// patch the DUM frame in place: it becomes the real argument
	// frame, and because dumEnv is already threaded through every
	// closure built while compiling the letrec body, those closures
	// now observe their siblings via this same frame cell.
	h.Drop(frame.cons.car)
	h.Drop(frame.cons.cdr)
	frame.cons.car = h.Share(frameTemplate)
	frame.cons.cdr = h.Share(args)

	if err := m.push(&m.D, rest); err != nil {
		return err
	}
	if err := m.push(&m.D, m.E); err != nil {
		return err
	}
	if err := m.push(&m.D, m.S); err != nil {
		return err
	}

	h.Drop(m.S)
	m.S = NilRef
	h.Drop(m.E)
	m.E = h.Share(dumEnv)
	m.C = realBody

	h.Drop(closure)
	h.Drop(args)
	return nil
}

func (m *Machine) secdRead(rest Ref) error {
	h := m.Heap
	var v Ref
	var err error
	if m.stdin == nil {
		v, err = h.NewError(eofMessage)
	} else {
		v, err = ReadFromPort(h, m.stdin)
	}
	if err != nil {
		return err
	}
	if err := m.push(&m.S, v); err != nil {
		return err
	}
	h.Drop(v)
	m.C = rest
	return nil
}

func (m *Machine) secdPrint(rest Ref) error {
	h := m.Heap
	v, err := m.pop(&m.S)
	if err != nil {
		return err
	}
	if m.stdout != nil {
		if err := WriteToPort(h, m.stdout, v); err != nil {
			h.Drop(v)
			return err
		}
	}
	if err := m.push(&m.S, v); err != nil {
		h.Drop(v)
		return err
	}
	h.Drop(v)
	m.C = rest
	return nil
}

func (m *Machine) secdStop() error {
	h := m.Heap
	if m.S.NotNil() {
		m.result = h.at(m.S).cons.car
	} else {
		m.result = NilRef
	}
	m.halted = true
	return nil
}

// --- primitive opcode operations (interp.c's secd_car/secd_cdr/... ) ---

func secdCar(h *Heap, a Ref) (Ref, error) {
	c := h.at(a)
	if !c.isCons() {
		return newDomainError(h, "car: not a pair")
	}
	return h.Share(c.cons.car), nil
}

func secdCdr(h *Heap, a Ref) (Ref, error) {
	c := h.at(a)
	if !c.isCons() {
		return newDomainError(h, "cdr: not a pair")
	}
	return h.Share(c.cons.cdr), nil
}

func secdAtom(h *Heap, a Ref) (Ref, error) {
	isAtom := a.IsNil() || h.at(a).typ == ctAtom
	return boolRef(h, isAtom)
}

func secdEq(h *Heap, a, b Ref) (Ref, error) {
	if a.IsNil() && b.IsNil() {
		return boolRef(h, true)
	}
	if a.IsNil() || b.IsNil() {
		return boolRef(h, false)
	}
	return boolRef(h, atomEq(h.at(a), h.at(b)))
}

// boolRef represents #t as the integer 1 and #f as NilRef, matching
// the original's "zero/NIL is false, anything else is true" reading
// used by secdSel/isTruthy.
func boolRef(h *Heap, v bool) (Ref, error) {
	if !v {
		return NilRef, nil
	}
	return h.NewInt(1)
}

type arithOp int

const (
	opAdd arithOp = iota
	opSub
	opMul
	opDiv
	opRem
	opLeq
)

// arith implements ADD/SUB/MUL/DIV/REM/LEQ, matching interp.c's
// secd_add/secd_sub/.../secd_leq. Division and remainder by zero
// produce a recoverable Error cell rather than a Go panic, per
// spec.md §7's edge cases. An Error operand is passed through as the
// result unchanged, so an error keeps propagating through later
// arithmetic.
func arith(h *Heap, op arithOp, aRef, bRef Ref) (Ref, error) {
	if isErrorCell(h, aRef) {
		return h.Share(aRef), nil
	}
	if isErrorCell(h, bRef) {
		return h.Share(bRef), nil
	}
	ac, bc := h.at(aRef), h.at(bRef)
	if ac.typ != ctAtom || ac.atom.kind != atomInt || bc.typ != ctAtom || bc.atom.kind != atomInt {
		return newDomainError(h, "arithmetic on non-numeric operand")
	}
	a, b := ac.atom.num, bc.atom.num
	switch op {
	case opAdd:
		return h.NewInt(a + b)
	case opSub:
		return h.NewInt(a - b)
	case opMul:
		return h.NewInt(a * b)
	case opDiv:
		if b == 0 {
			return newDomainError(h, "division by zero")
		}
		return h.NewInt(a / b)
	case opRem:
		if b == 0 {
			return newDomainError(h, "division by zero")
		}
		return h.NewInt(a % b)
	case opLeq:
		return boolRef(h, a <= b)
	}
	return newDomainError(h, "unknown arithmetic operator")
}

// refsOf flattens a cons-list into a Go slice, sharing each element
// so the native function receives its own owned reference (the
// caller is expected to Drop each one after use, in addition to
// eventually dropping the list itself).
func refsOf(h *Heap, lst Ref) []Ref {
	var out []Ref
	for cur := lst; cur.NotNil(); cur = h.at(cur).cons.cdr {
		out = append(out, h.Share(h.at(cur).cons.car))
	}
	return out
}

func isTruthy(h *Heap, r Ref) bool {
	if r.IsNil() {
		return false
	}
	c := h.at(r)
	if c.typ == ctAtom && c.atom.kind == atomInt && c.atom.num == 0 {
		return false
	}
	return true
}
