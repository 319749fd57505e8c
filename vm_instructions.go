package secd

import "sort"

// Opcode identifies one SECD instruction. Values are assigned once
// and never reordered, since a compiled program format (spec.md §6)
// stores them as raw ints in Atom(Op) cells.
type Opcode int

const (
	OpNIL Opcode = iota
	OpLDC
	OpLD
	OpCAR
	OpCDR
	OpATOM
	OpCONS
	OpEQ
	OpADD
	OpSUB
	OpMUL
	OpDIV
	OpREM
	OpLEQ
	OpSEL
	OpJOIN
	OpLDF
	OpAP
	OpRTN
	OpDUM
	OpRAP
	OpREAD
	OpPRINT
	OpSTOP
	opcodeCount
)

// argKind classifies an opcode's inline operand(s): none, raw data
// (copied as-is into the compiled list) or code (a sub control-list
// that must itself be compiled).
type argKind int

const (
	argNone argKind = iota
	argData
	argCode
	argCodeCode // two code args, as SEL takes (then-list else-list)
)

type opcodeInfo struct {
	name string
	op   Opcode
	args argKind
}

// opcodeTable is kept sorted by name at all times -- it is written
// already in sorted order here rather than sorted at init time,
// mirroring interp.c's statically-declared, compile-time-sorted
// opcode_table searched by search_opcode_table.
var opcodeTable = []opcodeInfo{
	{"ADD", OpADD, argNone},
	{"AP", OpAP, argNone},
	{"ATOM", OpATOM, argNone},
	{"CAR", OpCAR, argNone},
	{"CDR", OpCDR, argNone},
	{"CONS", OpCONS, argNone},
	{"DIV", OpDIV, argNone},
	{"DUM", OpDUM, argNone},
	{"EQ", OpEQ, argNone},
	{"JOIN", OpJOIN, argNone},
	{"LD", OpLD, argData},
	{"LDC", OpLDC, argData},
	{"LDF", OpLDF, argCode},
	{"LEQ", OpLEQ, argNone},
	{"MUL", OpMUL, argNone},
	{"NIL", OpNIL, argNone},
	{"PRINT", OpPRINT, argNone},
	{"RAP", OpRAP, argNone},
	{"READ", OpREAD, argNone},
	{"REM", OpREM, argNone},
	{"RTN", OpRTN, argNone},
	{"SEL", OpSEL, argCodeCode},
	{"STOP", OpSTOP, argNone},
	{"SUB", OpSUB, argNone},
}

var opcodeByValue [opcodeCount]*opcodeInfo

func init() {
	for i := range opcodeTable {
		opcodeByValue[opcodeTable[i].op] = &opcodeTable[i]
	}
}

// LookupOpcode finds an opcode by mnemonic via binary search over the
// sorted table, matching interp.c's search_opcode_table. Lookup is
// case-insensitive, like symbol comparison (cell.go's strCaseEq); the
// reader itself keeps symbols as written.
func LookupOpcode(name string) (*opcodeInfo, bool) {
	up := upcase(name)
	i := sort.Search(len(opcodeTable), func(i int) bool {
		return opcodeTable[i].name >= up
	})
	if i < len(opcodeTable) && opcodeTable[i].name == up {
		return &opcodeTable[i], true
	}
	return nil, false
}

func OpcodeName(op Opcode) string {
	if info := opcodeByValue[op]; info != nil {
		return info.name
	}
	return "?"
}

func upcase(s string) string {
	b := []byte(s)
	for i, c := range b {
		if 'a' <= c && c <= 'z' {
			b[i] = c - ('a' - 'A')
		}
	}
	return string(b)
}
