package secd

import (
	"fmt"
	"strings"
)

// PrintString renders v the way readparse.c's sexp_print does:
// conses as `(a b c)` (with a trailing `. x` for an improper tail),
// strings double-quoted, atoms by kind, vectors as `#(a b c)`, and
// errors as `#!"message"`. Used by PRINT (vm.go's secdPrint) and by
// WriteToPort (ports.go) for output ports.
func PrintString(h *Heap, r Ref) string {
	var sb strings.Builder
	writeCell(&sb, h, r)
	return sb.String()
}

func writeCell(sb *strings.Builder, h *Heap, r Ref) {
	if r.IsNil() {
		sb.WriteString("()")
		return
	}
	c := h.at(r)
	switch c.typ {
	case ctUndef:
		sb.WriteString("#?")
	case ctAtom:
		writeAtom(sb, c)
	case ctFrame:
		sb.WriteString("#<envframe>")
	case ctCons:
		writeList(sb, h, r)
	case ctArray:
		writeArray(sb, h, r)
	case ctStr:
		sb.WriteByte('"')
		sb.WriteString(strings.NewReplacer(`"`, `\"`, `\`, `\\`).Replace(string(c.str.bytes)))
		sb.WriteByte('"')
	case ctError:
		fmt.Fprintf(sb, "#!%q", c.err)
	case ctPort:
		sb.WriteString("#<port>")
	case ctRef:
		sb.WriteString("#<ref>")
	default:
		sb.WriteString("#<?>")
	}
}

func writeAtom(sb *strings.Builder, c *cell) {
	switch c.atom.kind {
	case atomInt:
		fmt.Fprintf(sb, "%d", c.atom.num)
	case atomSym:
		sb.WriteString(c.atom.sym)
	case atomOp:
		sb.WriteByte('#')
		sb.WriteString(OpcodeName(Opcode(c.atom.op)))
		sb.WriteByte('#')
	case atomNative:
		fmt.Fprintf(sb, "*native(%d)*", c.atom.native)
	}
}

// writeList mirrors readparse.c's sexp_print_list: walks the cons
// chain printing each car, switching to `. tail` if the chain ends in
// something other than NIL or another cons.
func writeList(sb *strings.Builder, h *Heap, r Ref) {
	sb.WriteByte('(')
	first := true
	cur := r
	for {
		c := h.at(cur)
		if c.typ != ctCons {
			sb.WriteString(" . ")
			writeCell(sb, h, cur)
			break
		}
		if !first {
			sb.WriteByte(' ')
		}
		first = false
		writeCell(sb, h, c.cons.car)
		if c.cons.cdr.IsNil() {
			break
		}
		cur = c.cons.cdr
	}
	sb.WriteByte(')')
}

func writeArray(sb *strings.Builder, h *Heap, r Ref) {
	sb.WriteString("#(")
	n := h.ArrayLen(r)
	for i := 0; i < n; i++ {
		if i > 0 {
			sb.WriteByte(' ')
		}
		writeCell(sb, h, h.ArrayGet(r, i))
	}
	sb.WriteByte(')')
}
