package secd

import (
	"bufio"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// eofSymbol is the distinguished symbol name surfaced when the reader
// hits end of input, matching readparse.c's EOF_OBJ (read_token's
// `case TOK_EOF: return new_symbol(secd, EOF_OBJ)`).
const eofSymbol = "#[eof]"

// notSymbolChars mirrors readparse.c's not_symbol_chars: every byte
// outside this set (and outside the control-code range) may appear in
// a bare symbol.
const notSymbolChars = " ();\n"

type token int

const (
	tokErr token = iota
	tokEOF
	tokSym
	tokNum
	tokStr
	tokLParen
	tokRParen
	tokQuote
	tokQQ
	tokUQ
	tokUQSpl
	tokHash
)

// reader holds one lexer/parser's worth of state over a byte stream,
// the Go counterpart of readparse.c's secd_parser_t: a single
// lookahead byte (`lc`) plus whatever the current token carried.
type reader struct {
	h  *Heap
	in *bufio.Reader

	lc      int // current lookahead byte, or -1 at EOF
	tok     token
	numtok  int64
	symtok  string
	strtok  string

	nread int // bytes consumed, for string-port offset bookkeeping
}

func newReader(h *Heap, in *bufio.Reader) *reader {
	r := &reader{h: h, in: in}
	r.nextChar()
	return r
}

func (r *reader) nextChar() int {
	b, err := r.in.ReadByte()
	if err != nil {
		r.lc = -1
		return r.lc
	}
	r.nread++
	r.lc = int(b)
	return r.lc
}

func isSymbolChar(c int) bool {
	if c < 0x20 || c > 0xff {
		return false
	}
	return !strings.ContainsRune(notSymbolChars, rune(c))
}

func isDigit(c int) bool  { return '0' <= c && c <= '9' }
func isSpace(c int) bool  { return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\v' || c == '\f' }
func isHexDigit(c int) bool {
	return isDigit(c) || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}

// lexNumber consumes a run of digits (optionally signed), matching
// readparse.c's lexnumber.
func (r *reader) lexNumber(neg bool) token {
	var sb strings.Builder
	if neg {
		sb.WriteByte('-')
	}
	for isDigit(r.lc) {
		sb.WriteByte(byte(r.lc))
		r.nextChar()
	}
	n, err := strconv.ParseInt(sb.String(), 10, 64)
	if err != nil {
		r.tok = tokErr
		return r.tok
	}
	r.numtok = n
	r.tok = tokNum
	return r.tok
}

// lexSymbol consumes a maximal run of symbol characters, matching
// readparse.c's lexsymbol. The reader folds no case itself; symbol
// comparisons fold case at use (cell.go's strCaseEq), matching the
// original's case-insensitive atom_eq.
func (r *reader) lexSymbol() token {
	var sb strings.Builder
	for isSymbolChar(r.lc) {
		sb.WriteByte(byte(r.lc))
		r.nextChar()
	}
	r.symtok = sb.String()
	r.tok = tokSym
	return r.tok
}

// lexString consumes a `"..."`-delimited string literal, decoding
// `\a \b \t \n` and `\xNN;` escapes. `\xNN;` decodes to the UTF-8
// encoding of the given code point (FEATURES SUPPLEMENTED item 2),
// matching readparse.c's lexstring + native.c's utf8cpy.
func (r *reader) lexString() token {
	var sb strings.Builder
	for {
		r.nextChar()
		switch r.lc {
		case -1:
			r.tok = tokErr
			return r.tok
		case '\\':
			r.nextChar()
			switch r.lc {
			case 'a':
				sb.WriteByte('\a')
			case 'b':
				sb.WriteByte('\b')
			case 't':
				sb.WriteByte('\t')
			case 'n':
				sb.WriteByte('\n')
			case 'x':
				var hex strings.Builder
				r.nextChar()
				if !isHexDigit(r.lc) {
					r.tok = tokErr
					return r.tok
				}
				for isHexDigit(r.lc) {
					hex.WriteByte(byte(r.lc))
					r.nextChar()
				}
				if r.lc != ';' {
					r.tok = tokErr
					return r.tok
				}
				code, err := strconv.ParseInt(hex.String(), 16, 32)
				if err != nil {
					r.tok = tokErr
					return r.tok
				}
				sb.WriteRune(rune(code))
			default:
				sb.WriteByte(byte(r.lc))
			}
		case '"':
			r.nextChar()
			r.strtok = sb.String()
			r.tok = tokStr
			return r.tok
		default:
			sb.WriteByte(byte(r.lc))
		}
	}
}

// lexNext scans one token, matching readparse.c's lexnext.
func (r *reader) lexNext() token {
	for isSpace(r.lc) {
		r.nextChar()
	}
	switch r.lc {
	case -1:
		r.tok = tokEOF
		return r.tok
	case ';':
		for r.lc != '\n' && r.lc != -1 {
			r.nextChar()
		}
		return r.lexNext()
	case '(':
		r.nextChar()
		r.tok = tokLParen
		return r.tok
	case ')':
		r.nextChar()
		r.tok = tokRParen
		return r.tok
	case '#':
		r.nextChar()
		switch r.lc {
		case 'f', 't':
			r.symtok = "#" + string(rune(r.lc))
			r.nextChar()
			r.tok = tokSym
			return r.tok
		}
		r.tok = tokHash
		return r.tok
	case '\'':
		r.nextChar()
		r.tok = tokQuote
		return r.tok
	case '`':
		r.nextChar()
		r.tok = tokQQ
		return r.tok
	case ',':
		r.nextChar()
		if r.lc == '@' {
			r.nextChar()
			r.tok = tokUQSpl
			return r.tok
		}
		r.tok = tokUQ
		return r.tok
	case '"':
		return r.lexString()
	}
	if isDigit(r.lc) {
		return r.lexNumber(false)
	}
	if r.lc == '-' {
		// '-<digits>' is a negative number; a lone '-', or anything
		// else starting with '-', is an ordinary symbol.
		r.nextChar()
		if isDigit(r.lc) {
			return r.lexNumber(true)
		}
		r.symtok = "-"
		for isSymbolChar(r.lc) {
			r.symtok += string(rune(r.lc))
			r.nextChar()
		}
		r.tok = tokSym
		return r.tok
	}
	if isSymbolChar(r.lc) {
		return r.lexSymbol()
	}
	r.tok = tokErr
	return r.tok
}

var specialFormFor = map[token]string{
	tokQuote: "quote",
	tokQQ:    "quasiquote",
	tokUQ:    "unquote",
	tokUQSpl: "unquote-splicing",
}

// readToken consumes one already-lexed token and builds the cell it
// denotes, matching readparse.c's read_token.
func (r *reader) readToken() (Ref, error) {
	h := r.h
	switch r.tok {
	case tokLParen:
		lst, err := r.readList()
		if err != nil {
			return NilRef, err
		}
		if r.tok != tokRParen {
			return NilRef, errors.New("secd: read: expected ')'")
		}
		return lst, nil

	case tokNum:
		return h.NewInt(r.numtok)

	case tokSym:
		return h.NewSymbol(r.symtok, false)

	case tokStr:
		return h.NewString([]byte(r.strtok))

	case tokEOF:
		return h.NewSymbol(eofSymbol, false)

	case tokQuote, tokQQ, tokUQ, tokUQSpl:
		formName := specialFormFor[r.tok]
		r.lexNext()
		inner, err := r.readToken()
		if err != nil {
			return NilRef, err
		}
		sym, err := h.NewSymbol(formName, false)
		if err != nil {
			return NilRef, err
		}
		innerCons, err := h.NewCons(inner, NilRef)
		if err != nil {
			return NilRef, err
		}
		return h.NewCons(sym, innerCons)

	case tokHash:
		if r.lexNext() == tokLParen {
			lst, err := r.readList()
			if err != nil {
				return NilRef, err
			}
			if r.tok != tokRParen {
				return NilRef, errors.New("secd: read: expected ')' closing vector literal")
			}
			return vectorFromList(h, lst)
		}
		return NilRef, errors.New("secd: read: unsupported '#' form")
	}
	return NilRef, errors.Errorf("secd: read: unexpected token")
}

// readList reads a sequence of data up to the matching ')', matching
// readparse.c's read_list. A dotted tail (`(x . y)`) is accepted by
// treating a bare symbol named "." specially.
func (r *reader) readList() (Ref, error) {
	head := NilRef
	tail := NilRef

	for {
		tok := r.lexNext()
		if tok == tokEOF || tok == tokRParen {
			return head, nil
		}

		var val Ref
		var err error
		switch tok {
		case tokLParen:
			val, err = r.readToken()
		case tokSym:
			if r.symtok == "." {
				tailVal, terr := r.readNext()
				if terr != nil {
					return NilRef, terr
				}
				if tail.NotNil() {
					r.h.at(tail).cons.cdr = tailVal
				} else {
					head = tailVal
				}
				r.lexNext()
				return head, nil
			}
			val, err = r.readToken()
		default:
			val, err = r.readToken()
		}
		if err != nil {
			return NilRef, err
		}

		cons, err := r.h.NewCons(val, NilRef)
		if err != nil {
			return NilRef, err
		}
		if tail.NotNil() {
			r.h.at(tail).cons.cdr = cons
			tail = cons
		} else {
			head = cons
			tail = cons
		}
	}
}

// readNext lexes then reads exactly one datum, the combination
// readparse.c calls sexp_read.
func (r *reader) readNext() (Ref, error) {
	r.lexNext()
	return r.readToken()
}

// vectorFromList copies a freshly read proper list into a new Array
// cell, matching readparse.c's vector_from_list (used for `#(...)`
// literals).
func vectorFromList(h *Heap, lst Ref) (Ref, error) {
	n := 0
	for cur := lst; cur.NotNil(); cur = h.at(cur).cons.cdr {
		n++
	}
	arr, err := h.NewArray(n)
	if err != nil {
		return NilRef, err
	}
	i := 0
	for cur := lst; cur.NotNil(); cur = h.at(cur).cons.cdr {
		h.ArraySet(arr, i, h.Share(h.at(cur).cons.car))
		i++
	}
	h.Drop(lst)
	return arr, nil
}

// ReadDatum parses exactly one s-expression from rd, matching
// readparse.c's sexp_parse reading from the machine's current input
// port. EOF surfaces as the distinguished #[eof] symbol, not an error.
func ReadDatum(h *Heap, rd *bufio.Reader) (Ref, error) {
	v, _, err := ReadDatumCounting(h, rd)
	return v, err
}

// ReadDatumCounting is ReadDatum plus the number of bytes consumed,
// used by string ports to advance their read offset (spec.md §5
// "Ports" / ports.go's ReadFromPort).
func ReadDatumCounting(h *Heap, rd *bufio.Reader) (Ref, int, error) {
	r := newReader(h, rd)
	v, err := r.readNext()
	return v, r.nread, err
}

// Parse reads every top-level datum out of src and returns them as a
// single proper list, the form a program source file takes before
// CompileControl (compiler.go) sees it.
func Parse(h *Heap, src []byte) (Ref, error) {
	rd := bufio.NewReader(strings.NewReader(string(src)))
	r := newReader(h, rd)

	head, tail := NilRef, NilRef
	for {
		tok := r.lexNext()
		if tok == tokEOF {
			return head, nil
		}
		val, err := r.readToken()
		if err != nil {
			return NilRef, err
		}
		cons, err := h.NewCons(val, NilRef)
		if err != nil {
			return NilRef, err
		}
		if tail.NotNil() {
			h.at(tail).cons.cdr = cons
			tail = cons
		} else {
			head, tail = cons, cons
		}
	}
}
