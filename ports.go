package secd

import (
	"bufio"
	"io"
	"os"

	"github.com/pkg/errors"
)

// filePort wraps an OS file (or stdio) the way posix-io.c's secd_fopen/
// secd_fclose wrap a FILE*. Close is idempotent, matching
// posix-io.c's secd_pclose contract (closing an already-closed port is
// a no-op, not an error).
type filePort struct {
	r      *bufio.Reader
	w      io.Writer
	closer io.Closer
	closed bool
	isStd  bool
}

func (f *filePort) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true
	if f.isStd || f.closer == nil {
		return nil
	}
	return f.closer.Close()
}

// Port is the Go-facing handle a Machine uses for READ/PRINT and the
// port natives; its underlying cell (when heap-resident) carries the
// portPayload described in cell.go.
//
// closed tracks the port's own "empty" state independent of filePort's
// OS-level closed flag (spec.md §5: "closing a port transitions it to
// an empty state: further reads return EOF, further writes fail"),
// since a string port has no OS handle to ask and a closed stdio
// filePort still has a live, writable *os.File underneath it.
type Port struct {
	ref    Ref // NilRef for the machine's bare stdio ports, which have no cell
	dir    portDirection
	kind   portKind
	file   *filePort
	str    Ref
	closed bool
}

func NewStdinPort() *Port {
	return &Port{ref: NilRef, dir: portInput, kind: portFile, file: &filePort{r: bufio.NewReader(os.Stdin), isStd: true}}
}

func NewStdoutPort() *Port {
	return &Port{ref: NilRef, dir: portOutput, kind: portFile, file: &filePort{w: os.Stdout, isStd: true}}
}

// OpenFile opens a file port for reading or writing, matching
// posix-io.c's secd_fopen.
func OpenFile(path string, write bool) (*Port, error) {
	if write {
		f, err := os.Create(path)
		if err != nil {
			return nil, errors.Wrapf(err, "secd: open %s for writing", path)
		}
		return &Port{dir: portOutput, kind: portFile, file: &filePort{w: f, closer: f}}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "secd: open %s for reading", path)
	}
	return &Port{dir: portInput, kind: portFile, file: &filePort{r: bufio.NewReader(f), closer: f}}, nil
}

// OpenStringPort opens an in-memory port: an input port reads from
// `initial`; an output port accumulates its text in the Str cell held
// in p.str, which WriteToPort replaces with a larger one on each write.
// Close drops that Str cell.
func OpenStringPort(h *Heap, write bool, initial string) (*Port, error) {
	if write {
		strRef, err := h.NewString(nil)
		if err != nil {
			return nil, err
		}
		return &Port{dir: portOutput, kind: portString, str: strRef}, nil
	}
	strRef, err := h.NewString([]byte(initial))
	if err != nil {
		return nil, err
	}
	return &Port{dir: portInput, kind: portString, str: strRef}, nil
}

func (p *Port) Close(h *Heap) error {
	p.closed = true
	if p.kind == portFile {
		return p.file.Close()
	}
	if p.str.NotNil() {
		h.Drop(p.str)
		p.str = NilRef
	}
	return nil
}

// WriteToPort prints v (via the printer) to p. A string output port's
// backing buffer grows to fit -- the "grow" resolution of
// posix-io.c's "TODO: resize string" in secd_vprintf (FEATURES
// SUPPLEMENTED item 7 / Open Questions "Port resize"). Existing Str
// handles elsewhere in the heap that alias the port's previous buffer
// do not follow the move: they keep referencing the bytes as they
// stood at the time they were read, since the port allocates an
// entirely new backing chunk rather than reallocating in place.
func WriteToPort(h *Heap, p *Port, v Ref) error {
	if p.closed {
		return errors.New("secd: write to closed port")
	}
	text := PrintString(h, v)
	if p.kind == portFile {
		_, err := io.WriteString(p.file.w, text)
		if err != nil {
			return errors.Wrap(err, "secd: port write")
		}
		return nil
	}
	cur := h.at(p.str)
	grown := append(append([]byte{}, cur.str.bytes...), text...)
	newStr, err := h.NewString(grown)
	if err != nil {
		return err
	}
	h.Drop(p.str)
	p.str = newStr
	return nil
}

// ReadFromPort parses one datum from p using the reader (reader.go).
// A closed port, or a string port whose buffer is used up, yields an
// eof Error cell, matching posix-io.c's secd_getc returning EOF. A file
// port at end of input yields what ReadDatum yields there: the #[eof]
// symbol.
func ReadFromPort(h *Heap, p *Port) (Ref, error) {
	if p.closed {
		return h.NewError(eofMessage)
	}
	if p.kind == portFile {
		return ReadDatum(h, p.file.r)
	}
	s := h.at(p.str)
	if s.str.offset >= len(s.str.bytes) {
		return h.NewError(eofMessage)
	}
	rd := bufio.NewReader(newByteReaderAt(s.str.bytes, s.str.offset))
	v, n, err := ReadDatumCounting(h, rd)
	s.str.offset += n
	return v, err
}

type byteReaderAt struct {
	data []byte
	pos  int
}

func newByteReaderAt(data []byte, offset int) *byteReaderAt {
	return &byteReaderAt{data: data, pos: offset}
}

func (b *byteReaderAt) Read(p []byte) (int, error) {
	if b.pos >= len(b.data) {
		return 0, io.EOF
	}
	n := copy(p, b.data[b.pos:])
	b.pos += n
	return n, nil
}

func (b *byteReaderAt) ReadByte() (byte, error) {
	if b.pos >= len(b.data) {
		return 0, io.EOF
	}
	c := b.data[b.pos]
	b.pos++
	return c, nil
}
