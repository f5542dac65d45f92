// Package record reads and writes the line-oriented, version-tagged records
// that make up a model file. Every component writes one header line starting
// with its version tag, followed by the records of its sub-components.
package record

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/attnmt/attnmt/types/errtypes"
)

type Reader struct {
	br *bufio.Reader
}

func NewReader(r io.Reader) *Reader {
	if br, ok := r.(*bufio.Reader); ok {
		return &Reader{br: br}
	}
	return &Reader{br: bufio.NewReader(r)}
}

// Line returns the next line without its newline. A missing line is
// reported as errtypes.ErrPrematureEOF.
func (r *Reader) Line(what string) (string, error) {
	line, err := r.br.ReadString('\n')
	if errors.Is(err, io.EOF) && line == "" {
		return "", fmt.Errorf("%w when expecting %s", errtypes.ErrPrematureEOF, what)
	} else if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}

	return strings.TrimSuffix(line, "\n"), nil
}

// Record reads one header line and checks its version tag. It returns the
// fields after the tag.
func (r *Reader) Record(tag, what string) ([]string, error) {
	line, err := r.Line(what)
	if err != nil {
		return nil, err
	}

	fields := strings.Fields(line)
	if len(fields) == 0 || fields[0] != tag {
		return nil, fmt.Errorf("%w: expecting a %s of version %s, but got something different:\n%s", errtypes.ErrVersionMismatch, what, tag, line)
	}

	return fields[1:], nil
}

// Bytes reads exactly n raw bytes. The buffer grows as bytes arrive, so a
// corrupt length fails at the end of the file rather than up front.
func (r *Reader) Bytes(n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: negative byte count %d", errtypes.ErrInvalidSpec, n)
	}

	var buf bytes.Buffer
	if _, err := io.CopyN(&buf, r.br, int64(n)); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w when expecting %d bytes", errtypes.ErrPrematureEOF, n)
		}
		return nil, err
	}
	return buf.Bytes(), nil
}

// Write writes one record line: the tag followed by space separated fields.
func Write(w io.Writer, tag string, fields ...any) error {
	var sb strings.Builder
	sb.WriteString(tag)
	for _, f := range fields {
		sb.WriteByte(' ')
		fmt.Fprint(&sb, f)
	}
	sb.WriteByte('\n')

	_, err := io.WriteString(w, sb.String())
	return err
}

// Fields is a cursor over the fields of a record line.
type Fields struct {
	what   string
	fields []string
	err    error
}

func NewFields(what string, fields []string) *Fields {
	return &Fields{what: what, fields: fields}
}

func (f *Fields) next() (string, bool) {
	if f.err != nil {
		return "", false
	}
	if len(f.fields) == 0 {
		f.err = fmt.Errorf("%w: %s record is missing fields", errtypes.ErrPrematureEOF, f.what)
		return "", false
	}

	s := f.fields[0]
	f.fields = f.fields[1:]
	return s, true
}

func (f *Fields) String() string {
	s, _ := f.next()
	return s
}

func (f *Fields) Int() int {
	s, ok := f.next()
	if !ok {
		return 0
	}

	n, err := strconv.Atoi(s)
	if err != nil {
		f.err = fmt.Errorf("%s record: %w", f.what, err)
	}
	return n
}

const (
	// MaxCount bounds the number of sub-components a record may declare.
	MaxCount = 1 << 10
	// MaxDim bounds any single width or vocabulary size.
	MaxDim = 1 << 22
)

func (f *Fields) bounded(lo, hi int, kind string) int {
	n := f.Int()
	if f.err == nil && (n < lo || n > hi) {
		f.err = fmt.Errorf("%w: %s record has %s %d, expected %d to %d", errtypes.ErrInvalidSpec, f.what, kind, n, lo, hi)
		return 0
	}
	return n
}

// Count reads a number of sub-components.
func (f *Fields) Count() int {
	return f.bounded(0, MaxCount, "count")
}

// Dim reads a positive width or size.
func (f *Fields) Dim() int {
	return f.bounded(1, MaxDim, "size")
}

// Width reads a width that may be zero.
func (f *Fields) Width() int {
	return f.bounded(0, MaxDim, "width")
}

// Optional returns the next field, or def when the record has no more.
func (f *Fields) Optional(def string) string {
	if f.err != nil || len(f.fields) == 0 {
		return def
	}
	return f.String()
}

func (f *Fields) Err() error {
	return f.err
}
