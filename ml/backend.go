package ml

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Session identifies one computation context. Components record the session
// they were bound to and refuse tensors or calls from any other session.
type Session struct {
	id uuid.UUID
}

func NewSession() Session {
	return Session{id: uuid.New()}
}

func (s Session) IsZero() bool {
	return s.id == uuid.Nil
}

func (s Session) String() string {
	return s.id.String()
}

type Backend interface {
	Name() string
	NewContext() Context
}

var (
	backendsMu sync.Mutex
	backends   = make(map[string]func() Backend)
)

func RegisterBackend(name string, f func() Backend) {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	if _, ok := backends[name]; ok {
		panic("backend: backend already registered")
	}

	backends[name] = f
}

// NewBackend returns the named backend, or the cpu backend when name is empty.
func NewBackend(name string) (Backend, error) {
	if name == "" {
		name = "cpu"
	}

	backendsMu.Lock()
	defer backendsMu.Unlock()
	if backend, ok := backends[name]; ok {
		return backend(), nil
	}

	return nil, fmt.Errorf("unsupported backend %q", name)
}

// Context is an eager computation context. Tensors created by a context are
// valid until Close. A closed context reports a zero Session, so components
// bound to it refuse further calls.
type Context interface {
	Session() Session

	Zeros(shape ...int) Tensor
	FromFloats(s []float64, shape ...int) (Tensor, error)
	Param(p *Param) Tensor

	Close() error
}

// Tensor is a two dimensional matrix. Vectors are [n, 1]; batched vectors
// are [n, batch]. Floats returns values in row-major order.
type Tensor interface {
	Dim(n int) int
	Shape() []int
	Floats() []float64

	Add(ctx Context, t2 Tensor) Tensor
	Mul(ctx Context, t2 Tensor) Tensor
	Mulmat(ctx Context, t2 Tensor) Tensor
	Scale(ctx Context, s float64) Tensor

	Softmax(ctx Context) Tensor
	LogSoftmax(ctx Context) Tensor
	Tanh(ctx Context) Tensor
	Sigmoid(ctx Context) Tensor
	Exp(ctx Context) Tensor

	Transpose(ctx Context) Tensor
	View(ctx Context, offset, rows int) Tensor
	Column(ctx Context, j int) Tensor
	Columns(ctx Context, ids []int) Tensor
	Concat(ctx Context, t2 Tensor, dim int) Tensor
}

// Concat joins tensors along dim, left to right.
func Concat(ctx Context, dim int, ts ...Tensor) Tensor {
	if len(ts) == 0 {
		panic("concat: no tensors")
	}

	t := ts[0]
	for _, t2 := range ts[1:] {
		t = t.Concat(ctx, t2, dim)
	}

	return t
}

type DumpOptions struct {
	// Items is the number of elements to print at the beginning and end of each dimension.
	Items int

	// Precision is the number of decimal places to print.
	Precision int
}

func Dump(t Tensor, opts ...DumpOptions) string {
	if t == nil {
		return "<nil>"
	}

	if len(opts) < 1 {
		opts = append(opts, DumpOptions{
			Items:     3,
			Precision: 4,
		})
	}

	rows, cols := t.Dim(0), t.Dim(1)
	s := t.Floats()

	row := func(sb *strings.Builder, r int) {
		fmt.Fprint(sb, "[")
		for j := 0; j < cols; j++ {
			if j >= opts[0].Items && j < cols-opts[0].Items {
				fmt.Fprint(sb, "..., ")
				j = cols - opts[0].Items - 1
				continue
			}
			fmt.Fprintf(sb, "%.*f", opts[0].Precision, s[r*cols+j])
			if j < cols-1 {
				fmt.Fprint(sb, ", ")
			}
		}
		fmt.Fprint(sb, "]")
	}

	var sb strings.Builder
	fmt.Fprint(&sb, "[")
	for i := 0; i < rows; i++ {
		if i >= opts[0].Items && i < rows-opts[0].Items {
			fmt.Fprint(&sb, "..., ")
			i = rows - opts[0].Items - 1
			continue
		}
		row(&sb, i)
		if i < rows-1 {
			fmt.Fprint(&sb, ", ")
		}
	}
	fmt.Fprint(&sb, "]")

	return sb.String()
}
