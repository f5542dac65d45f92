// Package cpu is an eager, forward-only implementation of the ml interfaces
// on top of gonum dense matrices.
package cpu

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/attnmt/attnmt/ml"
)

func init() {
	ml.RegisterBackend("cpu", New)
}

type Backend struct{}

func New() ml.Backend {
	return &Backend{}
}

func (b *Backend) Name() string {
	return "cpu"
}

func (b *Backend) NewContext() ml.Context {
	return &Context{session: ml.NewSession()}
}

type Context struct {
	session ml.Session
	closed  bool
}

func (c *Context) Session() ml.Session {
	if c.closed {
		return ml.Session{}
	}
	return c.session
}

func (c *Context) Zeros(shape ...int) ml.Tensor {
	rows, cols := dims(shape)
	return &Tensor{m: mat.NewDense(rows, cols, nil)}
}

func (c *Context) FromFloats(s []float64, shape ...int) (ml.Tensor, error) {
	if c.closed {
		return nil, errors.New("cpu: context is closed")
	}

	rows, cols := dims(shape)
	if rows*cols != len(s) {
		return nil, fmt.Errorf("invalid shape %v for %d elements", shape, len(s))
	}

	return &Tensor{m: mat.NewDense(rows, cols, slices.Clone(s))}, nil
}

// Param shares the parameter's backing slice; tensor operations never write
// into their operands.
func (c *Context) Param(p *ml.Param) ml.Tensor {
	return &Tensor{m: mat.NewDense(p.Rows, p.Cols, p.Data)}
}

func (c *Context) Close() error {
	c.closed = true
	return nil
}

func dims(shape []int) (int, int) {
	switch len(shape) {
	case 1:
		return shape[0], 1
	case 2:
		return shape[0], shape[1]
	default:
		panic(fmt.Errorf("cpu: unsupported shape %v", shape))
	}
}

type Tensor struct {
	m *mat.Dense
}

func dense(t ml.Tensor) *mat.Dense {
	return t.(*Tensor).m
}

func (t *Tensor) Dim(n int) int {
	r, c := t.m.Dims()
	switch n {
	case 0:
		return r
	case 1:
		return c
	default:
		return 1
	}
}

func (t *Tensor) Shape() []int {
	r, c := t.m.Dims()
	return []int{r, c}
}

func (t *Tensor) Floats() []float64 {
	r, c := t.m.Dims()
	out := make([]float64, 0, r*c)
	for i := range r {
		out = append(out, t.m.RawRowView(i)...)
	}
	return out
}

func (t *Tensor) String() string {
	return ml.Dump(t)
}

// Add adds t2 element-wise. A single column t2 is broadcast over every
// column of t.
func (t *Tensor) Add(ctx ml.Context, t2 ml.Tensor) ml.Tensor {
	a, b := t.m, dense(t2)
	ar, ac := a.Dims()
	br, bc := b.Dims()
	switch {
	case ar == br && ac == bc:
		var out mat.Dense
		out.Add(a, b)
		return &Tensor{m: &out}
	case ar == br && bc == 1:
		out := mat.DenseCopyOf(a)
		col := mat.Col(nil, 0, b)
		for i := range ar {
			floats.AddConst(col[i], out.RawRowView(i))
		}
		return &Tensor{m: out}
	default:
		panic(fmt.Errorf("cpu: add shape mismatch [%d, %d] + [%d, %d]", ar, ac, br, bc))
	}
}

func (t *Tensor) Mul(ctx ml.Context, t2 ml.Tensor) ml.Tensor {
	a, b := t.m, dense(t2)
	ar, ac := a.Dims()
	br, bc := b.Dims()
	if ar != br || ac != bc {
		panic(fmt.Errorf("cpu: mul shape mismatch [%d, %d] * [%d, %d]", ar, ac, br, bc))
	}

	var out mat.Dense
	out.MulElem(a, b)
	return &Tensor{m: &out}
}

// Mulmat is the matrix product t x t2.
func (t *Tensor) Mulmat(ctx ml.Context, t2 ml.Tensor) ml.Tensor {
	a, b := t.m, dense(t2)
	ar, ac := a.Dims()
	br, bc := b.Dims()
	if ac != br {
		panic(fmt.Errorf("cpu: mulmat shape mismatch [%d, %d] x [%d, %d]", ar, ac, br, bc))
	}

	var out mat.Dense
	out.Mul(a, b)
	return &Tensor{m: &out}
}

func (t *Tensor) Scale(ctx ml.Context, s float64) ml.Tensor {
	var out mat.Dense
	out.Scale(s, t.m)
	return &Tensor{m: &out}
}

func (t *Tensor) apply(fn func(float64) float64) ml.Tensor {
	var out mat.Dense
	out.Apply(func(_, _ int, v float64) float64 { return fn(v) }, t.m)
	return &Tensor{m: &out}
}

func (t *Tensor) Tanh(ctx ml.Context) ml.Tensor {
	return t.apply(math.Tanh)
}

func (t *Tensor) Sigmoid(ctx ml.Context) ml.Tensor {
	return t.apply(func(v float64) float64 { return 1 / (1 + math.Exp(-v)) })
}

func (t *Tensor) Exp(ctx ml.Context) ml.Tensor {
	return t.apply(math.Exp)
}

// Softmax normalizes every column independently.
func (t *Tensor) Softmax(ctx ml.Context) ml.Tensor {
	return t.columnwise(func(col []float64) {
		// subtracting the max to avoid overflow
		floats.AddConst(-floats.Max(col), col)
		for i := range col {
			col[i] = math.Exp(col[i])
		}
		floats.Scale(1/floats.Sum(col), col)
	})
}

func (t *Tensor) LogSoftmax(ctx ml.Context) ml.Tensor {
	return t.columnwise(func(col []float64) {
		floats.AddConst(-floats.LogSumExp(col), col)
	})
}

func (t *Tensor) columnwise(fn func([]float64)) ml.Tensor {
	r, c := t.m.Dims()
	out := mat.NewDense(r, c, nil)
	col := make([]float64, r)
	for j := range c {
		mat.Col(col, j, t.m)
		fn(col)
		out.SetCol(j, col)
	}
	return &Tensor{m: out}
}

func (t *Tensor) Transpose(ctx ml.Context) ml.Tensor {
	return &Tensor{m: mat.DenseCopyOf(t.m.T())}
}

// View copies rows [offset, offset+rows) of every column.
func (t *Tensor) View(ctx ml.Context, offset, rows int) ml.Tensor {
	r, c := t.m.Dims()
	if offset < 0 || rows <= 0 || offset+rows > r {
		panic(fmt.Errorf("cpu: view [%d, %d) out of range for %d rows", offset, offset+rows, r))
	}

	return &Tensor{m: mat.DenseCopyOf(t.m.Slice(offset, offset+rows, 0, c))}
}

func (t *Tensor) Column(ctx ml.Context, j int) ml.Tensor {
	r, _ := t.m.Dims()
	return &Tensor{m: mat.NewDense(r, 1, mat.Col(nil, j, t.m))}
}

// Columns gathers the given columns. A negative id yields a zero column.
func (t *Tensor) Columns(ctx ml.Context, ids []int) ml.Tensor {
	r, c := t.m.Dims()
	out := mat.NewDense(r, len(ids), nil)
	col := make([]float64, r)
	for j, id := range ids {
		if id < 0 {
			continue
		}
		if id >= c {
			panic(fmt.Errorf("cpu: column %d out of range for %d columns", id, c))
		}
		mat.Col(col, id, t.m)
		out.SetCol(j, col)
	}
	return &Tensor{m: out}
}

// Concat stacks t2 below t (dim 0) or to the right of t (dim 1).
func (t *Tensor) Concat(ctx ml.Context, t2 ml.Tensor, dim int) ml.Tensor {
	a, b := t.m, dense(t2)
	ar, ac := a.Dims()
	br, bc := b.Dims()

	var out mat.Dense
	switch dim {
	case 0:
		if ac != bc {
			panic(fmt.Errorf("cpu: concat shape mismatch [%d, %d] | [%d, %d]", ar, ac, br, bc))
		}
		out.Stack(a, b)
	case 1:
		if ar != br {
			panic(fmt.Errorf("cpu: concat shape mismatch [%d, %d] | [%d, %d]", ar, ac, br, bc))
		}
		out.Augment(a, b)
	default:
		panic(fmt.Errorf("cpu: concat dim %d", dim))
	}
	return &Tensor{m: &out}
}
