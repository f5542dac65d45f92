package cpu

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/attnmt/attnmt/ml"
)

func fromFloats(t *testing.T, ctx ml.Context, s []float64, shape ...int) ml.Tensor {
	t.Helper()
	tt, err := ctx.FromFloats(s, shape...)
	if err != nil {
		t.Fatal(err)
	}
	return tt
}

var approx = cmpopts.EquateApprox(0, 1e-12)

func TestArithmetic(t *testing.T) {
	ctx := New().NewContext()
	defer ctx.Close()

	a := fromFloats(t, ctx, []float64{1, 2, 3, 4, 5, 6}, 2, 3)
	b := fromFloats(t, ctx, []float64{10, 20}, 2)

	cases := []struct {
		name  string
		got   ml.Tensor
		shape []int
		want  []float64
	}{
		{"add broadcast", a.Add(ctx, b), []int{2, 3}, []float64{11, 12, 13, 24, 25, 26}},
		{"add", a.Add(ctx, a), []int{2, 3}, []float64{2, 4, 6, 8, 10, 12}},
		{"mul", a.Mul(ctx, a), []int{2, 3}, []float64{1, 4, 9, 16, 25, 36}},
		{"mulmat", a.Transpose(ctx).Mulmat(ctx, b), []int{3, 1}, []float64{90, 120, 150}},
		{"scale", b.Scale(ctx, -0.5), []int{2, 1}, []float64{-5, -10}},
		{"view", a.View(ctx, 1, 1), []int{1, 3}, []float64{4, 5, 6}},
		{"column", a.Column(ctx, 2), []int{2, 1}, []float64{3, 6}},
		{"columns", a.Columns(ctx, []int{2, -1, 0}), []int{2, 3}, []float64{3, 0, 1, 6, 0, 4}},
		{"concat rows", b.Concat(ctx, b, 0), []int{4, 1}, []float64{10, 20, 10, 20}},
		{"concat cols", b.Concat(ctx, b, 1), []int{2, 2}, []float64{10, 10, 20, 20}},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.shape, tt.got.Shape()); diff != "" {
				t.Errorf("shape mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.want, tt.got.Floats()); diff != "" {
				t.Errorf("values mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSoftmaxColumns(t *testing.T) {
	ctx := New().NewContext()
	defer ctx.Close()

	a := fromFloats(t, ctx, []float64{1, 1000, 2, 1000, 3, 1000}, 3, 2)
	p := a.Softmax(ctx)

	for j := range 2 {
		col := p.Column(ctx, j).Floats()
		var sum float64
		for _, v := range col {
			sum += v
		}
		if math.Abs(sum-1) > 1e-12 {
			t.Errorf("column %d sums to %v", j, sum)
		}
	}

	if diff := cmp.Diff([]float64{1.0 / 3, 1.0 / 3, 1.0 / 3}, p.Column(ctx, 1).Floats(), approx); diff != "" {
		t.Errorf("uniform column mismatch (-want +got):\n%s", diff)
	}

	logp := a.LogSoftmax(ctx).Floats()
	for i, v := range p.Floats() {
		if math.Abs(math.Log(v)-logp[i]) > 1e-9 {
			t.Errorf("log softmax %d = %v, want %v", i, logp[i], math.Log(v))
		}
	}
}

func TestOperandsUnchanged(t *testing.T) {
	ctx := New().NewContext()
	defer ctx.Close()

	p := &ml.Param{Name: "w", Rows: 2, Cols: 2, Data: []float64{1, -2, 3, -4}}
	w := ctx.Param(p)

	_ = w.Tanh(ctx)
	_ = w.Softmax(ctx)
	_ = w.Add(ctx, w)
	_ = w.Columns(ctx, []int{1})

	if diff := cmp.Diff([]float64{1, -2, 3, -4}, p.Data); diff != "" {
		t.Errorf("parameter modified (-want +got):\n%s", diff)
	}
}

func TestFromFloatsShape(t *testing.T) {
	ctx := New().NewContext()
	if _, err := ctx.FromFloats([]float64{1, 2, 3}, 2, 2); err == nil {
		t.Fatal("expected error for mismatched shape")
	}
}

func TestSessions(t *testing.T) {
	b := New()
	c1, c2 := b.NewContext(), b.NewContext()
	if c1.Session() == c2.Session() {
		t.Fatal("contexts share a session")
	}
	if c1.Session().IsZero() {
		t.Fatal("context has a zero session")
	}
}

func TestClose(t *testing.T) {
	ctx := New().NewContext()
	if err := ctx.Close(); err != nil {
		t.Fatal(err)
	}

	if !ctx.Session().IsZero() {
		t.Error("closed context kept its session")
	}
	if _, err := ctx.FromFloats([]float64{1}, 1); err == nil {
		t.Error("expected error creating a tensor on a closed context")
	}
}
