package nn

import "github.com/attnmt/attnmt/ml"

type Linear struct {
	Weight *ml.Param
	Bias   *ml.Param
}

// NewLinear registers an out x in affine transform. Pass bias=false for a
// plain projection.
func NewLinear(params *ml.Params, name string, in, out int, bias bool) *Linear {
	l := &Linear{Weight: params.Add(name+".weight", out, in)}
	if bias {
		l.Bias = params.Add(name+".bias", out, 1)
	}
	return l
}

func (m *Linear) In() int {
	return m.Weight.Cols
}

func (m *Linear) Out() int {
	return m.Weight.Rows
}

func (m *Linear) Forward(ctx ml.Context, t ml.Tensor) ml.Tensor {
	t = ctx.Param(m.Weight).Mulmat(ctx, t)
	if m.Bias != nil {
		t = t.Add(ctx, ctx.Param(m.Bias))
	}

	return t
}
