package model

import (
	"fmt"

	"github.com/attnmt/attnmt/ml"
	"github.com/attnmt/attnmt/ml/nn"
	"github.com/attnmt/attnmt/types/errtypes"
)

// Bridge maps an encoder summary to the initial state of a decoder with the
// given recurrent spec. One affine transform produces layers*nodes values;
// each layer's slice seeds its hidden vector as is and its cell through tanh.
type Bridge struct {
	spec nn.Spec
	out  *nn.Linear
}

func NewBridge(params *ml.Params, in int, spec nn.Spec) *Bridge {
	return &Bridge{
		spec: spec,
		out:  nn.NewLinear(params, "bridge", in, spec.Layers*spec.Nodes, true),
	}
}

func (b *Bridge) InputSize() int {
	return b.out.In()
}

// Forward accepts a [in, batch] summary and returns a state with the same
// number of columns.
func (b *Bridge) Forward(ctx ml.Context, summary ml.Tensor) (nn.State, error) {
	if summary == nil {
		return nil, fmt.Errorf("bridge: %w: no encoder summary", errtypes.ErrNotInitialized)
	}
	if summary.Dim(0) != b.InputSize() {
		return nil, fmt.Errorf("%w: bridge input width %d, expected %d", errtypes.ErrShapeMismatch, summary.Dim(0), b.InputSize())
	}

	flat := b.out.Forward(ctx, summary)
	state := make(nn.State, b.spec.Layers)
	for i := range state {
		slice := flat.View(ctx, i*b.spec.Nodes, b.spec.Nodes)
		state[i] = nn.LayerState{Cell: slice.Tanh(ctx), Hidden: slice}
	}
	return state, nil
}
