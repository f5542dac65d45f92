package nn

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/attnmt/attnmt/ml"
	"github.com/attnmt/attnmt/types/errtypes"
)

// Spec describes a stack of recurrent layers as "type:nodes:layers", for
// example "lstm:100:1".
type Spec struct {
	Type   string
	Nodes  int
	Layers int
}

func ParseSpec(s string) (Spec, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return Spec{}, &errtypes.InvalidModelConfigError{Config: s, Reason: "expected type:nodes:layers"}
	}

	nodes, err := strconv.Atoi(parts[1])
	if err != nil || nodes <= 0 {
		return Spec{}, &errtypes.InvalidModelConfigError{Config: s, Reason: "node count must be a positive integer"}
	}

	layers, err := strconv.Atoi(parts[2])
	if err != nil || layers <= 0 {
		return Spec{}, &errtypes.InvalidModelConfigError{Config: s, Reason: "layer count must be a positive integer"}
	}

	switch parts[0] {
	case "rnn", "lstm":
	default:
		return Spec{}, &errtypes.InvalidModelConfigError{Config: s, Reason: fmt.Sprintf("unknown recurrent type %q", parts[0])}
	}

	return Spec{Type: parts[0], Nodes: nodes, Layers: layers}, nil
}

func (s Spec) String() string {
	return fmt.Sprintf("%s:%d:%d", s.Type, s.Nodes, s.Layers)
}

// LayerState is the recurrent state of one layer. Simple RNN layers only use
// Hidden; Cell is carried so every state has the same shape.
type LayerState struct {
	Cell   ml.Tensor
	Hidden ml.Tensor
}

// State holds one LayerState per layer, bottom first.
type State []LayerState

// Output is the top layer's hidden vector, or nil for an empty state.
func (s State) Output() ml.Tensor {
	if len(s) == 0 {
		return nil
	}
	return s[len(s)-1].Hidden
}

type Recurrent interface {
	Spec() Spec
	InputSize() int

	// Initial returns an all-zero state for a batch of the given width.
	Initial(ctx ml.Context, batch int) State

	// Forward consumes one input column (or batch of columns) and returns the
	// next state. The input state is not modified.
	Forward(ctx ml.Context, state State, x ml.Tensor) State
}

func NewRecurrent(params *ml.Params, name string, spec Spec, inputSize int) (Recurrent, error) {
	switch spec.Type {
	case "rnn":
		return newStack(params, name, spec, inputSize, 1), nil
	case "lstm":
		return newStack(params, name, spec, inputSize, 4), nil
	default:
		return nil, &errtypes.InvalidModelConfigError{Config: spec.String(), Reason: "unknown recurrent type"}
	}
}

type layer struct {
	x *Linear
	h *Linear
}

type stack struct {
	spec      Spec
	inputSize int
	gates     int
	layers    []layer
}

func newStack(params *ml.Params, name string, spec Spec, inputSize, gates int) *stack {
	s := &stack{spec: spec, inputSize: inputSize, gates: gates}
	in := inputSize
	for i := range spec.Layers {
		prefix := fmt.Sprintf("%s.%d", name, i)
		s.layers = append(s.layers, layer{
			x: NewLinear(params, prefix+".x", in, gates*spec.Nodes, true),
			h: NewLinear(params, prefix+".h", spec.Nodes, gates*spec.Nodes, false),
		})
		in = spec.Nodes
	}
	return s
}

func (s *stack) Spec() Spec {
	return s.spec
}

func (s *stack) InputSize() int {
	return s.inputSize
}

func (s *stack) Initial(ctx ml.Context, batch int) State {
	state := make(State, len(s.layers))
	for i := range state {
		state[i] = LayerState{
			Cell:   ctx.Zeros(s.spec.Nodes, batch),
			Hidden: ctx.Zeros(s.spec.Nodes, batch),
		}
	}
	return state
}

func (s *stack) Forward(ctx ml.Context, state State, x ml.Tensor) State {
	if len(state) != len(s.layers) {
		panic(fmt.Errorf("recurrent: state has %d layers, want %d", len(state), len(s.layers)))
	}

	n := s.spec.Nodes
	next := make(State, len(s.layers))
	for i, l := range s.layers {
		pre := l.x.Forward(ctx, x).Add(ctx, l.h.Forward(ctx, state[i].Hidden))
		switch s.gates {
		case 1:
			h := pre.Tanh(ctx)
			next[i] = LayerState{Cell: state[i].Cell, Hidden: h}
		case 4:
			in := pre.View(ctx, 0, n).Sigmoid(ctx)
			forget := pre.View(ctx, n, n).Sigmoid(ctx)
			out := pre.View(ctx, 2*n, n).Sigmoid(ctx)
			g := pre.View(ctx, 3*n, n).Tanh(ctx)
			c := forget.Mul(ctx, state[i].Cell).Add(ctx, in.Mul(ctx, g))
			next[i] = LayerState{Cell: c, Hidden: out.Mul(ctx, c.Tanh(ctx))}
		}
		x = next[i].Hidden
	}

	return next
}
