package nn

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/exp/rand"

	"github.com/attnmt/attnmt/ml"
	"github.com/attnmt/attnmt/ml/backend/cpu"
	"github.com/attnmt/attnmt/types/errtypes"
)

func TestParseSpec(t *testing.T) {
	cases := []struct {
		in   string
		want Spec
		err  bool
	}{
		{in: "lstm:100:2", want: Spec{Type: "lstm", Nodes: 100, Layers: 2}},
		{in: "rnn:3:1", want: Spec{Type: "rnn", Nodes: 3, Layers: 1}},
		{in: "gru:3:1", err: true},
		{in: "lstm:0:1", err: true},
		{in: "lstm:4", err: true},
		{in: "lstm:4:x", err: true},
	}

	for _, tt := range cases {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSpec(tt.in)
			if tt.err {
				if !errors.Is(err, errtypes.ErrInvalidSpec) {
					t.Fatalf("expected invalid spec error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("spec mismatch (-want +got):\n%s", diff)
			}
			if got.String() != tt.in {
				t.Errorf("String() = %q, want %q", got.String(), tt.in)
			}
		})
	}
}

func TestLinear(t *testing.T) {
	ctx := cpu.New().NewContext()
	ps := ml.NewParams(nil)
	l := NewLinear(ps, "proj", 2, 3, true)
	copy(l.Weight.Data, []float64{1, 0, 0, 1, 1, 1})
	copy(l.Bias.Data, []float64{0.5, -0.5, 0})

	x, err := ctx.FromFloats([]float64{2, 3}, 2)
	if err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff([]float64{2.5, 2.5, 5}, l.Forward(ctx, x).Floats()); diff != "" {
		t.Errorf("forward mismatch (-want +got):\n%s", diff)
	}
	if l.In() != 2 || l.Out() != 3 {
		t.Errorf("got in %d out %d", l.In(), l.Out())
	}
}

func TestEmbeddingMasksNegativeIDs(t *testing.T) {
	ctx := cpu.New().NewContext()
	e := NewEmbedding(ml.NewParams(rand.NewSource(3)), "wordrep", 4, 2)

	out := e.Forward(ctx, []int{1, -1})
	if diff := cmp.Diff([]int{2, 2}, out.Shape()); diff != "" {
		t.Fatalf("shape mismatch (-want +got):\n%s", diff)
	}

	vs := out.Floats()
	w := e.Weight.Data
	if diff := cmp.Diff([]float64{w[1], 0, w[5], 0}, vs); diff != "" {
		t.Errorf("embedding mismatch (-want +got):\n%s", diff)
	}
}

func TestRecurrent(t *testing.T) {
	for _, typ := range []string{"rnn", "lstm"} {
		t.Run(typ, func(t *testing.T) {
			ctx := cpu.New().NewContext()
			spec := Spec{Type: typ, Nodes: 3, Layers: 2}
			r, err := NewRecurrent(ml.NewParams(rand.NewSource(5)), "rnn", spec, 4)
			if err != nil {
				t.Fatal(err)
			}

			state := r.Initial(ctx, 2)
			x, err := ctx.FromFloats([]float64{1, 0, 0, 1, 1, 0, 0, 1}, 4, 2)
			if err != nil {
				t.Fatal(err)
			}

			next := r.Forward(ctx, state, x)
			if len(next) != 2 {
				t.Fatalf("got %d layers", len(next))
			}
			if diff := cmp.Diff([]int{3, 2}, next.Output().Shape()); diff != "" {
				t.Errorf("output shape mismatch (-want +got):\n%s", diff)
			}

			// the input state is left untouched
			for _, v := range state.Output().Floats() {
				if v != 0 {
					t.Fatal("initial state modified")
				}
			}

			// identical columns give identical outputs
			again := r.Forward(ctx, state, x)
			if diff := cmp.Diff(next.Output().Floats(), again.Output().Floats()); diff != "" {
				t.Errorf("forward is not deterministic (-first +second):\n%s", diff)
			}
		})
	}
}
