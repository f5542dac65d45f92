package softmax

import (
	"errors"
	"math"
	"testing"

	"golang.org/x/exp/rand"

	"github.com/attnmt/attnmt/ml"
	"github.com/attnmt/attnmt/ml/backend/cpu"
	"github.com/attnmt/attnmt/types/errtypes"
)

func TestFull(t *testing.T) {
	ctx := cpu.New().NewContext()
	p, err := New("full", 3, 5, ml.NewParams(rand.NewSource(2)))
	if err != nil {
		t.Fatal(err)
	}

	if p.Sig() != "full" || p.InputSize() != 3 {
		t.Fatalf("got sig %q input %d", p.Sig(), p.InputSize())
	}

	in, err := ctx.FromFloats([]float64{0.5, -1, 2}, 3)
	if err != nil {
		t.Fatal(err)
	}

	probs := p.CalcProbability(ctx, in).Floats()
	logp := p.CalcLogProbability(ctx, in).Floats()
	if len(probs) != 5 || len(logp) != 5 {
		t.Fatalf("got %d probabilities and %d log probabilities", len(probs), len(logp))
	}

	var sum float64
	for i, v := range probs {
		sum += v
		if math.Abs(math.Log(v)-logp[i]) > 1e-9 {
			t.Errorf("word %d: log(%v) != %v", i, v, logp[i])
		}
	}
	if math.Abs(sum-1) > 1e-12 {
		t.Errorf("probabilities sum to %v", sum)
	}

	loss, err := p.CalcLoss(ctx, in, 3)
	if err != nil {
		t.Fatal(err)
	}
	if loss != -logp[3] {
		t.Errorf("loss %v, want %v", loss, -logp[3])
	}

	if _, err := p.CalcLoss(ctx, in, 5); !errors.Is(err, errtypes.ErrShapeMismatch) {
		t.Errorf("expected shape mismatch, got %v", err)
	}
}

func TestSignatures(t *testing.T) {
	cases := []struct {
		sig  string
		want error
	}{
		{"class:classes.txt", errtypes.ErrUnsupported},
		{"mod:full|full", errtypes.ErrUnsupported},
		{"hinge", errtypes.ErrInvalidSpec},
	}

	for _, tt := range cases {
		t.Run(tt.sig, func(t *testing.T) {
			if _, err := New(tt.sig, 3, 5, ml.NewParams(nil)); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}
