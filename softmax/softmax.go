// Package softmax turns hidden vectors into distributions over words.
package softmax

import (
	"fmt"
	"strings"

	"github.com/attnmt/attnmt/ml"
	"github.com/attnmt/attnmt/ml/nn"
	"github.com/attnmt/attnmt/types/errtypes"
)

type Provider interface {
	Sig() string
	InputSize() int

	// CalcLoss is the negative log probability of word.
	CalcLoss(ctx ml.Context, in ml.Tensor, word int32) (float64, error)
	CalcProbability(ctx ml.Context, in ml.Tensor) ml.Tensor
	CalcLogProbability(ctx ml.Context, in ml.Tensor) ml.Tensor
}

// New creates the provider named by sig. Only the full softmax is built
// here; class-factored and mixture signatures are recognized and rejected.
func New(sig string, inputSize, vocabSize int, params *ml.Params) (Provider, error) {
	switch {
	case sig == "full":
		return &Full{sig: sig, out: nn.NewLinear(params, "softmax", inputSize, vocabSize, true)}, nil
	case strings.HasPrefix(sig, "class"), strings.HasPrefix(sig, "mod"):
		return nil, fmt.Errorf("%w: softmax %q", errtypes.ErrUnsupported, sig)
	default:
		return nil, &errtypes.InvalidModelConfigError{Config: sig, Reason: "bad softmax signature"}
	}
}

type Full struct {
	sig string
	out *nn.Linear
}

func (s *Full) Sig() string {
	return s.sig
}

func (s *Full) InputSize() int {
	return s.out.In()
}

func (s *Full) VocabSize() int {
	return s.out.Out()
}

func (s *Full) CalcLoss(ctx ml.Context, in ml.Tensor, word int32) (float64, error) {
	if word < 0 || int(word) >= s.VocabSize() {
		return 0, fmt.Errorf("%w: word %d outside vocabulary of %d", errtypes.ErrShapeMismatch, word, s.VocabSize())
	}

	return -s.CalcLogProbability(ctx, in).Floats()[word], nil
}

func (s *Full) CalcProbability(ctx ml.Context, in ml.Tensor) ml.Tensor {
	return s.out.Forward(ctx, in).Softmax(ctx)
}

func (s *Full) CalcLogProbability(ctx ml.Context, in ml.Tensor) ml.Tensor {
	return s.out.Forward(ctx, in).LogSoftmax(ctx)
}
