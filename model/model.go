// Package model holds the recurrent language model and the encoder models
// built around it, behind one interface the ensemble decoder drives.
package model

import (
	"fmt"

	"github.com/attnmt/attnmt/ml"
	"github.com/attnmt/attnmt/ml/nn"
	"github.com/attnmt/attnmt/types/errtypes"
	"github.com/attnmt/attnmt/vocab"
)

type ContextKind int

const (
	NoContext ContextKind = iota
	FixedContext
	AttentionContext
)

func (k ContextKind) String() string {
	switch k {
	case NoContext:
		return "none"
	case FixedContext:
		return "fixed"
	case AttentionContext:
		return "attention"
	default:
		return fmt.Sprintf("ContextKind(%d)", int(k))
	}
}

// ContextProvider supplies the external context for the next step from the
// state before it. The second result is an alignment over source positions
// and is nil for providers without attention.
type ContextProvider interface {
	Kind() ContextKind
	CreateContext(ctx ml.Context, state nn.State) (ml.Tensor, ml.Tensor, error)
}

// Adapter is one member of an ensemble.
type Adapter interface {
	Bind(ctx ml.Context)

	// InitialState prepares the model for src and returns the state before
	// the first word.
	InitialState(ctx ml.Context, src vocab.Sentence) (nn.State, error)

	// Step returns log probabilities over the vocabulary as a [vocab, 1]
	// tensor, and the state after consuming prev.
	Step(ctx ml.Context, state nn.State, prev int32, extern ml.Tensor) (ml.Tensor, nn.State, error)

	// ContextProvider is nil for models without an external context.
	ContextProvider() ContextProvider

	VocabSize() int
}

// Extern queries a's context provider, if any, for the step after state.
func Extern(ctx ml.Context, a Adapter, state nn.State) (ml.Tensor, ml.Tensor, error) {
	p := a.ContextProvider()
	if p == nil {
		return nil, nil, nil
	}
	return p.CreateContext(ctx, state)
}

// CalcLoss is the negative log likelihood of trg followed by the end symbol,
// given src. a must already be bound to ctx.
func CalcLoss(ctx ml.Context, a Adapter, src, trg vocab.Sentence) (float64, error) {
	state, err := a.InitialState(ctx, src)
	if err != nil {
		return 0, err
	}

	var loss float64
	prev := int32(0)
	for _, word := range append(trg.Clone(), 0) {
		if word < 0 || int(word) >= a.VocabSize() {
			return 0, fmt.Errorf("%w: word %d outside vocabulary of %d", errtypes.ErrShapeMismatch, word, a.VocabSize())
		}

		extern, _, err := Extern(ctx, a, state)
		if err != nil {
			return 0, err
		}

		logp, next, err := a.Step(ctx, state, prev, extern)
		if err != nil {
			return 0, err
		}

		loss -= logp.Floats()[word]
		state, prev = next, word
	}

	return loss, nil
}
