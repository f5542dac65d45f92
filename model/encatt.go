package model

import (
	"fmt"
	"io"

	"github.com/attnmt/attnmt/attention"
	"github.com/attnmt/attnmt/fs/record"
	"github.com/attnmt/attnmt/ml"
	"github.com/attnmt/attnmt/ml/nn"
	"github.com/attnmt/attnmt/types/errtypes"
	"github.com/attnmt/attnmt/vocab"
)

const encattTag = "encatt_001"

// EncoderAttentional feeds the language model a fresh attention context at
// every step. The decoder starts from the bridged final encoder vectors.
type EncoderAttentional struct {
	scorer *attention.Scorer
	bridge *Bridge
	lm     *LM
}

func NewEncoderAttentional(scorer *attention.Scorer, lm *LM, params *ml.Params) (*EncoderAttentional, error) {
	if lm.ExternSize() != scorer.ContextSize() {
		return nil, fmt.Errorf("%w: decoder context width %d, attention produces %d", errtypes.ErrShapeMismatch, lm.ExternSize(), scorer.ContextSize())
	}
	if lm.Spec().Nodes != scorer.StateSize() {
		return nil, fmt.Errorf("%w: decoder state width %d, attention expects %d", errtypes.ErrShapeMismatch, lm.Spec().Nodes, scorer.StateSize())
	}

	return &EncoderAttentional{
		scorer: scorer,
		bridge: NewBridge(params, scorer.ContextSize(), lm.Spec()),
		lm:     lm,
	}, nil
}

func (m *EncoderAttentional) Scorer() *attention.Scorer {
	return m.scorer
}

func (m *EncoderAttentional) LM() *LM {
	return m.lm
}

func (m *EncoderAttentional) VocabSize() int {
	return m.lm.VocabSize()
}

func (m *EncoderAttentional) Bind(ctx ml.Context) {
	m.scorer.Bind(ctx)
	m.lm.Bind(ctx)
}

func (m *EncoderAttentional) InitialState(ctx ml.Context, src vocab.Sentence) (nn.State, error) {
	if err := m.scorer.InitializeSentence(ctx, src); err != nil {
		return nil, err
	}
	return m.bridge.Forward(ctx, m.scorer.LastState())
}

func (m *EncoderAttentional) Step(ctx ml.Context, state nn.State, prev int32, extern ml.Tensor) (ml.Tensor, nn.State, error) {
	return m.lm.Step(ctx, state, prev, extern)
}

func (m *EncoderAttentional) ContextProvider() ContextProvider {
	return attentionContext{m.scorer}
}

type attentionContext struct {
	*attention.Scorer
}

func (attentionContext) Kind() ContextKind {
	return AttentionContext
}

func (m *EncoderAttentional) Write(w io.Writer) error {
	if err := record.Write(w, encattTag); err != nil {
		return err
	}
	if err := m.scorer.Write(w); err != nil {
		return err
	}
	return m.lm.Write(w)
}

func ReadEncoderAttentional(r *record.Reader, params *ml.Params) (*EncoderAttentional, error) {
	if _, err := r.Record(encattTag, "EncoderAttentional"); err != nil {
		return nil, err
	}

	scorer, err := attention.Read(r, params)
	if err != nil {
		return nil, err
	}

	lm, err := ReadLM(r, params)
	if err != nil {
		return nil, err
	}

	return NewEncoderAttentional(scorer, lm, params)
}
