package model

import (
	"fmt"
	"io"

	"github.com/attnmt/attnmt/encoder"
	"github.com/attnmt/attnmt/fs/record"
	"github.com/attnmt/attnmt/ml"
	"github.com/attnmt/attnmt/ml/nn"
	"github.com/attnmt/attnmt/types/errtypes"
	"github.com/attnmt/attnmt/vocab"
)

const encdecTag = "encdec_003"

// EncoderDecoder conditions a language model on the final vectors of its
// encoders. The summary seeds the decoder state and is fed again as the
// external context of every step.
type EncoderDecoder struct {
	encoders []*encoder.Encoder
	bridge   *Bridge
	lm       *LM

	session ml.Session
	summary ml.Tensor
}

func NewEncoderDecoder(encoders []*encoder.Encoder, lm *LM, params *ml.Params) (*EncoderDecoder, error) {
	if len(encoders) == 0 {
		return nil, &errtypes.InvalidModelConfigError{Config: encdecTag, Reason: "encoder-decoder needs at least one encoder"}
	}

	var width int
	for _, e := range encoders {
		width += e.HiddenSize()
	}
	if lm.ExternSize() != width {
		return nil, fmt.Errorf("%w: decoder context width %d, encoders produce %d", errtypes.ErrShapeMismatch, lm.ExternSize(), width)
	}

	return &EncoderDecoder{
		encoders: encoders,
		bridge:   NewBridge(params, width, lm.Spec()),
		lm:       lm,
	}, nil
}

func (m *EncoderDecoder) Encoders() []*encoder.Encoder {
	return m.encoders
}

func (m *EncoderDecoder) LM() *LM {
	return m.lm
}

func (m *EncoderDecoder) VocabSize() int {
	return m.lm.VocabSize()
}

func (m *EncoderDecoder) Bind(ctx ml.Context) {
	for _, e := range m.encoders {
		e.Bind(ctx)
	}
	m.lm.Bind(ctx)
	m.session = ctx.Session()
	m.summary = nil
}

func (m *EncoderDecoder) InitialState(ctx ml.Context, src vocab.Sentence) (nn.State, error) {
	if m.session.IsZero() || ctx.Session() != m.session {
		return nil, fmt.Errorf("encoder-decoder: %w", errtypes.ErrContextMismatch)
	}

	finals := make([]ml.Tensor, len(m.encoders))
	for i, e := range m.encoders {
		if _, err := e.Encode(ctx, src); err != nil {
			return nil, err
		}
		finals[i] = e.Final()
	}

	m.summary = ml.Concat(ctx, 0, finals...)
	return m.bridge.Forward(ctx, m.summary)
}

func (m *EncoderDecoder) Step(ctx ml.Context, state nn.State, prev int32, extern ml.Tensor) (ml.Tensor, nn.State, error) {
	return m.lm.Step(ctx, state, prev, extern)
}

func (m *EncoderDecoder) ContextProvider() ContextProvider {
	return (*fixedContext)(m)
}

type fixedContext EncoderDecoder

func (p *fixedContext) Kind() ContextKind {
	return FixedContext
}

func (p *fixedContext) CreateContext(ctx ml.Context, _ nn.State) (ml.Tensor, ml.Tensor, error) {
	if p.session.IsZero() || ctx.Session() != p.session {
		return nil, nil, fmt.Errorf("encoder-decoder: %w", errtypes.ErrContextMismatch)
	}
	if p.summary == nil {
		return nil, nil, fmt.Errorf("encoder-decoder: %w: no source sentence", errtypes.ErrNotInitialized)
	}
	return p.summary, nil, nil
}

func (m *EncoderDecoder) Write(w io.Writer) error {
	if err := record.Write(w, encdecTag, len(m.encoders)); err != nil {
		return err
	}
	for _, e := range m.encoders {
		if err := e.Write(w); err != nil {
			return err
		}
	}
	return m.lm.Write(w)
}

func ReadEncoderDecoder(r *record.Reader, params *ml.Params) (*EncoderDecoder, error) {
	fields, err := r.Record(encdecTag, "EncoderDecoder")
	if err != nil {
		return nil, err
	}

	f := record.NewFields("EncoderDecoder", fields)
	count := f.Count()
	if err := f.Err(); err != nil {
		return nil, err
	}

	encoders := make([]*encoder.Encoder, count)
	for i := range encoders {
		if encoders[i], err = encoder.Read(r, params); err != nil {
			return nil, err
		}
	}

	lm, err := ReadLM(r, params)
	if err != nil {
		return nil, err
	}

	return NewEncoderDecoder(encoders, lm, params)
}
