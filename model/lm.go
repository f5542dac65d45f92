package model

import (
	"fmt"
	"io"

	"github.com/attnmt/attnmt/fs/record"
	"github.com/attnmt/attnmt/ml"
	"github.com/attnmt/attnmt/ml/nn"
	"github.com/attnmt/attnmt/softmax"
	"github.com/attnmt/attnmt/types/errtypes"
	"github.com/attnmt/attnmt/vocab"
)

const lmTag = "nlm_006"

// LM is a recurrent language model. When externSize is non-zero every step
// also consumes an external context vector, which is how the encoder models
// condition it on the source.
type LM struct {
	vocabSize   int
	externSize  int
	wordrepSize int
	spec        nn.Spec
	unkID       int32

	embed   *nn.Embedding
	rnn     nn.Recurrent
	softmax softmax.Provider

	session ml.Session
}

func NewLM(vocabSize, externSize, wordrepSize int, hiddenSpec string, unkID int32, softmaxSig string, params *ml.Params) (*LM, error) {
	spec, err := nn.ParseSpec(hiddenSpec)
	if err != nil {
		return nil, err
	}
	if vocabSize <= 0 || wordrepSize <= 0 || externSize < 0 {
		return nil, &errtypes.InvalidModelConfigError{Config: hiddenSpec, Reason: fmt.Sprintf("bad language model sizes vocab=%d extern=%d wordrep=%d", vocabSize, externSize, wordrepSize)}
	}
	if unkID < -1 || int(unkID) >= vocabSize {
		return nil, &errtypes.InvalidModelConfigError{Config: hiddenSpec, Reason: fmt.Sprintf("unknown word id %d outside vocabulary of %d", unkID, vocabSize)}
	}

	m := &LM{
		vocabSize:   vocabSize,
		externSize:  externSize,
		wordrepSize: wordrepSize,
		spec:        spec,
		unkID:       unkID,
		embed:       nn.NewEmbedding(params, "decoder.wordrep", vocabSize, wordrepSize),
	}

	if m.rnn, err = nn.NewRecurrent(params, "decoder.rnn", spec, wordrepSize+externSize); err != nil {
		return nil, err
	}

	if m.softmax, err = softmax.New(softmaxSig, spec.Nodes, vocabSize, params); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *LM) VocabSize() int {
	return m.vocabSize
}

func (m *LM) ExternSize() int {
	return m.externSize
}

func (m *LM) Spec() nn.Spec {
	return m.spec
}

func (m *LM) Softmax() softmax.Provider {
	return m.softmax
}

func (m *LM) Bind(ctx ml.Context) {
	m.session = ctx.Session()
}

func (m *LM) check(ctx ml.Context) error {
	if m.session.IsZero() || ctx.Session() != m.session {
		return fmt.Errorf("language model: %w", errtypes.ErrContextMismatch)
	}
	return nil
}

// InitialState is the all-zero state. A plain language model ignores src.
func (m *LM) InitialState(ctx ml.Context, src vocab.Sentence) (nn.State, error) {
	if err := m.check(ctx); err != nil {
		return nil, err
	}
	return m.rnn.Initial(ctx, 1), nil
}

// Step feeds prev (and extern, when the model takes one) and returns the
// log probabilities of the next word with the updated state. A nil state
// starts from zero.
func (m *LM) Step(ctx ml.Context, state nn.State, prev int32, extern ml.Tensor) (ml.Tensor, nn.State, error) {
	if err := m.check(ctx); err != nil {
		return nil, nil, err
	}

	word := int(prev)
	if prev < 0 || int(prev) >= m.vocabSize {
		word = int(m.unkID)
	}

	x := m.embed.Forward(ctx, []int{word})
	if m.externSize > 0 {
		if extern == nil {
			return nil, nil, fmt.Errorf("%w: language model needs a context of width %d", errtypes.ErrShapeMismatch, m.externSize)
		}
		if extern.Dim(0) != m.externSize || extern.Dim(1) != 1 {
			return nil, nil, fmt.Errorf("%w: context is %v, language model expects [%d, 1]", errtypes.ErrShapeMismatch, extern.Shape(), m.externSize)
		}
		x = x.Concat(ctx, extern, 0)
	}

	if state == nil {
		state = m.rnn.Initial(ctx, 1)
	}
	if len(state) != m.spec.Layers || state.Output().Dim(0) != m.spec.Nodes {
		return nil, nil, fmt.Errorf("%w: state does not fit %s", errtypes.ErrShapeMismatch, m.spec)
	}

	next := m.rnn.Forward(ctx, state, x)
	return m.softmax.CalcLogProbability(ctx, next.Output()), next, nil
}

func (m *LM) ContextProvider() ContextProvider {
	return nil
}

// CalcLoss is the negative log likelihood of sent followed by the end
// symbol.
func (m *LM) CalcLoss(ctx ml.Context, sent vocab.Sentence) (float64, error) {
	return CalcLoss(ctx, m, nil, sent)
}

func (m *LM) Write(w io.Writer) error {
	return record.Write(w, lmTag, m.vocabSize, m.externSize, m.wordrepSize, m.spec, m.unkID, m.softmax.Sig())
}

func ReadLM(r *record.Reader, params *ml.Params) (*LM, error) {
	fields, err := r.Record(lmTag, "NeuralLM")
	if err != nil {
		return nil, err
	}

	f := record.NewFields("NeuralLM", fields)
	vocabSize, externSize, wordrepSize := f.Dim(), f.Width(), f.Dim()
	spec, unk, sig := f.String(), f.Int(), f.String()
	if err := f.Err(); err != nil {
		return nil, err
	}

	return NewLM(vocabSize, externSize, wordrepSize, spec, int32(unk), sig, params)
}
