// Package encoder runs a recurrent pass over a source sentence and keeps the
// hidden vector of every position.
package encoder

import (
	"fmt"
	"io"

	"github.com/attnmt/attnmt/batch"
	"github.com/attnmt/attnmt/fs/record"
	"github.com/attnmt/attnmt/ml"
	"github.com/attnmt/attnmt/ml/nn"
	"github.com/attnmt/attnmt/types/errtypes"
	"github.com/attnmt/attnmt/vocab"
)

const versionTag = "linenc_001"

type Encoder struct {
	vocabSize   int
	wordrepSize int
	spec        nn.Spec
	unkID       int32
	reverse     bool

	embed *nn.Embedding
	rnn   nn.Recurrent

	session ml.Session
	final   nn.State
}

func New(vocabSize, wordrepSize int, hiddenSpec string, unkID int32, params *ml.Params) (*Encoder, error) {
	spec, err := nn.ParseSpec(hiddenSpec)
	if err != nil {
		return nil, err
	}
	if vocabSize <= 0 || wordrepSize <= 0 {
		return nil, &errtypes.InvalidModelConfigError{Config: hiddenSpec, Reason: fmt.Sprintf("vocabulary %d and word representation %d must be positive", vocabSize, wordrepSize)}
	}
	if unkID < -1 || int(unkID) >= vocabSize {
		return nil, &errtypes.InvalidModelConfigError{Config: hiddenSpec, Reason: fmt.Sprintf("unknown word id %d outside vocabulary of %d", unkID, vocabSize)}
	}

	rnn, err := nn.NewRecurrent(params, "encoder.rnn", spec, wordrepSize)
	if err != nil {
		return nil, err
	}

	return &Encoder{
		vocabSize:   vocabSize,
		wordrepSize: wordrepSize,
		spec:        spec,
		unkID:       unkID,
		embed:       nn.NewEmbedding(params, "encoder.wordrep", vocabSize, wordrepSize),
		rnn:         rnn,
	}, nil
}

func (e *Encoder) SetReverse(reverse bool) {
	e.reverse = reverse
}

func (e *Encoder) Reverse() bool {
	return e.reverse
}

func (e *Encoder) HiddenSize() int {
	return e.spec.Nodes
}

func (e *Encoder) NumLayers() int {
	return e.spec.Layers
}

// Bind attaches the encoder to a computation context. Every later call must
// pass the same context.
func (e *Encoder) Bind(ctx ml.Context) {
	e.session = ctx.Session()
	e.final = nil
}

func (e *Encoder) check(ctx ml.Context) error {
	if e.session.IsZero() || ctx.Session() != e.session {
		return fmt.Errorf("encoder: %w", errtypes.ErrContextMismatch)
	}
	return nil
}

// word maps ids outside the vocabulary to the unknown id, or to -1 (a zero
// embedding) when the encoder has no unknown id.
func (e *Encoder) word(id int32) int {
	if id < 0 || int(id) >= e.vocabSize {
		return int(e.unkID)
	}
	return int(id)
}

// Encode returns one [hidden, 1] tensor per position of src, indexed left to
// right whichever direction the encoder reads in.
func (e *Encoder) Encode(ctx ml.Context, src vocab.Sentence) ([]ml.Tensor, error) {
	if err := e.check(ctx); err != nil {
		return nil, err
	}
	if len(src) == 0 {
		return nil, fmt.Errorf("%w: empty source sentence", errtypes.ErrShapeMismatch)
	}

	states := make([]ml.Tensor, len(src))
	state := e.rnn.Initial(ctx, 1)
	for t := range src {
		pos := t
		if e.reverse {
			pos = len(src) - 1 - t
		}

		x := e.embed.Forward(ctx, []int{e.word(src[pos])})
		state = e.rnn.Forward(ctx, state, x)
		states[pos] = state.Output()
	}

	e.final = state
	return states, nil
}

// EncodeBatch encodes right-padded sentences together. Each position yields a
// [hidden, batch] tensor. Padding positions do not update a sentence's state,
// so every column matches what Encode produces for that sentence alone.
func (e *Encoder) EncodeBatch(ctx ml.Context, srcs []vocab.Sentence) ([]ml.Tensor, error) {
	if err := e.check(ctx); err != nil {
		return nil, err
	}

	padded, err := batch.Pad(srcs)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errtypes.ErrShapeMismatch, err)
	}

	n, size := padded.Len(), padded.Size()
	states := make([]ml.Tensor, n)
	state := e.rnn.Initial(ctx, size)
	for t := range n {
		pos := t
		if e.reverse {
			pos = n - 1 - t
		}

		ids, pads, err := padded.Step(pos)
		if err != nil {
			return nil, err
		}

		words := make([]int, size)
		keep := make([]float64, e.spec.Nodes*size)
		drop := make([]float64, e.spec.Nodes*size)
		for b, id := range ids {
			words[b] = e.word(id)
			for i := range e.spec.Nodes {
				if pads[b] {
					drop[i*size+b] = 1
				} else {
					keep[i*size+b] = 1
				}
			}
		}

		km, err := ctx.FromFloats(keep, e.spec.Nodes, size)
		if err != nil {
			return nil, err
		}
		dm, err := ctx.FromFloats(drop, e.spec.Nodes, size)
		if err != nil {
			return nil, err
		}

		next := e.rnn.Forward(ctx, state, e.embed.Forward(ctx, words))
		state = masked(ctx, km, dm, next, state)
		states[pos] = state.Output()
	}

	e.final = state
	return states, nil
}

// masked takes columns of next where keep is one and of prev where drop is.
func masked(ctx ml.Context, keep, drop ml.Tensor, next, prev nn.State) nn.State {
	out := make(nn.State, len(next))
	for i := range next {
		out[i] = nn.LayerState{
			Cell:   next[i].Cell.Mul(ctx, keep).Add(ctx, prev[i].Cell.Mul(ctx, drop)),
			Hidden: next[i].Hidden.Mul(ctx, keep).Add(ctx, prev[i].Hidden.Mul(ctx, drop)),
		}
	}
	return out
}

// FinalState is the recurrent state after the last position of the most
// recent pass.
func (e *Encoder) FinalState() nn.State {
	return e.final
}

// Final is the top layer's hidden vector after the most recent pass.
func (e *Encoder) Final() ml.Tensor {
	return e.final.Output()
}

func (e *Encoder) Write(w io.Writer) error {
	dir := "for"
	if e.reverse {
		dir = "rev"
	}
	return record.Write(w, versionTag, e.vocabSize, e.wordrepSize, e.spec, e.unkID, dir)
}

func Read(r *record.Reader, params *ml.Params) (*Encoder, error) {
	fields, err := r.Record(versionTag, "LinearEncoder")
	if err != nil {
		return nil, err
	}

	f := record.NewFields("LinearEncoder", fields)
	vocabSize, wordrepSize, spec, unk := f.Dim(), f.Dim(), f.String(), f.Int()
	dir := f.Optional("for")
	if err := f.Err(); err != nil {
		return nil, err
	}

	e, err := New(vocabSize, wordrepSize, spec, int32(unk), params)
	if err != nil {
		return nil, err
	}
	e.SetReverse(dir == "rev")
	return e, nil
}
