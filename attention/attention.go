// Package attention scores encoded source positions against a decoder state
// and summarizes them into a context vector.
package attention

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/attnmt/attnmt/encoder"
	"github.com/attnmt/attnmt/fs/record"
	"github.com/attnmt/attnmt/logutil"
	"github.com/attnmt/attnmt/ml"
	"github.com/attnmt/attnmt/ml/nn"
	"github.com/attnmt/attnmt/types/errtypes"
	"github.com/attnmt/attnmt/vocab"
)

// MaxSourceLength bounds the number of encoded positions. Longer sources are
// rejected rather than truncated.
const MaxSourceLength = 512

const versionTag = "extatt_002"

type kind int

const (
	kindDot kind = iota
	kindBilinear
	kindMLP
)

// Scorer attends over the concatenated outputs of its encoders for one
// sentence or batch at a time.
type Scorer struct {
	encoders    []*encoder.Encoder
	typ         string
	kind        kind
	hidden      int
	stateSize   int
	contextSize int

	// bilinear
	w *nn.Linear

	// mlp
	w1 *nn.Linear
	w2 *nn.Linear
	v  *nn.Linear

	session ml.Session

	// per sentence, one entry per batch column
	enc     []ml.Tensor
	proj    []ml.Tensor
	lengths []int
	maxLen  int
	last    ml.Tensor
}

func parseType(s string) (kind, int, error) {
	switch {
	case s == "dot":
		return kindDot, 0, nil
	case s == "bilin":
		return kindBilinear, 0, nil
	case strings.HasPrefix(s, "mlp:"):
		h, err := strconv.Atoi(strings.TrimPrefix(s, "mlp:"))
		if err != nil || h <= 0 {
			return 0, 0, &errtypes.InvalidModelConfigError{Config: s, Reason: "mlp hidden size must be a positive integer"}
		}
		return kindMLP, h, nil
	default:
		return 0, 0, &errtypes.InvalidModelConfigError{Config: s, Reason: "attention type must be dot, bilin or mlp:<hidden>"}
	}
}

// New creates a scorer over the outputs of encoders for decoder states of
// width stateSize.
func New(encoders []*encoder.Encoder, attentionType string, stateSize int, params *ml.Params) (*Scorer, error) {
	k, hidden, err := parseType(attentionType)
	if err != nil {
		return nil, err
	}
	if len(encoders) == 0 {
		return nil, &errtypes.InvalidModelConfigError{Config: attentionType, Reason: "attention needs at least one encoder"}
	}
	if stateSize <= 0 {
		return nil, &errtypes.InvalidModelConfigError{Config: attentionType, Reason: fmt.Sprintf("state size %d must be positive", stateSize)}
	}

	s := &Scorer{
		encoders:  encoders,
		typ:       attentionType,
		kind:      k,
		hidden:    hidden,
		stateSize: stateSize,
	}
	for _, e := range encoders {
		s.contextSize += e.HiddenSize()
	}

	switch k {
	case kindDot:
		if stateSize != s.contextSize {
			return nil, &errtypes.InvalidModelConfigError{Config: attentionType, Reason: fmt.Sprintf("dot attention needs state size %d to equal context size %d", stateSize, s.contextSize)}
		}
	case kindBilinear:
		s.w = nn.NewLinear(params, "attention.w", s.contextSize, stateSize, false)
	case kindMLP:
		s.w1 = nn.NewLinear(params, "attention.w1", s.contextSize, hidden, false)
		s.w2 = nn.NewLinear(params, "attention.w2", stateSize, hidden, true)
		s.v = nn.NewLinear(params, "attention.v", hidden, 1, false)
	}

	return s, nil
}

func (s *Scorer) Type() string {
	return s.typ
}

// ContextSize is the width of the context vector, the sum of the encoders'
// hidden sizes.
func (s *Scorer) ContextSize() int {
	return s.contextSize
}

func (s *Scorer) StateSize() int {
	return s.stateSize
}

func (s *Scorer) Encoders() []*encoder.Encoder {
	return s.encoders
}

// Bind attaches the scorer and its encoders to ctx and drops any sentence
// state from an earlier context.
func (s *Scorer) Bind(ctx ml.Context) {
	for _, e := range s.encoders {
		e.Bind(ctx)
	}
	s.session = ctx.Session()
	s.enc, s.proj, s.lengths, s.last = nil, nil, nil, nil
}

func (s *Scorer) check(ctx ml.Context) error {
	if s.session.IsZero() || ctx.Session() != s.session {
		return fmt.Errorf("attention: %w", errtypes.ErrContextMismatch)
	}
	return nil
}

func (s *Scorer) InitializeSentence(ctx ml.Context, src vocab.Sentence) error {
	if err := s.check(ctx); err != nil {
		return err
	}

	outputs := make([][]ml.Tensor, len(s.encoders))
	for i, e := range s.encoders {
		states, err := e.Encode(ctx, src)
		if err != nil {
			return err
		}
		outputs[i] = states
	}

	return s.build(ctx, outputs, []int{len(src)})
}

// InitializeBatch encodes several sentences at once. Positions past the end of
// a shorter sentence never receive attention.
func (s *Scorer) InitializeBatch(ctx ml.Context, srcs []vocab.Sentence) error {
	if err := s.check(ctx); err != nil {
		return err
	}

	outputs := make([][]ml.Tensor, len(s.encoders))
	for i, e := range s.encoders {
		states, err := e.EncodeBatch(ctx, srcs)
		if err != nil {
			return err
		}
		outputs[i] = states
	}

	lengths := make([]int, len(srcs))
	for i, src := range srcs {
		lengths[i] = len(src)
	}
	return s.build(ctx, outputs, lengths)
}

func (s *Scorer) build(ctx ml.Context, outputs [][]ml.Tensor, lengths []int) error {
	n := len(outputs[0])
	for i, states := range outputs[1:] {
		if len(states) != n {
			return fmt.Errorf("%w: encoder %d produced %d positions, encoder 0 produced %d", errtypes.ErrShapeMismatch, i+1, len(states), n)
		}
	}
	if n >= MaxSourceLength {
		return fmt.Errorf("%w: %d source positions, limit is %d", errtypes.ErrOversized, n, MaxSourceLength)
	}

	// columns[t] is position t of every encoder stacked, [contextSize, batch]
	columns := make([]ml.Tensor, n)
	for t := range n {
		parts := make([]ml.Tensor, len(outputs))
		for i := range outputs {
			parts[i] = outputs[i][t]
		}
		columns[t] = ml.Concat(ctx, 0, parts...)
	}

	s.enc = make([]ml.Tensor, len(lengths))
	s.proj = make([]ml.Tensor, len(lengths))
	for b, length := range lengths {
		if length == 0 {
			return fmt.Errorf("%w: empty source sentence %d", errtypes.ErrShapeMismatch, b)
		}

		cols := make([]ml.Tensor, length)
		for t := range length {
			cols[t] = columns[t].Column(ctx, b)
		}

		h := ml.Concat(ctx, 1, cols...)
		s.enc[b] = h

		switch s.kind {
		case kindDot:
			s.proj[b] = h.Transpose(ctx)
		case kindBilinear:
			s.proj[b] = s.w.Forward(ctx, h).Transpose(ctx)
		case kindMLP:
			s.proj[b] = s.w1.Forward(ctx, h)
		}
	}

	finals := make([]ml.Tensor, len(s.encoders))
	for i, e := range s.encoders {
		finals[i] = e.Final()
	}
	s.last = ml.Concat(ctx, 0, finals...)
	s.lengths = lengths
	s.maxLen = n
	return nil
}

// LastState is the final vector of every encoder stacked, [contextSize, batch].
func (s *Scorer) LastState() ml.Tensor {
	return s.last
}

// CreateContext returns the context vector and the alignment over source
// positions for the top layer of state. An empty state scores positions
// without a decoder term. In batch mode the results have one column per
// sentence and the alignment has one row per padded position.
func (s *Scorer) CreateContext(ctx ml.Context, state nn.State) (ml.Tensor, ml.Tensor, error) {
	if err := s.check(ctx); err != nil {
		return nil, nil, err
	}
	if s.enc == nil {
		return nil, nil, fmt.Errorf("attention: %w: no source sentence", errtypes.ErrNotInitialized)
	}

	top := state.Output()
	if top != nil {
		if top.Dim(0) != s.stateSize {
			return nil, nil, fmt.Errorf("%w: decoder state width %d, attention expects %d", errtypes.ErrShapeMismatch, top.Dim(0), s.stateSize)
		}
		if top.Dim(1) != len(s.enc) {
			return nil, nil, fmt.Errorf("%w: decoder state has %d columns, source batch has %d", errtypes.ErrShapeMismatch, top.Dim(1), len(s.enc))
		}
	}

	contexts := make([]ml.Tensor, len(s.enc))
	alignments := make([]ml.Tensor, len(s.enc))
	for b := range s.enc {
		var col ml.Tensor
		if top != nil {
			col = top.Column(ctx, b)
		}

		align := s.score(ctx, b, col).Softmax(ctx)
		contexts[b] = s.enc[b].Mulmat(ctx, align)

		if pad := s.maxLen - s.lengths[b]; pad > 0 {
			align = align.Concat(ctx, ctx.Zeros(pad, 1), 0)
		}
		alignments[b] = align
	}

	out := ml.Concat(ctx, 1, contexts...)
	alignment := ml.Concat(ctx, 1, alignments...)
	if slog.Default().Enabled(context.TODO(), logutil.LevelTrace) {
		logutil.Trace("attention", "type", s.typ, "alignment", ml.Dump(alignment))
	}
	return out, alignment, nil
}

// score returns [length, 1] logits for column b. A nil state drops the
// decoder term.
func (s *Scorer) score(ctx ml.Context, b int, state ml.Tensor) ml.Tensor {
	switch s.kind {
	case kindMLP:
		var pre ml.Tensor
		if state != nil {
			pre = s.proj[b].Add(ctx, s.w2.Forward(ctx, state))
		} else {
			pre = s.proj[b].Add(ctx, ctx.Param(s.w2.Bias))
		}
		return s.v.Forward(ctx, pre.Tanh(ctx)).Transpose(ctx)
	default:
		if state == nil {
			return ctx.Zeros(s.lengths[b], 1)
		}
		return s.proj[b].Mulmat(ctx, state)
	}
}

func (s *Scorer) Write(w io.Writer) error {
	if err := record.Write(w, versionTag, len(s.encoders), s.typ, s.stateSize); err != nil {
		return err
	}
	for _, e := range s.encoders {
		if err := e.Write(w); err != nil {
			return err
		}
	}
	return nil
}

func Read(r *record.Reader, params *ml.Params) (*Scorer, error) {
	fields, err := r.Record(versionTag, "ExternAttentional")
	if err != nil {
		return nil, err
	}

	f := record.NewFields("ExternAttentional", fields)
	count, typ, stateSize := f.Count(), f.String(), f.Dim()
	if err := f.Err(); err != nil {
		return nil, err
	}

	encoders := make([]*encoder.Encoder, count)
	for i := range encoders {
		if encoders[i], err = encoder.Read(r, params); err != nil {
			return nil, err
		}
	}

	return New(encoders, typ, stateSize, params)
}
