// Package ensemble drives several models in lockstep, fusing their
// next-word distributions to search for or score target sentences.
package ensemble

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"

	pq "github.com/emirpasic/gods/v2/queues/priorityqueue"
	"gonum.org/v1/gonum/floats"

	"github.com/attnmt/attnmt/logutil"
	"github.com/attnmt/attnmt/ml"
	"github.com/attnmt/attnmt/ml/nn"
	"github.com/attnmt/attnmt/model"
	"github.com/attnmt/attnmt/types/errtypes"
	"github.com/attnmt/attnmt/vocab"
)

// Config controls search and scoring for every member of an ensemble.
type Config struct {
	// WordPen is added to the score of every emitted word, end symbol
	// included. Negative values favor shorter output.
	WordPen float64
	Op      Op

	BeamSize  int
	SizeLimit int

	// Pad is the number of start symbols of history before the first word.
	Pad int

	EOS   int32
	UnkID int32
}

func DefaultConfig() Config {
	return Config{
		Op:        OpSum,
		BeamSize:  5,
		SizeLimit: 2000,
		Pad:       1,
		EOS:       0,
		UnkID:     -1,
	}
}

func (c Config) validate() error {
	if _, err := ParseOp(string(c.Op)); err != nil {
		return err
	}
	if c.BeamSize <= 0 {
		return &errtypes.InvalidModelConfigError{Config: fmt.Sprint(c.BeamSize), Reason: "beam size must be positive"}
	}
	if c.SizeLimit <= 0 {
		return &errtypes.InvalidModelConfigError{Config: fmt.Sprint(c.SizeLimit), Reason: "size limit must be positive"}
	}
	if c.Pad <= 0 {
		return &errtypes.InvalidModelConfigError{Config: fmt.Sprint(c.Pad), Reason: "pad must be at least one"}
	}
	return nil
}

// Hypothesis is a partial or complete output. States holds one state per
// member in member order.
type Hypothesis struct {
	Score     float64
	LogProb   float64
	States    []nn.State
	Sentence  vocab.Sentence
	Alignment []int

	order int
}

func (h *Hypothesis) last() int32 {
	if len(h.Sentence) == 0 {
		return 0
	}
	return h.Sentence[len(h.Sentence)-1]
}

// compareHypotheses orders by score descending, then length ascending, then
// creation order.
func compareHypotheses(a, b *Hypothesis) int {
	if c := cmp.Compare(b.Score, a.Score); c != 0 {
		return c
	}
	if c := cmp.Compare(len(a.Sentence), len(b.Sentence)); c != 0 {
		return c
	}
	return cmp.Compare(a.order, b.order)
}

// Result is the best hypothesis found by Generate, or one drawn by Sample.
type Result struct {
	// Sentence excludes the end symbol.
	Sentence vocab.Sentence
	// Alignment holds the most attended source position for every emitted
	// word, end symbol included, or -1 when no member attends.
	Alignment []int
	// Score is the search score, word penalties included.
	Score float64
	// LogProb is the fused log likelihood alone.
	LogProb float64
}

// LLStats is the log likelihood of one target sentence with its word and
// unknown word counts, end symbol included.
type LLStats struct {
	LogLik float64
	Words  int
	Unks   int
}

// Decoder searches and scores with a fixed ensemble of models.
type Decoder struct {
	models    []model.Adapter
	cfg       Config
	logger    *slog.Logger
	vocabSize int

	session ml.Session

	// onStep, when set, sees the active hypotheses after every prune.
	onStep func(step int, active []*Hypothesis)
}

// New checks that the members share a vocabulary size and that cfg is
// usable. The decoder must be bound before use.
func New(models []model.Adapter, cfg Config, logger *slog.Logger) (*Decoder, error) {
	if len(models) == 0 {
		return nil, fmt.Errorf("%w: ensemble has no models", errtypes.ErrInvalidSpec)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	size := models[0].VocabSize()
	for i, m := range models[1:] {
		if m.VocabSize() != size {
			return nil, fmt.Errorf("%w: model %d has %d words, model 0 has %d", errtypes.ErrShapeMismatch, i+1, m.VocabSize(), size)
		}
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Decoder{models: models, cfg: cfg, logger: logger, vocabSize: size}, nil
}

func (d *Decoder) Config() Config {
	return d.cfg
}

func (d *Decoder) VocabSize() int {
	return d.vocabSize
}

// Bind attaches every member to ctx. Generate, CalcSentLL and Sample must be
// called with the same context.
func (d *Decoder) Bind(ctx ml.Context) {
	for _, m := range d.models {
		m.Bind(ctx)
	}
	d.session = ctx.Session()
}

func (d *Decoder) check(ctx ml.Context) error {
	if d.session.IsZero() || ctx.Session() != d.session {
		return fmt.Errorf("ensemble: %w", errtypes.ErrContextMismatch)
	}
	return nil
}

// initial computes every member's state for src and runs the priming steps
// for the extra start symbols of history.
func (d *Decoder) initial(ctx ml.Context, src vocab.Sentence) ([]nn.State, error) {
	states := make([]nn.State, len(d.models))
	for k, m := range d.models {
		state, err := m.InitialState(ctx, src)
		if err != nil {
			return nil, err
		}

		for range d.cfg.Pad - 1 {
			extern, _, err := model.Extern(ctx, m, state)
			if err != nil {
				return nil, err
			}
			if _, state, err = m.Step(ctx, state, 0, extern); err != nil {
				return nil, err
			}
		}
		states[k] = state
	}
	return states, nil
}

// step advances every member from states after prev. It returns the fused
// log probabilities, the new states and the most attended source position.
func (d *Decoder) step(ctx ml.Context, states []nn.State, prev int32) ([]float64, []nn.State, int, error) {
	dists := make([][]float64, len(d.models))
	next := make([]nn.State, len(d.models))
	var align []float64
	for k, m := range d.models {
		extern, a, err := model.Extern(ctx, m, states[k])
		if err != nil {
			return nil, nil, 0, err
		}
		if a != nil {
			if align == nil {
				align = a.Floats()
			} else if vs := a.Floats(); len(vs) == len(align) {
				floats.Add(align, vs)
			}
		}

		logp, state, err := m.Step(ctx, states[k], prev, extern)
		if err != nil {
			return nil, nil, 0, err
		}
		dists[k], next[k] = logp.Floats(), state
	}

	fused, err := d.cfg.Op.Fuse(dists)
	if err != nil {
		return nil, nil, 0, err
	}

	pos := -1
	if align != nil {
		pos = floats.MaxIdx(align)
	}
	return fused, next, pos, nil
}

type candidate struct {
	word int
	logp float64
}

// topK returns the k most likely words, ties going to the lower id.
func topK(logp []float64, k int) []candidate {
	q := pq.NewWith(func(a, b candidate) int {
		if c := cmp.Compare(b.logp, a.logp); c != 0 {
			return c
		}
		return cmp.Compare(a.word, b.word)
	})
	for i, v := range logp {
		q.Enqueue(candidate{word: i, logp: v})
	}

	out := make([]candidate, 0, k)
	for range min(k, len(logp)) {
		c, _ := q.Dequeue()
		out = append(out, c)
	}
	return out
}

// Generate runs beam search for src and returns the best completed
// hypothesis.
func (d *Decoder) Generate(ctx ml.Context, src vocab.Sentence) (*Result, error) {
	if err := d.check(ctx); err != nil {
		return nil, err
	}

	states, err := d.initial(ctx, src)
	if err != nil {
		return nil, err
	}

	var order int
	active := []*Hypothesis{{States: states}}
	var completed []*Hypothesis

	step := 0
	for ; len(active) > 0 && step < d.cfg.SizeLimit; step++ {
		var candidates []*Hypothesis
		for _, h := range active {
			fused, next, pos, err := d.step(ctx, h.States, h.last())
			if err != nil {
				return nil, err
			}

			for _, c := range topK(fused, d.cfg.BeamSize) {
				if math.IsInf(c.logp, -1) {
					continue
				}

				score := h.Score + c.logp + d.cfg.WordPen
				if math.IsNaN(score) || math.IsInf(score, 0) {
					return nil, fmt.Errorf("%w: hypothesis score %v at step %d", errtypes.ErrNonFinite, score, step)
				}

				candidates = append(candidates, &Hypothesis{
					Score:     score,
					LogProb:   h.LogProb + c.logp,
					States:    next,
					Sentence:  append(h.Sentence.Clone(), int32(c.word)),
					Alignment: append(slices.Clip(h.Alignment), pos),
					order:     order,
				})
				order++
			}
		}

		slices.SortStableFunc(candidates, compareHypotheses)
		if len(candidates) > d.cfg.BeamSize {
			candidates = candidates[:d.cfg.BeamSize]
		}

		active = nil
		for _, c := range candidates {
			if c.last() == d.cfg.EOS || len(c.Sentence) >= d.cfg.SizeLimit {
				completed = append(completed, c)
			} else {
				active = append(active, c)
			}
		}

		if d.onStep != nil {
			d.onStep(step, active)
		}
		d.logger.Log(context.TODO(), logutil.LevelTrace, "beam step", "step", step, "active", len(active), "completed", len(completed))

		// with no positive penalty a score can only fall, so nothing active
		// can overtake the best completed hypothesis
		if d.cfg.WordPen <= 0 && len(completed) > 0 && len(active) > 0 {
			best := slices.MinFunc(completed, compareHypotheses)
			if slices.IndexFunc(active, func(h *Hypothesis) bool { return h.Score > best.Score }) < 0 {
				step++
				break
			}
		}
	}

	completed = append(completed, active...)
	if len(completed) == 0 {
		return nil, fmt.Errorf("%w: no hypothesis with finite score", errtypes.ErrNonFinite)
	}

	best := slices.MinFunc(completed, compareHypotheses)
	d.logger.Debug("generated", "beam", d.cfg.BeamSize, "steps", step, "completed", len(completed), "score", best.Score)

	sent := best.Sentence
	if len(sent) > 0 && sent[len(sent)-1] == d.cfg.EOS {
		sent = sent[:len(sent)-1]
	}

	return &Result{
		Sentence:  sent.Clone(),
		Alignment: slices.Clone(best.Alignment),
		Score:     best.Score,
		LogProb:   best.LogProb,
	}, nil
}

// CalcSentLL scores trg followed by the end symbol under the fused
// distribution, without search.
func (d *Decoder) CalcSentLL(ctx ml.Context, src, trg vocab.Sentence) (LLStats, error) {
	if err := d.check(ctx); err != nil {
		return LLStats{}, err
	}

	states, err := d.initial(ctx, src)
	if err != nil {
		return LLStats{}, err
	}

	var stats LLStats
	prev := int32(0)
	for _, word := range append(trg.Clone(), d.cfg.EOS) {
		if word < 0 || int(word) >= d.vocabSize {
			return LLStats{}, fmt.Errorf("%w: word %d outside vocabulary of %d", errtypes.ErrShapeMismatch, word, d.vocabSize)
		}

		fused, next, _, err := d.step(ctx, states, prev)
		if err != nil {
			return LLStats{}, err
		}

		stats.LogLik += fused[word]
		if math.IsNaN(stats.LogLik) || math.IsInf(stats.LogLik, 0) {
			return LLStats{}, fmt.Errorf("%w: log likelihood %v at word %d", errtypes.ErrNonFinite, stats.LogLik, stats.Words)
		}

		stats.Words++
		if word == d.cfg.UnkID {
			stats.Unks++
		}
		states, prev = next, word
	}

	return stats, nil
}
