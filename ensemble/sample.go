package ensemble

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/sampleuv"

	"github.com/attnmt/attnmt/ml"
	"github.com/attnmt/attnmt/types/errtypes"
	"github.com/attnmt/attnmt/vocab"
)

// Sample draws n sentences for src from the fused distribution, one word at
// a time. rng supplies all randomness; a nil rng uses the global source.
func (d *Decoder) Sample(ctx ml.Context, src vocab.Sentence, n int, rng rand.Source) ([]*Result, error) {
	if err := d.check(ctx); err != nil {
		return nil, err
	}

	initial, err := d.initial(ctx, src)
	if err != nil {
		return nil, err
	}

	results := make([]*Result, 0, n)
	probs := make([]float64, d.vocabSize)
	for range n {
		states := initial
		r := &Result{}
		prev := int32(0)
		for len(r.Alignment) < d.cfg.SizeLimit {
			fused, next, pos, err := d.step(ctx, states, prev)
			if err != nil {
				return nil, err
			}

			for i, v := range fused {
				probs[i] = math.Exp(v)
			}

			word, ok := sampleuv.NewWeighted(probs, rng).Take()
			if !ok {
				return nil, fmt.Errorf("%w: empty distribution", errtypes.ErrNonFinite)
			}

			r.LogProb += fused[word]
			r.Score += fused[word] + d.cfg.WordPen
			r.Alignment = append(r.Alignment, pos)
			if int32(word) == d.cfg.EOS {
				break
			}

			r.Sentence = append(r.Sentence, int32(word))
			states, prev = next, int32(word)
		}

		if math.IsNaN(r.Score) || math.IsInf(r.Score, 0) {
			return nil, fmt.Errorf("%w: sample score %v", errtypes.ErrNonFinite, r.Score)
		}
		results = append(results, r)
	}

	d.logger.Debug("sampled", "samples", n)
	return results, nil
}
