// Package batch groups sentences into padded minibatches.
package batch

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/pdevine/tensor"

	"github.com/attnmt/attnmt/vocab"
)

// PadID fills positions past the end of a shorter sentence.
const PadID int32 = 0

// Padded is a [maxLen, batch] tensor of token ids, right-padded with PadID,
// plus the true length of each sentence.
type Padded struct {
	ids     *tensor.Dense
	lengths []int
}

func Pad(sents []vocab.Sentence) (*Padded, error) {
	if len(sents) == 0 {
		return nil, fmt.Errorf("batch: no sentences")
	}

	maxLen := 0
	lengths := make([]int, len(sents))
	for i, s := range sents {
		lengths[i] = len(s)
		maxLen = max(maxLen, len(s))
	}
	if maxLen == 0 {
		return nil, fmt.Errorf("batch: all sentences are empty")
	}

	backing := make([]int32, maxLen*len(sents))
	for b, s := range sents {
		for t := range maxLen {
			id := PadID
			if t < len(s) {
				id = s[t]
			}
			backing[t*len(sents)+b] = id
		}
	}

	return &Padded{
		ids:     tensor.New(tensor.WithShape(maxLen, len(sents)), tensor.WithBacking(backing)),
		lengths: lengths,
	}, nil
}

func (p *Padded) Len() int {
	return p.ids.Shape()[0]
}

func (p *Padded) Size() int {
	return p.ids.Shape()[1]
}

// Lengths returns the unpadded length of every sentence.
func (p *Padded) Lengths() []int {
	return p.lengths
}

// Step returns the ids at position t for every sentence in the batch, and
// whether each one is padding.
func (p *Padded) Step(t int) ([]int32, []bool, error) {
	ids := make([]int32, p.Size())
	padded := make([]bool, p.Size())
	for b := range ids {
		v, err := p.ids.At(t, b)
		if err != nil {
			return nil, nil, err
		}
		ids[b] = v.(int32)
		padded[b] = t >= p.lengths[b]
	}
	return ids, padded, nil
}

// Buckets orders sentence indices longest first and cuts them into batches of
// at most maxWords tokens (and at least one sentence each). Longest-first
// keeps similar lengths together, which keeps padding small.
func Buckets(sents []vocab.Sentence, maxWords int) [][]int {
	order := make([]int, len(sents))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		return cmp.Compare(len(sents[b]), len(sents[a]))
	})

	var buckets [][]int
	var cur []int
	var words int
	for _, i := range order {
		n := max(len(sents[i]), 1)
		if len(cur) > 0 && words+n > maxWords {
			buckets = append(buckets, cur)
			cur, words = nil, 0
		}
		cur = append(cur, i)
		words += n
	}
	if len(cur) > 0 {
		buckets = append(buckets, cur)
	}
	return buckets
}
