package nn

import "github.com/attnmt/attnmt/ml"

// Embedding stores one column per word.
type Embedding struct {
	Weight *ml.Param
}

func NewEmbedding(params *ml.Params, name string, vocabSize, dim int) *Embedding {
	return &Embedding{Weight: params.Add(name+".weight", dim, vocabSize)}
}

func (m *Embedding) VocabSize() int {
	return m.Weight.Cols
}

func (m *Embedding) Dim() int {
	return m.Weight.Rows
}

// Forward returns a [dim, len(ids)] tensor. Negative ids produce zero
// columns, which is how padding is masked.
func (m *Embedding) Forward(ctx ml.Context, ids []int) ml.Tensor {
	return ctx.Param(m.Weight).Columns(ctx, ids)
}
