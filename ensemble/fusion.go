package ensemble

import (
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"

	"github.com/attnmt/attnmt/types/errtypes"
)

// Op is how the members' distributions are combined.
type Op string

const (
	// OpSum averages probabilities.
	OpSum Op = "sum"
	// OpLogSum averages log probabilities, a normalized geometric mean.
	OpLogSum Op = "logsum"
)

func ParseOp(s string) (Op, error) {
	switch op := Op(s); op {
	case OpSum, OpLogSum:
		return op, nil
	default:
		return "", &errtypes.InvalidModelConfigError{Config: s, Reason: "ensemble operation must be sum or logsum"}
	}
}

// Fuse combines per-member log probability vectors into one normalized log
// probability vector. A single member is returned as a copy.
func (op Op) Fuse(dists [][]float64) ([]float64, error) {
	if len(dists) == 0 {
		return nil, fmt.Errorf("%w: nothing to fuse", errtypes.ErrShapeMismatch)
	}

	n := len(dists[0])
	for _, d := range dists[1:] {
		if len(d) != n {
			return nil, fmt.Errorf("%w: distributions over %d and %d words", errtypes.ErrShapeMismatch, n, len(d))
		}
	}

	var fused []float64
	switch {
	case len(dists) == 1:
		fused = slices.Clone(dists[0])
	case op == OpSum:
		fused = make([]float64, n)
		col := make([]float64, len(dists))
		for i := range fused {
			for k, d := range dists {
				col[k] = d[i]
			}
			fused[i] = floats.LogSumExp(col) - math.Log(float64(len(dists)))
		}
	case op == OpLogSum:
		fused = make([]float64, n)
		for _, d := range dists {
			floats.Add(fused, d)
		}
		floats.Scale(1/float64(len(dists)), fused)
	default:
		return nil, fmt.Errorf("%w: ensemble operation %q", errtypes.ErrUnsupported, op)
	}

	if len(dists) > 1 {
		floats.AddConst(-floats.LogSumExp(fused), fused)
	}

	for _, v := range fused {
		if math.IsNaN(v) || math.IsInf(v, 1) {
			return nil, fmt.Errorf("%w: fused distribution contains %v", errtypes.ErrNonFinite, v)
		}
	}
	return fused, nil
}
