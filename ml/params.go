package ml

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// Param is a trainable matrix stored row-major.
type Param struct {
	Name string
	Rows int
	Cols int
	Data []float64
}

func (p *Param) Size() int {
	return p.Rows * p.Cols
}

// Params holds the parameters of one model in creation order. Models built
// from the same records create their parameters in the same order, which is
// what lets a parameter block be read back positionally.
type Params struct {
	params []*Param
	names  map[string]int
	src    rand.Source
}

// NewParams creates an empty parameter store. New parameters are drawn from
// a Glorot uniform distribution over src; a nil src leaves them zero, which
// is what readers want before the values are loaded.
func NewParams(src rand.Source) *Params {
	return &Params{
		names: make(map[string]int),
		src:   src,
	}
}

// Add registers a new rows x cols parameter. Repeated names get a numeric
// suffix so every parameter name in a store is unique.
func (ps *Params) Add(name string, rows, cols int) *Param {
	if rows <= 0 || cols <= 0 {
		panic(fmt.Errorf("params: invalid shape [%d, %d] for %s", rows, cols, name))
	}

	unique := name
	if n, ok := ps.names[name]; ok {
		unique = fmt.Sprintf("%s#%d", name, n)
		ps.names[name] = n + 1
	} else {
		ps.names[name] = 1
	}

	p := &Param{Name: unique, Rows: rows, Cols: cols, Data: make([]float64, rows*cols)}
	if ps.src != nil {
		bound := math.Sqrt(6 / float64(rows+cols))
		dist := distuv.Uniform{Min: -bound, Max: bound, Src: ps.src}
		for i := range p.Data {
			p.Data[i] = dist.Rand()
		}
	}

	ps.params = append(ps.params, p)
	return p
}

func (ps *Params) All() []*Param {
	return ps.params
}

func (ps *Params) Len() int {
	return len(ps.params)
}

// Count returns the total number of scalar values.
func (ps *Params) Count() int {
	var n int
	for _, p := range ps.params {
		n += p.Size()
	}
	return n
}
