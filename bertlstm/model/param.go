package model

import (
	"gonum.org/v1/gonum/mat"
)

// Param is a named trainable tensor. Data and Grad are row-major and share
// Shape; matrices over them are views, never copies.
type Param struct {
	Name  string
	Shape []int
	Data  []float64
	Grad  []float64

	idx int
}

func newParam(idx int, name string, shape ...int) *Param {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return &Param{
		Name:  name,
		Shape: shape,
		Data:  make([]float64, n),
		Grad:  make([]float64, n),
		idx:   idx,
	}
}

// Size returns the number of elements.
func (p *Param) Size() int { return len(p.Data) }

// Matrix views a 2-D parameter as a dense matrix.
func (p *Param) Matrix() *mat.Dense {
	return mat.NewDense(p.Shape[0], p.Shape[1], p.Data)
}

// ZeroGrad clears the accumulated gradient.
func (p *Param) ZeroGrad() {
	clear(p.Grad)
}

// gradSet is a private gradient accumulator, one buffer per parameter.
type gradSet struct {
	bufs [][]float64
}

func newGradSet(params []*Param) *gradSet {
	g := &gradSet{bufs: make([][]float64, len(params))}
	for i, p := range params {
		g.bufs[i] = make([]float64, p.Size())
	}
	return g
}

func (g *gradSet) of(p *Param) []float64 { return g.bufs[p.idx] }
