package model

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// direction is one LSTM pass over a sequence. Gates are laid out i, f, g, o
// along the 4H axis.
type direction struct {
	in, hidden int
	reverse    bool

	wih, whh, bih, bhh *Param
}

// dirCache keeps the activations backward needs. Rows are indexed by
// sequence position regardless of direction.
type dirCache struct {
	x     *mat.Dense // [T, in]
	gates *mat.Dense // [T, 4H], post-activation
	c     *mat.Dense // [T, H]
	tanhC *mat.Dense // [T, H]
	h     *mat.Dense // [T, H]
}

// pos maps the k-th processing step to a sequence position.
func (d *direction) pos(k, T int) int {
	if d.reverse {
		return T - 1 - k
	}
	return k
}

func sigmoid(x float64) float64 { return 1 / (1 + math.Exp(-x)) }

func (d *direction) forward(x *mat.Dense) *dirCache {
	T, _ := x.Dims()
	H := d.hidden

	// Input projection for every step at once.
	gates := mat.NewDense(T, 4*H, nil)
	gates.Mul(x, d.wih.Matrix().T())

	bias := make([]float64, 4*H)
	floats.AddTo(bias, d.bih.Data, d.bhh.Data)

	cache := &dirCache{
		x:     x,
		gates: gates,
		c:     mat.NewDense(T, H, nil),
		tanhC: mat.NewDense(T, H, nil),
		h:     mat.NewDense(T, H, nil),
	}

	whh := d.whh.Matrix()
	rec := mat.NewVecDense(4*H, nil)
	hPrev := make([]float64, H)
	cPrev := make([]float64, H)
	for k := 0; k < T; k++ {
		t := d.pos(k, T)
		rec.MulVec(whh, mat.NewVecDense(H, hPrev))

		row := gates.RawRowView(t)
		ct := cache.c.RawRowView(t)
		tc := cache.tanhC.RawRowView(t)
		ht := cache.h.RawRowView(t)
		for j := range row {
			row[j] += bias[j] + rec.AtVec(j)
		}
		for j := 0; j < H; j++ {
			i := sigmoid(row[j])
			f := sigmoid(row[H+j])
			g := math.Tanh(row[2*H+j])
			o := sigmoid(row[3*H+j])
			row[j], row[H+j], row[2*H+j], row[3*H+j] = i, f, g, o

			ct[j] = f*cPrev[j] + i*g
			tc[j] = math.Tanh(ct[j])
			ht[j] = o * tc[j]
		}
		hPrev, cPrev = ht, ct
	}
	return cache
}

// backward runs BPTT given dL/dh for every position, accumulating parameter
// gradients into g. It returns dL/dx when needInput is set, else nil.
func (d *direction) backward(cache *dirCache, dH *mat.Dense, g *gradSet, needInput bool) *mat.Dense {
	T, _ := cache.x.Dims()
	H := d.hidden

	dA := mat.NewDense(T, 4*H, nil)
	hPrevAll := mat.NewDense(T, H, nil)
	dhNext := make([]float64, H)
	dcNext := make([]float64, H)
	whhT := d.whh.Matrix().T()
	back := mat.NewVecDense(H, nil)

	for k := T - 1; k >= 0; k-- {
		t := d.pos(k, T)
		var cPrev []float64
		if k > 0 {
			prev := d.pos(k-1, T)
			cPrev = cache.c.RawRowView(prev)
			copy(hPrevAll.RawRowView(t), cache.h.RawRowView(prev))
		}

		gt := cache.gates.RawRowView(t)
		tc := cache.tanhC.RawRowView(t)
		dh := dH.RawRowView(t)
		da := dA.RawRowView(t)
		for j := 0; j < H; j++ {
			i, f, gg, o := gt[j], gt[H+j], gt[2*H+j], gt[3*H+j]
			dhj := dh[j] + dhNext[j]
			do := dhj * tc[j]
			dc := dhj*o*(1-tc[j]*tc[j]) + dcNext[j]
			cp := 0.0
			if cPrev != nil {
				cp = cPrev[j]
			}

			da[j] = dc * gg * i * (1 - i)
			da[H+j] = dc * cp * f * (1 - f)
			da[2*H+j] = dc * i * (1 - gg*gg)
			da[3*H+j] = do * o * (1 - o)
			dcNext[j] = dc * f
		}
		back.MulVec(whhT, mat.NewVecDense(4*H, da))
		for j := range dhNext {
			dhNext[j] = back.AtVec(j)
		}
	}

	var dW mat.Dense
	dW.Mul(dA.T(), cache.x)
	floats.Add(g.of(d.wih), dW.RawMatrix().Data)

	var dU mat.Dense
	dU.Mul(dA.T(), hPrevAll)
	floats.Add(g.of(d.whh), dU.RawMatrix().Data)

	gbih, gbhh := g.of(d.bih), g.of(d.bhh)
	for t := 0; t < T; t++ {
		row := dA.RawRowView(t)
		floats.Add(gbih, row)
		floats.Add(gbhh, row)
	}

	if !needInput {
		return nil
	}
	dx := mat.NewDense(T, d.in, nil)
	dx.Mul(dA, d.wih.Matrix())
	return dx
}
