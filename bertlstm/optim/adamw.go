// Package optim holds the optimizer applied to the classifier parameters.
package optim

import (
	"math"

	"github.com/ZanzyTHEbar/bert-bilstm/bertlstm/model"
)

// AdamWConfig holds AdamW settings. Zero values select the defaults.
type AdamWConfig struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64
	WeightDecay  float64
}

// DefaultAdamW matches torch.optim.AdamW defaults with lr 1e-3.
func DefaultAdamW() AdamWConfig {
	return AdamWConfig{
		LearningRate: 1e-3,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
		WeightDecay:  0.01,
	}
}

// AdamW is Adam with decoupled weight decay:
//
//	p   -= lr * wd * p
//	m_t  = b1*m + (1-b1)*g
//	v_t  = b2*v + (1-b2)*g²
//	p   -= lr * m̂ / (sqrt(v̂) + eps)
type AdamW struct {
	cfg    AdamWConfig
	params []*model.Param

	// State (one per parameter)
	m [][]float64
	v [][]float64
	t int
}

// NewAdamW allocates moment buffers for params.
func NewAdamW(params []*model.Param, cfg AdamWConfig) *AdamW {
	def := DefaultAdamW()
	if cfg.LearningRate <= 0 {
		cfg.LearningRate = def.LearningRate
	}
	if cfg.Beta1 == 0 {
		cfg.Beta1 = def.Beta1
	}
	if cfg.Beta2 == 0 {
		cfg.Beta2 = def.Beta2
	}
	if cfg.Epsilon == 0 {
		cfg.Epsilon = def.Epsilon
	}
	if cfg.WeightDecay < 0 {
		cfg.WeightDecay = def.WeightDecay
	}

	m := make([][]float64, len(params))
	v := make([][]float64, len(params))
	for i, p := range params {
		m[i] = make([]float64, p.Size())
		v[i] = make([]float64, p.Size())
	}
	return &AdamW{cfg: cfg, params: params, m: m, v: v}
}

// Steps returns the number of updates applied.
func (o *AdamW) Steps() int { return o.t }

// LearningRate returns the configured learning rate.
func (o *AdamW) LearningRate() float64 { return o.cfg.LearningRate }

// Step applies one update from the gradients currently held in each Param.
func (o *AdamW) Step() {
	o.t++
	c := o.cfg
	bias1 := 1 - math.Pow(c.Beta1, float64(o.t))
	bias2 := 1 - math.Pow(c.Beta2, float64(o.t))
	decay := 1 - c.LearningRate*c.WeightDecay

	for i, p := range o.params {
		m, v := o.m[i], o.v[i]
		for j, g := range p.Grad {
			p.Data[j] *= decay
			m[j] = c.Beta1*m[j] + (1-c.Beta1)*g
			v[j] = c.Beta2*v[j] + (1-c.Beta2)*g*g
			mHat := m[j] / bias1
			vHat := v[j] / bias2
			p.Data[j] -= c.LearningRate * mHat / (math.Sqrt(vHat) + c.Epsilon)
		}
	}
}

// ZeroGrad clears gradients.
func (o *AdamW) ZeroGrad() {
	for _, p := range o.params {
		p.ZeroGrad()
	}
}
