// Package model implements the trainable head on top of the frozen encoder:
// a stacked bidirectional LSTM followed by a linear layer.
package model

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"runtime"

	"github.com/pkg/errors"
	"github.com/sourcegraph/conc/pool"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// EncoderWidth is the hidden width of the bert-base encoder the head reads.
const EncoderWidth = 768

// ErrDimensionMismatch reports tensors whose shapes disagree with the model.
var ErrDimensionMismatch = errors.New("dimension mismatch")

// Hyperparameters fix the architecture. They are stored in checkpoints.
type Hyperparameters struct {
	InputDim  int
	HiddenDim int
	OutputDim int
	NumLayers int
	Dropout   float64
}

// DefaultHyperparameters mirrors the reference run.
func DefaultHyperparameters() Hyperparameters {
	return Hyperparameters{
		InputDim:  EncoderWidth,
		HiddenDim: 768,
		OutputDim: 3,
		NumLayers: 2,
		Dropout:   0.5,
	}
}

func (hp Hyperparameters) validate() error {
	switch {
	case hp.InputDim <= 0, hp.HiddenDim <= 0, hp.OutputDim <= 0, hp.NumLayers <= 0:
		return fmt.Errorf("hyperparameters must be positive: %+v", hp)
	case hp.Dropout < 0 || hp.Dropout >= 1:
		return fmt.Errorf("dropout %g outside [0, 1)", hp.Dropout)
	}
	return nil
}

// Option tunes a classifier.
type Option func(*Classifier)

// WithSeed seeds parameter initialisation and dropout.
func WithSeed(seed uint64) Option {
	return func(c *Classifier) { c.seed = seed }
}

// WithWorkers bounds the goroutines used per batch. Results are identical
// for a fixed worker count.
func WithWorkers(n int) Option {
	return func(c *Classifier) {
		if n > 0 {
			c.workers = n
		}
	}
}

// Classifier is the BiLSTM + linear head. Parameters are mutated only by the
// caller's optimizer between batches.
type Classifier struct {
	hp       Hyperparameters
	layers   [][2]*direction
	fcW, fcB *Param
	params   []*Param

	training bool
	seed     uint64
	workers  int
	step     uint64
}

// NewClassifier builds a freshly initialised head. encoderWidth is the width
// of the hidden states that will be fed in and must equal hp.InputDim.
func NewClassifier(hp Hyperparameters, encoderWidth int, opts ...Option) (*Classifier, error) {
	if hp.InputDim == 0 {
		hp.InputDim = EncoderWidth
	}
	if err := hp.validate(); err != nil {
		return nil, err
	}
	if encoderWidth != hp.InputDim {
		return nil, errors.Wrapf(ErrDimensionMismatch, "encoder width %d, classifier input %d", encoderWidth, hp.InputDim)
	}

	c := &Classifier{hp: hp, workers: runtime.GOMAXPROCS(0), training: true}
	for _, opt := range opts {
		opt(c)
	}

	add := func(name string, shape ...int) *Param {
		p := newParam(len(c.params), name, shape...)
		c.params = append(c.params, p)
		return p
	}

	H := hp.HiddenDim
	for l := 0; l < hp.NumLayers; l++ {
		in := hp.InputDim
		if l > 0 {
			in = 2 * H
		}
		var pair [2]*direction
		for d, suffix := range []string{"", "_reverse"} {
			pair[d] = &direction{
				in:      in,
				hidden:  H,
				reverse: d == 1,
				wih:     add(fmt.Sprintf("lstm.weight_ih_l%d%s", l, suffix), 4*H, in),
				whh:     add(fmt.Sprintf("lstm.weight_hh_l%d%s", l, suffix), 4*H, H),
				bih:     add(fmt.Sprintf("lstm.bias_ih_l%d%s", l, suffix), 4*H),
				bhh:     add(fmt.Sprintf("lstm.bias_hh_l%d%s", l, suffix), 4*H),
			}
		}
		c.layers = append(c.layers, pair)
	}
	c.fcW = add("fc.weight", hp.OutputDim, 2*H)
	c.fcB = add("fc.bias", hp.OutputDim)

	c.reset()
	return c, nil
}

// reset draws every parameter from U(-k, k): k = 1/sqrt(H) for the LSTM and
// 1/sqrt(fan_in) for the linear layer.
func (c *Classifier) reset() {
	rng := rand.New(rand.NewPCG(c.seed, 0))
	kLSTM := 1 / math.Sqrt(float64(c.hp.HiddenDim))
	kFC := 1 / math.Sqrt(float64(2*c.hp.HiddenDim))
	for _, p := range c.params {
		k := kLSTM
		if p == c.fcW || p == c.fcB {
			k = kFC
		}
		for i := range p.Data {
			p.Data[i] = (2*rng.Float64() - 1) * k
		}
	}
}

// Hyperparameters returns the architecture.
func (c *Classifier) Hyperparameters() Hyperparameters { return c.hp }

// Parameters returns the trainable tensors in a stable order.
func (c *Classifier) Parameters() []*Param { return c.params }

// Param looks a parameter up by name.
func (c *Classifier) Param(name string) (*Param, bool) {
	for _, p := range c.params {
		if p.Name == name {
			return p, true
		}
	}
	return nil, false
}

// SetTraining toggles dropout.
func (c *Classifier) SetTraining(on bool) { c.training = on }

// Training reports whether dropout is active.
func (c *Classifier) Training() bool { return c.training }

// ZeroGrad clears every gradient.
func (c *Classifier) ZeroGrad() {
	for _, p := range c.params {
		p.ZeroGrad()
	}
}

type sampleCache struct {
	dirs  [][2]*dirCache
	masks [][]float64 // dropout mask applied after layer l, nil when inactive
	feat  []float64
}

// dropoutRNG derives a per-row source so masks do not depend on scheduling.
func (c *Classifier) dropoutRNG(row int) *rand.Rand {
	if !c.training || c.hp.Dropout == 0 || c.hp.NumLayers < 2 {
		return nil
	}
	return rand.New(rand.NewPCG(c.seed^0x9e3779b97f4a7c15, c.step<<20|uint64(row)))
}

func (c *Classifier) forwardSample(x *mat.Dense, rng *rand.Rand) ([]float64, *sampleCache) {
	H := c.hp.HiddenDim
	T, _ := x.Dims()
	cache := &sampleCache{
		dirs:  make([][2]*dirCache, len(c.layers)),
		masks: make([][]float64, len(c.layers)),
	}

	input := x
	for l, pair := range c.layers {
		fwd := pair[0].forward(input)
		bwd := pair[1].forward(input)
		cache.dirs[l] = [2]*dirCache{fwd, bwd}

		if l == len(c.layers)-1 {
			break
		}
		out := mat.NewDense(T, 2*H, nil)
		for t := 0; t < T; t++ {
			row := out.RawRowView(t)
			copy(row[:H], fwd.h.RawRowView(t))
			copy(row[H:], bwd.h.RawRowView(t))
		}
		if rng != nil {
			p := c.hp.Dropout
			scale := 1 / (1 - p)
			data := out.RawMatrix().Data
			mask := make([]float64, len(data))
			for k := range data {
				if rng.Float64() >= p {
					mask[k] = scale
				}
				data[k] *= mask[k]
			}
			cache.masks[l] = mask
		}
		input = out
	}

	last := cache.dirs[len(c.layers)-1]
	feat := make([]float64, 2*H)
	copy(feat[:H], last[0].h.RawRowView(T-1))
	copy(feat[H:], last[1].h.RawRowView(0))
	cache.feat = feat

	logits := make([]float64, c.hp.OutputDim)
	W := c.fcW.Data
	for r := range logits {
		logits[r] = floats.Dot(W[r*2*H:(r+1)*2*H], feat) + c.fcB.Data[r]
	}
	return logits, cache
}

func (c *Classifier) backwardSample(cache *sampleCache, dLogits []float64, g *gradSet) {
	H := c.hp.HiddenDim
	T, _ := cache.dirs[0][0].x.Dims()

	gW, gB := g.of(c.fcW), g.of(c.fcB)
	W := c.fcW.Data
	dFeat := make([]float64, 2*H)
	for r, dl := range dLogits {
		floats.AddScaled(gW[r*2*H:(r+1)*2*H], dl, cache.feat)
		floats.AddScaled(dFeat, dl, W[r*2*H:(r+1)*2*H])
		gB[r] += dl
	}

	dHf := mat.NewDense(T, H, nil)
	dHb := mat.NewDense(T, H, nil)
	copy(dHf.RawRowView(T-1), dFeat[:H])
	copy(dHb.RawRowView(0), dFeat[H:])

	for l := len(c.layers) - 1; l >= 0; l-- {
		needInput := l > 0
		dxF := c.layers[l][0].backward(cache.dirs[l][0], dHf, g, needInput)
		dxB := c.layers[l][1].backward(cache.dirs[l][1], dHb, g, needInput)
		if !needInput {
			break
		}
		dxF.Add(dxF, dxB)
		if mask := cache.masks[l-1]; mask != nil {
			floats.Mul(dxF.RawMatrix().Data, mask)
		}
		dHf = dxF.Slice(0, T, 0, H).(*mat.Dense)
		dHb = dxF.Slice(0, T, H, 2*H).(*mat.Dense)
	}
}

func (c *Classifier) checkInputs(hidden []*mat.Dense) error {
	for i, h := range hidden {
		if h == nil || h.IsEmpty() {
			return errors.Wrapf(ErrDimensionMismatch, "row %d: no hidden states", i)
		}
		if _, w := h.Dims(); w != c.hp.InputDim {
			return errors.Wrapf(ErrDimensionMismatch, "row %d: width %d, want %d", i, w, c.hp.InputDim)
		}
	}
	return nil
}

type span struct{ lo, hi int }

// partition splits [0, n) into at most k contiguous, near-equal spans.
func partition(n, k int) []span {
	if k > n {
		k = n
	}
	spans := make([]span, 0, k)
	for i := 0; i < k; i++ {
		spans = append(spans, span{lo: i * n / k, hi: (i + 1) * n / k})
	}
	return spans
}

// Forward returns logits [B, OutputDim] for per-sample hidden states
// [L, InputDim]. In eval mode the result is deterministic.
func (c *Classifier) Forward(ctx context.Context, hidden []*mat.Dense) (*mat.Dense, error) {
	if len(hidden) == 0 {
		return nil, errors.Wrap(ErrDimensionMismatch, "empty batch")
	}
	if err := c.checkInputs(hidden); err != nil {
		return nil, err
	}
	logits := mat.NewDense(len(hidden), c.hp.OutputDim, nil)

	p := pool.New().WithMaxGoroutines(c.workers).WithContext(ctx)
	for _, s := range partition(len(hidden), c.workers) {
		p.Go(func(ctx context.Context) error {
			for r := s.lo; r < s.hi; r++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				out, _ := c.forwardSample(hidden[r], c.dropoutRNG(r))
				copy(logits.RawRowView(r), out)
			}
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return nil, err
	}
	return logits, nil
}

// TrainBatch runs forward and backward over the batch against soft targets
// [B, OutputDim] and leaves the gradient of the mean loss in each Param.Grad.
// It returns the mean loss. Parameters are not modified.
func (c *Classifier) TrainBatch(ctx context.Context, hidden []*mat.Dense, targets *mat.Dense) (float64, error) {
	B := len(hidden)
	if B == 0 {
		return 0, errors.Wrap(ErrDimensionMismatch, "empty batch")
	}
	if r, k := targets.Dims(); r != B || k != c.hp.OutputDim {
		return 0, errors.Wrapf(ErrDimensionMismatch, "targets %dx%d, want %dx%d", r, k, B, c.hp.OutputDim)
	}
	if err := c.checkInputs(hidden); err != nil {
		return 0, err
	}

	spans := partition(B, c.workers)
	grads := make([]*gradSet, len(spans))
	losses := make([]float64, len(spans))
	scale := 1 / float64(B)

	p := pool.New().WithMaxGoroutines(c.workers).WithContext(ctx)
	for si, s := range spans {
		p.Go(func(ctx context.Context) error {
			g := newGradSet(c.params)
			for r := s.lo; r < s.hi; r++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				logits, cache := c.forwardSample(hidden[r], c.dropoutRNG(r))
				loss, dLogits := softCrossEntropyRow(logits, targets.RawRowView(r))
				losses[si] += loss
				floats.Scale(scale, dLogits)
				c.backwardSample(cache, dLogits, g)
			}
			grads[si] = g
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return 0, err
	}

	// Reduce in span order so the sum is independent of scheduling.
	c.ZeroGrad()
	for _, g := range grads {
		for i, param := range c.params {
			floats.Add(param.Grad, g.bufs[i])
		}
	}
	c.step++
	return floats.Sum(losses) * scale, nil
}
