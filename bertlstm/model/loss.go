package model

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// OneHot encodes class indices as float rows.
func OneHot(labels []int, n int) (*mat.Dense, error) {
	if len(labels) == 0 {
		return nil, errors.Wrap(ErrDimensionMismatch, "no labels")
	}
	out := mat.NewDense(len(labels), n, nil)
	for i, l := range labels {
		if l < 0 || l >= n {
			return nil, errors.Wrapf(ErrDimensionMismatch, "label %d outside [0, %d)", l, n)
		}
		out.Set(i, l, 1)
	}
	return out, nil
}

// LogSoftmax returns log(softmax(x)) computed stably.
func LogSoftmax(x []float64) []float64 {
	lse := floats.LogSumExp(x)
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = v - lse
	}
	return out
}

// softCrossEntropyRow returns -sum(t * log_softmax(z)) and its gradient
// softmax(z) * sum(t) - t with respect to z.
func softCrossEntropyRow(logits, target []float64) (float64, []float64) {
	logp := LogSoftmax(logits)
	mass := floats.Sum(target)
	loss := 0.0
	grad := make([]float64, len(logits))
	for i := range logits {
		loss -= target[i] * logp[i]
		grad[i] = math.Exp(logp[i])*mass - target[i]
	}
	return loss, grad
}

// SoftCrossEntropy is the mean over rows of the cross entropy between
// logits and probability targets, matching a one-hot float target run.
func SoftCrossEntropy(logits, targets *mat.Dense) (float64, error) {
	r, c := logits.Dims()
	tr, tc := targets.Dims()
	if r != tr || c != tc {
		return 0, errors.Wrapf(ErrDimensionMismatch, "logits %dx%d, targets %dx%d", r, c, tr, tc)
	}
	if r == 0 {
		return 0, errors.Wrap(ErrDimensionMismatch, "empty batch")
	}
	total := 0.0
	for i := 0; i < r; i++ {
		l, _ := softCrossEntropyRow(logits.RawRowView(i), targets.RawRowView(i))
		total += l
	}
	return total / float64(r), nil
}
