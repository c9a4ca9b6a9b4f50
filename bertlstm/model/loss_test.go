package model

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestOneHot(t *testing.T) {
	m, err := OneHot([]int{0, 2, 1}, 3)
	require.NoError(t, err)
	want := mat.NewDense(3, 3, []float64{
		1, 0, 0,
		0, 0, 1,
		0, 1, 0,
	})
	assert.True(t, mat.Equal(want, m))

	_, err = OneHot([]int{3}, 3)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	_, err = OneHot([]int{-1}, 3)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestSoftCrossEntropy(t *testing.T) {
	targets, err := OneHot([]int{1, 0}, 3)
	require.NoError(t, err)

	uniform := mat.NewDense(2, 3, nil)
	loss, err := SoftCrossEntropy(uniform, targets)
	require.NoError(t, err)
	assert.InDelta(t, math.Log(3), loss, 1e-12)

	confident := mat.NewDense(2, 3, []float64{
		0, 50, 0,
		50, 0, 0,
	})
	loss, err = SoftCrossEntropy(confident, targets)
	require.NoError(t, err)
	assert.InDelta(t, 0, loss, 1e-12)

	_, err = SoftCrossEntropy(mat.NewDense(1, 3, nil), targets)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestSoftCrossEntropyGradient(t *testing.T) {
	loss, grad := softCrossEntropyRow([]float64{0, 0}, []float64{1, 0})
	assert.InDelta(t, math.Log(2), loss, 1e-12)
	assert.InDeltaSlice(t, []float64{-0.5, 0.5}, grad, 1e-12)
}
