package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestScoreWeightedAverages(t *testing.T) {
	s, err := Score([]int{0, 1, 1, 2}, []int{0, 0, 1, 2}, 3)
	require.NoError(t, err)

	assert.InDelta(t, 0.75, s.Accuracy, 1e-12)
	assert.InDelta(t, 0.75, s.Recall, 1e-12)
	assert.InDelta(t, 0.875, s.Precision, 1e-12)
	assert.InDelta(t, 0.75, s.F1, 1e-12)

	assert.InDelta(t, 0.5, s.Classes[0].Recall, 1e-12)
	assert.InDelta(t, 1.0, s.Classes[0].Precision, 1e-12)
	assert.InDelta(t, 0.5, s.Classes[1].Precision, 1e-12)
	assert.InDelta(t, 2.0/3.0, s.Classes[1].F1, 1e-12)
	assert.Equal(t, 2, s.Classes[0].Support)
}

func TestScoreUndefinedIsZero(t *testing.T) {
	// class 2 never appears and is never predicted
	s, err := Score([]int{0, 0}, []int{0, 1}, 3)
	require.NoError(t, err)
	assert.Zero(t, s.Classes[2].Recall)
	assert.Zero(t, s.Classes[2].Precision)
	assert.Zero(t, s.Classes[2].F1)
	assert.Zero(t, s.Classes[1].Precision)
	assert.InDelta(t, 0.5, s.Recall, 1e-12)
}

func TestScoreErrors(t *testing.T) {
	_, err := Score([]int{0}, []int{0, 1}, 3)
	assert.Error(t, err)
	_, err = Score(nil, nil, 3)
	assert.Error(t, err)
	_, err = Score([]int{3}, []int{0}, 3)
	assert.Error(t, err)
}

func TestPredict(t *testing.T) {
	logits := mat.NewDense(3, 3, []float64{
		0.1, 0.7, 0.2,
		2, -1, 0,
		-3, -2, -1,
	})
	assert.Equal(t, []int{1, 0, 2}, Predict(logits))
}
