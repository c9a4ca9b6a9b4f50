// Package metrics computes classification scores and records training and
// evaluation metrics to logs and a libsql store.
package metrics

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// ClassScore holds one-vs-rest scores for a class. Undefined ratios are 0.
type ClassScore struct {
	Recall    float64
	Precision float64
	F1        float64
	Support   int
}

// Scores are the per-class and support-weighted scores of a prediction set.
type Scores struct {
	Accuracy  float64
	Classes   []ClassScore
	Recall    float64
	Precision float64
	F1        float64
}

// Predict returns the arg-max class of each logits row.
func Predict(logits *mat.Dense) []int {
	r, _ := logits.Dims()
	out := make([]int, r)
	for i := range out {
		out[i] = floats.MaxIdx(logits.RawRowView(i))
	}
	return out
}

// Score compares predictions with targets over n classes. Weighted scores
// average the per-class values by support.
func Score(preds, targets []int, n int) (Scores, error) {
	if len(preds) != len(targets) {
		return Scores{}, fmt.Errorf("%d predictions for %d targets", len(preds), len(targets))
	}
	if len(preds) == 0 {
		return Scores{}, fmt.Errorf("no predictions")
	}

	tp := make([]float64, n)
	predicted := make([]float64, n)
	support := make([]float64, n)
	correct := 0
	for i, p := range preds {
		t := targets[i]
		if p < 0 || p >= n || t < 0 || t >= n {
			return Scores{}, fmt.Errorf("class out of range at %d: pred %d, target %d", i, p, t)
		}
		predicted[p]++
		support[t]++
		if p == t {
			tp[t]++
			correct++
		}
	}

	s := Scores{Accuracy: float64(correct) / float64(len(preds)), Classes: make([]ClassScore, n)}
	recall := make([]float64, n)
	precision := make([]float64, n)
	f1 := make([]float64, n)
	for c := 0; c < n; c++ {
		recall[c] = ratio(tp[c], support[c])
		precision[c] = ratio(tp[c], predicted[c])
		f1[c] = ratio(2*precision[c]*recall[c], precision[c]+recall[c])
		s.Classes[c] = ClassScore{Recall: recall[c], Precision: precision[c], F1: f1[c], Support: int(support[c])}
	}
	s.Recall = stat.Mean(recall, support)
	s.Precision = stat.Mean(precision, support)
	s.F1 = stat.Mean(f1, support)
	return s, nil
}

func ratio(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}
