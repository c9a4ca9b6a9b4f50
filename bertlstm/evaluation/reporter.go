// Package evaluation scores a trained classifier on a held-out split.
package evaluation

import (
	"context"
	"fmt"

	"github.com/ZanzyTHEbar/bert-bilstm/bertlstm/collate"
	"github.com/ZanzyTHEbar/bert-bilstm/bertlstm/dataset"
	"github.com/ZanzyTHEbar/bert-bilstm/bertlstm/embedding"
	"github.com/ZanzyTHEbar/bert-bilstm/bertlstm/metrics"
	"github.com/ZanzyTHEbar/bert-bilstm/bertlstm/model"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Metric names logged per test batch.
const (
	MetricLoss         = "loss"
	MetricAccuracy     = "acc"
	MetricAvgRecall    = "avg_recall"
	MetricAvgPrecision = "avg_precision"
	MetricAvgF1        = "avg_f1"
)

func RecallName(class int) string    { return fmt.Sprintf("recall_class%d", class) }
func PrecisionName(class int) string { return fmt.Sprintf("precision_class%d", class) }
func F1Name(class int) string        { return fmt.Sprintf("f1_class%d", class) }

// Report is the test-epoch aggregate: each value is the batch-size weighted
// mean of the per-batch values.
type Report struct {
	Samples   int
	Batches   int
	Loss      float64
	Accuracy  float64
	Recall    []float64
	Precision []float64
	F1        []float64

	AvgRecall    float64
	AvgPrecision float64
	AvgF1        float64
}

// Names returns the metric names of a report over n classes, in log order.
func Names(n int) []string {
	names := []string{MetricLoss, MetricAccuracy}
	for c := 0; c < n; c++ {
		names = append(names, RecallName(c), PrecisionName(c), F1Name(c))
	}
	return append(names, MetricAvgRecall, MetricAvgPrecision, MetricAvgF1)
}

// Values returns the report as a name to value map.
func (r *Report) Values() map[string]float64 {
	out := map[string]float64{
		MetricLoss:         r.Loss,
		MetricAccuracy:     r.Accuracy,
		MetricAvgRecall:    r.AvgRecall,
		MetricAvgPrecision: r.AvgPrecision,
		MetricAvgF1:        r.AvgF1,
	}
	for c := range r.Recall {
		out[RecallName(c)] = r.Recall[c]
		out[PrecisionName(c)] = r.Precision[c]
		out[F1Name(c)] = r.F1[c]
	}
	return out
}

// Config holds reporter settings.
type Config struct {
	BatchSize  int
	NumClasses int
}

// Reporter runs the model in eval mode over a split.
type Reporter struct {
	cfg      Config
	collator *collate.Collator
	encoder  embedding.Encoder
	model    *model.Classifier
	recorder *metrics.Recorder
	log      zerolog.Logger
}

// NewReporter wires a reporter. recorder may be nil.
func NewReporter(cfg Config, collator *collate.Collator, encoder embedding.Encoder, m *model.Classifier, recorder *metrics.Recorder, logger zerolog.Logger) *Reporter {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 256
	}
	if cfg.NumClasses <= 0 {
		cfg.NumClasses = m.Hyperparameters().OutputDim
	}
	if recorder == nil {
		recorder = metrics.NewRecorder("")
	}
	return &Reporter{
		cfg:      cfg,
		collator: collator,
		encoder:  encoder,
		model:    m,
		recorder: recorder,
		log:      logger.With().Str("component", "evaluation").Logger(),
	}
}

// Test evaluates ds batch by batch, logging every metric per batch, and
// returns the aggregate report.
func (r *Reporter) Test(ctx context.Context, ds dataset.Dataset) (*Report, error) {
	if ds.Len() == 0 {
		return nil, errors.Wrap(dataset.ErrDataAccess, "test split is empty")
	}
	r.model.SetTraining(false)

	loader := dataset.NewLoader(ds, r.cfg.BatchSize, false, 0)
	step := 0
	for batch, err := range loader.Batches() {
		if err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		values, err := r.testBatch(ctx, batch)
		if err != nil {
			return nil, err
		}
		step++
		w := float64(len(batch))
		for _, name := range Names(r.cfg.NumClasses) {
			r.recorder.Observe(name, values[name], w)
			if err := r.recorder.Step(ctx, name, 0, step, values[name]); err != nil {
				return nil, errors.Wrap(err, "failed to record test metrics")
			}
		}
	}

	means, err := r.recorder.EndEpoch(ctx, 0, step)
	if err != nil {
		return nil, errors.Wrap(err, "failed to record test metrics")
	}
	rep := &Report{
		Samples:      ds.Len(),
		Batches:      step,
		Loss:         means[MetricLoss],
		Accuracy:     means[MetricAccuracy],
		AvgRecall:    means[MetricAvgRecall],
		AvgPrecision: means[MetricAvgPrecision],
		AvgF1:        means[MetricAvgF1],
		Recall:       make([]float64, r.cfg.NumClasses),
		Precision:    make([]float64, r.cfg.NumClasses),
		F1:           make([]float64, r.cfg.NumClasses),
	}
	for c := 0; c < r.cfg.NumClasses; c++ {
		rep.Recall[c] = means[RecallName(c)]
		rep.Precision[c] = means[PrecisionName(c)]
		rep.F1[c] = means[F1Name(c)]
	}
	r.log.Info().
		Int("samples", rep.Samples).
		Float64(MetricLoss, rep.Loss).
		Float64(MetricAccuracy, rep.Accuracy).
		Float64(MetricAvgF1, rep.AvgF1).
		Msg("test finished")
	return rep, nil
}

func (r *Reporter) testBatch(ctx context.Context, samples []dataset.Sample) (map[string]float64, error) {
	b, err := r.collator.Collate(samples)
	if err != nil {
		return nil, err
	}
	hidden, err := r.encoder.Encode(ctx, b.InputIDs, b.AttentionMask, b.SegmentIDs)
	if err != nil {
		return nil, errors.Wrap(err, "encoder failed")
	}
	logits, err := r.model.Forward(ctx, hidden)
	if err != nil {
		return nil, err
	}
	targets, err := model.OneHot(b.Labels, r.cfg.NumClasses)
	if err != nil {
		return nil, err
	}
	loss, err := model.SoftCrossEntropy(logits, targets)
	if err != nil {
		return nil, err
	}
	scores, err := metrics.Score(metrics.Predict(logits), b.Labels, r.cfg.NumClasses)
	if err != nil {
		return nil, err
	}

	values := map[string]float64{
		MetricLoss:         loss,
		MetricAccuracy:     scores.Accuracy,
		MetricAvgRecall:    scores.Recall,
		MetricAvgPrecision: scores.Precision,
		MetricAvgF1:        scores.F1,
	}
	for c, cs := range scores.Classes {
		values[RecallName(c)] = cs.Recall
		values[PrecisionName(c)] = cs.Precision
		values[F1Name(c)] = cs.F1
	}
	return values, nil
}
