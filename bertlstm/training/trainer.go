// Package training drives the fit loop: batching, the optimisation step,
// periodic validation, checkpointing and early stopping.
package training

import (
	"context"
	"math"
	"time"

	"github.com/ZanzyTHEbar/bert-bilstm/bertlstm/checkpoint"
	"github.com/ZanzyTHEbar/bert-bilstm/bertlstm/collate"
	"github.com/ZanzyTHEbar/bert-bilstm/bertlstm/dataset"
	"github.com/ZanzyTHEbar/bert-bilstm/bertlstm/embedding"
	"github.com/ZanzyTHEbar/bert-bilstm/bertlstm/metrics"
	"github.com/ZanzyTHEbar/bert-bilstm/bertlstm/model"
	"github.com/ZanzyTHEbar/bert-bilstm/bertlstm/optim"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"
)

// ErrOptimizationDiverged is returned when a training loss or gradient is
// not finite.
var ErrOptimizationDiverged = errors.New("optimization diverged")

// Metric names.
const (
	MetricTrainLoss = "train_loss"
	MetricValLoss   = "val_loss"
)

// State is the orchestrator lifecycle.
type State int

const (
	StateInit State = iota
	StateTraining
	StateValidating
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateTraining:
		return "training"
	case StateValidating:
		return "validating"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// Config holds loop settings.
type Config struct {
	Epochs           int
	BatchSize        int
	NumClasses       int
	ValCheckInterval int
	LogEveryNSteps   int
	Shuffle          bool
	Seed             uint64
	FailOnDivergence bool
}

func (c Config) withDefaults() Config {
	if c.Epochs <= 0 {
		c.Epochs = 10
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 256
	}
	if c.NumClasses <= 0 {
		c.NumClasses = 3
	}
	if c.ValCheckInterval <= 0 {
		c.ValCheckInterval = 1
	}
	if c.LogEveryNSteps <= 0 {
		c.LogEveryNSteps = 50
	}
	return c
}

// Deps are the collaborators a Trainer drives. Checkpoints may be nil to
// disable saving; Recorder may be nil to skip metric sinks.
type Deps struct {
	Collator    *collate.Collator
	Encoder     embedding.Encoder
	Model       *model.Classifier
	Optimizer   *optim.AdamW
	Checkpoints *checkpoint.Manager
	Recorder    *metrics.Recorder
	Policies    []Policy
	Logger      zerolog.Logger
}

// EpochStats summarise one epoch.
type EpochStats struct {
	Epoch     int
	TrainLoss float64
	ValLoss   float64
	Validated bool
	Skipped   int
	Duration  time.Duration
}

// Result is returned by Fit.
type Result struct {
	RunID          string
	Epochs         int
	Steps          int
	StoppedEarly   bool
	BestCheckpoint string
	BestLoss       float64
	History        []EpochStats
}

// Trainer owns the model parameters for the duration of Fit.
type Trainer struct {
	cfg  Config
	deps Deps
	log  zerolog.Logger

	state State
	step  int
}

// New wires a trainer. Without explicit policies a BestCheckpoint policy is used.
func New(cfg Config, deps Deps) (*Trainer, error) {
	switch {
	case deps.Collator == nil:
		return nil, errors.New("training: collator is required")
	case deps.Encoder == nil:
		return nil, errors.New("training: encoder is required")
	case deps.Model == nil:
		return nil, errors.New("training: model is required")
	case deps.Optimizer == nil:
		return nil, errors.New("training: optimizer is required")
	}
	if len(deps.Policies) == 0 {
		deps.Policies = []Policy{NewBestCheckpoint()}
	}
	if deps.Recorder == nil {
		deps.Recorder = metrics.NewRecorder("")
	}
	return &Trainer{
		cfg:  cfg.withDefaults(),
		deps: deps,
		log:  deps.Logger.With().Str("component", "trainer").Logger(),
	}, nil
}

// State returns the current lifecycle state.
func (t *Trainer) State() State { return t.state }

// Fit trains on train, validating on val every ValCheckInterval epochs and
// after the last one. It stops at Epochs, when a policy asks to stop, on
// divergence, or when ctx is cancelled between batches.
func (t *Trainer) Fit(ctx context.Context, train, val dataset.Dataset) (*Result, error) {
	if train == nil || val == nil {
		return nil, errors.Wrap(dataset.ErrDataAccess, "training and validation splits are required")
	}
	if train.Len() == 0 {
		return nil, errors.Wrap(dataset.ErrDataAccess, "training split is empty")
	}
	defer func() { t.state = StateStopped }()

	res := &Result{RunID: t.deps.Recorder.RunID(), BestLoss: math.Inf(1)}
	loader := dataset.NewLoader(train, t.cfg.BatchSize, t.cfg.Shuffle, t.cfg.Seed)

	t.log.Info().
		Int("epochs", t.cfg.Epochs).
		Int("batch_size", t.cfg.BatchSize).
		Int("train_samples", train.Len()).
		Int("val_samples", val.Len()).
		Msg("starting training")

	for epoch := 1; epoch <= t.cfg.Epochs; epoch++ {
		start := time.Now()
		stats, err := t.trainEpoch(ctx, loader, epoch)
		if err != nil {
			return res, err
		}

		if epoch%t.cfg.ValCheckInterval == 0 || epoch == t.cfg.Epochs {
			valLoss, err := t.validate(ctx, val)
			if err != nil {
				return res, err
			}
			stats.ValLoss, stats.Validated = valLoss, true
		}

		means, err := t.deps.Recorder.EndEpoch(ctx, epoch, t.step)
		if err != nil {
			return res, errors.Wrap(err, "failed to record epoch metrics")
		}
		stats.TrainLoss = means[MetricTrainLoss]
		stats.Duration = time.Since(start)
		res.History = append(res.History, stats)
		res.Epochs, res.Steps = epoch, t.step

		ev := t.log.Info().Int("epoch", epoch).Float64(MetricTrainLoss, stats.TrainLoss).Dur("took", stats.Duration)
		if stats.Validated {
			ev = ev.Float64(MetricValLoss, stats.ValLoss)
		}
		ev.Msg("epoch finished")

		if !stats.Validated {
			continue
		}
		stop, err := t.applyPolicies(epoch, stats.ValLoss, res)
		if err != nil {
			return res, err
		}
		if stop {
			res.StoppedEarly = epoch < t.cfg.Epochs
			t.log.Info().Int("epoch", epoch).Msg("early stopping triggered")
			break
		}
	}
	return res, nil
}

func (t *Trainer) trainEpoch(ctx context.Context, loader *dataset.Loader, epoch int) (EpochStats, error) {
	t.state = StateTraining
	t.deps.Model.SetTraining(true)
	loader.Reshuffle(epoch)

	stats := EpochStats{Epoch: epoch}
	for batch, err := range loader.Batches() {
		if err != nil {
			return stats, err
		}
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		loss, err := t.trainStep(ctx, batch)
		if err != nil {
			if !errors.Is(err, ErrOptimizationDiverged) || t.cfg.FailOnDivergence {
				return stats, err
			}
			stats.Skipped++
			t.log.Warn().Err(err).Int("epoch", epoch).Int("step", t.step).Msg("skipping optimizer step")
			continue
		}
		t.step++

		t.deps.Recorder.Observe(MetricTrainLoss, loss, float64(len(batch)))
		if err := t.deps.Recorder.Step(ctx, MetricTrainLoss, epoch, t.step, loss); err != nil {
			return stats, errors.Wrap(err, "failed to record step metrics")
		}
		if t.step%t.cfg.LogEveryNSteps == 0 {
			t.log.Info().Int("epoch", epoch).Int("step", t.step).Float64(MetricTrainLoss, loss).Msg("progress")
		}
	}
	return stats, nil
}

// trainStep runs one optimisation step. The optimizer is not stepped when
// the loss or any gradient is not finite.
func (t *Trainer) trainStep(ctx context.Context, samples []dataset.Sample) (float64, error) {
	hidden, labels, err := t.prepare(ctx, samples)
	if err != nil {
		return 0, err
	}
	targets, err := model.OneHot(labels, t.cfg.NumClasses)
	if err != nil {
		return 0, err
	}
	loss, err := t.deps.Model.TrainBatch(ctx, hidden, targets)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		t.deps.Optimizer.ZeroGrad()
		return loss, errors.Wrapf(ErrOptimizationDiverged, "loss is %v at step %d", loss, t.step+1)
	}
	for _, p := range t.deps.Model.Parameters() {
		for _, g := range p.Grad {
			if math.IsNaN(g) || math.IsInf(g, 0) {
				t.deps.Optimizer.ZeroGrad()
				return loss, errors.Wrapf(ErrOptimizationDiverged, "gradient of %s is %v at step %d", p.Name, g, t.step+1)
			}
		}
	}
	t.deps.Optimizer.Step()
	return loss, nil
}

func (t *Trainer) prepare(ctx context.Context, samples []dataset.Sample) ([]*mat.Dense, []int, error) {
	b, err := t.deps.Collator.Collate(samples)
	if err != nil {
		return nil, nil, err
	}
	hidden, err := t.deps.Encoder.Encode(ctx, b.InputIDs, b.AttentionMask, b.SegmentIDs)
	if err != nil {
		return nil, nil, errors.Wrap(err, "encoder failed")
	}
	return hidden, b.Labels, nil
}

// validate computes the batch-size weighted mean loss over val without
// touching gradients.
func (t *Trainer) validate(ctx context.Context, val dataset.Dataset) (float64, error) {
	t.state = StateValidating
	t.deps.Model.SetTraining(false)
	defer t.deps.Model.SetTraining(true)

	if val.Len() == 0 {
		return 0, errors.Wrap(dataset.ErrDataAccess, "validation split is empty")
	}
	loader := dataset.NewLoader(val, t.cfg.BatchSize, false, 0)
	var sum, n float64
	for batch, err := range loader.Batches() {
		if err != nil {
			return 0, err
		}
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		hidden, labels, err := t.prepare(ctx, batch)
		if err != nil {
			return 0, err
		}
		logits, err := t.deps.Model.Forward(ctx, hidden)
		if err != nil {
			return 0, err
		}
		targets, err := model.OneHot(labels, t.cfg.NumClasses)
		if err != nil {
			return 0, err
		}
		loss, err := model.SoftCrossEntropy(logits, targets)
		if err != nil {
			return 0, err
		}
		w := float64(len(batch))
		t.deps.Recorder.Observe(MetricValLoss, loss, w)
		sum += loss * w
		n += w
	}
	mean := sum / n
	if (math.IsNaN(mean) || math.IsInf(mean, 0)) && t.cfg.FailOnDivergence {
		return mean, errors.Wrapf(ErrOptimizationDiverged, "validation loss is %v", mean)
	}
	return mean, nil
}

func (t *Trainer) applyPolicies(epoch int, valLoss float64, res *Result) (bool, error) {
	var decision Decision
	for _, p := range t.deps.Policies {
		decision |= p.Evaluate(epoch, valLoss)
	}
	if decision.Has(Save) {
		res.BestLoss = valLoss
		if t.deps.Checkpoints != nil {
			path, err := t.deps.Checkpoints.SaveBest(t.deps.Model, checkpoint.Metadata{
				Epoch:   epoch,
				ValLoss: valLoss,
				RunID:   res.RunID,
			})
			if err != nil {
				return false, err
			}
			res.BestCheckpoint = path
		}
	}
	return decision.Has(Stop), nil
}
