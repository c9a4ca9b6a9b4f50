package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	internal "github.com/ZanzyTHEbar/bert-bilstm/bertlstm"
	"github.com/ZanzyTHEbar/bert-bilstm/bertlstm/checkpoint"
	"github.com/ZanzyTHEbar/bert-bilstm/bertlstm/collate"
	"github.com/ZanzyTHEbar/bert-bilstm/bertlstm/config"
	"github.com/ZanzyTHEbar/bert-bilstm/bertlstm/dataset"
	"github.com/ZanzyTHEbar/bert-bilstm/bertlstm/embedding"
	"github.com/ZanzyTHEbar/bert-bilstm/bertlstm/embedding/tokenizer"
	"github.com/ZanzyTHEbar/bert-bilstm/bertlstm/evaluation"
	"github.com/ZanzyTHEbar/bert-bilstm/bertlstm/metrics"
	"github.com/ZanzyTHEbar/bert-bilstm/bertlstm/model"
	"github.com/ZanzyTHEbar/bert-bilstm/bertlstm/optim"
	"github.com/ZanzyTHEbar/bert-bilstm/bertlstm/ports"
	"github.com/ZanzyTHEbar/bert-bilstm/bertlstm/training"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var configPath string

// app holds everything both commands share.
type app struct {
	cfg      *config.Config
	log      zerolog.Logger
	ui       ports.Interactor
	runID    string
	store    *metrics.Store
	recorder *metrics.Recorder
	collator *collate.Collator
	encoder  embedding.Encoder
}

func setup(ctx context.Context, command string) (*app, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	a := &app{
		cfg:   cfg,
		log:   internal.GetConsoleLogger(os.Stderr, level),
		ui:    ports.NewConsole(nil, nil),
		runID: uuid.NewString(),
	}
	a.log = a.log.With().Str("run", a.runID).Logger()

	sinks := []metrics.Sink{metrics.NewLogSink(a.log, zerolog.DebugLevel)}
	if cfg.Metrics.DSN != "" {
		a.store, err = metrics.OpenStore(ctx, cfg.Metrics.DSN, cfg.Metrics.AuthToken)
		if err != nil {
			return nil, err
		}
		if err := a.store.StartRun(ctx, a.runID, command, redacted(cfg)); err != nil {
			a.close()
			return nil, err
		}
		sinks = append(sinks, a.store)
	}
	a.recorder = metrics.NewRecorder(a.runID, sinks...)

	tok, err := tokenizer.New(tokenizer.Config{
		Kind:      cfg.Encoder.Tokenizer,
		VocabPath: cfg.Encoder.VocabPath,
		MaxSeqLen: cfg.Data.MaxLength,
	})
	if err != nil {
		a.close()
		return nil, errors.Wrap(err, "failed to load tokenizer")
	}
	a.collator = collate.New(tok, cfg.Data.MaxLength)

	a.ui.StartSpinner("loading encoder " + cfg.Encoder.ModelID)
	a.encoder, err = embedding.NewEncoder(embedding.Options{
		Provider:          cfg.Encoder.Provider,
		ModelPath:         cfg.Encoder.ModelPath,
		ExecutionProvider: cfg.Encoder.ExecutionProvider,
		DeviceID:          cfg.Encoder.DeviceID,
		BatchSize:         cfg.Encoder.BatchSize,
	})
	a.ui.StopSpinner(err == nil, "")
	if err != nil {
		a.close()
		return nil, errors.Wrap(err, "failed to load encoder")
	}
	return a, nil
}

func (a *app) close() {
	if a.encoder != nil {
		if err := a.encoder.Close(); err != nil {
			a.log.Warn().Err(err).Msg("closing encoder")
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("closing metric store")
		}
	}
}

func (a *app) hyperparameters() model.Hyperparameters {
	return model.Hyperparameters{
		InputDim:  model.EncoderWidth,
		HiddenDim: a.cfg.Model.RNNHidden,
		OutputDim: a.cfg.Model.ClassNum,
		NumLayers: a.cfg.Model.RNNLayers,
		Dropout:   a.cfg.Model.Dropout,
	}
}

// redacted serialises cfg for the run record without credentials.
func redacted(cfg *config.Config) string {
	c := *cfg
	c.Metrics.AuthToken = ""
	b, err := json.Marshal(c)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func runTrain(ctx context.Context) error {
	a, err := setup(ctx, "train")
	if err != nil {
		return err
	}
	defer a.close()
	cfg := a.cfg

	train, err := dataset.Open(cfg.Data.TrainPath, "train")
	if err != nil {
		return err
	}
	val, err := dataset.Open(cfg.Data.ValPath, "val")
	if err != nil {
		return err
	}
	a.log.Info().Int("train", train.Len()).Int("val", val.Len()).Msg("corpus loaded")

	clf, err := model.NewClassifier(a.hyperparameters(), a.encoder.HiddenSize(),
		model.WithSeed(cfg.Model.Seed), model.WithWorkers(cfg.Train.Workers))
	if err != nil {
		return err
	}
	opt := optim.NewAdamW(clf.Parameters(), optim.AdamWConfig{
		LearningRate: cfg.Train.LearningRate,
		WeightDecay:  cfg.Train.WeightDecay,
	})
	manager, err := checkpoint.NewManager(cfg.Checkpoint.Dir, a.log)
	if err != nil {
		return err
	}

	policies := []training.Policy{training.NewBestCheckpoint()}
	if es := cfg.Train.EarlyStopping; es.Enabled {
		policies = append(policies, training.NewEarlyStopping(es.Patience, es.MinDelta))
	}

	trainer, err := training.New(training.Config{
		Epochs:           cfg.Train.Epochs,
		BatchSize:        cfg.Train.BatchSize,
		NumClasses:       cfg.Model.ClassNum,
		ValCheckInterval: cfg.Train.ValCheckInterval,
		LogEveryNSteps:   cfg.Train.LogEveryNSteps,
		Shuffle:          cfg.Train.Shuffle,
		Seed:             cfg.Model.Seed,
		FailOnDivergence: cfg.Train.FailOnDivergence,
	}, training.Deps{
		Collator:    a.collator,
		Encoder:     a.encoder,
		Model:       clf,
		Optimizer:   opt,
		Checkpoints: manager,
		Recorder:    a.recorder,
		Policies:    policies,
		Logger:      a.log,
	})
	if err != nil {
		return err
	}

	res, err := trainer.Fit(ctx, train, val)
	if res != nil {
		a.ui.Output(ports.RenderResult(res))
	}
	return err
}

func runTest(ctx context.Context) error {
	a, err := setup(ctx, "test")
	if err != nil {
		return err
	}
	defer a.close()
	cfg := a.cfg

	path := cfg.Checkpoint.Path
	if path == "" {
		if path, err = checkpoint.FindBest(cfg.Checkpoint.Dir); err != nil {
			return err
		}
	}
	want := a.hyperparameters()
	want.InputDim = a.encoder.HiddenSize()
	clf, meta, err := checkpoint.Load(path, want, model.WithWorkers(cfg.Train.Workers))
	if err != nil {
		return err
	}
	a.log.Info().Str("checkpoint", path).Int("epoch", meta.Epoch).Float64("val_loss", meta.ValLoss).Msg("checkpoint loaded")

	test, err := dataset.Open(cfg.Data.TestPath, "test")
	if err != nil {
		return err
	}
	reporter := evaluation.NewReporter(evaluation.Config{
		BatchSize:  cfg.Train.BatchSize,
		NumClasses: cfg.Model.ClassNum,
	}, a.collator, a.encoder, clf, a.recorder, a.log)

	report, err := reporter.Test(ctx, test)
	if err != nil {
		return err
	}
	a.ui.Output(ports.RenderReport(report))
	return nil
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           internal.DefaultAppName,
		Short:         "BiLSTM sentiment classifier on a frozen BERT encoder",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ./config.yaml or "+internal.DefaultGlobalConfig+")")

	root.AddCommand(&cobra.Command{
		Use:   "train",
		Short: "fit the classifier, keeping the best checkpoint by validation loss",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTrain(cmd.Context())
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "test",
		Short: "evaluate a checkpoint on the test split",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTest(cmd.Context())
		},
	})
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		ports.NewConsole(nil, nil).Error("bertlstm failed", err)
		stop()
		os.Exit(1)
	}
}
