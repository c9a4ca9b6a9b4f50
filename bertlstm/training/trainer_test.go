package training

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"testing"

	"github.com/ZanzyTHEbar/bert-bilstm/bertlstm/checkpoint"
	"github.com/ZanzyTHEbar/bert-bilstm/bertlstm/collate"
	"github.com/ZanzyTHEbar/bert-bilstm/bertlstm/dataset"
	"github.com/ZanzyTHEbar/bert-bilstm/bertlstm/embedding"
	"github.com/ZanzyTHEbar/bert-bilstm/bertlstm/embedding/tokenizer"
	"github.com/ZanzyTHEbar/bert-bilstm/bertlstm/metrics"
	"github.com/ZanzyTHEbar/bert-bilstm/bertlstm/model"
	"github.com/ZanzyTHEbar/bert-bilstm/bertlstm/optim"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

const (
	testWidth  = 8
	testMaxLen = 10
)

type TrainerTestSuite struct {
	suite.Suite
	dir   string
	train *dataset.Corpus
	val   *dataset.Corpus
	sink  *metrics.MemorySink
}

func TestTrainerSuite(t *testing.T) {
	suite.Run(t, new(TrainerTestSuite))
}

func corpus(t require.TestingT, n int) *dataset.Corpus {
	words := []string{"good", "bad", "fine", "great", "awful", "okay"}
	samples := make([]dataset.Sample, n)
	for i := range samples {
		samples[i] = dataset.Sample{
			Text:  fmt.Sprintf("%s %s", words[i%len(words)], words[(i*5+1)%len(words)]),
			Label: i%3 - 1,
		}
	}
	c, err := dataset.NewCorpus(samples)
	require.NoError(t, err)
	return c
}

func (s *TrainerTestSuite) SetupTest() {
	s.dir = s.T().TempDir()
	s.train = corpus(s.T(), 12)
	s.val = corpus(s.T(), 6)
	s.sink = &metrics.MemorySink{}
}

type fixture struct {
	model *model.Classifier
	deps  Deps
}

func (s *TrainerTestSuite) fixture(withCheckpoints bool, policies ...Policy) fixture {
	vocab := map[string]int64{"[PAD]": 0, "[UNK]": 1, "[CLS]": 2, "[SEP]": 3}
	for i, w := range []string{"good", "bad", "fine", "great", "awful", "okay"} {
		vocab[w] = int64(10 + i)
	}
	tok := tokenizer.NewWordPiece(vocab, testMaxLen)
	enc := embedding.NewHashEncoder(testWidth)

	hp := model.Hyperparameters{InputDim: testWidth, HiddenDim: 4, OutputDim: 3, NumLayers: 2, Dropout: 0.5}
	clf, err := model.NewClassifier(hp, enc.HiddenSize(), model.WithSeed(1), model.WithWorkers(2))
	require.NoError(s.T(), err)

	deps := Deps{
		Collator:  collate.New(tok, testMaxLen),
		Encoder:   enc,
		Model:     clf,
		Optimizer: optim.NewAdamW(clf.Parameters(), optim.DefaultAdamW()),
		Recorder:  metrics.NewRecorder("test-run", s.sink),
		Policies:  policies,
		Logger:    zerolog.Nop(),
	}
	if withCheckpoints {
		m, err := checkpoint.NewManager(filepath.Join(s.dir, "ckpt"), zerolog.Nop())
		require.NoError(s.T(), err)
		deps.Checkpoints = m
	}
	return fixture{model: clf, deps: deps}
}

func (s *TrainerTestSuite) TestFitRunsAllEpochsAndKeepsBest() {
	f := s.fixture(true)
	tr, err := New(Config{Epochs: 3, BatchSize: 5, Shuffle: true, Seed: 4, FailOnDivergence: true}, f.deps)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), StateInit, tr.State())

	res, err := tr.Fit(context.Background(), s.train, s.val)
	require.NoError(s.T(), err)

	assert.Equal(s.T(), StateStopped, tr.State())
	assert.Equal(s.T(), 3, res.Epochs)
	assert.Equal(s.T(), 9, res.Steps)
	assert.False(s.T(), res.StoppedEarly)
	require.Len(s.T(), res.History, 3)
	for _, h := range res.History {
		assert.True(s.T(), h.Validated)
		assert.False(s.T(), math.IsNaN(h.ValLoss))
	}

	files, err := filepath.Glob(filepath.Join(s.dir, "ckpt", "*.safetensors"))
	require.NoError(s.T(), err)
	require.Len(s.T(), files, 1)
	assert.Equal(s.T(), res.BestCheckpoint, files[0])

	minLoss := math.Inf(1)
	for _, h := range res.History {
		minLoss = math.Min(minLoss, h.ValLoss)
	}
	assert.Equal(s.T(), minLoss, res.BestLoss)

	loaded, meta, err := checkpoint.Load(res.BestCheckpoint, f.model.Hyperparameters())
	require.NoError(s.T(), err)
	assert.Equal(s.T(), "test-run", meta.RunID)
	assert.NotNil(s.T(), loaded)
}

func (s *TrainerTestSuite) TestMetricsAreLoggedAtTheRightScope() {
	f := s.fixture(false)
	tr, err := New(Config{Epochs: 2, BatchSize: 5, FailOnDivergence: true}, f.deps)
	require.NoError(s.T(), err)
	_, err = tr.Fit(context.Background(), s.train, s.val)
	require.NoError(s.T(), err)

	assert.Len(s.T(), s.sink.Points(MetricTrainLoss, metrics.ScopeStep), 6)
	assert.Len(s.T(), s.sink.Points(MetricTrainLoss, metrics.ScopeEpoch), 2)
	assert.Len(s.T(), s.sink.Points(MetricValLoss, metrics.ScopeEpoch), 2)
	assert.Empty(s.T(), s.sink.Points(MetricValLoss, metrics.ScopeStep))
}

func (s *TrainerTestSuite) TestValidationCadence() {
	f := s.fixture(false)
	tr, err := New(Config{Epochs: 3, BatchSize: 6, ValCheckInterval: 2, FailOnDivergence: true}, f.deps)
	require.NoError(s.T(), err)
	res, err := tr.Fit(context.Background(), s.train, s.val)
	require.NoError(s.T(), err)

	var validated []int
	for _, h := range res.History {
		if h.Validated {
			validated = append(validated, h.Epoch)
		}
	}
	assert.Equal(s.T(), []int{2, 3}, validated)
}

type scriptedPolicy struct{ stopAt int }

func (p scriptedPolicy) Evaluate(epoch int, _ float64) Decision {
	if epoch == p.stopAt {
		return Stop
	}
	return Continue
}

func (s *TrainerTestSuite) TestPolicyStopHaltsEarly() {
	f := s.fixture(false, scriptedPolicy{stopAt: 2})
	tr, err := New(Config{Epochs: 5, BatchSize: 6, FailOnDivergence: true}, f.deps)
	require.NoError(s.T(), err)
	res, err := tr.Fit(context.Background(), s.train, s.val)
	require.NoError(s.T(), err)

	assert.Equal(s.T(), 2, res.Epochs)
	assert.True(s.T(), res.StoppedEarly)
	assert.Empty(s.T(), res.BestCheckpoint)
}

func (s *TrainerTestSuite) poison(m *model.Classifier) {
	p, ok := m.Param("fc.bias")
	require.True(s.T(), ok)
	p.Data[0] = math.NaN()
}

func (s *TrainerTestSuite) TestDivergenceFailsFast() {
	f := s.fixture(false)
	s.poison(f.model)
	tr, err := New(Config{Epochs: 2, BatchSize: 6, FailOnDivergence: true}, f.deps)
	require.NoError(s.T(), err)

	_, err = tr.Fit(context.Background(), s.train, s.val)
	assert.ErrorIs(s.T(), err, ErrOptimizationDiverged)
	assert.Equal(s.T(), StateStopped, tr.State())
}

func (s *TrainerTestSuite) TestDivergenceSkipsStepWhenTolerated() {
	f := s.fixture(false)
	s.poison(f.model)
	w, ok := f.model.Param("lstm.weight_ih_l0")
	require.True(s.T(), ok)
	before := append([]float64(nil), w.Data...)

	tr, err := New(Config{Epochs: 1, BatchSize: 6, FailOnDivergence: false}, f.deps)
	require.NoError(s.T(), err)
	res, err := tr.Fit(context.Background(), s.train, s.val)
	require.NoError(s.T(), err)

	assert.Equal(s.T(), 2, res.History[0].Skipped)
	assert.Equal(s.T(), 0, res.Steps)
	assert.Equal(s.T(), before, w.Data)
}

func (s *TrainerTestSuite) TestCancellation() {
	f := s.fixture(false)
	tr, err := New(Config{Epochs: 2, BatchSize: 6}, f.deps)
	require.NoError(s.T(), err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = tr.Fit(ctx, s.train, s.val)
	assert.ErrorIs(s.T(), err, context.Canceled)
}

func (s *TrainerTestSuite) TestEmptyTrainingSplit() {
	f := s.fixture(false)
	tr, err := New(Config{Epochs: 1}, f.deps)
	require.NoError(s.T(), err)
	empty, err := dataset.NewCorpus(nil)
	require.NoError(s.T(), err)
	_, err = tr.Fit(context.Background(), empty, s.val)
	assert.ErrorIs(s.T(), err, dataset.ErrDataAccess)
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(Config{}, Deps{})
	assert.Error(t, err)
}
