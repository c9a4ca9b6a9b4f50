package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// ConfigTestSuite tests the config package functionality
type ConfigTestSuite struct {
	suite.Suite
	tempDir string
	origDir string
}

func TestConfigSuite(t *testing.T) {
	suite.Run(t, new(ConfigTestSuite))
}

func (suite *ConfigTestSuite) SetupTest() {
	var err error
	suite.origDir, err = os.Getwd()
	require.NoError(suite.T(), err)

	tempDir, err := os.MkdirTemp("", "bertlstm-config-test-*")
	require.NoError(suite.T(), err)
	suite.tempDir = tempDir

	// Change to temp directory so no stray ./config.yaml is picked up
	err = os.Chdir(tempDir)
	require.NoError(suite.T(), err)
}

func (suite *ConfigTestSuite) TearDownTest() {
	if suite.origDir != "" {
		os.Chdir(suite.origDir)
	}
	if suite.tempDir != "" {
		os.RemoveAll(suite.tempDir)
	}
}

func (suite *ConfigTestSuite) TestLoadConfigWithDefaults() {
	cfg, err := LoadConfig("")
	require.NoError(suite.T(), err)
	require.NotNil(suite.T(), cfg)

	assert.Equal(suite.T(), 256, cfg.Train.BatchSize)
	assert.Equal(suite.T(), 10, cfg.Train.Epochs)
	assert.InDelta(suite.T(), 0.001, cfg.Train.LearningRate, 1e-12)
	assert.InDelta(suite.T(), 0.5, cfg.Model.Dropout, 1e-12)
	assert.Equal(suite.T(), 768, cfg.Model.RNNHidden)
	assert.Equal(suite.T(), 2, cfg.Model.RNNLayers)
	assert.Equal(suite.T(), 3, cfg.Model.ClassNum)
	assert.Equal(suite.T(), 200, cfg.Data.MaxLength)
	assert.True(suite.T(), cfg.Train.FailOnDivergence)
	assert.False(suite.T(), cfg.Train.EarlyStopping.Enabled)
	assert.Equal(suite.T(), 4, cfg.Train.EarlyStopping.Patience)
	assert.Equal(suite.T(), "checkpoints", cfg.Checkpoint.Dir)
	assert.Empty(suite.T(), cfg.Metrics.DSN)
}

func (suite *ConfigTestSuite) TestLoadConfigFromFile() {
	content := `
train:
  batch_size: 16
  epochs: 3
  early_stopping:
    enabled: true
    patience: 2
model:
  rnn_hidden: 32
encoder:
  provider: hash
`
	configFile := filepath.Join(suite.tempDir, "config.yaml")
	require.NoError(suite.T(), os.WriteFile(configFile, []byte(content), 0o644))

	cfg, err := LoadConfig(configFile)
	require.NoError(suite.T(), err)

	assert.Equal(suite.T(), 16, cfg.Train.BatchSize)
	assert.Equal(suite.T(), 3, cfg.Train.Epochs)
	assert.True(suite.T(), cfg.Train.EarlyStopping.Enabled)
	assert.Equal(suite.T(), 2, cfg.Train.EarlyStopping.Patience)
	assert.Equal(suite.T(), 32, cfg.Model.RNNHidden)
	assert.Equal(suite.T(), "hash", cfg.Encoder.Provider)
	// untouched keys keep defaults
	assert.Equal(suite.T(), 3, cfg.Model.ClassNum)
}

func (suite *ConfigTestSuite) TestLoadConfigFromWorkingDirectory() {
	content := "train:\n  epochs: 7\n"
	require.NoError(suite.T(), os.WriteFile(filepath.Join(suite.tempDir, "config.yaml"), []byte(content), 0o644))

	cfg, err := LoadConfig("")
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), 7, cfg.Train.Epochs)
}

func (suite *ConfigTestSuite) TestEnvironmentOverride() {
	suite.T().Setenv("BERTLSTM_TRAIN_BATCH_SIZE", "8")
	suite.T().Setenv("BERTLSTM_MODEL_DROPOUT", "0.1")

	cfg, err := LoadConfig("")
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), 8, cfg.Train.BatchSize)
	assert.InDelta(suite.T(), 0.1, cfg.Model.Dropout, 1e-12)
}

func (suite *ConfigTestSuite) TestLoadConfigInvalidFile() {
	cfg, err := LoadConfig("/nonexistent/path/config.yaml")
	assert.Error(suite.T(), err)
	assert.Nil(suite.T(), cfg)
}

func (suite *ConfigTestSuite) TestLoadConfigMalformedFile() {
	malformed := `
train:
  batch_size: [unclosed bracket
`
	configFile := filepath.Join(suite.tempDir, "malformed.yaml")
	require.NoError(suite.T(), os.WriteFile(configFile, []byte(malformed), 0o644))

	cfg, err := LoadConfig(configFile)
	assert.Error(suite.T(), err)
	assert.Nil(suite.T(), cfg)
}

func (suite *ConfigTestSuite) TestLoadConfigRejectsOutOfRange() {
	content := "model:\n  dropout: 1.5\n"
	configFile := filepath.Join(suite.tempDir, "bad.yaml")
	require.NoError(suite.T(), os.WriteFile(configFile, []byte(content), 0o644))

	cfg, err := LoadConfig(configFile)
	assert.ErrorIs(suite.T(), err, ErrInvalidConfig)
	assert.Nil(suite.T(), cfg)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"zero batch":        func(c *Config) { c.Train.BatchSize = 0 },
		"zero epochs":       func(c *Config) { c.Train.Epochs = 0 },
		"negative lr":       func(c *Config) { c.Train.LearningRate = -1 },
		"zero val interval": func(c *Config) { c.Train.ValCheckInterval = 0 },
		"negative patience": func(c *Config) { c.Train.EarlyStopping.Patience = -1 },
		"dropout one":       func(c *Config) { c.Model.Dropout = 1 },
		"no hidden":         func(c *Config) { c.Model.RNNHidden = 0 },
		"no layers":         func(c *Config) { c.Model.RNNLayers = 0 },
		"one class":         func(c *Config) { c.Model.ClassNum = 1 },
		"short max length":  func(c *Config) { c.Data.MaxLength = 1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			require.NoError(t, cfg.Validate())
			mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}
