package config

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"

	internal "github.com/ZanzyTHEbar/bert-bilstm/bertlstm"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// ErrInvalidConfig is returned by Validate for out-of-range settings.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config stores all configuration of the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	Data       DataConfig       `mapstructure:"data"`
	Encoder    EncoderConfig    `mapstructure:"encoder"`
	Model      ModelConfig      `mapstructure:"model"`
	Train      TrainConfig      `mapstructure:"train"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	LogLevel   string           `mapstructure:"log_level"`
}

// DataConfig points at the corpus splits.
type DataConfig struct {
	TrainPath string `mapstructure:"train_path"`
	ValPath   string `mapstructure:"val_path"`
	TestPath  string `mapstructure:"test_path"`
	MaxLength int    `mapstructure:"max_length"`
}

// EncoderConfig selects the frozen encoder and its tokenizer.
type EncoderConfig struct {
	Provider          string `mapstructure:"provider"`
	ModelID           string `mapstructure:"model_id"`
	ModelPath         string `mapstructure:"model_path"`
	VocabPath         string `mapstructure:"vocab_path"`
	Tokenizer         string `mapstructure:"tokenizer"`
	ExecutionProvider string `mapstructure:"execution_provider"`
	DeviceID          int    `mapstructure:"device_id"`
	BatchSize         int    `mapstructure:"batch_size"`
}

// ModelConfig holds the classifier head hyperparameters.
type ModelConfig struct {
	Dropout   float64 `mapstructure:"dropout"`
	RNNHidden int     `mapstructure:"rnn_hidden"`
	RNNLayers int     `mapstructure:"rnn_layers"`
	ClassNum  int     `mapstructure:"class_num"`
	Seed      uint64  `mapstructure:"seed"`
}

// EarlyStoppingConfig configures the advisory early stopping policy.
type EarlyStoppingConfig struct {
	Enabled  bool    `mapstructure:"enabled"`
	Patience int     `mapstructure:"patience"`
	MinDelta float64 `mapstructure:"min_delta"`
}

// TrainConfig holds optimisation and loop settings.
type TrainConfig struct {
	BatchSize        int                 `mapstructure:"batch_size"`
	Epochs           int                 `mapstructure:"epochs"`
	LearningRate     float64             `mapstructure:"learning_rate"`
	WeightDecay      float64             `mapstructure:"weight_decay"`
	Workers          int                 `mapstructure:"workers"`
	LogEveryNSteps   int                 `mapstructure:"log_every_n_steps"`
	ValCheckInterval int                 `mapstructure:"val_check_interval"`
	FailOnDivergence bool                `mapstructure:"fail_on_divergence"`
	Shuffle          bool                `mapstructure:"shuffle"`
	EarlyStopping    EarlyStoppingConfig `mapstructure:"early_stopping"`
}

// CheckpointConfig controls where checkpoints are written and read.
type CheckpointConfig struct {
	Dir  string `mapstructure:"dir"`
	Path string `mapstructure:"path"`
}

// MetricsConfig configures the durable metric store. An empty DSN disables it.
type MetricsConfig struct {
	DSN       string `mapstructure:"dsn"`
	AuthToken string `mapstructure:"auth_token"`
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")

	v.SetDefault("data.train_path", internal.DefaultTrainPath)
	v.SetDefault("data.val_path", internal.DefaultValPath)
	v.SetDefault("data.test_path", internal.DefaultTestPath)
	v.SetDefault("data.max_length", 200)

	v.SetDefault("encoder.provider", "onnx")
	v.SetDefault("encoder.model_id", internal.DefaultEncoderModelID)
	v.SetDefault("encoder.model_path", filepath.Join(internal.DefaultCacheDir, internal.DefaultEncoderModelID, "model.onnx"))
	v.SetDefault("encoder.vocab_path", filepath.Join(internal.DefaultCacheDir, internal.DefaultEncoderModelID, "vocab.txt"))
	v.SetDefault("encoder.tokenizer", "sugarme")
	v.SetDefault("encoder.execution_provider", "cpu")
	v.SetDefault("encoder.device_id", 0)
	v.SetDefault("encoder.batch_size", 32)

	v.SetDefault("model.dropout", 0.5)
	v.SetDefault("model.rnn_hidden", 768)
	v.SetDefault("model.rnn_layers", 2)
	v.SetDefault("model.class_num", 3)
	v.SetDefault("model.seed", 42)

	v.SetDefault("train.batch_size", 256)
	v.SetDefault("train.epochs", 10)
	v.SetDefault("train.learning_rate", 0.001)
	v.SetDefault("train.weight_decay", 0.01)
	v.SetDefault("train.workers", runtime.GOMAXPROCS(0))
	v.SetDefault("train.log_every_n_steps", 10)
	v.SetDefault("train.val_check_interval", 1)
	v.SetDefault("train.fail_on_divergence", true)
	v.SetDefault("train.shuffle", true)
	v.SetDefault("train.early_stopping.enabled", false)
	v.SetDefault("train.early_stopping.patience", 4)
	v.SetDefault("train.early_stopping.min_delta", 0.0)

	v.SetDefault("checkpoint.dir", internal.DefaultCheckpointDir)
	v.SetDefault("checkpoint.path", "")

	v.SetDefault("metrics.dsn", "")
	v.SetDefault("metrics.auth_token", "")
}

// LoadConfig reads configuration from file or environment variables.
// Each call uses its own viper instance so configurations never leak between callers.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath(internal.DefaultConfigPath)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	SetDefaults(v)

	v.SetEnvPrefix(internal.DefaultEnvPrefix)
	v.AutomaticEnv()
	// train.batch_size becomes BERTLSTM_TRAIN_BATCH_SIZE
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || configPath != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No config file found; defaults and env apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration with every default applied.
func Default() *Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	// Defaults always decode.
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// Validate checks ranges the rest of the pipeline relies on.
func (c *Config) Validate() error {
	switch {
	case c.Train.BatchSize <= 0:
		return errors.Wrapf(ErrInvalidConfig, "train.batch_size must be positive, got %d", c.Train.BatchSize)
	case c.Train.Epochs <= 0:
		return errors.Wrapf(ErrInvalidConfig, "train.epochs must be positive, got %d", c.Train.Epochs)
	case c.Train.LearningRate <= 0:
		return errors.Wrapf(ErrInvalidConfig, "train.learning_rate must be positive, got %g", c.Train.LearningRate)
	case c.Train.ValCheckInterval <= 0:
		return errors.Wrapf(ErrInvalidConfig, "train.val_check_interval must be positive, got %d", c.Train.ValCheckInterval)
	case c.Train.EarlyStopping.Patience < 0:
		return errors.Wrapf(ErrInvalidConfig, "train.early_stopping.patience must not be negative, got %d", c.Train.EarlyStopping.Patience)
	case c.Model.Dropout < 0 || c.Model.Dropout >= 1:
		return errors.Wrapf(ErrInvalidConfig, "model.dropout must be in [0, 1), got %g", c.Model.Dropout)
	case c.Model.RNNHidden <= 0:
		return errors.Wrapf(ErrInvalidConfig, "model.rnn_hidden must be positive, got %d", c.Model.RNNHidden)
	case c.Model.RNNLayers <= 0:
		return errors.Wrapf(ErrInvalidConfig, "model.rnn_layers must be positive, got %d", c.Model.RNNLayers)
	case c.Model.ClassNum < 2:
		return errors.Wrapf(ErrInvalidConfig, "model.class_num must be at least 2, got %d", c.Model.ClassNum)
	case c.Data.MaxLength < 2:
		return errors.Wrapf(ErrInvalidConfig, "data.max_length must leave room for [CLS] and [SEP], got %d", c.Data.MaxLength)
	}
	return nil
}
