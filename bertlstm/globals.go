package internal

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

var (
	// DefaultAppName is used for the config directory and env prefix
	DefaultAppName        = "bertlstm"
	DefaultEnvPrefix      = "BERTLSTM"
	DefaultConfigPath     = filepath.Join(getHomeDir(), ".config", DefaultAppName)
	DefaultCacheDir       = filepath.Join(DefaultConfigPath, ".cache")
	DefaultCheckpointDir  = "checkpoints"
	DefaultMetricsDBPath  = filepath.Join(DefaultConfigPath, "metrics.db")
	DefaultGlobalConfig   = filepath.Join(DefaultConfigPath, "config.yaml")
	DefaultEncoderModelID = "bert-base-chinese"

	// Default data locations mirror the cleaned corpus layout
	DefaultTrainPath = filepath.Join("data", "archive", "train_clean.csv")
	DefaultValPath   = filepath.Join("data", "archive", "val_clean.csv")
	DefaultTestPath  = filepath.Join("data", "archive", "test_clean.csv")
)

func getHomeDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		cwd, cwdErr := os.Getwd()
		if cwdErr != nil {
			log.Printf("Unable to get home or working directory, using /tmp: %v", err)
			return "/tmp"
		}
		log.Printf("Unable to get home directory, using current working directory: %v", err)
		return cwd
	}
	return homeDir
}

// GetLogger returns a properly configured zerolog logger instance
func GetLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}

// GetConsoleLogger returns a human readable logger for interactive runs.
func GetConsoleLogger(w io.Writer, level zerolog.Level) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	out := zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}
