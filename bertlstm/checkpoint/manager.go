package checkpoint

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/ZanzyTHEbar/bert-bilstm/bertlstm/model"

	"github.com/gofrs/flock"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const lockFile = ".checkpoint.lock"

var fileNameRe = regexp.MustCompile(`^model-epoch=(\d+)-val_loss=(-?[0-9.]+|NaN|[+-]Inf)\.safetensors$`)

// FileName is the checkpoint name for an epoch and its validation loss.
func FileName(epoch int, valLoss float64) string {
	return fmt.Sprintf("model-epoch=%02d-val_loss=%.2f.safetensors", epoch, valLoss)
}

// Manager keeps exactly one checkpoint, the best seen so far, in a directory.
// Checkpoints left there by earlier runs are replaced by the first save.
type Manager struct {
	dir    string
	best   string
	stale  []string
	logger zerolog.Logger
}

// NewManager prepares dir for checkpoints.
func NewManager(dir string, logger zerolog.Logger) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "failed to create checkpoint directory %s", dir)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list checkpoint directory %s", dir)
	}
	m := &Manager{dir: dir, logger: logger.With().Str("component", "checkpoint").Logger()}
	for _, e := range entries {
		if !e.IsDir() && fileNameRe.MatchString(e.Name()) {
			m.stale = append(m.stale, filepath.Join(dir, e.Name()))
		}
	}
	if len(m.stale) > 0 {
		m.logger.Info().Int("count", len(m.stale)).Str("dir", dir).Msg("existing checkpoints will be replaced on first save")
	}
	return m, nil
}

// Dir returns the checkpoint directory.
func (m *Manager) Dir() string { return m.dir }

// Best returns the path of the current best checkpoint, or "".
func (m *Manager) Best() string { return m.best }

// SaveBest writes a new best checkpoint and removes the previous one. The
// directory lock keeps concurrent runs from interleaving writes.
func (m *Manager) SaveBest(c *model.Classifier, meta Metadata) (string, error) {
	lock := flock.New(filepath.Join(m.dir, lockFile))
	if err := lock.Lock(); err != nil {
		return "", errors.Wrapf(err, "failed to lock %s", m.dir)
	}
	defer lock.Unlock()

	path := filepath.Join(m.dir, FileName(meta.Epoch, meta.ValLoss))
	if err := Save(path, c, meta); err != nil {
		return "", err
	}
	old := m.stale
	if m.best != "" {
		old = append(old, m.best)
	}
	for _, p := range old {
		if p == path {
			continue
		}
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			m.logger.Warn().Err(err).Str("path", p).Msg("failed to remove previous checkpoint")
		}
	}
	m.stale = nil
	m.logger.Info().Str("path", path).Int("epoch", meta.Epoch).Float64("val_loss", meta.ValLoss).Msg("saved checkpoint")
	m.best = path
	return path, nil
}

// FindBest returns the checkpoint in dir whose name carries the lowest
// validation loss. Ties go to the later epoch.
func FindBest(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", errors.Wrapf(ErrCheckpointLoad, "%s: %v", dir, err)
	}
	best := ""
	bestLoss := math.Inf(1)
	bestEpoch := -1
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		match := fileNameRe.FindStringSubmatch(e.Name())
		if match == nil {
			continue
		}
		epoch, _ := strconv.Atoi(match[1])
		loss, err := strconv.ParseFloat(match[2], 64)
		if err != nil || math.IsNaN(loss) {
			continue
		}
		if best == "" || loss < bestLoss || (loss == bestLoss && epoch > bestEpoch) {
			best, bestLoss, bestEpoch = filepath.Join(dir, e.Name()), loss, epoch
		}
	}
	if best == "" {
		return "", errors.Wrapf(ErrCheckpointLoad, "no checkpoint found in %s", dir)
	}
	return best, nil
}
