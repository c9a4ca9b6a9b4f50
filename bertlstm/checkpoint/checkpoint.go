// Package checkpoint persists classifier parameters and hyperparameters as
// safetensors files and keeps the best one on disk.
package checkpoint

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/ZanzyTHEbar/bert-bilstm/bertlstm/model"

	"github.com/pkg/errors"
)

// ErrCheckpointLoad is returned when a checkpoint is missing, corrupt or
// incompatible with the requested hyperparameters.
var ErrCheckpointLoad = errors.New("checkpoint load error")

// Metadata records where a checkpoint came from.
type Metadata struct {
	Epoch   int
	ValLoss float64
	RunID   string
}

const (
	keyDropout   = "dropout"
	keyHiddenDim = "hidden_dim"
	keyOutputDim = "output_dim"
	keyInputDim  = "input_dim"
	keyNumLayers = "num_layers"
	keyEpoch     = "epoch"
	keyValLoss   = "val_loss"
	keyRunID     = "run_id"
)

// Save writes the classifier to path atomically.
func Save(path string, c *model.Classifier, meta Metadata) error {
	hp := c.Hyperparameters()
	md := map[string]string{
		keyDropout:   strconv.FormatFloat(hp.Dropout, 'g', -1, 64),
		keyHiddenDim: strconv.Itoa(hp.HiddenDim),
		keyOutputDim: strconv.Itoa(hp.OutputDim),
		keyInputDim:  strconv.Itoa(hp.InputDim),
		keyNumLayers: strconv.Itoa(hp.NumLayers),
		keyEpoch:     strconv.Itoa(meta.Epoch),
		keyValLoss:   strconv.FormatFloat(meta.ValLoss, 'g', -1, 64),
		keyRunID:     meta.RunID,
	}

	params := c.Parameters()
	tensors := make([]tensor, len(params))
	for i, p := range params {
		tensors[i] = tensor{name: p.Name, shape: p.Shape, data: p.Data}
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".ckpt-*")
	if err != nil {
		return errors.Wrap(err, "failed to create checkpoint")
	}
	defer os.Remove(tmp.Name())

	if err := writeSafetensors(tmp, tensors, md); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "failed to write checkpoint %s", path)
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "failed to write checkpoint %s", path)
	}
	return errors.Wrapf(os.Rename(tmp.Name(), path), "failed to move checkpoint to %s", path)
}

// Inspect reads the hyperparameters and metadata stored in a checkpoint
// without loading tensors.
func Inspect(path string) (model.Hyperparameters, Metadata, error) {
	f, err := openSafetensors(path)
	if err != nil {
		return model.Hyperparameters{}, Metadata{}, errors.Wrapf(ErrCheckpointLoad, "%s: %v", path, err)
	}
	defer f.Close()
	hp, meta, err := decodeMetadata(f.metadata)
	if err != nil {
		return model.Hyperparameters{}, Metadata{}, errors.Wrapf(ErrCheckpointLoad, "%s: %v", path, err)
	}
	return hp, meta, nil
}

// Load rebuilds a classifier from path. The stored hyperparameters must equal
// want; a zero want.InputDim accepts whatever input width was stored.
func Load(path string, want model.Hyperparameters, opts ...model.Option) (*model.Classifier, Metadata, error) {
	f, err := openSafetensors(path)
	if err != nil {
		return nil, Metadata{}, errors.Wrapf(ErrCheckpointLoad, "%s: %v", path, err)
	}
	defer f.Close()

	hp, meta, err := decodeMetadata(f.metadata)
	if err != nil {
		return nil, Metadata{}, errors.Wrapf(ErrCheckpointLoad, "%s: %v", path, err)
	}
	if want.InputDim == 0 {
		want.InputDim = hp.InputDim
	}
	if hp != want {
		return nil, Metadata{}, errors.Wrapf(ErrCheckpointLoad, "%s: stored hyperparameters %+v, requested %+v", path, hp, want)
	}

	c, err := model.NewClassifier(hp, hp.InputDim, opts...)
	if err != nil {
		return nil, Metadata{}, errors.Wrapf(ErrCheckpointLoad, "%s: %v", path, err)
	}
	for _, p := range c.Parameters() {
		if err := f.readInto(p.Name, p.Shape, p.Data); err != nil {
			return nil, Metadata{}, errors.Wrapf(ErrCheckpointLoad, "%s: %v", path, err)
		}
	}
	return c, meta, nil
}

func decodeMetadata(md map[string]string) (model.Hyperparameters, Metadata, error) {
	var (
		hp   model.Hyperparameters
		meta Metadata
		err  error
	)
	atoi := func(key string) int {
		if err != nil {
			return 0
		}
		raw, ok := md[key]
		if !ok {
			err = errors.Errorf("metadata %s missing", key)
			return 0
		}
		var n int
		n, err = strconv.Atoi(raw)
		return n
	}
	atof := func(key string) float64 {
		if err != nil {
			return 0
		}
		raw, ok := md[key]
		if !ok {
			err = errors.Errorf("metadata %s missing", key)
			return 0
		}
		var v float64
		v, err = strconv.ParseFloat(raw, 64)
		return v
	}

	hp.Dropout = atof(keyDropout)
	hp.HiddenDim = atoi(keyHiddenDim)
	hp.OutputDim = atoi(keyOutputDim)
	hp.InputDim = atoi(keyInputDim)
	hp.NumLayers = atoi(keyNumLayers)
	meta.Epoch = atoi(keyEpoch)
	meta.ValLoss = atof(keyValLoss)
	meta.RunID = md[keyRunID]
	return hp, meta, err
}
