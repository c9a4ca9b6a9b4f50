// Package dataset reads labelled sentiment corpora and serves them in batches.
package dataset

import (
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Sample is one labelled text. Label is the raw sentiment in {-1, 0, 1}.
type Sample struct {
	Text  string
	Label int
}

// Dataset is an indexable, finite sequence of samples.
type Dataset interface {
	Len() int
	Get(i int) (Sample, error)
}

// Corpus is an in-memory split loaded from disk.
type Corpus struct {
	path    string
	samples []Sample
}

var _ Dataset = (*Corpus)(nil)

// NewCorpus wraps already loaded samples, validating every label.
func NewCorpus(samples []Sample) (*Corpus, error) {
	for i, s := range samples {
		if err := checkLabel(s.Label); err != nil {
			return nil, errors.Wrapf(err, "record %d", i)
		}
	}
	return &Corpus{samples: samples}, nil
}

// Open loads the named split. path may be a .csv or .parquet file, or a
// directory holding <split>.csv or <split>.parquet.
func Open(path, split string) (*Corpus, error) {
	file, err := resolve(path, split)
	if err != nil {
		return nil, err
	}

	var samples []Sample
	switch strings.ToLower(filepath.Ext(file)) {
	case ".csv":
		samples, err = readCSV(file)
	case ".parquet":
		samples, err = readParquet(file)
	default:
		return nil, errors.Wrapf(ErrDataAccess, "%s: unsupported file type", file)
	}
	if err != nil {
		return nil, err
	}
	return &Corpus{path: file, samples: samples}, nil
}

func resolve(path, split string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", errors.Wrapf(ErrDataAccess, "%s: %v", path, err)
	}
	if !info.IsDir() {
		return path, nil
	}
	for _, ext := range []string{".csv", ".parquet"} {
		candidate := filepath.Join(path, split+ext)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", errors.Wrapf(ErrDataAccess, "%s: no %s split found", path, split)
}

// Len returns the number of samples.
func (c *Corpus) Len() int { return len(c.samples) }

// Path returns the file the corpus was read from, empty for in-memory corpora.
func (c *Corpus) Path() string { return c.path }

// Get returns the i-th sample.
func (c *Corpus) Get(i int) (Sample, error) {
	if i < 0 || i >= len(c.samples) {
		return Sample{}, errors.Wrapf(ErrDataAccess, "index %d out of range [0, %d)", i, len(c.samples))
	}
	return c.samples[i], nil
}

func checkLabel(label int) error {
	if label < -1 || label > 1 {
		return errors.Wrapf(ErrDataAccess, "label %d outside {-1, 0, 1}", label)
	}
	return nil
}

// parseLabel accepts integral values written as "1", "-1" or "1.0".
func parseLabel(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if n, err := strconv.Atoi(raw); err == nil {
		return n, checkLabel(n)
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f != math.Trunc(f) {
		return 0, errors.Wrapf(ErrDataAccess, "label %q is not an integer", raw)
	}
	n := int(f)
	return n, checkLabel(n)
}
