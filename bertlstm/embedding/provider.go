// Package embedding hosts the frozen pretrained encoder that turns token ids
// into contextual hidden states. Encoders hold no trainable parameters.
package embedding

import (
	"context"
	"fmt"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// BERTHiddenSize is the hidden width of bert-base encoders.
const BERTHiddenSize = 768

// Encoder produces per-token hidden states for a padded batch. Each returned
// matrix is [len(ids[i]), HiddenSize()].
type Encoder interface {
	HiddenSize() int
	Encode(ctx context.Context, ids, mask, segments [][]int64) ([]*mat.Dense, error)
	Close() error
}

// Options select and tune an encoder.
type Options struct {
	// Provider is "onnx" or "hash".
	Provider  string
	ModelPath string
	// ExecutionProvider is "cuda", "tensorrt", "coreml", "dml" or "cpu".
	ExecutionProvider string
	DeviceID          int
	EPOptions         map[string]string
	// BatchSize bounds rows per inference call.
	BatchSize int
	// HiddenSize is used by the hash encoder and as the ONNX fallback when the
	// exported graph leaves the width dynamic.
	HiddenSize int
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = 32
	}
	if o.HiddenSize <= 0 {
		o.HiddenSize = BERTHiddenSize
	}
	o.ExecutionProvider = strings.ToLower(strings.TrimSpace(o.ExecutionProvider))
	return o
}

// NewEncoder selects an encoder by provider name. The ONNX encoder opens its
// session eagerly so configuration errors surface here.
func NewEncoder(opts Options) (Encoder, error) {
	opts = opts.withDefaults()
	switch name := strings.ToLower(strings.TrimSpace(opts.Provider)); {
	case name == "hash" || name == "dev":
		return NewHashEncoder(opts.HiddenSize), nil
	case name == "onnx" || strings.HasPrefix(name, "onnx:"):
		return newONNXEncoder(opts)
	default:
		return nil, fmt.Errorf("unknown encoder provider %q", opts.Provider)
	}
}

func checkShapes(ids, mask, segments [][]int64) error {
	if len(mask) != len(ids) || len(segments) != len(ids) {
		return fmt.Errorf("batch rows disagree: ids %d, mask %d, segments %d", len(ids), len(mask), len(segments))
	}
	for i := range ids {
		if len(mask[i]) != len(ids[i]) || len(segments[i]) != len(ids[i]) {
			return fmt.Errorf("row %d: ids, mask and segments differ in length", i)
		}
	}
	return nil
}
