//go:build !onnx
// +build !onnx

package embedding

import "fmt"

// newONNXEncoder is a stub used when built without the "onnx" build tag.
func newONNXEncoder(opts Options) (Encoder, error) {
	return nil, fmt.Errorf("onnx encoder not available: build with -tags onnx and provide an exported BERT model at %q", opts.ModelPath)
}
