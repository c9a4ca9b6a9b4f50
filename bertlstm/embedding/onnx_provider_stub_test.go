//go:build !onnx
// +build !onnx

package embedding

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestONNXUnavailableWithoutTag(t *testing.T) {
	_, err := NewEncoder(Options{Provider: "onnx", ModelPath: "model.onnx"})
	assert.Error(t, err)
}
