package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"

	"gonum.org/v1/gonum/mat"
)

// hashEncoder is a deterministic stand-in for BERT used by dev runs and tests.
// Each token's vector comes from sha256 of its id and segment, plus a small
// sinusoidal position term so identical tokens differ by position.
type hashEncoder struct{ dims int }

func NewHashEncoder(dims int) *hashEncoder {
	if dims <= 0 {
		dims = BERTHiddenSize
	}
	return &hashEncoder{dims: dims}
}

func (h *hashEncoder) HiddenSize() int { return h.dims }

func (h *hashEncoder) Encode(ctx context.Context, ids, mask, segments [][]int64) ([]*mat.Dense, error) {
	if err := checkShapes(ids, mask, segments); err != nil {
		return nil, err
	}
	out := make([]*mat.Dense, len(ids))
	var key [16]byte
	for i, row := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if len(row) == 0 {
			continue
		}
		m := mat.NewDense(len(row), h.dims, nil)
		for t, id := range row {
			binary.LittleEndian.PutUint64(key[:8], uint64(id))
			binary.LittleEndian.PutUint64(key[8:], uint64(segments[i][t]))
			sum := sha256.Sum256(key[:])
			vec := m.RawRowView(t)
			// repeat hash bytes to fill dims
			for j := range vec {
				b := sum[j%len(sum)]
				freq := math.Pow(10000, -float64(2*(j/2))/float64(h.dims))
				vec[j] = (float64(b)-128.0)/128.0 + 0.1*math.Sin(float64(t)*freq)
			}
		}
		out[i] = m
	}
	return out, nil
}

func (h *hashEncoder) Close() error { return nil }
