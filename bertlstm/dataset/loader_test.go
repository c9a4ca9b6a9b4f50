package dataset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func corpusOf(t *testing.T, n int) *Corpus {
	t.Helper()
	samples := make([]Sample, n)
	for i := range samples {
		samples[i] = Sample{Text: string(rune('a' + i)), Label: i%3 - 1}
	}
	c, err := NewCorpus(samples)
	require.NoError(t, err)
	return c
}

func collect(t *testing.T, l *Loader) [][]Sample {
	t.Helper()
	var out [][]Sample
	for batch, err := range l.Batches() {
		require.NoError(t, err)
		out = append(out, batch)
	}
	return out
}

func TestLoaderBatchSizes(t *testing.T) {
	l := NewLoader(corpusOf(t, 10), 4, false, 0)
	l.Reshuffle(1)

	batches := collect(t, l)
	require.Len(t, batches, 3)
	assert.Equal(t, 3, l.NumBatches())
	assert.Len(t, batches[0], 4)
	assert.Len(t, batches[1], 4)
	assert.Len(t, batches[2], 2)
	assert.Equal(t, "a", batches[0][0].Text)
	assert.Equal(t, "j", batches[2][1].Text)
}

func TestLoaderShuffleIsSeeded(t *testing.T) {
	ds := corpusOf(t, 20)
	a := NewLoader(ds, 5, true, 7)
	b := NewLoader(ds, 5, true, 7)

	a.Reshuffle(1)
	b.Reshuffle(1)
	assert.Equal(t, collect(t, a), collect(t, b))

	first := collect(t, a)
	a.Reshuffle(2)
	assert.NotEqual(t, first, collect(t, a))

	// every sample appears exactly once
	seen := map[string]int{}
	for _, batch := range collect(t, a) {
		for _, s := range batch {
			seen[s.Text]++
		}
	}
	assert.Len(t, seen, 20)
	for _, n := range seen {
		assert.Equal(t, 1, n)
	}
}

func TestLoaderEmpty(t *testing.T) {
	l := NewLoader(corpusOf(t, 0), 4, true, 1)
	l.Reshuffle(1)
	assert.Empty(t, collect(t, l))
	assert.Zero(t, l.NumBatches())
}
