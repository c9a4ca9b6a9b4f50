package dataset

import (
	"iter"
	"math/rand/v2"
)

// Loader groups a dataset into fixed-size batches. The last batch may be short.
type Loader struct {
	ds        Dataset
	batchSize int
	shuffle   bool
	seed      uint64
	order     []int
}

// NewLoader builds a loader. With shuffle set, Reshuffle permutes the order
// from a source seeded by (seed, epoch) so runs are reproducible.
func NewLoader(ds Dataset, batchSize int, shuffle bool, seed uint64) *Loader {
	if batchSize <= 0 {
		batchSize = 1
	}
	order := make([]int, ds.Len())
	for i := range order {
		order[i] = i
	}
	return &Loader{ds: ds, batchSize: batchSize, shuffle: shuffle, seed: seed, order: order}
}

// Reshuffle resets the iteration order for epoch. It is a no-op without shuffle.
func (l *Loader) Reshuffle(epoch int) {
	for i := range l.order {
		l.order[i] = i
	}
	if !l.shuffle {
		return
	}
	rng := rand.New(rand.NewPCG(l.seed, uint64(epoch)))
	rng.Shuffle(len(l.order), func(i, j int) {
		l.order[i], l.order[j] = l.order[j], l.order[i]
	})
}

// NumBatches returns ceil(Len / BatchSize).
func (l *Loader) NumBatches() int {
	return (len(l.order) + l.batchSize - 1) / l.batchSize
}

// Batches yields each batch in the current order. Iteration stops at the
// first error.
func (l *Loader) Batches() iter.Seq2[[]Sample, error] {
	return func(yield func([]Sample, error) bool) {
		for start := 0; start < len(l.order); start += l.batchSize {
			end := min(start+l.batchSize, len(l.order))
			batch := make([]Sample, 0, end-start)
			for _, idx := range l.order[start:end] {
				s, err := l.ds.Get(idx)
				if err != nil {
					yield(nil, err)
					return
				}
				batch = append(batch, s)
			}
			if !yield(batch, nil) {
				return
			}
		}
	}
}
