// Package collate turns raw samples into padded, model-ready batches.
package collate

import (
	"unicode/utf8"

	"github.com/ZanzyTHEbar/bert-bilstm/bertlstm/dataset"
	"github.com/ZanzyTHEbar/bert-bilstm/bertlstm/embedding/tokenizer"

	"github.com/pkg/errors"
)

// MaxLength is the default token budget per sample, [CLS] and [SEP] included.
const MaxLength = 200

// ErrTokenization is returned when a text cannot be tokenized.
var ErrTokenization = errors.New("tokenization error")

// Batch is a padded batch. Every row is exactly the collator's max length
// wide, so a row never depends on the other rows of its batch.
type Batch struct {
	InputIDs      [][]int64
	AttentionMask [][]int64
	SegmentIDs    [][]int64
	// Labels are zero-based class indices.
	Labels []int
	// Lengths are the unpadded token counts.
	Lengths []int
}

// Size returns the number of rows.
func (b *Batch) Size() int { return len(b.InputIDs) }

// SeqLen returns the padded row width.
func (b *Batch) SeqLen() int {
	if len(b.InputIDs) == 0 {
		return 0
	}
	return len(b.InputIDs[0])
}

// ClassIndex maps a sentiment label in {-1, 0, 1} onto class index {0, 1, 2}.
// It is the only place the shift happens.
func ClassIndex(label int) int { return label + 1 }

// Collator tokenizes and pads samples.
type Collator struct {
	tok       tokenizer.Tokenizer
	maxLength int
}

// New returns a collator truncating to maxLength tokens; values < 2 select MaxLength.
func New(tok tokenizer.Tokenizer, maxLength int) *Collator {
	if maxLength < 2 {
		maxLength = MaxLength
	}
	return &Collator{tok: tok, maxLength: maxLength}
}

// Collate builds a batch preserving sample order. Over-long texts are
// truncated, never rejected.
func (c *Collator) Collate(samples []dataset.Sample) (*Batch, error) {
	encs := make([]tokenizer.Encoding, len(samples))
	for i, s := range samples {
		if !utf8.ValidString(s.Text) {
			return nil, errors.Wrapf(ErrTokenization, "row %d: text is not valid UTF-8", i)
		}
		enc, err := c.tok.Encode(s.Text)
		if err != nil {
			return nil, errors.Wrapf(ErrTokenization, "row %d: %v", i, err)
		}
		encs[i] = c.truncate(enc)
	}

	pad := c.tok.PadID()
	b := &Batch{
		InputIDs:      make([][]int64, len(samples)),
		AttentionMask: make([][]int64, len(samples)),
		SegmentIDs:    make([][]int64, len(samples)),
		Labels:        make([]int, len(samples)),
		Lengths:       make([]int, len(samples)),
	}
	for i, enc := range encs {
		ids := make([]int64, c.maxLength)
		mask := make([]int64, c.maxLength)
		segs := make([]int64, c.maxLength)
		for j := range ids {
			ids[j] = pad
		}
		copy(ids, enc.IDs)
		copy(segs, enc.TypeIDs)
		for j := range enc.IDs {
			mask[j] = 1
		}
		b.InputIDs[i] = ids
		b.AttentionMask[i] = mask
		b.SegmentIDs[i] = segs
		b.Labels[i] = ClassIndex(samples[i].Label)
		b.Lengths[i] = len(enc.IDs)
	}
	return b, nil
}

// truncate caps enc at the collator's length, keeping the final token
// ([SEP]) in the last slot.
func (c *Collator) truncate(enc tokenizer.Encoding) tokenizer.Encoding {
	n := len(enc.IDs)
	if n <= c.maxLength {
		return enc
	}
	ids := make([]int64, c.maxLength)
	copy(ids, enc.IDs[:c.maxLength-1])
	ids[c.maxLength-1] = enc.IDs[n-1]
	out := tokenizer.Encoding{IDs: ids}
	if len(enc.TypeIDs) == n {
		types := make([]int64, c.maxLength)
		copy(types, enc.TypeIDs[:c.maxLength-1])
		types[c.maxLength-1] = enc.TypeIDs[n-1]
		out.TypeIDs = types
	}
	return out
}
