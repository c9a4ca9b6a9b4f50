package tokenizer

import (
	"fmt"

	tk "github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/model/wordpiece"
	"github.com/sugarme/tokenizer/normalizer"
	"github.com/sugarme/tokenizer/pretokenizer"
	"github.com/sugarme/tokenizer/processor"
)

// SugarWordPiece wraps sugarme/tokenizer WordPiece (BERT-style)
type SugarWordPiece struct {
	t         *tk.Tokenizer
	special   specialIDs
	maxSeqLen int
}

var _ Tokenizer = (*SugarWordPiece)(nil)

// NewSugarWordPiece loads vocab.txt and builds a BERT WordPiece tokenizer
// truncating to maxSeq tokens including [CLS] and [SEP].
func NewSugarWordPiece(vocabPath string, maxSeq int) (*SugarWordPiece, error) {
	vocabFile, err := resolveVocab(vocabPath)
	if err != nil {
		return nil, err
	}
	vocab, err := readVocab(vocabFile)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupported, err)
	}
	special := lookupSpecial(vocab)

	wp, err := wordpiece.NewWordPieceFromFile(vocabFile, "[UNK]")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupported, err)
	}

	t := tk.NewTokenizer(wp)
	// clean text, split CJK characters, strip accents, lowercase
	t.WithNormalizer(normalizer.NewBertNormalizer(true, true, true, true))
	t.WithPreTokenizer(pretokenizer.NewBertPreTokenizer())
	t.WithPostProcessor(processor.NewBertProcessing(
		processor.PostToken{Value: "[SEP]", Id: int(special.sep)},
		processor.PostToken{Value: "[CLS]", Id: int(special.cls)},
	))
	t.WithTruncation(&tk.TruncationParams{MaxLength: maxSeq})

	return &SugarWordPiece{t: t, special: special, maxSeqLen: maxSeq}, nil
}

// Encode tokenizes a single sequence.
func (s *SugarWordPiece) Encode(text string) (Encoding, error) {
	enc, err := s.t.Encode(tk.NewSingleEncodeInput(tk.NewInputSequence(text)), true)
	if err != nil {
		return Encoding{}, err
	}
	uids := enc.GetIds()
	utypes := enc.GetTypeIds()

	ids := make([]int64, len(uids))
	types := make([]int64, len(uids))
	for j, id := range uids {
		ids[j] = int64(id)
		if j < len(utypes) {
			types[j] = int64(utypes[j])
		}
	}
	ids = capSequence(ids, s.maxSeqLen, s.special.sep)
	return Encoding{IDs: ids, TypeIDs: types[:len(ids)]}, nil
}

func (s *SugarWordPiece) PadID() int64 { return s.special.pad }

func (s *SugarWordPiece) MaxSeqLen() int { return s.maxSeqLen }
