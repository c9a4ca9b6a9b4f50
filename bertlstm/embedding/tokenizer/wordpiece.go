package tokenizer

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

const maxInputCharsPerWord = 100

// WordPiece is a dependency-light BERT tokenizer reading vocab.txt directly.
// It lowercases, strips accents, isolates CJK characters and punctuation and
// applies greedy longest-match with "##" continuations.
type WordPiece struct {
	vocab     map[string]int64
	special   specialIDs
	maxSeqLen int
}

var _ Tokenizer = (*WordPiece)(nil)

func LoadWordPieceFromVocab(path string, maxSeq int) (*WordPiece, error) {
	vocabFile, err := resolveVocab(path)
	if err != nil {
		return nil, err
	}
	vocab, err := readVocab(vocabFile)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupported, err)
	}
	return NewWordPiece(vocab, maxSeq), nil
}

// NewWordPiece builds a tokenizer over an in-memory vocabulary.
func NewWordPiece(vocab map[string]int64, maxSeq int) *WordPiece {
	return &WordPiece{vocab: vocab, special: lookupSpecial(vocab), maxSeqLen: maxSeq}
}

func (w *WordPiece) Encode(text string) (Encoding, error) {
	if !utf8.ValidString(text) {
		return Encoding{}, fmt.Errorf("text is not valid UTF-8")
	}
	ids := make([]int64, 0, min(w.maxSeqLen, len(text)+2))
	ids = append(ids, w.special.cls)
	for _, word := range preTokenize(normalize(text)) {
		ids = append(ids, w.wordPiece(word)...)
		if len(ids) >= w.maxSeqLen-1 {
			break
		}
	}
	if len(ids) > w.maxSeqLen-1 {
		ids = ids[:w.maxSeqLen-1]
	}
	ids = append(ids, w.special.sep)
	return Encoding{IDs: ids, TypeIDs: make([]int64, len(ids))}, nil
}

func (w *WordPiece) PadID() int64 { return w.special.pad }

func (w *WordPiece) MaxSeqLen() int { return w.maxSeqLen }

func (w *WordPiece) wordPiece(word string) []int64 {
	if utf8.RuneCountInString(word) > maxInputCharsPerWord {
		return []int64{w.special.unk}
	}

	var tokens []int64
	start := 0
	for start < len(word) {
		end := len(word)
		found := false
		for start < end {
			substr := word[start:end]
			if start > 0 {
				substr = "##" + substr
			}
			if id, ok := w.vocab[substr]; ok {
				tokens = append(tokens, id)
				found = true
				break
			}
			// step back one rune, never into the middle of one
			_, size := utf8.DecodeLastRuneInString(word[start:end])
			end -= size
		}
		if !found {
			return []int64{w.special.unk}
		}
		start = end
	}
	return tokens
}

// normalize cleans control characters, lowercases and strips accents.
func normalize(text string) string {
	var b strings.Builder
	for _, r := range text {
		switch {
		case r == 0 || r == utf8.RuneError || isControl(r):
		case isWhitespace(r):
			b.WriteRune(' ')
		default:
			b.WriteRune(r)
		}
	}
	lowered := strings.ToLower(b.String())

	b.Reset()
	for _, r := range norm.NFD.String(lowered) {
		if !unicode.Is(unicode.Mn, r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// preTokenize splits on whitespace and emits punctuation and CJK characters
// as standalone words.
func preTokenize(text string) []string {
	var words []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			words = append(words, cur.String())
			cur.Reset()
		}
	}
	for _, r := range text {
		switch {
		case isWhitespace(r):
			flush()
		case isPunctuation(r) || isCJK(r):
			flush()
			words = append(words, string(r))
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return words
}

func isWhitespace(r rune) bool {
	if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
		return true
	}
	return unicode.Is(unicode.Zs, r)
}

func isControl(r rune) bool {
	if r == '\t' || r == '\n' || r == '\r' {
		return false
	}
	return unicode.IsControl(r)
}

func isPunctuation(r rune) bool {
	if (r >= 33 && r <= 47) || (r >= 58 && r <= 64) ||
		(r >= 91 && r <= 96) || (r >= 123 && r <= 126) {
		return true
	}
	return unicode.IsPunct(r)
}

// isCJK reports whether r lies in the CJK Unified Ideographs blocks BERT isolates.
func isCJK(r rune) bool {
	return (r >= 0x4E00 && r <= 0x9FFF) ||
		(r >= 0x3400 && r <= 0x4DBF) ||
		(r >= 0x20000 && r <= 0x2A6DF) ||
		(r >= 0x2A700 && r <= 0x2B73F) ||
		(r >= 0x2B740 && r <= 0x2B81F) ||
		(r >= 0x2B820 && r <= 0x2CEAF) ||
		(r >= 0xF900 && r <= 0xFAFF) ||
		(r >= 0x2F800 && r <= 0x2FA1F)
}
