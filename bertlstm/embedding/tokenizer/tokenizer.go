package tokenizer

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Encoding is the tokenizer output for one text, including [CLS] and [SEP].
type Encoding struct {
	IDs     []int64
	TypeIDs []int64
}

// Tokenizer converts raw text to model-ready token ids. Encodings never
// exceed MaxSeqLen tokens.
type Tokenizer interface {
	Encode(text string) (Encoding, error)
	PadID() int64
	MaxSeqLen() int
}

// Config holds basic tokenizer settings
type Config struct {
	Kind      string
	VocabPath string
	MaxSeqLen int
}

// ErrUnsupported indicates the tokenizer could not be initialized
var ErrUnsupported = fmt.Errorf("unsupported tokenizer configuration")

// New builds the tokenizer named by cfg.Kind: "sugarme" (default) or "wordpiece".
func New(cfg Config) (Tokenizer, error) {
	if cfg.MaxSeqLen < 2 {
		return nil, fmt.Errorf("%w: max sequence length %d", ErrUnsupported, cfg.MaxSeqLen)
	}
	switch strings.ToLower(cfg.Kind) {
	case "", "sugarme":
		return NewSugarWordPiece(cfg.VocabPath, cfg.MaxSeqLen)
	case "wordpiece", "go":
		return LoadWordPieceFromVocab(cfg.VocabPath, cfg.MaxSeqLen)
	default:
		return nil, fmt.Errorf("%w: kind %q", ErrUnsupported, cfg.Kind)
	}
}

// specialIDs are the ids BERT vocabularies reserve, looked up by token.
type specialIDs struct {
	pad, unk, cls, sep int64
}

var bertDefaults = specialIDs{pad: 0, unk: 100, cls: 101, sep: 102}

// resolveVocab accepts either vocab.txt itself or the directory holding it.
func resolveVocab(path string) (string, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnsupported, err)
	}
	if fi.IsDir() {
		path = filepath.Join(path, "vocab.txt")
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("%w: %v", ErrUnsupported, err)
		}
	}
	return path, nil
}

// readVocab maps each non-empty line of vocab.txt to its line index.
func readVocab(path string) (map[string]int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	vocab := make(map[string]int64, 30000)
	var idx int64
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		tok := strings.TrimSpace(scanner.Text())
		if tok == "" {
			continue
		}
		vocab[tok] = idx
		idx++
	}
	return vocab, scanner.Err()
}

func lookupSpecial(vocab map[string]int64) specialIDs {
	ids := bertDefaults
	if id, ok := vocab["[PAD]"]; ok {
		ids.pad = id
	}
	if id, ok := vocab["[UNK]"]; ok {
		ids.unk = id
	}
	if id, ok := vocab["[CLS]"]; ok {
		ids.cls = id
	}
	if id, ok := vocab["[SEP]"]; ok {
		ids.sep = id
	}
	return ids
}

// capSequence truncates ids to maxSeq while keeping the trailing [SEP].
func capSequence(ids []int64, maxSeq int, sep int64) []int64 {
	if len(ids) <= maxSeq {
		return ids
	}
	ids = ids[:maxSeq]
	ids[maxSeq-1] = sep
	return ids
}
