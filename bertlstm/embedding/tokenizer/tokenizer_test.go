package tokenizer

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testVocab = []string{
	"[PAD]", "[UNK]", "[CLS]", "[SEP]",
	"今", "天", "hello", "un", "##aff", "##able", ",", "cafe",
}

func writeVocab(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vocab.txt")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(testVocab, "\n")+"\n"), 0o644))
	return path
}

func TestWordPieceEncode(t *testing.T) {
	wp, err := LoadWordPieceFromVocab(writeVocab(t), 16)
	require.NoError(t, err)

	cases := map[string][]int64{
		"今天, hello": {2, 4, 5, 10, 6, 3},
		"unaffable":  {2, 7, 8, 9, 3},
		"Café":       {2, 11, 3},
		"xyz":        {2, 1, 3},
		"":           {2, 3},
	}
	for text, want := range cases {
		enc, err := wp.Encode(text)
		require.NoError(t, err, text)
		assert.Equal(t, want, enc.IDs, text)
		assert.Equal(t, make([]int64, len(want)), enc.TypeIDs, text)
	}
	assert.Equal(t, int64(0), wp.PadID())
}

func TestWordPieceTruncates(t *testing.T) {
	wp, err := LoadWordPieceFromVocab(writeVocab(t), 4)
	require.NoError(t, err)

	enc, err := wp.Encode("今天今天今天")
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 4, 5, 3}, enc.IDs)
}

func TestWordPieceRejectsInvalidUTF8(t *testing.T) {
	wp := NewWordPiece(map[string]int64{"[CLS]": 0, "[SEP]": 1}, 8)
	_, err := wp.Encode("bad \xff byte")
	assert.Error(t, err)
}

func TestLoadFromDirectory(t *testing.T) {
	path := writeVocab(t)
	wp, err := LoadWordPieceFromVocab(filepath.Dir(path), 8)
	require.NoError(t, err)
	assert.Equal(t, 8, wp.MaxSeqLen())
}

func TestNewSelectsKind(t *testing.T) {
	path := writeVocab(t)

	tok, err := New(Config{Kind: "wordpiece", VocabPath: path, MaxSeqLen: 8})
	require.NoError(t, err)
	assert.IsType(t, &WordPiece{}, tok)

	_, err = New(Config{Kind: "sentencepiece", VocabPath: path, MaxSeqLen: 8})
	assert.ErrorIs(t, err, ErrUnsupported)

	_, err = New(Config{Kind: "wordpiece", VocabPath: path, MaxSeqLen: 1})
	assert.ErrorIs(t, err, ErrUnsupported)

	_, err = New(Config{Kind: "wordpiece", VocabPath: filepath.Join(t.TempDir(), "missing.txt"), MaxSeqLen: 8})
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestSugarWordPieceMatchesGo(t *testing.T) {
	path := writeVocab(t)
	sugar, err := NewSugarWordPiece(path, 16)
	require.NoError(t, err)
	plain, err := LoadWordPieceFromVocab(path, 16)
	require.NoError(t, err)

	for _, text := range []string{"今天", "unaffable", "hello"} {
		want, err := plain.Encode(text)
		require.NoError(t, err)
		got, err := sugar.Encode(text)
		require.NoError(t, err)
		assert.Equal(t, want.IDs, got.IDs, text)
	}
	assert.Equal(t, int64(0), sugar.PadID())
}

func TestSugarWordPieceCapsLength(t *testing.T) {
	sugar, err := NewSugarWordPiece(writeVocab(t), 4)
	require.NoError(t, err)

	enc, err := sugar.Encode("今天今天今天")
	require.NoError(t, err)
	require.Len(t, enc.IDs, 4)
	assert.Equal(t, int64(2), enc.IDs[0])
	assert.Equal(t, int64(3), enc.IDs[3])
	assert.Len(t, enc.TypeIDs, 4)
}
