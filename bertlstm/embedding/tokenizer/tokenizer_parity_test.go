package tokenizer

import (
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestTokenizerParity compares both Go tokenizers against the HuggingFace
// bert-base-chinese tokenizer. Skipped when python3 or transformers is missing.
func TestTokenizerParity(t *testing.T) {
	py, err := exec.LookPath("python3")
	if err != nil {
		t.Skip("python3 not found; skipping parity test")
	}

	dumpVocab := `import json
from transformers import AutoTokenizer
t=AutoTokenizer.from_pretrained("bert-base-chinese")
inv=sorted(t.get_vocab().items(), key=lambda kv:kv[1])
print(json.dumps([k for k,_ in inv]))`
	out, err := exec.Command(py, "-c", dumpVocab).Output()
	if err != nil {
		t.Skipf("python transformers not available or network issue: %v", err)
	}
	var tokens []string
	require.NoError(t, json.Unmarshal(out, &tokens))

	vocabPath := filepath.Join(t.TempDir(), "vocab.txt")
	f, err := os.Create(vocabPath)
	require.NoError(t, err)
	for _, tk := range tokens {
		_, err := f.WriteString(tk + "\n")
		require.NoError(t, err)
	}
	require.NoError(t, f.Close())

	pyEnc := `import json
from transformers import AutoTokenizer
t=AutoTokenizer.from_pretrained("bert-base-chinese")
s=["这家餐厅的菜很好吃！","物流太慢了，差评。","还行吧 OK"]
print(json.dumps([t(x, truncation=True, max_length=200)['input_ids'] for x in s]))`
	out2, err := exec.Command(py, "-c", pyEnc).Output()
	if err != nil {
		t.Skipf("python encode failed: %v", err)
	}
	var want [][]int64
	require.NoError(t, json.Unmarshal(out2, &want))

	sents := []string{"这家餐厅的菜很好吃！", "物流太慢了，差评。", "还行吧 OK"}
	sugar, err := NewSugarWordPiece(vocabPath, 200)
	require.NoError(t, err)
	plain, err := LoadWordPieceFromVocab(vocabPath, 200)
	require.NoError(t, err)

	for i, s := range sents {
		got, err := sugar.Encode(s)
		require.NoError(t, err)
		assert.Equal(t, want[i], got.IDs, "sugarme: %s", s)

		got, err = plain.Encode(s)
		require.NoError(t, err)
		assert.Equal(t, want[i], got.IDs, "wordpiece: %s", s)
	}
}
