//go:build tokenizers

package sdruntime

import (
	"fmt"
	"sync"

	"github.com/daulet/tokenizers"
)

// HFTokenizer wraps a Hugging Face tokenizer.json, normally the CLIP
// tokenizer shipped with the pipeline weights with the trigger word added.
// Requires libtokenizers and the "tokenizers" build tag.
type HFTokenizer struct {
	mu sync.Mutex
	tk *tokenizers.Tokenizer
}

// LoadHFTokenizer loads tokenizer.json from path.
func LoadHFTokenizer(path string) (*HFTokenizer, error) {
	tk, err := tokenizers.FromFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: load %s: %v", ErrTokenizerUnavailable, path, err)
	}
	return &HFTokenizer{tk: tk}, nil
}

// Encode implements Tokenizer.
func (t *HFTokenizer) Encode(text string) []int {
	t.mu.Lock()
	raw, _ := t.tk.Encode(text, false)
	t.mu.Unlock()

	ids := make([]int, len(raw))
	for i, v := range raw {
		ids[i] = int(v)
	}
	return ids
}

// TokenID implements Tokenizer.
func (t *HFTokenizer) TokenID(word string) (int, bool) {
	ids := t.Encode(word)
	if len(ids) != 1 {
		return 0, false
	}
	return ids[0], true
}

// Close releases the native tokenizer.
func (t *HFTokenizer) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.tk == nil {
		return nil
	}
	err := t.tk.Close()
	t.tk = nil
	return err
}
