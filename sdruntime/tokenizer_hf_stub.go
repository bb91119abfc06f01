//go:build !tokenizers

package sdruntime

import "fmt"

// HFTokenizer is unavailable without the "tokenizers" build tag.
type HFTokenizer struct{}

// LoadHFTokenizer always fails in builds without libtokenizers.
func LoadHFTokenizer(path string) (*HFTokenizer, error) {
	return nil, fmt.Errorf("%w: %s requires a build with -tags tokenizers", ErrTokenizerUnavailable, path)
}

func (t *HFTokenizer) Encode(string) []int { return nil }

func (t *HFTokenizer) TokenID(string) (int, bool) { return 0, false }

func (t *HFTokenizer) Close() error { return nil }
