package sdruntime

import (
	"hash/fnv"
	"regexp"
	"strings"
)

// Tokenizer maps text to token ids the way the pipeline's text encoder does.
// Only id equality matters: it is used to count trigger word occurrences.
type Tokenizer interface {
	// Encode tokenizes text without special tokens.
	Encode(text string) []int
	// TokenID returns the id of word when it encodes to exactly one token.
	TokenID(word string) (int, bool)
}

// wordPattern splits lowercased text into runs of letters/digits and
// single punctuation marks, close to how CLIP pre-tokenizes.
var wordPattern = regexp.MustCompile(`[\p{L}\p{N}]+|[^\s\p{L}\p{N}]`)

// WordTokenizer is a vocabulary-free tokenizer. Each word or punctuation mark
// is one token whose id is a hash of its lowercased text, so "img" and
// "img," share the trigger token while "imgs" does not.
type WordTokenizer struct{}

// NewWordTokenizer returns a WordTokenizer.
func NewWordTokenizer() WordTokenizer {
	return WordTokenizer{}
}

// Encode implements Tokenizer.
func (WordTokenizer) Encode(text string) []int {
	words := wordPattern.FindAllString(strings.ToLower(text), -1)
	ids := make([]int, len(words))
	for i, w := range words {
		ids[i] = wordID(w)
	}
	return ids
}

// TokenID implements Tokenizer.
func (t WordTokenizer) TokenID(word string) (int, bool) {
	ids := t.Encode(word)
	if len(ids) != 1 {
		return 0, false
	}
	return ids[0], true
}

func wordID(w string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(w))
	return int(h.Sum32() & 0x7fffffff)
}

// NewTokenizer returns the Hugging Face tokenizer stored at path, or a
// WordTokenizer when path is empty.
func NewTokenizer(path string) (Tokenizer, error) {
	if path == "" {
		return NewWordTokenizer(), nil
	}
	tk, err := LoadHFTokenizer(path)
	if err != nil {
		return nil, err
	}
	return tk, nil
}
