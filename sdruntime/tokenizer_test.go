package sdruntime

import (
	"errors"
	"reflect"
	"testing"
)

func TestWordTokenizer_Encode(t *testing.T) {
	tok := NewWordTokenizer()

	a := tok.Encode("A man img, smiling.")
	if len(a) != 6 {
		t.Fatalf("Encode() produced %d tokens, want 6: %v", len(a), a)
	}
	if !reflect.DeepEqual(a, tok.Encode("a MAN img , smiling .")) {
		t.Error("Encode() should ignore case and spacing around punctuation")
	}
	if len(tok.Encode("   ")) != 0 {
		t.Error("blank text should produce no tokens")
	}
}

func TestWordTokenizer_TokenID(t *testing.T) {
	tok := NewWordTokenizer()

	id, ok := tok.TokenID("img")
	if !ok {
		t.Fatal("TokenID(img) not single token")
	}
	if ids := tok.Encode("img"); len(ids) != 1 || ids[0] != id {
		t.Errorf("TokenID and Encode disagree: %d vs %v", id, ids)
	}
	if other, _ := tok.TokenID("imgs"); other == id {
		t.Error("img and imgs must not share a token")
	}
	if _, ok := tok.TokenID("img,"); ok {
		t.Error("TokenID(img,) should not be a single token")
	}
}

func TestNewTokenizer(t *testing.T) {
	tok, err := NewTokenizer("")
	if err != nil {
		t.Fatalf("NewTokenizer(\"\") error = %v", err)
	}
	if _, ok := tok.(WordTokenizer); !ok {
		t.Errorf("NewTokenizer(\"\") = %T, want WordTokenizer", tok)
	}

	if _, err := NewTokenizer("/nonexistent/tokenizer.json"); !errors.Is(err, ErrTokenizerUnavailable) {
		t.Errorf("NewTokenizer(missing) error = %v, want ErrTokenizerUnavailable", err)
	}
}
