package styles

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestBuiltinNames(t *testing.T) {
	want := []string{
		"(No style)", "Cinematic", "Disney Charactor", "Digital Art",
		"Photographic (Default)", "Fantasy art", "Neonpunk", "Enhance",
		"Comic book", "Lowpoly", "Line art",
	}

	reg := Builtin()
	for _, name := range want {
		if !reg.Has(name) {
			t.Errorf("missing built-in style %q", name)
		}
	}
	if got := len(Names()); got != len(want) {
		t.Errorf("len(Names()) = %d, want %d", got, len(want))
	}

	names := Names()
	for i := 1; i < len(names); i++ {
		if names[i-1] > names[i] {
			t.Fatalf("Names() not sorted: %v", names)
		}
	}
}

func TestApply(t *testing.T) {
	tests := []struct {
		name         string
		style        string
		positive     string
		negative     string
		wantPositive string
		wantNegative string
	}{
		{
			name:         "no style",
			style:        "(No style)",
			positive:     "a man img",
			negative:     "blurry",
			wantPositive: "a man img",
			wantNegative: " blurry",
		},
		{
			name:         "enhance",
			style:        "Enhance",
			positive:     "a man img",
			negative:     "lowres",
			wantPositive: "breathtaking a man img . award-winning, professional, highly detailed",
			wantNegative: "ugly, deformed, noisy, blurry, distorted, grainy lowres",
		},
		{
			name:         "unknown falls back to default",
			style:        "Does Not Exist",
			positive:     "a man img",
			negative:     "",
			wantPositive: "cinematic photo a man img . 35mm photograph, film, bokeh, professional, 4k, highly detailed",
			wantNegative: "drawing, painting, crayon, sketch, graphite, impressionist, noisy, blurry, soft, deformed, ugly ",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, n := Apply(tt.style, tt.positive, tt.negative)
			if p != tt.wantPositive {
				t.Errorf("positive = %q, want %q", p, tt.wantPositive)
			}
			if n != tt.wantNegative {
				t.Errorf("negative = %q, want %q", n, tt.wantNegative)
			}
		})
	}
}

func TestLoad_Overlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "styles.yaml")
	content := `styles:
  - name: "Watercolor"
    prompt: "watercolor painting of {prompt}"
    negative_prompt: "photo"
  - name: "Enhance"
    prompt: "stunning {prompt}"
    negative_prompt: "ugly"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	reg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if p, _ := reg.Apply("Watercolor", "a man img", ""); p != "watercolor painting of a man img" {
		t.Errorf("Watercolor positive = %q", p)
	}
	if p, _ := reg.Apply("Enhance", "x", ""); p != "stunning x" {
		t.Errorf("overridden Enhance positive = %q", p)
	}
	if !reg.Has("Cinematic") {
		t.Error("built-in styles lost after overlay")
	}

	// The overlay must not leak into the shared built-in registry.
	if p, _ := Apply("Enhance", "x", ""); p == "stunning x" {
		t.Error("overlay modified built-in registry")
	}
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	if _, err := Load(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("styles:\n  - name: X\n    prompt: no placeholder\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := Load(bad)
	if !errors.Is(err, ErrNoPlaceholder) {
		t.Errorf("Load() error = %v, want ErrNoPlaceholder", err)
	}
}

func TestLoad_EmptyPath(t *testing.T) {
	reg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error = %v", err)
	}
	if len(reg.Names()) != len(Names()) {
		t.Error("Load(\"\") should return the built-in set")
	}
}
