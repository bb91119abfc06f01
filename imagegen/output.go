package imagegen

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"photomaker/imageio"
	"photomaker/watermark"
)

// Output is one image written by WriteOutputs.
type Output struct {
	Side   string
	Prompt string
	Index  int // 1-based position within the prompt's batch
	Path   string
}

// SafeName turns a prompt into a file name fragment: spaces become
// underscores and commas are dropped. Path separators also become
// underscores so the file stays inside the output directory.
func SafeName(prompt string) string {
	r := strings.NewReplacer(" ", "_", ",", "", "/", "_", `\`, "_")
	return r.Replace(prompt)
}

// FileName is the name of the index-th (1-based) image for prompt.
func FileName(side, prompt string, seed int64, index int) string {
	return fmt.Sprintf("%s_%s_seed%d_%d.png", side, SafeName(prompt), seed, index)
}

// WriteOutputs watermarks every image and saves it under dir, left side
// first. A nil stamper saves the images unmarked. Existing files with the
// same name are replaced.
func WriteOutputs(dir string, left, right []SideResult, seed int64, stamper *watermark.Stamper) ([]Output, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("imagegen: create output dir: %w", err)
	}

	var outputs []Output
	for _, results := range [][]SideResult{left, right} {
		for _, sr := range results {
			for i, img := range sr.Images {
				path := filepath.Join(dir, FileName(sr.Side, sr.Prompt, seed, i+1))
				if stamper != nil {
					img = stamper.Stamp(img)
				}
				if err := imageio.SavePNG(path, img); err != nil {
					return outputs, err
				}
				outputs = append(outputs, Output{Side: sr.Side, Prompt: sr.Prompt, Index: i + 1, Path: path})
			}
		}
	}
	return outputs, nil
}

// ListOutputs returns the sorted paths of dir's images for side, as shown
// in the web galleries. A missing directory yields no paths.
func ListOutputs(dir, side string) ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(dir, side+"_*.png"))
	if err != nil {
		return nil, err
	}
	// Glob returns paths in lexical order
	return paths, nil
}
