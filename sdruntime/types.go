package sdruntime

import (
	"fmt"
	"image"
)

// GenerateParams holds the arguments of one pipeline call. One call yields
// NumImages images for a single prompt and a single identity embedding.
type GenerateParams struct {
	Prompt         string  // Styled prompt containing the trigger word
	NegativePrompt string  // Styled negative prompt
	Width          int     // 128-2048, divisible by 8
	Height         int     // 128-2048, divisible by 8
	NumImages      int     // Images per prompt (1-8)
	Steps          int     // Denoising steps (1-100)
	StartMergeStep int     // Step at which the identity embedding is merged in
	GuidanceScale  float64 // Classifier-free guidance (1.0-30.0)
	Seed           int64   // Generator seed, 0..MaxSeed

	IDEmbedding []float32     // Face identity embedding for this side
	InputImages []image.Image // Identity photographs passed as input_id_images
}

// Parameter validation constants
const (
	MinImageSize      = 128
	MaxImageSize      = 2048
	ImageSizeMultiple = 8

	MinSteps = 1
	MaxSteps = 100

	MinGuidanceScale = 1.0
	MaxGuidanceScale = 30.0

	MinImages = 1
	MaxImages = 8

	// MaxMergeStep caps StartMergeStep regardless of the step count.
	MaxMergeStep = 30

	MaxPromptLength = 2000
)

// DefaultParams returns parameters matching the default configuration.
// Prompt, seed, embedding and input images still need to be filled in.
func DefaultParams() GenerateParams {
	return GenerateParams{
		Width:          1024,
		Height:         1024,
		NumImages:      1,
		Steps:          50,
		StartMergeStep: StartMergeStep(20, 50),
		GuidanceScale:  5.0,
	}
}

// ValidateParams checks p against the ranges the pipeline worker accepts.
func ValidateParams(p GenerateParams) error {
	if err := ValidatePrompt(p.Prompt); err != nil {
		return err
	}
	if len(p.NegativePrompt) > MaxPromptLength {
		return fmt.Errorf("%w: negative prompt length %d exceeds maximum %d",
			ErrInvalidParams, len(p.NegativePrompt), MaxPromptLength)
	}

	if err := validateDimension("width", p.Width); err != nil {
		return err
	}
	if err := validateDimension("height", p.Height); err != nil {
		return err
	}

	if p.NumImages < MinImages || p.NumImages > MaxImages {
		return fmt.Errorf("%w: num images %d must be between %d and %d",
			ErrInvalidParams, p.NumImages, MinImages, MaxImages)
	}
	if p.Steps < MinSteps || p.Steps > MaxSteps {
		return fmt.Errorf("%w: steps %d must be between %d and %d",
			ErrInvalidParams, p.Steps, MinSteps, MaxSteps)
	}
	if p.StartMergeStep < 0 || p.StartMergeStep > p.Steps {
		return fmt.Errorf("%w: start merge step %d must be between 0 and steps (%d)",
			ErrInvalidParams, p.StartMergeStep, p.Steps)
	}
	if p.GuidanceScale < MinGuidanceScale || p.GuidanceScale > MaxGuidanceScale {
		return fmt.Errorf("%w: guidance scale %.2f must be between %.1f and %.1f",
			ErrInvalidParams, p.GuidanceScale, MinGuidanceScale, MaxGuidanceScale)
	}
	if p.Seed < 0 || p.Seed > MaxSeed {
		return fmt.Errorf("%w: seed %d must be between 0 and %d", ErrInvalidParams, p.Seed, int64(MaxSeed))
	}

	if len(p.IDEmbedding) == 0 {
		return fmt.Errorf("%w: identity embedding is empty", ErrInvalidParams)
	}
	if len(p.InputImages) == 0 {
		return fmt.Errorf("%w: at least one input image is required", ErrInvalidParams)
	}
	return nil
}

func validateDimension(name string, v int) error {
	if v < MinImageSize || v > MaxImageSize {
		return fmt.Errorf("%w: %s %d must be between %d and %d",
			ErrInvalidParams, name, v, MinImageSize, MaxImageSize)
	}
	if v%ImageSizeMultiple != 0 {
		return fmt.Errorf("%w: %s %d must be divisible by %d",
			ErrInvalidParams, name, v, ImageSizeMultiple)
	}
	return nil
}
