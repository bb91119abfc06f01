// Package imagegen runs PhotoMaker generations: it extracts the left and
// right identities from an input photograph, generates one batch of images
// per prompt, and writes the watermarked results.
//
// driver.go holds the Driver, which owns the generation loop. It composes:
//   - faceid.Detector: identity embeddings for the two faces
//   - sdruntime.Pipeline: the identity-conditioned generation worker
//   - sdruntime.Tokenizer: trigger word validation
//   - styles.Registry: prompt templates
package imagegen

import (
	"context"
	"errors"
	"fmt"
	"image"

	"photomaker/faceid"
	"photomaker/imageio"
	"photomaker/logging"
	"photomaker/sdruntime"
	"photomaker/styles"

	"go.uber.org/zap"
)

// Sides of the input photograph.
const (
	SideLeft  = "left"
	SideRight = "right"
)

var (
	ErrNoInputImages = errors.New("imagegen: no input images")
	ErrNoPrompts     = errors.New("imagegen: no prompts")
)

// Request describes one generation run. Zero size, count, step and
// guidance fields take the values from sdruntime.DefaultParams. A zero
// StyleStrengthRatio merges the identity from the first step.
type Request struct {
	// InputImages are identity photographs. Faces are detected in the
	// first one; all of them are passed to the pipeline.
	InputImages []string
	// Images are already decoded photographs, used instead of InputImages.
	Images []image.Image

	LeftPrompts    []string
	RightPrompts   []string
	StyleName      string
	NegativePrompt string

	// Seed is shared by every pipeline call of the run. nil picks a random one.
	Seed *int64

	NumOutputs         int
	Width              int
	Height             int
	Steps              int
	GuidanceScale      float64
	StyleStrengthRatio float64

	// SketchImage is validated and logged but not sent to the pipeline.
	SketchImage string

	// Progress, when set, receives an Event at each stage of the run.
	Progress func(Event)
}

// SideResult holds the images generated for one prompt on one side.
type SideResult struct {
	Side   string
	Prompt string // the prompt as given, before styling
	Images []image.Image
}

// Result is the outcome of Driver.Generate.
type Result struct {
	Seed  int64
	Left  []SideResult
	Right []SideResult

	// Faces is the number of usable faces found in the input photograph.
	Faces int
}

// ImageCount is the total number of images across both sides.
func (r *Result) ImageCount() int {
	n := 0
	for _, side := range [][]SideResult{r.Left, r.Right} {
		for _, sr := range side {
			n += len(sr.Images)
		}
	}
	return n
}

// Event stages reported through Request.Progress.
const (
	StageFaces    = "faces"
	StagePrompt   = "prompt"
	StageGenerate = "generated"
	StageSaved    = "saved"
	StageDone     = "done"
	StageFailed   = "failed"
)

// Event is a progress notification.
type Event struct {
	Stage   string `json:"stage"`
	Side    string `json:"side,omitempty"`
	Prompt  string `json:"prompt,omitempty"`
	Index   int    `json:"index,omitempty"` // 1-based prompt position across both sides
	Total   int    `json:"total,omitempty"`
	Seed    int64  `json:"seed,omitempty"`
	File    string `json:"file,omitempty"`
	Message string `json:"message,omitempty"`
}

// DriverConfig holds the collaborators of a Driver.
type DriverConfig struct {
	Pipeline  sdruntime.Pipeline
	Detector  faceid.Detector
	Tokenizer sdruntime.Tokenizer // nil selects the word tokenizer
	Styles    *styles.Registry    // nil selects the built-in styles
	Logger    *logging.Logger     // nil disables logging

	// MinFaceScore drops detections scoring below it.
	MinFaceScore float64
}

// Driver runs the generation loop. It holds no per-run state and is safe
// for concurrent use as long as its collaborators are.
type Driver struct {
	pipeline  sdruntime.Pipeline
	detector  faceid.Detector
	tokenizer sdruntime.Tokenizer
	styles    *styles.Registry
	logger    *logging.Logger
	minScore  float64
}

// NewDriver validates cfg and returns a Driver.
func NewDriver(cfg DriverConfig) (*Driver, error) {
	if cfg.Pipeline == nil {
		return nil, fmt.Errorf("imagegen: pipeline cannot be nil")
	}
	if cfg.Detector == nil {
		return nil, fmt.Errorf("imagegen: detector cannot be nil")
	}
	if cfg.Tokenizer == nil {
		cfg.Tokenizer = sdruntime.NewWordTokenizer()
	}
	if cfg.Styles == nil {
		cfg.Styles = styles.Builtin()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}

	return &Driver{
		pipeline:  cfg.Pipeline,
		detector:  cfg.Detector,
		tokenizer: cfg.Tokenizer,
		styles:    cfg.Styles,
		logger:    cfg.Logger.Named("imagegen"),
		minScore:  cfg.MinFaceScore,
	}, nil
}

// Generate runs req. Left prompts are processed first, then right prompts,
// each validated for the trigger word immediately before its pipeline
// call. The first failing prompt aborts the run.
func (d *Driver) Generate(ctx context.Context, req Request) (*Result, error) {
	if len(req.LeftPrompts) == 0 && len(req.RightPrompts) == 0 {
		return nil, ErrNoPrompts
	}

	images, err := d.loadImages(req)
	if err != nil {
		return nil, err
	}
	if req.SketchImage != "" {
		if _, err := imageio.LoadImage(req.SketchImage); err != nil {
			return nil, fmt.Errorf("imagegen: sketch image: %w", err)
		}
		d.logger.Info("Sketch image loaded; sketch conditioning is not applied by the pipeline",
			zap.String(logging.FieldFile, req.SketchImage))
	}

	pair, err := faceid.Extract(ctx, d.detector, images[0], d.minScore)
	if err != nil {
		return nil, fmt.Errorf("imagegen: face extraction: %w", err)
	}
	if pair.Shared() {
		d.logger.Warn("Only one face detected; using it for both sides")
	}
	emit(req, Event{Stage: StageFaces, Message: fmt.Sprintf("%d face(s) detected", pair.Faces)})

	params := d.baseParams(req)
	params.Seed = sdruntime.ResolveSeed(req.Seed)
	params.InputImages = images

	result := &Result{Seed: params.Seed, Faces: pair.Faces}
	total := len(req.LeftPrompts) + len(req.RightPrompts)
	index := 0

	sides := []struct {
		name      string
		prompts   []string
		embedding []float32
		out       *[]SideResult
	}{
		{SideLeft, req.LeftPrompts, pair.Left.Embedding, &result.Left},
		{SideRight, req.RightPrompts, pair.Right.Embedding, &result.Right},
	}

	for _, side := range sides {
		for _, prompt := range side.prompts {
			index++
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			prompt = sdruntime.SanitizePrompt(prompt)
			emit(req, Event{Stage: StagePrompt, Side: side.name, Prompt: prompt, Index: index, Total: total})

			imgs, err := d.generateOne(ctx, params, req, side.name, prompt, side.embedding)
			if err != nil {
				return nil, err
			}
			*side.out = append(*side.out, SideResult{Side: side.name, Prompt: prompt, Images: imgs})
			emit(req, Event{Stage: StageGenerate, Side: side.name, Prompt: prompt, Index: index, Total: total})
		}
	}

	return result, nil
}

func (d *Driver) generateOne(ctx context.Context, base sdruntime.GenerateParams, req Request, side, prompt string, embedding []float32) ([]image.Image, error) {
	if err := sdruntime.ValidateTriggerWord(d.tokenizer, d.pipeline.TriggerWord(), prompt); err != nil {
		return nil, err
	}

	params := base
	params.Prompt, params.NegativePrompt = d.styles.Apply(req.StyleName, prompt, req.NegativePrompt)
	params.IDEmbedding = embedding

	d.logger.Info("Generating",
		zap.String(logging.FieldSide, side),
		zap.String(logging.FieldPrompt, prompt),
		zap.String(logging.FieldStyle, req.StyleName),
		zap.Int64(logging.FieldSeed, params.Seed),
	)

	imgs, err := d.pipeline.Generate(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("imagegen: %s prompt %q: %w", side, prompt, err)
	}
	return imgs, nil
}

func (d *Driver) loadImages(req Request) ([]image.Image, error) {
	if len(req.Images) > 0 {
		return req.Images, nil
	}
	if len(req.InputImages) == 0 {
		return nil, ErrNoInputImages
	}

	images := make([]image.Image, 0, len(req.InputImages))
	for _, path := range req.InputImages {
		img, err := imageio.LoadImage(path)
		if err != nil {
			return nil, err
		}
		images = append(images, img)
	}
	return images, nil
}

func (d *Driver) baseParams(req Request) sdruntime.GenerateParams {
	p := sdruntime.DefaultParams()
	if req.NumOutputs > 0 {
		p.NumImages = req.NumOutputs
	}
	if req.Width > 0 {
		p.Width = req.Width
	}
	if req.Height > 0 {
		p.Height = req.Height
	}
	if req.Steps > 0 {
		p.Steps = req.Steps
	}
	if req.GuidanceScale > 0 {
		p.GuidanceScale = req.GuidanceScale
	}
	p.StartMergeStep = sdruntime.StartMergeStep(req.StyleStrengthRatio, p.Steps)
	return p
}

func emit(req Request, e Event) {
	if req.Progress != nil {
		req.Progress(e)
	}
}
