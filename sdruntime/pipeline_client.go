package sdruntime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"photomaker/imageio"
)

// DefaultWorkerTimeout bounds a single pipeline call.
const DefaultWorkerTimeout = 10 * time.Minute

// PipelineConfig configures a PipelineClient.
type PipelineConfig struct {
	BaseURL     string
	APIKey      string        // Sent as a bearer token when set
	Timeout     time.Duration // Per-request timeout; zero selects DefaultWorkerTimeout
	TriggerWord string

	// MaxInputEdge downsizes identity photos before upload. Zero disables it.
	MaxInputEdge int
}

// PipelineClient calls a PhotoMaker pipeline worker over HTTP.
//
// POST /generate takes a JSON body with the prompt, sampling parameters,
// id_embeds and base64 PNG input_id_images, and answers {"images": [...]}
// with base64 PNGs. GET /health answers 200 when the weights are loaded.
type PipelineClient struct {
	client       *resty.Client
	triggerWord  string
	maxInputEdge int
}

type generateRequest struct {
	Prompt             string    `json:"prompt"`
	NegativePrompt     string    `json:"negative_prompt"`
	Width              int       `json:"width"`
	Height             int       `json:"height"`
	NumImagesPerPrompt int       `json:"num_images_per_prompt"`
	NumInferenceSteps  int       `json:"num_inference_steps"`
	StartMergeStep     int       `json:"start_merge_step"`
	GuidanceScale      float64   `json:"guidance_scale"`
	Seed               int64     `json:"seed"`
	IDEmbeds           []float32 `json:"id_embeds"`
	InputIDImages      []string  `json:"input_id_images"`
}

type generateResponse struct {
	Images []string `json:"images"`
	Error  string   `json:"error,omitempty"`
}

// NewPipelineClient returns a client for the worker at cfg.BaseURL.
func NewPipelineClient(cfg PipelineConfig) *PipelineClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultWorkerTimeout
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		client.SetAuthToken(cfg.APIKey)
	}

	return &PipelineClient{
		client:       client,
		triggerWord:  cfg.TriggerWord,
		maxInputEdge: cfg.MaxInputEdge,
	}
}

// TriggerWord implements Pipeline.
func (c *PipelineClient) TriggerWord() string {
	return c.triggerWord
}

// Generate implements Pipeline.
func (c *PipelineClient) Generate(ctx context.Context, params GenerateParams) ([]image.Image, error) {
	if err := ValidateParams(params); err != nil {
		return nil, err
	}

	inputs := make([]string, len(params.InputImages))
	for i, img := range params.InputImages {
		b64, err := imageio.EncodePNGBase64(imageio.ResizeToFit(img, c.maxInputEdge))
		if err != nil {
			return nil, fmt.Errorf("%w: encode input image %d: %v", ErrGenerationFailed, i, err)
		}
		inputs[i] = b64
	}

	body := generateRequest{
		Prompt:             params.Prompt,
		NegativePrompt:     params.NegativePrompt,
		Width:              params.Width,
		Height:             params.Height,
		NumImagesPerPrompt: params.NumImages,
		NumInferenceSteps:  params.Steps,
		StartMergeStep:     params.StartMergeStep,
		GuidanceScale:      params.GuidanceScale,
		Seed:               params.Seed,
		IDEmbeds:           params.IDEmbedding,
		InputIDImages:      inputs,
	}

	res, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post("/generate")
	if err != nil {
		return nil, classifyTransportError(ctx, err)
	}

	var out generateResponse
	if jerr := json.Unmarshal(res.Body(), &out); jerr != nil && res.IsSuccess() {
		return nil, fmt.Errorf("%w: decode response: %v", ErrGenerationFailed, jerr)
	}

	if !res.IsSuccess() {
		msg := out.Error
		if msg == "" {
			msg = strings.TrimSpace(res.String())
		}
		switch res.StatusCode() {
		case http.StatusGatewayTimeout, http.StatusRequestTimeout:
			return nil, fmt.Errorf("%w: worker status %d: %s", ErrGenerationTimeout, res.StatusCode(), msg)
		case http.StatusServiceUnavailable:
			return nil, fmt.Errorf("%w: worker status %d: %s", ErrWorkerUnavailable, res.StatusCode(), msg)
		default:
			return nil, fmt.Errorf("%w: worker status %d: %s", ErrGenerationFailed, res.StatusCode(), msg)
		}
	}

	if len(out.Images) != params.NumImages {
		return nil, fmt.Errorf("%w: worker returned %d images, want %d",
			ErrGenerationFailed, len(out.Images), params.NumImages)
	}

	images := make([]image.Image, len(out.Images))
	for i, b64 := range out.Images {
		img, err := decodeWorkerImage(b64, params.Width, params.Height)
		if err != nil {
			return nil, fmt.Errorf("%w: image %d: %w", ErrGenerationFailed, i, err)
		}
		images[i] = img
	}
	return images, nil
}

// Health implements HealthChecker.
func (c *PipelineClient) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	res, err := c.client.R().SetContext(ctx).Get("/health")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWorkerUnavailable, err)
	}
	if !res.IsSuccess() {
		return fmt.Errorf("%w: health status %d", ErrWorkerUnavailable, res.StatusCode())
	}
	return nil
}

func classifyTransportError(ctx context.Context, err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) ||
		(errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %v", ErrGenerationTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrWorkerUnavailable, err)
}
