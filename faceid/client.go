package faceid

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"photomaker/imageio"
)

// Config configures a Client.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration

	// MaxEdge downsizes the photo before upload; bounding boxes are scaled
	// back to the original resolution. Zero disables it.
	MaxEdge int

	// Retries is the number of extra attempts on 502/503/504.
	Retries int
}

// Client calls a face worker over HTTP.
//
// POST /detect takes {"image": "<base64 png>"} and answers
// {"faces": [{"bbox": [x1,y1,x2,y2], "det_score": s, "embedding": [...]}]}.
type Client struct {
	client  *resty.Client
	maxEdge int
}

type detectRequest struct {
	Image string `json:"image"`
}

type detectResponse struct {
	Faces []Face `json:"faces"`
	Error string `json:"error,omitempty"`
}

// NewClient returns a Client for the worker at cfg.BaseURL.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetRetryCount(cfg.Retries).
		SetRetryWaitTime(500 * time.Millisecond).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil || r == nil {
				return false
			}
			switch r.StatusCode() {
			case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
				return true
			}
			return false
		})
	if cfg.APIKey != "" {
		client.SetAuthToken(cfg.APIKey)
	}

	return &Client{client: client, maxEdge: cfg.MaxEdge}
}

// Detect implements Detector.
func (c *Client) Detect(ctx context.Context, img image.Image) ([]Face, error) {
	sent := imageio.ResizeToFit(img, c.maxEdge)
	scale := float64(img.Bounds().Dx()) / float64(sent.Bounds().Dx())

	b64, err := imageio.EncodePNGBase64(sent)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDetectionFailed, err)
	}

	res, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(detectRequest{Image: b64}).
		Post("/detect")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWorkerDown, err)
	}

	var out detectResponse
	jerr := json.Unmarshal(res.Body(), &out)
	if !res.IsSuccess() {
		msg := out.Error
		if msg == "" {
			msg = strings.TrimSpace(res.String())
		}
		return nil, fmt.Errorf("%w: worker status %d: %s", ErrDetectionFailed, res.StatusCode(), msg)
	}
	if jerr != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrDetectionFailed, jerr)
	}

	if scale != 1 {
		for i := range out.Faces {
			for k := range out.Faces[i].BBox {
				out.Faces[i].BBox[k] *= scale
			}
		}
	}
	return out.Faces, nil
}

// Health reports whether the worker answers GET /health with 2xx.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	res, err := c.client.R().SetContext(ctx).Get("/health")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWorkerDown, err)
	}
	if !res.IsSuccess() {
		return fmt.Errorf("%w: health status %d", ErrWorkerDown, res.StatusCode())
	}
	return nil
}
