package sdruntime

import (
	"context"
	"image"
)

// Pipeline generates identity-conditioned images. Implementations are the
// HTTP PipelineClient, the bounded SlotPool wrapper, and fakes in tests.
type Pipeline interface {
	// Generate runs one pipeline call and returns params.NumImages images.
	Generate(ctx context.Context, params GenerateParams) ([]image.Image, error)
	// TriggerWord is the token the identity embedding is bound to.
	TriggerWord() string
}

// HealthChecker is implemented by pipelines backed by a remote worker.
type HealthChecker interface {
	Health(ctx context.Context) error
}
