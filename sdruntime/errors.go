package sdruntime

import "errors"

// Sentinel errors for pipeline operations. Wrap with %w and test with errors.Is.
var (
	// Generation errors
	ErrGenerationFailed  = errors.New("sdruntime: image generation failed")
	ErrGenerationTimeout = errors.New("sdruntime: image generation timed out")
	ErrWorkerUnavailable = errors.New("sdruntime: pipeline worker unavailable")

	// Input validation errors
	ErrInvalidPrompt = errors.New("sdruntime: invalid prompt")
	ErrInvalidParams = errors.New("sdruntime: invalid generation parameters")

	// Trigger word errors
	ErrTriggerWordMissing        = errors.New("sdruntime: trigger word missing")
	ErrTriggerWordDuplicated     = errors.New("sdruntime: multiple trigger words")
	ErrTriggerWordNotSingleToken = errors.New("sdruntime: trigger word is not a single token")
	ErrTokenizerUnavailable      = errors.New("sdruntime: tokenizer unavailable")

	// Slot pool errors
	ErrPoolClosed     = errors.New("sdruntime: slot pool is closed")
	ErrAcquireTimeout = errors.New("sdruntime: timeout acquiring pipeline slot")
)
