package sdruntime

import (
	"fmt"
	"strings"
)

// ValidatePrompt rejects empty, oversized or NUL-containing prompts.
func ValidatePrompt(prompt string) error {
	if strings.TrimSpace(prompt) == "" {
		return fmt.Errorf("%w: prompt cannot be empty", ErrInvalidPrompt)
	}
	if strings.ContainsRune(prompt, '\x00') {
		return fmt.Errorf("%w: prompt contains null bytes", ErrInvalidPrompt)
	}
	if len(prompt) > MaxPromptLength {
		return fmt.Errorf("%w: prompt length %d exceeds maximum %d",
			ErrInvalidPrompt, len(prompt), MaxPromptLength)
	}
	return nil
}

// SanitizePrompt trims surrounding whitespace.
func SanitizePrompt(prompt string) string {
	return strings.TrimSpace(prompt)
}

// ValidateTriggerWord checks that prompt tokenizes to exactly one occurrence
// of the trigger word's token id. The identity embedding is injected at that
// token, so zero or several occurrences make the call meaningless.
func ValidateTriggerWord(tok Tokenizer, triggerWord, prompt string) error {
	id, ok := tok.TokenID(triggerWord)
	if !ok {
		return fmt.Errorf("%w: '%s'", ErrTriggerWordNotSingleToken, triggerWord)
	}

	count := 0
	for _, tokenID := range tok.Encode(prompt) {
		if tokenID == id {
			count++
		}
	}

	if count == 1 {
		return nil
	}
	return &TriggerWordError{Word: triggerWord, Prompt: prompt, Count: count}
}

// TriggerWordError reports a prompt with zero or several trigger words.
// It unwraps to ErrTriggerWordMissing or ErrTriggerWordDuplicated.
type TriggerWordError struct {
	Word   string
	Prompt string
	Count  int
}

func (e *TriggerWordError) Error() string {
	if e.Count == 0 {
		return fmt.Sprintf("Trigger word '%s' missing in prompt: %s", e.Word, e.Prompt)
	}
	return fmt.Sprintf("Multiple trigger words '%s' found in prompt: %s", e.Word, e.Prompt)
}

func (e *TriggerWordError) Unwrap() error {
	if e.Count == 0 {
		return ErrTriggerWordMissing
	}
	return ErrTriggerWordDuplicated
}

// StartMergeStep converts a style strength percentage into the denoising
// step at which the identity embedding is merged, capped at MaxMergeStep.
func StartMergeStep(styleStrengthRatio float64, steps int) int {
	step := int(styleStrengthRatio / 100 * float64(steps))
	if step > MaxMergeStep {
		step = MaxMergeStep
	}
	if step < 0 {
		step = 0
	}
	return step
}
