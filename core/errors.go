package core

import (
	"errors"
	"fmt"
)

// ConfigError represents a configuration-related error with actionable instructions.
type ConfigError struct {
	Code    string // Error code for programmatic handling
	Message string // Human-readable error message
	Action  string // Actionable instruction for resolution
}

func (e *ConfigError) Error() string {
	if e.Action != "" {
		return fmt.Sprintf("%s. %s", e.Message, e.Action)
	}
	return e.Message
}

// Error codes for configuration errors
const (
	ErrCodeMissingConfig     = "MISSING_CONFIG"
	ErrCodeInvalidValue      = "INVALID_VALUE"
	ErrCodeInputImageMissing = "INPUT_IMAGE_MISSING"
	ErrCodeWorkerUnreachable = "WORKER_UNREACHABLE"
)

// ErrMissingConfig returns an error for missing required configuration
func ErrMissingConfig(varName string) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeMissingConfig,
		Message: fmt.Sprintf("Missing required configuration: %s", varName),
		Action:  fmt.Sprintf("Set %s in your .env file", varName),
	}
}

// ErrInvalidValue returns an error for a variable whose value is out of range.
func ErrInvalidValue(varName, value, reason string) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeInvalidValue,
		Message: fmt.Sprintf("Invalid %s '%s': %s", varName, value, reason),
		Action:  fmt.Sprintf("Fix %s in your .env file or environment", varName),
	}
}

// ErrInputImageMissing returns an error when no identity photo is configured.
func ErrInputImageMissing() *ConfigError {
	return &ConfigError{
		Code:    ErrCodeInputImageMissing,
		Message: "No input image configured",
		Action:  "Pass --input or set INPUT_IMAGES to the path of a photo containing two faces",
	}
}

// ErrWorkerUnreachable returns an error when an inference worker fails its health check.
func ErrWorkerUnreachable(name, url, reason string) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeWorkerUnreachable,
		Message: fmt.Sprintf("Cannot reach %s worker at %s: %s", name, url, reason),
		Action:  "Check that the worker process is running and the URL is correct",
	}
}

// IsConfigError reports whether err wraps a *ConfigError.
func IsConfigError(err error) bool {
	var cfgErr *ConfigError
	return errors.As(err, &cfgErr)
}
