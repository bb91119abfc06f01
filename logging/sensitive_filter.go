package logging

import (
	"fmt"
	"regexp"
	"strings"
)

// RedactedPlaceholder replaces secrets in log output.
const RedactedPlaceholder = "[REDACTED]"

// sensitivePatterns match secrets embedded in free-form strings such as
// worker error bodies or request dumps.
var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(bearer\s+[a-zA-Z0-9._~+/=-]{16,})`),
	regexp.MustCompile(`(?i)(basic\s+[a-zA-Z0-9+/=]{12,})`),
	regexp.MustCompile(`(?i)(password\s*[:=]\s*[^\s,;&]{4,})`),
	regexp.MustCompile(`(?i)(api[_-]?key\s*[:=]\s*[^\s,;&]{8,})`),
	regexp.MustCompile(`(?i)(token\s*[:=]\s*[^\s,;&]{8,})`),
	regexp.MustCompile(`(?i)(hf_[a-zA-Z0-9]{30,})`),
}

// base64Blob matches long runs of base64, typically an encoded image that
// slipped into an error message.
var base64Blob = regexp.MustCompile(`[A-Za-z0-9+/]{256,}={0,2}`)

// sensitiveFieldNames are substrings of field or variable names whose values
// are never logged.
var sensitiveFieldNames = []string{
	"PIPELINE_API_KEY",
	"FACE_API_KEY",
	"WEBUI_PASSWORD",
	"AUTHORIZATION",
	"PASSWORD",
	"SECRET",
	"TOKEN",
	"API_KEY",
	"APIKEY",
}

// RedactSensitiveData replaces secrets found in value and collapses long
// base64 payloads to a size marker.
func RedactSensitiveData(value string) string {
	if value == "" {
		return value
	}

	result := value
	for _, pattern := range sensitivePatterns {
		result = pattern.ReplaceAllString(result, RedactedPlaceholder)
	}
	return base64Blob.ReplaceAllStringFunc(result, func(blob string) string {
		return fmt.Sprintf("[BASE64 %d chars]", len(blob))
	})
}

// IsSensitiveField reports whether a field name marks its value as secret.
//
//	IsSensitiveField("face_api_key") // true
//	IsSensitiveField("prompt")       // false
func IsSensitiveField(fieldName string) bool {
	upperName := strings.ToUpper(fieldName)
	for _, name := range sensitiveFieldNames {
		if strings.Contains(upperName, name) {
			return true
		}
	}
	return false
}

// RedactField returns the placeholder for sensitive field names and the
// scrubbed value otherwise.
func RedactField(fieldName, fieldValue string) string {
	if IsSensitiveField(fieldName) {
		return RedactedPlaceholder
	}
	return RedactSensitiveData(fieldValue)
}
