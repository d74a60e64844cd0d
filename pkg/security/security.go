package security

import (
	"encoding/json"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jdziat/simple-draft-sync/pkg/core"
)

// Security limits and configuration
const (
	// MaxIDLength is the maximum length for document and job identifiers
	MaxIDLength = 255

	// MaxFieldsSize is the maximum encoded size in bytes of one save (1MB)
	MaxFieldsSize = 1 << 20

	// MaxErrorMessageLength is the maximum length for surfaced error messages
	MaxErrorMessageLength = 4096

	// MinPollInterval is the shortest allowed job polling interval
	MinPollInterval = 10 * time.Millisecond

	// MaxPollInterval is the longest allowed job polling interval
	MaxPollInterval = 5 * time.Minute
)

// validID matches alphanumeric, hyphens, underscores, dots, and colons
var validID = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_\-\.:]*$`)

// ValidateDocumentID validates a document identifier
func ValidateDocumentID(id string) error {
	if id == "" || len(id) > MaxIDLength || !validID.MatchString(id) {
		return core.ErrInvalidDocumentID
	}
	return nil
}

// ValidateJobID validates a job identifier
func ValidateJobID(id string) error {
	if id == "" || len(id) > MaxIDLength || !validID.MatchString(id) {
		return core.ErrInvalidJobID
	}
	return nil
}

// ValidateFields rejects payloads that cannot be encoded or exceed MaxFieldsSize.
func ValidateFields(fields map[string]any) error {
	data, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	if len(data) > MaxFieldsSize {
		return core.ErrPayloadTooLarge
	}
	return nil
}

// SanitizeErrorMessage truncates and sanitizes error messages for display
func SanitizeErrorMessage(msg string) string {
	if msg == "" {
		return ""
	}

	// Remove any null bytes or control characters (except newlines)
	var sanitized strings.Builder
	sanitized.Grow(len(msg))

	for _, r := range msg {
		if r == '\n' || r == '\r' || r == '\t' || (r >= 32 && r != 127) {
			sanitized.WriteRune(r)
		}
	}

	result := sanitized.String()

	if utf8.RuneCountInString(result) > MaxErrorMessageLength {
		runes := []rune(result)
		result = string(runes[:MaxErrorMessageLength-3]) + "..."
	}

	return result
}

// ClampPollInterval keeps a polling interval within limits
func ClampPollInterval(d time.Duration) time.Duration {
	if d < MinPollInterval {
		return MinPollInterval
	}
	if d > MaxPollInterval {
		return MaxPollInterval
	}
	return d
}

// ClampAttempts keeps a retry attempt bound within [0, 100]
func ClampAttempts(n int) int {
	if n < 0 {
		return 0
	}
	if n > 100 {
		return 100
	}
	return n
}
