package tool

import "strings"

// transientPatterns are substrings in error messages that indicate failures
// likely to clear on retry. They cover driver errors that reach the tool
// without a domain sentinel: raw CDP and network failures. Checked
// case-insensitively. Context cancellation is deliberately absent; a
// canceled caller is not a transient backend.
var transientPatterns = []string{
	"connection refused",
	"connection reset",
	"timeout",
	"deadline exceeded",
	"temporarily unavailable",
	"target closed",
	"websocket: close",
}

// classifyTransient reports whether the error message indicates a transient
// failure. Domain sentinels are classified by domain.IsRetryableError before
// this fallback runs.
func classifyTransient(err error) bool {
	if err == nil {
		return false
	}
	lower := strings.ToLower(err.Error())
	for _, p := range transientPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
