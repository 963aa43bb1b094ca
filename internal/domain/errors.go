package domain

import (
	"errors"
	"fmt"
)

// Category sentinels — use with NewSubSystemError for subsystem-specific errors.
var (
	ErrNotFound     = fmt.Errorf("not found")
	ErrDuplicate    = fmt.Errorf("duplicate")
	ErrLimitReached = fmt.Errorf("limit reached")
	ErrDisabled     = fmt.Errorf("disabled")
	ErrInvalidInput = fmt.Errorf("invalid input")
)

// Engine sentinels. Every failure the engine surfaces wraps one of these.
var (
	// ErrConstruction means the browser process could not be started for a
	// session. The key is never registered on failure, so a caller may retry;
	// the engine itself performs no automatic retry.
	ErrConstruction = fmt.Errorf("browser construction failed")

	// ErrStaleRef means a page-map ref no longer resolves against the live
	// DOM: the document generation moved on, the stamped element is gone, or
	// its shape no longer matches what was recorded when the ref was issued.
	// The caller should request a fresh page map and retry with a new ref.
	ErrStaleRef = fmt.Errorf("stale element reference")

	// ErrActionTimeout means a driver action exceeded its per-action deadline.
	// The action is abandoned; the browser stays up.
	ErrActionTimeout = fmt.Errorf("browser action timed out")

	// ErrPartialParse annotates a page map in which one or more malformed
	// subtrees were skipped. The map is still returned and usable.
	ErrPartialParse = fmt.Errorf("page parsed partially")

	// ErrSessionBusy means a second action was attempted on a session whose
	// browser is already mid-action and the bounded wait expired.
	ErrSessionBusy = fmt.Errorf("session is busy")

	ErrSessionNotFound = fmt.Errorf("session not found")
	ErrDriver          = fmt.Errorf("browser driver failure")
	ErrSSRFBlocked     = fmt.Errorf("request to private/reserved IP blocked")
	ErrRateLimited     = fmt.Errorf("navigation rate limit exceeded")
	ErrConfigLoad      = fmt.Errorf("failed to load configuration")
	ErrDecryption      = fmt.Errorf("decryption failed")
	ErrArtifactStore   = fmt.Errorf("artifact store failed")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op        string // operation name (e.g., "Registry.Acquire")
	Err       error  // underlying sentinel or wrapped error
	Detail    string // human-readable detail
	SubSystem string // subsystem identifier (e.g., "registry", "driver"); used for ErrorCode dispatch
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// NewSubSystemError creates a DomainError tagged with a subsystem so that
// ErrorCodeOf can map a category sentinel to a subsystem-specific code.
func NewSubSystemError(subsystem, op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail, SubSystem: subsystem}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsRetryableError reports whether err is transient and may succeed on retry.
// Construction failures count as retryable because the failed key is never
// registered; whether to actually retry is caller policy.
func IsRetryableError(err error) bool {
	return errors.Is(err, ErrActionTimeout) ||
		errors.Is(err, ErrSessionBusy) ||
		errors.Is(err, ErrConstruction) ||
		errors.Is(err, ErrRateLimited)
}

// IsStaleRef reports whether err indicates a dead page-map ref.
func IsStaleRef(err error) bool {
	return errors.Is(err, ErrStaleRef)
}

// ErrorCode is a machine-parseable error category for monitoring and alerting.
type ErrorCode string

// Error codes. Every sentinel maps to exactly one code.
const (
	CodeUnknown         ErrorCode = "UNKNOWN"
	CodeConstruction    ErrorCode = "CONSTRUCTION_FAILED"
	CodeStaleRef        ErrorCode = "STALE_REF"
	CodeActionTimeout   ErrorCode = "ACTION_TIMEOUT"
	CodePartialParse    ErrorCode = "PARSE_PARTIAL"
	CodeSessionBusy     ErrorCode = "SESSION_BUSY"
	CodeSessionNotFound ErrorCode = "SESSION_NOT_FOUND"
	CodeDriver          ErrorCode = "DRIVER_FAILURE"
	CodeSSRFBlocked     ErrorCode = "SSRF_BLOCKED"
	CodeRateLimited     ErrorCode = "RATE_LIMITED"
	CodeConfigLoad      ErrorCode = "CONFIG_LOAD"
	CodeDecryption      ErrorCode = "DECRYPTION"
	CodeArtifactStore   ErrorCode = "ARTIFACT_STORE"

	// Subsystem-specific codes used by subSystemCodeMap.
	CodeSessionLimit     ErrorCode = "SESSION_LIMIT"
	CodeArtifactNotFound ErrorCode = "ARTIFACT_NOT_FOUND"
	CodeBadLocator       ErrorCode = "BAD_LOCATOR"
	CodeBadKey           ErrorCode = "BAD_KEY_NAME"

	// Category fallback codes.
	CodeNotFound     ErrorCode = "NOT_FOUND"
	CodeDuplicate    ErrorCode = "DUPLICATE"
	CodeLimitReached ErrorCode = "LIMIT_REACHED"
	CodeDisabled     ErrorCode = "DISABLED"
	CodeInvalidInput ErrorCode = "INVALID_INPUT"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrNotFound:     CodeNotFound,
	ErrDuplicate:    CodeDuplicate,
	ErrLimitReached: CodeLimitReached,
	ErrDisabled:     CodeDisabled,
	ErrInvalidInput: CodeInvalidInput,

	ErrConstruction:    CodeConstruction,
	ErrStaleRef:        CodeStaleRef,
	ErrActionTimeout:   CodeActionTimeout,
	ErrPartialParse:    CodePartialParse,
	ErrSessionBusy:     CodeSessionBusy,
	ErrSessionNotFound: CodeSessionNotFound,
	ErrDriver:          CodeDriver,
	ErrSSRFBlocked:     CodeSSRFBlocked,
	ErrRateLimited:     CodeRateLimited,
	ErrConfigLoad:      CodeConfigLoad,
	ErrDecryption:      CodeDecryption,
	ErrArtifactStore:   CodeArtifactStore,
}

// subSystemCodeMap maps (category sentinel, subsystem) pairs to specific codes.
var subSystemCodeMap = map[error]map[string]ErrorCode{
	ErrNotFound: {
		"registry": CodeSessionNotFound,
		"artifact": CodeArtifactNotFound,
	},
	ErrLimitReached: {
		"registry": CodeSessionLimit,
	},
	ErrInvalidInput: {
		"locator": CodeBadLocator,
		"keys":    CodeBadKey,
	},
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// It unwraps DomainError and uses errors.Is to match sentinel errors; a
// DomainError with a SubSystem resolves through subSystemCodeMap first.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	var de *DomainError
	if errors.As(err, &de) {
		if de.SubSystem != "" {
			if subsysMap, ok := subSystemCodeMap[de.Err]; ok {
				if code, ok := subsysMap[de.SubSystem]; ok {
					return code
				}
			}
		}
		if code, ok := errorCodeMap[de.Err]; ok {
			return code
		}
	}

	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}

	return CodeUnknown
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
func (e *DomainError) Code() ErrorCode {
	if e.SubSystem != "" {
		if subsysMap, ok := subSystemCodeMap[e.Err]; ok {
			if code, ok := subsysMap[e.SubSystem]; ok {
				return code
			}
		}
	}
	if code, ok := errorCodeMap[e.Err]; ok {
		return code
	}
	return CodeUnknown
}
