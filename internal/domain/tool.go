package domain

import (
	"context"
	"encoding/json"
)

// Tool is one agent-callable operation. Schema is a JSON Schema document
// describing the arguments object.
type Tool struct {
	Name        string
	Description string
	Schema      json.RawMessage
	Execute     func(ctx context.Context, args json.RawMessage) (*ToolResult, error)
}

// ToolResult is the uniform envelope returned to the agent. Engine errors are
// folded into the envelope rather than failing the transport call, so the
// agent always receives something it can react to.
type ToolResult struct {
	Content     string `json:"content"`
	IsError     bool   `json:"is_error,omitempty"`
	IsRetryable bool   `json:"is_retryable,omitempty"`
	Code        string `json:"code,omitempty"`
}

// TextResult wraps a successful payload.
func TextResult(content string) *ToolResult {
	return &ToolResult{Content: content}
}

// ErrorResult folds an error into the result envelope, carrying its taxonomy
// code and retryability so the agent can decide whether to retry.
func ErrorResult(err error) *ToolResult {
	return &ToolResult{
		Content:     err.Error(),
		IsError:     true,
		IsRetryable: IsRetryableError(err),
		Code:        string(ErrorCodeOf(err)),
	}
}
