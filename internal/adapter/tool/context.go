package tool

import (
	"context"
	"encoding/json"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"pagelens/internal/domain"
	"pagelens/internal/infra/tracer"
	"pagelens/internal/usecase"
)

const contextDescription = `Merge the current page map into an outgoing payload. Call this with the
text you are about to send to the model; when the session has a live
browser the current page state is appended under a [Current page] banner,
within the configured token budget. Without a live browser the payload
comes back unchanged. Never rewrites earlier turns; only the payload you
pass in.`

var contextSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "session": {
      "type": "string",
      "description": "Session key whose page state to merge"
    },
    "payload": {
      "type": "string",
      "description": "Outgoing payload text; may be empty to fetch the page section alone"
    }
  },
  "required": ["session"]
}`)

// ContextTool exposes the page-map injection pipeline to the calling
// control loop. The loop invokes it on each outgoing payload right before
// a model turn; sessions without a live browser are a strict no-op.
type ContextTool struct {
	injector *usecase.Injector
	logger   *slog.Logger
}

// NewContextTool wires the injection pipeline as a tool.
func NewContextTool(injector *usecase.Injector, logger *slog.Logger) *ContextTool {
	if logger == nil {
		logger = slog.Default()
	}
	return &ContextTool{injector: injector, logger: logger}
}

// Tool returns the tool definition for registration.
func (t *ContextTool) Tool() domain.Tool {
	return domain.Tool{
		Name:        "page_context",
		Description: contextDescription,
		Schema:      contextSchema,
		Execute:     t.Execute,
	}
}

type contextParams struct {
	Session string `json:"session"`
	Payload string `json:"payload"`
}

// Execute merges the session's current page map into the payload.
func (t *ContextTool) Execute(ctx context.Context, rawParams json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.page_context", t.logger, rawParams,
		func(ctx context.Context, span trace.Span, p contextParams) (any, error) {
			if err := RequireField("session", p.Session); err != nil {
				return nil, err
			}
			span.SetAttributes(tracer.StringAttr("tool.session", p.Session))

			merged, injected, err := t.injector.Inject(ctx, p.Session, p.Payload)
			if err != nil {
				return nil, err
			}
			if !injected {
				t.logger.Debug("no live browser, payload unchanged", "session", p.Session)
			}
			return merged, nil
		})
}
