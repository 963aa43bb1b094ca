package tool

import (
	"context"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"pagelens/internal/infra/tracer"
)

// ActionHandler handles a single action for an action-based tool.
type ActionHandler[P any] func(ctx context.Context, p P) (any, error)

// ActionMap maps action names to their handlers.
type ActionMap[P any] map[string]ActionHandler[P]

// Dispatch creates a handler for Execute[P] that routes by action name.
// getAction extracts the action string from the params struct; spanAttrs,
// when non-nil, contributes extra span attributes from the params (the
// session key, typically).
func Dispatch[P any](
	getAction func(P) string,
	spanAttrs func(P) []attribute.KeyValue,
	actions ActionMap[P],
) func(ctx context.Context, span trace.Span, p P) (any, error) {
	// Pre-compute sorted action names for deterministic BadAction messages.
	validActions := make([]string, 0, len(actions))
	for name := range actions {
		validActions = append(validActions, name)
	}
	sort.Strings(validActions)

	return func(ctx context.Context, span trace.Span, p P) (any, error) {
		action := getAction(p)
		span.SetAttributes(tracer.StringAttr("tool.action", action))
		if spanAttrs != nil {
			span.SetAttributes(spanAttrs(p)...)
		}

		handler, ok := actions[action]
		if !ok {
			return nil, BadAction(action, validActions...)
		}
		return handler(ctx, p)
	}
}
