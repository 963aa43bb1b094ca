package tool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kaptinlin/jsonschema"

	"pagelens/internal/domain"
)

// WithSchemaValidation wraps a tool so that Execute validates args against
// the tool's JSON Schema before forwarding. The schema is compiled once at
// wrap time; a compile failure is returned so the caller can decide whether
// to register the tool unvalidated.
func WithSchemaValidation(t domain.Tool) (domain.Tool, error) {
	if len(t.Schema) == 0 || string(t.Schema) == "null" {
		return t, nil
	}

	compiler := jsonschema.NewCompiler()
	schema, err := compiler.Compile([]byte(t.Schema))
	if err != nil {
		return domain.Tool{}, fmt.Errorf("compile schema for %q: %w", t.Name, err)
	}

	inner := t.Execute
	t.Execute = func(ctx context.Context, args json.RawMessage) (*domain.ToolResult, error) {
		var v any
		if err := json.Unmarshal(args, &v); err != nil {
			return &domain.ToolResult{
				IsError: true,
				Content: fmt.Sprintf("invalid JSON: %v", err),
				Code:    string(domain.CodeInvalidInput),
			}, nil
		}
		if result := schema.Validate(v); !result.IsValid() {
			return &domain.ToolResult{
				IsError: true,
				Content: fmt.Sprintf("schema validation failed: %v", result.Error()),
				Code:    string(domain.CodeInvalidInput),
			}, nil
		}
		return inner(ctx, args)
	}
	return t, nil
}
