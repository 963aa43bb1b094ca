package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"pagelens/internal/domain"
	"pagelens/internal/infra/tracer"
	"pagelens/internal/parser"
	"pagelens/internal/usecase"
)

// maxTypeTextLen bounds one type action's text.
const maxTypeTextLen = 10000

// maxWaitTimeoutMS bounds wait_visible's explicit timeout.
const maxWaitTimeoutMS = 120000

// BrowserTool exposes the session engine as an action-based tool. Actions
// that move the page return the regenerated page map, so the caller always
// holds refs describing the page as it stands.
type BrowserTool struct {
	engine   *usecase.Engine
	logger   *slog.Logger
	dispatch func(ctx context.Context, span trace.Span, p browserParams) (any, error)
}

// NewBrowserTool creates the browser tool over an action engine.
func NewBrowserTool(engine *usecase.Engine, logger *slog.Logger) *BrowserTool {
	t := &BrowserTool{engine: engine, logger: logger}
	t.dispatch = Dispatch(
		func(p browserParams) string { return p.Action },
		func(p browserParams) []attribute.KeyValue {
			return []attribute.KeyValue{tracer.StringAttr("tool.session", p.Session)}
		},
		ActionMap[browserParams]{
			"navigate":     t.navigate,
			"click":        t.click,
			"type":         t.typeText,
			"press_keys":   t.pressKeys,
			"scroll":       t.scroll,
			"wait_visible": t.waitVisible,
			"exists":       t.exists,
			"page_map":     t.pageMap,
			"screenshot":   t.screenshot,
			"status":       t.status,
			"release":      t.release,
		},
	)
	return t
}

const browserDescription = "Drive an isolated browser session: navigate, read the numbered page map, " +
	"click, type, press keys, scroll, wait for elements, take screenshots. " +
	"Address elements by ref from the latest page map, or by CSS selector/XPath. " +
	"Page-moving actions return the fresh page map and record a versioned screenshot; " +
	"refs from earlier maps are rejected as stale."

var browserSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"action": {
			"type": "string",
			"enum": ["navigate", "click", "type", "press_keys", "scroll", "wait_visible", "exists", "page_map", "screenshot", "status", "release"],
			"description": "The browser action to perform"
		},
		"session": {
			"type": "string",
			"description": "Session key. Each key names an isolated browser; the first navigate constructs it."
		},
		"url": {
			"type": "string",
			"description": "URL for the navigate action"
		},
		"ref": {
			"type": "integer",
			"description": "Element ref from the current page map"
		},
		"selector": {
			"type": "string",
			"description": "CSS selector locator"
		},
		"xpath": {
			"type": "string",
			"description": "XPath locator"
		},
		"text": {
			"type": "string",
			"description": "Text to type for the type action"
		},
		"clear_first": {
			"type": "boolean",
			"description": "Clear the field before typing (default: false)"
		},
		"keys": {
			"type": "array",
			"items": {"type": "string"},
			"description": "Key presses for press_keys, e.g. [\"Enter\"]"
		},
		"mode": {
			"type": "string",
			"enum": ["lean", "rich"],
			"description": "Page map rendering mode (default: lean)"
		},
		"timeout_ms": {
			"type": "integer",
			"description": "Wait bound in milliseconds for wait_visible (default: engine setting)"
		}
	},
	"required": ["action", "session"]
}`)

// Tool packages the browser surface for registration.
func (t *BrowserTool) Tool() domain.Tool {
	return domain.Tool{
		Name:        "browser",
		Description: browserDescription,
		Schema:      browserSchema,
		Execute:     t.Execute,
	}
}

type browserParams struct {
	Action     string   `json:"action"`
	Session    string   `json:"session"`
	URL        string   `json:"url,omitempty"`
	Ref        int      `json:"ref,omitempty"`
	Selector   string   `json:"selector,omitempty"`
	XPath      string   `json:"xpath,omitempty"`
	Text       string   `json:"text,omitempty"`
	ClearFirst bool     `json:"clear_first,omitempty"`
	Keys       []string `json:"keys,omitempty"`
	Mode       string   `json:"mode,omitempty"`
	TimeoutMS  int      `json:"timeout_ms,omitempty"`
}

func (p browserParams) locator() domain.Locator {
	return domain.Locator{Ref: p.Ref, Selector: p.Selector, XPath: p.XPath}
}

func (t *BrowserTool) Execute(ctx context.Context, args json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.browser", t.logger, args,
		func(ctx context.Context, span trace.Span, p browserParams) (any, error) {
			if err := RequireField("session", strings.TrimSpace(p.Session)); err != nil {
				return nil, err
			}
			return t.dispatch(ctx, span, p)
		},
	)
}

// mapResult renders an action result as a header line plus the page map.
// Page-moving actions carry their screenshot version in the header.
func mapResult(header string, res *usecase.ActionResult) *domain.ToolResult {
	if res.Shot != nil {
		header += fmt.Sprintf(" | screenshot v%d", res.Shot.Version)
	}
	return domain.TextResult(header + "\n\n" + parser.Render(res.Map))
}

func (t *BrowserTool) navigate(ctx context.Context, p browserParams) (any, error) {
	if err := ValidateAll(
		RequireField("url", strings.TrimSpace(p.URL)),
		ValidateURL("url", p.URL),
	); err != nil {
		return nil, err
	}
	mode, err := domain.ParseRenderMode(p.Mode)
	if err != nil {
		return nil, err
	}
	res, err := t.engine.Navigate(ctx, p.Session, p.URL, mode)
	if err != nil {
		return nil, err
	}
	t.logger.Debug("browser navigated", "session", p.Session, "url", res.URL)
	return mapResult(fmt.Sprintf("Navigated to %s", res.URL), res), nil
}

func (t *BrowserTool) click(ctx context.Context, p browserParams) (any, error) {
	mode, err := domain.ParseRenderMode(p.Mode)
	if err != nil {
		return nil, err
	}
	loc := p.locator()
	res, err := t.engine.Click(ctx, p.Session, loc, mode)
	if err != nil {
		return nil, err
	}
	t.logger.Debug("browser clicked", "session", p.Session, "locator", loc.String())
	return mapResult(fmt.Sprintf("Clicked %s", loc), res), nil
}

func (t *BrowserTool) typeText(ctx context.Context, p browserParams) (any, error) {
	// Empty text with clear_first clears the field.
	if !p.ClearFirst {
		if err := RequireField("text", p.Text); err != nil {
			return nil, err
		}
	}
	if err := ValidateMaxLength("text", p.Text, maxTypeTextLen); err != nil {
		return nil, err
	}
	mode, err := domain.ParseRenderMode(p.Mode)
	if err != nil {
		return nil, err
	}
	loc := p.locator()
	res, err := t.engine.TypeText(ctx, p.Session, loc, p.Text, p.ClearFirst, mode)
	if err != nil {
		return nil, err
	}
	t.logger.Debug("browser typed", "session", p.Session, "locator", loc.String(), "text_len", len(p.Text))
	return mapResult(fmt.Sprintf("Typed %d chars into %s", len(p.Text), loc), res), nil
}

func (t *BrowserTool) pressKeys(ctx context.Context, p browserParams) (any, error) {
	if len(p.Keys) == 0 {
		return nil, domain.NewDomainError("tool", domain.ErrInvalidInput, "'keys' is required")
	}
	mode, err := domain.ParseRenderMode(p.Mode)
	if err != nil {
		return nil, err
	}
	loc := p.locator()
	res, err := t.engine.PressKeys(ctx, p.Session, loc, p.Keys, mode)
	if err != nil {
		return nil, err
	}
	t.logger.Debug("browser pressed keys", "session", p.Session, "locator", loc.String(), "keys", p.Keys)
	return mapResult(fmt.Sprintf("Pressed %s on %s", strings.Join(p.Keys, "+"), loc), res), nil
}

func (t *BrowserTool) scroll(ctx context.Context, p browserParams) (any, error) {
	mode, err := domain.ParseRenderMode(p.Mode)
	if err != nil {
		return nil, err
	}
	loc := p.locator()
	res, err := t.engine.ScrollTo(ctx, p.Session, loc, mode)
	if err != nil {
		return nil, err
	}
	t.logger.Debug("browser scrolled", "session", p.Session, "locator", loc.String())
	return mapResult(fmt.Sprintf("Scrolled to %s", loc), res), nil
}

func (t *BrowserTool) waitVisible(ctx context.Context, p browserParams) (any, error) {
	if err := ValidateRange("timeout_ms", p.TimeoutMS, 0, maxWaitTimeoutMS); err != nil {
		return nil, err
	}
	mode, err := domain.ParseRenderMode(p.Mode)
	if err != nil {
		return nil, err
	}
	loc := p.locator()
	timeout := time.Duration(p.TimeoutMS) * time.Millisecond
	res, err := t.engine.WaitVisible(ctx, p.Session, loc, timeout, mode)
	if err != nil {
		return nil, err
	}
	t.logger.Debug("browser wait visible", "session", p.Session, "locator", loc.String())
	return mapResult(fmt.Sprintf("Element is visible: %s", loc), res), nil
}

type existsResult struct {
	Exists  bool   `json:"exists"`
	Locator string `json:"locator"`
}

func (t *BrowserTool) exists(ctx context.Context, p browserParams) (any, error) {
	loc := p.locator()
	ok, err := t.engine.Exists(ctx, p.Session, loc)
	if err != nil {
		return nil, err
	}
	return existsResult{Exists: ok, Locator: loc.String()}, nil
}

func (t *BrowserTool) pageMap(ctx context.Context, p browserParams) (any, error) {
	mode, err := domain.ParseRenderMode(p.Mode)
	if err != nil {
		return nil, err
	}
	res, err := t.engine.PageMap(ctx, p.Session, mode)
	if err != nil {
		return nil, err
	}
	return domain.TextResult(parser.Render(res.Map)), nil
}

func (t *BrowserTool) screenshot(ctx context.Context, p browserParams) (any, error) {
	shot, err := t.engine.Screenshot(ctx, p.Session)
	if err != nil {
		return nil, err
	}
	t.logger.Debug("browser screenshot captured",
		"session", p.Session, "version", shot.Version, "bytes", shot.Bytes)
	if shot.Path == "" {
		return fmt.Sprintf("Screenshot version %d captured (%d bytes, not persisted)",
			shot.Version, shot.Bytes), nil
	}
	return fmt.Sprintf("Screenshot version %d (%d bytes) stored at %s",
		shot.Version, shot.Bytes, shot.Path), nil
}

func (t *BrowserTool) status(ctx context.Context, p browserParams) (any, error) {
	info, err := t.engine.Status(ctx, p.Session)
	if err != nil {
		return nil, err
	}
	return info, nil
}

func (t *BrowserTool) release(ctx context.Context, p browserParams) (any, error) {
	if t.engine.Release(ctx, p.Session) {
		return fmt.Sprintf("Session %q released", p.Session), nil
	}
	return fmt.Sprintf("Session %q had no live browser", p.Session), nil
}
