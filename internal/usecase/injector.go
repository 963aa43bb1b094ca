package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"pagelens/internal/domain"
	"pagelens/internal/parser"
)

// injectionBanner introduces the appended page map so the model can tell
// page state apart from the surrounding payload.
const injectionBanner = "[Current page]"

// defaultTokenBudget bounds the injected page-map section.
const defaultTokenBudget = 8000

// InjectorConfig bounds injected page maps.
type InjectorConfig struct {
	// TokenBudget caps the banner plus rendered map, not the payload.
	TokenBudget int
	// Mode is the render mode for injected maps. Empty uses the engine
	// default.
	Mode domain.RenderMode
}

// Injector appends the current page map to outgoing payloads. The map is
// regenerated at injection time, under the session lock, so the model
// always sees the page as it stands rather than as it stood after the
// last action.
type Injector struct {
	engine  *Engine
	counter domain.TokenCounter
	cfg     InjectorConfig
	logger  *slog.Logger
}

// NewInjector wires the injection pipeline. counter may be nil, in which
// case a characters/4 estimate is used.
func NewInjector(engine *Engine, counter domain.TokenCounter, cfg InjectorConfig, logger *slog.Logger) *Injector {
	if cfg.TokenBudget <= 0 {
		cfg.TokenBudget = defaultTokenBudget
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Injector{
		engine:  engine,
		counter: counter,
		cfg:     cfg,
		logger:  logger,
	}
}

// Inject appends the session's current page map to payload under the
// injection banner. A key with no live browser is a strict no-op: the
// payload passes through unchanged with injected=false and no error.
func (inj *Injector) Inject(ctx context.Context, key string, payload string) (string, bool, error) {
	res, err := inj.engine.PageMap(ctx, key, inj.cfg.Mode)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return payload, false, nil
		}
		return payload, false, err
	}

	text := inj.fitToBudget(res.Map)
	section := injectionBanner + "\n" + text
	if payload == "" {
		return section, true, nil
	}
	return payload + "\n\n" + section, true, nil
}

// fitToBudget renders the map and degrades it until the banner plus text
// fits the token budget: rich drops to lean, then content entries are
// elided tail-first, then the network log goes, and as a last resort the
// text is cut mid-line.
func (inj *Injector) fitToBudget(m *domain.PageMap) string {
	text := parser.Render(m)
	if inj.fits(text) {
		return text
	}

	if m.Mode == domain.ModeRich {
		m.Mode = domain.ModeLean
		text = parser.Render(m)
		if inj.fits(text) {
			return text
		}
	}

	baseNotes := m.Notes
	content := m.Content
	keep := len(content)
	for keep > 0 && !inj.fits(text) {
		keep /= 2
		m.Content = content[:keep]
		m.Notes = append(append([]string(nil), baseNotes...),
			fmt.Sprintf("%d content entries elided to fit the injection budget", len(content)-keep))
		text = parser.Render(m)
	}
	if inj.fits(text) {
		return text
	}

	if len(m.Network) > 0 {
		m.Network = nil
		m.Notes = append(m.Notes, "network log elided to fit the injection budget")
		text = parser.Render(m)
		if inj.fits(text) {
			return text
		}
	}

	// Even the interactive skeleton is over budget. Cut hard rather than
	// blowing the context: ~4 characters per token.
	limit := inj.cfg.TokenBudget * 4
	if len(text) > limit {
		inj.logger.Warn("page map truncated mid-line to fit the injection budget",
			"generation", m.Generation,
			"rendered_len", len(text),
		)
		text = text[:limit] + "\n(truncated)"
	}
	return text
}

func (inj *Injector) fits(text string) bool {
	return inj.count(injectionBanner+"\n"+text) <= inj.cfg.TokenBudget
}

func (inj *Injector) count(text string) int {
	if inj.counter != nil {
		return inj.counter.Count(text)
	}
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}
