package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"pagelens/internal/domain"
	"pagelens/internal/parser"
	"pagelens/internal/security"
)

// ActionResult is what a completed action reports back: the session it ran
// in, the page map regenerated from the post-action DOM, and, for actions
// that move the page, the screenshot captured afterwards.
type ActionResult struct {
	SessionKey string            `json:"session_key"`
	SessionID  string            `json:"session_id"`
	URL        string            `json:"url"`
	Title      string            `json:"title"`
	Map        *domain.PageMap   `json:"map"`
	Shot       *ScreenshotResult `json:"screenshot,omitempty"`
}

// ScreenshotResult reports a captured screenshot. Path is set only when an
// artifact store persisted it.
type ScreenshotResult struct {
	SessionKey string `json:"session_key"`
	Version    int    `json:"version"`
	Path       string `json:"path,omitempty"`
	Bytes      int    `json:"bytes"`
}

// EngineConfig tunes action behavior.
type EngineConfig struct {
	// DefaultMode is the render mode used when an action names none.
	DefaultMode domain.RenderMode
	// WaitTimeout bounds wait_visible when the caller gives no timeout.
	WaitTimeout time.Duration
}

// Engine executes actions against registry sessions. Every action runs
// under the session's lock; mutating actions finish by regenerating the
// page map from the post-action DOM, so the refs handed back always
// describe what the page looks like now. Mutating actions also capture a
// screenshot under the session's version counter, so a caller watching the
// artifact store sees one versioned frame per page-moving step.
type Engine struct {
	registry  *Registry
	parser    *parser.Parser
	guard     *security.Guard
	artifacts domain.ArtifactStore
	cfg       EngineConfig
	logger    *slog.Logger
}

// NewEngine wires the action engine. artifacts may be nil, in which case
// screenshots are captured but not persisted.
func NewEngine(reg *Registry, p *parser.Parser, guard *security.Guard, artifacts domain.ArtifactStore, cfg EngineConfig, logger *slog.Logger) *Engine {
	if cfg.DefaultMode == "" {
		cfg.DefaultMode = domain.ModeLean
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		registry:  reg,
		parser:    p,
		guard:     guard,
		artifacts: artifacts,
		cfg:       cfg,
		logger:    logger,
	}
}

// Navigate opens url in the session for key, constructing a browser when
// the key is new. The target is validated against the navigation guard and
// the session's rate budget before the browser moves.
func (e *Engine) Navigate(ctx context.Context, key, url string, mode domain.RenderMode) (*ActionResult, error) {
	if err := e.guard.ValidateURL(url); err != nil {
		return nil, err
	}
	if _, err := e.registry.Acquire(ctx, key); err != nil {
		return nil, err
	}
	return e.perform(ctx, key, mode, true, func(ctx context.Context, sess *Session) error {
		if !sess.AllowNavigate() {
			return domain.NewDomainError("Engine.Navigate", domain.ErrRateLimited,
				fmt.Sprintf("session %q exceeded its navigation budget", key))
		}
		return sess.Driver().Navigate(ctx, url)
	})
}

// Click clicks the element addressed by loc.
func (e *Engine) Click(ctx context.Context, key string, loc domain.Locator, mode domain.RenderMode) (*ActionResult, error) {
	return e.perform(ctx, key, mode, true, func(ctx context.Context, sess *Session) error {
		target, err := e.resolveTarget(ctx, sess, loc)
		if err != nil {
			return err
		}
		return sess.Driver().Click(ctx, target)
	})
}

// TypeText types text into the element addressed by loc, clearing its
// current value first when clearFirst is set.
func (e *Engine) TypeText(ctx context.Context, key string, loc domain.Locator, text string, clearFirst bool, mode domain.RenderMode) (*ActionResult, error) {
	return e.perform(ctx, key, mode, true, func(ctx context.Context, sess *Session) error {
		target, err := e.resolveTarget(ctx, sess, loc)
		if err != nil {
			return err
		}
		return sess.Driver().TypeText(ctx, target, text, clearFirst)
	})
}

// PressKeys sends symbolic key presses to the element addressed by loc.
func (e *Engine) PressKeys(ctx context.Context, key string, loc domain.Locator, keys []string, mode domain.RenderMode) (*ActionResult, error) {
	return e.perform(ctx, key, mode, true, func(ctx context.Context, sess *Session) error {
		target, err := e.resolveTarget(ctx, sess, loc)
		if err != nil {
			return err
		}
		return sess.Driver().PressKeys(ctx, target, keys)
	})
}

// ScrollTo scrolls the element addressed by loc into view.
func (e *Engine) ScrollTo(ctx context.Context, key string, loc domain.Locator, mode domain.RenderMode) (*ActionResult, error) {
	return e.perform(ctx, key, mode, true, func(ctx context.Context, sess *Session) error {
		target, err := e.resolveTarget(ctx, sess, loc)
		if err != nil {
			return err
		}
		return sess.Driver().ScrollTo(ctx, target)
	})
}

// WaitVisible waits for the element addressed by loc to become visible,
// then reports the page as it stands. timeout zero uses the configured
// default.
func (e *Engine) WaitVisible(ctx context.Context, key string, loc domain.Locator, timeout time.Duration, mode domain.RenderMode) (*ActionResult, error) {
	if timeout <= 0 {
		timeout = e.cfg.WaitTimeout
	}
	return e.perform(ctx, key, mode, false, func(ctx context.Context, sess *Session) error {
		target, err := e.resolveTarget(ctx, sess, loc)
		if err != nil {
			return err
		}
		wctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return sess.Driver().WaitVisible(wctx, target)
	})
}

// Exists probes for the element addressed by loc without waiting. It does
// not regenerate the page map.
func (e *Engine) Exists(ctx context.Context, key string, loc domain.Locator) (bool, error) {
	var found bool
	err := e.registry.Do(ctx, key, func(ctx context.Context, sess *Session) error {
		target, err := e.resolveTarget(ctx, sess, loc)
		if err != nil {
			return err
		}
		found, err = sess.Driver().Exists(ctx, target)
		return err
	})
	return found, err
}

// PageMap regenerates the page map from the current DOM without acting on
// the page.
func (e *Engine) PageMap(ctx context.Context, key string, mode domain.RenderMode) (*ActionResult, error) {
	return e.perform(ctx, key, mode, false, func(ctx context.Context, sess *Session) error {
		return nil
	})
}

// Screenshot captures the current viewport, assigns the next version
// number, and persists it when an artifact store is wired.
func (e *Engine) Screenshot(ctx context.Context, key string) (*ScreenshotResult, error) {
	var res *ScreenshotResult
	err := e.registry.Do(ctx, key, func(ctx context.Context, sess *Session) error {
		var err error
		res, err = e.takeScreenshot(ctx, sess)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Status reports one session's observable state. It does not take the
// session lock, so it answers even while an action is running.
func (e *Engine) Status(ctx context.Context, key string) (domain.SessionInfo, error) {
	return e.registry.Info(key)
}

// Sessions reports every live session.
func (e *Engine) Sessions(ctx context.Context) []domain.SessionInfo {
	return e.registry.Infos()
}

// Release closes the session for key. Reports false when no session was
// live.
func (e *Engine) Release(ctx context.Context, key string) bool {
	return e.registry.Release(ctx, key)
}

// perform runs act under the session lock and regenerates the page map
// afterwards. capture adds a versioned screenshot of the post-action page.
func (e *Engine) perform(ctx context.Context, key string, mode domain.RenderMode, capture bool, act func(ctx context.Context, sess *Session) error) (*ActionResult, error) {
	if mode == "" {
		mode = e.cfg.DefaultMode
	}
	var res *ActionResult
	err := e.registry.Do(ctx, key, func(ctx context.Context, sess *Session) error {
		if err := act(ctx, sess); err != nil {
			return err
		}
		m, err := e.refreshPageMap(ctx, sess, mode)
		if err != nil {
			return err
		}
		res = &ActionResult{
			SessionKey: sess.Key,
			SessionID:  sess.ID,
			URL:        m.URL,
			Title:      m.Title,
			Map:        m,
		}
		if capture {
			res.Shot = e.captureShot(ctx, sess)
		}
		return nil
	})
	return res, err
}

// takeScreenshot captures one screenshot under the session's next version
// number and persists it when a store is wired. A store failure still
// returns the captured result, unstored, alongside the error.
func (e *Engine) takeScreenshot(ctx context.Context, sess *Session) (*ScreenshotResult, error) {
	img, err := sess.Driver().Screenshot(ctx)
	if err != nil {
		return nil, err
	}
	version := sess.NextScreenshotVersion()
	res := &ScreenshotResult{SessionKey: sess.Key, Version: version, Bytes: len(img)}
	if e.artifacts == nil {
		return res, nil
	}
	art, err := e.artifacts.Save(ctx, sess.Key, version, img)
	if err != nil {
		return res, err
	}
	res.Path = art.Path
	return res, nil
}

// captureShot is takeScreenshot on the post-action path. The action has
// already succeeded, so failures are logged and the result simply carries
// less: no screenshot, or one without a path.
func (e *Engine) captureShot(ctx context.Context, sess *Session) *ScreenshotResult {
	res, err := e.takeScreenshot(ctx, sess)
	if err != nil {
		e.logger.Warn("post-action screenshot failed",
			"session", sess.Key,
			"error", err,
		)
	}
	return res
}

// refreshPageMap reads the DOM, parses it, stamps the new generation's refs
// into the live document, and commits the ref table. Refs from the
// previous generation are dead from this point on.
func (e *Engine) refreshPageMap(ctx context.Context, sess *Session, mode domain.RenderMode) (*domain.PageMap, error) {
	snap, err := sess.Driver().ReadDOM(ctx)
	if err != nil {
		return nil, err
	}
	m, err := e.parser.Parse(snap, mode)
	if err != nil {
		return nil, err
	}
	if err := sess.Driver().StampRefs(ctx, m.Generation, m.Stamps()); err != nil {
		// Unstamped refs resolve stale on use, which is the safe failure.
		e.logger.Warn("ref stamping failed",
			"session", sess.Key,
			"generation", m.Generation,
			"error", err,
		)
	}
	sess.SetRefTable(m.Generation, m.RefTags())
	sess.SetLocation(m.URL, m.Title)
	return m, nil
}

// resolveTarget turns a locator into a driver target. Ref locators are
// verified against the live DOM: a ref from a superseded generation, a
// vanished element, or a tag mismatch fails stale rather than guessing.
func (e *Engine) resolveTarget(ctx context.Context, sess *Session, loc domain.Locator) (domain.Target, error) {
	if err := loc.Validate(); err != nil {
		return domain.Target{}, err
	}
	switch {
	case loc.IsRef():
		gen := sess.Generation()
		if gen == "" {
			return domain.Target{}, domain.NewDomainError("Engine.resolveTarget", domain.ErrStaleRef,
				fmt.Sprintf("ref %d cannot resolve: no page map has been generated", loc.Ref))
		}
		wantTag, ok := sess.RefTag(loc.Ref)
		if !ok {
			return domain.Target{}, domain.NewDomainError("Engine.resolveTarget", domain.ErrStaleRef,
				fmt.Sprintf("ref %d is not in the current page map", loc.Ref))
		}
		return sess.Driver().ResolveRef(ctx, gen, loc.Ref, wantTag)
	case loc.XPath != "":
		return domain.Target{Selector: loc.XPath, XPath: true}, nil
	default:
		return domain.Target{Selector: loc.Selector}, nil
	}
}
