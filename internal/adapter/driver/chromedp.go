package driver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"pagelens/internal/domain"
)

// Options holds adapter-level settings shared by every driver the factory
// hands out. Per-session settings travel in domain.SessionConfig instead.
type Options struct {
	// ProfileRoot is the parent directory for per-session profile
	// directories. Empty means the system temp directory.
	ProfileRoot string
	// ScreenshotMaxBytes caps the encoded screenshot size.
	ScreenshotMaxBytes int
	// FullPage captures the whole scrollable page instead of the viewport.
	FullPage bool
}

// screenshotQualities is the sequence of JPEG quality levels tried when a
// capture exceeds the byte cap. Lower quality = smaller file.
var screenshotQualities = []int{80, 60, 40, 20}

const defaultScreenshotMaxBytes = 1 << 20

// Chrome drives one Chrome instance over CDP. Each session gets its own
// Chrome with a fresh profile directory, so no cookies or storage are shared
// between sessions.
type Chrome struct {
	mu            sync.Mutex
	cfg           domain.SessionConfig
	opts          Options
	logger        *slog.Logger
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	profileDir    string
	netlog        *netLog
	closed        bool
}

var _ domain.Driver = (*Chrome)(nil)

// NewFactory returns a DriverFactory that launches one isolated Chrome per
// session.
func NewFactory(opts Options, logger *slog.Logger) domain.DriverFactory {
	return func(ctx context.Context, cfg domain.SessionConfig) (domain.Driver, error) {
		return New(ctx, cfg, opts, logger)
	}
}

// New launches (or attaches to) a browser for one session. ctx bounds startup
// only; the browser itself lives until Close.
func New(ctx context.Context, cfg domain.SessionConfig, opts Options, logger *slog.Logger) (*Chrome, error) {
	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = 30 * time.Second
	}
	if cfg.NavigateTimeout <= 0 {
		cfg.NavigateTimeout = cfg.ActionTimeout
	}
	if cfg.ViewportWidth <= 0 || cfg.ViewportHeight <= 0 {
		cfg.ViewportWidth, cfg.ViewportHeight = 1920, 1080
	}
	if opts.ScreenshotMaxBytes <= 0 {
		opts.ScreenshotMaxBytes = defaultScreenshotMaxBytes
	}

	c := &Chrome{
		cfg:    cfg,
		opts:   opts,
		logger: logger,
		netlog: newNetLog(),
	}

	var allocCtx context.Context
	if cfg.RemoteURL != "" {
		allocCtx, c.allocCancel = chromedp.NewRemoteAllocator(context.Background(), cfg.RemoteURL)
		logger.Info("attaching to remote browser", "url", cfg.RemoteURL)
	} else {
		dir, err := os.MkdirTemp(opts.ProfileRoot, "pagelens-profile-*")
		if err != nil {
			return nil, domain.NewSubSystemError("driver", "New", domain.ErrConstruction,
				"create profile dir: "+err.Error())
		}
		c.profileDir = dir

		// Copy default options to avoid mutating the package-level slice.
		execOpts := make([]chromedp.ExecAllocatorOption, len(chromedp.DefaultExecAllocatorOptions))
		copy(execOpts, chromedp.DefaultExecAllocatorOptions[:])
		execOpts = append(execOpts,
			chromedp.Flag("headless", cfg.Headless),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.WindowSize(cfg.ViewportWidth, cfg.ViewportHeight),
			chromedp.UserDataDir(dir),
		)
		if cfg.Incognito {
			execOpts = append(execOpts, chromedp.Flag("incognito", true))
		}
		if cfg.Stealth {
			execOpts = append(execOpts, chromedp.Flag("disable-blink-features", "AutomationControlled"))
		}
		if cfg.UserAgent != "" {
			execOpts = append(execOpts, chromedp.UserAgent(cfg.UserAgent))
		}
		if cfg.ExecPath != "" {
			execOpts = append(execOpts, chromedp.ExecPath(cfg.ExecPath))
		}
		if cfg.Proxy != nil && cfg.Proxy.Host != "" {
			execOpts = append(execOpts, chromedp.ProxyServer(cfg.Proxy.Addr()))
		}
		allocCtx, c.allocCancel = chromedp.NewExecAllocator(context.Background(), execOpts...)
		logger.Info("launching browser",
			"headless", cfg.Headless, "stealth", cfg.Stealth, "profile", dir)
	}

	c.browserCtx, c.browserCancel = chromedp.NewContext(allocCtx)

	if err := c.start(ctx); err != nil {
		c.teardown()
		return nil, domain.NewSubSystemError("driver", "New", domain.ErrConstruction, err.Error())
	}
	return c, nil
}

// start runs the first (empty) action to launch the browser process, then
// installs listeners and new-document scripts.
// The CDP session binds to the context passed to the first Run, so browserCtx
// must not be wrapped in a timeout here; a derived cancel would kill the
// session with it. Startup is bounded out-of-band instead.
func (c *Chrome) start(ctx context.Context) error {
	startDone := make(chan error, 1)
	go func() { startDone <- chromedp.Run(c.browserCtx) }()
	select {
	case err := <-startDone:
		if err != nil {
			return fmt.Errorf("start browser: %w", err)
		}
	case <-time.After(c.cfg.ActionTimeout):
		return fmt.Errorf("start browser: timed out after %v", c.cfg.ActionTimeout)
	case <-ctx.Done():
		return fmt.Errorf("start browser: %w", ctx.Err())
	}

	var proxyAuth *domain.ProxyConfig
	if c.cfg.Proxy != nil && c.cfg.Proxy.Username != "" {
		proxyAuth = c.cfg.Proxy
	}
	if c.cfg.CaptureNetwork || proxyAuth != nil {
		if err := attachNetworkCapture(c.browserCtx, c.netlog, proxyAuth, c.logger); err != nil {
			return fmt.Errorf("attach network capture: %w", err)
		}
	}

	if c.cfg.Stealth {
		err := chromedp.Run(c.browserCtx, chromedp.ActionFunc(func(actx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(stealthJS).Do(actx)
			return err
		}))
		if err != nil {
			return fmt.Errorf("install stealth script: %w", err)
		}
	}
	return nil
}

// actionCtx derives a chromedp-executable context for one action. The
// caller's deadline governs when set; otherwise fallback applies. Cancelling
// the caller's ctx cancels the action without touching the browser.
func (c *Chrome) actionCtx(ctx context.Context, fallback time.Duration) (context.Context, context.CancelFunc) {
	var tctx context.Context
	var cancel context.CancelFunc
	if _, ok := ctx.Deadline(); ok {
		tctx, cancel = context.WithCancel(c.browserCtx)
	} else {
		tctx, cancel = context.WithTimeout(c.browserCtx, fallback)
	}
	stop := context.AfterFunc(ctx, cancel)
	return tctx, func() { stop(); cancel() }
}

// wrap classifies a chromedp error. Deadline expiry becomes ErrActionTimeout
// and leaves the browser alive; everything else is a driver failure.
func (c *Chrome) wrap(op string, ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return domain.NewSubSystemError("driver", op, domain.ErrActionTimeout, err.Error())
	}
	return domain.NewSubSystemError("driver", op, domain.ErrDriver, err.Error())
}

// queryOpt selects the chromedp query strategy for a target.
func queryOpt(t domain.Target) chromedp.QueryOption {
	if t.XPath {
		return chromedp.BySearch
	}
	return chromedp.ByQuery
}

func (c *Chrome) Navigate(ctx context.Context, url string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// A navigation starts a new page; captured exchanges from the previous
	// one would only mislead.
	c.netlog.reset()

	tctx, cancel := c.actionCtx(ctx, c.cfg.NavigateTimeout)
	defer cancel()

	return c.wrap("Navigate", ctx, chromedp.Run(tctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body"),
	))
}

func (c *Chrome) Click(ctx context.Context, t domain.Target) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	tctx, cancel := c.actionCtx(ctx, c.cfg.ActionTimeout)
	defer cancel()

	return c.wrap("Click", ctx, chromedp.Run(tctx,
		chromedp.WaitVisible(t.Selector, queryOpt(t)),
		chromedp.Click(t.Selector, queryOpt(t)),
	))
}

func (c *Chrome) TypeText(ctx context.Context, t domain.Target, text string, clearFirst bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	tctx, cancel := c.actionCtx(ctx, c.cfg.ActionTimeout)
	defer cancel()

	actions := []chromedp.Action{chromedp.WaitVisible(t.Selector, queryOpt(t))}
	if clearFirst {
		actions = append(actions, chromedp.Clear(t.Selector, queryOpt(t)))
	}
	actions = append(actions, chromedp.SendKeys(t.Selector, text, queryOpt(t)))

	return c.wrap("TypeText", ctx, chromedp.Run(tctx, actions...))
}

func (c *Chrome) PressKeys(ctx context.Context, t domain.Target, keys []string) error {
	seq, err := TranslateKeys(keys)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	tctx, cancel := c.actionCtx(ctx, c.cfg.ActionTimeout)
	defer cancel()

	return c.wrap("PressKeys", ctx, chromedp.Run(tctx,
		chromedp.WaitVisible(t.Selector, queryOpt(t)),
		chromedp.SendKeys(t.Selector, seq, queryOpt(t)),
	))
}

func (c *Chrome) ScrollTo(ctx context.Context, t domain.Target) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	tctx, cancel := c.actionCtx(ctx, c.cfg.ActionTimeout)
	defer cancel()

	return c.wrap("ScrollTo", ctx, chromedp.Run(tctx,
		chromedp.ScrollIntoView(t.Selector, queryOpt(t)),
	))
}

func (c *Chrome) WaitVisible(ctx context.Context, t domain.Target) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	tctx, cancel := c.actionCtx(ctx, c.cfg.ActionTimeout)
	defer cancel()

	return c.wrap("WaitVisible", ctx, chromedp.Run(tctx,
		chromedp.WaitVisible(t.Selector, queryOpt(t)),
	))
}

func (c *Chrome) Exists(ctx context.Context, t domain.Target) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tctx, cancel := c.actionCtx(ctx, c.cfg.ActionTimeout)
	defer cancel()

	var found bool
	err := chromedp.Run(tctx, chromedp.Evaluate(existsJS(t), &found))
	if err != nil {
		return false, c.wrap("Exists", ctx, err)
	}
	return found, nil
}

func (c *Chrome) captureJPEG(ctx context.Context, quality int) ([]byte, error) {
	var buf []byte
	var action chromedp.Action
	if c.opts.FullPage {
		action = chromedp.FullScreenshot(&buf, quality)
	} else {
		q := int64(quality)
		action = chromedp.ActionFunc(func(actx context.Context) error {
			data, err := page.CaptureScreenshot().
				WithFormat(page.CaptureScreenshotFormatJpeg).
				WithQuality(q).
				Do(actx)
			if err != nil {
				return err
			}
			buf = data
			return nil
		})
	}
	if err := chromedp.Run(ctx, action); err != nil {
		return nil, err
	}
	return buf, nil
}

func (c *Chrome) Screenshot(ctx context.Context) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tctx, cancel := c.actionCtx(ctx, c.cfg.ActionTimeout)
	defer cancel()

	// Try progressively lower JPEG quality until the result fits.
	var buf []byte
	for _, quality := range screenshotQualities {
		var err error
		buf, err = c.captureJPEG(tctx, quality)
		if err != nil {
			return nil, c.wrap("Screenshot", ctx, err)
		}
		if len(buf) <= c.opts.ScreenshotMaxBytes {
			return buf, nil
		}
		c.logger.Debug("screenshot too large, reducing quality",
			"quality", quality, "bytes", len(buf), "max", c.opts.ScreenshotMaxBytes)
	}

	// Every quality level exceeded the cap; return the smallest result so the
	// caller still gets a valid image.
	return buf, nil
}

// snapshotPayload is the JSON shape produced by the in-page collector.
type snapshotPayload struct {
	URL     string           `json:"url"`
	Title   string           `json:"title"`
	Nodes   []domain.RawNode `json:"nodes"`
	Skipped int              `json:"skipped"`
}

func (c *Chrome) ReadDOM(ctx context.Context) (*domain.PageSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tctx, cancel := c.actionCtx(ctx, c.cfg.ActionTimeout)
	defer cancel()

	var raw string
	if err := chromedp.Run(tctx, chromedp.Evaluate(snapshotJS, &raw)); err != nil {
		return nil, c.wrap("ReadDOM", ctx, err)
	}

	var payload snapshotPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, domain.NewSubSystemError("driver", "ReadDOM", domain.ErrDriver,
			"decode snapshot: "+err.Error())
	}

	snap := &domain.PageSnapshot{
		URL:        payload.URL,
		Title:      payload.Title,
		Nodes:      payload.Nodes,
		CapturedAt: time.Now(),
		Skipped:    payload.Skipped,
	}
	if c.cfg.CaptureNetwork {
		snap.Network = c.netlog.recent(payload.URL, c.cfg.MaxNetworkLog)
	}
	return snap, nil
}

func (c *Chrome) StampRefs(ctx context.Context, gen string, stamps []domain.RefStamp) error {
	script, err := stampRefsJS(gen, stamps)
	if err != nil {
		return domain.NewSubSystemError("driver", "StampRefs", domain.ErrDriver, err.Error())
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	tctx, cancel := c.actionCtx(ctx, c.cfg.ActionTimeout)
	defer cancel()

	var stamped int
	if err := chromedp.Run(tctx, chromedp.Evaluate(script, &stamped)); err != nil {
		return c.wrap("StampRefs", ctx, err)
	}
	if stamped < len(stamps) {
		c.logger.Debug("some refs could not be stamped",
			"stamped", stamped, "total", len(stamps))
	}
	return nil
}

func (c *Chrome) ResolveRef(ctx context.Context, gen string, ref int, wantTag string) (domain.Target, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tctx, cancel := c.actionCtx(ctx, c.cfg.ActionTimeout)
	defer cancel()

	var verdict string
	if err := chromedp.Run(tctx, chromedp.Evaluate(resolveRefJS(gen, ref, wantTag), &verdict)); err != nil {
		return domain.Target{}, c.wrap("ResolveRef", ctx, err)
	}

	switch {
	case verdict == "ok":
		return domain.Target{Selector: refSelector(ref)}, nil
	case verdict == "gen":
		return domain.Target{}, domain.NewSubSystemError("driver", "ResolveRef", domain.ErrStaleRef,
			fmt.Sprintf("ref %d belongs to a superseded page map", ref))
	case verdict == "missing":
		return domain.Target{}, domain.NewSubSystemError("driver", "ResolveRef", domain.ErrStaleRef,
			fmt.Sprintf("ref %d no longer resolves in the live document", ref))
	default:
		return domain.Target{}, domain.NewSubSystemError("driver", "ResolveRef", domain.ErrStaleRef,
			fmt.Sprintf("ref %d now points at %s, was %s", ref, verdict, wantTag))
	}
}

func (c *Chrome) URL(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tctx, cancel := c.actionCtx(ctx, c.cfg.ActionTimeout)
	defer cancel()

	var url string
	if err := chromedp.Run(tctx, chromedp.Location(&url)); err != nil {
		return "", c.wrap("URL", ctx, err)
	}
	return url, nil
}

func (c *Chrome) Title(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tctx, cancel := c.actionCtx(ctx, c.cfg.ActionTimeout)
	defer cancel()

	var title string
	if err := chromedp.Run(tctx, chromedp.Title(&title)); err != nil {
		return "", c.wrap("Title", ctx, err)
	}
	return title, nil
}

func (c *Chrome) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	c.teardown()
	c.logger.Info("browser closed")
	return nil
}

// teardown cancels the browser contexts and removes the session profile.
func (c *Chrome) teardown() {
	if c.browserCancel != nil {
		c.browserCancel()
	}
	if c.allocCancel != nil {
		c.allocCancel()
	}
	if c.profileDir != "" {
		if err := os.RemoveAll(c.profileDir); err != nil {
			c.logger.Warn("remove profile dir", "dir", c.profileDir, "error", err)
		}
	}
}
