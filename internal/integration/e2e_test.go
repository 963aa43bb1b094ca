//go:build integration
// +build integration

package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"pagelens/internal/adapter/artifact"
	"pagelens/internal/adapter/driver"
	"pagelens/internal/adapter/tool"
	"pagelens/internal/domain"
	"pagelens/internal/parser"
	"pagelens/internal/security"
	"pagelens/internal/usecase"
)

// newFixtureServer serves a three-page store: landing page with a catalog
// link, catalog with a search form, and a results page echoing the query.
func newFixtureServer(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<!DOCTYPE html>
<html><head><title>Pagelens Store</title></head><body>
<h1>Pagelens Store</h1>
<p>Quality goods for patient robots.</p>
<a id="catalog" href="/catalog">Browse catalog</a>
</body></html>`)
	})
	mux.HandleFunc("/catalog", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<!DOCTYPE html>
<html><head><title>Catalog</title></head><body>
<h1>Catalog</h1>
<form action="/search" method="get">
<input type="text" id="q" name="q" placeholder="Search products">
<button id="go" type="submit">Search</button>
</form>
<ul>
<li><a href="/item/1">Teapot</a></li>
<li><a href="/item/2">Kettle</a></li>
</ul>
</body></html>`)
	})
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<!DOCTYPE html>
<html><head><title>Results</title></head><body>
<h1 id="results">Results for %s</h1>
</body></html>`, html.EscapeString(r.URL.Query().Get("q")))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

type stack struct {
	Registry *usecase.Registry
	Engine   *usecase.Engine
	Injector *usecase.Injector
}

// newStack builds the full engine pipeline against a real browser. Tests
// are skipped when no Chromium binary or remote endpoint is available.
func newStack(t *testing.T, cfg *Config) *stack {
	t.Helper()
	SkipIfNoBrowser(t, cfg)

	execPath, _ := FindBrowser(cfg)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	browser := domain.DefaultSessionConfig()
	browser.ExecPath = execPath
	browser.RemoteURL = cfg.RemoteURL
	browser.ViewportWidth = 1280
	browser.ViewportHeight = 800
	browser.ActionTimeout = 15 * time.Second
	browser.NavigateTimeout = 30 * time.Second

	factory := driver.NewFactory(driver.Options{ProfileRoot: t.TempDir()}, log)
	reg := usecase.NewRegistry(factory, browser, usecase.RegistryConfig{
		MaxSessions: 2,
		BusyWait:    5 * time.Second,
	}, log)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		reg.Shutdown(ctx)
	})

	store, err := artifact.NewStore(artifact.Config{Dir: t.TempDir()}, log)
	if err != nil {
		t.Fatalf("artifact store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	guard := security.NewGuard(security.Config{AllowLoopback: true})
	p := parser.New(parser.Options{}, log)
	engine := usecase.NewEngine(reg, p, guard, store, usecase.EngineConfig{}, log)
	injector := usecase.NewInjector(engine, nil, usecase.InjectorConfig{}, log)

	return &stack{Registry: reg, Engine: engine, Injector: injector}
}

// findRef returns the ref of the first interactive element whose label
// contains text.
func findRef(m *domain.PageMap, text string) (int, bool) {
	for _, el := range m.Interactive {
		if strings.Contains(el.Text, text) || strings.Contains(el.ChildrenText, text) {
			return el.Ref, true
		}
	}
	return 0, false
}

func TestE2E_NavigateAndMap(t *testing.T) {
	SkipIfShort(t)
	cfg := LoadConfig()
	st := newStack(t, cfg)
	srv := newFixtureServer(t)
	ctx := NewTestContext(t, cfg.TestTimeout)

	res, err := st.Engine.Navigate(ctx, "e2e-nav", srv.URL, domain.ModeLean)
	if err != nil {
		t.Fatalf("Navigate failed: %v", err)
	}
	if res.Title != "Pagelens Store" {
		t.Errorf("wrong title: %q", res.Title)
	}
	if res.Map == nil || len(res.Map.Interactive) == 0 {
		t.Fatal("expected interactive elements in page map")
	}

	rendered := parser.Render(res.Map)
	if !strings.Contains(rendered, "Browse catalog") {
		t.Errorf("rendered map missing link text:\n%s", rendered)
	}

	info, err := st.Engine.Status(ctx, "e2e-nav")
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if !strings.HasPrefix(info.URL, srv.URL) {
		t.Errorf("status URL = %q, want prefix %q", info.URL, srv.URL)
	}
}

func TestE2E_ClickTypeSubmit(t *testing.T) {
	SkipIfShort(t)
	cfg := LoadConfig()
	st := newStack(t, cfg)
	srv := newFixtureServer(t)
	ctx := NewTestContext(t, 2*time.Minute)

	res, err := st.Engine.Navigate(ctx, "e2e-flow", srv.URL, domain.ModeLean)
	if err != nil {
		t.Fatalf("Navigate failed: %v", err)
	}

	ref, ok := findRef(res.Map, "Browse catalog")
	if !ok {
		t.Fatalf("catalog link not in map:\n%s", parser.Render(res.Map))
	}

	if _, err := st.Engine.Click(ctx, "e2e-flow", domain.ByRef(ref), domain.ModeLean); err != nil {
		t.Fatalf("Click failed: %v", err)
	}

	// The click triggers navigation; wait for the catalog form before typing.
	if _, err := st.Engine.WaitVisible(ctx, "e2e-flow", domain.BySelector("#q"), 10*time.Second, domain.ModeLean); err != nil {
		t.Fatalf("catalog page did not load: %v", err)
	}

	if _, err := st.Engine.TypeText(ctx, "e2e-flow", domain.BySelector("#q"), "teapot", false, domain.ModeLean); err != nil {
		t.Fatalf("TypeText failed: %v", err)
	}
	if _, err := st.Engine.PressKeys(ctx, "e2e-flow", domain.BySelector("#q"), []string{"Enter"}, domain.ModeLean); err != nil {
		t.Fatalf("PressKeys failed: %v", err)
	}

	// Enter submits the form; #results only exists on the results page.
	res, err = st.Engine.WaitVisible(ctx, "e2e-flow", domain.BySelector("#results"), 10*time.Second, domain.ModeLean)
	if err != nil {
		t.Fatalf("results page did not load: %v", err)
	}
	if !strings.Contains(res.URL, "q=teapot") {
		t.Errorf("submit did not carry query, URL = %q", res.URL)
	}
	if res.Title != "Results" {
		t.Errorf("wrong title after submit: %q", res.Title)
	}
}

func TestE2E_ToolSurface(t *testing.T) {
	SkipIfShort(t)
	cfg := LoadConfig()
	st := newStack(t, cfg)
	srv := newFixtureServer(t)
	ctx := NewTestContext(t, cfg.TestTimeout)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	browser := tool.NewBrowserTool(st.Engine, log).Tool()

	args, _ := json.Marshal(map[string]any{
		"action":  "navigate",
		"session": "e2e-tool",
		"url":     srv.URL,
	})
	res, err := browser.Execute(ctx, args)
	if err != nil {
		t.Fatalf("navigate via tool failed: %v", err)
	}
	if res.IsError {
		t.Fatalf("navigate returned error result: [%s] %s", res.Code, res.Content)
	}
	if !strings.Contains(res.Content, "Pagelens Store") {
		t.Errorf("navigate result missing title:\n%s", res.Content)
	}

	args, _ = json.Marshal(map[string]any{
		"action":  "page_map",
		"session": "e2e-tool",
		"mode":    "rich",
	})
	res, err = browser.Execute(ctx, args)
	if err != nil {
		t.Fatalf("page_map via tool failed: %v", err)
	}
	if !strings.Contains(res.Content, "Browse catalog") {
		t.Errorf("page_map result missing link:\n%s", res.Content)
	}

	// Inject merges the same map under the payload.
	merged, injected, err := st.Injector.Inject(ctx, "e2e-tool", "What do you see?")
	if err != nil {
		t.Fatalf("Inject failed: %v", err)
	}
	if !injected {
		t.Fatal("expected injection for a live session")
	}
	if !strings.HasPrefix(merged, "What do you see?") || !strings.Contains(merged, "Pagelens Store") {
		t.Errorf("unexpected merged payload:\n%s", merged)
	}
}

func TestE2E_ScreenshotArtifact(t *testing.T) {
	SkipIfShort(t)
	cfg := LoadConfig()
	st := newStack(t, cfg)
	srv := newFixtureServer(t)
	ctx := NewTestContext(t, cfg.TestTimeout)

	// Navigation itself captures and stores version 1.
	nav, err := st.Engine.Navigate(ctx, "e2e-shot", srv.URL, domain.ModeLean)
	if err != nil {
		t.Fatalf("Navigate failed: %v", err)
	}
	if nav.Shot == nil || nav.Shot.Version != 1 {
		t.Fatalf("navigate shot = %+v, want version 1", nav.Shot)
	}
	if nav.Shot.Path == "" {
		t.Fatal("navigate screenshot has no stored path")
	}
	info, err := os.Stat(nav.Shot.Path)
	if err != nil {
		t.Fatalf("stored screenshot missing: %v", err)
	}
	if info.Size() == 0 {
		t.Error("stored screenshot is empty")
	}

	shot, err := st.Engine.Screenshot(ctx, "e2e-shot")
	if err != nil {
		t.Fatalf("Screenshot failed: %v", err)
	}
	if shot.Version != 2 {
		t.Errorf("explicit screenshot version = %d, want 2", shot.Version)
	}
	if shot.Path == "" {
		t.Fatal("screenshot has no stored path")
	}

	// latest.jpg tracks the newest version.
	latest := filepath.Join(filepath.Dir(shot.Path), "latest.jpg")
	if _, err := os.Stat(latest); err != nil {
		t.Errorf("latest alias missing: %v", err)
	}
}

func TestE2E_SessionLifecycle(t *testing.T) {
	SkipIfShort(t)
	cfg := LoadConfig()
	st := newStack(t, cfg)
	srv := newFixtureServer(t)
	ctx := NewTestContext(t, 2*time.Minute)

	if _, err := st.Engine.Navigate(ctx, "e2e-a", srv.URL, domain.ModeLean); err != nil {
		t.Fatalf("Navigate a failed: %v", err)
	}
	if _, err := st.Engine.Navigate(ctx, "e2e-b", srv.URL+"/catalog", domain.ModeLean); err != nil {
		t.Fatalf("Navigate b failed: %v", err)
	}

	infos := st.Engine.Sessions(ctx)
	if len(infos) != 2 {
		t.Fatalf("expected 2 live sessions, got %d", len(infos))
	}

	if !st.Engine.Release(ctx, "e2e-a") {
		t.Error("Release reported no session for e2e-a")
	}
	if st.Registry.Len() != 1 {
		t.Errorf("expected 1 session after release, got %d", st.Registry.Len())
	}

	// A zero idle threshold makes every idle session eligible.
	swept := st.Registry.Sweep(ctx, time.Nanosecond)
	if swept != 1 {
		t.Errorf("Sweep removed %d sessions, want 1", swept)
	}
	if st.Registry.Len() != 0 {
		t.Errorf("expected empty registry after sweep, got %d", st.Registry.Len())
	}
}
