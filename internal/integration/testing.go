package integration

import (
	"context"
	"os"
	"os/exec"
	"testing"
	"time"
)

// Config holds integration test configuration from environment
type Config struct {
	BrowserPath string
	RemoteURL   string
	TestTimeout time.Duration
	SkipSlow    bool
}

// LoadConfig loads integration test configuration from environment
func LoadConfig() *Config {
	return &Config{
		BrowserPath: os.Getenv("PAGELENS_TEST_BROWSER"),
		RemoteURL:   os.Getenv("PAGELENS_TEST_REMOTE"),
		TestTimeout: 60 * time.Second,
		SkipSlow:    os.Getenv("SKIP_SLOW_TESTS") == "1",
	}
}

// FindBrowser returns the browser binary to launch. The second return is
// false when neither a binary nor a remote endpoint is available.
func FindBrowser(cfg *Config) (string, bool) {
	if cfg.RemoteURL != "" {
		return "", true
	}
	if cfg.BrowserPath != "" {
		return cfg.BrowserPath, true
	}
	for _, name := range []string{"google-chrome", "google-chrome-stable", "chromium", "chromium-browser", "headless-shell"} {
		if path, err := exec.LookPath(name); err == nil {
			return path, true
		}
	}
	return "", false
}

// SkipIfNoBrowser skips the test if no Chromium binary or remote endpoint is available
func SkipIfNoBrowser(t *testing.T, cfg *Config) {
	t.Helper()
	if _, ok := FindBrowser(cfg); !ok {
		t.Skip("Skipping browser integration test: no Chromium found (set PAGELENS_TEST_BROWSER or PAGELENS_TEST_REMOTE)")
	}
}

// SkipIfShort skips integration tests in short mode
func SkipIfShort(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
}

// NewTestContext creates a context with timeout for integration tests
func NewTestContext(t *testing.T, timeout time.Duration) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}
