package config

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateSession(cfg, ve)
	validateBrowser(cfg, ve)
	validateCapture(cfg, ve)
	validateParser(cfg, ve)
	validateInjection(cfg, ve)
	validateArtifacts(cfg, ve)
	validateSecurity(cfg, ve)
	validateBreaker(cfg, ve)
	validateMCP(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateSession(cfg *Config, ve *ValidationError) {
	if cfg.Session.MaxSessions <= 0 {
		ve.Add("session.max_sessions must be > 0")
	}
	if cfg.Session.IdleTTL <= 0 {
		ve.Add("session.idle_ttl must be > 0")
	}
	if cfg.Session.SweepInterval <= 0 {
		ve.Add("session.sweep_interval must be > 0")
	}
	if cfg.Session.BusyWait < 0 {
		ve.Add("session.busy_wait must be >= 0")
	}
}

func validateBrowser(cfg *Config, ve *ValidationError) {
	if cfg.Browser.ViewportWidth <= 0 || cfg.Browser.ViewportHeight <= 0 {
		ve.Add("browser.viewport_width and browser.viewport_height must be > 0")
	}
	if cfg.Browser.ActionTimeout <= 0 {
		ve.Add("browser.action_timeout must be > 0")
	}
	if cfg.Browser.NavigateTimeout <= 0 {
		ve.Add("browser.navigate_timeout must be > 0")
	}
	if cfg.Browser.ExecPath != "" && cfg.Browser.RemoteURL != "" {
		ve.Add("browser.exec_path and browser.remote_url are mutually exclusive")
	}
	if cfg.Browser.RemoteURL != "" {
		u, err := url.Parse(cfg.Browser.RemoteURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			ve.Add("browser.remote_url %q is not a valid URL", cfg.Browser.RemoteURL)
		}
	}
	if cfg.Browser.Proxy.Host != "" {
		if cfg.Browser.Proxy.Port < 1 || cfg.Browser.Proxy.Port > 65535 {
			ve.Add("browser.proxy.port must be in 1..65535")
		}
	} else if cfg.Browser.Proxy.Username != "" || cfg.Browser.Proxy.Password != "" {
		ve.Add("browser.proxy credentials set without browser.proxy.host")
	}
}

func validateCapture(cfg *Config, ve *ValidationError) {
	if cfg.Capture.MaxNetworkLog <= 0 {
		ve.Add("capture.max_network_log must be > 0")
	}
	if cfg.Capture.ScreenshotMaxBytes <= 0 {
		ve.Add("capture.screenshot_max_bytes must be > 0")
	}
	if len(cfg.Capture.ScreenshotLadder) == 0 {
		ve.Add("capture.screenshot_ladder must not be empty")
	}
	for _, q := range cfg.Capture.ScreenshotLadder {
		if q < 1 || q > 100 {
			ve.Add("capture.screenshot_ladder quality %d out of range 1..100", q)
		}
	}
}

var validParserModes = map[string]bool{
	"lean": true,
	"rich": true,
}

func validateParser(cfg *Config, ve *ValidationError) {
	if !validParserModes[cfg.Parser.Mode] {
		ve.Add("parser.mode %q is not supported (want lean or rich)", cfg.Parser.Mode)
	}
	if cfg.Parser.InteractiveTextLimit <= 0 {
		ve.Add("parser.interactive_text_limit must be > 0")
	}
	if cfg.Parser.ContentTextLimit <= 0 {
		ve.Add("parser.content_text_limit must be > 0")
	}
	if cfg.Parser.MaxContentElements <= 0 {
		ve.Add("parser.max_content_elements must be > 0")
	}
	if cfg.Parser.CompressThreshold <= 1 {
		ve.Add("parser.compress_threshold must be > 1")
	}
}

func validateInjection(cfg *Config, ve *ValidationError) {
	if cfg.Injection.TokenBudget <= 0 {
		ve.Add("injection.token_budget must be > 0")
	}
	if cfg.Injection.Encoding == "" {
		ve.Add("injection.encoding must not be empty")
	}
}

func validateArtifacts(cfg *Config, ve *ValidationError) {
	if cfg.Artifacts.Dir == "" {
		ve.Add("artifacts.dir must not be empty")
	}
	if cfg.Artifacts.MaxPerSession <= 0 {
		ve.Add("artifacts.max_per_session must be > 0")
	}
	if cfg.Artifacts.Retention <= 0 {
		ve.Add("artifacts.retention must be > 0")
	}
}

func validateSecurity(cfg *Config, ve *ValidationError) {
	if cfg.Security.NavPerMinute <= 0 {
		ve.Add("security.nav_per_minute must be > 0")
	}
	if cfg.Security.NavBurst <= 0 {
		ve.Add("security.nav_burst must be > 0")
	}
	for _, h := range cfg.Security.AllowedHosts {
		if h == "" {
			ve.Add("security.allowed_hosts contains an empty entry")
			continue
		}
		if strings.Contains(h, "/") {
			ve.Add("security.allowed_hosts entry %q must be a bare host, not a URL", h)
		}
	}
}

func validateBreaker(cfg *Config, ve *ValidationError) {
	if cfg.Breaker.MaxFailures == 0 {
		ve.Add("breaker.max_failures must be > 0")
	}
	if cfg.Breaker.Timeout <= 0 {
		ve.Add("breaker.timeout must be > 0")
	}
	if cfg.Breaker.Interval < 0 {
		ve.Add("breaker.interval must be >= 0")
	}
}

var validMCPTransports = map[string]bool{
	"stdio": true,
}

func validateMCP(cfg *Config, ve *ValidationError) {
	if !validMCPTransports[cfg.MCP.Transport] {
		ve.Add("mcp.transport %q is not supported (want stdio)", cfg.MCP.Transport)
	}
	if cfg.MCP.Name == "" {
		ve.Add("mcp.name must not be empty")
	}
}
