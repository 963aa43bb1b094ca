package domain

import (
	"context"
	"fmt"
	"time"
)

// ProxyConfig routes one session's traffic through an upstream proxy.
// Password may arrive encrypted in config files and is decrypted at load.
type ProxyConfig struct {
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Username string `json:"username,omitempty" yaml:"username,omitempty"`
	Password string `json:"-" yaml:"password,omitempty"`
}

// Addr returns host:port for the browser proxy flag.
func (p *ProxyConfig) Addr() string {
	return fmt.Sprintf("%s:%d", p.Host, p.Port)
}

// SessionConfig carries the per-session browser options honored at
// construction time. Changing it after construction has no effect; the
// options are baked into the launched browser.
type SessionConfig struct {
	Headless        bool          `json:"headless" yaml:"headless"`
	Stealth         bool          `json:"stealth" yaml:"stealth"`
	Incognito       bool          `json:"incognito" yaml:"incognito"`
	ViewportWidth   int           `json:"viewport_width" yaml:"viewport_width"`
	ViewportHeight  int           `json:"viewport_height" yaml:"viewport_height"`
	UserAgent       string        `json:"user_agent,omitempty" yaml:"user_agent,omitempty"`
	ActionTimeout   time.Duration `json:"action_timeout" yaml:"action_timeout"`
	NavigateTimeout time.Duration `json:"navigate_timeout" yaml:"navigate_timeout"`
	Proxy           *ProxyConfig  `json:"proxy,omitempty" yaml:"proxy,omitempty"`
	CaptureNetwork  bool          `json:"capture_network" yaml:"capture_network"`
	MaxNetworkLog   int           `json:"max_network_log" yaml:"max_network_log"`
	ExecPath        string        `json:"exec_path,omitempty" yaml:"exec_path,omitempty"`
	// RemoteURL attaches to an already-running browser over CDP instead of
	// launching one. Isolation then depends on the remote endpoint.
	RemoteURL string `json:"remote_url,omitempty" yaml:"remote_url,omitempty"`
}

// DefaultSessionConfig returns the options used when the caller supplies none.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Headless:        true,
		Stealth:         true,
		ViewportWidth:   1920,
		ViewportHeight:  1080,
		ActionTimeout:   30 * time.Second,
		NavigateTimeout: 45 * time.Second,
		CaptureNetwork:  true,
		MaxNetworkLog:   20,
	}
}

// SessionInfo is the observable state of one live session.
type SessionInfo struct {
	Key string `json:"key"`
	// ID is unique per construction; releasing and re-acquiring the same
	// key yields a new ID.
	ID                string    `json:"id"`
	CreatedAt         time.Time `json:"created_at"`
	LastActivity      time.Time `json:"last_activity"`
	URL               string    `json:"url,omitempty"`
	Title             string    `json:"title,omitempty"`
	Generation        string    `json:"generation,omitempty"` // current page-map generation
	ScreenshotVersion int       `json:"screenshot_version"`
	Busy              bool      `json:"busy"`
}

type ctxKey string

const sessionKeyCtx ctxKey = "session_key"

// ContextWithSessionKey attaches the session key for log and trace scoping.
func ContextWithSessionKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, sessionKeyCtx, key)
}

// SessionKeyFromContext returns the attached session key, or "".
func SessionKeyFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(sessionKeyCtx).(string); ok {
		return v
	}
	return ""
}
