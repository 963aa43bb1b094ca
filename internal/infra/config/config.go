package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/argon2"
	"gopkg.in/yaml.v3"
)

// Config is the top-level engine configuration.
type Config struct {
	Session   SessionConfig   `yaml:"session"`
	Browser   BrowserConfig   `yaml:"browser"`
	Capture   CaptureConfig   `yaml:"capture"`
	Parser    ParserConfig    `yaml:"parser"`
	Injection InjectionConfig `yaml:"injection"`
	Artifacts ArtifactsConfig `yaml:"artifacts"`
	Security  SecurityConfig  `yaml:"security"`
	Breaker   BreakerConfig   `yaml:"breaker"`
	MCP       MCPConfig       `yaml:"mcp"`
	Logger    LoggerConfig    `yaml:"logger"`
	Tracer    TracerConfig    `yaml:"tracer"`

	// Includes lists extra YAML files merged into this config before the
	// main file is re-applied. Paths are relative to the main config file
	// and may contain globs.
	Includes []string `yaml:"includes"`
}

// SessionConfig holds session registry settings.
type SessionConfig struct {
	// MaxSessions caps the number of live browser sessions.
	MaxSessions int `yaml:"max_sessions"`
	// IdleTTL is how long a session may sit idle before the sweeper closes it.
	IdleTTL time.Duration `yaml:"idle_ttl"`
	// SweepInterval is how often the idle sweeper runs.
	SweepInterval time.Duration `yaml:"sweep_interval"`
	// BusyWait bounds how long a caller waits for a session already running
	// another action before giving up with a busy error.
	BusyWait time.Duration `yaml:"busy_wait"`
}

// BrowserConfig holds browser launch and action settings.
type BrowserConfig struct {
	Headless  bool `yaml:"headless"`
	Stealth   bool `yaml:"stealth"`
	Incognito bool `yaml:"incognito"`
	// ExecPath overrides the browser binary location. Empty uses the
	// default lookup.
	ExecPath string `yaml:"exec_path"`
	// RemoteURL attaches to an already-running browser over CDP instead of
	// launching one.
	RemoteURL string `yaml:"remote_url"`
	UserAgent string `yaml:"user_agent"`
	// ProfileDir persists the browser profile across sessions. Empty means
	// a throwaway profile per session.
	ProfileDir      string        `yaml:"profile_dir"`
	ViewportWidth   int           `yaml:"viewport_width"`
	ViewportHeight  int           `yaml:"viewport_height"`
	ActionTimeout   time.Duration `yaml:"action_timeout"`
	NavigateTimeout time.Duration `yaml:"navigate_timeout"`
	Proxy           ProxyConfig   `yaml:"proxy"`
}

// ProxyConfig holds upstream proxy settings for browser traffic.
type ProxyConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	// Password may carry an "enc:" prefixed value decrypted via
	// PAGELENS_CONFIG_KEY at load time.
	Password string `yaml:"password"`
}

// CaptureConfig holds page capture settings.
type CaptureConfig struct {
	// Network enables recording of request/response exchanges per page.
	Network       bool `yaml:"network"`
	MaxNetworkLog int  `yaml:"max_network_log"`
	FullPage      bool `yaml:"full_page"`
	// ScreenshotLadder lists JPEG qualities tried in order until the
	// encoded size fits under ScreenshotMaxBytes.
	ScreenshotLadder   []int `yaml:"screenshot_ladder"`
	ScreenshotMaxBytes int   `yaml:"screenshot_max_bytes"`
}

// ParserConfig holds page map extraction settings.
type ParserConfig struct {
	Mode                 string `yaml:"mode"` // lean or rich
	InteractiveTextLimit int    `yaml:"interactive_text_limit"`
	ContentTextLimit     int    `yaml:"content_text_limit"`
	MaxContentElements   int    `yaml:"max_content_elements"`
	CompressThreshold    int    `yaml:"compress_threshold"`
}

// InjectionConfig holds page map injection settings.
type InjectionConfig struct {
	// TokenBudget caps the rendered page map size in tokens.
	TokenBudget int `yaml:"token_budget"`
	// Encoding names the tokenizer encoding used for counting.
	Encoding string `yaml:"encoding"`
}

// ArtifactsConfig holds screenshot artifact store settings.
type ArtifactsConfig struct {
	Dir string `yaml:"dir"`
	// IndexPath overrides the sqlite index location. Empty places it
	// under Dir.
	IndexPath string `yaml:"index_path"`
	// MaxPerSession caps stored screenshot versions per session; older
	// versions are pruned.
	MaxPerSession int           `yaml:"max_per_session"`
	Retention     time.Duration `yaml:"retention"`
}

// SecurityConfig holds navigation guard settings.
type SecurityConfig struct {
	// AllowPrivate permits navigation to RFC 1918 and link-local addresses.
	AllowPrivate  bool `yaml:"allow_private"`
	AllowLoopback bool `yaml:"allow_loopback"`
	// AllowedHosts restricts navigation to the listed host suffixes when
	// non-empty.
	AllowedHosts []string `yaml:"allowed_hosts"`
	// NavPerMinute rate-limits navigations per session.
	NavPerMinute int `yaml:"nav_per_minute"`
	NavBurst     int `yaml:"nav_burst"`
}

// BreakerConfig holds circuit breaker settings for browser construction.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures before the circuit opens.
	MaxFailures uint32 `yaml:"max_failures"`
	// Timeout is how long the circuit stays open before transitioning to half-open.
	Timeout time.Duration `yaml:"timeout"`
	// Interval is the cyclic period of the closed state for clearing failure counts.
	// If 0, failures never reset until the circuit opens.
	Interval time.Duration `yaml:"interval"`
}

// MCPConfig holds MCP server settings.
type MCPConfig struct {
	Transport string `yaml:"transport"` // stdio
	Name      string `yaml:"name"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
	Endpoint string `yaml:"endpoint"`
}

// defaultDataDir returns the persistent data directory under $HOME/.pagelens.
// Falls back to "./data" if $HOME cannot be determined.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(home, ".pagelens")
}

// Defaults returns a Config populated with working defaults. The result runs
// a headless stealth browser, lean page maps, and a local artifact store
// without requiring a config file.
func Defaults() *Config {
	return &Config{
		Session: SessionConfig{
			MaxSessions:   8,
			IdleTTL:       15 * time.Minute,
			SweepInterval: time.Minute,
			BusyWait:      5 * time.Second,
		},
		Browser: BrowserConfig{
			Headless:        true,
			Stealth:         true,
			ViewportWidth:   1920,
			ViewportHeight:  1080,
			ActionTimeout:   30 * time.Second,
			NavigateTimeout: 45 * time.Second,
		},
		Capture: CaptureConfig{
			Network:            true,
			MaxNetworkLog:      20,
			ScreenshotLadder:   []int{80, 60, 40, 20},
			ScreenshotMaxBytes: 1 << 20,
		},
		Parser: ParserConfig{
			Mode:                 "lean",
			InteractiveTextLimit: 250,
			ContentTextLimit:     500,
			MaxContentElements:   500,
			CompressThreshold:    15,
		},
		Injection: InjectionConfig{
			TokenBudget: 8000,
			Encoding:    "cl100k_base",
		},
		Artifacts: ArtifactsConfig{
			Dir:           filepath.Join(defaultDataDir(), "artifacts"),
			MaxPerSession: 50,
			Retention:     7 * 24 * time.Hour,
		},
		Security: SecurityConfig{
			AllowLoopback: true,
			NavPerMinute:  30,
			NavBurst:      5,
		},
		Breaker: BreakerConfig{
			MaxFailures: 5,
			Timeout:     30 * time.Second,
			Interval:    60 * time.Second,
		},
		MCP: MCPConfig{
			Transport: "stdio",
			Name:      "pagelens",
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "stdout",
		},
	}
}

// Load reads the config file at path, merges includes, applies environment
// overrides, decrypts secrets, and validates the result. A missing file is
// not an error; defaults plus environment overrides are returned.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ApplyEnvOverrides(cfg)
			applyProxyDefaults(cfg)
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	if err := validatePermissions(absPath); err != nil {
		return nil, err
	}

	// First pass: unmarshal to get the includes list.
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// Process includes (merges included files into cfg).
	hasIncludes := len(cfg.Includes) > 0
	if hasIncludes {
		visited := map[string]bool{absPath: true}
		if err := processIncludes(cfg, filepath.Dir(absPath), visited, 0); err != nil {
			return nil, err
		}

		// Second pass: re-unmarshal main config so it takes precedence over includes.
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config (second pass): %w", err)
		}
		cfg.Includes = nil
	}

	ApplyEnvOverrides(cfg)
	applyProxyDefaults(cfg)

	passphrase := os.Getenv("PAGELENS_CONFIG_KEY")
	if passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("decrypt secrets: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyProxyDefaults fills the conventional proxy port when a host is
// configured without one.
func applyProxyDefaults(cfg *Config) {
	if cfg.Browser.Proxy.Host != "" && cfg.Browser.Proxy.Port == 0 {
		cfg.Browser.Proxy.Port = 9008
	}
}

// ApplyEnvOverrides applies PAGELENS_* environment variables on top of cfg.
// Unset variables leave the corresponding fields untouched.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PAGELENS_SESSION_MAX_SESSIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Session.MaxSessions = n
		}
	}
	if v := os.Getenv("PAGELENS_SESSION_IDLE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Session.IdleTTL = d
		}
	}
	if v := os.Getenv("PAGELENS_SESSION_SWEEP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Session.SweepInterval = d
		}
	}
	if v := os.Getenv("PAGELENS_SESSION_BUSY_WAIT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Session.BusyWait = d
		}
	}
	if v := os.Getenv("PAGELENS_BROWSER_HEADLESS"); v == "false" {
		cfg.Browser.Headless = false
	}
	if v := os.Getenv("PAGELENS_BROWSER_STEALTH"); v == "false" {
		cfg.Browser.Stealth = false
	}
	if v := os.Getenv("PAGELENS_BROWSER_INCOGNITO"); v == "true" {
		cfg.Browser.Incognito = true
	}
	if v := os.Getenv("PAGELENS_BROWSER_EXEC_PATH"); v != "" {
		cfg.Browser.ExecPath = v
	}
	if v := os.Getenv("PAGELENS_BROWSER_REMOTE_URL"); v != "" {
		cfg.Browser.RemoteURL = v
	}
	if v := os.Getenv("PAGELENS_BROWSER_USER_AGENT"); v != "" {
		cfg.Browser.UserAgent = v
	}
	if v := os.Getenv("PAGELENS_BROWSER_PROFILE_DIR"); v != "" {
		cfg.Browser.ProfileDir = v
	}
	if v := os.Getenv("PAGELENS_BROWSER_ACTION_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Browser.ActionTimeout = d
		}
	}
	if v := os.Getenv("PAGELENS_BROWSER_NAVIGATE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Browser.NavigateTimeout = d
		}
	}
	if v := os.Getenv("PAGELENS_BROWSER_PROXY_HOST"); v != "" {
		cfg.Browser.Proxy.Host = v
	}
	if v := os.Getenv("PAGELENS_BROWSER_PROXY_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Browser.Proxy.Port = n
		}
	}
	if v := os.Getenv("PAGELENS_BROWSER_PROXY_USERNAME"); v != "" {
		cfg.Browser.Proxy.Username = v
	}
	if v := os.Getenv("PAGELENS_BROWSER_PROXY_PASSWORD"); v != "" {
		cfg.Browser.Proxy.Password = v
	}
	if v := os.Getenv("PAGELENS_CAPTURE_NETWORK"); v == "false" {
		cfg.Capture.Network = false
	}
	if v := os.Getenv("PAGELENS_CAPTURE_FULL_PAGE"); v == "true" {
		cfg.Capture.FullPage = true
	}
	if v := os.Getenv("PAGELENS_PARSER_MODE"); v != "" {
		cfg.Parser.Mode = v
	}
	if v := os.Getenv("PAGELENS_PARSER_COMPRESS_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Parser.CompressThreshold = n
		}
	}
	if v := os.Getenv("PAGELENS_INJECTION_TOKEN_BUDGET"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Injection.TokenBudget = n
		}
	}
	if v := os.Getenv("PAGELENS_INJECTION_ENCODING"); v != "" {
		cfg.Injection.Encoding = v
	}
	if v := os.Getenv("PAGELENS_ARTIFACTS_DIR"); v != "" {
		cfg.Artifacts.Dir = v
	}
	if v := os.Getenv("PAGELENS_ARTIFACTS_RETENTION"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Artifacts.Retention = d
		}
	}
	if v := os.Getenv("PAGELENS_SECURITY_ALLOW_PRIVATE"); v == "true" {
		cfg.Security.AllowPrivate = true
	}
	if v := os.Getenv("PAGELENS_SECURITY_ALLOW_LOOPBACK"); v == "false" {
		cfg.Security.AllowLoopback = false
	}
	if v := os.Getenv("PAGELENS_SECURITY_ALLOWED_HOSTS"); v != "" {
		cfg.Security.AllowedHosts = splitAndTrim(v)
	}
	if v := os.Getenv("PAGELENS_MCP_TRANSPORT"); v != "" {
		cfg.MCP.Transport = v
	}
	if v := os.Getenv("PAGELENS_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("PAGELENS_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("PAGELENS_LOGGER_OUTPUT"); v != "" {
		cfg.Logger.Output = v
	}
	if v := os.Getenv("PAGELENS_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("PAGELENS_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
}

// splitAndTrim splits a comma-separated list, trimming whitespace and
// dropping empty entries.
func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// decryptSecrets replaces "enc:" prefixed secret fields with their decrypted
// plaintext.
func decryptSecrets(cfg *Config, passphrase string) error {
	if strings.HasPrefix(cfg.Browser.Proxy.Password, "enc:") {
		decrypted, err := DecryptValue(strings.TrimPrefix(cfg.Browser.Proxy.Password, "enc:"), passphrase)
		if err != nil {
			return fmt.Errorf("browser proxy password: %w", err)
		}
		cfg.Browser.Proxy.Password = decrypted
	}
	return nil
}

// EncryptValue encrypts a plaintext value with AES-256-GCM using a passphrase.
func EncryptValue(plaintext, passphrase string) (string, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	key := deriveKey(passphrase, salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("create gcm: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	// Format: hex(salt) + ":" + hex(nonce+ciphertext)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(ciphertext), nil
}

// DecryptValue decrypts an AES-256-GCM encrypted value.
func DecryptValue(encrypted, passphrase string) (string, error) {
	parts := strings.SplitN(encrypted, ":", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("invalid encrypted format")
	}

	salt, err := hex.DecodeString(parts[0])
	if err != nil {
		return "", fmt.Errorf("decode salt: %w", err)
	}

	data, err := hex.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}

	key := deriveKey(passphrase, salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("create gcm: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}

	return string(plaintext), nil
}

// deriveKey uses Argon2id to derive a 32-byte key from passphrase + salt.
func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32)
}

// validatePermissions checks the config file has restrictive permissions.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	// Allow 0600 and 0644 (readable by others but not writable)
	if mode&0o077 > 0o044 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
