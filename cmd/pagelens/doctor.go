package main

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"pagelens/internal/infra/config"
)

// CheckStatus represents the result of a health check.
type CheckStatus string

const (
	StatusPass CheckStatus = "PASS"
	StatusWarn CheckStatus = "WARN"
	StatusFail CheckStatus = "FAIL"
)

// CheckResult holds the outcome of a single health check.
type CheckResult struct {
	Name    string
	Status  CheckStatus
	Message string
	Fix     string // optional fix suggestion
}

// Check is a named health check function.
type Check struct {
	Name string
	Fn   func(cfg *config.Config) CheckResult
}

// runDoctor executes all health checks and reports results.
func runDoctor() error {
	cfgPath := configPath()

	// Try to load config — some checks work without it.
	cfg, cfgErr := config.Load(cfgPath)

	checks := []Check{
		{Name: "Config file", Fn: checkConfigFile(cfgPath, cfgErr)},
		{Name: "Browser binary", Fn: checkBrowserBinary},
		{Name: "Remote browser", Fn: checkRemoteBrowser},
		{Name: "Artifact store", Fn: checkArtifactStore},
		{Name: "Disk space", Fn: checkDiskSpace},
		{Name: "Network", Fn: checkNetwork},
		{Name: "Navigation guard", Fn: checkNavigationGuard},
	}

	fmt.Println("pagelens doctor")
	fmt.Println(strings.Repeat("=", 50))
	fmt.Println()

	var pass, warn, fail int
	results := make([]CheckResult, 0, len(checks))

	for _, check := range checks {
		result := check.Fn(cfg)
		result.Name = check.Name
		results = append(results, result)

		icon := statusIcon(result.Status)
		fmt.Printf("  %s %s: %s\n", icon, result.Name, result.Message)
		if result.Fix != "" {
			fmt.Printf("      Fix: %s\n", result.Fix)
		}

		switch result.Status {
		case StatusPass:
			pass++
		case StatusWarn:
			warn++
		case StatusFail:
			fail++
		}
	}

	fmt.Println()
	fmt.Println(strings.Repeat("-", 50))
	fmt.Printf("Results: %d passed, %d warnings, %d failed\n", pass, warn, fail)

	if fail > 0 {
		fmt.Println("\nFix the FAIL issues above to ensure pagelens runs correctly.")
		return fmt.Errorf("%d check(s) failed", fail)
	}
	if warn > 0 {
		fmt.Println("\npagelens should work, but consider addressing the warnings.")
	} else {
		fmt.Println("\nAll checks passed! pagelens is ready to run.")
	}
	return nil
}

func statusIcon(s CheckStatus) string {
	switch s {
	case StatusPass:
		return "[PASS]"
	case StatusWarn:
		return "[WARN]"
	case StatusFail:
		return "[FAIL]"
	default:
		return "[????]"
	}
}

// checkConfigFile returns a check that verifies the config file parses
// correctly. A missing file passes because built-in defaults apply.
func checkConfigFile(cfgPath string, cfgErr error) func(*config.Config) CheckResult {
	return func(_ *config.Config) CheckResult {
		if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
			if cfgErr != nil {
				return CheckResult{
					Status:  StatusFail,
					Message: fmt.Sprintf("default config invalid: %v", cfgErr),
					Fix:     "Check PAGELENS_* environment variables for bad values",
				}
			}
			return CheckResult{
				Status:  StatusPass,
				Message: fmt.Sprintf("no config file at %s — built-in defaults in effect", cfgPath),
			}
		}

		if cfgErr != nil {
			return CheckResult{
				Status:  StatusFail,
				Message: fmt.Sprintf("config file error: %v", cfgErr),
				Fix:     fmt.Sprintf("Check %s syntax and permissions (must not be world-readable)", cfgPath),
			}
		}

		return CheckResult{
			Status:  StatusPass,
			Message: fmt.Sprintf("config loaded from %s", cfgPath),
		}
	}
}

// checkBrowserBinary verifies a Chromium-compatible browser is available
// for local launch.
func checkBrowserBinary(cfg *config.Config) CheckResult {
	if cfg != nil && cfg.Browser.RemoteURL != "" {
		return CheckResult{
			Status:  StatusPass,
			Message: "remote browser configured — local binary not required",
		}
	}

	if cfg != nil && cfg.Browser.ExecPath != "" {
		if _, err := os.Stat(cfg.Browser.ExecPath); err != nil {
			return CheckResult{
				Status:  StatusFail,
				Message: fmt.Sprintf("exec_path %s not found: %v", cfg.Browser.ExecPath, err),
				Fix:     "Fix browser.exec_path or remove it to auto-detect an installed browser",
			}
		}
		return CheckResult{
			Status:  StatusPass,
			Message: fmt.Sprintf("using configured binary at %s", cfg.Browser.ExecPath),
		}
	}

	browsers := []string{"google-chrome", "google-chrome-stable", "chromium", "chromium-browser", "headless-shell"}
	for _, name := range browsers {
		path, err := exec.LookPath(name)
		if err == nil {
			return CheckResult{
				Status:  StatusPass,
				Message: fmt.Sprintf("found %s at %s", name, path),
			}
		}
	}

	return CheckResult{
		Status:  StatusFail,
		Message: "no Chromium-compatible browser found",
		Fix:     "Install Chromium (apt install chromium) or set browser.remote_url to attach to a running browser",
	}
}

// checkRemoteBrowser verifies the configured CDP endpoint is reachable.
func checkRemoteBrowser(cfg *config.Config) CheckResult {
	if cfg == nil || cfg.Browser.RemoteURL == "" {
		return CheckResult{
			Status:  StatusPass,
			Message: "not configured — sessions launch a local browser",
		}
	}

	u, err := url.Parse(cfg.Browser.RemoteURL)
	if err != nil || u.Host == "" {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("invalid remote_url %q", cfg.Browser.RemoteURL),
			Fix:     "Use the DevTools endpoint of the running browser, e.g. ws://127.0.0.1:9222",
		}
	}

	host := u.Host
	if u.Port() == "" {
		host = net.JoinHostPort(u.Hostname(), "9222")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var d net.Dialer
	start := time.Now()
	conn, err := d.DialContext(ctx, "tcp", host)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("cannot reach %s: %v", host, err),
			Fix:     "Start the browser with --remote-debugging-port or fix browser.remote_url",
		}
	}
	conn.Close()

	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("%s reachable (latency: %dms)", host, time.Since(start).Milliseconds()),
	}
}

// checkArtifactStore verifies the artifact directory exists and is writable.
func checkArtifactStore(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{
			Status:  StatusFail,
			Message: "cannot check — config not loaded",
		}
	}

	absDir, _ := filepath.Abs(cfg.Artifacts.Dir)

	info, err := os.Stat(absDir)
	if os.IsNotExist(err) {
		if mkErr := os.MkdirAll(absDir, 0o700); mkErr != nil {
			return CheckResult{
				Status:  StatusFail,
				Message: fmt.Sprintf("artifact directory %s does not exist and cannot be created: %v", absDir, mkErr),
				Fix:     fmt.Sprintf("Create the directory: mkdir -p %s", absDir),
			}
		}
		return CheckResult{
			Status:  StatusPass,
			Message: fmt.Sprintf("artifact directory created at %s", absDir),
		}
	}
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("cannot stat artifact directory: %v", err),
		}
	}
	if !info.IsDir() {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("%s exists but is not a directory", absDir),
		}
	}

	// Check writability by creating a temp file.
	testFile := filepath.Join(absDir, ".doctor-check")
	if err := os.WriteFile(testFile, []byte("ok"), 0o600); err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("artifact directory %s is not writable: %v", absDir, err),
			Fix:     fmt.Sprintf("Fix permissions: chmod 700 %s", absDir),
		}
	}
	os.Remove(testFile)

	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("artifact directory %s writable", absDir),
	}
}

// checkDiskSpace checks available disk space under the artifact directory.
func checkDiskSpace(cfg *config.Config) CheckResult {
	dir := "."
	if cfg != nil && cfg.Artifacts.Dir != "" {
		dir = cfg.Artifacts.Dir
	}

	absDir, _ := filepath.Abs(dir)

	info, err := os.Stat(absDir)
	if err != nil || !info.IsDir() {
		return CheckResult{
			Status:  StatusPass,
			Message: "artifact directory does not exist yet — space check skipped",
		}
	}

	// Try to get disk usage with df.
	out, err := exec.Command("df", "-h", absDir).Output()
	if err != nil {
		return CheckResult{
			Status:  StatusWarn,
			Message: "could not determine disk space (df command failed)",
		}
	}

	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	if len(lines) < 2 {
		return CheckResult{
			Status:  StatusWarn,
			Message: "unexpected df output format",
		}
	}

	fields := strings.Fields(lines[len(lines)-1])
	if len(fields) < 5 {
		return CheckResult{
			Status:  StatusWarn,
			Message: "unexpected df output format",
		}
	}

	available := fields[3]
	usePercent := fields[4]

	pctStr := strings.TrimSuffix(usePercent, "%")
	var pct int
	fmt.Sscanf(pctStr, "%d", &pct)

	if pct >= 95 {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("disk almost full: %s used, %s available", usePercent, available),
			Fix:     "Free up disk space or move artifacts.dir to a different partition",
		}
	}
	if pct >= 85 {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("disk usage high: %s used, %s available", usePercent, available),
		}
	}

	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("disk usage: %s used, %s available", usePercent, available),
	}
}

// checkNetwork verifies basic internet connectivity. Private-only setups
// downgrade a failure to a warning since local browsing still works.
func checkNetwork(cfg *config.Config) CheckResult {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", "1.1.1.1:443")
	if err != nil {
		// Try Google DNS as fallback.
		conn2, err2 := d.DialContext(ctx, "tcp", "8.8.8.8:443")
		if err2 != nil {
			if cfg != nil && cfg.Security.AllowPrivate {
				return CheckResult{
					Status:  StatusWarn,
					Message: "no internet connectivity — private-network browsing may still work",
				}
			}
			return CheckResult{
				Status:  StatusFail,
				Message: "no internet connectivity detected",
				Fix:     "Check your network connection and firewall settings",
			}
		}
		conn2.Close()
	} else {
		conn.Close()
	}

	return CheckResult{
		Status:  StatusPass,
		Message: "internet connectivity OK",
	}
}

// checkNavigationGuard summarizes the effective SSRF posture.
func checkNavigationGuard(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{
			Status:  StatusWarn,
			Message: "cannot check — config not loaded",
		}
	}

	if cfg.Security.AllowPrivate {
		return CheckResult{
			Status:  StatusWarn,
			Message: "private address ranges are allowed — navigation can reach internal services",
		}
	}

	if len(cfg.Security.AllowedHosts) > 0 {
		return CheckResult{
			Status:  StatusPass,
			Message: fmt.Sprintf("navigation restricted to %d host suffix(es)", len(cfg.Security.AllowedHosts)),
		}
	}

	loopback := "blocked"
	if cfg.Security.AllowLoopback {
		loopback = "allowed"
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("private and link-local addresses blocked, loopback %s", loopback),
	}
}
