package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"pagelens/internal/adapter/artifact"
	"pagelens/internal/adapter/driver"
	"pagelens/internal/adapter/mcp"
	"pagelens/internal/adapter/token"
	"pagelens/internal/adapter/tool"
	"pagelens/internal/domain"
	"pagelens/internal/infra/config"
	"pagelens/internal/infra/logger"
	"pagelens/internal/infra/tracer"
	"pagelens/internal/parser"
	"pagelens/internal/security"
	"pagelens/internal/usecase"
)

const version = "0.3.1"

// maxParseBody caps how much HTML the parse subcommand reads from a URL or
// file before handing it to the parser.
const maxParseBody = 8 << 20

func main() {
	// Handle help flag first
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "--help", "-h", "help":
			showUsage()
			return
		}
	}

	// Bare invocation (or flags only) serves MCP over stdio.
	if len(os.Args) < 2 || strings.HasPrefix(os.Args[1], "-") {
		if err := runServe(); err != nil {
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			os.Exit(1)
		}
		return
	}

	switch os.Args[1] {
	case "serve":
		if err := runServe(); err != nil {
			fmt.Fprintf(os.Stderr, "serve: %v\n", err)
			os.Exit(1)
		}
	case "parse":
		if err := runParse(); err != nil {
			fmt.Fprintf(os.Stderr, "parse: %v\n", err)
			os.Exit(1)
		}
	case "browse":
		if err := runBrowse(); err != nil {
			fmt.Fprintf(os.Stderr, "browse: %v\n", err)
			os.Exit(1)
		}
	case "doctor":
		if err := runDoctor(); err != nil {
			fmt.Fprintf(os.Stderr, "\ndoctor: %v\n", err)
			os.Exit(1)
		}
	case "version":
		fmt.Println("pagelens " + version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\nRun 'pagelens --help' for usage information.\n", os.Args[1])
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`pagelens - session-scoped browser automation engine

USAGE:
    pagelens [COMMAND] [FLAGS]

COMMANDS:
    serve       Serve the browser tools over MCP stdio (default)
    parse       Render a page map from static HTML (file, URL, or stdin)
    browse      Drive a browser session interactively in the terminal
    doctor      Run environment health checks
    version     Print the version

FLAGS:
    -h, --help         Show this help message
    --config PATH      Config file path (default: ./pagelens.yaml)
    --mode MODE        parse only: render mode, lean or rich

CONFIGURATION:
    Config file: ./pagelens.yaml
    Environment: PAGELENS_* variables override config

EXAMPLES:
    pagelens                             # Serve MCP on stdio
    pagelens --config /etc/pagelens.yaml
    pagelens parse page.html             # Page map from a local file
    pagelens parse --mode rich https://example.com
    cat page.html | pagelens parse       # Page map from stdin
    pagelens browse                      # Interactive session driver`)
}

func configPath() string {
	// Check --config flag in os.Args.
	for i, arg := range os.Args {
		if arg == "--config" && i+1 < len(os.Args) {
			return os.Args[i+1]
		}
		if strings.HasPrefix(arg, "--config=") {
			return strings.TrimPrefix(arg, "--config=")
		}
	}
	if p := os.Getenv("PAGELENS_CONFIG"); p != "" {
		return p
	}
	return "pagelens.yaml"
}

// engineStack is the wired engine with everything serve and browse share.
type engineStack struct {
	Registry  *usecase.Registry
	Engine    *usecase.Engine
	Injector  *usecase.Injector
	Artifacts *artifact.Store
	Guard     *security.Guard
}

// Close releases all sessions and flushes the artifact index.
func (s *engineStack) Close(ctx context.Context) {
	s.Registry.Shutdown(ctx)
	if err := s.Artifacts.Close(); err != nil {
		slog.Default().Warn("artifact store close", "error", err)
	}
}

// buildEngine wires the full action engine from config: driver factory,
// session registry, parser, SSRF guard, artifact store, and the injection
// pipeline.
func buildEngine(cfg *config.Config, log *slog.Logger) (*engineStack, error) {
	guard := security.NewGuard(guardConfig(cfg))

	store, err := artifact.NewStore(artifact.Config{
		Dir:           cfg.Artifacts.Dir,
		IndexPath:     cfg.Artifacts.IndexPath,
		MaxPerSession: cfg.Artifacts.MaxPerSession,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("artifact store: %w", err)
	}

	mode, err := domain.ParseRenderMode(cfg.Parser.Mode)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("parser mode: %w", err)
	}

	factory := driver.NewFactory(driver.Options{
		ProfileRoot:        cfg.Browser.ProfileDir,
		ScreenshotMaxBytes: cfg.Capture.ScreenshotMaxBytes,
		FullPage:           cfg.Capture.FullPage,
	}, log)

	reg := usecase.NewRegistry(factory, sessionConfig(cfg), usecase.RegistryConfig{
		MaxSessions:        cfg.Session.MaxSessions,
		BusyWait:           cfg.Session.BusyWait,
		BreakerMaxFailures: cfg.Breaker.MaxFailures,
		BreakerTimeout:     cfg.Breaker.Timeout,
		BreakerInterval:    cfg.Breaker.Interval,
		NavPerMinute:       cfg.Security.NavPerMinute,
		NavBurst:           cfg.Security.NavBurst,
	}, log)

	p := parser.New(parserOptions(cfg), log)
	engine := usecase.NewEngine(reg, p, guard, store, usecase.EngineConfig{DefaultMode: mode}, log)

	counter := token.NewCounter(cfg.Injection.Encoding, log)
	inj := usecase.NewInjector(engine, counter, usecase.InjectorConfig{
		TokenBudget: cfg.Injection.TokenBudget,
		Mode:        mode,
	}, log)

	return &engineStack{
		Registry:  reg,
		Engine:    engine,
		Injector:  inj,
		Artifacts: store,
		Guard:     guard,
	}, nil
}

func sessionConfig(cfg *config.Config) domain.SessionConfig {
	sc := domain.SessionConfig{
		Headless:        cfg.Browser.Headless,
		Stealth:         cfg.Browser.Stealth,
		Incognito:       cfg.Browser.Incognito,
		ViewportWidth:   cfg.Browser.ViewportWidth,
		ViewportHeight:  cfg.Browser.ViewportHeight,
		UserAgent:       cfg.Browser.UserAgent,
		ActionTimeout:   cfg.Browser.ActionTimeout,
		NavigateTimeout: cfg.Browser.NavigateTimeout,
		CaptureNetwork:  cfg.Capture.Network,
		MaxNetworkLog:   cfg.Capture.MaxNetworkLog,
		ExecPath:        cfg.Browser.ExecPath,
		RemoteURL:       cfg.Browser.RemoteURL,
	}
	if cfg.Browser.Proxy.Host != "" {
		sc.Proxy = &domain.ProxyConfig{
			Host:     cfg.Browser.Proxy.Host,
			Port:     cfg.Browser.Proxy.Port,
			Username: cfg.Browser.Proxy.Username,
			Password: cfg.Browser.Proxy.Password,
		}
	}
	return sc
}

func guardConfig(cfg *config.Config) security.Config {
	return security.Config{
		AllowPrivate:  cfg.Security.AllowPrivate,
		AllowLoopback: cfg.Security.AllowLoopback,
		AllowedHosts:  cfg.Security.AllowedHosts,
	}
}

func parserOptions(cfg *config.Config) parser.Options {
	return parser.Options{
		InteractiveTextLimit: cfg.Parser.InteractiveTextLimit,
		ContentTextLimit:     cfg.Parser.ContentTextLimit,
		MaxContentElements:   cfg.Parser.MaxContentElements,
		CompressThreshold:    cfg.Parser.CompressThreshold,
		MaxNetworkEntries:    cfg.Capture.MaxNetworkLog,
	}
}

func runServe() error {
	// 1. Config
	cfg, err := config.Load(configPath())
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if cfg.MCP.Transport != "" && cfg.MCP.Transport != "stdio" {
		return fmt.Errorf("unsupported mcp transport %q (stdio only)", cfg.MCP.Transport)
	}

	// 2. Logger & Tracer. Stdout is the MCP wire; logs go to stderr or file.
	log, logCloser, err := logger.NewStdioSafe(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	ctx := context.Background()
	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer tracerShutdown(ctx)

	// 3. Engine
	stack, err := buildEngine(cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		stack.Close(shutdownCtx)
	}()

	// 4. Tools
	tools := tool.NewRegistry(log)
	if err := tools.Register(tool.NewBrowserTool(stack.Engine, log).Tool()); err != nil {
		return fmt.Errorf("register browser tool: %w", err)
	}
	if err := tools.Register(tool.NewContextTool(stack.Injector, log).Tool()); err != nil {
		return fmt.Errorf("register page_context tool: %w", err)
	}

	// 5. Graceful shutdown
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// 6. Maintenance: idle sweep + artifact retention
	maint := startMaintenance(ctx, cfg, stack, log)
	defer func() { <-maint.Stop().Done() }()

	// 7. Serve MCP on stdio until the client hangs up or we get a signal
	srv := mcp.NewServer(mcp.Config{Name: cfg.MCP.Name, Version: version}, tools, log)
	return srv.ServeStdio(ctx)
}

// startMaintenance schedules the recurring background jobs: closing idle
// sessions and pruning expired screenshot artifacts.
func startMaintenance(ctx context.Context, cfg *config.Config, stack *engineStack, log *slog.Logger) *cron.Cron {
	c := cron.New()

	sweepEvery := cfg.Session.SweepInterval
	if sweepEvery <= 0 {
		sweepEvery = time.Minute
	}
	_, err := c.AddFunc(fmt.Sprintf("@every %s", sweepEvery), func() {
		start := time.Now()
		if n := stack.Registry.Sweep(ctx, cfg.Session.IdleTTL); n > 0 {
			log.Info("idle sweep completed", "closed", n, "duration", time.Since(start))
		}
	})
	if err != nil {
		log.Warn("idle sweep not scheduled", "error", err)
	}

	if cfg.Artifacts.Retention > 0 {
		_, err := c.AddFunc("@every 1h", func() {
			start := time.Now()
			n, err := stack.Artifacts.Prune(ctx, cfg.Artifacts.Retention)
			if err != nil {
				log.Warn("artifact prune failed", "error", err, "duration", time.Since(start))
				return
			}
			if n > 0 {
				log.Info("artifact prune completed", "removed", n, "duration", time.Since(start))
			}
		})
		if err != nil {
			log.Warn("artifact prune not scheduled", "error", err)
		}
	}

	c.Start()
	return c
}

// runParse renders a page map from static HTML without launching a browser.
// The source is a file path, an http(s) URL, or stdin.
func runParse() error {
	var src, mode string
	args := os.Args[2:]
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "--mode" && i+1 < len(args):
			mode = args[i+1]
			i++
		case strings.HasPrefix(args[i], "--mode="):
			mode = strings.TrimPrefix(args[i], "--mode=")
		case args[i] == "--config" && i+1 < len(args):
			i++ // consumed by configPath
		case strings.HasPrefix(args[i], "--config="):
			// consumed by configPath
		case strings.HasPrefix(args[i], "-") && args[i] != "-":
			return fmt.Errorf("unknown flag %q", args[i])
		default:
			if src != "" {
				return fmt.Errorf("multiple sources given: %q and %q", src, args[i])
			}
			src = args[i]
		}
	}

	cfg, err := config.Load(configPath())
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if mode == "" {
		mode = cfg.Parser.Mode
	}
	rmode, err := domain.ParseRenderMode(mode)
	if err != nil {
		return err
	}

	log, logCloser, err := logger.NewStdioSafe(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	var (
		r       io.Reader
		pageURL string
	)
	switch {
	case src == "" || src == "-":
		r = os.Stdin
		pageURL = "stdin"
	case strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://"):
		guard := security.NewGuard(guardConfig(cfg))
		if err := guard.ValidateURL(src); err != nil {
			return err
		}
		client := &http.Client{
			Transport: security.NewSafeTransport(guard),
			Timeout:   30 * time.Second,
		}
		resp, err := client.Get(src)
		if err != nil {
			return fmt.Errorf("fetch %s: %w", src, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("fetch %s: status %s", src, resp.Status)
		}
		r = resp.Body
		pageURL = src
	default:
		f, err := os.Open(src)
		if err != nil {
			return fmt.Errorf("open %s: %w", src, err)
		}
		defer f.Close()
		r = f
		pageURL = "file://" + src
	}

	snap, err := parser.SnapshotFromHTML(io.LimitReader(r, maxParseBody), pageURL)
	if err != nil {
		return fmt.Errorf("parse html: %w", err)
	}

	p := parser.New(parserOptions(cfg), log)
	pm, err := p.Parse(snap, rmode)
	if err != nil {
		return fmt.Errorf("derive page map: %w", err)
	}

	fmt.Println(parser.Render(pm))
	return nil
}
