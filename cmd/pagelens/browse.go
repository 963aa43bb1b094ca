package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"pagelens/internal/domain"
	"pagelens/internal/infra/config"
	"pagelens/internal/infra/logger"
	"pagelens/internal/parser"
	"pagelens/internal/usecase"
)

// runBrowse drives browser sessions interactively. Every action renders the
// fresh page map an agent would see, which makes it the quickest way to
// check what a page looks like through the parser.
func runBrowse() error {
	cfg, err := config.Load(configPath())
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	// Stdout is the TUI; logs go to stderr or a file.
	log, logCloser, err := logger.NewStdioSafe(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	stack, err := buildEngine(cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		stack.Close(shutdownCtx)
	}()

	mode, err := domain.ParseRenderMode(cfg.Parser.Mode)
	if err != nil {
		return err
	}

	p := tea.NewProgram(newBrowseModel(stack, mode), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("browse ui: %w", err)
	}
	return nil
}

var (
	browseTitleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	browseStatusStyle = lipgloss.NewStyle().Faint(true)
	browseErrorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	browseBusyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
)

const browseHelp = `Commands drive one browser session; actions return the page map the agent
would see.

  open URL              navigate (alias: nav)
  click LOC             click an element
  type LOC TEXT...      type into an element
  clear LOC             clear an input
  keys LOC KEY...       press symbolic keys (Enter, Tab, ArrowDown, ...)
  scroll LOC            scroll an element into view
  wait LOC [MS]         wait until an element is visible
  exists LOC            check for an element without failing
  map [lean|rich]       re-read the page map
  shot                  capture a screenshot artifact
  status                show session state
  sessions              list live sessions
  release               close this session's browser
  use KEY               switch session key
  mode lean|rich        set the render mode
  quit                  exit (live sessions fall to the idle sweeper)

LOC is a page-map ref number, a CSS selector, css=SEL, xpath=EXPR, or a
/-rooted XPath.`

// actionDoneMsg carries one engine action's outcome back to the UI loop.
type actionDoneMsg struct {
	status string
	body   string
	err    error
}

// Ensure *browseModel satisfies tea.Model.
var _ tea.Model = (*browseModel)(nil)

type browseModel struct {
	stack *engineStack

	session string
	mode    domain.RenderMode

	input textinput.Model
	view  viewport.Model
	spin  spinner.Model

	busy   bool
	status string
	width  int
	height int
}

func newBrowseModel(stack *engineStack, mode domain.RenderMode) *browseModel {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "open https://example.com"
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	m := &browseModel{
		stack:   stack,
		session: "default",
		mode:    mode,
		input:   ti,
		view:    viewport.New(0, 0),
		spin:    sp,
	}
	m.view.SetContent(browseHelp)
	return m
}

func (m *browseModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m *browseModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.layout()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			return m, tea.Quit
		case tea.KeyEnter:
			if m.busy {
				return m, nil
			}
			line := strings.TrimSpace(m.input.Value())
			if line == "" {
				return m, nil
			}
			m.input.Reset()
			return m.dispatch(line)
		}

	case spinner.TickMsg:
		if !m.busy {
			return m, nil
		}
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case actionDoneMsg:
		m.busy = false
		if msg.err != nil {
			m.status = browseErrorStyle.Render(msg.err.Error())
			return m, nil
		}
		m.status = msg.status
		if msg.body != "" {
			m.view.SetContent(msg.body)
			m.view.GotoTop()
		}
		return m, nil
	}

	var cmds []tea.Cmd
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.view, cmd = m.view.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m *browseModel) View() string {
	if m.width == 0 {
		return "  Initializing..."
	}

	title := browseTitleStyle.Render("pagelens") +
		browseStatusStyle.Render(fmt.Sprintf("  session=%s  mode=%s", m.session, m.mode))

	status := m.status
	if m.busy {
		status = browseBusyStyle.Render(m.spin.View() + " working...")
	}
	if status == "" {
		status = browseStatusStyle.Render(`type a command, "help" lists them`)
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		title,
		m.view.View(),
		status,
		m.input.View(),
	)
}

func (m *browseModel) layout() {
	headerH, statusH, inputH := 1, 1, 1
	contentH := m.height - headerH - statusH - inputH
	if contentH < 5 {
		contentH = 5
	}
	m.view.Width = m.width
	m.view.Height = contentH
	m.input.Width = m.width - 4
}

// dispatch handles one input line. Session-local commands apply instantly;
// engine actions run as async commands so the UI stays responsive.
func (m *browseModel) dispatch(line string) (tea.Model, tea.Cmd) {
	fields := strings.Fields(line)
	name, args := fields[0], fields[1:]

	switch name {
	case "quit", "exit":
		return m, tea.Quit
	case "help":
		m.view.SetContent(browseHelp)
		m.view.GotoTop()
		m.status = ""
		return m, nil
	case "use":
		if len(args) != 1 {
			m.status = browseErrorStyle.Render("usage: use SESSION_KEY")
			return m, nil
		}
		m.session = args[0]
		m.status = "session " + args[0]
		return m, nil
	case "mode":
		if len(args) != 1 {
			m.status = browseErrorStyle.Render("usage: mode lean|rich")
			return m, nil
		}
		rm, err := domain.ParseRenderMode(args[0])
		if err != nil {
			m.status = browseErrorStyle.Render(err.Error())
			return m, nil
		}
		m.mode = rm
		m.status = "mode " + string(rm)
		return m, nil
	}

	run, err := m.actionCmd(name, args)
	if err != nil {
		m.status = browseErrorStyle.Render(err.Error())
		return m, nil
	}
	m.busy = true
	m.status = ""
	return m, tea.Batch(m.spin.Tick, run)
}

// actionCmd builds the async command for one engine action. Session and mode
// are captured here so a later "use" cannot redirect an in-flight action.
func (m *browseModel) actionCmd(name string, args []string) (tea.Cmd, error) {
	engine := m.stack.Engine
	session := m.session
	mode := m.mode

	switch name {
	case "open", "nav":
		if len(args) != 1 {
			return nil, fmt.Errorf("usage: open URL")
		}
		url := args[0]
		return func() tea.Msg {
			res, err := engine.Navigate(context.Background(), session, url, mode)
			return mapMsg("opened "+url, res, err)
		}, nil

	case "click":
		loc, err := oneLocator(args)
		if err != nil {
			return nil, err
		}
		return func() tea.Msg {
			res, err := engine.Click(context.Background(), session, loc, mode)
			return mapMsg("clicked "+loc.String(), res, err)
		}, nil

	case "type":
		if len(args) < 2 {
			return nil, fmt.Errorf("usage: type LOC TEXT...")
		}
		loc, err := parseLocator(args[0])
		if err != nil {
			return nil, err
		}
		text := strings.Join(args[1:], " ")
		return func() tea.Msg {
			res, err := engine.TypeText(context.Background(), session, loc, text, false, mode)
			return mapMsg("typed into "+loc.String(), res, err)
		}, nil

	case "clear":
		loc, err := oneLocator(args)
		if err != nil {
			return nil, err
		}
		return func() tea.Msg {
			res, err := engine.TypeText(context.Background(), session, loc, "", true, mode)
			return mapMsg("cleared "+loc.String(), res, err)
		}, nil

	case "keys":
		if len(args) < 2 {
			return nil, fmt.Errorf("usage: keys LOC KEY...")
		}
		loc, err := parseLocator(args[0])
		if err != nil {
			return nil, err
		}
		keys := args[1:]
		return func() tea.Msg {
			res, err := engine.PressKeys(context.Background(), session, loc, keys, mode)
			return mapMsg("pressed "+strings.Join(keys, "+"), res, err)
		}, nil

	case "scroll":
		loc, err := oneLocator(args)
		if err != nil {
			return nil, err
		}
		return func() tea.Msg {
			res, err := engine.ScrollTo(context.Background(), session, loc, mode)
			return mapMsg("scrolled to "+loc.String(), res, err)
		}, nil

	case "wait":
		if len(args) < 1 || len(args) > 2 {
			return nil, fmt.Errorf("usage: wait LOC [MS]")
		}
		loc, err := parseLocator(args[0])
		if err != nil {
			return nil, err
		}
		var timeout time.Duration
		if len(args) == 2 {
			ms, err := strconv.Atoi(args[1])
			if err != nil || ms <= 0 {
				return nil, fmt.Errorf("bad timeout %q, want milliseconds", args[1])
			}
			timeout = time.Duration(ms) * time.Millisecond
		}
		return func() tea.Msg {
			res, err := engine.WaitVisible(context.Background(), session, loc, timeout, mode)
			return mapMsg(loc.String()+" visible", res, err)
		}, nil

	case "exists":
		loc, err := oneLocator(args)
		if err != nil {
			return nil, err
		}
		return func() tea.Msg {
			ok, err := engine.Exists(context.Background(), session, loc)
			if err != nil {
				return actionDoneMsg{err: err}
			}
			return actionDoneMsg{status: fmt.Sprintf("%s exists: %v", loc, ok)}
		}, nil

	case "map":
		if len(args) == 1 {
			rm, err := domain.ParseRenderMode(args[0])
			if err != nil {
				return nil, err
			}
			mode = rm
		} else if len(args) > 1 {
			return nil, fmt.Errorf("usage: map [lean|rich]")
		}
		return func() tea.Msg {
			res, err := engine.PageMap(context.Background(), session, mode)
			return mapMsg("page map ("+string(mode)+")", res, err)
		}, nil

	case "shot":
		return func() tea.Msg {
			shot, err := engine.Screenshot(context.Background(), session)
			if err != nil {
				return actionDoneMsg{err: err}
			}
			status := fmt.Sprintf("screenshot v%d (%d bytes)", shot.Version, shot.Bytes)
			if shot.Path != "" {
				status += " " + shot.Path
			}
			return actionDoneMsg{status: status}
		}, nil

	case "status":
		return func() tea.Msg {
			info, err := engine.Status(context.Background(), session)
			if err != nil {
				return actionDoneMsg{err: err}
			}
			return actionDoneMsg{status: "session " + session, body: renderInfo(info)}
		}, nil

	case "sessions":
		return func() tea.Msg {
			infos := engine.Sessions(context.Background())
			return actionDoneMsg{status: fmt.Sprintf("%d live", len(infos)), body: renderSessions(infos)}
		}, nil

	case "release":
		return func() tea.Msg {
			if engine.Release(context.Background(), session) {
				return actionDoneMsg{status: "released " + session, body: browseHelp}
			}
			return actionDoneMsg{status: "no live browser for " + session}
		}, nil

	default:
		return nil, fmt.Errorf("unknown command %q (try help)", name)
	}
}

// mapMsg folds an action result into the standard page-map display.
func mapMsg(status string, res *usecase.ActionResult, err error) tea.Msg {
	if err != nil {
		return actionDoneMsg{err: err}
	}
	if res.Title != "" {
		status += " | " + res.Title
	}
	if res.Shot != nil {
		status += fmt.Sprintf(" | shot v%d", res.Shot.Version)
	}
	return actionDoneMsg{status: status, body: parser.Render(res.Map)}
}

func oneLocator(args []string) (domain.Locator, error) {
	if len(args) != 1 {
		return domain.Locator{}, fmt.Errorf("expected one locator")
	}
	return parseLocator(args[0])
}

// parseLocator reads a REPL locator: a bare number is a ref, css= and
// xpath= prefixes are explicit, a /-rooted string is XPath, the rest is CSS.
func parseLocator(s string) (domain.Locator, error) {
	if s == "" {
		return domain.Locator{}, fmt.Errorf("missing locator")
	}
	if n, err := strconv.Atoi(s); err == nil {
		if n <= 0 {
			return domain.Locator{}, fmt.Errorf("refs start at 1, got %d", n)
		}
		return domain.ByRef(n), nil
	}
	switch {
	case strings.HasPrefix(s, "css="):
		return domain.BySelector(strings.TrimPrefix(s, "css=")), nil
	case strings.HasPrefix(s, "xpath="):
		return domain.ByXPath(strings.TrimPrefix(s, "xpath=")), nil
	case strings.HasPrefix(s, "/"):
		return domain.ByXPath(s), nil
	default:
		return domain.BySelector(s), nil
	}
}

func renderInfo(info domain.SessionInfo) string {
	var b strings.Builder
	fmt.Fprintf(&b, "key:         %s\n", info.Key)
	fmt.Fprintf(&b, "id:          %s\n", info.ID)
	fmt.Fprintf(&b, "url:         %s\n", info.URL)
	fmt.Fprintf(&b, "title:       %s\n", info.Title)
	fmt.Fprintf(&b, "created:     %s\n", info.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "last use:    %s\n", info.LastActivity.Format(time.RFC3339))
	fmt.Fprintf(&b, "generation:  %s\n", info.Generation)
	fmt.Fprintf(&b, "screenshots: %d\n", info.ScreenshotVersion)
	return b.String()
}

func renderSessions(infos []domain.SessionInfo) string {
	if len(infos) == 0 {
		return "no live sessions"
	}
	var b strings.Builder
	for _, info := range infos {
		busy := ""
		if info.Busy {
			busy = " [busy]"
		}
		fmt.Fprintf(&b, "%-16s %s%s\n", info.Key, info.URL, busy)
	}
	return b.String()
}
