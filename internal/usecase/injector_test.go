package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"

	"pagelens/internal/domain"
	"pagelens/internal/parser"
)

// countFunc adapts a plain function to the token counter port.
type countFunc func(string) int

func (f countFunc) Count(text string) int { return f(text) }

var (
	charCounter = countFunc(func(s string) int { return len(s) })
	lineCounter = countFunc(func(s string) int { return strings.Count(s, "\n") + 1 })
)

const proseDoc = `<!DOCTYPE html>
<html>
<head><title>Journal</title></head>
<body>
  <h1>Field notes</h1>
  <button id="refresh">Refresh</button>
  <h2 id="s-shipping">Shipping</h2>
  <p id="para-1">First note about carrier rates.</p>
  <p id="para-2">Second note about customs forms.</p>
  <h2 id="s-billing">Billing</h2>
  <p id="para-3">Third note about invoices.</p>
  <p id="para-4">Fourth note about refunds.</p>
  <h2 id="s-returns">Returns</h2>
  <p id="para-5">Fifth note about return labels.</p>
</body>
</html>`

func TestInjectorNoSessionPassThrough(t *testing.T) {
	ff := &fakeFactory{docs: map[string]string{}}
	e := newFakeEngine(t, ff, RegistryConfig{}, nil)
	inj := NewInjector(e, charCounter, InjectorConfig{}, testLogger())

	out, injected, err := inj.Inject(context.Background(), "ghost", "original payload")
	if err != nil {
		t.Fatalf("Inject: %v", err)
	}
	if injected {
		t.Error("injected = true for a key with no session")
	}
	if out != "original payload" {
		t.Errorf("payload mutated: %q", out)
	}
}

func TestInjectorAppendsPageMap(t *testing.T) {
	ff := &fakeFactory{docs: map[string]string{shopURL: shopDoc}}
	e := newFakeEngine(t, ff, RegistryConfig{}, nil)
	inj := NewInjector(e, charCounter, InjectorConfig{}, testLogger())

	if _, err := e.Navigate(context.Background(), "shop", shopURL, ""); err != nil {
		t.Fatalf("Navigate: %v", err)
	}

	payload := "User asked: open the menu"
	out, injected, err := inj.Inject(context.Background(), "shop", payload)
	if err != nil {
		t.Fatalf("Inject: %v", err)
	}
	if !injected {
		t.Fatal("injected = false with a live session")
	}
	if !strings.HasPrefix(out, payload+"\n\n[Current page]\n") {
		t.Errorf("output does not lead with payload and banner:\n%s", out)
	}
	if !strings.Contains(out, "=== PAGE MAP (generation ") {
		t.Error("rendered map missing from output")
	}
	if !strings.Contains(out, "Menu") {
		t.Error("interactive element missing from injected map")
	}

	// An empty payload yields just the injected section.
	out, _, err = inj.Inject(context.Background(), "shop", "")
	if err != nil {
		t.Fatalf("Inject: %v", err)
	}
	if !strings.HasPrefix(out, "[Current page]\n") {
		t.Errorf("empty payload output = %q", out)
	}
}

func TestInjectorRichFallsBackToLean(t *testing.T) {
	ff := &fakeFactory{docs: map[string]string{shopURL: shopDoc}}
	e := newFakeEngine(t, ff, RegistryConfig{}, nil)

	if _, err := e.Navigate(context.Background(), "shop", shopURL, ""); err != nil {
		t.Fatalf("Navigate: %v", err)
	}

	// Budget sized to the lean rendering exactly. Rich is strictly longer
	// because of the CSS segments, so the injector must degrade.
	leanRes, err := e.PageMap(context.Background(), "shop", domain.ModeLean)
	if err != nil {
		t.Fatalf("PageMap: %v", err)
	}
	budget := len("[Current page]\n" + parser.Render(leanRes.Map))

	inj := NewInjector(e, charCounter, InjectorConfig{TokenBudget: budget, Mode: domain.ModeRich}, testLogger())
	out, injected, err := inj.Inject(context.Background(), "shop", "")
	if err != nil {
		t.Fatalf("Inject: %v", err)
	}
	if !injected {
		t.Fatal("injected = false")
	}
	if strings.Contains(out, "CSS: ") {
		t.Errorf("rich rendering survived the budget:\n%s", out)
	}
	if !strings.Contains(out, "=== PAGE MAP (generation ") {
		t.Error("lean map missing from output")
	}
}

func TestInjectorElidesContentTail(t *testing.T) {
	url := "http://127.0.0.1/journal"
	ff := &fakeFactory{docs: map[string]string{url: proseDoc}}
	e := newFakeEngine(t, ff, RegistryConfig{}, nil)

	if _, err := e.Navigate(context.Background(), "notes", url, ""); err != nil {
		t.Fatalf("Navigate: %v", err)
	}

	inj := NewInjector(e, lineCounter, InjectorConfig{TokenBudget: 15}, testLogger())
	out, injected, err := inj.Inject(context.Background(), "notes", "")
	if err != nil {
		t.Fatalf("Inject: %v", err)
	}
	if !injected {
		t.Fatal("injected = false")
	}
	if !strings.Contains(out, "content entries elided to fit the injection budget") {
		t.Errorf("no elision note in output:\n%s", out)
	}
	// Content drops from the tail; the head entries and the interactive
	// skeleton survive.
	if !strings.Contains(out, "Refresh") {
		t.Error("interactive element sacrificed before content")
	}
	if !strings.Contains(out, "para-1") {
		t.Errorf("head content entry elided:\n%s", out)
	}
	if strings.Contains(out, "para-5") {
		t.Error("tail content entry survived the budget")
	}
}

func TestInjectorDropsNetworkLog(t *testing.T) {
	inj := NewInjector(nil, lineCounter, InjectorConfig{TokenBudget: 12}, testLogger())
	m := &domain.PageMap{
		Generation: "01J0000000000000000000TEST",
		URL:        "http://127.0.0.1/x",
		Title:      "X",
		Mode:       domain.ModeLean,
		Interactive: []domain.InteractiveElement{
			{Ref: 1, Tag: "button", Text: "Go", Selector: "#go"},
		},
		Network: []domain.NetworkExchange{
			{Method: "GET", URL: "http://127.0.0.1/api/items", Status: 200},
		},
	}

	text := inj.fitToBudget(m)
	if strings.Contains(text, "=== NETWORK") {
		t.Errorf("network section survived the budget:\n%s", text)
	}
	if !strings.Contains(text, "network log elided to fit the injection budget") {
		t.Errorf("no network elision note:\n%s", text)
	}
	if !strings.Contains(text, "Go") {
		t.Error("interactive element lost")
	}
}

func TestInjectorHardTruncation(t *testing.T) {
	inj := NewInjector(nil, charCounter, InjectorConfig{TokenBudget: 30}, testLogger())
	m := &domain.PageMap{
		Generation: "01J0000000000000000000TEST",
		URL:        "http://127.0.0.1/very/long/path/that/keeps/going",
		Title:      "A page whose skeleton alone is over any reasonable budget",
		Mode:       domain.ModeLean,
		Interactive: []domain.InteractiveElement{
			{Ref: 1, Tag: "button", Text: "Submit the entire order form right now", Selector: "#submit"},
		},
	}

	text := inj.fitToBudget(m)
	if !strings.HasSuffix(text, "\n(truncated)") {
		t.Fatalf("no truncation marker:\n%s", text)
	}
	limit := 30 * 4
	if got := len(text); got != limit+len("\n(truncated)") {
		t.Errorf("truncated length = %d, want %d", got, limit+len("\n(truncated)"))
	}
}

func TestInjectorPropagatesBusy(t *testing.T) {
	ff := &fakeFactory{docs: map[string]string{shopURL: shopDoc}}
	e := newFakeEngine(t, ff, RegistryConfig{}, nil)
	inj := NewInjector(e, charCounter, InjectorConfig{}, testLogger())

	if _, err := e.Navigate(context.Background(), "shop", shopURL, ""); err != nil {
		t.Fatalf("Navigate: %v", err)
	}

	// Hold the session lock so injection cannot take it.
	unlock, err := e.registry.locker.Lock(context.Background(), "shop")
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	defer unlock()

	out, injected, err := inj.Inject(context.Background(), "shop", "payload")
	if !errors.Is(err, domain.ErrSessionBusy) {
		t.Fatalf("error = %v, want ErrSessionBusy", err)
	}
	if injected {
		t.Error("injected = true on error")
	}
	if out != "payload" {
		t.Errorf("payload mutated on error: %q", out)
	}
}
