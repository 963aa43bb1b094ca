package parser

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"pagelens/internal/domain"
)

func silentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func parseFixture(t *testing.T, markup string, mode domain.RenderMode) *domain.PageMap {
	t.Helper()
	snap, err := SnapshotFromHTML(strings.NewReader(markup), "https://example.com/page")
	if err != nil {
		t.Fatalf("SnapshotFromHTML: %v", err)
	}
	m, err := New(Options{}, silentLogger()).Parse(snap, mode)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return m
}

const loginPage = `<!DOCTYPE html>
<html><head><title>Login - Example</title></head>
<body>
<h1>Welcome back</h1>
<form action="/login">
  <label>Email</label>
  <input type="email" name="email" placeholder="you@example.com">
  <input type="password" name="password">
  <button type="submit">Sign in</button>
  <a href="/forgot">Forgot password?</a>
</form>
</body></html>`

func TestParseLoginForm(t *testing.T) {
	m := parseFixture(t, loginPage, domain.ModeLean)

	if m.Title != "Login - Example" {
		t.Errorf("title = %q, want %q", m.Title, "Login - Example")
	}
	if m.URL != "https://example.com/page" {
		t.Errorf("url = %q", m.URL)
	}
	if m.Partial {
		t.Error("clean page marked partial")
	}

	if len(m.Interactive) != 4 {
		t.Fatalf("interactive count = %d, want 4", len(m.Interactive))
	}
	// Refs are assigned in document order starting at 1.
	wantTags := []string{"input", "input", "button", "a"}
	for i, el := range m.Interactive {
		if el.Ref != i+1 {
			t.Errorf("interactive[%d].Ref = %d, want %d", i, el.Ref, i+1)
		}
		if el.Tag != wantTags[i] {
			t.Errorf("interactive[%d].Tag = %q, want %q", i, el.Tag, wantTags[i])
		}
	}
	if m.Interactive[0].Attrs["placeholder"] != "you@example.com" {
		t.Errorf("email attrs = %v", m.Interactive[0].Attrs)
	}
	if m.Interactive[0].Role != "textbox" {
		t.Errorf("email role = %q, want textbox", m.Interactive[0].Role)
	}
	if m.Interactive[2].Text != "Sign in" {
		t.Errorf("button text = %q", m.Interactive[2].Text)
	}
	if m.Interactive[2].Role != "button" {
		t.Errorf("button role = %q", m.Interactive[2].Role)
	}
	if m.Interactive[3].Attrs["href"] != "/forgot" {
		t.Errorf("link attrs = %v", m.Interactive[3].Attrs)
	}
	if m.Interactive[3].Role != "link" {
		t.Errorf("link role = %q", m.Interactive[3].Role)
	}

	if len(m.Content) != 2 {
		t.Fatalf("content count = %d, want 2 (h1 + label)", len(m.Content))
	}
	if m.Content[0].Tag != "h1" || m.Content[0].Text != "Welcome back" {
		t.Errorf("content[0] = %+v", m.Content[0])
	}
	if m.Content[0].Role != "heading" {
		t.Errorf("h1 role = %q", m.Content[0].Role)
	}
}

func TestParseNilSnapshot(t *testing.T) {
	_, err := New(Options{}, silentLogger()).Parse(nil, domain.ModeLean)
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}

func TestParseZeroInteractive(t *testing.T) {
	m := parseFixture(t, `<html><head><title>Static</title></head>
<body><p>Just prose.</p><h2>A heading</h2></body></html>`, domain.ModeLean)

	if len(m.Interactive) != 0 {
		t.Fatalf("interactive count = %d, want 0", len(m.Interactive))
	}
	if m.Partial {
		t.Error("static page marked partial")
	}
	out := Render(m)
	if !strings.Contains(out, "(no interactive elements)") {
		t.Errorf("render missing empty-list marker:\n%s", out)
	}
	if !strings.Contains(out, "Just prose.") {
		t.Errorf("render missing content text:\n%s", out)
	}
}

func TestParseHiddenDropdownRecovery(t *testing.T) {
	m := parseFixture(t, `<html><body>
<div class="multiselect">
  <input type="text" placeholder="Choose a fruit">
  <div class="multiselect__content-wrapper" style="display:none">
    <ul>
      <li class="multiselect__option">Apple</li>
      <li class="multiselect__option">Banana</li>
      <li class="multiselect__option">Cherry</li>
      <li class="multiselect__option">Mango</li>
      <li class="multiselect__option">Papaya</li>
    </ul>
  </div>
</div>
</body></html>`, domain.ModeLean)

	// Wrapper div, text input, and the five recovered options. The collapsed
	// container itself stays out.
	if len(m.Interactive) != 7 {
		t.Fatalf("interactive count = %d, want 7: %+v", len(m.Interactive), m.Interactive)
	}

	var options []domain.InteractiveElement
	for _, el := range m.Interactive {
		if el.Tag == "li" {
			options = append(options, el)
		}
	}
	if len(options) != 5 {
		t.Fatalf("recovered options = %d, want 5", len(options))
	}
	for _, opt := range options {
		if !opt.Hidden {
			t.Errorf("option %q not flagged hidden", opt.Text)
		}
	}
	wantTexts := []string{"Apple", "Banana", "Cherry", "Mango", "Papaya"}
	for i, opt := range options {
		if opt.Text != wantTexts[i] {
			t.Errorf("option[%d] text = %q, want %q", i, opt.Text, wantTexts[i])
		}
	}

	out := Render(m)
	if !strings.Contains(out, `TEXT:"Apple"`) {
		t.Errorf("render missing recovered option:\n%s", out)
	}
	if !strings.Contains(out, "| HIDDEN") {
		t.Errorf("render missing HIDDEN marker:\n%s", out)
	}
}

func TestParseHiddenWithoutDropdownContextDropped(t *testing.T) {
	m := parseFixture(t, `<html><body>
<div style="display:none"><button>Invisible</button></div>
<input type="hidden" name="csrf" value="tok">
</body></html>`, domain.ModeLean)

	if len(m.Interactive) != 0 {
		t.Fatalf("interactive count = %d, want 0: %+v", len(m.Interactive), m.Interactive)
	}
}

func TestParseTableRows(t *testing.T) {
	m := parseFixture(t, `<html><body>
<table>
<tr><th>Name</th><th>Age</th></tr>
<tr><td data-label="Name">Alice</td><td data-label="Age">30</td></tr>
<tr><td data-label="Name">Bob</td><td data-label="Age">25</td></tr>
</table>
</body></html>`, domain.ModeLean)

	if len(m.Content) != 3 {
		t.Fatalf("content count = %d, want 3 rows: %+v", len(m.Content), m.Content)
	}
	for i, row := range m.Content {
		if row.Tag != "tr" {
			t.Errorf("content[%d].Tag = %q, want tr", i, row.Tag)
		}
		if row.Role != "row" {
			t.Errorf("content[%d].Role = %q, want row", i, row.Role)
		}
	}
	if got := m.Content[1].Cells[0]; got.Label != "Name" || got.Text != "Alice" {
		t.Errorf("first data cell = %+v", got)
	}

	out := Render(m)
	if !strings.Contains(out, "TAG: tr | ROW: Name=Alice | Age=30") {
		t.Errorf("render missing labeled row:\n%s", out)
	}
	if !strings.Contains(out, "TAG: tr | ROW: Name | Age") {
		t.Errorf("render missing header row:\n%s", out)
	}
}

func TestParseTableAbsorbsNestedContent(t *testing.T) {
	m := parseFixture(t, `<html><body>
<table>
<tr><td data-label="Status"><span class="badge">Active</span></td></tr>
</table>
</body></html>`, domain.ModeLean)

	for _, el := range m.Content {
		if el.Tag != "tr" {
			t.Errorf("cell descendant leaked into content: %+v", el)
		}
	}
	if len(m.Content) != 1 {
		t.Fatalf("content count = %d, want 1", len(m.Content))
	}
	if m.Content[0].Cells[0].Text != "Active" {
		t.Errorf("cell text = %q, want Active", m.Content[0].Cells[0].Text)
	}
}

func TestParseContentCap(t *testing.T) {
	p := New(Options{MaxContentElements: 2}, silentLogger())
	snap, err := SnapshotFromHTML(strings.NewReader(`<html><body>
<h2>One</h2><h2>Two</h2><h2>Three</h2><h2>Four</h2>
</body></html>`), "https://example.com")
	if err != nil {
		t.Fatalf("SnapshotFromHTML: %v", err)
	}
	m, err := p.Parse(snap, domain.ModeLean)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if len(m.Content) != 2 {
		t.Fatalf("content count = %d, want 2", len(m.Content))
	}
	// The cap is a bound, not a failure.
	if m.Partial {
		t.Error("capped map marked partial")
	}
	found := false
	for _, note := range m.Notes {
		if note == "content truncated at 2 elements" {
			found = true
		}
	}
	if !found {
		t.Errorf("notes = %v, want truncation note", m.Notes)
	}
}

func TestParseMalformedNodesSkipped(t *testing.T) {
	snap := &domain.PageSnapshot{
		URL: "https://example.com",
		Nodes: []domain.RawNode{
			{Tag: "button", Text: "OK", Path: []int{0}, Visible: true, HasExtent: true},
			{Tag: "", Path: []int{1}, Visible: true},
			{Tag: "div", Path: nil, Visible: true, Text: "orphan"},
		},
	}
	m, err := New(Options{}, silentLogger()).Parse(snap, domain.ModeLean)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if !m.Partial {
		t.Error("map with skipped nodes not marked partial")
	}
	if len(m.Notes) != 1 || m.Notes[0] != "2 malformed subtrees skipped during capture" {
		t.Errorf("notes = %v", m.Notes)
	}
	// The healthy part of the page is still mapped.
	if len(m.Interactive) != 1 || m.Interactive[0].Text != "OK" {
		t.Errorf("interactive = %+v", m.Interactive)
	}
}

func TestParseCollectorSkipCountCarriedOver(t *testing.T) {
	snap := &domain.PageSnapshot{
		URL:     "https://example.com",
		Skipped: 3,
		Nodes: []domain.RawNode{
			{Tag: "button", Text: "OK", Path: []int{0}, Visible: true, HasExtent: true},
		},
	}
	m, err := New(Options{}, silentLogger()).Parse(snap, domain.ModeLean)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !m.Partial {
		t.Error("map not marked partial")
	}
	if len(m.Notes) != 1 || !strings.HasPrefix(m.Notes[0], "3 malformed") {
		t.Errorf("notes = %v", m.Notes)
	}
}

func TestParseGenerationUnique(t *testing.T) {
	m1 := parseFixture(t, loginPage, domain.ModeLean)
	m2 := parseFixture(t, loginPage, domain.ModeLean)

	if m1.Generation == "" || len(m1.Generation) != 26 {
		t.Fatalf("generation = %q, want 26-char ULID", m1.Generation)
	}
	if m1.Generation == m2.Generation {
		t.Errorf("generations collide: %q", m1.Generation)
	}
}

// Two parses of one snapshot agree on everything but the generation id:
// ref numbering, ordering, compression, selectors.
func TestParseDeterministic(t *testing.T) {
	var b strings.Builder
	b.WriteString(`<html><head><title>Catalog</title></head><body>
<form action="/search">
  <input type="text" name="q" placeholder="Search">
  <button type="submit">Go</button>
</form>
<table><tbody>`)
	for i := 0; i < 20; i++ {
		fmt.Fprintf(&b, `<tr class="row"><td>Item %d</td><td><a href="/item/%d">View</a></td></tr>`, i, i)
	}
	b.WriteString(`</tbody></table>
<div class="multiselect">
  <input type="text" placeholder="Filter">
  <div class="multiselect__content-wrapper" style="display:none">
    <ul><li class="multiselect__option">In stock</li><li class="multiselect__option">On sale</li></ul>
  </div>
</div>
</body></html>`)

	snap, err := SnapshotFromHTML(strings.NewReader(b.String()), "https://example.com/catalog")
	if err != nil {
		t.Fatalf("SnapshotFromHTML: %v", err)
	}

	first, err := New(Options{}, silentLogger()).Parse(snap, domain.ModeRich)
	if err != nil {
		t.Fatalf("first Parse: %v", err)
	}
	second, err := New(Options{}, silentLogger()).Parse(snap, domain.ModeRich)
	if err != nil {
		t.Fatalf("second Parse: %v", err)
	}

	if len(first.Interactive) != len(second.Interactive) {
		t.Fatalf("interactive counts differ: %d vs %d", len(first.Interactive), len(second.Interactive))
	}
	for i := range first.Interactive {
		a, z := first.Interactive[i], second.Interactive[i]
		if a.Ref != z.Ref || a.Tag != z.Tag || a.Text != z.Text || a.Hidden != z.Hidden ||
			a.Selector != z.Selector || a.Repeat != z.Repeat || a.SeqLen != z.SeqLen {
			t.Errorf("interactive[%d] differs:\n  %+v\n  %+v", i, a, z)
		}
	}
	if len(first.Content) != len(second.Content) {
		t.Fatalf("content counts differ: %d vs %d", len(first.Content), len(second.Content))
	}

	// Everything below the generation header renders identically.
	strip := func(m *domain.PageMap) string {
		_, rest, _ := strings.Cut(Render(m), "\n")
		return rest
	}
	if strip(first) != strip(second) {
		t.Error("renderings differ between parses of the same snapshot")
	}
}

func TestParseNetworkBounded(t *testing.T) {
	snap := &domain.PageSnapshot{URL: "https://example.com"}
	for i := 0; i < 25; i++ {
		snap.Network = append(snap.Network, domain.NetworkExchange{
			Method: "GET",
			URL:    fmt.Sprintf("https://api.example.com/r/%d", i),
			Status: 200,
		})
	}
	m, err := New(Options{}, silentLogger()).Parse(snap, domain.ModeLean)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if len(m.Network) != 20 {
		t.Fatalf("network count = %d, want 20", len(m.Network))
	}
	// Oldest entries drop first.
	if m.Network[0].URL != "https://api.example.com/r/5" {
		t.Errorf("network[0] = %q", m.Network[0].URL)
	}
	if m.Network[19].URL != "https://api.example.com/r/24" {
		t.Errorf("network[19] = %q", m.Network[19].URL)
	}
}

func TestParseModeRichSelectors(t *testing.T) {
	markup := `<html><body>
<form id="login-form" class="auth-form">
  <input type="email" name="email">
  <button id="submit-btn" type="submit">Sign in</button>
</form>
</body></html>`
	m := parseFixture(t, markup, domain.ModeRich)

	if m.Mode != domain.ModeRich {
		t.Errorf("mode = %q", m.Mode)
	}
	if len(m.Interactive) != 2 {
		t.Fatalf("interactive count = %d, want 2", len(m.Interactive))
	}
	if !strings.Contains(m.Interactive[0].Selector, "#login-form") {
		t.Errorf("input selector = %q, want structural path through #login-form", m.Interactive[0].Selector)
	}
	if m.Interactive[1].Selector != "#submit-btn" {
		t.Errorf("button selector = %q, want #submit-btn", m.Interactive[1].Selector)
	}

	out := Render(m)
	if !strings.Contains(out, "CSS: #submit-btn |") {
		t.Errorf("rich render missing CSS locator:\n%s", out)
	}

	lean := parseFixture(t, markup, domain.ModeLean)
	if lean.Interactive[0].Selector != "" || lean.Interactive[1].XPath != "" {
		t.Errorf("lean parse synthesized locators: %+v", lean.Interactive)
	}
	if leanOut := Render(lean); strings.Contains(leanOut, "CSS: ") || strings.Contains(leanOut, "XPATH: ") {
		t.Errorf("lean render carries locators:\n%s", leanOut)
	}
}

func TestParseXPathFallback(t *testing.T) {
	m := parseFixture(t, `<html><body>
<form><input type="text" name="q"></form>
</body></html>`, domain.ModeRich)

	if len(m.Interactive) != 1 {
		t.Fatalf("interactive count = %d, want 1", len(m.Interactive))
	}
	el := m.Interactive[0]
	// No id and no usable class anywhere on the path: positional XPath.
	if el.Selector != "" {
		t.Errorf("selector = %q, want empty", el.Selector)
	}
	if el.XPath != "//body[1]/form[1]/input[1]" {
		t.Errorf("xpath = %q", el.XPath)
	}
	if !strings.Contains(Render(m), "XPATH: //body[1]/form[1]/input[1] |") {
		t.Errorf("render missing xpath:\n%s", Render(m))
	}
}

func TestParseWrapperChildrenText(t *testing.T) {
	m := parseFixture(t, `<html><body>
<div onclick="openCard()"><span>Read more</span></div>
</body></html>`, domain.ModeLean)

	if len(m.Interactive) != 1 {
		t.Fatalf("interactive count = %d, want 1", len(m.Interactive))
	}
	if m.Interactive[0].ChildrenText != "Read more" {
		t.Errorf("children text = %q", m.Interactive[0].ChildrenText)
	}
	if !strings.Contains(Render(m), `CHILDREN_TEXT:"Read more"`) {
		t.Errorf("render missing children text:\n%s", Render(m))
	}
}

func TestParseDedupWrapperAroundLink(t *testing.T) {
	m := parseFixture(t, `<html><body>
<div onclick="open()"><a href="/article">Read more</a></div>
</body></html>`, domain.ModeLean)

	// The wrapper restates the link's label; the real control wins.
	if len(m.Interactive) != 1 {
		t.Fatalf("interactive count = %d, want 1: %+v", len(m.Interactive), m.Interactive)
	}
	if m.Interactive[0].Tag != "a" {
		t.Errorf("survivor tag = %q, want a", m.Interactive[0].Tag)
	}
}

func TestParseLinkListCompression(t *testing.T) {
	var b strings.Builder
	b.WriteString("<html><body><ul>")
	for i := 0; i < 20; i++ {
		fmt.Fprintf(&b, `<li><a href="/item/%d">Item %d</a></li>`, i, i)
	}
	b.WriteString("</ul></body></html>")

	m := parseFixture(t, b.String(), domain.ModeLean)
	if len(m.Interactive) != 1 {
		t.Fatalf("interactive count = %d, want 1 representative", len(m.Interactive))
	}
	el := m.Interactive[0]
	if el.Repeat != 20 {
		t.Errorf("repeat = %d, want 20", el.Repeat)
	}
	if el.Ref != 1 {
		t.Errorf("ref = %d, want 1", el.Ref)
	}
	if el.Text != "Item 0" {
		t.Errorf("representative text = %q", el.Text)
	}
	if !strings.Contains(Render(m), "... [19 more similar elements]") {
		t.Errorf("render missing elision notice:\n%s", Render(m))
	}
}

func TestParseFiftyRowCompression(t *testing.T) {
	var b strings.Builder
	b.WriteString("<html><body><table>")
	for i := 0; i < 50; i++ {
		fmt.Fprintf(&b, `<tr><td data-label="Item">Item %d</td><td data-label="Qty">%d</td></tr>`, i, i)
	}
	b.WriteString("</table></body></html>")

	m := parseFixture(t, b.String(), domain.ModeLean)
	if len(m.Content) != 1 {
		t.Fatalf("content count = %d, want 1 representative", len(m.Content))
	}
	if m.Content[0].Repeat != 50 {
		t.Errorf("repeat = %d, want 50", m.Content[0].Repeat)
	}
	if m.Content[0].Cells[0].Text != "Item 0" {
		t.Errorf("representative cell = %+v", m.Content[0].Cells)
	}
	if !strings.Contains(Render(m), "... [49 more similar elements]") {
		t.Errorf("render missing elision notice:\n%s", Render(m))
	}
}

func TestParseInteractiveTextClipped(t *testing.T) {
	p := New(Options{InteractiveTextLimit: 5}, silentLogger())
	snap, err := SnapshotFromHTML(strings.NewReader(
		`<html><body><button>abcdefghij</button></body></html>`), "https://example.com")
	if err != nil {
		t.Fatalf("SnapshotFromHTML: %v", err)
	}
	m, err := p.Parse(snap, domain.ModeLean)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if m.Interactive[0].Text != "abcde" {
		t.Errorf("clipped text = %q, want abcde", m.Interactive[0].Text)
	}
}

func TestParseStampAttrsNeverReported(t *testing.T) {
	// Stamps left over from an earlier generation must not surface as data
	// attributes of the new map.
	snap := &domain.PageSnapshot{
		URL: "https://example.com",
		Nodes: []domain.RawNode{
			{
				Tag:  "div",
				Text: "Widget",
				Attrs: map[string]string{
					"data-state":   "open",
					domain.RefAttr: "4",
					domain.GenAttr: "01OLDGEN",
				},
				Path: []int{0}, Visible: true, HasExtent: true,
			},
		},
	}
	m, err := New(Options{}, silentLogger()).Parse(snap, domain.ModeLean)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(m.Content) != 1 {
		t.Fatalf("content count = %d", len(m.Content))
	}
	if _, ok := m.Content[0].DataAttrs[domain.RefAttr]; ok {
		t.Error("ref stamp leaked into data attrs")
	}
	out := Render(m)
	if !strings.Contains(out, `data-state="open"`) {
		t.Errorf("real data attr missing:\n%s", out)
	}
	if strings.Contains(out, domain.RefAttr) || strings.Contains(out, "01OLDGEN") {
		t.Errorf("engine stamps leaked into render:\n%s", out)
	}
}
