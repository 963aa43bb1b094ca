package driver

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"pagelens/internal/domain"
	"pagelens/internal/parser"
)

// Fake implements domain.Driver against static HTML documents, for tests and
// offline use. Navigate serves documents from Docs; OnClick swaps the live
// document when a matching selector is clicked, modeling post-action DOM
// changes. Ref stamping is virtual: stamps are checked against the current
// document's structure on resolve, so a swapped document yields the same
// stale-ref behavior a live browser would.
type Fake struct {
	mu sync.Mutex

	// Docs maps URLs to the documents Navigate serves.
	Docs map[string]string
	// OnClick maps a clicked selector to the replacement document.
	OnClick map[string]string
	// ExistsFunc overrides Exists for non-ref targets. Nil means true.
	ExistsFunc func(t domain.Target) bool

	// Forced failures, checked before any other behavior.
	FailNavigate error
	FailAction   error
	CloseErr     error

	currentURL string
	doc        string
	gen        string
	stamps     map[int][]int

	// Recorded calls for assertions.
	NavigatedURLs []string
	Clicked       []string
	Typed         []TypedInput
	Pressed       [][]string
	Scrolled      []string
	Waited        []string
	Screenshots   int
	CloseCalls    int
}

// TypedInput records one TypeText call.
type TypedInput struct {
	Selector   string
	Text       string
	ClearFirst bool
}

var _ domain.Driver = (*Fake)(nil)

// NewFake returns a fake driver serving the given url → document table.
func NewFake(docs map[string]string) *Fake {
	return &Fake{Docs: docs, OnClick: make(map[string]string)}
}

// RefSelector is the CSS selector a resolved ref produces. Exported so tests
// can key OnClick swaps by ref.
func RefSelector(ref int) string {
	return refSelector(ref)
}

// CurrentDoc returns the document the fake currently serves.
func (f *Fake) CurrentDoc() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.doc
}

// SwapDoc replaces the live document in place, simulating a page that
// changed under the agent without any action.
func (f *Fake) SwapDoc(doc string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.doc = doc
}

func (f *Fake) snapshotLocked() (*domain.PageSnapshot, error) {
	return parser.SnapshotFromHTML(strings.NewReader(f.doc), f.currentURL)
}

func (f *Fake) Navigate(ctx context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.NavigatedURLs = append(f.NavigatedURLs, url)
	if f.FailNavigate != nil {
		return f.FailNavigate
	}
	doc, ok := f.Docs[url]
	if !ok {
		return domain.NewSubSystemError("driver", "Navigate", domain.ErrDriver,
			fmt.Sprintf("no document for %s", url))
	}
	f.currentURL = url
	f.doc = doc
	return nil
}

func (f *Fake) Click(ctx context.Context, t domain.Target) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Clicked = append(f.Clicked, t.Selector)
	if f.FailAction != nil {
		return f.FailAction
	}
	if next, ok := f.OnClick[t.Selector]; ok {
		f.doc = next
	}
	return nil
}

func (f *Fake) TypeText(ctx context.Context, t domain.Target, text string, clearFirst bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Typed = append(f.Typed, TypedInput{Selector: t.Selector, Text: text, ClearFirst: clearFirst})
	return f.FailAction
}

func (f *Fake) PressKeys(ctx context.Context, t domain.Target, keys []string) error {
	if _, err := TranslateKeys(keys); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.Pressed = append(f.Pressed, keys)
	return f.FailAction
}

func (f *Fake) ScrollTo(ctx context.Context, t domain.Target) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Scrolled = append(f.Scrolled, t.Selector)
	return f.FailAction
}

func (f *Fake) WaitVisible(ctx context.Context, t domain.Target) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Waited = append(f.Waited, t.Selector)
	return f.FailAction
}

func (f *Fake) Exists(ctx context.Context, t domain.Target) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.FailAction != nil {
		return false, f.FailAction
	}
	if ref, ok := parseRefSelector(t.Selector); ok {
		_, exists := f.stamps[ref]
		return exists, nil
	}
	if f.ExistsFunc != nil {
		return f.ExistsFunc(t), nil
	}
	return true, nil
}

func (f *Fake) Screenshot(ctx context.Context) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.FailAction != nil {
		return nil, f.FailAction
	}
	f.Screenshots++
	// A JPEG header plus a counter, so successive captures differ.
	return fmt.Appendf([]byte{0xFF, 0xD8, 0xFF}, "fake-shot-%d", f.Screenshots), nil
}

func (f *Fake) ReadDOM(ctx context.Context) (*domain.PageSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.FailAction != nil {
		return nil, f.FailAction
	}
	return f.snapshotLocked()
}

func (f *Fake) StampRefs(ctx context.Context, gen string, stamps []domain.RefStamp) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.FailAction != nil {
		return f.FailAction
	}
	f.gen = gen
	f.stamps = make(map[int][]int, len(stamps))
	for _, s := range stamps {
		f.stamps[s.Ref] = s.Path
	}
	return nil
}

func (f *Fake) ResolveRef(ctx context.Context, gen string, ref int, wantTag string) (domain.Target, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.FailAction != nil {
		return domain.Target{}, f.FailAction
	}
	if gen != f.gen {
		return domain.Target{}, domain.NewSubSystemError("driver", "ResolveRef", domain.ErrStaleRef,
			fmt.Sprintf("ref %d belongs to a superseded page map", ref))
	}
	path, ok := f.stamps[ref]
	if !ok {
		return domain.Target{}, domain.NewSubSystemError("driver", "ResolveRef", domain.ErrStaleRef,
			fmt.Sprintf("ref %d was never stamped", ref))
	}

	snap, err := f.snapshotLocked()
	if err != nil {
		return domain.Target{}, err
	}
	node := nodeAtPath(snap, path)
	if node == nil {
		return domain.Target{}, domain.NewSubSystemError("driver", "ResolveRef", domain.ErrStaleRef,
			fmt.Sprintf("ref %d no longer resolves in the live document", ref))
	}
	if node.Tag != wantTag {
		return domain.Target{}, domain.NewSubSystemError("driver", "ResolveRef", domain.ErrStaleRef,
			fmt.Sprintf("ref %d now points at %s, was %s", ref, node.Tag, wantTag))
	}
	return domain.Target{Selector: refSelector(ref)}, nil
}

func (f *Fake) URL(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.currentURL, nil
}

func (f *Fake) Title(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	snap, err := f.snapshotLocked()
	if err != nil {
		return "", err
	}
	return snap.Title, nil
}

func (f *Fake) Close(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.CloseCalls++
	return f.CloseErr
}

// nodeAtPath finds the snapshot node with exactly the given child-index path.
func nodeAtPath(snap *domain.PageSnapshot, path []int) *domain.RawNode {
	for i := range snap.Nodes {
		if equalPath(snap.Nodes[i].Path, path) {
			return &snap.Nodes[i]
		}
	}
	return nil
}

func equalPath(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// parseRefSelector recognizes the stamped-ref selector shape and extracts
// the ref.
func parseRefSelector(sel string) (int, bool) {
	var ref int
	if _, err := fmt.Sscanf(sel, `[`+domain.RefAttr+`="%d"]`, &ref); err != nil {
		return 0, false
	}
	return ref, true
}
