package domain

import (
	"fmt"
	"strings"
	"time"
)

// RefAttr and GenAttr are stamped into the live DOM after each parse so that
// refs can be resolved against the current document and recognized as stale
// once the generation moves on.
const (
	RefAttr = "data-lens-ref"
	GenAttr = "data-lens-gen"
)

// RenderMode selects how a PageMap is rendered for the agent.
type RenderMode string

const (
	// ModeLean emits refs with minimal attributes (token-minimal default).
	ModeLean RenderMode = "lean"
	// ModeRich emits full CSS/XPath locators alongside each ref.
	ModeRich RenderMode = "rich"
)

// ParseRenderMode parses a mode string, defaulting empty to lean.
func ParseRenderMode(s string) (RenderMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(ModeLean):
		return ModeLean, nil
	case string(ModeRich):
		return ModeRich, nil
	default:
		return "", NewDomainError("ParseRenderMode", ErrInvalidInput,
			fmt.Sprintf("unknown mode %q, want lean or rich", s))
	}
}

// TableCell is one cell of a table row, with its column label when known.
type TableCell struct {
	Text  string `json:"text"`
	Label string `json:"label,omitempty"` // data-label attribute or header text
	Title string `json:"title,omitempty"`
}

// AncestryHop is one ancestor (or the node itself) on the path from the
// document element, carrying the facts selector synthesis needs.
type AncestryHop struct {
	Tag      string `json:"tag"`
	ID       string `json:"id,omitempty"`
	Class    string `json:"class,omitempty"` // raw class attribute
	Role     string `json:"role,omitempty"`
	Child    int    `json:"child"`     // 1-based index among all element siblings
	SameTag  int    `json:"same_tag"`  // count of same-tag element siblings
	TagIndex int    `json:"tag_index"` // 1-based index among same-tag siblings
}

// RawNode is one DOM node captured in document order. All style-dependent
// facts (visibility, cursor, resolved editability) are computed at capture
// time so that parsing a snapshot is a pure function.
type RawNode struct {
	Tag          string            `json:"tag"`
	Attrs        map[string]string `json:"attrs,omitempty"`
	Text         string            `json:"text,omitempty"`          // own text nodes only
	ChildrenText string            `json:"children_text,omitempty"` // immediate-children text fallback
	Path         []int             `json:"path"`                    // child-index path from the document element
	Visible      bool              `json:"visible"`
	DisplayNone  bool              `json:"display_none,omitempty"` // computed display is none
	HasExtent    bool              `json:"has_extent,omitempty"`   // nonzero offset width or height
	CursorHint   bool              `json:"cursor_hint,omitempty"`  // computed cursor:pointer
	HasHandler   bool              `json:"has_handler,omitempty"`  // onclick or framework click binding
	Editable     bool              `json:"editable,omitempty"`     // resolved contenteditable
	Cells        []TableCell       `json:"cells,omitempty"`        // populated on tr nodes
	// Ancestry runs outermost-first and ends with the node itself, capped at
	// the last 5 hops below the document element.
	Ancestry []AncestryHop `json:"ancestry,omitempty"`
}

// Depth is the nesting depth of the node below the document element.
func (n *RawNode) Depth() int { return len(n.Path) }

// Attr returns an attribute value, or "" when absent.
func (n *RawNode) Attr(name string) string {
	if n.Attrs == nil {
		return ""
	}
	return n.Attrs[name]
}

// HasAttr reports whether the attribute is present (even if empty).
func (n *RawNode) HasAttr(name string) bool {
	if n.Attrs == nil {
		return false
	}
	_, ok := n.Attrs[name]
	return ok
}

// NetworkExchange is one captured request/response pair.
type NetworkExchange struct {
	Method   string `json:"method"`
	URL      string `json:"url"`
	Status   int    `json:"status"`
	Resource string `json:"resource,omitempty"` // xhr or fetch
}

// PageSnapshot is an immutable capture of DOM state at one instant. It is
// produced fresh on every page-map request and superseded, never mutated.
type PageSnapshot struct {
	URL        string            `json:"url"`
	Title      string            `json:"title"`
	Nodes      []RawNode         `json:"nodes"`
	Network    []NetworkExchange `json:"network,omitempty"`
	CapturedAt time.Time         `json:"captured_at"`
	// Skipped counts subtrees the collector could not walk. A nonzero value
	// marks the derived PageMap partial.
	Skipped int `json:"skipped,omitempty"`
}

// InteractiveElement is a clickable/typeable node in a PageMap. Its Ref is a
// generation-scoped handle: valid only until the next PageMap is generated
// for the session, never a persistent identifier.
type InteractiveElement struct {
	Ref          int               `json:"ref"`
	Tag          string            `json:"tag"`
	Role         string            `json:"role"`
	Text         string            `json:"text,omitempty"`
	ChildrenText string            `json:"children_text,omitempty"` // label fallback when Text is empty
	Attrs        map[string]string `json:"attrs,omitempty"`
	Selector     string            `json:"selector,omitempty"` // rich mode only
	XPath        string            `json:"xpath,omitempty"`    // rich mode, when no CSS path exists
	Hidden       bool              `json:"hidden,omitempty"`   // recovered hidden option
	Path         []int             `json:"-"`

	// Compression annotations. Repeat > 1 marks a run representative standing
	// for Repeat structurally identical siblings; SeqLen/SeqRepeat mark the
	// tail of a kept sequence period repeated SeqRepeat times.
	Repeat    int `json:"repeat,omitempty"`
	SeqLen    int `json:"seq_len,omitempty"`
	SeqRepeat int `json:"seq_repeat,omitempty"`
}

// ContentElement is a non-interactive node carrying text relevant to page
// understanding. Content entries carry no refs.
type ContentElement struct {
	Tag       string            `json:"tag"`
	Role      string            `json:"role,omitempty"`
	Text      string            `json:"text,omitempty"`
	Cells     []TableCell       `json:"cells,omitempty"` // table rows
	Attrs     map[string]string `json:"attrs,omitempty"` // id and title, when present
	DataAttrs map[string]string `json:"data_attrs,omitempty"`

	Repeat    int `json:"repeat,omitempty"`
	SeqLen    int `json:"seq_len,omitempty"`
	SeqRepeat int `json:"seq_repeat,omitempty"`
}

// PageMap is the derived, agent-facing representation of one PageSnapshot.
// It is scoped to a single session and superseded by the next action.
type PageMap struct {
	Generation  string               `json:"generation"` // ULID minted per parse
	URL         string               `json:"url"`
	Title       string               `json:"title"`
	Mode        RenderMode           `json:"mode"`
	Interactive []InteractiveElement `json:"interactive"`
	Content     []ContentElement     `json:"content"`
	Network     []NetworkExchange    `json:"network,omitempty"`
	Partial     bool                 `json:"partial,omitempty"`
	Notes       []string             `json:"notes,omitempty"`
	CreatedAt   time.Time            `json:"created_at"`
}

// RefStamp pairs a ref with the node path used to stamp it into the live DOM.
type RefStamp struct {
	Ref  int   `json:"ref"`
	Path []int `json:"path"`
}

// Stamps returns the ref stamps for every interactive element.
func (m *PageMap) Stamps() []RefStamp {
	stamps := make([]RefStamp, 0, len(m.Interactive))
	for _, el := range m.Interactive {
		stamps = append(stamps, RefStamp{Ref: el.Ref, Path: el.Path})
	}
	return stamps
}

// RefTags returns the ref→tag table recorded at assignment time, used to
// verify element shape when a ref is later resolved.
func (m *PageMap) RefTags() map[int]string {
	tags := make(map[int]string, len(m.Interactive))
	for _, el := range m.Interactive {
		tags[el.Ref] = el.Tag
	}
	return tags
}

// FindRef returns the interactive element carrying ref, or nil.
func (m *PageMap) FindRef(ref int) *InteractiveElement {
	for i := range m.Interactive {
		if m.Interactive[i].Ref == ref {
			return &m.Interactive[i]
		}
	}
	return nil
}
