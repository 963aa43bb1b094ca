// Package parser converts page snapshots into compact, agent-readable page
// maps. Parsing is a pure function of the snapshot: every style-dependent
// fact is captured at snapshot time, so the same snapshot always yields the
// same map apart from its generation identifier.
package parser

import (
	"fmt"
	"math/rand"
	"time"

	"log/slog"

	"github.com/oklog/ulid/v2"

	"pagelens/internal/domain"
)

// Options bound the parse output. Zero values fall back to defaults.
type Options struct {
	InteractiveTextLimit int // direct text cap on interactive elements
	ContentTextLimit     int // direct text cap on content elements
	ChildrenTextLimit    int // immediate-children text cap
	MaxContentElements   int // content entries per map
	CompressThreshold    int // minimum run length before compression
	MaxNetworkEntries    int // network exchanges per map, oldest dropped
	RefOrigin            int // first ref number per generation
}

// DefaultOptions returns the limits used when the caller supplies none.
func DefaultOptions() Options {
	return Options{
		InteractiveTextLimit: 250,
		ContentTextLimit:     500,
		ChildrenTextLimit:    200,
		MaxContentElements:   500,
		CompressThreshold:    15,
		MaxNetworkEntries:    20,
		RefOrigin:            1,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.InteractiveTextLimit <= 0 {
		o.InteractiveTextLimit = def.InteractiveTextLimit
	}
	if o.ContentTextLimit <= 0 {
		o.ContentTextLimit = def.ContentTextLimit
	}
	if o.ChildrenTextLimit <= 0 {
		o.ChildrenTextLimit = def.ChildrenTextLimit
	}
	if o.MaxContentElements <= 0 {
		o.MaxContentElements = def.MaxContentElements
	}
	if o.CompressThreshold <= 0 {
		o.CompressThreshold = def.CompressThreshold
	}
	if o.MaxNetworkEntries <= 0 {
		o.MaxNetworkEntries = def.MaxNetworkEntries
	}
	if o.RefOrigin <= 0 {
		o.RefOrigin = def.RefOrigin
	}
	return o
}

// Parser derives PageMaps from snapshots.
type Parser struct {
	opts   Options
	logger *slog.Logger
}

// New creates a parser with the given limits.
func New(opts Options, logger *slog.Logger) *Parser {
	return &Parser{opts: opts.withDefaults(), logger: logger}
}

// Parse runs the full pipeline on one snapshot: classification, visibility
// filtering with hidden-option recovery, table grouping, deduplication,
// pattern compression, ref assignment, selector synthesis (rich mode), and
// the bounded network merge. A malformed node never aborts the parse; it is
// skipped and the map is marked partial.
func (p *Parser) Parse(snap *domain.PageSnapshot, mode domain.RenderMode) (*domain.PageMap, error) {
	if snap == nil {
		return nil, domain.NewDomainError("Parser.Parse", domain.ErrInvalidInput, "nil snapshot")
	}

	m := &domain.PageMap{
		Generation: newGeneration(),
		URL:        snap.URL,
		Title:      snap.Title,
		Mode:       mode,
		CreatedAt:  time.Now(),
	}

	skipped := snap.Skipped
	contentCapped := false

	var interactive, content []*element
	var rowPaths [][]int
	for i := range snap.Nodes {
		n := &snap.Nodes[i]
		if n.Tag == "" || len(n.Path) == 0 {
			skipped++
			continue
		}
		if !contentTags[n.Tag] && !interactiveTags[n.Tag] {
			continue
		}
		keep, hidden := keepNode(n)
		if !keep {
			continue
		}

		inter := isInteractive(n)
		el := &element{node: n, interactive: inter, hidden: hidden}
		if inter {
			el.text = clip(n.Text, p.opts.InteractiveTextLimit)
			if el.text == "" {
				el.childrenText = clip(n.ChildrenText, p.opts.ChildrenTextLimit)
			}
		} else {
			el.text = clip(n.Text, p.opts.ContentTextLimit)
		}

		if !inter && el.text == "" && !hasIdentifyingAttrs(n) {
			continue
		}

		if inter {
			interactive = append(interactive, el)
			continue
		}
		if len(content) >= p.opts.MaxContentElements {
			contentCapped = true
			continue
		}
		content = append(content, el)
		if n.Tag == "tr" && len(n.Cells) > 0 {
			rowPaths = append(rowPaths, n.Path)
		}
	}

	content = absorbRowDescendants(content, rowPaths)
	interactive = dedupeInteractive(interactive)
	interactive = compress(interactive, p.opts.CompressThreshold)
	content = compress(content, p.opts.CompressThreshold)

	ref := p.opts.RefOrigin
	m.Interactive = make([]domain.InteractiveElement, 0, len(interactive))
	for _, el := range interactive {
		ie := domain.InteractiveElement{
			Ref:          ref,
			Tag:          el.node.Tag,
			Role:         deriveRole(el.node),
			Text:         el.text,
			ChildrenText: el.childrenText,
			Attrs:        interactiveAttrs(el.node),
			Hidden:       el.hidden,
			Path:         el.node.Path,
			Repeat:       el.repeat,
			SeqLen:       el.seqLen,
			SeqRepeat:    el.seqRepeat,
		}
		if mode == domain.ModeRich {
			ie.Selector, ie.XPath = p.synthesizeLocator(el.node)
		}
		m.Interactive = append(m.Interactive, ie)
		ref++
	}

	m.Content = make([]domain.ContentElement, 0, len(content))
	for _, el := range content {
		m.Content = append(m.Content, domain.ContentElement{
			Tag:       el.node.Tag,
			Role:      contentRole(el.node),
			Text:      el.text,
			Cells:     el.node.Cells,
			Attrs:     contentAttrs(el.node),
			DataAttrs: dataAttrs(el.node),
			Repeat:    el.repeat,
			SeqLen:    el.seqLen,
			SeqRepeat: el.seqRepeat,
		})
	}

	if n := len(snap.Network); n > 0 {
		keep := p.opts.MaxNetworkEntries
		if n > keep {
			m.Network = append([]domain.NetworkExchange(nil), snap.Network[n-keep:]...)
		} else {
			m.Network = append([]domain.NetworkExchange(nil), snap.Network...)
		}
	}

	if skipped > 0 {
		m.Partial = true
		m.Notes = append(m.Notes, fmt.Sprintf("%d malformed subtrees skipped during capture", skipped))
	}
	if contentCapped {
		m.Notes = append(m.Notes, fmt.Sprintf("content truncated at %d elements", p.opts.MaxContentElements))
	}

	if p.logger != nil {
		p.logger.Debug("page parsed",
			"generation", m.Generation,
			"url", m.URL,
			"interactive", len(m.Interactive),
			"content", len(m.Content),
			"partial", m.Partial,
		)
	}
	return m, nil
}

// synthesizeLocator prefers a stable id, falls back to a structural CSS path,
// and falls back to a positional XPath when the path has no anchor at all.
func (p *Parser) synthesizeLocator(n *domain.RawNode) (selector, xpath string) {
	if id := n.Attr("id"); id != "" {
		return "#" + id, ""
	}
	sel := synthesizeCSS(n)
	if selectorIsStructural(sel) {
		return sel, ""
	}
	return "", synthesizeXPath(n)
}

// absorbRowDescendants drops content entries nested under a kept table row;
// the row's cell grouping already carries their text with column correlation.
func absorbRowDescendants(content []*element, rowPaths [][]int) []*element {
	if len(rowPaths) == 0 {
		return content
	}
	out := content[:0]
	for _, el := range content {
		if el.node.Tag == "tr" || !underAny(el.node.Path, rowPaths) {
			out = append(out, el)
		}
	}
	return out
}

func underAny(path []int, parents [][]int) bool {
	for _, parent := range parents {
		if len(path) <= len(parent) {
			continue
		}
		match := true
		for i := range parent {
			if path[i] != parent[i] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

// interactiveAttrs keeps the identifying attributes reported for an
// interactive element, in map form for JSON consumers.
func interactiveAttrs(n *domain.RawNode) map[string]string {
	var out map[string]string
	add := func(key, val string) {
		if val == "" {
			return
		}
		if out == nil {
			out = make(map[string]string)
		}
		out[key] = val
	}
	for _, key := range []string{"id", "aria-label", "placeholder", "value", "name", "type", "href", "title", "alt"} {
		add(key, n.Attr(key))
	}
	if n.HasAttr("disabled") {
		add("disabled", "true")
	}
	return out
}

func contentAttrs(n *domain.RawNode) map[string]string {
	var out map[string]string
	for _, key := range []string{"id", "title", "alt", "src"} {
		if v := n.Attr(key); v != "" {
			if out == nil {
				out = make(map[string]string)
			}
			out[key] = v
		}
	}
	return out
}

// contentRole tags content entries for JSON consumers.
func contentRole(n *domain.RawNode) string {
	switch n.Tag {
	case "h1", "h2", "h3", "h4", "h5", "h6":
		return "heading"
	case "tr":
		if len(n.Cells) > 0 {
			return "row"
		}
	case "img":
		return "image"
	}
	return "text"
}

// clip cuts text at limit runes without an ellipsis marker.
func clip(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

// newGeneration mints the ULID scoping one PageMap's refs.
func newGeneration() string {
	t := time.Now()
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}
