package parser

import (
	"io"
	"strings"
	"time"

	"golang.org/x/net/html"

	"pagelens/internal/domain"
)

// SnapshotFromHTML builds a PageSnapshot from static markup. Computed-style
// facts are approximated from inline attributes and the hidden attribute,
// which is enough for fixture parsing and offline use; live captures come
// from the driver's in-page collector instead.
func SnapshotFromHTML(r io.Reader, pageURL string) (*domain.PageSnapshot, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, domain.NewDomainError("SnapshotFromHTML", domain.ErrInvalidInput, err.Error())
	}

	snap := &domain.PageSnapshot{URL: pageURL, CapturedAt: time.Now()}

	root := findFirst(doc, "html")
	if root == nil {
		return snap, nil
	}
	if t := findFirst(root, "title"); t != nil {
		snap.Title = normalizeSpace(deepText(t))
	}

	walkChildren(root, nil, nil, snap, false, false)
	return snap, nil
}

// walkChildren visits the element children of parent in document order,
// assigning child-index paths and ancestry hops compatible with the live
// collector. noLayout and invisible carry inherited state: descendants of a
// display:none container keep their own computed display but lose extent,
// which is exactly what hidden-option recovery keys on.
func walkChildren(parent *html.Node, path []int, ancestry []domain.AncestryHop, snap *domain.PageSnapshot, noLayout, invisible bool) {
	// Sibling statistics for nth-child and positional XPath synthesis.
	tagTotals := map[string]int{}
	for c := parent.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			tagTotals[c.Data]++
		}
	}

	childIdx := 0
	tagSeen := map[string]int{}
	for c := parent.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}
		tag := strings.ToLower(c.Data)
		tagSeen[tag]++
		idx := childIdx
		childIdx++

		if tag == "script" || tag == "style" || tag == "head" || tag == "template" || tag == "noscript" {
			continue
		}

		attrs := attrMap(c)
		hop := domain.AncestryHop{
			Tag:      tag,
			ID:       attrs["id"],
			Class:    attrs["class"],
			Role:     attrs["role"],
			Child:    idx + 1,
			SameTag:  tagTotals[tag],
			TagIndex: tagSeen[tag],
		}

		childPath := append(append([]int(nil), path...), idx)
		childAncestry := append(append([]domain.AncestryHop(nil), ancestry...), hop)
		if len(childAncestry) > selectorMaxDepth {
			childAncestry = childAncestry[len(childAncestry)-selectorMaxDepth:]
		}

		style := strings.ToLower(strings.ReplaceAll(attrs["style"], " ", ""))
		ownNoLayout := strings.Contains(style, "display:none") || hasKey(attrs, "hidden")
		ownInvisible := ownNoLayout || strings.Contains(style, "visibility:hidden")

		if contentTags[tag] || interactiveTags[tag] {
			snap.Nodes = append(snap.Nodes, buildRawNode(c, tag, attrs, style, childPath, childAncestry,
				noLayout || ownNoLayout, invisible || ownInvisible))
		}

		walkChildren(c, childPath, childAncestry, snap, noLayout || ownNoLayout, invisible || ownInvisible)
	}
}

func buildRawNode(n *html.Node, tag string, attrs map[string]string, style string, path []int, ancestry []domain.AncestryHop, noLayout, invisible bool) domain.RawNode {
	displayNone := strings.Contains(style, "display:none") || hasKey(attrs, "hidden")
	if tag == "input" && attrs["type"] == "hidden" {
		invisible = true
	}

	text := normalizeSpace(directText(n))
	if tag == "img" && text == "" {
		text = attrs["alt"]
	}
	if len(text) > 300 {
		text = clip(text, 300)
	}

	node := domain.RawNode{
		Tag:         tag,
		Attrs:       attrs,
		Text:        text,
		Path:        path,
		Visible:     !invisible,
		DisplayNone: displayNone,
		HasExtent:   !noLayout,
		CursorHint:  strings.Contains(style, "cursor:pointer"),
		HasHandler:  attrs["onclick"] != "",
		Editable:    attrs["contenteditable"] == "true",
		Ancestry:    ancestry,
	}

	if text == "" {
		node.ChildrenText = normalizeSpace(immediateChildrenText(n))
	}

	if tag == "tr" {
		node.Cells = collectCells(n)
	}
	return node
}

// directText concatenates the node's own text nodes only.
func directText(n *html.Node) string {
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
	}
	return b.String()
}

// immediateChildrenText concatenates direct text of immediate element
// children, the label fallback for wrapper controls.
func immediateChildrenText(n *html.Node) string {
	var parts []string
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode || c.Data == "script" || c.Data == "style" {
			continue
		}
		if t := normalizeSpace(directText(c)); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

// deepText concatenates all descendant text, used for table cells and titles.
func deepText(n *html.Node) string {
	var b strings.Builder
	var visit func(*html.Node)
	visit = func(node *html.Node) {
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			switch c.Type {
			case html.TextNode:
				b.WriteString(c.Data)
				b.WriteByte(' ')
			case html.ElementNode:
				if c.Data != "script" && c.Data != "style" {
					visit(c)
				}
			}
		}
	}
	visit(n)
	return b.String()
}

func collectCells(tr *html.Node) []domain.TableCell {
	var cells []domain.TableCell
	var visit func(*html.Node)
	visit = func(node *html.Node) {
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode {
				continue
			}
			if c.Data == "td" || c.Data == "th" {
				attrs := attrMap(c)
				cells = append(cells, domain.TableCell{
					Text:  normalizeSpace(deepText(c)),
					Label: attrs["data-label"],
					Title: attrs["title"],
				})
				continue
			}
			visit(c)
		}
	}
	visit(tr)
	return cells
}

func findFirst(n *html.Node, tag string) *html.Node {
	if n.Type == html.ElementNode && n.Data == tag {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findFirst(c, tag); found != nil {
			return found
		}
	}
	return nil
}

func attrMap(n *html.Node) map[string]string {
	if len(n.Attr) == 0 {
		return map[string]string{}
	}
	m := make(map[string]string, len(n.Attr))
	for _, a := range n.Attr {
		m[strings.ToLower(a.Key)] = a.Val
	}
	return m
}

func hasKey(m map[string]string, key string) bool {
	_, ok := m[key]
	return ok
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
