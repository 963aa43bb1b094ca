package parser

import (
	"sort"
	"strings"
)

// dedupeInteractive removes redundant interactive entries produced by
// wrapper/child pairs: a styled container around a real control, or a child
// whose text merely repeats its parent's. Real controls always win over
// containers; ties fall to the quality score.
func dedupeInteractive(els []*element) []*element {
	if len(els) < 2 {
		return els
	}

	removed := make(map[*element]bool)

	// Same effective text, nested: resolve per group.
	groups := make(map[string][]*element)
	for _, el := range els {
		t := effectiveText(el)
		if t != "" {
			groups[t] = append(groups[t], el)
		}
	}
	for _, group := range groups {
		if len(group) < 2 {
			continue
		}
		byDepth := make([]*element, len(group))
		copy(byDepth, group)
		sort.SliceStable(byDepth, func(i, j int) bool {
			return len(byDepth[i].node.Path) < len(byDepth[j].node.Path)
		})
		for i, parent := range byDepth {
			if removed[parent] {
				continue
			}
			for _, child := range byDepth[i+1:] {
				if removed[child] || !pathPrefix(parent, child) {
					continue
				}
				parentControl := interactiveTags[parent.node.Tag]
				childControl := interactiveTags[child.node.Tag]
				switch {
				case childControl && !parentControl:
					removed[parent] = true
				case parentControl && !childControl:
					removed[child] = true
				case quality(parent) >= quality(child):
					removed[child] = true
				default:
					removed[parent] = true
				}
				if removed[parent] {
					break
				}
			}
		}
	}

	// Subset text, nested: a child restating part of its parent's label adds
	// nothing. Pagination links are exempt, their one-character labels appear
	// inside every surrounding container's text.
	byDepth := make([]*element, 0, len(els))
	for _, el := range els {
		if !removed[el] {
			byDepth = append(byDepth, el)
		}
	}
	sort.SliceStable(byDepth, func(i, j int) bool {
		return len(byDepth[i].node.Path) < len(byDepth[j].node.Path)
	})
	for i, parent := range byDepth {
		if removed[parent] {
			continue
		}
		parentText := effectiveText(parent)
		if parentText == "" {
			continue
		}
		for _, child := range byDepth[i+1:] {
			if removed[child] || !pathPrefix(parent, child) {
				continue
			}
			childText := effectiveText(child)
			if childText == "" || childText == parentText {
				continue
			}
			if strings.Contains(parentText, childText) && !isPaginationLink(child, childText) {
				removed[child] = true
			}
		}
	}

	if len(removed) == 0 {
		return els
	}
	out := make([]*element, 0, len(els)-len(removed))
	for _, el := range els {
		if !removed[el] {
			out = append(out, el)
		}
	}
	return out
}

func effectiveText(el *element) string {
	if t := strings.TrimSpace(el.text); t != "" {
		return t
	}
	return strings.TrimSpace(el.childrenText)
}

func pathPrefix(parent, child *element) bool {
	pp, cp := parent.node.Path, child.node.Path
	if len(pp) >= len(cp) {
		return false
	}
	for i := range pp {
		if cp[i] != pp[i] {
			return false
		}
	}
	return true
}

func isPaginationLink(el *element, text string) bool {
	if el.node.Tag != "a" {
		return false
	}
	lower := strings.ToLower(text)
	if lower == "next" || lower == "prev" || lower == "previous" || lower == "..." {
		return true
	}
	if len(text) > 3 {
		return false
	}
	for _, r := range text {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

var tagQuality = map[string]int{
	"a": 50, "button": 45, "input": 40, "select": 35, "textarea": 30,
	"label": 25, "p": 20, "span": 15, "div": 10,
}

// quality scores an element for dedup tie-breaking: labeled semantic controls
// with identifying attributes outrank anonymous deep wrappers.
func quality(el *element) int {
	score := 0
	if strings.TrimSpace(el.text) != "" {
		score += 100
	} else if strings.TrimSpace(el.childrenText) != "" {
		score += 50
	}
	if s, ok := tagQuality[el.node.Tag]; ok {
		score += s
	} else {
		score += 5
	}
	n := el.node
	if n.Attr("id") != "" {
		score += 20
	}
	if n.Attr("href") != "" {
		score += 15
	}
	if n.Attr("aria-label") != "" {
		score += 10
	}
	if n.Attr("type") != "" {
		score += 8
	}
	if n.Attr("name") != "" {
		score += 5
	}
	if n.Attr("value") != "" {
		score += 5
	}
	switch depth := len(n.Path); {
	case depth > 15:
		score -= 10
	case depth > 10:
		score -= 5
	}
	return score
}
