package parser

import (
	"fmt"
	"regexp"
	"strings"

	"pagelens/internal/domain"
)

const selectorMaxDepth = 5
const selectorMaxClasses = 3

// utility-class patterns excluded from synthesized selectors. Framework
// utility classes churn between builds and break uniqueness.
var (
	vuetifyClassRe = regexp.MustCompile(`^(v-theme--|v-btn--density|v-btn--size|v-btn--variant)`)
	paintClassRe   = regexp.MustCompile(`^(text-|bg-|border-|shadow-|opacity-)`)
	spacingClassRe = regexp.MustCompile(`^(p-\d|m-\d|pt-|pb-|pl-|pr-|px-|py-|mt-|mb-|ml-|mr-|mx-|my-)`)
	sizingClassRe  = regexp.MustCompile(`^(w-\d|h-\d|min-|max-)`)
	layoutClassRe  = regexp.MustCompile(`^(gap-\d|space-)`)
)

// synthesizeCSS builds a structural CSS path from the node's recorded
// ancestry: tag plus id plus up to three filtered classes per hop, with
// :nth-child disambiguation when same-tag siblings exist.
func synthesizeCSS(n *domain.RawNode) string {
	if len(n.Ancestry) == 0 {
		return n.Tag
	}
	hops := n.Ancestry
	if len(hops) > selectorMaxDepth {
		hops = hops[len(hops)-selectorMaxDepth:]
	}

	parts := make([]string, 0, len(hops))
	for _, hop := range hops {
		sel := hop.Tag
		if hop.ID != "" {
			sel += "#" + hop.ID
		}
		if classes := filterSelectorClasses(hop.Class); len(classes) > 0 {
			sel += "." + strings.Join(classes, ".")
		}
		if hop.SameTag > 1 && hop.Child > 0 {
			sel += fmt.Sprintf(":nth-child(%d)", hop.Child)
		}
		parts = append(parts, sel)
	}
	return strings.Join(parts, " > ")
}

// filterSelectorClasses keeps up to three classes that are usable inside a
// selector and likely to be semantic.
func filterSelectorClasses(classAttr string) []string {
	if classAttr == "" {
		return nil
	}
	var kept []string
	for _, cls := range strings.Fields(classAttr) {
		// Characters that are invalid in a selector without escaping:
		// Tailwind arbitrary values, group modifiers, pseudo-variants.
		if strings.ContainsAny(cls, "[]/:") {
			continue
		}
		if vuetifyClassRe.MatchString(cls) || paintClassRe.MatchString(cls) ||
			spacingClassRe.MatchString(cls) || sizingClassRe.MatchString(cls) ||
			layoutClassRe.MatchString(cls) {
			continue
		}
		if len(cls) <= 2 {
			continue
		}
		kept = append(kept, cls)
		if len(kept) == selectorMaxClasses {
			break
		}
	}
	return kept
}

// synthesizeXPath builds a positional XPath over the recorded ancestry,
// anchored at the outermost recorded hop. Used when a node has neither an id
// nor usable classes anywhere on its path.
func synthesizeXPath(n *domain.RawNode) string {
	if len(n.Ancestry) == 0 {
		return "//" + n.Tag
	}
	hops := n.Ancestry
	if len(hops) > selectorMaxDepth {
		hops = hops[len(hops)-selectorMaxDepth:]
	}
	var b strings.Builder
	for i, hop := range hops {
		if i == 0 {
			b.WriteString("//")
		} else {
			b.WriteString("/")
		}
		b.WriteString(hop.Tag)
		idx := hop.TagIndex
		if idx < 1 {
			idx = 1
		}
		fmt.Fprintf(&b, "[%d]", idx)
	}
	return b.String()
}

// selectorIsStructural reports whether a synthesized CSS path carries any
// anchor beyond bare tags and positions. A path of plain tag hops is weaker
// than a positional XPath over the same hops.
func selectorIsStructural(sel string) bool {
	return strings.ContainsAny(sel, "#.")
}

// Wildcard extraction for compression notices. Dynamic id suffixes,
// positional indexes, and hash-like ids are replaced so that selectors of
// structurally identical siblings collapse to one pattern.
var (
	idUnderscoreSuffixRe = regexp.MustCompile(`#([\w-]+?)_[A-Za-z0-9]{6,}`)
	idDashSuffixRe       = regexp.MustCompile(`#([\w-]+?)-[A-Za-z0-9]{6,}`)
	idHashRe             = regexp.MustCompile(`#[A-Za-z0-9]{8,}( |>|$)`)
	nthChildRe           = regexp.MustCompile(`:nth-child\(\d+\)`)
	trailingNumRe        = regexp.MustCompile(`([_-])\d+( |>|\.|\[|$)`)
)

// extractPattern reduces a selector to its structural pattern.
func extractPattern(selector string) string {
	p := idUnderscoreSuffixRe.ReplaceAllString(selector, "#${1}_*")
	p = idDashSuffixRe.ReplaceAllString(p, "#${1}-*")
	p = idHashRe.ReplaceAllString(p, "#*${1}")
	p = nthChildRe.ReplaceAllString(p, ":nth-child(*)")
	p = trailingNumRe.ReplaceAllString(p, "${1}*${2}")
	return p
}
