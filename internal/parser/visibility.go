package parser

import (
	"strings"

	"pagelens/internal/domain"
)

// hiddenOptionClasses mark list items that live inside collapsed dropdowns
// and multiselects. They fail the standard visibility test until the parent
// opens, yet they are the elements the agent must click.
var hiddenOptionClasses = []string{
	"multiselect__option", "multiselect__element",
	"dropdown-item", "option", "select-option",
}

// hiddenContainerClasses identify a collapsed dropdown container; any target
// within a few levels of one is treated as a recoverable hidden option.
var hiddenContainerClasses = []string{
	"multiselect__content", "multiselect__content-wrapper",
	"dropdown-menu", "select-dropdown",
}

const hiddenParentDepth = 3

// keepNode decides whether a node survives visibility filtering, returning
// also whether it was recovered as a hidden option.
func keepNode(n *domain.RawNode) (keep, hidden bool) {
	if n.Visible {
		return true, false
	}
	if !isHiddenOptionCandidate(n) {
		return false, false
	}
	// A collapsed option is recoverable as long as it is not permanently
	// removed from rendering.
	if !n.DisplayNone || n.HasExtent || strings.TrimSpace(n.Text) != "" {
		return true, true
	}
	return false, false
}

// isHiddenOptionCandidate checks the node's own classes, attributes, and role,
// then its nearest ancestors, for dropdown/multiselect markers.
func isHiddenOptionCandidate(n *domain.RawNode) bool {
	if hasAnyClass(n.Attr("class"), hiddenOptionClasses) {
		return true
	}
	if n.HasAttr("data-select") || n.HasAttr("data-option") || n.HasAttr("data-value") {
		return true
	}
	switch n.Attr("role") {
	case "option", "menuitem":
		return true
	}

	// Walk up the recorded ancestry, nearest first, excluding the node itself.
	anc := n.Ancestry
	if len(anc) > 0 {
		anc = anc[:len(anc)-1]
	}
	depth := 0
	for i := len(anc) - 1; i >= 0 && depth < hiddenParentDepth; i-- {
		hop := anc[i]
		if hop.Tag == "body" {
			break
		}
		if hasAnyClass(hop.Class, hiddenContainerClasses) {
			return true
		}
		if hop.Role == "listbox" || hop.Role == "menu" {
			return true
		}
		depth++
	}
	return false
}

func hasAnyClass(classAttr string, wanted []string) bool {
	if classAttr == "" {
		return false
	}
	for _, cls := range strings.Fields(classAttr) {
		for _, w := range wanted {
			if cls == w {
				return true
			}
		}
	}
	return false
}
