package parser

import (
	"regexp"
	"strings"

	"pagelens/internal/domain"
)

// interactiveTags are natively actionable regardless of other signals.
var interactiveTags = map[string]bool{
	"a": true, "button": true, "input": true, "select": true, "textarea": true,
}

// contentTags are collected for page understanding when they carry text or
// identifying attributes.
var contentTags = map[string]bool{
	"div": true, "p": true, "h1": true, "h2": true, "h3": true, "h4": true,
	"h5": true, "h6": true, "li": true, "th": true, "td": true, "tr": true,
	"table": true, "label": true, "caption": true, "span": true, "strong": true,
	"b": true, "em": true, "i": true, "u": true, "small": true, "mark": true,
	"dl": true, "dt": true, "dd": true, "img": true,
}

// interactiveRoles mark a node actionable through ARIA semantics.
var interactiveRoles = map[string]bool{
	"button": true, "link": true, "checkbox": true, "tab": true,
	"menuitem": true, "option": true, "radio": true, "switch": true,
	"combobox": true,
}

// interactiveDataAttrs are data-* markers frontend frameworks hang click and
// select behavior on.
var interactiveDataAttrs = []string{
	"data-select", "data-click", "data-toggle", "data-action",
	"data-selected", "data-deselect", "data-option", "data-value",
}

// interactiveClassHints are substrings of class names that indicate a custom
// interactive component built from generic tags.
var interactiveClassHints = []string{
	"multiselect", "dropdown", "select", "picker", "chooser",
	"toggle", "switch", "slider", "accordion", "tab",
	"menu", "popup", "modal", "dialog", "overlay",
	"clickable", "selectable", "interactive", "control",
	"widget", "component",
}

// genericTags never become interactive on a cursor hint alone. Styled
// wrappers around real controls routinely carry cursor:pointer.
var genericTags = map[string]bool{
	"div": true, "span": true, "strong": true, "b": true, "em": true,
	"i": true, "u": true, "small": true, "mark": true, "p": true,
}

var hashClassRe = regexp.MustCompile(`^[a-zA-Z0-9]{5,8}$`)

// isInteractive runs the capability test: does the node carry an interaction
// affordance, natively or through framework conventions. Tag whitelisting
// alone misses custom components built from divs.
func isInteractive(n *domain.RawNode) bool {
	if interactiveTags[n.Tag] {
		return true
	}
	if n.HasHandler || n.HasAttr("onclick") {
		return true
	}
	if interactiveRoles[n.Attr("role")] {
		return true
	}
	if n.Editable || n.Attr("contenteditable") == "true" {
		return true
	}
	// Focusable custom components.
	if n.Attr("tabindex") == "0" {
		return true
	}
	for _, attr := range interactiveDataAttrs {
		if n.HasAttr(attr) {
			return true
		}
	}
	class := strings.ToLower(n.Attr("class"))
	if class != "" {
		for _, hint := range interactiveClassHints {
			if strings.Contains(class, hint) {
				return true
			}
		}
	}
	if n.CursorHint {
		return cursorInteractive(n)
	}
	return false
}

// cursorInteractive decides whether cursor:pointer alone promotes a node.
// Generic wrappers are excluded; the rest must carry something identifying.
func cursorInteractive(n *domain.RawNode) bool {
	if genericTags[n.Tag] {
		return false
	}
	if strings.TrimSpace(n.Text) != "" {
		return true
	}
	if n.Attr("id") != "" || n.Attr("aria-label") != "" || n.Attr("title") != "" {
		return true
	}
	for _, cls := range strings.Fields(n.Attr("class")) {
		if len(cls) > 3 &&
			!strings.HasPrefix(cls, "css-") &&
			!strings.HasPrefix(cls, "sc-") &&
			!strings.HasPrefix(cls, "_") &&
			!hashClassRe.MatchString(cls) {
			return true
		}
	}
	return false
}

// hasIdentifyingAttrs reports whether a textless node is still worth keeping.
// Table rows and images always qualify (cells and alt/src carry the meaning).
func hasIdentifyingAttrs(n *domain.RawNode) bool {
	return n.Attr("id") != "" ||
		n.HasAttr("data-id") ||
		n.HasAttr("data-value") ||
		n.Tag == "tr" ||
		n.Tag == "img"
}

// deriveRole maps a node to the role reported in the page map: the explicit
// ARIA role when present, otherwise one implied by tag and input type.
func deriveRole(n *domain.RawNode) string {
	if r := n.Attr("role"); r != "" {
		return r
	}
	switch n.Tag {
	case "a":
		return "link"
	case "button":
		return "button"
	case "select":
		return "combobox"
	case "textarea":
		return "textbox"
	case "input":
		switch n.Attr("type") {
		case "checkbox":
			return "checkbox"
		case "radio":
			return "radio"
		case "submit", "button", "reset", "image":
			return "button"
		case "range":
			return "slider"
		default:
			return "textbox"
		}
	default:
		if n.Editable || n.Attr("contenteditable") == "true" {
			return "textbox"
		}
		return "generic"
	}
}

// dataAttrs returns the node's data-* attributes, excluding the engine's own
// stamps.
func dataAttrs(n *domain.RawNode) map[string]string {
	var out map[string]string
	for k, v := range n.Attrs {
		if !strings.HasPrefix(k, "data-") || k == domain.RefAttr || k == domain.GenAttr {
			continue
		}
		if out == nil {
			out = make(map[string]string)
		}
		out[k] = v
	}
	return out
}
