package parser

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"pagelens/internal/domain"
)

// Render converts a PageMap into the textual form handed to the agent.
// Lean lines carry only the ref; rich lines add the synthesized locator.
func Render(m *domain.PageMap) string {
	var b strings.Builder

	fmt.Fprintf(&b, "=== PAGE MAP (generation %s) ===\n", m.Generation)
	fmt.Fprintf(&b, "URL: %s\n", truncateURL(m.URL, 200))
	fmt.Fprintf(&b, "Title: %s\n", truncateText(m.Title, 200))
	for _, note := range m.Notes {
		fmt.Fprintf(&b, "NOTE: %s\n", note)
	}

	b.WriteString("\n=== INTERACTIVE ELEMENTS ===\n")
	if len(m.Interactive) == 0 {
		b.WriteString("(no interactive elements)\n")
	}
	for i := range m.Interactive {
		el := &m.Interactive[i]
		line := renderInteractive(el, m.Mode)
		if line == "" {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
		writeElisionNotice(&b, m.Mode, el.Repeat, el.SeqLen, el.SeqRepeat, el.Selector)
	}

	b.WriteString("\n=== PAGE CONTENT ===\n")
	if len(m.Content) == 0 {
		b.WriteString("(no content elements)\n")
	}
	for i := range m.Content {
		el := &m.Content[i]
		line := renderContent(el)
		if line == "" {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
		writeElisionNotice(&b, m.Mode, el.Repeat, el.SeqLen, el.SeqRepeat, "")
	}

	if len(m.Network) > 0 {
		b.WriteString("\n=== NETWORK (recent) ===\n")
		for _, ex := range m.Network {
			line := fmt.Sprintf("%s %s -> %d", ex.Method, truncateURL(requestPath(ex.URL), 100), ex.Status)
			if ex.Resource != "" {
				line += " (" + ex.Resource + ")"
			}
			b.WriteString(line)
			b.WriteByte('\n')
		}
	}

	return b.String()
}

// renderInteractive builds one line describing an actionable element.
// Elements with nothing identifying at all are omitted; their refs still
// resolve but a bare "div" line would only burn tokens.
func renderInteractive(el *domain.InteractiveElement, mode domain.RenderMode) string {
	parts := []string{el.Tag + " "}

	identified := false
	if t := strings.TrimSpace(el.Text); t != "" {
		parts = append(parts, fmt.Sprintf("TEXT:%q", truncateText(t, 100)))
		identified = true
	} else if ct := strings.TrimSpace(el.ChildrenText); ct != "" {
		parts = append(parts, fmt.Sprintf("CHILDREN_TEXT:%q", truncateText(ct, 100)))
		identified = true
	}

	attrOrder := []struct {
		key string
		max int
	}{
		{"aria-label", 50},
		{"placeholder", 50},
		{"id", 0},
		{"value", 50},
		{"name", 0},
		{"type", 0},
		{"href", 80},
		{"title", 50},
		{"disabled", 0},
	}
	for _, a := range attrOrder {
		v := el.Attrs[a.key]
		if v == "" {
			continue
		}
		if a.key == "href" {
			v = truncateURL(v, a.max)
		} else if a.max > 0 {
			v = truncateText(v, a.max)
		}
		parts = append(parts, fmt.Sprintf("%s=%q", a.key, v))
		identified = true
	}
	if !identified {
		return ""
	}

	line := fmt.Sprintf("ref=\"%d\" | ", el.Ref)
	if mode == domain.ModeRich {
		switch {
		case el.Selector != "":
			line += "CSS: " + el.Selector + " | "
		case el.XPath != "":
			line += "XPATH: " + el.XPath + " | "
		}
	}
	line += "TYPE: " + strings.Join(parts, " ")
	if el.Hidden {
		line += " | HIDDEN"
	}
	return line
}

// renderContent builds one line for a content entry. Table rows render their
// cells with column labels instead of flat text.
func renderContent(el *domain.ContentElement) string {
	text := strings.TrimSpace(el.Text)
	if text == "" && len(el.Attrs) == 0 && len(el.DataAttrs) == 0 && len(el.Cells) == 0 {
		return ""
	}

	line := "TAG: " + el.Tag

	var attrParts []string
	if id := el.Attrs["id"]; id != "" {
		attrParts = append(attrParts, fmt.Sprintf("id=%q", id))
	}
	if title := el.Attrs["title"]; title != "" {
		attrParts = append(attrParts, fmt.Sprintf("title=%q", truncateText(title, 100)))
	}
	if alt := el.Attrs["alt"]; alt != "" {
		attrParts = append(attrParts, fmt.Sprintf("alt=%q", truncateText(alt, 100)))
	}
	if src := el.Attrs["src"]; src != "" {
		attrParts = append(attrParts, fmt.Sprintf("src=%q", truncateURL(src, 80)))
	}
	for _, k := range sortedKeys(el.DataAttrs) {
		attrParts = append(attrParts, fmt.Sprintf("%s=%q", k, truncateText(el.DataAttrs[k], 100)))
	}
	if len(attrParts) > 0 {
		line += " | " + strings.Join(attrParts, " ")
	}

	if el.Tag == "tr" && len(el.Cells) > 0 {
		var cellParts []string
		for _, cell := range el.Cells {
			cellText := truncateText(strings.TrimSpace(cell.Text), 50)
			switch {
			case cell.Label != "" && cellText != "":
				cellParts = append(cellParts, cell.Label+"="+cellText)
			case cellText != "":
				cellParts = append(cellParts, cellText)
			}
		}
		if len(cellParts) > 0 {
			line += " | ROW: " + strings.Join(cellParts, " | ")
		}
		return line
	}

	if text != "" {
		line += " | Text: " + truncateText(text, 200)
	}
	return line
}

// writeElisionNotice emits the compression marker following a representative
// entry.
func writeElisionNotice(b *strings.Builder, mode domain.RenderMode, repeat, seqLen, seqRepeat int, selector string) {
	if repeat > 1 {
		hidden := repeat - 1
		if mode == domain.ModeRich && selector != "" {
			fmt.Fprintf(b, "... [%d more elements with pattern: %s]\n", hidden, extractPattern(selector))
		} else {
			fmt.Fprintf(b, "... [%d more similar elements]\n", hidden)
		}
		return
	}
	if seqLen > 1 && seqRepeat > 1 {
		hidden := (seqRepeat - 1) * seqLen
		fmt.Fprintf(b, "... [%d more similar elements]\n", hidden)
	}
}

func sortedKeys(m map[string]string) []string {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// truncateText cuts text at max runes, appending an ellipsis marker.
func truncateText(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return strings.TrimRight(string(runes[:max]), " ") + "..."
}

// truncateURL shortens a URL while keeping the scheme, host, and the tail of
// the path, which usually carries the distinguishing segment.
func truncateURL(raw string, max int) string {
	if max <= 0 || len(raw) <= max {
		return raw
	}
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		if u, err := url.Parse(raw); err == nil {
			base := u.Scheme + "://" + u.Host
			if len(base) < max-10 {
				remaining := max - len(base) - 6
				pathPart := u.Path
				if u.RawQuery != "" {
					pathPart += "?" + u.RawQuery
				}
				if len(pathPart) <= remaining {
					return raw
				}
				if remaining > 10 {
					return base + "/..." + pathPart[len(pathPart)-remaining/2:]
				}
				return base + "/..."
			}
		}
	}
	return strings.TrimRight(raw[:max], " ") + "..."
}

// requestPath reduces a captured request URL to its path and query.
func requestPath(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Path == "" {
		return raw
	}
	p := u.Path
	if u.RawQuery != "" {
		p += "?" + u.RawQuery
	}
	return p
}
