package driver

import (
	"fmt"
	"sort"
	"strings"

	"github.com/chromedp/chromedp/kb"

	"pagelens/internal/domain"
)

// keyNames maps symbolic key names (lowercased) to the CDP key sequences the
// kb package defines. Aliases match what callers commonly send.
var keyNames = map[string]string{
	"arrowup":    kb.ArrowUp,
	"up":         kb.ArrowUp,
	"arrowdown":  kb.ArrowDown,
	"down":       kb.ArrowDown,
	"arrowleft":  kb.ArrowLeft,
	"left":       kb.ArrowLeft,
	"arrowright": kb.ArrowRight,
	"right":      kb.ArrowRight,
	"enter":      kb.Enter,
	"return":     kb.Enter,
	"escape":     kb.Escape,
	"esc":        kb.Escape,
	"tab":        kb.Tab,
	"space":      " ",
	"pageup":     kb.PageUp,
	"pagedown":   kb.PageDown,
	"home":       kb.Home,
	"end":        kb.End,
	"backspace":  kb.Backspace,
	"delete":     kb.Delete,
}

// validKeyNames lists the accepted names once, sorted, for error messages.
var validKeyNames = func() string {
	names := make([]string, 0, len(keyNames))
	for name := range keyNames {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}()

// TranslateKeys converts symbolic key names into one sendable key sequence.
// Single characters pass through as literals; anything else must be a known
// symbolic name (case-insensitive).
func TranslateKeys(keys []string) (string, error) {
	if len(keys) == 0 {
		return "", domain.NewSubSystemError("keys", "TranslateKeys", domain.ErrInvalidInput,
			"no keys given")
	}

	var b strings.Builder
	for _, k := range keys {
		if len([]rune(k)) == 1 {
			b.WriteString(k)
			continue
		}
		seq, ok := keyNames[strings.ToLower(strings.TrimSpace(k))]
		if !ok {
			return "", domain.NewSubSystemError("keys", "TranslateKeys", domain.ErrInvalidInput,
				fmt.Sprintf("unknown key %q (valid: %s)", k, validKeyNames))
		}
		b.WriteString(seq)
	}
	return b.String(), nil
}
