package domain

import "fmt"

// Locator names a target element by exactly one addressing scheme: a
// generation-scoped ref, a CSS selector, or an XPath expression.
type Locator struct {
	Ref      int    `json:"ref,omitempty"` // refs start at 1; 0 means unset
	Selector string `json:"selector,omitempty"`
	XPath    string `json:"xpath,omitempty"`
}

// ByRef builds a ref locator.
func ByRef(ref int) Locator { return Locator{Ref: ref} }

// BySelector builds a CSS selector locator.
func BySelector(sel string) Locator { return Locator{Selector: sel} }

// ByXPath builds an XPath locator.
func ByXPath(xp string) Locator { return Locator{XPath: xp} }

// IsRef reports whether the locator addresses by ref.
func (l Locator) IsRef() bool { return l.Ref > 0 }

// Validate rejects locators that set zero or more than one scheme.
func (l Locator) Validate() error {
	set := 0
	if l.Ref != 0 {
		if l.Ref < 0 {
			return NewSubSystemError("locator", "Locator.Validate", ErrInvalidInput,
				fmt.Sprintf("ref must be positive, got %d", l.Ref))
		}
		set++
	}
	if l.Selector != "" {
		set++
	}
	if l.XPath != "" {
		set++
	}
	switch set {
	case 0:
		return NewSubSystemError("locator", "Locator.Validate", ErrInvalidInput,
			"locator needs one of ref, selector, or xpath")
	case 1:
		return nil
	default:
		return NewSubSystemError("locator", "Locator.Validate", ErrInvalidInput,
			"locator must set exactly one of ref, selector, or xpath")
	}
}

// String renders the locator for logs and error detail.
func (l Locator) String() string {
	switch {
	case l.Ref > 0:
		return fmt.Sprintf("ref=%d", l.Ref)
	case l.Selector != "":
		return "css=" + l.Selector
	case l.XPath != "":
		return "xpath=" + l.XPath
	default:
		return "locator(empty)"
	}
}
