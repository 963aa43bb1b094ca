package domain

import "context"

// Target addresses a concrete element for a driver action. Ref locators are
// resolved to a Target before the action runs; selector and xpath locators
// pass through unchanged.
type Target struct {
	Selector string `json:"selector"`
	XPath    bool   `json:"xpath,omitempty"`
}

func (t Target) String() string {
	if t.XPath {
		return "xpath=" + t.Selector
	}
	return "css=" + t.Selector
}

// Driver is the capability surface of one live browser. Implementations are
// not safe for concurrent use; the registry serializes callers per session.
// Every method honors ctx cancellation, and an expired deadline surfaces as
// ErrActionTimeout without tearing the browser down.
type Driver interface {
	// Navigate loads url and waits for the document to become ready.
	Navigate(ctx context.Context, url string) error
	// Click dispatches a click on the first node matching t.
	Click(ctx context.Context, t Target) error
	// TypeText focuses t and types text, clearing the current value first
	// when clearFirst is set.
	TypeText(ctx context.Context, t Target, text string, clearFirst bool) error
	// PressKeys sends symbolic key presses (e.g. "Enter", "ArrowDown") to t.
	PressKeys(ctx context.Context, t Target, keys []string) error
	// ScrollTo brings t into view.
	ScrollTo(ctx context.Context, t Target) error
	// WaitVisible blocks until t is rendered and visible or ctx expires.
	WaitVisible(ctx context.Context, t Target) error
	// Exists reports whether t matches at least one node in the live DOM.
	// It never waits.
	Exists(ctx context.Context, t Target) (bool, error)
	// Screenshot captures the viewport as a JPEG within the configured
	// byte cap.
	Screenshot(ctx context.Context) ([]byte, error)
	// ReadDOM collects a snapshot of the live document plus any buffered
	// network exchanges.
	ReadDOM(ctx context.Context) (*PageSnapshot, error)
	// StampRefs writes ref markers into the live DOM so ref locators can be
	// resolved later. gen identifies the page-map generation being stamped.
	StampRefs(ctx context.Context, gen string, stamps []RefStamp) error
	// ResolveRef turns a stamped ref back into an actionable Target. The live
	// document must still carry gen, the stamped element must exist, and its
	// tag must equal wantTag; any mismatch is ErrStaleRef.
	ResolveRef(ctx context.Context, gen string, ref int, wantTag string) (Target, error)
	// URL returns the current document location.
	URL(ctx context.Context) (string, error)
	// Title returns the current document title.
	Title(ctx context.Context) (string, error)
	// Close tears down the browser process and its profile directory.
	Close(ctx context.Context) error
}

// DriverFactory builds one isolated browser per session. Drivers handed out
// for distinct sessions must not share cookies, storage, or profile state.
type DriverFactory func(ctx context.Context, cfg SessionConfig) (Driver, error)
