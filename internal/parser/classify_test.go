package parser

import (
	"testing"

	"pagelens/internal/domain"
)

func TestIsInteractive(t *testing.T) {
	tests := []struct {
		name string
		node domain.RawNode
		want bool
	}{
		{"anchor", domain.RawNode{Tag: "a"}, true},
		{"button", domain.RawNode{Tag: "button"}, true},
		{"input", domain.RawNode{Tag: "input"}, true},
		{"select", domain.RawNode{Tag: "select"}, true},
		{"textarea", domain.RawNode{Tag: "textarea"}, true},
		{"plain div", domain.RawNode{Tag: "div", Text: "hello"}, false},
		{"plain span", domain.RawNode{Tag: "span", Text: "hello"}, false},
		{"onclick handler", domain.RawNode{Tag: "div", HasHandler: true}, true},
		{"role button", domain.RawNode{Tag: "div", Attrs: map[string]string{"role": "button"}}, true},
		{"role option", domain.RawNode{Tag: "li", Attrs: map[string]string{"role": "option"}}, true},
		{"role presentation", domain.RawNode{Tag: "div", Attrs: map[string]string{"role": "presentation"}}, false},
		{"contenteditable", domain.RawNode{Tag: "div", Editable: true}, true},
		{"tabindex zero", domain.RawNode{Tag: "div", Attrs: map[string]string{"tabindex": "0"}}, true},
		{"tabindex other", domain.RawNode{Tag: "div", Attrs: map[string]string{"tabindex": "-1"}}, false},
		{"data-toggle", domain.RawNode{Tag: "div", Attrs: map[string]string{"data-toggle": "collapse"}}, true},
		{"data-value", domain.RawNode{Tag: "li", Attrs: map[string]string{"data-value": "7"}}, true},
		{"dropdown class", domain.RawNode{Tag: "div", Attrs: map[string]string{"class": "dropdown-item"}}, true},
		{"toggle class", domain.RawNode{Tag: "span", Attrs: map[string]string{"class": "theme-toggle"}}, true},
		{"layout class", domain.RawNode{Tag: "div", Attrs: map[string]string{"class": "container row"}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isInteractive(&tt.node); got != tt.want {
				t.Errorf("isInteractive = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsInteractiveCursorPointer(t *testing.T) {
	tests := []struct {
		name string
		node domain.RawNode
		want bool
	}{
		{"generic div excluded", domain.RawNode{Tag: "div", CursorHint: true, Text: "click me"}, false},
		{"generic span excluded", domain.RawNode{Tag: "span", CursorHint: true, Text: "click me"}, false},
		{"td with text", domain.RawNode{Tag: "td", CursorHint: true, Text: "cell"}, true},
		{"td with id", domain.RawNode{Tag: "td", CursorHint: true, Attrs: map[string]string{"id": "c1"}}, true},
		{"td with aria-label", domain.RawNode{Tag: "td", CursorHint: true, Attrs: map[string]string{"aria-label": "open"}}, true},
		{"td with semantic class", domain.RawNode{Tag: "td", CursorHint: true, Attrs: map[string]string{"class": "product-card"}}, true},
		{"td bare", domain.RawNode{Tag: "td", CursorHint: true}, false},
		{"css-in-js class ignored", domain.RawNode{Tag: "td", CursorHint: true, Attrs: map[string]string{"class": "css-x1y2z"}}, false},
		{"styled-components class ignored", domain.RawNode{Tag: "td", CursorHint: true, Attrs: map[string]string{"class": "sc-bdVaJa"}}, false},
		{"hash class ignored", domain.RawNode{Tag: "td", CursorHint: true, Attrs: map[string]string{"class": "a1b2c3"}}, false},
		{"underscore class ignored", domain.RawNode{Tag: "td", CursorHint: true, Attrs: map[string]string{"class": "_internal"}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isInteractive(&tt.node); got != tt.want {
				t.Errorf("isInteractive = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDeriveRole(t *testing.T) {
	tests := []struct {
		name string
		node domain.RawNode
		want string
	}{
		{"anchor", domain.RawNode{Tag: "a"}, "link"},
		{"button", domain.RawNode{Tag: "button"}, "button"},
		{"select", domain.RawNode{Tag: "select"}, "combobox"},
		{"textarea", domain.RawNode{Tag: "textarea"}, "textbox"},
		{"text input", domain.RawNode{Tag: "input", Attrs: map[string]string{"type": "text"}}, "textbox"},
		{"untyped input", domain.RawNode{Tag: "input"}, "textbox"},
		{"checkbox", domain.RawNode{Tag: "input", Attrs: map[string]string{"type": "checkbox"}}, "checkbox"},
		{"radio", domain.RawNode{Tag: "input", Attrs: map[string]string{"type": "radio"}}, "radio"},
		{"submit", domain.RawNode{Tag: "input", Attrs: map[string]string{"type": "submit"}}, "button"},
		{"range", domain.RawNode{Tag: "input", Attrs: map[string]string{"type": "range"}}, "slider"},
		{"explicit role wins", domain.RawNode{Tag: "a", Attrs: map[string]string{"role": "tab"}}, "tab"},
		{"editable div", domain.RawNode{Tag: "div", Editable: true}, "textbox"},
		{"plain div", domain.RawNode{Tag: "div"}, "generic"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := deriveRole(&tt.node); got != tt.want {
				t.Errorf("deriveRole = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestHasIdentifyingAttrs(t *testing.T) {
	tests := []struct {
		name string
		node domain.RawNode
		want bool
	}{
		{"id", domain.RawNode{Tag: "div", Attrs: map[string]string{"id": "x"}}, true},
		{"data-id", domain.RawNode{Tag: "div", Attrs: map[string]string{"data-id": "7"}}, true},
		{"data-value", domain.RawNode{Tag: "div", Attrs: map[string]string{"data-value": "7"}}, true},
		{"table row", domain.RawNode{Tag: "tr"}, true},
		{"image", domain.RawNode{Tag: "img"}, true},
		{"bare div", domain.RawNode{Tag: "div"}, false},
		{"class only", domain.RawNode{Tag: "div", Attrs: map[string]string{"class": "note"}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := hasIdentifyingAttrs(&tt.node); got != tt.want {
				t.Errorf("hasIdentifyingAttrs = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDataAttrsExcludeStamps(t *testing.T) {
	n := domain.RawNode{Tag: "div", Attrs: map[string]string{
		"data-kind":    "panel",
		"id":           "x",
		domain.RefAttr: "3",
		domain.GenAttr: "01GEN",
	}}
	got := dataAttrs(&n)
	if len(got) != 1 || got["data-kind"] != "panel" {
		t.Errorf("dataAttrs = %v", got)
	}

	bare := domain.RawNode{Tag: "div", Attrs: map[string]string{"id": "x"}}
	if dataAttrs(&bare) != nil {
		t.Errorf("dataAttrs on node without data attrs = %v", dataAttrs(&bare))
	}
}
