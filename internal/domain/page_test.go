package domain

import (
	"testing"
)

func TestParseRenderMode(t *testing.T) {
	tests := []struct {
		in      string
		want    RenderMode
		wantErr bool
	}{
		{"", ModeLean, false},
		{"lean", ModeLean, false},
		{"rich", ModeRich, false},
		{"RICH", ModeRich, false},
		{" lean ", ModeLean, false},
		{"verbose", "", true},
	}
	for _, tt := range tests {
		got, err := ParseRenderMode(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseRenderMode(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseRenderMode(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRawNodeAttr(t *testing.T) {
	n := RawNode{Tag: "input", Attrs: map[string]string{"type": "text", "disabled": ""}}
	if got := n.Attr("type"); got != "text" {
		t.Errorf("Attr(type) = %q, want %q", got, "text")
	}
	if got := n.Attr("missing"); got != "" {
		t.Errorf("Attr(missing) = %q, want empty", got)
	}
	if !n.HasAttr("disabled") {
		t.Error("HasAttr(disabled) should be true for present empty attribute")
	}
	var bare RawNode
	if bare.HasAttr("id") {
		t.Error("HasAttr on nil attrs should be false")
	}
}

func TestPageMapStampsAndRefTags(t *testing.T) {
	m := PageMap{
		Generation: "01JABCDEFGHJKMNPQRSTVWXYZ0",
		Interactive: []InteractiveElement{
			{Ref: 1, Tag: "a", Path: []int{0, 1}},
			{Ref: 2, Tag: "button", Path: []int{0, 2, 0}},
		},
	}

	stamps := m.Stamps()
	if len(stamps) != 2 {
		t.Fatalf("Stamps() len = %d, want 2", len(stamps))
	}
	if stamps[1].Ref != 2 || len(stamps[1].Path) != 3 {
		t.Errorf("stamps[1] = %+v, want ref 2 with 3-segment path", stamps[1])
	}

	tags := m.RefTags()
	if tags[1] != "a" || tags[2] != "button" {
		t.Errorf("RefTags() = %v", tags)
	}
}

func TestPageMapFindRef(t *testing.T) {
	m := PageMap{Interactive: []InteractiveElement{{Ref: 1, Tag: "a"}, {Ref: 2, Tag: "input"}}}
	if el := m.FindRef(2); el == nil || el.Tag != "input" {
		t.Errorf("FindRef(2) = %+v, want input", el)
	}
	if el := m.FindRef(99); el != nil {
		t.Errorf("FindRef(99) = %+v, want nil", el)
	}
}
