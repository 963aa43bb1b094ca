package driver

import (
	"errors"
	"strings"
	"testing"

	"github.com/chromedp/chromedp/kb"

	"pagelens/internal/domain"
)

func TestTranslateKeysSymbolicNames(t *testing.T) {
	seq, err := TranslateKeys([]string{"ArrowDown", "ArrowDown", "Enter"})
	if err != nil {
		t.Fatalf("TranslateKeys: %v", err)
	}
	want := kb.ArrowDown + kb.ArrowDown + kb.Enter
	if seq != want {
		t.Errorf("seq = %q, want %q", seq, want)
	}
}

func TestTranslateKeysAliases(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"Down", kb.ArrowDown},
		{"Up", kb.ArrowUp},
		{"Left", kb.ArrowLeft},
		{"Right", kb.ArrowRight},
		{"Return", kb.Enter},
		{"Esc", kb.Escape},
		{"Space", " "},
	}
	for _, tt := range tests {
		seq, err := TranslateKeys([]string{tt.name})
		if err != nil {
			t.Errorf("TranslateKeys(%q): %v", tt.name, err)
			continue
		}
		if seq != tt.want {
			t.Errorf("TranslateKeys(%q) = %q, want %q", tt.name, seq, tt.want)
		}
	}
}

func TestTranslateKeysCaseInsensitive(t *testing.T) {
	lower, err := TranslateKeys([]string{"pagedown"})
	if err != nil {
		t.Fatalf("lowercase: %v", err)
	}
	mixed, err := TranslateKeys([]string{"PageDown"})
	if err != nil {
		t.Fatalf("mixed case: %v", err)
	}
	if lower != mixed {
		t.Errorf("case sensitivity: %q != %q", lower, mixed)
	}
}

func TestTranslateKeysLiteralCharacters(t *testing.T) {
	seq, err := TranslateKeys([]string{"a", "B", "7", "!"})
	if err != nil {
		t.Fatalf("TranslateKeys: %v", err)
	}
	if seq != "aB7!" {
		t.Errorf("seq = %q, want %q", seq, "aB7!")
	}
}

func TestTranslateKeysUnknownName(t *testing.T) {
	_, err := TranslateKeys([]string{"Hyperspace"})
	if err == nil {
		t.Fatal("expected error for unknown key name")
	}
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("error = %v, want ErrInvalidInput", err)
	}
	if !strings.Contains(err.Error(), "Hyperspace") {
		t.Errorf("error should name the bad key: %v", err)
	}
	if !strings.Contains(err.Error(), "arrowdown") {
		t.Errorf("error should list valid names: %v", err)
	}
	if domain.ErrorCodeOf(err) != domain.CodeBadKey {
		t.Errorf("code = %s, want %s", domain.ErrorCodeOf(err), domain.CodeBadKey)
	}
}

func TestTranslateKeysEmpty(t *testing.T) {
	if _, err := TranslateKeys(nil); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("empty keys: err = %v, want ErrInvalidInput", err)
	}
}
