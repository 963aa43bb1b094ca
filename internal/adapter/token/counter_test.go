package token

import (
	"io"
	"log/slog"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCounterDefaults(t *testing.T) {
	c := NewCounter("", discardLogger())
	if c.encoding != DefaultEncoding {
		t.Errorf("encoding = %q, want %q", c.encoding, DefaultEncoding)
	}
}

func TestCounterCountsSomething(t *testing.T) {
	c := NewCounter("", discardLogger())

	if got := c.Count(""); got != 0 {
		t.Errorf("Count(empty) = %d, want 0", got)
	}

	short := c.Count("hello")
	long := c.Count("hello world, this is a considerably longer sentence about socks")
	if short <= 0 {
		t.Errorf("Count(short) = %d, want > 0", short)
	}
	if long <= short {
		t.Errorf("longer text counted %d tokens, shorter %d", long, short)
	}
}

func TestCounterFallsBackOnUnknownEncoding(t *testing.T) {
	c := NewCounter("no-such-encoding", discardLogger())

	// The estimate is ~4 characters per token, rounded up.
	if got := c.Count("abcdefgh"); got != 2 {
		t.Errorf("Count = %d, want 2 from the estimate path", got)
	}
	if got := c.Count("abc"); got != 1 {
		t.Errorf("Count = %d, want 1 from the estimate path", got)
	}
}

func TestEstimateTokens(t *testing.T) {
	cases := map[string]int{
		"":         0,
		"a":        1,
		"abcd":     1,
		"abcde":    2,
		"12345678": 2,
	}
	for text, want := range cases {
		if got := estimateTokens(text); got != want {
			t.Errorf("estimateTokens(%q) = %d, want %d", text, got, want)
		}
	}
}
