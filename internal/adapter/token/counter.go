// Package token counts tokens for injection budgeting.
package token

import (
	"log/slog"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"pagelens/internal/domain"
)

// DefaultEncoding is the cl100k_base tokenizer family.
const DefaultEncoding = "cl100k_base"

// Counter counts tokens with a tiktoken encoding. The encoder loads
// lazily on first use; when it cannot be loaded the counter falls back to
// a characters/4 estimate rather than failing budget checks.
type Counter struct {
	encoding string
	logger   *slog.Logger

	once sync.Once
	enc  *tiktoken.Tiktoken
	err  error
}

var _ domain.TokenCounter = (*Counter)(nil)

// NewCounter creates a counter for the named encoding. Empty uses
// DefaultEncoding.
func NewCounter(encoding string, logger *slog.Logger) *Counter {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Counter{encoding: encoding, logger: logger}
}

// Count implements domain.TokenCounter.
func (c *Counter) Count(text string) int {
	c.once.Do(func() {
		c.enc, c.err = tiktoken.GetEncoding(c.encoding)
		if c.err != nil {
			c.logger.Warn("tokenizer unavailable, falling back to estimate",
				"encoding", c.encoding,
				"error", c.err,
			)
		}
	})
	if c.err != nil {
		return estimateTokens(text)
	}
	return len(c.enc.Encode(text, nil, nil))
}

// estimateTokens approximates ~4 characters per token, rounding up so
// short non-empty strings never count as zero.
func estimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}
