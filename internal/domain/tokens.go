package domain

// TokenCounter estimates the token footprint of text under the target
// model's tokenizer. Implementations must be safe for concurrent use.
type TokenCounter interface {
	Count(text string) int
}
