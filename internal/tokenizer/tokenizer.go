// Package tokenizer counts tokens for context budgeting.
package tokenizer

import (
	"log/slog"

	"github.com/pkoukk/tiktoken-go"
)

// Counter counts the tokens a text occupies in a model's context.
type Counter interface {
	Count(text string) int
}

// Estimate approximates token counts at four characters per token.
type Estimate struct{}

// Count returns ceil(len(text)/4).
func (Estimate) Count(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}

// Tiktoken counts tokens with a BPE encoding.
type Tiktoken struct {
	enc *tiktoken.Tiktoken
}

// Count returns the number of BPE tokens in text.
func (t *Tiktoken) Count(text string) int {
	return len(t.enc.Encode(text, nil, nil))
}

// New returns a tiktoken counter for encoding, or the character estimate
// when the encoding cannot be loaded.
func New(encoding string, logger *slog.Logger) Counter {
	if encoding == "" || encoding == "estimate" {
		return Estimate{}
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		if logger != nil {
			logger.Warn("tokenizer encoding unavailable, using estimate", "encoding", encoding, "error", err)
		}
		return Estimate{}
	}
	return &Tiktoken{enc: enc}
}
