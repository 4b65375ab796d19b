// Package tokenizer provides token counters used to pre-estimate the cost of
// a council turn before any provider call is made. Known OpenAI-family models
// get exact tiktoken counts; everything else falls back to a character-based
// estimate.
package tokenizer

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/BaSui01/council/types"
)

// modelEncodings maps model name prefixes to tiktoken encodings.
// Council member names carry a vendor prefix ("openai/gpt-5.1"), so the
// lookup strips it before matching.
var modelEncodings = map[string]string{
	"gpt-5":         "o200k_base",
	"gpt-4o":        "o200k_base",
	"gpt-4":         "cl100k_base",
	"gpt-3.5-turbo": "cl100k_base",
}

// Tiktoken is a tiktoken-backed types.TokenCounter.
type Tiktoken struct {
	encoding string
	enc      *tiktoken.Tiktoken
	once     sync.Once
	initErr  error
}

// NewTiktoken creates a counter for the given encoding ("cl100k_base",
// "o200k_base", ...).
func NewTiktoken(encoding string) *Tiktoken {
	return &Tiktoken{encoding: encoding}
}

// init lazily loads the encoding (tiktoken may fetch data on first use).
func (t *Tiktoken) init() error {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err != nil {
			t.initErr = fmt.Errorf("init tiktoken encoding %s: %w", t.encoding, err)
			return
		}
		t.enc = enc
	})
	return t.initErr
}

// CountTokens implements types.TokenCounter. On encoding init failure it
// degrades to the character estimate rather than failing the turn.
func (t *Tiktoken) CountTokens(text string) int {
	if err := t.init(); err != nil {
		return types.NewEstimateTokenizer().CountTokens(text)
	}
	return len(t.enc.Encode(text, nil, nil))
}

// CountMessagesTokens implements types.TokenCounter.
func (t *Tiktoken) CountMessagesTokens(msgs []types.Message) int {
	if err := t.init(); err != nil {
		return types.NewEstimateTokenizer().CountMessagesTokens(msgs)
	}
	total := 0
	for _, msg := range msgs {
		// Per-message overhead: role marker and separators.
		total += 4
		total += len(t.enc.Encode(msg.Content, nil, nil))
		total += len(t.enc.Encode(string(msg.Role), nil, nil))
	}
	total += 3
	return total
}

// ForModel returns the best counter for a model name. Unknown models get the
// character-based estimator.
func ForModel(model string) types.TokenCounter {
	name := model
	if i := strings.LastIndex(model, "/"); i >= 0 {
		name = model[i+1:]
	}
	for prefix, encoding := range modelEncodings {
		if strings.HasPrefix(name, prefix) {
			return NewTiktoken(encoding)
		}
	}
	return types.NewEstimateTokenizer()
}
