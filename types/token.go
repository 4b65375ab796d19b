package types

// TokenUsage represents token consumption statistics for one provider call
// or an accumulated set of calls.
type TokenUsage struct {
	PromptTokens     int     `json:"prompt_tokens,omitempty"`
	CompletionTokens int     `json:"completion_tokens,omitempty"`
	TotalTokens      int     `json:"total_tokens,omitempty"`
	Cost             float64 `json:"cost,omitempty"` // estimated, USD
}

// Add adds another TokenUsage to this one.
func (u *TokenUsage) Add(other TokenUsage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
	u.Cost += other.Cost
}

// Total returns the total token count, deriving it from prompt+completion
// when the upstream did not report a total.
func (u TokenUsage) Total() int {
	if u.TotalTokens > 0 {
		return u.TotalTokens
	}
	return u.PromptTokens + u.CompletionTokens
}

// TokenCounter is the minimal token counting interface.
type TokenCounter interface {
	// CountTokens counts tokens in a text string.
	CountTokens(text string) int
	// CountMessagesTokens counts total tokens in a message slice.
	CountMessagesTokens(msgs []Message) int
}

// EstimateTokenizer provides a simple character-based token estimation.
// Used where an exact tokenizer for the model is unavailable.
type EstimateTokenizer struct {
	charsPerToken float64
	msgOverhead   int
}

// NewEstimateTokenizer creates a new EstimateTokenizer.
func NewEstimateTokenizer() *EstimateTokenizer {
	return &EstimateTokenizer{
		charsPerToken: 4.0,
		msgOverhead:   4,
	}
}

// CountTokens counts tokens in text.
func (t *EstimateTokenizer) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	tokens := float64(len([]rune(text))) / t.charsPerToken
	if tokens < 1 {
		return 1
	}
	return int(tokens)
}

// CountMessagesTokens counts tokens in messages.
func (t *EstimateTokenizer) CountMessagesTokens(msgs []Message) int {
	total := 0
	for _, msg := range msgs {
		total += t.msgOverhead
		total += t.CountTokens(msg.Content)
		if msg.Name != "" {
			total += t.CountTokens(msg.Name)
		}
	}
	return total
}
