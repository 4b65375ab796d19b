package tokenizer

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/BaSui01/council/types"
)

func TestForModel_KnownPrefix(t *testing.T) {
	t.Parallel()

	c := ForModel("openai/gpt-4o-mini")
	_, ok := c.(*Tiktoken)
	assert.True(t, ok)
}

func TestForModel_UnknownFallsBackToEstimator(t *testing.T) {
	t.Parallel()

	c := ForModel("anthropic/claude-sonnet-4.5")
	_, ok := c.(*types.EstimateTokenizer)
	assert.True(t, ok)
}

func TestEstimator_CountMessages(t *testing.T) {
	t.Parallel()

	c := ForModel("unknown-model")
	msgs := []types.Message{
		types.NewSystemMessage("you are a helpful assistant"),
		types.NewUserMessage("what is the capital of France"),
	}
	got := c.CountMessagesTokens(msgs)
	assert.Greater(t, got, 0)

	// More content yields a larger estimate.
	msgs = append(msgs, types.NewAssistantMessage("the capital of France is Paris"))
	assert.Greater(t, c.CountMessagesTokens(msgs), got)
}
