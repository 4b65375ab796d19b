package llm

import (
	"context"
	"time"

	"github.com/BaSui01/council/types"
)

// ChatRequest is one chat-completion request to a named model.
type ChatRequest struct {
	TraceID     string          `json:"trace_id,omitempty"`
	Model       string          `json:"model"`
	Messages    []types.Message `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float32         `json:"temperature,omitempty"`
	// Timeout is the per-call deadline. Zero means the client default.
	Timeout time.Duration `json:"timeout,omitempty"`
}

// ChatResponse is the settled result of one chat-completion call.
type ChatResponse struct {
	ID           string           `json:"id,omitempty"`
	Model        string           `json:"model"`
	Content      string           `json:"content"`
	FinishReason string           `json:"finish_reason,omitempty"`
	Usage        types.TokenUsage `json:"usage,omitempty"`
	Latency      time.Duration    `json:"latency,omitempty"`
	CreatedAt    time.Time        `json:"created_at,omitempty"`
}

// Provider defines the unified chat-completion interface the pipeline calls.
// Failures are *types.Error values carrying the classified code
// (RATE_LIMITED, UPSTREAM_TIMEOUT, UPSTREAM_ERROR, INVALID_REQUEST, ...) and
// retryability; implementations own their retry policy so a returned error
// is already final for that call.
type Provider interface {
	// Completion issues one synchronous chat request and returns the full
	// response. Exactly one usage observation is emitted per settled call
	// when an observer is attached.
	Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// Name returns the provider's unique identifier.
	Name() string
}
