package api

import (
	"github.com/BaSui01/council/council"
	"github.com/BaSui01/council/types"
)

// CouncilRequest is the inbound shape for the streaming, WebSocket, and
// synchronous council endpoints.
type CouncilRequest struct {
	// Prompt is the user query for this turn.
	Prompt string `json:"prompt"`
	// History carries prior conversation messages, oldest first.
	History []Message `json:"history,omitempty"`
	// Mode selects the per-call deadline profile (fast, balanced, thorough).
	Mode string `json:"mode,omitempty"`
	// GenerateTitle requests a best-effort short title alongside the turn.
	GenerateTitle bool `json:"generate_title,omitempty"`
}

// Message is one conversation message on the wire.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ToTurnRequest converts the DTO into the orchestrator's request type.
// The caller key is attached by the handler, not the client.
func (r *CouncilRequest) ToTurnRequest(callerKey string) *council.TurnRequest {
	history := make([]types.Message, len(r.History))
	for i, m := range r.History {
		history[i] = types.Message{Role: types.Role(m.Role), Content: m.Content}
	}
	return &council.TurnRequest{
		Prompt:        r.Prompt,
		History:       history,
		Mode:          r.Mode,
		CallerKey:     callerKey,
		GenerateTitle: r.GenerateTitle,
	}
}

// ErrorDetail is the serialized error shape inside the response envelope.
type ErrorDetail struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
	Provider  string `json:"provider,omitempty"`
}
