package llm

import "context"

// CallObservation is the settled record of one provider call, emitted exactly
// once per call regardless of outcome. Stage attribution is filled in by the
// caller before the observation is persisted.
type CallObservation struct {
	TraceID          string
	Model            string
	Status           string // "ok" or "error"
	ErrorText        string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	Cost             float64
	LatencyMs        int64
	// UsageMissing marks responses where the upstream omitted usage counts
	// and the token fields are estimates.
	UsageMissing bool
}

// UsageObserver receives one CallObservation per settled provider call.
type UsageObserver func(ctx context.Context, obs CallObservation)

// CallMeta attributes provider calls to a caller, turn, and pipeline stage.
// The pipeline attaches it to the context before fanning out; observers read
// it back when persisting usage.
type CallMeta struct {
	CallerKey string
	TurnID    string
	Stage     string
}

type callMetaKey struct{}

// WithCallMeta returns a context carrying call attribution.
func WithCallMeta(ctx context.Context, meta CallMeta) context.Context {
	return context.WithValue(ctx, callMetaKey{}, meta)
}

// CallMetaFromContext extracts call attribution, zero-valued when absent.
func CallMetaFromContext(ctx context.Context) CallMeta {
	meta, _ := ctx.Value(callMetaKey{}).(CallMeta)
	return meta
}
