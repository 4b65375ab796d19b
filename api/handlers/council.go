package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/BaSui01/council/api"
	"github.com/BaSui01/council/council"
	"github.com/BaSui01/council/internal/ctxkeys"
	"github.com/BaSui01/council/types"
)

// eventBuffer must exceed the maximum number of events a turn can emit, so
// the orchestrator never blocks on a sink whose reader has gone away.
const eventBuffer = 16

// anonymousCaller is the quota key for requests without an extracted caller
// identity. Callers absent from the quota cap map are unbounded.
const anonymousCaller = "anonymous"

// TurnRunner runs one council turn to its terminal state. *council.Orchestrator
// implements it; tests substitute scripted fakes.
type TurnRunner interface {
	Run(ctx context.Context, req *council.TurnRequest, sink council.EventSink) (*council.Turn, error)
}

// StreamMetrics counts clients that drop an event stream before completion.
type StreamMetrics interface {
	RecordStreamDisconnect()
}

// CouncilHandler serves the council turn endpoints.
type CouncilHandler struct {
	runner  TurnRunner
	metrics StreamMetrics
	logger  *zap.Logger
}

// CouncilOption configures a CouncilHandler.
type CouncilOption func(*CouncilHandler)

// WithStreamMetrics attaches the disconnect counter.
func WithStreamMetrics(m StreamMetrics) CouncilOption {
	return func(h *CouncilHandler) { h.metrics = m }
}

// NewCouncilHandler creates the council endpoints over a turn runner.
func NewCouncilHandler(runner TurnRunner, logger *zap.Logger, opts ...CouncilOption) *CouncilHandler {
	h := &CouncilHandler{
		runner: runner,
		logger: logger.With(zap.String("component", "council_handler")),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HandleStream runs a council turn and streams its events as SSE.
//
// The response status depends on the first event: an immediate error event
// (quota denial, validation) yields a plain JSON error response with the
// mapped status, anything else starts a text/event-stream. A disconnecting
// client stops receiving events but does not cancel the turn; it runs to
// completion so usage is settled and the final state stays retrievable.
func (h *CouncilHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	var req api.CouncilRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if err := validateRequest(&req); err != nil {
		WriteError(w, err, h.logger)
		return
	}

	events := make(chan council.Event, eventBuffer)
	done := make(chan error, 1)
	turnReq := req.ToTurnRequest(callerKey(r))

	// Detached from the request context: the turn survives a client
	// disconnect (the stream has no resume, the turn result does not
	// depend on the watcher).
	runCtx := context.WithoutCancel(r.Context())
	go func() {
		_, err := h.runner.Run(runCtx, turnReq, func(ev council.Event) { events <- ev })
		done <- err
		close(events)
	}()

	// Every turn emits at least one event before returning, so this read
	// cannot block past the turn itself.
	first := <-events
	if first.Type == council.EventError {
		WriteError(w, <-done, h.logger)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, types.NewError(types.ErrInternalError, "streaming not supported"), h.logger)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	writeSSE(w, first)
	flusher.Flush()

	for {
		select {
		case ev, open := <-events:
			if !open {
				return
			}
			writeSSE(w, ev)
			flusher.Flush()
		case <-r.Context().Done():
			h.logger.Info("client disconnected mid-stream")
			if h.metrics != nil {
				h.metrics.RecordStreamDisconnect()
			}
			return
		}
	}
}

// HandleAsk runs a council turn synchronously and returns the terminal Turn.
func (h *CouncilHandler) HandleAsk(w http.ResponseWriter, r *http.Request) {
	var req api.CouncilRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if err := validateRequest(&req); err != nil {
		WriteError(w, err, h.logger)
		return
	}

	turn, err := h.runner.Run(r.Context(), req.ToTurnRequest(callerKey(r)), nil)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, turn)
}

func validateRequest(req *api.CouncilRequest) *types.Error {
	if req.Prompt == "" {
		return types.NewError(types.ErrInvalidRequest, "prompt is required")
	}
	return nil
}

// callerKey returns the quota key the middleware extracted, or the anonymous
// fallback.
func callerKey(r *http.Request) string {
	if key, ok := ctxkeys.CallerKey(r.Context()); ok {
		return key
	}
	return anonymousCaller
}

func writeSSE(w http.ResponseWriter, ev council.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	w.Write([]byte("data: "))
	w.Write(payload)
	w.Write([]byte("\n\n"))
}
