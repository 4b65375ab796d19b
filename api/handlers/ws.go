package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/BaSui01/council/api"
	"github.com/BaSui01/council/council"
)

const wsReadTimeout = 30 * time.Second

// HandleWS runs a council turn over a WebSocket: the client sends one
// CouncilRequest, the server replies with the turn's event sequence and
// closes. Errors after the handshake arrive as an error event, not an HTTP
// status.
func (h *CouncilHandler) HandleWS(origins []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: origins,
		})
		if err != nil {
			h.logger.Warn("websocket accept failed", zap.Error(err))
			return
		}
		defer conn.Close(websocket.StatusInternalError, "unexpected shutdown")

		readCtx, cancel := context.WithTimeout(r.Context(), wsReadTimeout)
		var req api.CouncilRequest
		err = wsjson.Read(readCtx, conn, &req)
		cancel()
		if err != nil {
			conn.Close(websocket.StatusPolicyViolation, "expected a council request")
			return
		}
		if err := validateRequest(&req); err != nil {
			wsjson.Write(r.Context(), conn, council.Event{Type: council.EventError, Message: err.Message})
			conn.Close(websocket.StatusNormalClosure, "")
			return
		}

		events := make(chan council.Event, eventBuffer)
		turnReq := req.ToTurnRequest(callerKey(r))

		// Same detachment as the SSE path: the turn outlives the socket.
		runCtx := context.WithoutCancel(r.Context())
		go func() {
			h.runner.Run(runCtx, turnReq, func(ev council.Event) { events <- ev })
			close(events)
		}()

		for ev := range events {
			if err := wsjson.Write(r.Context(), conn, ev); err != nil {
				h.logger.Info("websocket client went away", zap.Error(err))
				if h.metrics != nil {
					h.metrics.RecordStreamDisconnect()
				}
				return
			}
		}
		conn.Close(websocket.StatusNormalClosure, "")
	}
}
