/*
Package handlers implements the council service's HTTP endpoints.

Core types:

  - CouncilHandler — streams a council turn over SSE or WebSocket, and runs
    it synchronously for non-streaming callers
  - HealthHandler  — liveness and readiness probes with pluggable checks
  - Response       — uniform JSON envelope (success + data + error + timestamp)

Streaming uses an error-first pattern: the orchestrator's first event decides
between an SSE stream (200) and a plain JSON error response (4xx/5xx), so a
quota denial surfaces as HTTP 402 before any stream headers are written.

A client that disconnects mid-stream loses the remaining events; the turn
itself runs to completion server-side so its usage is settled and its final
state stays retrievable.
*/
package handlers
