/*
Package main is the council service executable.

Subcommands: serve (start the HTTP and metrics servers), version, health.

The serve path wires config -> zap logging -> OTel telemetry -> GORM usage
store -> quota guard (DB or Redis backend) -> OpenRouter client -> council
orchestrator -> HTTP handlers, behind a middleware chain of Recovery,
RequestID, SecurityHeaders, RequestLogger, Metrics, CORS, per-IP RateLimiter,
and CallerKey extraction. Shutdown is graceful: signal -> drain HTTP -> drain
metrics -> close Redis and the database -> flush telemetry.
*/
package main
