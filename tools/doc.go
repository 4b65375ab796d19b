// Package tools implements the synchronous strict-JSON tool contract consumed
// by local tool servers and hosted tool gateways.
//
// Two operations are exposed: council.ask runs the full pipeline and returns
// the chairman's answer with the stage payloads, and council.pipeline is the
// degenerate variant that renders the stage-1 answers and ranking context
// into a derived prompt artifact instead of a synthesized answer.
//
// Both return a single JSON-marshalable result, never a stream. Degradation
// (failed members, unparsable votes, a failed chairman) is reported in-band
// via the degraded flag and error strings; only a quota denial or context
// cancellation surfaces as a Go error.
package tools
