// Package llm defines the provider abstraction for chat-completion calls:
// the request/response types and the Provider interface implemented by
// llm/openrouter. Retry and token-estimation helpers live in subpackages.
package llm
