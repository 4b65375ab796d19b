// Package usage persists per-call token usage and enforces the monthly
// per-caller token quota that gates council turns.
package usage

import (
	"regexp"
	"time"
)

// UsageRecord is one settled provider call's accounting row. Records are
// append-only; the quota guard sums them per caller per UTC calendar month.
type UsageRecord struct {
	ID               string    `gorm:"primaryKey;size:36" json:"id"`
	CallerKey        string    `gorm:"size:128;index:idx_usage_caller_created" json:"caller_key"`
	TurnID           string    `gorm:"size:36;index" json:"turn_id"`
	Stage            string    `gorm:"size:16" json:"stage"`
	Model            string    `gorm:"size:128" json:"model"`
	CallID           string    `gorm:"size:36" json:"call_id"`
	Status           string    `gorm:"size:8" json:"status"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	TotalTokens      int       `json:"total_tokens"`
	CostEstimated    float64   `json:"cost_estimated"`
	LatencyMs        int64     `json:"latency_ms"`
	ErrorText        string    `gorm:"size:2048" json:"error_text,omitempty"`
	UsageMissing     bool      `json:"usage_missing"`
	CreatedAt        time.Time `gorm:"index:idx_usage_caller_created" json:"created_at"`
}

// TableName implements the GORM table naming convention.
func (UsageRecord) TableName() string { return "usage_records" }

// CountedTokens returns the tokens this record contributes to the quota,
// deriving the total from prompt+completion when the upstream omitted it.
func (r *UsageRecord) CountedTokens() int64 {
	if r.TotalTokens > 0 {
		return int64(r.TotalTokens)
	}
	return int64(r.PromptTokens + r.CompletionTokens)
}

var (
	bearerRe     = regexp.MustCompile(`(?i)\bBearer\s+[A-Za-z0-9._\-+/=]{8,}`)
	openrouterRe = regexp.MustCompile(`\bsk-or-v1-[A-Za-z0-9_\-]{10,}\b`)
	openaiRe     = regexp.MustCompile(`\bsk-[A-Za-z0-9_\-]{10,}\b`)
	pemRe        = regexp.MustCompile(`(?s)-----BEGIN [^-]+-----.*?-----END [^-]+-----`)
)

// RedactSecrets scrubs credential-shaped substrings from text before it is
// stored or logged. Best effort; callers should avoid putting secrets in
// error text in the first place.
func RedactSecrets(text string) string {
	if text == "" {
		return text
	}
	out := pemRe.ReplaceAllString(text, "-----BEGIN [REDACTED]-----\n[REDACTED]\n-----END [REDACTED]-----")
	out = bearerRe.ReplaceAllString(out, "Bearer [REDACTED]")
	out = openrouterRe.ReplaceAllString(out, "[REDACTED]")
	out = openaiRe.ReplaceAllString(out, "[REDACTED]")
	return out
}
