package council

import (
	"time"

	"github.com/google/uuid"

	"github.com/BaSui01/council/types"
)

// TurnStatus is the state of one council turn.
type TurnStatus string

const (
	StatusInit   TurnStatus = "INIT"
	StatusStage1 TurnStatus = "STAGE1"
	StatusStage2 TurnStatus = "STAGE2"
	StatusStage3 TurnStatus = "STAGE3"
	StatusDone   TurnStatus = "DONE"
	StatusError  TurnStatus = "ERROR"
)

// TurnRequest is one submitted query plus its conversation context.
type TurnRequest struct {
	Prompt  string          `json:"prompt"`
	History []types.Message `json:"history,omitempty"`
	// Mode selects the per-call deadline profile (fast, balanced, thorough).
	Mode string `json:"mode,omitempty"`
	// CallerKey identifies the caller for quota accounting and usage records.
	CallerKey string `json:"caller_key,omitempty"`
	// GenerateTitle requests a short best-effort title for the turn.
	GenerateTitle bool `json:"generate_title,omitempty"`
}

// Stage1Result is one council member's settled first-opinion call.
// Failed members are kept with OK=false rather than dropped, so partial
// failure stays visible in the output.
type Stage1Result struct {
	Model     string           `json:"model"`
	Content   string           `json:"response,omitempty"`
	OK        bool             `json:"ok"`
	ErrorCode types.ErrorCode  `json:"error_code,omitempty"`
	ErrorText string           `json:"error,omitempty"`
	Usage     types.TokenUsage `json:"usage,omitempty"`
	LatencyMs int64            `json:"latency_ms,omitempty"`
}

// RankingVote is one reviewer's parsed ordering of its peers, best to worst,
// expressed in real model identifiers after label resolution.
type RankingVote struct {
	Reviewer string `json:"reviewer"`
	RawText  string `json:"raw_text,omitempty"`
	// Ranking lists peer model identifiers best to worst. Empty when the
	// vote could not be parsed; such votes contribute nothing to the
	// aggregate.
	Ranking []string `json:"ranking,omitempty"`
	ParseOK bool     `json:"parse_ok"`
	// Fallback marks votes recovered from ordinal text cues rather than the
	// strict JSON judge schema.
	Fallback          bool             `json:"fallback,omitempty"`
	ParseError        string           `json:"parse_error,omitempty"`
	FailureModes      []string         `json:"failure_modes_top1,omitempty"`
	VerificationSteps []string         `json:"verification_steps,omitempty"`
	Usage             types.TokenUsage `json:"usage,omitempty"`
}

// AggregateEntry is one model's position in the Borda-count aggregate.
type AggregateEntry struct {
	Model string `json:"model"`
	// Score is the summed Borda points (higher is better).
	Score int `json:"score"`
	// AverageRank is the mean 1-based position across counted votes.
	AverageRank float64 `json:"average_rank"`
	VoteCount   int     `json:"rankings_count"`
}

// Stage2Result bundles the raw votes with the computed aggregate.
type Stage2Result struct {
	Votes     []RankingVote    `json:"votes"`
	Aggregate []AggregateEntry `json:"aggregate_rankings"`
	Usage     types.TokenUsage `json:"usage,omitempty"`
}

// Stage3Result is the chairman's synthesized answer.
type Stage3Result struct {
	Model   string           `json:"model"`
	Content string           `json:"response"`
	Usage   types.TokenUsage `json:"usage,omitempty"`
}

// Turn is one user query and its in-progress or completed council answer.
// It is mutated only by the orchestrator driving it and is immutable once
// Status is DONE or ERROR.
type Turn struct {
	ID        string          `json:"id"`
	Prompt    string          `json:"prompt"`
	History   []types.Message `json:"history,omitempty"`
	Mode      string          `json:"mode,omitempty"`
	CallerKey string          `json:"caller_key,omitempty"`
	Status    TurnStatus      `json:"status"`
	Stage1    []Stage1Result  `json:"stage1,omitempty"`
	Stage2    *Stage2Result   `json:"stage2,omitempty"`
	Stage3    *Stage3Result   `json:"stage3,omitempty"`
	Title     string          `json:"title,omitempty"`
	ErrorText string          `json:"error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// newTurn creates a Turn in INIT from a request.
func newTurn(req *TurnRequest) *Turn {
	now := time.Now().UTC()
	return &Turn{
		ID:        uuid.NewString(),
		Prompt:    req.Prompt,
		History:   req.History,
		Mode:      req.Mode,
		CallerKey: req.CallerKey,
		Status:    StatusInit,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TotalTokens sums the tokens consumed across every stage of the turn.
func (t *Turn) TotalTokens() int64 {
	var total int64
	for _, r := range t.Stage1 {
		total += int64(r.Usage.Total())
	}
	if t.Stage2 != nil {
		total += int64(t.Stage2.Usage.Total())
	}
	if t.Stage3 != nil {
		total += int64(t.Stage3.Usage.Total())
	}
	return total
}

// setStatus advances the turn's state.
func (t *Turn) setStatus(s TurnStatus) {
	t.Status = s
	t.UpdatedAt = time.Now().UTC()
}
