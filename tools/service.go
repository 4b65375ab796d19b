package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/council/council"
	"github.com/BaSui01/council/types"
)

// TurnRunner runs one council turn to its terminal state.
type TurnRunner interface {
	Run(ctx context.Context, req *council.TurnRequest, sink council.EventSink) (*council.Turn, error)
}

// Service exposes the tool operations over a turn runner.
type Service struct {
	runner TurnRunner
	logger *zap.Logger
}

// NewService creates the tool contract service.
func NewService(runner TurnRunner, logger *zap.Logger) *Service {
	return &Service{
		runner: runner,
		logger: logger.With(zap.String("component", "tools")),
	}
}

// AskRequest is the council.ask input.
type AskRequest struct {
	Prompt    string `json:"prompt"`
	Mode      string `json:"mode,omitempty"`
	CallerKey string `json:"caller_key,omitempty"`
}

// AskResult is the council.ask output.
type AskResult struct {
	FinalAnswer string                 `json:"final_answer"`
	Stage1      []council.Stage1Result `json:"stage1"`
	Stage2      *council.Stage2Result  `json:"stage2"`
	Degraded    bool                   `json:"degraded"`
	Errors      []string               `json:"errors"`
	TotalTokens int64                  `json:"total_tokens"`
}

// PipelineResult is the council.pipeline output: the same stage payloads, but
// the terminal artifact is a derived prompt rather than a direct answer.
type PipelineResult struct {
	DerivedPrompt string                 `json:"derived_prompt"`
	Stage1        []council.Stage1Result `json:"stage1"`
	Stage2        *council.Stage2Result  `json:"stage2"`
	Degraded      bool                   `json:"degraded"`
	Errors        []string               `json:"errors"`
	TotalTokens   int64                  `json:"total_tokens"`
}

// Ask runs the pipeline to completion and returns the terminal state.
// Pipeline failures after admission come back in-band as a degraded result;
// a quota denial returns the error so the gateway can surface 402.
func (s *Service) Ask(ctx context.Context, req AskRequest) (*AskResult, error) {
	if req.Prompt == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "prompt is required")
	}

	turn, err := s.runner.Run(ctx, &council.TurnRequest{
		Prompt:    req.Prompt,
		Mode:      req.Mode,
		CallerKey: req.CallerKey,
	}, nil)
	if err != nil {
		if rejected(err) {
			return nil, err
		}
		s.logger.Warn("council.ask degraded", zap.Error(err))
	}

	result := &AskResult{
		Stage1:      turn.Stage1,
		Stage2:      turn.Stage2,
		Errors:      []string{},
		TotalTokens: turn.TotalTokens(),
	}
	if turn.Stage3 != nil {
		result.FinalAnswer = turn.Stage3.Content
	}
	result.Degraded, result.Errors = degradation(turn, err)
	return result, nil
}

// Pipeline runs the pipeline and renders the stage-1 answers plus ranking
// context into a prompt artifact for a downstream consumer. The chairman's
// answer is not part of the artifact, so a chairman failure only degrades.
func (s *Service) Pipeline(ctx context.Context, req AskRequest) (*PipelineResult, error) {
	if req.Prompt == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "prompt is required")
	}

	turn, err := s.runner.Run(ctx, &council.TurnRequest{
		Prompt:    req.Prompt,
		Mode:      req.Mode,
		CallerKey: req.CallerKey,
	}, nil)
	if err != nil {
		if rejected(err) {
			return nil, err
		}
		s.logger.Warn("council.pipeline degraded", zap.Error(err))
	}

	result := &PipelineResult{
		Stage1:      turn.Stage1,
		Stage2:      turn.Stage2,
		Errors:      []string{},
		TotalTokens: turn.TotalTokens(),
	}
	result.Degraded, result.Errors = degradation(turn, err)
	if hasUsableStage1(turn) {
		result.DerivedPrompt = renderDerivedPrompt(req.Prompt, turn)
	}
	return result, nil
}

// rejected reports whether the turn produced no usable output at all: a
// quota denial before any call, a fully failed stage 1, or an unexpected
// untyped failure. Such turns surface as errors rather than degraded results.
func rejected(err error) bool {
	var typed *types.Error
	if errors.As(err, &typed) {
		return typed.Code == types.ErrQuotaExceeded || typed.Code == types.ErrAllProvidersFailed
	}
	return true
}

// degradation derives the in-band error strings from the terminal turn.
func degradation(turn *council.Turn, runErr error) (bool, []string) {
	errs := []string{}
	for _, r := range turn.Stage1 {
		if !r.OK {
			errs = append(errs, "stage1_model_failed:"+r.Model)
		}
	}
	if turn.Stage2 != nil {
		for _, v := range turn.Stage2.Votes {
			if !v.ParseOK {
				errs = append(errs, "stage2_invalid_vote:"+v.Reviewer)
			}
		}
	}
	if runErr != nil && types.GetErrorCode(runErr) == types.ErrChairmanFailed {
		errs = append(errs, "chairman_failed")
	}
	return len(errs) > 0, errs
}

func hasUsableStage1(turn *council.Turn) bool {
	for _, r := range turn.Stage1 {
		if r.OK {
			return true
		}
	}
	return false
}

// renderDerivedPrompt flattens the council's work into a prompt a downstream
// model or human can act on: the task, each member's answer, the aggregate
// preference order, and the reviewers' verification steps.
func renderDerivedPrompt(prompt string, turn *council.Turn) string {
	var b strings.Builder

	b.WriteString("# Task\n\n")
	b.WriteString(prompt)
	b.WriteString("\n\n# Candidate answers\n")
	for _, r := range turn.Stage1 {
		if !r.OK {
			continue
		}
		fmt.Fprintf(&b, "\n## %s\n\n%s\n", r.Model, r.Content)
	}

	if turn.Stage2 != nil && len(turn.Stage2.Aggregate) > 0 {
		b.WriteString("\n# Council preference (best first)\n\n")
		for i, entry := range turn.Stage2.Aggregate {
			fmt.Fprintf(&b, "%d. %s (score %d, %d votes)\n", i+1, entry.Model, entry.Score, entry.VoteCount)
		}
	}

	steps := collectVerificationSteps(turn.Stage2)
	if len(steps) > 0 {
		b.WriteString("\n# Verification steps\n\n")
		for _, step := range steps {
			b.WriteString("- ")
			b.WriteString(step)
			b.WriteString("\n")
		}
	}

	b.WriteString("\nSynthesize the strongest elements of the preferred answers into a single response to the task.\n")
	return b.String()
}

func collectVerificationSteps(stage2 *council.Stage2Result) []string {
	if stage2 == nil {
		return nil
	}
	seen := make(map[string]bool)
	var steps []string
	for _, v := range stage2.Votes {
		for _, s := range v.VerificationSteps {
			s = strings.TrimSpace(s)
			if s == "" || seen[s] {
				continue
			}
			seen[s] = true
			steps = append(steps, s)
		}
	}
	return steps
}
