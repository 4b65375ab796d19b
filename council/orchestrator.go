package council

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/council/config"
	"github.com/BaSui01/council/llm"
	"github.com/BaSui01/council/llm/tokenizer"
	"github.com/BaSui01/council/types"
)

const titleTimeout = 30 * time.Second

// QuotaGuard gates a turn on the caller's monthly token budget. Check is
// called once, before the first provider call; a denial returns a
// *types.Error with code QUOTA_EXCEEDED and no reservation. A passing Check
// reserves the estimate atomically against concurrent checks for the same
// caller and returns the reservation to settle once the turn's actual spend
// is known. A denied turn reserves nothing and is never settled.
type QuotaGuard interface {
	Check(ctx context.Context, callerKey string, estimatedTokens int64) (QuotaReservation, error)
}

// QuotaReservation is one turn's reserved budget, settled exactly once when
// the turn reaches a terminal state. Settling replaces the estimate with the
// actual spend in the month the reservation was taken, so a turn straddling
// a month rollover cannot leave the old month's counter over-reserved.
type QuotaReservation interface {
	Settle(ctx context.Context, actualTokens int64) error
}

// Metrics receives pipeline-level observations. internal/metrics implements
// it; a nil Metrics is a no-op.
type Metrics interface {
	ObserveStageDuration(stage string, d time.Duration)
	TurnCompleted(status string)
	QuotaDenied()
	RecordVote(outcome string)
}

type noopMetrics struct{}

func (noopMetrics) ObserveStageDuration(string, time.Duration) {}
func (noopMetrics) TurnCompleted(string)                       {}
func (noopMetrics) QuotaDenied()                               {}
func (noopMetrics) RecordVote(string)                          {}

// Orchestrator drives the three-stage state machine for one turn at a time.
// It is safe for concurrent use; each Run owns its Turn exclusively.
type Orchestrator struct {
	provider llm.Provider
	cfg      config.CouncilConfig
	quota    QuotaGuard
	metrics  Metrics
	counter  types.TokenCounter
	logger   *zap.Logger
	tracer   trace.Tracer
	newRand  func() *rand.Rand
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithQuotaGuard attaches the monthly token quota gate.
func WithQuotaGuard(g QuotaGuard) Option {
	return func(o *Orchestrator) { o.quota = g }
}

// WithMetrics attaches the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithRandSource overrides the per-reviewer label permutation source.
// Tests inject a seeded source for reproducible permutations.
func WithRandSource(newRand func() *rand.Rand) Option {
	return func(o *Orchestrator) { o.newRand = newRand }
}

// New creates an Orchestrator over the given provider and council membership.
func New(provider llm.Provider, cfg config.CouncilConfig, logger *zap.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		provider: provider,
		cfg:      cfg,
		metrics:  noopMetrics{},
		counter:  tokenizer.ForModel(cfg.Chairman),
		logger:   logger.With(zap.String("component", "orchestrator")),
		tracer:   otel.Tracer("council"),
		newRand: func() *rand.Rand {
			return rand.New(rand.NewSource(rand.Int63()))
		},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// EstimateTokens returns the minimum token requirement of a turn: the
// prompt-side estimate multiplied across every planned call (each member's
// first opinion and review, plus the chairman).
func (o *Orchestrator) EstimateTokens(req *TurnRequest) int64 {
	msgs := append(append([]types.Message{}, req.History...), types.NewUserMessage(req.Prompt))
	perCall := int64(o.counter.CountMessagesTokens(msgs))
	est := perCall * int64(2*len(o.cfg.Members)+1)
	if est < 1 {
		est = 1
	}
	return est
}

// Run executes one full turn, emitting progress events to sink in
// state-machine order. The returned Turn is terminal (DONE or ERROR); a
// non-nil error accompanies ERROR. The sink may be nil for synchronous
// callers that only want the terminal Turn.
func (o *Orchestrator) Run(ctx context.Context, req *TurnRequest, sink EventSink) (*Turn, error) {
	ctx, span := o.tracer.Start(ctx, "council.turn",
		trace.WithAttributes(attribute.Int("council.members", len(o.cfg.Members))))
	defer span.End()

	turn := newTurn(req)
	log := o.logger.With(zap.String("turn_id", turn.ID))

	if o.quota != nil {
		reservation, err := o.quota.Check(ctx, req.CallerKey, o.EstimateTokens(req))
		if err != nil {
			o.metrics.QuotaDenied()
			return o.fail(turn, sink, err, log)
		}
		defer func() {
			if err := reservation.Settle(context.WithoutCancel(ctx), turn.TotalTokens()); err != nil {
				log.Warn("quota settle failed", zap.Error(err))
			}
		}()
	}

	// Title generation runs alongside the stages; its outcome never affects
	// the turn status.
	var titleCh chan string
	if req.GenerateTitle {
		titleCh = make(chan string, 1)
		titleCtx := llm.WithCallMeta(ctx, llm.CallMeta{CallerKey: req.CallerKey, TurnID: turn.ID, Stage: "title"})
		go func() {
			titleCh <- o.generateTitle(titleCtx, req.Prompt)
		}()
	}

	if err := o.runStage1(ctx, turn, req, sink, log); err != nil {
		return o.fail(turn, sink, err, log)
	}
	o.runStage2(ctx, turn, req, sink, log)
	if err := o.runStage3(ctx, turn, req, sink, log); err != nil {
		return o.fail(turn, sink, err, log)
	}

	if titleCh != nil {
		turn.Title = <-titleCh
		emit(sink, Event{Type: EventTitleComplete, Data: map[string]string{"title": turn.Title}})
	}

	turn.setStatus(StatusDone)
	emit(sink, Event{Type: EventComplete})
	o.metrics.TurnCompleted(string(StatusDone))
	log.Info("turn complete",
		zap.Int("stage1_ok", countOK(turn.Stage1)),
		zap.Int("votes", len(turn.Stage2.Votes)),
	)
	return turn, nil
}

// fail transitions the turn to ERROR and emits the terminal error event.
func (o *Orchestrator) fail(turn *Turn, sink EventSink, err error, log *zap.Logger) (*Turn, error) {
	turn.ErrorText = err.Error()
	turn.setStatus(StatusError)
	emit(sink, Event{Type: EventError, Message: err.Error()})
	o.metrics.TurnCompleted(string(StatusError))
	log.Warn("turn failed", zap.Error(err))
	return turn, err
}

// runStage1 fans out the first-opinion call to every member concurrently and
// waits for all of them to settle. At least one success is required.
func (o *Orchestrator) runStage1(ctx context.Context, turn *Turn, req *TurnRequest, sink EventSink, log *zap.Logger) error {
	ctx, span := o.tracer.Start(ctx, "council.stage1")
	defer span.End()
	ctx = llm.WithCallMeta(ctx, llm.CallMeta{CallerKey: req.CallerKey, TurnID: turn.ID, Stage: "stage1"})
	start := time.Now()

	turn.setStatus(StatusStage1)
	emit(sink, Event{Type: EventStage1Start})

	msgs := append(append([]types.Message{}, req.History...), types.NewUserMessage(req.Prompt))
	timeout := o.cfg.Modes.TimeoutForMode(req.Mode)

	results := make([]Stage1Result, len(o.cfg.Members))
	g, gctx := errgroup.WithContext(ctx)
	for i, model := range o.cfg.Members {
		g.Go(func() error {
			resp, err := o.provider.Completion(gctx, &llm.ChatRequest{
				Model:    model,
				Messages: msgs,
				Timeout:  timeout,
			})
			if err != nil {
				results[i] = Stage1Result{
					Model:     model,
					ErrorCode: types.GetErrorCode(err),
					ErrorText: err.Error(),
				}
				return nil
			}
			results[i] = Stage1Result{
				Model:     model,
				Content:   resp.Content,
				OK:        true,
				Usage:     resp.Usage,
				LatencyMs: resp.Latency.Milliseconds(),
			}
			return nil
		})
	}
	g.Wait()

	turn.Stage1 = results
	o.metrics.ObserveStageDuration("stage1", time.Since(start))

	ok := countOK(results)
	log.Info("stage1 settled", zap.Int("ok", ok), zap.Int("members", len(results)))
	if ok == 0 {
		return types.NewError(types.ErrAllProvidersFailed,
			"all council members failed to respond").WithHTTPStatus(502)
	}

	emit(sink, Event{Type: EventStage1Complete, Data: results})
	return nil
}

// runStage2 collects one ranking vote per successful stage-1 responder.
// Vote failures degrade that vote only; the stage itself always completes.
func (o *Orchestrator) runStage2(ctx context.Context, turn *Turn, req *TurnRequest, sink EventSink, log *zap.Logger) {
	ctx, span := o.tracer.Start(ctx, "council.stage2")
	defer span.End()
	ctx = llm.WithCallMeta(ctx, llm.CallMeta{CallerKey: req.CallerKey, TurnID: turn.ID, Stage: "stage2"})
	start := time.Now()

	turn.setStatus(StatusStage2)
	emit(sink, Event{Type: EventStage2Start})

	var reviewers []string
	for _, r := range turn.Stage1 {
		if r.OK {
			reviewers = append(reviewers, r.Model)
		}
	}

	votes := make([]RankingVote, len(reviewers))
	g, gctx := errgroup.WithContext(ctx)
	for i, reviewer := range reviewers {
		g.Go(func() error {
			votes[i] = o.collectVote(gctx, req, reviewer, turn.Stage1)
			return nil
		})
	}
	g.Wait()

	result := &Stage2Result{Votes: votes}
	for _, v := range votes {
		result.Usage.Add(v.Usage)
		o.metrics.RecordVote(voteOutcome(v))
	}
	result.Aggregate = computeAggregate(votes, o.cfg.Members)
	turn.Stage2 = result

	o.metrics.ObserveStageDuration("stage2", time.Since(start))
	log.Info("stage2 settled",
		zap.Int("votes", len(votes)),
		zap.Int("counted", countParsed(votes)),
	)

	emit(sink, Event{
		Type:     EventStage2Complete,
		Data:     votes,
		Metadata: map[string]any{"aggregate_rankings": result.Aggregate},
	})
}

// collectVote runs one reviewer's ranking call: a fresh anonymized bundle of
// its peers, strict JSON parsing, one correction re-ask, then the ordinal
// text fallback. An unusable vote is returned with ParseOK=false.
func (o *Orchestrator) collectVote(ctx context.Context, req *TurnRequest, reviewer string, stage1 []Stage1Result) RankingVote {
	vote := RankingVote{Reviewer: reviewer}

	peers := peersOf(reviewer, stage1)
	if len(peers) == 0 {
		vote.ParseError = "no peers to review"
		return vote
	}
	bundle := newAnonymizedBundle(o.newRand(), peers)
	timeout := o.cfg.Modes.TimeoutForMode(req.Mode)

	resp, err := o.provider.Completion(ctx, &llm.ChatRequest{
		Model:    reviewer,
		Messages: []types.Message{types.NewUserMessage(buildRankingPrompt(req.Prompt, bundle))},
		Timeout:  timeout,
	})
	if err != nil {
		vote.ParseError = fmt.Sprintf("ranking call failed: %v", err)
		return vote
	}
	vote.Usage.Add(resp.Usage)
	vote.RawText = resp.Content

	judge, parseErr := parseJudgeJSON(resp.Content, bundle)
	if parseErr != nil {
		// One correction re-ask with the violation spelled out.
		retryResp, retryErr := o.provider.Completion(ctx, &llm.ChatRequest{
			Model:    reviewer,
			Messages: []types.Message{types.NewUserMessage(buildCorrectionPrompt(resp.Content, parseErr))},
			Timeout:  timeout,
		})
		if retryErr == nil {
			vote.Usage.Add(retryResp.Usage)
			vote.RawText = retryResp.Content
			judge, parseErr = parseJudgeJSON(retryResp.Content, bundle)
		}
	}

	if judge != nil {
		vote.ParseOK = true
		vote.Ranking = resolveLabels(judge.FinalRanking, bundle)
		vote.FailureModes = judge.FailureModesTop1
		vote.VerificationSteps = judge.VerificationSteps
		return vote
	}

	if labels, ok := parseOrdinalFallback(vote.RawText, bundle); ok {
		vote.ParseOK = true
		vote.Fallback = true
		vote.Ranking = resolveLabels(labels, bundle)
		return vote
	}

	vote.ParseError = parseErr.Error()
	return vote
}

// runStage3 invokes the chairman. There is no fallback synthesizer, so a
// chairman failure is fatal to the turn.
func (o *Orchestrator) runStage3(ctx context.Context, turn *Turn, req *TurnRequest, sink EventSink, log *zap.Logger) error {
	ctx, span := o.tracer.Start(ctx, "council.stage3")
	defer span.End()
	ctx = llm.WithCallMeta(ctx, llm.CallMeta{CallerKey: req.CallerKey, TurnID: turn.ID, Stage: "stage3"})
	start := time.Now()

	turn.setStatus(StatusStage3)
	emit(sink, Event{Type: EventStage3Start})

	resp, err := o.provider.Completion(ctx, &llm.ChatRequest{
		Model: o.cfg.Chairman,
		Messages: []types.Message{
			types.NewUserMessage(buildChairmanPrompt(req.Prompt, turn.Stage1, turn.Stage2)),
		},
		Timeout: o.cfg.Modes.TimeoutForMode(req.Mode),
	})
	o.metrics.ObserveStageDuration("stage3", time.Since(start))
	if err != nil {
		return types.NewError(types.ErrChairmanFailed, "chairman synthesis failed").
			WithCause(err).WithProvider(o.cfg.Chairman).WithHTTPStatus(502)
	}

	turn.Stage3 = &Stage3Result{
		Model:   o.cfg.Chairman,
		Content: resp.Content,
		Usage:   resp.Usage,
	}
	emit(sink, Event{Type: EventStage3Complete, Data: turn.Stage3})
	log.Info("stage3 settled", zap.String("chairman", o.cfg.Chairman))
	return nil
}

// generateTitle derives a short conversation title. Best effort: any failure
// yields the default title.
func (o *Orchestrator) generateTitle(ctx context.Context, prompt string) string {
	model := o.cfg.TitleModel
	if model == "" {
		model = o.cfg.Chairman
	}
	resp, err := o.provider.Completion(ctx, &llm.ChatRequest{
		Model:    model,
		Messages: []types.Message{types.NewUserMessage(buildTitlePrompt(prompt))},
		Timeout:  titleTimeout,
	})
	if err != nil {
		o.logger.Debug("title generation failed", zap.Error(err))
		return defaultTitle
	}
	return sanitizeTitle(resp.Content)
}

func countOK(results []Stage1Result) int {
	n := 0
	for _, r := range results {
		if r.OK {
			n++
		}
	}
	return n
}

// voteOutcome classifies a settled vote for the stage-2 metric.
func voteOutcome(v RankingVote) string {
	switch {
	case v.ParseOK && v.Fallback:
		return "fallback"
	case v.ParseOK:
		return "parsed"
	default:
		return "dropped"
	}
}

func countParsed(votes []RankingVote) int {
	n := 0
	for _, v := range votes {
		if v.ParseOK {
			n++
		}
	}
	return n
}
