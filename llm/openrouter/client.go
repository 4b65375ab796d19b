// Package openrouter implements llm.Provider against the OpenRouter
// chat-completions API. One Client serves every council model; the model is
// selected per request.
package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/BaSui01/council/config"
	"github.com/BaSui01/council/llm"
	"github.com/BaSui01/council/llm/retry"
	"github.com/BaSui01/council/types"
)

const maxErrorBodyBytes = 2048

// Client is the OpenRouter chat-completion provider. Concurrency is bounded
// by a weighted semaphore and requests are optionally paced by a client-side
// rate limiter. After an upstream 401/403 the client fails fast for the
// configured cooldown window instead of burning retries on a dead key.
type Client struct {
	cfg     config.OpenRouterConfig
	http    *http.Client
	retryer retry.Retryer
	sem     *semaphore.Weighted
	limiter *rate.Limiter
	pricing map[string]config.ModelPricing
	observe llm.UsageObserver
	logger  *zap.Logger

	mu            sync.Mutex
	authInvalidAt time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithPricing sets the per-model pricing table used for cost estimates.
func WithPricing(pricing map[string]config.ModelPricing) Option {
	return func(c *Client) { c.pricing = pricing }
}

// WithUsageObserver attaches the observer that receives one observation per
// settled call.
func WithUsageObserver(obs llm.UsageObserver) Option {
	return func(c *Client) { c.observe = obs }
}

// NewClient creates an OpenRouter client.
func NewClient(cfg config.OpenRouterConfig, logger *zap.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 8
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}

	c := &Client{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "openrouter")),
		sem:    semaphore.NewWeighted(int64(cfg.MaxConcurrency)),
	}
	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.MaxConcurrency)
	}
	c.retryer = retry.NewBackoffRetryer(&retry.Policy{
		MaxRetries:   cfg.MaxRetries,
		InitialDelay: cfg.RetryBaseDelay,
		Multiplier:   2.0,
		Jitter:       true,
	}, c.logger)

	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: cfg.Timeout}
	}
	return c
}

// Name implements llm.Provider.
func (c *Client) Name() string {
	return "openrouter"
}

// chatCompletionRequest is the OpenRouter wire request.
type chatCompletionRequest struct {
	Model       string          `json:"model"`
	Messages    []types.Message `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float32         `json:"temperature,omitempty"`
	Stream      bool            `json:"stream"`
}

// chatCompletionResponse is the OpenRouter wire response.
type chatCompletionResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Completion implements llm.Provider. The call is retried internally on
// retryable failures; exactly one usage observation is emitted once the call
// settles, success or not.
func (c *Client) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	if req.TraceID == "" {
		req.TraceID = uuid.NewString()
	}
	if err := c.checkAuthCooldown(); err != nil {
		c.emit(ctx, req, nil, 0, err)
		return nil, err
	}

	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, types.NewError(types.ErrUpstreamTimeout, "waiting for concurrency slot").
			WithCause(err).WithRetryable(false).WithProvider(req.Model)
	}
	defer c.sem.Release(1)

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, types.NewError(types.ErrUpstreamTimeout, "waiting for rate limiter").
				WithCause(err).WithRetryable(false).WithProvider(req.Model)
		}
	}

	callCtx := ctx
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	start := time.Now()
	var resp *llm.ChatResponse
	err := c.retryer.Do(callCtx, func() error {
		var attemptErr error
		resp, attemptErr = c.doRequest(callCtx, req)
		return attemptErr
	})
	latency := time.Since(start)

	if err != nil {
		c.logger.Warn("completion failed",
			zap.String("model", req.Model),
			zap.String("trace_id", req.TraceID),
			zap.Duration("latency", latency),
			zap.Error(err),
		)
		c.emit(ctx, req, nil, latency, err)
		return nil, err
	}

	resp.Latency = latency
	c.logger.Debug("completion ok",
		zap.String("model", req.Model),
		zap.String("trace_id", req.TraceID),
		zap.Int("total_tokens", resp.Usage.Total()),
		zap.Duration("latency", latency),
	)
	c.emit(ctx, req, resp, latency, nil)
	return resp, nil
}

// doRequest performs a single HTTP attempt.
func (c *Client) doRequest(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	body, err := json.Marshal(chatCompletionRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "encode request").
			WithCause(err).WithProvider(req.Model)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIURL, bytes.NewReader(body))
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "build request").
			WithCause(err).WithProvider(req.Model)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, c.classifyTransportError(req.Model, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, c.classifyStatus(req.Model, httpResp)
	}

	var wire chatCompletionResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&wire); err != nil {
		return nil, types.NewError(types.ErrResponseParse, "decode response").
			WithCause(err).WithProvider(req.Model)
	}
	if len(wire.Choices) == 0 {
		return nil, types.NewError(types.ErrResponseParse, "response has no choices").
			WithProvider(req.Model)
	}

	resp := &llm.ChatResponse{
		ID:           wire.ID,
		Model:        req.Model,
		Content:      wire.Choices[0].Message.Content,
		FinishReason: wire.Choices[0].FinishReason,
		CreatedAt:    time.Now().UTC(),
	}
	if wire.Usage != nil {
		resp.Usage = types.TokenUsage{
			PromptTokens:     wire.Usage.PromptTokens,
			CompletionTokens: wire.Usage.CompletionTokens,
			TotalTokens:      wire.Usage.TotalTokens,
		}
		resp.Usage.Cost = c.estimateCost(req.Model, resp.Usage)
	}
	return resp, nil
}

// classifyStatus maps non-200 upstream statuses onto the error taxonomy.
func (c *Client) classifyStatus(model string, httpResp *http.Response) *types.Error {
	snippet, _ := io.ReadAll(io.LimitReader(httpResp.Body, maxErrorBodyBytes))
	msg := fmt.Sprintf("upstream status %d: %s", httpResp.StatusCode, string(snippet))

	switch {
	case httpResp.StatusCode == http.StatusTooManyRequests:
		return types.NewError(types.ErrRateLimited, msg).
			WithHTTPStatus(httpResp.StatusCode).WithRetryable(true).WithProvider(model)
	case httpResp.StatusCode == http.StatusUnauthorized:
		c.markAuthInvalid()
		return types.NewError(types.ErrUnauthorized, msg).
			WithHTTPStatus(httpResp.StatusCode).WithProvider(model)
	case httpResp.StatusCode == http.StatusForbidden:
		c.markAuthInvalid()
		return types.NewError(types.ErrForbidden, msg).
			WithHTTPStatus(httpResp.StatusCode).WithProvider(model)
	case httpResp.StatusCode >= 500:
		return types.NewError(types.ErrUpstreamError, msg).
			WithHTTPStatus(httpResp.StatusCode).WithRetryable(true).WithProvider(model)
	default:
		return types.NewError(types.ErrInvalidRequest, msg).
			WithHTTPStatus(httpResp.StatusCode).WithProvider(model)
	}
}

// classifyTransportError maps network-level failures. Timeouts and transient
// network errors are retryable; a cancelled parent context is not.
func (c *Client) classifyTransportError(model string, err error) *types.Error {
	if errors.Is(err, context.Canceled) {
		return types.NewError(types.ErrUpstreamTimeout, "call cancelled").
			WithCause(err).WithProvider(model)
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return types.NewError(types.ErrUpstreamTimeout, "call timed out").
			WithCause(err).WithRetryable(true).WithProvider(model)
	}
	return types.NewError(types.ErrUpstreamError, "network error").
		WithCause(err).WithRetryable(true).WithProvider(model)
}

// markAuthInvalid opens the fail-fast window after an upstream auth rejection.
func (c *Client) markAuthInvalid() {
	if c.cfg.AuthCooldown <= 0 {
		return
	}
	c.mu.Lock()
	c.authInvalidAt = time.Now()
	c.mu.Unlock()
	c.logger.Warn("upstream rejected credentials, entering cooldown",
		zap.Duration("cooldown", c.cfg.AuthCooldown))
}

// checkAuthCooldown returns an error while the auth fail-fast window is open.
func (c *Client) checkAuthCooldown() error {
	if c.cfg.AuthCooldown <= 0 {
		return nil
	}
	c.mu.Lock()
	at := c.authInvalidAt
	c.mu.Unlock()
	if at.IsZero() || time.Since(at) >= c.cfg.AuthCooldown {
		return nil
	}
	return types.NewError(types.ErrUnauthorized, "credentials recently rejected, in cooldown").
		WithHTTPStatus(http.StatusUnauthorized)
}

// estimateCost computes the USD cost from the pricing table. Unknown models
// cost zero.
func (c *Client) estimateCost(model string, usage types.TokenUsage) float64 {
	p, ok := c.pricing[model]
	if !ok {
		return 0
	}
	return float64(usage.PromptTokens)/1e6*p.PromptPer1M +
		float64(usage.CompletionTokens)/1e6*p.CompletionPer1M
}

// emit sends the single settled observation for a call.
func (c *Client) emit(ctx context.Context, req *llm.ChatRequest, resp *llm.ChatResponse, latency time.Duration, callErr error) {
	if c.observe == nil {
		return
	}
	obs := llm.CallObservation{
		TraceID:   req.TraceID,
		Model:     req.Model,
		Status:    "ok",
		LatencyMs: latency.Milliseconds(),
	}
	if callErr != nil {
		obs.Status = "error"
		obs.ErrorText = callErr.Error()
	}
	if resp != nil {
		obs.PromptTokens = resp.Usage.PromptTokens
		obs.CompletionTokens = resp.Usage.CompletionTokens
		obs.TotalTokens = resp.Usage.Total()
		obs.Cost = resp.Usage.Cost
		obs.UsageMissing = resp.Usage == (types.TokenUsage{})
	}
	c.observe(ctx, obs)
}
