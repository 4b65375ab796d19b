package openrouter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/council/config"
	"github.com/BaSui01/council/llm"
	"github.com/BaSui01/council/types"
)

func testConfig(url string) config.OpenRouterConfig {
	return config.OpenRouterConfig{
		APIKey:         "test-key",
		APIURL:         url,
		Timeout:        5 * time.Second,
		MaxRetries:     1,
		RetryBaseDelay: time.Millisecond,
		MaxConcurrency: 4,
		AuthCooldown:   time.Minute,
	}
}

func successBody(content string) map[string]any {
	return map[string]any{
		"id":    "gen-123",
		"model": "test/model",
		"choices": []map[string]any{
			{
				"message":       map[string]any{"role": "assistant", "content": content},
				"finish_reason": "stop",
			},
		},
		"usage": map[string]any{
			"prompt_tokens":     10,
			"completion_tokens": 20,
			"total_tokens":      30,
		},
	}
}

func chatReq(model string) *llm.ChatRequest {
	return &llm.ChatRequest{
		Model:    model,
		Messages: []types.Message{types.NewUserMessage("hello")},
	}
}

func TestClient_CompletionSuccess(t *testing.T) {
	t.Parallel()

	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		var wire map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&wire))
		assert.Equal(t, "test/model", wire["model"])
		json.NewEncoder(w).Encode(successBody("hi there"))
	}))
	defer srv.Close()

	var observations int32
	var lastObs llm.CallObservation
	client := NewClient(testConfig(srv.URL), zap.NewNop(),
		WithPricing(map[string]config.ModelPricing{
			"test/model": {PromptPer1M: 1.0, CompletionPer1M: 2.0},
		}),
		WithUsageObserver(func(_ context.Context, obs llm.CallObservation) {
			atomic.AddInt32(&observations, 1)
			lastObs = obs
		}),
	)

	resp, err := client.Completion(context.Background(), chatReq("test/model"))
	require.NoError(t, err)

	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Equal(t, "hi there", resp.Content)
	assert.Equal(t, 30, resp.Usage.Total())
	assert.InDelta(t, 10.0/1e6*1.0+20.0/1e6*2.0, resp.Usage.Cost, 1e-12)

	assert.Equal(t, int32(1), atomic.LoadInt32(&observations))
	assert.Equal(t, "ok", lastObs.Status)
	assert.Equal(t, 30, lastObs.TotalTokens)
	assert.False(t, lastObs.UsageMissing)
	assert.NotEmpty(t, lastObs.TraceID)
}

func TestClient_RetriesOn429ThenSucceeds(t *testing.T) {
	t.Parallel()

	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(successBody("second try"))
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL), zap.NewNop())
	resp, err := client.Completion(context.Background(), chatReq("test/model"))
	require.NoError(t, err)
	assert.Equal(t, "second try", resp.Content)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestClient_ExhaustsRetriesOn5xx(t *testing.T) {
	t.Parallel()

	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	var observations int32
	client := NewClient(testConfig(srv.URL), zap.NewNop(),
		WithUsageObserver(func(_ context.Context, obs llm.CallObservation) {
			atomic.AddInt32(&observations, 1)
			assert.Equal(t, "error", obs.Status)
			assert.NotEmpty(t, obs.ErrorText)
		}),
	)

	_, err := client.Completion(context.Background(), chatReq("test/model"))
	require.Error(t, err)
	assert.Equal(t, types.ErrUpstreamError, types.GetErrorCode(err))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls)) // initial + 1 retry
	assert.Equal(t, int32(1), atomic.LoadInt32(&observations))
}

func TestClient_DoesNotRetry4xx(t *testing.T) {
	t.Parallel()

	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL), zap.NewNop())
	_, err := client.Completion(context.Background(), chatReq("test/model"))
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))
	assert.False(t, types.IsRetryable(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestClient_AuthCooldownFailsFast(t *testing.T) {
	t.Parallel()

	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL), zap.NewNop())

	_, err := client.Completion(context.Background(), chatReq("test/model"))
	require.Error(t, err)
	assert.Equal(t, types.ErrUnauthorized, types.GetErrorCode(err))
	hits := atomic.LoadInt32(&calls)

	// Cooldown is open: the next call must not reach the upstream.
	_, err = client.Completion(context.Background(), chatReq("test/model"))
	require.Error(t, err)
	assert.Equal(t, types.ErrUnauthorized, types.GetErrorCode(err))
	assert.Equal(t, hits, atomic.LoadInt32(&calls))
}

func TestClient_PerRequestTimeout(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.MaxRetries = 0
	client := NewClient(cfg, zap.NewNop())

	req := chatReq("test/model")
	req.Timeout = 50 * time.Millisecond
	_, err := client.Completion(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, types.ErrUpstreamTimeout, types.GetErrorCode(err))
}

func TestClient_MalformedResponse(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices": []}`))
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.MaxRetries = 0
	client := NewClient(cfg, zap.NewNop())
	_, err := client.Completion(context.Background(), chatReq("test/model"))
	require.Error(t, err)
	assert.Equal(t, types.ErrResponseParse, types.GetErrorCode(err))
}
