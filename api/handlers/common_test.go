package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/council/types"
)

func TestWriteError_StatusMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"quota", types.NewQuotaExceededError(1200, 1000), http.StatusPaymentRequired, "QUOTA_EXCEEDED"},
		{"invalid", types.NewError(types.ErrInvalidRequest, "bad"), http.StatusBadRequest, "INVALID_REQUEST"},
		{"chairman", types.NewError(types.ErrChairmanFailed, "down"), http.StatusBadGateway, "CHAIRMAN_FAILED"},
		{"explicit status wins", types.NewError(types.ErrUpstreamError, "x").WithHTTPStatus(503), http.StatusServiceUnavailable, "UPSTREAM_ERROR"},
		{"untyped", errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteError(rec, tc.err, zap.NewNop())

			assert.Equal(t, tc.status, rec.Code)
			var resp Response
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.False(t, resp.Success)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tc.code, resp.Error.Code)
		})
	}
}

func TestWriteError_DoesNotLeakCause(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, errors.New("dsn=postgres://user:hunter2@db"), zap.NewNop())

	assert.NotContains(t, rec.Body.String(), "hunter2")
}

func TestDecodeJSONBody_RejectsUnknownFields(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/", strings.NewReader(`{"prompt":"hi","bogus":1}`))

	var dst struct {
		Prompt string `json:"prompt"`
	}
	err := DecodeJSONBody(rec, req, &dst, zap.NewNop())
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWriteSuccess_Envelope(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteSuccess(rec, map[string]string{"hello": "world"})

	require.Equal(t, http.StatusOK, rec.Code)
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.False(t, resp.Timestamp.IsZero())
}
