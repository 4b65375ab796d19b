package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/council/api"
	"github.com/BaSui01/council/types"
)

const maxBodyBytes = 1 << 20 // 1 MB

// Response is the uniform JSON envelope for non-streaming endpoints.
type Response struct {
	Success   bool             `json:"success"`
	Data      any              `json:"data,omitempty"`
	Error     *api.ErrorDetail `json:"error,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// WriteJSON writes a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// WriteSuccess writes a 200 envelope around data.
func WriteSuccess(w http.ResponseWriter, data any) {
	WriteJSON(w, http.StatusOK, Response{
		Success:   true,
		Data:      data,
		Timestamp: time.Now(),
	})
}

// WriteError writes the envelope for any error, mapping *types.Error codes to
// HTTP status. Unknown errors become 500 INTERNAL_ERROR without leaking the
// underlying text.
func WriteError(w http.ResponseWriter, err error, logger *zap.Logger) {
	var typed *types.Error
	if !errors.As(err, &typed) {
		typed = types.NewError(types.ErrInternalError, "internal error").WithCause(err)
	}

	status := typed.HTTPStatus
	if status == 0 {
		status = mapErrorCodeToHTTPStatus(typed.Code)
	}

	if logger != nil {
		logger.Error("API error",
			zap.String("code", string(typed.Code)),
			zap.Int("status", status),
			zap.Error(err),
		)
	}

	WriteJSON(w, status, Response{
		Success: false,
		Error: &api.ErrorDetail{
			Code:      string(typed.Code),
			Message:   typed.Message,
			Retryable: typed.Retryable,
			Provider:  typed.Provider,
		},
		Timestamp: time.Now(),
	})
}

func mapErrorCodeToHTTPStatus(code types.ErrorCode) int {
	switch code {
	case types.ErrInvalidRequest:
		return http.StatusBadRequest
	case types.ErrUnauthorized, types.ErrAuthRequired:
		return http.StatusUnauthorized
	case types.ErrForbidden:
		return http.StatusForbidden
	case types.ErrRateLimited:
		return http.StatusTooManyRequests
	case types.ErrQuotaExceeded:
		return http.StatusPaymentRequired
	case types.ErrUpstreamTimeout:
		return http.StatusGatewayTimeout
	case types.ErrUpstreamError, types.ErrAllProvidersFailed, types.ErrChairmanFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// DecodeJSONBody decodes a JSON request body in strict mode with a size cap.
// On failure it writes the 400 response itself and returns the error.
func DecodeJSONBody(w http.ResponseWriter, r *http.Request, dst any, logger *zap.Logger) error {
	if r.Body == nil {
		err := types.NewError(types.ErrInvalidRequest, "request body is empty")
		WriteError(w, err, logger)
		return err
	}

	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		apiErr := types.NewError(types.ErrInvalidRequest, "invalid JSON body").WithCause(err)
		WriteError(w, apiErr, logger)
		return apiErr
	}
	return nil
}
