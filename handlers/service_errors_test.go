package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/opswatch/llm-orchestrator/services/fallback"
	"github.com/opswatch/llm-orchestrator/services/providers"
	"github.com/opswatch/llm-orchestrator/utils"
)

func mapError(t *testing.T, err error) *httptest.ResponseRecorder {
	t.Helper()
	logger, _ := zap.NewDevelopment()
	rec := httptest.NewRecorder()
	HandleServiceError(rec, err, logger)
	return rec
}

func TestHandleServiceError(t *testing.T) {
	t.Run("ValidationError", func(t *testing.T) {
		err := &utils.ValidationError{
			Message: "Validation failed",
			Fields:  map[string]string{"Messages": "Messages is required"},
		}
		rec := mapError(t, err)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		var resp utils.ErrorResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, "Messages is required", resp.Details["Messages"])
	})

	t.Run("ClientErrorRelaysUpstreamVerdict", func(t *testing.T) {
		err := &providers.ClientError{Provider: "openai-primary", StatusCode: 422}
		rec := mapError(t, err)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		var resp utils.ErrorResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, "openai-primary", resp.Details["provider"])
		assert.Equal(t, float64(422), resp.Details["upstream_status"])
	})

	t.Run("ExhaustedCarriesAttemptTrail", func(t *testing.T) {
		err := &fallback.ExhaustedError{
			RequestID: "req-1",
			Attempts: []fallback.Attempt{
				{Provider: "openai-primary", ErrorKind: providers.KindServer, Detail: "status 503"},
				{Provider: "anthropic-secondary", ErrorKind: providers.KindTimeout},
			},
		}
		rec := mapError(t, err)

		assert.Equal(t, http.StatusBadGateway, rec.Code)
		var resp utils.ErrorResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, "req-1", resp.Details["request_id"])
		attempts, ok := resp.Details["attempts"].([]interface{})
		require.True(t, ok)
		require.Len(t, attempts, 2)
		first := attempts[0].(map[string]interface{})
		assert.Equal(t, "openai-primary", first["provider"])
		assert.Equal(t, "server_error", first["error_kind"])
	})

	t.Run("RateLimitWithHint", func(t *testing.T) {
		rec := mapError(t, &providers.RateLimitError{Provider: "openai-primary", RetryAfterSeconds: 12})

		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, "12", rec.Header().Get("Retry-After"))
	})

	t.Run("Timeout", func(t *testing.T) {
		rec := mapError(t, &providers.TimeoutError{Provider: "openai-primary", ElapsedMs: 30000})
		assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	})

	t.Run("AuthMapsToBadGateway", func(t *testing.T) {
		rec := mapError(t, &providers.AuthError{Provider: "openai-primary"})

		assert.Equal(t, http.StatusBadGateway, rec.Code)
		var resp utils.ErrorResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, "auth", resp.Details["error_kind"])
	})

	t.Run("WrappedTaxonomyErrorStillMaps", func(t *testing.T) {
		wrapped := fmt.Errorf("orchestration failed: %w",
			&providers.ServerError{Provider: "openai-primary", StatusCode: 500})
		rec := mapError(t, wrapped)
		assert.Equal(t, http.StatusBadGateway, rec.Code)
	})

	t.Run("UnknownErrorIs500", func(t *testing.T) {
		rec := mapError(t, errors.New("wires crossed"))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		var resp utils.ErrorResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, "An unexpected error occurred", resp.Message)
		assert.NotContains(t, resp.Message, "wires crossed")
	})
}
