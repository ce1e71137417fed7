package utils

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestWriteJSON(t *testing.T) {
	t.Run("WithPayload", func(t *testing.T) {
		rec := httptest.NewRecorder()
		require.NoError(t, WriteJSON(rec, http.StatusOK, map[string]string{"key": "value"}))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, "value", body["key"])
	})

	t.Run("NilPayloadWritesNoBody", func(t *testing.T) {
		rec := httptest.NewRecorder()
		require.NoError(t, WriteJSON(rec, http.StatusOK, nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Zero(t, rec.Body.Len())
	})
}

func TestWriteOK(t *testing.T) {
	rec := httptest.NewRecorder()
	require.NoError(t, WriteOK(rec, map[string]int{"count": 3}))

	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]int
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, 3, body["count"])
}

func TestWriteBadRequest(t *testing.T) {
	rec := httptest.NewRecorder()
	details := map[string]interface{}{"Prompt": "Prompt is required"}
	require.NoError(t, WriteBadRequest(rec, "Validation failed", details))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, "bad_request", resp.Error)
	assert.Equal(t, "Validation failed", resp.Message)
	assert.Equal(t, "Prompt is required", resp.Details["Prompt"])
}

func TestWriteUnauthorized(t *testing.T) {
	t.Run("DefaultMessage", func(t *testing.T) {
		rec := httptest.NewRecorder()
		require.NoError(t, WriteUnauthorized(rec, ""))

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		resp := decodeError(t, rec)
		assert.Equal(t, "unauthorized", resp.Error)
		assert.Equal(t, "Authentication required", resp.Message)
	})

	t.Run("CustomMessage", func(t *testing.T) {
		rec := httptest.NewRecorder()
		require.NoError(t, WriteUnauthorized(rec, "Token expired"))

		resp := decodeError(t, rec)
		assert.Equal(t, "Token expired", resp.Message)
	})
}

func TestWriteForbidden(t *testing.T) {
	rec := httptest.NewRecorder()
	require.NoError(t, WriteForbidden(rec, ""))

	assert.Equal(t, http.StatusForbidden, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, "forbidden", resp.Error)
	assert.Equal(t, "Access forbidden", resp.Message)
}

func TestWriteTooManyRequests(t *testing.T) {
	t.Run("SetsRetryAfterHeader", func(t *testing.T) {
		rec := httptest.NewRecorder()
		require.NoError(t, WriteTooManyRequests(rec, "requests per minute exceeded", 42, nil))

		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, "42", rec.Header().Get("Retry-After"))
		resp := decodeError(t, rec)
		assert.Equal(t, "rate_limit_exceeded", resp.Error)
		assert.Equal(t, "requests per minute exceeded", resp.Message)
	})

	t.Run("NoHeaderWithoutHint", func(t *testing.T) {
		rec := httptest.NewRecorder()
		require.NoError(t, WriteTooManyRequests(rec, "", 0, nil))

		assert.Empty(t, rec.Header().Get("Retry-After"))
		resp := decodeError(t, rec)
		assert.Equal(t, "Rate limit exceeded", resp.Message)
	})
}

func TestWriteBadGateway(t *testing.T) {
	rec := httptest.NewRecorder()
	details := map[string]interface{}{"error_kind": "server"}
	require.NoError(t, WriteBadGateway(rec, "", details))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, "bad_gateway", resp.Error)
	assert.Equal(t, "Upstream provider error", resp.Message)
	assert.Equal(t, "server", resp.Details["error_kind"])
}

func TestWriteGatewayTimeout(t *testing.T) {
	rec := httptest.NewRecorder()
	require.NoError(t, WriteGatewayTimeout(rec, ""))

	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, "gateway_timeout", resp.Error)
	assert.Equal(t, "Upstream provider timed out", resp.Message)
}

func TestWriteInternalServerError(t *testing.T) {
	rec := httptest.NewRecorder()
	require.NoError(t, WriteInternalServerError(rec, ""))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, "internal_error", resp.Error)
	assert.Equal(t, "Internal server error", resp.Message)
}
