package handlers

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/opswatch/llm-orchestrator/services/fallback"
	"github.com/opswatch/llm-orchestrator/services/providers"
	"github.com/opswatch/llm-orchestrator/utils"
)

// HandleServiceError maps orchestration errors to HTTP responses. Client
// mistakes come back as 4xx; everything the providers did wrong comes back
// as a gateway status, never a bare 500.
func HandleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if err == nil {
		return
	}

	var (
		validationErr *utils.ValidationError
		exhausted     *fallback.ExhaustedError
		rateLimit     *providers.RateLimitError
		timeout       *providers.TimeoutError
		client        *providers.ClientError
	)

	switch {
	case errors.As(err, &validationErr):
		if werr := utils.WriteBadRequest(w, validationErr.Message, toDetails(validationErr.Fields)); werr != nil {
			logger.Error("failed to write bad request response", zap.Error(werr))
		}

	case errors.As(err, &client):
		// The upstream rejected the request body itself; relay the verdict
		if werr := utils.WriteBadRequest(w, err.Error(), map[string]interface{}{
			"provider":        client.Provider,
			"upstream_status": client.StatusCode,
		}); werr != nil {
			logger.Error("failed to write bad request response", zap.Error(werr))
		}

	case errors.As(err, &exhausted):
		logger.Error("all providers exhausted", zap.Error(err))
		if werr := utils.WriteBadGateway(w, err.Error(), exhaustedDetails(exhausted)); werr != nil {
			logger.Error("failed to write bad gateway response", zap.Error(werr))
		}

	case errors.As(err, &rateLimit):
		if werr := utils.WriteTooManyRequests(w, err.Error(), int(rateLimit.RetryAfterSeconds), nil); werr != nil {
			logger.Error("failed to write rate limit response", zap.Error(werr))
		}

	case errors.As(err, &timeout):
		if werr := utils.WriteGatewayTimeout(w, err.Error()); werr != nil {
			logger.Error("failed to write gateway timeout response", zap.Error(werr))
		}

	case providers.KindOf(err) != providers.KindUnknown:
		// Auth, quota, server and network failures are all provider-side
		if werr := utils.WriteBadGateway(w, err.Error(), map[string]interface{}{
			"error_kind": string(providers.KindOf(err)),
		}); werr != nil {
			logger.Error("failed to write bad gateway response", zap.Error(werr))
		}

	default:
		logger.Error("unhandled service error", zap.Error(err))
		if werr := utils.WriteInternalServerError(w, "An unexpected error occurred"); werr != nil {
			logger.Error("failed to write internal error response", zap.Error(werr))
		}
	}
}

// exhaustedDetails flattens the attempt trail into response details
func exhaustedDetails(exhausted *fallback.ExhaustedError) map[string]interface{} {
	attempts := make([]map[string]interface{}, len(exhausted.Attempts))
	for i, a := range exhausted.Attempts {
		attempts[i] = map[string]interface{}{
			"provider":   a.Provider,
			"error_kind": string(a.ErrorKind),
			"detail":     a.Detail,
		}
	}
	return map[string]interface{}{
		"request_id": exhausted.RequestID,
		"attempts":   attempts,
	}
}
