// Package handlers exposes the orchestration core over HTTP: generate,
// stream, diagnostics and health. Handlers stay thin; every decision lives
// in the services.
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/opswatch/llm-orchestrator/middleware"
	"github.com/opswatch/llm-orchestrator/services/fallback"
	"github.com/opswatch/llm-orchestrator/services/providers"
	"github.com/opswatch/llm-orchestrator/utils"
)

// maxTimeoutMs caps the caller-supplied per-request deadline
const maxTimeoutMs = 120_000

// Orchestrator is the surface the handlers need from the fallback service
type Orchestrator interface {
	Execute(ctx context.Context, req *providers.GenerateRequest) (*fallback.Result, error)
	ExecuteStream(ctx context.Context, req *providers.GenerateRequest) (<-chan providers.StreamChunk, *fallback.Selection, error)
}

// GenerateRequest is the HTTP request body for generate and stream calls
type GenerateRequest struct {
	Messages    []Message `json:"messages" validate:"required,min=1,dive"`
	System      string    `json:"system,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty" validate:"gte=0"`
	Temperature *float64  `json:"temperature,omitempty" validate:"omitempty,gte=0,lte=2"`
	TimeoutMs   int       `json:"timeout_ms,omitempty" validate:"gte=0"`
}

// Message is one conversation turn in the HTTP body
type Message struct {
	Role    string `json:"role" validate:"required,oneof=user assistant"`
	Content string `json:"content" validate:"required"`
}

// GenerateResponse is the HTTP response body for a buffered generate call
type GenerateResponse struct {
	RequestID    string             `json:"request_id"`
	Provider     string             `json:"provider"`
	Model        string             `json:"model"`
	Content      string             `json:"content"`
	FinishReason string             `json:"finish_reason"`
	Usage        UsageBlock         `json:"usage"`
	Cost         float64            `json:"cost"`
	LatencyMs    int64              `json:"latency_ms"`
	Attempts     []fallback.Attempt `json:"attempts,omitempty"`
}

// UsageBlock reports token counts of one call
type UsageBlock struct {
	InputTokens     int `json:"input_tokens"`
	OutputTokens    int `json:"output_tokens"`
	CacheReadTokens int `json:"cache_read_tokens,omitempty"`
	TotalTokens     int `json:"total_tokens"`
}

// GenerateHandler serves the generate and stream endpoints
type GenerateHandler struct {
	orchestrator Orchestrator
	logger       *zap.Logger
}

// NewGenerateHandler creates a GenerateHandler
func NewGenerateHandler(orchestrator Orchestrator, logger *zap.Logger) *GenerateHandler {
	return &GenerateHandler{
		orchestrator: orchestrator,
		logger:       logger,
	}
}

// HandleGenerate handles POST /api/v1/generate
func (h *GenerateHandler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	req, serviceReq, ok := h.decode(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	if req.TimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(min(req.TimeoutMs, maxTimeoutMs))*time.Millisecond)
		defer cancel()
	}

	result, err := h.orchestrator.Execute(ctx, serviceReq)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	resp := GenerateResponse{
		RequestID:    result.RequestID,
		Provider:     result.Provider,
		Model:        result.Response.Model,
		Content:      result.Response.Content,
		FinishReason: result.Response.FinishReason,
		Usage: UsageBlock{
			InputTokens:     result.Response.Usage.InputTokens,
			OutputTokens:    result.Response.Usage.OutputTokens,
			CacheReadTokens: result.Response.Usage.CacheReadTokens,
			TotalTokens:     result.Response.Usage.Total(),
		},
		Cost:      result.Cost,
		LatencyMs: result.Response.LatencyMs,
		Attempts:  result.Attempts,
	}
	_ = utils.WriteJSON(w, http.StatusOK, resp)
}

// HandleStream handles POST /api/v1/generate/stream with SSE output.
// Each chunk is one `data:` frame; the stream ends with a final frame
// carrying done plus usage, or an error frame.
func (h *GenerateHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	_, serviceReq, ok := h.decode(w, r)
	if !ok {
		return
	}

	flusher, canFlush := w.(http.Flusher)
	if !canFlush {
		_ = utils.WriteInternalServerError(w, "streaming unsupported by connection")
		return
	}

	chunks, selection, err := h.orchestrator.ExecuteStream(r.Context(), serviceReq)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Provider", selection.Provider)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for chunk := range chunks {
		frame := streamFrame{
			RequestID: selection.RequestID,
			Provider:  selection.Provider,
			Content:   chunk.Content,
			Done:      chunk.Done,
		}
		if chunk.Usage != nil {
			frame.Usage = &UsageBlock{
				InputTokens:     chunk.Usage.InputTokens,
				OutputTokens:    chunk.Usage.OutputTokens,
				CacheReadTokens: chunk.Usage.CacheReadTokens,
				TotalTokens:     chunk.Usage.Total(),
			}
		}
		if chunk.Err != nil {
			frame.Error = chunk.Err.Error()
		}

		if err := writeSSE(w, frame); err != nil {
			// The client went away; the relay drains on ctx cancellation
			h.logger.Debug("stream client disconnected",
				zap.String("request_id", selection.RequestID),
				zap.Error(err))
			return
		}
		flusher.Flush()
	}

	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

// streamFrame is one SSE data payload
type streamFrame struct {
	RequestID string      `json:"request_id"`
	Provider  string      `json:"provider"`
	Content   string      `json:"content,omitempty"`
	Usage     *UsageBlock `json:"usage,omitempty"`
	Done      bool        `json:"done,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// writeSSE writes one JSON data frame
func writeSSE(w http.ResponseWriter, frame streamFrame) error {
	payload, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", payload)
	return err
}

// decode parses and validates the request body, translating it to the
// service request shape
func (h *GenerateHandler) decode(w http.ResponseWriter, r *http.Request) (*GenerateRequest, *providers.GenerateRequest, bool) {
	var req GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.WriteBadRequest(w, "invalid JSON body", nil)
		return nil, nil, false
	}

	if err := utils.ValidateStruct(&req); err != nil {
		h.logger.Debug("generate request validation failed",
			zap.String("request_id", middleware.GetRequestID(r.Context())),
			zap.Error(err))
		_ = utils.WriteBadRequest(w, err.Error(), toDetails(utils.GetValidationFields(err)))
		return nil, nil, false
	}

	serviceReq := &providers.GenerateRequest{
		System:      req.System,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Messages:    make([]providers.Message, len(req.Messages)),
	}
	for i, m := range req.Messages {
		serviceReq.Messages[i] = providers.Message{Role: m.Role, Content: m.Content}
	}
	return &req, serviceReq, true
}

func toDetails(fields map[string]string) map[string]interface{} {
	if len(fields) == 0 {
		return nil
	}
	details := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		details[k] = v
	}
	return details
}
