// Package anthropic adapts the Anthropic messages API to the uniform
// provider surface.
package anthropic

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/opswatch/llm-orchestrator/models"
	"github.com/opswatch/llm-orchestrator/services/providers"
)

const (
	defaultBaseURL = "https://api.anthropic.com/v1"
	apiVersion     = "2023-06-01"

	// The messages API requires max_tokens; used when the caller leaves it zero
	defaultMaxTokens = 1024
)

// Adapter implements providers.Provider against the messages API
type Adapter struct {
	spec       models.ProviderSpec
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// New creates an adapter from a provider spec. The API key is resolved from
// the env var named by the spec at construction time.
func New(spec models.ProviderSpec) (*Adapter, error) {
	apiKey := os.Getenv(spec.APIKeyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("provider %q: env var %s is empty", spec.Name, spec.APIKeyEnv)
	}

	baseURL := spec.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	return &Adapter{
		spec:       spec,
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
	}, nil
}

// Name returns the configured provider name
func (a *Adapter) Name() string {
	return a.spec.Name
}

// Generate performs a buffered message request
func (a *Adapter) Generate(ctx context.Context, req *providers.GenerateRequest) (*providers.GenerateResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, providers.GenerateTimeout)
	defer cancel()

	start := time.Now()

	payload, err := json.Marshal(a.buildRequest(req, false))
	if err != nil {
		return nil, &providers.NetworkError{Provider: a.Name(), Cause: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, &providers.NetworkError{Provider: a.Name(), Cause: err}
	}
	a.setHeaders(httpReq)

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, providers.ClassifyTransport(a.Name(), time.Since(start), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, providers.ClassifyTransport(a.Name(), time.Since(start), err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, providers.ClassifyStatus(a.Name(), resp.StatusCode, resp.Header.Get("Retry-After"))
	}

	var wire messageResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, &providers.NetworkError{Provider: a.Name(), Cause: fmt.Errorf("malformed response: %w", err)}
	}

	return &providers.GenerateResponse{
		Content:      wire.text(),
		Model:        wire.Model,
		FinishReason: mapStopReason(wire.StopReason),
		Usage:        wire.Usage.toTokenUsage(),
		LatencyMs:    time.Since(start).Milliseconds(),
	}, nil
}

// GenerateStream performs a streaming message request over SSE
func (a *Adapter) GenerateStream(ctx context.Context, req *providers.GenerateRequest) (<-chan providers.StreamChunk, error) {
	ctx, cancel := context.WithTimeout(ctx, providers.StreamTimeout)

	start := time.Now()

	payload, err := json.Marshal(a.buildRequest(req, true))
	if err != nil {
		cancel()
		return nil, &providers.NetworkError{Provider: a.Name(), Cause: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/messages", bytes.NewReader(payload))
	if err != nil {
		cancel()
		return nil, &providers.NetworkError{Provider: a.Name(), Cause: err}
	}
	a.setHeaders(httpReq)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		cancel()
		return nil, providers.ClassifyTransport(a.Name(), time.Since(start), err)
	}
	if resp.StatusCode != http.StatusOK {
		retryAfter := resp.Header.Get("Retry-After")
		resp.Body.Close()
		cancel()
		return nil, providers.ClassifyStatus(a.Name(), resp.StatusCode, retryAfter)
	}

	out := make(chan providers.StreamChunk, 16)
	go a.readStream(ctx, cancel, resp.Body, out, start)
	return out, nil
}

// readStream parses typed SSE events until message_stop, an error event, or
// cancellation. Usage accumulates across message_start and message_delta.
func (a *Adapter) readStream(ctx context.Context, cancel context.CancelFunc, body io.ReadCloser, out chan<- providers.StreamChunk, start time.Time) {
	defer cancel()
	defer body.Close()
	defer close(out)

	var usage providers.TokenUsage

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		var event streamEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
			continue
		}

		switch event.Type {
		case "message_start":
			if event.Message != nil {
				usage.Add(event.Message.Usage.toTokenUsage())
			}
		case "content_block_delta":
			if event.Delta != nil && event.Delta.Text != "" {
				select {
				case out <- providers.StreamChunk{Content: event.Delta.Text}:
				case <-ctx.Done():
					return
				}
			}
		case "message_delta":
			if event.Usage != nil {
				usage.OutputTokens += event.Usage.OutputTokens
			}
		case "message_stop":
			final := usage
			out <- providers.StreamChunk{Usage: &final, Done: true}
			return
		case "error":
			out <- providers.StreamChunk{Err: &providers.ServerError{Provider: a.Name(), StatusCode: http.StatusInternalServerError}}
			return
		}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		out <- providers.StreamChunk{Err: providers.ClassifyTransport(a.Name(), time.Since(start), err)}
		return
	}

	out <- providers.StreamChunk{Err: &providers.NetworkError{Provider: a.Name(), Cause: fmt.Errorf("stream closed before completion")}}
}

// IsAvailable probes the models endpoint
func (a *Adapter) IsAvailable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, providers.ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/models", nil)
	if err != nil {
		return false
	}
	req.Header.Set("x-api-key", a.apiKey)
	req.Header.Set("anthropic-version", apiVersion)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}

func (a *Adapter) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", a.apiKey)
	req.Header.Set("anthropic-version", apiVersion)
}

// buildRequest converts the unified request to the wire format
func (a *Adapter) buildRequest(req *providers.GenerateRequest, stream bool) *messageRequest {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	wire := &messageRequest{
		Model:     a.spec.Model,
		MaxTokens: maxTokens,
		Messages:  make([]wireMessage, len(req.Messages)),
		Stream:    stream,
	}
	for i, m := range req.Messages {
		wire.Messages[i] = wireMessage{Role: m.Role, Content: m.Content}
	}
	if req.System != "" {
		wire.System = req.System
	}
	if req.Temperature != nil {
		wire.Temperature = req.Temperature
	}

	return wire
}

// mapStopReason converts messages-API stop reasons to the uniform vocabulary
func mapStopReason(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence":
		return "stop"
	case "max_tokens":
		return "length"
	default:
		return reason
	}
}

// Wire types

type messageRequest struct {
	Model       string        `json:"model"`
	MaxTokens   int           `json:"max_tokens"`
	Messages    []wireMessage `json:"messages"`
	System      string        `json:"system,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messageResponse struct {
	ID         string         `json:"id"`
	Model      string         `json:"model"`
	Content    []contentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
	Usage      wireUsage      `json:"usage"`
}

func (r *messageResponse) text() string {
	var b strings.Builder
	for _, block := range r.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String()
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// wireUsage reports input_tokens net of cache reads; the uniform TokenUsage
// counts the full prompt, so cache reads fold back into InputTokens.
type wireUsage struct {
	InputTokens     int `json:"input_tokens"`
	OutputTokens    int `json:"output_tokens"`
	CacheReadTokens int `json:"cache_read_input_tokens"`
}

func (u wireUsage) toTokenUsage() providers.TokenUsage {
	return providers.TokenUsage{
		InputTokens:     u.InputTokens + u.CacheReadTokens,
		OutputTokens:    u.OutputTokens,
		CacheReadTokens: u.CacheReadTokens,
	}
}

type streamEvent struct {
	Type    string `json:"type"`
	Message *struct {
		Usage wireUsage `json:"usage"`
	} `json:"message"`
	Delta *struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Usage *wireUsage `json:"usage"`
}
