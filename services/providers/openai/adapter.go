// Package openai adapts the OpenAI chat completions API to the uniform
// provider surface.
package openai

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

const defaultBaseURL = "https://api.openai.com/v1"

// Adapter implements providers.Provider against the chat completions API
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
		spec:    spec,
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		// Deadlines come from per-call contexts, not a client-wide timeout,
		// so a 60s stream is not cut off by the 30s generate bound.
		httpClient: &http.Client{},
	}, nil
}

// Name returns the configured provider name
func (a *Adapter) Name() string {
	return a.spec.Name
}

// Generate performs a buffered chat completion
func (a *Adapter) Generate(ctx context.Context, req *providers.GenerateRequest) (*providers.GenerateResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, providers.GenerateTimeout)
	defer cancel()

	start := time.Now()

	body, status, header, err := a.post(ctx, "/chat/completions", a.buildRequest(req, false))
	if err != nil {
		return nil, providers.ClassifyTransport(a.Name(), time.Since(start), err)
	}
	if status != http.StatusOK {
		return nil, providers.ClassifyStatus(a.Name(), status, header.Get("Retry-After"))
	}

	var wire chatResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, &providers.NetworkError{Provider: a.Name(), Cause: fmt.Errorf("malformed response: %w", err)}
	}
	if len(wire.Choices) == 0 {
		return nil, &providers.NetworkError{Provider: a.Name(), Cause: fmt.Errorf("response carried no choices")}
	}

	return &providers.GenerateResponse{
		Content:      wire.Choices[0].Message.Content,
		Model:        wire.Model,
		FinishReason: wire.Choices[0].FinishReason,
		Usage:        wire.Usage.toTokenUsage(),
		LatencyMs:    time.Since(start).Milliseconds(),
	}, nil
}

// GenerateStream performs a streaming chat completion over SSE
func (a *Adapter) GenerateStream(ctx context.Context, req *providers.GenerateRequest) (<-chan providers.StreamChunk, error) {
	ctx, cancel := context.WithTimeout(ctx, providers.StreamTimeout)

	start := time.Now()

	payload, err := json.Marshal(a.buildRequest(req, true))
	if err != nil {
		cancel()
		return nil, &providers.NetworkError{Provider: a.Name(), Cause: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/chat/completions", bytes.NewReader(payload))
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

// readStream parses SSE lines until [DONE], an error, or cancellation.
// Closing the body on exit releases the connection in every case.
func (a *Adapter) readStream(ctx context.Context, cancel context.CancelFunc, body io.ReadCloser, out chan<- providers.StreamChunk, start time.Time) {
	defer cancel()
	defer body.Close()
	defer close(out)

	var usage *providers.TokenUsage

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			out <- providers.StreamChunk{Usage: usage, Done: true}
			return
		}

		var wire streamEvent
		if err := json.Unmarshal([]byte(data), &wire); err != nil {
			// Skip malformed keep-alive frames rather than killing the stream
			continue
		}
		if wire.Usage != nil {
			u := wire.Usage.toTokenUsage()
			usage = &u
		}
		if len(wire.Choices) > 0 && wire.Choices[0].Delta.Content != "" {
			select {
			case out <- providers.StreamChunk{Content: wire.Choices[0].Delta.Content}:
			case <-ctx.Done():
				return
			}
		}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		out <- providers.StreamChunk{Err: providers.ClassifyTransport(a.Name(), time.Since(start), err)}
		return
	}

	// Stream ended without [DONE]
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
	req.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}

// post sends one JSON request and returns the raw response
func (a *Adapter) post(ctx context.Context, path string, reqBody any) ([]byte, int, http.Header, error) {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, 0, nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, 0, nil, err
	}
	a.setHeaders(httpReq)

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, nil, err
	}

	return body, resp.StatusCode, resp.Header, nil
}

func (a *Adapter) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.apiKey)
}

// buildRequest converts the unified request to the wire format
func (a *Adapter) buildRequest(req *providers.GenerateRequest, stream bool) *chatRequest {
	wire := &chatRequest{
		Model:    a.spec.Model,
		Messages: make([]chatMessage, 0, len(req.Messages)+1),
		Stream:   stream,
	}

	if req.System != "" {
		wire.Messages = append(wire.Messages, chatMessage{Role: "system", Content: req.System})
	}
	for _, m := range req.Messages {
		wire.Messages = append(wire.Messages, chatMessage{Role: m.Role, Content: m.Content})
	}

	if req.MaxTokens > 0 {
		wire.MaxTokens = &req.MaxTokens
	}
	if req.Temperature != nil {
		wire.Temperature = req.Temperature
	}
	if stream {
		wire.StreamOptions = &streamOptions{IncludeUsage: true}
	}

	return wire
}

// Wire types

type chatRequest struct {
	Model         string         `json:"model"`
	Messages      []chatMessage  `json:"messages"`
	MaxTokens     *int           `json:"max_tokens,omitempty"`
	Temperature   *float64       `json:"temperature,omitempty"`
	Stream        bool           `json:"stream,omitempty"`
	StreamOptions *streamOptions `json:"stream_options,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type chatUsage struct {
	PromptTokens        int `json:"prompt_tokens"`
	CompletionTokens    int `json:"completion_tokens"`
	TotalTokens         int `json:"total_tokens"`
	PromptTokensDetails *struct {
		CachedTokens int `json:"cached_tokens"`
	} `json:"prompt_tokens_details,omitempty"`
}

func (u chatUsage) toTokenUsage() providers.TokenUsage {
	usage := providers.TokenUsage{
		InputTokens:  u.PromptTokens,
		OutputTokens: u.CompletionTokens,
	}
	if u.PromptTokensDetails != nil {
		usage.CacheReadTokens = u.PromptTokensDetails.CachedTokens
	}
	return usage
}

type streamEvent struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *chatUsage `json:"usage"`
}
