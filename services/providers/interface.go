// Package providers defines the uniform surface the orchestrator uses to talk
// to upstream LLM providers, the wire adapters implementing it, and the closed
// error taxonomy that drives fallback decisions.
package providers

import (
	"context"
	"time"
)

// Call deadlines. Adapters enforce these themselves so misbehaving callers
// cannot hold a connection open indefinitely.
const (
	// GenerateTimeout bounds a buffered completion call
	GenerateTimeout = 30 * time.Second

	// StreamTimeout bounds an entire streaming call, first byte to last
	StreamTimeout = 60 * time.Second

	// ProbeTimeout bounds an availability probe
	ProbeTimeout = 2 * time.Second
)

// Provider is the uniform capability surface for one upstream LLM provider
type Provider interface {
	// Name returns the configured provider name (e.g. "openai-primary")
	Name() string

	// Generate performs a buffered completion request
	Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error)

	// GenerateStream performs a streaming completion request. The returned
	// channel is finite: the adapter closes it after delivering a chunk with
	// Done set or Err set. Cancelling ctx aborts the stream and releases the
	// underlying connection.
	GenerateStream(ctx context.Context, req *GenerateRequest) (<-chan StreamChunk, error)

	// IsAvailable reports whether the provider answers a lightweight probe.
	// Implementations must honor ctx deadlines; callers pass ProbeTimeout.
	IsAvailable(ctx context.Context) bool
}

// Message is a single conversation turn
type Message struct {
	// Role is "user" or "assistant"
	Role string `json:"role"`

	// Content is the message text
	Content string `json:"content"`
}

// GenerateRequest is a unified completion request
type GenerateRequest struct {
	// Messages in the conversation, oldest first
	Messages []Message `json:"messages"`

	// System is an optional system prompt passed through verbatim
	System string `json:"system,omitempty"`

	// MaxTokens limits the response length (0 lets the adapter pick a default)
	MaxTokens int `json:"max_tokens,omitempty"`

	// Temperature controls sampling randomness; nil leaves the provider default
	Temperature *float64 `json:"temperature,omitempty"`
}

// PromptChars returns the total character length of system and message content.
// Used for pre-flight token estimation.
func (r *GenerateRequest) PromptChars() int {
	total := len(r.System)
	for _, m := range r.Messages {
		total += len(m.Content)
	}
	return total
}

// TokenUsage holds provider-reported token counts for one call
type TokenUsage struct {
	// InputTokens is the full prompt size, cache hits included
	InputTokens int `json:"input_tokens"`

	// OutputTokens is the completion size
	OutputTokens int `json:"output_tokens"`

	// CacheReadTokens is the portion of InputTokens served from the
	// provider's prompt cache
	CacheReadTokens int `json:"cache_read_tokens,omitempty"`
}

// Total returns input plus output tokens
func (u TokenUsage) Total() int {
	return u.InputTokens + u.OutputTokens
}

// Add accumulates another usage count into this one
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CacheReadTokens += other.CacheReadTokens
}

// GenerateResponse is a unified completion response
type GenerateResponse struct {
	// Content is the completion text
	Content string `json:"content"`

	// Model that produced the completion, as reported by the provider
	Model string `json:"model"`

	// FinishReason indicates why the completion stopped ("stop", "length", ...)
	FinishReason string `json:"finish_reason"`

	// Usage holds provider-reported token counts
	Usage TokenUsage `json:"usage"`

	// LatencyMs is the wall-clock duration of the call
	LatencyMs int64 `json:"latency_ms"`
}

// StreamChunk is one element of a streaming response. Exactly one terminal
// chunk arrives per stream: either Done with the final Usage, or Err.
type StreamChunk struct {
	// Content is the text delta carried by this chunk
	Content string `json:"content,omitempty"`

	// Usage is set on the terminal chunk when the provider reports counts
	Usage *TokenUsage `json:"usage,omitempty"`

	// Done marks the successful end of the stream
	Done bool `json:"done,omitempty"`

	// Err marks an aborted stream
	Err error `json:"-"`
}
