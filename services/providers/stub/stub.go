// Package stub provides a deterministic local responder. It is registered at
// the lowest priority and answers when every real provider has been exhausted,
// so the orchestrator always produces a response.
package stub

import (
	"context"
	"time"

	"github.com/opswatch/llm-orchestrator/models"
	"github.com/opswatch/llm-orchestrator/services/providers"
)

// DefaultReply is returned for every request unless the spec overrides it
const DefaultReply = "The assistant is temporarily running in degraded mode and cannot " +
	"generate a full response. Please retry shortly."

// streamChunkSize is the number of bytes per simulated stream chunk
const streamChunkSize = 32

// Responder implements providers.Provider with a fixed local completion
type Responder struct {
	spec  models.ProviderSpec
	reply string
}

// New creates a stub responder. No credentials or network access involved.
func New(spec models.ProviderSpec) *Responder {
	return &Responder{spec: spec, reply: DefaultReply}
}

// Name returns the configured provider name
func (r *Responder) Name() string {
	return r.spec.Name
}

// Generate returns the fixed reply with deterministic token counts
func (r *Responder) Generate(ctx context.Context, req *providers.GenerateRequest) (*providers.GenerateResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, &providers.TimeoutError{Provider: r.Name()}
	}

	start := time.Now()
	return &providers.GenerateResponse{
		Content:      r.reply,
		Model:        r.spec.Model,
		FinishReason: "stop",
		Usage:        r.usage(req),
		LatencyMs:    time.Since(start).Milliseconds(),
	}, nil
}

// GenerateStream emits the fixed reply in small chunks, then a done chunk
func (r *Responder) GenerateStream(ctx context.Context, req *providers.GenerateRequest) (<-chan providers.StreamChunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, &providers.TimeoutError{Provider: r.Name()}
	}

	out := make(chan providers.StreamChunk, 4)
	usage := r.usage(req)

	go func() {
		defer close(out)
		for i := 0; i < len(r.reply); i += streamChunkSize {
			end := i + streamChunkSize
			if end > len(r.reply) {
				end = len(r.reply)
			}
			select {
			case out <- providers.StreamChunk{Content: r.reply[i:end]}:
			case <-ctx.Done():
				return
			}
		}
		select {
		case out <- providers.StreamChunk{Usage: &usage, Done: true}:
		case <-ctx.Done():
		}
	}()

	return out, nil
}

// IsAvailable always reports true; the stub is the floor of the fallback chain
func (r *Responder) IsAvailable(ctx context.Context) bool {
	return true
}

// usage derives deterministic token counts from request and reply lengths
func (r *Responder) usage(req *providers.GenerateRequest) providers.TokenUsage {
	return providers.TokenUsage{
		InputTokens:  (req.PromptChars() + 3) / 4,
		OutputTokens: (len(r.reply) + 3) / 4,
	}
}
