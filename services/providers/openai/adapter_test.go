package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opswatch/llm-orchestrator/models"
	"github.com/opswatch/llm-orchestrator/services/providers"
)

const testKeyEnv = "TEST_OPENAI_API_KEY"

func newTestAdapter(t *testing.T, baseURL string) *Adapter {
	t.Helper()
	t.Setenv(testKeyEnv, "sk-test")

	adapter, err := New(models.ProviderSpec{
		Name:      "openai-primary",
		Kind:      models.ProviderKindOpenAI,
		APIKeyEnv: testKeyEnv,
		BaseURL:   baseURL,
		Model:     "gpt-4o-mini",
		Priority:  10,
	})
	require.NoError(t, err)
	return adapter
}

func testRequest() *providers.GenerateRequest {
	return &providers.GenerateRequest{
		Messages: []providers.Message{{Role: "user", Content: "say hi"}},
	}
}

func TestNew_MissingAPIKey(t *testing.T) {
	t.Setenv(testKeyEnv, "")
	_, err := New(models.ProviderSpec{
		Name:      "openai-primary",
		Kind:      models.ProviderKindOpenAI,
		APIKeyEnv: testKeyEnv,
		Model:     "gpt-4o-mini",
	})
	assert.Error(t, err)
}

func TestGenerate_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var wire chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&wire))
		assert.Equal(t, "gpt-4o-mini", wire.Model)
		assert.False(t, wire.Stream)

		_ = json.NewEncoder(w).Encode(chatResponse{
			Model: "gpt-4o-mini",
			Choices: []chatChoice{{
				Message:      chatMessage{Role: "assistant", Content: "hi there"},
				FinishReason: "stop",
			}},
			Usage: chatUsage{PromptTokens: 12, CompletionTokens: 3},
		})
	}))
	defer server.Close()

	adapter := newTestAdapter(t, server.URL)
	resp, err := adapter.Generate(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "hi there", resp.Content)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, 12, resp.Usage.InputTokens)
	assert.Equal(t, 3, resp.Usage.OutputTokens)
	assert.GreaterOrEqual(t, resp.LatencyMs, int64(0))
}

func TestGenerate_CachedTokens(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"model":"gpt-4o-mini","choices":[{"message":{"role":"assistant","content":"ok"},"finish_reason":"stop"}],"usage":{"prompt_tokens":100,"completion_tokens":5,"prompt_tokens_details":{"cached_tokens":80}}}`)
	}))
	defer server.Close()

	adapter := newTestAdapter(t, server.URL)
	resp, err := adapter.Generate(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, 80, resp.Usage.CacheReadTokens)
}

func TestGenerate_ErrorClassification(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		retryAfter string
		wantKind   providers.ErrorKind
	}{
		{"429 becomes rate limit", http.StatusTooManyRequests, "20", providers.KindRateLimit},
		{"401 becomes auth", http.StatusUnauthorized, "", providers.KindAuth},
		{"403 becomes quota", http.StatusForbidden, "", providers.KindQuota},
		{"500 becomes server", http.StatusInternalServerError, "", providers.KindServer},
		{"400 becomes client", http.StatusBadRequest, "", providers.KindClient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.retryAfter != "" {
					w.Header().Set("Retry-After", tt.retryAfter)
				}
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			adapter := newTestAdapter(t, server.URL)
			_, err := adapter.Generate(context.Background(), testRequest())
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, providers.KindOf(err))
		})
	}

	t.Run("retry-after hint survives classification", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "20")
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer server.Close()

		adapter := newTestAdapter(t, server.URL)
		_, err := adapter.Generate(context.Background(), testRequest())
		var rateLimit *providers.RateLimitError
		require.ErrorAs(t, err, &rateLimit)
		assert.Equal(t, int64(20), rateLimit.RetryAfterSeconds)
	})
}

func TestGenerate_ConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // refuse every connection

	adapter := newTestAdapter(t, server.URL)
	_, err := adapter.Generate(context.Background(), testRequest())
	require.Error(t, err)
	assert.Equal(t, providers.KindNetwork, providers.KindOf(err))
}

func TestGenerateStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var wire chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&wire))
		assert.True(t, wire.Stream)
		require.NotNil(t, wire.StreamOptions)
		assert.True(t, wire.StreamOptions.IncludeUsage)

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"hel\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[],\"usage\":{\"prompt_tokens\":10,\"completion_tokens\":2}}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	adapter := newTestAdapter(t, server.URL)
	chunks, err := adapter.GenerateStream(context.Background(), testRequest())
	require.NoError(t, err)

	var content strings.Builder
	var terminal providers.StreamChunk
	for chunk := range chunks {
		require.NoError(t, chunk.Err)
		content.WriteString(chunk.Content)
		if chunk.Done {
			terminal = chunk
		}
	}

	assert.Equal(t, "hello", content.String())
	require.NotNil(t, terminal.Usage)
	assert.Equal(t, 10, terminal.Usage.InputTokens)
	assert.Equal(t, 2, terminal.Usage.OutputTokens)
}

func TestGenerateStream_TruncatedStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"hel\"}}]}\n\n")
		// Connection closes without [DONE]
	}))
	defer server.Close()

	adapter := newTestAdapter(t, server.URL)
	chunks, err := adapter.GenerateStream(context.Background(), testRequest())
	require.NoError(t, err)

	var last providers.StreamChunk
	for chunk := range chunks {
		last = chunk
	}
	require.Error(t, last.Err)
	assert.Equal(t, providers.KindNetwork, providers.KindOf(last.Err))
}

func TestGenerateStream_UpstreamRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	adapter := newTestAdapter(t, server.URL)
	_, err := adapter.GenerateStream(context.Background(), testRequest())
	require.Error(t, err)
	assert.Equal(t, providers.KindRateLimit, providers.KindOf(err))
}

func TestIsAvailable(t *testing.T) {
	t.Run("healthy endpoint", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/models", r.URL.Path)
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		adapter := newTestAdapter(t, server.URL)
		assert.True(t, adapter.IsAvailable(context.Background()))
	})

	t.Run("failing endpoint", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		adapter := newTestAdapter(t, server.URL)
		assert.False(t, adapter.IsAvailable(context.Background()))
	})

	t.Run("unreachable endpoint", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		server.Close()

		adapter := newTestAdapter(t, server.URL)
		assert.False(t, adapter.IsAvailable(context.Background()))
	})
}
