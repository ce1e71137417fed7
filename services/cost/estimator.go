// Package cost computes call costs from token usage and a provider pricing
// table. Every function is pure: no clock, no state, no I/O, so the same
// inputs always produce the same outputs.
package cost

import (
	"github.com/opswatch/llm-orchestrator/models"
	"github.com/opswatch/llm-orchestrator/services/providers"
)

// tokensPerMillion is the pricing denominator
const tokensPerMillion = 1_000_000

// Estimate returns the cost in USD of one call. Cache-hit input tokens are
// billed at the input rate reduced by the configured discount; the remaining
// input tokens at the full input rate; output tokens at the output rate.
func Estimate(usage providers.TokenUsage, pricing models.PricingTable) float64 {
	regular := usage.InputTokens - usage.CacheReadTokens
	if regular < 0 {
		regular = 0
	}

	regularCost := float64(regular) / tokensPerMillion * pricing.InputPerMillion
	cachedCost := float64(usage.CacheReadTokens) / tokensPerMillion * pricing.InputPerMillion * (1 - pricing.CacheDiscount)
	outputCost := float64(usage.OutputTokens) / tokensPerMillion * pricing.OutputPerMillion

	return regularCost + cachedCost + outputCost
}

// EstimateTokens approximates the token count of raw text at four characters
// per token, rounded up. Pre-flight admission checks only; recorded usage
// always comes from provider-reported counts.
func EstimateTokens(text string) int {
	if len(text) == 0 {
		return 0
	}
	return (len(text) + 3) / 4
}

// EstimateRequestTokens approximates the prompt token count of a request
func EstimateRequestTokens(req *providers.GenerateRequest) int {
	return (req.PromptChars() + 3) / 4
}
