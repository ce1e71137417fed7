package models

import "fmt"

// ProviderKind identifies the wire protocol an upstream provider speaks
type ProviderKind string

const (
	ProviderKindOpenAI    ProviderKind = "openai"
	ProviderKindAnthropic ProviderKind = "anthropic"
	ProviderKindStub      ProviderKind = "stub"
)

// ProviderSpec describes one configured upstream provider.
// Specs are immutable after load; a config reload builds a fresh set
// and swaps it in whole.
type ProviderSpec struct {
	Name      string       `yaml:"name" json:"name" validate:"required"`
	Kind      ProviderKind `yaml:"kind" json:"kind" validate:"required,oneof=openai anthropic stub"`
	APIKeyEnv string       `yaml:"api_key_env" json:"api_key_env"` // Env var holding the key, never the key itself
	BaseURL   string       `yaml:"base_url" json:"base_url"`
	Model     string       `yaml:"model" json:"model"`
	Priority  int          `yaml:"priority" json:"priority" validate:"gte=0"` // Lower value is tried first
	Pricing   PricingTable `yaml:"pricing" json:"pricing"`
	Limits    LimitSpec    `yaml:"limits" json:"limits"`
}

// PricingTable holds per-million-token prices for one provider/model pair
type PricingTable struct {
	InputPerMillion  float64 `yaml:"input_per_million" json:"input_per_million" validate:"gte=0"`
	OutputPerMillion float64 `yaml:"output_per_million" json:"output_per_million" validate:"gte=0"`
	CacheDiscount    float64 `yaml:"cache_discount" json:"cache_discount" validate:"gte=0,lte=1"` // Fraction of input price forgiven for cache hits
}

// LimitSpec holds per-provider rate limits. Zero means unlimited for
// that dimension and window.
type LimitSpec struct {
	RequestsPerMinute int64   `yaml:"requests_per_minute" json:"requests_per_minute" validate:"gte=0"`
	RequestsPerHour   int64   `yaml:"requests_per_hour" json:"requests_per_hour" validate:"gte=0"`
	RequestsPerDay    int64   `yaml:"requests_per_day" json:"requests_per_day" validate:"gte=0"`
	TokensPerMinute   int64   `yaml:"tokens_per_minute" json:"tokens_per_minute" validate:"gte=0"`
	TokensPerHour     int64   `yaml:"tokens_per_hour" json:"tokens_per_hour" validate:"gte=0"`
	TokensPerDay      int64   `yaml:"tokens_per_day" json:"tokens_per_day" validate:"gte=0"`
	MaxCostPerMinute  float64 `yaml:"max_cost_per_minute" json:"max_cost_per_minute" validate:"gte=0"`
	MaxCostPerHour    float64 `yaml:"max_cost_per_hour" json:"max_cost_per_hour" validate:"gte=0"`
	MaxCostPerDay     float64 `yaml:"max_cost_per_day" json:"max_cost_per_day" validate:"gte=0"`
}

// IsZero reports whether no limit is configured at all
func (l LimitSpec) IsZero() bool {
	return l == LimitSpec{}
}

// Validate checks spec fields that the struct tags cannot express
func (s *ProviderSpec) Validate() error {
	if s.Kind != ProviderKindStub {
		if s.APIKeyEnv == "" {
			return fmt.Errorf("provider %q: api_key_env is required for kind %q", s.Name, s.Kind)
		}
		if s.Model == "" {
			return fmt.Errorf("provider %q: model is required for kind %q", s.Name, s.Kind)
		}
	}
	return nil
}

// ValidateSpecSet checks cross-spec constraints: unique names and priorities
func ValidateSpecSet(specs []ProviderSpec) error {
	names := make(map[string]bool, len(specs))
	priorities := make(map[int]string, len(specs))

	for i := range specs {
		s := &specs[i]
		if err := s.Validate(); err != nil {
			return err
		}
		if names[s.Name] {
			return fmt.Errorf("duplicate provider name %q", s.Name)
		}
		names[s.Name] = true
		if other, ok := priorities[s.Priority]; ok {
			return fmt.Errorf("providers %q and %q share priority %d", other, s.Name, s.Priority)
		}
		priorities[s.Priority] = s.Name
	}
	return nil
}
