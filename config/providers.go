package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/opswatch/llm-orchestrator/models"
	"github.com/opswatch/llm-orchestrator/utils"
)

// providersFile is the YAML document shape of the providers file
type providersFile struct {
	Providers []models.ProviderSpec `yaml:"providers"`
}

// LoadProviders reads and validates the provider definitions file. The
// returned specs are sorted by the registry, not here.
func LoadProviders(path string) ([]models.ProviderSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read providers file %s: %w", path, err)
	}

	var doc providersFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse providers file %s: %w", path, err)
	}
	if len(doc.Providers) == 0 {
		return nil, fmt.Errorf("providers file %s defines no providers", path)
	}

	for i := range doc.Providers {
		if err := utils.ValidateStruct(&doc.Providers[i]); err != nil {
			return nil, fmt.Errorf("provider %d: %w", i, err)
		}
	}
	if err := models.ValidateSpecSet(doc.Providers); err != nil {
		return nil, err
	}

	return doc.Providers, nil
}
