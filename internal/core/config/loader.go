package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"reportpipe/internal/guard/budget"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))

	var cfg AppConfig
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Set defaults if necessary
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Budget.SafetyMargin == 0 && cfg.Budget.WarnRatio == 0 {
		cfg.Budget = budget.DefaultPolicy()
	}
	if cfg.Pricing.CollectorCreditCost == 0 {
		cfg.Pricing.CollectorCreditCost = 0.001
	}
	if cfg.Pricing.InferenceTokenCost == 0 {
		cfg.Pricing.InferenceTokenCost = 0.00002
	}

	return &cfg, nil
}
