package config

import (
	"time"

	"reportpipe/internal/guard/budget"
	"reportpipe/internal/infra/collector"
	"reportpipe/internal/infra/inference"
	redisclient "reportpipe/internal/infra/redis"
	"reportpipe/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server    ServerConfig       `yaml:"server"`
	Database  postgres.Config    `yaml:"database"`
	Redis     redisclient.Config `yaml:"redis"`
	Logging   LoggingConfig      `yaml:"logging"`
	Budget    budget.Policy      `yaml:"budget"`
	Breakers  []BreakerConfig    `yaml:"breakers"`
	Collector collector.Config   `yaml:"collector"`
	Inference inference.Config   `yaml:"inference"`
	Pricing   PricingConfig      `yaml:"pricing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// BreakerConfig holds thresholds for one guarded dependency. Zero fields
// fall back to the breaker package defaults.
type BreakerConfig struct {
	Name              string        `yaml:"name"`
	FailureThreshold  float64       `yaml:"failure_threshold"`
	ResetTimeout      time.Duration `yaml:"reset_timeout"`
	MonitoringPeriod  time.Duration `yaml:"monitoring_period"`
	MinimumThroughput int           `yaml:"minimum_throughput"`
}

// PricingConfig holds the unit costs of metered collaborators in currency
// units.
type PricingConfig struct {
	CollectorCreditCost float64 `yaml:"collector_credit_cost"`
	InferenceTokenCost  float64 `yaml:"inference_token_cost"`
}

// BreakerByName returns the configured thresholds for a dependency, zero
// config when absent.
func (c *AppConfig) BreakerByName(name string) BreakerConfig {
	for _, b := range c.Breakers {
		if b.Name == name {
			return b
		}
	}
	return BreakerConfig{Name: name}
}
