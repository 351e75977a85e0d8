// Package config loads the agent configuration: yaml file over compiled
// defaults, with a small set of environment overrides for the values that
// differ between deployments.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"tradekernel/internal/adapt"
	"tradekernel/internal/catalyst"
	"tradekernel/internal/domain"
	"tradekernel/internal/feed"
	"tradekernel/internal/orchestrator"
	"tradekernel/internal/policy"
	"tradekernel/internal/regime"
	"tradekernel/internal/store"
)

// RedisConfig wraps the decision-log settings with an enable switch; when
// disabled the audit log stays in memory.
type RedisConfig struct {
	Enabled              bool `yaml:"enabled"`
	store.RedisLogConfig `yaml:",inline"`
}

// Config is the full agent configuration.
type Config struct {
	LogLevel string `yaml:"log_level"`
	HTTPAddr string `yaml:"http_addr"`

	Limits       domain.RiskLimits     `yaml:"limits"`
	Orchestrator orchestrator.Config   `yaml:"orchestrator"`
	Policy       policy.Config         `yaml:"policy"`
	Regime       regime.Thresholds     `yaml:"regime"`
	Adaptation   adapt.Config          `yaml:"adaptation"`
	Catalyst     catalyst.Config       `yaml:"catalyst"`
	Feed         feed.Config           `yaml:"feed"`
	Redis        RedisConfig           `yaml:"redis"`
	Postgres     store.PostgresConfig  `yaml:"postgres"`
}

// Default returns the compiled-in configuration.
func Default() Config {
	return Config{
		LogLevel: "info",
		HTTPAddr: ":8080",
		Limits: domain.RiskLimits{
			MaxPositionSize:        1000,
			MaxDailyLoss:           500,
			MaxLeverage:            3,
			MaxConcurrentPositions: 5,
		},
		Orchestrator: orchestrator.DefaultConfig(),
		Policy:       policy.DefaultConfig(),
		Regime:       regime.DefaultThresholds(),
		Adaptation:   adapt.DefaultConfig(),
		Catalyst:     catalyst.DefaultConfig(),
		Feed:         feed.DefaultConfig(),
		Redis:        RedisConfig{RedisLogConfig: store.DefaultRedisLogConfig()},
		Postgres:     store.DefaultPostgresConfig(),
	}
}

// Load reads path over the defaults, applies environment overrides, and
// validates the result. An empty path skips the file and loads
// defaults-plus-env.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv overlays the deployment-specific environment variables.
func (c *Config) applyEnv() {
	if v := os.Getenv("TRADEKERNEL_LOG_LEVEL"); v != "" {
		c.LogLevel = strings.ToLower(v)
	}
	if v := os.Getenv("TRADEKERNEL_HTTP_ADDR"); v != "" {
		c.HTTPAddr = v
	}
	if v := os.Getenv("TRADEKERNEL_FEED_URL"); v != "" {
		c.Feed.URL = v
	}
	if v := os.Getenv("TRADEKERNEL_REDIS_ADDR"); v != "" {
		c.Redis.Enabled = true
		c.Redis.Addr = v
	}
	if v := os.Getenv("TRADEKERNEL_REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("TRADEKERNEL_POSTGRES_DSN"); v != "" {
		c.Postgres.Enabled = true
		c.Postgres.DSN = v
	}
}

// Validate rejects configurations that cannot run. Policy weights are
// normalized in place as a side effect, matching what the engine does at
// construction.
func (c *Config) Validate() error {
	if err := c.Limits.Validate(); err != nil {
		return fmt.Errorf("invalid risk limits: %w", err)
	}
	if err := c.Policy.Normalize(); err != nil {
		return fmt.Errorf("invalid policy config: %w", err)
	}
	switch c.Adaptation.Speed {
	case domain.SpeedOff, domain.SpeedSlow, domain.SpeedModerate, domain.SpeedAggressive:
	default:
		return fmt.Errorf("unknown adaptation speed %q", c.Adaptation.Speed)
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis enabled without an address")
	}
	if c.Postgres.Enabled && c.Postgres.DSN == "" {
		return fmt.Errorf("postgres enabled without a dsn")
	}
	return nil
}
