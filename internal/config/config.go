// Package config provides configuration management for the relay.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"

	"optionrelay/internal/models"
	"optionrelay/internal/position"
)

const (
	// defaultTargetDelta is used when strategy.target_delta is unset.
	defaultTargetDelta = 0.50
	// defaultTickSize is used when strategy.tick_size is unset.
	defaultTickSize = 0.05
	// defaultInterRequestDelay paces same-account placements when
	// executor.inter_request_delay is unset.
	defaultInterRequestDelay = time.Second
	// defaultAttemptTimeout bounds each broker call when
	// executor.attempt_timeout is unset.
	defaultAttemptTimeout = 15 * time.Second
)

// Config represents the complete application configuration.
type Config struct {
	Environment EnvironmentConfig          `yaml:"environment"`
	Server      ServerConfig               `yaml:"server"`
	Strategy    StrategyConfig             `yaml:"strategy"`
	Executor    ExecutorConfig             `yaml:"executor"`
	Storage     StorageConfig              `yaml:"storage"`
	Telegram    TelegramConfig             `yaml:"telegram"`
	Accounts    []models.SubscribedAccount `yaml:"accounts"`
}

// EnvironmentConfig defines the environment settings.
type EnvironmentConfig struct {
	Mode     string `yaml:"mode"`      // paper | live
	LogLevel string `yaml:"log_level"` // debug | info | warn | error
}

// ServerConfig defines the webhook listener settings.
type ServerConfig struct {
	Port      int    `yaml:"port"`
	AuthToken string `yaml:"auth_token"`
}

// StrategyConfig defines strike selection and sizing parameters.
type StrategyConfig struct {
	Index                string  `yaml:"index"`
	TargetDelta          float64 `yaml:"target_delta"`
	LotSize              int     `yaml:"lot_size"`
	TickSize             float64 `yaml:"tick_size"`
	DuplicateEntryPolicy string  `yaml:"duplicate_entry_policy"` // proceed | reject
}

// ExecutorConfig defines fan-out pacing and protection settings.
type ExecutorConfig struct {
	InterRequestDelay string  `yaml:"inter_request_delay"`
	AttemptTimeout    string  `yaml:"attempt_timeout"`
	ParallelAccounts  bool    `yaml:"parallel_accounts"`
	StopLossDelay     string  `yaml:"stop_loss_delay"`
	StopLossBufferPct float64 `yaml:"stop_loss_buffer_pct"`
}

// StorageConfig defines the persistence file locations.
type StorageConfig struct {
	DBPath      string `yaml:"db_path"`
	JournalPath string `yaml:"journal_path"`
}

// TelegramConfig defines the notification channel. Empty disables it.
type TelegramConfig struct {
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
}

// Load reads and parses the configuration file from the specified path.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var config Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// Validate checks that all configuration values are valid and
// consistent, normalizing defaults along the way.
func (c *Config) Validate() error {
	if c.Environment.Mode != "paper" && c.Environment.Mode != "live" {
		return fmt.Errorf("environment.mode must be 'paper' or 'live'")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in (0, 65535]")
	}

	c.normalizeStrategy()
	if c.Strategy.Index == "" {
		return fmt.Errorf("strategy.index is required")
	}
	if c.Strategy.TargetDelta <= 0 || c.Strategy.TargetDelta >= 1 {
		return fmt.Errorf("strategy.target_delta must be in (0,1)")
	}
	if c.Strategy.LotSize <= 0 {
		return fmt.Errorf("strategy.lot_size must be > 0")
	}
	if c.Strategy.TickSize <= 0 {
		return fmt.Errorf("strategy.tick_size must be > 0")
	}
	switch c.Strategy.DuplicateEntryPolicy {
	case position.DuplicatePolicyProceed, position.DuplicatePolicyReject:
	default:
		return fmt.Errorf("strategy.duplicate_entry_policy must be 'proceed' or 'reject'")
	}

	for _, d := range []struct {
		name  string
		value string
	}{
		{"executor.inter_request_delay", c.Executor.InterRequestDelay},
		{"executor.attempt_timeout", c.Executor.AttemptTimeout},
		{"executor.stop_loss_delay", c.Executor.StopLossDelay},
	} {
		if d.value == "" {
			continue
		}
		if _, err := time.ParseDuration(d.value); err != nil {
			return fmt.Errorf("%s invalid: %w", d.name, err)
		}
	}
	if c.Executor.StopLossBufferPct < 0 {
		return fmt.Errorf("executor.stop_loss_buffer_pct must be >= 0")
	}

	if c.Storage.DBPath == "" {
		return fmt.Errorf("storage.db_path is required")
	}
	if c.Storage.JournalPath == "" {
		return fmt.Errorf("storage.journal_path is required")
	}

	if len(c.Accounts) == 0 {
		return fmt.Errorf("at least one subscribed account is required")
	}
	seen := make(map[string]bool, len(c.Accounts))
	for i, a := range c.Accounts {
		if a.AccountID == "" {
			return fmt.Errorf("accounts[%d].id is required", i)
		}
		if seen[a.AccountID] {
			return fmt.Errorf("accounts[%d].id %q is duplicated", i, a.AccountID)
		}
		seen[a.AccountID] = true
		if a.LotMultiplier <= 0 {
			return fmt.Errorf("accounts[%d].lot_multiplier must be > 0", i)
		}
	}

	return nil
}

// IsPaperTrading returns true if the relay is configured for paper mode.
func (c *Config) IsPaperTrading() bool {
	return c.Environment.Mode == "paper"
}

// InterRequestDelay returns the configured pacing gap.
func (c *Config) InterRequestDelay() time.Duration {
	return durationOr(c.Executor.InterRequestDelay, defaultInterRequestDelay)
}

// AttemptTimeout returns the configured per-attempt broker timeout.
func (c *Config) AttemptTimeout() time.Duration {
	return durationOr(c.Executor.AttemptTimeout, defaultAttemptTimeout)
}

// StopLossDelay returns the deferred protective stop delay; zero
// disables protection.
func (c *Config) StopLossDelay() time.Duration {
	return durationOr(c.Executor.StopLossDelay, 0)
}

func durationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// normalizeStrategy sets default values for strategy configuration.
func (c *Config) normalizeStrategy() {
	if c.Strategy.TargetDelta == 0 {
		c.Strategy.TargetDelta = defaultTargetDelta
	}
	if c.Strategy.TickSize == 0 {
		c.Strategy.TickSize = defaultTickSize
	}
	if c.Strategy.DuplicateEntryPolicy == "" {
		c.Strategy.DuplicateEntryPolicy = position.DuplicatePolicyProceed
	}
}
