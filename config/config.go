// Package config loads the service configuration from file and
// environment. Every key has a default; a missing config file is not an
// error, a malformed one is.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the icarus service
type Config struct {
	Firewall struct {
		// Mode is "permissive" or "strict"; it drives both the
		// at-threshold decision and the oracle-failure policy
		Mode          string        `mapstructure:"mode"`
		BufferSize    int           `mapstructure:"buffer_size"`
		Workers       int           `mapstructure:"workers"`
		QueueSize     int           `mapstructure:"queue_size"`
		ScoringBudget time.Duration `mapstructure:"scoring_budget"`
	} `mapstructure:"firewall"`

	Thresholds struct {
		Adaptive bool    `mapstructure:"adaptive"`
		Base     float64 `mapstructure:"base"`
		MaxStep  float64 `mapstructure:"max_step"`
		// LearningInterval is how often the learning loop runs
		LearningInterval time.Duration `mapstructure:"learning_interval"`
	} `mapstructure:"thresholds"`

	Response struct {
		MaxLivePlans int           `mapstructure:"max_live_plans"`
		GracePeriod  time.Duration `mapstructure:"grace_period"`
		// PolicyOverlay is an optional YAML file overriding the built-in
		// policy table
		PolicyOverlay string `mapstructure:"policy_overlay"`
	} `mapstructure:"response"`

	Redis struct {
		Enabled  bool          `mapstructure:"enabled"`
		Addr     string        `mapstructure:"addr"`
		Password string        `mapstructure:"password"`
		DB       int           `mapstructure:"db"`
		DedupTTL time.Duration `mapstructure:"dedup_ttl"`
	} `mapstructure:"redis"`

	Honeynet struct {
		Enabled         bool          `mapstructure:"enabled"`
		MaxEnvironments int           `mapstructure:"max_environments"`
		SessionTTL      time.Duration `mapstructure:"session_ttl"`
	} `mapstructure:"honeynet"`

	Archive struct {
		Enabled bool   `mapstructure:"enabled"`
		Path    string `mapstructure:"path"`
		KeyPath string `mapstructure:"key_path"`
	} `mapstructure:"archive"`

	API struct {
		Host string `mapstructure:"host"`
		Port int    `mapstructure:"port"`
		// RateLimit is per-client requests per second with the given burst
		RateLimit float64 `mapstructure:"rate_limit"`
		RateBurst int     `mapstructure:"rate_burst"`
	} `mapstructure:"api"`

	Log struct {
		// Level is debug, info, warn, or error
		Level string `mapstructure:"level"`
		// Development switches to the console encoder
		Development bool `mapstructure:"development"`
	} `mapstructure:"log"`
}

func setDefaults() {
	viper.SetDefault("firewall.mode", "permissive")
	viper.SetDefault("firewall.buffer_size", 10000)
	viper.SetDefault("firewall.workers", 8)
	viper.SetDefault("firewall.queue_size", 1024)
	viper.SetDefault("firewall.scoring_budget", 200*time.Microsecond)

	viper.SetDefault("thresholds.adaptive", true)
	viper.SetDefault("thresholds.base", 0.85)
	viper.SetDefault("thresholds.max_step", 0.05)
	viper.SetDefault("thresholds.learning_interval", time.Minute)

	viper.SetDefault("response.max_live_plans", 1000)
	viper.SetDefault("response.grace_period", 15*time.Minute)
	viper.SetDefault("response.policy_overlay", "")

	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.addr", "127.0.0.1:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.dedup_ttl", 5*time.Minute)

	viper.SetDefault("honeynet.enabled", true)
	viper.SetDefault("honeynet.max_environments", 50)
	viper.SetDefault("honeynet.session_ttl", time.Hour)

	viper.SetDefault("archive.enabled", true)
	viper.SetDefault("archive.path", "./data/archive.db")
	viper.SetDefault("archive.key_path", "./data/seal.key")

	viper.SetDefault("api.host", "0.0.0.0")
	viper.SetDefault("api.port", 8335)
	viper.SetDefault("api.rate_limit", 100.0)
	viper.SetDefault("api.rate_burst", 200)

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.development", false)
}

// Load reads configuration from the optional config file plus ICARUS_*
// environment overrides
func Load(configFile string) (*Config, error) {
	viper.Reset()
	setDefaults()

	viper.SetEnvPrefix("ICARUS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", configFile, err)
		}
	} else {
		viper.SetConfigName("icarus")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
		if err := viper.ReadInConfig(); err != nil {
			// A missing default config file is fine; defaults + env apply
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("reading config: %w", err)
			}
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field invariants the defaults alone cannot
// guarantee once overridden
func (c *Config) Validate() error {
	if c.Firewall.Mode != "permissive" && c.Firewall.Mode != "strict" {
		return fmt.Errorf("firewall.mode must be permissive or strict, got %q", c.Firewall.Mode)
	}
	if c.Firewall.BufferSize <= 0 {
		return fmt.Errorf("firewall.buffer_size must be positive, got %d", c.Firewall.BufferSize)
	}
	if c.Firewall.Workers <= 0 {
		return fmt.Errorf("firewall.workers must be positive, got %d", c.Firewall.Workers)
	}
	if c.Thresholds.Base <= 0 || c.Thresholds.Base >= 1 {
		return fmt.Errorf("thresholds.base must be within (0,1), got %f", c.Thresholds.Base)
	}
	if c.Thresholds.MaxStep <= 0 || c.Thresholds.MaxStep > 0.5 {
		return fmt.Errorf("thresholds.max_step must be within (0,0.5], got %f", c.Thresholds.MaxStep)
	}
	if c.API.Port <= 0 || c.API.Port > 65535 {
		return fmt.Errorf("api.port must be a valid port, got %d", c.API.Port)
	}
	if c.API.RateLimit <= 0 {
		return fmt.Errorf("api.rate_limit must be positive, got %f", c.API.RateLimit)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn, or error, got %q", c.Log.Level)
	}
	return nil
}
