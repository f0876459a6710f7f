package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ledgerline/patternd/internal/scheduler"
)

// Config holds all patternd configuration.
// Priority: flags > env vars (PATTERND_*) > config file > defaults.
type Config struct {
	PatternsDir string `mapstructure:"patterns_dir"`

	// DBPath is the audit database location as a libsql file URI. Empty
	// disables audit persistence entirely.
	DBPath string `mapstructure:"db_path"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	StrictValidation  bool          `mapstructure:"strict_validation"`
	InvocationTimeout time.Duration `mapstructure:"invocation_timeout"`
	RedactKeys        []string      `mapstructure:"redact_keys"`

	Retry RetryConfig `mapstructure:"retry"`

	Schedules []scheduler.Entry `mapstructure:"schedules"`
}

// RetryConfig mirrors the capability retry policy.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// loadConfig reads configuration from the optional file, environment, and
// defaults.
func loadConfig(cfgFile string) (*Config, error) {
	v := viper.New()

	v.SetDefault("patterns_dir", "patterns")
	v.SetDefault("db_path", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("strict_validation", false)
	v.SetDefault("invocation_timeout", time.Duration(0))
	v.SetDefault("redact_keys", []string{"password", "secret", "token", "apikey"})
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay", time.Second)
	v.SetDefault("retry.max_delay", time.Duration(0))

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("patternd")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.patternd")
		v.AddConfigPath("/etc/patternd")
	}

	v.SetEnvPrefix("PATTERND")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// A missing default config file is fine; an explicit one is not.
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound || cfgFile != "" {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}
