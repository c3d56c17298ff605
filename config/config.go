/*
Package config loads runtime configuration for the audit services.

PURPOSE:
  One place for everything tunable: HTTP port, database path, validation
  cutover date, log level. Values come from (highest precedence first)
  AUDIT_* environment variables, an optional audit.yaml in the working
  directory, and built-in defaults.

EXAMPLES:
  AUDIT_PORT=3000 AUDIT_DB_PATH=/data/audit.db ./server

  # audit.yaml
  port: 8080
  db_path: ./data/audit.db
  validation_cutover: 2024-01-01
  log_level: info
*/
package config

import (
	"errors"
	"fmt"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/warp/marketplace-audit/pricing"
)

type Config struct {
	Port     int
	DBPath   string
	LogLevel string

	// ValidationCutover is the earliest sale date validation runs cover.
	ValidationCutover pricing.Date
}

// Load reads configuration from environment, optional audit.yaml, and
// defaults.
func Load() (*Config, error) {
	v := viper.New()
	v.SetDefault("port", 8080)
	v.SetDefault("db_path", "audit.db")
	v.SetDefault("validation_cutover", "2024-01-01")
	v.SetDefault("log_level", "info")

	v.SetConfigName("audit")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.SetEnvPrefix("audit")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	cutover, err := pricing.ParseDate(v.GetString("validation_cutover"))
	if err != nil {
		return nil, fmt.Errorf("invalid validation_cutover: %w", err)
	}

	return &Config{
		Port:              v.GetInt("port"),
		DBPath:            v.GetString("db_path"),
		LogLevel:          v.GetString("log_level"),
		ValidationCutover: cutover,
	}, nil
}

// NewLogger builds a zap logger honoring the configured level. Debug level
// gets the human-readable development encoder.
func (c *Config) NewLogger() (*zap.Logger, error) {
	if c.LogLevel == "debug" {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	level, err := zap.ParseAtomicLevel(c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log_level %q: %w", c.LogLevel, err)
	}
	cfg.Level = level
	return cfg.Build()
}
