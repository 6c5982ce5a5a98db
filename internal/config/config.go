// Package config defines the process configuration surface of spec.md §6
// and loads it by layering defaults, an optional YAML file, and
// environment variables — following the precedence order the rest of the
// corpus uses for koanf-based config.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is the process-wide configuration value, built once at startup and
// passed explicitly into the scheduler and client constructors — no
// process-wide mutable singleton (spec.md §9).
type Config struct {
	APIKey  string   `koanf:"api_key"`
	Markets []string `koanf:"markets"`
	Regions []string `koanf:"regions"`
	Sports  []string `koanf:"sports"` // empty = all active

	OddsFormat string `koanf:"odds_format"`

	MinProfitPct     float64 `koanf:"min_profit_pct"`
	MinBooks         int     `koanf:"min_books"`
	RefreshIntervalS int     `koanf:"refresh_interval_s"` // 0 disables automatic ticks

	DBPath   string `koanf:"db_path"`
	LogLevel string `koanf:"log_level"`
	HTTPAddr string `koanf:"http_addr"`

	RetentionDays int `koanf:"retention_days"` // opportunities_log rows older than this are eligible for purge
}

func defaults() Config {
	return Config{
		OddsFormat:       "decimal",
		Markets:          []string{"h2h"},
		Regions:          []string{"us"},
		MinProfitPct:     0.0,
		MinBooks:         2,
		RefreshIntervalS: 14400,
		DBPath:           "arbfinder.db",
		LogLevel:         "info",
		HTTPAddr:         ":8080",
		RetentionDays:    90,
	}
}

// Load builds a Config by layering, low to high precedence: built-in
// defaults, a YAML file named by ARBFINDER_CONFIG (if set), and environment
// variables prefixed ARBFINDER_. A .env file in the working directory is
// loaded first if present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := defaults()
	k := koanf.New(".")

	if path := envStr("ARBFINDER_CONFIG", ""); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: load file %s: %w", path, err)
		}
	}

	envProvider := env.Provider("ARBFINDER_", ".", func(s string) string {
		s = strings.ToLower(s)
		return strings.TrimPrefix(s, "arbfinder_")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("config: load env: %w", err)
	}

	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	// CSV env values (ARBFINDER_MARKETS=h2h,spreads) arrive as a single
	// string rather than koanf's native slice encoding; split them.
	if v := envStr("ARBFINDER_MARKETS", ""); v != "" {
		cfg.Markets = splitCSV(v)
	}
	if v := envStr("ARBFINDER_REGIONS", ""); v != "" {
		cfg.Regions = splitCSV(v)
	}
	if v := envStr("ARBFINDER_SPORTS", ""); v != "" {
		cfg.Sports = splitCSV(v)
	}

	if cfg.APIKey == "" {
		return nil, fmt.Errorf("config: api_key is required")
	}
	return &cfg, nil
}

// RefreshInterval is RefreshIntervalS as a time.Duration.
func (c *Config) RefreshInterval() time.Duration {
	return time.Duration(c.RefreshIntervalS) * time.Second
}

// RetentionWindow is RetentionDays as a time.Duration.
func (c *Config) RetentionWindow() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
