// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is shared by all records binaries. Each binary reads the keys it needs.
type Config struct {
	Port                   string        `mapstructure:"PORT"`
	Env                    string        `mapstructure:"ENV"`
	BackendBaseURL         string        `mapstructure:"BACKEND_BASE_URL"`
	BackendTimeout         time.Duration `mapstructure:"BACKEND_TIMEOUT"`
	BackendRateLimit       float64       `mapstructure:"BACKEND_RATE_LIMIT"`
	BackendBurst           int           `mapstructure:"BACKEND_BURST"`
	AccessToken            string        `mapstructure:"ACCESS_TOKEN"`
	OfflineFallback        bool          `mapstructure:"OFFLINE_FALLBACK"`
	DatabaseURL            string        `mapstructure:"DATABASE_URL"`
	KafkaBrokers           []string      `mapstructure:"KAFKA_BROKERS"`
	ConsumerGroup          string        `mapstructure:"CONSUMER_GROUP"`
	OutboxPollInterval     time.Duration `mapstructure:"OUTBOX_POLL_INTERVAL"`
	Workers                int           `mapstructure:"WORKERS"`
	WorkerQueue            int           `mapstructure:"WORKER_QUEUE"`
	OTLPEndpoint           string        `mapstructure:"OTLP_ENDPOINT"`
	TraceSampleRate        float64       `mapstructure:"TRACE_SAMPLE_RATE"`
	LogLevel               string        `mapstructure:"LOG_LEVEL"`
	LogFormat              string        `mapstructure:"LOG_FORMAT"`
	MetricsRefreshInterval time.Duration `mapstructure:"METRICS_REFRESH_INTERVAL"`
	CORSOrigins            []string      `mapstructure:"CORS_ORIGINS"`
}

var defaults = map[string]interface{}{
	"PORT":                     "8080",
	"ENV":                      "development",
	"BACKEND_BASE_URL":         "http://localhost:8000",
	"BACKEND_TIMEOUT":          "10s",
	"BACKEND_RATE_LIMIT":       20,
	"BACKEND_BURST":            40,
	"OFFLINE_FALLBACK":         true,
	"KAFKA_BROKERS":            "localhost:19092",
	"CONSUMER_GROUP":           "records-activity",
	"OUTBOX_POLL_INTERVAL":     "1s",
	"WORKERS":                  8,
	"WORKER_QUEUE":             1000,
	"TRACE_SAMPLE_RATE":        1.0,
	"LOG_LEVEL":                "info",
	"LOG_FORMAT":               "json",
	"METRICS_REFRESH_INTERVAL": "3s",
	"CORS_ORIGINS":             "*",
}

var keys = []string{
	"PORT", "ENV", "BACKEND_BASE_URL", "BACKEND_TIMEOUT", "BACKEND_RATE_LIMIT",
	"BACKEND_BURST", "ACCESS_TOKEN", "OFFLINE_FALLBACK", "DATABASE_URL",
	"KAFKA_BROKERS", "CONSUMER_GROUP", "OUTBOX_POLL_INTERVAL", "WORKERS",
	"WORKER_QUEUE", "OTLP_ENDPOINT", "TRACE_SAMPLE_RATE", "LOG_LEVEL",
	"LOG_FORMAT", "METRICS_REFRESH_INTERVAL", "CORS_ORIGINS",
}

// Load reads configuration from the environment and an optional .env file
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	// Bind explicitly so Unmarshal sees keys that only exist in the environment
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.KafkaBrokers = splitList(cfg.KafkaBrokers)
	cfg.CORSOrigins = splitList(cfg.CORSOrigins)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail late at runtime
func (c *Config) Validate() error {
	u, err := url.Parse(c.BackendBaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("BACKEND_BASE_URL must be an absolute URL, got %q", c.BackendBaseURL)
	}
	if c.BackendTimeout <= 0 {
		return fmt.Errorf("BACKEND_TIMEOUT must be positive")
	}
	if c.BackendRateLimit <= 0 {
		return fmt.Errorf("BACKEND_RATE_LIMIT must be positive")
	}
	if c.TraceSampleRate < 0 || c.TraceSampleRate > 1 {
		return fmt.Errorf("TRACE_SAMPLE_RATE must be within [0,1], got %v", c.TraceSampleRate)
	}
	if c.MetricsRefreshInterval <= 0 {
		return fmt.Errorf("METRICS_REFRESH_INTERVAL must be positive")
	}
	if c.LogFormat != "json" && c.LogFormat != "console" {
		return fmt.Errorf("LOG_FORMAT must be \"json\" or \"console\", got %q", c.LogFormat)
	}
	return nil
}

// HasDatabase reports whether Postgres-backed features are enabled
func (c *Config) HasDatabase() bool {
	return c.DatabaseURL != ""
}

// IsDev returns true in development mode
func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
