// Package config loads service configuration from .env, an optional YAML
// file and the environment, in that order of increasing precedence.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/familyrx/medtrack/internal/domain/prescription"
	"github.com/familyrx/medtrack/internal/store"
)

// Config holds all configuration for the services.
type Config struct {
	Env      string         `yaml:"env"`
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Log      LogConfig      `yaml:"log"`
	Tracing  TracingConfig  `yaml:"tracing"`
	Events   EventsConfig   `yaml:"events"`
	Policy   PolicyConfig   `yaml:"policy"`
	Timezone string         `yaml:"timezone"`
}

type ServerConfig struct {
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
	// RateLimit is requests per minute per client IP; 0 disables it.
	RateLimit int `yaml:"rate_limit"`
	// APIKeys maps accepted X-API-Key values to client names. Empty
	// disables key auth.
	APIKeys map[string]string `yaml:"api_keys"`
}

type DatabaseConfig struct {
	Type string `yaml:"type"`
	URL  string `yaml:"url"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
	Insecure bool   `yaml:"insecure"`
	// SampleRatio is the share of new traces kept, from 0 to 1.
	SampleRatio float64 `yaml:"sample_ratio"`
}

type EventsConfig struct {
	Brokers       []string      `yaml:"brokers"`
	Topic         string        `yaml:"topic"`
	ConsumerGroup string        `yaml:"consumer_group"`
	BatchSize     int           `yaml:"batch_size"`
	PollInterval  time.Duration `yaml:"poll_interval"`
}

type PolicyConfig struct {
	StrictReactivation bool `yaml:"strict_reactivation"`
	StrictRange        bool `yaml:"strict_range"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() *Config {
	return &Config{
		Env: "development",
		Server: ServerConfig{
			Port:        3000,
			CORSOrigins: []string{"http://localhost:3000"},
			RateLimit:   100,
		},
		Database: DatabaseConfig{Type: store.KindMemory},
		Log:      LogConfig{Level: "info", MaxSizeMB: 100, MaxBackups: 3, MaxAgeDays: 30},
		Tracing:  TracingConfig{Endpoint: "localhost:4317", Insecure: true, SampleRatio: 1},
		Events: EventsConfig{
			Topic:         "medtrack.schedule.changes",
			ConsumerGroup: "medtrack-api",
			BatchSize:     100,
			PollInterval:  100 * time.Millisecond,
		},
	}
}

// Load reads .env when present, then the YAML file named by CONFIG_FILE,
// then environment overrides, and validates the result.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	c := Defaults()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, c); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := c.applyEnv(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) applyEnv() error {
	envOverride(&c.Env, "APP_ENV")
	envOverride(&c.Database.Type, "DATABASE_TYPE")
	envOverride(&c.Database.URL, "DATABASE_URL")
	envOverride(&c.Log.Level, "LOG_LEVEL")
	envOverride(&c.Log.File, "LOG_FILE")
	envOverride(&c.Timezone, "TIMEZONE")
	envOverride(&c.Tracing.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	envOverride(&c.Events.Topic, "EVENTS_TOPIC")
	envOverride(&c.Events.ConsumerGroup, "CONSUMER_GROUP")
	envOverrideList(&c.Server.CORSOrigins, "CORS_ORIGINS")
	envOverrideList(&c.Events.Brokers, "REDPANDA_BROKERS")

	for key, dst := range map[string]*int{
		"PORT":              &c.Server.Port,
		"API_RATE_LIMIT":    &c.Server.RateLimit,
		"OUTBOX_BATCH_SIZE": &c.Events.BatchSize,
	} {
		if err := envOverrideInt(dst, key); err != nil {
			return err
		}
	}
	for key, dst := range map[string]*bool{
		"OTEL_ENABLED":                     &c.Tracing.Enabled,
		"OTEL_EXPORTER_OTLP_INSECURE":      &c.Tracing.Insecure,
		"PRESCRIPTION_STRICT_REACTIVATION": &c.Policy.StrictReactivation,
		"PRESCRIPTION_STRICT_RANGE":        &c.Policy.StrictRange,
	} {
		if err := envOverrideBool(dst, key); err != nil {
			return err
		}
	}
	if v := os.Getenv("OTEL_TRACES_SAMPLER_ARG"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid OTEL_TRACES_SAMPLER_ARG %q: %w", v, err)
		}
		c.Tracing.SampleRatio = f
	}
	if v := os.Getenv("OUTBOX_POLL_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid OUTBOX_POLL_INTERVAL %q: %w", v, err)
		}
		c.Events.PollInterval = d
	}
	if v := os.Getenv("API_KEYS"); v != "" {
		keys, err := parseAPIKeys(v)
		if err != nil {
			return err
		}
		c.Server.APIKeys = keys
	}
	return nil
}

// Validate checks the values that would otherwise fail later at startup.
func (c *Config) Validate() error {
	switch c.Database.Type {
	case store.KindPostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("DATABASE_URL is required when DATABASE_TYPE is postgres")
		}
	case store.KindSQLite, store.KindMemory:
	default:
		return fmt.Errorf("unsupported DATABASE_TYPE %q", c.Database.Type)
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("OTEL_TRACES_SAMPLER_ARG must be between 0 and 1, got %v", c.Tracing.SampleRatio)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid PORT %d", c.Server.Port)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// IsDevelopment reports whether APP_ENV selects development defaults.
func (c *Config) IsDevelopment() bool { return c.Env == "development" }

// Addr is the listen address.
func (c *Config) Addr() string { return fmt.Sprintf(":%d", c.Server.Port) }

// Location resolves TIMEZONE; empty means the host zone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// PrescriptionPolicy maps the strictness switches to the lifecycle policy.
func (c *Config) PrescriptionPolicy() prescription.Policy {
	return prescription.Policy{
		EnforceUniqueOnReactivate: c.Policy.StrictReactivation,
		ValidateMergedRange:       c.Policy.StrictRange,
	}
}

// parseAPIKeys reads "key:client,key2:client2". A key without a client is
// named after its position.
func parseAPIKeys(v string) (map[string]string, error) {
	keys := make(map[string]string)
	for i, pair := range splitList(v) {
		key, client, _ := strings.Cut(pair, ":")
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, fmt.Errorf("invalid API_KEYS entry %d", i+1)
		}
		if client = strings.TrimSpace(client); client == "" {
			client = fmt.Sprintf("client-%d", i+1)
		}
		keys[key] = client
	}
	return keys, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envOverride(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envOverrideList(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = splitList(v)
	}
}

func envOverrideInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	*dst = n
	return nil
}

func envOverrideBool(dst *bool, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	*dst = b
	return nil
}
