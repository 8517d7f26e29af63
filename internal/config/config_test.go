package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	c, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if c.Database.Type != "memory" || c.Server.Port != 3000 || c.Server.RateLimit != 100 {
		t.Errorf("defaults = %+v", c)
	}
	if p := c.PrescriptionPolicy(); p.EnforceUniqueOnReactivate || p.ValidateMergedRange {
		t.Errorf("default policy = %+v, want lenient", p)
	}
}

func TestLoadPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "medtrack.yaml")
	yaml := `
env: production
server:
  port: 8080
  cors_origins: [https://family.example]
database:
  type: sqlite
  url: medtrack.db
events:
  poll_interval: 250ms
policy:
  strict_range: true
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("PORT", "9090")
	t.Setenv("PRESCRIPTION_STRICT_REACTIVATION", "true")
	t.Setenv("API_KEYS", "abc:web, def")
	t.Setenv("REDPANDA_BROKERS", "r1:9092,r2:9092")

	c, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if c.Env != "production" || c.Database.Type != "sqlite" || c.Database.URL != "medtrack.db" {
		t.Errorf("file values not applied: %+v", c)
	}
	if c.Server.Port != 9090 {
		t.Errorf("Port = %d, want env override 9090", c.Server.Port)
	}
	if c.Events.PollInterval != 250*time.Millisecond {
		t.Errorf("PollInterval = %v", c.Events.PollInterval)
	}
	if len(c.Events.Brokers) != 2 || c.Events.Brokers[1] != "r2:9092" {
		t.Errorf("Brokers = %v", c.Events.Brokers)
	}
	if c.Server.APIKeys["abc"] != "web" || c.Server.APIKeys["def"] != "client-2" {
		t.Errorf("APIKeys = %v", c.Server.APIKeys)
	}
	p := c.PrescriptionPolicy()
	if !p.EnforceUniqueOnReactivate || !p.ValidateMergedRange {
		t.Errorf("policy = %+v, want strict", p)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"postgres without url", map[string]string{"DATABASE_TYPE": "postgres"}},
		{"unknown database", map[string]string{"DATABASE_TYPE": "mysql"}},
		{"bad port", map[string]string{"PORT": "eighty"}},
		{"port out of range", map[string]string{"PORT": "70000"}},
		{"bad bool", map[string]string{"OTEL_ENABLED": "sometimes"}},
		{"bad duration", map[string]string{"OUTBOX_POLL_INTERVAL": "soon"}},
		{"bad timezone", map[string]string{"TIMEZONE": "Mars/Olympus"}},
		{"empty api key", map[string]string{"API_KEYS": ":web"}},
		{"bad sample ratio", map[string]string{"OTEL_TRACES_SAMPLER_ARG": "half"}},
		{"sample ratio above one", map[string]string{"OTEL_TRACES_SAMPLER_ARG": "1.5"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("CONFIG_FILE", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Error("Load() error = nil")
			}
		})
	}
}

func TestTracingEnv(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "0.1")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "false")

	c, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if c.Tracing.SampleRatio != 0.1 || c.Tracing.Insecure {
		t.Errorf("Tracing = %+v", c.Tracing)
	}
}
