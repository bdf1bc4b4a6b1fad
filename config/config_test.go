package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaultsOnly(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Cache.Provider != ProviderMemory || cfg.Cache.GenStore != GenStoreLocal {
		t.Fatalf("provider=%q genstore=%q", cfg.Cache.Provider, cfg.Cache.GenStore)
	}
	if cfg.Cache.DefaultTTL.DurationValue() != 5*time.Minute {
		t.Fatalf("DefaultTTL=%v", cfg.Cache.DefaultTTL.DurationValue())
	}
	if cfg.Cache.StaleAfter.DurationValue() != 30*time.Second {
		t.Fatalf("StaleAfter=%v", cfg.Cache.StaleAfter.DurationValue())
	}
	if cfg.Cache.MaxEntries != 500 || cfg.Cache.MaxStorageBytes != 5<<20 {
		t.Fatalf("limits=%d/%d", cfg.Cache.MaxEntries, cfg.Cache.MaxStorageBytes)
	}
	r := cfg.Request
	if r.MaxAttempts != 3 || r.BaseDelay.DurationValue() != time.Second ||
		r.MaxDelay.DurationValue() != 10*time.Second || r.Timeout.DurationValue() != 30*time.Second {
		t.Fatalf("request defaults: %+v", r)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeTempConfig(t, `
MetricsAddr = ":9090"

[Log]
Level = "DEBUG"

[Cache]
Provider = "Redis"
DefaultTTL = "90s"
StaleAfter = 10
MaxEntries = 50

[Redis]
Addr = "redis:6379"

[Request]
BaseURL = "https://api.example.com/v1/"
MaxAttempts = 5
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MetricsAddr != ":9090" || cfg.Log.Level != "debug" {
		t.Fatalf("metrics=%q level=%q", cfg.MetricsAddr, cfg.Log.Level)
	}
	if cfg.Cache.Provider != ProviderRedis || cfg.Redis.Addr != "redis:6379" {
		t.Fatalf("cache=%+v redis=%+v", cfg.Cache, cfg.Redis)
	}
	if cfg.Cache.DefaultTTL.DurationValue() != 90*time.Second {
		t.Fatalf("DefaultTTL=%v", cfg.Cache.DefaultTTL.DurationValue())
	}
	if cfg.Cache.StaleAfter.DurationValue() != 10*time.Second {
		t.Fatalf("bare number should mean seconds, got %v", cfg.Cache.StaleAfter.DurationValue())
	}
	if cfg.Cache.MaxEntries != 50 || cfg.Request.MaxAttempts != 5 {
		t.Fatalf("ints not decoded: %+v %+v", cfg.Cache, cfg.Request)
	}
	if cfg.Request.BaseURL != "https://api.example.com/v1" {
		t.Fatalf("BaseURL not trimmed: %q", cfg.Request.BaseURL)
	}
	// untouched sections keep defaults
	if cfg.Cache.GenRetention.DurationValue() != 24*time.Hour {
		t.Fatalf("GenRetention=%v", cfg.Cache.GenRetention.DurationValue())
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("SWRPROBE_CACHE_PROVIDER", "bigcache")
	t.Setenv("SWRPROBE_REQUEST_TOKEN", "secret")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Cache.Provider != ProviderBigCache || cfg.Request.Token != "secret" {
		t.Fatalf("env not applied: provider=%q token=%q", cfg.Cache.Provider, cfg.Request.Token)
	}
}

func TestLoadRejectsInvalidDuration(t *testing.T) {
	path := writeTempConfig(t, `
[Cache]
DefaultTTL = "boom"
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("invalid duration should fail")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Fatalf("missing file should fail")
	}
}

func validConfig(t *testing.T) *Config {
	t.Helper()
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return cfg
}

func TestValidateFieldErrors(t *testing.T) {
	cases := []struct {
		name  string
		field string
		mut   func(*Config)
	}{
		{"level", "Log.Level", func(c *Config) { c.Log.Level = "loud" }},
		{"provider", "Cache.Provider", func(c *Config) { c.Cache.Provider = "sqlite" }},
		{"genstore", "Cache.GenStore", func(c *Config) { c.Cache.GenStore = "etcd" }},
		{"ttl", "Cache.DefaultTTL", func(c *Config) { c.Cache.DefaultTTL = 0 }},
		{"stale", "Cache.StaleAfter", func(c *Config) { c.Cache.StaleAfter = 0 }},
		{"factor", "Cache.RetentionFactor", func(c *Config) { c.Cache.RetentionFactor = 0 }},
		{"redis addr", "Redis.Addr", func(c *Config) {
			c.Cache.GenStore = GenStoreRedis
			c.Redis.Addr = ""
		}},
		{"attempts", "Request.MaxAttempts", func(c *Config) { c.Request.MaxAttempts = 0 }},
		{"timeout", "Request.Timeout", func(c *Config) { c.Request.Timeout = 0 }},
		{"base url", "Request.BaseURL", func(c *Config) { c.Request.BaseURL = "api.example.com" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig(t)
			tc.mut(cfg)
			err := cfg.Validate()
			var fe FieldError
			if !errors.As(err, &fe) {
				t.Fatalf("expected FieldError, got %v", err)
			}
			if fe.Field != tc.field {
				t.Fatalf("field=%q want %q", fe.Field, tc.field)
			}
		})
	}
}

func TestDurationUnmarshalText(t *testing.T) {
	var d Duration
	if err := d.UnmarshalText([]byte("1m30s")); err != nil || d.DurationValue() != 90*time.Second {
		t.Fatalf("1m30s => %v, %v", d.DurationValue(), err)
	}
	if err := d.UnmarshalText([]byte("7")); err != nil || d.DurationValue() != 7*time.Second {
		t.Fatalf("7 => %v, %v", d.DurationValue(), err)
	}
	if err := d.UnmarshalText([]byte("")); err != nil || d != 0 {
		t.Fatalf("empty => %v, %v", d, err)
	}
	if err := d.UnmarshalText([]byte("soon")); err == nil {
		t.Fatalf("expected error")
	}
}
