// Package config loads swrprobe settings from a TOML file (or defaults only)
// with environment overrides, e.g. SWRPROBE_CACHE_PROVIDER=redis.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration accepts Go duration strings ("30s", "5m") or plain seconds.
type Duration time.Duration

// UnmarshalText lets Viper decode "30s", "5m" or a bare number of seconds.
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}
	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*d = Duration(time.Duration(secs) * time.Second)
		return nil
	}
	return fmt.Errorf("invalid duration value: %s", raw)
}

func (d Duration) DurationValue() time.Duration { return time.Duration(d) }

// Provider names accepted in Cache.Provider.
const (
	ProviderNone      = "none"
	ProviderMemory    = "memory"
	ProviderRedis     = "redis"
	ProviderBigCache  = "bigcache"
	ProviderRistretto = "ristretto"
)

// GenStore names accepted in Cache.GenStore.
const (
	GenStoreLocal = "local"
	GenStoreRedis = "redis"
)

type Config struct {
	Log     LogConfig     `mapstructure:"Log"`
	Cache   CacheConfig   `mapstructure:"Cache"`
	Redis   RedisConfig   `mapstructure:"Redis"`
	Request RequestConfig `mapstructure:"Request"`

	// MetricsAddr serves /metrics when set, e.g. ":9090".
	MetricsAddr string `mapstructure:"MetricsAddr"`
}

type LogConfig struct {
	Level      string `mapstructure:"Level"`
	FilePath   string `mapstructure:"FilePath"` // "" => stdout
	MaxSize    int    `mapstructure:"MaxSize"`  // MB per file before rotation
	MaxBackups int    `mapstructure:"MaxBackups"`
	Compress   bool   `mapstructure:"Compress"`
}

type CacheConfig struct {
	Provider        string   `mapstructure:"Provider"`
	Prefix          string   `mapstructure:"Prefix"`
	MaxEntries      int      `mapstructure:"MaxEntries"`
	MaxStorageBytes int64    `mapstructure:"MaxStorageBytes"`
	DefaultTTL      Duration `mapstructure:"DefaultTTL"`
	CleanupInterval Duration `mapstructure:"CleanupInterval"`
	GenStore        string   `mapstructure:"GenStore"`
	GenRetention    Duration `mapstructure:"GenRetention"`
	StaleAfter      Duration `mapstructure:"StaleAfter"`
	RetentionFactor int      `mapstructure:"RetentionFactor"`

	// BigCacheShards and RistrettoMaxCost size the in-process providers.
	BigCacheShards   int   `mapstructure:"BigCacheShards"`
	RistrettoMaxCost int64 `mapstructure:"RistrettoMaxCost"`
}

type RedisConfig struct {
	Addr     string   `mapstructure:"Addr"`
	Password string   `mapstructure:"Password"`
	DB       int      `mapstructure:"DB"`
	Channel  string   `mapstructure:"Channel"`
	GenTTL   Duration `mapstructure:"GenTTL"`
}

type RequestConfig struct {
	BaseURL      string   `mapstructure:"BaseURL"`
	Token        string   `mapstructure:"Token"`
	Organization string   `mapstructure:"Organization"`
	OrgHeader    string   `mapstructure:"OrgHeader"`
	MaxAttempts  int      `mapstructure:"MaxAttempts"`
	BaseDelay    Duration `mapstructure:"BaseDelay"`
	MaxDelay     Duration `mapstructure:"MaxDelay"`
	Timeout      Duration `mapstructure:"Timeout"`
}
