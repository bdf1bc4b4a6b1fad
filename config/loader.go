package config

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

const envPrefix = "SWRPROBE"

// Load reads the TOML file at path (skipped when path is ""), applies
// defaults and environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	normalize(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults also registers every key, so AutomaticEnv can override keys
// that the file does not mention.
func setDefaults(v *viper.Viper) {
	v.SetDefault("MetricsAddr", "")

	v.SetDefault("Log.Level", "info")
	v.SetDefault("Log.FilePath", "")
	v.SetDefault("Log.MaxSize", 100)
	v.SetDefault("Log.MaxBackups", 10)
	v.SetDefault("Log.Compress", true)

	v.SetDefault("Cache.Provider", ProviderMemory)
	v.SetDefault("Cache.Prefix", "swr:")
	v.SetDefault("Cache.MaxEntries", 500)
	v.SetDefault("Cache.MaxStorageBytes", 5<<20)
	v.SetDefault("Cache.DefaultTTL", "5m")
	v.SetDefault("Cache.CleanupInterval", "1m")
	v.SetDefault("Cache.GenStore", GenStoreLocal)
	v.SetDefault("Cache.GenRetention", "24h")
	v.SetDefault("Cache.StaleAfter", "30s")
	v.SetDefault("Cache.RetentionFactor", 3)
	v.SetDefault("Cache.BigCacheShards", 64)
	v.SetDefault("Cache.RistrettoMaxCost", 64<<20)

	v.SetDefault("Redis.Addr", "127.0.0.1:6379")
	v.SetDefault("Redis.Password", "")
	v.SetDefault("Redis.DB", 0)
	v.SetDefault("Redis.Channel", "swrcache:changes")
	v.SetDefault("Redis.GenTTL", "0s")

	v.SetDefault("Request.BaseURL", "")
	v.SetDefault("Request.Token", "")
	v.SetDefault("Request.Organization", "")
	v.SetDefault("Request.OrgHeader", "X-Organization-ID")
	v.SetDefault("Request.MaxAttempts", 3)
	v.SetDefault("Request.BaseDelay", "1s")
	v.SetDefault("Request.MaxDelay", "10s")
	v.SetDefault("Request.Timeout", "30s")
}

func normalize(cfg *Config) {
	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	cfg.Cache.Provider = strings.ToLower(strings.TrimSpace(cfg.Cache.Provider))
	cfg.Cache.GenStore = strings.ToLower(strings.TrimSpace(cfg.Cache.GenStore))
	cfg.Request.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.Request.BaseURL), "/")
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			var d Duration
			if err := d.UnmarshalText([]byte(v)); err != nil {
				if secs, ferr := strconv.ParseFloat(strings.TrimSpace(v), 64); ferr == nil {
					return Duration(time.Duration(secs * float64(time.Second))), nil
				}
				return nil, err
			}
			return d, nil
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("unsupported duration type: %T", v)
		}
	}
}
