package config

import (
	"errors"
	"net/url"

	"github.com/sirupsen/logrus"
)

// Validate rejects settings the probe cannot run with.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return newFieldError("Log.Level", "unknown level "+c.Log.Level)
	}

	cc := c.Cache
	switch cc.Provider {
	case ProviderNone, ProviderMemory, ProviderRedis, ProviderBigCache, ProviderRistretto:
	default:
		return newFieldError("Cache.Provider", "must be none|memory|redis|bigcache|ristretto")
	}
	switch cc.GenStore {
	case GenStoreLocal, GenStoreRedis:
	default:
		return newFieldError("Cache.GenStore", "must be local|redis")
	}
	if cc.DefaultTTL.DurationValue() <= 0 {
		return newFieldError("Cache.DefaultTTL", "must be > 0")
	}
	if cc.StaleAfter.DurationValue() <= 0 {
		return newFieldError("Cache.StaleAfter", "must be > 0")
	}
	if cc.RetentionFactor < 1 {
		return newFieldError("Cache.RetentionFactor", "must be >= 1")
	}
	if cc.MaxEntries < 0 {
		return newFieldError("Cache.MaxEntries", "must not be negative")
	}
	if (cc.Provider == ProviderRedis || cc.GenStore == GenStoreRedis) && c.Redis.Addr == "" {
		return newFieldError("Redis.Addr", "required for redis provider or gen store")
	}

	r := c.Request
	if r.MaxAttempts < 1 {
		return newFieldError("Request.MaxAttempts", "must be >= 1")
	}
	if r.BaseDelay.DurationValue() < 0 || r.MaxDelay.DurationValue() < 0 {
		return newFieldError("Request.BaseDelay", "delays must not be negative")
	}
	if r.Timeout.DurationValue() <= 0 {
		return newFieldError("Request.Timeout", "must be > 0")
	}
	if r.BaseURL != "" {
		u, err := url.Parse(r.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return newFieldError("Request.BaseURL", "must be an absolute http(s) URL")
		}
	}
	return nil
}
