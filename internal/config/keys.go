package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.host", typ: kString, env: "MDPRESS_SERVER_HOST",
		apply:   func(cfg *Config, v any) { cfg.Server.Host = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Host },
	},
	{
		key: "server.port", typ: kInt, env: "MDPRESS_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.public_url", typ: kString, env: "MDPRESS_SERVER_PUBLIC_URL",
		apply:   func(cfg *Config, v any) { cfg.Server.PublicURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.PublicURL },
	},
	{
		key: "server.rate_limit_per_minute", typ: kInt, env: "MDPRESS_SERVER_RATE_LIMIT_PER_MINUTE",
		apply:   func(cfg *Config, v any) { cfg.Server.RateLimitPerMinute = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.RateLimitPerMinute },
	},
	{
		key: "server.rate_limit_burst", typ: kInt, env: "MDPRESS_SERVER_RATE_LIMIT_BURST",
		apply:   func(cfg *Config, v any) { cfg.Server.RateLimitBurst = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.RateLimitBurst },
	},
	{
		key: "auth.api_key", typ: kString, env: "MDPRESS_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Auth.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Auth.APIKey },
	},
	{
		key: "storage.backend", typ: kString, env: "MDPRESS_STORAGE_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Storage.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.Backend },
	},
	{
		key: "storage.data_dir", typ: kString, env: "MDPRESS_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "storage.redis_addr", typ: kString, env: "MDPRESS_STORAGE_REDIS_ADDR",
		apply:   func(cfg *Config, v any) { cfg.Storage.RedisAddr = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.RedisAddr },
	},
	{
		key: "storage.redis_password", typ: kString, env: "MDPRESS_STORAGE_REDIS_PASSWORD",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Storage.RedisPassword = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.RedisPassword },
	},
	{
		key: "storage.redis_db", typ: kInt, env: "MDPRESS_STORAGE_REDIS_DB",
		apply:   func(cfg *Config, v any) { cfg.Storage.RedisDB = v.(int) },
		extract: func(cfg Config) any { return cfg.Storage.RedisDB },
	},
	{
		key: "storage.document_ttl", typ: kDuration, env: "MDPRESS_STORAGE_DOCUMENT_TTL",
		apply:   func(cfg *Config, v any) { cfg.Storage.DocumentTTL = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Storage.DocumentTTL },
	},
	{
		key: "dify.base_url", typ: kString, env: "MDPRESS_DIFY_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Dify.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Dify.BaseURL },
	},
	{
		key: "dify.api_key", typ: kString, env: "MDPRESS_DIFY_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Dify.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Dify.APIKey },
	},
	{
		key: "dify.article_api_key", typ: kString, env: "MDPRESS_DIFY_ARTICLE_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Dify.ArticleAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Dify.ArticleAPIKey },
	},
	{
		key: "dify.stream_timeout", typ: kDuration, env: "MDPRESS_DIFY_STREAM_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Dify.StreamTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Dify.StreamTimeout },
	},
	{
		key: "generate.max_retries", typ: kInt, env: "MDPRESS_GENERATE_MAX_RETRIES",
		apply:   func(cfg *Config, v any) { cfg.Generate.MaxRetries = v.(int) },
		extract: func(cfg Config) any { return cfg.Generate.MaxRetries },
	},
	{
		key: "generate.retry_base_delay", typ: kDuration, env: "MDPRESS_GENERATE_RETRY_BASE_DELAY",
		apply:   func(cfg *Config, v any) { cfg.Generate.RetryBaseDelay = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Generate.RetryBaseDelay },
	},
	{
		key: "generate.min_content_length", typ: kInt, env: "MDPRESS_GENERATE_MIN_CONTENT_LENGTH",
		apply:   func(cfg *Config, v any) { cfg.Generate.MinContentLength = v.(int) },
		extract: func(cfg Config) any { return cfg.Generate.MinContentLength },
	},
	{
		key: "generate.mock_fallback", typ: kBool, env: "MDPRESS_GENERATE_MOCK_FALLBACK",
		apply:   func(cfg *Config, v any) { cfg.Generate.MockFallback = v.(bool) },
		extract: func(cfg Config) any { return cfg.Generate.MockFallback },
	},
	{
		key: "generate.request_timeout", typ: kDuration, env: "MDPRESS_GENERATE_REQUEST_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Generate.RequestTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Generate.RequestTimeout },
	},
	{
		key: "render.cache_size", typ: kInt, env: "MDPRESS_RENDER_CACHE_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Render.CacheSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Render.CacheSize },
	},
	{
		key: "log.level", typ: kString, env: "MDPRESS_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

// parseValue converts a raw string to the Go type a key expects.
func parseValue(typ keyType, raw string) (any, error) {
	switch typ {
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	case kDuration:
		return time.ParseDuration(raw)
	default:
		return raw, nil
	}
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		if s.typ == kInt {
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
			continue
		}

		raw, ok, err := b.GetString(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || (raw == "" && s.typ != kString) {
			continue
		}
		v, err := parseValue(s.typ, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse config key %s=%q: %v. Using default value.\n", s.key, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := parseValue(s.typ, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}
