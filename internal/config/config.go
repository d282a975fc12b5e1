package config

import (
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Server   ServerConfig
	Auth     AuthConfig
	Storage  StorageConfig
	Dify     DifyConfig
	Generate GenerateConfig
	Render   RenderConfig
	Log      LogConfig
}

type ServerConfig struct {
	Host string
	Port int
	// PublicURL is the origin used when building /view links. Empty means
	// derive it from the incoming request.
	PublicURL          string
	RateLimitPerMinute int
	RateLimitBurst     int
}

type AuthConfig struct {
	APIKey string
}

type StorageConfig struct {
	Backend       string // "sqlite" or "redis"
	DataDir       string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	DocumentTTL   time.Duration
}

type DifyConfig struct {
	BaseURL       string
	APIKey        string
	ArticleAPIKey string
	StreamTimeout time.Duration
}

type GenerateConfig struct {
	MaxRetries       int
	RetryBaseDelay   time.Duration
	MinContentLength int
	MockFallback     bool
	RequestTimeout   time.Duration
}

type RenderConfig struct {
	CacheSize int
}

type LogConfig struct {
	Level string
}

// Addr returns the host:port the HTTP server listens on.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Host:               "127.0.0.1",
			Port:               8787,
			RateLimitPerMinute: 60,
			RateLimitBurst:     10,
		},
		Storage: StorageConfig{
			Backend:   "sqlite",
			DataDir:   defaultDataDir(),
			RedisAddr: "localhost:6379",
		},
		Dify: DifyConfig{
			BaseURL:       "https://api.dify.ai/v1",
			StreamTimeout: 300 * time.Second,
		},
		Generate: GenerateConfig{
			MaxRetries:       2,
			RetryBaseDelay:   3 * time.Second,
			MinContentLength: 100,
			MockFallback:     true,
			RequestTimeout:   15 * time.Minute,
		},
		Render: RenderConfig{
			CacheSize: 256,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON config file, environment variables,
// and the platform secret store.
//
// The config file lives at $XDG_CONFIG_HOME/mdpress/config.json. Secrets are
// never stored there: they come from MDPRESS_* environment variables, falling
// back to the macOS Keychain (service "mdpress") or, elsewhere, to
// secrets.json in the data directory.
//
// Environment variables (MDPRESS_*) override file values.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), keychainReader{})
}

// keychain abstracts secret store access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)
	applySecrets(&cfg, kc)

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applySecrets fills empty secret keys from the secret store.
func applySecrets(cfg *Config, kc keychain) {
	for _, s := range specs {
		if !s.secret {
			continue
		}
		if v, _ := s.extract(*cfg).(string); v != "" {
			continue
		}
		if v, err := kc.Get("mdpress", secretAccount(s.key)); err == nil && v != "" {
			s.apply(cfg, v)
		}
	}
}

// secretAccount maps a dotted key to its keychain account name.
func secretAccount(key string) string {
	return strings.ReplaceAll(key, ".", "_")
}

func validate(cfg Config) error {
	switch cfg.Storage.Backend {
	case "sqlite", "redis":
	default:
		return fmt.Errorf("invalid storage.backend %q: must be sqlite or redis", cfg.Storage.Backend)
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d", cfg.Server.Port)
	}
	if cfg.Generate.MaxRetries < 0 {
		return fmt.Errorf("invalid generate.max_retries %d: must not be negative", cfg.Generate.MaxRetries)
	}
	if cfg.Dify.BaseURL == "" {
		return fmt.Errorf("missing required config: dify.base_url")
	}
	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log.level %q", cfg.Log.Level)
	}
	return nil
}

// keychainReader reads secrets from the platform secret store.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainGet(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
