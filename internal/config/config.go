// Package config loads service settings from the environment and an optional
// YAML file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g. AUTOMATIONS_PORT
const EnvPrefix = "AUTOMATIONS"

// Chat providers
const (
	ChatNone      = "none"
	ChatOpenAI    = "openai"
	ChatAnthropic = "anthropic"
)

// Rules cache backends. Without a cache every engine pass reads the store.
// CacheMemory is only safe when this process makes every rule change;
// CacheRedis is shared by every process configured with the same redis_url.
const (
	CacheNone   = "none"
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

type Config struct {
	DatabaseURL   string
	Port          int
	LogLevel      string
	LogSampleRate int
	OTELEnabled   bool
	ServiceName   string

	RedisURL     string
	CacheBackend string
	CacheTTL     time.Duration

	Retry       RetryConfig
	HTTPTimeout time.Duration

	Chat ChatConfig

	BatchConcurrency int
	EventsEnabled    bool
	AutoMigrate      bool
}

// RetryConfig is the default policy for outbound calls
type RetryConfig struct {
	Retries   int
	BaseDelay time.Duration
	MaxJitter time.Duration
}

// ChatConfig selects the model behind ai_reanalysis actions
type ChatConfig struct {
	Provider string
	Model    string
	APIKey   string
}

// legacyEnv maps keys to the unprefixed variables older deployments set
var legacyEnv = map[string]string{
	"database_url": "DATABASE_URL",
	"port":         "PORT",
	"log_level":    "LOG_LEVEL",
	"redis_url":    "REDIS_URL",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database_url", "sqlite://automations.db")
	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "INFO")
	v.SetDefault("log_sample_rate", 1)
	v.SetDefault("otel_enabled", false)
	v.SetDefault("service_name", "automations")
	v.SetDefault("redis_url", "")
	v.SetDefault("cache.backend", CacheNone)
	v.SetDefault("cache_ttl", 30*time.Second)
	v.SetDefault("retry.retries", 3)
	v.SetDefault("retry.base_delay", 500*time.Millisecond)
	v.SetDefault("retry.max_jitter", 100*time.Millisecond)
	v.SetDefault("http.timeout", 10*time.Second)
	v.SetDefault("chat.provider", ChatNone)
	v.SetDefault("chat.model", "")
	v.SetDefault("chat.api_key", "")
	v.SetDefault("batch.concurrency", 4)
	v.SetDefault("events.enabled", false)
	v.SetDefault("auto_migrate", true)
}

// Load reads configuration into v. configFile may be empty.
// Prefixed variables win over the legacy unprefixed ones.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		envKey := EnvPrefix + "_" + strings.ToUpper(key)
		if err := v.BindEnv(key, envKey, legacy); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	cfg := &Config{
		DatabaseURL:   v.GetString("database_url"),
		Port:          v.GetInt("port"),
		LogLevel:      v.GetString("log_level"),
		LogSampleRate: v.GetInt("log_sample_rate"),
		OTELEnabled:   v.GetBool("otel_enabled"),
		ServiceName:   v.GetString("service_name"),
		RedisURL:      v.GetString("redis_url"),
		CacheBackend:  strings.ToLower(v.GetString("cache.backend")),
		CacheTTL:      v.GetDuration("cache_ttl"),
		Retry: RetryConfig{
			Retries:   v.GetInt("retry.retries"),
			BaseDelay: v.GetDuration("retry.base_delay"),
			MaxJitter: v.GetDuration("retry.max_jitter"),
		},
		HTTPTimeout: v.GetDuration("http.timeout"),
		Chat: ChatConfig{
			Provider: strings.ToLower(v.GetString("chat.provider")),
			Model:    v.GetString("chat.model"),
			APIKey:   v.GetString("chat.api_key"),
		},
		BatchConcurrency: v.GetInt("batch.concurrency"),
		EventsEnabled:    v.GetBool("events.enabled"),
		AutoMigrate:      v.GetBool("auto_migrate"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once
func (c *Config) Validate() error {
	var errs []error
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("database_url is required"))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	switch c.CacheBackend {
	case CacheNone, CacheMemory:
	case CacheRedis:
		if c.RedisURL == "" {
			errs = append(errs, errors.New("cache.backend redis needs redis_url"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown cache.backend %q", c.CacheBackend))
	}
	if c.CacheTTL < 0 {
		errs = append(errs, errors.New("cache_ttl must not be negative"))
	}
	if c.Retry.Retries < 0 {
		errs = append(errs, errors.New("retry.retries must not be negative"))
	}
	if c.Retry.BaseDelay < 0 || c.Retry.MaxJitter < 0 {
		errs = append(errs, errors.New("retry delays must not be negative"))
	}
	if c.HTTPTimeout <= 0 {
		errs = append(errs, errors.New("http.timeout must be positive"))
	}
	switch c.Chat.Provider {
	case ChatNone, ChatOpenAI, ChatAnthropic:
	default:
		errs = append(errs, fmt.Errorf("unknown chat.provider %q", c.Chat.Provider))
	}
	if c.BatchConcurrency < 1 {
		errs = append(errs, errors.New("batch.concurrency must be at least 1"))
	}
	return errors.Join(errs...)
}

// Addr is the listen address for the HTTP server
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}
