package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/dotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// DefaultProviderCacheTTL is how long the enabled-provider snapshot is
// served from cache before the configuration table is read again.
const DefaultProviderCacheTTL = 100 * time.Minute

// Config holds all application configuration.
type Config struct {
	Port int

	// Site
	SiteURL  string // Public base URL, e.g. "https://blog.example.com"
	SiteHost string // Derived from SiteURL; allow-list host for next_url redirects

	// Secrets
	SessionSecret string
	LinkSecret    string // Shared secret for signed email-confirmation links

	// Session
	SessionSecureCookie bool

	// Database
	DatabaseDSN string

	// Provider registry cache
	ProviderCacheTTL          time.Duration
	ProviderCacheRedisEnabled bool
	ProviderCacheRedisPrefix  string

	// Redis
	RedisEnabled bool
	RedisHost    string
	RedisPort    int
	RedisProto   string
	RedisPass    string
	RedisDB      int

	// SMTP
	SMTPHost string
	SMTPPort int
	SMTPUser string
	SMTPPass string
	SMTPFrom string

	// Outbound proxy for providers that need it (google, github, facebook)
	OutboundProxy string
}

// envKeyTransform transforms environment variable names to koanf keys.
// APP_SESSION_SECRET -> session.secret
func envKeyTransform(s string) string {
	return strings.ReplaceAll(
		strings.ToLower(strings.TrimPrefix(s, "APP_")),
		"_",
		".",
	)
}

// Load loads configuration from .env files and environment variables.
// The loading order is:
// 1. .env file (if exists)
// 2. .env.local file (if exists)
// 3. Environment variables (override files)
//
// Environment variables use the APP_ prefix and underscore separation.
// Example: APP_DATABASE_DSN -> database.dsn
func Load() (*Config, error) {
	return LoadFromPath("")
}

// LoadFromPath loads configuration from the specified directory.
// If path is empty, uses current directory.
func LoadFromPath(path string) (*Config, error) {
	k := koanf.New(".")

	envFile := ".env"
	envLocalFile := ".env.local"
	if path != "" {
		envFile = path + "/" + envFile
		envLocalFile = path + "/" + envLocalFile
	}

	// Load .env file if it exists (base configuration)
	if _, err := os.Stat(envFile); err == nil {
		if err := k.Load(file.Provider(envFile), dotenv.ParserEnv("APP_", ".", envKeyTransform)); err != nil {
			return nil, fmt.Errorf("loading .env file: %w", err)
		}
	}

	// Load .env.local file if it exists (local overrides, typically gitignored)
	if _, err := os.Stat(envLocalFile); err == nil {
		if err := k.Load(file.Provider(envLocalFile), dotenv.ParserEnv("APP_", ".", envKeyTransform)); err != nil {
			return nil, fmt.Errorf("loading .env.local file: %w", err)
		}
	}

	// Load environment variables with APP_ prefix (override files)
	err := k.Load(env.Provider("APP_", ".", envKeyTransform), nil)
	if err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	// Also load PORT without prefix (common convention)
	_ = k.Load(env.Provider("", ".", func(s string) string {
		if s == "PORT" {
			return "port"
		}
		return ""
	}), nil)

	cfg := &Config{
		Port: k.Int("port"),

		SiteURL: k.String("site.url"),

		SessionSecret: k.String("session.secret"),
		LinkSecret:    k.String("link.secret"),

		SessionSecureCookie: k.String("session.secure.cookie") == "1",

		DatabaseDSN: k.String("database.dsn"),

		ProviderCacheTTL:          time.Duration(k.Int("provider.cache.ttl.minutes")) * time.Minute,
		ProviderCacheRedisEnabled: k.String("provider.cache.redis.enabled") == "1",
		ProviderCacheRedisPrefix:  k.String("provider.cache.redis.prefix"),

		RedisEnabled: k.String("redis.enabled") == "1",
		RedisHost:    k.String("redis.host"),
		RedisPort:    k.Int("redis.port"),
		RedisProto:   k.String("redis.proto"),
		RedisPass:    k.String("redis.pass"),
		RedisDB:      k.Int("redis.db"),

		SMTPHost: k.String("smtp.host"),
		SMTPPort: k.Int("smtp.port"),
		SMTPUser: k.String("smtp.user"),
		SMTPPass: k.String("smtp.pass"),
		SMTPFrom: k.String("smtp.from"),

		OutboundProxy: k.String("outbound.proxy"),
	}

	// Set defaults
	if cfg.Port == 0 {
		cfg.Port = 3000
	}
	if cfg.ProviderCacheTTL == 0 {
		cfg.ProviderCacheTTL = DefaultProviderCacheTTL
	}
	if cfg.RedisPort == 0 {
		cfg.RedisPort = 6379
	}
	if cfg.RedisProto == "" {
		cfg.RedisProto = "rediss"
	}
	if cfg.SMTPPort == 0 {
		cfg.SMTPPort = 587
	}

	if cfg.SiteURL != "" {
		u, err := url.Parse(cfg.SiteURL)
		if err != nil {
			return nil, fmt.Errorf("parsing site URL: %w", err)
		}
		cfg.SiteHost = u.Host
	}

	return cfg, nil
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	var missing []string

	if c.SessionSecret == "" {
		missing = append(missing, "APP_SESSION_SECRET")
	}
	if c.LinkSecret == "" {
		missing = append(missing, "APP_LINK_SECRET")
	}
	if c.SiteURL == "" {
		missing = append(missing, "APP_SITE_URL")
	}
	if c.DatabaseDSN == "" {
		missing = append(missing, "APP_DATABASE_DSN")
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	return nil
}

// LogConfig logs the configuration (with secrets redacted).
func (c *Config) LogConfig(logger *slog.Logger) {
	logger.Info("configuration loaded",
		"port", c.Port,
		"site_url", c.SiteURL,
		"provider_cache_ttl", c.ProviderCacheTTL.String(),
		"provider_cache_redis_enabled", c.ProviderCacheRedisEnabled,
		"redis_enabled", c.RedisEnabled,
		"smtp_host", c.SMTPHost,
		"outbound_proxy_set", c.OutboundProxy != "",
	)
}
