// Package config loads service configuration from .env, an optional YAML file and the environment.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const maxConfigFileSize = 1024 * 1024

// Config holds every runtime setting. Keys mirror the environment variable names in lower case.
type Config struct {
	AppEnv         string `koanf:"app_env"`
	LogLevel       string `koanf:"log_level"`
	LogFormat      string `koanf:"log_format"`
	HTTPListenAddr string `koanf:"http_listen_addr"`
	PublicBasePath string `koanf:"public_base_path"`
	AppURL         string `koanf:"app_url"`

	DatabaseDriver string `koanf:"database_driver"`
	DatabaseURL    string `koanf:"database_url"`
	DatabaseSchema string `koanf:"database_schema"`

	RedisAddr     string `koanf:"redis_addr"`
	RedisPassword string `koanf:"redis_password"`
	RedisDB       int    `koanf:"redis_db"`
	RedisTLS      bool   `koanf:"redis_tls"`

	MetricsNamespace string `koanf:"metrics_namespace"`

	// EncryptionKey is 32 bytes hex encoded and seals short-lived cookies.
	EncryptionKey string `koanf:"encryption_key"`

	LLMAPIKey    string        `koanf:"llm_api_key"`
	LLMBaseURL   string        `koanf:"llm_base_url"`
	LLMModel     string        `koanf:"llm_model"`
	LLMMaxTokens int           `koanf:"llm_max_tokens"`
	LLMTimeout   time.Duration `koanf:"llm_timeout"`

	FacebookClientID     string `koanf:"facebook_client_id"`
	FacebookClientSecret string `koanf:"facebook_client_secret"`
	FacebookGraphURL     string `koanf:"facebook_graph_url"`
	FacebookAPIVersion   string `koanf:"facebook_api_version"`

	StripeSecretKey     string `koanf:"stripe_secret_key"`
	StripeWebhookSecret string `koanf:"stripe_webhook_secret"`
	StripePriceStarter  string `koanf:"stripe_price_starter"`
	StripePriceGrowth   string `koanf:"stripe_price_growth"`
	StripePricePro      string `koanf:"stripe_price_pro"`

	// SearchRateLimit is the number of outbound web searches allowed per second.
	SearchRateLimit float64 `koanf:"search_rate_limit"`
}

// Load reads .env (when present), then the YAML file at configPath (when set), then
// environment variables, which take precedence.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	k := koanf.New(".")

	if configPath != "" {
		content, err := readConfigFile(configPath)
		if err != nil {
			return nil, err
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("", ".", strings.ToLower), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

func readConfigFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat config file: %w", err)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file %s exceeds %d bytes", path, maxConfigFileSize)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return content, nil
}

func applyDefaults(cfg *Config) {
	if cfg.AppEnv == "" {
		cfg.AppEnv = "development"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "text"
	}
	if cfg.HTTPListenAddr == "" {
		cfg.HTTPListenAddr = ":8080"
	}
	if cfg.AppURL == "" {
		cfg.AppURL = "http://localhost:3000"
	}
	cfg.AppURL = strings.TrimRight(cfg.AppURL, "/")
	if cfg.DatabaseDriver == "" {
		cfg.DatabaseDriver = "postgres"
	}
	if cfg.RedisAddr == "" {
		cfg.RedisAddr = "localhost:6379"
	}
	if cfg.MetricsNamespace == "" {
		cfg.MetricsNamespace = "aigency"
	}
	if cfg.LLMBaseURL == "" {
		cfg.LLMBaseURL = "https://openrouter.ai/api/v1"
	}
	if cfg.LLMModel == "" {
		cfg.LLMModel = "anthropic/claude-sonnet-4"
	}
	if cfg.LLMMaxTokens == 0 {
		cfg.LLMMaxTokens = 4096
	}
	if cfg.LLMTimeout == 0 {
		cfg.LLMTimeout = 5 * time.Minute
	}
	if cfg.FacebookAPIVersion == "" {
		cfg.FacebookAPIVersion = "v21.0"
	}
	if cfg.FacebookGraphURL == "" {
		cfg.FacebookGraphURL = "https://graph.facebook.com"
	}
	if cfg.SearchRateLimit == 0 {
		cfg.SearchRateLimit = 1
	}
}

// Validate checks the settings every command needs.
func (c *Config) Validate() error {
	switch c.DatabaseDriver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("DATABASE_DRIVER must be postgres or sqlite, got %q", c.DatabaseDriver)
	}
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return errors.New("DATABASE_URL is required")
	}
	if c.LLMMaxTokens < 0 {
		return errors.New("LLM_MAX_TOKENS must be positive")
	}
	if c.SearchRateLimit < 0 {
		return errors.New("SEARCH_RATE_LIMIT must be positive")
	}
	return nil
}

// ValidateServe checks the additional settings the HTTP server needs.
func (c *Config) ValidateServe() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if _, err := c.EncryptionKeyBytes(); err != nil {
		return err
	}
	if strings.TrimSpace(c.LLMAPIKey) == "" {
		return errors.New("LLM_API_KEY is required")
	}
	return nil
}

// EncryptionKeyBytes decodes ENCRYPTION_KEY into a 32-byte AES key.
func (c *Config) EncryptionKeyBytes() ([]byte, error) {
	key, err := hex.DecodeString(strings.TrimSpace(c.EncryptionKey))
	if err != nil {
		return nil, fmt.Errorf("ENCRYPTION_KEY must be hex: %w", err)
	}
	if len(key) != 32 {
		return nil, errors.New("ENCRYPTION_KEY must be 64 hex characters")
	}
	return key, nil
}

// IsProduction reports whether the service runs with production cookie settings.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.AppEnv, "production")
}

// FacebookConfigured reports whether OAuth credentials for Facebook are present.
func (c *Config) FacebookConfigured() bool {
	return c.FacebookClientID != "" && c.FacebookClientSecret != ""
}

// StripeConfigured reports whether Stripe checkout is available.
func (c *Config) StripeConfigured() bool {
	return c.StripeSecretKey != ""
}

// GraphBaseURL joins the Graph host with the API version.
func (c *Config) GraphBaseURL() string {
	return strings.TrimRight(c.FacebookGraphURL, "/") + "/" + strings.Trim(c.FacebookAPIVersion, "/")
}
