package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultAdminToken is used when ADMIN_TOKEN is not set. Only suitable for development.
const DefaultAdminToken = "admin-secret-token-2025"

// DevDatabaseURL is the admin fallback when no DATABASE_URL is configured.
const DevDatabaseURL = "sqlite://./dev_database.db"

type Config struct {
	Bot        BotConfig        `mapstructure:"bot"`
	AI         AIConfig         `mapstructure:"ai"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Broadcast  BroadcastConfig  `mapstructure:"broadcast"`
	Cache      CacheConfig      `mapstructure:"cache"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Context    ContextConfig    `mapstructure:"context"`
	Admin      AdminConfig      `mapstructure:"admin"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	I18n       I18nConfig       `mapstructure:"i18n"`
}

type BotConfig struct {
	Token         string        `mapstructure:"token"`
	Webhook       WebhookConfig `mapstructure:"webhook"`
	UpdateTimeout int           `mapstructure:"update_timeout"`
	Workers       int           `mapstructure:"workers"`
}

type WebhookConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	Port    int    `mapstructure:"port"`
}

type AIConfig struct {
	Provider       string        `mapstructure:"provider"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	RetryAttempts  int           `mapstructure:"retry_attempts"`
	RetryUnit      time.Duration `mapstructure:"retry_unit"`
	Gemini         GeminiConfig  `mapstructure:"gemini"`
	OpenAI         OpenAIConfig  `mapstructure:"openai"`
}

type GeminiConfig struct {
	APIKey     string `mapstructure:"api_key"`
	BaseURL    string `mapstructure:"base_url"`
	TextModel  string `mapstructure:"text_model"`
	ImageModel string `mapstructure:"image_model"`
}

type OpenAIConfig struct {
	APIKey     string `mapstructure:"api_key"`
	BaseURL    string `mapstructure:"base_url"`
	TextModel  string `mapstructure:"text_model"`
	ImageModel string `mapstructure:"image_model"`
}

// TextModel returns the text model of the selected provider.
func (c *AIConfig) TextModel() string {
	if c.Provider == "openai" {
		return c.OpenAI.TextModel
	}
	return c.Gemini.TextModel
}

// ImageModel returns the image model of the selected provider.
func (c *AIConfig) ImageModel() string {
	if c.Provider == "openai" {
		return c.OpenAI.ImageModel
	}
	return c.Gemini.ImageModel
}

type DatabaseConfig struct {
	URL          string `mapstructure:"url"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

type BroadcastConfig struct {
	Type    string      `mapstructure:"type"`
	Channel string      `mapstructure:"channel"`
	Redis   RedisConfig `mapstructure:"redis"`
}

type RedisConfig struct {
	URL      string `mapstructure:"url"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type CacheConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

type RateLimitConfig struct {
	Window time.Duration `mapstructure:"window"`
}

type ContextConfig struct {
	MaxHistory       int `mapstructure:"max_history"`
	MaxMessageLength int `mapstructure:"max_message_length"`
}

type AdminConfig struct {
	Port              int      `mapstructure:"port"`
	Token             string   `mapstructure:"token"`
	AllowedOrigins    []string `mapstructure:"allowed_origins"`
	RequestsPerMinute int      `mapstructure:"requests_per_minute"`
}

type LoggingConfig struct {
	Level  string     `mapstructure:"level"`
	Format string     `mapstructure:"format"`
	Output string     `mapstructure:"output"`
	File   FileConfig `mapstructure:"file"`
}

type FileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

type MonitoringConfig struct {
	Metrics MetricsConfig `mapstructure:"metrics"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

type I18nConfig struct {
	DefaultLanguage string   `mapstructure:"default_language"`
	Languages       []string `mapstructure:"languages"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("bot.update_timeout", 60)
	v.SetDefault("bot.workers", 16)
	v.SetDefault("bot.webhook.port", 8443)

	v.SetDefault("ai.provider", "gemini")
	v.SetDefault("ai.request_timeout", time.Duration(0))
	v.SetDefault("ai.retry_attempts", 3)
	v.SetDefault("ai.retry_unit", time.Second)
	v.SetDefault("ai.gemini.base_url", "https://generativelanguage.googleapis.com/v1beta")
	v.SetDefault("ai.gemini.text_model", "gemini-2.0-flash-exp")
	v.SetDefault("ai.gemini.image_model", "imagen-3.0-generate-002")
	v.SetDefault("ai.openai.text_model", "gpt-4o-mini")
	v.SetDefault("ai.openai.image_model", "dall-e-3")

	v.SetDefault("database.max_open_conns", 10)

	v.SetDefault("broadcast.type", "memory")
	v.SetDefault("broadcast.channel", "kirillgpt:events")

	v.SetDefault("cache.ttl", 300*time.Second)
	v.SetDefault("rate_limit.window", time.Second)
	v.SetDefault("context.max_history", 20)
	v.SetDefault("context.max_message_length", 2000)

	v.SetDefault("admin.port", 8000)
	v.SetDefault("admin.token", DefaultAdminToken)
	v.SetDefault("admin.allowed_origins", []string{"http://localhost:3000", "http://localhost:5000"})
	v.SetDefault("admin.requests_per_minute", 300)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.file.path", "logs/kirillgpt.log")
	v.SetDefault("logging.file.max_size", 100)
	v.SetDefault("logging.file.max_backups", 3)
	v.SetDefault("logging.file.max_age", 28)

	v.SetDefault("monitoring.metrics.enabled", false)
	v.SetDefault("monitoring.metrics.port", 9090)
	v.SetDefault("monitoring.metrics.path", "/metrics")

	v.SetDefault("i18n.default_language", "ru")
	v.SetDefault("i18n.languages", []string{"ru", "en"})
}

// LoadConfig loads configuration from an optional YAML file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			v.SetConfigFile(configPath)
			v.SetConfigType("yaml")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	v.AutomaticEnv()
	v.BindEnv("bot.token", "TELEGRAM_BOT_TOKEN", "BOT_TOKEN")
	v.BindEnv("ai.provider", "AI_PROVIDER")
	v.BindEnv("ai.gemini.api_key", "GOOGLE_API_KEY")
	v.BindEnv("ai.openai.api_key", "OPENAI_API_KEY")
	v.BindEnv("database.url", "DATABASE_URL")
	v.BindEnv("broadcast.type", "BROADCAST_TYPE")
	v.BindEnv("broadcast.redis.url", "REDIS_URL")
	v.BindEnv("context.max_history", "MAX_HISTORY")
	v.BindEnv("context.max_message_length", "MAX_USER_MSG_LEN")
	v.BindEnv("admin.token", "ADMIN_TOKEN")
	v.BindEnv("admin.port", "PORT")
	v.BindEnv("logging.level", "LOG_LEVEL")

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// RATE_WINDOW and CACHE_TTL are plain seconds, possibly fractional
	if err := secondsFromEnv("RATE_WINDOW", &config.RateLimit.Window); err != nil {
		return nil, err
	}
	if err := secondsFromEnv("CACHE_TTL", &config.Cache.TTL); err != nil {
		return nil, err
	}

	config.AI.Provider = strings.ToLower(strings.TrimSpace(config.AI.Provider))
	config.Broadcast.Type = strings.ToLower(strings.TrimSpace(config.Broadcast.Type))

	if err := config.validateCommon(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func secondsFromEnv(name string, dst *time.Duration) error {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return nil
	}
	secs, err := strconv.ParseFloat(raw, 64)
	if err != nil || secs < 0 {
		return fmt.Errorf("invalid %s %q: expected non-negative seconds", name, raw)
	}
	*dst = time.Duration(secs * float64(time.Second))
	return nil
}

func (c *Config) validateCommon() error {
	if c.Context.MaxHistory <= 0 {
		return errors.New("context.max_history must be positive")
	}
	if c.Context.MaxMessageLength <= 0 {
		return errors.New("context.max_message_length must be positive")
	}
	switch c.AI.Provider {
	case "gemini", "openai":
	default:
		return fmt.Errorf("unsupported ai provider: %s", c.AI.Provider)
	}
	switch c.Broadcast.Type {
	case "memory", "redis":
	default:
		return fmt.Errorf("unsupported broadcast type: %s", c.Broadcast.Type)
	}
	if c.AI.RetryAttempts < 1 {
		return errors.New("ai.retry_attempts must be at least 1")
	}
	return nil
}

// ValidateBot checks the settings the bot process cannot run without
func (c *Config) ValidateBot() error {
	if c.Bot.Token == "" {
		return errors.New("bot token is required (TELEGRAM_BOT_TOKEN)")
	}
	switch c.AI.Provider {
	case "gemini":
		if c.AI.Gemini.APIKey == "" {
			return errors.New("GOOGLE_API_KEY is required for the gemini provider")
		}
	case "openai":
		if c.AI.OpenAI.APIKey == "" {
			return errors.New("OPENAI_API_KEY is required for the openai provider")
		}
	}
	return nil
}

// ValidateAdmin checks the admin backend settings
func (c *Config) ValidateAdmin() error {
	if c.Admin.Port <= 0 || c.Admin.Port > 65535 {
		return fmt.Errorf("invalid admin port: %d", c.Admin.Port)
	}
	if c.Admin.Token == "" {
		return errors.New("admin token must not be empty")
	}
	return nil
}

// UsesDefaultAdminToken reports whether the admin token was left at its development value
func (c *Config) UsesDefaultAdminToken() bool {
	return c.Admin.Token == DefaultAdminToken
}
