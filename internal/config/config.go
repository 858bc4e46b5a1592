// Package config loads and validates the application configuration.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete application configuration
type Config struct {
	Telegram  TelegramConfig        `mapstructure:"telegram"`
	Storage   StorageConfig         `mapstructure:"storage"`
	Dispatch  DispatchConfig        `mapstructure:"dispatch"`
	Run       RunConfig             `mapstructure:"run"`
	Providers ProvidersConfig       `mapstructure:"providers"`
	Logging   LoggingConfig         `mapstructure:"logging"`
	Tasks     map[string]TaskConfig `mapstructure:"tasks"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	Enabled  bool   `mapstructure:"enabled"`
}

// StorageConfig holds state persistence configuration
type StorageConfig struct {
	DBPath string `mapstructure:"db_path"`
}

// DispatchConfig holds outbound delivery configuration
type DispatchConfig struct {
	MinInterval time.Duration `mapstructure:"min_interval"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	RetryBase   time.Duration `mapstructure:"retry_base"`
	RetryMax    time.Duration `mapstructure:"retry_max"`
}

// RunConfig bounds one scheduled invocation
type RunConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// ProvidersConfig holds upstream API configuration
type ProvidersConfig struct {
	CoinGlass CoinGlassConfig `mapstructure:"coinglass"`
	TreeAlpha TreeAlphaConfig `mapstructure:"treealpha"`
}

// CoinGlassConfig holds CoinGlass API configuration. Symbols is the fixed
// pair list walked by the whale-position snapshot.
type CoinGlassConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	APIKey     string        `mapstructure:"api_key"`
	Exchange   string        `mapstructure:"exchange"`
	MaxSymbols int           `mapstructure:"max_symbols"`
	Symbols    []string      `mapstructure:"symbols"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// TreeAlphaConfig holds Tree of Alpha news API configuration
type TreeAlphaConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Limit   int           `mapstructure:"limit"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// RetentionConfig bounds a task's dedup window. Exactly one of max_ids or
// max_age is normally set.
type RetentionConfig struct {
	MaxIDs int           `mapstructure:"max_ids"`
	MaxAge time.Duration `mapstructure:"max_age"`
}

// TaskConfig describes one alerting task. Mode "delta" diffs consecutive
// snapshots and classifies changes; mode "items" forwards new provider items
// as-is, deduplicated by provider identifier.
type TaskConfig struct {
	ThreadID      int64           `mapstructure:"thread_id"`
	Category      string          `mapstructure:"category"`
	Mode          string          `mapstructure:"mode"`
	Provider      string          `mapstructure:"provider"`
	Field         string          `mapstructure:"field"`
	Rules         string          `mapstructure:"rules"`
	Threshold     float64         `mapstructure:"threshold"`
	Epsilon       float64         `mapstructure:"epsilon"`
	TimeBucket    time.Duration   `mapstructure:"time_bucket"`
	TopK          int             `mapstructure:"top_k"`
	Headline      string          `mapstructure:"headline"`
	AuxField      string          `mapstructure:"aux_field"`
	AuxLabel      string          `mapstructure:"aux_label"`
	MinImportance int             `mapstructure:"min_importance"`
	MinNotional   float64         `mapstructure:"min_notional"`
	Retention     RetentionConfig `mapstructure:"retention"`
}

// Load reads configuration from file and environment variables
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)

	setDefaults(v)

	v.SetEnvPrefix("JACKWATCH")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	// Dispatch defaults
	v.SetDefault("dispatch.min_interval", "1s")
	v.SetDefault("dispatch.max_attempts", 3)
	v.SetDefault("dispatch.retry_base", "1s")
	v.SetDefault("dispatch.retry_max", "1m")

	// Run defaults
	v.SetDefault("run.timeout", "5m")

	// Provider defaults
	v.SetDefault("providers.coinglass.base_url", "https://open-api-v4.coinglass.com")
	v.SetDefault("providers.coinglass.exchange", "Binance")
	v.SetDefault("providers.coinglass.max_symbols", 200)
	v.SetDefault("providers.coinglass.symbols", []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"})
	v.SetDefault("providers.coinglass.timeout", "10s")
	v.SetDefault("providers.treealpha.base_url", "https://news.treeofalpha.com")
	v.SetDefault("providers.treealpha.limit", 10)
	v.SetDefault("providers.treealpha.timeout", "10s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Task defaults: the six built-in tasks
	v.SetDefault("tasks.position-change.thread_id", 0)
	v.SetDefault("tasks.position-change.category", "position")
	v.SetDefault("tasks.position-change.mode", "delta")
	v.SetDefault("tasks.position-change.provider", "coinglass-position")
	v.SetDefault("tasks.position-change.field", "exposure")
	v.SetDefault("tasks.position-change.rules", "position")
	v.SetDefault("tasks.position-change.threshold", 1.0)
	v.SetDefault("tasks.position-change.epsilon", 0.01)
	v.SetDefault("tasks.position-change.time_bucket", "15m")
	v.SetDefault("tasks.position-change.top_k", 3)
	v.SetDefault("tasks.position-change.headline", "💰 Position change report (15m)")
	v.SetDefault("tasks.position-change.aux_field", "price_change_15m")
	v.SetDefault("tasks.position-change.aux_label", "price")
	v.SetDefault("tasks.position-change.retention.max_age", "4h")

	v.SetDefault("tasks.funding-rate.thread_id", 0)
	v.SetDefault("tasks.funding-rate.category", "funding")
	v.SetDefault("tasks.funding-rate.mode", "delta")
	v.SetDefault("tasks.funding-rate.provider", "coinglass-funding")
	v.SetDefault("tasks.funding-rate.field", "funding_rate")
	v.SetDefault("tasks.funding-rate.rules", "threshold")
	v.SetDefault("tasks.funding-rate.threshold", 0.05)
	v.SetDefault("tasks.funding-rate.time_bucket", "8h")
	v.SetDefault("tasks.funding-rate.top_k", 5)
	v.SetDefault("tasks.funding-rate.headline", "🏦 Funding rate movers")
	v.SetDefault("tasks.funding-rate.retention.max_age", "48h")

	v.SetDefault("tasks.whale-position.thread_id", 0)
	v.SetDefault("tasks.whale-position.category", "whale")
	v.SetDefault("tasks.whale-position.mode", "delta")
	v.SetDefault("tasks.whale-position.provider", "coinglass-whale")
	v.SetDefault("tasks.whale-position.field", "top_position_ratio")
	v.SetDefault("tasks.whale-position.rules", "threshold")
	v.SetDefault("tasks.whale-position.threshold", 0.2)
	v.SetDefault("tasks.whale-position.time_bucket", "1h")
	v.SetDefault("tasks.whale-position.top_k", 3)
	v.SetDefault("tasks.whale-position.headline", "🐋 Whale positioning (1h)")
	v.SetDefault("tasks.whale-position.aux_field", "global_ratio")
	v.SetDefault("tasks.whale-position.aux_label", "retail")
	v.SetDefault("tasks.whale-position.retention.max_age", "24h")

	v.SetDefault("tasks.hyperliquid.thread_id", 0)
	v.SetDefault("tasks.hyperliquid.category", "hyperliquid")
	v.SetDefault("tasks.hyperliquid.mode", "items")
	v.SetDefault("tasks.hyperliquid.provider", "coinglass-hyperliquid")
	v.SetDefault("tasks.hyperliquid.headline", "🐳 Hyperliquid whale alert")
	v.SetDefault("tasks.hyperliquid.min_notional", 1_000_000)
	v.SetDefault("tasks.hyperliquid.retention.max_ids", 500)

	v.SetDefault("tasks.news.thread_id", 0)
	v.SetDefault("tasks.news.category", "news")
	v.SetDefault("tasks.news.mode", "items")
	v.SetDefault("tasks.news.provider", "treealpha-news")
	v.SetDefault("tasks.news.headline", "📰 Market news")
	v.SetDefault("tasks.news.retention.max_ids", 1000)

	v.SetDefault("tasks.economic-calendar.thread_id", 0)
	v.SetDefault("tasks.economic-calendar.category", "economic")
	v.SetDefault("tasks.economic-calendar.mode", "items")
	v.SetDefault("tasks.economic-calendar.provider", "coinglass-calendar")
	v.SetDefault("tasks.economic-calendar.headline", "📅 Economic calendar")
	v.SetDefault("tasks.economic-calendar.min_importance", 2)
	v.SetDefault("tasks.economic-calendar.retention.max_ids", 1000)
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}

	if c.Dispatch.MinInterval <= 0 {
		return fmt.Errorf("dispatch.min_interval must be positive")
	}
	if c.Dispatch.MaxAttempts < 1 {
		return fmt.Errorf("dispatch.max_attempts must be at least 1")
	}
	if c.Run.Timeout < 10*time.Second {
		return fmt.Errorf("run.timeout must be at least 10 seconds")
	}

	if len(c.Tasks) == 0 {
		return fmt.Errorf("at least one task must be configured")
	}
	for name, task := range c.Tasks {
		if err := task.validate(); err != nil {
			return fmt.Errorf("tasks.%s: %w", name, err)
		}
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}

func (t TaskConfig) validate() error {
	if t.Category == "" {
		return fmt.Errorf("category is required")
	}
	if t.Provider == "" {
		return fmt.Errorf("provider is required")
	}
	switch t.Mode {
	case "delta":
		if t.Field == "" {
			return fmt.Errorf("field is required in delta mode")
		}
		if t.Rules == "" {
			return fmt.Errorf("rules is required in delta mode")
		}
		if t.Threshold < 0 {
			return fmt.Errorf("threshold must not be negative")
		}
		if t.Epsilon < 0 {
			return fmt.Errorf("epsilon must not be negative")
		}
		if t.TimeBucket <= 0 {
			return fmt.Errorf("time_bucket must be positive in delta mode")
		}
	case "items":
	default:
		return fmt.Errorf("mode must be one of: delta, items")
	}
	if t.MinNotional < 0 {
		return fmt.Errorf("min_notional must not be negative")
	}
	if t.Retention.MaxIDs < 0 {
		return fmt.Errorf("retention.max_ids must not be negative")
	}
	if t.Retention.MaxAge < 0 {
		return fmt.Errorf("retention.max_age must not be negative")
	}
	if t.Retention.MaxIDs == 0 && t.Retention.MaxAge == 0 {
		return fmt.Errorf("retention requires max_ids or max_age")
	}
	return nil
}
