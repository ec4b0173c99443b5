package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rewired-gh/tickwatch/internal/alerts"
	"github.com/rewired-gh/tickwatch/internal/export"
)

// Config represents the complete application configuration
type Config struct {
	Feed      FeedConfig      `mapstructure:"feed"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Analytics AnalyticsConfig `mapstructure:"analytics"`
	Alerts    AlertsConfig    `mapstructure:"alerts"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Export    ExportConfig    `mapstructure:"export"`
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// FeedConfig holds the tick feed connection settings
type FeedConfig struct {
	URL              string        `mapstructure:"url"`
	AutoReconnect    bool          `mapstructure:"auto_reconnect"`
	BufferCapacity   int           `mapstructure:"buffer_capacity"`
	ReconnectDelay   time.Duration `mapstructure:"reconnect_delay"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
}

// PipelineConfig holds the active instrument and derived-state bounds
type PipelineConfig struct {
	Symbol       string `mapstructure:"symbol"`
	Interval     string `mapstructure:"interval"`
	TickCapacity int    `mapstructure:"tick_capacity"`
	MaxBars      int    `mapstructure:"max_bars"`
}

// AnalyticsConfig holds the analytics service settings
type AnalyticsConfig struct {
	BaseURL         string        `mapstructure:"base_url"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	Timeout         time.Duration `mapstructure:"timeout"`
	MaxRetries      int           `mapstructure:"max_retries"`
	CorrelationPair []string      `mapstructure:"correlation_pair"`
}

// AlertsConfig holds alert notification settings and seed rules
type AlertsConfig struct {
	Bell           bool                `mapstructure:"bell"`
	NotifyCooldown time.Duration       `mapstructure:"notify_cooldown"`
	Rules          []alerts.Definition `mapstructure:"rules"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	Enabled        bool          `mapstructure:"enabled"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// StorageConfig holds the optional tick archive configuration
type StorageConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	DBPath   string `mapstructure:"db_path"`
	MaxTicks int    `mapstructure:"max_ticks"`
}

// ExportConfig controls the shutdown dump
type ExportConfig struct {
	Dir    string `mapstructure:"dir"`
	Format string `mapstructure:"format"`
}

// ServerConfig holds the HTTP API configuration. An empty Addr disables the API.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables.
// An empty path uses defaults and environment only.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// TICKWATCH_FEED_URL overrides feed.url
	v.SetEnvPrefix("TICKWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	// Feed defaults
	v.SetDefault("feed.url", "ws://localhost:8000/ws")
	v.SetDefault("feed.auto_reconnect", true)
	v.SetDefault("feed.buffer_capacity", 2000)
	v.SetDefault("feed.reconnect_delay", "3s")
	v.SetDefault("feed.handshake_timeout", "10s")

	// Pipeline defaults
	v.SetDefault("pipeline.symbol", "btcusdt")
	v.SetDefault("pipeline.interval", "1s")
	v.SetDefault("pipeline.tick_capacity", 2000)
	v.SetDefault("pipeline.max_bars", 60)

	// Analytics defaults
	v.SetDefault("analytics.base_url", "http://localhost:8000")
	v.SetDefault("analytics.poll_interval", "3s")
	v.SetDefault("analytics.timeout", "0s") // 0 = no request timeout
	v.SetDefault("analytics.max_retries", 0)
	v.SetDefault("analytics.correlation_pair", []string{"btcusdt", "ethusdt"})

	// Alert defaults
	v.SetDefault("alerts.bell", true)
	v.SetDefault("alerts.notify_cooldown", "0s") // 0 = notify on every trigger

	// Telegram defaults
	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")

	// Storage defaults
	v.SetDefault("storage.enabled", false)
	v.SetDefault("storage.db_path", "") // "" = $TMPDIR/tickwatch/ticks.db
	v.SetDefault("storage.max_ticks", 100000)

	// Export defaults
	v.SetDefault("export.dir", "") // "" = no dump on shutdown
	v.SetDefault("export.format", "csv")

	// Server defaults
	v.SetDefault("server.addr", "127.0.0.1:8080")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	// Validate Feed config
	if c.Feed.URL == "" {
		return fmt.Errorf("feed.url is required")
	}
	if !strings.HasPrefix(c.Feed.URL, "ws://") && !strings.HasPrefix(c.Feed.URL, "wss://") {
		return fmt.Errorf("feed.url must use the ws or wss scheme")
	}
	if c.Feed.BufferCapacity < 1 {
		return fmt.Errorf("feed.buffer_capacity must be at least 1")
	}
	if c.Feed.ReconnectDelay <= 0 {
		return fmt.Errorf("feed.reconnect_delay must be positive")
	}
	if c.Feed.HandshakeTimeout < 0 {
		return fmt.Errorf("feed.handshake_timeout must not be negative")
	}

	// Validate Pipeline config
	if strings.TrimSpace(c.Pipeline.Symbol) == "" {
		return fmt.Errorf("pipeline.symbol is required")
	}
	if c.Pipeline.TickCapacity < 1 {
		return fmt.Errorf("pipeline.tick_capacity must be at least 1")
	}
	if c.Pipeline.MaxBars < 1 {
		return fmt.Errorf("pipeline.max_bars must be at least 1")
	}

	// Validate Analytics config
	if c.Analytics.BaseURL == "" {
		return fmt.Errorf("analytics.base_url is required")
	}
	if c.Analytics.PollInterval < 100*time.Millisecond {
		return fmt.Errorf("analytics.poll_interval must be at least 100ms")
	}
	if c.Analytics.Timeout < 0 {
		return fmt.Errorf("analytics.timeout must not be negative")
	}
	if c.Analytics.MaxRetries < 0 {
		return fmt.Errorf("analytics.max_retries must not be negative")
	}
	if len(c.Analytics.CorrelationPair) != 2 {
		return fmt.Errorf("analytics.correlation_pair must contain exactly two symbols")
	}

	// Validate Alerts config
	if c.Alerts.NotifyCooldown < 0 {
		return fmt.Errorf("alerts.notify_cooldown must not be negative")
	}
	for i, r := range c.Alerts.Rules {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("alerts.rules[%d] is invalid: %w", i, err)
		}
	}

	// Validate Telegram config
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}

	// Validate Storage config
	if c.Storage.Enabled && c.Storage.MaxTicks < 1 {
		return fmt.Errorf("storage.max_ticks must be at least 1")
	}

	// Validate Export config
	if export.New(c.Export.Format) == nil {
		return fmt.Errorf("export.format must be one of: %s", strings.Join(export.Formats(), ", "))
	}

	// Validate Logging config
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

// CorrelationPair returns the configured pair as an array.
func (c *Config) CorrelationPair() [2]string {
	var pair [2]string
	copy(pair[:], c.Analytics.CorrelationPair)
	return pair
}
