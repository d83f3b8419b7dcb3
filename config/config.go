package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Marketpulse MarketpulseConfig `yaml:"marketpulse"`
	Logging     LoggingConfig     `yaml:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Channels    ChannelsConfig    `yaml:"channels"`
	Streams     StreamsConfig     `yaml:"streams"`
	Trackers    TrackersConfig    `yaml:"trackers"`
	Fallback    FallbackConfig    `yaml:"fallback"`
	Sources     SourcesConfig     `yaml:"sources"`
	Ingest      IngestConfig      `yaml:"ingest"`
	Storage     StorageConfig     `yaml:"storage"`
}

type MarketpulseConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

type MetricsConfig struct {
	ChannelSize bool   `yaml:"channel_size"`
	CloudWatch  bool   `yaml:"cloudwatch"`
	Namespace   string `yaml:"namespace"`
}

type ChannelsConfig struct {
	RawBuffer int `yaml:"raw_buffer"`
}

// StreamsConfig covers the Binance futures websocket feeds.
type StreamsConfig struct {
	URL                string        `yaml:"url"`
	Symbols            []string      `yaml:"symbols"`
	ConfirmTimeout     time.Duration `yaml:"confirm_timeout"`
	ReadTimeout        time.Duration `yaml:"read_timeout"`
	PingTimeout        time.Duration `yaml:"ping_timeout"`
	HealthInterval     time.Duration `yaml:"health_interval"`
	Retry              RetryConfig   `yaml:"retry"`
	LiquidationStreams bool          `yaml:"liquidation_streams"`
	TradeStreams       bool          `yaml:"trade_streams"`
}

type RetryConfig struct {
	MaxAttempts       int           `yaml:"max_attempts"` // 0 = retry forever
	BaseDelay         time.Duration `yaml:"base_delay"`
	MaxDelay          time.Duration `yaml:"max_delay"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	Jitter            float64       `yaml:"jitter"`
}

type TrackersConfig struct {
	Liquidations TrackerConfig `yaml:"liquidations"`
	Trades       TrackerConfig `yaml:"trades"`
}

type TrackerConfig struct {
	BufferSize  int           `yaml:"buffer_size"`
	MinValueUSD float64       `yaml:"min_value_usd"`
	Window      time.Duration `yaml:"window"`
}

type FallbackConfig struct {
	Enabled          bool          `yaml:"enabled"`
	Force            bool          `yaml:"force"`
	SilenceThreshold time.Duration `yaml:"silence_threshold"`
	CheckInterval    time.Duration `yaml:"check_interval"`
	MinInterval      time.Duration `yaml:"min_interval"`
	MaxEvents        int           `yaml:"max_events"`
}

type SourcesConfig struct {
	Hyperliquid HyperliquidConfig `yaml:"hyperliquid"`
	CoinGecko   CoinGeckoConfig   `yaml:"coingecko"`
	Binance     BinanceRESTConfig `yaml:"binance"`
	Timeout     time.Duration     `yaml:"timeout"`
}

type HyperliquidConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
}

type CoinGeckoConfig struct {
	Enabled           bool     `yaml:"enabled"`
	URL               string   `yaml:"url"`
	IDs               []string `yaml:"ids"`
	RequestsPerMinute int      `yaml:"requests_per_minute"`
}

type BinanceRESTConfig struct {
	Enabled bool     `yaml:"enabled"`
	Symbols []string `yaml:"symbols"`
}

type IngestConfig struct {
	Interval  time.Duration   `yaml:"interval"`
	Retention RetentionConfig `yaml:"retention"`
}

// RetentionConfig holds per-table retention windows in days.
type RetentionConfig struct {
	MarketSnapshotDays int `yaml:"market_snapshot_days"`
	LiquidationDays    int `yaml:"liquidation_days"`
	TradeDays          int `yaml:"trade_days"`
}

type StorageConfig struct {
	Postgres PostgresConfig `yaml:"postgres"`
	Redis    RedisConfig    `yaml:"redis"`
	Archive  ArchiveConfig  `yaml:"archive"`
}

type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
}

// DSN renders the lib/pq connection string.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode)
}

type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// ArchiveConfig controls the optional parquet cold archive on S3.
type ArchiveConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Bucket          string        `yaml:"bucket"`
	Region          string        `yaml:"region"`
	Endpoint        string        `yaml:"endpoint"`
	PathStyle       bool          `yaml:"path_style"`
	Prefix          string        `yaml:"prefix"`
	AccessKeyID     string        `yaml:"access_key_id"`
	SecretAccessKey string        `yaml:"secret_access_key"`
	FlushInterval   time.Duration `yaml:"flush_interval"`
	MaxBuffered     int           `yaml:"max_buffered"`
}

// LoadConfig reads, env-substitutes and validates the YAML configuration.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal([]byte(expandEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Metrics: MetricsConfig{ChannelSize: true},
		Streams: StreamsConfig{
			URL:            "wss://fstream.binance.com/ws",
			ConfirmTimeout: 10 * time.Second,
			ReadTimeout:    60 * time.Second,
			PingTimeout:    10 * time.Second,
			HealthInterval: 30 * time.Second,
			Retry: RetryConfig{
				BaseDelay:         5 * time.Second,
				MaxDelay:          120 * time.Second,
				BackoffMultiplier: 2,
				Jitter:            0.2,
			},
			LiquidationStreams: true,
			TradeStreams:       true,
		},
		Trackers: TrackersConfig{
			Liquidations: TrackerConfig{BufferSize: 1000, MinValueUSD: 500, Window: 48 * time.Hour},
			Trades:       TrackerConfig{BufferSize: 1000, MinValueUSD: 1000, Window: 24 * time.Hour},
		},
		Fallback: FallbackConfig{
			SilenceThreshold: 30 * time.Second,
			CheckInterval:    30 * time.Second,
			MinInterval:      30 * time.Second,
			MaxEvents:        3,
		},
		Sources: SourcesConfig{Timeout: 15 * time.Second},
		Ingest: IngestConfig{
			Interval: 60 * time.Second,
			Retention: RetentionConfig{
				MarketSnapshotDays: 14,
				LiquidationDays:    90,
				TradeDays:          90,
			},
		},
	}
}

// expandEnv replaces ${VAR} and ${VAR:default} placeholders with
// environment values.
func expandEnv(s string) string {
	return os.Expand(s, func(key string) string {
		name, def := key, ""
		if i := strings.Index(key, ":"); i >= 0 {
			name, def = key[:i], key[i+1:]
		}
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		return def
	})
}

// applyEnvOverrides lets deployment credentials win over file values.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("POSTGRES_PASSWORD"); v != "" {
		cfg.Storage.Postgres.Password = strings.TrimSpace(v)
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Storage.Redis.Addr = strings.TrimSpace(v)
	}
	if cfg.Storage.Archive.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			cfg.Storage.Archive.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			cfg.Storage.Archive.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			cfg.Storage.Archive.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			cfg.Storage.Archive.Bucket = strings.TrimSpace(v)
		}
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Marketpulse.Name == "" {
		return fmt.Errorf("marketpulse.name is required")
	}
	if cfg.Marketpulse.Version == "" {
		return fmt.Errorf("marketpulse.version is required")
	}

	if cfg.Channels.RawBuffer <= 0 {
		return fmt.Errorf("channels.raw_buffer must be greater than 0")
	}

	if len(cfg.Streams.Symbols) == 0 {
		return fmt.Errorf("streams.symbols must not be empty")
	}
	if cfg.Streams.ReadTimeout <= 0 {
		return fmt.Errorf("streams.read_timeout must be greater than 0")
	}
	if cfg.Streams.Retry.BaseDelay <= 0 {
		return fmt.Errorf("streams.retry.base_delay must be greater than 0")
	}
	if cfg.Streams.Retry.MaxDelay < cfg.Streams.Retry.BaseDelay {
		return fmt.Errorf("streams.retry.max_delay must be at least base_delay")
	}
	if cfg.Streams.Retry.BackoffMultiplier <= 1 {
		return fmt.Errorf("streams.retry.backoff_multiplier must be greater than 1")
	}

	if cfg.Trackers.Liquidations.BufferSize <= 0 || cfg.Trackers.Trades.BufferSize <= 0 {
		return fmt.Errorf("trackers buffer_size must be greater than 0")
	}
	if cfg.Trackers.Liquidations.MinValueUSD < 0 || cfg.Trackers.Trades.MinValueUSD < 0 {
		return fmt.Errorf("trackers min_value_usd must not be negative")
	}

	if cfg.Ingest.Interval <= 0 {
		return fmt.Errorf("ingest.interval must be greater than 0")
	}
	r := cfg.Ingest.Retention
	if r.MarketSnapshotDays <= 0 || r.LiquidationDays <= 0 || r.TradeDays <= 0 {
		return fmt.Errorf("ingest.retention days must all be greater than 0")
	}

	if cfg.Storage.Postgres.Host == "" {
		return fmt.Errorf("storage.postgres.host is required")
	}
	if cfg.Storage.Postgres.Database == "" {
		return fmt.Errorf("storage.postgres.database is required")
	}

	if cfg.Storage.Archive.Enabled {
		if cfg.Storage.Archive.Bucket == "" {
			return fmt.Errorf("storage.archive.bucket is required when the archive is enabled")
		}
		if cfg.Storage.Archive.Region == "" {
			return fmt.Errorf("storage.archive.region is required when the archive is enabled")
		}
		if cfg.Storage.Archive.FlushInterval <= 0 {
			return fmt.Errorf("storage.archive.flush_interval must be greater than 0")
		}
	}

	return nil
}
