// Package config loads the monitor configuration from YAML with environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"storefront-live/internal/cache"
	"storefront-live/internal/realtime"
	"storefront-live/internal/transport"
)

// Environment variables that override file values.
const (
	EnvWSURL       = "STOREFRONT_WS_URL"
	EnvPostgresDSN = "STOREFRONT_POSTGRES_DSN"
	EnvLogLevel    = "STOREFRONT_LOG_LEVEL"
	EnvUserID      = "STOREFRONT_USER_ID"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid config")

// Config is the monitor configuration.
type Config struct {
	Transport    TransportConfig    `yaml:"transport"`
	Subscription SubscriptionConfig `yaml:"subscription"`
	Cache        CacheConfig        `yaml:"cache"`
	Dashboards   DashboardsConfig   `yaml:"dashboards"`
	Profile      ProfileConfig      `yaml:"profile"`
	Storage      StorageConfig      `yaml:"storage"`
	Metrics      MetricsConfig      `yaml:"metrics"`
	Log          LogConfig          `yaml:"log"`
}

// TransportConfig configures the websocket connection.
type TransportConfig struct {
	URL              string        `yaml:"url"`
	BaseDelay        time.Duration `yaml:"base_delay"`
	MaxDelay         time.Duration `yaml:"max_delay"`
	Jitter           time.Duration `yaml:"jitter"`
	MaxAttempts      int           `yaml:"max_attempts"`
	PingInterval     time.Duration `yaml:"ping_interval"`
	PongTimeout      time.Duration `yaml:"pong_timeout"`
	DialTimeout      time.Duration `yaml:"dial_timeout"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
}

// SubscriptionConfig configures the subscription registry.
type SubscriptionConfig struct {
	CloseOnIdle bool `yaml:"close_on_idle"`
}

// CacheConfig configures the query cache.
type CacheConfig struct {
	SweepInterval time.Duration `yaml:"sweep_interval"`
	MaxAge        time.Duration `yaml:"max_age"`
	FetchTimeout  time.Duration `yaml:"fetch_timeout"`
}

// DashboardsConfig configures the dashboard reducers.
type DashboardsConfig struct {
	LowStockThreshold int64         `yaml:"low_stock_threshold"`
	TrendBucket       time.Duration `yaml:"trend_bucket"`
	SnapshotInterval  time.Duration `yaml:"snapshot_interval"`
}

// ProfileConfig configures the wallet and the profile polling fallback.
type ProfileConfig struct {
	UserID       string        `yaml:"user_id"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// StorageConfig selects the state store. An empty DSN keeps state in memory.
type StorageConfig struct {
	PostgresDSN string `yaml:"postgres_dsn"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration.
func Default() Config {
	tc := transport.DefaultConfig()
	dc := transport.DefaultWSDialer()
	cc := cache.DefaultConfig()
	return Config{
		Transport: TransportConfig{
			URL:              "ws://localhost:8080/ws",
			BaseDelay:        tc.Backoff.Base,
			MaxDelay:         tc.Backoff.Max,
			Jitter:           tc.Backoff.Jitter,
			MaxAttempts:      tc.MaxAttempts,
			PingInterval:     tc.PingInterval,
			PongTimeout:      tc.PongTimeout,
			DialTimeout:      tc.DialTimeout,
			HandshakeTimeout: dc.HandshakeTimeout,
			WriteTimeout:     dc.WriteTimeout,
		},
		Cache: CacheConfig{
			SweepInterval: cc.SweepInterval,
			MaxAge:        cc.MaxAge,
			FetchTimeout:  cc.FetchTimeout,
		},
		Dashboards: DashboardsConfig{
			LowStockThreshold: 10,
			TrendBucket:       5 * time.Minute,
			SnapshotInterval:  30 * time.Second,
		},
		Profile: ProfileConfig{PollInterval: 30 * time.Second},
		Metrics: MetricsConfig{Addr: ":9090"},
		Log:     LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.ApplyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides file values with non-empty environment variables.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv(EnvWSURL); v != "" {
		c.Transport.URL = v
	}
	if v := getenv(EnvPostgresDSN); v != "" {
		c.Storage.PostgresDSN = v
	}
	if v := getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
	if v := getenv(EnvUserID); v != "" {
		c.Profile.UserID = v
	}
}

// Validate checks the configuration for values the components cannot run
// with.
func (c Config) Validate() error {
	t := c.Transport
	switch {
	case t.URL == "":
		return fmt.Errorf("%w: transport.url is required", ErrInvalid)
	case !strings.HasPrefix(t.URL, "ws://") && !strings.HasPrefix(t.URL, "wss://"):
		return fmt.Errorf("%w: transport.url %q must use ws:// or wss://", ErrInvalid, t.URL)
	case t.BaseDelay <= 0:
		return fmt.Errorf("%w: transport.base_delay must be positive", ErrInvalid)
	case t.MaxDelay < t.BaseDelay:
		return fmt.Errorf("%w: transport.max_delay must be at least base_delay", ErrInvalid)
	case t.Jitter < 0:
		return fmt.Errorf("%w: transport.jitter cannot be negative", ErrInvalid)
	case t.MaxAttempts < 0:
		return fmt.Errorf("%w: transport.max_attempts cannot be negative", ErrInvalid)
	case t.PingInterval > 0 && t.PongTimeout <= 0:
		return fmt.Errorf("%w: transport.pong_timeout is required with ping_interval", ErrInvalid)
	}

	if c.Cache.SweepInterval < 0 || c.Cache.MaxAge < 0 {
		return fmt.Errorf("%w: cache intervals cannot be negative", ErrInvalid)
	}
	if c.Dashboards.LowStockThreshold < 0 {
		return fmt.Errorf("%w: dashboards.low_stock_threshold cannot be negative", ErrInvalid)
	}
	if c.Dashboards.TrendBucket <= 0 {
		return fmt.Errorf("%w: dashboards.trend_bucket must be positive", ErrInvalid)
	}
	if c.Profile.PollInterval < 0 {
		return fmt.Errorf("%w: profile.poll_interval cannot be negative", ErrInvalid)
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("%w: log.format %q must be text or json", ErrInvalid, c.Log.Format)
	}
	return nil
}

// TransportConfig converts the transport section.
func (c Config) TransportConfig() transport.Config {
	t := c.Transport
	return transport.Config{
		URL: t.URL,
		Backoff: transport.Backoff{
			Base:   t.BaseDelay,
			Max:    t.MaxDelay,
			Jitter: t.Jitter,
		},
		MaxAttempts:  t.MaxAttempts,
		PingInterval: t.PingInterval,
		PongTimeout:  t.PongTimeout,
		DialTimeout:  t.DialTimeout,
	}
}

// Dialer returns the gorilla dialer for the transport section.
func (c Config) Dialer() *transport.WSDialer {
	d := transport.DefaultWSDialer()
	if c.Transport.HandshakeTimeout > 0 {
		d.HandshakeTimeout = c.Transport.HandshakeTimeout
	}
	if c.Transport.WriteTimeout > 0 {
		d.WriteTimeout = c.Transport.WriteTimeout
	}
	return d
}

// ClientConfig converts the transport and subscription sections.
func (c Config) ClientConfig() realtime.Config {
	return realtime.Config{
		Transport:   c.TransportConfig(),
		CloseOnIdle: c.Subscription.CloseOnIdle,
	}
}

// CacheConfig converts the cache section.
func (c Config) CacheConfig() cache.Config {
	return cache.Config{
		MaxAge:        c.Cache.MaxAge,
		SweepInterval: c.Cache.SweepInterval,
		FetchTimeout:  c.Cache.FetchTimeout,
	}
}

// SlogLevel parses log.level.
func (c Config) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if c.Log.Level == "" {
		return slog.LevelInfo, nil
	}
	if err := lvl.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, fmt.Errorf("%w: log.level %q", ErrInvalid, c.Log.Level)
	}
	return lvl, nil
}

// NewLogger builds the process logger writing to w.
func (c Config) NewLogger(w io.Writer) *slog.Logger {
	lvl, _ := c.SlogLevel()
	opts := &slog.HandlerOptions{Level: lvl}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
