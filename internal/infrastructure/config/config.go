package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	App struct {
		Account   string `toml:"account"`
		Quote     string `toml:"quote"`
		LogLevel  string `toml:"log_level"`
		LogFormat string `toml:"log_format"`
	} `toml:"app"`

	Sync struct {
		MaxPages            int `toml:"max_pages"`
		MaxAttempts         int `toml:"max_attempts"`
		BaseDelayMS         int `toml:"base_delay_ms"`
		MaxDelayMS          int `toml:"max_delay_ms"`
		LockTTLSeconds      int `toml:"lock_ttl_seconds"`
		RunRetentionMinutes int `toml:"run_retention_minutes"`
		IntervalMinutes     int `toml:"interval_minutes"`
		Parallelism         int `toml:"parallelism"`
	} `toml:"sync"`

	Query struct {
		DefaultLimit int `toml:"default_limit"`
		MaxLimit     int `toml:"max_limit"`
	} `toml:"query"`

	Exchange struct {
		Kraken struct {
			Enabled           bool    `toml:"enabled"`
			BaseURL           string  `toml:"base_url"`
			APIKey            string  `toml:"api_key"`
			APISecret         string  `toml:"api_secret"`
			RequestsPerSecond float64 `toml:"requests_per_second"`
			Burst             int     `toml:"burst"`
			TimeoutSeconds    int     `toml:"timeout_seconds"`
		} `toml:"kraken"`
	} `toml:"exchange"`

	Storage struct {
		Driver string `toml:"driver"`
		SQLite struct {
			Path string `toml:"path"`
		} `toml:"sqlite"`
		Postgres struct {
			DSN string `toml:"dsn"`
		} `toml:"postgres"`
	} `toml:"storage"`

	Redis struct {
		Enabled    bool   `toml:"enabled"`
		Addr       string `toml:"addr"`
		Password   string `toml:"password"`
		DB         int    `toml:"db"`
		Prefix     string `toml:"prefix"`
		RunStream  string `toml:"run_stream"`
		RunChannel string `toml:"run_channel"`
	} `toml:"redis"`

	HTTP struct {
		Addr          string  `toml:"addr"`
		RatePerSecond float64 `toml:"rate_per_second"`
		Burst         int     `toml:"burst"`
		MaxUploadMB   int     `toml:"max_upload_mb"`
	} `toml:"http"`
}

// Load reads .env (when present), the TOML file at path, and XLEDGER_*
// overrides, in that order. An empty path yields defaults plus overrides.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	var cfg Config
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	set := func(dst *string, key string) {
		if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	set(&cfg.App.Account, "XLEDGER_ACCOUNT")
	set(&cfg.Exchange.Kraken.APIKey, "XLEDGER_KRAKEN_API_KEY")
	set(&cfg.Exchange.Kraken.APISecret, "XLEDGER_KRAKEN_API_SECRET")
	set(&cfg.Storage.Driver, "XLEDGER_STORAGE_DRIVER")
	set(&cfg.Storage.SQLite.Path, "XLEDGER_SQLITE_PATH")
	set(&cfg.Storage.Postgres.DSN, "XLEDGER_POSTGRES_DSN")
	set(&cfg.Redis.Password, "XLEDGER_REDIS_PASSWORD")
	set(&cfg.HTTP.Addr, "XLEDGER_HTTP_ADDR")
}

func applyDefaults(cfg *Config) {
	if cfg.App.Account == "" {
		cfg.App.Account = "default"
	}
	if cfg.App.Quote == "" {
		cfg.App.Quote = "EUR"
	}
	if cfg.App.LogLevel == "" {
		cfg.App.LogLevel = "info"
	}
	if cfg.App.LogFormat == "" {
		cfg.App.LogFormat = "console"
	}

	if cfg.Sync.MaxPages <= 0 {
		cfg.Sync.MaxPages = 1000
	}
	if cfg.Sync.MaxAttempts <= 0 {
		cfg.Sync.MaxAttempts = 5
	}
	if cfg.Sync.BaseDelayMS <= 0 {
		cfg.Sync.BaseDelayMS = 1000
	}
	if cfg.Sync.MaxDelayMS <= 0 {
		cfg.Sync.MaxDelayMS = 15000
	}
	if cfg.Sync.LockTTLSeconds <= 0 {
		cfg.Sync.LockTTLSeconds = 120
	}
	if cfg.Sync.RunRetentionMinutes <= 0 {
		cfg.Sync.RunRetentionMinutes = 60
	}
	if cfg.Sync.Parallelism <= 0 {
		cfg.Sync.Parallelism = 8
	}

	if cfg.Query.DefaultLimit <= 0 {
		cfg.Query.DefaultLimit = 50
	}
	if cfg.Query.MaxLimit <= 0 {
		cfg.Query.MaxLimit = 200
	}

	k := &cfg.Exchange.Kraken
	if k.BaseURL == "" {
		k.BaseURL = "https://api.kraken.com"
	}
	if k.RequestsPerSecond <= 0 {
		k.RequestsPerSecond = 0.5
	}
	if k.Burst <= 0 {
		k.Burst = 1
	}
	if k.TimeoutSeconds <= 0 {
		k.TimeoutSeconds = 10
	}

	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = DriverSQLite
	}
	cfg.Storage.Driver = strings.ToLower(cfg.Storage.Driver)
	if cfg.Storage.SQLite.Path == "" {
		cfg.Storage.SQLite.Path = "data/xledger.db"
	}

	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "127.0.0.1:6379"
	}
	if cfg.Redis.Prefix == "" {
		cfg.Redis.Prefix = "xledger"
	}
	if cfg.Redis.RunStream == "" {
		cfg.Redis.RunStream = "xledger:runs"
	}
	if cfg.Redis.RunChannel == "" {
		cfg.Redis.RunChannel = "xledger:runs:live"
	}

	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":8080"
	}
	if cfg.HTTP.RatePerSecond <= 0 {
		cfg.HTTP.RatePerSecond = 20
	}
	if cfg.HTTP.Burst <= 0 {
		cfg.HTTP.Burst = 40
	}
	if cfg.HTTP.MaxUploadMB <= 0 {
		cfg.HTTP.MaxUploadMB = 16
	}
}

func validate(cfg *Config) error {
	cfg.App.Quote = strings.ToUpper(strings.TrimSpace(cfg.App.Quote))

	switch cfg.Storage.Driver {
	case DriverMemory, DriverSQLite:
	case DriverPostgres:
		if strings.TrimSpace(cfg.Storage.Postgres.DSN) == "" {
			return errors.New("storage.postgres.dsn empty but driver is postgres")
		}
	default:
		return fmt.Errorf("storage.driver %q is not one of memory, sqlite, postgres", cfg.Storage.Driver)
	}

	if cfg.Exchange.Kraken.Enabled {
		if strings.TrimSpace(cfg.Exchange.Kraken.APIKey) == "" || strings.TrimSpace(cfg.Exchange.Kraken.APISecret) == "" {
			return errors.New("exchange.kraken api_key/api_secret empty but enabled")
		}
	}

	if cfg.Query.DefaultLimit > cfg.Query.MaxLimit {
		return fmt.Errorf("query.default_limit %d exceeds query.max_limit %d", cfg.Query.DefaultLimit, cfg.Query.MaxLimit)
	}
	if cfg.Sync.MaxDelayMS < cfg.Sync.BaseDelayMS {
		return errors.New("sync.max_delay_ms is below sync.base_delay_ms")
	}
	return nil
}

func (c *Config) BaseDelay() time.Duration {
	return time.Duration(c.Sync.BaseDelayMS) * time.Millisecond
}

func (c *Config) MaxDelay() time.Duration {
	return time.Duration(c.Sync.MaxDelayMS) * time.Millisecond
}

func (c *Config) LockTTL() time.Duration {
	return time.Duration(c.Sync.LockTTLSeconds) * time.Second
}

func (c *Config) RunRetention() time.Duration {
	return time.Duration(c.Sync.RunRetentionMinutes) * time.Minute
}

func (c *Config) SyncInterval() time.Duration {
	return time.Duration(c.Sync.IntervalMinutes) * time.Minute
}

func (c *Config) KrakenTimeout() time.Duration {
	return time.Duration(c.Exchange.Kraken.TimeoutSeconds) * time.Second
}
