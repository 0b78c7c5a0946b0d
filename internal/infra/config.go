package infra

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"predict_go/internal/domain"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config holds every runtime setting.
// LoadConfig starts from DefaultConfig, applies the file, then environment overrides.
type Config struct {
	App struct {
		Name    string `yaml:"name" toml:"name"`
		Version string `yaml:"version" toml:"version"`
	} `yaml:"app" toml:"app"`

	Database struct {
		Driver       string `yaml:"driver" toml:"driver"` // sqlite | postgres
		DSN          string `yaml:"dsn" toml:"dsn"`
		MaxOpenConns int    `yaml:"max_open_conns" toml:"max_open_conns"` // ignored for sqlite (always 1)
	} `yaml:"database" toml:"database"`

	Market struct {
		FeePercent         decimal.Decimal `yaml:"fee_percent" toml:"fee_percent"`
		DefaultLiquidity   decimal.Decimal `yaml:"default_liquidity" toml:"default_liquidity"`
		MinLiquidity       decimal.Decimal `yaml:"min_liquidity" toml:"min_liquidity"`
		MinBet             decimal.Decimal `yaml:"min_bet" toml:"min_bet"`
		MaxBetPercent      decimal.Decimal `yaml:"max_bet_percent" toml:"max_bet_percent"`
		Tolerance          decimal.Decimal `yaml:"tolerance" toml:"tolerance"`
		MaxIterations      int             `yaml:"max_iterations" toml:"max_iterations"`
		DisputeWindow      time.Duration   `yaml:"dispute_window" toml:"dispute_window"`
		SettlementCurrency domain.Currency `yaml:"settlement_currency" toml:"settlement_currency"`
	} `yaml:"market" toml:"market"`

	Dispute struct {
		StakePercent decimal.Decimal `yaml:"stake_percent" toml:"stake_percent"`
		VotingWindow time.Duration   `yaml:"voting_window" toml:"voting_window"`
	} `yaml:"dispute" toml:"dispute"`

	Scheduler struct {
		Interval        time.Duration `yaml:"interval" toml:"interval"`
		MaxOpsPerSecond float64       `yaml:"max_ops_per_second" toml:"max_ops_per_second"`
		Burst           int           `yaml:"burst" toml:"burst"`
	} `yaml:"scheduler" toml:"scheduler"`

	Lock struct {
		Backend string        `yaml:"backend" toml:"backend"` // memory | redis
		TTL     time.Duration `yaml:"ttl" toml:"ttl"`
		Redis   struct {
			Addr     string `yaml:"addr" toml:"addr"`
			Password string `yaml:"password" toml:"password"`
			DB       int    `yaml:"db" toml:"db"`
		} `yaml:"redis" toml:"redis"`
	} `yaml:"lock" toml:"lock"`

	Feed struct {
		Enabled        bool     `yaml:"enabled" toml:"enabled"`
		ListenAddr     string   `yaml:"listen_addr" toml:"listen_addr"`
		InboxSize      int      `yaml:"inbox_size" toml:"inbox_size"`
		AllowedOrigins []string `yaml:"allowed_origins" toml:"allowed_origins"` // empty: same host only
	} `yaml:"feed" toml:"feed"`

	Logging struct {
		Level string `yaml:"level" toml:"level"`
		Dir   string `yaml:"dir" toml:"dir"`
		File  string `yaml:"file" toml:"file"`
	} `yaml:"logging" toml:"logging"`
}

// DefaultConfig returns the settings used when a key is absent from the file.
func DefaultConfig() *Config {
	var cfg Config
	cfg.App.Name = "predict-go"
	cfg.App.Version = "dev"

	cfg.Database.Driver = "sqlite"
	cfg.Database.DSN = "data/predict.db"
	cfg.Database.MaxOpenConns = 10

	cfg.Market.FeePercent = decimal.NewFromInt(2)
	cfg.Market.DefaultLiquidity = decimal.NewFromInt(100)
	cfg.Market.MinLiquidity = decimal.NewFromInt(1)
	cfg.Market.MinBet = decimal.NewFromInt(1)
	cfg.Market.MaxBetPercent = decimal.NewFromInt(10)
	cfg.Market.Tolerance = decimal.New(1, -4)
	cfg.Market.MaxIterations = 100
	cfg.Market.DisputeWindow = 24 * time.Hour
	cfg.Market.SettlementCurrency = domain.USDC

	cfg.Dispute.StakePercent = decimal.NewFromInt(5)
	cfg.Dispute.VotingWindow = 24 * time.Hour

	cfg.Scheduler.Interval = 60 * time.Second
	cfg.Scheduler.MaxOpsPerSecond = 20
	cfg.Scheduler.Burst = 5

	cfg.Lock.Backend = "memory"
	cfg.Lock.TTL = 30 * time.Second
	cfg.Lock.Redis.Addr = "localhost:6379"

	cfg.Feed.Enabled = true
	cfg.Feed.ListenAddr = "127.0.0.1:8090"
	cfg.Feed.InboxSize = 1024

	cfg.Logging.Level = "info"
	cfg.Logging.Dir = "logs"
	cfg.Logging.File = "app.log"
	return &cfg
}

// LoadConfig reads a YAML or TOML file (by extension) over the defaults.
// A .env file next to the working directory is loaded first when present.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &domain.ConfigError{Field: path, Err: domain.ErrConfigNotFound}
		}
		return nil, err
	}

	cfg := DefaultConfig()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	overrideWithEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	invalid := func(field, format string, args ...any) error {
		return &domain.ConfigError{Field: field, Err: fmt.Errorf(format, args...)}
	}

	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return invalid("database.driver", "unsupported driver %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return invalid("database.dsn", "must not be empty")
	}

	hundred := decimal.NewFromInt(100)
	if c.Market.FeePercent.IsNegative() || c.Market.FeePercent.GreaterThanOrEqual(hundred) {
		return invalid("market.fee_percent", "must be in [0, 100), got %s", c.Market.FeePercent)
	}
	if !c.Market.MinLiquidity.IsPositive() {
		return invalid("market.min_liquidity", "must be positive")
	}
	if c.Market.DefaultLiquidity.LessThan(c.Market.MinLiquidity) {
		return invalid("market.default_liquidity", "must be at least min_liquidity (%s)", c.Market.MinLiquidity)
	}
	if !c.Market.MinBet.IsPositive() {
		return invalid("market.min_bet", "must be positive")
	}
	if !c.Market.MaxBetPercent.IsPositive() || c.Market.MaxBetPercent.GreaterThan(hundred) {
		return invalid("market.max_bet_percent", "must be in (0, 100]")
	}
	if !c.Market.Tolerance.IsPositive() {
		return invalid("market.tolerance", "must be positive")
	}
	if c.Market.MaxIterations <= 0 {
		return invalid("market.max_iterations", "must be positive")
	}
	if c.Market.DisputeWindow <= 0 {
		return invalid("market.dispute_window", "must be positive")
	}
	if !c.Market.SettlementCurrency.Valid() {
		return invalid("market.settlement_currency", "unsupported currency %q", c.Market.SettlementCurrency)
	}

	if c.Dispute.StakePercent.IsNegative() || c.Dispute.StakePercent.GreaterThan(hundred) {
		return invalid("dispute.stake_percent", "must be in [0, 100]")
	}
	if c.Dispute.VotingWindow <= 0 {
		return invalid("dispute.voting_window", "must be positive")
	}

	if c.Scheduler.Interval <= 0 {
		return invalid("scheduler.interval", "must be positive")
	}
	if c.Scheduler.MaxOpsPerSecond <= 0 || c.Scheduler.Burst <= 0 {
		return invalid("scheduler.max_ops_per_second", "rate and burst must be positive")
	}

	switch c.Lock.Backend {
	case "memory":
	case "redis":
		if c.Lock.Redis.Addr == "" {
			return invalid("lock.redis.addr", "required for the redis backend")
		}
	default:
		return invalid("lock.backend", "unsupported backend %q", c.Lock.Backend)
	}
	if c.Lock.TTL <= 0 {
		return invalid("lock.ttl", "must be positive")
	}

	if c.Feed.Enabled && c.Feed.ListenAddr == "" {
		return invalid("feed.listen_addr", "required when the feed is enabled")
	}
	if c.Feed.InboxSize <= 0 {
		return invalid("feed.inbox_size", "must be positive")
	}

	return nil
}

// FeeRate returns the trading fee as a fraction.
func (c *Config) FeeRate() decimal.Decimal {
	return c.Market.FeePercent.Div(decimal.NewFromInt(100))
}

// overrideWithEnv replaces settings with PREDICT_* environment variables when set.
// Secrets (DSN, redis password) should only ever come from here.
func overrideWithEnv(cfg *Config) {
	if v := os.Getenv("PREDICT_DB_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("PREDICT_DB_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("PREDICT_LOCK_BACKEND"); v != "" {
		cfg.Lock.Backend = v
	}
	if v := os.Getenv("PREDICT_REDIS_ADDR"); v != "" {
		cfg.Lock.Redis.Addr = v
	}
	if v := os.Getenv("PREDICT_REDIS_PASSWORD"); v != "" {
		cfg.Lock.Redis.Password = v
	}
	if v := os.Getenv("PREDICT_FEED_ADDR"); v != "" {
		cfg.Feed.ListenAddr = v
	}
	if v := os.Getenv("PREDICT_FEED_ORIGINS"); v != "" {
		cfg.Feed.AllowedOrigins = strings.Split(v, ",")
	}
	if v := os.Getenv("PREDICT_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("PREDICT_FEE_PERCENT"); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			cfg.Market.FeePercent = d
		}
	}
	if v := os.Getenv("PREDICT_DISPUTE_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Market.DisputeWindow = d
		}
	}
	if v := os.Getenv("PREDICT_SCHEDULER_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Scheduler.Interval = d
		}
	}
	if v := os.Getenv("PREDICT_FEED_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Feed.Enabled = b
		}
	}
}

// Redacted returns a copy safe to log.
func (c *Config) Redacted() Config {
	r := *c
	if r.Lock.Redis.Password != "" {
		r.Lock.Redis.Password = "***"
	}
	if r.Database.Driver == "postgres" {
		r.Database.DSN = "***"
	}
	return r
}
