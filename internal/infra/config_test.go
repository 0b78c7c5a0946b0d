package infra

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"predict_go/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfig_YAML(t *testing.T) {
	path := writeFile(t, "config.yaml", `
app:
  name: predict-test
database:
  driver: sqlite
  dsn: "file::memory:"
market:
  fee_percent: 1.5
  default_liquidity: 250
  dispute_window: 2h
dispute:
  stake_percent: 10
scheduler:
  interval: 5s
logging:
  level: debug
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "predict-test", cfg.App.Name)
	assert.True(t, cfg.Market.FeePercent.Equal(decimal.RequireFromString("1.5")))
	assert.True(t, cfg.Market.DefaultLiquidity.Equal(decimal.NewFromInt(250)))
	assert.Equal(t, 2*time.Hour, cfg.Market.DisputeWindow)
	assert.Equal(t, 5*time.Second, cfg.Scheduler.Interval)
	assert.True(t, cfg.Dispute.StakePercent.Equal(decimal.NewFromInt(10)))
	assert.Equal(t, "debug", cfg.Logging.Level)

	// Untouched keys keep their defaults.
	assert.True(t, cfg.Market.MinBet.Equal(decimal.NewFromInt(1)))
	assert.Equal(t, 24*time.Hour, cfg.Dispute.VotingWindow)
	assert.True(t, cfg.FeeRate().Equal(decimal.RequireFromString("0.015")))
}

func TestLoadConfig_TOML(t *testing.T) {
	path := writeFile(t, "config.toml", `
[database]
driver = "sqlite"
dsn = "file::memory:"

[market]
max_iterations = 50
dispute_window = "30m"

[lock]
backend = "redis"

[lock.redis]
addr = "redis:6379"
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 50, cfg.Market.MaxIterations)
	assert.Equal(t, 30*time.Minute, cfg.Market.DisputeWindow)
	assert.Equal(t, "redis", cfg.Lock.Backend)
	assert.Equal(t, "redis:6379", cfg.Lock.Redis.Addr)
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	path := writeFile(t, "config.yaml", "database:\n  dsn: data/x.db\n")

	t.Setenv("PREDICT_DB_DSN", "file::memory:")
	t.Setenv("PREDICT_FEE_PERCENT", "3")
	t.Setenv("PREDICT_SCHEDULER_INTERVAL", "15s")
	t.Setenv("PREDICT_FEED_ENABLED", "false")
	t.Setenv("PREDICT_FEED_ORIGINS", "https://a.example.com,https://b.example.com")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "file::memory:", cfg.Database.DSN)
	assert.True(t, cfg.Market.FeePercent.Equal(decimal.NewFromInt(3)))
	assert.Equal(t, 15*time.Second, cfg.Scheduler.Interval)
	assert.False(t, cfg.Feed.Enabled)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.Feed.AllowedOrigins)
}

func TestLoadConfig_Missing(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrConfigNotFound))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"bad driver", func(c *Config) { c.Database.Driver = "mysql" }, "database.driver"},
		{"fee too high", func(c *Config) { c.Market.FeePercent = decimal.NewFromInt(100) }, "market.fee_percent"},
		{"liquidity below min", func(c *Config) { c.Market.DefaultLiquidity = decimal.RequireFromString("0.5") }, "market.default_liquidity"},
		{"zero window", func(c *Config) { c.Market.DisputeWindow = 0 }, "market.dispute_window"},
		{"bad currency", func(c *Config) { c.Market.SettlementCurrency = "EUR" }, "market.settlement_currency"},
		{"redis without addr", func(c *Config) { c.Lock.Backend = "redis"; c.Lock.Redis.Addr = "" }, "lock.redis.addr"},
		{"no inbox", func(c *Config) { c.Feed.InboxSize = 0 }, "feed.inbox_size"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			var cfgErr *domain.ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
			assert.False(t, domain.IsRetriable(err))
		})
	}

	require.NoError(t, DefaultConfig().Validate())
}

func TestRedacted(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Database.Driver = "postgres"
	cfg.Database.DSN = "postgres://user:secret@db/predict"
	cfg.Lock.Redis.Password = "hunter2"

	r := cfg.Redacted()
	assert.Equal(t, "***", r.Database.DSN)
	assert.Equal(t, "***", r.Lock.Redis.Password)
	assert.Equal(t, "hunter2", cfg.Lock.Redis.Password, "original must be untouched")
}

func TestShippedConfigsLoad(t *testing.T) {
	for _, path := range []string{"../../configs/config.yaml", "../../configs/config.example.toml"} {
		t.Run(filepath.Base(path), func(t *testing.T) {
			cfg, err := LoadConfig(path)
			require.NoError(t, err)
			assert.True(t, cfg.FeeRate().Equal(decimal.RequireFromString("0.02")))
			assert.Equal(t, 24*time.Hour, cfg.Market.DisputeWindow)
			assert.Equal(t, domain.USDC, cfg.Market.SettlementCurrency)
		})
	}
}
