package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "app:\n  name: shelfwatch\n"))
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cfg.Scheduler.Interval)
	assert.Equal(t, 2, cfg.Sales.ConfirmIntervals)
	assert.Equal(t, 1, cfg.Sales.MinDeltaThreshold)
	assert.Equal(t, 10*time.Second, cfg.Sales.Cooldown)
	assert.Equal(t, time.Hour, cfg.Alerts.Cooldown)
	assert.Equal(t, DefaultLowStockThresholds(), cfg.Alerts.LowStockThresholds)
	assert.Equal(t, 5, cfg.Freshness.ExpirationDays)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 100, cfg.Database.KeepRecent)
	assert.Equal(t, SourcePush, cfg.Source.Mode)
	assert.Equal(t, "America/New_York", cfg.Notify.Timezone)
	assert.Equal(t, 587, cfg.Notify.Email.Port)
	assert.Equal(t, ":8080", cfg.Server.Addr)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := writeConfig(t, `
scheduler:
  interval: 2s
alerts:
  cooldown: 30m
  low_stock_thresholds:
    mango: 4
    kiwi: 1
source:
  mode: poll
  url: http://camera.local/counts
notify:
  email:
    enabled: true
    from: shelf@example.com
    to: [ops@example.com]
`)
	t.Setenv("SHELFWATCH_SALES_COOLDOWN", "45s")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, cfg.Scheduler.Interval)
	assert.Equal(t, 30*time.Minute, cfg.Alerts.Cooldown)
	assert.Equal(t, map[string]int{"mango": 4, "kiwi": 1}, cfg.Alerts.LowStockThresholds)
	assert.Equal(t, 45*time.Second, cfg.Sales.Cooldown)
	assert.Equal(t, SourcePoll, cfg.Source.Mode)
	assert.Equal(t, []string{"ops@example.com"}, cfg.Notify.Email.To)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := Load(writeConfig(t, "app:\n  name: shelfwatch\n"))
		require.NoError(t, err)
		return cfg
	}

	cases := map[string]func(c *Config){
		"interval":       func(c *Config) { c.Scheduler.Interval = 0 },
		"confirm":        func(c *Config) { c.Sales.ConfirmIntervals = 0 },
		"min delta":      func(c *Config) { c.Sales.MinDeltaThreshold = 0 },
		"negative limit": func(c *Config) { c.Alerts.LowStockThresholds["mango"] = -1 },
		"no thresholds":  func(c *Config) { c.Alerts.LowStockThresholds = nil },
		"driver":         func(c *Config) { c.Database.Driver = "mysql" },
		"postgres dsn":   func(c *Config) { c.Database.Driver = "postgres"; c.Database.DSN = "" },
		"poll url":       func(c *Config) { c.Source.Mode = SourcePoll },
		"mode":           func(c *Config) { c.Source.Mode = "carrier-pigeon" },
		"timezone":       func(c *Config) { c.Notify.Timezone = "Mars/Olympus" },
		"telegram":       func(c *Config) { c.Notify.Telegram.Enabled = true },
		"email":          func(c *Config) { c.Notify.Email.Enabled = true; c.Notify.Email.From = "a@b.c" },
		"expiration":     func(c *Config) { c.Freshness.ExpirationDays = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := base()
			mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalid)
		})
	}
}

func TestResolveMaxPoints(t *testing.T) {
	cfg := &Config{Export: ExportConfig{MaxDataPoints: 500}}
	assert.Equal(t, 500, cfg.ResolveMaxPoints(0))
	assert.Equal(t, 20, cfg.ResolveMaxPoints(20))
}
