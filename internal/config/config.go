package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"shelfwatch/internal/logging"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

const (
	SourcePush = "push"
	SourcePoll = "poll"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Sales     SalesConfig     `mapstructure:"sales"`
	Alerts    AlertsConfig    `mapstructure:"alerts"`
	Freshness FreshnessConfig `mapstructure:"freshness"`
	Source    SourceConfig    `mapstructure:"source"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Server    ServerConfig    `mapstructure:"server"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig selects and tunes the store. Driver is sqlite or postgres;
// for sqlite the DSN is a file path.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	Retention       time.Duration `mapstructure:"retention"`
	KeepRecent      int           `mapstructure:"keep_recent"`
}

// SchedulerConfig governs sampling cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// SalesConfig tunes sale confirmation.
type SalesConfig struct {
	ConfirmIntervals  int           `mapstructure:"confirm_intervals"`
	MinDeltaThreshold int           `mapstructure:"min_delta_threshold"`
	Cooldown          time.Duration `mapstructure:"cooldown"`
}

// AlertsConfig tunes low-stock and expiration alerting.
type AlertsConfig struct {
	ConfirmIntervals           int            `mapstructure:"confirm_intervals"`
	ExpirationConfirmIntervals int            `mapstructure:"expiration_confirm_intervals"`
	Cooldown                   time.Duration  `mapstructure:"cooldown"`
	LowStockThresholds         map[string]int `mapstructure:"low_stock_thresholds"`
}

// FreshnessConfig sets shelf-life tracking.
type FreshnessConfig struct {
	ExpirationDays int      `mapstructure:"expiration_days"`
	Tracked        []string `mapstructure:"tracked"`
}

// SourceConfig picks where counts come from.
type SourceConfig struct {
	Mode      string        `mapstructure:"mode"`
	URL       string        `mapstructure:"url"`
	Timeout   time.Duration `mapstructure:"timeout"`
	MaxAge    time.Duration `mapstructure:"max_age"`
	UserAgent string        `mapstructure:"user_agent"`
}

// NotifyConfig defines notification routing.
type NotifyConfig struct {
	Timezone    string          `mapstructure:"timezone"`
	NotifySales bool            `mapstructure:"notify_sales"`
	QueueSize   int             `mapstructure:"queue_size"`
	Timeout     time.Duration   `mapstructure:"timeout"`
	RateLimit   RateLimitConfig `mapstructure:"rate_limit"`
	Telegram    TelegramConfig  `mapstructure:"telegram"`
	Email       EmailConfig     `mapstructure:"email"`
}

// RateLimitConfig caps outgoing notifications. Every of zero disables it.
type RateLimitConfig struct {
	Every time.Duration `mapstructure:"every"`
	Burst int           `mapstructure:"burst"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	BotToken string        `mapstructure:"bot_token"`
	ChatID   string        `mapstructure:"chat_id"`
	APIBase  string        `mapstructure:"api_base"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// EmailConfig 描述 SMTP 邮件参数。
type EmailConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	Host     string   `mapstructure:"host"`
	Port     int      `mapstructure:"port"`
	Username string   `mapstructure:"username"`
	Password string   `mapstructure:"password"`
	From     string   `mapstructure:"from"`
	To       []string `mapstructure:"to"`
}

// ServerConfig sets the HTTP API listener. An empty Addr disables it.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int    `mapstructure:"max_data_points"`
	Directory     string `mapstructure:"directory"`
}

// DefaultLowStockThresholds mirrors the stock levels the shelf was tuned for.
func DefaultLowStockThresholds() map[string]int {
	return map[string]int{
		"mango":         3,
		"watermelon":    2,
		"pineapple":     2,
		"passion fruit": 2,
		"maui custard":  2,
		"lemon cake":    2,
	}
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SHELFWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if len(cfg.Alerts.LowStockThresholds) == 0 {
		cfg.Alerts.LowStockThresholds = DefaultLowStockThresholds()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "shelfwatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scheduler.interval", "5s")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x73686c66))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("sales.confirm_intervals", 2)
	v.SetDefault("sales.min_delta_threshold", 1)
	v.SetDefault("sales.cooldown", "10s")

	v.SetDefault("alerts.confirm_intervals", 2)
	v.SetDefault("alerts.expiration_confirm_intervals", 2)
	v.SetDefault("alerts.cooldown", "1h")

	v.SetDefault("freshness.expiration_days", 5)
	v.SetDefault("freshness.tracked", []string{})

	v.SetDefault("source.mode", SourcePush)
	v.SetDefault("source.timeout", "3s")
	v.SetDefault("source.max_age", "30s")
	v.SetDefault("source.user_agent", "shelfwatch/1.0")

	v.SetDefault("notify.timezone", "America/New_York")
	v.SetDefault("notify.notify_sales", false)
	v.SetDefault("notify.queue_size", 256)
	v.SetDefault("notify.timeout", "30s")
	v.SetDefault("notify.rate_limit.every", "0s")
	v.SetDefault("notify.rate_limit.burst", 5)
	v.SetDefault("notify.telegram.enabled", false)
	v.SetDefault("notify.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("notify.telegram.timeout", "10s")
	v.SetDefault("notify.email.enabled", false)
	v.SetDefault("notify.email.host", "smtp.gmail.com")
	v.SetDefault("notify.email.port", 587)

	v.SetDefault("server.addr", ":8080")

	v.SetDefault("export.max_data_points", 100000)
	v.SetDefault("export.directory", ".")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "inventory.db")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.retention", "720h")
	v.SetDefault("database.keep_recent", 100)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Export.MaxDataPoints <= 0 {
		return invalid("export.max_data_points must be greater than zero")
	}
	if c.Scheduler.Interval <= 0 {
		return invalid("scheduler.interval must be greater than zero")
	}
	if c.Sales.ConfirmIntervals < 1 {
		return invalid("sales.confirm_intervals must be at least 1")
	}
	if c.Sales.MinDeltaThreshold < 1 {
		return invalid("sales.min_delta_threshold must be at least 1")
	}
	if c.Sales.Cooldown < 0 {
		return invalid("sales.cooldown cannot be negative")
	}
	if c.Alerts.ConfirmIntervals < 1 || c.Alerts.ExpirationConfirmIntervals < 1 {
		return invalid("alerts confirm intervals must be at least 1")
	}
	if c.Alerts.Cooldown < 0 {
		return invalid("alerts.cooldown cannot be negative")
	}
	if len(c.Alerts.LowStockThresholds) == 0 {
		return invalid("alerts.low_stock_thresholds cannot be empty")
	}
	for entity, threshold := range c.Alerts.LowStockThresholds {
		if threshold < 0 {
			return invalid("alerts.low_stock_thresholds[%s] cannot be negative", entity)
		}
	}
	if c.Freshness.ExpirationDays < 1 {
		return invalid("freshness.expiration_days must be at least 1")
	}

	switch strings.ToLower(c.Database.Driver) {
	case "", "sqlite", "postgres":
	default:
		return invalid("database.driver must be sqlite or postgres, got %q", c.Database.Driver)
	}
	if strings.EqualFold(c.Database.Driver, "postgres") && c.Database.DSN == "" {
		return invalid("database.dsn is required for postgres")
	}
	if c.Database.Retention < 0 {
		return invalid("database.retention cannot be negative")
	}

	switch c.Source.Mode {
	case SourcePush:
	case SourcePoll:
		if c.Source.URL == "" {
			return invalid("source.url is required in poll mode")
		}
	default:
		return invalid("source.mode must be push or poll, got %q", c.Source.Mode)
	}

	if _, err := time.LoadLocation(c.Notify.Timezone); err != nil {
		return invalid("notify.timezone %q: %v", c.Notify.Timezone, err)
	}
	if c.Notify.RateLimit.Every < 0 {
		return invalid("notify.rate_limit.every cannot be negative")
	}
	if c.Notify.Telegram.Enabled {
		if c.Notify.Telegram.BotToken == "" {
			return invalid("notify.telegram.bot_token 必须配置")
		}
		if c.Notify.Telegram.ChatID == "" {
			return invalid("notify.telegram.chat_id 必须配置")
		}
	}
	if c.Notify.Email.Enabled {
		if c.Notify.Email.Host == "" || c.Notify.Email.From == "" {
			return invalid("notify.email.host 和 notify.email.from 必须配置")
		}
		if len(c.Notify.Email.To) == 0 {
			return invalid("notify.email.to 必须配置")
		}
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
