package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"utxo-diff-alerts/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Bitcoin   BitcoinConfig   `mapstructure:"bitcoin"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// SchedulerConfig governs polling cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	ErrorRetryDelay time.Duration `mapstructure:"error_retry_delay"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	MaxConcurrency  int           `mapstructure:"max_concurrency"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
}

// BitcoinConfig selects the chain, the Esplora endpoint and the watched addresses.
type BitcoinConfig struct {
	Network           string        `mapstructure:"network"`
	EsploraURL        string        `mapstructure:"esplora_url"`
	Addresses         []string      `mapstructure:"addresses"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
}

// AlertingConfig defines which notifications go out and where.
type AlertingConfig struct {
	NotifySubscriptions bool           `mapstructure:"notify_subscriptions"`
	NotifyDeposits      bool           `mapstructure:"notify_deposits"`
	NotifyWithdrawals   bool           `mapstructure:"notify_withdrawals"`
	Channels            []string       `mapstructure:"channels"`
	Email               EmailConfig    `mapstructure:"email"`
	Telegram            TelegramConfig `mapstructure:"telegram"`
}

// EmailConfig describes the SMTP relay and the recipients.
type EmailConfig struct {
	SMTPServer string        `mapstructure:"smtp_server"`
	SMTPPort   int           `mapstructure:"smtp_port"`
	Username   string        `mapstructure:"username"`
	Password   string        `mapstructure:"password"`
	From       string        `mapstructure:"from"`
	FromName   string        `mapstructure:"from_name"`
	Recipients []string      `mapstructure:"recipients"`
	Timeout    time.Duration `mapstructure:"timeout"`
	Insecure   bool          `mapstructure:"insecure"`
}

// TelegramConfig describes the Telegram bot channel.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	ListenAddress string `mapstructure:"listen_address"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("UTXOWATCHER")
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
	v.SetDefault("app.name", "utxowatcher")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scheduler.interval", "30s")
	v.SetDefault("scheduler.error_retry_delay", "30s")
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.max_concurrency", 4)
	v.SetDefault("scheduler.advisory_lock_key", int64(0))

	v.SetDefault("bitcoin.network", NetworkMainnet)
	v.SetDefault("bitcoin.request_timeout", "10s")
	v.SetDefault("bitcoin.requests_per_second", 5.0)

	v.SetDefault("alerting.notify_subscriptions", true)
	v.SetDefault("alerting.notify_deposits", true)
	v.SetDefault("alerting.notify_withdrawals", true)
	v.SetDefault("alerting.channels", []string{ChannelEmail})
	v.SetDefault("alerting.email.smtp_port", 587)
	v.SetDefault("alerting.email.from_name", "Smaug, the UTXO guardian")
	v.SetDefault("alerting.email.timeout", "30s")
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
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

// Validate performs sanity checks; every failure is a *ConfigurationError.
func (c *Config) Validate() error {
	if c.Export.MaxDataPoints <= 0 {
		return newConfigError("export.max_data_points", "must be greater than zero", nil)
	}
	if c.Scheduler.Interval <= 0 {
		return newConfigError("scheduler.interval", "must be greater than zero", nil)
	}
	if c.Scheduler.ErrorRetryDelay <= 0 {
		return newConfigError("scheduler.error_retry_delay", "must be greater than zero", nil)
	}
	if c.Scheduler.MaxConcurrency <= 0 {
		return newConfigError("scheduler.max_concurrency", "must be greater than zero", nil)
	}
	if c.Bitcoin.RequestsPerSecond < 0 {
		return newConfigError("bitcoin.requests_per_second", "cannot be negative", nil)
	}
	if err := c.validateBitcoin(); err != nil {
		return err
	}
	return c.validateAlerting()
}

func (c *Config) validateBitcoin() error {
	if _, err := NetworkParams(c.Bitcoin.Network); err != nil {
		return newConfigError("bitcoin.network", err.Error(), err)
	}
	if _, err := c.ResolveEsploraURL(); err != nil {
		return newConfigError("bitcoin.esplora_url", err.Error(), err)
	}
	if len(c.Bitcoin.Addresses) == 0 {
		return newConfigError("bitcoin.addresses", "at least one address is required", nil)
	}
	seen := make(map[string]struct{}, len(c.Bitcoin.Addresses))
	for _, addr := range c.Bitcoin.Addresses {
		if err := ValidateAddress(addr, c.Bitcoin.Network); err != nil {
			return newConfigError("bitcoin.addresses", err.Error(), err)
		}
		if _, dup := seen[addr]; dup {
			return newConfigError("bitcoin.addresses", fmt.Sprintf("duplicate address %s", addr), nil)
		}
		seen[addr] = struct{}{}
	}
	return nil
}

func (c *Config) validateAlerting() error {
	for _, ch := range c.Alerting.Channels {
		switch ch {
		case ChannelEmail:
			email := c.Alerting.Email
			if email.SMTPServer == "" {
				return newConfigError("alerting.email.smtp_server", "required when the email channel is enabled", nil)
			}
			if email.SMTPPort <= 0 {
				return newConfigError("alerting.email.smtp_port", "must be greater than zero", nil)
			}
			if len(email.Recipients) == 0 {
				return newConfigError("alerting.email.recipients", "at least one recipient is required", nil)
			}
		case ChannelTelegram:
			if !c.Alerting.Telegram.Enabled {
				return newConfigError("alerting.telegram.enabled", "telegram channel listed but not enabled", nil)
			}
		default:
			return newConfigError("alerting.channels", fmt.Sprintf("unknown channel %q", ch), nil)
		}
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return newConfigError("alerting.telegram.bot_token", "must be configured", nil)
		}
		if c.Alerting.Telegram.ChatID == "" {
			return newConfigError("alerting.telegram.chat_id", "must be configured", nil)
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

// ResolveEsploraURL returns the configured endpoint or the public default for the network.
func (c *Config) ResolveEsploraURL() (string, error) {
	if u := strings.TrimRight(c.Bitcoin.EsploraURL, "/"); u != "" {
		return u, nil
	}
	if u, ok := defaultEsploraURLs[c.Bitcoin.Network]; ok {
		return u, nil
	}
	return "", fmt.Errorf("no default esplora url for network %s", c.Bitcoin.Network)
}
