package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"bucketd/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Oracle    OracleConfig    `mapstructure:"oracle"`
	Custody   CustodyConfig   `mapstructure:"custody"`
	Rebalance RebalanceConfig `mapstructure:"rebalance"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
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
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// SchedulerConfig governs the drift sampling cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// OracleConfig controls price aggregation and validity gating.
type OracleConfig struct {
	StaleAfterSlots int64         `mapstructure:"stale_after_slots"`
	MaxConfidence   int64         `mapstructure:"max_confidence"`
	TargetPrecision uint32        `mapstructure:"target_precision"`
	SlotDuration    time.Duration `mapstructure:"slot_duration"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	Feeds           []FeedConfig  `mapstructure:"feeds"`
}

// FeedConfig binds one collateral asset to an ordered list of price feeds.
// Feeds listed earlier take priority during aggregation.
type FeedConfig struct {
	Asset       string `mapstructure:"asset"`
	Name        string `mapstructure:"name"`
	RPCURL      string `mapstructure:"rpc_url"`
	FeedAddress string `mapstructure:"feed_address"`
}

// CustodyConfig covers on-chain balance reads.
type CustodyConfig struct {
	RPCURL         string        `mapstructure:"rpc_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// RebalanceConfig bounds automated collateral swaps.
type RebalanceConfig struct {
	MaxSlippageBps    uint32 `mapstructure:"max_slippage_bps"`
	DriftThresholdBps int32  `mapstructure:"drift_threshold_bps"`
	StagingAddress    string `mapstructure:"staging_address"`
}

// AlertingConfig defines alert thresholds and routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Cooldown time.Duration  `mapstructure:"cooldown"`
	Channels []string       `mapstructure:"channels"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig carries Telegram delivery credentials.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("BUCKETD")
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
	v.SetDefault("app.name", "bucketd")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scheduler.interval", "5m")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x62756b64))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("oracle.stale_after_slots", int64(60))
	v.SetDefault("oracle.max_confidence", int64(20000))
	v.SetDefault("oracle.target_precision", uint32(6))
	v.SetDefault("oracle.slot_duration", "400ms")
	v.SetDefault("oracle.request_timeout", "10s")

	v.SetDefault("custody.request_timeout", "10s")

	v.SetDefault("rebalance.max_slippage_bps", uint32(150))
	v.SetDefault("rebalance.drift_threshold_bps", int32(50))

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.cooldown", "30m")
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")
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

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Oracle.StaleAfterSlots <= 0 {
		return fmt.Errorf("oracle.stale_after_slots must be greater than zero")
	}
	if c.Oracle.MaxConfidence < 0 {
		return fmt.Errorf("oracle.max_confidence cannot be negative")
	}
	if c.Oracle.TargetPrecision == 0 {
		return fmt.Errorf("oracle.target_precision must be greater than zero")
	}
	if c.Oracle.SlotDuration <= 0 {
		return fmt.Errorf("oracle.slot_duration must be greater than zero")
	}
	if c.Rebalance.MaxSlippageBps >= 10000 {
		return fmt.Errorf("rebalance.max_slippage_bps must be below 10000")
	}
	if c.Rebalance.DriftThresholdBps < 0 {
		return fmt.Errorf("rebalance.drift_threshold_bps cannot be negative")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required")
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
