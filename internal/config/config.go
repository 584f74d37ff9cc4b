package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"mmledger/internal/logging"
)

// Source kinds.
const (
	SourceChain = "chain"
	SourceNATS  = "nats"
)

// Re-registration policies for SupportedMarket on an already known asset.
const (
	ReregisterOverwrite = "overwrite"
	ReregisterIgnore    = "ignore"
	ReregisterReject    = "reject"
)

// Config materialises application configuration.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Logging    logging.Config   `mapstructure:"logging"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Ethereum   EthereumConfig   `mapstructure:"ethereum"`
	Source     SourceConfig     `mapstructure:"source"`
	NATS       NATSConfig       `mapstructure:"nats"`
	Reconciler ReconcilerConfig `mapstructure:"reconciler"`
	Registry   RegistryConfig   `mapstructure:"registry"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Alerting   AlertingConfig   `mapstructure:"alerting"`
	Export     ExportConfig     `mapstructure:"export"`
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
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
}

// EthereumConfig covers on-chain data access and log following.
type EthereumConfig struct {
	RPCURL             string        `mapstructure:"rpc_url"`
	Network            string        `mapstructure:"network"`
	MoneyMarketAddress string        `mapstructure:"money_market_address"`
	PriceOracleAddress string        `mapstructure:"price_oracle_address"`
	StartBlock         uint64        `mapstructure:"start_block"`
	Confirmations      uint64        `mapstructure:"confirmations"`
	BatchSize          uint64        `mapstructure:"batch_size"`
	PollInterval       time.Duration `mapstructure:"poll_interval"`
	RequestTimeout     time.Duration `mapstructure:"request_timeout"`
}

// SourceConfig selects where events come from.
type SourceConfig struct {
	Kind string `mapstructure:"kind"`
}

// NATSConfig describes the JetStream consumer.
type NATSConfig struct {
	URL      string        `mapstructure:"url"`
	Stream   string        `mapstructure:"stream"`
	Subject  string        `mapstructure:"subject"`
	Consumer string        `mapstructure:"consumer"`
	AckWait  time.Duration `mapstructure:"ack_wait"`
}

// ReconcilerConfig tunes event handling policy.
type ReconcilerConfig struct {
	Reregistration  string `mapstructure:"reregistration"`
	DedupeCacheSize int    `mapstructure:"dedupe_cache_size"`
}

// RegistryConfig layers extra address→symbol entries per network.
type RegistryConfig struct {
	Overrides map[string]map[string]string `mapstructure:"overrides"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Listen string `mapstructure:"listen"`
}

// AlertingConfig defines liquidation alert routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes Telegram alert parameters.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxRows int `mapstructure:"max_rows"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MMLEDGER")
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
	v.SetDefault("app.name", "mmledger")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.advisory_lock_key", int64(0x6d6d6c67))

	v.SetDefault("ethereum.network", "mainnet")
	v.SetDefault("ethereum.money_market_address", "0x3fda67f7583380e67ef93072294a7fac882fd7e7")
	v.SetDefault("ethereum.price_oracle_address", "0x02557a5e05defeffd4cae6d83ea3d173b272c904")
	v.SetDefault("ethereum.start_block", 6400000)
	v.SetDefault("ethereum.confirmations", 12)
	v.SetDefault("ethereum.batch_size", 2000)
	v.SetDefault("ethereum.poll_interval", "15s")
	v.SetDefault("ethereum.request_timeout", "10s")

	v.SetDefault("source.kind", SourceChain)

	v.SetDefault("nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("nats.stream", "MONEY_MARKET")
	v.SetDefault("nats.subject", "moneymarket.events.>")
	v.SetDefault("nats.consumer", "mmledger")
	v.SetDefault("nats.ack_wait", "30s")

	v.SetDefault("reconciler.reregistration", ReregisterIgnore)
	v.SetDefault("reconciler.dedupe_cache_size", 4096)

	v.SetDefault("metrics.listen", ":9102")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("export.max_rows", 1000)
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
	switch c.Source.Kind {
	case SourceChain, SourceNATS:
	default:
		return fmt.Errorf("source.kind must be %q or %q", SourceChain, SourceNATS)
	}
	switch c.Reconciler.Reregistration {
	case ReregisterOverwrite, ReregisterIgnore, ReregisterReject:
	default:
		return fmt.Errorf("reconciler.reregistration must be one of overwrite, ignore, reject")
	}
	if c.Reconciler.DedupeCacheSize < 0 {
		return fmt.Errorf("reconciler.dedupe_cache_size cannot be negative")
	}
	if !common.IsHexAddress(c.Ethereum.MoneyMarketAddress) {
		return fmt.Errorf("ethereum.money_market_address is not an address")
	}
	if c.Ethereum.PriceOracleAddress != "" && !common.IsHexAddress(c.Ethereum.PriceOracleAddress) {
		return fmt.Errorf("ethereum.price_oracle_address is not an address")
	}
	if c.Ethereum.BatchSize == 0 {
		return fmt.Errorf("ethereum.batch_size must be greater than zero")
	}
	if c.Ethereum.PollInterval <= 0 {
		return fmt.Errorf("ethereum.poll_interval must be greater than zero")
	}
	if c.Source.Kind == SourceNATS && (c.NATS.Stream == "" || c.NATS.Consumer == "") {
		return fmt.Errorf("nats.stream and nats.consumer are required for the nats source")
	}
	if c.Export.MaxRows <= 0 {
		return fmt.Errorf("export.max_rows must be greater than zero")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token must be set")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id must be set")
		}
	}
	return nil
}

// RegistryOverrides returns the overrides configured for network.
func (c *Config) RegistryOverrides(network string) map[string]string {
	if c.Registry.Overrides == nil {
		return nil
	}
	return c.Registry.Overrides[strings.ToLower(network)]
}
