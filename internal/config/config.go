package config

import (
	"log"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Oracle   OracleConfig   `mapstructure:"oracle"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Attest   AttestConfig   `mapstructure:"attest"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Pegs     []PegSeed      `mapstructure:"pegs"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
}

type AuthConfig struct {
	AdminKey string `mapstructure:"admin_key"`
}

type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type OracleConfig struct {
	// FreshnessWindowSeconds bounds how old the best quote may be before the
	// observation is reported stale.
	FreshnessWindowSeconds int    `mapstructure:"freshness_window_seconds"`
	MaxDeviationBps        int64  `mapstructure:"max_deviation_bps"`
	FeedURL                string `mapstructure:"feed_url"`
}

type EngineConfig struct {
	// BlockIntervalSeconds drives the cycle ticker; zero disables the ticker
	// and leaves only the manual trigger endpoint.
	BlockIntervalSeconds int     `mapstructure:"block_interval_seconds"`
	TriggerQPS           float64 `mapstructure:"trigger_qps"`
	TriggerBurst         int     `mapstructure:"trigger_burst"`
}

// AttestConfig holds the operator key for signing settlement records.
// Optional; records are unsigned when empty.
type AttestConfig struct {
	KeyHex string `mapstructure:"key_hex"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// PegSeed lets deployments bootstrap peg configs from the config file.
// Governance API writes supersede seeds at runtime.
type PegSeed struct {
	Currency        string `mapstructure:"currency"`
	PegPrice        string `mapstructure:"peg_price"`
	ToleranceBand   string `mapstructure:"tolerance_band"`
	MaxStep         string `mapstructure:"max_step"`
	ReserveRatio    string `mapstructure:"reserve_ratio"`
	ReserveCurrency string `mapstructure:"reserve_currency"`
	ReferenceQuote  string `mapstructure:"reference_quote"`
	InitialSupply   string `mapstructure:"initial_supply"`
	InitialReserve  string `mapstructure:"initial_reserve"`
	// TreasuryFloat is reserve-currency liquidity held by the treasury. It is
	// what expansion proceeds are booked out of, so without it every
	// expansion is rejected by the ledger.
	TreasuryFloat string `mapstructure:"treasury_float"`
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./configs")

	// Environment variables support
	// e.g. SERPD_DATABASE_DSN
	viper.SetEnvPrefix("serpd")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Defaults
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("auth.admin_key", "")
	viper.SetDefault("oracle.freshness_window_seconds", 30)
	viper.SetDefault("oracle.max_deviation_bps", 1000)
	viper.SetDefault("engine.block_interval_seconds", 6)
	viper.SetDefault("engine.trigger_qps", 1)
	viper.SetDefault("engine.trigger_burst", 3)
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")
	viper.SetDefault("logging.level", "info")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("No config file found, using defaults and env vars")
		} else {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
