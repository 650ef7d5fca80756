// Package config loads NyxEx's runtime configuration (SPEC_FULL.md §1:
// "a YAML file (configs/config.yaml) with env var overrides
// (NYXEX_*)"), grounded on
// 0xtitan6-polymarket-mm/internal/config/config.go's viper.New +
// SetEnvPrefix + mapstructure-tagged struct shape.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"nyxex/internal/decimalx"
)

// Config is the top-level configuration, unmarshalled from YAML with
// NYXEX_* environment overrides taking precedence.
type Config struct {
	Gateway    GatewayConfig    `mapstructure:"gateway"`
	AdminRPC   AdminRPCConfig   `mapstructure:"admin_rpc"`
	Insurance  InsuranceConfig  `mapstructure:"insurance"`
	Limits     LimitsConfig     `mapstructure:"limits"`
	Markets    []MarketConfig   `mapstructure:"markets"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// GatewayConfig addresses the TCP order-submission adapter and its
// websocket event-stream bridge (SPEC_FULL.md: "internal/gateway").
type GatewayConfig struct {
	Address   string `mapstructure:"address"`
	Port      int    `mapstructure:"port"`
	WSAddress string `mapstructure:"ws_address"`
	WSPort    int    `mapstructure:"ws_port"`
	Workers   int    `mapstructure:"workers"`
}

// AdminRPCConfig addresses the gRPC halt/resume/delist control plane.
type AdminRPCConfig struct {
	Address string `mapstructure:"address"`
	Port    int    `mapstructure:"port"`
}

// InsuranceConfig seeds the insurance fund and the liquidation engine's
// retry budget.
type InsuranceConfig struct {
	SeedQuote          string `mapstructure:"seed_quote"`
	LiquidationRetries int    `mapstructure:"liquidation_retries"`
	WarningMarginRatio string `mapstructure:"warning_margin_ratio"`
}

// LimitsConfig carries the open-order caps internal/validator enforces.
type LimitsConfig struct {
	UserOpenOrderCap   int `mapstructure:"user_open_order_cap"`
	GlobalOpenOrderCap int `mapstructure:"global_open_order_cap"`
}

// LeverageTierConfig is one row of a market's seeded leverage tier table.
type LeverageTierConfig struct {
	MinNotional           string `mapstructure:"min_notional"`
	MaxNotional           string `mapstructure:"max_notional"`
	MaintenanceMarginRate string `mapstructure:"maintenance_margin_rate"`
	MaxLeverage           int    `mapstructure:"max_leverage"`
}

// MarketConfig seeds one symbol into the Market Registry at startup.
type MarketConfig struct {
	Symbol      string               `mapstructure:"symbol"`
	BaseAsset   string               `mapstructure:"base_asset"`
	QuoteAsset  string               `mapstructure:"quote_asset"`
	TickSize    string               `mapstructure:"tick_size"`
	StepSize    string               `mapstructure:"step_size"`
	MinNotional string               `mapstructure:"min_notional"`
	MakerFeeBps int64                `mapstructure:"maker_fee_bps"`
	TakerFeeBps int64                `mapstructure:"taker_fee_bps"`
	MaxLeverage int                  `mapstructure:"max_leverage"`
	Tiers       []LeverageTierConfig `mapstructure:"tiers"`
}

// LoggingConfig controls internal/xlog's setup.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config from a YAML file with NYXEX_* env var overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("NYXEX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("gateway.address", "0.0.0.0")
	v.SetDefault("gateway.port", 7420)
	v.SetDefault("gateway.ws_address", "0.0.0.0")
	v.SetDefault("gateway.ws_port", 7421)
	v.SetDefault("gateway.workers", 10)
	v.SetDefault("admin_rpc.address", "0.0.0.0")
	v.SetDefault("admin_rpc.port", 7422)
	v.SetDefault("insurance.seed_quote", "0")
	v.SetDefault("insurance.liquidation_retries", 3)
	v.SetDefault("insurance.warning_margin_ratio", "0.8")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if c.Gateway.Port <= 0 {
		return fmt.Errorf("config: gateway.port is required")
	}
	if len(c.Markets) == 0 {
		return fmt.Errorf("config: at least one market must be configured")
	}
	for _, m := range c.Markets {
		if m.Symbol == "" {
			return fmt.Errorf("config: market entry missing symbol")
		}
		if m.MaxLeverage <= 0 {
			return fmt.Errorf("config: market %s: max_leverage must be > 0", m.Symbol)
		}
	}
	return nil
}

// ParseDecimal parses a config string field into a decimalx.Decimal,
// defaulting to zero for an empty string (most numeric config fields are
// optional and zero-valued by default).
func ParseDecimal(s string) (decimalx.Decimal, error) {
	if s == "" {
		return decimalx.Zero, nil
	}
	return decimalx.Parse(s)
}
