package config

import (
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Assets    AssetsConfig    `yaml:"assets"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	Venues    VenuesConfig    `yaml:"venues"`
	Balances  []BalanceEntry  `yaml:"balances"`
}

type ServerConfig struct {
	Address         string        `yaml:"address"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
}

type AssetsConfig struct {
	Native        string `yaml:"native"`
	WrappedNative string `yaml:"wrapped_native"`
}

type LedgerConfig struct {
	Markets []MarketConfig `yaml:"markets"`
}

// MarketConfig sets the ledger risk parameters for one asset. Price is a
// decimal string scaled by 1e18 against the accounting unit.
type MarketConfig struct {
	Asset               string `yaml:"asset"`
	Price               string `yaml:"price"`
	CollateralFactorBps uint64 `yaml:"collateral_factor_bps"`
}

type VenuesConfig struct {
	ConstantProduct ConstProductConfig `yaml:"constant_product"`
	Concentrated    ConcentratedConfig `yaml:"concentrated"`
}

type ConstProductConfig struct {
	Factory string                  `yaml:"factory"`
	Pools   []ConstProductPoolEntry `yaml:"pools"`
}

type ConstProductPoolEntry struct {
	TokenA   string `yaml:"token_a"`
	TokenB   string `yaml:"token_b"`
	ReserveA string `yaml:"reserve_a"`
	ReserveB string `yaml:"reserve_b"`
}

type ConcentratedConfig struct {
	Factory string                  `yaml:"factory"`
	Pools   []ConcentratedPoolEntry `yaml:"pools"`
}

type ConcentratedPoolEntry struct {
	TokenA       string `yaml:"token_a"`
	TokenB       string `yaml:"token_b"`
	FeePips      uint32 `yaml:"fee_pips"`
	SqrtPriceX96 string `yaml:"sqrt_price_x96"`
	Liquidity    string `yaml:"liquidity"`
}

type BalanceEntry struct {
	Account string `yaml:"account"`
	Asset   string `yaml:"asset"`
	Amount  string `yaml:"amount"`
}

func LoadConfig(configPath string) (*Config, error) {
	config := getDefaultConfig()

	if configPath != "" {
		if err := loadFromYAML(configPath, config); err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	if addr := os.Getenv("SERVER_ADDRESS"); addr != "" {
		config.Server.Address = addr
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func loadFromYAML(configPath string, config *Config) error {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, config)
}

func getDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:         ":1337",
			ShutdownTimeout: 30 * time.Second,
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 600,
		},
	}
}

func (c *Config) validate() error {
	addresses := map[string]string{
		"assets.native":         c.Assets.Native,
		"assets.wrapped_native": c.Assets.WrappedNative,
	}
	for field, value := range addresses {
		if value != "" && !common.IsHexAddress(value) {
			return fmt.Errorf("config field %s: invalid address %q", field, value)
		}
	}
	for _, m := range c.Ledger.Markets {
		if !common.IsHexAddress(m.Asset) {
			return fmt.Errorf("ledger market: invalid asset address %q", m.Asset)
		}
		if _, err := ParseAmount(m.Price); err != nil {
			return fmt.Errorf("ledger market %s: %w", m.Asset, err)
		}
		if m.CollateralFactorBps > 10_000 {
			return fmt.Errorf("ledger market %s: collateral factor above 100%%", m.Asset)
		}
	}
	return nil
}

// ParseAmount parses a non-negative decimal string into a big.Int.
func ParseAmount(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	return v, nil
}
