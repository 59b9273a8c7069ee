package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	ListenAddress string `toml:"ListenAddress"`
	DataDir       string `toml:"DataDir"`
	GenesisFile   string `toml:"GenesisFile"`
	LogFile       string `toml:"LogFile"`
	LogMaxSizeMB  int    `toml:"LogMaxSizeMB"`
	LogMaxBackups int    `toml:"LogMaxBackups"`
	LogMaxAgeDays int    `toml:"LogMaxAgeDays"`
	// PoolAddress holds pooled underlying funds; deposits are pulled into it
	// and redemptions paid out of it.
	PoolAddress string `toml:"PoolAddress"`
	// InitialExchangeRate and RatePerBlock configure the fixed-rate strategy,
	// 18-decimal fixed point (1000000000000000000 = 1.0).
	InitialExchangeRate string `toml:"InitialExchangeRate"`
	RatePerBlock        string `toml:"RatePerBlock"`
	// BlockInterval is how often the strategy advances one accrual block.
	BlockInterval string `toml:"BlockInterval"`
	// DustEpsilonShares is the rounding-dust warning threshold, in shares.
	DustEpsilonShares string `toml:"DustEpsilonShares"`
	// RateLimitPerSecond and RateLimitBurst govern mutating API requests.
	RateLimitPerSecond float64 `toml:"RateLimitPerSecond"`
	RateLimitBurst     int     `toml:"RateLimitBurst"`
}

const defaultConfigTemplate = `ListenAddress = "127.0.0.1:8669"
DataDir = "./rsavings-data"
GenesisFile = ""
LogFile = ""
LogMaxSizeMB = 100
LogMaxBackups = 5
LogMaxAgeDays = 28
PoolAddress = "0x0000000000000000000000000000000000000001"
InitialExchangeRate = "1000000000000000000"
RatePerBlock = "100000000000"
BlockInterval = "1s"
DustEpsilonShares = "1000000000"
RateLimitPerSecond = 50.0
RateLimitBurst = 100
`

// Load loads the configuration from the given path, writing a commented
// default file when none exists yet.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	cfg := &Config{}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s has unknown field %s", path, undecoded[0])
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func createDefault(path string) (*Config, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	if err := os.WriteFile(path, []byte(defaultConfigTemplate), 0o644); err != nil {
		return nil, err
	}
	cfg := &Config{}
	if _, err := toml.Decode(defaultConfigTemplate, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	return cfg, cfg.Validate()
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = "127.0.0.1:8669"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./rsavings-data"
	}
	if strings.TrimSpace(cfg.PoolAddress) == "" {
		cfg.PoolAddress = "0x0000000000000000000000000000000000000001"
	}
	if strings.TrimSpace(cfg.InitialExchangeRate) == "" {
		cfg.InitialExchangeRate = "1000000000000000000"
	}
	if strings.TrimSpace(cfg.RatePerBlock) == "" {
		cfg.RatePerBlock = "0"
	}
	if strings.TrimSpace(cfg.BlockInterval) == "" {
		cfg.BlockInterval = "1s"
	}
	if strings.TrimSpace(cfg.DustEpsilonShares) == "" {
		cfg.DustEpsilonShares = "0"
	}
	if cfg.RateLimitPerSecond <= 0 {
		cfg.RateLimitPerSecond = 50
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 100
	}
}

// Validate rejects values the daemon cannot start with.
func (cfg *Config) Validate() error {
	if _, err := cfg.ParsedBlockInterval(); err != nil {
		return err
	}
	for name, field := range map[string]string{
		"InitialExchangeRate": cfg.InitialExchangeRate,
		"RatePerBlock":        cfg.RatePerBlock,
		"DustEpsilonShares":   cfg.DustEpsilonShares,
	} {
		v, ok := new(big.Int).SetString(strings.TrimSpace(field), 10)
		if !ok || v.Sign() < 0 {
			return fmt.Errorf("config: %s must be a non-negative integer, got %q", name, field)
		}
	}
	rate, _ := new(big.Int).SetString(strings.TrimSpace(cfg.InitialExchangeRate), 10)
	if rate.Sign() == 0 {
		return fmt.Errorf("config: InitialExchangeRate must be positive")
	}
	return nil
}

// ParsedBlockInterval returns the accrual cadence as a duration.
func (cfg *Config) ParsedBlockInterval() (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(cfg.BlockInterval))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("config: BlockInterval must be a positive duration, got %q", cfg.BlockInterval)
	}
	return d, nil
}

func (cfg *Config) bigField(raw string) *big.Int {
	v, _ := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if v == nil {
		v = big.NewInt(0)
	}
	return v
}

// ParsedInitialExchangeRate returns the starting exchange rate. Call Validate
// first.
func (cfg *Config) ParsedInitialExchangeRate() *big.Int { return cfg.bigField(cfg.InitialExchangeRate) }

// ParsedRatePerBlock returns the per-block rate increment. Call Validate
// first.
func (cfg *Config) ParsedRatePerBlock() *big.Int { return cfg.bigField(cfg.RatePerBlock) }

// ParsedDustEpsilon returns the dust warning threshold. Call Validate first.
func (cfg *Config) ParsedDustEpsilon() *big.Int { return cfg.bigField(cfg.DustEpsilonShares) }
