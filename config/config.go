package config

import (
	"math/big"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"

	"nftpool/native/pool"
)

// Config is the daemon configuration, loaded from TOML.
type Config struct {
	RPCAddress   string `toml:"RPCAddress"`
	DataDir      string `toml:"DataDir"`
	Env          string `toml:"Env"`
	LogFile      string `toml:"LogFile"`
	LogMaxSizeMB int    `toml:"LogMaxSizeMB"`
	LogMaxAge    int    `toml:"LogMaxAgeDays"`

	MutationRate  float64 `toml:"MutationRatePerSecond"`
	MutationBurst int     `toml:"MutationBurst"`

	Pool PoolConfig `toml:"pool"`
}

// PoolConfig carries the pool parameter set. Rates are annual 18-decimal
// fixed-point strings; they are normalized to per-second rates on load.
type PoolConfig struct {
	Admin                   string       `toml:"Admin"`
	Address                 string       `toml:"Address"`
	Durations               []uint64     `toml:"Durations"`
	Rates                   []string     `toml:"Rates"`
	TickLimitSpacingBps     uint64       `toml:"TickLimitSpacingBps"`
	AdminFeeBps             uint64       `toml:"AdminFeeBps"`
	FeeShareRecipient       string       `toml:"FeeShareRecipient"`
	FeeShareSplitBps        uint64       `toml:"FeeShareSplitBps"`
	BorrowerSurplusSplitBps uint64       `toml:"BorrowerSurplusSplitBps"`
	Wrappers                []string     `toml:"Wrappers"`
	Filter                  FilterConfig `toml:"filter"`
}

// FilterConfig selects the pool's collateral filter.
type FilterConfig struct {
	Kind  string   `toml:"Kind"` // single | set | merkle
	Token string   `toml:"Token"`
	IDs   []string `toml:"IDs"`
	Root  string   `toml:"Root"`
	Depth int      `toml:"Depth"`
}

// Load reads the configuration, writing a default file on first run.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.RPCAddress == "" {
		c.RPCAddress = "127.0.0.1:8645"
	}
	if c.DataDir == "" {
		c.DataDir = "./pooldata"
	}
	if c.LogMaxSizeMB == 0 {
		c.LogMaxSizeMB = 100
	}
	if c.Pool.TickLimitSpacingBps == 0 {
		c.Pool.TickLimitSpacingBps = pool.DefaultTickLimitSpacingBps
	}
	if c.Pool.BorrowerSurplusSplitBps == 0 {
		c.Pool.BorrowerSurplusSplitBps = pool.DefaultBorrowerSurplusSplitBps
	}
}

// createDefault writes and returns a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		Pool: PoolConfig{
			Durations: []uint64{7 * 86400, 14 * 86400, 30 * 86400},
			Rates: []string{
				"100000000000000000", // 10% annual
				"300000000000000000", // 30% annual
				"500000000000000000", // 50% annual
			},
			Filter: FilterConfig{Kind: "single"},
		},
	}
	cfg.applyDefaults()
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// PoolParams converts the configuration into the engine parameter set.
func (c *Config) PoolParams() (*pool.Params, error) {
	params := &pool.Params{
		Admin:                   common.HexToAddress(c.Pool.Admin),
		Durations:               append([]uint64(nil), c.Pool.Durations...),
		TickLimitSpacingBps:     c.Pool.TickLimitSpacingBps,
		AdminFeeBps:             c.Pool.AdminFeeBps,
		FeeShareRecipient:       common.HexToAddress(c.Pool.FeeShareRecipient),
		FeeShareSplitBps:        c.Pool.FeeShareSplitBps,
		BorrowerSurplusSplitBps: c.Pool.BorrowerSurplusSplitBps,
	}
	for _, raw := range c.Pool.Rates {
		annual, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
		if !ok || annual.Sign() < 0 {
			return nil, pool.ErrInvalidParameters
		}
		params.Rates = append(params.Rates, pool.NormalizeRate(annual))
	}
	for _, wrapper := range c.Pool.Wrappers {
		params.Wrappers = append(params.Wrappers, common.HexToAddress(wrapper))
	}
	filter := pool.CollateralFilter{Token: common.HexToAddress(c.Pool.Filter.Token)}
	switch strings.ToLower(strings.TrimSpace(c.Pool.Filter.Kind)) {
	case "", "single":
		filter.Kind = pool.FilterSingleCollection
	case "set":
		filter.Kind = pool.FilterSetCollection
		for _, raw := range c.Pool.Filter.IDs {
			id, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
			if !ok || id.Sign() < 0 {
				return nil, pool.ErrInvalidParameters
			}
			filter.Set = append(filter.Set, id)
		}
	case "merkle":
		filter.Kind = pool.FilterMerkleCollection
		filter.Root = common.HexToHash(c.Pool.Filter.Root)
		filter.Depth = c.Pool.Filter.Depth
	default:
		return nil, pool.ErrInvalidParameters
	}
	params.CollateralFilter = filter
	return params, nil
}

// PoolAddress returns the pool custody address from the configuration.
func (c *Config) PoolAddress() common.Address {
	return common.HexToAddress(c.Pool.Address)
}
