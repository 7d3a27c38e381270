// Package config loads the indexer's YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"yield-ledger/internal/domain"
)

type Config struct {
	Chain      ChainConfig      `yaml:"chain"`
	Stores     StoresConfig     `yaml:"stores"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Accounting AccountingConfig `yaml:"accounting"`
}

type TokenConfig struct {
	Address string `yaml:"address"`
	Name    string `yaml:"name"` // display name; empty reads name() from the contract
}

type ChainConfig struct {
	RPCURL        string        `yaml:"rpc_url"`
	Confirmations uint64        `yaml:"confirmations"`
	BatchBlocks   uint64        `yaml:"batch_blocks"`
	PollInterval  time.Duration `yaml:"poll_interval"`
	StartBlock    uint64        `yaml:"start_block"`
	MaxRetries    int           `yaml:"max_retries"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
	Tokens        []TokenConfig `yaml:"tokens"`
}

type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"`
	LeaseTTL time.Duration `yaml:"lease_ttl"`
}

type StoresConfig struct {
	PostgresDSN   string      `yaml:"postgres_dsn"`
	ClickHouseDSN string      `yaml:"clickhouse_dsn"`
	Redis         RedisConfig `yaml:"redis"`
	UseMemory     bool        `yaml:"use_memory"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug|info|warn|error
	Format string `yaml:"format"` // json|console
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type AccountingConfig struct {
	MaxAllocations int `yaml:"max_allocations"`
}

// Default returns the configuration used for every field a file leaves unset.
func Default() *Config {
	return &Config{
		Chain: ChainConfig{
			Confirmations: 12,
			BatchBlocks:   2000,
			PollInterval:  12 * time.Second,
			MaxRetries:    3,
			RetryDelay:    500 * time.Millisecond,
		},
		Stores: StoresConfig{
			Redis: RedisConfig{
				Prefix:   "yield-ledger:",
				LeaseTTL: 30 * time.Second,
			},
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Metrics: MetricsConfig{Addr: ":9090"},
		Accounting: AccountingConfig{
			MaxAllocations: 256,
		},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err = yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	return cfg, nil
}

// Validate reports every problem found, joined.
func (c *Config) Validate() error {
	var errs []error

	if c.Chain.RPCURL == "" {
		errs = append(errs, errors.New("chain.rpc_url is required"))
	}
	if len(c.Chain.Tokens) == 0 {
		errs = append(errs, errors.New("chain.tokens must list at least one token"))
	}
	seen := make(map[string]struct{}, len(c.Chain.Tokens))
	for i, t := range c.Chain.Tokens {
		if !common.IsHexAddress(t.Address) {
			errs = append(errs, fmt.Errorf("chain.tokens[%d]: invalid address %q", i, t.Address))
			continue
		}
		id := domain.NormalizeAddress(t.Address)
		if _, dup := seen[id]; dup {
			errs = append(errs, fmt.Errorf("chain.tokens[%d]: duplicate address %s", i, id))
		}
		seen[id] = struct{}{}
	}
	if c.Chain.BatchBlocks == 0 {
		errs = append(errs, errors.New("chain.batch_blocks must be positive"))
	}
	if c.Chain.PollInterval <= 0 {
		errs = append(errs, errors.New("chain.poll_interval must be positive"))
	}

	if !c.Stores.UseMemory && c.Stores.PostgresDSN == "" {
		errs = append(errs, errors.New("stores.postgres_dsn is required unless stores.use_memory is set"))
	}
	if c.Stores.Redis.Addr != "" && c.Stores.Redis.LeaseTTL <= 0 {
		errs = append(errs, errors.New("stores.redis.lease_ttl must be positive"))
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", c.Logging.Level))
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("logging.format: unknown format %q", c.Logging.Format))
	}

	if c.Accounting.MaxAllocations <= 0 {
		errs = append(errs, errors.New("accounting.max_allocations must be positive"))
	}

	return errors.Join(errs...)
}

// TokenAddresses returns the normalized token addresses.
func (c *Config) TokenAddresses() []string {
	out := make([]string, 0, len(c.Chain.Tokens))
	for _, t := range c.Chain.Tokens {
		out = append(out, domain.NormalizeAddress(t.Address))
	}
	return out
}

// TokenNames returns the configured display names keyed by normalized address.
func (c *Config) TokenNames() map[string]string {
	names := make(map[string]string)
	for _, t := range c.Chain.Tokens {
		if t.Name != "" {
			names[domain.NormalizeAddress(t.Address)] = t.Name
		}
	}
	return names
}
