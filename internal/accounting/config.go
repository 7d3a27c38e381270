package accounting

import "yield-ledger/internal/domain"

// DefaultMaxAllocations bounds the rebalance loop.
const DefaultMaxAllocations = 256

// Config holds processor settings.
type Config struct {
	// TokenNames maps a token address to its display name. Tokens in the map
	// skip the name() call on creation.
	TokenNames map[string]string

	// MaxAllocations caps the lending targets read per rebalance.
	MaxAllocations int
}

func (c Config) withDefaults() Config {
	names := make(map[string]string, len(c.TokenNames))
	for addr, name := range c.TokenNames {
		names[domain.NormalizeAddress(addr)] = name
	}
	c.TokenNames = names

	if c.MaxAllocations <= 0 {
		c.MaxAllocations = DefaultMaxAllocations
	}
	return c
}
