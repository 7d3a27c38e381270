package reporting

import (
	"math/big"
	"time"

	"yield-ledger/internal/domain"
)

// Report summarizes the ledger and, for a block window, each token's price
// history.
type Report struct {
	GeneratedAt    time.Time
	ScannedThrough uint64
	LastEventID    string // empty before the first applied event

	// Window the period columns cover, inclusive.
	FromBlock uint64
	ToBlock   uint64

	Stats  domain.TotalStats
	Tokens []TokenSummary // sorted by token id

	// MissingTokens lists requested tokens that have no ledger record yet.
	MissingTokens []string
}

// TokenSummary is one token's running totals plus its period figures.
type TokenSummary struct {
	TokenID            string
	Name               string
	UnderlyingName     string
	Decimals           uint8
	UnderlyingDecimals uint8

	TotalSupply       *big.Int
	LastPrice         *big.Int
	Fee               *big.Int // parts per 100,000
	UniqueUserCount   int64
	TotalRebalances   int64
	TotalFeeGenerated *big.Int
	TotalFeePaid      *big.Int

	// Period figures; StartPrice and EndPrice are nil without price history.
	StartPrice         *big.Int
	EndPrice           *big.Int
	ReturnBps          *big.Int // nil when StartPrice is unknown or zero
	PeriodFeeGenerated *big.Int
	Snapshots          int
	ClampedReadings    int
}
