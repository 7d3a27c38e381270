package domain

import "math/big"

// All quantities are raw integers in the unit named by the field. Handlers
// replace *big.Int values instead of mutating them, so a shallow copy of a
// record is a safe snapshot.

// User is any address that ever held a yield token.
type User struct {
	ID                        string // lower-case address
	Address                   string
	FirstInteractionTimestamp int64
}

// Token is a yield-bearing token and its running accounting state.
type Token struct {
	ID                            string // lower-case address
	Address                       string
	Name                          string
	Decimals                      uint8
	UnderlyingAddress             string
	UnderlyingName                string
	UnderlyingDecimals            uint8
	LastPrice                     *big.Int // underlying units per whole token
	LastPriceTimestamp            int64
	Fee                           *big.Int // parts per 100,000
	TotalSupply                   *big.Int // token units
	UniqueUserCount               int64
	TotalFeeGeneratedInUnderlying *big.Int
	TotalFeePaidInUnderlying      *big.Int
	TotalRebalances               int64
}

// UserToken is a user's position in one token.
type UserToken struct {
	ID                       string // PairID(user, token)
	UserID                   string
	TokenID                  string
	Balance                  *big.Int // token units
	TotalFeePaidInUnderlying *big.Int
	TotalProfitRedeemed      *big.Int // underlying units
}

// Referrer is an address credited with referred mints.
type Referrer struct {
	ID                 string
	Address            string
	TotalReferralCount int64
}

// ReferrerToken aggregates a referrer's activity in one token.
type ReferrerToken struct {
	ID                            string // PairID(referrer, token)
	ReferrerID                    string
	TokenID                       string
	ReferralCount                 int64
	ReferralTotal                 *big.Int // referred deposits, underlying units
	TotalBalance                  *big.Int // attributed, still-held token units
	TotalProfitEarnedInUnderlying *big.Int
}

// ReferrerUserToken binds a user's position in a token to the referrer who
// introduced it. The first referrer to claim the pair keeps it.
type ReferrerUserToken struct {
	ID              string // ReferralAttributionID(user, token)
	ReferrerID      string
	ReferrerTokenID string
	UserID          string
	TokenID         string
	Balance         *big.Int
}

// Mint is the append-only audit record of a mint transfer.
type Mint struct {
	ID          string // EventID(tx, log)
	TxHash      string
	LogIndex    uint
	TokenID     string
	UserID      string
	Amount      *big.Int
	BlockHeight uint64
	Timestamp   int64
}

// Redeem is the append-only audit record of a redeem transfer.
type Redeem struct {
	ID          string
	TxHash      string
	LogIndex    uint
	TokenID     string
	UserID      string
	Amount      *big.Int
	Profit      *big.Int // underlying units
	Fee         *big.Int // underlying units
	BlockHeight uint64
	Timestamp   int64
}

// Transfer is the append-only audit record of a peer transfer.
type Transfer struct {
	ID          string
	TxHash      string
	LogIndex    uint
	TokenID     string
	FromUserID  string
	ToUserID    string
	Amount      *big.Int
	BlockHeight uint64
	Timestamp   int64
}

// Referral is the append-only audit record of a referral event. Orphan
// referrals keep MintID, UserID and TokenID empty.
type Referral struct {
	ID             string
	TxHash         string
	LogIndex       uint
	MintID         string
	UserID         string
	TokenID        string
	ReferrerID     string
	ReferredAmount *big.Int
	Orphan         bool
	BlockHeight    uint64
	Timestamp      int64
}

// Rebalance snapshots the token's allocation at rebalance time.
// Allocation[i] is the amount placed with LendingTokens[i].
type Rebalance struct {
	ID               string
	TxHash           string
	LogIndex         uint
	TokenID          string
	Allocation       []*big.Int
	LendingTokens    []string
	AmountRebalanced *big.Int
	BlockHeight      uint64
	Timestamp        int64
}

// TotalStats holds the global counters. There is exactly one, keyed by TotalStatsID.
type TotalStats struct {
	ID               string
	TotalMints       int64
	TotalRedeems     int64
	TotalTransfers   int64
	TotalReferrals   int64
	TotalRebalances  int64
	TotalUniqueUsers int64
}

// PriceSnapshot is the outcome of one price and fee accrual step.
type PriceSnapshot struct {
	TokenID       string
	EventID       string
	BlockNumber   uint64
	Timestamp     int64
	PreviousPrice *big.Int
	RawPrice      *big.Int // as read from chain
	Price         *big.Int // after the regression guard
	Clamped       bool
	AUM           *big.Int // underlying units, at the previous price
	Growth        *big.Int
	GeneratedFee  *big.Int
	FeeRate       *big.Int // rate the growth was valued at
}
