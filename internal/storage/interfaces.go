package storage

import (
	"context"

	"yield-ledger/internal/domain"
)

// UserStore provides access to users.
type UserStore interface {
	// GetUser retrieves a user by address. Returns ErrNotFound if not exists.
	GetUser(ctx context.Context, id string) (*domain.User, error)

	// SaveUser inserts or replaces a user.
	SaveUser(ctx context.Context, u *domain.User) error
}

// TokenStore provides access to tokens.
type TokenStore interface {
	// GetToken retrieves a token by address. Returns ErrNotFound if not exists.
	GetToken(ctx context.Context, id string) (*domain.Token, error)

	// SaveToken inserts or replaces a token.
	SaveToken(ctx context.Context, t *domain.Token) error
}

// UserTokenStore provides access to user positions.
type UserTokenStore interface {
	// GetUserToken retrieves a position by PairID(user, token). Returns ErrNotFound if not exists.
	GetUserToken(ctx context.Context, id string) (*domain.UserToken, error)

	// SaveUserToken inserts or replaces a position.
	SaveUserToken(ctx context.Context, ut *domain.UserToken) error

	// ListUserTokensByToken retrieves all positions in a token, ordered by id ASC.
	ListUserTokensByToken(ctx context.Context, tokenID string) ([]*domain.UserToken, error)
}

// ReferrerStore provides access to referrers.
type ReferrerStore interface {
	// GetReferrer retrieves a referrer by address. Returns ErrNotFound if not exists.
	GetReferrer(ctx context.Context, id string) (*domain.Referrer, error)

	// SaveReferrer inserts or replaces a referrer.
	SaveReferrer(ctx context.Context, r *domain.Referrer) error
}

// ReferrerTokenStore provides access to per-token referrer aggregates.
type ReferrerTokenStore interface {
	// GetReferrerToken retrieves an aggregate by PairID(referrer, token). Returns ErrNotFound if not exists.
	GetReferrerToken(ctx context.Context, id string) (*domain.ReferrerToken, error)

	// SaveReferrerToken inserts or replaces an aggregate.
	SaveReferrerToken(ctx context.Context, rt *domain.ReferrerToken) error
}

// ReferrerUserTokenStore provides access to referral attributions.
type ReferrerUserTokenStore interface {
	// GetReferrerUserToken retrieves an attribution by ReferralAttributionID(user, token).
	// Returns ErrNotFound if not exists.
	GetReferrerUserToken(ctx context.Context, id string) (*domain.ReferrerUserToken, error)

	// SaveReferrerUserToken inserts or replaces an attribution.
	SaveReferrerUserToken(ctx context.Context, rut *domain.ReferrerUserToken) error
}

// MintStore provides access to the mint audit log.
type MintStore interface {
	// InsertMint appends a mint. Returns ErrDuplicateKey if id exists.
	InsertMint(ctx context.Context, m *domain.Mint) error

	// GetMint retrieves a mint by EventID. Returns ErrNotFound if not exists.
	GetMint(ctx context.Context, id string) (*domain.Mint, error)

	// LatestMintBefore retrieves the mint with the highest log index strictly
	// below logIndex within txHash. Returns ErrNotFound if there is none.
	LatestMintBefore(ctx context.Context, txHash string, logIndex uint) (*domain.Mint, error)
}

// RedeemStore provides access to the redeem audit log.
type RedeemStore interface {
	// InsertRedeem appends a redeem. Returns ErrDuplicateKey if id exists.
	InsertRedeem(ctx context.Context, r *domain.Redeem) error

	// GetRedeem retrieves a redeem by EventID. Returns ErrNotFound if not exists.
	GetRedeem(ctx context.Context, id string) (*domain.Redeem, error)
}

// TransferStore provides access to the peer transfer audit log.
type TransferStore interface {
	// InsertTransfer appends a transfer. Returns ErrDuplicateKey if id exists.
	InsertTransfer(ctx context.Context, t *domain.Transfer) error

	// GetTransfer retrieves a transfer by EventID. Returns ErrNotFound if not exists.
	GetTransfer(ctx context.Context, id string) (*domain.Transfer, error)
}

// ReferralStore provides access to the referral audit log.
type ReferralStore interface {
	// InsertReferral appends a referral. Returns ErrDuplicateKey if id exists.
	InsertReferral(ctx context.Context, r *domain.Referral) error

	// GetReferral retrieves a referral by EventID. Returns ErrNotFound if not exists.
	GetReferral(ctx context.Context, id string) (*domain.Referral, error)
}

// RebalanceStore provides access to the rebalance audit log.
type RebalanceStore interface {
	// InsertRebalance appends a rebalance. Returns ErrDuplicateKey if id exists.
	InsertRebalance(ctx context.Context, r *domain.Rebalance) error

	// GetRebalance retrieves a rebalance by EventID. Returns ErrNotFound if not exists.
	GetRebalance(ctx context.Context, id string) (*domain.Rebalance, error)
}

// StatsStore provides access to the TotalStats singleton.
type StatsStore interface {
	// GetTotalStats retrieves the singleton. Returns ErrNotFound if not created yet.
	GetTotalStats(ctx context.Context) (*domain.TotalStats, error)

	// SaveTotalStats inserts or replaces the singleton.
	SaveTotalStats(ctx context.Context, s *domain.TotalStats) error
}

// EntityStore is every record kind the accounting processor reads and writes.
type EntityStore interface {
	UserStore
	TokenStore
	UserTokenStore
	ReferrerStore
	ReferrerTokenStore
	ReferrerUserTokenStore
	MintStore
	RedeemStore
	TransferStore
	ReferralStore
	RebalanceStore
	StatsStore
}

// CheckpointStore persists the indexer's progress.
type CheckpointStore interface {
	// GetCheckpoint returns the saved checkpoint. Returns ErrNotFound if none has been saved.
	GetCheckpoint(ctx context.Context) (*domain.Checkpoint, error)

	// SaveCheckpoint replaces the saved checkpoint.
	SaveCheckpoint(ctx context.Context, cp *domain.Checkpoint) error
}

// UnitOfWork is the view of the store handed to a transaction.
type UnitOfWork interface {
	EntityStore
	CheckpointStore
}

// Transactor applies a group of writes atomically. If fn returns an error
// none of its writes become visible.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context, uow UnitOfWork) error) error
}

// Database is a durable entity store with transactions.
type Database interface {
	UnitOfWork
	Transactor
}

// PriceHistoryStore provides access to the price snapshot timeseries.
type PriceHistoryStore interface {
	// InsertBulk appends snapshots. Fails entire batch on duplicate (token_id, event_id).
	InsertBulk(ctx context.Context, snapshots []*domain.PriceSnapshot) error

	// GetByTokenID retrieves all snapshots for a token, ordered by block ASC.
	GetByTokenID(ctx context.Context, tokenID string) ([]*domain.PriceSnapshot, error)

	// GetByBlockRange retrieves snapshots for a token within [from, to] (inclusive).
	GetByBlockRange(ctx context.Context, tokenID string, from, to uint64) ([]*domain.PriceSnapshot, error)
}
