package postgres

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"yield-ledger/internal/domain"
	"yield-ledger/internal/storage"
)

// InsertMint appends a mint. Returns ErrDuplicateKey if id exists.
func (s *Store) InsertMint(ctx context.Context, m *domain.Mint) error {
	if m == nil || m.ID == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO mints (
			id, tx_hash, log_index, token_id, user_id, amount, block_height, timestamp
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := s.q.Exec(ctx, query,
		m.ID, m.TxHash, int32(m.LogIndex), m.TokenID, m.UserID,
		toNumeric(m.Amount), int64(m.BlockHeight), m.Timestamp,
	)
	return insertErr("insert mint", err)
}

// GetMint retrieves a mint by id. Returns ErrNotFound if not exists.
func (s *Store) GetMint(ctx context.Context, id string) (*domain.Mint, error) {
	query := `
		SELECT id, tx_hash, log_index, token_id, user_id, amount, block_height, timestamp
		FROM mints
		WHERE id = $1
	`
	return s.queryMint(ctx, "get mint", query, id)
}

// LatestMintBefore retrieves the mint with the highest log index strictly
// below logIndex within txHash. Hashes are stored lower-case, so txHash is
// matched case-insensitively. Returns ErrNotFound if there is none.
func (s *Store) LatestMintBefore(ctx context.Context, txHash string, logIndex uint) (*domain.Mint, error) {
	query := `
		SELECT id, tx_hash, log_index, token_id, user_id, amount, block_height, timestamp
		FROM mints
		WHERE tx_hash = $1 AND log_index < $2
		ORDER BY log_index DESC
		LIMIT 1
	`
	return s.queryMint(ctx, "latest mint before", query, strings.ToLower(txHash), int32(logIndex))
}

func (s *Store) queryMint(ctx context.Context, op, query string, args ...any) (*domain.Mint, error) {
	var (
		m        domain.Mint
		logIndex int32
		amount   pgtype.Numeric
		height   int64
	)
	err := s.q.QueryRow(ctx, query, args...).Scan(
		&m.ID, &m.TxHash, &logIndex, &m.TokenID, &m.UserID, &amount, &height, &m.Timestamp,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	m.LogIndex = uint(logIndex)
	m.BlockHeight = uint64(height)
	if m.Amount, err = fromNumeric(amount); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &m, nil
}

// InsertRedeem appends a redeem. Returns ErrDuplicateKey if id exists.
func (s *Store) InsertRedeem(ctx context.Context, r *domain.Redeem) error {
	if r == nil || r.ID == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO redeems (
			id, tx_hash, log_index, token_id, user_id, amount, profit, fee, block_height, timestamp
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := s.q.Exec(ctx, query,
		r.ID, r.TxHash, int32(r.LogIndex), r.TokenID, r.UserID,
		toNumeric(r.Amount), toNumeric(r.Profit), toNumeric(r.Fee),
		int64(r.BlockHeight), r.Timestamp,
	)
	return insertErr("insert redeem", err)
}

// GetRedeem retrieves a redeem by id. Returns ErrNotFound if not exists.
func (s *Store) GetRedeem(ctx context.Context, id string) (*domain.Redeem, error) {
	query := `
		SELECT id, tx_hash, log_index, token_id, user_id, amount, profit, fee, block_height, timestamp
		FROM redeems
		WHERE id = $1
	`

	var (
		r                   domain.Redeem
		logIndex            int32
		amount, profit, fee pgtype.Numeric
		height              int64
		ns                  numericScanner
	)
	err := s.q.QueryRow(ctx, query, id).Scan(
		&r.ID, &r.TxHash, &logIndex, &r.TokenID, &r.UserID, &amount, &profit, &fee, &height, &r.Timestamp,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get redeem: %w", err)
	}
	r.LogIndex = uint(logIndex)
	r.BlockHeight = uint64(height)
	r.Amount = ns.get(amount)
	r.Profit = ns.get(profit)
	r.Fee = ns.get(fee)
	if ns.err != nil {
		return nil, fmt.Errorf("get redeem: %w", ns.err)
	}
	return &r, nil
}

// InsertTransfer appends a transfer. Returns ErrDuplicateKey if id exists.
func (s *Store) InsertTransfer(ctx context.Context, t *domain.Transfer) error {
	if t == nil || t.ID == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO transfers (
			id, tx_hash, log_index, token_id, from_user_id, to_user_id, amount, block_height, timestamp
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := s.q.Exec(ctx, query,
		t.ID, t.TxHash, int32(t.LogIndex), t.TokenID, t.FromUserID, t.ToUserID,
		toNumeric(t.Amount), int64(t.BlockHeight), t.Timestamp,
	)
	return insertErr("insert transfer", err)
}

// GetTransfer retrieves a transfer by id. Returns ErrNotFound if not exists.
func (s *Store) GetTransfer(ctx context.Context, id string) (*domain.Transfer, error) {
	query := `
		SELECT id, tx_hash, log_index, token_id, from_user_id, to_user_id, amount, block_height, timestamp
		FROM transfers
		WHERE id = $1
	`

	var (
		t        domain.Transfer
		logIndex int32
		amount   pgtype.Numeric
		height   int64
	)
	err := s.q.QueryRow(ctx, query, id).Scan(
		&t.ID, &t.TxHash, &logIndex, &t.TokenID, &t.FromUserID, &t.ToUserID, &amount, &height, &t.Timestamp,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get transfer: %w", err)
	}
	t.LogIndex = uint(logIndex)
	t.BlockHeight = uint64(height)
	if t.Amount, err = fromNumeric(amount); err != nil {
		return nil, fmt.Errorf("get transfer: %w", err)
	}
	return &t, nil
}

// InsertReferral appends a referral. Returns ErrDuplicateKey if id exists.
// Orphan referrals store NULL mint, user and token.
func (s *Store) InsertReferral(ctx context.Context, r *domain.Referral) error {
	if r == nil || r.ID == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO referrals (
			id, tx_hash, log_index, mint_id, user_id, token_id, referrer_id,
			referred_amount, orphan, block_height, timestamp
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := s.q.Exec(ctx, query,
		r.ID, r.TxHash, int32(r.LogIndex),
		toText(r.MintID), toText(r.UserID), toText(r.TokenID), r.ReferrerID,
		toNumeric(r.ReferredAmount), r.Orphan, int64(r.BlockHeight), r.Timestamp,
	)
	return insertErr("insert referral", err)
}

// GetReferral retrieves a referral by id. Returns ErrNotFound if not exists.
func (s *Store) GetReferral(ctx context.Context, id string) (*domain.Referral, error) {
	query := `
		SELECT id, tx_hash, log_index, mint_id, user_id, token_id, referrer_id,
			referred_amount, orphan, block_height, timestamp
		FROM referrals
		WHERE id = $1
	`

	var (
		r                       domain.Referral
		logIndex                int32
		mintID, userID, tokenID pgtype.Text
		amount                  pgtype.Numeric
		height                  int64
	)
	err := s.q.QueryRow(ctx, query, id).Scan(
		&r.ID, &r.TxHash, &logIndex, &mintID, &userID, &tokenID, &r.ReferrerID,
		&amount, &r.Orphan, &height, &r.Timestamp,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get referral: %w", err)
	}
	r.LogIndex = uint(logIndex)
	r.BlockHeight = uint64(height)
	r.MintID = mintID.String
	r.UserID = userID.String
	r.TokenID = tokenID.String
	if r.ReferredAmount, err = fromNumeric(amount); err != nil {
		return nil, fmt.Errorf("get referral: %w", err)
	}
	return &r, nil
}

// InsertRebalance appends a rebalance. Returns ErrDuplicateKey if id exists.
// Allocations are stored as decimal strings.
func (s *Store) InsertRebalance(ctx context.Context, r *domain.Rebalance) error {
	if r == nil || r.ID == "" || len(r.Allocation) != len(r.LendingTokens) {
		return storage.ErrInvalidInput
	}

	allocation := make([]string, len(r.Allocation))
	for i, a := range r.Allocation {
		if a == nil {
			a = new(big.Int)
		}
		allocation[i] = a.String()
	}
	lending := r.LendingTokens
	if lending == nil {
		lending = []string{}
	}

	query := `
		INSERT INTO rebalances (
			id, tx_hash, log_index, token_id, allocation, lending_tokens,
			amount_rebalanced, block_height, timestamp
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := s.q.Exec(ctx, query,
		r.ID, r.TxHash, int32(r.LogIndex), r.TokenID, allocation, lending,
		toNumeric(r.AmountRebalanced), int64(r.BlockHeight), r.Timestamp,
	)
	return insertErr("insert rebalance", err)
}

// GetRebalance retrieves a rebalance by id. Returns ErrNotFound if not exists.
func (s *Store) GetRebalance(ctx context.Context, id string) (*domain.Rebalance, error) {
	query := `
		SELECT id, tx_hash, log_index, token_id, allocation, lending_tokens,
			amount_rebalanced, block_height, timestamp
		FROM rebalances
		WHERE id = $1
	`

	r, err := scanRebalance(s.q.QueryRow(ctx, query, id))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get rebalance: %w", err)
	}
	return r, nil
}

func scanRebalance(row pgx.Row) (*domain.Rebalance, error) {
	var (
		r          domain.Rebalance
		logIndex   int32
		allocation []string
		amount     pgtype.Numeric
		height     int64
	)
	err := row.Scan(
		&r.ID, &r.TxHash, &logIndex, &r.TokenID, &allocation, &r.LendingTokens,
		&amount, &height, &r.Timestamp,
	)
	if err != nil {
		return nil, err
	}
	r.LogIndex = uint(logIndex)
	r.BlockHeight = uint64(height)

	r.Allocation = make([]*big.Int, len(allocation))
	for i, a := range allocation {
		v, ok := new(big.Int).SetString(a, 10)
		if !ok {
			return nil, fmt.Errorf("invalid allocation %q", a)
		}
		r.Allocation[i] = v
	}
	if r.AmountRebalanced, err = fromNumeric(amount); err != nil {
		return nil, err
	}
	return &r, nil
}

// insertErr maps an append-only insert failure to storage errors.
func insertErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if isDuplicateKeyError(err) {
		return storage.ErrDuplicateKey
	}
	return fmt.Errorf("%s: %w", op, err)
}
