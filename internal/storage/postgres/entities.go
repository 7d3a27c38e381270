package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"yield-ledger/internal/domain"
	"yield-ledger/internal/storage"
)

// GetUser retrieves a user by address. Returns ErrNotFound if not exists.
func (s *Store) GetUser(ctx context.Context, id string) (*domain.User, error) {
	query := `
		SELECT id, address, first_interaction_timestamp
		FROM users
		WHERE id = $1
	`

	var u domain.User
	err := s.q.QueryRow(ctx, query, id).Scan(&u.ID, &u.Address, &u.FirstInteractionTimestamp)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// SaveUser inserts or replaces a user.
func (s *Store) SaveUser(ctx context.Context, u *domain.User) error {
	if u == nil || u.ID == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO users (id, address, first_interaction_timestamp)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			address = EXCLUDED.address,
			first_interaction_timestamp = EXCLUDED.first_interaction_timestamp
	`

	if _, err := s.q.Exec(ctx, query, u.ID, u.Address, u.FirstInteractionTimestamp); err != nil {
		return writeErr("save user", err)
	}
	return nil
}

// GetToken retrieves a token by address. Returns ErrNotFound if not exists.
func (s *Store) GetToken(ctx context.Context, id string) (*domain.Token, error) {
	query := `
		SELECT id, address, name, decimals, underlying_address, underlying_name, underlying_decimals,
			last_price, last_price_timestamp, fee, total_supply, unique_user_count,
			total_fee_generated_in_underlying, total_fee_paid_in_underlying, total_rebalances
		FROM tokens
		WHERE id = $1
	`

	t, err := scanToken(s.q.QueryRow(ctx, query, id))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get token: %w", err)
	}
	return t, nil
}

// SaveToken inserts or replaces a token.
func (s *Store) SaveToken(ctx context.Context, t *domain.Token) error {
	if t == nil || t.ID == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO tokens (
			id, address, name, decimals, underlying_address, underlying_name, underlying_decimals,
			last_price, last_price_timestamp, fee, total_supply, unique_user_count,
			total_fee_generated_in_underlying, total_fee_paid_in_underlying, total_rebalances
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO UPDATE SET
			address = EXCLUDED.address,
			name = EXCLUDED.name,
			decimals = EXCLUDED.decimals,
			underlying_address = EXCLUDED.underlying_address,
			underlying_name = EXCLUDED.underlying_name,
			underlying_decimals = EXCLUDED.underlying_decimals,
			last_price = EXCLUDED.last_price,
			last_price_timestamp = EXCLUDED.last_price_timestamp,
			fee = EXCLUDED.fee,
			total_supply = EXCLUDED.total_supply,
			unique_user_count = EXCLUDED.unique_user_count,
			total_fee_generated_in_underlying = EXCLUDED.total_fee_generated_in_underlying,
			total_fee_paid_in_underlying = EXCLUDED.total_fee_paid_in_underlying,
			total_rebalances = EXCLUDED.total_rebalances
	`

	_, err := s.q.Exec(ctx, query,
		t.ID,
		t.Address,
		t.Name,
		int16(t.Decimals),
		t.UnderlyingAddress,
		t.UnderlyingName,
		int16(t.UnderlyingDecimals),
		toNumeric(t.LastPrice),
		t.LastPriceTimestamp,
		toNumeric(t.Fee),
		toNumeric(t.TotalSupply),
		t.UniqueUserCount,
		toNumeric(t.TotalFeeGeneratedInUnderlying),
		toNumeric(t.TotalFeePaidInUnderlying),
		t.TotalRebalances,
	)
	if err != nil {
		return writeErr("save token", err)
	}
	return nil
}

// GetUserToken retrieves a position by id. Returns ErrNotFound if not exists.
func (s *Store) GetUserToken(ctx context.Context, id string) (*domain.UserToken, error) {
	query := `
		SELECT id, user_id, token_id, balance, total_fee_paid_in_underlying, total_profit_redeemed
		FROM user_tokens
		WHERE id = $1
	`

	ut, err := scanUserToken(s.q.QueryRow(ctx, query, id))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get user token: %w", err)
	}
	return ut, nil
}

// SaveUserToken inserts or replaces a position.
func (s *Store) SaveUserToken(ctx context.Context, ut *domain.UserToken) error {
	if ut == nil || ut.ID == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO user_tokens (
			id, user_id, token_id, balance, total_fee_paid_in_underlying, total_profit_redeemed
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			balance = EXCLUDED.balance,
			total_fee_paid_in_underlying = EXCLUDED.total_fee_paid_in_underlying,
			total_profit_redeemed = EXCLUDED.total_profit_redeemed
	`

	_, err := s.q.Exec(ctx, query,
		ut.ID,
		ut.UserID,
		ut.TokenID,
		toNumeric(ut.Balance),
		toNumeric(ut.TotalFeePaidInUnderlying),
		toNumeric(ut.TotalProfitRedeemed),
	)
	if err != nil {
		return writeErr("save user token", err)
	}
	return nil
}

// ListUserTokensByToken retrieves all positions in a token, ordered by id ASC.
func (s *Store) ListUserTokensByToken(ctx context.Context, tokenID string) ([]*domain.UserToken, error) {
	query := `
		SELECT id, user_id, token_id, balance, total_fee_paid_in_underlying, total_profit_redeemed
		FROM user_tokens
		WHERE token_id = $1
		ORDER BY id ASC
	`

	rows, err := s.q.Query(ctx, query, tokenID)
	if err != nil {
		return nil, fmt.Errorf("list user tokens: %w", err)
	}
	defer rows.Close()

	var result []*domain.UserToken
	for rows.Next() {
		ut, err := scanUserToken(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user token: %w", err)
		}
		result = append(result, ut)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user tokens: %w", err)
	}
	return result, nil
}

// GetReferrer retrieves a referrer by address. Returns ErrNotFound if not exists.
func (s *Store) GetReferrer(ctx context.Context, id string) (*domain.Referrer, error) {
	query := `
		SELECT id, address, total_referral_count
		FROM referrers
		WHERE id = $1
	`

	var r domain.Referrer
	err := s.q.QueryRow(ctx, query, id).Scan(&r.ID, &r.Address, &r.TotalReferralCount)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get referrer: %w", err)
	}
	return &r, nil
}

// SaveReferrer inserts or replaces a referrer.
func (s *Store) SaveReferrer(ctx context.Context, r *domain.Referrer) error {
	if r == nil || r.ID == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO referrers (id, address, total_referral_count)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			total_referral_count = EXCLUDED.total_referral_count
	`

	if _, err := s.q.Exec(ctx, query, r.ID, r.Address, r.TotalReferralCount); err != nil {
		return writeErr("save referrer", err)
	}
	return nil
}

// GetReferrerToken retrieves an aggregate by id. Returns ErrNotFound if not exists.
func (s *Store) GetReferrerToken(ctx context.Context, id string) (*domain.ReferrerToken, error) {
	query := `
		SELECT id, referrer_id, token_id, referral_count, referral_total, total_balance,
			total_profit_earned_in_underlying
		FROM referrer_tokens
		WHERE id = $1
	`

	var (
		rt                 domain.ReferrerToken
		total, bal, earned pgtype.Numeric
		ns                 numericScanner
	)
	err := s.q.QueryRow(ctx, query, id).Scan(
		&rt.ID, &rt.ReferrerID, &rt.TokenID, &rt.ReferralCount, &total, &bal, &earned,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get referrer token: %w", err)
	}
	rt.ReferralTotal = ns.get(total)
	rt.TotalBalance = ns.get(bal)
	rt.TotalProfitEarnedInUnderlying = ns.get(earned)
	if ns.err != nil {
		return nil, fmt.Errorf("get referrer token: %w", ns.err)
	}
	return &rt, nil
}

// SaveReferrerToken inserts or replaces an aggregate.
func (s *Store) SaveReferrerToken(ctx context.Context, rt *domain.ReferrerToken) error {
	if rt == nil || rt.ID == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO referrer_tokens (
			id, referrer_id, token_id, referral_count, referral_total, total_balance,
			total_profit_earned_in_underlying
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			referral_count = EXCLUDED.referral_count,
			referral_total = EXCLUDED.referral_total,
			total_balance = EXCLUDED.total_balance,
			total_profit_earned_in_underlying = EXCLUDED.total_profit_earned_in_underlying
	`

	_, err := s.q.Exec(ctx, query,
		rt.ID,
		rt.ReferrerID,
		rt.TokenID,
		rt.ReferralCount,
		toNumeric(rt.ReferralTotal),
		toNumeric(rt.TotalBalance),
		toNumeric(rt.TotalProfitEarnedInUnderlying),
	)
	if err != nil {
		return writeErr("save referrer token", err)
	}
	return nil
}

// GetReferrerUserToken retrieves an attribution by id. Returns ErrNotFound if not exists.
func (s *Store) GetReferrerUserToken(ctx context.Context, id string) (*domain.ReferrerUserToken, error) {
	query := `
		SELECT id, referrer_id, referrer_token_id, user_id, token_id, balance
		FROM referrer_user_tokens
		WHERE id = $1
	`

	var (
		rut domain.ReferrerUserToken
		bal pgtype.Numeric
	)
	err := s.q.QueryRow(ctx, query, id).Scan(
		&rut.ID, &rut.ReferrerID, &rut.ReferrerTokenID, &rut.UserID, &rut.TokenID, &bal,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get referrer user token: %w", err)
	}
	if rut.Balance, err = fromNumeric(bal); err != nil {
		return nil, fmt.Errorf("get referrer user token: %w", err)
	}
	return &rut, nil
}

// SaveReferrerUserToken inserts or replaces an attribution.
func (s *Store) SaveReferrerUserToken(ctx context.Context, rut *domain.ReferrerUserToken) error {
	if rut == nil || rut.ID == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO referrer_user_tokens (
			id, referrer_id, referrer_token_id, user_id, token_id, balance
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			balance = EXCLUDED.balance
	`

	_, err := s.q.Exec(ctx, query,
		rut.ID, rut.ReferrerID, rut.ReferrerTokenID, rut.UserID, rut.TokenID, toNumeric(rut.Balance),
	)
	if err != nil {
		return writeErr("save referrer user token", err)
	}
	return nil
}

// GetTotalStats retrieves the singleton. Returns ErrNotFound if not created yet.
func (s *Store) GetTotalStats(ctx context.Context) (*domain.TotalStats, error) {
	query := `
		SELECT id, total_mints, total_redeems, total_transfers, total_referrals,
			total_rebalances, total_unique_users
		FROM total_stats
		WHERE id = $1
	`

	var ts domain.TotalStats
	err := s.q.QueryRow(ctx, query, domain.TotalStatsID).Scan(
		&ts.ID, &ts.TotalMints, &ts.TotalRedeems, &ts.TotalTransfers,
		&ts.TotalReferrals, &ts.TotalRebalances, &ts.TotalUniqueUsers,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get total stats: %w", err)
	}
	return &ts, nil
}

// SaveTotalStats inserts or replaces the singleton.
func (s *Store) SaveTotalStats(ctx context.Context, ts *domain.TotalStats) error {
	if ts == nil {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO total_stats (
			id, total_mints, total_redeems, total_transfers, total_referrals,
			total_rebalances, total_unique_users
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			total_mints = EXCLUDED.total_mints,
			total_redeems = EXCLUDED.total_redeems,
			total_transfers = EXCLUDED.total_transfers,
			total_referrals = EXCLUDED.total_referrals,
			total_rebalances = EXCLUDED.total_rebalances,
			total_unique_users = EXCLUDED.total_unique_users
	`

	_, err := s.q.Exec(ctx, query,
		domain.TotalStatsID, ts.TotalMints, ts.TotalRedeems, ts.TotalTransfers,
		ts.TotalReferrals, ts.TotalRebalances, ts.TotalUniqueUsers,
	)
	if err != nil {
		return writeErr("save total stats", err)
	}
	return nil
}

func scanToken(row pgx.Row) (*domain.Token, error) {
	var (
		t                       domain.Token
		decimals, underDecimals int16
		lastPrice, fee, supply  pgtype.Numeric
		feeGenerated, feePaid   pgtype.Numeric
		ns                      numericScanner
	)

	err := row.Scan(
		&t.ID, &t.Address, &t.Name, &decimals, &t.UnderlyingAddress, &t.UnderlyingName, &underDecimals,
		&lastPrice, &t.LastPriceTimestamp, &fee, &supply, &t.UniqueUserCount,
		&feeGenerated, &feePaid, &t.TotalRebalances,
	)
	if err != nil {
		return nil, err
	}

	t.Decimals = uint8(decimals)
	t.UnderlyingDecimals = uint8(underDecimals)
	t.LastPrice = ns.get(lastPrice)
	t.Fee = ns.get(fee)
	t.TotalSupply = ns.get(supply)
	t.TotalFeeGeneratedInUnderlying = ns.get(feeGenerated)
	t.TotalFeePaidInUnderlying = ns.get(feePaid)
	if ns.err != nil {
		return nil, ns.err
	}
	return &t, nil
}

func scanUserToken(row pgx.Row) (*domain.UserToken, error) {
	var (
		ut                     domain.UserToken
		balance, feePaid, prof pgtype.Numeric
		ns                     numericScanner
	)

	if err := row.Scan(&ut.ID, &ut.UserID, &ut.TokenID, &balance, &feePaid, &prof); err != nil {
		return nil, err
	}

	ut.Balance = ns.get(balance)
	ut.TotalFeePaidInUnderlying = ns.get(feePaid)
	ut.TotalProfitRedeemed = ns.get(prof)
	if ns.err != nil {
		return nil, ns.err
	}
	return &ut, nil
}
