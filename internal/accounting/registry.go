package accounting

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"go.uber.org/zap"

	"yield-ledger/internal/decimals"
	"yield-ledger/internal/domain"
	"yield-ledger/internal/storage"
)

// Resolvers load a record by its deterministic key, or create and persist a
// zero-valued one. The created flag drives every counter side effect, so
// resolving the same key twice never double counts.

func (s *session) resolveUser(ctx context.Context, addr string, blockTimestamp int64) (*domain.User, bool, error) {
	id := domain.NormalizeAddress(addr)

	u, err := s.store.GetUser(ctx, id)
	if err == nil {
		return u, false, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, false, fmt.Errorf("load user %s: %w", id, err)
	}

	u = &domain.User{ID: id, Address: id, FirstInteractionTimestamp: blockTimestamp}
	if err := s.store.SaveUser(ctx, u); err != nil {
		return nil, false, fmt.Errorf("save user %s: %w", id, err)
	}
	if err := s.bumpStats(ctx, func(st *domain.TotalStats) { st.TotalUniqueUsers++ }); err != nil {
		return nil, false, err
	}
	return u, true, nil
}

// resolveToken creates a token from its contract metadata. Any chain failure
// here is fatal: the token's identity cannot be defaulted.
func (s *session) resolveToken(ctx context.Context, addr string) (*domain.Token, bool, error) {
	id := domain.NormalizeAddress(addr)

	t, err := s.store.GetToken(ctx, id)
	if err == nil {
		return t, false, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, false, fmt.Errorf("load token %s: %w", id, err)
	}

	t, err = s.initToken(ctx, id)
	if err != nil {
		return nil, false, fmt.Errorf("initialize token %s: %w", id, err)
	}
	if err := s.store.SaveToken(ctx, t); err != nil {
		return nil, false, fmt.Errorf("save token %s: %w", id, err)
	}

	s.logger.Info("token registered",
		zap.String("token", id),
		zap.String("name", t.Name),
		zap.String("underlying", t.UnderlyingAddress),
		zap.Uint8("decimals", t.Decimals),
		zap.Uint8("underlying_decimals", t.UnderlyingDecimals),
	)
	return t, true, nil
}

func (s *session) initToken(ctx context.Context, id string) (*domain.Token, error) {
	name, ok := s.p.cfg.TokenNames[id]
	if !ok {
		var err error
		if name, err = s.reader.Name(ctx, id); err != nil {
			return nil, fmt.Errorf("name: %w", err)
		}
	}

	dec, err := s.reader.Decimals(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("decimals: %w", err)
	}

	underlying, err := s.reader.UnderlyingAddress(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("underlying address: %w", err)
	}
	underlying = domain.NormalizeAddress(underlying)

	underlyingName, err := s.reader.Name(ctx, underlying)
	if err != nil {
		return nil, fmt.Errorf("underlying name: %w", err)
	}

	underlyingDec, err := s.reader.Decimals(ctx, underlying)
	if err != nil {
		return nil, fmt.Errorf("underlying decimals: %w", err)
	}

	fee, err := s.reader.CurrentFee(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("fee: %w", err)
	}

	return &domain.Token{
		ID:                            id,
		Address:                       id,
		Name:                          name,
		Decimals:                      dec,
		UnderlyingAddress:             underlying,
		UnderlyingName:                underlyingName,
		UnderlyingDecimals:            underlyingDec,
		LastPrice:                     decimals.ScaleFactor(underlyingDec), // one underlying unit per token
		Fee:                           fee,
		TotalSupply:                   new(big.Int),
		TotalFeeGeneratedInUnderlying: new(big.Int),
		TotalFeePaidInUnderlying:      new(big.Int),
	}, nil
}

// resolveUserToken increments token.UniqueUserCount on creation and saves the
// token. Callers must keep using the same token pointer afterwards.
func (s *session) resolveUserToken(ctx context.Context, user *domain.User, token *domain.Token) (*domain.UserToken, bool, error) {
	id := domain.PairID(user.ID, token.ID)

	ut, err := s.store.GetUserToken(ctx, id)
	if err == nil {
		return ut, false, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, false, fmt.Errorf("load user token %s: %w", id, err)
	}

	ut = &domain.UserToken{
		ID:                       id,
		UserID:                   user.ID,
		TokenID:                  token.ID,
		Balance:                  new(big.Int),
		TotalFeePaidInUnderlying: new(big.Int),
		TotalProfitRedeemed:      new(big.Int),
	}
	if err := s.store.SaveUserToken(ctx, ut); err != nil {
		return nil, false, fmt.Errorf("save user token %s: %w", id, err)
	}

	token.UniqueUserCount++
	if err := s.store.SaveToken(ctx, token); err != nil {
		return nil, false, fmt.Errorf("save token %s: %w", token.ID, err)
	}
	return ut, true, nil
}

func (s *session) resolveReferrer(ctx context.Context, addr string) (*domain.Referrer, bool, error) {
	id := domain.NormalizeAddress(addr)

	r, err := s.store.GetReferrer(ctx, id)
	if err == nil {
		return r, false, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, false, fmt.Errorf("load referrer %s: %w", id, err)
	}

	r = &domain.Referrer{ID: id, Address: id}
	if err := s.store.SaveReferrer(ctx, r); err != nil {
		return nil, false, fmt.Errorf("save referrer %s: %w", id, err)
	}
	return r, true, nil
}

func (s *session) resolveReferrerToken(ctx context.Context, referrer *domain.Referrer, token *domain.Token) (*domain.ReferrerToken, bool, error) {
	id := domain.PairID(referrer.ID, token.ID)

	rt, err := s.store.GetReferrerToken(ctx, id)
	if err == nil {
		return rt, false, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, false, fmt.Errorf("load referrer token %s: %w", id, err)
	}

	rt = &domain.ReferrerToken{
		ID:                            id,
		ReferrerID:                    referrer.ID,
		TokenID:                       token.ID,
		ReferralTotal:                 new(big.Int),
		TotalBalance:                  new(big.Int),
		TotalProfitEarnedInUnderlying: new(big.Int),
	}
	if err := s.store.SaveReferrerToken(ctx, rt); err != nil {
		return nil, false, fmt.Errorf("save referrer token %s: %w", id, err)
	}
	return rt, true, nil
}

// resolveReferrerUserToken returns the attribution of (user, token). If the
// pair is already claimed, the existing record is returned even when its
// referrer differs from the one passed in.
func (s *session) resolveReferrerUserToken(ctx context.Context, referrer *domain.Referrer, userID, tokenID string) (*domain.ReferrerUserToken, bool, error) {
	rut, err := s.lookupReferrerUserToken(ctx, userID, tokenID)
	if err != nil {
		return nil, false, err
	}
	if rut != nil {
		return rut, false, nil
	}

	rut = &domain.ReferrerUserToken{
		ID:              domain.ReferralAttributionID(userID, tokenID),
		ReferrerID:      referrer.ID,
		ReferrerTokenID: domain.PairID(referrer.ID, tokenID),
		UserID:          userID,
		TokenID:         tokenID,
		Balance:         new(big.Int),
	}
	if err := s.store.SaveReferrerUserToken(ctx, rut); err != nil {
		return nil, false, fmt.Errorf("save referral attribution %s: %w", rut.ID, err)
	}
	return rut, true, nil
}

// lookupReferrerUserToken returns nil when the pair has no referrer.
func (s *session) lookupReferrerUserToken(ctx context.Context, userID, tokenID string) (*domain.ReferrerUserToken, error) {
	id := domain.ReferralAttributionID(userID, tokenID)

	rut, err := s.store.GetReferrerUserToken(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load referral attribution %s: %w", id, err)
	}
	return rut, nil
}
