package accounting

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"go.uber.org/zap"

	"yield-ledger/internal/domain"
	"yield-ledger/internal/storage"
)

// applyReferral binds a referral to the latest mint logged before it in the
// same transaction. Several referrals may bind to one mint; they are not
// deduplicated.
func (s *session) applyReferral(ctx context.Context, ev *domain.ReferralEvent) error {
	token, _, err := s.resolveToken(ctx, ev.TokenAddress)
	if err != nil {
		return err
	}

	record := &domain.Referral{
		ID:             domain.EventID(ev.TxHash, ev.LogIndex),
		TxHash:         strings.ToLower(ev.TxHash),
		LogIndex:       ev.LogIndex,
		ReferrerID:     domain.NormalizeAddress(ev.ReferrerAddress),
		ReferredAmount: new(big.Int).Set(orZero(ev.Amount)),
		BlockHeight:    ev.BlockNumber,
		Timestamp:      ev.BlockTimestamp,
	}

	mint, err := s.store.LatestMintBefore(ctx, ev.TxHash, ev.LogIndex)
	if errors.Is(err, storage.ErrNotFound) {
		return s.recordOrphan(ctx, record)
	}
	if err != nil {
		return fmt.Errorf("find mint for referral %s: %w", record.ID, err)
	}
	if mint.TokenID != token.ID {
		// Binding is by transaction and log order only; the mint's amount is
		// still credited to the referral's token.
		s.diagnose(fmt.Errorf("referral %s, mint %s of %s: %w", record.ID, mint.ID, mint.TokenID, ErrReferralTokenMismatch))
		s.logger.Warn("referral bound to a mint of another token",
			zap.String("mint", mint.ID),
			zap.String("mint_token", mint.TokenID),
			zap.String("referral_token", token.ID),
		)
	}

	referrer, _, err := s.resolveReferrer(ctx, ev.ReferrerAddress)
	if err != nil {
		return err
	}
	rt, _, err := s.resolveReferrerToken(ctx, referrer, token)
	if err != nil {
		return err
	}
	rut, _, err := s.resolveReferrerUserToken(ctx, referrer, mint.UserID, token.ID)
	if err != nil {
		return err
	}

	referrer.TotalReferralCount++
	rt.ReferralCount++
	rt.ReferralTotal = add(rt.ReferralTotal, ev.Amount)

	// The first referrer of a position keeps it; a later referrer is counted
	// but the attributed balance goes to the owner.
	owner := rt
	if rut.ReferrerTokenID != rt.ID {
		owner, err = s.store.GetReferrerToken(ctx, rut.ReferrerTokenID)
		if err != nil {
			return fmt.Errorf("load referrer token %s: %w", rut.ReferrerTokenID, err)
		}
		s.logger.Info("position already attributed to another referrer",
			zap.String("attribution", rut.ID),
			zap.String("owner", rut.ReferrerID),
			zap.String("referrer", referrer.ID),
		)
	}
	owner.TotalBalance = add(owner.TotalBalance, mint.Amount)
	rut.Balance = add(rut.Balance, mint.Amount)

	if err := s.store.SaveReferrer(ctx, referrer); err != nil {
		return fmt.Errorf("save referrer %s: %w", referrer.ID, err)
	}
	if err := s.store.SaveReferrerToken(ctx, rt); err != nil {
		return fmt.Errorf("save referrer token %s: %w", rt.ID, err)
	}
	if owner != rt {
		if err := s.store.SaveReferrerToken(ctx, owner); err != nil {
			return fmt.Errorf("save referrer token %s: %w", owner.ID, err)
		}
	}
	if err := s.store.SaveReferrerUserToken(ctx, rut); err != nil {
		return fmt.Errorf("save referral attribution %s: %w", rut.ID, err)
	}

	record.MintID = mint.ID
	record.UserID = mint.UserID
	record.TokenID = token.ID
	if err := s.store.InsertReferral(ctx, record); err != nil {
		return fmt.Errorf("insert referral %s: %w", record.ID, err)
	}

	s.logger.Info("referral bound to mint",
		zap.String("mint", mint.ID),
		zap.String("referrer", referrer.ID),
		zap.String("user", mint.UserID),
		zap.String("amount", mint.Amount.String()),
	)

	return s.bumpStats(ctx, func(st *domain.TotalStats) { st.TotalReferrals++ })
}

// recordOrphan keeps the referral for audit without touching any aggregate.
func (s *session) recordOrphan(ctx context.Context, record *domain.Referral) error {
	record.Orphan = true
	if err := s.store.InsertReferral(ctx, record); err != nil {
		return fmt.Errorf("insert referral %s: %w", record.ID, err)
	}

	s.diagnose(fmt.Errorf("referral %s by %s: %w", record.ID, record.ReferrerID, ErrOrphanReferral))
	s.logger.Warn("orphan referral",
		zap.String("referral", record.ID),
		zap.String("referrer", record.ReferrerID),
		zap.String("amount", record.ReferredAmount.String()),
	)
	return nil
}
