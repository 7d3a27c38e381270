package accounting

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"go.uber.org/zap"

	"yield-ledger/internal/decimals"
	"yield-ledger/internal/domain"
)

func (s *session) applyTransfer(ctx context.Context, ev *domain.TransferEvent) error {
	token, _, err := s.resolveToken(ctx, ev.TokenAddress)
	if err != nil {
		return err
	}

	eventID := domain.EventID(ev.TxHash, ev.LogIndex)
	snap, err := s.accruePrice(ctx, token, eventID, ev.BlockNumber, ev.BlockTimestamp)
	if err != nil {
		return err
	}
	s.result.Price = snap

	class := Classify(ev.From, ev.To)
	s.result.Class = class
	s.logger.Info("transfer classified",
		zap.String("class", string(class)),
		zap.String("token", token.ID),
		zap.String("from", ev.From),
		zap.String("to", ev.To),
		zap.String("value", ev.Value.String()),
	)

	switch class {
	case ClassMint:
		err = s.mint(ctx, token, ev)
	case ClassRedeem:
		err = s.redeem(ctx, token, ev)
	default:
		err = s.transfer(ctx, token, ev)
	}
	if err != nil {
		return err
	}

	if err := s.store.SaveToken(ctx, token); err != nil {
		return fmt.Errorf("save token %s: %w", token.ID, err)
	}
	return nil
}

func (s *session) mint(ctx context.Context, token *domain.Token, ev *domain.TransferEvent) error {
	user, _, err := s.resolveUser(ctx, ev.To, ev.BlockTimestamp)
	if err != nil {
		return err
	}
	ut, _, err := s.resolveUserToken(ctx, user, token)
	if err != nil {
		return err
	}

	ut.Balance = add(ut.Balance, ev.Value)
	token.TotalSupply = add(token.TotalSupply, ev.Value)

	if err := s.store.SaveUserToken(ctx, ut); err != nil {
		return fmt.Errorf("save user token %s: %w", ut.ID, err)
	}

	m := &domain.Mint{
		ID:          domain.EventID(ev.TxHash, ev.LogIndex),
		TxHash:      strings.ToLower(ev.TxHash),
		LogIndex:    ev.LogIndex,
		TokenID:     token.ID,
		UserID:      user.ID,
		Amount:      new(big.Int).Set(ev.Value),
		BlockHeight: ev.BlockNumber,
		Timestamp:   ev.BlockTimestamp,
	}
	if err := s.store.InsertMint(ctx, m); err != nil {
		return fmt.Errorf("insert mint %s: %w", m.ID, err)
	}

	return s.bumpStats(ctx, func(st *domain.TotalStats) { st.TotalMints++ })
}

// redeem realizes the user's profit at the token's current price:
//
//	profit = amount * (lastPrice - userAvgPrice) / 10^decimals
//	fee    = profit * feeRate / 100000
//
// A referral attribution on the position is drawn down by at most its own
// balance and the referrer earns profit on that capped amount.
func (s *session) redeem(ctx context.Context, token *domain.Token, ev *domain.TransferEvent) error {
	user, _, err := s.resolveUser(ctx, ev.From, ev.BlockTimestamp)
	if err != nil {
		return err
	}
	ut, _, err := s.resolveUserToken(ctx, user, token)
	if err != nil {
		return err
	}
	rut, err := s.lookupReferrerUserToken(ctx, user.ID, token.ID)
	if err != nil {
		return err
	}

	avgPrice, err := s.reader.UserAveragePrice(ctx, token.Address, user.ID)
	if err != nil {
		return fmt.Errorf("read average price of %s in %s: %w", user.ID, token.ID, err)
	}

	profit := realizedProfit(ev.Value, token.LastPrice, avgPrice, token.Decimals)
	fee := decimals.MulDiv(profit, orZero(token.Fee), feeDenominator)

	balance, ok := sub(ut.Balance, ev.Value)
	if !ok {
		return fmt.Errorf("redeem %s from %s: %w", ev.Value, ut.ID, ErrNegativeBalance)
	}
	supply, ok := sub(token.TotalSupply, ev.Value)
	if !ok {
		return fmt.Errorf("redeem %s from supply of %s: %w", ev.Value, token.ID, ErrNegativeBalance)
	}

	ut.Balance = balance
	ut.TotalProfitRedeemed = add(ut.TotalProfitRedeemed, profit)
	ut.TotalFeePaidInUnderlying = add(ut.TotalFeePaidInUnderlying, fee)
	token.TotalSupply = supply
	token.TotalFeePaidInUnderlying = add(token.TotalFeePaidInUnderlying, fee)

	if err := s.store.SaveUserToken(ctx, ut); err != nil {
		return fmt.Errorf("save user token %s: %w", ut.ID, err)
	}

	if rut != nil {
		if err := s.drawDownReferral(ctx, token, rut, ev.Value, avgPrice); err != nil {
			return err
		}
	}

	r := &domain.Redeem{
		ID:          domain.EventID(ev.TxHash, ev.LogIndex),
		TxHash:      strings.ToLower(ev.TxHash),
		LogIndex:    ev.LogIndex,
		TokenID:     token.ID,
		UserID:      user.ID,
		Amount:      new(big.Int).Set(ev.Value),
		Profit:      profit,
		Fee:         fee,
		BlockHeight: ev.BlockNumber,
		Timestamp:   ev.BlockTimestamp,
	}
	if err := s.store.InsertRedeem(ctx, r); err != nil {
		return fmt.Errorf("insert redeem %s: %w", r.ID, err)
	}

	return s.bumpStats(ctx, func(st *domain.TotalStats) { st.TotalRedeems++ })
}

func (s *session) drawDownReferral(ctx context.Context, token *domain.Token, rut *domain.ReferrerUserToken, amount, avgPrice *big.Int) error {
	capped := minBig(amount, orZero(rut.Balance))
	if capped.Sign() == 0 {
		return nil
	}

	rut.Balance, _ = sub(rut.Balance, capped)
	if err := s.store.SaveReferrerUserToken(ctx, rut); err != nil {
		return fmt.Errorf("save referral attribution %s: %w", rut.ID, err)
	}

	rt, err := s.store.GetReferrerToken(ctx, rut.ReferrerTokenID)
	if err != nil {
		return fmt.Errorf("load referrer token %s: %w", rut.ReferrerTokenID, err)
	}

	total, ok := sub(rt.TotalBalance, capped)
	if !ok {
		return fmt.Errorf("draw down %s from %s: %w", capped, rt.ID, ErrNegativeBalance)
	}
	rt.TotalBalance = total
	rt.TotalProfitEarnedInUnderlying = add(rt.TotalProfitEarnedInUnderlying,
		realizedProfit(capped, token.LastPrice, avgPrice, token.Decimals))

	if err := s.store.SaveReferrerToken(ctx, rt); err != nil {
		return fmt.Errorf("save referrer token %s: %w", rt.ID, err)
	}
	return nil
}

// realizedProfit is zero when the average entry price is above the current one.
func realizedProfit(amount, price, avgPrice *big.Int, tokenDecimals uint8) *big.Int {
	gain, ok := sub(price, avgPrice)
	if !ok {
		return new(big.Int)
	}
	return decimals.ToUnderlying(amount, gain, tokenDecimals)
}

// transfer moves a balance between two users. Referral attribution stays
// with the sender.
func (s *session) transfer(ctx context.Context, token *domain.Token, ev *domain.TransferEvent) error {
	from, _, err := s.resolveUser(ctx, ev.From, ev.BlockTimestamp)
	if err != nil {
		return err
	}
	to, _, err := s.resolveUser(ctx, ev.To, ev.BlockTimestamp)
	if err != nil {
		return err
	}
	fromUT, _, err := s.resolveUserToken(ctx, from, token)
	if err != nil {
		return err
	}
	toUT, _, err := s.resolveUserToken(ctx, to, token)
	if err != nil {
		return err
	}

	if fromUT.ID != toUT.ID {
		debited, ok := sub(fromUT.Balance, ev.Value)
		if !ok {
			return fmt.Errorf("transfer %s from %s: %w", ev.Value, fromUT.ID, ErrNegativeBalance)
		}
		fromUT.Balance = debited
		toUT.Balance = add(toUT.Balance, ev.Value)

		if err := s.store.SaveUserToken(ctx, fromUT); err != nil {
			return fmt.Errorf("save user token %s: %w", fromUT.ID, err)
		}
		if err := s.store.SaveUserToken(ctx, toUT); err != nil {
			return fmt.Errorf("save user token %s: %w", toUT.ID, err)
		}
	}

	t := &domain.Transfer{
		ID:          domain.EventID(ev.TxHash, ev.LogIndex),
		TxHash:      strings.ToLower(ev.TxHash),
		LogIndex:    ev.LogIndex,
		TokenID:     token.ID,
		FromUserID:  from.ID,
		ToUserID:    to.ID,
		Amount:      new(big.Int).Set(ev.Value),
		BlockHeight: ev.BlockNumber,
		Timestamp:   ev.BlockTimestamp,
	}
	if err := s.store.InsertTransfer(ctx, t); err != nil {
		return fmt.Errorf("insert transfer %s: %w", t.ID, err)
	}

	return s.bumpStats(ctx, func(st *domain.TotalStats) { st.TotalTransfers++ })
}
