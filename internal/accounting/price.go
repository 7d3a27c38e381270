package accounting

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"yield-ledger/internal/decimals"
	"yield-ledger/internal/domain"
)

// accruePrice closes the period since the token's last price reading:
//
//	aum    = totalSupply * lastPrice / 10^decimals
//	growth = aum * (price - lastPrice) / 10^underlyingDecimals
//	fee    = growth * feeRate / 100000
//
// A reading below lastPrice is clamped, so lastPrice never decreases. The fee
// rate is refreshed only after growth has been valued at the old rate.
func (s *session) accruePrice(ctx context.Context, token *domain.Token, eventID string, blockNumber uint64, blockTimestamp int64) (*domain.PriceSnapshot, error) {
	raw, err := s.reader.CurrentPrice(ctx, token.Address)
	if err != nil {
		return nil, fmt.Errorf("read price of %s: %w", token.ID, err)
	}

	last := orZero(token.LastPrice)
	price := raw
	clamped := raw.Cmp(last) < 0
	if clamped {
		s.logger.Warn("price reading below last price, clamped",
			zap.String("token", token.ID),
			zap.String("raw_price", raw.String()),
			zap.String("last_price", last.String()),
		)
		price = last
	}

	aum := decimals.MulDiv(orZero(token.TotalSupply), last, decimals.ScaleFactor(token.Decimals))
	delta, _ := sub(price, last)
	growth := decimals.MulDiv(aum, delta, decimals.ScaleFactor(token.UnderlyingDecimals))
	feeRate := orZero(token.Fee)
	generated := decimals.MulDiv(growth, feeRate, feeDenominator)

	s.logger.Debug("price accrued",
		zap.String("token", token.ID),
		zap.String("last_price", last.String()),
		zap.String("price", price.String()),
		zap.String("aum", aum.String()),
		zap.String("growth", growth.String()),
		zap.String("generated_fee", generated.String()),
	)

	token.TotalFeeGeneratedInUnderlying = add(token.TotalFeeGeneratedInUnderlying, generated)
	token.LastPrice = price
	token.LastPriceTimestamp = blockTimestamp

	fee, err := s.reader.CurrentFee(ctx, token.Address)
	if err != nil {
		return nil, fmt.Errorf("read fee of %s: %w", token.ID, err)
	}
	token.Fee = fee

	return &domain.PriceSnapshot{
		TokenID:       token.ID,
		EventID:       eventID,
		BlockNumber:   blockNumber,
		Timestamp:     blockTimestamp,
		PreviousPrice: last,
		RawPrice:      raw,
		Price:         price,
		Clamped:       clamped,
		AUM:           aum,
		Growth:        growth,
		GeneratedFee:  generated,
		FeeRate:       feeRate,
	}, nil
}
