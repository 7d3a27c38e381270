// Package lookup answers point-in-time questions over price history.
package lookup

import (
	"errors"
	"math/big"

	"yield-ledger/internal/domain"
)

// ErrNoPriceData is returned when a token has no price snapshots.
var ErrNoPriceData = errors.New("no price data available")

// PriceAt returns the price in effect after every snapshot at or before block.
// Snapshots must be ordered by block. If none is at or before block, the price
// before the first accrual is returned.
// Returns ErrNoPriceData if the slice is empty.
func PriceAt(block uint64, snapshots []*domain.PriceSnapshot) (*big.Int, error) {
	return priceWhere(snapshots, func(s *domain.PriceSnapshot) bool { return s.BlockNumber <= block })
}

// PriceBefore returns the price in effect at the start of block, before any
// of its events.
func PriceBefore(block uint64, snapshots []*domain.PriceSnapshot) (*big.Int, error) {
	return priceWhere(snapshots, func(s *domain.PriceSnapshot) bool { return s.BlockNumber < block })
}

func priceWhere(snapshots []*domain.PriceSnapshot, keep func(*domain.PriceSnapshot) bool) (*big.Int, error) {
	if len(snapshots) == 0 {
		return nil, ErrNoPriceData
	}

	for i := len(snapshots) - 1; i >= 0; i-- {
		if keep(snapshots[i]) {
			return copyOrZero(snapshots[i].Price), nil
		}
	}

	return copyOrZero(snapshots[0].PreviousPrice), nil
}

// InRange returns the snapshots with from <= block <= to, in order.
func InRange(snapshots []*domain.PriceSnapshot, from, to uint64) []*domain.PriceSnapshot {
	var out []*domain.PriceSnapshot
	for _, s := range snapshots {
		if s.BlockNumber >= from && s.BlockNumber <= to {
			out = append(out, s)
		}
	}
	return out
}

func copyOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
