package accounting

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"go.uber.org/zap"

	"yield-ledger/internal/chain"
	"yield-ledger/internal/domain"
)

// applyRebalance snapshots the allocation across lending targets. The chain
// signals the end of the list by reverting; the loop is also capped.
func (s *session) applyRebalance(ctx context.Context, ev *domain.RebalanceEvent) error {
	token, _, err := s.resolveToken(ctx, ev.TokenAddress)
	if err != nil {
		return err
	}

	var (
		allocation []*big.Int
		targets    []string
	)
	for i := 0; ; i++ {
		amount, err := s.reader.AllocationAt(ctx, token.Address, i)
		if errors.Is(err, chain.ErrOutOfRange) {
			break
		}
		if err != nil {
			return fmt.Errorf("read allocation %d of %s: %w", i, token.ID, err)
		}
		if i >= s.p.cfg.MaxAllocations {
			return fmt.Errorf("token %s: %w (%d)", token.ID, ErrAllocationOverflow, s.p.cfg.MaxAllocations)
		}

		target, err := s.reader.LendingTargetAt(ctx, token.Address, i)
		if err != nil {
			return fmt.Errorf("read lending target %d of %s: %w", i, token.ID, err)
		}

		allocation = append(allocation, amount)
		targets = append(targets, domain.NormalizeAddress(target))
	}

	token.TotalRebalances++
	if err := s.store.SaveToken(ctx, token); err != nil {
		return fmt.Errorf("save token %s: %w", token.ID, err)
	}

	r := &domain.Rebalance{
		ID:               domain.EventID(ev.TxHash, ev.LogIndex),
		TxHash:           strings.ToLower(ev.TxHash),
		LogIndex:         ev.LogIndex,
		TokenID:          token.ID,
		Allocation:       allocation,
		LendingTokens:    targets,
		AmountRebalanced: new(big.Int).Set(orZero(ev.Amount)),
		BlockHeight:      ev.BlockNumber,
		Timestamp:        ev.BlockTimestamp,
	}
	if err := s.store.InsertRebalance(ctx, r); err != nil {
		return fmt.Errorf("insert rebalance %s: %w", r.ID, err)
	}

	s.result.Allocations = len(allocation)
	s.logger.Info("rebalance recorded",
		zap.String("token", token.ID),
		zap.Int("targets", len(targets)),
		zap.String("amount", r.AmountRebalanced.String()),
	)

	return s.bumpStats(ctx, func(st *domain.TotalStats) { st.TotalRebalances++ })
}
