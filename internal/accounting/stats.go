package accounting

import (
	"context"
	"errors"
	"fmt"

	"yield-ledger/internal/domain"
	"yield-ledger/internal/storage"
)

// bumpStats applies fn to the TotalStats singleton, creating it on first use.
func (s *session) bumpStats(ctx context.Context, fn func(*domain.TotalStats)) error {
	st, err := s.store.GetTotalStats(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		st = &domain.TotalStats{ID: domain.TotalStatsID}
	} else if err != nil {
		return fmt.Errorf("load total stats: %w", err)
	}

	fn(st)

	if err := s.store.SaveTotalStats(ctx, st); err != nil {
		return fmt.Errorf("save total stats: %w", err)
	}
	return nil
}
