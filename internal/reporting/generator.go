package reporting

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"
	"sort"
	"time"

	"yield-ledger/internal/domain"
	"yield-ledger/internal/lookup"
	"yield-ledger/internal/storage"
)

// LedgerReader is the part of the entity store a report reads.
type LedgerReader interface {
	storage.TokenStore
	storage.StatsStore
	storage.CheckpointStore
}

// Generator produces reports from stored data.
type Generator struct {
	ledger  LedgerReader
	history storage.PriceHistoryStore
	now     func() time.Time // Injectable clock for deterministic output
}

// NewGenerator creates a new report generator.
func NewGenerator(ledger LedgerReader, history storage.PriceHistoryStore) *Generator {
	return &Generator{
		ledger:  ledger,
		history: history,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithClock sets a custom clock function for deterministic output.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// Generate builds a report for tokenIDs over blocks [from, to]. A zero to
// means up to the last scanned block.
func (g *Generator) Generate(ctx context.Context, tokenIDs []string, from, to uint64) (*Report, error) {
	report := &Report{GeneratedAt: g.now(), FromBlock: from}

	cp, err := g.ledger.GetCheckpoint(ctx)
	switch {
	case err == nil:
		report.ScannedThrough = cp.ScannedThrough
		if cp.HasEvent {
			report.LastEventID = domain.EventID(cp.LastEvent.TxHash, cp.LastEvent.LogIndex)
		}
	case !errors.Is(err, storage.ErrNotFound):
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}

	if to == 0 {
		to = report.ScannedThrough
		if to == 0 {
			to = math.MaxUint64
		}
	}
	if from > to {
		return nil, fmt.Errorf("invalid block range [%d, %d]", from, to)
	}
	report.ToBlock = to

	stats, err := g.ledger.GetTotalStats(ctx)
	switch {
	case err == nil:
		report.Stats = *stats
	case !errors.Is(err, storage.ErrNotFound):
		return nil, fmt.Errorf("load stats: %w", err)
	}

	ids := make([]string, 0, len(tokenIDs))
	for _, id := range tokenIDs {
		ids = append(ids, domain.NormalizeAddress(id))
	}
	sort.Strings(ids)

	for _, id := range ids {
		token, err := g.ledger.GetToken(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			report.MissingTokens = append(report.MissingTokens, id)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load token %s: %w", id, err)
		}

		summary, err := g.summarize(ctx, token, from, to)
		if err != nil {
			return nil, err
		}
		report.Tokens = append(report.Tokens, *summary)
	}

	return report, nil
}

func (g *Generator) summarize(ctx context.Context, token *domain.Token, from, to uint64) (*TokenSummary, error) {
	s := &TokenSummary{
		TokenID:            token.ID,
		Name:               token.Name,
		UnderlyingName:     token.UnderlyingName,
		Decimals:           token.Decimals,
		UnderlyingDecimals: token.UnderlyingDecimals,
		TotalSupply:        orZero(token.TotalSupply),
		LastPrice:          orZero(token.LastPrice),
		Fee:                orZero(token.Fee),
		UniqueUserCount:    token.UniqueUserCount,
		TotalRebalances:    token.TotalRebalances,
		TotalFeeGenerated:  orZero(token.TotalFeeGeneratedInUnderlying),
		TotalFeePaid:       orZero(token.TotalFeePaidInUnderlying),
		PeriodFeeGenerated: new(big.Int),
	}

	if g.history == nil {
		return s, nil
	}

	snapshots, err := g.history.GetByTokenID(ctx, token.ID)
	if err != nil {
		return nil, fmt.Errorf("load price history of %s: %w", token.ID, err)
	}
	if len(snapshots) == 0 {
		return s, nil
	}

	// Both lookups only fail on an empty slice
	s.StartPrice, _ = lookup.PriceBefore(from, snapshots)
	s.EndPrice, _ = lookup.PriceAt(to, snapshots)

	if s.StartPrice.Sign() > 0 {
		change := new(big.Int).Sub(s.EndPrice, s.StartPrice)
		change.Mul(change, big.NewInt(10_000))
		s.ReturnBps = change.Quo(change, s.StartPrice)
	}

	for _, snap := range lookup.InRange(snapshots, from, to) {
		s.Snapshots++
		if snap.Clamped {
			s.ClampedReadings++
		}
		s.PeriodFeeGenerated.Add(s.PeriodFeeGenerated, orZero(snap.GeneratedFee))
	}

	return s, nil
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
