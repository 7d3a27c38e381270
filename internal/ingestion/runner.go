package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"yield-ledger/internal/accounting"
	"yield-ledger/internal/chain"
	"yield-ledger/internal/domain"
	"yield-ledger/internal/lease"
	"yield-ledger/internal/observability"
	"yield-ledger/internal/storage"
)

// Runner feeds events from a source through the processor, one store
// transaction per event, and tracks progress in the checkpoint.
type Runner struct {
	source        EventSource
	store         storage.Database
	history       storage.PriceHistoryStore
	processor     *accounting.Processor
	lease         lease.Lease
	startBlock    uint64
	confirmations uint64
	batchBlocks   uint64
	pollInterval  time.Duration
	logger        *zap.Logger
}

// RunnerOptions contains configuration for creating a Runner.
type RunnerOptions struct {
	Source    EventSource
	Store     storage.Database
	History   storage.PriceHistoryStore // optional
	Processor *accounting.Processor
	Lease     lease.Lease // default: no lease

	StartBlock    uint64        // first block scanned when there is no checkpoint
	Confirmations uint64        // blocks behind head treated as final
	BatchBlocks   uint64        // Default: 1000
	PollInterval  time.Duration // Default: 12s
	Logger        *zap.Logger
}

// NewRunner creates a new ingestion runner.
func NewRunner(opts RunnerOptions) *Runner {
	batchBlocks := opts.BatchBlocks
	if batchBlocks == 0 {
		batchBlocks = 1000
	}

	pollInterval := opts.PollInterval
	if pollInterval == 0 {
		pollInterval = 12 * time.Second
	}

	l := opts.Lease
	if l == nil {
		l = lease.Noop{}
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Runner{
		source:        opts.Source,
		store:         opts.Store,
		history:       opts.History,
		processor:     opts.Processor,
		lease:         l,
		startBlock:    opts.StartBlock,
		confirmations: opts.Confirmations,
		batchBlocks:   batchBlocks,
		pollInterval:  pollInterval,
		logger:        logger,
	}
}

// BatchResult contains statistics from processing a block range.
type BatchResult struct {
	FromBlock uint64
	ToBlock   uint64
	Fetched   int
	Applied   int
	Skipped   int // already covered by the checkpoint
	Orphans   int
	Duration  time.Duration
}

func (b *BatchResult) add(o *BatchResult) {
	b.ToBlock = o.ToBlock
	b.Fetched += o.Fetched
	b.Applied += o.Applied
	b.Skipped += o.Skipped
	b.Orphans += o.Orphans
}

// Backfill applies every event in blocks [from, to]. Events at or before the
// checkpoint are skipped, so a backfill over already indexed blocks is a no-op.
func (r *Runner) Backfill(ctx context.Context, from, to uint64) (*BatchResult, error) {
	if from > to {
		return nil, fmt.Errorf("invalid block range [%d, %d]", from, to)
	}

	start := time.Now()
	if err := r.lease.Acquire(ctx); err != nil {
		return nil, err
	}
	defer r.release()

	r.logger.Info("starting backfill", zap.Uint64("from", from), zap.Uint64("to", to))

	total := &BatchResult{FromBlock: from, ToBlock: from}
	for lo := from; lo <= to; {
		hi := min(lo+r.batchBlocks-1, to)

		res, err := r.ProcessRange(ctx, lo, hi)
		total.add(res)
		if err != nil {
			return total, err
		}

		if hi == to {
			break
		}
		lo = hi + 1
	}

	total.Duration = time.Since(start)
	r.logger.Info("backfill complete",
		zap.Uint64("from", from),
		zap.Uint64("to", to),
		zap.Int("fetched", total.Fetched),
		zap.Int("applied", total.Applied),
		zap.Int("skipped", total.Skipped),
		zap.Int("orphans", total.Orphans),
		zap.Duration("duration", total.Duration),
	)
	return total, nil
}

// Run follows the chain head until ctx is cancelled, resuming after the
// checkpoint. It blocks until then or until an event fails to apply.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.lease.Acquire(ctx); err != nil {
		return err
	}
	defer r.release()

	next, err := r.resumeBlock(ctx)
	if err != nil {
		return err
	}
	r.logger.Info("runner started",
		zap.Uint64("next_block", next),
		zap.Uint64("confirmations", r.confirmations),
		zap.Uint64("batch_blocks", r.batchBlocks),
		zap.Duration("poll_interval", r.pollInterval),
	)

	for {
		head, err := r.source.Head(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// Transient RPC failure; retry on the next tick.
			r.logger.Warn("failed to read chain head", zap.Error(err))
		} else if head >= r.confirmations && head-r.confirmations >= next {
			hi := min(next+r.batchBlocks-1, head-r.confirmations)
			if _, err := r.ProcessRange(ctx, next, hi); err != nil {
				return err
			}
			next = hi + 1
			continue
		}

		select {
		case <-ctx.Done():
			r.logger.Info("runner stopping")
			return ctx.Err()
		case <-time.After(r.pollInterval):
		}
	}
}

// resumeBlock returns the first block not fully scanned.
func (r *Runner) resumeBlock(ctx context.Context) (uint64, error) {
	cp, err := r.store.GetCheckpoint(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return r.startBlock, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load checkpoint: %w", err)
	}
	return max(cp.ScannedThrough+1, r.startBlock), nil
}

// ProcessRange fetches, orders and applies the events of blocks [from, to],
// then marks the range scanned. Price snapshots of the events committed
// before a failing one are still appended, since a retry skips those events.
func (r *Runner) ProcessRange(ctx context.Context, from, to uint64) (*BatchResult, error) {
	start := time.Now()
	result := &BatchResult{FromBlock: from, ToBlock: to}

	if err := r.lease.Renew(ctx); err != nil {
		return result, fmt.Errorf("renew lease: %w", err)
	}

	events, err := r.source.Fetch(ctx, from, to)
	if err != nil {
		return result, fmt.Errorf("fetch events: %w", err)
	}
	result.Fetched = len(events)

	SortEvents(events)
	if err := ValidateOrdering(events); err != nil {
		return result, fmt.Errorf("blocks [%d, %d]: %w", from, to, err)
	}

	cp, err := r.loadCheckpoint(ctx)
	if err != nil {
		return result, err
	}

	var snapshots []*domain.PriceSnapshot
	for _, ev := range events {
		if cp.HasEvent && ev.Position.Compare(cp.LastEvent) <= 0 {
			result.Skipped++
			observability.RecordEventSkipped()
			continue
		}

		res, err := r.applyEvent(ctx, ev, cp)
		if err != nil {
			r.appendHistory(context.WithoutCancel(ctx), snapshots)
			return result, err
		}

		cp.LastEvent = ev.Position
		cp.HasEvent = true
		result.Applied++
		if res.Price != nil {
			snapshots = append(snapshots, res.Price)
		}
		for _, d := range res.Diagnostics {
			if errors.Is(d, accounting.ErrOrphanReferral) {
				result.Orphans++
			}
		}
	}

	if to > cp.ScannedThrough {
		cp.ScannedThrough = to
		if err := r.store.SaveCheckpoint(ctx, cp); err != nil {
			return result, fmt.Errorf("save checkpoint: %w", err)
		}
	}

	r.appendHistory(ctx, snapshots)

	result.Duration = time.Since(start)
	observability.RecordBatchComplete(cp.ScannedThrough)
	r.logger.Info("batch applied",
		zap.Uint64("from", from),
		zap.Uint64("to", to),
		zap.Int("fetched", result.Fetched),
		zap.Int("applied", result.Applied),
		zap.Int("skipped", result.Skipped),
		zap.Duration("duration", result.Duration),
	)
	return result, nil
}

// applyEvent commits the event's writes and the advanced checkpoint together.
func (r *Runner) applyEvent(ctx context.Context, ev *domain.Event, cp *domain.Checkpoint) (*accounting.Result, error) {
	start := time.Now()

	var res *accounting.Result
	err := r.store.InTx(ctx, func(ctx context.Context, uow storage.UnitOfWork) error {
		var err error
		if res, err = r.processor.Apply(ctx, uow, ev); err != nil {
			return err
		}
		return uow.SaveCheckpoint(ctx, &domain.Checkpoint{
			LastEvent:      ev.Position,
			HasEvent:       true,
			ScannedThrough: cp.ScannedThrough,
		})
	})
	if err != nil {
		observability.RecordEventError(string(ev.Kind), errorType(err))
		r.logger.Error("failed to apply event",
			zap.String("event_id", ev.ID()),
			zap.String("kind", string(ev.Kind)),
			zap.Uint64("block", ev.Position.BlockNumber),
			zap.Error(err),
		)
		return nil, fmt.Errorf("apply %s event %s: %w", ev.Kind, ev.ID(), err)
	}

	observability.RecordEventApplied(string(ev.Kind), ev.Position.BlockNumber, time.Since(start))
	if res.Class != "" {
		observability.RecordTransfer(string(res.Class))
	}
	if res.Price != nil && res.Price.Clamped {
		observability.RecordClampedPrice(res.Price.TokenID)
	}
	if res.Allocations > 0 {
		observability.RecordAllocations(res.Allocations)
	}
	for _, d := range res.Diagnostics {
		if errors.Is(d, accounting.ErrOrphanReferral) {
			observability.RecordOrphanReferral()
		}
	}
	return res, nil
}

// appendHistory writes the batch's price snapshots after the ledger commit.
// History is derived data, so a failure here is logged and not retried.
func (r *Runner) appendHistory(ctx context.Context, snapshots []*domain.PriceSnapshot) {
	if r.history == nil || len(snapshots) == 0 {
		return
	}
	err := r.history.InsertBulk(ctx, snapshots)
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrDuplicateKey):
		r.logger.Debug("price history already recorded", zap.Int("snapshots", len(snapshots)))
	default:
		r.logger.Warn("failed to append price history", zap.Int("snapshots", len(snapshots)), zap.Error(err))
	}
}

func (r *Runner) loadCheckpoint(ctx context.Context) (*domain.Checkpoint, error) {
	cp, err := r.store.GetCheckpoint(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return &domain.Checkpoint{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	return cp, nil
}

func (r *Runner) release() {
	// The run context is usually cancelled by now.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.lease.Release(ctx); err != nil {
		r.logger.Warn("failed to release lease", zap.Error(err))
	}
}

// errorType labels a fatal apply error for metrics.
func errorType(err error) string {
	switch {
	case errors.Is(err, accounting.ErrNegativeBalance):
		return "negative_balance"
	case errors.Is(err, accounting.ErrAllocationOverflow):
		return "allocation_overflow"
	case errors.Is(err, accounting.ErrUnknownEvent):
		return "unknown_event"
	case errors.Is(err, chain.ErrReverted), errors.Is(err, chain.ErrOutOfRange):
		return "chain_revert"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "other"
	}
}
