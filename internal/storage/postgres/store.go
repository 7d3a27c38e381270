package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"yield-ledger/internal/domain"
	"yield-ledger/internal/observability"
	"yield-ledger/internal/storage"
)

// querier is the part of pgxpool.Pool and pgx.Tx the store runs statements on.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements storage.Database using PostgreSQL. Outside InTx every
// call runs in its own implicit transaction.
type Store struct {
	pool *Pool
	q    querier
	tx   pgx.Tx
}

// NewStore creates a new Store.
func NewStore(pool *Pool) *Store {
	return &Store{pool: pool, q: pool}
}

// Compile-time interface check.
var _ storage.Database = (*Store)(nil)

// InTx runs fn in a transaction and commits if it returns nil. Nested calls
// run in a savepoint of the enclosing transaction.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, uow storage.UnitOfWork) error) (err error) {
	start := time.Now()
	defer func() {
		observability.RecordDBQuery("postgres", "tx", time.Since(start).Seconds(), err)
	}()

	var tx pgx.Tx
	if s.tx != nil {
		tx, err = s.tx.Begin(ctx)
	} else {
		tx, err = s.pool.Begin(ctx)
	}
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		// Rollback after Commit is a no-op.
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) && err == nil {
			err = fmt.Errorf("rollback tx: %w", rbErr)
		}
	}()

	if err = fn(ctx, &Store{pool: s.pool, q: tx, tx: tx}); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// GetCheckpoint returns the saved checkpoint. Returns ErrNotFound if none has been saved.
func (s *Store) GetCheckpoint(ctx context.Context) (*domain.Checkpoint, error) {
	query := `
		SELECT block_number, tx_index, tx_hash, log_index, has_event, scanned_through
		FROM indexer_checkpoint
		WHERE id = 1
	`

	var (
		cp       domain.Checkpoint
		txIndex  int32
		logIndex int32
		block    int64
		scanned  int64
	)
	err := s.q.QueryRow(ctx, query).Scan(&block, &txIndex, &cp.LastEvent.TxHash, &logIndex, &cp.HasEvent, &scanned)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get checkpoint: %w", err)
	}
	cp.LastEvent.BlockNumber = uint64(block)
	cp.LastEvent.TxIndex = uint(txIndex)
	cp.LastEvent.LogIndex = uint(logIndex)
	cp.ScannedThrough = uint64(scanned)
	return &cp, nil
}

// SaveCheckpoint replaces the saved checkpoint.
func (s *Store) SaveCheckpoint(ctx context.Context, cp *domain.Checkpoint) error {
	if cp == nil {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO indexer_checkpoint (
			id, block_number, tx_index, tx_hash, log_index, has_event, scanned_through, updated_at
		) VALUES (1, $1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (id) DO UPDATE SET
			block_number = EXCLUDED.block_number,
			tx_index = EXCLUDED.tx_index,
			tx_hash = EXCLUDED.tx_hash,
			log_index = EXCLUDED.log_index,
			has_event = EXCLUDED.has_event,
			scanned_through = EXCLUDED.scanned_through,
			updated_at = now()
	`

	_, err := s.q.Exec(ctx, query,
		int64(cp.LastEvent.BlockNumber),
		int32(cp.LastEvent.TxIndex),
		cp.LastEvent.TxHash,
		int32(cp.LastEvent.LogIndex),
		cp.HasEvent,
		int64(cp.ScannedThrough),
	)
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// writeErr maps constraint violations of an upsert to storage errors.
func writeErr(op string, err error) error {
	if isCheckViolation(err) {
		return fmt.Errorf("%s: %w: %v", op, storage.ErrInvalidInput, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
