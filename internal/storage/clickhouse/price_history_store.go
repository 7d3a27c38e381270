package clickhouse

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"yield-ledger/internal/domain"
	"yield-ledger/internal/observability"
	"yield-ledger/internal/storage"
)

// PriceHistoryStore implements storage.PriceHistoryStore using ClickHouse.
type PriceHistoryStore struct {
	conn *Conn
}

// NewPriceHistoryStore creates a new PriceHistoryStore.
func NewPriceHistoryStore(conn *Conn) *PriceHistoryStore {
	return &PriceHistoryStore{conn: conn}
}

// Close closes the underlying connection.
func (s *PriceHistoryStore) Close() error {
	return s.conn.Close()
}

// Compile-time interface check.
var _ storage.PriceHistoryStore = (*PriceHistoryStore)(nil)

const priceHistoryColumns = `
	token_id, event_id, block_number, timestamp, previous_price, raw_price, price,
	clamped, aum, growth, generated_fee, fee_rate
`

// InsertBulk adds multiple snapshots. Fails entire batch on duplicate (token_id, event_id).
func (s *PriceHistoryStore) InsertBulk(ctx context.Context, snapshots []*domain.PriceSnapshot) (err error) {
	if len(snapshots) == 0 {
		return nil
	}

	start := time.Now()
	defer func() {
		observability.RecordDBQuery("clickhouse", "insert_price_history", time.Since(start).Seconds(), err)
	}()

	// Check for intra-batch duplicates
	type key struct {
		tokenID string
		eventID string
	}
	seen := make(map[key]struct{}, len(snapshots))
	for _, p := range snapshots {
		if p == nil || p.TokenID == "" || p.EventID == "" {
			return storage.ErrInvalidInput
		}
		k := key{p.TokenID, p.EventID}
		if _, exists := seen[k]; exists {
			return storage.ErrDuplicateKey
		}
		seen[k] = struct{}{}
	}

	// MergeTree does not enforce uniqueness, so check existing rows first.
	for _, p := range snapshots {
		exists, err := s.exists(ctx, p.TokenID, p.EventID)
		if err != nil {
			return fmt.Errorf("check exists: %w", err)
		}
		if exists {
			return storage.ErrDuplicateKey
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `INSERT INTO price_history (`+priceHistoryColumns+`)`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, p := range snapshots {
		err = batch.Append(
			p.TokenID, p.EventID, p.BlockNumber, p.Timestamp,
			orZero(p.PreviousPrice), orZero(p.RawPrice), orZero(p.Price),
			p.Clamped, orZero(p.AUM), orZero(p.Growth), orZero(p.GeneratedFee), orZero(p.FeeRate),
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// GetByTokenID retrieves all snapshots for a token, ordered by block ASC.
func (s *PriceHistoryStore) GetByTokenID(ctx context.Context, tokenID string) ([]*domain.PriceSnapshot, error) {
	query := `
		SELECT ` + priceHistoryColumns + `
		FROM price_history
		WHERE token_id = ?
		ORDER BY block_number ASC, event_id ASC
	`

	rows, err := s.conn.Query(ctx, query, tokenID)
	if err != nil {
		return nil, fmt.Errorf("query by token id: %w", err)
	}
	defer rows.Close()

	return scanPriceHistory(rows)
}

// GetByBlockRange retrieves snapshots for a token within [from, to] (inclusive).
func (s *PriceHistoryStore) GetByBlockRange(ctx context.Context, tokenID string, from, to uint64) ([]*domain.PriceSnapshot, error) {
	query := `
		SELECT ` + priceHistoryColumns + `
		FROM price_history
		WHERE token_id = ? AND block_number >= ? AND block_number <= ?
		ORDER BY block_number ASC, event_id ASC
	`

	rows, err := s.conn.Query(ctx, query, tokenID, from, to)
	if err != nil {
		return nil, fmt.Errorf("query by block range: %w", err)
	}
	defer rows.Close()

	return scanPriceHistory(rows)
}

// exists checks if a snapshot with the given key exists.
func (s *PriceHistoryStore) exists(ctx context.Context, tokenID, eventID string) (bool, error) {
	query := `
		SELECT count(*) FROM price_history
		WHERE token_id = ? AND event_id = ?
	`

	var count uint64
	err := s.conn.QueryRow(ctx, query, tokenID, eventID).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// chRows is the part of driver.Rows the scanners need.
type chRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanPriceHistory(rows chRows) ([]*domain.PriceSnapshot, error) {
	var snapshots []*domain.PriceSnapshot

	for rows.Next() {
		var p domain.PriceSnapshot
		err := rows.Scan(
			&p.TokenID, &p.EventID, &p.BlockNumber, &p.Timestamp,
			&p.PreviousPrice, &p.RawPrice, &p.Price,
			&p.Clamped, &p.AUM, &p.Growth, &p.GeneratedFee, &p.FeeRate,
		)
		if err != nil {
			return nil, fmt.Errorf("scan price history row: %w", err)
		}
		snapshots = append(snapshots, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate price history rows: %w", err)
	}

	return snapshots, nil
}

// UInt256 columns reject nil.
func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
