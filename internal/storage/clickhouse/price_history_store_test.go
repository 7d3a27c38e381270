package clickhouse

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yield-ledger/internal/domain"
	"yield-ledger/internal/storage"
)

const historyToken = "0x3fe7940616e5bc47b0775a0dccf6237893353bb4"

// e18 is past the 64-bit range so the UInt256 path is exercised.
func e18(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

func snapshot(eventID string, block uint64, price int64) *domain.PriceSnapshot {
	return &domain.PriceSnapshot{
		TokenID:       historyToken,
		EventID:       eventID,
		BlockNumber:   block,
		Timestamp:     int64(1700000000 + block),
		PreviousPrice: big.NewInt(1_000_000),
		RawPrice:      big.NewInt(price),
		Price:         big.NewInt(price),
		AUM:           e18(3),
		Growth:        big.NewInt(price - 1_000_000),
		GeneratedFee:  big.NewInt((price - 1_000_000) / 10),
		FeeRate:       big.NewInt(10000),
	}
}

func TestPriceHistoryStore_InsertBulk(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewPriceHistoryStore(conn)
	ctx := context.Background()

	assert.NoError(t, store.InsertBulk(ctx, nil))

	clamped := snapshot("0xb-2", 101, 1_100_000)
	clamped.RawPrice = big.NewInt(900_000)
	clamped.Clamped = true

	err := store.InsertBulk(ctx, []*domain.PriceSnapshot{clamped, snapshot("0xa-1", 100, 1_050_000)})
	require.NoError(t, err)

	got, err := store.GetByTokenID(ctx, historyToken)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "0xa-1", got[0].EventID)
	assert.Equal(t, uint64(100), got[0].BlockNumber)
	assert.Equal(t, 0, got[0].AUM.Cmp(e18(3)))
	assert.Equal(t, 0, got[0].Price.Cmp(big.NewInt(1_050_000)))
	assert.False(t, got[0].Clamped)

	assert.True(t, got[1].Clamped)
	assert.Equal(t, 0, got[1].RawPrice.Cmp(big.NewInt(900_000)))
	assert.Equal(t, 0, got[1].FeeRate.Cmp(big.NewInt(10000)))
}

func TestPriceHistoryStore_InsertBulk_DuplicateKey(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewPriceHistoryStore(conn)
	ctx := context.Background()

	require.NoError(t, store.InsertBulk(ctx, []*domain.PriceSnapshot{snapshot("0xa-1", 100, 1_050_000)}))

	// Existing key fails the whole batch
	err := store.InsertBulk(ctx, []*domain.PriceSnapshot{
		snapshot("0xa-2", 100, 1_060_000),
		snapshot("0xa-1", 100, 1_050_000),
	})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	// Intra-batch duplicate
	err = store.InsertBulk(ctx, []*domain.PriceSnapshot{
		snapshot("0xa-3", 102, 1_070_000),
		snapshot("0xa-3", 102, 1_070_000),
	})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	got, err := store.GetByTokenID(ctx, historyToken)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestPriceHistoryStore_GetByBlockRange(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewPriceHistoryStore(conn)
	ctx := context.Background()

	err := store.InsertBulk(ctx, []*domain.PriceSnapshot{
		snapshot("0xa-1", 100, 1_010_000),
		snapshot("0xb-1", 150, 1_020_000),
		snapshot("0xc-1", 200, 1_030_000),
	})
	require.NoError(t, err)

	got, err := store.GetByBlockRange(ctx, historyToken, 100, 150)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, uint64(100), got[0].BlockNumber)
	assert.Equal(t, uint64(150), got[1].BlockNumber)

	got, err = store.GetByBlockRange(ctx, "0xother", 0, 1000)
	require.NoError(t, err)
	assert.Empty(t, got)
}
