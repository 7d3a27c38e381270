package memory

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"yield-ledger/internal/domain"
	"yield-ledger/internal/storage"
)

func snapshot(tokenID, eventID string, block uint64) *domain.PriceSnapshot {
	return &domain.PriceSnapshot{
		TokenID:     tokenID,
		EventID:     eventID,
		BlockNumber: block,
		Price:       big.NewInt(1_000_000),
	}
}

func TestPriceHistoryStore_InsertBulkAndGet(t *testing.T) {
	store := NewPriceHistoryStore()
	ctx := context.Background()

	err := store.InsertBulk(ctx, []*domain.PriceSnapshot{
		snapshot("t1", "0xb-1", 200),
		snapshot("t1", "0xa-1", 100),
		snapshot("t2", "0xc-1", 150),
	})
	if err != nil {
		t.Fatalf("InsertBulk failed: %v", err)
	}

	result, err := store.GetByTokenID(ctx, "t1")
	if err != nil {
		t.Fatalf("GetByTokenID failed: %v", err)
	}
	if len(result) != 2 {
		t.Fatalf("Expected 2 snapshots, got %d", len(result))
	}
	if result[0].BlockNumber != 100 || result[1].BlockNumber != 200 {
		t.Errorf("Expected block order 100, 200; got %d, %d", result[0].BlockNumber, result[1].BlockNumber)
	}
}

func TestPriceHistoryStore_DuplicateKey(t *testing.T) {
	store := NewPriceHistoryStore()
	ctx := context.Background()

	if err := store.InsertBulk(ctx, []*domain.PriceSnapshot{snapshot("t1", "0xa-1", 100)}); err != nil {
		t.Fatalf("First insert failed: %v", err)
	}

	err := store.InsertBulk(ctx, []*domain.PriceSnapshot{snapshot("t1", "0xa-1", 100)})
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey, got %v", err)
	}
}

func TestPriceHistoryStore_IntraBatchDuplicate(t *testing.T) {
	store := NewPriceHistoryStore()
	ctx := context.Background()

	err := store.InsertBulk(ctx, []*domain.PriceSnapshot{
		snapshot("t1", "0xa-1", 100),
		snapshot("t1", "0xa-1", 100),
	})
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey for intra-batch duplicate, got %v", err)
	}

	result, _ := store.GetByTokenID(ctx, "t1")
	if len(result) != 0 {
		t.Errorf("Expected 0 snapshots (rollback), got %d", len(result))
	}
}

func TestPriceHistoryStore_GetByBlockRange(t *testing.T) {
	store := NewPriceHistoryStore()
	ctx := context.Background()

	err := store.InsertBulk(ctx, []*domain.PriceSnapshot{
		snapshot("t1", "0xa-1", 100),
		snapshot("t1", "0xb-1", 200),
		snapshot("t1", "0xc-1", 300),
		snapshot("t2", "0xd-1", 200),
	})
	if err != nil {
		t.Fatalf("InsertBulk failed: %v", err)
	}

	result, err := store.GetByBlockRange(ctx, "t1", 150, 300)
	if err != nil {
		t.Fatalf("GetByBlockRange failed: %v", err)
	}
	if len(result) != 2 {
		t.Fatalf("Expected 2 snapshots in range, got %d", len(result))
	}
	if result[0].EventID != "0xb-1" {
		t.Errorf("Expected first event 0xb-1, got %s", result[0].EventID)
	}
}

func TestPriceHistoryStore_InvalidInput(t *testing.T) {
	store := NewPriceHistoryStore()

	err := store.InsertBulk(context.Background(), []*domain.PriceSnapshot{{TokenID: "t1"}})
	if !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput, got %v", err)
	}
}
