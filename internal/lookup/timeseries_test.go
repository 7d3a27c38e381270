package lookup

import (
	"math/big"
	"testing"

	"yield-ledger/internal/domain"
)

func snapshots() []*domain.PriceSnapshot {
	return []*domain.PriceSnapshot{
		{BlockNumber: 100, PreviousPrice: big.NewInt(0), Price: big.NewInt(1_000_000)},
		{BlockNumber: 200, PreviousPrice: big.NewInt(1_000_000), Price: big.NewInt(1_010_000)},
		{BlockNumber: 200, PreviousPrice: big.NewInt(1_010_000), Price: big.NewInt(1_020_000)},
		{BlockNumber: 300, PreviousPrice: big.NewInt(1_020_000), Price: big.NewInt(1_030_000)},
	}
}

func TestPriceAt_EmptySlice(t *testing.T) {
	_, err := PriceAt(1000, nil)
	if err != ErrNoPriceData {
		t.Errorf("expected ErrNoPriceData, got %v", err)
	}

	_, err = PriceBefore(1000, []*domain.PriceSnapshot{})
	if err != ErrNoPriceData {
		t.Errorf("expected ErrNoPriceData, got %v", err)
	}
}

func TestPriceAt(t *testing.T) {
	tests := []struct {
		block uint64
		want  int64
	}{
		{50, 0}, // before the first accrual
		{100, 1_000_000},
		{150, 1_000_000},
		{200, 1_020_000}, // last snapshot of the block wins
		{1000, 1_030_000},
	}

	for _, tt := range tests {
		price, err := PriceAt(tt.block, snapshots())
		if err != nil {
			t.Fatalf("block %d: unexpected error: %v", tt.block, err)
		}
		if price.Int64() != tt.want {
			t.Errorf("block %d: expected %d, got %s", tt.block, tt.want, price)
		}
	}
}

func TestPriceBefore(t *testing.T) {
	tests := []struct {
		block uint64
		want  int64
	}{
		{100, 0},
		{200, 1_000_000},
		{201, 1_020_000},
		{300, 1_020_000},
	}

	for _, tt := range tests {
		price, err := PriceBefore(tt.block, snapshots())
		if err != nil {
			t.Fatalf("block %d: unexpected error: %v", tt.block, err)
		}
		if price.Int64() != tt.want {
			t.Errorf("block %d: expected %d, got %s", tt.block, tt.want, price)
		}
	}
}

func TestPriceAt_ReturnsCopy(t *testing.T) {
	snaps := snapshots()
	price, err := PriceAt(300, snaps)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	price.SetInt64(0)

	if snaps[3].Price.Int64() != 1_030_000 {
		t.Errorf("snapshot mutated through returned price: %s", snaps[3].Price)
	}
}

func TestInRange(t *testing.T) {
	got := InRange(snapshots(), 150, 250)
	if len(got) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(got))
	}
	for _, s := range got {
		if s.BlockNumber != 200 {
			t.Errorf("unexpected block %d", s.BlockNumber)
		}
	}

	if got := InRange(snapshots(), 400, 500); len(got) != 0 {
		t.Errorf("expected no snapshots, got %d", len(got))
	}
}
