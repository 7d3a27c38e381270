package memory

import (
	"context"
	"sort"
	"sync"

	"yield-ledger/internal/domain"
	"yield-ledger/internal/storage"
)

// PriceHistoryStore is an in-memory implementation of storage.PriceHistoryStore.
type PriceHistoryStore struct {
	mu   sync.RWMutex
	data map[string]*domain.PriceSnapshot // keyed by (token_id, event_id)
}

// NewPriceHistoryStore creates a new in-memory price history store.
func NewPriceHistoryStore() *PriceHistoryStore {
	return &PriceHistoryStore{
		data: make(map[string]*domain.PriceSnapshot),
	}
}

func snapshotKey(tokenID, eventID string) string {
	return tokenID + "|" + eventID
}

// InsertBulk adds multiple snapshots. Fails entire batch on duplicate.
func (s *PriceHistoryStore) InsertBulk(_ context.Context, snapshots []*domain.PriceSnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batchKeys := make(map[string]struct{}, len(snapshots))
	for _, p := range snapshots {
		if p == nil || p.TokenID == "" || p.EventID == "" {
			return storage.ErrInvalidInput
		}
		key := snapshotKey(p.TokenID, p.EventID)
		if _, exists := s.data[key]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[key]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[key] = struct{}{}
	}

	for _, p := range snapshots {
		c := *p
		s.data[snapshotKey(p.TokenID, p.EventID)] = &c
	}
	return nil
}

// GetByTokenID retrieves all snapshots for a token, ordered by block ASC.
func (s *PriceHistoryStore) GetByTokenID(_ context.Context, tokenID string) ([]*domain.PriceSnapshot, error) {
	return s.filter(func(p *domain.PriceSnapshot) bool {
		return p.TokenID == tokenID
	}), nil
}

// GetByBlockRange retrieves snapshots for a token within [from, to] (inclusive).
func (s *PriceHistoryStore) GetByBlockRange(_ context.Context, tokenID string, from, to uint64) ([]*domain.PriceSnapshot, error) {
	return s.filter(func(p *domain.PriceSnapshot) bool {
		return p.TokenID == tokenID && p.BlockNumber >= from && p.BlockNumber <= to
	}), nil
}

func (s *PriceHistoryStore) filter(keep func(*domain.PriceSnapshot) bool) []*domain.PriceSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.PriceSnapshot
	for _, p := range s.data {
		if keep(p) {
			c := *p
			result = append(result, &c)
		}
	}

	// Event ids break ties inside a block so the order is stable.
	sort.Slice(result, func(i, j int) bool {
		if result[i].BlockNumber != result[j].BlockNumber {
			return result[i].BlockNumber < result[j].BlockNumber
		}
		return result[i].EventID < result[j].EventID
	})
	return result
}

var _ storage.PriceHistoryStore = (*PriceHistoryStore)(nil)
