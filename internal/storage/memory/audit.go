package memory

import (
	"context"
	"math/big"

	"yield-ledger/internal/domain"
	"yield-ledger/internal/storage"
)

// InsertMint appends a mint. Returns ErrDuplicateKey if id exists.
func (s *Store) InsertMint(_ context.Context, m *domain.Mint) error {
	if m == nil || m.ID == "" {
		return storage.ErrInvalidInput
	}
	s.lock()
	defer s.unlock()
	return insert(s.state.mints, m.ID, m)
}

// GetMint retrieves a mint by EventID. Returns ErrNotFound if not exists.
func (s *Store) GetMint(_ context.Context, id string) (*domain.Mint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return load(s.state.mints, id)
}

// LatestMintBefore probes "<tx>-<i>" keys from logIndex-1 down to 0 and
// returns the first mint found.
func (s *Store) LatestMintBefore(_ context.Context, txHash string, logIndex uint) (*domain.Mint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := int64(logIndex) - 1; i >= 0; i-- {
		if m, ok := s.state.mints[domain.EventID(txHash, uint(i))]; ok {
			c := *m
			return &c, nil
		}
	}
	return nil, storage.ErrNotFound
}

// InsertRedeem appends a redeem. Returns ErrDuplicateKey if id exists.
func (s *Store) InsertRedeem(_ context.Context, r *domain.Redeem) error {
	if r == nil || r.ID == "" {
		return storage.ErrInvalidInput
	}
	s.lock()
	defer s.unlock()
	return insert(s.state.redeems, r.ID, r)
}

// GetRedeem retrieves a redeem by EventID. Returns ErrNotFound if not exists.
func (s *Store) GetRedeem(_ context.Context, id string) (*domain.Redeem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return load(s.state.redeems, id)
}

// InsertTransfer appends a transfer. Returns ErrDuplicateKey if id exists.
func (s *Store) InsertTransfer(_ context.Context, t *domain.Transfer) error {
	if t == nil || t.ID == "" {
		return storage.ErrInvalidInput
	}
	s.lock()
	defer s.unlock()
	return insert(s.state.transfers, t.ID, t)
}

// GetTransfer retrieves a transfer by EventID. Returns ErrNotFound if not exists.
func (s *Store) GetTransfer(_ context.Context, id string) (*domain.Transfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return load(s.state.transfers, id)
}

// InsertReferral appends a referral. Returns ErrDuplicateKey if id exists.
func (s *Store) InsertReferral(_ context.Context, r *domain.Referral) error {
	if r == nil || r.ID == "" {
		return storage.ErrInvalidInput
	}
	s.lock()
	defer s.unlock()
	return insert(s.state.referrals, r.ID, r)
}

// GetReferral retrieves a referral by EventID. Returns ErrNotFound if not exists.
func (s *Store) GetReferral(_ context.Context, id string) (*domain.Referral, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return load(s.state.referrals, id)
}

// InsertRebalance appends a rebalance. Returns ErrDuplicateKey if id exists.
func (s *Store) InsertRebalance(_ context.Context, r *domain.Rebalance) error {
	if r == nil || r.ID == "" {
		return storage.ErrInvalidInput
	}
	s.lock()
	defer s.unlock()
	return insert(s.state.rebalances, r.ID, copyRebalance(r))
}

// GetRebalance retrieves a rebalance by EventID. Returns ErrNotFound if not exists.
func (s *Store) GetRebalance(_ context.Context, id string) (*domain.Rebalance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.state.rebalances[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return copyRebalance(r), nil
}

// copyRebalance detaches the allocation slices from the caller's.
func copyRebalance(r *domain.Rebalance) *domain.Rebalance {
	c := *r
	c.Allocation = append([]*big.Int(nil), r.Allocation...)
	c.LendingTokens = append([]string(nil), r.LendingTokens...)
	return &c
}
