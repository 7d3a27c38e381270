package memory

import (
	"context"
	"sort"

	"yield-ledger/internal/domain"
	"yield-ledger/internal/storage"
)

// GetUser retrieves a user by address. Returns ErrNotFound if not exists.
func (s *Store) GetUser(_ context.Context, id string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return load(s.state.users, id)
}

// SaveUser inserts or replaces a user.
func (s *Store) SaveUser(_ context.Context, u *domain.User) error {
	if u == nil || u.ID == "" {
		return storage.ErrInvalidInput
	}
	s.lock()
	defer s.unlock()
	save(s.state.users, u.ID, u)
	return nil
}

// GetToken retrieves a token by address. Returns ErrNotFound if not exists.
func (s *Store) GetToken(_ context.Context, id string) (*domain.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return load(s.state.tokens, id)
}

// SaveToken inserts or replaces a token.
func (s *Store) SaveToken(_ context.Context, t *domain.Token) error {
	if t == nil || t.ID == "" {
		return storage.ErrInvalidInput
	}
	s.lock()
	defer s.unlock()
	save(s.state.tokens, t.ID, t)
	return nil
}

// GetUserToken retrieves a position by id. Returns ErrNotFound if not exists.
func (s *Store) GetUserToken(_ context.Context, id string) (*domain.UserToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return load(s.state.userTokens, id)
}

// SaveUserToken inserts or replaces a position.
func (s *Store) SaveUserToken(_ context.Context, ut *domain.UserToken) error {
	if ut == nil || ut.ID == "" {
		return storage.ErrInvalidInput
	}
	s.lock()
	defer s.unlock()
	save(s.state.userTokens, ut.ID, ut)
	return nil
}

// ListUserTokensByToken retrieves all positions in a token, ordered by id ASC.
func (s *Store) ListUserTokensByToken(_ context.Context, tokenID string) ([]*domain.UserToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.UserToken
	for _, ut := range s.state.userTokens {
		if ut.TokenID == tokenID {
			c := *ut
			result = append(result, &c)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// GetReferrer retrieves a referrer by address. Returns ErrNotFound if not exists.
func (s *Store) GetReferrer(_ context.Context, id string) (*domain.Referrer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return load(s.state.referrers, id)
}

// SaveReferrer inserts or replaces a referrer.
func (s *Store) SaveReferrer(_ context.Context, r *domain.Referrer) error {
	if r == nil || r.ID == "" {
		return storage.ErrInvalidInput
	}
	s.lock()
	defer s.unlock()
	save(s.state.referrers, r.ID, r)
	return nil
}

// GetReferrerToken retrieves an aggregate by id. Returns ErrNotFound if not exists.
func (s *Store) GetReferrerToken(_ context.Context, id string) (*domain.ReferrerToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return load(s.state.referrerTokens, id)
}

// SaveReferrerToken inserts or replaces an aggregate.
func (s *Store) SaveReferrerToken(_ context.Context, rt *domain.ReferrerToken) error {
	if rt == nil || rt.ID == "" {
		return storage.ErrInvalidInput
	}
	s.lock()
	defer s.unlock()
	save(s.state.referrerTokens, rt.ID, rt)
	return nil
}

// GetReferrerUserToken retrieves an attribution by id. Returns ErrNotFound if not exists.
func (s *Store) GetReferrerUserToken(_ context.Context, id string) (*domain.ReferrerUserToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return load(s.state.attributions, id)
}

// SaveReferrerUserToken inserts or replaces an attribution.
func (s *Store) SaveReferrerUserToken(_ context.Context, rut *domain.ReferrerUserToken) error {
	if rut == nil || rut.ID == "" {
		return storage.ErrInvalidInput
	}
	s.lock()
	defer s.unlock()
	save(s.state.attributions, rut.ID, rut)
	return nil
}

// GetTotalStats retrieves the singleton. Returns ErrNotFound if not created yet.
func (s *Store) GetTotalStats(_ context.Context) (*domain.TotalStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.state.stats == nil {
		return nil, storage.ErrNotFound
	}
	c := *s.state.stats
	return &c, nil
}

// SaveTotalStats inserts or replaces the singleton.
func (s *Store) SaveTotalStats(_ context.Context, ts *domain.TotalStats) error {
	if ts == nil {
		return storage.ErrInvalidInput
	}
	s.lock()
	defer s.unlock()

	c := *ts
	c.ID = domain.TotalStatsID
	s.state.stats = &c
	return nil
}

// GetCheckpoint returns the saved checkpoint. Returns ErrNotFound if none has been saved.
func (s *Store) GetCheckpoint(_ context.Context) (*domain.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.state.checkpoint == nil {
		return nil, storage.ErrNotFound
	}
	c := *s.state.checkpoint
	return &c, nil
}

// SaveCheckpoint replaces the saved checkpoint.
func (s *Store) SaveCheckpoint(_ context.Context, cp *domain.Checkpoint) error {
	if cp == nil {
		return storage.ErrInvalidInput
	}
	s.lock()
	defer s.unlock()

	c := *cp
	s.state.checkpoint = &c
	return nil
}
