package memory

import (
	"context"
	"maps"
	"sync"

	"yield-ledger/internal/domain"
	"yield-ledger/internal/storage"
)

// state holds every table. Stored records are private copies and are never
// mutated after insertion, so cloning the maps is enough to snapshot it.
type state struct {
	users          map[string]*domain.User
	tokens         map[string]*domain.Token
	userTokens     map[string]*domain.UserToken
	referrers      map[string]*domain.Referrer
	referrerTokens map[string]*domain.ReferrerToken
	attributions   map[string]*domain.ReferrerUserToken
	mints          map[string]*domain.Mint
	redeems        map[string]*domain.Redeem
	transfers      map[string]*domain.Transfer
	referrals      map[string]*domain.Referral
	rebalances     map[string]*domain.Rebalance
	stats          *domain.TotalStats
	checkpoint     *domain.Checkpoint
}

func newState() *state {
	return &state{
		users:          make(map[string]*domain.User),
		tokens:         make(map[string]*domain.Token),
		userTokens:     make(map[string]*domain.UserToken),
		referrers:      make(map[string]*domain.Referrer),
		referrerTokens: make(map[string]*domain.ReferrerToken),
		attributions:   make(map[string]*domain.ReferrerUserToken),
		mints:          make(map[string]*domain.Mint),
		redeems:        make(map[string]*domain.Redeem),
		transfers:      make(map[string]*domain.Transfer),
		referrals:      make(map[string]*domain.Referral),
		rebalances:     make(map[string]*domain.Rebalance),
	}
}

func (st *state) clone() *state {
	return &state{
		users:          maps.Clone(st.users),
		tokens:         maps.Clone(st.tokens),
		userTokens:     maps.Clone(st.userTokens),
		referrers:      maps.Clone(st.referrers),
		referrerTokens: maps.Clone(st.referrerTokens),
		attributions:   maps.Clone(st.attributions),
		mints:          maps.Clone(st.mints),
		redeems:        maps.Clone(st.redeems),
		transfers:      maps.Clone(st.transfers),
		referrals:      maps.Clone(st.referrals),
		rebalances:     maps.Clone(st.rebalances),
		stats:          st.stats,
		checkpoint:     st.checkpoint,
	}
}

// Store is an in-memory implementation of storage.Database.
type Store struct {
	// txMu serializes writers: at most one transaction (or direct write) at a time.
	txMu  sync.Mutex
	mu    sync.RWMutex
	state *state
}

// NewStore creates a new empty in-memory store.
func NewStore() *Store {
	return &Store{state: newState()}
}

// InTx runs fn against a private snapshot of the store and publishes the
// snapshot only if fn succeeds.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, uow storage.UnitOfWork) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	tx := &Store{state: s.state.clone()}
	s.mu.RUnlock()

	if err := fn(ctx, tx); err != nil {
		return err
	}

	s.mu.Lock()
	s.state = tx.state
	s.mu.Unlock()
	return nil
}

func (s *Store) lock() {
	s.txMu.Lock()
	s.mu.Lock()
}

func (s *Store) unlock() {
	s.mu.Unlock()
	s.txMu.Unlock()
}

// load returns a copy of the record stored under id.
func load[T any](m map[string]*T, id string) (*T, error) {
	v, ok := m[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	c := *v
	return &c, nil
}

// save stores a copy of v under id, replacing any previous record.
func save[T any](m map[string]*T, id string, v *T) {
	c := *v
	m[id] = &c
}

// insert stores a copy of v under id unless the id is taken.
func insert[T any](m map[string]*T, id string, v *T) error {
	if _, exists := m[id]; exists {
		return storage.ErrDuplicateKey
	}
	save(m, id, v)
	return nil
}

// Verify interface compliance at compile time.
var _ storage.Database = (*Store)(nil)
