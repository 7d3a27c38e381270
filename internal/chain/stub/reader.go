package stub

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"yield-ledger/internal/chain"
)

// Token is the contract state of a yield token.
type Token struct {
	Name           string
	Decimals       uint8
	Underlying     string
	Price          *big.Int
	Fee            *big.Int
	AvgPrices      map[string]*big.Int
	Allocations    []*big.Int
	LendingTargets []string

	// BlockPrices overrides Price for specific blocks.
	BlockPrices map[uint64]*big.Int

	// Unbounded makes the allocation getters answer every index.
	Unbounded bool
}

// Asset is the contract state of an underlying ERC-20.
type Asset struct {
	Name     string
	Decimals uint8
}

// Binding implements chain.Binding for testing.
type Binding struct {
	mu     sync.Mutex
	Tokens map[string]*Token
	Assets map[string]*Asset

	// Errors forces a method to fail, keyed by Reader method name.
	Errors map[string]error

	calls map[string]int
}

// NewBinding creates a new stub binding.
func NewBinding() *Binding {
	return &Binding{
		Tokens: make(map[string]*Token),
		Assets: make(map[string]*Asset),
		Errors: make(map[string]error),
		calls:  make(map[string]int),
	}
}

// At returns a reader for blockNumber.
func (b *Binding) At(blockNumber uint64) chain.Reader {
	return &reader{b: b, block: blockNumber}
}

// Calls returns how many times a Reader method was invoked.
func (b *Binding) Calls(method string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[method]
}

func (b *Binding) enter(method string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls[method]++
	return b.Errors[method]
}

func (b *Binding) token(addr string) (*Token, error) {
	t, ok := b.Tokens[addr]
	if !ok {
		return nil, fmt.Errorf("no yield token at %s: %w", addr, chain.ErrReverted)
	}
	return t, nil
}

type reader struct {
	b     *Binding
	block uint64
}

func (r *reader) CurrentPrice(_ context.Context, token string) (*big.Int, error) {
	if err := r.b.enter("CurrentPrice"); err != nil {
		return nil, err
	}
	t, err := r.b.token(token)
	if err != nil {
		return nil, err
	}
	if p, ok := t.BlockPrices[r.block]; ok {
		return new(big.Int).Set(p), nil
	}
	return new(big.Int).Set(t.Price), nil
}

func (r *reader) CurrentFee(_ context.Context, token string) (*big.Int, error) {
	if err := r.b.enter("CurrentFee"); err != nil {
		return nil, err
	}
	t, err := r.b.token(token)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(t.Fee), nil
}

func (r *reader) Decimals(_ context.Context, addr string) (uint8, error) {
	if err := r.b.enter("Decimals"); err != nil {
		return 0, err
	}
	if t, ok := r.b.Tokens[addr]; ok {
		return t.Decimals, nil
	}
	if a, ok := r.b.Assets[addr]; ok {
		return a.Decimals, nil
	}
	return 0, fmt.Errorf("no contract at %s: %w", addr, chain.ErrReverted)
}

func (r *reader) Name(_ context.Context, addr string) (string, error) {
	if err := r.b.enter("Name"); err != nil {
		return "", err
	}
	if t, ok := r.b.Tokens[addr]; ok {
		return t.Name, nil
	}
	if a, ok := r.b.Assets[addr]; ok {
		return a.Name, nil
	}
	return "", fmt.Errorf("no contract at %s: %w", addr, chain.ErrReverted)
}

func (r *reader) UnderlyingAddress(_ context.Context, token string) (string, error) {
	if err := r.b.enter("UnderlyingAddress"); err != nil {
		return "", err
	}
	t, err := r.b.token(token)
	if err != nil {
		return "", err
	}
	return t.Underlying, nil
}

func (r *reader) UserAveragePrice(_ context.Context, token, user string) (*big.Int, error) {
	if err := r.b.enter("UserAveragePrice"); err != nil {
		return nil, err
	}
	t, err := r.b.token(token)
	if err != nil {
		return nil, err
	}
	if p, ok := t.AvgPrices[user]; ok {
		return new(big.Int).Set(p), nil
	}
	return new(big.Int), nil
}

func (r *reader) AllocationAt(_ context.Context, token string, index int) (*big.Int, error) {
	if err := r.b.enter("AllocationAt"); err != nil {
		return nil, err
	}
	t, err := r.b.token(token)
	if err != nil {
		return nil, err
	}
	if t.Unbounded {
		return big.NewInt(int64(index)), nil
	}
	if index < 0 || index >= len(t.Allocations) {
		return nil, chain.ErrOutOfRange
	}
	return new(big.Int).Set(t.Allocations[index]), nil
}

func (r *reader) LendingTargetAt(_ context.Context, token string, index int) (string, error) {
	if err := r.b.enter("LendingTargetAt"); err != nil {
		return "", err
	}
	t, err := r.b.token(token)
	if err != nil {
		return "", err
	}
	if t.Unbounded {
		return fmt.Sprintf("0x%040x", index), nil
	}
	if index < 0 || index >= len(t.LendingTargets) {
		return "", chain.ErrOutOfRange
	}
	return t.LendingTargets[index], nil
}

var _ chain.Binding = (*Binding)(nil)
