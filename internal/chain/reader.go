// Package chain reads yield token state from the contracts at a given block.
package chain

import (
	"context"
	"errors"
	"math/big"
)

var (
	// ErrReverted is returned when a contract call reverts.
	ErrReverted = errors.New("contract call reverted")

	// ErrOutOfRange is returned by the allocation getters past the last lending target.
	ErrOutOfRange = errors.New("allocation index out of range")
)

// Reader exposes the contract getters the accounting core depends on.
// Every call observes chain state as of a single block.
type Reader interface {
	// CurrentPrice returns the token price in underlying units per whole token.
	CurrentPrice(ctx context.Context, token string) (*big.Int, error)

	// CurrentFee returns the protocol fee in parts per 100,000.
	CurrentFee(ctx context.Context, token string) (*big.Int, error)

	// Decimals works for both the yield token and its underlying ERC-20.
	Decimals(ctx context.Context, addr string) (uint8, error)

	// Name works for both the yield token and its underlying ERC-20.
	Name(ctx context.Context, addr string) (string, error)

	// UnderlyingAddress returns the reserve asset the token is a claim on.
	UnderlyingAddress(ctx context.Context, token string) (string, error)

	// UserAveragePrice returns the user's average entry price.
	UserAveragePrice(ctx context.Context, token, user string) (*big.Int, error)

	// AllocationAt returns the amount placed with the index-th lending target.
	// Returns ErrOutOfRange past the last target.
	AllocationAt(ctx context.Context, token string, index int) (*big.Int, error)

	// LendingTargetAt returns the index-th lending target address.
	// Returns ErrOutOfRange past the last target.
	LendingTargetAt(ctx context.Context, token string, index int) (string, error)
}

// Binding hands out readers pinned to a block.
type Binding interface {
	At(blockNumber uint64) Reader
}
