package ingestion

import (
	"context"

	"yield-ledger/internal/domain"
)

// EventSource provides decoded ledger events from the chain.
type EventSource interface {
	// Fetch returns events emitted within blocks [from, to] (inclusive).
	// Events may be unordered; the Runner enforces deterministic ordering.
	Fetch(ctx context.Context, from, to uint64) ([]*domain.Event, error)

	// Head returns the number of the latest block.
	Head(ctx context.Context) (uint64, error)
}
