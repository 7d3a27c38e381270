package ingestion

import (
	"errors"
	"sort"

	"yield-ledger/internal/domain"
)

// ErrInvalidOrdering is returned when events are not properly ordered.
var ErrInvalidOrdering = errors.New("events are not in deterministic order")

// SortEvents orders events by (block ASC, tx_index ASC, log_index ASC).
// This is the order in which the chain emitted them.
func SortEvents(events []*domain.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Position.Compare(events[j].Position) < 0
	})
}

// ValidateOrdering checks that events are strictly increasing by position.
// Two events at the same position are a duplicate and also fail.
func ValidateOrdering(events []*domain.Event) error {
	for i := 1; i < len(events); i++ {
		if events[i-1].Position.Compare(events[i].Position) >= 0 {
			return ErrInvalidOrdering
		}
	}
	return nil
}
