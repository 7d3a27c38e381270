package stub

import (
	"context"
	"sync"

	"yield-ledger/internal/domain"
)

// EventSource returns fixed in-memory events for testing.
// Events can be intentionally unordered to test sorting.
// Implements ingestion.EventSource interface.
type EventSource struct {
	mu      sync.Mutex
	events  []*domain.Event
	head    uint64
	fetches [][2]uint64
	err     error
}

// NewEventSource creates a new stub source with the given events and chain head.
func NewEventSource(head uint64, events ...*domain.Event) *EventSource {
	return &EventSource{events: events, head: head}
}

// Fetch returns events whose block is within [from, to].
// Returns copies of the envelopes to prevent mutation.
func (s *EventSource) Fetch(_ context.Context, from, to uint64) ([]*domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.fetches = append(s.fetches, [2]uint64{from, to})
	if s.err != nil {
		return nil, s.err
	}

	var result []*domain.Event
	for _, ev := range s.events {
		if ev.Position.BlockNumber >= from && ev.Position.BlockNumber <= to {
			c := *ev
			result = append(result, &c)
		}
	}
	return result, nil
}

// Head returns the configured chain head.
func (s *EventSource) Head(context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.head, nil
}

// SetHead moves the chain head.
func (s *EventSource) SetHead(head uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.head = head
}

// Add appends events, as if new blocks were mined.
func (s *EventSource) Add(events ...*domain.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
}

// FailWith makes every later Fetch return err.
func (s *EventSource) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Fetches returns the block ranges requested so far.
func (s *EventSource) Fetches() [][2]uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][2]uint64(nil), s.fetches...)
}
