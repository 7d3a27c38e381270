// Package accounting derives the ledger state of yield tokens from their
// on-chain events.
package accounting

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"yield-ledger/internal/chain"
	"yield-ledger/internal/domain"
	"yield-ledger/internal/storage"
)

// TransferClass is the classification of a transfer event.
type TransferClass string

const (
	ClassMint     TransferClass = "mint"
	ClassRedeem   TransferClass = "redeem"
	ClassTransfer TransferClass = "transfer"
)

// Classify maps a transfer to mint, redeem or peer transfer by its endpoints.
func Classify(from, to string) TransferClass {
	switch {
	case domain.IsZeroAddress(from):
		return ClassMint
	case domain.IsZeroAddress(to):
		return ClassRedeem
	default:
		return ClassTransfer
	}
}

// Result describes what applying one event did.
type Result struct {
	EventID string
	Kind    domain.EventKind

	// Class is set for transfers.
	Class TransferClass

	// Price is the accrual step run for transfers.
	Price *domain.PriceSnapshot

	// Allocations is the number of lending targets captured by a rebalance.
	Allocations int

	// Diagnostics are non-fatal problems. The event was still applied.
	Diagnostics []error
}

// Processor applies events to an entity store. It keeps no state between
// events; everything lives in the store.
type Processor struct {
	binding chain.Binding
	cfg     Config
	logger  *zap.Logger
}

// NewProcessor creates a processor reading contract state through binding.
func NewProcessor(binding chain.Binding, cfg Config, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		binding: binding,
		cfg:     cfg.withDefaults(),
		logger:  logger,
	}
}

// Apply applies a single event. Any returned error is fatal for the event and
// the caller must discard the writes made to store.
func (p *Processor) Apply(ctx context.Context, store storage.EntityStore, ev *domain.Event) (*Result, error) {
	s := &session{
		p:      p,
		store:  store,
		reader: p.binding.At(ev.Position.BlockNumber),
		logger: p.logger.With(zap.String("event_id", ev.ID()), zap.String("kind", string(ev.Kind))),
		result: &Result{EventID: ev.ID(), Kind: ev.Kind},
	}

	var err error
	switch {
	case ev.Kind == domain.EventKindTransfer && ev.Transfer != nil:
		err = s.applyTransfer(ctx, ev.Transfer)
	case ev.Kind == domain.EventKindReferral && ev.Referral != nil:
		err = s.applyReferral(ctx, ev.Referral)
	case ev.Kind == domain.EventKindRebalance && ev.Rebalance != nil:
		err = s.applyRebalance(ctx, ev.Rebalance)
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownEvent, ev.Kind)
	}
	if err != nil {
		return nil, err
	}
	return s.result, nil
}

// session is the working set of one event.
type session struct {
	p      *Processor
	store  storage.EntityStore
	reader chain.Reader
	logger *zap.Logger
	result *Result
}

func (s *session) diagnose(err error) {
	s.result.Diagnostics = append(s.result.Diagnostics, err)
}
