package domain

import "math/big"

// EventKind tags the payload carried by an Event.
type EventKind string

const (
	EventKindTransfer  EventKind = "transfer"
	EventKindReferral  EventKind = "referral"
	EventKindRebalance EventKind = "rebalance"
)

// Position locates a log in chain order: block, then transaction, then log.
type Position struct {
	BlockNumber uint64
	TxIndex     uint
	TxHash      string
	LogIndex    uint
}

// Compare returns -1, 0 or 1 when p sorts before, equal to or after o.
// TxHash is only used as a tie-breaker when TxIndex values collide.
func (p Position) Compare(o Position) int {
	switch {
	case p.BlockNumber != o.BlockNumber:
		return cmpUint64(p.BlockNumber, o.BlockNumber)
	case p.TxIndex != o.TxIndex:
		return cmpUint64(uint64(p.TxIndex), uint64(o.TxIndex))
	case p.TxHash != o.TxHash:
		if p.TxHash < o.TxHash {
			return -1
		}
		return 1
	case p.LogIndex != o.LogIndex:
		return cmpUint64(uint64(p.LogIndex), uint64(o.LogIndex))
	}
	return 0
}

func cmpUint64(a, b uint64) int {
	if a < b {
		return -1
	}
	return 1
}

// TransferEvent is an ERC-20 Transfer emitted by a yield token.
type TransferEvent struct {
	TokenAddress   string
	From           string
	To             string
	Value          *big.Int
	BlockNumber    uint64
	BlockTimestamp int64 // unix seconds
	TxHash         string
	LogIndex       uint
}

// ReferralEvent is emitted by the token after a referred mint.
// Amount is the referred deposit in underlying units.
type ReferralEvent struct {
	TokenAddress    string
	ReferrerAddress string
	Amount          *big.Int
	BlockNumber     uint64
	BlockTimestamp  int64
	TxHash          string
	LogIndex        uint
}

// RebalanceEvent is emitted when the token reallocates its underlying.
type RebalanceEvent struct {
	TokenAddress   string
	Amount         *big.Int
	BlockNumber    uint64
	BlockTimestamp int64
	TxHash         string
	LogIndex       uint
}

// Event is the envelope delivered to the accounting processor.
// Exactly one of Transfer, Referral or Rebalance is set, matching Kind.
type Event struct {
	Kind     EventKind
	Position Position

	Transfer  *TransferEvent
	Referral  *ReferralEvent
	Rebalance *RebalanceEvent
}

// ID returns the audit key of the log that produced the event.
func (e *Event) ID() string {
	return EventID(e.Position.TxHash, e.Position.LogIndex)
}

// TokenAddress returns the emitting token contract.
func (e *Event) TokenAddress() string {
	switch e.Kind {
	case EventKindTransfer:
		if e.Transfer != nil {
			return e.Transfer.TokenAddress
		}
	case EventKindReferral:
		if e.Referral != nil {
			return e.Referral.TokenAddress
		}
	case EventKindRebalance:
		if e.Rebalance != nil {
			return e.Rebalance.TokenAddress
		}
	}
	return ""
}

// Checkpoint records how far the indexer has durably applied the stream.
type Checkpoint struct {
	LastEvent      Position // last applied event; zero value when none yet
	HasEvent       bool
	ScannedThrough uint64 // highest block fully scanned
}

// WrapTransfer builds the envelope of a transfer log at txIndex within its block.
func WrapTransfer(t *TransferEvent, txIndex uint) *Event {
	return &Event{
		Kind:     EventKindTransfer,
		Position: Position{BlockNumber: t.BlockNumber, TxIndex: txIndex, TxHash: t.TxHash, LogIndex: t.LogIndex},
		Transfer: t,
	}
}

// WrapReferral builds the envelope of a referral log at txIndex within its block.
func WrapReferral(r *ReferralEvent, txIndex uint) *Event {
	return &Event{
		Kind:     EventKindReferral,
		Position: Position{BlockNumber: r.BlockNumber, TxIndex: txIndex, TxHash: r.TxHash, LogIndex: r.LogIndex},
		Referral: r,
	}
}

// WrapRebalance builds the envelope of a rebalance log at txIndex within its block.
func WrapRebalance(r *RebalanceEvent, txIndex uint) *Event {
	return &Event{
		Kind:      EventKindRebalance,
		Position:  Position{BlockNumber: r.BlockNumber, TxIndex: txIndex, TxHash: r.TxHash, LogIndex: r.LogIndex},
		Rebalance: r,
	}
}
