package accounting

import "errors"

var (
	// ErrOrphanReferral is reported (not returned) when a referral has no
	// preceding mint in its transaction.
	ErrOrphanReferral = errors.New("referral has no preceding mint in its transaction")

	// ErrReferralTokenMismatch is reported (not returned) when the mint a
	// referral binds to was of a different token than the referral's.
	ErrReferralTokenMismatch = errors.New("referral bound to a mint of another token")

	// ErrAllocationOverflow is returned when a token reports more lending
	// targets than Config.MaxAllocations.
	ErrAllocationOverflow = errors.New("allocation count exceeds configured maximum")

	// ErrNegativeBalance is returned when an event would drive a balance or
	// the total supply below zero. It means events are missing upstream.
	ErrNegativeBalance = errors.New("balance would become negative")

	// ErrUnknownEvent is returned for an event envelope with no payload.
	ErrUnknownEvent = errors.New("unknown event kind")
)
