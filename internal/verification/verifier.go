// Package verification checks a ledger for internal consistency and against
// a fresh replay of the same event range.
package verification

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"yield-ledger/internal/domain"
	"yield-ledger/internal/storage"
)

// FieldDivergence represents a mismatch between an expected and a stored value.
type FieldDivergence struct {
	Field    string // field name, qualified by record id when not the token itself
	Expected interface{}
	Actual   interface{}
}

// TokenResult contains the result of verifying a single token.
type TokenResult struct {
	TokenID     string
	Match       bool
	Positions   int
	Divergences []FieldDivergence
}

// Report contains results for a set of tokens.
type Report struct {
	TotalTokens     int
	MatchedTokens   int
	DivergentTokens int
	Results         []TokenResult
}

func (r *Report) add(res TokenResult) {
	r.TotalTokens++
	r.Results = append(r.Results, res)
	if res.Match {
		r.MatchedTokens++
	} else {
		r.DivergentTokens++
	}
}

// Verifier checks the balance invariants of stored tokens:
//   - TotalSupply equals the sum of position balances
//   - UniqueUserCount equals the number of positions
//   - no position or attribution balance is negative
//   - each ReferrerToken.TotalBalance equals the sum of the attributions it owns
type Verifier struct {
	store storage.EntityStore
}

// NewVerifier creates a verifier over store.
func NewVerifier(store storage.EntityStore) *Verifier {
	return &Verifier{store: store}
}

// VerifyToken checks one token. A token that was never indexed is reported
// as an error.
func (v *Verifier) VerifyToken(ctx context.Context, tokenID string) (*TokenResult, error) {
	tokenID = domain.NormalizeAddress(tokenID)

	token, err := v.store.GetToken(ctx, tokenID)
	if err != nil {
		return nil, fmt.Errorf("load token %s: %w", tokenID, err)
	}
	positions, err := v.store.ListUserTokensByToken(ctx, tokenID)
	if err != nil {
		return nil, fmt.Errorf("list positions of %s: %w", tokenID, err)
	}

	var divergences []FieldDivergence
	supply := new(big.Int)
	owned := make(map[string]*big.Int) // ReferrerTokenID -> attributed balance

	for _, ut := range positions {
		if orZero(ut.Balance).Sign() < 0 {
			divergences = append(divergences, FieldDivergence{
				Field:    "Balance:" + ut.ID,
				Expected: "non-negative",
				Actual:   ut.Balance.String(),
			})
		}
		supply.Add(supply, orZero(ut.Balance))

		rut, err := v.store.GetReferrerUserToken(ctx, domain.ReferralAttributionID(ut.UserID, tokenID))
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load attribution of %s: %w", ut.ID, err)
		}
		if orZero(rut.Balance).Sign() < 0 {
			divergences = append(divergences, FieldDivergence{
				Field:    "Balance:" + rut.ID,
				Expected: "non-negative",
				Actual:   rut.Balance.String(),
			})
		}
		sum, ok := owned[rut.ReferrerTokenID]
		if !ok {
			sum = new(big.Int)
			owned[rut.ReferrerTokenID] = sum
		}
		sum.Add(sum, orZero(rut.Balance))
	}

	if !bigEqual(supply, token.TotalSupply) {
		divergences = append(divergences, FieldDivergence{
			Field:    "TotalSupply",
			Expected: supply.String(),
			Actual:   orZero(token.TotalSupply).String(),
		})
	}
	if int64(len(positions)) != token.UniqueUserCount {
		divergences = append(divergences, FieldDivergence{
			Field:    "UniqueUserCount",
			Expected: int64(len(positions)),
			Actual:   token.UniqueUserCount,
		})
	}

	for _, id := range sortedKeys(owned) {
		rt, err := v.store.GetReferrerToken(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load referrer token %s: %w", id, err)
		}
		if !bigEqual(owned[id], rt.TotalBalance) {
			divergences = append(divergences, FieldDivergence{
				Field:    "TotalBalance:" + id,
				Expected: owned[id].String(),
				Actual:   orZero(rt.TotalBalance).String(),
			})
		}
	}

	return &TokenResult{
		TokenID:     tokenID,
		Match:       len(divergences) == 0,
		Positions:   len(positions),
		Divergences: divergences,
	}, nil
}

// VerifyAll verifies each token. A token that cannot be loaded is recorded as
// a divergent result rather than aborting the run.
func (v *Verifier) VerifyAll(ctx context.Context, tokenIDs []string) (*Report, error) {
	report := &Report{Results: make([]TokenResult, 0, len(tokenIDs))}

	for _, id := range tokenIDs {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		res, err := v.VerifyToken(ctx, id)
		if err != nil {
			report.add(TokenResult{
				TokenID:     domain.NormalizeAddress(id),
				Divergences: []FieldDivergence{{Field: "Error", Actual: err.Error()}},
			})
			continue
		}
		report.add(*res)
	}

	return report, nil
}
