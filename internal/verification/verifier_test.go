package verification

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yield-ledger/internal/domain"
	"yield-ledger/internal/storage/memory"
)

const (
	tokenAddr = "0x3fe7940616e5bc47b0775a0dccf6237893353bb4"
	alice     = "0x00000000000000000000000000000000000a11ce"
	bob       = "0x0000000000000000000000000000000000000b0b"
	referrer  = "0x00000000000000000000000000000000000000e1"
)

// seedLedger writes a consistent ledger: alice holds 6 (attributed to the
// referrer), bob holds 4.
func seedLedger(t *testing.T) *memory.Store {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore()

	require.NoError(t, store.SaveToken(ctx, &domain.Token{
		ID:              tokenAddr,
		Address:         tokenAddr,
		TotalSupply:     big.NewInt(10),
		UniqueUserCount: 2,
	}))
	for user, balance := range map[string]int64{alice: 6, bob: 4} {
		require.NoError(t, store.SaveUserToken(ctx, &domain.UserToken{
			ID:      domain.PairID(user, tokenAddr),
			UserID:  user,
			TokenID: tokenAddr,
			Balance: big.NewInt(balance),
		}))
	}

	rtID := domain.PairID(referrer, tokenAddr)
	require.NoError(t, store.SaveReferrerToken(ctx, &domain.ReferrerToken{
		ID:           rtID,
		ReferrerID:   referrer,
		TokenID:      tokenAddr,
		TotalBalance: big.NewInt(6),
	}))
	require.NoError(t, store.SaveReferrerUserToken(ctx, &domain.ReferrerUserToken{
		ID:              domain.ReferralAttributionID(alice, tokenAddr),
		ReferrerID:      referrer,
		ReferrerTokenID: rtID,
		UserID:          alice,
		TokenID:         tokenAddr,
		Balance:         big.NewInt(6),
	}))
	return store
}

func TestVerifier_ConsistentLedger(t *testing.T) {
	store := seedLedger(t)

	res, err := NewVerifier(store).VerifyToken(context.Background(), tokenAddr)
	require.NoError(t, err)
	assert.True(t, res.Match, "divergences: %v", res.Divergences)
	assert.Equal(t, 2, res.Positions)
}

func TestVerifier_DetectsBrokenInvariants(t *testing.T) {
	store := seedLedger(t)
	ctx := context.Background()

	tok, err := store.GetToken(ctx, tokenAddr)
	require.NoError(t, err)
	tok.TotalSupply = big.NewInt(11)
	tok.UniqueUserCount = 3
	require.NoError(t, store.SaveToken(ctx, tok))

	rt, err := store.GetReferrerToken(ctx, domain.PairID(referrer, tokenAddr))
	require.NoError(t, err)
	rt.TotalBalance = big.NewInt(5)
	require.NoError(t, store.SaveReferrerToken(ctx, rt))

	res, err := NewVerifier(store).VerifyToken(ctx, tokenAddr)
	require.NoError(t, err)
	assert.False(t, res.Match)

	fields := make(map[string]FieldDivergence)
	for _, d := range res.Divergences {
		fields[d.Field] = d
	}
	require.Len(t, fields, 3)
	assert.Equal(t, "10", fields["TotalSupply"].Expected)
	assert.Equal(t, "11", fields["TotalSupply"].Actual)
	assert.Equal(t, int64(2), fields["UniqueUserCount"].Expected)
	assert.Equal(t, "6", fields["TotalBalance:"+rt.ID].Expected)
}

func TestVerifier_VerifyAllRecordsMissingToken(t *testing.T) {
	store := seedLedger(t)

	report, err := NewVerifier(store).VerifyAll(context.Background(), []string{
		tokenAddr,
		"0x5274891BEC421B39D23760C04A6755ECB444797C",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, report.TotalTokens)
	assert.Equal(t, 1, report.MatchedTokens)
	assert.Equal(t, 1, report.DivergentTokens)

	missing := report.Results[1]
	assert.Equal(t, "0x5274891bec421b39d23760c04a6755ecb444797c", missing.TokenID)
	require.Len(t, missing.Divergences, 1)
	assert.Equal(t, "Error", missing.Divergences[0].Field)
}

func TestCompareTokens(t *testing.T) {
	stored := &domain.Token{ID: tokenAddr, Name: "IdleDAI", LastPrice: big.NewInt(100), TotalRebalances: 1}
	same := &domain.Token{ID: tokenAddr, Name: "IdleDAI", LastPrice: big.NewInt(100), TotalRebalances: 1, TotalSupply: new(big.Int)}
	assert.Empty(t, CompareTokens(stored, same), "nil and zero quantities are equal")

	other := &domain.Token{ID: tokenAddr, Name: "IdleDAI", LastPrice: big.NewInt(101), TotalRebalances: 2}
	divs := CompareTokens(stored, other)
	require.Len(t, divs, 2)
	assert.Equal(t, FieldDivergence{Field: "LastPrice", Expected: "100", Actual: "101"}, divs[0])
	assert.Equal(t, FieldDivergence{Field: "TotalRebalances", Expected: int64(1), Actual: int64(2)}, divs[1])
}

func TestCompareUserTokens(t *testing.T) {
	id := domain.PairID(alice, tokenAddr)
	stored := &domain.UserToken{ID: id, Balance: big.NewInt(5)}
	replayed := &domain.UserToken{ID: id, Balance: big.NewInt(5), TotalProfitRedeemed: big.NewInt(3)}

	divs := CompareUserTokens(stored, replayed)
	require.Len(t, divs, 1)
	assert.Equal(t, id+".TotalProfitRedeemed", divs[0].Field)
}
