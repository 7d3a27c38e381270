package accounting

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"yield-ledger/internal/domain"
	"yield-ledger/internal/storage"
)

func TestReferral_BindsToPrecedingMint(t *testing.T) {
	f := newFixture(t, Config{})
	f.mustApply(mintEv("0xaaa", 2, 10, bob, tokens(1)))
	f.mustApply(mintEv("0xaaa", 5, 10, alice, tokens(50)))

	res := f.mustApply(referralEv("0xaaa", 7, 10, ref1, usd(50)))
	assert.Empty(t, res.Diagnostics)

	ref, err := f.store.GetReferral(f.ctx, "0xaaa-7")
	require.NoError(t, err)
	assert.False(t, ref.Orphan)
	assert.Equal(t, "0xaaa-5", ref.MintID)
	assert.Equal(t, alice, ref.UserID)
	assert.Equal(t, tokenAddr, ref.TokenID)
	assert.Equal(t, ref1, ref.ReferrerID)
	assert.Equal(t, usd(50), ref.ReferredAmount)

	referrer, err := f.store.GetReferrer(f.ctx, ref1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), referrer.TotalReferralCount)

	rt, err := f.store.GetReferrerToken(f.ctx, domain.PairID(ref1, tokenAddr))
	require.NoError(t, err)
	assert.Equal(t, int64(1), rt.ReferralCount)
	assert.Equal(t, usd(50), rt.ReferralTotal)
	assert.Equal(t, tokens(50), rt.TotalBalance)

	rut, err := f.store.GetReferrerUserToken(f.ctx, domain.ReferralAttributionID(alice, tokenAddr))
	require.NoError(t, err)
	assert.Equal(t, ref1, rut.ReferrerID)
	assert.Equal(t, tokens(50), rut.Balance)

	assert.Equal(t, int64(1), f.getStats().TotalReferrals)
}

func TestReferral_Orphan(t *testing.T) {
	f := newFixture(t, Config{})
	f.mustApply(mintEv("0xaaa", 1, 10, alice, tokens(5)))

	res := f.mustApply(referralEv("0xbbb", 3, 11, ref1, usd(5)))
	require.Len(t, res.Diagnostics, 1)
	assert.ErrorIs(t, res.Diagnostics[0], ErrOrphanReferral)

	ref, err := f.store.GetReferral(f.ctx, "0xbbb-3")
	require.NoError(t, err)
	assert.True(t, ref.Orphan)
	assert.Empty(t, ref.MintID)
	assert.Empty(t, ref.UserID)
	assert.Equal(t, ref1, ref.ReferrerID)

	_, err = f.store.GetReferrer(f.ctx, ref1)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.Zero(t, f.getStats().TotalReferrals)
}

func TestReferral_AtLogIndexZeroIsOrphan(t *testing.T) {
	f := newFixture(t, Config{})

	res := f.mustApply(referralEv("0xccc", 0, 11, ref1, usd(5)))
	require.Len(t, res.Diagnostics, 1)
	assert.ErrorIs(t, res.Diagnostics[0], ErrOrphanReferral)
}

func TestReferral_MintAfterReferralNotMatched(t *testing.T) {
	f := newFixture(t, Config{})
	f.mustApply(mintEv("0xaaa", 9, 10, alice, tokens(5)))

	res := f.mustApply(referralEv("0xaaa", 4, 10, ref1, usd(5)))
	assert.Len(t, res.Diagnostics, 1)
}

func TestReferral_TwoReferralsMatchSameMint(t *testing.T) {
	f := newFixture(t, Config{})
	f.mustApply(mintEv("0xaaa", 5, 10, alice, tokens(20)))

	f.mustApply(referralEv("0xaaa", 7, 10, ref1, usd(20)))
	f.mustApply(referralEv("0xaaa", 8, 10, ref1, usd(20)))

	for _, id := range []string{"0xaaa-7", "0xaaa-8"} {
		ref, err := f.store.GetReferral(f.ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "0xaaa-5", ref.MintID)
	}

	rt, err := f.store.GetReferrerToken(f.ctx, domain.PairID(ref1, tokenAddr))
	require.NoError(t, err)
	assert.Equal(t, int64(2), rt.ReferralCount)
	assert.Equal(t, tokens(40), rt.TotalBalance)
	assert.Equal(t, int64(2), f.getStats().TotalReferrals)
}

func TestReferral_FirstReferrerKeepsPosition(t *testing.T) {
	f := newFixture(t, Config{})
	f.mustApply(mintEv("0xaaa", 1, 10, alice, tokens(10)))
	f.mustApply(referralEv("0xaaa", 2, 10, ref1, usd(10)))

	f.mustApply(mintEv("0xbbb", 1, 11, alice, tokens(5)))
	f.mustApply(referralEv("0xbbb", 2, 11, ref2, usd(5)))

	rut, err := f.store.GetReferrerUserToken(f.ctx, domain.ReferralAttributionID(alice, tokenAddr))
	require.NoError(t, err)
	assert.Equal(t, ref1, rut.ReferrerID)
	assert.Equal(t, tokens(15), rut.Balance)

	owner, err := f.store.GetReferrerToken(f.ctx, domain.PairID(ref1, tokenAddr))
	require.NoError(t, err)
	assert.Equal(t, tokens(15), owner.TotalBalance)
	assert.Equal(t, int64(1), owner.ReferralCount)

	late, err := f.store.GetReferrerToken(f.ctx, domain.PairID(ref2, tokenAddr))
	require.NoError(t, err)
	assert.Equal(t, int64(1), late.ReferralCount)
	assert.Equal(t, usd(5), late.ReferralTotal)
	assert.Zero(t, late.TotalBalance.Sign())
}

func TestRedeem_DrawsDownReferralBalance(t *testing.T) {
	f := newFixture(t, Config{})
	f.token.AvgPrices[alice] = usd(1)

	f.mustApply(mintEv("0xaaa", 1, 10, alice, tokens(100)))
	f.mustApply(referralEv("0xaaa", 2, 10, ref1, usd(100)))
	f.mustApply(mintEv("0xbbb", 1, 11, alice, tokens(50)))

	rutID := domain.ReferralAttributionID(alice, tokenAddr)
	rtID := domain.PairID(ref1, tokenAddr)

	// Partial redemption below the attributed amount.
	f.token.Price = usd(2)
	f.mustApply(redeemEv("0xccc", 1, 12, alice, tokens(40)))

	rut, err := f.store.GetReferrerUserToken(f.ctx, rutID)
	require.NoError(t, err)
	assert.Equal(t, tokens(60), rut.Balance)

	rt, err := f.store.GetReferrerToken(f.ctx, rtID)
	require.NoError(t, err)
	assert.Equal(t, tokens(60), rt.TotalBalance)
	assert.Equal(t, usd(40), rt.TotalProfitEarnedInUnderlying)

	// Redeeming more than is left attributed only drains what is left.
	f.mustApply(redeemEv("0xddd", 1, 13, alice, tokens(90)))

	rut, err = f.store.GetReferrerUserToken(f.ctx, rutID)
	require.NoError(t, err)
	assert.Zero(t, rut.Balance.Sign())

	rt, err = f.store.GetReferrerToken(f.ctx, rtID)
	require.NoError(t, err)
	assert.Zero(t, rt.TotalBalance.Sign())
	assert.Equal(t, usd(100), rt.TotalProfitEarnedInUnderlying)

	// Nothing left to draw down.
	f.mustApply(redeemEv("0xeee", 1, 14, alice, tokens(20)))
	rut, err = f.store.GetReferrerUserToken(f.ctx, rutID)
	require.NoError(t, err)
	assert.Zero(t, rut.Balance.Sign())
	assert.Zero(t, f.getUserToken(alice).Balance.Sign())
}

func TestReferral_MintOfOtherTokenIsReported(t *testing.T) {
	const otherAddr = "0x5274891bec421b39d23760c04a6755ecb444797c"

	f := newFixture(t, Config{})
	other := *f.token
	other.AvgPrices = map[string]*big.Int{}
	f.binding.Tokens[otherAddr] = &other

	core, logs := observer.New(zap.WarnLevel)
	f.proc = NewProcessor(f.binding, Config{}, zap.New(core))

	mint := mintEv("0xaaa", 2, 10, alice, tokens(3))
	mint.Transfer.TokenAddress = otherAddr
	f.mustApply(mint)

	res := f.mustApply(referralEv("0xaaa", 4, 10, ref1, usd(3)))
	require.Len(t, res.Diagnostics, 1)
	assert.ErrorIs(t, res.Diagnostics[0], ErrReferralTokenMismatch)

	warnings := logs.FilterMessage("referral bound to a mint of another token").All()
	require.Len(t, warnings, 1)
	assert.Equal(t, otherAddr, warnings[0].ContextMap()["mint_token"])
	assert.Equal(t, tokenAddr, warnings[0].ContextMap()["referral_token"])

	// The binding itself still follows transaction order.
	ref, err := f.store.GetReferral(f.ctx, "0xaaa-4")
	require.NoError(t, err)
	assert.Equal(t, "0xaaa-2", ref.MintID)
	assert.Equal(t, tokenAddr, ref.TokenID)
	assert.Equal(t, int64(1), f.getStats().TotalReferrals)
}
