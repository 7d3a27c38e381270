package accounting

import (
	"fmt"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yield-ledger/internal/domain"
	"yield-ledger/internal/storage"
)

func TestClassify(t *testing.T) {
	assert.Equal(t, ClassMint, Classify(domain.ZeroAddress, alice))
	assert.Equal(t, ClassRedeem, Classify(alice, domain.ZeroAddress))
	assert.Equal(t, ClassTransfer, Classify(alice, bob))
	assert.Equal(t, ClassMint, Classify(domain.ZeroAddress, domain.ZeroAddress))
}

func TestMint(t *testing.T) {
	f := newFixture(t, Config{})

	res := f.mustApply(mintEv("0xAAA", 3, 10, alice, tokens(5)))
	assert.Equal(t, ClassMint, res.Class)
	assert.Equal(t, "0xaaa-3", res.EventID)

	assert.Equal(t, tokens(5), f.getUserToken(alice).Balance)
	assert.Equal(t, tokens(5), f.getToken().TotalSupply)
	assert.Equal(t, int64(1), f.getToken().UniqueUserCount)

	m, err := f.store.GetMint(f.ctx, "0xaaa-3")
	require.NoError(t, err)
	assert.Equal(t, alice, m.UserID)
	assert.Equal(t, tokens(5), m.Amount)
	assert.Equal(t, uint64(10), m.BlockHeight)

	st := f.getStats()
	assert.Equal(t, int64(1), st.TotalMints)
	assert.Equal(t, int64(1), st.TotalUniqueUsers)
}

func TestRedeem_ProfitAndFee(t *testing.T) {
	f := newFixture(t, Config{})
	f.mustApply(mintEv("0xaaa", 1, 10, alice, tokens(100)))

	f.token.Price = big.NewInt(1_200_000)
	f.token.AvgPrices[alice] = usd(1)

	res := f.mustApply(redeemEv("0xbbb", 1, 11, alice, tokens(100)))
	assert.Equal(t, ClassRedeem, res.Class)

	r, err := f.store.GetRedeem(f.ctx, "0xbbb-1")
	require.NoError(t, err)
	assert.Equal(t, usd(20), r.Profit)
	assert.Equal(t, usd(2), r.Fee)

	ut := f.getUserToken(alice)
	assert.Zero(t, ut.Balance.Sign())
	assert.Equal(t, usd(20), ut.TotalProfitRedeemed)
	assert.Equal(t, usd(2), ut.TotalFeePaidInUnderlying)

	tok := f.getToken()
	assert.Zero(t, tok.TotalSupply.Sign())
	assert.Equal(t, usd(2), tok.TotalFeePaidInUnderlying)
	assert.Equal(t, int64(1), f.getStats().TotalRedeems)
}

func TestRedeem_AveragePriceAboveCurrent(t *testing.T) {
	f := newFixture(t, Config{})
	f.mustApply(mintEv("0xaaa", 1, 10, alice, tokens(10)))
	f.token.AvgPrices[alice] = big.NewInt(1_500_000)

	f.mustApply(redeemEv("0xbbb", 1, 11, alice, tokens(10)))

	r, err := f.store.GetRedeem(f.ctx, "0xbbb-1")
	require.NoError(t, err)
	assert.Zero(t, r.Profit.Sign())
	assert.Zero(t, r.Fee.Sign())
}

func TestRedeem_OverdrawIsFatal(t *testing.T) {
	f := newFixture(t, Config{})
	f.mustApply(mintEv("0xaaa", 1, 10, alice, tokens(1)))

	_, err := f.apply(redeemEv("0xbbb", 1, 11, alice, tokens(2)))
	require.ErrorIs(t, err, ErrNegativeBalance)

	_, err = f.store.GetRedeem(f.ctx, "0xbbb-1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.Equal(t, tokens(1), f.getUserToken(alice).Balance)
}

func TestPeerTransfer(t *testing.T) {
	f := newFixture(t, Config{})
	f.mustApply(mintEv("0xaaa", 1, 10, alice, tokens(10)))

	res := f.mustApply(transferEv("0xbbb", 1, 11, alice, bob, tokens(4)))
	assert.Equal(t, ClassTransfer, res.Class)

	assert.Equal(t, tokens(6), f.getUserToken(alice).Balance)
	assert.Equal(t, tokens(4), f.getUserToken(bob).Balance)
	assert.Equal(t, tokens(10), f.getToken().TotalSupply)
	assert.Equal(t, int64(2), f.getToken().UniqueUserCount)

	tr, err := f.store.GetTransfer(f.ctx, "0xbbb-1")
	require.NoError(t, err)
	assert.Equal(t, alice, tr.FromUserID)
	assert.Equal(t, bob, tr.ToUserID)

	st := f.getStats()
	assert.Equal(t, int64(1), st.TotalTransfers)
	assert.Equal(t, int64(2), st.TotalUniqueUsers)
}

func TestPeerTransfer_Overdraw(t *testing.T) {
	f := newFixture(t, Config{})
	f.mustApply(mintEv("0xaaa", 1, 10, alice, tokens(1)))

	_, err := f.apply(transferEv("0xbbb", 1, 11, alice, bob, tokens(3)))
	require.ErrorIs(t, err, ErrNegativeBalance)

	_, err = f.store.GetUser(f.ctx, bob)
	assert.ErrorIs(t, err, storage.ErrNotFound, "receiver creation rolled back with the event")
}

func TestPeerTransfer_ToSelf(t *testing.T) {
	f := newFixture(t, Config{})
	f.mustApply(mintEv("0xaaa", 1, 10, alice, tokens(3)))

	f.mustApply(transferEv("0xbbb", 1, 11, alice, alice, tokens(3)))

	assert.Equal(t, tokens(3), f.getUserToken(alice).Balance)
	_, err := f.store.GetTransfer(f.ctx, "0xbbb-1")
	assert.NoError(t, err)
}

func TestPeerTransfer_AttributionStaysWithSender(t *testing.T) {
	f := newFixture(t, Config{})
	f.mustApply(mintEv("0xaaa", 1, 10, alice, tokens(10)))
	f.mustApply(referralEv("0xaaa", 2, 10, ref1, usd(10)))

	f.mustApply(transferEv("0xbbb", 1, 11, alice, bob, tokens(10)))

	_, err := f.store.GetReferrerUserToken(f.ctx, domain.ReferralAttributionID(bob, tokenAddr))
	assert.ErrorIs(t, err, storage.ErrNotFound)

	rut, err := f.store.GetReferrerUserToken(f.ctx, domain.ReferralAttributionID(alice, tokenAddr))
	require.NoError(t, err)
	assert.Equal(t, tokens(10), rut.Balance)
}

// Supply must equal the sum of balances and no balance may go negative,
// whatever mix of events is applied.
func TestSupplyMatchesBalances(t *testing.T) {
	f := newFixture(t, Config{})
	carol := "0x000000000000000000000000000000000000ca01"

	events := []*domain.Event{
		mintEv("0x01", 1, 10, alice, tokens(100)),
		mintEv("0x02", 1, 11, bob, tokens(40)),
		transferEv("0x03", 1, 12, alice, carol, tokens(30)),
		redeemEv("0x04", 1, 13, bob, tokens(15)),
		transferEv("0x05", 1, 14, carol, bob, tokens(30)),
		mintEv("0x06", 4, 15, carol, tokens(7)),
		redeemEv("0x07", 1, 16, alice, tokens(70)),
		redeemEv("0x08", 1, 17, bob, tokens(55)),
	}

	for i, ev := range events {
		f.token.Price = new(big.Int).Add(usd(1), big.NewInt(int64(i*1000)))
		f.mustApply(ev)

		positions, err := f.store.ListUserTokensByToken(f.ctx, tokenAddr)
		require.NoError(t, err)

		sum := new(big.Int)
		for _, ut := range positions {
			assert.GreaterOrEqual(t, ut.Balance.Sign(), 0, fmt.Sprintf("%s after event %d", ut.ID, i))
			sum.Add(sum, ut.Balance)
		}
		assert.Equal(t, 0, f.getToken().TotalSupply.Cmp(sum), "after event %d", i)
	}

	assert.Equal(t, int64(3), f.getToken().UniqueUserCount)
	st := f.getStats()
	assert.Equal(t, int64(3), st.TotalMints)
	assert.Equal(t, int64(3), st.TotalRedeems)
	assert.Equal(t, int64(2), st.TotalTransfers)
	assert.Equal(t, int64(3), st.TotalUniqueUsers)
}
