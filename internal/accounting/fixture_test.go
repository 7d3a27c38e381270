package accounting

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"yield-ledger/internal/chain/stub"
	"yield-ledger/internal/decimals"
	"yield-ledger/internal/domain"
	"yield-ledger/internal/storage"
	"yield-ledger/internal/storage/memory"
)

const (
	tokenAddr = "0x3fe7940616e5bc47b0775a0dccf6237893353bb4"
	usdcAddr  = "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"
	alice     = "0x00000000000000000000000000000000000a11ce"
	bob       = "0x0000000000000000000000000000000000000b0b"
	ref1      = "0x00000000000000000000000000000000000000e1"
	ref2      = "0x00000000000000000000000000000000000000e2"
)

// tokens returns n whole tokens in 18-decimal units.
func tokens(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), decimals.ScaleFactor(18))
}

// usd returns n whole underlying units in 6-decimal units.
func usd(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), decimals.ScaleFactor(6))
}

type fixture struct {
	t       *testing.T
	ctx     context.Context
	store   *memory.Store
	binding *stub.Binding
	token   *stub.Token
	proc    *Processor
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	binding := stub.NewBinding()
	tok := &stub.Token{
		Name:       "IdleUSDC v4 [Best yield]",
		Decimals:   18,
		Underlying: usdcAddr,
		Price:      usd(1),
		Fee:        big.NewInt(10_000),
		AvgPrices:  map[string]*big.Int{},
	}
	binding.Tokens[tokenAddr] = tok
	binding.Assets[usdcAddr] = &stub.Asset{Name: "USD Coin", Decimals: 6}

	return &fixture{
		t:       t,
		ctx:     context.Background(),
		store:   memory.NewStore(),
		binding: binding,
		token:   tok,
		proc:    NewProcessor(binding, cfg, nil),
	}
}

// apply runs ev in its own transaction, the way the runner does.
func (f *fixture) apply(ev *domain.Event) (*Result, error) {
	var res *Result
	err := f.store.InTx(f.ctx, func(ctx context.Context, uow storage.UnitOfWork) error {
		r, err := f.proc.Apply(ctx, uow, ev)
		res = r
		return err
	})
	return res, err
}

func (f *fixture) mustApply(ev *domain.Event) *Result {
	f.t.Helper()
	res, err := f.apply(ev)
	require.NoError(f.t, err)
	return res
}

func (f *fixture) getToken() *domain.Token {
	f.t.Helper()
	tok, err := f.store.GetToken(f.ctx, tokenAddr)
	require.NoError(f.t, err)
	return tok
}

func (f *fixture) getUserToken(user string) *domain.UserToken {
	f.t.Helper()
	ut, err := f.store.GetUserToken(f.ctx, domain.PairID(user, tokenAddr))
	require.NoError(f.t, err)
	return ut
}

func (f *fixture) getStats() *domain.TotalStats {
	f.t.Helper()
	st, err := f.store.GetTotalStats(f.ctx)
	require.NoError(f.t, err)
	return st
}

func transferEv(tx string, logIndex uint, block uint64, from, to string, value *big.Int) *domain.Event {
	return domain.WrapTransfer(&domain.TransferEvent{
		TokenAddress:   tokenAddr,
		From:           from,
		To:             to,
		Value:          value,
		BlockNumber:    block,
		BlockTimestamp: int64(1_600_000_000 + block*13),
		TxHash:         tx,
		LogIndex:       logIndex,
	}, 0)
}

func mintEv(tx string, logIndex uint, block uint64, to string, value *big.Int) *domain.Event {
	return transferEv(tx, logIndex, block, domain.ZeroAddress, to, value)
}

func redeemEv(tx string, logIndex uint, block uint64, from string, value *big.Int) *domain.Event {
	return transferEv(tx, logIndex, block, from, domain.ZeroAddress, value)
}

func referralEv(tx string, logIndex uint, block uint64, referrer string, amount *big.Int) *domain.Event {
	return domain.WrapReferral(&domain.ReferralEvent{
		TokenAddress:    tokenAddr,
		ReferrerAddress: referrer,
		Amount:          amount,
		BlockNumber:     block,
		BlockTimestamp:  int64(1_600_000_000 + block*13),
		TxHash:          tx,
		LogIndex:        logIndex,
	}, 0)
}

func rebalanceEv(tx string, logIndex uint, block uint64, amount *big.Int) *domain.Event {
	return domain.WrapRebalance(&domain.RebalanceEvent{
		TokenAddress:   tokenAddr,
		Amount:         amount,
		BlockNumber:    block,
		BlockTimestamp: int64(1_600_000_000 + block*13),
		TxHash:         tx,
		LogIndex:       logIndex,
	}, 0)
}
