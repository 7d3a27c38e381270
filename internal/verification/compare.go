package verification

import (
	"math/big"
	"sort"

	"yield-ledger/internal/domain"
)

// CompareTokens returns the accounting fields of replayed that differ from stored.
func CompareTokens(stored, replayed *domain.Token) []FieldDivergence {
	var d diff
	d.str("Name", stored.Name, replayed.Name)
	d.val("Decimals", stored.Decimals, replayed.Decimals)
	d.str("UnderlyingAddress", stored.UnderlyingAddress, replayed.UnderlyingAddress)
	d.val("UnderlyingDecimals", stored.UnderlyingDecimals, replayed.UnderlyingDecimals)
	d.big("LastPrice", stored.LastPrice, replayed.LastPrice)
	d.val("LastPriceTimestamp", stored.LastPriceTimestamp, replayed.LastPriceTimestamp)
	d.big("Fee", stored.Fee, replayed.Fee)
	d.big("TotalSupply", stored.TotalSupply, replayed.TotalSupply)
	d.val("UniqueUserCount", stored.UniqueUserCount, replayed.UniqueUserCount)
	d.big("TotalFeeGeneratedInUnderlying", stored.TotalFeeGeneratedInUnderlying, replayed.TotalFeeGeneratedInUnderlying)
	d.big("TotalFeePaidInUnderlying", stored.TotalFeePaidInUnderlying, replayed.TotalFeePaidInUnderlying)
	d.val("TotalRebalances", stored.TotalRebalances, replayed.TotalRebalances)
	return d.out
}

// CompareUserTokens returns the fields of replayed that differ from stored,
// prefixed with the position id.
func CompareUserTokens(stored, replayed *domain.UserToken) []FieldDivergence {
	d := diff{prefix: stored.ID + "."}
	d.big("Balance", stored.Balance, replayed.Balance)
	d.big("TotalFeePaidInUnderlying", stored.TotalFeePaidInUnderlying, replayed.TotalFeePaidInUnderlying)
	d.big("TotalProfitRedeemed", stored.TotalProfitRedeemed, replayed.TotalProfitRedeemed)
	return d.out
}

type diff struct {
	prefix string
	out    []FieldDivergence
}

func (d *diff) str(field, stored, replayed string) {
	if stored != replayed {
		d.out = append(d.out, FieldDivergence{Field: d.prefix + field, Expected: stored, Actual: replayed})
	}
}

func (d *diff) val(field string, stored, replayed interface{}) {
	if stored != replayed {
		d.out = append(d.out, FieldDivergence{Field: d.prefix + field, Expected: stored, Actual: replayed})
	}
}

func (d *diff) big(field string, stored, replayed *big.Int) {
	if !bigEqual(stored, replayed) {
		d.out = append(d.out, FieldDivergence{
			Field:    d.prefix + field,
			Expected: orZero(stored).String(),
			Actual:   orZero(replayed).String(),
		})
	}
}

// bigEqual treats nil as zero.
func bigEqual(a, b *big.Int) bool {
	return orZero(a).Cmp(orZero(b)) == 0
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
