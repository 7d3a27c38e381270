package accounting

import "math/big"

// feeDenominator is the unit of Token.Fee: parts per 100,000.
var feeDenominator = big.NewInt(100_000)

func orZero(x *big.Int) *big.Int {
	if x == nil {
		return new(big.Int)
	}
	return x
}

func add(a, b *big.Int) *big.Int {
	return new(big.Int).Add(orZero(a), orZero(b))
}

// sub returns a-b and whether the result stayed non-negative.
func sub(a, b *big.Int) (*big.Int, bool) {
	d := new(big.Int).Sub(orZero(a), orZero(b))
	return d, d.Sign() >= 0
}

func minBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}
