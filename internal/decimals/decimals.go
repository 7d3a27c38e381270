// Package decimals converts between raw integer quantities of tokens with
// different decimal precisions. All arithmetic is exact; every division
// truncates toward zero like the on-chain contracts do.
package decimals

import (
	"math/big"
	"strings"
)

var ten = big.NewInt(10)

// ScaleFactor returns 10^decimals, built by repeated multiplication.
func ScaleFactor(decimals uint8) *big.Int {
	f := big.NewInt(1)
	for i := uint8(0); i < decimals; i++ {
		f.Mul(f, ten)
	}
	return f
}

// MulDiv returns x*y/d truncated toward zero. d must be non-zero.
func MulDiv(x, y, d *big.Int) *big.Int {
	p := new(big.Int).Mul(x, y)
	return p.Quo(p, d)
}

// ToUnderlying values a token amount at price, where price is expressed in
// underlying units per whole token. The result is in underlying units.
func ToUnderlying(amount, price *big.Int, tokenDecimals uint8) *big.Int {
	return MulDiv(amount, price, ScaleFactor(tokenDecimals))
}

// Format renders v as a decimal string with the given number of decimals,
// dropping trailing zeros of the fraction. Nil renders as "0".
func Format(v *big.Int, decimals uint8) string {
	if v == nil {
		return "0"
	}
	if decimals == 0 {
		return v.String()
	}

	abs := new(big.Int).Abs(v)
	q, r := new(big.Int).QuoRem(abs, ScaleFactor(decimals), new(big.Int))

	sign := ""
	if v.Sign() < 0 {
		sign = "-"
	}
	if r.Sign() == 0 {
		return sign + q.String()
	}

	frac := r.String()
	frac = strings.Repeat("0", int(decimals)-len(frac)) + frac
	return sign + q.String() + "." + strings.TrimRight(frac, "0")
}
