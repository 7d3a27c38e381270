package postgres

import (
	"fmt"
	"math/big"

	"github.com/jackc/pgx/v5/pgtype"
)

var bigTen = big.NewInt(10)

// toNumeric encodes an integer quantity. nil is stored as zero.
func toNumeric(v *big.Int) pgtype.Numeric {
	if v == nil {
		return pgtype.Numeric{Int: new(big.Int), Valid: true}
	}
	return pgtype.Numeric{Int: new(big.Int).Set(v), Valid: true}
}

// fromNumeric decodes a NUMERIC(78,0) column. pgx may return trailing zeros
// folded into a positive exponent.
func fromNumeric(n pgtype.Numeric) (*big.Int, error) {
	if !n.Valid {
		return new(big.Int), nil
	}
	if n.NaN || n.InfinityModifier != pgtype.Finite {
		return nil, fmt.Errorf("numeric is not a finite integer")
	}
	v := new(big.Int).Set(n.Int)
	switch {
	case n.Exp > 0:
		v.Mul(v, new(big.Int).Exp(bigTen, big.NewInt(int64(n.Exp)), nil))
	case n.Exp < 0:
		div := new(big.Int).Exp(bigTen, big.NewInt(int64(-n.Exp)), nil)
		q, r := new(big.Int).QuoRem(v, div, new(big.Int))
		if r.Sign() != 0 {
			return nil, fmt.Errorf("numeric %se%d has a fractional part", n.Int, n.Exp)
		}
		v = q
	}
	return v, nil
}

// numericScanner collects the decode error of several columns so scan
// functions can convert them in one pass.
type numericScanner struct {
	err error
}

func (s *numericScanner) get(n pgtype.Numeric) *big.Int {
	v, err := fromNumeric(n)
	if err != nil && s.err == nil {
		s.err = err
	}
	return v
}

// toText stores an empty string as NULL.
func toText(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: s != ""}
}
