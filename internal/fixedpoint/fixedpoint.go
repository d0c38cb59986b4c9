// Package fixedpoint implements 18-decimal scaled-integer arithmetic shared by the
// profit and inventory engines. All monetary and ratio quantities in this repository
// are *big.Int values scaled by FixedPoint (10^18); callers are responsible for
// tracking which unit (L1 token decimals, L2 token decimals, 18dp USD, or 18dp
// fraction) a given value carries.
package fixedpoint

import (
	"errors"
	"math/big"
)

// FixedPoint is the scale used for percentages, fractions, and USD prices: 10^18.
var FixedPoint = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

var ErrInvalidInput = errors.New("fixedpoint: invalid input")

// MulFrac returns floor(a * numer / denom). denom must be non-zero.
func MulFrac(a, numer, denom *big.Int) (*big.Int, error) {
	if a == nil || numer == nil || denom == nil {
		return nil, ErrInvalidInput
	}
	if denom.Sign() == 0 {
		return nil, ErrInvalidInput
	}
	out := new(big.Int).Mul(a, numer)
	return out.Div(out, denom), nil
}

// MulFracCeil returns ceil(a * numer / denom). denom must be positive.
func MulFracCeil(a, numer, denom *big.Int) (*big.Int, error) {
	if a == nil || numer == nil || denom == nil {
		return nil, ErrInvalidInput
	}
	if denom.Sign() <= 0 {
		return nil, ErrInvalidInput
	}
	prod := new(big.Int).Mul(a, numer)
	q, r := new(big.Int), new(big.Int)
	q.QuoRem(prod, denom, r)
	if r.Sign() != 0 && (prod.Sign() > 0) == (denom.Sign() > 0) {
		q.Add(q, big.NewInt(1))
	}
	return q, nil
}

// ToFp scales an integer n with fracDigits fractional digits up to the 18-decimal
// fixed-point scale. E.g. ToFp(150, 2) == 1.5 * 10^18 (150 with 2 fractional digits
// is 1.50).
func ToFp(n *big.Int, fracDigits int) (*big.Int, error) {
	if n == nil || fracDigits < 0 || fracDigits > 18 {
		return nil, ErrInvalidInput
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(18-fracDigits)), nil)
	return new(big.Int).Mul(n, scale), nil
}

// ConvertDecimals rescales x from `from` decimals to `to` decimals.
//
// convertDecimals(from, to, x) = x * 10^(to-from) for to >= from, else x / 10^(from-to)
// (floor division). Conversion is lossless only when to >= from; callers converting
// downward accept loss of precision.
func ConvertDecimals(from, to int, x *big.Int) (*big.Int, error) {
	if x == nil || from < 0 || to < 0 {
		return nil, ErrInvalidInput
	}
	if to == from {
		return new(big.Int).Set(x), nil
	}
	if to > from {
		scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(to-from)), nil)
		return new(big.Int).Mul(x, scale), nil
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(from-to)), nil)
	return new(big.Int).Div(x, scale), nil
}

// Pct returns a * 10^18 / b, floor-divided, or 0 if b is zero.
func Pct(a, b *big.Int) *big.Int {
	if a == nil || b == nil || b.Sign() == 0 {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(a, FixedPoint)
	return out.Div(out, b)
}

// Max returns the uint256 saturation value used as a sentinel for "unknown/unbounded".
func Max() *big.Int {
	max := new(big.Int).Lsh(big.NewInt(1), 256)
	return max.Sub(max, big.NewInt(1))
}

// IsMax reports whether v equals the uint256 max sentinel.
func IsMax(v *big.Int) bool {
	return v != nil && v.Cmp(Max()) == 0
}
