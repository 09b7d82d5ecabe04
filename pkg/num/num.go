// Package num provides overflow-safe fixed-point arithmetic for prices and
// quantities. All currency amounts are integers in the smallest unit of their
// token; quote notional is base*price/10^baseDecimals, truncating.
package num

import (
	"errors"
	"math/bits"
)

var ErrOverflow = errors.New("integer overflow")

// FeeUnit is the denominator for per-mille fee rates.
const FeeUnit = 1000

var pow10 = [19]uint64{
	1, 10, 100, 1000, 10000, 100000, 1000000, 10000000, 100000000,
	1000000000, 10000000000, 100000000000, 1000000000000, 10000000000000,
	100000000000000, 1000000000000000, 10000000000000000, 100000000000000000,
	1000000000000000000,
}

// MulDiv computes a*b/d with a 128-bit intermediate product, truncating.
// a, b and the result must be non-negative int64 values.
func MulDiv(a, b, d int64) (int64, error) {
	if a < 0 || b < 0 || d <= 0 {
		return 0, ErrOverflow
	}
	hi, lo := bits.Mul64(uint64(a), uint64(b))
	if hi >= uint64(d) {
		return 0, ErrOverflow
	}
	q, _ := bits.Div64(hi, lo, uint64(d))
	if q > uint64(1<<63-1) {
		return 0, ErrOverflow
	}
	return int64(q), nil
}

// Notional converts a base quantity at a price into quote units.
func Notional(qty, price int64, baseDecimals uint8) (int64, error) {
	if int(baseDecimals) >= len(pow10) {
		return 0, ErrOverflow
	}
	return MulDiv(qty, price, int64(pow10[baseDecimals]))
}

// Fee returns amount*rate/FeeUnit, truncating.
func Fee(amount, rate int64) int64 {
	v, err := MulDiv(amount, rate, FeeUnit)
	if err != nil {
		// rate is bounded well below FeeUnit, so the quotient fits.
		return 0
	}
	return v
}

// CheckedAdd returns a+b or ErrOverflow.
func CheckedAdd(a, b int64) (int64, error) {
	s := a + b
	if (b > 0 && s < a) || (b < 0 && s > a) {
		return 0, ErrOverflow
	}
	return s, nil
}

// CheckedSub returns a-b or ErrOverflow.
func CheckedSub(a, b int64) (int64, error) {
	s := a - b
	if (b < 0 && s < a) || (b > 0 && s > a) {
		return 0, ErrOverflow
	}
	return s, nil
}
