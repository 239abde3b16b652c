// Package fixedpoint maps 64-bit pseudo-random integers into a bounded
// fixed-point real domain with wrap-around, the reduction the masking
// layer uses so additive shares cancel modulo 10^integerDigits.
package fixedpoint

import "math"

// maxDigits is the largest total digit count a 64-bit value can host,
// per spec.md §4.2: i+f <= 64*log10(2).
const maxDigits = 64 * 0.3010299956639812 // 64*log10(2)

// Convertor maps a uint64 PRG output to a float64 with integerDigits
// digits before the point and fractionalDigits digits after it.
type Convertor struct {
	IntegerDigits    int
	FractionalDigits int
}

// New builds a Convertor, panicking if the requested precision does
// not fit in 64 bits. This mirrors the Python prototype's assertion
// and is a programming error, not a recoverable condition.
func New(integerDigits, fractionalDigits int) Convertor {
	if float64(integerDigits+fractionalDigits) > maxDigits {
		panic("fixedpoint: integerDigits+fractionalDigits exceeds 64-bit precision")
	}
	return Convertor{IntegerDigits: integerDigits, FractionalDigits: fractionalDigits}
}

// Modulus returns 10^IntegerDigits.
func (c Convertor) Modulus() float64 { return math.Pow(10, float64(c.IntegerDigits)) }

// divisor returns 10^FractionalDigits.
func (c Convertor) divisor() float64 { return math.Pow(10, float64(c.FractionalDigits)) }

// FromUint64 converts a raw 64-bit PRG output into a fixed-point real
// value: shift by the fractional digit count, then reduce modulo
// 10^IntegerDigits using a sign-preserving remainder (math.Mod, not a
// truncating C-style modulo over the raw bit pattern).
func (c Convertor) FromUint64(u uint64) float64 {
	shifted := float64(u) / c.divisor()
	return math.Mod(shifted, c.Modulus())
}
