// Package vector implements fixed-length numeric vector algebra used
// throughout the billing engine: element-wise arithmetic, scalar
// broadcasts and the handful of reductions (positive-flag extraction,
// element-wise max) the bill kernel is built from.
package vector

import "fmt"

// LengthMismatchError is the panic value raised when an operation is
// attempted on vectors of unequal length. It is always a programming error.
type LengthMismatchError struct {
	Left, Right int
}

func (e LengthMismatchError) Error() string {
	return fmt.Sprintf("vector: length mismatch (%d != %d)", e.Left, e.Right)
}

// Vector is a fixed-length sequence of float64 values.
type Vector []float64

// New builds a constant vector of length n, every element set to v.
func New(n int, v float64) Vector {
	out := make(Vector, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// Zeros builds a length-n vector of zeros.
func Zeros(n int) Vector {
	return make(Vector, n)
}

func checkLen(a, b Vector) {
	if len(a) != len(b) {
		panic(LengthMismatchError{len(a), len(b)})
	}
}

func elementwise(a, b Vector, op func(x, y float64) float64) Vector {
	checkLen(a, b)
	out := make(Vector, len(a))
	for i := range a {
		out[i] = op(a[i], b[i])
	}
	return out
}

func broadcast(a Vector, s float64, op func(x, y float64) float64) Vector {
	out := make(Vector, len(a))
	for i := range a {
		out[i] = op(a[i], s)
	}
	return out
}

// Add returns the element-wise sum a + b.
func (a Vector) Add(b Vector) Vector { return elementwise(a, b, func(x, y float64) float64 { return x + y }) }

// Sub returns the element-wise difference a - b.
func (a Vector) Sub(b Vector) Vector { return elementwise(a, b, func(x, y float64) float64 { return x - y }) }

// Mul returns the element-wise product a * b.
func (a Vector) Mul(b Vector) Vector { return elementwise(a, b, func(x, y float64) float64 { return x * y }) }

// Div returns the element-wise quotient a / b.
func (a Vector) Div(b Vector) Vector { return elementwise(a, b, func(x, y float64) float64 { return x / y }) }

// Mod returns the element-wise remainder of a mod b.
func (a Vector) Mod(b Vector) Vector {
	return elementwise(a, b, func(x, y float64) float64 {
		r := x - y*float64(int64(x/y))
		return r
	})
}

// Xor treats each element as a 0/1 flag and returns the element-wise
// logical xor, represented as 0/1 float64 values.
func (a Vector) Xor(b Vector) Vector {
	return elementwise(a, b, func(x, y float64) float64 {
		if (x != 0) != (y != 0) {
			return 1
		}
		return 0
	})
}

// Or treats each element as a 0/1 flag and returns the element-wise
// logical or, represented as 0/1 float64 values.
func (a Vector) Or(b Vector) Vector {
	return elementwise(a, b, func(x, y float64) float64 {
		if x != 0 || y != 0 {
			return 1
		}
		return 0
	})
}

// AddScalar broadcasts s across a and adds it.
func (a Vector) AddScalar(s float64) Vector { return broadcast(a, s, func(x, y float64) float64 { return x + y }) }

// SubScalar broadcasts s across a and subtracts it.
func (a Vector) SubScalar(s float64) Vector { return broadcast(a, s, func(x, y float64) float64 { return x - y }) }

// MulScalar broadcasts s across a and multiplies.
func (a Vector) MulScalar(s float64) Vector { return broadcast(a, s, func(x, y float64) float64 { return x * y }) }

// DivScalar broadcasts s across a and divides.
func (a Vector) DivScalar(s float64) Vector { return broadcast(a, s, func(x, y float64) float64 { return x / y }) }

// Max returns the element-wise maximum of a and the scalar s.
func (a Vector) Max(s float64) Vector {
	out := make(Vector, len(a))
	for i, v := range a {
		if v > s {
			out[i] = v
		} else {
			out[i] = s
		}
	}
	return out
}

// PositiveFlags returns a 0/1 vector: 1 where the element is strictly
// positive, 0 otherwise.
func (a Vector) PositiveFlags() Vector {
	out := make(Vector, len(a))
	for i, v := range a {
		if v > 0 {
			out[i] = 1
		}
	}
	return out
}

// PadTo zero-extends a to length n. It is a no-op when n <= len(a).
func (a Vector) PadTo(n int) Vector {
	if n <= len(a) {
		return a
	}
	out := make(Vector, n)
	copy(out, a)
	return out
}

// Sum returns the element-wise sum of every vector in vs. All vectors
// must share the same length; vs must be non-empty.
func Sum(vs []Vector) Vector {
	if len(vs) == 0 {
		return nil
	}
	out := make(Vector, len(vs[0]))
	copy(out, vs[0])
	for _, v := range vs[1:] {
		out = out.Add(v)
	}
	return out
}

// Clone returns a copy of a.
func (a Vector) Clone() Vector {
	out := make(Vector, len(a))
	copy(out, a)
	return out
}
