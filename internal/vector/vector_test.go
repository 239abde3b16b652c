package vector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestElementwiseArithmetic(t *testing.T) {
	a := Vector{1, 2, 3}
	b := Vector{4, 5, 6}

	assert.Equal(t, Vector{5, 7, 9}, a.Add(b))
	assert.Equal(t, Vector{-3, -3, -3}, a.Sub(b))
	assert.Equal(t, Vector{4, 10, 18}, a.Mul(b))
}

func TestScalarBroadcast(t *testing.T) {
	a := Vector{1, 2, 3}
	assert.Equal(t, Vector{2, 3, 4}, a.AddScalar(1))
	assert.Equal(t, Vector{2, 4, 6}, a.MulScalar(2))
}

func TestMaxAndPositiveFlags(t *testing.T) {
	a := Vector{-2, 0, 3}
	assert.Equal(t, Vector{0, 0, 3}, a.Max(0))
	assert.Equal(t, Vector{0, 0, 1}, a.PositiveFlags())
}

func TestPadTo(t *testing.T) {
	a := Vector{1, 2}
	assert.Equal(t, Vector{1, 2, 0, 0}, a.PadTo(4))
	assert.Equal(t, Vector{1, 2}, a.PadTo(1))
}

func TestLengthMismatchPanics(t *testing.T) {
	a := Vector{1, 2}
	b := Vector{1, 2, 3}
	require.Panics(t, func() { _ = a.Add(b) })
}

func TestSum(t *testing.T) {
	vs := []Vector{{1, 1}, {2, 2}, {-3, -3}}
	assert.Equal(t, Vector{0, 0}, Sum(vs))
}

func TestXorOr(t *testing.T) {
	a := Vector{1, 0, 1, 0}
	b := Vector{1, 1, 0, 0}
	assert.Equal(t, Vector{0, 1, 1, 0}, a.Xor(b))
	assert.Equal(t, Vector{1, 1, 1, 0}, a.Or(b))
}
