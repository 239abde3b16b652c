package fixedpoint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromUint64Bounded(t *testing.T) {
	c := New(6, 4)
	for _, u := range []uint64{0, 1, 123456789, 18446744073709551615} {
		v := c.FromUint64(u)
		assert.True(t, v > -c.Modulus() && v < c.Modulus())
	}
}

func TestNewPanicsOnOversizedPrecision(t *testing.T) {
	require.Panics(t, func() { New(15, 5) })
}

func TestModulusAndDivisor(t *testing.T) {
	c := New(6, 4)
	assert.Equal(t, 1e6, c.Modulus())
	assert.Equal(t, 1e4, c.divisor())
}
