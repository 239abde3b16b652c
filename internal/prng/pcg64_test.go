package prng

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
)

func TestDeterministic(t *testing.T) {
	seed := uint256.NewInt(42)
	a := New(seed)
	b := New(seed)
	for i := 0; i < 16; i++ {
		assert.Equal(t, a.Next(), b.Next())
	}
}

func TestDifferentSeedsDiverge(t *testing.T) {
	a := New(uint256.NewInt(1))
	b := New(uint256.NewInt(2))
	same := true
	for i := 0; i < 8; i++ {
		if a.Next() != b.Next() {
			same = false
		}
	}
	assert.False(t, same)
}

func TestZeroSeedNotDegenerate(t *testing.T) {
	g := New(uint256.NewInt(0))
	v1 := g.Next()
	v2 := g.Next()
	assert.NotEqual(t, v1, v2)
}
