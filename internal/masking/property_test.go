package masking

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/meterfold/privatebilling/internal/fixedpoint"
	"github.com/meterfold/privatebilling/internal/vector"
)

// TestMaskCancellationProperty generalizes TestClosedGroupMasksCancel
// into the quantified property spec.md §8 calls for: for any closed
// group size and any vector length, a group where every pair has
// exchanged seeds sums its masks to the zero vector.
func TestMaskCancellationProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	properties := gopter.NewProperties(parameters)

	properties.Property("closed group masks cancel", prop.ForAll(
		func(groupSize, vecLen int) bool {
			peers := make([]PeerID, groupSize)
			generators := make(map[PeerID]*Generator, groupSize)
			for i := 0; i < groupSize; i++ {
				peers[i] = PeerID(i + 1)
				generators[peers[i]] = NewGenerator(fixedpoint.New(6, 4))
			}
			for _, i := range peers {
				for _, j := range peers {
					if i == j {
						continue
					}
					seed := generators[i].SeedForPeer(j)
					generators[j].AcceptForeignSeed(seed, i)
				}
			}

			iv := MaskingIV(1, "retail_price")
			total := vector.Zeros(vecLen)
			for _, p := range peers {
				total = total.Add(generators[p].GenerateMasks(iv, vecLen))
			}
			for _, v := range total {
				if v < -1e-9 || v > 1e-9 {
					return false
				}
			}
			return true
		},
		gen.IntRange(2, 6),
		gen.IntRange(1, 12),
	))

	properties.TestingRun(t)
}
