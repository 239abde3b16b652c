package billing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meterfold/privatebilling/internal/fixedpoint"
	"github.com/meterfold/privatebilling/internal/hiding"
	"github.com/meterfold/privatebilling/internal/masking"
)

// TestDenominatorBumpInvisibleWhenFlagZero covers spec.md §8's
// boundary behavior: ComputeHiddenBill's p2p denominators go through
// Vector.Max(1.0) to avoid dividing by zero, but every p2p term is
// also gated by the participant's own accepted flag, so the bump
// never changes the observed bill when that flag is zero.
func TestDenominatorBumpInvisibleWhenFlagZero(t *testing.T) {
	const cycleLength = 4
	mg := masking.NewGenerator(fixedpoint.New(6, 4))
	hc, err := hiding.New(cycleLength, mg)
	require.NoError(t, err)

	cyc := testCycleContext(t, cycleLength)
	// promise=0: accepted as neither a p2p consumer nor a p2p
	// producer, so both accepted flags encrypt to zero and every p2p
	// term is gated out regardless of the denominator's value.
	d := Data{
		Client:              1,
		CycleID:             cyc.CycleID,
		UtilizationPromises: constVector(cycleLength, 0),
		Utilizations:        constVector(cycleLength, 1),
	}
	hd, err := d.Hide(hc)
	require.NoError(t, err)

	zeroDenom := &SharedCycleData{
		TotalDeviations:   constVector(cycleLength, 3),
		TotalP2PConsumers: constVector(cycleLength, 0),
		TotalP2PProducers: constVector(cycleLength, 0),
	}
	bumpedDenom := &SharedCycleData{
		TotalDeviations:   constVector(cycleLength, 3),
		TotalP2PConsumers: constVector(cycleLength, 7),
		TotalP2PProducers: constVector(cycleLength, 7),
	}

	billZero, err := hd.ComputeHiddenBill(zeroDenom, cyc)
	require.NoError(t, err)
	billBumped, err := hd.ComputeHiddenBill(bumpedDenom, cyc)
	require.NoError(t, err)

	revealedZero := billZero.Reveal(hc)
	revealedBumped := billBumped.Reveal(hc)
	for i := range revealedZero.Bill {
		assert.InDelta(t, revealedZero.Bill[i], revealedBumped.Bill[i], 1e-3)
		assert.InDelta(t, revealedZero.Reward[i], revealedBumped.Reward[i], 1e-3)
		// rejected consumer pays retail price for 1 unit, unaffected
		// by either denominator value.
		assert.InDelta(t, 0.21, revealedZero.Bill[i], 1e-3)
	}
}
