package billing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meterfold/privatebilling/internal/fixedpoint"
	"github.com/meterfold/privatebilling/internal/hiding"
	"github.com/meterfold/privatebilling/internal/masking"
)

func TestSharedBillerReadinessLifecycle(t *testing.T) {
	b := NewSharedBiller()
	const cid = CycleID(1)
	assert.False(t, b.IsReady(cid), "is_ready is false with no clients, context, or data")

	b.IncludeClient(1)
	assert.False(t, b.IsReady(cid), "still not ready: no context, no data")

	cyc := testCycleContext(t, 8)
	b.RecordContext(cyc)
	assert.False(t, b.IsReady(cid), "still not ready: client 1 has no data")

	b.RecordData(&HiddenData{CycleID: cid, Client: 1})
	assert.True(t, b.IsReady(cid))

	// Including a new client without data makes the cycle not ready
	// again; recording that client's data makes it ready once more.
	b.IncludeClient(2)
	assert.False(t, b.IsReady(cid))
	b.RecordData(&HiddenData{CycleID: cid, Client: 2})
	assert.True(t, b.IsReady(cid))
}

func TestSharedBillerIsReadyFalseWithEmptyClients(t *testing.T) {
	b := NewSharedBiller()
	cyc := testCycleContext(t, 8)
	b.RecordContext(cyc)
	b.RecordData(&HiddenData{CycleID: cyc.CycleID, Client: 1})
	assert.False(t, b.IsReady(cyc.CycleID), "clients set is empty, so the cycle can never be ready")
}

func TestComputeBillsNotReady(t *testing.T) {
	b := NewSharedBiller()
	_, err := b.ComputeBills(1)
	var notReady NotReadyError
	require.ErrorAs(t, err, &notReady)
}

// scenario wires a single core end-to-end: build Data, hide it under
// a fresh HidingContext with no peers (masks are zero), record it
// into a SharedBiller alone in its own client set, compute the bill,
// and reveal it. This exercises spec.md §8's end-to-end scenarios 1-5.
func scenario(t *testing.T, cycleLength int, promise, utilization Vector) Bill {
	t.Helper()
	mg := masking.NewGenerator(fixedpoint.New(6, 4))
	hc, err := hiding.New(cycleLength, mg)
	require.NoError(t, err)
	require.True(t, hc.IsReady(), "a generator with no peers is vacuously stable")

	cyc := testCycleContext(t, cycleLength)
	d := Data{Client: 1, CycleID: cyc.CycleID, UtilizationPromises: promise, Utilizations: utilization}
	require.NoError(t, d.CheckValidity(cyc))

	hd, err := d.Hide(hc)
	require.NoError(t, err)

	biller := NewSharedBiller()
	biller.RecordContext(cyc)
	biller.IncludeClient(d.Client)
	biller.RecordData(hd)

	bills, err := biller.ComputeBills(cyc.CycleID)
	require.NoError(t, err)
	hb := bills[d.Client]
	require.NotNil(t, hb)

	return hb.Reveal(hc)
}

func TestScenarioZeroCase(t *testing.T) {
	bill := scenario(t, 8, constVector(8, 0), constVector(8, 0))
	for i := range bill.Bill {
		assert.InDelta(t, 0, bill.Bill[i], 1e-3)
		assert.InDelta(t, 0, bill.Reward[i], 1e-3)
	}
}

func TestScenarioRejectedConsumer(t *testing.T) {
	bill := scenario(t, 8, constVector(8, 0), constVector(8, 1))
	for i := range bill.Bill {
		assert.InDelta(t, 0.21, bill.Bill[i], 1e-3)
		assert.InDelta(t, 0, bill.Reward[i], 1e-3)
	}
}

func TestScenarioAcceptedConsumerNoDeviation(t *testing.T) {
	bill := scenario(t, 8, constVector(8, 1), constVector(8, 1))
	for i := range bill.Bill {
		assert.InDelta(t, 0.11, bill.Bill[i], 1e-3)
		assert.InDelta(t, 0, bill.Reward[i], 1e-3)
	}
}

func TestScenarioAcceptedConsumerPositiveDeviationNegativeTotal(t *testing.T) {
	// promise=1, utilization=2: a lone core is its own total, so
	// total_dev = individual deviation = -(2-1) = -1, denom_c = 1
	// (not bumped: total_p2p_consumers = masked p2p flag = 1 from the
	// single included client, not 7 as in the multi-party scenario
	// description - this single-core variant checks the same formula
	// shape with a different denominator).
	bill := scenario(t, 8, constVector(8, 1), constVector(8, 2))
	// bill = 2*0.11 + (-1/1)*(0.21-0.11) = 0.22 - 0.10 = 0.12
	for i := range bill.Bill {
		assert.InDelta(t, 0.12, bill.Bill[i], 1e-3)
	}
}

func TestScenarioAcceptedProducerPositiveDeviationPositiveTotal(t *testing.T) {
	bill := scenario(t, 8, constVector(8, -1), constVector(8, -2))
	// reward = 2*0.11 + (1/1)*(0.05-0.11) = 0.22 - 0.06 = 0.16
	for i := range bill.Reward {
		assert.InDelta(t, 0.16, bill.Reward[i], 1e-3)
	}
}

// TestScenarioTenPartyIntegration encodes spec.md §8 scenario 6: ten
// clients, even ids consuming i units and odd ids producing i units,
// every pair exchanging mask seeds so the group's total deviation is
// exactly zero and every bill/reward collapses to the trading price.
func TestScenarioTenPartyIntegration(t *testing.T) {
	const cycleLength = 8
	const n = 10

	generators := make(map[ClientID]*masking.Generator, n)
	contexts := make(map[ClientID]*hiding.HidingContext, n)
	for i := ClientID(0); i < n; i++ {
		mg := masking.NewGenerator(fixedpoint.New(6, 4))
		generators[i] = mg
		hc, err := hiding.New(cycleLength, mg)
		require.NoError(t, err)
		contexts[i] = hc
	}

	// Every ordered pair exchanges a seed for each of the three masked
	// fields' shared generator (one generator per client is enough:
	// spec.md's generate_masks is called with distinct ivs per field).
	for i := ClientID(0); i < n; i++ {
		for j := ClientID(0); j < n; j++ {
			if i == j {
				continue
			}
			seed := generators[i].SeedForPeer(j)
			generators[j].AcceptForeignSeed(seed, i)
		}
	}
	for i := ClientID(0); i < n; i++ {
		require.True(t, generators[i].IsStable())
	}

	cyc := testCycleContext(t, cycleLength)
	biller := NewSharedBiller()
	biller.RecordContext(cyc)

	for i := ClientID(0); i < n; i++ {
		var promise, utilization Vector
		if i%2 == 0 {
			promise = constVector(cycleLength, float64(i))
			utilization = constVector(cycleLength, float64(i))
		} else {
			promise = constVector(cycleLength, -float64(i))
			utilization = constVector(cycleLength, -float64(i))
		}
		d := Data{Client: i, CycleID: cyc.CycleID, UtilizationPromises: promise, Utilizations: utilization}
		hd, err := d.Hide(contexts[i])
		require.NoError(t, err)
		biller.IncludeClient(i)
		biller.RecordData(hd)
	}

	bills, err := biller.ComputeBills(cyc.CycleID)
	require.NoError(t, err)

	for i := ClientID(0); i < n; i++ {
		revealed := bills[i].Reveal(contexts[i])
		if i == 0 {
			continue // zero consumption/supply, nothing to check
		}
		if i%2 == 0 {
			for _, v := range revealed.Bill {
				assert.InDelta(t, float64(i)*0.11, v, 1e-2)
			}
		} else {
			for _, v := range revealed.Reward {
				assert.InDelta(t, float64(i)*0.11, v, 1e-2)
			}
		}
	}
}
