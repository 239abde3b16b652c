package billing

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/meterfold/privatebilling/internal/fixedpoint"
	"github.com/meterfold/privatebilling/internal/hiding"
	"github.com/meterfold/privatebilling/internal/masking"
)

// TestKernelEquivalenceProperty encodes spec.md §8's kernel-equivalence
// invariant: for a single participant (so the total deviation equals
// their own deviation and every p2p denominator trivially bumps from 0
// or 1 to 1), the encrypted bill-computation kernel's revealed output
// matches a closed-form plaintext formula over the promise/utilization
// input, across the rejected, accepted-consumer and accepted-producer
// branches.
func TestKernelEquivalenceProperty(t *testing.T) {
	const cycleLength = 4
	const retail, feedIn, trading = 0.21, 0.05, 0.11

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 8
	properties := gopter.NewProperties(parameters)

	properties.Property("revealed bill/reward matches closed-form formula", prop.ForAll(
		func(branch int, magnitude float64, negateRejected bool) bool {
			var promise, utilization float64
			switch branch {
			case 1:
				promise, utilization = 1, magnitude
			case -1:
				promise, utilization = -1, -magnitude
			default:
				promise = 0
				utilization = magnitude
				if negateRejected {
					utilization = -magnitude
				}
			}

			wantBill, wantReward := closedFormBillReward(promise, utilization, retail, feedIn, trading)

			mg := masking.NewGenerator(fixedpoint.New(6, 4))
			hc, err := hiding.New(cycleLength, mg)
			if err != nil {
				return false
			}
			cyc := &CycleContext{
				CycleID:       1,
				CycleLength:   cycleLength,
				RetailPrices:  constVector(cycleLength, retail),
				FeedInTariffs: constVector(cycleLength, feedIn),
				TradingPrices: constVector(cycleLength, trading),
			}
			d := Data{
				Client:              1,
				CycleID:             cyc.CycleID,
				UtilizationPromises: constVector(cycleLength, promise),
				Utilizations:        constVector(cycleLength, utilization),
			}
			hd, err := d.Hide(hc)
			if err != nil {
				return false
			}

			biller := NewSharedBiller()
			biller.RecordContext(cyc)
			biller.IncludeClient(d.Client)
			biller.RecordData(hd)
			bills, err := biller.ComputeBills(cyc.CycleID)
			if err != nil {
				return false
			}
			revealed := bills[d.Client].Reveal(hc)

			for _, v := range revealed.Bill {
				if absDiff(v, wantBill) > 1e-2 {
					return false
				}
			}
			for _, v := range revealed.Reward {
				if absDiff(v, wantReward) > 1e-2 {
					return false
				}
			}
			return true
		},
		gen.IntRange(-1, 1),
		gen.Float64Range(0, 5),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

// closedFormBillReward is the single-participant closed form of
// ComputeHiddenBill: with one client, total deviation equals the
// client's own individual deviation and every p2p denominator is
// either already 1 or bumped from 0 to 1, so the kernel's branches
// collapse to plain arithmetic.
func closedFormBillReward(promise, utilization, retail, feedIn, trading float64) (bill, reward float64) {
	switch {
	case promise > 0:
		consumption := utilization
		dev := 1 - utilization
		bill = consumption * trading
		if utilization > 1 {
			bill += (retail - trading) * dev
		}
		return bill, 0
	case promise < 0:
		supply := -utilization
		dev := -utilization - 1
		reward = supply * trading
		if utilization < -1 {
			reward += (feedIn - trading) * dev
		}
		return 0, reward
	default:
		consumption := maxF(utilization, 0)
		supply := maxF(-utilization, 0)
		return consumption * retail, supply * feedIn
	}
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func absDiff(a, b float64) float64 {
	if a > b {
		return a - b
	}
	return b - a
}

// TestIsReadyMonotonicityProperty encodes spec.md §8's invariant that
// is_ready moves monotonically from false to true as a cycle's
// included clients submit data, in any arrival order, and never
// reverts to false while every included client's data stays on file.
func TestIsReadyMonotonicityProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	properties := gopter.NewProperties(parameters)

	properties.Property("is_ready never reverts to false while recorded data persists", prop.ForAll(
		func(n, rotation int) bool {
			b := NewSharedBiller()
			const cid = CycleID(1)
			cyc := &CycleContext{
				CycleID: cid, CycleLength: 1,
				RetailPrices: Vector{0}, FeedInTariffs: Vector{0}, TradingPrices: Vector{0},
			}
			b.RecordContext(cyc)

			clients := make([]ClientID, n)
			for i := 0; i < n; i++ {
				clients[i] = ClientID(i + 1)
				b.IncludeClient(clients[i])
			}

			order := make([]ClientID, n)
			for i := 0; i < n; i++ {
				order[i] = clients[(i+rotation)%n]
			}

			seenReady := false
			for _, c := range order {
				before := b.IsReady(cid)
				if seenReady && !before {
					return false
				}
				b.RecordData(&HiddenData{CycleID: cid, Client: c})
				after := b.IsReady(cid)
				if before && !after {
					return false
				}
				seenReady = seenReady || after
			}
			return b.IsReady(cid)
		},
		gen.IntRange(1, 8),
		gen.IntRange(0, 50),
	))

	properties.TestingRun(t)
}
