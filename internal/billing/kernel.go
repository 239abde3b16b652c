package billing

import (
	"encoding/json"
	"fmt"

	"github.com/tuneinsight/lattigo/v4/rlwe"

	"github.com/meterfold/privatebilling/internal/hiding"
	"github.com/meterfold/privatebilling/internal/wire"
)

// HiddenBill is the encrypted outcome of a billing cycle for one
// participant, owned by the edge for a single round-trip back to the
// originating core (spec.md §3).
type HiddenBill struct {
	CycleID      CycleID
	HiddenBill   *rlwe.Ciphertext
	HiddenReward *rlwe.Ciphertext
}

// Reveal decrypts this HiddenBill under hc and rounds to five
// fractional digits, matching spec.md §3's noise-bound comparison rule.
func (hb *HiddenBill) Reveal(hc *hiding.HidingContext) Bill {
	bill := round5(hc.Decrypt(hb.HiddenBill))
	reward := round5(hc.Decrypt(hb.HiddenReward))
	return Bill{CycleID: hb.CycleID, Bill: bill, Reward: reward}
}

// hiddenBillWire is HiddenBill's wire shape.
type hiddenBillWire struct {
	CycleID      CycleID             `json:"cycle_id"`
	HiddenBill   wire.CiphertextJSON `json:"hidden_bill"`
	HiddenReward wire.CiphertextJSON `json:"hidden_reward"`
}

// MarshalJSON implements json.Marshaler.
func (hb *HiddenBill) MarshalJSON() ([]byte, error) {
	return json.Marshal(hiddenBillWire{
		CycleID:      hb.CycleID,
		HiddenBill:   wire.CiphertextJSON{Ciphertext: hb.HiddenBill},
		HiddenReward: wire.CiphertextJSON{Ciphertext: hb.HiddenReward},
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (hb *HiddenBill) UnmarshalJSON(data []byte) error {
	var w hiddenBillWire
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("billing: unmarshaling hidden bill: %w", err)
	}
	hb.CycleID = w.CycleID
	hb.HiddenBill = w.HiddenBill.Ciphertext
	hb.HiddenReward = w.HiddenReward.Ciphertext
	return nil
}

func round5(v Vector) Vector {
	const scale = 1e5
	out := make(Vector, len(v))
	for i, x := range v {
		out[i] = float64(int64(x*scale+sign(x)*0.5)) / scale
	}
	return out
}

func sign(x float64) float64 {
	if x < 0 {
		return -1
	}
	return 1
}

// ComputeHiddenBill implements the bill-computation kernel of spec.md
// §4.5: every arithmetic step is performed on ciphertexts and public
// (unencrypted) vectors, so no plaintext client data ever leaves the
// edge. Multiplicative depth used is 3 (ct·pt · ct·ct · ct), matching
// the hiding context's configured budget.
func (h *HiddenData) ComputeHiddenBill(scd *SharedCycleData, cyc *CycleContext) (*HiddenBill, error) {
	phc := h.PublicHidingContext

	denomC := scd.TotalP2PConsumers.Max(1.0)
	denomP := scd.TotalP2PProducers.Max(1.0)

	rejected, err := phc.InvertFlag(h.AcceptedConsumerFlag)
	if err != nil {
		return nil, fmt.Errorf("billing: inverting accepted-consumer flag: %w", err)
	}
	rejectedProducer, err := phc.InvertFlag(h.AcceptedProducerFlag)
	if err != nil {
		return nil, fmt.Errorf("billing: inverting accepted-producer flag: %w", err)
	}

	// Non-p2p case: rejected participants pay retail / earn feed-in.
	billNoP2P, err := ctTimesPtTimesCt(phc, h.Consumptions, cyc.RetailPrices, rejected)
	if err != nil {
		return nil, err
	}
	rewardNoP2P, err := ctTimesPtTimesCt(phc, h.Supplies, cyc.FeedInTariffs, rejectedProducer)
	if err != nil {
		return nil, err
	}

	// P2P base quantities.
	baseBill, err := phc.MultiplyByPlaintext(h.Consumptions, cyc.TradingPrices)
	if err != nil {
		return nil, fmt.Errorf("billing: base bill: %w", err)
	}
	baseReward, err := phc.MultiplyByPlaintext(h.Supplies, cyc.TradingPrices)
	if err != nil {
		return nil, fmt.Errorf("billing: base reward: %w", err)
	}

	// Bill supplement: applies when total deviation < 0 and the
	// participant's own deviation was positive.
	billSupplementPt := cyc.RetailPrices.Sub(cyc.TradingPrices).Div(denomC).Mul(scd.TotalDeviations)
	billSupplementCt, err := ctTimesPtTimesPt(phc, h.PositiveDeviationFlag, billSupplementPt, scd.NegativeTotalDeviationFlags())
	if err != nil {
		return nil, err
	}

	// Reward penalty: applies when total deviation > 0 and the
	// participant's own deviation was positive.
	rewardPenaltyPt := cyc.FeedInTariffs.Sub(cyc.TradingPrices).Div(denomP).Mul(scd.TotalDeviations)
	rewardPenaltyCt, err := ctTimesPtTimesPt(phc, h.PositiveDeviationFlag, rewardPenaltyPt, scd.PositiveTotalDeviationFlags())
	if err != nil {
		return nil, err
	}

	billP2PSum, err := phc.Add(baseBill, billSupplementCt)
	if err != nil {
		return nil, fmt.Errorf("billing: summing p2p bill: %w", err)
	}
	billP2P, err := phc.Multiply(billP2PSum, h.AcceptedConsumerFlag)
	if err != nil {
		return nil, fmt.Errorf("billing: gating p2p bill: %w", err)
	}

	rewardP2PSum, err := phc.Add(baseReward, rewardPenaltyCt)
	if err != nil {
		return nil, fmt.Errorf("billing: summing p2p reward: %w", err)
	}
	rewardP2P, err := phc.Multiply(rewardP2PSum, h.AcceptedProducerFlag)
	if err != nil {
		return nil, fmt.Errorf("billing: gating p2p reward: %w", err)
	}

	bill, err := phc.Add(billP2P, billNoP2P)
	if err != nil {
		return nil, fmt.Errorf("billing: combining bill: %w", err)
	}
	reward, err := phc.Add(rewardP2P, rewardNoP2P)
	if err != nil {
		return nil, fmt.Errorf("billing: combining reward: %w", err)
	}

	return &HiddenBill{CycleID: h.CycleID, HiddenBill: bill, HiddenReward: reward}, nil
}

// ctTimesPtTimesCt computes (ct·pt)·ct2 : a plaintext scaling followed
// by a ciphertext-ciphertext multiply (relinearized).
func ctTimesPtTimesCt(phc *hiding.PublicHidingContext, ct *rlwe.Ciphertext, pt Vector, ct2 *rlwe.Ciphertext) (*rlwe.Ciphertext, error) {
	scaled, err := phc.MultiplyByPlaintext(ct, pt)
	if err != nil {
		return nil, fmt.Errorf("billing: scaling by plaintext: %w", err)
	}
	out, err := phc.Multiply(scaled, ct2)
	if err != nil {
		return nil, fmt.Errorf("billing: multiplying ciphertexts: %w", err)
	}
	return out, nil
}

// ctTimesPtTimesPt computes (ct·pt1)·pt2 : two successive plaintext
// scalings of a single ciphertext.
func ctTimesPtTimesPt(phc *hiding.PublicHidingContext, ct *rlwe.Ciphertext, pt1, pt2 Vector) (*rlwe.Ciphertext, error) {
	scaled, err := phc.MultiplyByPlaintext(ct, pt1)
	if err != nil {
		return nil, fmt.Errorf("billing: scaling by first plaintext: %w", err)
	}
	out, err := phc.MultiplyByPlaintext(scaled, pt2)
	if err != nil {
		return nil, fmt.Errorf("billing: scaling by second plaintext: %w", err)
	}
	return out, nil
}
