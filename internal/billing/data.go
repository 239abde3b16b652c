package billing

import (
	"encoding/json"
	"fmt"

	"github.com/tuneinsight/lattigo/v4/rlwe"

	"github.com/meterfold/privatebilling/internal/hiding"
	"github.com/meterfold/privatebilling/internal/wire"
)

// Data is the clear per-cycle data a core originates and consumes
// exactly once to produce a HiddenData (spec.md §3). Sign convention:
// positive utilization = consumption, negative = supply.
type Data struct {
	Client              ClientID
	CycleID             CycleID
	UtilizationPromises Vector
	Utilizations        Vector
}

// Consumptions returns max(utilizations, 0).
func (d Data) Consumptions() Vector { return d.Utilizations.Max(0) }

// Supplies returns max(-utilizations, 0).
func (d Data) Supplies() Vector { return d.Utilizations.MulScalar(-1).Max(0) }

// ConsumptionPromises returns max(utilization_promises, 0).
func (d Data) ConsumptionPromises() Vector { return d.UtilizationPromises.Max(0) }

// SupplyPromises returns max(-utilization_promises, 0).
func (d Data) SupplyPromises() Vector { return d.UtilizationPromises.MulScalar(-1).Max(0) }

// AcceptedConsumerFlag is 1 where UtilizationPromises > 0.
func (d Data) AcceptedConsumerFlag() Vector { return d.UtilizationPromises.PositiveFlags() }

// AcceptedProducerFlag is 1 where UtilizationPromises < 0.
func (d Data) AcceptedProducerFlag() Vector {
	return d.UtilizationPromises.MulScalar(-1).PositiveFlags()
}

// ConsumptionDeviations returns consumptions - consumption_promises.
func (d Data) ConsumptionDeviations() Vector {
	return d.Consumptions().Sub(d.ConsumptionPromises())
}

// SupplyDeviations returns supplies - supply_promises.
func (d Data) SupplyDeviations() Vector {
	return d.Supplies().Sub(d.SupplyPromises())
}

// IndividualDeviation is (supply deviation - consumption deviation)
// restricted to accepted slots (spec.md §3): a participant accepted
// as a producer contributes their supply deviation, a participant
// accepted as a consumer contributes the negative of their
// consumption deviation; rejected slots contribute zero.
func (d Data) IndividualDeviation() Vector {
	producerSide := d.SupplyDeviations().Mul(d.AcceptedProducerFlag())
	consumerSide := d.ConsumptionDeviations().Mul(d.AcceptedConsumerFlag())
	return producerSide.Sub(consumerSide)
}

// PositiveDeviationFlag is 1 where either the supply or the
// consumption deviation is positive, restricted to accepted slots.
func (d Data) PositiveDeviationFlag() Vector {
	accepted := d.AcceptedConsumerFlag().Or(d.AcceptedProducerFlag())
	positiveConsumption := d.ConsumptionDeviations().PositiveFlags().Mul(accepted)
	positiveSupply := d.SupplyDeviations().PositiveFlags().Mul(accepted)
	return positiveConsumption.Or(positiveSupply)
}

// P2PConsumerFlag is 1 where this participant promised to consume and
// was accepted for trading.
func (d Data) P2PConsumerFlag() Vector {
	return d.ConsumptionPromises().PositiveFlags().Mul(d.AcceptedConsumerFlag())
}

// P2PProducerFlag is 1 where this participant promised to produce and
// was accepted for trading.
func (d Data) P2PProducerFlag() Vector {
	return d.SupplyPromises().PositiveFlags().Mul(d.AcceptedProducerFlag())
}

// CheckValidity verifies this Data's vectors match cyc's cycle length.
func (d Data) CheckValidity(cyc *CycleContext) error {
	if len(d.UtilizationPromises) != cyc.CycleLength {
		return lengthError("utilization_promises", len(d.UtilizationPromises), cyc.CycleLength)
	}
	if len(d.Utilizations) != cyc.CycleLength {
		return lengthError("utilizations", len(d.Utilizations), cyc.CycleLength)
	}
	return nil
}

func lengthError(field string, got, want int) error {
	return fmt.Errorf("billing: %s length %d != cycle_length %d", field, got, want)
}

// HiddenData is a participant's encrypted/masked contribution to a
// cycle's billing, held by an edge until billing for its cycle
// completes (spec.md §3).
type HiddenData struct {
	Client  ClientID
	CycleID CycleID

	Consumptions          *rlwe.Ciphertext
	Supplies              *rlwe.Ciphertext
	AcceptedConsumerFlag  *rlwe.Ciphertext
	AcceptedProducerFlag  *rlwe.Ciphertext
	PositiveDeviationFlag *rlwe.Ciphertext

	MaskedIndividualDeviations Vector
	MaskedP2PConsumerFlags     Vector
	MaskedP2PProducerFlags     Vector

	PublicHidingContext *hiding.PublicHidingContext
}

// Hide encrypts or masks every field of d under hc, producing the
// HiddenData an edge will accumulate. Masked fields use the masking
// IV derived from (cycle_id, field name) per spec.md §4.3.
func (d Data) Hide(hc *hiding.HidingContext) (*HiddenData, error) {
	consumptions, err := hc.Encrypt(d.Consumptions())
	if err != nil {
		return nil, err
	}
	supplies, err := hc.Encrypt(d.Supplies())
	if err != nil {
		return nil, err
	}
	acceptedConsumer, err := hc.Encrypt(d.AcceptedConsumerFlag())
	if err != nil {
		return nil, err
	}
	acceptedProducer, err := hc.Encrypt(d.AcceptedProducerFlag())
	if err != nil {
		return nil, err
	}
	positiveDeviation, err := hc.Encrypt(d.PositiveDeviationFlag())
	if err != nil {
		return nil, err
	}

	maskedDeviations := hc.Mask(d.IndividualDeviation(), hiding.MaskingIV(uint64(d.CycleID), "individual_deviation"))
	maskedConsumerFlags := hc.Mask(d.P2PConsumerFlag(), hiding.MaskingIV(uint64(d.CycleID), "p2p_consumer_flag"))
	maskedProducerFlags := hc.Mask(d.P2PProducerFlag(), hiding.MaskingIV(uint64(d.CycleID), "p2p_producer_flag"))

	return &HiddenData{
		Client:                     d.Client,
		CycleID:                    d.CycleID,
		Consumptions:               consumptions,
		Supplies:                   supplies,
		AcceptedConsumerFlag:       acceptedConsumer,
		AcceptedProducerFlag:       acceptedProducer,
		PositiveDeviationFlag:      positiveDeviation,
		MaskedIndividualDeviations: maskedDeviations,
		MaskedP2PConsumerFlags:     maskedConsumerFlags,
		MaskedP2PProducerFlags:     maskedProducerFlags,
		PublicHidingContext:        hc.PublicView(),
	}, nil
}

// hiddenDataWire is HiddenData's wire shape: ciphertext fields travel
// base64-wrapped via wire.CiphertextJSON, the same pattern the
// teacher's p2p.G1AffineJSON uses for a single crypto value.
type hiddenDataWire struct {
	Client                     ClientID            `json:"client"`
	CycleID                    CycleID             `json:"cycle_id"`
	Consumptions               wire.CiphertextJSON `json:"consumptions"`
	Supplies                   wire.CiphertextJSON `json:"supplies"`
	AcceptedConsumerFlag       wire.CiphertextJSON `json:"accepted_consumer_flag"`
	AcceptedProducerFlag       wire.CiphertextJSON `json:"accepted_producer_flag"`
	PositiveDeviationFlag      wire.CiphertextJSON `json:"positive_deviation_flag"`
	MaskedIndividualDeviations Vector              `json:"masked_individual_deviations"`
	MaskedP2PConsumerFlags     Vector              `json:"masked_p2p_consumer_flags"`
	MaskedP2PProducerFlags     Vector              `json:"masked_p2p_producer_flags"`
	PublicHidingContext        *hiding.PublicHidingContext `json:"public_hiding_context"`
}

// MarshalJSON implements json.Marshaler.
func (h *HiddenData) MarshalJSON() ([]byte, error) {
	return json.Marshal(hiddenDataWire{
		Client:                     h.Client,
		CycleID:                    h.CycleID,
		Consumptions:               wire.CiphertextJSON{Ciphertext: h.Consumptions},
		Supplies:                   wire.CiphertextJSON{Ciphertext: h.Supplies},
		AcceptedConsumerFlag:       wire.CiphertextJSON{Ciphertext: h.AcceptedConsumerFlag},
		AcceptedProducerFlag:       wire.CiphertextJSON{Ciphertext: h.AcceptedProducerFlag},
		PositiveDeviationFlag:      wire.CiphertextJSON{Ciphertext: h.PositiveDeviationFlag},
		MaskedIndividualDeviations: h.MaskedIndividualDeviations,
		MaskedP2PConsumerFlags:     h.MaskedP2PConsumerFlags,
		MaskedP2PProducerFlags:     h.MaskedP2PProducerFlags,
		PublicHidingContext:        h.PublicHidingContext,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (h *HiddenData) UnmarshalJSON(data []byte) error {
	var w hiddenDataWire
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("billing: unmarshaling hidden data: %w", err)
	}
	h.Client = w.Client
	h.CycleID = w.CycleID
	h.Consumptions = w.Consumptions.Ciphertext
	h.Supplies = w.Supplies.Ciphertext
	h.AcceptedConsumerFlag = w.AcceptedConsumerFlag.Ciphertext
	h.AcceptedProducerFlag = w.AcceptedProducerFlag.Ciphertext
	h.PositiveDeviationFlag = w.PositiveDeviationFlag.Ciphertext
	h.MaskedIndividualDeviations = w.MaskedIndividualDeviations
	h.MaskedP2PConsumerFlags = w.MaskedP2PConsumerFlags
	h.MaskedP2PProducerFlags = w.MaskedP2PProducerFlags
	h.PublicHidingContext = w.PublicHidingContext
	return nil
}

// CheckValidity verifies the masked vectors match cyc's cycle length.
func (h *HiddenData) CheckValidity(cyc *CycleContext) error {
	if len(h.MaskedIndividualDeviations) != cyc.CycleLength {
		return lengthError("masked_individual_deviations", len(h.MaskedIndividualDeviations), cyc.CycleLength)
	}
	if len(h.MaskedP2PConsumerFlags) != cyc.CycleLength {
		return lengthError("masked_p2p_consumer_flags", len(h.MaskedP2PConsumerFlags), cyc.CycleLength)
	}
	if len(h.MaskedP2PProducerFlags) != cyc.CycleLength {
		return lengthError("masked_p2p_producer_flags", len(h.MaskedP2PProducerFlags), cyc.CycleLength)
	}
	return nil
}

// UnmaskData sums the masked shares of every participant in
// cycleData into the revealed SharedCycleData (spec.md §3): because
// every pair of cores that exchanged mask seeds contributes
// cancelling shares, summation reveals the true aggregate.
func UnmaskData(cycleData []*HiddenData) *SharedCycleData {
	n := len(cycleData[0].MaskedIndividualDeviations)
	totalDeviations := make(Vector, n)
	totalConsumers := make(Vector, n)
	totalProducers := make(Vector, n)

	for _, datum := range cycleData {
		totalDeviations = totalDeviations.Add(datum.MaskedIndividualDeviations)
		totalConsumers = totalConsumers.Add(datum.MaskedP2PConsumerFlags)
		totalProducers = totalProducers.Add(datum.MaskedP2PProducerFlags)
	}

	return &SharedCycleData{
		TotalDeviations:   totalDeviations,
		TotalP2PConsumers: totalConsumers,
		TotalP2PProducers: totalProducers,
	}
}
