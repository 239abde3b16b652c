// Package billing implements the per-cycle data model (C5) and the
// shared biller (C6): the plaintext Data a core owns, its hidden
// (encrypted/masked) counterpart shipped to an edge, the shared
// aggregate revealed once every participant's share is in, and the
// resulting per-participant bill.
package billing

import (
	"fmt"

	"github.com/meterfold/privatebilling/internal/vector"
)

// Vector is the fixed-length real vector type every billing entity is
// built from.
type Vector = vector.Vector

// CycleID identifies one billing cycle.
type CycleID uint64

// ClientID identifies a core participating in a cycle.
type ClientID uint64

// CycleContext carries the market prices for one billing cycle:
// immutable once created, replicated plaintext to every node via
// gossip (spec.md §3).
type CycleContext struct {
	CycleID       CycleID
	CycleLength   int
	RetailPrices  Vector
	FeedInTariffs Vector
	TradingPrices Vector
}

// NewCycleContext builds a CycleContext, checking that every price
// vector matches cycleLength.
func NewCycleContext(id CycleID, cycleLength int, retail, feedIn, trading Vector) (*CycleContext, error) {
	cyc := &CycleContext{
		CycleID:       id,
		CycleLength:   cycleLength,
		RetailPrices:  retail,
		FeedInTariffs: feedIn,
		TradingPrices: trading,
	}
	if err := cyc.CheckValidity(); err != nil {
		return nil, err
	}
	return cyc, nil
}

// CheckValidity verifies that every price vector has length CycleLength.
func (c *CycleContext) CheckValidity() error {
	if len(c.RetailPrices) != c.CycleLength {
		return fmt.Errorf("billing: retail_prices length %d != cycle_length %d", len(c.RetailPrices), c.CycleLength)
	}
	if len(c.FeedInTariffs) != c.CycleLength {
		return fmt.Errorf("billing: feed_in_tariffs length %d != cycle_length %d", len(c.FeedInTariffs), c.CycleLength)
	}
	if len(c.TradingPrices) != c.CycleLength {
		return fmt.Errorf("billing: trading_prices length %d != cycle_length %d", len(c.TradingPrices), c.CycleLength)
	}
	return nil
}

// SharedCycleData holds the per-slot aggregates revealed once every
// participating core's masked shares have been summed (spec.md §3).
type SharedCycleData struct {
	TotalDeviations   Vector
	TotalP2PConsumers Vector
	TotalP2PProducers Vector
}

// PositiveTotalDeviationFlags returns 1 where TotalDeviations > 0.
func (s SharedCycleData) PositiveTotalDeviationFlags() Vector {
	return s.TotalDeviations.PositiveFlags()
}

// NegativeTotalDeviationFlags returns 1 where TotalDeviations < 0.
func (s SharedCycleData) NegativeTotalDeviationFlags() Vector {
	return s.TotalDeviations.MulScalar(-1).PositiveFlags()
}

// CheckValidity verifies every aggregate vector matches cyc.CycleLength.
func (s SharedCycleData) CheckValidity(cyc *CycleContext) error {
	if len(s.TotalDeviations) != cyc.CycleLength {
		return fmt.Errorf("billing: total_deviations length %d != cycle_length %d", len(s.TotalDeviations), cyc.CycleLength)
	}
	if len(s.TotalP2PConsumers) != cyc.CycleLength {
		return fmt.Errorf("billing: total_p2p_consumers length %d != cycle_length %d", len(s.TotalP2PConsumers), cyc.CycleLength)
	}
	if len(s.TotalP2PProducers) != cyc.CycleLength {
		return fmt.Errorf("billing: total_p2p_producers length %d != cycle_length %d", len(s.TotalP2PProducers), cyc.CycleLength)
	}
	return nil
}

// Bill is the final, plaintext per-participant outcome of a billing
// cycle.
type Bill struct {
	CycleID CycleID
	Bill    Vector
	Reward  Vector
}

// Total returns Σbill - Σreward.
func (b Bill) Total() float64 {
	var total float64
	for _, v := range b.Bill {
		total += v
	}
	for _, v := range b.Reward {
		total -= v
	}
	return total
}
