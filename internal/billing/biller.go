package billing

import (
	"fmt"
	"sync"
)

// NotReadyError is returned by SharedBiller.ComputeBills when a cycle
// is not yet eligible for billing.
type NotReadyError struct {
	CycleID CycleID
}

func (e NotReadyError) Error() string {
	return fmt.Sprintf("billing: cycle %d is not ready for billing", e.CycleID)
}

// SharedBiller accumulates every client's HiddenData for a cycle and,
// once ready, computes each recorded client's HiddenBill (C6). It is
// the edge role's core state and is safe for concurrent use.
type SharedBiller struct {
	mu            sync.Mutex
	clientData    map[CycleID]map[ClientID]*HiddenData
	cycleContexts map[CycleID]*CycleContext
	clients       map[ClientID]struct{}
}

// NewSharedBiller builds an empty SharedBiller.
func NewSharedBiller() *SharedBiller {
	return &SharedBiller{
		clientData:    make(map[CycleID]map[ClientID]*HiddenData),
		cycleContexts: make(map[CycleID]*CycleContext),
		clients:       make(map[ClientID]struct{}),
	}
}

// RecordData stores hd under its (cycle_id, client) key.
func (b *SharedBiller) RecordData(hd *HiddenData) {
	b.mu.Lock()
	defer b.mu.Unlock()
	byClient, ok := b.clientData[hd.CycleID]
	if !ok {
		byClient = make(map[ClientID]*HiddenData)
		b.clientData[hd.CycleID] = byClient
	}
	byClient[hd.Client] = hd
}

// RecordContext stores cyc under its cycle_id.
func (b *SharedBiller) RecordContext(cyc *CycleContext) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cycleContexts[cyc.CycleID] = cyc
}

// IncludeClient adds c to the certified set used to compute aggregates.
func (b *SharedBiller) IncludeClient(c ClientID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clients[c] = struct{}{}
}

// ExcludeClient removes c from the certified set, if present.
func (b *SharedBiller) ExcludeClient(c ClientID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.clients, c)
}

// IsReady reports whether billing can proceed for cid: the client set
// is non-empty, a context is recorded, and every included client has
// submitted data for cid.
func (b *SharedBiller) IsReady(cid CycleID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.isReadyLocked(cid)
}

func (b *SharedBiller) isReadyLocked(cid CycleID) bool {
	if len(b.clients) == 0 {
		return false
	}
	if _, ok := b.cycleContexts[cid]; !ok {
		return false
	}
	cycleData := b.clientData[cid]
	for c := range b.clients {
		if _, ok := cycleData[c]; !ok {
			return false
		}
	}
	return true
}

// ComputeBills computes the HiddenBill for every client with recorded
// data for cid (spec.md §4.6). Only included clients' masked shares
// feed the revealed aggregate; a stranger's data would otherwise leak
// individual values into the sum.
func (b *SharedBiller) ComputeBills(cid CycleID) (map[ClientID]*HiddenBill, error) {
	b.mu.Lock()
	if !b.isReadyLocked(cid) {
		b.mu.Unlock()
		return nil, NotReadyError{CycleID: cid}
	}
	cycleData := b.clientData[cid]
	cyc := b.cycleContexts[cid]

	included := make([]*HiddenData, 0, len(b.clients))
	for c := range b.clients {
		included = append(included, cycleData[c])
	}
	recorded := make(map[ClientID]*HiddenData, len(cycleData))
	for c, hd := range cycleData {
		recorded[c] = hd
	}
	b.mu.Unlock()

	scd := UnmaskData(included)
	if err := scd.CheckValidity(cyc); err != nil {
		return nil, fmt.Errorf("billing: validating shared cycle data for cycle %d: %w", cid, err)
	}

	bills := make(map[ClientID]*HiddenBill, len(recorded))
	for c, hd := range recorded {
		bill, err := hd.ComputeHiddenBill(scd, cyc)
		if err != nil {
			return nil, fmt.Errorf("billing: computing bill for client %d, cycle %d: %w", c, cid, err)
		}
		bills[c] = bill
	}
	return bills, nil
}
