// Package edge implements the EDGE server role: a billing-network hub
// that never sees plaintext consumption data, accumulates every
// core's HiddenData for a cycle, and runs the bill-computation kernel
// once all expected shares are in. Grounded on
// private_billing/edge_server.py.
package edge

import (
	"strconv"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/meterfold/privatebilling/internal/billing"
	"github.com/meterfold/privatebilling/internal/network"
	"github.com/meterfold/privatebilling/internal/wire"
)

// Server is an EDGE network participant.
type Server struct {
	Net *network.Server

	biller      *billing.SharedBiller
	cycleLength int

	billGroup singleflight.Group // guards concurrent compute_bills for the same cycle

	// OnBillComputed and OnBillingFailure, if set, observe the outcome
	// of every attemptBilling call — billingd uses them to drive
	// Prometheus counters without this package depending on metrics.
	OnBillComputed   func(billing.CycleID)
	OnBillingFailure func(billing.CycleID, error)
}

// New builds an edge server bound to address, advertising cycleLength
// in its Connect payloads so joining cores can size a hiding context
// before any cycle data arrives.
func New(address wire.Address, cycleLength int) (*Server, error) {
	net, err := network.NewServer(address, network.RoleEdge)
	if err != nil {
		return nil, err
	}
	net.CycleLength = cycleLength

	s := &Server{
		Net:         net,
		biller:      billing.NewSharedBiller(),
		cycleLength: cycleLength,
	}
	net.OnNewPeer = s.onNewPeer
	net.RegisterHandler(wire.TypeHiddenData, s.handleHiddenData)
	net.RegisterHandler(wire.TypeCycleContext, s.handleCycleContext)
	return s, nil
}

func (s *Server) Start() error { return s.Net.Start() }
func (s *Server) Stop() error  { return s.Net.Stop() }

// ExcludeClient drops a client from the certified set the biller
// aggregates over, the administrative counterpart to the automatic
// IncludeClient that onNewPeer performs on gossip discovery.
func (s *Server) ExcludeClient(id billing.ClientID) {
	s.biller.ExcludeClient(id)
}

// onNewPeer includes every newly-discovered CORE in the certified
// client set the biller aggregates over, mirroring
// EdgeServer.register_node's include_client call.
func (s *Server) onNewPeer(n network.NodeInfo) {
	if n.Role != network.RoleCore {
		return
	}
	s.biller.IncludeClient(billing.ClientID(n.ID()))
}

// CycleContextPayload carries a CycleContext across the wire.
type CycleContextPayload struct {
	Context *billing.CycleContext `json:"context"`
}

// handleCycleContext records a cycle's prices, attempts billing, and
// rebroadcasts the context to every known peer — gossip propagation
// of cycle setup, per EdgeServer.handle_context_data.
func (s *Server) handleCycleContext(origin network.NodeInfo, env wire.Envelope) (wire.MessageType, any, error) {
	var payload CycleContextPayload
	if err := env.DecodePayload(&payload); err != nil {
		return wire.TypeCycleContext, nil, err
	}

	s.biller.RecordContext(payload.Context)
	s.attemptBilling(payload.Context.CycleID)

	peers := s.Net.Table.Peers(s.Net.Address)
	go s.Net.Broadcast(peers, wire.TypeCycleContext, payload)
	return wire.TypeCycleContext, nil, nil
}

// HiddenDataPayload carries a HiddenData across the wire.
type HiddenDataPayload struct {
	Data *billing.HiddenData `json:"data"`
}

// handleHiddenData records an incoming share and attempts billing,
// per EdgeServer.handle_hidden_data.
func (s *Server) handleHiddenData(origin network.NodeInfo, env wire.Envelope) (wire.MessageType, any, error) {
	var payload HiddenDataPayload
	if err := env.DecodePayload(&payload); err != nil {
		return wire.TypeHiddenData, nil, err
	}
	s.biller.RecordData(payload.Data)
	s.attemptBilling(payload.Data.CycleID)
	return wire.TypeHiddenData, nil, nil
}

// attemptBilling runs the billing process for cid if the biller is
// ready, sending each resulting HiddenBill to its owning core.
// singleflight collapses concurrent attempts for the same cycle into
// one computation, the race guard spec.md §5 requires: handle_hidden_data
// and handle_cycle_context can both trigger an attempt for the same
// cycle from different goroutines as shares arrive close together.
func (s *Server) attemptBilling(cid billing.CycleID) {
	if !s.biller.IsReady(cid) {
		return
	}

	key := strconv.FormatUint(uint64(cid), 10)
	_, err, _ := s.billGroup.Do(key, func() (any, error) {
		bills, err := s.biller.ComputeBills(cid)
		if err != nil {
			return nil, err
		}
		s.sendHiddenBills(bills)
		return nil, nil
	})
	if err != nil {
		log.Error().Err(err).Uint64("cycle", uint64(cid)).Msg("edge: billing cycle failed")
		if s.OnBillingFailure != nil {
			s.OnBillingFailure(cid, err)
		}
		return
	}
	if s.OnBillComputed != nil {
		s.OnBillComputed(cid)
	}
}

// HiddenBillPayload carries a HiddenBill across the wire.
type HiddenBillPayload struct {
	Bill *billing.HiddenBill `json:"bill"`
}

// sendHiddenBills delivers each client's bill to the matching core in
// the node table, per EdgeServer.send_hidden_bills.
func (s *Server) sendHiddenBills(bills map[billing.ClientID]*billing.HiddenBill) {
	var wg sync.WaitGroup
	for _, member := range s.Net.Table.Cores() {
		bill, ok := bills[billing.ClientID(member.ID())]
		if !ok {
			continue
		}
		wg.Add(1)
		go func(addr wire.Address, bill *billing.HiddenBill) {
			defer wg.Done()
			if _, err := s.Net.Send(addr, wire.TypeHiddenBill, HiddenBillPayload{Bill: bill}); err != nil {
				log.Warn().Err(err).Stringer("to", addr).Msg("edge: sending hidden bill")
			}
		}(member.Address, bill)
	}
	wg.Wait()
}
