// Package core implements the CORE server role: the per-household
// device that produces metering Data, holds its own CKKS secret key,
// and reassembles its own Bill once the edge network
// returns a HiddenBill. Grounded on private_billing/core_server.py.
package core

import (
	"fmt"
	"sync"

	"github.com/meterfold/privatebilling/internal/billing"
	"github.com/meterfold/privatebilling/internal/fixedpoint"
	"github.com/meterfold/privatebilling/internal/hiding"
	"github.com/meterfold/privatebilling/internal/masking"
	"github.com/meterfold/privatebilling/internal/network"
	"github.com/meterfold/privatebilling/internal/wire"
)

// defaultConvertor matches SharedMaskGenerator(Int64ToFloatConvertor(6, 4))
// in the original core_server.py: 6 integer digits, 4 fractional.
func defaultConvertor() fixedpoint.Convertor { return fixedpoint.New(6, 4) }

// Server is a CORE network participant.
type Server struct {
	Net *network.Server

	mu       sync.Mutex
	mg       *masking.Generator
	hc       *hiding.HidingContext
	bills    map[billing.CycleID]billing.Bill
	haveBill map[billing.CycleID]bool
}

// New builds a core server bound to address.
func New(address wire.Address) (*Server, error) {
	net, err := network.NewServer(address, network.RoleCore)
	if err != nil {
		return nil, err
	}
	s := &Server{
		Net:      net,
		mg:       masking.NewGenerator(defaultConvertor()),
		bills:    make(map[billing.CycleID]billing.Bill),
		haveBill: make(map[billing.CycleID]bool),
	}
	net.OnNewPeer = s.onNewPeer
	net.RegisterHandler(wire.TypeConnect, s.handleConnect)
	net.RegisterHandler(wire.TypeSeed, s.handleSeed)
	net.RegisterHandler(wire.TypeData, s.handleData)
	net.RegisterHandler(wire.TypeHiddenBill, s.handleHiddenBill)
	net.RegisterHandler(wire.TypeGetBill, s.handleGetBill)
	net.RegisterHandler(wire.TypeCycleContext, s.handleCycleContext)
	return s, nil
}

// Start begins listening and joins the network by connecting to a
// bootstrap edge address, mirroring CoreServer.start's
// connect-then-serve sequence.
func (s *Server) Start(bootstrapEdge wire.Address) error {
	if err := s.Net.Start(); err != nil {
		return err
	}
	s.Net.SendConnect(bootstrapEdge)
	return nil
}

func (s *Server) Stop() error { return s.Net.Stop() }

// handleConnect runs the default gossip handling, then bootstraps the
// hiding context from the connecting edge's advertised cycle length
// if none exists yet, and attempts seed exchange with the peer.
func (s *Server) handleConnect(origin network.NodeInfo, env wire.Envelope) (wire.MessageType, any, error) {
	payload, err := s.Net.HandleConnect(origin, env)
	if err != nil {
		return wire.TypeConnect, nil, err
	}

	s.mu.Lock()
	if payload.CycleLength > 0 && s.hc == nil {
		hc, err := hiding.New(payload.CycleLength, s.mg)
		if err != nil {
			s.mu.Unlock()
			return wire.TypeConnect, nil, fmt.Errorf("core: initializing hiding context: %w", err)
		}
		s.hc = hc
	}
	s.mu.Unlock()

	s.trySendSeed(origin)
	return wire.TypeConnect, nil, nil
}

// onNewPeer fires for every peer this server newly learns about,
// including ones discovered transitively through gossip — each such
// peer gets the same seed-exchange attempt a directly connecting peer
// would, since both sides need the pairwise mask established exactly
// once regardless of how they were introduced.
func (s *Server) onNewPeer(n network.NodeInfo) {
	s.trySendSeed(n)
}

// trySendSeed sends this server's share of the pairwise PRG seed to
// member if member is a CORE peer and no seed has been sent yet.
func (s *Server) trySendSeed(member network.NodeInfo) {
	if member.Role != network.RoleCore {
		return
	}
	peer := masking.PeerID(member.ID())
	if peer == 0 || peer == masking.PeerID(s.Net.ID()) {
		return
	}
	if s.mg.HasSeedForPeer(peer) {
		return
	}
	seed := s.mg.SeedForPeer(peer)
	payload := SeedPayload{Seed: seed.Bytes()}
	if _, err := s.Net.Send(member.Address, wire.TypeSeed, payload); err != nil {
		return
	}
}

// SeedPayload carries one peer's half of a pairwise masking seed.
// Seed travels as the big-endian byte encoding of a uint256, matching
// masking.Seed's representation.
type SeedPayload struct {
	Seed []byte `json:"seed"`
}

func (s *Server) handleSeed(origin network.NodeInfo, env wire.Envelope) (wire.MessageType, any, error) {
	var payload SeedPayload
	if err := env.DecodePayload(&payload); err != nil {
		return wire.TypeSeed, nil, err
	}
	seed := new(masking.Seed).SetBytes(payload.Seed)
	peer := masking.PeerID(origin.ID())

	s.mg.AcceptForeignSeed(seed, peer)
	s.trySendSeed(origin)
	return wire.TypeSeed, nil, nil
}

// DataPayload carries a local meter's plaintext Data reading, entering
// the network at whichever core owns that client's device.
type DataPayload struct {
	Data *billing.Data `json:"data"`
}

// handleData hides a locally-produced plaintext reading and forwards
// it, as HiddenData, to every known edge — CoreServer.handle_data's
// fan-out.
func (s *Server) handleData(origin network.NodeInfo, env wire.Envelope) (wire.MessageType, any, error) {
	var payload DataPayload
	if err := env.DecodePayload(&payload); err != nil {
		return wire.TypeData, nil, err
	}

	s.mu.Lock()
	hc := s.hc
	s.mu.Unlock()
	if hc == nil {
		return wire.TypeData, nil, fmt.Errorf("core: no hiding context yet, cannot hide data")
	}

	hidden, err := payload.Data.Hide(hc)
	if err != nil {
		return wire.TypeData, nil, fmt.Errorf("core: hiding data: %w", err)
	}
	hidden.Client = billing.ClientID(s.Net.ID())

	for _, edge := range s.Net.Table.Edges() {
		if _, err := s.Net.Send(edge.Address, wire.TypeHiddenData, HiddenDataPayload{Data: hidden}); err != nil {
			continue
		}
	}
	return wire.TypeData, nil, nil
}

// HiddenDataPayload wraps a HiddenData object for the wire.
type HiddenDataPayload struct {
	Data *billing.HiddenData `json:"data"`
}

// HiddenBillPayload wraps a HiddenBill object for the wire.
type HiddenBillPayload struct {
	Bill *billing.HiddenBill `json:"bill"`
}

// handleHiddenBill decrypts an incoming HiddenBill with this server's
// secret key and stores the revealed Bill.
func (s *Server) handleHiddenBill(origin network.NodeInfo, env wire.Envelope) (wire.MessageType, any, error) {
	var payload HiddenBillPayload
	if err := env.DecodePayload(&payload); err != nil {
		return wire.TypeHiddenBill, nil, err
	}

	s.mu.Lock()
	hc := s.hc
	s.mu.Unlock()
	if hc == nil {
		return wire.TypeHiddenBill, nil, fmt.Errorf("core: no hiding context yet, cannot reveal bill")
	}

	bill := payload.Bill.Reveal(hc)

	s.mu.Lock()
	s.bills[bill.CycleID] = bill
	s.haveBill[bill.CycleID] = true
	s.mu.Unlock()
	return wire.TypeHiddenBill, nil, nil
}

// GetBillPayload requests the bill for a cycle.
type GetBillPayload struct {
	CycleID billing.CycleID `json:"cycle_id"`
}

// BillPayload is the reply to GetBillPayload: Bill is nil if the
// cycle hasn't been billed yet.
type BillPayload struct {
	Bill *billing.Bill `json:"bill"`
}

// handleGetBill replies with wire.TypeBill, the reply type spec.md §6's
// taxonomy table names distinctly from the get_bill request itself.
func (s *Server) handleGetBill(origin network.NodeInfo, env wire.Envelope) (wire.MessageType, any, error) {
	var payload GetBillPayload
	if err := env.DecodePayload(&payload); err != nil {
		return wire.TypeBill, nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.haveBill[payload.CycleID] {
		return wire.TypeBill, BillPayload{Bill: nil}, nil
	}
	bill := s.bills[payload.CycleID]
	return wire.TypeBill, BillPayload{Bill: &bill}, nil
}

// handleCycleContext is a deliberate no-op: cores never act on gossip
// of CycleContext, it is edge-only state (CoreServer.handle_cycle_context).
func (s *Server) handleCycleContext(origin network.NodeInfo, env wire.Envelope) (wire.MessageType, any, error) {
	return wire.TypeCycleContext, nil, nil
}

// Bill returns the bill stored for cid, if this core has revealed one.
func (s *Server) Bill(cid billing.CycleID) (billing.Bill, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.haveBill[cid] {
		return billing.Bill{}, false
	}
	return s.bills[cid], true
}

// Ready reports whether this core has a hiding context and its mask
// generator has completed seed exchange with every peer it currently
// knows of.
func (s *Server) Ready() bool {
	s.mu.Lock()
	hc := s.hc
	s.mu.Unlock()
	return hc != nil && hc.IsReady()
}
