package network

import (
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/meterfold/privatebilling/internal/wire"
)

// HandlerFunc processes an incoming message from origin. If the
// message type Replies, the returned MessageType/payload pair is
// marshaled into the reply frame under the handler's own chosen reply
// type (spec.md §6's taxonomy table names reply types distinctly from
// their triggering request, e.g. get_bill's reply is tagged "bill");
// otherwise both are ignored and an empty acknowledgement frame has
// already gone out before the handler ran.
type HandlerFunc func(origin NodeInfo, env wire.Envelope) (wire.MessageType, any, error)

// Server is the embeddable network base every core/edge server
// builds on: self-certifying identity, a node table, gossip-based
// Connect handling, and length-framed signed-message transport.
// Grounded on PeerToPeerBillingBaseServer, substrate swapped from
// JSON-over-HTTP to raw TCP per spec.md §6.
type Server struct {
	Address wire.Address
	Role    Role
	Signer  *wire.Signer
	Table   *NodeTable

	// CycleLength is advertised in this server's Connect payloads so
	// peers can learn the active hiding-context batch size before any
	// cycle data arrives (spec.md §4.9). Zero means "not yet known".
	CycleLength int

	// OnNewPeer, if set, is invoked for every peer freshly registered
	// via gossip (including the direct target of an outbound Connect),
	// letting core/edge servers attach role-specific follow-up (seed
	// exchange, include_client).
	OnNewPeer func(NodeInfo)

	mu       sync.RWMutex
	handlers map[wire.MessageType]HandlerFunc

	listener net.Listener
	wg       sync.WaitGroup
	dispatch *errgroup.Group
	quit     chan struct{}
}

// NewServer builds a server bound to address, with an ephemeral
// signing key and an empty node table containing only self.
func NewServer(address wire.Address, role Role) (*Server, error) {
	signer, err := wire.NewSigner()
	if err != nil {
		return nil, fmt.Errorf("network: creating signer: %w", err)
	}
	table := NewNodeTable()
	table.Register(NodeInfo{Address: address, PublicKey: signer.PublicKeyBytes(), Role: role})

	dispatch := &errgroup.Group{}
	dispatch.SetLimit(1) // single-worker async dispatch pool, spec.md §5

	s := &Server{
		Address:  address,
		Role:     role,
		Signer:   signer,
		Table:    table,
		handlers: make(map[wire.MessageType]HandlerFunc),
		dispatch: dispatch,
		quit:     make(chan struct{}),
	}
	s.RegisterHandler(wire.TypeConnect, s.handleConnect)
	return s, nil
}

// ID is this server's self-certifying node identifier.
func (s *Server) ID() uint64 { return wire.DeriveNodeID(s.Signer.PublicKeyBytes()) }

// RegisterHandler installs handler for msgType, overwriting any prior
// registration. Safe to call after Start.
func (s *Server) RegisterHandler(msgType wire.MessageType, handler HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[msgType] = handler
}

// Start begins accepting connections in the background. It returns
// once the listener is bound; Stop reverses it.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.Address.String())
	if err != nil {
		return fmt.Errorf("network: listening on %s: %w", s.Address, err)
	}
	s.listener = ln

	if s.Address.Port == 0 {
		// Port 0 asks the OS to pick a free port (used by tests); adopt
		// the one actually bound so Send/Connect addresses resolve.
		boundAddr := ln.Addr().(*net.TCPAddr)
		old := s.Address
		s.Address.Port = boundAddr.Port
		s.Table.Register(NodeInfo{Address: s.Address, PublicKey: s.Signer.PublicKeyBytes(), Role: s.Role})
		s.Table.mu.Lock()
		delete(s.Table.members, old)
		s.Table.mu.Unlock()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := ln.Accept()
			if err != nil {
				select {
				case <-s.quit:
					return
				default:
					log.Error().Err(err).Msg("network: accept error")
					continue
				}
			}
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.handleConn(conn)
			}()
		}
	}()
	return nil
}

// Stop closes the listener and waits for in-flight connections and
// the async dispatch pool to drain.
func (s *Server) Stop() error {
	close(s.quit)
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	s.wg.Wait()
	_ = s.dispatch.Wait()
	return err
}

const connDeadline = time.Second

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(connDeadline))

	raw, err := wire.ReadFrame(conn)
	if err != nil {
		log.Debug().Err(err).Stringer("remote", conn.RemoteAddr()).Msg("network: reading frame")
		return
	}

	var sm wire.SignedMessage
	if err := json.Unmarshal(raw, &sm); err != nil {
		log.Error().Err(err).Msg("network: decoding signed message")
		return
	}
	env, err := wire.DecodeEnvelope(sm.Bytes)
	if err != nil {
		log.Error().Err(err).Msg("network: decoding envelope")
		_ = wire.WriteFrame(conn, nil)
		return
	}

	origin := s.Table.Get(env.ReplyAddress)

	s.mu.RLock()
	handler, ok := s.handlers[env.Type]
	s.mu.RUnlock()
	if !ok {
		log.Warn().Str("type", string(env.Type)).Stringer("from", env.ReplyAddress).Msg("network: no handler for message type")
		_ = wire.WriteFrame(conn, nil)
		return
	}

	if wire.RequiresVerification(env.Type) {
		if err := wire.VerifyMessage(sm, origin.PublicKey); err != nil {
			log.Warn().Err(err).Str("type", string(env.Type)).Stringer("from", env.ReplyAddress).Msg("network: rejecting message")
			_ = wire.WriteFrame(conn, nil)
			return
		}
	}

	if wire.Replies(env.Type) {
		s.execute(conn, handler, origin, env)
		return
	}

	_ = wire.WriteFrame(conn, nil)
	s.dispatch.Go(func() error {
		s.execute(nil, handler, origin, env)
		return nil
	})
}

// execute runs handler and, if conn is non-nil, writes its result as
// a signed reply frame tagged with the handler's own reply type.
// Errors are logged, never propagated to the caller, matching
// execute/async_execute's swallow-and-log behavior.
func (s *Server) execute(conn net.Conn, handler HandlerFunc, origin NodeInfo, env wire.Envelope) {
	replyType, result, err := handler(origin, env)
	if err != nil {
		log.Error().Err(err).Str("type", string(env.Type)).Stringer("from", env.ReplyAddress).Msg("network: handler failed")
		if conn != nil {
			_ = wire.WriteFrame(conn, nil)
		}
		return
	}
	if conn == nil {
		return
	}
	raw, err := wire.EncodeEnvelope(replyType, s.Address, result)
	if err != nil {
		log.Error().Err(err).Str("type", string(env.Type)).Msg("network: encoding reply")
		_ = wire.WriteFrame(conn, nil)
		return
	}
	sm, err := s.Signer.SignMessage(raw)
	if err != nil {
		log.Error().Err(err).Str("type", string(env.Type)).Msg("network: signing reply")
		return
	}
	out, err := json.Marshal(sm)
	if err != nil {
		log.Error().Err(err).Str("type", string(env.Type)).Msg("network: marshaling signed reply")
		return
	}
	_ = wire.WriteFrame(conn, out)
}

// Send dials target, delivers a signed envelope of msgType carrying
// payload, and returns the reply frame's raw bytes (nil for types
// that only acknowledge).
func (s *Server) Send(target wire.Address, msgType wire.MessageType, payload any) ([]byte, error) {
	conn, err := net.DialTimeout("tcp", target.String(), connDeadline)
	if err != nil {
		return nil, fmt.Errorf("network: dialing %s: %w", target, err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(connDeadline))

	raw, err := wire.EncodeEnvelope(msgType, s.Address, payload)
	if err != nil {
		return nil, fmt.Errorf("network: encoding %q for %s: %w", msgType, target, err)
	}
	sm, err := s.Signer.SignMessage(raw)
	if err != nil {
		return nil, fmt.Errorf("network: signing %q for %s: %w", msgType, target, err)
	}
	out, err := json.Marshal(sm)
	if err != nil {
		return nil, fmt.Errorf("network: marshaling %q for %s: %w", msgType, target, err)
	}
	if err := wire.WriteFrame(conn, out); err != nil {
		return nil, fmt.Errorf("network: sending %q to %s: %w", msgType, target, err)
	}

	reply, err := wire.ReadFrame(conn)
	if err != nil {
		return nil, fmt.Errorf("network: reading reply to %q from %s: %w", msgType, target, err)
	}
	return reply, nil
}

// Broadcast fans msgType/payload out to every target concurrently,
// logging per-target failures rather than aborting the batch — a peer
// that is briefly unreachable should not block delivery to the rest,
// matching Broadcast's fire-and-forget fan-out.
func (s *Server) Broadcast(targets []NodeInfo, msgType wire.MessageType, payload any) {
	var wg sync.WaitGroup
	for _, target := range targets {
		wg.Add(1)
		go func(addr wire.Address) {
			defer wg.Done()
			if _, err := s.Send(addr, msgType, payload); err != nil {
				log.Warn().Err(err).Str("type", string(msgType)).Stringer("to", addr).Msg("network: broadcast target unreachable")
			}
		}(target.Address)
	}
	wg.Wait()
}

// handleConnect is the default TypeConnect handler: gossip-based
// fixed-point membership discovery, grounded on
// PeerToPeerBillingBaseServer.handle_connect. It requires no
// signature (a node's first message necessarily predates the sender
// knowing any verification key).
func (s *Server) handleConnect(origin NodeInfo, env wire.Envelope) (wire.MessageType, any, error) {
	_, err := s.HandleConnect(origin, env)
	return wire.TypeConnect, nil, err
}

// HandleConnect runs the default Connect processing and returns the
// decoded payload, so role-specific servers (core, edge) can wrap it
// and inspect fields like CycleLength without reimplementing the
// gossip diff/register/reciprocate loop.
func (s *Server) HandleConnect(origin NodeInfo, env wire.Envelope) (ConnectPayload, error) {
	var payload ConnectPayload
	if err := env.DecodePayload(&payload); err != nil {
		return payload, err
	}

	wasKnown := s.Table.Has(origin.Address)
	origin.PublicKey = payload.PublicKey
	origin.Role = payload.Role
	s.Table.Register(origin)
	if !wasKnown {
		if s.OnNewPeer != nil {
			s.OnNewPeer(origin)
		}
		// Reciprocate directly: origin may not yet know about us.
		go s.SendConnect(origin.Address)
	}

	otherState, err := DecodeNetworkState(payload.NetworkState)
	if err != nil {
		return payload, err
	}

	for addr, candidate := range otherState {
		if s.Table.Has(addr) || addr == s.Address {
			continue
		}
		s.Table.Register(candidate)
		if s.OnNewPeer != nil {
			s.OnNewPeer(candidate)
		}
		go s.SendConnect(candidate.Address)
	}
	return payload, nil
}

// SendConnect sends this server's Connect introduction (address, key,
// role, full known network state) to target, the gossip message that
// drives the fixed-point membership-discovery loop.
func (s *Server) SendConnect(target wire.Address) {
	payload := ConnectPayload{
		Address:      s.Address,
		PublicKey:    s.Signer.PublicKeyBytes(),
		Role:         s.Role,
		NetworkState: EncodeNetworkState(s.Table.Snapshot()),
		CycleLength:  s.CycleLength,
	}
	if _, err := s.Send(target, wire.TypeConnect, payload); err != nil {
		log.Warn().Err(err).Stringer("to", target).Msg("network: sending connect")
	}
}
