// Package network implements the peer-to-peer membership and
// transport layer shared by core and edge servers: a self-certifying
// node table, gossip-based membership discovery, and the
// length-framed, optionally-signed request/reply transport the
// billing protocol rides on.
package network

import (
	"fmt"
	"sync"

	"github.com/meterfold/privatebilling/internal/wire"
)

// Role is a node's position in the billing network (spec.md §3).
type Role string

const (
	RoleCore Role = "core"
	RoleEdge Role = "edge"
)

// NodeInfo describes one member of the network: its address, its
// signing public key (once known) and its role. ID is self-certifying
// — derived from the public key, never assigned by a peer — per
// spec.md §3's "node identity" note.
type NodeInfo struct {
	Address   wire.Address
	PublicKey []byte
	Role      Role
}

// ID returns this node's self-certifying identifier. It is the zero
// value until PublicKey is known, matching the teacher's best-effort
// NodeInfo for peers only seen by address so far.
func (n NodeInfo) ID() uint64 {
	if len(n.PublicKey) == 0 {
		return 0
	}
	return wire.DeriveNodeID(n.PublicKey)
}

// wireNodeInfo is NodeInfo's JSON-safe shape, used inside Connect
// payloads where PublicKey must travel as a base64 string rather than
// raw bytes glued into a struct tag (encoding/json already base64s a
// []byte field, so this alias exists only for documentation clarity).
type wireNodeInfo = NodeInfo

// NodeTable is the mutex-guarded directory of known network members,
// keyed by address, grounded on
// PeerToPeerBillingBaseServer.network_members.
type NodeTable struct {
	mu      sync.RWMutex
	members map[wire.Address]*NodeInfo
}

// NewNodeTable returns an empty table.
func NewNodeTable() *NodeTable {
	return &NodeTable{members: make(map[wire.Address]*NodeInfo)}
}

// Register locally records node, overwriting any prior entry at the
// same address.
func (t *NodeTable) Register(node NodeInfo) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := node
	t.members[node.Address] = &n
}

// Get returns the best-effort NodeInfo known for addr: the recorded
// entry if one exists, or a bare, role-less NodeInfo otherwise
// (mirrors get_node_info's fallback `NodeInfo(address, None, None)`).
func (t *NodeTable) Get(addr wire.Address) NodeInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if n, ok := t.members[addr]; ok {
		return *n
	}
	return NodeInfo{Address: addr}
}

// Has reports whether addr is a known member.
func (t *NodeTable) Has(addr wire.Address) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.members[addr]
	return ok
}

// Snapshot returns a copy of the full member map, keyed by address,
// suitable for embedding in a Connect gossip payload.
func (t *NodeTable) Snapshot() map[wire.Address]NodeInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[wire.Address]NodeInfo, len(t.members))
	for addr, n := range t.members {
		out[addr] = *n
	}
	return out
}

// Peers returns every member except self.
func (t *NodeTable) Peers(self wire.Address) []NodeInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]NodeInfo, 0, len(t.members))
	for addr, n := range t.members {
		if addr == self {
			continue
		}
		out = append(out, *n)
	}
	return out
}

// Edges returns every known member with role EDGE.
func (t *NodeTable) Edges() []NodeInfo {
	return t.withRole(RoleEdge)
}

// Cores returns every known member with role CORE.
func (t *NodeTable) Cores() []NodeInfo {
	return t.withRole(RoleCore)
}

func (t *NodeTable) withRole(role Role) []NodeInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]NodeInfo, 0, len(t.members))
	for _, n := range t.members {
		if n.Role == role {
			out = append(out, *n)
		}
	}
	return out
}

func (r Role) String() string { return string(r) }

// ConnectPayload is the TypeConnect message body: a node introducing
// itself and gossiping its view of the network, per spec.md §4.8.
type ConnectPayload struct {
	Address      wire.Address            `json:"address"`
	PublicKey    []byte                  `json:"public_key"`
	Role         Role                    `json:"role"`
	NetworkState map[string]wireNodeInfo `json:"network_state"`
	CycleLength  int                     `json:"cycle_length,omitempty"`
}

// EncodeNetworkState flattens a Snapshot into the string-keyed map
// ConnectPayload carries, since Go's encoding/json requires map keys
// to be strings (wire.Address is a struct).
func EncodeNetworkState(members map[wire.Address]NodeInfo) map[string]wireNodeInfo {
	out := make(map[string]wireNodeInfo, len(members))
	for addr, n := range members {
		out[addr.String()] = n
	}
	return out
}

// DecodeNetworkState inverts EncodeNetworkState.
func DecodeNetworkState(flat map[string]wireNodeInfo) (map[wire.Address]NodeInfo, error) {
	out := make(map[wire.Address]NodeInfo, len(flat))
	for key, n := range flat {
		out[n.Address] = n
		_ = key // address is carried in the value; the string key only satisfies JSON
	}
	if len(flat) != len(out) {
		return nil, fmt.Errorf("network: duplicate address in network_state")
	}
	return out, nil
}
