package edge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meterfold/privatebilling/internal/billing"
	"github.com/meterfold/privatebilling/internal/core"
	"github.com/meterfold/privatebilling/internal/network"
	"github.com/meterfold/privatebilling/internal/wire"
)

func newTestEdge(t *testing.T, cycleLength int) *Server {
	t.Helper()
	s, err := New(wire.Address{Host: "127.0.0.1", Port: 0}, cycleLength)
	require.NoError(t, err)
	require.NoError(t, s.Start())
	t.Cleanup(func() { _ = s.Stop() })
	return s
}

func newTestCore(t *testing.T) *core.Server {
	t.Helper()
	c, err := core.New(wire.Address{Host: "127.0.0.1", Port: 0})
	require.NoError(t, err)
	require.NoError(t, c.Net.Start())
	t.Cleanup(func() { _ = c.Stop() })
	return c
}

func constVector(n int, v float64) billing.Vector {
	out := make(billing.Vector, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// TestEndToEndZeroCase wires a single core to a single edge over real
// TCP loopback connections and drives a full billing cycle: Connect
// handshake, CycleContext gossip, a local Data reading hidden and
// forwarded by the core, and the resulting HiddenBill decrypted back
// at the core. Zero utilization against zero promise nets a zero bill
// (spec.md §8 scenario 1).
func TestEndToEndZeroCase(t *testing.T) {
	const cycleLength = 4
	e := newTestEdge(t, cycleLength)
	c := newTestCore(t)

	require.NoError(t, c.Start(e.Net.Address))
	require.Eventually(t, func() bool {
		return e.Net.Table.Has(c.Net.Address) && c.Net.Table.Has(e.Net.Address)
	}, 5*time.Second, 20*time.Millisecond)
	require.Eventually(t, c.Ready, 5*time.Second, 20*time.Millisecond)

	cyc, err := billing.NewCycleContext(1, cycleLength,
		constVector(cycleLength, 0.21), constVector(cycleLength, 0.05), constVector(cycleLength, 0.11))
	require.NoError(t, err)

	admin, err := network.NewServer(wire.Address{Host: "127.0.0.1", Port: 0}, network.RoleEdge)
	require.NoError(t, err)
	require.NoError(t, admin.Start())
	t.Cleanup(func() { _ = admin.Stop() })
	_, err = admin.Send(e.Net.Address, wire.TypeCycleContext, CycleContextPayload{Context: cyc})
	require.NoError(t, err)

	_, err = c.Net.Send(c.Net.Address, wire.TypeData, core.DataPayload{
		Data: &billing.Data{
			CycleID:             cyc.CycleID,
			UtilizationPromises: constVector(cycleLength, 0),
			Utilizations:        constVector(cycleLength, 0),
		},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, ok := c.Bill(cyc.CycleID)
		return ok
	}, 2*time.Second, 20*time.Millisecond)

	bill, ok := c.Bill(cyc.CycleID)
	require.True(t, ok)
	for i := range bill.Bill {
		assert.InDelta(t, 0, bill.Bill[i], 1e-3)
		assert.InDelta(t, 0, bill.Reward[i], 1e-3)
	}
}

func TestExcludeClientRemovesFromBiller(t *testing.T) {
	e := newTestEdge(t, 4)
	coreNode := network.NodeInfo{Role: network.RoleCore, PublicKey: []byte("core-key")}
	clientID := billing.ClientID(coreNode.ID())

	e.onNewPeer(coreNode)
	cyc, err := billing.NewCycleContext(1, 4, constVector(4, 0.2), constVector(4, 0.05), constVector(4, 0.1))
	require.NoError(t, err)
	e.biller.RecordContext(cyc)
	e.biller.RecordData(&billing.HiddenData{Client: clientID, CycleID: 1})
	require.True(t, e.biller.IsReady(1))

	e.ExcludeClient(clientID)
	assert.False(t, e.biller.IsReady(1))
}

func TestOnNewPeerOnlyIncludesCores(t *testing.T) {
	e := newTestEdge(t, 4)
	edgeNode := network.NodeInfo{Role: network.RoleEdge, PublicKey: []byte("x")}
	e.onNewPeer(edgeNode)
	// No direct observer into SharedBiller's client set from outside
	// the package; exercise indirectly: had the edge been included, its
	// recorded data would make cycle 1 ready, but with an empty client
	// set IsReady stays false.
	cyc, err := billing.NewCycleContext(1, 4, constVector(4, 0.2), constVector(4, 0.05), constVector(4, 0.1))
	require.NoError(t, err)
	e.biller.RecordContext(cyc)
	e.biller.RecordData(&billing.HiddenData{Client: billing.ClientID(edgeNode.ID()), CycleID: 1})
	assert.False(t, e.biller.IsReady(1))
}
