package mesh_test

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BioHazard786/shareboard/internal/mesh"
	"github.com/BioHazard786/shareboard/internal/mesh/meshtest"
	"github.com/BioHazard786/shareboard/internal/protocol"
	"github.com/BioHazard786/shareboard/internal/signaling"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type node struct {
	m *mesh.Manager

	mu          sync.Mutex
	connects    map[string]int
	disconnects map[string]int
	messages    []protocol.Message
}

func (n *node) count(m map[string]int, id string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return m[id]
}

func (n *node) connected(id string) int    { return n.count(n.connects, id) }
func (n *node) disconnected(id string) int { return n.count(n.disconnects, id) }

func (n *node) received() []protocol.Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]protocol.Message(nil), n.messages...)
}

// switchboard routes envelopes between managers and can park them.
type switchboard struct {
	t   *testing.T
	net *meshtest.Network

	mu      sync.Mutex
	nodes   map[string]*node
	holding bool
	held    []signaling.Envelope
}

func newSwitchboard(t *testing.T) *switchboard {
	return &switchboard{t: t, net: meshtest.NewNetwork(), nodes: make(map[string]*node)}
}

func (s *switchboard) add(id string) *node {
	n := &node{connects: make(map[string]int), disconnects: make(map[string]int)}
	n.m = mesh.NewManager(id, s.net.Factory(id), mesh.Callbacks{
		OnSignal: s.route,
		OnConnect: func(peer string) {
			n.mu.Lock()
			n.connects[peer]++
			n.mu.Unlock()
		},
		OnDisconnect: func(peer string) {
			n.mu.Lock()
			n.disconnects[peer]++
			n.mu.Unlock()
		},
		OnMessage: func(peer string, msg protocol.Message) {
			n.mu.Lock()
			n.messages = append(n.messages, msg)
			n.mu.Unlock()
		},
	})
	s.t.Cleanup(n.m.Close)

	s.mu.Lock()
	s.nodes[id] = n
	s.mu.Unlock()
	return n
}

func (s *switchboard) route(env signaling.Envelope) {
	s.mu.Lock()
	if s.holding {
		s.held = append(s.held, env)
		s.mu.Unlock()
		return
	}
	to := s.nodes[env.To]
	s.mu.Unlock()
	if to != nil {
		to.m.HandleSignal(env)
	}
}

func (s *switchboard) hold() {
	s.mu.Lock()
	s.holding = true
	s.mu.Unlock()
}

func (s *switchboard) release() {
	s.mu.Lock()
	s.holding = false
	held := s.held
	s.held = nil
	s.mu.Unlock()
	for _, env := range held {
		s.route(env)
	}
}

// link creates both sides of a pair, polite side first so the impolite
// offer always finds a peer.
func (s *switchboard) link(a, b *node) {
	s.t.Helper()
	for _, pair := range [][2]*node{{a, b}, {b, a}} {
		local, remote := pair[0].m.LocalID(), pair[1].m.LocalID()
		if !mesh.IsPolite(local, remote) {
			continue
		}
		require.NoError(s.t, pair[0].m.CreatePeer(remote, true))
		require.NoError(s.t, pair[1].m.CreatePeer(local, false))
	}
}

func waitConnected(t *testing.T, a, b *node) {
	t.Helper()
	require.Eventually(t, func() bool {
		return a.connected(b.m.LocalID()) == 1 && b.connected(a.m.LocalID()) == 1
	}, waitFor, tick)
}

func peerInfo(m *mesh.Manager, id string) (mesh.PeerInfo, bool) {
	for _, p := range m.Peers() {
		if p.ID == id {
			return p, true
		}
	}
	return mesh.PeerInfo{}, false
}

func TestPolitenessSymmetry(t *testing.T) {
	ids := []string{"a1", "z9", "m5", "A", "a", "", "peer-1", "peer-10"}
	for _, a := range ids {
		for _, b := range ids {
			if a == b {
				continue
			}
			assert.NotEqual(t, mesh.IsPolite(a, b), mesh.IsPolite(b, a), "%q/%q", a, b)
		}
	}
	assert.True(t, mesh.IsPolite("z9", "a1"))
	assert.False(t, mesh.IsPolite("a1", "z9"))
}

func TestConnectFiresOncePerPeer(t *testing.T) {
	sb := newSwitchboard(t)
	a1 := sb.add("a1")
	z9 := sb.add("z9")
	sb.link(a1, z9)

	waitConnected(t, a1, z9)

	info, ok := peerInfo(a1.m, "z9")
	require.True(t, ok)
	assert.False(t, info.Polite)
	assert.Equal(t, mesh.StateStable, info.State)
	assert.Equal(t, mesh.ChannelOpen, info.Channel)
	assert.True(t, info.Connected)

	info, ok = peerInfo(z9.m, "a1")
	require.True(t, ok)
	assert.True(t, info.Polite)
	assert.True(t, info.Connected)

	require.NoError(t, a1.m.SendTo("z9", protocol.Delete{ItemID: "x"}))
	z9.m.Broadcast(protocol.Delete{ItemID: "y"})

	require.Eventually(t, func() bool {
		return len(z9.received()) == 1 && len(a1.received()) == 1
	}, waitFor, tick)
	assert.Equal(t, protocol.Delete{ItemID: "x"}, z9.received()[0])
	assert.Equal(t, protocol.Delete{ItemID: "y"}, a1.received()[0])

	assert.Never(t, func() bool {
		return a1.connected("z9") != 1 || z9.connected("a1") != 1
	}, 50*time.Millisecond, tick)
}

func TestCreatePeerIdempotent(t *testing.T) {
	sb := newSwitchboard(t)
	a1 := sb.add("a1")
	z9 := sb.add("z9")
	sb.link(a1, z9)
	require.NoError(t, a1.m.CreatePeer("z9", false))
	require.NoError(t, z9.m.CreatePeer("a1", true))

	waitConnected(t, a1, z9)
	assert.Len(t, a1.m.Peers(), 1)
	assert.Error(t, a1.m.CreatePeer("a1", false))
	assert.Error(t, a1.m.CreatePeer("", false))
}

func TestGlareConverges(t *testing.T) {
	sb := newSwitchboard(t)
	a1 := sb.add("a1")
	z9 := sb.add("z9")
	sb.link(a1, z9)
	waitConnected(t, a1, z9)

	sb.hold()
	require.NoError(t, a1.m.Renegotiate("z9"))
	require.NoError(t, z9.m.Renegotiate("a1"))

	require.Eventually(t, func() bool {
		a, _ := peerInfo(a1.m, "z9")
		z, _ := peerInfo(z9.m, "a1")
		return a.State == mesh.StateOffering && z.State == mesh.StateOffering
	}, waitFor, tick)

	sb.release()

	require.Eventually(t, func() bool {
		a, okA := peerInfo(a1.m, "z9")
		z, okZ := peerInfo(z9.m, "a1")
		return okA && okZ && a.State == mesh.StateStable && z.State == mesh.StateStable
	}, waitFor, tick)

	assert.Equal(t, 1, a1.connected("z9"))
	assert.Equal(t, 1, z9.connected("a1"))
	assert.Zero(t, a1.disconnected("z9"))
	assert.Zero(t, z9.disconnected("a1"))
}

func TestStrayAnswerIgnored(t *testing.T) {
	sb := newSwitchboard(t)
	a1 := sb.add("a1")
	z9 := sb.add("z9")
	sb.link(a1, z9)
	waitConnected(t, a1, z9)

	a1.m.HandleSignal(signaling.Envelope{
		To:   "a1",
		From: "z9",
		Type: signaling.SignalAnswer,
		Data: json.RawMessage(`{"type":"answer","sdp":"late"}`),
	})

	assert.Never(t, func() bool {
		info, ok := peerInfo(a1.m, "z9")
		return !ok || info.State != mesh.StateStable || a1.disconnected("z9") > 0
	}, 50*time.Millisecond, tick)
}

func TestCandidateErrorsSwallowed(t *testing.T) {
	sb := newSwitchboard(t)
	sb.net.RejectCandidates = true
	a1 := sb.add("a1")
	z9 := sb.add("z9")
	sb.link(a1, z9)

	waitConnected(t, a1, z9)
	assert.Zero(t, a1.disconnected("z9"))
	assert.Zero(t, z9.disconnected("a1"))
}

func TestDescriptionErrorFailsOnlyThatPeer(t *testing.T) {
	sb := newSwitchboard(t)
	a1 := sb.add("a1")
	m5 := sb.add("m5")
	z9 := sb.add("z9")
	sb.link(a1, m5)
	sb.link(a1, z9)
	waitConnected(t, a1, m5)
	waitConnected(t, a1, z9)

	a1.m.HandleSignal(signaling.Envelope{
		To:   "a1",
		From: "z9",
		Type: signaling.SignalOffer,
		Data: json.RawMessage(`"garbage"`),
	})

	require.Eventually(t, func() bool {
		return a1.disconnected("z9") == 1
	}, waitFor, tick)
	_, ok := peerInfo(a1.m, "z9")
	assert.False(t, ok)

	info, ok := peerInfo(a1.m, "m5")
	require.True(t, ok)
	assert.True(t, info.Connected)
	assert.Zero(t, a1.disconnected("m5"))
}

func TestRemovePeerDisconnectsOnce(t *testing.T) {
	sb := newSwitchboard(t)
	a1 := sb.add("a1")
	z9 := sb.add("z9")
	sb.link(a1, z9)
	waitConnected(t, a1, z9)

	a1.m.RemovePeer("z9")
	a1.m.RemovePeer("z9")
	a1.m.RemovePeer("unknown")

	require.Eventually(t, func() bool {
		return a1.disconnected("z9") == 1 && z9.disconnected("a1") == 1
	}, waitFor, tick)
	assert.Empty(t, a1.m.Peers())
	assert.Empty(t, z9.m.Peers())

	assert.Never(t, func() bool {
		return a1.disconnected("z9") > 1 || z9.disconnected("a1") > 1
	}, 50*time.Millisecond, tick)

	assert.ErrorIs(t, a1.m.SendTo("z9", protocol.Delete{ItemID: "x"}), mesh.ErrUnknownPeer)
}

func TestTransportFailureRemovesPeer(t *testing.T) {
	sb := newSwitchboard(t)
	a1 := sb.add("a1")
	z9 := sb.add("z9")
	sb.link(a1, z9)
	waitConnected(t, a1, z9)

	sb.net.Fail("a1", "z9")

	require.Eventually(t, func() bool {
		return a1.disconnected("z9") == 1 && z9.disconnected("a1") == 1
	}, waitFor, tick)
	assert.Empty(t, a1.m.Peers())
}

func TestReconnectAfterRemoval(t *testing.T) {
	sb := newSwitchboard(t)
	a1 := sb.add("a1")
	z9 := sb.add("z9")
	sb.link(a1, z9)
	waitConnected(t, a1, z9)

	a1.m.RemovePeer("z9")
	require.Eventually(t, func() bool {
		return z9.disconnected("a1") == 1 && a1.disconnected("z9") == 1
	}, waitFor, tick)

	sb.link(a1, z9)
	require.Eventually(t, func() bool {
		return a1.connected("z9") == 2 && z9.connected("a1") == 2
	}, waitFor, tick)
}

func TestSignalFromUnknownPeerDropped(t *testing.T) {
	sb := newSwitchboard(t)
	a1 := sb.add("a1")

	a1.m.HandleSignal(signaling.Envelope{To: "a1", From: "ghost", Type: signaling.SignalOffer})
	a1.m.HandleSignal(signaling.Envelope{To: "someone-else", From: "ghost", Type: signaling.SignalAnswer})

	assert.Empty(t, a1.m.Peers())
	assert.ErrorIs(t, a1.m.Renegotiate("ghost"), mesh.ErrUnknownPeer)
}

func TestSendBeforeOpen(t *testing.T) {
	sb := newSwitchboard(t)
	a1 := sb.add("a1")
	sb.hold()
	require.NoError(t, a1.m.CreatePeer("z9", false))

	assert.ErrorIs(t, a1.m.SendTo("z9", protocol.Delete{ItemID: "x"}), mesh.ErrChannelNotOpen)
	a1.m.Broadcast(protocol.Delete{ItemID: "x"})
}

func TestCloseTearsDownEveryPeer(t *testing.T) {
	sb := newSwitchboard(t)
	a1 := sb.add("a1")
	m5 := sb.add("m5")
	z9 := sb.add("z9")
	sb.link(a1, m5)
	sb.link(a1, z9)
	waitConnected(t, a1, m5)
	waitConnected(t, a1, z9)

	a1.m.Close()

	require.Eventually(t, func() bool {
		return a1.disconnected("m5") == 1 && a1.disconnected("z9") == 1 &&
			m5.disconnected("a1") == 1 && z9.disconnected("a1") == 1
	}, waitFor, tick)
	assert.ErrorIs(t, a1.m.CreatePeer("m5", false), mesh.ErrClosed)
}
