// Package mesh keeps one negotiated channel to every other member of a room
// using perfect negotiation: the peer with the greater id is polite and
// yields when both sides offer at once.
package mesh

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/BioHazard786/shareboard/internal/metrics"
	"github.com/BioHazard786/shareboard/internal/protocol"
	"github.com/BioHazard786/shareboard/internal/signaling"
)

var (
	ErrUnknownPeer    = errors.New("unknown peer")
	ErrChannelNotOpen = errors.New("channel not open")
	ErrClosed         = errors.New("manager closed")
)

// IsPolite reports whether local yields to remote on an offer collision.
// Exactly one side of every pair is polite.
func IsPolite(local, remote string) bool {
	return local > remote
}

// Callbacks receive manager events. OnConnect and OnDisconnect for one peer
// are called in order from that peer's work queue; OnMessage is called from
// the channel's delivery goroutine in arrival order.
type Callbacks struct {
	OnSignal     func(signaling.Envelope)
	OnConnect    func(peerID string)
	OnDisconnect func(peerID string)
	OnMessage    func(peerID string, m protocol.Message)
}

// Manager owns the peers of one local identity.
type Manager struct {
	localID string
	newLink LinkFactory
	cb      Callbacks
	log     zerolog.Logger
	metrics *metrics.Node

	mu     sync.Mutex
	peers  map[string]*Peer
	closed bool
}

// Option configures a Manager.
type Option func(*Manager)

func WithLogger(log zerolog.Logger) Option {
	return func(m *Manager) {
		m.log = log
	}
}

func WithMetrics(n *metrics.Node) Option {
	return func(m *Manager) {
		m.metrics = n
	}
}

// NewManager creates a manager for localID. newLink is called once per peer.
func NewManager(localID string, newLink LinkFactory, cb Callbacks, opts ...Option) *Manager {
	m := &Manager{
		localID: localID,
		newLink: newLink,
		cb:      cb,
		log:     zerolog.Nop(),
		peers:   make(map[string]*Peer),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.With().Str("component", "mesh").Str("local", localID).Logger()
	return m
}

// LocalID returns the identity the manager negotiates as.
func (m *Manager) LocalID() string {
	return m.localID
}

// CreatePeer starts negotiating with id. It is a no-op if the peer exists.
func (m *Manager) CreatePeer(id string, polite bool) error {
	if id == "" || id == m.localID {
		return fmt.Errorf("create peer %q: invalid id", id)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if _, ok := m.peers[id]; ok {
		return nil
	}

	link, err := m.newLink(id)
	if err != nil {
		m.metrics.PeerEvent("failed")
		return fmt.Errorf("create link to %s: %w", id, err)
	}

	p := &Peer{
		id:     id,
		polite: polite,
		link:   link,
		queue:  newWorkQueue(),
		mgr:    m,
		log:    m.log.With().Str("peer", id).Bool("polite", polite).Logger(),
		state:  StateNew,
	}

	link.OnCandidate(func(c json.RawMessage) {
		p.queue.push(func() {
			p.emit(signaling.SignalCandidate, c)
		})
	})
	link.OnChannel(func(ch Channel) {
		p.queue.push(func() {
			p.attach(ch)
		})
	})
	link.OnStateChange(func(s LinkState) {
		p.log.Debug().Stringer("link", s).Msg("link state")
		if s.Lost() {
			m.remove(p)
		}
	})

	m.peers[id] = p
	m.metrics.PeerEvent("created")
	p.log.Debug().Msg("peer created")
	p.queue.push(p.start)
	return nil
}

// HandleSignal applies env on its sender's work queue. Signals from unknown
// peers are dropped.
func (m *Manager) HandleSignal(env signaling.Envelope) {
	if env.To != "" && env.To != m.localID {
		return
	}
	p := m.peer(env.From)
	if p == nil {
		m.log.Debug().Str("peer", env.From).Str("type", string(env.Type)).Msg("signal from unknown peer")
		return
	}

	var task func()
	switch env.Type {
	case signaling.SignalOffer:
		task = func() { p.handleOffer(env.Data) }
	case signaling.SignalAnswer:
		task = func() { p.handleAnswer(env.Data) }
	case signaling.SignalCandidate:
		task = func() { p.handleCandidate(env.Data) }
	default:
		p.log.Warn().Str("type", string(env.Type)).Msg("unknown signal type")
		return
	}
	p.queue.push(task)
}

// Renegotiate queues a fresh offer to id, from either side.
func (m *Manager) Renegotiate(id string) error {
	p := m.peer(id)
	if p == nil {
		return fmt.Errorf("renegotiate %s: %w", id, ErrUnknownPeer)
	}
	p.queue.push(p.renegotiate)
	return nil
}

// RemovePeer tears down id. Unknown ids are ignored.
func (m *Manager) RemovePeer(id string) {
	if p := m.peer(id); p != nil {
		m.remove(p)
	}
}

// remove detaches p if it is still the registered peer for its id. Only the
// first call for a peer schedules its teardown.
func (m *Manager) remove(p *Peer) {
	m.mu.Lock()
	cur, ok := m.peers[p.id]
	if !ok || cur != p {
		m.mu.Unlock()
		return
	}
	delete(m.peers, p.id)
	m.mu.Unlock()

	p.mu.Lock()
	p.state = StateClosed
	p.mu.Unlock()

	p.queue.finish(p.teardown)
}

// Broadcast sends m to every peer with an open channel. Peers without one
// are skipped.
func (m *Manager) Broadcast(msg protocol.Message) {
	payload, err := protocol.Encode(msg)
	if err != nil {
		m.log.Error().Err(err).Msg("encode broadcast")
		return
	}
	for _, p := range m.snapshot() {
		ch := p.openChannel()
		if ch == nil {
			continue
		}
		if err := ch.Send(payload); err != nil {
			p.log.Warn().Err(err).Str("kind", string(msg.Kind())).Msg("broadcast send failed")
			continue
		}
		m.sent(msg)
	}
}

// SendTo sends m to one peer.
func (m *Manager) SendTo(id string, msg protocol.Message) error {
	p := m.peer(id)
	if p == nil {
		return fmt.Errorf("send to %s: %w", id, ErrUnknownPeer)
	}
	ch := p.openChannel()
	if ch == nil {
		return fmt.Errorf("send to %s: %w", id, ErrChannelNotOpen)
	}
	payload, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	if err := ch.Send(payload); err != nil {
		return fmt.Errorf("send to %s: %w", id, err)
	}
	m.sent(msg)
	return nil
}

func (m *Manager) sent(msg protocol.Message) {
	if msg.Kind() != protocol.KindFrame {
		m.metrics.Sent(string(msg.Kind()), 0)
	}
}

// Peers returns a snapshot of every known peer, sorted by id.
func (m *Manager) Peers() []PeerInfo {
	peers := m.snapshot()
	out := make([]PeerInfo, 0, len(peers))
	for _, p := range peers {
		out = append(out, p.info())
	}
	slices.SortFunc(out, func(a, b PeerInfo) int {
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// Close removes every peer and rejects new ones.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	for _, p := range m.snapshot() {
		m.remove(p)
	}
}

func (m *Manager) peer(id string) *Peer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peers[id]
}

func (m *Manager) snapshot() []*Peer {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Peer, 0, len(m.peers))
	for _, p := range m.peers {
		out = append(out, p)
	}
	return out
}

func (m *Manager) emit(env signaling.Envelope) {
	if m.cb.OnSignal != nil {
		m.cb.OnSignal(env)
	}
}

func (m *Manager) connected(p *Peer) {
	m.metrics.PeerEvent("connected")
	if m.cb.OnConnect != nil {
		m.cb.OnConnect(p.id)
	}
}

func (m *Manager) disconnected(p *Peer) {
	p.log.Info().Msg("peer disconnected")
	if p.connected {
		m.metrics.PeerEvent("disconnected")
	} else {
		m.metrics.PeerEvent("removed")
	}
	if m.cb.OnDisconnect != nil {
		m.cb.OnDisconnect(p.id)
	}
}

// deliver decodes a payload at the channel boundary and hands it on.
func (m *Manager) deliver(p *Peer, payload protocol.Payload) {
	if p.State() == StateClosed {
		return
	}
	msg, err := protocol.Decode(payload)
	if err != nil {
		p.log.Warn().Err(err).Msg("dropping undecodable message")
		return
	}
	if msg.Kind() != protocol.KindFrame {
		m.metrics.Received(string(msg.Kind()), 0)
	}
	if m.cb.OnMessage != nil {
		m.cb.OnMessage(p.id, msg)
	}
}
