// Package relay is the signaling server: it tracks room membership and
// forwards negotiation envelopes between members of the same room.
package relay

import (
	"context"
	"slices"
	"strings"

	"github.com/rs/zerolog"

	"github.com/BioHazard786/shareboard/internal/metrics"
	"github.com/BioHazard786/shareboard/internal/room"
	"github.com/BioHazard786/shareboard/internal/signaling"
)

const maxPeerIDLength = 64

// Room is the set of members sharing one board.
type Room struct {
	Name    string
	Members map[string]*Client
}

type inbound struct {
	client *Client
	msg    *signaling.Message
}

// Hub is the central brain of the relay. Run is the single goroutine that
// owns every room and client.
type Hub struct {
	rooms   map[string]*Room
	clients map[*Client]struct{}

	register   chan *Client
	unregister chan *Client
	inbound    chan inbound
	done       chan struct{}

	signer  *room.Signer
	log     zerolog.Logger
	metrics *metrics.Relay
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithSigner makes joins present a token signed for their peer id.
func WithSigner(s *room.Signer) HubOption {
	return func(h *Hub) {
		h.signer = s
	}
}

func WithHubLogger(log zerolog.Logger) HubOption {
	return func(h *Hub) {
		h.log = log
	}
}

func WithHubMetrics(m *metrics.Relay) HubOption {
	return func(h *Hub) {
		h.metrics = m
	}
}

func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		rooms:      make(map[string]*Room),
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan inbound),
		done:       make(chan struct{}),
		log:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.log = h.log.With().Str("component", "relay").Logger()
	return h
}

// Run processes hub events until ctx is done, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	defer func() {
		for c := range h.clients {
			h.drop(c)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.metrics.Connected(1)
			c.log.Debug().Msg("client registered")

		case c := <-h.unregister:
			if _, ok := h.clients[c]; !ok {
				continue
			}
			c.log.Debug().Str("peer", c.peerID).Msg("client unregistered")
			h.drop(c)

		case in := <-h.inbound:
			if _, ok := h.clients[in.client]; !ok {
				continue
			}
			h.process(in.client, in.msg)
		}
	}
}

func (h *Hub) join(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) handle(c *Client, msg *signaling.Message) bool {
	select {
	case h.inbound <- inbound{client: c, msg: msg}:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) process(c *Client, msg *signaling.Message) {
	h.metrics.Message(msg.Type)

	switch msg.Type {
	case signaling.MessageTypeJoin:
		h.processJoin(c, msg)
	case signaling.MessageTypeSignal:
		h.processSignal(c, msg)
	default:
		c.log.Debug().Str("type", msg.Type).Msg("unknown message type")
		h.sendError(c, "unknown message type")
	}
}

func (h *Hub) processJoin(c *Client, msg *signaling.Message) {
	if c.room != "" {
		h.reject(c, "already_joined", "already joined a room")
		return
	}
	peerID := msg.PeerID
	if peerID == "" || len(peerID) > maxPeerIDLength || strings.ContainsAny(peerID, ". ") {
		h.reject(c, "invalid_id", "invalid peer id")
		return
	}
	if h.signer != nil {
		id, ok := h.signer.Verify(msg.Token)
		if !ok || id != peerID {
			h.reject(c, "token", "invalid identity token")
			return
		}
	}

	name := msg.Room
	if name == "" {
		name = c.network
	}
	if room.IsNetworkRoom(name) && name != c.network {
		h.reject(c, "network", "room does not match your network")
		return
	}

	r, ok := h.rooms[name]
	if ok {
		if _, taken := r.Members[peerID]; taken {
			h.reject(c, "duplicate", "peer id already in room")
			return
		}
	} else {
		r = &Room{Name: name, Members: make(map[string]*Client)}
		h.rooms[name] = r
	}

	others := make([]*Client, 0, len(r.Members))
	for _, other := range r.Members {
		others = append(others, other)
	}
	slices.SortFunc(others, func(a, b *Client) int { return strings.Compare(a.peerID, b.peerID) })

	c.peerID = peerID
	c.room = name
	c.log = c.log.With().Str("peer", peerID).Str("room", name).Logger()
	r.Members[peerID] = c

	// Registered before the fan-out: dropping a slow member must not empty
	// the room.
	peers := make([]string, len(others))
	for n, other := range others {
		peers[n] = other.peerID
	}
	h.deliver(c, &signaling.Message{
		Type:   signaling.MessageTypeRoster,
		Room:   name,
		PeerID: peerID,
		Peers:  peers,
	})
	if c.gone {
		return
	}
	for _, other := range others {
		h.deliver(other, &signaling.Message{
			Type:   signaling.MessageTypeMemberJoined,
			Room:   name,
			PeerID: peerID,
		})
	}
	h.stats()
	c.log.Info().Int("members", len(r.Members)).Msg("peer joined")
}

func (h *Hub) processSignal(c *Client, msg *signaling.Message) {
	if c.room == "" {
		h.sendError(c, "you must join a room first")
		return
	}
	env := msg.Envelope
	if env == nil || env.To == "" {
		h.sendError(c, "signal without recipient")
		return
	}

	r, ok := h.rooms[c.room]
	if !ok {
		return
	}
	target, ok := r.Members[env.To]
	if !ok {
		c.log.Debug().Str("to", env.To).Msg("signal for absent peer")
		return
	}

	forwarded := *env
	forwarded.From = c.peerID
	h.deliver(target, &signaling.Message{
		Type:     signaling.MessageTypeSignal,
		Envelope: &forwarded,
	})
}

func (h *Hub) reject(c *Client, reason, text string) {
	h.metrics.Rejected(reason)
	c.log.Warn().Str("reason", reason).Msg("join rejected")
	h.sendError(c, text)
}

func (h *Hub) sendError(c *Client, text string) {
	h.deliver(c, &signaling.Message{Type: signaling.MessageTypeError, Error: text})
}

// deliver queues msg for c, dropping c if it cannot keep up.
func (h *Hub) deliver(c *Client, msg *signaling.Message) {
	if c.gone {
		return
	}
	select {
	case c.send <- msg:
	default:
		c.log.Warn().Msg("send buffer full, dropping client")
		h.drop(c)
	}
}

// drop removes c from its room and closes its send channel.
func (h *Hub) drop(c *Client) {
	if c.gone {
		return
	}
	c.gone = true
	delete(h.clients, c)
	close(c.send)
	h.metrics.Connected(-1)

	if c.room == "" {
		return
	}
	r, ok := h.rooms[c.room]
	if !ok || r.Members[c.peerID] != c {
		return
	}
	delete(r.Members, c.peerID)
	if len(r.Members) == 0 {
		delete(h.rooms, r.Name)
	} else {
		for _, other := range r.Members {
			h.deliver(other, &signaling.Message{
				Type:   signaling.MessageTypeMemberLeft,
				Room:   r.Name,
				PeerID: c.peerID,
			})
		}
	}
	h.stats()
	c.log.Info().Msg("peer left")
}

func (h *Hub) stats() {
	members := 0
	for _, r := range h.rooms {
		members += len(r.Members)
	}
	h.metrics.RoomStats(len(h.rooms), members)
}
