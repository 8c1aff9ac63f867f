package meshtest

import (
	"context"
	"slices"
	"sync"

	"github.com/BioHazard786/shareboard/internal/signaling"
)

// Hub is an in-memory relay. Bridges subscribed to the same room see each
// other's presence and exchange envelopes.
type Hub struct {
	mu    sync.Mutex
	rooms map[string]map[string]*Bridge

	// Hold, when set, is consulted for every envelope; returning true parks
	// it until Release.
	Hold func(signaling.Envelope) bool
	held []signaling.Envelope
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[string]*Bridge)}
}

// Bridge returns a signaling bridge for peerID.
func (h *Hub) Bridge(peerID string) *Bridge {
	return &Bridge{hub: h, id: peerID}
}

// Release delivers every held envelope in the order it was sent.
func (h *Hub) Release() {
	h.mu.Lock()
	held := h.held
	h.held = nil
	h.mu.Unlock()
	for _, env := range held {
		h.route(env)
	}
}

func (h *Hub) join(b *Bridge) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	members := h.rooms[b.room]
	if members == nil {
		members = make(map[string]*Bridge)
		h.rooms[b.room] = members
	}
	peers := make([]string, 0, len(members))
	for id, other := range members {
		peers = append(peers, id)
		other.push(signaling.Joined{PeerID: b.id})
	}
	members[b.id] = b
	slices.Sort(peers)
	return peers
}

func (h *Hub) leave(b *Bridge) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members := h.rooms[b.room]
	if members[b.id] != b {
		return
	}
	delete(members, b.id)
	for _, other := range members {
		other.push(signaling.Left{PeerID: b.id})
	}
	if len(members) == 0 {
		delete(h.rooms, b.room)
	}
}

func (h *Hub) send(from *Bridge, env signaling.Envelope) error {
	env.From = from.id

	h.mu.Lock()
	if h.rooms[from.room][from.id] != from {
		h.mu.Unlock()
		return signaling.ErrNotSubscribed
	}
	if h.Hold != nil && h.Hold(env) {
		h.held = append(h.held, env)
		h.mu.Unlock()
		return nil
	}
	h.mu.Unlock()

	h.route(env)
	return nil
}

func (h *Hub) route(env signaling.Envelope) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, members := range h.rooms {
		if _, ok := members[env.From]; !ok {
			continue
		}
		if to, ok := members[env.To]; ok {
			to.push(signaling.Signal{Envelope: env})
		}
	}
}

// Bridge is one member's view of the Hub.
type Bridge struct {
	hub  *Hub
	id   string
	room string

	mu     sync.Mutex
	queue  []signaling.Event
	wake   chan struct{}
	out    chan signaling.Event
	closed bool
}

func (b *Bridge) Subscribe(ctx context.Context, room string) (<-chan signaling.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	if b.out != nil {
		b.mu.Unlock()
		return nil, signaling.ErrClosed
	}
	b.room = room
	b.wake = make(chan struct{}, 1)
	b.out = make(chan signaling.Event)
	b.mu.Unlock()

	peers := b.hub.join(b)
	b.push(signaling.Roster{Self: b.id, Peers: peers})
	go b.pump()
	return b.out, nil
}

func (b *Bridge) SendEnvelope(env signaling.Envelope) error {
	b.mu.Lock()
	closed := b.closed || b.out == nil
	b.mu.Unlock()
	if closed {
		return signaling.ErrNotSubscribed
	}
	return b.hub.send(b, env)
}

// Close leaves the room. The event stream ends with Closed.
func (b *Bridge) Close() error {
	b.mu.Lock()
	if b.closed || b.out == nil {
		b.closed = true
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	b.hub.leave(b)
	b.push(signaling.Closed{})

	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.signal()
	return nil
}

func (b *Bridge) push(ev signaling.Event) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.queue = append(b.queue, ev)
	b.mu.Unlock()
	b.signal()
}

func (b *Bridge) signal() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

func (b *Bridge) pump() {
	defer close(b.out)
	for {
		b.mu.Lock()
		events := b.queue
		b.queue = nil
		closed := b.closed
		b.mu.Unlock()

		for _, ev := range events {
			b.out <- ev
			if _, ok := ev.(signaling.Closed); ok {
				return
			}
		}
		if len(events) > 0 {
			continue
		}
		if closed {
			return
		}
		<-b.wake
	}
}
