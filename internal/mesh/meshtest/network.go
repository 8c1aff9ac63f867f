// Package meshtest provides an in-memory transport and signaling hub for
// exercising mesh and session code without sockets.
package meshtest

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/BioHazard786/shareboard/internal/mesh"
	"github.com/BioHazard786/shareboard/internal/protocol"
)

var (
	ErrNoRemoteDescription = errors.New("no remote description")
	ErrWrongState          = errors.New("wrong signaling state")
	ErrCandidateRejected   = errors.New("candidate rejected")
	ErrLinkClosed          = errors.New("link closed")
)

type pair struct {
	local, remote string
}

// Network connects the links created by every factory it hands out. A link
// from a to b becomes connected once either side applies an answer.
type Network struct {
	mu    sync.Mutex
	links map[pair]*Link

	// RejectCandidates makes every AddCandidate fail.
	RejectCandidates bool
}

func NewNetwork() *Network {
	return &Network{links: make(map[pair]*Link)}
}

// Factory returns the link factory for local.
func (n *Network) Factory(local string) mesh.LinkFactory {
	return func(remote string) (mesh.Link, error) {
		l := &Link{net: n, local: local, remote: remote, state: mesh.LinkNew}
		n.mu.Lock()
		n.links[pair{local, remote}] = l
		n.mu.Unlock()
		return l, nil
	}
}

// Link returns the most recent link from local to remote.
func (n *Network) Link(local, remote string) *Link {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.links[pair{local, remote}]
}

// Fail reports a transport failure on both ends of a to b.
func (n *Network) Fail(a, b string) {
	for _, l := range []*Link{n.Link(a, b), n.Link(b, a)} {
		if l != nil {
			l.lose(mesh.LinkFailed)
		}
	}
}

func (n *Network) counterpart(l *Link) *Link {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := n.links[pair{l.remote, l.local}]
	if c == nil || c.isClosed() {
		return nil
	}
	return c
}

func (n *Network) rejectCandidates() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.RejectCandidates
}

// connect pairs every unpaired channel on both ends and opens them.
func (n *Network) connect(a, b *Link) {
	var opened []*Channel
	for _, side := range [][2]*Link{{a, b}, {b, a}} {
		from, to := side[0], side[1]
		for _, ch := range from.unpaired() {
			remote := newChannel(to, ch.label)
			ch.link(remote)
			to.adopt(remote)
			opened = append(opened, ch, remote)
		}
	}

	a.setState(mesh.LinkConnected)
	b.setState(mesh.LinkConnected)

	for _, ch := range opened {
		ch.open()
	}
}

// Link is one end of an in-memory connection.
type Link struct {
	net           *Network
	local, remote string

	mu          sync.Mutex
	state       mesh.LinkState
	localOffer  bool
	hasRemote   bool
	connected   bool
	closed      bool
	generation  int
	channels    []*Channel
	onCandidate func(json.RawMessage)
	onChannel   func(mesh.Channel)
	onState     func(mesh.LinkState)
}

type description struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

func (l *Link) describe(typ string) json.RawMessage {
	l.generation++
	data, _ := json.Marshal(description{
		Type: typ,
		SDP:  fmt.Sprintf("%s>%s#%d", l.local, l.remote, l.generation),
	})
	return data
}

func (l *Link) OpenChannel(label string) (mesh.Channel, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, ErrLinkClosed
	}
	ch := newChannel(l, label)
	l.channels = append(l.channels, ch)
	return ch, nil
}

func (l *Link) CreateOffer() (json.RawMessage, error) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil, ErrLinkClosed
	}
	if l.localOffer {
		l.mu.Unlock()
		return nil, fmt.Errorf("create offer: %w", ErrWrongState)
	}
	l.localOffer = true
	offer := l.describe("offer")
	l.mu.Unlock()

	l.candidate()
	return offer, nil
}

func (l *Link) Rollback() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.localOffer {
		return fmt.Errorf("rollback: %w", ErrWrongState)
	}
	l.localOffer = false
	return nil
}

func (l *Link) ApplyOffer(offer json.RawMessage) (json.RawMessage, error) {
	if err := expect(offer, "offer"); err != nil {
		return nil, err
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil, ErrLinkClosed
	}
	if l.localOffer {
		l.mu.Unlock()
		return nil, fmt.Errorf("apply offer in have-local-offer: %w", ErrWrongState)
	}
	l.hasRemote = true
	answer := l.describe("answer")
	l.mu.Unlock()

	l.candidate()
	return answer, nil
}

func (l *Link) ApplyAnswer(answer json.RawMessage) error {
	if err := expect(answer, "answer"); err != nil {
		return err
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrLinkClosed
	}
	if !l.localOffer {
		l.mu.Unlock()
		return fmt.Errorf("apply answer in stable: %w", ErrWrongState)
	}
	l.localOffer = false
	l.hasRemote = true
	l.mu.Unlock()

	if c := l.net.counterpart(l); c != nil {
		l.net.connect(l, c)
	}
	return nil
}

func (l *Link) AddCandidate(candidate json.RawMessage) error {
	if l.net.rejectCandidates() {
		return ErrCandidateRejected
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.hasRemote {
		return ErrNoRemoteDescription
	}
	return nil
}

func (l *Link) OnCandidate(fn func(json.RawMessage)) {
	l.mu.Lock()
	l.onCandidate = fn
	l.mu.Unlock()
}

func (l *Link) OnChannel(fn func(mesh.Channel)) {
	l.mu.Lock()
	l.onChannel = fn
	l.mu.Unlock()
}

func (l *Link) OnStateChange(fn func(mesh.LinkState)) {
	l.mu.Lock()
	l.onState = fn
	l.mu.Unlock()
}

// Close closes every channel and tells a connected counterpart.
func (l *Link) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	connected := l.connected
	channels := l.channels
	l.mu.Unlock()

	for _, ch := range channels {
		_ = ch.Close()
	}
	if connected {
		if c := l.net.counterpart(l); c != nil {
			go c.lose(mesh.LinkDisconnected)
		}
	}
	return nil
}

// State returns the connectivity of the link.
func (l *Link) State() mesh.LinkState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Link) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

func (l *Link) candidate() {
	l.mu.Lock()
	fn := l.onCandidate
	data, _ := json.Marshal(map[string]string{
		"candidate": fmt.Sprintf("candidate:%s#%d", l.local, l.generation),
	})
	l.mu.Unlock()
	if fn != nil {
		fn(data)
	}
}

func (l *Link) setState(s mesh.LinkState) {
	l.mu.Lock()
	if l.closed || l.state == s {
		l.mu.Unlock()
		return
	}
	l.state = s
	if s == mesh.LinkConnected {
		l.connected = true
	}
	fn := l.onState
	l.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

func (l *Link) lose(s mesh.LinkState) {
	l.mu.Lock()
	channels := l.channels
	l.mu.Unlock()
	for _, ch := range channels {
		ch.shut()
	}
	l.setState(s)
}

func (l *Link) unpaired() []*Channel {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*Channel
	for _, ch := range l.channels {
		if !ch.paired() {
			out = append(out, ch)
		}
	}
	return out
}

func (l *Link) adopt(ch *Channel) {
	l.mu.Lock()
	l.channels = append(l.channels, ch)
	fn := l.onChannel
	l.mu.Unlock()
	if fn != nil {
		fn(ch)
	}
}

func expect(data json.RawMessage, typ string) error {
	var d description
	if err := json.Unmarshal(data, &d); err != nil {
		return fmt.Errorf("parse %s: %w", typ, err)
	}
	if d.Type != typ {
		return fmt.Errorf("expected %s, got %q", typ, d.Type)
	}
	return nil
}

// Channel is one end of an in-memory ordered channel. Messages sent before
// the receiver registers OnMessage are held until it does.
type Channel struct {
	owner *Link
	label string

	mu        sync.Mutex
	state     mesh.ChannelState
	peer      *Channel
	pending   []protocol.Payload
	onOpen    func()
	onClose   func()
	onMessage func(protocol.Payload)
	wake      chan struct{}
	stop      chan struct{}
}

func newChannel(owner *Link, label string) *Channel {
	ch := &Channel{
		owner: owner,
		label: label,
		state: mesh.ChannelConnecting,
		wake:  make(chan struct{}, 1),
		stop:  make(chan struct{}),
	}
	go ch.deliver()
	return ch
}

func (c *Channel) Label() string { return c.label }

func (c *Channel) State() mesh.ChannelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Send copies p to the other end.
func (c *Channel) Send(p protocol.Payload) error {
	c.mu.Lock()
	peer := c.peer
	open := c.state == mesh.ChannelOpen
	c.mu.Unlock()
	if !open || peer == nil {
		return mesh.ErrChannelNotOpen
	}
	peer.enqueue(protocol.Payload{Data: append([]byte(nil), p.Data...), IsString: p.IsString})
	return nil
}

func (c *Channel) OnOpen(fn func()) {
	c.mu.Lock()
	c.onOpen = fn
	c.mu.Unlock()
}

func (c *Channel) OnClose(fn func()) {
	c.mu.Lock()
	c.onClose = fn
	c.mu.Unlock()
}

func (c *Channel) OnMessage(fn func(protocol.Payload)) {
	c.mu.Lock()
	c.onMessage = fn
	c.mu.Unlock()
	c.signal()
}

// Close closes both ends.
func (c *Channel) Close() error {
	c.mu.Lock()
	peer := c.peer
	c.mu.Unlock()
	c.shut()
	if peer != nil {
		peer.shut()
	}
	return nil
}

func (c *Channel) paired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peer != nil
}

func (c *Channel) link(peer *Channel) {
	c.mu.Lock()
	c.peer = peer
	c.mu.Unlock()

	peer.mu.Lock()
	peer.peer = c
	peer.mu.Unlock()
}

func (c *Channel) open() {
	c.mu.Lock()
	if c.state != mesh.ChannelConnecting {
		c.mu.Unlock()
		return
	}
	c.state = mesh.ChannelOpen
	fn := c.onOpen
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (c *Channel) shut() {
	c.mu.Lock()
	if c.state == mesh.ChannelClosed {
		c.mu.Unlock()
		return
	}
	c.state = mesh.ChannelClosed
	fn := c.onClose
	close(c.stop)
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (c *Channel) enqueue(p protocol.Payload) {
	c.mu.Lock()
	c.pending = append(c.pending, p)
	c.mu.Unlock()
	c.signal()
}

func (c *Channel) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Channel) deliver() {
	for {
		c.mu.Lock()
		fn := c.onMessage
		var next []protocol.Payload
		if fn != nil {
			next, c.pending = c.pending, nil
		}
		c.mu.Unlock()

		for _, p := range next {
			fn(p)
		}
		if len(next) > 0 {
			continue
		}

		select {
		case <-c.wake:
		case <-c.stop:
			return
		}
	}
}
