package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/BioHazard786/shareboard/internal/dns"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 256 * 1024
	eventBuffer    = 64
)

// Client is a Bridge over a websocket connection to the relay.
type Client struct {
	serverURL string
	peerID    string
	token     string
	dialer    *websocket.Dialer
	log       zerolog.Logger

	conn       *websocket.Conn
	outgoing   chan *Message
	done       chan struct{}
	writerDone chan struct{}

	mu         sync.Mutex
	subscribed bool
	closed     bool
}

// ClientOption configures a Client.
type ClientOption func(*Client)

func WithLogger(log zerolog.Logger) ClientOption {
	return func(c *Client) {
		c.log = log
	}
}

// WithDialer replaces the default dialer, which resolves hosts through
// internal/dns.
func WithDialer(d *websocket.Dialer) ClientOption {
	return func(c *Client) {
		c.dialer = d
	}
}

// NewClient creates a client that joins rooms as peerID, presenting token.
func NewClient(serverURL, peerID, token string, opts ...ClientOption) *Client {
	c := &Client{
		serverURL:  serverURL,
		peerID:     peerID,
		token:      token,
		log:        zerolog.Nop(),
		outgoing:   make(chan *Message, eventBuffer),
		done:       make(chan struct{}),
		writerDone: make(chan struct{}),
	}
	c.dialer = &websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		NetDialContext:   resolvingDial,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func resolvingDial(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	ip, err := dns.Default.Lookup(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("dns lookup failed: %w", err)
	}
	var d net.Dialer
	return d.DialContext(ctx, network, net.JoinHostPort(ip, port))
}

// Subscribe connects, joins room and waits for the relay's roster. Only one
// subscription per client is allowed.
func (c *Client) Subscribe(ctx context.Context, room string) (<-chan Event, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if c.subscribed {
		c.mu.Unlock()
		return nil, errors.New("already subscribed")
	}
	c.subscribed = true
	c.mu.Unlock()

	u, err := url.Parse(c.serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}

	conn, _, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	conn.SetReadLimit(maxMessageSize)

	join := &Message{Type: MessageTypeJoin, Room: room, PeerID: c.peerID, Token: c.token}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(join); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send join: %w", err)
	}

	roster, err := c.awaitRoster(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	events := make(chan Event, eventBuffer)
	events <- roster

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go c.readPump(conn, events)
	go c.writePump(conn)

	c.log.Info().Str("room", room).Int("peers", len(roster.Peers)).Msg("joined room")
	return events, nil
}

func (c *Client) awaitRoster(ctx context.Context, conn *websocket.Conn) (Roster, error) {
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return Roster{}, ctx.Err()
			}
			return Roster{}, fmt.Errorf("await roster: %w", err)
		}
		switch msg.Type {
		case MessageTypeRoster:
			return Roster{Self: c.peerID, Peers: without(msg.Peers, c.peerID)}, nil
		case MessageTypeError:
			return Roster{}, fmt.Errorf("%w: %s", ErrRejected, msg.Error)
		default:
			c.log.Debug().Str("type", msg.Type).Msg("ignoring message before roster")
		}
	}
}

// readPump translates relay messages into events until the connection ends.
func (c *Client) readPump(conn *websocket.Conn, events chan<- Event) {
	var closeErr error
	defer func() {
		conn.Close()
		if c.isClosed() {
			closeErr = nil
		}
		events <- Closed{Err: closeErr}
		close(events)
	}()

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			closeErr = fmt.Errorf("relay connection lost: %w", err)
			return
		}

		switch msg.Type {
		case MessageTypeMemberJoined:
			if msg.PeerID != "" && msg.PeerID != c.peerID {
				events <- Joined{PeerID: msg.PeerID}
			}
		case MessageTypeMemberLeft:
			if msg.PeerID != "" && msg.PeerID != c.peerID {
				events <- Left{PeerID: msg.PeerID}
			}
		case MessageTypeSignal:
			if msg.Envelope == nil || msg.Envelope.To != c.peerID {
				continue
			}
			events <- Signal{Envelope: *msg.Envelope}
		case MessageTypeError:
			c.log.Warn().Str("error", msg.Error).Msg("relay reported an error")
		default:
			c.log.Debug().Str("type", msg.Type).Msg("ignoring unknown relay message")
		}
	}
}

// writePump writes messages to the WebSocket connection and sends periodic pings.
func (c *Client) writePump(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		conn.Close()
		close(c.writerDone)
	}()

	for {
		select {
		case message := <-c.outgoing:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(message); err != nil {
				c.log.Debug().Err(err).Msg("write to relay failed")
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// SendEnvelope queues env for the relay. From is filled in when empty.
func (c *Client) SendEnvelope(env Envelope) error {
	c.mu.Lock()
	closed, conn := c.closed, c.conn
	c.mu.Unlock()

	if closed {
		return ErrClosed
	}
	if conn == nil {
		return ErrNotSubscribed
	}
	if env.From == "" {
		env.From = c.peerID
	}

	select {
	case c.outgoing <- &Message{Type: MessageTypeSignal, Envelope: &env}:
		return nil
	case <-c.done:
		return ErrClosed
	case <-c.writerDone:
		return ErrClosed
	}
}

// Close leaves the room and closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	close(c.done)
	if c.conn == nil {
		return nil
	}
	// Unblock the read pump; the write pump sends the close frame.
	return c.conn.SetReadDeadline(time.Now().Add(time.Second))
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func without(peers []string, self string) []string {
	out := make([]string, 0, len(peers))
	for _, p := range peers {
		if p != self {
			out = append(out, p)
		}
	}
	return out
}

// FetchRoom asks the relay which room this device belongs to and for a
// signed identity token. relayURL may be the ws:// or http:// form.
func FetchRoom(ctx context.Context, client *http.Client, relayURL, deviceID string) (RoomInfo, error) {
	base, err := HTTPBase(relayURL)
	if err != nil {
		return RoomInfo{}, err
	}
	q := url.Values{"device": {deviceID}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/api/room?"+q.Encode(), nil)
	if err != nil {
		return RoomInfo{}, err
	}

	resp, err := client.Do(req)
	if err != nil {
		return RoomInfo{}, fmt.Errorf("room lookup: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return RoomInfo{}, fmt.Errorf("room lookup: unexpected status %s", resp.Status)
	}
	var info RoomInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return RoomInfo{}, fmt.Errorf("room lookup: %w", err)
	}
	if info.RoomName == "" {
		return RoomInfo{}, errors.New("room lookup: empty room name")
	}
	return info, nil
}

// HTTPBase turns a relay websocket URL into the base URL of its HTTP API.
func HTTPBase(relayURL string) (string, error) {
	u, err := url.Parse(relayURL)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	case "http", "https":
	default:
		return "", fmt.Errorf("invalid server URL scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(strings.TrimSuffix(u.Path, "/"), "/ws")
	u.RawQuery = ""
	return strings.TrimSuffix(u.String(), "/"), nil
}
