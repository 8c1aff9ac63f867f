package relay

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/BioHazard786/shareboard/internal/signaling"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// SDP offers with many candidates stay well below this.
	maxMessageSize = 256 * 1024

	sendBuffer = 256
)

// Client is one websocket connection to the relay. Everything but the pumps
// is owned by the hub goroutine.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan *signaling.Message
	log  zerolog.Logger

	// network is the room derived from the connection's address.
	network string

	peerID string
	room   string
	gone   bool
}

func newClient(hub *Hub, conn *websocket.Conn, network string) *Client {
	return &Client{
		hub:     hub,
		conn:    conn,
		send:    make(chan *signaling.Message, sendBuffer),
		network: network,
		log:     hub.log.With().Str("remote", conn.RemoteAddr().String()).Logger(),
	}
}

// readPump pumps messages from the websocket connection to the hub. It is
// the only reader of the connection.
func (c *Client) readPump() {
	defer func() {
		c.hub.leave(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg signaling.Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.log.Debug().Err(err).Msg("read failed")
			}
			return
		}
		if !c.hub.handle(c, &msg) {
			return
		}
	}
}

// writePump pumps messages from the hub to the websocket connection. It is
// the only writer of the connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(message); err != nil {
				c.log.Debug().Err(err).Msg("write failed")
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
