package relay

import (
	"context"
	"encoding/json"
	"io"
	"maps"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BioHazard786/shareboard/internal/room"
	"github.com/BioHazard786/shareboard/internal/signaling"
)

const secret = "test-secret"

type testRelay struct {
	srv   *Server
	http  *httptest.Server
	wsURL string
}

func startRelay(t *testing.T) *testRelay {
	t.Helper()

	srv := NewServer(Options{Secret: secret, Dev: true})
	ctx, cancel := context.WithCancel(context.Background())
	go srv.Hub().Run(ctx)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		cancel()
	})
	return &testRelay{
		srv:   srv,
		http:  ts,
		wsURL: "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws",
	}
}

func (r *testRelay) client(t *testing.T, id string) *signaling.Client {
	t.Helper()
	token := room.NewSigner(secret).Sign(id)
	c := signaling.NewClient(r.wsURL, id, token, signaling.WithDialer(websocket.DefaultDialer))
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func (r *testRelay) subscribe(t *testing.T, id string) (*signaling.Client, <-chan signaling.Event) {
	t.Helper()
	c := r.client(t, id)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	events, err := c.Subscribe(ctx, room.Name(room.DevNetwork))
	require.NoError(t, err)
	return c, events
}

func next(t *testing.T, events <-chan signaling.Event) signaling.Event {
	t.Helper()
	select {
	case ev, ok := <-events:
		require.True(t, ok, "event stream closed")
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestHealth(t *testing.T) {
	r := startRelay(t)

	resp, err := r.http.Client().Get(r.http.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRoomInfo(t *testing.T) {
	r := startRelay(t)

	info, err := signaling.FetchRoom(context.Background(), r.http.Client(), r.wsURL, "a1b2c3d4")
	require.NoError(t, err)
	assert.Equal(t, room.Name(room.DevNetwork), info.RoomName)
	assert.Equal(t, room.DevNetwork, info.IP)

	id, ok := room.NewSigner(secret).Verify(info.Token)
	require.True(t, ok)
	assert.Equal(t, "a1b2c3d4", id)

	resp, err := r.http.Client().Get(r.http.URL + "/api/room")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestJoinSignalLeave(t *testing.T) {
	r := startRelay(t)

	_, a1Events := r.subscribe(t, "a1")
	roster := next(t, a1Events).(signaling.Roster)
	assert.Equal(t, "a1", roster.Self)
	assert.Empty(t, roster.Peers)

	z9, z9Events := r.subscribe(t, "z9")
	roster = next(t, z9Events).(signaling.Roster)
	assert.Equal(t, []string{"a1"}, roster.Peers)

	assert.Equal(t, signaling.Joined{PeerID: "z9"}, next(t, a1Events))

	require.NoError(t, z9.SendEnvelope(signaling.Envelope{
		To:   "a1",
		From: "spoofed",
		Type: signaling.SignalOffer,
		Data: json.RawMessage(`{"type":"offer","sdp":"v=0"}`),
	}))

	sig := next(t, a1Events).(signaling.Signal)
	assert.Equal(t, "z9", sig.Envelope.From)
	assert.Equal(t, "a1", sig.Envelope.To)
	assert.Equal(t, signaling.SignalOffer, sig.Envelope.Type)
	assert.JSONEq(t, `{"type":"offer","sdp":"v=0"}`, string(sig.Envelope.Data))

	require.NoError(t, z9.Close())
	assert.Equal(t, signaling.Left{PeerID: "z9"}, next(t, a1Events))

	for ev := range z9Events {
		if closed, ok := ev.(signaling.Closed); ok {
			assert.NoError(t, closed.Err)
		}
	}
	assert.ErrorIs(t, z9.SendEnvelope(signaling.Envelope{To: "a1"}), signaling.ErrClosed)
}

func TestJoinRejected(t *testing.T) {
	r := startRelay(t)
	r.subscribe(t, "a1")

	tests := []struct {
		name  string
		id    string
		token string
		room  string
	}{
		{"duplicate id", "a1", room.NewSigner(secret).Sign("a1"), room.Name(room.DevNetwork)},
		{"bad token", "m5", room.NewSigner("wrong").Sign("m5"), room.Name(room.DevNetwork)},
		{"token for other id", "m5", room.NewSigner(secret).Sign("z9"), room.Name(room.DevNetwork)},
		{"foreign network room", "m5", room.NewSigner(secret).Sign("m5"), room.Name("10.0.0.1")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := signaling.NewClient(r.wsURL, tt.id, tt.token, signaling.WithDialer(websocket.DefaultDialer))
			defer c.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_, err := c.Subscribe(ctx, tt.room)
			assert.ErrorIs(t, err, signaling.ErrRejected)
		})
	}
}

func TestNamedRoomsAreOpen(t *testing.T) {
	r := startRelay(t)

	c := r.client(t, "a1")
	events, err := c.Subscribe(context.Background(), "team-board")
	require.NoError(t, err)
	assert.IsType(t, signaling.Roster{}, next(t, events))
}

func TestMetricsExposed(t *testing.T) {
	r := startRelay(t)
	_, events := r.subscribe(t, "a1")
	next(t, events)

	require.Eventually(t, func() bool {
		resp, err := r.http.Client().Get(r.http.URL + "/metrics")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return strings.Contains(string(body), "shareboard_relay_members 1")
	}, 5*time.Second, 20*time.Millisecond)
}

func hubClient(h *Hub, buffer int) *Client {
	c := &Client{
		hub:     h,
		send:    make(chan *signaling.Message, buffer),
		log:     zerolog.Nop(),
		network: "presence-room-test",
	}
	h.clients[c] = struct{}{}
	return c
}

func drain(c *Client) []*signaling.Message {
	var out []*signaling.Message
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return out
			}
			out = append(out, msg)
		default:
			return out
		}
	}
}

func TestJoinSurvivesDroppedMember(t *testing.T) {
	h := NewHub()

	slow := hubClient(h, 1)
	h.processJoin(slow, &signaling.Message{Type: signaling.MessageTypeJoin, PeerID: "a1"})

	z9 := hubClient(h, 8)
	h.processJoin(z9, &signaling.Message{Type: signaling.MessageTypeJoin, PeerID: "z9"})

	assert.True(t, slow.gone, "full buffer drops the member")
	r, ok := h.rooms["presence-room-test"]
	require.True(t, ok)
	assert.Equal(t, []string{"z9"}, slices.Collect(maps.Keys(r.Members)))

	got := drain(z9)
	require.Len(t, got, 2)
	assert.Equal(t, signaling.MessageTypeRoster, got[0].Type)
	assert.Equal(t, []string{"a1"}, got[0].Peers)
	assert.Equal(t, signaling.MessageTypeMemberLeft, got[1].Type)
	assert.Equal(t, "a1", got[1].PeerID)

	b2 := hubClient(h, 8)
	h.processJoin(b2, &signaling.Message{Type: signaling.MessageTypeJoin, PeerID: "b2"})

	got = drain(b2)
	require.Len(t, got, 1)
	assert.Equal(t, []string{"z9"}, got[0].Peers)
	joined := drain(z9)
	require.Len(t, joined, 1)
	assert.Equal(t, signaling.MessageTypeMemberJoined, joined[0].Type)
	assert.Equal(t, "b2", joined[0].PeerID)
}
