// Package metrics holds the Prometheus collectors for board nodes and the
// relay server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Node holds the metrics of one board participant.
// A nil *Node is valid and records nothing.
type Node struct {
	PeersConnected     prometheus.Gauge
	PeerEvents         *prometheus.CounterVec // shareboard_peer_events_total{event}
	MessagesReceived   *prometheus.CounterVec // shareboard_messages_received_total{kind}
	MessagesSent       *prometheus.CounterVec // shareboard_messages_sent_total{kind}
	FrameBytesSent     prometheus.Counter
	FrameBytesReceived prometheus.Counter
	Transfers          *prometheus.CounterVec // shareboard_transfers_total{direction,result}
	Items              prometheus.Gauge
	ItemsExpired       prometheus.Counter
}

// NewNode registers node metrics with registry, or the default registerer
// when registry is nil.
func NewNode(registry prometheus.Registerer) *Node {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Node{
		PeersConnected: factory.NewGauge(prometheus.GaugeOpts{
			Name: "shareboard_peers_connected",
			Help: "Number of peers with an open board channel",
		}),
		PeerEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "shareboard_peer_events_total",
			Help: "Peer lifecycle events (created, connected, disconnected, failed)",
		}, []string{"event"}),
		MessagesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "shareboard_messages_received_total",
			Help: "Channel messages received by kind",
		}, []string{"kind"}),
		MessagesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "shareboard_messages_sent_total",
			Help: "Channel messages sent by kind",
		}, []string{"kind"}),
		FrameBytesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "shareboard_frame_bytes_sent_total",
			Help: "Transfer payload bytes sent",
		}),
		FrameBytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "shareboard_frame_bytes_received_total",
			Help: "Transfer payload bytes received",
		}),
		Transfers: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "shareboard_transfers_total",
			Help: "Finished transfers by direction and result",
		}, []string{"direction", "result"}),
		Items: factory.NewGauge(prometheus.GaugeOpts{
			Name: "shareboard_items",
			Help: "Items currently on the board",
		}),
		ItemsExpired: factory.NewCounter(prometheus.CounterOpts{
			Name: "shareboard_items_expired_total",
			Help: "Items removed by expiry",
		}),
	}
}

func (m *Node) PeerEvent(event string) {
	if m == nil {
		return
	}
	m.PeerEvents.WithLabelValues(event).Inc()
	switch event {
	case "connected":
		m.PeersConnected.Inc()
	case "disconnected":
		m.PeersConnected.Dec()
	}
}

func (m *Node) Received(kind string, frameBytes int) {
	if m == nil {
		return
	}
	m.MessagesReceived.WithLabelValues(kind).Inc()
	m.FrameBytesReceived.Add(float64(frameBytes))
}

func (m *Node) Sent(kind string, frameBytes int) {
	if m == nil {
		return
	}
	m.MessagesSent.WithLabelValues(kind).Inc()
	m.FrameBytesSent.Add(float64(frameBytes))
}

func (m *Node) Transfer(direction, result string) {
	if m == nil {
		return
	}
	m.Transfers.WithLabelValues(direction, result).Inc()
}

func (m *Node) SetItems(n int, expired int) {
	if m == nil {
		return
	}
	m.Items.Set(float64(n))
	m.ItemsExpired.Add(float64(expired))
}

// Relay holds the signaling relay's metrics.
type Relay struct {
	Connections   prometheus.Gauge
	Rooms         prometheus.Gauge
	Members       prometheus.Gauge
	Relayed       *prometheus.CounterVec // shareboard_relay_messages_total{type}
	JoinsRejected *prometheus.CounterVec // shareboard_relay_joins_rejected_total{reason}
}

// NewRelay registers relay metrics with registry, or the default registerer
// when registry is nil.
func NewRelay(registry prometheus.Registerer) *Relay {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Relay{
		Connections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "shareboard_relay_connections",
			Help: "Open websocket connections",
		}),
		Rooms: factory.NewGauge(prometheus.GaugeOpts{
			Name: "shareboard_relay_rooms",
			Help: "Rooms with at least one member",
		}),
		Members: factory.NewGauge(prometheus.GaugeOpts{
			Name: "shareboard_relay_members",
			Help: "Members across all rooms",
		}),
		Relayed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "shareboard_relay_messages_total",
			Help: "Messages handled by type",
		}, []string{"type"}),
		JoinsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "shareboard_relay_joins_rejected_total",
			Help: "Rejected room joins by reason",
		}, []string{"reason"}),
	}
}

func (m *Relay) Connected(delta float64) {
	if m == nil {
		return
	}
	m.Connections.Add(delta)
}

func (m *Relay) RoomStats(rooms, members int) {
	if m == nil {
		return
	}
	m.Rooms.Set(float64(rooms))
	m.Members.Set(float64(members))
}

func (m *Relay) Message(typ string) {
	if m == nil {
		return
	}
	m.Relayed.WithLabelValues(typ).Inc()
}

func (m *Relay) Rejected(reason string) {
	if m == nil {
		return
	}
	m.JoinsRejected.WithLabelValues(reason).Inc()
}
