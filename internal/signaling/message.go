package signaling

import "encoding/json"

// SignalType is the kind of negotiation data an Envelope carries.
type SignalType string

const (
	SignalOffer     SignalType = "offer"
	SignalAnswer    SignalType = "answer"
	SignalCandidate SignalType = "candidate"
)

// Envelope is one negotiation message addressed to a single peer. Data is
// passed through untouched.
type Envelope struct {
	To   string          `json:"to"`
	From string          `json:"from"`
	Type SignalType      `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Message represents all WebSocket messages between a node and the relay.
type Message struct {
	Type     string    `json:"type"`
	Room     string    `json:"room,omitempty"`
	PeerID   string    `json:"peer_id,omitempty"`
	Token    string    `json:"token,omitempty"`
	Peers    []string  `json:"peers,omitempty"`
	Envelope *Envelope `json:"envelope,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// Message type constants.
const (
	MessageTypeJoin   = "join"
	MessageTypeSignal = "signal"

	MessageTypeRoster       = "roster"
	MessageTypeMemberJoined = "member_joined"
	MessageTypeMemberLeft   = "member_left"
	MessageTypeError        = "error"
)

// RoomInfo is the relay's answer to a room lookup.
type RoomInfo struct {
	RoomName string `json:"roomName"`
	Token    string `json:"token"`
	IP       string `json:"ip,omitempty"`
}
