package mesh

import (
	"encoding/json"
	"fmt"

	"github.com/BioHazard786/shareboard/internal/protocol"
)

// ChannelLabel names the single board channel between two peers.
const ChannelLabel = "share-board"

// Link is the transport between this node and one remote peer. Descriptions
// and candidates are opaque JSON exchanged through signaling.
//
// Callbacks may fire on any goroutine and must be registered before the
// first description is created.
type Link interface {
	// OpenChannel creates the board channel from this side.
	OpenChannel(label string) (Channel, error)
	// CreateOffer creates an offer and applies it as the local description.
	CreateOffer() (json.RawMessage, error)
	// Rollback discards a local offer that has not been answered.
	Rollback() error
	// ApplyOffer applies a remote offer and returns the local answer.
	ApplyOffer(offer json.RawMessage) (json.RawMessage, error)
	ApplyAnswer(answer json.RawMessage) error
	AddCandidate(candidate json.RawMessage) error

	OnCandidate(func(candidate json.RawMessage))
	OnChannel(func(Channel))
	OnStateChange(func(LinkState))

	Close() error
}

// LinkFactory creates the link to remote.
type LinkFactory func(remote string) (Link, error)

// LinkState is the transport connectivity of a Link.
type LinkState int

const (
	LinkNew LinkState = iota
	LinkConnecting
	LinkConnected
	LinkDisconnected
	LinkFailed
	LinkClosed
)

func (s LinkState) String() string {
	switch s {
	case LinkNew:
		return "new"
	case LinkConnecting:
		return "connecting"
	case LinkConnected:
		return "connected"
	case LinkDisconnected:
		return "disconnected"
	case LinkFailed:
		return "failed"
	case LinkClosed:
		return "closed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Lost reports whether the link can no longer carry data.
func (s LinkState) Lost() bool {
	return s == LinkDisconnected || s == LinkFailed || s == LinkClosed
}

// ChannelState is the readiness of a Channel.
type ChannelState int

const (
	ChannelConnecting ChannelState = iota
	ChannelOpen
	ChannelClosed
)

func (s ChannelState) String() string {
	switch s {
	case ChannelConnecting:
		return "connecting"
	case ChannelOpen:
		return "open"
	case ChannelClosed:
		return "closed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Channel is an ordered, reliable message channel over a Link.
type Channel interface {
	Label() string
	State() ChannelState
	Send(protocol.Payload) error

	OnOpen(func())
	OnClose(func())
	OnMessage(func(protocol.Payload))

	Close() error
}
