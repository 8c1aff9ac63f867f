// Package signaling carries presence and negotiation envelopes between the
// members of a room.
package signaling

import (
	"context"
	"errors"
)

var (
	ErrNotSubscribed = errors.New("not subscribed")
	ErrRejected      = errors.New("join rejected by relay")
	ErrClosed        = errors.New("signaling closed")
)

// Bridge is a room subscription. Events for one subscription arrive in
// order on the returned channel; the last event is always Closed, after
// which the channel is closed.
type Bridge interface {
	Subscribe(ctx context.Context, room string) (<-chan Event, error)
	SendEnvelope(env Envelope) error
	Close() error
}

// Event is one of Roster, Joined, Left, Signal or Closed.
type Event interface {
	isEvent()
}

// Roster lists the members present when the subscription started, not
// including Self.
type Roster struct {
	Self  string
	Peers []string
}

type Joined struct {
	PeerID string
}

type Left struct {
	PeerID string
}

type Signal struct {
	Envelope Envelope
}

// Closed ends a subscription. Err is nil after a local Close.
type Closed struct {
	Err error
}

func (Roster) isEvent() {}
func (Joined) isEvent() {}
func (Left) isEvent()   {}
func (Signal) isEvent() {}
func (Closed) isEvent() {}
