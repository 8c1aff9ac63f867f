package mesh

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/BioHazard786/shareboard/internal/protocol"
	"github.com/BioHazard786/shareboard/internal/signaling"
)

// Peer is the negotiation state machine for one remote member.
//
// Every negotiation step, link event and channel event for the peer runs on
// its work queue, so makingOffer, ignoreOffer and connected are only touched
// from that goroutine. state and channel are also read by senders and are
// guarded by mu.
type Peer struct {
	id     string
	polite bool
	link   Link
	queue  *workQueue
	mgr    *Manager
	log    zerolog.Logger

	makingOffer bool
	ignoreOffer bool
	channelOpen bool
	connected   bool

	mu      sync.Mutex
	state   State
	channel Channel
}

// PeerInfo is a snapshot of a peer.
type PeerInfo struct {
	ID        string
	Polite    bool
	State     State
	Channel   ChannelState
	Connected bool
}

func (p *Peer) info() PeerInfo {
	p.mu.Lock()
	defer p.mu.Unlock()

	info := PeerInfo{ID: p.id, Polite: p.polite, State: p.state, Channel: ChannelClosed}
	if p.channel != nil {
		info.Channel = p.channel.State()
	}
	info.Connected = p.state == StateStable && info.Channel == ChannelOpen
	return info
}

func (p *Peer) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Peer) setState(target State) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == target {
		return nil
	}
	if !p.state.CanTransitionTo(target) {
		return NewTransitionError(p.state, target, p.id, "")
	}
	p.log.Debug().Stringer("from", p.state).Stringer("to", target).Msg("negotiation state")
	p.state = target
	return nil
}

// openChannel returns the channel if it can carry data.
func (p *Peer) openChannel() Channel {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateClosed || p.channel == nil || p.channel.State() != ChannelOpen {
		return nil
	}
	return p.channel
}

// start runs the first negotiation step: the impolite side opens the
// channel and offers, the polite side waits for that offer.
func (p *Peer) start() {
	if p.polite {
		p.log.Debug().Msg("waiting for offer")
		return
	}
	ch, err := p.link.OpenChannel(ChannelLabel)
	if err != nil {
		p.fail(fmt.Errorf("open channel: %w", err))
		return
	}
	p.attach(ch)
	p.offer()
}

func (p *Peer) offer() {
	p.makingOffer = true
	sdp, err := p.link.CreateOffer()
	p.makingOffer = false
	if err != nil {
		p.fail(fmt.Errorf("create offer: %w", err))
		return
	}
	if err := p.setState(StateOffering); err != nil {
		p.fail(err)
		return
	}
	p.emit(signaling.SignalOffer, sdp)
}

func (p *Peer) renegotiate() {
	switch st := p.State(); st {
	case StateNew, StateStable:
		p.offer()
	default:
		p.log.Debug().Stringer("state", st).Msg("renegotiation skipped")
	}
}

func (p *Peer) handleOffer(data json.RawMessage) {
	collision := p.makingOffer || p.State() == StateOffering

	p.ignoreOffer = !p.polite && collision
	if p.ignoreOffer {
		p.log.Debug().Msg("ignoring colliding offer")
		return
	}

	if collision {
		p.log.Debug().Msg("rolling back local offer")
		if err := p.link.Rollback(); err != nil {
			p.fail(fmt.Errorf("rollback: %w", err))
			return
		}
	}

	if err := p.setState(StateAnswering); err != nil {
		p.fail(err)
		return
	}
	answer, err := p.link.ApplyOffer(data)
	if err != nil {
		p.fail(fmt.Errorf("apply offer: %w", err))
		return
	}
	p.emit(signaling.SignalAnswer, answer)

	if err := p.setState(StateStable); err != nil {
		p.fail(err)
		return
	}
	p.checkConnected()
}

func (p *Peer) handleAnswer(data json.RawMessage) {
	if st := p.State(); st != StateOffering {
		p.log.Debug().Stringer("state", st).Msg("ignoring stray answer")
		return
	}
	if err := p.link.ApplyAnswer(data); err != nil {
		p.fail(fmt.Errorf("apply answer: %w", err))
		return
	}
	p.ignoreOffer = false
	if err := p.setState(StateStable); err != nil {
		p.fail(err)
		return
	}
	p.checkConnected()
}

func (p *Peer) handleCandidate(data json.RawMessage) {
	if err := p.link.AddCandidate(data); err != nil {
		if !p.ignoreOffer {
			p.log.Warn().Err(err).Msg("failed to add candidate")
		}
	}
}

func (p *Peer) emit(typ signaling.SignalType, data json.RawMessage) {
	p.mgr.emit(signaling.Envelope{
		To:   p.id,
		From: p.mgr.localID,
		Type: typ,
		Data: data,
	})
}

// attach adopts ch as the peer's board channel. Its events are funnelled
// back onto the work queue.
func (p *Peer) attach(ch Channel) {
	if ch.Label() != ChannelLabel {
		p.log.Warn().Str("label", ch.Label()).Msg("ignoring unexpected channel")
		_ = ch.Close()
		return
	}

	p.mu.Lock()
	old := p.channel
	p.channel = ch
	p.mu.Unlock()
	if old != nil && old != ch {
		_ = old.Close()
	}
	p.channelOpen = false

	ch.OnMessage(func(payload protocol.Payload) {
		p.mgr.deliver(p, payload)
	})
	ch.OnOpen(func() {
		p.queue.push(func() {
			if p.current(ch) {
				p.channelOpen = true
				p.checkConnected()
			}
		})
	})
	ch.OnClose(func() {
		p.queue.push(func() {
			if p.current(ch) {
				p.log.Debug().Msg("channel closed")
				p.channelOpen = false
			}
		})
	})
	if ch.State() == ChannelOpen {
		p.channelOpen = true
		p.checkConnected()
	}
}

func (p *Peer) current(ch Channel) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.channel == ch
}

// checkConnected fires onConnect the first time the peer is stable with an
// open channel.
func (p *Peer) checkConnected() {
	if p.connected || !p.channelOpen || p.State() != StateStable {
		return
	}
	p.connected = true
	p.log.Info().Msg("peer connected")
	p.mgr.connected(p)
}

func (p *Peer) fail(err error) {
	if p.State() == StateClosed {
		return
	}
	p.log.Error().Err(err).Msg("negotiation failed")
	p.mgr.metrics.PeerEvent("failed")
	p.mgr.remove(p)
}

// teardown is the final task on the queue.
func (p *Peer) teardown() {
	p.mu.Lock()
	ch := p.channel
	p.channel = nil
	p.state = StateClosed
	p.mu.Unlock()

	if ch != nil {
		_ = ch.Close()
	}
	if err := p.link.Close(); err != nil {
		p.log.Debug().Err(err).Msg("close link")
	}
	p.mgr.disconnected(p)
}
