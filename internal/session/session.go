// Package session runs one device's membership in a board room. It owns the
// peer mesh, the item store and the transfer engine, and wires relay events,
// channel messages and local actions between them.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/BioHazard786/shareboard/internal/board"
	"github.com/BioHazard786/shareboard/internal/files"
	"github.com/BioHazard786/shareboard/internal/mesh"
	"github.com/BioHazard786/shareboard/internal/metrics"
	"github.com/BioHazard786/shareboard/internal/signaling"
	"github.com/BioHazard786/shareboard/internal/transfer"
)

const (
	// TombstoneSize is how many deleted item ids are remembered.
	TombstoneSize = 1024

	expiryInterval = time.Second
)

var ErrStarted = errors.New("session already started")

// ConnState is the session's relay connection status.
type ConnState int

const (
	Disconnected ConnState = iota
	Connecting
	Connected
)

func (s ConnState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Session is one device's view of a room.
type Session struct {
	id       string
	bridge   signaling.Bridge
	store    *board.Store
	mesh     *mesh.Manager
	sender   *transfer.Sender
	receiver *transfer.Receiver
	blobs    *files.Blobs

	fs           afero.Fs
	clock        clockwork.Clock
	ttl          time.Duration
	pacing       time.Duration
	snapshotPath string
	tombstones   *lru.Cache[string, struct{}]
	log          zerolog.Logger
	metrics      *metrics.Node

	// ctx bounds outbound transfers; it ends when Run returns.
	ctx       context.Context
	cancel    context.CancelFunc
	transfers errgroup.Group

	updates chan struct{}

	mu       sync.Mutex
	state    ConnState
	room     string
	started  bool
	pushes   map[string]pushScope
	outgoing map[uploadKey]*Upload
}

// Option configures a Session.
type Option func(*Session)

func WithLogger(log zerolog.Logger) Option {
	return func(s *Session) {
		s.log = log
	}
}

func WithMetrics(m *metrics.Node) Option {
	return func(s *Session) {
		s.metrics = m
	}
}

// WithClock sets the clock for item timestamps and expiry.
func WithClock(clock clockwork.Clock) Option {
	return func(s *Session) {
		s.clock = clock
	}
}

// WithFs sets the filesystem local shares are read from and the snapshot
// is kept on. It defaults to the OS filesystem.
func WithFs(fs afero.Fs) Option {
	return func(s *Session) {
		s.fs = fs
	}
}

// WithTTL sets the lifetime of locally shared items.
func WithTTL(ttl time.Duration) Option {
	return func(s *Session) {
		s.ttl = ttl
	}
}

// WithPacing sets the delay between outbound frames.
func WithPacing(d time.Duration) Option {
	return func(s *Session) {
		s.pacing = d
	}
}

// WithSnapshot persists text and post items at path between runs.
func WithSnapshot(path string) Option {
	return func(s *Session) {
		s.snapshotPath = path
	}
}

// New creates a session for device id. Links to other members come from
// links; payloads live in blobs.
func New(id string, bridge signaling.Bridge, links mesh.LinkFactory, blobs *files.Blobs, opts ...Option) *Session {
	s := &Session{
		id:       id,
		bridge:   bridge,
		blobs:    blobs,
		fs:       afero.NewOsFs(),
		clock:    clockwork.NewRealClock(),
		ttl:      board.DefaultTTL,
		pacing:   transfer.DefaultPacing,
		log:      zerolog.Nop(),
		updates:  make(chan struct{}, 1),
		pushes:   make(map[string]pushScope),
		outgoing: make(map[uploadKey]*Upload),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With().Str("component", "session").Str("self", id).Logger()
	s.ctx, s.cancel = context.WithCancel(context.Background())

	// lru.New only fails for a non-positive size.
	s.tombstones, _ = lru.New[string, struct{}](TombstoneSize)

	s.store = board.NewStore(board.WithClock(s.clock))
	s.sender = transfer.NewSender(
		transfer.WithPacing(s.pacing),
		transfer.WithSenderLogger(s.log),
		transfer.WithSenderMetrics(s.metrics),
	)
	s.receiver = transfer.NewReceiver(s.store, blobs,
		transfer.WithReceiverLogger(s.log),
		transfer.WithReceiverMetrics(s.metrics),
		transfer.WithProgress(func(board.Progress) { s.notify() }),
	)
	s.mesh = mesh.NewManager(id, links, mesh.Callbacks{
		OnSignal:     s.sendSignal,
		OnConnect:    s.peerConnected,
		OnDisconnect: s.peerDisconnected,
		OnMessage:    s.handleMessage,
	}, mesh.WithLogger(s.log), mesh.WithMetrics(s.metrics))
	return s
}

// ID returns the local device id.
func (s *Session) ID() string {
	return s.id
}

// Store exposes the local replica.
func (s *Session) Store() *board.Store {
	return s.store
}

// Updates signals, coalesced, whenever the board, the peers or a transfer
// changed.
func (s *Session) Updates() <-chan struct{} {
	return s.updates
}

func (s *Session) notify() {
	select {
	case s.updates <- struct{}{}:
	default:
	}
}

func (s *Session) setState(state ConnState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	s.notify()
}

// Run joins room and serves it until ctx ends or the relay connection is
// lost. A lost or refused relay connection is returned wrapped; there is
// no reconnect. A Session runs once.
func (s *Session) Run(ctx context.Context, room string) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrStarted
	}
	s.started = true
	s.room = room
	s.mu.Unlock()

	s.loadSnapshot()
	defer s.shutdown()

	s.setState(Connecting)
	s.log.Info().Str("room", room).Msg("joining room")
	events, err := s.bridge.Subscribe(ctx, room)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", room, err)
	}
	s.setState(Connected)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.expireLoop(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		if err := s.bridge.Close(); err != nil {
			s.log.Debug().Err(err).Msg("close relay subscription")
		}
		return nil
	})
	g.Go(func() error {
		return s.eventLoop(events)
	})

	err = g.Wait()
	if errors.Is(err, errRelayClosed) || ctx.Err() != nil {
		err = nil
	}
	return err
}

// errRelayClosed stops the run group after a clean relay shutdown.
var errRelayClosed = errors.New("relay subscription closed")

func (s *Session) eventLoop(events <-chan signaling.Event) error {
	for ev := range events {
		switch ev := ev.(type) {
		case signaling.Roster:
			s.log.Info().Int("members", len(ev.Peers)).Msg("joined room")
			for _, peer := range ev.Peers {
				s.addPeer(peer)
			}
		case signaling.Joined:
			s.log.Debug().Str("peer", ev.PeerID).Msg("member joined")
			s.addPeer(ev.PeerID)
		case signaling.Left:
			s.log.Debug().Str("peer", ev.PeerID).Msg("member left")
			s.mesh.RemovePeer(ev.PeerID)
		case signaling.Signal:
			s.handleSignal(ev.Envelope)
		case signaling.Closed:
			if ev.Err != nil {
				return fmt.Errorf("relay: %w", ev.Err)
			}
			return errRelayClosed
		}
	}
	return errRelayClosed
}

func (s *Session) addPeer(peer string) {
	if peer == s.id {
		return
	}
	if err := s.mesh.CreatePeer(peer, mesh.IsPolite(s.id, peer)); err != nil {
		s.log.Warn().Err(err).Str("peer", peer).Msg("failed to create peer")
	}
	s.notify()
}

func (s *Session) handleSignal(env signaling.Envelope) {
	if env.To != s.id || env.From == "" {
		return
	}
	s.log.Debug().Str("peer", env.From).Str("type", string(env.Type)).Msg("signal received")
	// An offer may outrun the member_joined event for its sender.
	if env.Type == signaling.SignalOffer {
		s.addPeer(env.From)
	}
	s.mesh.HandleSignal(env)
}

func (s *Session) sendSignal(env signaling.Envelope) {
	if err := s.bridge.SendEnvelope(env); err != nil {
		s.log.Warn().Err(err).Str("peer", env.To).Str("type", string(env.Type)).Msg("failed to send signal")
	}
}

func (s *Session) expireLoop(ctx context.Context) {
	ticker := s.clock.NewTicker(expiryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			s.expire()
		}
	}
}

// expire drops every expired item along with its local payloads.
func (s *Session) expire() []string {
	expired := s.store.ExpireNow()
	s.metrics.SetItems(s.store.Len(), len(expired))
	if len(expired) == 0 {
		return nil
	}

	ids := make([]string, len(expired))
	for n, item := range expired {
		ids[n] = item.ID
		s.removePayloads(item)
	}
	s.log.Debug().Strs("items", ids).Msg("items expired")
	s.notify()
	return ids
}

func (s *Session) shutdown() {
	s.mesh.Close()
	s.cancel()
	_ = s.transfers.Wait()
	s.saveSnapshot()
	s.setState(Disconnected)
	s.log.Info().Msg("left room")
}
