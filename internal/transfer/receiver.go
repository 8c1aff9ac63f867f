package transfer

import (
	"io"

	"github.com/rs/zerolog"

	"github.com/BioHazard786/shareboard/internal/board"
	"github.com/BioHazard786/shareboard/internal/metrics"
	"github.com/BioHazard786/shareboard/internal/protocol"
)

// PayloadSink keeps completed payloads and hands out references to them.
type PayloadSink interface {
	Put(name string, data []byte) (ref string, err error)
	Open(ref string) (io.ReadCloser, error)
	Remove(ref string) error
}

// Completed reports what a finished transfer changed on the board.
type Completed struct {
	TransferID string
	ItemID     string
	FileName   string
	Size       int64
	// Attached is true when the payload resolved an attachment of ItemID,
	// false when it resolved or created a standalone file item.
	Attached bool
}

// Receiver reassembles incoming transfers into the store.
type Receiver struct {
	store      *board.Store
	sink       PayloadSink
	log        zerolog.Logger
	metrics    *metrics.Node
	onProgress func(board.Progress)
}

// ReceiverOption configures a Receiver.
type ReceiverOption func(*Receiver)

func WithReceiverLogger(log zerolog.Logger) ReceiverOption {
	return func(r *Receiver) {
		r.log = log
	}
}

func WithReceiverMetrics(m *metrics.Node) ReceiverOption {
	return func(r *Receiver) {
		r.metrics = m
	}
}

// WithProgress is called after every accepted frame.
func WithProgress(fn func(board.Progress)) ReceiverOption {
	return func(r *Receiver) {
		r.onProgress = fn
	}
}

func NewReceiver(store *board.Store, sink PayloadSink, opts ...ReceiverOption) *Receiver {
	r := &Receiver{
		store: store,
		sink:  sink,
		log:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// HandleStart registers a transfer announced by from. It returns false when
// the announcement is inconsistent or the payload is already held locally;
// the transfer's frames are then dropped as unknown.
func (r *Receiver) HandleStart(from string, m protocol.TransferStart) bool {
	if err := m.Validate(); err != nil {
		r.log.Warn().Err(err).Str("peer", from).Msg("ignoring transfer")
		return false
	}
	if r.alreadyResolved(m.TransferID, m.ParentItemID) {
		r.log.Debug().
			Str("peer", from).
			Str("transfer_id", m.TransferID).
			Msg("payload already held, skipping transfer")
		return false
	}

	r.store.StartIncoming(board.IncomingTransfer{
		TransferID:   m.TransferID,
		Tag:          protocol.Tag(m.TransferID),
		SenderID:     from,
		ParentItemID: m.ParentItemID,
		FileName:     m.FileName,
		FileSize:     m.FileSize,
		MimeType:     m.MimeType,
		TotalFrames:  m.TotalFrames,
	})
	r.log.Debug().
		Str("peer", from).
		Str("transfer_id", m.TransferID).
		Str("file", m.FileName).
		Int64("size", m.FileSize).
		Int("frames", m.TotalFrames).
		Msg("incoming transfer started")
	return true
}

func (r *Receiver) alreadyResolved(transferID, parentID string) bool {
	if parentID != "" {
		return r.store.Resolved(parentID, transferID)
	}
	return r.store.Resolved(transferID, "")
}

// HandleFrame appends a frame to the sender's matching transfer. Frames for
// unknown transfers, and frames past the announced count or size, are
// dropped and false is returned.
func (r *Receiver) HandleFrame(from string, f protocol.Frame) bool {
	p, ok := r.store.AppendFrame(from, protocol.Tag(f.TransferID), f.Data)
	if !ok {
		r.log.Debug().Str("peer", from).Str("transfer_id", f.TransferID).Int("bytes", len(f.Data)).Msg("dropping frame")
		return false
	}
	r.metrics.Received(string(protocol.KindFrame), len(f.Data))
	if r.onProgress != nil {
		r.onProgress(p)
	}
	return true
}

// HandleComplete finishes a transfer: the frames are joined in arrival order,
// stored in the sink and attached to the board. It returns (nil, nil) for an
// unknown or already finished transfer. A transfer whose frame or byte count
// falls short of its announcement is discarded with ErrIncomplete.
func (r *Receiver) HandleComplete(from string, m protocol.TransferComplete) (*Completed, error) {
	t, ok := r.store.TakeIncoming(from, protocol.Tag(m.TransferID))
	if !ok {
		return nil, nil
	}
	if t.ParentItemID == "" {
		t.ParentItemID = m.ParentItemID
	}

	if t.ReceivedFrames != t.TotalFrames || t.ReceivedBytes != t.FileSize {
		r.metrics.Transfer("in", "incomplete")
		return nil, WrapError("complete", ErrIncomplete, t.FileName)
	}

	ref, err := r.sink.Put(t.FileName, t.Payload())
	if err != nil {
		r.metrics.Transfer("in", "failed")
		return nil, NewFileError("store payload", t.FileName, err)
	}

	done := &Completed{
		TransferID: t.TransferID,
		FileName:   t.FileName,
		Size:       t.ReceivedBytes,
	}
	var applied bool
	if t.ParentItemID != "" {
		done.ItemID = t.ParentItemID
		done.Attached = true
		applied = r.store.AttachPayload(t.ParentItemID, t.TransferID, ref)
	} else {
		done.ItemID = t.TransferID
		applied = r.store.ResolveFile(t.TransferID, ref) || r.store.Insert(board.Item{
			ID:         t.TransferID,
			Kind:       board.KindFile,
			FileName:   t.FileName,
			FileSize:   t.FileSize,
			MimeType:   t.MimeType,
			PayloadRef: ref,
			SenderID:   from,
			CreatedAt:  r.store.Now(),
		})
	}

	if !applied {
		// Parent gone or resolved by another peer meanwhile.
		if err := r.sink.Remove(ref); err != nil {
			r.log.Warn().Err(err).Str("ref", ref).Msg("failed to remove unused payload")
		}
		r.metrics.Transfer("in", "unused")
		return nil, nil
	}

	r.metrics.Transfer("in", "ok")
	r.log.Debug().
		Str("peer", from).
		Str("transfer_id", t.TransferID).
		Str("item_id", done.ItemID).
		Int64("bytes", t.ReceivedBytes).
		Msg("incoming transfer complete")
	return done, nil
}

// AbandonPeer discards every transfer still arriving from peerID.
func (r *Receiver) AbandonPeer(peerID string) []string {
	ids := r.store.AbandonIncoming(peerID)
	for range ids {
		r.metrics.Transfer("in", "abandoned")
	}
	if len(ids) > 0 {
		r.log.Debug().Str("peer", peerID).Strs("transfers", ids).Msg("abandoned incoming transfers")
	}
	return ids
}
