// Package transfer moves payloads larger than one channel message between
// peers as a run of tagged binary frames.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/BioHazard786/shareboard/internal/metrics"
	"github.com/BioHazard786/shareboard/internal/protocol"
)

// DefaultPacing is the gap between two frames of one transfer.
const DefaultPacing = 5 * time.Millisecond

// SendFunc delivers one message to the receiving peer. It must not retain
// the message after returning.
type SendFunc func(protocol.Message) error

// Outgoing describes a payload to push to a peer. ParentItemID is empty for
// standalone file items, in which case TransferID is the item id.
type Outgoing struct {
	TransferID   string
	ParentItemID string
	FileName     string
	MimeType     string
	Size         int64
	Payload      io.Reader
}

// Sender frames outgoing payloads.
type Sender struct {
	pacing  time.Duration
	log     zerolog.Logger
	metrics *metrics.Node
}

// SenderOption configures a Sender.
type SenderOption func(*Sender)

// WithPacing sets the delay between frames. Zero disables pacing.
func WithPacing(d time.Duration) SenderOption {
	return func(s *Sender) {
		s.pacing = d
	}
}

// WithSenderLogger sets the sender's logger.
func WithSenderLogger(log zerolog.Logger) SenderOption {
	return func(s *Sender) {
		s.log = log
	}
}

// WithSenderMetrics records sent frames and transfers.
func WithSenderMetrics(m *metrics.Node) SenderOption {
	return func(s *Sender) {
		s.metrics = m
	}
}

func NewSender(opts ...SenderOption) *Sender {
	s := &Sender{
		pacing: DefaultPacing,
		log:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Sender) limiter() *rate.Limiter {
	if s.pacing <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(s.pacing), 1)
}

// Send pushes out.Payload as transfer-start, its frames, then transfer-complete.
// onProgress, if set, is called with the payload bytes sent so far after
// each frame. A failed or cancelled send never emits transfer-complete.
func (s *Sender) Send(ctx context.Context, send SendFunc, out Outgoing, onProgress func(sent int64)) error {
	err := s.send(ctx, send, out, onProgress)
	switch {
	case err == nil:
		s.metrics.Transfer("out", "ok")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		s.metrics.Transfer("out", "cancelled")
	default:
		s.metrics.Transfer("out", "failed")
	}
	return err
}

func (s *Sender) send(ctx context.Context, send SendFunc, out Outgoing, onProgress func(sent int64)) error {
	if out.Size < 0 {
		return NewFileError("send", out.FileName, fmt.Errorf("negative size %d", out.Size))
	}
	total := protocol.FrameCount(out.Size)

	err := send(protocol.TransferStart{
		TransferID:   out.TransferID,
		ParentItemID: out.ParentItemID,
		FileName:     out.FileName,
		FileSize:     out.Size,
		MimeType:     out.MimeType,
		TotalFrames:  total,
	})
	if err != nil {
		return NewFileError("send start", out.FileName, err)
	}
	s.metrics.Sent(string(protocol.KindTransferStart), 0)

	limiter := s.limiter()
	buf := make([]byte, protocol.FrameSize)
	var sent int64

	for frame := range total {
		if err := limiter.Wait(ctx); err != nil {
			return WrapError("send", err, fmt.Sprintf("%s after %d of %d frames", out.FileName, frame, total))
		}

		n := int(min(out.Size-sent, protocol.FrameSize))
		if _, err := io.ReadFull(out.Payload, buf[:n]); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				err = ErrShortPayload
			}
			return NewFileError("read", out.FileName, err)
		}

		if err := send(protocol.Frame{TransferID: out.TransferID, Data: buf[:n]}); err != nil {
			return WrapError("send frame", err, fmt.Sprintf("%s frame %d of %d", out.FileName, frame+1, total))
		}
		sent += int64(n)
		s.metrics.Sent(string(protocol.KindFrame), n)
		if onProgress != nil {
			onProgress(sent)
		}
	}

	err = send(protocol.TransferComplete{
		TransferID:   out.TransferID,
		ParentItemID: out.ParentItemID,
	})
	if err != nil {
		return NewFileError("send complete", out.FileName, err)
	}
	s.metrics.Sent(string(protocol.KindTransferComplete), 0)

	s.log.Debug().
		Str("transfer_id", out.TransferID).
		Str("file", out.FileName).
		Int64("bytes", sent).
		Int("frames", total).
		Msg("transfer sent")
	return nil
}
