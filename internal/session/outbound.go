package session

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/BioHazard786/shareboard/internal/board"
	"github.com/BioHazard786/shareboard/internal/protocol"
	"github.com/BioHazard786/shareboard/internal/transfer"
)

// job is one payload to push: the transfer description plus where the
// bytes live locally.
type job struct {
	out transfer.Outgoing
	ref string
}

// payloadJobs lists the transfers that deliver item's locally held payloads.
func payloadJobs(item board.Item) []job {
	var jobs []job
	if item.Kind == board.KindFile && item.PayloadRef != "" {
		jobs = append(jobs, job{
			ref: item.PayloadRef,
			out: transfer.Outgoing{
				TransferID: item.ID,
				FileName:   item.FileName,
				MimeType:   item.MimeType,
				Size:       item.FileSize,
			},
		})
	}
	for _, a := range item.Attachments {
		if !a.Resolved() {
			continue
		}
		jobs = append(jobs, job{
			ref: a.PayloadRef,
			out: transfer.Outgoing{
				TransferID:   a.ID,
				ParentItemID: item.ID,
				FileName:     a.FileName,
				MimeType:     a.MimeType,
				Size:         a.FileSize,
			},
		})
	}
	return jobs
}

// Upload is the progress of one outbound transfer.
type Upload struct {
	Peer       string
	TransferID string
	FileName   string
	Size       int64
	Sent       int64
	Started    time.Time
}

// Fraction returns how much of the upload has been sent, in [0, 1].
func (u Upload) Fraction() float64 {
	if u.Size <= 0 {
		return 1
	}
	return min(1, float64(u.Sent)/float64(u.Size))
}

// Rate returns the average bytes per second since the upload started.
func (u Upload) Rate(now time.Time) float64 {
	elapsed := now.Sub(u.Started).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(u.Sent) / elapsed
}

type uploadKey struct {
	peer string
	id   string
}

// push sends jobs to peer one after another on a background goroutine.
// Pushes to the same peer run concurrently but share one cancellation.
func (s *Session) push(peer string, jobs []job) {
	if len(jobs) == 0 {
		return
	}
	ctx := s.pushContext(peer)
	if ctx == nil {
		return
	}
	s.transfers.Go(func() error {
		for _, j := range jobs {
			if ctx.Err() != nil {
				return nil
			}
			s.send(ctx, peer, j)
		}
		return nil
	})
}

type pushScope struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// pushContext returns the context shared by every push to peer. It is nil
// once the session has stopped.
func (s *Session) pushContext(peer string) context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx.Err() != nil {
		return nil
	}
	scope, ok := s.pushes[peer]
	if !ok {
		ctx, cancel := context.WithCancel(s.ctx)
		scope = pushScope{ctx: ctx, cancel: cancel}
		s.pushes[peer] = scope
	}
	return scope.ctx
}

func (s *Session) send(ctx context.Context, peer string, j job) {
	rc, err := s.blobs.Open(j.ref)
	if err != nil {
		err = transfer.WrapError("push "+j.out.FileName, transfer.ErrPayloadMissing, err.Error())
		s.log.Warn().Err(err).Str("peer", peer).Str("ref", j.ref).Msg("skipping transfer")
		return
	}
	defer rc.Close()

	out := j.out
	if size, err := s.blobs.Size(j.ref); err == nil {
		out.Size = size
	}
	out.Payload = rc

	key := uploadKey{peer, out.TransferID}
	s.mu.Lock()
	s.outgoing[key] = &Upload{Peer: peer, TransferID: out.TransferID, FileName: out.FileName, Size: out.Size, Started: s.clock.Now()}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.outgoing, key)
		s.mu.Unlock()
		s.notify()
	}()

	sendTo := func(m protocol.Message) error {
		return s.mesh.SendTo(peer, m)
	}
	err = s.sender.Send(ctx, sendTo, out, func(sent int64) {
		s.mu.Lock()
		if u, ok := s.outgoing[key]; ok {
			u.Sent = sent
		}
		s.mu.Unlock()
		s.notify()
	})
	switch {
	case err == nil:
		s.log.Debug().Str("peer", peer).Str("transfer_id", out.TransferID).Int64("bytes", out.Size).Msg("payload sent")
	case errors.Is(err, context.Canceled):
		s.log.Debug().Str("peer", peer).Str("transfer_id", out.TransferID).Msg("payload push cancelled")
	default:
		s.log.Warn().Err(err).Str("peer", peer).Str("transfer_id", out.TransferID).Msg("payload push failed")
	}
}

func (s *Session) stopPushes(peer string) {
	s.mu.Lock()
	scope, ok := s.pushes[peer]
	delete(s.pushes, peer)
	s.mu.Unlock()
	if ok {
		scope.cancel()
	}
}

// Uploads returns every outbound transfer in flight, ordered by peer then
// transfer id.
func (s *Session) Uploads() []Upload {
	s.mu.Lock()
	out := make([]Upload, 0, len(s.outgoing))
	for _, u := range s.outgoing {
		out = append(out, *u)
	}
	s.mu.Unlock()

	slices.SortFunc(out, func(a, b Upload) int {
		if c := strings.Compare(a.Peer, b.Peer); c != 0 {
			return c
		}
		return strings.Compare(a.TransferID, b.TransferID)
	})
	return out
}
