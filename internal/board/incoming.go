package board

import (
	"bytes"
	"slices"
	"strings"
)

// IncomingTransfer is a payload still arriving from one peer.
type IncomingTransfer struct {
	TransferID string
	// Tag is the id this transfer's frames carry; TransferID when empty.
	Tag            string
	SenderID       string
	ParentItemID   string
	FileName       string
	FileSize       int64
	MimeType       string
	TotalFrames    int
	ReceivedFrames int
	ReceivedBytes  int64
	Frames         [][]byte
}

// Payload concatenates the received frames in arrival order.
func (t IncomingTransfer) Payload() []byte {
	return bytes.Join(t.Frames, nil)
}

// Progress is a frame-free view of an IncomingTransfer.
type Progress struct {
	TransferID     string
	SenderID       string
	ParentItemID   string
	FileName       string
	FileSize       int64
	TotalFrames    int
	ReceivedFrames int
	ReceivedBytes  int64
}

// Fraction returns how much of the transfer has arrived, in [0, 1].
func (p Progress) Fraction() float64 {
	switch {
	case p.FileSize > 0:
		return min(1, float64(p.ReceivedBytes)/float64(p.FileSize))
	case p.TotalFrames > 0:
		return min(1, float64(p.ReceivedFrames)/float64(p.TotalFrames))
	default:
		return 0
	}
}

// transfers from different peers may share an id, e.g. two peers pushing
// the same attachment to a newcomer.
type transferKey struct {
	sender string
	tag    string
}

func (t *IncomingTransfer) progress() Progress {
	return Progress{
		TransferID:     t.TransferID,
		SenderID:       t.SenderID,
		ParentItemID:   t.ParentItemID,
		FileName:       t.FileName,
		FileSize:       t.FileSize,
		TotalFrames:    t.TotalFrames,
		ReceivedFrames: t.ReceivedFrames,
		ReceivedBytes:  t.ReceivedBytes,
	}
}

// StartIncoming registers a new transfer, replacing any earlier one with the
// same sender and tag.
func (s *Store) StartIncoming(t IncomingTransfer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.Tag == "" {
		t.Tag = t.TransferID
	}
	t.ReceivedFrames = 0
	t.ReceivedBytes = 0
	t.Frames = nil
	s.incoming[transferKey{t.SenderID, t.Tag}] = &t
}

// AppendFrame adds a frame to the in-flight transfer with the given tag. It
// returns false when no such transfer exists, or when the frame would take it
// past its announced frame count or size; the frame is then dropped.
func (s *Store) AppendFrame(senderID, tag string, data []byte) (Progress, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.incoming[transferKey{senderID, tag}]
	if !ok {
		return Progress{}, false
	}
	if t.ReceivedFrames >= t.TotalFrames || t.ReceivedBytes+int64(len(data)) > t.FileSize {
		return t.progress(), false
	}
	t.Frames = append(t.Frames, bytes.Clone(data))
	t.ReceivedFrames++
	t.ReceivedBytes += int64(len(data))
	return t.progress(), true
}

// TakeIncoming removes and returns the in-flight transfer with the given tag.
func (s *Store) TakeIncoming(senderID, tag string) (IncomingTransfer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := transferKey{senderID, tag}
	t, ok := s.incoming[key]
	if !ok {
		return IncomingTransfer{}, false
	}
	delete(s.incoming, key)
	return *t, true
}

// AbandonIncoming discards every in-flight transfer from senderID and returns
// their ids.
func (s *Store) AbandonIncoming(senderID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for key, t := range s.incoming {
		if key.sender == senderID {
			ids = append(ids, t.TransferID)
			delete(s.incoming, key)
		}
	}
	slices.Sort(ids)
	return ids
}

// Incoming returns progress for every in-flight transfer, ordered by sender
// then transfer id.
func (s *Store) Incoming() []Progress {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Progress, 0, len(s.incoming))
	for _, t := range s.incoming {
		out = append(out, t.progress())
	}
	slices.SortFunc(out, func(a, b Progress) int {
		if c := strings.Compare(a.SenderID, b.SenderID); c != 0 {
			return c
		}
		return strings.Compare(a.TransferID, b.TransferID)
	})
	return out
}
