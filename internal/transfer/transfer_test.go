package transfer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BioHazard786/shareboard/internal/board"
	"github.com/BioHazard786/shareboard/internal/protocol"
)

type memSink struct {
	mu    sync.Mutex
	blobs map[string][]byte
	next  int
}

func newMemSink() *memSink {
	return &memSink{blobs: make(map[string][]byte)}
}

func (s *memSink) Put(name string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	ref := fmt.Sprintf("%d-%s", s.next, name)
	s.blobs[ref] = bytes.Clone(data)
	return ref, nil
}

func (s *memSink) Open(ref string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.blobs[ref]
	if !ok {
		return nil, ErrPayloadMissing
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *memSink) Remove(ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, ref)
	return nil
}

func (s *memSink) get(t *testing.T, ref string) []byte {
	t.Helper()
	rc, err := s.Open(ref)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return data
}

// wire passes messages through the real codec and into the receiver, the
// way a session does for an ordered channel.
func wire(t *testing.T, r *Receiver, from string) (SendFunc, *[]*Completed) {
	var done []*Completed
	send := func(m protocol.Message) error {
		p, err := protocol.Encode(m)
		if err != nil {
			return err
		}
		decoded, err := protocol.Decode(protocol.Payload{Data: bytes.Clone(p.Data), IsString: p.IsString})
		if err != nil {
			return err
		}
		switch m := decoded.(type) {
		case protocol.TransferStart:
			r.HandleStart(from, m)
		case protocol.Frame:
			r.HandleFrame(from, m)
		case protocol.TransferComplete:
			c, err := r.HandleComplete(from, m)
			require.NoError(t, err)
			if c != nil {
				done = append(done, c)
			}
		default:
			t.Fatalf("unexpected message %T", m)
		}
		return nil
	}
	return send, &done
}

func payload(size int) []byte {
	rng := rand.New(rand.NewPCG(uint64(size), 7))
	b := make([]byte, size)
	for n := range b {
		b[n] = byte(rng.UintN(256))
	}
	return b
}

func TestRoundTripSizes(t *testing.T) {
	const f = protocol.FrameSize
	for _, size := range []int{0, 1, f - 1, f, f + 1, 10 * f} {
		t.Run(fmt.Sprintf("%d", size), func(t *testing.T) {
			store := board.NewStore()
			sink := newMemSink()
			r := NewReceiver(store, sink)
			send, done := wire(t, r, "z9")

			data := payload(size)
			var frames int
			counting := func(m protocol.Message) error {
				if m.Kind() == protocol.KindFrame {
					frames++
				}
				return send(m)
			}

			err := NewSender(WithPacing(0)).Send(context.Background(), counting, Outgoing{
				TransferID: "f1",
				FileName:   "blob.bin",
				MimeType:   "application/octet-stream",
				Size:       int64(size),
				Payload:    bytes.NewReader(data),
			}, nil)
			require.NoError(t, err)

			assert.Equal(t, protocol.FrameCount(int64(size)), frames)
			require.Len(t, *done, 1)

			item, ok := store.Get("f1")
			require.True(t, ok)
			assert.Equal(t, board.KindFile, item.Kind)
			assert.Equal(t, "z9", item.SenderID)
			assert.Equal(t, int64(size), item.FileSize)
			assert.True(t, bytes.Equal(data, sink.get(t, item.PayloadRef)))
			assert.Empty(t, store.Incoming())
		})
	}
}

func TestAttachToParent(t *testing.T) {
	store := board.NewStore()
	store.Insert(board.Item{
		ID: "p1", Kind: board.KindPost, CreatedAt: 1,
		Attachments: []board.Attachment{{ID: "a1", FileName: "x.txt", FileSize: 5}},
	})
	sink := newMemSink()
	r := NewReceiver(store, sink)
	send, done := wire(t, r, "z9")

	err := NewSender(WithPacing(0)).Send(context.Background(), send, Outgoing{
		TransferID: "a1", ParentItemID: "p1", FileName: "x.txt", Size: 5,
		Payload: bytes.NewReader([]byte("hello")),
	}, nil)
	require.NoError(t, err)

	require.Len(t, *done, 1)
	assert.True(t, (*done)[0].Attached)
	assert.Equal(t, "p1", (*done)[0].ItemID)

	item, _ := store.Get("p1")
	att, _ := item.Attachment("a1")
	assert.Equal(t, []byte("hello"), sink.get(t, att.PayloadRef))
	assert.False(t, store.Has("a1"), "no standalone item for an attachment")
}

func TestMissingParentDiscardsPayload(t *testing.T) {
	store := board.NewStore()
	sink := newMemSink()
	r := NewReceiver(store, sink)
	send, done := wire(t, r, "z9")

	err := NewSender(WithPacing(0)).Send(context.Background(), send, Outgoing{
		TransferID: "a1", ParentItemID: "gone", FileName: "x", Size: 1,
		Payload: bytes.NewReader([]byte{1}),
	}, nil)
	require.NoError(t, err)

	assert.Empty(t, *done)
	assert.Empty(t, sink.blobs)
	assert.Zero(t, store.Len())
}

func TestResolvedPayloadSkipped(t *testing.T) {
	store := board.NewStore()
	store.Insert(board.Item{ID: "f1", Kind: board.KindFile, PayloadRef: "have-it", CreatedAt: 1})
	r := NewReceiver(store, newMemSink())

	assert.False(t, r.HandleStart("z9", protocol.TransferStart{TransferID: "f1", TotalFrames: 1, FileSize: 1}))
	assert.False(t, r.HandleFrame("z9", protocol.Frame{TransferID: "f1", Data: []byte{1}}))

	c, err := r.HandleComplete("z9", protocol.TransferComplete{TransferID: "f1"})
	assert.NoError(t, err)
	assert.Nil(t, c)

	item, _ := store.Get("f1")
	assert.Equal(t, "have-it", item.PayloadRef)
}

func TestPartialTransferAbandonedOnDisconnect(t *testing.T) {
	store := board.NewStore()
	r := NewReceiver(store, newMemSink())

	require.True(t, r.HandleStart("z9", protocol.TransferStart{TransferID: "f1", TotalFrames: 2, FileSize: protocol.FrameSize + 1}))
	require.True(t, r.HandleFrame("z9", protocol.Frame{TransferID: "f1", Data: make([]byte, protocol.FrameSize)}))

	assert.Equal(t, []string{"f1"}, r.AbandonPeer("z9"))

	assert.False(t, r.HandleFrame("z9", protocol.Frame{TransferID: "f1", Data: []byte{1}}))
	c, err := r.HandleComplete("z9", protocol.TransferComplete{TransferID: "f1"})
	assert.NoError(t, err)
	assert.Nil(t, c)
	assert.Zero(t, store.Len())
	assert.Empty(t, store.Incoming())
}

func TestTruncatedTransferDiscarded(t *testing.T) {
	store := board.NewStore()
	sink := newMemSink()
	r := NewReceiver(store, sink)

	r.HandleStart("z9", protocol.TransferStart{TransferID: "f1", TotalFrames: 1, FileSize: 10})
	r.HandleFrame("z9", protocol.Frame{TransferID: "f1", Data: make([]byte, 5)})

	c, err := r.HandleComplete("z9", protocol.TransferComplete{TransferID: "f1"})
	assert.Nil(t, c)
	assert.ErrorIs(t, err, ErrIncomplete)
	assert.Zero(t, store.Len())
	assert.Empty(t, sink.blobs)
}

func TestSamePayloadFromTwoPeers(t *testing.T) {
	store := board.NewStore()
	store.Insert(board.Item{
		ID: "p1", Kind: board.KindPost, CreatedAt: 1,
		Attachments: []board.Attachment{{ID: "a1", FileSize: 4}},
	})
	sink := newMemSink()
	r := NewReceiver(store, sink)

	start := protocol.TransferStart{TransferID: "a1", ParentItemID: "p1", FileSize: 4, TotalFrames: 1}
	require.True(t, r.HandleStart("b2", start))
	require.True(t, r.HandleStart("z9", start))
	r.HandleFrame("b2", protocol.Frame{TransferID: "a1", Data: []byte("bbbb")})
	r.HandleFrame("z9", protocol.Frame{TransferID: "a1", Data: []byte("zzzz")})

	c, err := r.HandleComplete("z9", protocol.TransferComplete{TransferID: "a1", ParentItemID: "p1"})
	require.NoError(t, err)
	require.NotNil(t, c)

	c, err = r.HandleComplete("b2", protocol.TransferComplete{TransferID: "a1", ParentItemID: "p1"})
	require.NoError(t, err)
	assert.Nil(t, c, "second copy is redundant")

	item, _ := store.Get("p1")
	att, _ := item.Attachment("a1")
	assert.Equal(t, []byte("zzzz"), sink.get(t, att.PayloadRef))
	assert.Len(t, sink.blobs, 1)
}

func TestSendShortPayload(t *testing.T) {
	var sent []protocol.Kind
	err := NewSender(WithPacing(0)).Send(context.Background(), func(m protocol.Message) error {
		sent = append(sent, m.Kind())
		return nil
	}, Outgoing{TransferID: "t", FileName: "x", Size: 10, Payload: bytes.NewReader([]byte("abc"))}, nil)

	assert.ErrorIs(t, err, ErrShortPayload)
	var terr *TransferError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, "x", terr.File)
	assert.Equal(t, []protocol.Kind{protocol.KindTransferStart}, sent)
}

func TestSendCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var frames int
	err := NewSender(WithPacing(50*time.Millisecond)).Send(ctx, func(m protocol.Message) error {
		if m.Kind() == protocol.KindFrame {
			frames++
			cancel()
		}
		return nil
	}, Outgoing{TransferID: "t", Size: 3 * protocol.FrameSize, Payload: bytes.NewReader(make([]byte, 3*protocol.FrameSize))}, nil)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, frames)
}

func TestSendReportsProgress(t *testing.T) {
	var progress []int64
	err := NewSender(WithPacing(0)).Send(context.Background(), func(protocol.Message) error { return nil },
		Outgoing{TransferID: "t", Size: protocol.FrameSize + 10, Payload: bytes.NewReader(make([]byte, protocol.FrameSize+10))},
		func(sent int64) { progress = append(progress, sent) })

	require.NoError(t, err)
	assert.Equal(t, []int64{protocol.FrameSize, protocol.FrameSize + 10}, progress)
}

func TestSendChannelError(t *testing.T) {
	closed := errors.New("channel closed")
	err := NewSender(WithPacing(0)).Send(context.Background(), func(m protocol.Message) error {
		if m.Kind() == protocol.KindFrame {
			return closed
		}
		return nil
	}, Outgoing{TransferID: "t", Size: 1, Payload: bytes.NewReader([]byte{1})}, nil)

	assert.ErrorIs(t, err, closed)
}

func TestTransferErrorMessage(t *testing.T) {
	assert.Equal(t, "read a.txt: transfer incomplete", NewFileError("read", "a.txt", ErrIncomplete).Error())
	assert.Equal(t, "complete: transfer incomplete (a.txt)", WrapError("complete", ErrIncomplete, "a.txt").Error())
	assert.ErrorIs(t, WrapError("push", ErrPayloadMissing, ""), ErrPayloadMissing)
}

func TestInconsistentStartIgnored(t *testing.T) {
	store := board.NewStore()
	r := NewReceiver(store, newMemSink())

	assert.False(t, r.HandleStart("z9", protocol.TransferStart{TransferID: "f1", FileSize: 1, TotalFrames: 1_000_000_000_000_000}))
	assert.False(t, r.HandleStart("z9", protocol.TransferStart{TransferID: "f1", FileSize: 10, TotalFrames: 0}))
	assert.Empty(t, store.Incoming())
	assert.False(t, r.HandleFrame("z9", protocol.Frame{TransferID: "f1", Data: []byte{1}}))
}

func TestSurplusFramesDropped(t *testing.T) {
	store := board.NewStore()
	sink := newMemSink()
	r := NewReceiver(store, sink)

	require.True(t, r.HandleStart("z9", protocol.TransferStart{TransferID: "f1", FileName: "a.txt", FileSize: 4, TotalFrames: 1}))
	require.True(t, r.HandleFrame("z9", protocol.Frame{TransferID: "f1", Data: []byte("abcd")}))
	assert.False(t, r.HandleFrame("z9", protocol.Frame{TransferID: "f1", Data: []byte("more")}))
	assert.False(t, r.HandleFrame("z9", protocol.Frame{TransferID: "f1", Data: nil}))

	progress := store.Incoming()
	require.Len(t, progress, 1)
	assert.Equal(t, 1, progress[0].ReceivedFrames)
	assert.Equal(t, int64(4), progress[0].ReceivedBytes)

	c, err := r.HandleComplete("z9", protocol.TransferComplete{TransferID: "f1"})
	require.NoError(t, err)
	require.NotNil(t, c)
	item, ok := store.Get("f1")
	require.True(t, ok)
	assert.Equal(t, []byte("abcd"), sink.get(t, item.PayloadRef))
}

func TestOversizedFrameDropped(t *testing.T) {
	store := board.NewStore()
	r := NewReceiver(store, newMemSink())

	require.True(t, r.HandleStart("z9", protocol.TransferStart{TransferID: "f1", FileSize: 4, TotalFrames: 1}))
	assert.False(t, r.HandleFrame("z9", protocol.Frame{TransferID: "f1", Data: make([]byte, protocol.FrameSize)}))

	c, err := r.HandleComplete("z9", protocol.TransferComplete{TransferID: "f1"})
	assert.Nil(t, c)
	assert.ErrorIs(t, err, ErrIncomplete)
}

func TestLongTransferIDRoundTrip(t *testing.T) {
	store := board.NewStore()
	sink := newMemSink()
	r := NewReceiver(store, sink)
	send, done := wire(t, r, "z9")

	id := strings.Repeat("x", 40)
	data := payload(protocol.FrameSize + 10)
	err := NewSender(WithPacing(0)).Send(context.Background(), send, Outgoing{
		TransferID: id,
		FileName:   "a",
		Size:       int64(len(data)),
		Payload:    bytes.NewReader(data),
	}, nil)
	require.NoError(t, err)

	require.Len(t, *done, 1)
	assert.Equal(t, id, (*done)[0].ItemID)
	item, ok := store.Get(id)
	require.True(t, ok)
	assert.Equal(t, data, sink.get(t, item.PayloadRef))
	assert.Empty(t, store.Incoming())
}
