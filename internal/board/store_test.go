package board

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func textItem(id string, createdAt int64) Item {
	return Item{ID: id, Kind: KindText, Content: "hello " + id, SenderID: "a1", CreatedAt: createdAt}
}

func ids(items []Item) []string {
	out := make([]string, len(items))
	for n, item := range items {
		out[n] = item.ID
	}
	return out
}

func assertOrdered(t *testing.T, items []Item) {
	t.Helper()
	assert.True(t, slices.IsSortedFunc(items, newer), "items out of order: %v", ids(items))
}

func TestInsertIdempotent(t *testing.T) {
	s := NewStore()

	assert.True(t, s.Insert(textItem("x", 1000)))
	first := s.Items()

	changed := textItem("x", 5000)
	changed.Content = "other"
	assert.False(t, s.Insert(changed))
	assert.Equal(t, first, s.Items())
}

func TestInsertDefaultsExpiry(t *testing.T) {
	s := NewStore()
	s.Insert(textItem("x", 1000))

	item, ok := s.Get("x")
	require.True(t, ok)
	assert.Equal(t, int64(1000)+DefaultTTL.Milliseconds(), item.ExpiresAt)
	assert.Equal(t, int64(3_601_000), item.ExpiresAt)
}

func TestInsertKeepsExplicitExpiry(t *testing.T) {
	s := NewStore()
	item := textItem("x", 1000)
	item.ExpiresAt = 2000
	s.Insert(item)

	got, _ := s.Get("x")
	assert.Equal(t, int64(2000), got.ExpiresAt)
}

func TestInsertBatchDedup(t *testing.T) {
	s := NewStore()
	s.Insert(textItem("a", 100))

	added := s.InsertBatch([]Item{
		textItem("a", 100),
		textItem("b", 300),
		textItem("b", 300),
		textItem("c", 200),
	})

	assert.Equal(t, []string{"b", "c"}, ids(added))
	assert.Equal(t, []string{"b", "c", "a"}, ids(s.Items()))
	assert.Nil(t, s.InsertBatch([]Item{textItem("c", 200)}))
}

func TestOrderingTiesBrokenByID(t *testing.T) {
	s := NewStore()
	s.Insert(textItem("b", 100))
	s.Insert(textItem("a", 100))
	s.Insert(textItem("c", 100))

	assert.Equal(t, []string{"a", "b", "c"}, ids(s.Items()))
}

func TestOrderingSurvivesInterleavedMutations(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	clock := clockwork.NewFakeClockAt(time.UnixMilli(0))
	s := NewStore(WithClock(clock))

	for step := range 500 {
		id := fmt.Sprintf("i%d", rng.IntN(60))
		switch rng.IntN(5) {
		case 0, 1:
			s.Insert(textItem(id, rng.Int64N(50)))
		case 2:
			batch := make([]Item, rng.IntN(5))
			for n := range batch {
				batch[n] = textItem(fmt.Sprintf("i%d", rng.IntN(60)), rng.Int64N(50))
			}
			s.InsertBatch(batch)
		case 3:
			s.Delete(id)
		case 4:
			clock.Advance(time.Millisecond)
			item := textItem(id, rng.Int64N(50))
			item.ExpiresAt = rng.Int64N(int64(step) + 1)
			s.Insert(item)
			s.ExpireNow()
		}
		assertOrdered(t, s.Items())
		assert.Equal(t, len(s.Items()), s.Len())
	}
}

func TestDelete(t *testing.T) {
	s := NewStore()
	s.Insert(textItem("x", 1))

	assert.True(t, s.Delete("x"))
	assert.False(t, s.Delete("x"))
	assert.False(t, s.Has("x"))
	assert.Zero(t, s.Len())
}

func TestExpireNowReturnsPayloadRefs(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.UnixMilli(10_000))
	s := NewStore(WithClock(clock))
	s.Insert(Item{
		ID: "p1", Kind: KindPost, CreatedAt: 1, ExpiresAt: 10_500,
		Attachments: []Attachment{{ID: "a1", FileSize: 4}},
	})

	require.True(t, s.AttachPayload("p1", "a1", "a1.bin"))
	clock.Advance(time.Second)

	expired := s.ExpireNow()
	require.Len(t, expired, 1)
	assert.Equal(t, "a1.bin", expired[0].Attachments[0].PayloadRef)
}

func TestExpireNow(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.UnixMilli(10_000))
	s := NewStore(WithClock(clock))

	for id, exp := range map[string]int64{"past": 9_999, "edge": 10_000, "future": 10_001} {
		item := textItem(id, 1)
		item.ExpiresAt = exp
		s.Insert(item)
	}

	expired := s.ExpireNow()
	assert.ElementsMatch(t, []string{"past", "edge"}, ids(expired))
	assert.Equal(t, []string{"future"}, ids(s.Items()))

	assert.Empty(t, s.ExpireNow())
	assert.Equal(t, []string{"future"}, ids(s.Items()))

	clock.Advance(time.Millisecond)
	assert.Equal(t, []string{"future"}, ids(s.ExpireNow()))
	assert.Zero(t, s.Len())
}

func TestAttachPayload(t *testing.T) {
	s := NewStore()
	s.Insert(Item{
		ID:        "p1",
		Kind:      KindPost,
		CreatedAt: 1,
		Attachments: []Attachment{
			{ID: "f1", FileName: "a.txt", FileSize: 3},
			{ID: "f2", FileName: "b.txt", FileSize: 4},
		},
	})

	assert.False(t, s.Resolved("p1", "f1"))
	assert.True(t, s.AttachPayload("p1", "f1", "ref-1"))
	assert.True(t, s.Resolved("p1", "f1"))
	assert.False(t, s.Resolved("p1", "f2"))

	assert.False(t, s.AttachPayload("p1", "f1", "ref-2"), "resolved attachment must not be replaced")
	assert.False(t, s.AttachPayload("p1", "missing", "ref"))
	assert.False(t, s.AttachPayload("gone", "f1", "ref"))

	item, _ := s.Get("p1")
	att, ok := item.Attachment("f1")
	require.True(t, ok)
	assert.Equal(t, "ref-1", att.PayloadRef)
}

func TestResolveFile(t *testing.T) {
	s := NewStore()
	s.Insert(Item{ID: "f", Kind: KindFile, FileName: "x.bin", CreatedAt: 1})

	assert.False(t, s.Resolved("f", ""))
	assert.True(t, s.ResolveFile("f", "ref"))
	assert.False(t, s.ResolveFile("f", "other"))
	assert.True(t, s.Resolved("f", ""))
}

func TestItemsAreCopies(t *testing.T) {
	s := NewStore()
	s.Insert(Item{ID: "p", Kind: KindPost, CreatedAt: 1, Attachments: []Attachment{{ID: "f"}}})

	items := s.Items()
	items[0].Attachments[0].PayloadRef = "mutated"

	assert.False(t, s.Resolved("p", "f"))
}

func TestClearKeepsIncoming(t *testing.T) {
	s := NewStore()
	s.Insert(textItem("x", 1))
	s.StartIncoming(IncomingTransfer{TransferID: "t", SenderID: "a1", TotalFrames: 1})

	s.Clear()

	assert.Zero(t, s.Len())
	assert.Len(t, s.Incoming(), 1)
	assert.True(t, s.Insert(textItem("x", 1)))
}

func TestIncomingTransfers(t *testing.T) {
	s := NewStore()
	s.StartIncoming(IncomingTransfer{TransferID: "f1", SenderID: "z9", FileSize: 5, TotalFrames: 2})
	s.StartIncoming(IncomingTransfer{TransferID: "f1", SenderID: "b2", FileSize: 5, TotalFrames: 2})

	frame := []byte("abc")
	p, ok := s.AppendFrame("z9", "f1", frame)
	require.True(t, ok)
	frame[0] = 'X'
	assert.Equal(t, 1, p.ReceivedFrames)
	assert.Equal(t, int64(3), p.ReceivedBytes)
	assert.InDelta(t, 0.6, p.Fraction(), 1e-9)

	_, ok = s.AppendFrame("z9", "nope", []byte("x"))
	assert.False(t, ok)

	s.AppendFrame("z9", "f1", []byte("de"))

	progress := s.Incoming()
	require.Len(t, progress, 2)
	assert.Equal(t, "b2", progress[0].SenderID)
	assert.Equal(t, 0, progress[0].ReceivedFrames)

	tr, ok := s.TakeIncoming("z9", "f1")
	require.True(t, ok)
	assert.Equal(t, []byte("abcde"), tr.Payload())

	_, ok = s.TakeIncoming("z9", "f1")
	assert.False(t, ok)
}

func TestAbandonIncoming(t *testing.T) {
	s := NewStore()
	s.StartIncoming(IncomingTransfer{TransferID: "f2", SenderID: "z9"})
	s.StartIncoming(IncomingTransfer{TransferID: "f1", SenderID: "z9"})
	s.StartIncoming(IncomingTransfer{TransferID: "f1", SenderID: "b2"})

	assert.Equal(t, []string{"f1", "f2"}, s.AbandonIncoming("z9"))
	assert.Empty(t, s.AbandonIncoming("z9"))

	progress := s.Incoming()
	require.Len(t, progress, 1)
	assert.Equal(t, "b2", progress[0].SenderID)
}

func TestStartIncomingResets(t *testing.T) {
	s := NewStore()
	s.StartIncoming(IncomingTransfer{TransferID: "f1", SenderID: "z9", FileSize: 5, TotalFrames: 2})
	s.AppendFrame("z9", "f1", []byte("stale"))

	s.StartIncoming(IncomingTransfer{TransferID: "f1", SenderID: "z9", TotalFrames: 2, ReceivedFrames: 7})

	tr, ok := s.TakeIncoming("z9", "f1")
	require.True(t, ok)
	assert.Zero(t, tr.ReceivedFrames)
	assert.Empty(t, tr.Payload())
}
