package protocol

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BioHazard786/shareboard/internal/board"
)

func TestEncodeAnnounceStripsPayloadRefs(t *testing.T) {
	item := board.Item{
		ID: "p1", Kind: board.KindPost, Content: "look", SenderID: "a1", CreatedAt: 1000,
		Attachments: []board.Attachment{{ID: "f1", FileName: "a.png", FileSize: 10, PayloadRef: "secret"}},
	}

	p, err := Encode(NewAnnounce(item))
	require.NoError(t, err)
	assert.True(t, p.IsString)
	assert.NotContains(t, string(p.Data), "secret")

	var raw map[string]any
	require.NoError(t, json.Unmarshal(p.Data, &raw))
	assert.Equal(t, "post", raw["type"])
	wire := raw["item"].(map[string]any)
	assert.Equal(t, float64(1000), wire["timestamp"])
	assert.Equal(t, "a1", wire["senderId"])

	m, err := Decode(p)
	require.NoError(t, err)
	got, ok := m.(Announce)
	require.True(t, ok)
	assert.Equal(t, KindPost, got.Type)
	assert.Equal(t, item.Stripped(), got.Item)
}

func TestDecodeBrowserMessages(t *testing.T) {
	tests := []struct {
		name string
		data string
		want Message
	}{
		{
			name: "text",
			data: `{"type":"text","item":{"id":"x","type":"text","content":"hi","senderId":"a1","timestamp":5}}`,
			want: Announce{Type: KindText, Item: board.Item{ID: "x", Kind: board.KindText, Content: "hi", SenderID: "a1", CreatedAt: 5}},
		},
		{
			name: "file-meta without item kind",
			data: `{"type":"file-meta","item":{"id":"f","fileName":"a.bin","fileSize":3,"timestamp":5}}`,
			want: Announce{Type: KindFileMeta, Item: board.Item{ID: "f", Kind: board.KindFile, FileName: "a.bin", FileSize: 3, CreatedAt: 5}},
		},
		{
			name: "sync drops items without id",
			data: `{"type":"sync","items":[{"id":"a","type":"text","timestamp":1},{"type":"text"}]}`,
			want: Sync{Items: []board.Item{{ID: "a", Kind: board.KindText, CreatedAt: 1}}},
		},
		{
			name: "delete",
			data: `{"type":"delete","itemId":"a"}`,
			want: Delete{ItemID: "a"},
		},
		{
			name: "transfer-start",
			data: `{"type":"transfer-start","transferId":"t","parentItemId":"p","fileName":"a","fileSize":9,"mimeType":"text/plain","totalFrames":1}`,
			want: TransferStart{TransferID: "t", ParentItemID: "p", FileName: "a", FileSize: 9, MimeType: "text/plain", TotalFrames: 1},
		},
		{
			name: "transfer-complete",
			data: `{"type":"transfer-complete","transferId":"t"}`,
			want: TransferComplete{TransferID: "t"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(Payload{Data: []byte(tt.data), IsString: true})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want.Kind(), got.Kind())
		})
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
		want error
	}{
		{"not json", `{`, ErrMalformed},
		{"unknown kind", `{"type":"hello"}`, ErrUnknownKind},
		{"missing kind", `{}`, ErrUnknownKind},
		{"text without item", `{"type":"text"}`, ErrMalformed},
		{"delete without id", `{"type":"delete"}`, ErrMalformed},
		{"start without id", `{"type":"transfer-start","totalFrames":1}`, ErrMalformed},
		{"negative frames", `{"type":"transfer-start","transferId":"t","totalFrames":-1}`, ErrMalformed},
		{"negative size", `{"type":"transfer-start","transferId":"t","fileSize":-1}`, ErrMalformed},
		{"frames beyond size", `{"type":"transfer-start","transferId":"f1","fileSize":1,"totalFrames":1000000000000000}`, ErrMalformed},
		{"frames short of size", `{"type":"transfer-start","transferId":"f1","fileSize":64001,"totalFrames":1}`, ErrMalformed},
		{"wrong field type", `{"type":"delete","itemId":7}`, ErrMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(Payload{Data: []byte(tt.data), IsString: true})
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestControlRoundTrip(t *testing.T) {
	for _, m := range []Message{
		Sync{Items: []board.Item{}},
		Delete{ItemID: "gone"},
		TransferStart{TransferID: "t1", FileName: "x", FileSize: 0, TotalFrames: 0},
		TransferComplete{TransferID: "t1", ParentItemID: "p1"},
	} {
		p, err := Encode(m)
		require.NoError(t, err)
		got, err := Decode(p)
		require.NoError(t, err)
		assert.Equal(t, m.Kind(), got.Kind())
	}
}

func TestFrameTag(t *testing.T) {
	id := "123e4567-e89b-12d3-a456-426614174000"
	require.Len(t, id, TagSize)

	b := EncodeFrame(id, []byte("data"))
	assert.Len(t, b, TagSize+4)

	f, err := DecodeFrame(b)
	require.NoError(t, err)
	assert.Equal(t, id, f.TransferID)
	assert.Equal(t, []byte("data"), f.Data)

	short := EncodeFrame("f1", nil)
	assert.Equal(t, "f1"+string(bytes.Repeat([]byte(" "), TagSize-2)), string(short))
	f, err = DecodeFrame(short)
	require.NoError(t, err)
	assert.Equal(t, "f1", f.TransferID)
	assert.Empty(t, f.Data)

	long := EncodeFrame(id+"-overflow", []byte{1})
	f, err = DecodeFrame(long)
	require.NoError(t, err)
	assert.Equal(t, id, f.TransferID)
	assert.Equal(t, []byte{1}, f.Data)

	_, err = DecodeFrame(make([]byte, TagSize-1))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestTag(t *testing.T) {
	long := strings.Repeat("x", 40)
	assert.Equal(t, long[:TagSize], Tag(long))
	assert.Equal(t, "f1", Tag("f1"))
	assert.Equal(t, "f1", Tag("f1  "))

	for _, id := range []string{long, "f1", "123e4567-e89b-12d3-a456-426614174000"} {
		f, err := DecodeFrame(EncodeFrame(id, nil))
		require.NoError(t, err)
		assert.Equal(t, Tag(id), f.TransferID)
	}
}

func TestBinaryPayloadIsFrame(t *testing.T) {
	p, err := Encode(Frame{TransferID: "f1", Data: []byte{0xff}})
	require.NoError(t, err)
	assert.False(t, p.IsString)

	m, err := Decode(p)
	require.NoError(t, err)
	assert.Equal(t, Frame{TransferID: "f1", Data: []byte{0xff}}, m)
}

func TestFrameCount(t *testing.T) {
	assert.Equal(t, 0, FrameCount(0))
	assert.Equal(t, 1, FrameCount(1))
	assert.Equal(t, 1, FrameCount(FrameSize))
	assert.Equal(t, 2, FrameCount(FrameSize+1))
	assert.Equal(t, 10, FrameCount(10*FrameSize))
}
