package board

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"
)

// MaxPersistedAttachmentBytes caps the attachment payload a persisted post may
// keep references to. Larger posts are saved as metadata only.
const MaxPersistedAttachmentBytes = 4 * 1024 * 1024

const snapshotVersion = 1

type snapshot struct {
	Version int    `msgpack:"v"`
	Items   []Item `msgpack:"items"`
}

// EncodeSnapshot serialises the text and post items worth keeping across a
// restart. File items are never persisted.
func EncodeSnapshot(items []Item) ([]byte, error) {
	kept := make([]Item, 0, len(items))
	for _, item := range items {
		if item.Kind != KindText && item.Kind != KindPost {
			continue
		}
		item = item.Clone()
		if attachmentBytes(item) > MaxPersistedAttachmentBytes {
			for n := range item.Attachments {
				item.Attachments[n].PayloadRef = ""
			}
		}
		kept = append(kept, item)
	}

	raw, err := msgpack.Marshal(snapshot{Version: snapshotVersion, Items: kept})
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("create encoder: %w", err)
	}
	defer enc.Close()
	return enc.EncodeAll(raw, nil), nil
}

// DecodeSnapshot reverses EncodeSnapshot.
func DecodeSnapshot(data []byte) ([]Item, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create decoder: %w", err)
	}
	defer dec.Close()

	raw, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress snapshot: %w", err)
	}

	var snap snapshot
	if err := msgpack.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	if snap.Version != snapshotVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", snap.Version)
	}
	return snap.Items, nil
}

func attachmentBytes(item Item) int64 {
	var total int64
	for _, a := range item.Attachments {
		if a.Resolved() {
			total += a.FileSize
		}
	}
	return total
}
