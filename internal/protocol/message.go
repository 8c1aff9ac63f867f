// Package protocol defines the messages peers exchange over a board channel.
//
// Control messages are JSON text; transfer frames are raw binary. Both share
// one ordered channel, and Decode is the only place the two are told apart.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/BioHazard786/shareboard/internal/board"
)

// Kind is the wire discriminator of a message.
type Kind string

const (
	KindText             Kind = "text"
	KindPost             Kind = "post"
	KindFileMeta         Kind = "file-meta"
	KindSync             Kind = "sync"
	KindDelete           Kind = "delete"
	KindTransferStart    Kind = "transfer-start"
	KindTransferComplete Kind = "transfer-complete"

	// KindFrame never appears on the wire; binary payloads are frames.
	KindFrame Kind = "frame"
)

var (
	ErrUnknownKind = errors.New("unknown message kind")
	ErrMalformed   = errors.New("malformed message")
)

// Payload is one channel message as the transport sees it.
type Payload struct {
	Data     []byte
	IsString bool
}

// Message is implemented by every message variant. Switch on the concrete
// type to dispatch.
type Message interface {
	Kind() Kind
	isMessage()
}

// Announce carries one new item (text, post or file-meta).
type Announce struct {
	Type Kind
	Item board.Item
}

// Sync carries a peer's current items, sent once when a channel connects.
type Sync struct {
	Items []board.Item
}

// Delete asks every peer to drop an item.
type Delete struct {
	ItemID string
}

// TransferStart opens a chunked transfer.
type TransferStart struct {
	TransferID   string `json:"transferId"`
	ParentItemID string `json:"parentItemId,omitempty"`
	FileName     string `json:"fileName"`
	FileSize     int64  `json:"fileSize"`
	MimeType     string `json:"mimeType"`
	TotalFrames  int    `json:"totalFrames"`
}

// Validate reports whether the announcement is one a receiver can follow:
// an id, a non-negative size and exactly the frame count that size needs.
func (m TransferStart) Validate() error {
	switch {
	case m.TransferID == "":
		return fmt.Errorf("%w: transfer-start without transferId", ErrMalformed)
	case m.FileSize < 0:
		return fmt.Errorf("%w: transfer-start with negative size %d", ErrMalformed, m.FileSize)
	case m.TotalFrames != FrameCount(m.FileSize):
		return fmt.Errorf("%w: transfer-start announces %d frames for %d bytes", ErrMalformed, m.TotalFrames, m.FileSize)
	}
	return nil
}

// TransferComplete closes a chunked transfer.
type TransferComplete struct {
	TransferID   string `json:"transferId"`
	ParentItemID string `json:"parentItemId,omitempty"`
}

// Frame is one binary chunk of a transfer.
type Frame struct {
	TransferID string
	Data       []byte
}

func (m Announce) Kind() Kind       { return m.Type }
func (Sync) Kind() Kind             { return KindSync }
func (Delete) Kind() Kind           { return KindDelete }
func (TransferStart) Kind() Kind    { return KindTransferStart }
func (TransferComplete) Kind() Kind { return KindTransferComplete }
func (Frame) Kind() Kind            { return KindFrame }
func (Announce) isMessage()         {}
func (Sync) isMessage()             {}
func (Delete) isMessage()           {}
func (TransferStart) isMessage()    {}
func (TransferComplete) isMessage() {}
func (Frame) isMessage()            {}

// NewAnnounce picks the announcement kind matching item.Kind.
func NewAnnounce(item board.Item) Announce {
	switch item.Kind {
	case board.KindFile:
		return Announce{Type: KindFileMeta, Item: item}
	case board.KindPost:
		return Announce{Type: KindPost, Item: item}
	default:
		return Announce{Type: KindText, Item: item}
	}
}

func itemKind(k Kind) board.Kind {
	switch k {
	case KindFileMeta:
		return board.KindFile
	case KindPost:
		return board.KindPost
	default:
		return board.KindText
	}
}

type itemBody struct {
	Type Kind        `json:"type"`
	Item *board.Item `json:"item"`
}

type syncBody struct {
	Type  Kind         `json:"type"`
	Items []board.Item `json:"items"`
}

type deleteBody struct {
	Type   Kind   `json:"type"`
	ItemID string `json:"itemId"`
}

type startBody struct {
	Type Kind `json:"type"`
	TransferStart
}

type completeBody struct {
	Type Kind `json:"type"`
	TransferComplete
}

// Encode renders m as a channel payload.
func Encode(m Message) (Payload, error) {
	var body any
	switch m := m.(type) {
	case Frame:
		return Payload{Data: EncodeFrame(m.TransferID, m.Data)}, nil
	case Announce:
		switch m.Type {
		case KindText, KindPost, KindFileMeta:
		default:
			return Payload{}, fmt.Errorf("encode %q: %w", m.Type, ErrUnknownKind)
		}
		item := m.Item.Stripped()
		body = itemBody{Type: m.Type, Item: &item}
	case Sync:
		items := make([]board.Item, len(m.Items))
		for n, item := range m.Items {
			items[n] = item.Stripped()
		}
		body = syncBody{Type: KindSync, Items: items}
	case Delete:
		body = deleteBody{Type: KindDelete, ItemID: m.ItemID}
	case TransferStart:
		body = startBody{Type: KindTransferStart, TransferStart: m}
	case TransferComplete:
		body = completeBody{Type: KindTransferComplete, TransferComplete: m}
	default:
		return Payload{}, fmt.Errorf("encode %T: %w", m, ErrUnknownKind)
	}

	data, err := json.Marshal(body)
	if err != nil {
		return Payload{}, fmt.Errorf("encode %s: %w", m.Kind(), err)
	}
	return Payload{Data: data, IsString: true}, nil
}

// Decode parses a channel payload. Binary payloads are always frames.
func Decode(p Payload) (Message, error) {
	if !p.IsString {
		f, err := DecodeFrame(p.Data)
		if err != nil {
			return nil, err
		}
		return f, nil
	}

	var head struct {
		Type Kind `json:"type"`
	}
	if err := json.Unmarshal(p.Data, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch head.Type {
	case KindText, KindPost, KindFileMeta:
		var body itemBody
		if err := unmarshal(p.Data, &body); err != nil {
			return nil, err
		}
		if body.Item == nil || body.Item.ID == "" {
			return nil, fmt.Errorf("%w: %s without item id", ErrMalformed, head.Type)
		}
		item := *body.Item
		if item.Kind == "" {
			item.Kind = itemKind(head.Type)
		}
		return Announce{Type: head.Type, Item: item}, nil

	case KindSync:
		var body syncBody
		if err := unmarshal(p.Data, &body); err != nil {
			return nil, err
		}
		items := body.Items[:0]
		for _, item := range body.Items {
			if item.ID != "" {
				items = append(items, item)
			}
		}
		return Sync{Items: items}, nil

	case KindDelete:
		var body deleteBody
		if err := unmarshal(p.Data, &body); err != nil {
			return nil, err
		}
		if body.ItemID == "" {
			return nil, fmt.Errorf("%w: delete without itemId", ErrMalformed)
		}
		return Delete{ItemID: body.ItemID}, nil

	case KindTransferStart:
		var body startBody
		if err := unmarshal(p.Data, &body); err != nil {
			return nil, err
		}
		if err := body.TransferStart.Validate(); err != nil {
			return nil, err
		}
		return body.TransferStart, nil

	case KindTransferComplete:
		var body completeBody
		if err := unmarshal(p.Data, &body); err != nil {
			return nil, err
		}
		if body.TransferID == "" {
			return nil, fmt.Errorf("%w: transfer-complete without transferId", ErrMalformed)
		}
		return body.TransferComplete, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, head.Type)
	}
}

func unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}
