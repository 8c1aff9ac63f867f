package board

import (
	"slices"
	"time"
)

// Kind identifies what an item carries.
type Kind string

const (
	KindText Kind = "text"
	KindFile Kind = "file"
	KindPost Kind = "post"
)

// DefaultTTL is how long an item lives when the announcement did not say.
const DefaultTTL = time.Hour

// Attachment is one file hanging off a post. PayloadRef stays empty until
// the file's transfer completes and is never sent to peers.
type Attachment struct {
	ID         string `json:"id" msgpack:"id"`
	FileName   string `json:"fileName" msgpack:"fileName"`
	FileSize   int64  `json:"fileSize" msgpack:"fileSize"`
	MimeType   string `json:"mimeType" msgpack:"mimeType"`
	PayloadRef string `json:"-" msgpack:"payloadRef,omitempty"`
}

// Resolved reports whether the attachment's payload is held locally.
func (a Attachment) Resolved() bool {
	return a.PayloadRef != ""
}

// Item is one entry on the board.
//
// File items use the single-file fields (FileName, FileSize, MimeType,
// PayloadRef) instead of Attachments; older peers only know that shape.
// Timestamps are unix milliseconds so they match what browsers put on the wire.
type Item struct {
	ID          string       `json:"id" msgpack:"id"`
	Kind        Kind         `json:"type" msgpack:"type"`
	Content     string       `json:"content" msgpack:"content"`
	Attachments []Attachment `json:"attachments,omitempty" msgpack:"attachments,omitempty"`
	FileName    string       `json:"fileName,omitempty" msgpack:"fileName,omitempty"`
	FileSize    int64        `json:"fileSize,omitempty" msgpack:"fileSize,omitempty"`
	MimeType    string       `json:"mimeType,omitempty" msgpack:"mimeType,omitempty"`
	PayloadRef  string       `json:"-" msgpack:"payloadRef,omitempty"`
	SenderID    string       `json:"senderId" msgpack:"senderId"`
	CreatedAt   int64        `json:"timestamp" msgpack:"timestamp"`
	ExpiresAt   int64        `json:"expiresAt,omitempty" msgpack:"expiresAt,omitempty"`
}

// Clone returns a copy that shares no slices with i.
func (i Item) Clone() Item {
	if i.Attachments != nil {
		atts := make([]Attachment, len(i.Attachments))
		copy(atts, i.Attachments)
		i.Attachments = atts
	}
	return i
}

// Stripped returns a copy with every local payload reference removed.
func (i Item) Stripped() Item {
	c := i.Clone()
	c.PayloadRef = ""
	for n := range c.Attachments {
		c.Attachments[n].PayloadRef = ""
	}
	return c
}

// Expired reports whether the item is past its expiry at now (unix ms).
func (i Item) Expired(now int64) bool {
	return i.ExpiresAt <= now
}

// Attachment looks up an attachment by id.
func (i Item) Attachment(id string) (Attachment, bool) {
	for _, a := range i.Attachments {
		if a.ID == id {
			return a, true
		}
	}
	return Attachment{}, false
}

// Created returns CreatedAt as a time.Time.
func (i Item) Created() time.Time {
	return time.UnixMilli(i.CreatedAt)
}

// Expires returns ExpiresAt as a time.Time.
func (i Item) Expires() time.Time {
	return time.UnixMilli(i.ExpiresAt)
}

// withDefaults fills ExpiresAt for announcements that predate expiry.
func (i Item) withDefaults() Item {
	if i.ExpiresAt == 0 {
		i.ExpiresAt = i.CreatedAt + DefaultTTL.Milliseconds()
	}
	return i
}

// newer orders items by descending creation time, then by id.
func newer(a, b Item) int {
	switch {
	case a.CreatedAt > b.CreatedAt:
		return -1
	case a.CreatedAt < b.CreatedAt:
		return 1
	case a.ID < b.ID:
		return -1
	case a.ID > b.ID:
		return 1
	default:
		return 0
	}
}

// SortNewestFirst orders items the way the store keeps them.
func SortNewestFirst(items []Item) {
	slices.SortFunc(items, newer)
}
