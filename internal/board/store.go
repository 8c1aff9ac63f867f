// Package board holds the local replica of a room's items and of the
// transfers still arriving for them.
//
// Every mutation takes the store lock for its whole duration, so callers on
// different goroutines (peer channels, the expiry ticker, local actions) see
// each mutation applied atomically. Nothing in here does I/O.
package board

import (
	"slices"
	"sort"
	"sync"

	"github.com/jonboulle/clockwork"
)

// Store is the authoritative local view of a room's items.
type Store struct {
	mu       sync.RWMutex
	clock    clockwork.Clock
	items    []Item // descending CreatedAt, ties by ID
	ids      map[string]struct{}
	incoming map[transferKey]*IncomingTransfer
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used by ExpireNow.
func WithClock(clock clockwork.Clock) Option {
	return func(s *Store) {
		s.clock = clock
	}
}

// NewStore returns an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		clock:    clockwork.NewRealClock(),
		ids:      make(map[string]struct{}),
		incoming: make(map[transferKey]*IncomingTransfer),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Now returns the store clock's current time in unix milliseconds.
func (s *Store) Now() int64 {
	return s.clock.Now().UnixMilli()
}

// Insert adds item unless an item with the same id is already present.
// It reports whether the item was added.
func (s *Store) Insert(item Item) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.ids[item.ID]; ok {
		return false
	}
	item = item.Clone().withDefaults()

	pos := sort.Search(len(s.items), func(n int) bool {
		return newer(item, s.items[n]) < 0
	})
	s.items = slices.Insert(s.items, pos, item)
	s.ids[item.ID] = struct{}{}
	return true
}

// InsertBatch merges items in one pass, skipping ids already present and
// repeats within the batch. It returns the items that were added.
func (s *Store) InsertBatch(items []Item) []Item {
	s.mu.Lock()
	defer s.mu.Unlock()

	added := make([]Item, 0, len(items))
	for _, item := range items {
		if _, ok := s.ids[item.ID]; ok {
			continue
		}
		item = item.Clone().withDefaults()
		s.ids[item.ID] = struct{}{}
		added = append(added, item)
	}
	if len(added) == 0 {
		return nil
	}

	s.items = append(s.items, added...)
	slices.SortFunc(s.items, newer)

	out := make([]Item, len(added))
	for n, item := range added {
		out[n] = item.Clone()
	}
	return out
}

// Delete removes the item with the given id and reports whether it existed.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.ids[id]; !ok {
		return false
	}
	delete(s.ids, id)
	s.items = slices.DeleteFunc(s.items, func(item Item) bool {
		return item.ID == id
	})
	return true
}

// ExpireNow removes every item whose ExpiresAt is at or before the current
// time and returns them.
func (s *Store) ExpireNow() []Item {
	now := s.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []Item
	s.items = slices.DeleteFunc(s.items, func(item Item) bool {
		if !item.Expired(now) {
			return false
		}
		expired = append(expired, item)
		delete(s.ids, item.ID)
		return true
	})
	return expired
}

// AttachPayload resolves an attachment placeholder. It is a no-op, returning
// false, when the item or attachment is gone or the attachment is already
// resolved.
func (s *Store) AttachPayload(itemID, attachmentID, payloadRef string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.indexOf(itemID)
	if n < 0 {
		return false
	}
	atts := s.items[n].Attachments
	for k := range atts {
		if atts[k].ID != attachmentID {
			continue
		}
		if atts[k].Resolved() {
			return false
		}
		atts[k].PayloadRef = payloadRef
		return true
	}
	return false
}

// ResolveFile sets the payload of a file item that arrived as metadata only.
// Like AttachPayload it never overwrites a resolved payload.
func (s *Store) ResolveFile(itemID, payloadRef string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.indexOf(itemID)
	if n < 0 || s.items[n].PayloadRef != "" {
		return false
	}
	s.items[n].PayloadRef = payloadRef
	return true
}

// Resolved reports whether a payload is already held locally. An empty
// attachmentID names the item's own file payload.
func (s *Store) Resolved(itemID, attachmentID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := s.indexOf(itemID)
	if n < 0 {
		return false
	}
	item := s.items[n]
	if attachmentID == "" {
		return item.PayloadRef != ""
	}
	att, ok := item.Attachment(attachmentID)
	return ok && att.Resolved()
}

// Get returns a copy of the item with the given id.
func (s *Store) Get(id string) (Item, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := s.indexOf(id)
	if n < 0 {
		return Item{}, false
	}
	return s.items[n].Clone(), true
}

// Has reports whether an item with the given id is present.
func (s *Store) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ids[id]
	return ok
}

// Items returns a copy of all items, newest first.
func (s *Store) Items() []Item {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Item, len(s.items))
	for n, item := range s.items {
		out[n] = item.Clone()
	}
	return out
}

// Len returns the number of items.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Clear drops every item. In-flight transfers are kept.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = nil
	s.ids = make(map[string]struct{})
}

func (s *Store) indexOf(id string) int {
	if _, ok := s.ids[id]; !ok {
		return -1
	}
	return slices.IndexFunc(s.items, func(item Item) bool {
		return item.ID == id
	})
}
