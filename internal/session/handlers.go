package session

import (
	"github.com/BioHazard786/shareboard/internal/board"
	"github.com/BioHazard786/shareboard/internal/protocol"
)

// peerConnected pushes the local board to a newly connected peer: one sync
// batch, then every payload held locally.
func (s *Session) peerConnected(peer string) {
	s.notify()

	items := s.store.Items()
	if len(items) > 0 {
		if err := s.mesh.SendTo(peer, protocol.Sync{Items: items}); err != nil {
			s.log.Warn().Err(err).Str("peer", peer).Msg("failed to sync board")
			return
		}
		s.log.Debug().Str("peer", peer).Int("items", len(items)).Msg("board synced")
	}

	var jobs []job
	for _, item := range items {
		jobs = append(jobs, payloadJobs(item)...)
	}
	s.push(peer, jobs)
}

func (s *Session) peerDisconnected(peer string) {
	s.stopPushes(peer)
	s.receiver.AbandonPeer(peer)
	s.notify()
}

// handleMessage applies one decoded channel message from peer.
func (s *Session) handleMessage(peer string, msg protocol.Message) {
	switch m := msg.(type) {
	case protocol.Announce:
		if s.deleted(m.Item.ID) {
			return
		}
		if s.store.Insert(m.Item) {
			s.log.Debug().Str("peer", peer).Str("item", m.Item.ID).Str("kind", string(m.Item.Kind)).Msg("item received")
			s.notify()
		}

	case protocol.Sync:
		items := make([]board.Item, 0, len(m.Items))
		for _, item := range m.Items {
			if !s.deleted(item.ID) {
				items = append(items, item)
			}
		}
		if added := s.store.InsertBatch(items); len(added) > 0 {
			s.log.Debug().Str("peer", peer).Int("items", len(added)).Msg("sync merged")
			s.notify()
		}

	case protocol.Delete:
		s.forget(m.ItemID)

	case protocol.TransferStart:
		if s.deleted(m.TransferID) || (m.ParentItemID != "" && s.deleted(m.ParentItemID)) {
			return
		}
		if s.receiver.HandleStart(peer, m) {
			s.notify()
		}

	case protocol.Frame:
		s.receiver.HandleFrame(peer, m)

	case protocol.TransferComplete:
		done, err := s.receiver.HandleComplete(peer, m)
		if err != nil {
			s.log.Warn().Err(err).Str("peer", peer).Str("transfer_id", m.TransferID).Msg("incoming transfer discarded")
		}
		if done != nil || err != nil {
			s.notify()
		}
	}
}

func (s *Session) deleted(id string) bool {
	return s.tombstones.Contains(id)
}

// forget removes an item and its payloads and remembers the id so a late
// sync cannot bring it back.
func (s *Session) forget(id string) bool {
	s.tombstones.Add(id, struct{}{})
	item, ok := s.store.Get(id)
	if !ok || !s.store.Delete(id) {
		return false
	}
	s.removePayloads(item)
	s.log.Debug().Str("item", id).Msg("item deleted")
	s.notify()
	return true
}

func (s *Session) removePayloads(item board.Item) {
	refs := make([]string, 0, len(item.Attachments)+1)
	if item.PayloadRef != "" {
		refs = append(refs, item.PayloadRef)
	}
	for _, a := range item.Attachments {
		if a.Resolved() {
			refs = append(refs, a.PayloadRef)
		}
	}
	for _, ref := range refs {
		if err := s.blobs.Remove(ref); err != nil {
			s.log.Warn().Err(err).Str("ref", ref).Msg("failed to remove payload")
		}
	}
}
