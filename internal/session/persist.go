package session

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/BioHazard786/shareboard/internal/board"
)

// loadSnapshot restores persisted items, dropping references to payloads
// that are no longer on disk, then expires whatever outlived its TTL while
// the session was down. Payloads no restored item refers to are removed.
func (s *Session) loadSnapshot() {
	if s.snapshotPath == "" {
		return
	}
	data, err := afero.ReadFile(s.fs, s.snapshotPath)
	if errors.Is(err, os.ErrNotExist) {
		s.pruneBlobs()
		return
	}
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to read board snapshot")
		return
	}
	items, err := board.DecodeSnapshot(data)
	if err != nil {
		s.log.Warn().Err(err).Msg("ignoring unreadable board snapshot")
		return
	}

	for n := range items {
		for k, a := range items[n].Attachments {
			if !a.Resolved() {
				continue
			}
			if _, err := s.blobs.Size(a.PayloadRef); err != nil {
				items[n].Attachments[k].PayloadRef = ""
			}
		}
	}
	s.store.InsertBatch(items)
	s.expire()
	s.pruneBlobs()
	s.log.Info().Int("items", s.store.Len()).Msg("board restored")
}

// pruneBlobs removes stored payloads that no item on the board refers to,
// such as file items, which are never persisted.
func (s *Session) pruneBlobs() {
	refs, err := s.blobs.Refs()
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to list payloads")
		return
	}
	used := make(map[string]struct{})
	for _, item := range s.store.Items() {
		if item.PayloadRef != "" {
			used[item.PayloadRef] = struct{}{}
		}
		for _, a := range item.Attachments {
			if a.Resolved() {
				used[a.PayloadRef] = struct{}{}
			}
		}
	}

	var pruned int
	for _, ref := range refs {
		if _, ok := used[ref]; ok {
			continue
		}
		if err := s.blobs.Remove(ref); err != nil {
			s.log.Warn().Err(err).Str("ref", ref).Msg("failed to remove payload")
			continue
		}
		pruned++
	}
	if pruned > 0 {
		s.log.Debug().Int("payloads", pruned).Msg("removed unreferenced payloads")
	}
}

// saveSnapshot writes the board for the next run.
func (s *Session) saveSnapshot() {
	if s.snapshotPath == "" {
		return
	}
	data, err := board.EncodeSnapshot(s.store.Items())
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to encode board snapshot")
		return
	}
	if err := s.fs.MkdirAll(filepath.Dir(s.snapshotPath), 0o755); err != nil {
		s.log.Warn().Err(err).Msg("failed to create snapshot dir")
		return
	}
	if err := afero.WriteFile(s.fs, s.snapshotPath, data, 0o600); err != nil {
		s.log.Warn().Err(err).Msg("failed to write board snapshot")
		return
	}
	s.log.Debug().Str("path", s.snapshotPath).Msg("board saved")
}
