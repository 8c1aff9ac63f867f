package session

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/BioHazard786/shareboard/internal/board"
	"github.com/BioHazard786/shareboard/internal/files"
	"github.com/BioHazard786/shareboard/internal/protocol"
)

var (
	ErrEmptyText   = errors.New("nothing to share")
	ErrUnknownItem = errors.New("unknown item")
)

func (s *Session) newItem(kind board.Kind) board.Item {
	now := s.clock.Now()
	return board.Item{
		ID:        uuid.NewString(),
		Kind:      kind,
		SenderID:  s.id,
		CreatedAt: now.UnixMilli(),
		ExpiresAt: now.Add(s.ttl).UnixMilli(),
	}
}

// ShareText posts a text item to the board and every connected peer.
func (s *Session) ShareText(text string) (board.Item, error) {
	if strings.TrimSpace(text) == "" {
		return board.Item{}, ErrEmptyText
	}
	item := s.newItem(board.KindText)
	item.Content = text
	s.publish(item)
	return item, nil
}

// SharePost posts text with file attachments. The files are copied into the
// payload store and pushed to every connected peer.
func (s *Session) SharePost(text string, paths []string) (board.Item, error) {
	if strings.TrimSpace(text) == "" && len(paths) == 0 {
		return board.Item{}, ErrEmptyText
	}
	infos, err := s.validate(paths)
	if err != nil {
		return board.Item{}, err
	}

	item := s.newItem(board.KindPost)
	item.Content = text
	for _, info := range infos {
		ref, err := s.importFile(info)
		if err != nil {
			s.removePayloads(item)
			return board.Item{}, err
		}
		item.Attachments = append(item.Attachments, board.Attachment{
			ID:         uuid.NewString(),
			FileName:   info.Name,
			FileSize:   info.Size,
			MimeType:   info.Type,
			PayloadRef: ref,
		})
	}
	s.publish(item)
	return item, nil
}

// ShareFile posts a standalone file item.
func (s *Session) ShareFile(path string) (board.Item, error) {
	infos, err := files.ValidateFiles(s.fs, []string{path})
	if err != nil {
		return board.Item{}, err
	}
	info := infos[0]
	ref, err := s.importFile(info)
	if err != nil {
		return board.Item{}, err
	}

	item := s.newItem(board.KindFile)
	item.FileName = info.Name
	item.FileSize = info.Size
	item.MimeType = info.Type
	item.PayloadRef = ref
	s.publish(item)
	return item, nil
}

// Delete removes an item here and asks every connected peer to do the same.
func (s *Session) Delete(id string) error {
	if !s.forget(id) {
		return fmt.Errorf("delete %s: %w", id, ErrUnknownItem)
	}
	s.mesh.Broadcast(protocol.Delete{ItemID: id})
	return nil
}

func (s *Session) validate(paths []string) ([]files.FileInfo, error) {
	if len(paths) == 0 {
		return nil, nil
	}
	return files.ValidateFiles(s.fs, paths)
}

func (s *Session) importFile(info files.FileInfo) (string, error) {
	data, err := afero.ReadFile(s.fs, info.Path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", info.Name, err)
	}
	return s.blobs.Put(info.Name, data)
}

// publish inserts item locally, announces it, then pushes its payloads to
// every connected peer.
func (s *Session) publish(item board.Item) {
	s.store.Insert(item)
	s.mesh.Broadcast(protocol.NewAnnounce(item))
	s.log.Debug().Str("item", item.ID).Str("kind", string(item.Kind)).Msg("item shared")
	s.notify()

	jobs := payloadJobs(item)
	if len(jobs) == 0 {
		return
	}
	for _, p := range s.mesh.Peers() {
		if p.Connected {
			s.push(p.ID, jobs)
		}
	}
}
