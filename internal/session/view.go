package session

import (
	"github.com/BioHazard786/shareboard/internal/board"
	"github.com/BioHazard786/shareboard/internal/mesh"
)

// View is a point-in-time picture of the session for display.
type View struct {
	Self     string
	Room     string
	State    ConnState
	Items    []board.Item
	Peers    []mesh.PeerInfo
	Incoming []board.Progress
	Uploads  []Upload
}

// Connected returns the ids of peers with an open channel.
func (v View) Connected() []string {
	var ids []string
	for _, p := range v.Peers {
		if p.Connected {
			ids = append(ids, p.ID)
		}
	}
	return ids
}

func (s *Session) View() View {
	s.mu.Lock()
	state, room := s.state, s.room
	s.mu.Unlock()

	return View{
		Self:     s.id,
		Room:     room,
		State:    state,
		Items:    s.store.Items(),
		Peers:    s.mesh.Peers(),
		Incoming: s.store.Incoming(),
		Uploads:  s.Uploads(),
	}
}

// Payload returns where a resolved payload lives on disk.
func (s *Session) Payload(ref string) (string, error) {
	return s.blobs.Path(ref)
}
