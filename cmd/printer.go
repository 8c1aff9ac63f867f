package cmd

import (
	"fmt"
	"io"

	"github.com/BioHazard786/shareboard/internal/room"
	"github.com/BioHazard786/shareboard/internal/session"
	"github.com/BioHazard786/shareboard/internal/ui"
	"github.com/BioHazard786/shareboard/internal/utils"
)

// printer writes the difference between successive views as lines.
type printer struct {
	out   io.Writer
	state session.ConnState
	items map[string]string
	peers map[string]bool
}

func newPrinter(out io.Writer) *printer {
	return &printer{
		out:   out,
		items: make(map[string]string),
		peers: make(map[string]bool),
	}
}

func (p *printer) print(v session.View) {
	if v.State != p.state {
		p.state = v.State
		fmt.Fprintf(p.out, "%s %s %s\n", ui.IconConnect, v.State, ui.MutedStyle.Render(v.Room))
	}

	connected := make(map[string]bool)
	for _, id := range v.Connected() {
		connected[id] = true
		if !p.peers[id] {
			fmt.Fprintf(p.out, "%s %s joined\n", ui.IconPeer, room.Nickname(id))
		}
	}
	for id := range p.peers {
		if !connected[id] {
			fmt.Fprintf(p.out, "%s %s left\n", ui.IconPeer, room.Nickname(id))
		}
	}
	p.peers = connected

	current := make(map[string]string, len(v.Items))
	// Items are newest first; print arrivals oldest first.
	for n := len(v.Items) - 1; n >= 0; n-- {
		item := v.Items[n]
		status := ui.PayloadStatus(item)
		current[item.ID] = status

		prev, seen := p.items[item.ID]
		switch {
		case !seen:
			line := fmt.Sprintf("%s: %s", ui.Sender(item.SenderID, v.Self), ui.Summary(item, 60))
			if status != "" {
				line += ui.MutedStyle.Render(" [files " + status + "]")
			}
			fmt.Fprintf(p.out, "%s %s\n", ui.IconReceive, line)
		case prev != status:
			fmt.Fprintf(p.out, "%s %s %s\n", ui.SuccessStyle.Render(ui.IconSuccess), ui.Summary(item, 40), ui.MutedStyle.Render("files "+status))
		}
	}
	for id, status := range p.items {
		if _, ok := current[id]; !ok {
			fmt.Fprintf(p.out, "%s %s removed %s\n", ui.IconWaiting, utils.TruncateString(id, 8), ui.MutedStyle.Render(status))
		}
	}
	p.items = current
}
