package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/BioHazard786/shareboard/internal/board"
	"github.com/BioHazard786/shareboard/internal/mesh"
	"github.com/BioHazard786/shareboard/internal/room"
	"github.com/BioHazard786/shareboard/internal/utils"
)

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.Style().Color.Header = text.Colors{text.FgCyan, text.Bold}
	t.Style().Color.RowAlternate = text.Colors{text.FgHiBlack}
	return t
}

// Sender renders who shared an item.
func Sender(id, self string) string {
	if id == self {
		return "You"
	}
	return room.Nickname(id)
}

// Summary is a one-line description of an item's content.
func Summary(item board.Item, maxLen int) string {
	switch item.Kind {
	case board.KindFile:
		return utils.TruncateString(item.FileName, maxLen)
	case board.KindPost:
		content := strings.Join(strings.Fields(item.Content), " ")
		if n := len(item.Attachments); n > 0 {
			content = fmt.Sprintf("%s %s%d", content, IconAttached, n)
		}
		return utils.TruncateString(strings.TrimSpace(content), maxLen)
	default:
		return utils.TruncateString(strings.Join(strings.Fields(item.Content), " "), maxLen)
	}
}

// PayloadStatus reports how many of an item's payloads are held locally,
// e.g. "1/2", or "" for items without payloads.
func PayloadStatus(item board.Item) string {
	switch {
	case item.Kind == board.KindFile:
		if item.PayloadRef != "" {
			return "1/1"
		}
		return "0/1"
	case len(item.Attachments) > 0:
		held := 0
		for _, a := range item.Attachments {
			if a.Resolved() {
				held++
			}
		}
		return fmt.Sprintf("%d/%d", held, len(item.Attachments))
	default:
		return ""
	}
}

func itemSize(item board.Item) int64 {
	if item.Kind == board.KindFile {
		return item.FileSize
	}
	var total int64
	for _, a := range item.Attachments {
		total += a.FileSize
	}
	return total
}

// ItemsTable renders items newest first.
func ItemsTable(items []board.Item, self string, now time.Time) string {
	if len(items) == 0 {
		return MutedStyle.Render("Board is empty")
	}

	t := newTable()
	t.AppendHeader(table.Row{"#", "Kind", "From", "Content", "Size", "Files", "Shared", "Expires"})
	for n, item := range items {
		size := ""
		if s := itemSize(item); s > 0 {
			size = utils.FormatSize(s)
		}
		t.AppendRow(table.Row{
			n + 1,
			string(item.Kind),
			Sender(item.SenderID, self),
			Summary(item, 40),
			size,
			PayloadStatus(item),
			utils.FormatAge(item.Created(), now),
			utils.FormatTimeDuration(item.Expires().Sub(now)),
		})
	}
	return t.Render()
}

// PeersTable renders the mesh's peers.
func PeersTable(peers []mesh.PeerInfo) string {
	if len(peers) == 0 {
		return MutedStyle.Render("No peers")
	}

	t := newTable()
	t.AppendHeader(table.Row{"Peer", "Name", "Role", "Negotiation", "Channel", "Connected"})
	for _, p := range peers {
		role := "impolite"
		if p.Polite {
			role = "polite"
		}
		connected := "no"
		if p.Connected {
			connected = "yes"
		}
		t.AppendRow(table.Row{p.ID, room.Nickname(p.ID), role, p.State.String(), p.Channel.String(), connected})
	}
	return t.Render()
}

// RoomTable renders a relay room lookup.
func RoomTable(relay, roomName, ip, device string) string {
	t := newTable()
	t.AppendHeader(table.Row{"Field", "Value"})
	t.AppendRows([]table.Row{
		{"Relay", relay},
		{"Room", roomName},
		{"Address", ip},
		{"Device", fmt.Sprintf("%s (%s)", device, room.Nickname(device))},
	})
	return t.Render()
}
