package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/BioHazard786/shareboard/internal/board"
	"github.com/BioHazard786/shareboard/internal/logging"
	"github.com/BioHazard786/shareboard/internal/room"
	"github.com/BioHazard786/shareboard/internal/session"
	"github.com/BioHazard786/shareboard/internal/utils"
)

// Board is the session surface the board screen drives.
type Board interface {
	View() session.View
	Updates() <-chan struct{}
	ShareText(text string) (board.Item, error)
	SharePost(text string, paths []string) (board.Item, error)
	ShareFile(path string) (board.Item, error)
	Delete(id string) error
	Payload(ref string) (string, error)
}

const (
	logLines     = 10
	defaultWidth = 80
)

type updateMsg struct{}

// TickMsg refreshes ages and countdowns.
type TickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// BoardModel is the interactive board screen.
type BoardModel struct {
	board Board
	logs  *logging.Ring
	now   func() time.Time

	view    session.View
	input   textinput.Model
	spinner spinner.Model
	bar     progress.Model

	cursor    int
	showLogs  bool
	status    string
	statusErr bool
	width     int
	quitting  bool
}

// NewBoardModel creates the board screen. logs may be nil.
func NewBoardModel(b Board, logs *logging.Ring) *BoardModel {
	in := textinput.New()
	in.Placeholder = "Share text, /file <path> or /post <text> @<path>..."
	in.Prompt = "› "
	in.CharLimit = 4096
	in.Focus()

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	m := &BoardModel{
		board:   b,
		logs:    logs,
		now:     time.Now,
		input:   in,
		spinner: s,
		bar: progress.New(
			progress.WithGradient(ProgressStart, ProgressEnd),
			progress.WithWidth(25),
			progress.WithoutPercentage(),
		),
		width: defaultWidth,
	}
	m.refresh()
	return m
}

func (m *BoardModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick, m.waitForUpdate(), tickCmd())
}

func (m *BoardModel) waitForUpdate() tea.Cmd {
	updates := m.board.Updates()
	return func() tea.Msg {
		if _, ok := <-updates; !ok {
			return nil
		}
		return updateMsg{}
	}
}

func (m *BoardModel) refresh() {
	m.view = m.board.View()
	if m.cursor >= len(m.view.Items) {
		m.cursor = max(0, len(m.view.Items)-1)
	}
}

func (m *BoardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "enter":
			m.submit()
			return m, nil
		case "up":
			if m.cursor > 0 {
				m.cursor--
			}
			return m, nil
		case "down":
			if m.cursor < len(m.view.Items)-1 {
				m.cursor++
			}
			return m, nil
		case "ctrl+d":
			m.deleteSelected()
			return m, nil
		case "ctrl+l":
			m.showLogs = !m.showLogs
			return m, nil
		case "ctrl+o":
			m.showPayload()
			return m, nil
		}

	case updateMsg:
		m.refresh()
		return m, m.waitForUpdate()

	case TickMsg:
		m.refresh()
		return m, tickCmd()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = min(25, max(10, msg.Width-60))
		m.input.Width = max(20, msg.Width-8)
		return m, nil

	case progress.FrameMsg:
		model, cmd := m.bar.Update(msg)
		m.bar = model.(progress.Model)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

// Input is a parsed line from the share box.
type Input struct {
	Command string // "text", "file" or "post"
	Text    string
	Paths   []string
}

// ParseInput reads "/file <path>", "/post <text> @<path>..." or plain text.
func ParseInput(line string) Input {
	line = strings.TrimSpace(line)
	switch {
	case strings.HasPrefix(line, "/file "):
		return Input{Command: "file", Paths: []string{strings.TrimSpace(strings.TrimPrefix(line, "/file "))}}
	case strings.HasPrefix(line, "/post "):
		in := Input{Command: "post"}
		var words []string
		for _, f := range strings.Fields(strings.TrimPrefix(line, "/post ")) {
			if path, ok := strings.CutPrefix(f, "@"); ok && path != "" {
				in.Paths = append(in.Paths, path)
				continue
			}
			words = append(words, f)
		}
		in.Text = strings.Join(words, " ")
		return in
	default:
		return Input{Command: "text", Text: line}
	}
}

func (m *BoardModel) submit() {
	in := ParseInput(m.input.Value())
	if in.Command == "text" && in.Text == "" {
		return
	}

	var (
		item board.Item
		err  error
	)
	switch in.Command {
	case "file":
		item, err = m.board.ShareFile(in.Paths[0])
	case "post":
		item, err = m.board.SharePost(in.Text, in.Paths)
	default:
		item, err = m.board.ShareText(in.Text)
	}
	if err != nil {
		m.setStatus(err.Error(), true)
		return
	}
	m.input.Reset()
	m.setStatus(fmt.Sprintf("Shared %s", Summary(item, 30)), false)
	m.cursor = 0
	m.refresh()
}

func (m *BoardModel) deleteSelected() {
	if m.cursor >= len(m.view.Items) {
		return
	}
	item := m.view.Items[m.cursor]
	if err := m.board.Delete(item.ID); err != nil {
		m.setStatus(err.Error(), true)
		return
	}
	m.setStatus(fmt.Sprintf("Deleted %s", Summary(item, 30)), false)
	m.refresh()
}

// showPayload reports where the selected item's files are stored.
func (m *BoardModel) showPayload() {
	if m.cursor >= len(m.view.Items) {
		return
	}
	item := m.view.Items[m.cursor]

	var refs []string
	if item.PayloadRef != "" {
		refs = append(refs, item.PayloadRef)
	}
	for _, a := range item.Attachments {
		if a.Resolved() {
			refs = append(refs, a.PayloadRef)
		}
	}
	if len(refs) == 0 {
		m.setStatus("No files held for this item", true)
		return
	}

	paths := make([]string, 0, len(refs))
	for _, ref := range refs {
		path, err := m.board.Payload(ref)
		if err != nil {
			m.setStatus(err.Error(), true)
			return
		}
		paths = append(paths, path)
	}
	m.setStatus(IconFile+" "+strings.Join(paths, ", "), false)
}

func (m *BoardModel) setStatus(msg string, isErr bool) {
	m.status = msg
	m.statusErr = isErr
}

func (m *BoardModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(m.viewHeader() + "\n\n")
	b.WriteString(m.viewPeers() + "\n\n")
	b.WriteString(BoxStyle.Render(strings.TrimRight(m.viewItems(), "\n")) + "\n")

	if transfers := m.viewTransfers(); transfers != "" {
		b.WriteString("\n" + transfers)
	}
	if m.showLogs {
		b.WriteString("\n" + m.viewLogs())
	}

	b.WriteString("\n" + m.input.View() + "\n")
	if m.status != "" {
		style := SuccessStyle
		if m.statusErr {
			style = ErrorStyle
		}
		b.WriteString(style.Render(m.status) + "\n")
	}
	b.WriteString(FooterStyle.Render("enter share · ↑/↓ select · ctrl+o files · ctrl+d delete · ctrl+l logs · esc quit"))
	return ContainerStyle.Render(b.String())
}

func (m *BoardModel) viewHeader() string {
	v := m.view
	state := StatusStyle.Render(v.State.String())
	if v.State == session.Connecting {
		state = m.spinner.View() + " " + state
	}
	return fmt.Sprintf("%s %s %s %s",
		HeaderStyle.Render(IconRoom+" shareboard"),
		state,
		MutedStyle.Render(utils.TruncateString(v.Room, 30)),
		SubtitleStyle.Render("as "+room.Nickname(v.Self)),
	)
}

func (m *BoardModel) viewPeers() string {
	connected := m.view.Connected()
	if len(connected) == 0 {
		if len(m.view.Peers) > 0 {
			return fmt.Sprintf("%s %s", m.spinner.View(), MutedStyle.Render("Connecting to peers..."))
		}
		return MutedStyle.Render(IconWaiting + " Waiting for other devices on this network...")
	}
	names := make([]string, len(connected))
	for n, id := range connected {
		names[n] = room.Nickname(id)
	}
	return fmt.Sprintf("%s %d connected: %s", IconPeer, len(connected), strings.Join(names, ", "))
}

func kindIcon(k board.Kind) string {
	switch k {
	case board.KindFile:
		return IconFile
	case board.KindPost:
		return IconPost
	default:
		return IconText
	}
}

func (m *BoardModel) viewItems() string {
	if len(m.view.Items) == 0 {
		return MutedStyle.Render("Nothing shared yet")
	}
	now := m.now()
	var b strings.Builder
	for n, item := range m.view.Items {
		line := fmt.Sprintf("%s %s", kindIcon(item.Kind), Summary(item, 50))
		meta := fmt.Sprintf("%s · %s", Sender(item.SenderID, m.view.Self), utils.FormatAge(item.Created(), now))
		if status := PayloadStatus(item); status != "" {
			meta += " · files " + status
		}
		if n == m.cursor {
			b.WriteString(SelectedStyle.Render("› "+line) + " " + MutedStyle.Render(meta) + "\n")
		} else {
			b.WriteString("  " + line + " " + MutedStyle.Render(meta) + "\n")
		}
	}
	return b.String()
}

func (m *BoardModel) viewTransfers() string {
	var b strings.Builder
	for _, p := range m.view.Incoming {
		b.WriteString(fmt.Sprintf("%s %s %s %5.1f%% %s\n",
			IconReceive,
			utils.TruncateString(p.FileName, 24),
			m.bar.ViewAs(p.Fraction()),
			p.Fraction()*100,
			MutedStyle.Render("from "+room.Nickname(p.SenderID)),
		))
	}
	now := m.now()
	for _, u := range m.view.Uploads {
		b.WriteString(fmt.Sprintf("%s %s %s %5.1f%% %s\n",
			IconSend,
			utils.TruncateString(u.FileName, 24),
			m.bar.ViewAs(u.Fraction()),
			u.Fraction()*100,
			MutedStyle.Render(fmt.Sprintf("to %s · %s", room.Nickname(u.Peer), utils.FormatSpeed(u.Rate(now)))),
		))
	}
	return b.String()
}

func (m *BoardModel) viewLogs() string {
	if m.logs == nil {
		return InfoBoxStyle.Render(MutedStyle.Render("Debug log unavailable"))
	}
	lines := m.logs.Lines()
	if len(lines) > logLines {
		lines = lines[len(lines)-logLines:]
	}
	if len(lines) == 0 {
		lines = []string{"(empty)"}
	}
	return InfoBoxStyle.Render(MutedStyle.Render(strings.Join(lines, "\n")))
}

// RunBoard shows the board until the user quits or ctx is done.
func RunBoard(ctx context.Context, b Board, logs *logging.Ring) error {
	p := tea.NewProgram(NewBoardModel(b, logs), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
