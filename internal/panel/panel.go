// Package panel is the terminal control panel for the keyboard server.
//
// The panel renders the observer's cached snapshot, and turns key presses
// into start/stop calls through the observer so every action is followed
// by a fresh status read. It never holds state of its own beyond what the
// last snapshot said.
package panel

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/deckyboard/host/internal/config"
	"github.com/deckyboard/host/internal/observer"
)

// Observer is the subset of observer.Observer the panel drives.
type Observer interface {
	Snapshot() observer.Snapshot
	Refresh(ctx context.Context) (observer.Snapshot, error)
	StartServer(ctx context.Context, port int) (observer.StartReply, error)
	StopServer(ctx context.Context) (observer.StopReply, error)
}

// SnapshotMsg carries a snapshot pushed by the observer's OnChange hook.
type SnapshotMsg observer.Snapshot

type refreshedMsg struct {
	snap observer.Snapshot
	err  error
}

type actionMsg struct {
	op      string
	success bool
	port    int
	err     error

	// alreadyRunning marks a refused start whose follow-up status read
	// found the server running; it is not a failure.
	alreadyRunning bool
}

// Options configure a Model.
type Options struct {
	Port     int
	Hostname string
	ShowQR   bool
}

// Model is the root Bubble Tea model.
type Model struct {
	obs  Observer
	ctx  context.Context
	keys KeyMap
	help help.Model

	port     int
	hostname string

	snap    observer.Snapshot
	synced  bool
	busy    bool
	showQR  bool
	lastErr string
	width   int
}

// New creates the panel model.
func New(ctx context.Context, obs Observer, opts Options) Model {
	if opts.Port == 0 {
		opts.Port = config.DefaultPort
	}
	if opts.Hostname == "" {
		opts.Hostname = config.DefaultHostname
	}
	return Model{
		obs:      obs,
		ctx:      ctx,
		keys:     DefaultKeyMap(),
		help:     help.New(),
		port:     opts.Port,
		hostname: opts.Hostname,
		showQR:   opts.ShowQR,
	}
}

// Init requests the first status read.
func (m Model) Init() tea.Cmd {
	return m.refresh()
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case SnapshotMsg:
		m.snap = observer.Snapshot(msg)
		m.synced = true
		return m, nil

	case refreshedMsg:
		if msg.err != nil {
			m.lastErr = "backend unreachable"
			return m, nil
		}
		m.snap = msg.snap
		m.synced = true
		m.lastErr = ""
		return m, nil

	case actionMsg:
		m.busy = false
		m.snap = m.obs.Snapshot()
		switch {
		case msg.err != nil:
			m.lastErr = fmt.Sprintf("%s failed: backend unreachable", msg.op)
		case msg.alreadyRunning:
			m.lastErr = ""
			m.synced = true
		case !msg.success:
			m.lastErr = fmt.Sprintf("%s failed: port %d unavailable", msg.op, m.port)
		default:
			m.lastErr = ""
			m.synced = true
			if msg.port != 0 {
				m.port = msg.port
			}
		}
		return m, nil
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.Start):
		if m.busy || m.snap.Running {
			return m, nil
		}
		m.busy = true
		return m, m.start()

	case key.Matches(msg, m.keys.Stop):
		if m.busy || !m.snap.Running {
			return m, nil
		}
		m.busy = true
		return m, m.stop()

	case key.Matches(msg, m.keys.QR):
		m.showQR = !m.showQR
		return m, nil

	case key.Matches(msg, m.keys.Refresh):
		return m, m.refresh()
	}
	return m, nil
}

func (m Model) refresh() tea.Cmd {
	obs, ctx := m.obs, m.ctx
	return func() tea.Msg {
		snap, err := obs.Refresh(ctx)
		return refreshedMsg{snap: snap, err: err}
	}
}

func (m Model) start() tea.Cmd {
	obs, ctx, port := m.obs, m.ctx, m.port
	return func() tea.Msg {
		reply, err := obs.StartServer(ctx, port)
		msg := actionMsg{op: "start", success: reply.Success, port: reply.Port, err: err}
		if err == nil && !reply.Success {
			// A refused start is either a bind failure or a server someone
			// else already started; only a fresh read tells them apart.
			if snap, rerr := obs.Refresh(ctx); rerr == nil && snap.Running {
				msg.alreadyRunning = true
			}
		}
		return msg
	}
}

func (m Model) stop() tea.Cmd {
	obs, ctx := m.obs, m.ctx
	return func() tea.Msg {
		reply, err := obs.StopServer(ctx)
		return actionMsg{op: "stop", success: reply.Success, err: err}
	}
}

// URL is the address browsers connect to.
func (m Model) URL() string {
	return config.ServerURL(m.hostname, m.port)
}

// View renders the panel.
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Remote Keyboard"))
	b.WriteString("\n\n")

	snap := m.snap.Visible()
	switch {
	case !m.synced:
		b.WriteString(dimStyle.Render("Connecting to backend..."))
		b.WriteString("\n")
	case snap.Running:
		b.WriteString(row("Status", runningStyle.Render("● Running")))
		b.WriteString(row("Code", ""))
		b.WriteString(codeStyle.Render(spaced(snap.Code)))
		b.WriteString("\n")
		b.WriteString(row("Connect", m.URL()))
		b.WriteString(row("Clients", fmt.Sprintf("%d", snap.Clients)))
		if m.showQR {
			if qr, err := QRCode(m.URL()); err == nil {
				b.WriteString("\n")
				b.WriteString(qr)
			}
		}
	default:
		b.WriteString(row("Status", stoppedStyle.Render("○ Stopped")))
	}

	if m.busy {
		b.WriteString("\n")
		b.WriteString(dimStyle.Render("Working..."))
		b.WriteString("\n")
	}
	if m.lastErr != "" {
		b.WriteString("\n")
		b.WriteString(errorStyle.Render(m.lastErr))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.help.View(m.keys))

	return frameStyle.Render(b.String())
}

func row(label, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(label), value) + "\n"
}

// spaced separates code characters so they are easy to read aloud.
func spaced(code string) string {
	return strings.Join(strings.Split(code, ""), " ")
}
