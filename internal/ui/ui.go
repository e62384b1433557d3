// Package ui renders the live staff board in the terminal. The model polls a
// snapshot loader and refreshes early whenever the event bus reports a task
// or staff change.
package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/marcus/dispatchd/internal/events"
	"github.com/marcus/dispatchd/internal/performance"
	"github.com/marcus/dispatchd/internal/staff"
	"github.com/marcus/dispatchd/internal/tasks"
)

// Panel represents which panel is currently focused.
type Panel int

const (
	PanelBoard Panel = iota
	PanelQueue
	PanelEvents
)

const (
	maxEvents       = 200
	refreshInterval = 5 * time.Second
)

// Snapshot is everything the board shows at one moment.
type Snapshot struct {
	Board           []performance.BoardEntry
	Pending         []tasks.Task
	DispatchEnabled bool
	Interval        time.Duration
	TakenAt         time.Time
}

// Loader fetches a fresh snapshot.
type Loader func(ctx context.Context) (Snapshot, error)

// EventEntry is one line in the events panel.
type EventEntry struct {
	Time    time.Time
	Type    string
	Message string
}

// Model holds the TUI state.
type Model struct {
	ctx    context.Context
	tenant string
	load   Loader
	subs   []*events.Subscriber

	width       int
	height      int
	activePanel Panel
	quitting    bool

	snap    Snapshot
	loadErr error

	selected int
	events   []EventEntry
	scroll   int

	tick   int
	styles *Styles
}

// Styles holds lipgloss styles for the UI.
type Styles struct {
	ActiveBorder   lipgloss.Style
	InactiveBorder lipgloss.Style

	Title     lipgloss.Style
	Label     lipgloss.Style
	Value     lipgloss.Style
	Highlight lipgloss.Style
	Muted     lipgloss.Style

	Green lipgloss.Style
	Amber lipgloss.Style
	Red   lipgloss.Style

	Selected lipgloss.Style

	HelpKey  lipgloss.Style
	HelpText lipgloss.Style
}

func newStyles() *Styles {
	subtle := lipgloss.AdaptiveColor{Light: "#666", Dark: "#888"}
	highlight := lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	green := lipgloss.AdaptiveColor{Light: "#22863a", Dark: "#3fb950"}
	yellow := lipgloss.AdaptiveColor{Light: "#b08800", Dark: "#d29922"}
	red := lipgloss.AdaptiveColor{Light: "#cb2431", Dark: "#f85149"}

	return &Styles{
		ActiveBorder: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(highlight),
		InactiveBorder: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(subtle),

		Title:     lipgloss.NewStyle().Bold(true).Foreground(highlight).MarginBottom(1),
		Label:     lipgloss.NewStyle().Foreground(subtle),
		Value:     lipgloss.NewStyle().Bold(true),
		Highlight: lipgloss.NewStyle().Foreground(highlight).Bold(true),
		Muted:     lipgloss.NewStyle().Foreground(subtle),

		Green: lipgloss.NewStyle().Foreground(green).Bold(true),
		Amber: lipgloss.NewStyle().Foreground(yellow).Bold(true),
		Red:   lipgloss.NewStyle().Foreground(red).Bold(true),

		Selected: lipgloss.NewStyle().
			Background(highlight).
			Foreground(lipgloss.Color("#fff")).
			Bold(true),

		HelpKey:  lipgloss.NewStyle().Foreground(highlight).Bold(true),
		HelpText: lipgloss.NewStyle().Foreground(subtle),
	}
}

func (s *Styles) light(l performance.Light) lipgloss.Style {
	switch l {
	case performance.Red:
		return s.Red
	case performance.Amber:
		return s.Amber
	default:
		return s.Green
	}
}

type tickMsg time.Time

type refreshMsg time.Time

type snapshotMsg struct {
	snap Snapshot
	err  error
}

type eventMsg struct {
	ev  events.Event
	sub *events.Subscriber
}

// New creates a board model for one tenant. Subscribers are read until
// they close; the caller owns them.
func New(ctx context.Context, tenantID string, load Loader, subs ...*events.Subscriber) *Model {
	return &Model{
		ctx:         ctx,
		tenant:      tenantID,
		load:        load,
		subs:        subs,
		width:       80,
		height:      24,
		activePanel: PanelBoard,
		styles:      newStyles(),
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{tickCmd(), refreshTick(), m.loadCmd()}
	for _, sub := range m.subs {
		cmds = append(cmds, m.waitEvent(sub))
	}
	return tea.Batch(cmds...)
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func refreshTick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return refreshMsg(t) })
}

func (m Model) loadCmd() tea.Cmd {
	if m.load == nil {
		return nil
	}
	ctx, load := m.ctx, m.load
	return func() tea.Msg {
		snap, err := load(ctx)
		return snapshotMsg{snap: snap, err: err}
	}
}

func (m Model) waitEvent(sub *events.Subscriber) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		ev, err := sub.Next(ctx)
		if err != nil {
			return nil
		}
		return eventMsg{ev: ev, sub: sub}
	}
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tickMsg:
		m.tick++
		return m, tickCmd()

	case refreshMsg:
		return m, tea.Batch(refreshTick(), m.loadCmd())

	case snapshotMsg:
		m.loadErr = msg.err
		if msg.err == nil {
			m.snap = msg.snap
			if m.selected >= len(m.snap.Board) {
				m.selected = max(len(m.snap.Board)-1, 0)
			}
		}
		return m, nil

	case eventMsg:
		m.AddEvent(msg.ev)
		return m, tea.Batch(m.waitEvent(msg.sub), m.loadCmd())
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		return m, tea.Quit

	case "tab", "right", "l":
		m.activePanel = (m.activePanel + 1) % 3
		return m, nil

	case "shift+tab", "left", "h":
		m.activePanel = (m.activePanel + 2) % 3
		return m, nil

	case "r":
		return m, m.loadCmd()

	case "up", "k":
		switch m.activePanel {
		case PanelBoard:
			if m.selected > 0 {
				m.selected--
			}
		case PanelEvents:
			if m.scroll > 0 {
				m.scroll--
			}
		}
		return m, nil

	case "down", "j":
		switch m.activePanel {
		case PanelBoard:
			if m.selected < len(m.snap.Board)-1 {
				m.selected++
			}
		case PanelEvents:
			if m.scroll < len(m.events)-1 {
				m.scroll++
			}
		}
		return m, nil
	}

	return m, nil
}

// AddEvent appends an event line, dropping the oldest past the cap.
func (m *Model) AddEvent(ev events.Event) {
	follow := len(m.events) == 0 || m.scroll >= len(m.events)-1
	m.events = append(m.events, EventEntry{Time: ev.Timestamp, Type: ev.Type, Message: describe(ev)})
	if len(m.events) > maxEvents {
		m.events = m.events[len(m.events)-maxEvents:]
	}
	if follow {
		m.scroll = len(m.events) - 1
	}
}

// describe summarizes an event payload for the events panel.
func describe(ev events.Event) string {
	switch p := ev.Payload.(type) {
	case *tasks.Task:
		return fmt.Sprintf("%s %s", p.Label(), p.Status)
	case tasks.Task:
		return fmt.Sprintf("%s %s", p.Label(), p.Status)
	case *staff.Staff:
		return staffLine(p)
	case staff.Staff:
		return staffLine(&p)
	case map[string]string:
		var parts []string
		for _, k := range []string{"task_id", "staff_id", "from_staff"} {
			if v, ok := p[k]; ok {
				parts = append(parts, k+"="+v)
			}
		}
		return strings.Join(parts, " ")
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", p)
	}
}

func staffLine(m *staff.Staff) string {
	state := "off shift"
	if m.OnShift {
		state = "on shift"
	}
	if !m.Active {
		state = "inactive"
	}
	return fmt.Sprintf("%s %s", m.Name, state)
}

// View implements tea.Model.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	topHeight := m.height / 2
	bottomHeight := m.height - topHeight - 3
	leftWidth := m.width / 2
	rightWidth := m.width - leftWidth

	board := m.border(PanelBoard).Width(leftWidth - 2).Height(topHeight - 2).
		Render(m.renderBoardPanel(topHeight - 2))
	queue := m.border(PanelQueue).Width(rightWidth - 2).Height(topHeight - 2).
		Render(m.renderQueuePanel(topHeight - 2))
	log := m.border(PanelEvents).Width(m.width - 2).Height(bottomHeight - 2).
		Render(m.renderEventPanel(m.width-2, bottomHeight-2))

	return lipgloss.JoinVertical(
		lipgloss.Left,
		lipgloss.JoinHorizontal(lipgloss.Top, board, queue),
		log,
		m.renderHelpBar(),
	)
}

func (m Model) border(panel Panel) lipgloss.Style {
	if m.activePanel == panel {
		return m.styles.ActiveBorder
	}
	return m.styles.InactiveBorder
}

func (m Model) renderBoardPanel(height int) string {
	var b strings.Builder
	b.WriteString(m.styles.Title.Render("Staff - " + m.tenant))
	b.WriteString("\n")

	if m.loadErr != nil {
		b.WriteString(m.styles.Red.Render("load failed: " + m.loadErr.Error()))
		return b.String()
	}
	if len(m.snap.Board) == 0 {
		b.WriteString(m.styles.Muted.Render("No active staff"))
		return b.String()
	}

	visible := max(height-3, 1)
	start := 0
	if m.selected >= visible {
		start = m.selected - visible + 1
	}
	for i := start; i < len(m.snap.Board) && i < start+visible; i++ {
		line := boardLine(m.styles, m.snap.Board[i])
		if i == m.selected && m.activePanel == PanelBoard {
			line = m.styles.Selected.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

func boardLine(s *Styles, e performance.BoardEntry) string {
	name := e.Name
	if !e.OnShift {
		name = s.Muted.Render(name + " (off)")
	}
	line := fmt.Sprintf(" %s %-14s %d", s.light(e.Light).Render("●"), name, e.InFlight)
	if e.CurrentTask != nil {
		line += s.Muted.Render(fmt.Sprintf("  %s [%s]", e.CurrentTask.Label(), e.CurrentTask.Status))
	}
	return line
}

func (m Model) renderQueuePanel(height int) string {
	var b strings.Builder
	b.WriteString(m.styles.Title.Render("Queue"))
	b.WriteString("\n")

	b.WriteString(m.styles.Label.Render("Dispatch: "))
	if m.snap.DispatchEnabled {
		b.WriteString(m.styles.Green.Render(fmt.Sprintf("on every %s", m.snap.Interval)))
	} else {
		b.WriteString(m.styles.Amber.Render("paused"))
	}
	b.WriteString("\n")
	if !m.snap.TakenAt.IsZero() {
		b.WriteString(m.styles.Label.Render("Updated: "))
		b.WriteString(m.styles.Value.Render(m.snap.TakenAt.Format("15:04:05")))
		b.WriteString("\n")
	}
	b.WriteString("\n")

	if len(m.snap.Pending) == 0 {
		b.WriteString(m.styles.Muted.Render("No pending tasks"))
		return b.String()
	}
	visible := max(height-6, 1)
	for i, t := range m.snap.Pending {
		if i >= visible {
			b.WriteString(m.styles.Muted.Render(fmt.Sprintf(" +%d more", len(m.snap.Pending)-visible)))
			break
		}
		age := formatDuration(m.snap.TakenAt.Sub(t.CreatedAt))
		fmt.Fprintf(&b, " %s %s %s\n", m.spinner(), t.Label(), m.styles.Muted.Render(age))
	}
	return b.String()
}

func (m Model) spinner() string {
	frames := []string{"|", "/", "-", "\\"}
	return frames[m.tick%len(frames)]
}

func (m Model) renderEventPanel(width, height int) string {
	var b strings.Builder
	b.WriteString(m.styles.Title.Render("Events"))
	b.WriteString("\n")

	if len(m.events) == 0 {
		b.WriteString(m.styles.Muted.Render("Waiting for events"))
		return b.String()
	}

	visible := max(height-3, 1)
	start := max(m.scroll-visible+1, 0)
	for i := start; i < len(m.events) && i < start+visible; i++ {
		e := m.events[i]
		msg := e.Message
		if limit := width - 32; len(msg) > limit && limit > 3 {
			msg = msg[:limit-3] + "..."
		}
		fmt.Fprintf(&b, "%s %s %s\n",
			m.styles.Muted.Render(e.Time.Format("15:04:05")),
			m.styles.Highlight.Render(fmt.Sprintf("%-14s", e.Type)),
			msg,
		)
	}
	return b.String()
}

func (m Model) renderHelpBar() string {
	items := []struct{ key, desc string }{
		{"tab", "switch panel"},
		{"j/k", "up/down"},
		{"r", "refresh"},
		{"q", "quit"},
	}
	var parts []string
	for _, item := range items {
		parts = append(parts, m.styles.HelpKey.Render(item.key)+" "+m.styles.HelpText.Render(item.desc))
	}
	return "  " + strings.Join(parts, "  |  ")
}

// RenderBoard prints a static styled board for one-shot CLI output.
func RenderBoard(entries []performance.BoardEntry) string {
	s := newStyles()
	if len(entries) == 0 {
		return s.Muted.Render("No active staff") + "\n"
	}
	var b strings.Builder
	for _, e := range entries {
		b.WriteString(boardLine(s, e))
		b.WriteString("\n")
	}
	return b.String()
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
	return fmt.Sprintf("%dd", int(d.Hours()/24))
}

// Run starts the TUI and blocks until the user quits.
func (m *Model) Run() error {
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(m.ctx))
	_, err := p.Run()
	return err
}
