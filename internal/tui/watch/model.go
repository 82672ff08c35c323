package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/dojobs/internal/events"
)

const maxEventLog = 50

// Model is the main BubbleTea model for the watch TUI. It is fed directly
// by a hub subscription; no HTTP round trip is involved.
type Model struct {
	hubEvents <-chan events.Event

	width  int
	height int

	run      *RunState
	eventLog []events.Event
	closed   bool

	jobTable table.Model
	spinner  spinner.Model
	theme    Theme

	// ExitDelay keeps the final view on screen after run.finished.
	ExitDelay time.Duration
}

type eventMsg events.Event
type streamClosedMsg struct{}

// New creates a watch model reading from sub.
func New(sub <-chan events.Event) *Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "#", Width: 5},
			{Title: "ST", Width: 13},
			{Title: "Host", Width: 14},
			{Title: "Command", Width: 40},
			{Title: "Time", Width: 10},
		}),
		table.WithFocused(true),
		table.WithHeight(12),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return &Model{
		hubEvents: sub,
		run:       newRunState(),
		jobTable:  t,
		spinner:   sp,
		theme:     NewDefaultTheme(),
		ExitDelay: 1500 * time.Millisecond,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		receiveNextEvent(m.hubEvents),
		m.spinner.Tick,
		tea.EnterAltScreen,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}
		var cmd tea.Cmd
		m.jobTable, cmd = m.jobTable.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resizeTable()
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case eventMsg:
		e := events.Event(msg)
		m.eventLog = append([]events.Event{e}, m.eventLog...)
		if len(m.eventLog) > maxEventLog {
			m.eventLog = m.eventLog[:maxEventLog]
		}
		m.run.Apply(e)
		m.jobTable.SetRows(m.rows())

		if e.Type == events.RunFinished {
			return m, tea.Tick(m.ExitDelay, func(time.Time) tea.Msg { return tea.QuitMsg{} })
		}
		return m, receiveNextEvent(m.hubEvents)

	case streamClosedMsg:
		m.closed = true
		return m, tea.Quit
	}

	return m, nil
}

// Run returns the state assembled so far.
func (m Model) Run() *RunState {
	return m.run
}

func (m *Model) resizeTable() {
	if m.height > 0 {
		h := m.height - 16
		if h < 3 {
			h = 3
		}
		m.jobTable.SetHeight(h)
	}
	if m.width > 0 {
		cols := m.jobTable.Columns()
		fixed := 0
		for i, c := range cols {
			if i != 3 {
				fixed += c.Width + 2
			}
		}
		if w := m.width - 10 - fixed; w > 10 {
			cols[3].Width = w
			m.jobTable.SetColumns(cols)
		}
	}
}

// rows lists jobs newest first so running work stays visible.
func (m Model) rows() []table.Row {
	rows := make([]table.Row, 0, len(m.run.Order))
	for i := len(m.run.Order) - 1; i >= 0; i-- {
		job := m.run.Rows[m.run.Order[i]]
		wall := ""
		if job.State != JobRunning {
			wall = job.WallTime.Round(time.Millisecond).String()
		}
		state := string(job.State)
		if job.State == JobFailed {
			state = fmt.Sprintf("failed(%d)", job.ExitCode)
		}
		rows = append(rows, table.Row{
			fmt.Sprint(job.Index),
			state,
			job.Host,
			job.Command,
			wall,
		})
	}
	return rows
}

func (m Model) View() string {
	if m.width == 0 {
		return "Initializing..."
	}
	inner := m.width - 4

	header := m.theme.Frame.Width(inner).Render(m.renderHeader())
	jobs := m.theme.Frame.Width(inner).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			m.theme.Title.Render("JOBS"),
			m.jobTable.View(),
		),
	)
	stream := m.theme.Frame.Width(inner).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			m.theme.Title.Render("EVENT STREAM"),
			m.renderEvents(),
		),
	)
	help := m.theme.Help.Render(" [q] Quit • [↑/↓] Scroll jobs")

	return lipgloss.NewStyle().Margin(1, 2).Render(
		lipgloss.JoinVertical(lipgloss.Left, header, jobs, stream, help),
	)
}

func (m Model) renderHeader() string {
	r := m.run
	status := m.theme.Style(JobRunning).Render(m.spinner.View() + " RUNNING")
	switch {
	case r.RunID == "":
		status = m.theme.Pending().Render("WAITING")
	case r.Finished && r.Failed == 0:
		status = m.theme.Style(JobSucceeded).Render("DONE")
	case r.Finished:
		status = m.theme.Style(JobFailed).Render("DONE WITH FAILURES")
	}

	done := r.Succeeded + r.Failed
	elapsed := ""
	if !r.Started.IsZero() {
		elapsed = time.Since(r.Started).Round(time.Second).String()
	}

	lines := []string{
		fmt.Sprintf(" DOJOBS %s  %s", status, m.theme.Dim.Render(shortID(r.RunID))),
		fmt.Sprintf(" Jobs: %d/%d  Running: %d  OK: %s  Failed: %s  Workers: %d  Elapsed: %s",
			done, r.Jobs, r.Running(),
			m.theme.Style(JobSucceeded).Render(fmt.Sprint(r.Succeeded)),
			m.theme.Style(JobFailed).Render(fmt.Sprint(r.Failed)),
			r.Workers, elapsed),
	}
	return strings.Join(lines, "\n")
}

func (m Model) renderEvents() string {
	if len(m.eventLog) == 0 {
		return m.theme.Dim.Render("  Waiting for events...")
	}
	var lines []string
	for i, e := range m.eventLog {
		if i >= 8 {
			break
		}
		lines = append(lines, fmt.Sprintf("%s %s %s",
			m.theme.Dim.Render(e.At.Local().Format("15:04:05")),
			m.theme.ForEvent(e, m.run).Render(fmt.Sprintf("%-14s", e.Type)),
			string(e.Data)))
	}
	return lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n"))
}

func receiveNextEvent(ch <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return streamClosedMsg{}
		}
		return eventMsg(ev)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
