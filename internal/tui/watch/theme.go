// Package watch implements the live run view shown by `dojobs run --watch`.
package watch

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/dojobs/internal/events"
)

// Theme holds the styles used by the live view.
type Theme struct {
	Frame lipgloss.Style
	Title lipgloss.Style
	Dim   lipgloss.Style
	Help  lipgloss.Style

	pending lipgloss.Style
	states  map[JobState]lipgloss.Style
}

func fg(c string) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(lipgloss.Color(c))
}

func NewDefaultTheme() Theme {
	grey := fg("#888888")
	red := fg("#FF5F5F")
	return Theme{
		Frame: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#5F87AF")),
		Title:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FAFAFA")).Padding(0, 1),
		Dim:     grey,
		Help:    fg("241"),
		pending: grey,
		states: map[JobState]lipgloss.Style{
			JobRunning:      fg("#FFD75F"),
			JobSucceeded:    fg("#5FD75F"),
			JobFailed:       red,
			JobLaunchFailed: red.Bold(true),
			JobTimedOut:     fg("#E5C07B"),
		},
	}
}

// Style returns the style for a job state. Unknown states look pending.
func (t Theme) Style(state JobState) lipgloss.Style {
	if s, ok := t.states[state]; ok {
		return s
	}
	return t.pending
}

// Pending styles things that have not started yet.
func (t Theme) Pending() lipgloss.Style { return t.pending }

// ForEvent picks the style for an event stream line. Finished jobs take the
// colour of the state they ended in.
func (t Theme) ForEvent(ev events.Event, run *RunState) lipgloss.Style {
	switch ev.Type {
	case events.RunStarted, events.JobStarted:
		return t.Style(JobRunning)
	case events.JobFinished:
		var p jobPayload
		if ev.Decode(&p) == nil {
			if row, ok := run.Rows[p.Index]; ok {
				return t.Style(row.State)
			}
		}
	case events.RunFinished:
		if run.Failed > 0 {
			return t.Style(JobFailed)
		}
		return t.Style(JobSucceeded)
	}
	return t.pending
}
