// Package report renders dispatch results for people (Text) and machines
// (JSON lines).
package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/dojobs/internal/dispatch"
	"github.com/mattjoyce/dojobs/internal/execute"
)

// TimeLayout formats the start and finish timestamps of a job.
const TimeLayout = "2006-01-02 15:04:05.000000"

// Sink is a dispatch.Reporter that also renders the end-of-run summary.
type Sink interface {
	dispatch.Reporter
	Summarize(dispatch.Summary)
}

// Styles colour the return code. The zero value renders plain text.
type Styles struct {
	OK       lipgloss.Style
	Failed   lipgloss.Style
	TimedOut lipgloss.Style
	Dim      lipgloss.Style
}

func DefaultStyles() Styles {
	return Styles{
		OK:       lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		Failed:   lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000")).Bold(true),
		TimedOut: lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00")),
		Dim:      lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),
	}
}

// Text prints one block per result:
//
//	[3] Job:         make test
//	[3] Return Code: 0
//	[3] Host:        local
//	[3] Wall Time:   1.204s (From 2024-01-02 10:00:00.000000 until 2024-01-02 10:00:01.204000)
//	[3] Log:
//	[3]     ok  ./...
type Text struct {
	w               io.Writer
	suppressConsole bool
	color           bool
	styles          Styles
}

// NewText creates a text reporter. With suppressConsole the Log section is
// omitted.
func NewText(w io.Writer, suppressConsole bool) *Text {
	return &Text{w: w, suppressConsole: suppressConsole, styles: DefaultStyles()}
}

// WithColor enables lipgloss styling of return codes.
func (t *Text) WithColor(enabled bool) *Text {
	t.color = enabled
	return t
}

func (t *Text) Report(r dispatch.Result) {
	var b strings.Builder
	p := fmt.Sprintf("[%d]", r.Job.Index)

	fmt.Fprintf(&b, "%s Job:         %s\n", p, r.Job.String())
	fmt.Fprintf(&b, "%s Return Code: %s\n", p, t.returnCode(r.Outcome))
	fmt.Fprintf(&b, "%s Host:        %s\n", p, r.Host)
	fmt.Fprintf(&b, "%s Wall Time:   %s (From %s until %s)\n", p,
		r.WallTime().Round(time.Millisecond),
		r.StartedAt.Format(TimeLayout),
		r.FinishedAt.Format(TimeLayout))
	if r.Outcome.Err != nil {
		fmt.Fprintf(&b, "%s Error:       %s: %v\n", p, r.Outcome.Kind, r.Outcome.Err)
	}
	if !t.suppressConsole {
		fmt.Fprintf(&b, "%s Log:\n", p)
		for _, line := range r.Outcome.Lines {
			fmt.Fprintf(&b, "%s     %s\n", p, line)
		}
	}

	// One write per block keeps blocks whole next to live job output.
	_, _ = io.WriteString(t.w, b.String())
}

func (t *Text) Summarize(s dispatch.Summary) {
	line := SummaryLine(s)
	if t.color {
		style := t.styles.OK
		if !s.OK() {
			style = t.styles.Failed
		}
		line = style.Render(line)
	}
	_, _ = fmt.Fprintln(t.w, line)
}

func (t *Text) returnCode(o execute.Outcome) string {
	code := fmt.Sprint(o.ExitCode)
	if o.Kind != execute.KindCompleted {
		code = fmt.Sprintf("%s (%s)", code, o.Kind)
	}
	if !t.color {
		return code
	}
	switch {
	case o.Kind == execute.KindTimedOut:
		return t.styles.TimedOut.Render(code)
	case o.Succeeded():
		return t.styles.OK.Render(code)
	default:
		return t.styles.Failed.Render(code)
	}
}

// SummaryLine is the one-line description of a finished run.
func SummaryLine(s dispatch.Summary) string {
	return fmt.Sprintf("Summary: %d/%d jobs reported, %d succeeded, %d failed, %d launch failed, %d timed out in %s (run %s)",
		s.Reported, s.Jobs, s.Succeeded, s.Failed, s.LaunchFailed, s.TimedOut,
		s.FinishedAt.Sub(s.StartedAt).Round(time.Millisecond), s.RunID)
}

// Multi fans each result and the summary out to every sink in order.
type Multi []Sink

func (m Multi) StartRun(info dispatch.RunInfo) {
	for _, s := range m {
		if rs, ok := s.(dispatch.RunStarter); ok {
			rs.StartRun(info)
		}
	}
}

func (m Multi) Report(r dispatch.Result) {
	for _, s := range m {
		s.Report(r)
	}
}

func (m Multi) Summarize(s dispatch.Summary) {
	for _, sink := range m {
		sink.Summarize(s)
	}
}
