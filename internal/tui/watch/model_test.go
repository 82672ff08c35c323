package watch

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/dojobs/internal/events"
)

func event(t *testing.T, id int64, typ string, data map[string]any) events.Event {
	t.Helper()
	b, err := json.Marshal(data)
	require.NoError(t, err)
	return events.Event{ID: id, Type: typ, At: time.Now(), Data: b}
}

func feed(t *testing.T, m Model, evs ...events.Event) Model {
	t.Helper()
	for _, ev := range evs {
		next, _ := m.Update(eventMsg(ev))
		m = next.(Model)
	}
	return m
}

func TestRunStateApply(t *testing.T) {
	s := newRunState()
	s.Apply(event(t, 1, events.RunStarted, map[string]any{"run_id": "r1", "jobs": 3, "workers": 2}))
	s.Apply(event(t, 2, events.JobStarted, map[string]any{"index": 0, "host": "local", "command": "true"}))
	s.Apply(event(t, 3, events.JobStarted, map[string]any{"index": 1, "host": "local", "command": "false"}))

	assert.Equal(t, "r1", s.RunID)
	assert.Equal(t, 3, s.Jobs)
	assert.Equal(t, 2, s.Running())

	s.Apply(event(t, 4, events.JobFinished, map[string]any{"index": 0, "exit_code": 0, "kind": "completed", "wall_time_ms": 12}))
	s.Apply(event(t, 5, events.JobFinished, map[string]any{"index": 1, "exit_code": 1, "kind": "completed"}))
	s.Apply(event(t, 6, events.JobStarted, map[string]any{"index": 2, "host": "nodeA", "command": "sleep 9"}))
	s.Apply(event(t, 7, events.JobFinished, map[string]any{"index": 2, "exit_code": 2, "kind": "timed_out"}))
	s.Apply(event(t, 8, events.RunFinished, map[string]any{"run_id": "r1"}))

	assert.Equal(t, 1, s.Succeeded)
	assert.Equal(t, 2, s.Failed)
	assert.Equal(t, 0, s.Running())
	assert.True(t, s.Finished)
	assert.Equal(t, JobSucceeded, s.Rows[0].State)
	assert.Equal(t, 12*time.Millisecond, s.Rows[0].WallTime)
	assert.Equal(t, JobFailed, s.Rows[1].State)
	assert.Equal(t, JobTimedOut, s.Rows[2].State)
	assert.Equal(t, []int{0, 1, 2}, s.Order)
}

func TestRunStateIgnoresBadPayload(t *testing.T) {
	s := newRunState()
	s.Apply(events.Event{Type: events.JobStarted, Data: []byte("not json")})
	assert.Empty(t, s.Rows)
}

func TestFinishedState(t *testing.T) {
	assert.Equal(t, JobLaunchFailed, finishedState("launch_failed", 1))
	assert.Equal(t, JobTimedOut, finishedState("timed_out", 2))
	assert.Equal(t, JobSucceeded, finishedState("completed", 0))
	assert.Equal(t, JobFailed, finishedState("completed", 7))
}

func TestModelViewShowsJobs(t *testing.T) {
	m := *New(make(chan events.Event))
	next, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	m = next.(Model)

	m = feed(t, m,
		event(t, 1, events.RunStarted, map[string]any{"run_id": "0123456789abcdef", "jobs": 2, "workers": 1}),
		event(t, 2, events.JobStarted, map[string]any{"index": 0, "host": "local", "command": "make build"}),
	)

	view := m.View()
	assert.Contains(t, view, "RUNNING")
	assert.Contains(t, view, "01234567")
	assert.Contains(t, view, "make build")
	assert.Contains(t, view, "Jobs: 0/2")

	rows := m.rows()
	require.Len(t, rows, 1)
	assert.Equal(t, "running", rows[0][1])
}

func TestModelQuitsAfterRunFinished(t *testing.T) {
	m := *New(make(chan events.Event))
	m.ExitDelay = time.Millisecond

	m = feed(t, m, event(t, 1, events.RunStarted, map[string]any{"run_id": "r", "jobs": 0}))
	next, cmd := m.Update(eventMsg(event(t, 2, events.RunFinished, map[string]any{"run_id": "r"})))
	m = next.(Model)

	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
	assert.True(t, m.Run().Finished)
	assert.Contains(t, m.renderHeader(), "DONE")
}

func TestModelQuitsWhenStreamCloses(t *testing.T) {
	ch := make(chan events.Event)
	close(ch)
	m := *New(ch)

	msg := receiveNextEvent(ch)()
	assert.IsType(t, streamClosedMsg{}, msg)

	next, cmd := m.Update(msg)
	assert.True(t, next.(Model).closed)
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestModelKeyQuit(t *testing.T) {
	m := *New(make(chan events.Event))
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestViewBeforeResize(t *testing.T) {
	m := *New(make(chan events.Event))
	assert.True(t, strings.HasPrefix(m.View(), "Initializing"))
}

func TestThemeForEvent(t *testing.T) {
	theme := NewDefaultTheme()
	s := newRunState()
	s.Apply(event(t, 1, events.RunStarted, map[string]any{"run_id": "r1", "jobs": 2}))
	ok := event(t, 2, events.JobFinished, map[string]any{"index": 0, "exit_code": 0})
	timedOut := event(t, 3, events.JobFinished, map[string]any{"index": 1, "exit_code": 2, "kind": "timed_out"})
	s.Apply(ok)
	s.Apply(timedOut)

	assert.Equal(t, theme.Style(JobSucceeded).Render("x"), theme.ForEvent(ok, s).Render("x"))
	assert.Equal(t, theme.Style(JobTimedOut).Render("x"), theme.ForEvent(timedOut, s).Render("x"))
	assert.Equal(t, theme.Style(JobRunning).Render("x"), theme.ForEvent(event(t, 4, events.JobStarted, map[string]any{"index": 1}), s).Render("x"))

	unknown := event(t, 5, events.JobFinished, map[string]any{"index": 9})
	assert.Equal(t, theme.Pending().Render("x"), theme.ForEvent(unknown, s).Render("x"))
	assert.Equal(t, theme.Style(JobFailed).Render("x"), theme.ForEvent(event(t, 6, events.RunFinished, nil), s).Render("x"))
}
