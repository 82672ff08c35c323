package watch

import (
	"time"

	"github.com/mattjoyce/dojobs/internal/events"
)

// JobState is the display state of one job.
type JobState string

const (
	JobRunning      JobState = "running"
	JobSucceeded    JobState = "ok"
	JobFailed       JobState = "failed"
	JobLaunchFailed JobState = "launch_failed"
	JobTimedOut     JobState = "timed_out"
)

// JobRow is what the view knows about a job, assembled from events.
type JobRow struct {
	Index    int
	Command  string
	Host     string
	Worker   int
	State    JobState
	ExitCode int
	Started  time.Time
	WallTime time.Duration
}

// RunState aggregates one run's events.
type RunState struct {
	RunID    string
	Jobs     int
	Workers  int
	Started  time.Time
	Finished bool

	Rows  map[int]*JobRow
	Order []int

	Succeeded int
	Failed    int
}

type jobPayload struct {
	RunID      string `json:"run_id"`
	Index      int    `json:"index"`
	Host       string `json:"host"`
	Worker     int    `json:"worker"`
	Command    string `json:"command"`
	ExitCode   int    `json:"exit_code"`
	Kind       string `json:"kind"`
	WallTimeMS int64  `json:"wall_time_ms"`
	Jobs       int    `json:"jobs"`
	Workers    int    `json:"workers"`
}

func newRunState() *RunState {
	return &RunState{Rows: make(map[int]*JobRow)}
}

// Apply folds an event into the state. Unknown event types are ignored.
func (s *RunState) Apply(ev events.Event) {
	var p jobPayload
	if err := ev.Decode(&p); err != nil {
		return
	}

	switch ev.Type {
	case events.RunStarted:
		*s = *newRunState()
		s.RunID = p.RunID
		s.Jobs = p.Jobs
		s.Workers = p.Workers
		s.Started = ev.At

	case events.JobStarted:
		row := s.row(p.Index)
		row.Command = p.Command
		row.Host = p.Host
		row.Worker = p.Worker
		row.State = JobRunning
		row.Started = ev.At

	case events.JobFinished:
		row := s.row(p.Index)
		row.Host = p.Host
		row.Worker = p.Worker
		row.ExitCode = p.ExitCode
		row.WallTime = time.Duration(p.WallTimeMS) * time.Millisecond
		row.State = finishedState(p.Kind, p.ExitCode)
		if row.State == JobSucceeded {
			s.Succeeded++
		} else {
			s.Failed++
		}

	case events.RunFinished:
		s.Finished = true
	}
}

// Running counts jobs that started and have not finished.
func (s *RunState) Running() int {
	n := 0
	for _, row := range s.Rows {
		if row.State == JobRunning {
			n++
		}
	}
	return n
}

func (s *RunState) row(index int) *JobRow {
	if row, ok := s.Rows[index]; ok {
		return row
	}
	row := &JobRow{Index: index}
	s.Rows[index] = row
	s.Order = append(s.Order, index)
	return row
}

func finishedState(kind string, code int) JobState {
	switch kind {
	case "launch_failed":
		return JobLaunchFailed
	case "timed_out":
		return JobTimedOut
	}
	if code == 0 {
		return JobSucceeded
	}
	return JobFailed
}
