package dispatch

import (
	"fmt"
	"time"

	"github.com/mattjoyce/dojobs/internal/execute"
	"github.com/mattjoyce/dojobs/internal/queue"
)

// Result records what happened to one job.
type Result struct {
	Job        queue.Job
	Outcome    execute.Outcome
	Host       string
	StartedAt  time.Time
	FinishedAt time.Time
}

// WallTime is derived from the two timestamps and never stored.
func (r Result) WallTime() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// validate checks the fields every Result must carry.
func (r Result) validate(total int) error {
	if r.Job.Index < 0 || r.Job.Index >= total {
		return fmt.Errorf("result index %d outside [0, %d)", r.Job.Index, total)
	}
	if r.Host == "" {
		return fmt.Errorf("result %d has no host", r.Job.Index)
	}
	if r.FinishedAt.Before(r.StartedAt) {
		return fmt.Errorf("result %d finished before it started", r.Job.Index)
	}
	return nil
}

// Summary aggregates a finished run.
type Summary struct {
	RunID        string
	Jobs         int
	Reported     int
	Succeeded    int
	Failed       int
	LaunchFailed int
	TimedOut     int
	StartedAt    time.Time
	FinishedAt   time.Time
}

// OK reports whether every job was reported and exited 0.
func (s Summary) OK() bool {
	return s.Reported == s.Jobs && s.Succeeded == s.Jobs
}

func (s *Summary) add(r Result) {
	s.Reported++
	switch {
	case r.Outcome.Kind == execute.KindLaunchFailed:
		s.LaunchFailed++
	case r.Outcome.Kind == execute.KindTimedOut:
		s.TimedOut++
	case r.Outcome.ExitCode == 0:
		s.Succeeded++
	default:
		s.Failed++
	}
}
