package dispatch

import (
	"slices"
	"time"
)

// WorkerStatus is a point-in-time view of one worker. JobIndex is -1 when
// the worker is not running a job.
type WorkerStatus struct {
	ID       int         `json:"id"`
	Host     string      `json:"host"`
	State    WorkerState `json:"state"`
	JobIndex int         `json:"job_index"`
}

// Progress is a snapshot of the current or most recent run.
type Progress struct {
	RunID        string         `json:"run_id"`
	Active       bool           `json:"active"`
	Jobs         int            `json:"jobs"`
	Reported     int            `json:"reported"`
	Succeeded    int            `json:"succeeded"`
	Failed       int            `json:"failed"`
	LaunchFailed int            `json:"launch_failed"`
	TimedOut     int            `json:"timed_out"`
	StartedAt    time.Time      `json:"started_at"`
	FinishedAt   *time.Time     `json:"finished_at,omitempty"`
	Workers      []WorkerStatus `json:"workers"`
}

// Progress returns a copy of the current progress.
func (d *Dispatcher) Progress() Progress {
	d.mu.Lock()
	defer d.mu.Unlock()
	p := d.progress
	p.Workers = slices.Clone(d.progress.Workers)
	return p
}

func (d *Dispatcher) resetProgress(s Summary, workers []*worker) {
	statuses := make([]WorkerStatus, len(workers))
	for i, w := range workers {
		statuses[i] = WorkerStatus{ID: w.id, Host: w.host, State: WorkerWaiting, JobIndex: -1}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.progress = Progress{
		RunID:     s.RunID,
		Active:    true,
		Jobs:      s.Jobs,
		StartedAt: s.StartedAt,
		Workers:   statuses,
	}
}

func (d *Dispatcher) setWorker(id int, state WorkerState, jobIndex int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if id < 0 || id >= len(d.progress.Workers) {
		return
	}
	d.progress.Workers[id].State = state
	d.progress.Workers[id].JobIndex = jobIndex
}

func (d *Dispatcher) recordResult(r Result) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var s Summary
	s.add(r)
	d.progress.Reported += s.Reported
	d.progress.Succeeded += s.Succeeded
	d.progress.Failed += s.Failed
	d.progress.LaunchFailed += s.LaunchFailed
	d.progress.TimedOut += s.TimedOut
}

func (d *Dispatcher) finishProgress(s Summary) {
	d.mu.Lock()
	defer d.mu.Unlock()
	finished := s.FinishedAt
	d.progress.Active = false
	d.progress.FinishedAt = &finished
}
