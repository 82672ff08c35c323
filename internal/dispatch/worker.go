package dispatch

import (
	"context"
	"errors"
	"log/slog"

	"github.com/mattjoyce/dojobs/internal/events"
	"github.com/mattjoyce/dojobs/internal/queue"
)

// WorkerState is the lifecycle position of one worker.
type WorkerState int

const (
	WorkerWaiting WorkerState = iota
	WorkerRunning
	WorkerTerminated
)

func (s WorkerState) String() string {
	switch s {
	case WorkerWaiting:
		return "waiting"
	case WorkerRunning:
		return "running"
	case WorkerTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

func (s WorkerState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

type worker struct {
	id      int
	slot    int
	host    string
	runID   string
	d       *Dispatcher
	q       *queue.Queue
	results chan<- Result
	logger  *slog.Logger
}

// loop takes jobs until it consumes a stop notice or ctx is cancelled.
func (w *worker) loop(ctx context.Context) {
	defer w.d.setWorker(w.id, WorkerTerminated, -1)
	w.logger.Debug("worker started")

	for {
		if ctx.Err() != nil {
			w.logger.Debug("worker cancelled")
			return
		}
		job, err := w.q.Take(ctx)
		if errors.Is(err, queue.ErrShutdown) {
			w.logger.Debug("worker stopped")
			return
		}
		if err != nil {
			w.logger.Debug("worker cancelled", "error", err)
			return
		}
		w.results <- w.run(job)
	}
}

func (w *worker) run(job queue.Job) Result {
	d := w.d
	logger := w.logger.With("job_index", job.Index)

	argv := d.transport.Wrap(w.host, job.Command)
	opts := d.jobOptions(w)

	started := d.throttle.Wait(w.host)
	if started.IsZero() {
		started = d.now()
	}
	d.setWorker(w.id, WorkerRunning, job.Index)
	logger.Debug("job started", "command", job.String())
	d.hub.Publish(events.JobStarted, map[string]any{
		"run_id":  w.runID,
		"index":   job.Index,
		"host":    w.host,
		"worker":  w.id,
		"command": job.String(),
	})

	outcome := d.runner.Run(argv, opts)

	finished := d.now()
	d.setWorker(w.id, WorkerWaiting, -1)

	if outcome.Err != nil {
		logger.Warn("job failed", "kind", outcome.Kind.String(), "exit_code", outcome.ExitCode, "error", outcome.Err)
	} else {
		logger.Debug("job finished", "exit_code", outcome.ExitCode)
	}
	d.hub.Publish(events.JobFinished, map[string]any{
		"run_id":       w.runID,
		"index":        job.Index,
		"host":         w.host,
		"worker":       w.id,
		"exit_code":    outcome.ExitCode,
		"kind":         outcome.Kind.String(),
		"wall_time_ms": finished.Sub(started).Milliseconds(),
	})

	return Result{
		Job:        job,
		Outcome:    outcome,
		Host:       w.host,
		StartedAt:  started,
		FinishedAt: finished,
	}
}
