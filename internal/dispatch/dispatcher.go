package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/dojobs/internal/config"
	"github.com/mattjoyce/dojobs/internal/events"
	"github.com/mattjoyce/dojobs/internal/execute"
	"github.com/mattjoyce/dojobs/internal/log"
	"github.com/mattjoyce/dojobs/internal/queue"
	"github.com/mattjoyce/dojobs/internal/throttle"
	"github.com/mattjoyce/dojobs/internal/transport"
)

// ErrNoWorkers is returned when there are jobs but no worker slots.
var ErrNoWorkers = errors.New("no workers configured")

// ErrAccounting reports that results did not cover every job exactly once.
var ErrAccounting = errors.New("result accounting failed")

// Options apply to every job of a run.
type Options struct {
	Timeout    time.Duration
	WorkDir    string
	Mode       execute.PrintMode
	Prefix     string
	ShowErrors bool
}

// Dispatcher runs job lists across host-bound workers. A Dispatcher runs one
// job list at a time; Progress may be called concurrently with Run.
type Dispatcher struct {
	runner    CommandRunner
	transport *transport.Transport
	throttle  *throttle.Throttle
	opts      Options
	hub       *events.Hub
	launcher  Launcher
	now       func() time.Time
	logger    *slog.Logger

	runMu sync.Mutex

	mu       sync.Mutex
	progress Progress
}

// New creates a Dispatcher. A nil transport treats every host as local and
// a nil throttle disables start spacing.
func New(runner CommandRunner, tr *transport.Transport, th *throttle.Throttle, opts Options) (*Dispatcher, error) {
	if runner == nil {
		return nil, errors.New("dispatch: runner is nil")
	}
	if err := (execute.Options{Timeout: opts.Timeout, Mode: opts.Mode}).Validate(); err != nil {
		return nil, fmt.Errorf("dispatch: %w", err)
	}
	if tr == nil {
		tr = transport.New(nil, nil)
	}
	return &Dispatcher{
		runner:    runner,
		transport: tr,
		throttle:  th,
		opts:      opts,
		launcher:  Goroutines{},
		now:       time.Now,
		logger:    log.WithComponent("dispatch"),
	}, nil
}

// WithEvents publishes run and job lifecycle events to hub.
func (d *Dispatcher) WithEvents(hub *events.Hub) *Dispatcher {
	d.hub = hub
	return d
}

// WithLauncher selects the execution unit hosting each worker.
func (d *Dispatcher) WithLauncher(l Launcher) *Dispatcher {
	if l != nil {
		d.launcher = l
	}
	return d
}

// Run executes commands on the workers described by hosts and reports each
// Result to reporter as it arrives. It returns once every job has been
// reported and every worker has stopped.
func (d *Dispatcher) Run(ctx context.Context, commands [][]string, hosts []config.HostSpec, reporter Reporter) (Summary, error) {
	d.runMu.Lock()
	defer d.runMu.Unlock()

	for i, c := range commands {
		if len(c) == 0 {
			return Summary{}, fmt.Errorf("command %d is empty", i)
		}
	}
	for _, h := range hosts {
		if h.Host == "" || h.Workers < 0 {
			return Summary{}, fmt.Errorf("invalid host spec %q", h.String())
		}
	}
	total := config.TotalWorkers(hosts)
	if len(commands) > 0 && total == 0 {
		return Summary{}, ErrNoWorkers
	}
	if reporter == nil {
		reporter = ReporterFunc(func(Result) {})
	}

	summary := Summary{
		RunID:     uuid.NewString(),
		Jobs:      len(commands),
		StartedAt: d.now(),
	}
	logger := d.logger.With("run_id", summary.RunID)

	q := queue.New()
	for _, c := range commands {
		if _, err := q.Submit(c); err != nil {
			return Summary{}, fmt.Errorf("submit: %w", err)
		}
	}

	results := make(chan Result, len(commands))
	workers := d.buildWorkers(summary.RunID, hosts, q, results)
	d.resetProgress(summary, workers)
	if rs, ok := reporter.(RunStarter); ok {
		rs.StartRun(RunInfo{
			ID:        summary.RunID,
			Jobs:      summary.Jobs,
			Hosts:     slices.Clone(hosts),
			StartedAt: summary.StartedAt,
		})
	}

	logger.Info("run started", "jobs", len(commands), "workers", total)
	d.hub.Publish(events.RunStarted, map[string]any{
		"run_id":  summary.RunID,
		"jobs":    len(commands),
		"workers": total,
	})

	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		d.launcher.Launch(func() {
			defer wg.Done()
			w.loop(ctx)
		})
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	acc := newAccounting(len(commands))
	accept := func(r Result) {
		if err := acc.record(r); err != nil {
			logger.Error("result rejected", "job_index", r.Job.Index, "error", err)
			return
		}
		summary.add(r)
		d.recordResult(r)
		reporter.Report(r)
	}

	var runErr error
drain:
	// Rejected results count toward the drain so a bad one cannot strand it.
	for acc.received() < len(commands) {
		select {
		case r := <-results:
			accept(r)
		case <-ctx.Done():
			runErr = ctx.Err()
			break drain
		}
	}

	q.Shutdown(total)

	if runErr != nil {
		logger.Warn("run cancelled, waiting for running jobs", "reported", summary.Reported, "jobs", len(commands))
	wait:
		for {
			select {
			case r := <-results:
				accept(r)
			case <-done:
				break wait
			}
		}
		// Workers are gone, so anything left was sent before they exited.
		for len(results) > 0 {
			accept(<-results)
		}
	} else {
		<-done
		if err := acc.verify(q, ctx.Err() == nil); err != nil {
			runErr = err
		}
	}

	summary.FinishedAt = d.now()
	d.finishProgress(summary)

	logger.Info("run finished",
		"jobs", summary.Jobs,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"launch_failed", summary.LaunchFailed,
		"timed_out", summary.TimedOut,
		"duration", summary.FinishedAt.Sub(summary.StartedAt),
	)
	d.hub.Publish(events.RunFinished, map[string]any{
		"run_id":        summary.RunID,
		"jobs":          summary.Jobs,
		"reported":      summary.Reported,
		"succeeded":     summary.Succeeded,
		"failed":        summary.Failed,
		"launch_failed": summary.LaunchFailed,
		"timed_out":     summary.TimedOut,
	})

	return summary, runErr
}

func (d *Dispatcher) buildWorkers(runID string, hosts []config.HostSpec, q *queue.Queue, results chan<- Result) []*worker {
	var workers []*worker
	for _, h := range hosts {
		for slot := 0; slot < h.Workers; slot++ {
			workers = append(workers, &worker{
				id:      len(workers),
				slot:    slot,
				host:    h.Host,
				runID:   runID,
				d:       d,
				q:       q,
				results: results,
				logger:  log.WithHost(h.Host).With("component", "worker", "worker", len(workers), "run_id", runID),
			})
		}
	}
	return workers
}

// jobOptions builds the execution options for a job run by w.
func (d *Dispatcher) jobOptions(w *worker) execute.Options {
	prefix := d.opts.Prefix
	if prefix == "" && (d.opts.Mode == execute.PrintPrefix || d.opts.Mode == execute.PrintTimestampPrefix) {
		prefix = fmt.Sprintf("%d@%s", w.slot, w.host)
	}
	return execute.Options{
		Dir:        d.opts.WorkDir,
		Timeout:    d.opts.Timeout,
		Mode:       d.opts.Mode,
		Prefix:     prefix,
		ShowErrors: d.opts.ShowErrors,
	}
}

// accounting enforces exactly-once reporting over indices 0..N-1.
type accounting struct {
	total    int
	seen     map[int]struct{}
	rejected []error
}

func newAccounting(total int) *accounting {
	return &accounting{total: total, seen: make(map[int]struct{}, total)}
}

func (a *accounting) record(r Result) error {
	err := r.validate(a.total)
	if err == nil {
		if _, dup := a.seen[r.Job.Index]; dup {
			err = fmt.Errorf("job %d reported twice", r.Job.Index)
		}
	}
	if err != nil {
		a.rejected = append(a.rejected, err)
		return err
	}
	a.seen[r.Job.Index] = struct{}{}
	return nil
}

// received counts every result handed in, accepted or not.
func (a *accounting) received() int {
	return len(a.seen) + len(a.rejected)
}

// verify checks the queue is fully drained after a completed run. Stop
// notices are only checked when workers were not cut short by cancellation.
func (a *accounting) verify(q *queue.Queue, checkStops bool) error {
	errs := slices.Clone(a.rejected)
	if len(a.seen) != a.total {
		errs = append(errs, fmt.Errorf("reported %d of %d jobs", len(a.seen), a.total))
	}
	if n := q.Len(); n != 0 {
		errs = append(errs, fmt.Errorf("%d jobs left in queue", n))
	}
	if checkStops {
		if n := q.PendingStops(); n != 0 {
			errs = append(errs, fmt.Errorf("%d stop notices not consumed", n))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrAccounting, errors.Join(errs...))
}
