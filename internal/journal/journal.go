// Package journal records runs and their results in SQLite. It is write-only
// from the engine's point of view; nothing read back from it influences a
// later run. The read methods exist for `dojobs inspect`.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mattjoyce/dojobs/internal/dispatch"
	"github.com/mattjoyce/dojobs/internal/log"
	"github.com/mattjoyce/dojobs/internal/storage"
)

const writeTimeout = 5 * time.Second

// Status values of a run row.
const (
	StatusRunning    = "running"
	StatusSucceeded  = "succeeded"
	StatusFailed     = "failed"
	StatusIncomplete = "incomplete"
)

// Journal is a dispatch reporter that persists what it is told. Write
// failures are logged and remembered; the first one is returned by Err and
// Close so a broken journal never stops a run.
type Journal struct {
	db      *sql.DB
	ownsDB  bool
	jobfile string
	logger  *slog.Logger

	mu    sync.Mutex
	runID string
	err   error
}

// Open opens (creating if needed) the journal database at path.
func Open(ctx context.Context, path string) (*Journal, error) {
	db, err := storage.OpenSQLite(ctx, path)
	if err != nil {
		return nil, err
	}
	j := New(db)
	j.ownsDB = true
	return j, nil
}

// New wraps an already bootstrapped database.
func New(db *sql.DB) *Journal {
	return &Journal{db: db, logger: log.WithComponent("journal")}
}

// WithJobfile records the job source name on subsequent runs.
func (j *Journal) WithJobfile(name string) *Journal {
	j.jobfile = name
	return j
}

// StartRun inserts the run row.
func (j *Journal) StartRun(info dispatch.RunInfo) {
	hosts := make([]string, len(info.Hosts))
	workers := 0
	for i, h := range info.Hosts {
		hosts[i] = h.String()
		workers += h.Workers
	}
	hostsJSON, _ := json.Marshal(hosts)

	j.mu.Lock()
	j.runID = info.ID
	j.mu.Unlock()

	j.exec("start run", `
INSERT INTO runs (id, status, jobs, workers, hosts, jobfile, started_at)
VALUES (?, ?, ?, ?, ?, ?, ?);
`, info.ID, StatusRunning, info.Jobs, workers, string(hostsJSON), nullable(j.jobfile), formatTime(info.StartedAt))
}

// Report inserts one result row for the current run.
func (j *Journal) Report(r dispatch.Result) {
	j.mu.Lock()
	runID := j.runID
	j.mu.Unlock()
	if runID == "" {
		j.fail(errors.New("result reported before StartRun"))
		return
	}

	command, _ := json.Marshal(r.Job.Command)
	var logJSON any
	if len(r.Outcome.Lines) > 0 {
		b, _ := json.Marshal(r.Outcome.Lines)
		logJSON = string(b)
	}
	var errText any
	if r.Outcome.Err != nil {
		errText = r.Outcome.Err.Error()
	}

	j.exec("record result", `
INSERT INTO results (run_id, job_index, fingerprint, command, host, kind, exit_code, error, log, started_at, finished_at, wall_time_ms)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`,
		runID, r.Job.Index, r.Job.Fingerprint(), string(command), r.Host,
		r.Outcome.Kind.String(), r.Outcome.ExitCode, errText, logJSON,
		formatTime(r.StartedAt), formatTime(r.FinishedAt), r.WallTime().Milliseconds())
}

// Summarize closes out the run row with final counters.
func (j *Journal) Summarize(s dispatch.Summary) {
	status := StatusSucceeded
	switch {
	case s.Reported < s.Jobs:
		status = StatusIncomplete
	case !s.OK():
		status = StatusFailed
	}

	j.exec("finish run", `
UPDATE runs
SET status = ?, succeeded = ?, failed = ?, launch_failed = ?, timed_out = ?, finished_at = ?
WHERE id = ?;
`, status, s.Succeeded, s.Failed, s.LaunchFailed, s.TimedOut, formatTime(s.FinishedAt), s.RunID)
}

// Err returns the first write failure, if any.
func (j *Journal) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

// Close releases the database when the journal opened it and returns the
// first write failure.
func (j *Journal) Close() error {
	var closeErr error
	if j.ownsDB {
		closeErr = j.db.Close()
	}
	return errors.Join(j.Err(), closeErr)
}

func (j *Journal) exec(op, query string, args ...any) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if _, err := j.db.ExecContext(ctx, query, args...); err != nil {
		j.fail(fmt.Errorf("%s: %w", op, err))
	}
}

func (j *Journal) fail(err error) {
	j.logger.Error("journal write failed", "error", err)
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.err == nil {
		j.err = err
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
