package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrRunNotFound is returned when no run matches an ID or ID prefix.
var ErrRunNotFound = errors.New("run not found")

// Run is one row of the runs table.
type Run struct {
	ID           string     `json:"id"`
	Status       string     `json:"status"`
	Jobs         int        `json:"jobs"`
	Workers      int        `json:"workers"`
	Hosts        []string   `json:"hosts"`
	Jobfile      string     `json:"jobfile,omitempty"`
	Succeeded    int        `json:"succeeded"`
	Failed       int        `json:"failed"`
	LaunchFailed int        `json:"launch_failed"`
	TimedOut     int        `json:"timed_out"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// Entry is one row of the results table.
type Entry struct {
	Index       int       `json:"index"`
	Fingerprint string    `json:"fingerprint"`
	Command     []string  `json:"command"`
	Host        string    `json:"host"`
	Kind        string    `json:"kind"`
	ExitCode    int       `json:"exit_code"`
	Error       string    `json:"error,omitempty"`
	Log         []string  `json:"log,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	WallTimeMS  int64     `json:"wall_time_ms"`
}

const runColumns = `id, status, jobs, workers, hosts, jobfile, succeeded, failed, launch_failed, timed_out, started_at, finished_at`

// Runs lists the most recent runs first. A non-positive limit means all.
func (j *Journal) Runs(ctx context.Context, limit int) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := j.db.QueryContext(ctx, query+";", args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Run looks up a run by full ID or by a unique ID prefix.
func (j *Journal) Run(ctx context.Context, id string) (Run, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Run{}, fmt.Errorf("run id is required")
	}

	rows, err := j.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE id = ? OR id LIKE ? ORDER BY started_at DESC LIMIT 2;`,
		id, id+"%")
	if err != nil {
		return Run{}, fmt.Errorf("query run %q: %w", id, err)
	}
	defer rows.Close()

	var matches []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return Run{}, err
		}
		if run.ID == id {
			return run, nil
		}
		matches = append(matches, run)
	}
	if err := rows.Err(); err != nil {
		return Run{}, err
	}

	switch len(matches) {
	case 0:
		return Run{}, fmt.Errorf("%w: %q", ErrRunNotFound, id)
	case 1:
		return matches[0], nil
	default:
		return Run{}, fmt.Errorf("run id prefix %q is ambiguous", id)
	}
}

// Results returns a run's results in index order.
func (j *Journal) Results(ctx context.Context, runID string) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx, `
SELECT job_index, fingerprint, command, host, kind, exit_code, error, log, started_at, finished_at, wall_time_ms
FROM results
WHERE run_id = ?
ORDER BY job_index;
`, runID)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e                 Entry
			command           string
			errText, logJSON  sql.NullString
			started, finished string
		)
		if err := rows.Scan(&e.Index, &e.Fingerprint, &command, &e.Host, &e.Kind, &e.ExitCode,
			&errText, &logJSON, &started, &finished, &e.WallTimeMS); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		if err := json.Unmarshal([]byte(command), &e.Command); err != nil {
			return nil, fmt.Errorf("decode command of job %d: %w", e.Index, err)
		}
		if logJSON.Valid {
			if err := json.Unmarshal([]byte(logJSON.String), &e.Log); err != nil {
				return nil, fmt.Errorf("decode log of job %d: %w", e.Index, err)
			}
		}
		e.Error = errText.String
		e.StartedAt = parseTime(started)
		e.FinishedAt = parseTime(finished)
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanRun(rows *sql.Rows) (Run, error) {
	var (
		r        Run
		hosts    string
		jobfile  sql.NullString
		started  string
		finished sql.NullString
	)
	if err := rows.Scan(&r.ID, &r.Status, &r.Jobs, &r.Workers, &hosts, &jobfile,
		&r.Succeeded, &r.Failed, &r.LaunchFailed, &r.TimedOut, &started, &finished); err != nil {
		return Run{}, fmt.Errorf("scan run: %w", err)
	}
	if err := json.Unmarshal([]byte(hosts), &r.Hosts); err != nil {
		return Run{}, fmt.Errorf("decode hosts of run %s: %w", r.ID, err)
	}
	r.Jobfile = jobfile.String
	r.StartedAt = parseTime(started)
	if finished.Valid {
		t := parseTime(finished.String)
		r.FinishedAt = &t
	}
	return r, nil
}
