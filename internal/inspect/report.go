package inspect

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mattjoyce/dojobs/internal/journal"
)

// Source is the read side of the run journal.
type Source interface {
	Runs(ctx context.Context, limit int) ([]journal.Run, error)
	Run(ctx context.Context, id string) (journal.Run, error)
	Results(ctx context.Context, runID string) ([]journal.Entry, error)
}

// Report is the structured JSON representation of one journaled run.
type Report struct {
	Run     journal.Run     `json:"run"`
	Results []journal.Entry `json:"results"`
}

// BuildRunList renders a terminal-friendly table of recent runs.
func BuildRunList(ctx context.Context, src Source, limit int) (string, error) {
	runs, err := src.Runs(ctx, limit)
	if err != nil {
		return "", err
	}
	if len(runs) == 0 {
		return "No runs recorded.\n", nil
	}

	var out strings.Builder
	fmt.Fprintf(&out, "%-36s  %-10s  %5s  %5s  %5s  %s\n", "RUN", "STATUS", "JOBS", "OK", "FAIL", "STARTED")
	for _, r := range runs {
		fmt.Fprintf(&out, "%-36s  %-10s  %5d  %5d  %5d  %s\n",
			r.ID, r.Status, r.Jobs, r.Succeeded, r.Failed+r.LaunchFailed+r.TimedOut,
			r.StartedAt.Local().Format(time.DateTime))
	}
	return out.String(), nil
}

// BuildReport renders a terminal-friendly report of one run and its results.
func BuildReport(ctx context.Context, src Source, runID string) (string, error) {
	report, err := gatherReportData(ctx, src, runID)
	if err != nil {
		return "", err
	}
	run := report.Run

	var out strings.Builder
	fmt.Fprintf(&out, "Run Report\n")
	fmt.Fprintf(&out, "Run ID      : %s\n", run.ID)
	fmt.Fprintf(&out, "Status      : %s\n", run.Status)
	fmt.Fprintf(&out, "Jobfile     : %s\n", renderUnset(run.Jobfile, "<unknown>"))
	fmt.Fprintf(&out, "Hosts       : %s\n", renderUnset(strings.Join(run.Hosts, ", "), "<none>"))
	fmt.Fprintf(&out, "Workers     : %d\n", run.Workers)
	fmt.Fprintf(&out, "Jobs        : %d (%d ok, %d failed, %d launch failed, %d timed out)\n",
		run.Jobs, run.Succeeded, run.Failed, run.LaunchFailed, run.TimedOut)
	fmt.Fprintf(&out, "Started     : %s\n", run.StartedAt.Local().Format(time.DateTime))
	if run.FinishedAt != nil {
		fmt.Fprintf(&out, "Finished    : %s (%s)\n",
			run.FinishedAt.Local().Format(time.DateTime),
			run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond))
	} else {
		fmt.Fprintf(&out, "Finished    : <never>\n")
	}
	fmt.Fprintf(&out, "\n")

	for _, e := range report.Results {
		fmt.Fprintf(&out, "[%d] %s\n", e.Index, strings.Join(e.Command, " "))
		fmt.Fprintf(&out, "    host        : %s\n", e.Host)
		fmt.Fprintf(&out, "    outcome     : %s (exit %d)\n", e.Kind, e.ExitCode)
		fmt.Fprintf(&out, "    wall time   : %s\n", (time.Duration(e.WallTimeMS) * time.Millisecond).String())
		fmt.Fprintf(&out, "    fingerprint : %s\n", e.Fingerprint)
		if e.Error != "" {
			fmt.Fprintf(&out, "    error       : %s\n", e.Error)
		}
		if len(e.Log) == 0 {
			fmt.Fprintf(&out, "    log         : <none>\n")
		} else {
			fmt.Fprintf(&out, "    log         :\n")
			for _, line := range e.Log {
				fmt.Fprintf(&out, "      %s\n", line)
			}
		}
		fmt.Fprintf(&out, "\n")
	}
	if missing := run.Jobs - len(report.Results); missing > 0 {
		fmt.Fprintf(&out, "%d job(s) never reported\n", missing)
	}

	return strings.TrimRight(out.String(), "\n") + "\n", nil
}

// BuildJSONReport returns the machine-readable JSON run report.
func BuildJSONReport(ctx context.Context, src Source, runID string) (string, error) {
	report, err := gatherReportData(ctx, src, runID)
	if err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal json report: %w", err)
	}
	return string(data), nil
}

func gatherReportData(ctx context.Context, src Source, runID string) (*Report, error) {
	if strings.TrimSpace(runID) == "" {
		return nil, fmt.Errorf("run id is required")
	}

	run, err := src.Run(ctx, runID)
	if err != nil {
		return nil, err
	}
	results, err := src.Results(ctx, run.ID)
	if err != nil {
		return nil, fmt.Errorf("load results of run %s: %w", run.ID, err)
	}
	if results == nil {
		results = []journal.Entry{}
	}
	return &Report{Run: run, Results: results}, nil
}

func renderUnset(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
