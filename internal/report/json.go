package report

import (
	"encoding/json"
	"io"
	"time"

	"github.com/mattjoyce/dojobs/internal/dispatch"
)

// Record is the JSON form of one result.
type Record struct {
	Index      int       `json:"index"`
	Command    []string  `json:"command"`
	Host       string    `json:"host"`
	Kind       string    `json:"kind"`
	ExitCode   int       `json:"exit_code"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	WallTimeMS int64     `json:"wall_time_ms"`
	Error      string    `json:"error,omitempty"`
	Log        []string  `json:"log,omitempty"`
}

// NewRecord converts r. Output lines are dropped when suppressConsole is set.
func NewRecord(r dispatch.Result, suppressConsole bool) Record {
	rec := Record{
		Index:      r.Job.Index,
		Command:    r.Job.Command,
		Host:       r.Host,
		Kind:       r.Outcome.Kind.String(),
		ExitCode:   r.Outcome.ExitCode,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		WallTimeMS: r.WallTime().Milliseconds(),
	}
	if r.Outcome.Err != nil {
		rec.Error = r.Outcome.Err.Error()
	}
	if !suppressConsole {
		rec.Log = r.Outcome.Lines
	}
	return rec
}

// SummaryRecord is the JSON form of a run summary.
type SummaryRecord struct {
	Type         string    `json:"type"`
	RunID        string    `json:"run_id"`
	Jobs         int       `json:"jobs"`
	Reported     int       `json:"reported"`
	Succeeded    int       `json:"succeeded"`
	Failed       int       `json:"failed"`
	LaunchFailed int       `json:"launch_failed"`
	TimedOut     int       `json:"timed_out"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	OK           bool      `json:"ok"`
}

// JSON writes one object per line: a Record per result, then a
// SummaryRecord with type "summary".
type JSON struct {
	enc             *json.Encoder
	suppressConsole bool
}

func NewJSON(w io.Writer, suppressConsole bool) *JSON {
	return &JSON{enc: json.NewEncoder(w), suppressConsole: suppressConsole}
}

func (j *JSON) Report(r dispatch.Result) {
	_ = j.enc.Encode(NewRecord(r, j.suppressConsole))
}

func (j *JSON) Summarize(s dispatch.Summary) {
	_ = j.enc.Encode(SummaryRecord{
		Type:         "summary",
		RunID:        s.RunID,
		Jobs:         s.Jobs,
		Reported:     s.Reported,
		Succeeded:    s.Succeeded,
		Failed:       s.Failed,
		LaunchFailed: s.LaunchFailed,
		TimedOut:     s.TimedOut,
		StartedAt:    s.StartedAt,
		FinishedAt:   s.FinishedAt,
		OK:           s.OK(),
	})
}
