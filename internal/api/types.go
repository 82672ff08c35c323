package api

import "github.com/mattjoyce/dojobs/internal/dispatch"

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	RunID         string `json:"run_id,omitempty"`
	Active        bool   `json:"active"`
}

// ProgressResponse is returned by GET /progress.
type ProgressResponse struct {
	dispatch.Progress
	Remaining int `json:"remaining"`
}
