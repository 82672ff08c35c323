package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/mattjoyce/dojobs/internal/dispatch"
)

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	p := s.snapshot()
	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		RunID:         p.RunID,
		Active:        p.Active,
	})
}

// handleProgress handles GET /progress
func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	p := s.snapshot()
	respondJSON(w, http.StatusOK, ProgressResponse{
		Progress:  p,
		Remaining: p.Jobs - p.Reported,
	})
}

func (s *Server) snapshot() dispatch.Progress {
	if s.progress == nil {
		return dispatch.Progress{Workers: []dispatch.WorkerStatus{}}
	}
	p := s.progress.Progress()
	if p.Workers == nil {
		p.Workers = []dispatch.WorkerStatus{}
	}
	return p
}

func respondJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
