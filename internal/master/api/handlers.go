package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"androcompute/internal/master/scheduler"
	"androcompute/pkg/model"
	"androcompute/pkg/store"
)

const maxBodyBytes = 1 << 20

// decodeJSON reads a JSON body into v. An empty body is allowed when
// allowEmpty is set and leaves v untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any, allowEmpty bool) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	err := json.NewDecoder(r.Body).Decode(v)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, io.EOF) && allowEmpty:
		return nil
	case errors.Is(err, io.EOF):
		return fmt.Errorf("%w: request body is empty", errBadRequest)
	}
	return fmt.Errorf("%w: invalid JSON body: %v", errBadRequest, err)
}

func (s *Server) handleHome(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = io.WriteString(w, "AndroCompute Coordinator Running!<br><a href='/dashboard'>Dashboard</a>")
}

type healthResponse struct {
	Status        string  `json:"status"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	Nodes         int     `json:"nodes"`
	Jobs          int     `json:"jobs"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:        "healthy",
		UptimeSeconds: time.Since(s.started).Seconds(),
		Nodes:         len(s.coord.Nodes()),
		Jobs:          len(s.coord.Jobs()),
	})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req model.RegisterRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		s.respondError(w, r, err, nil)
		return
	}

	node, err := s.coord.Register(r.Context(), req.NodeID, req.Resources)
	if err != nil {
		s.respondError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, model.RegisterResponse{Status: "registered", NodeID: node.ID})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	nodeID := chi.URLParam(r, "node_id")

	job, ok := s.coord.Poll(r.Context(), nodeID)
	if !ok {
		writeJSON(w, http.StatusOK, model.JobAssignment{})
		return
	}
	writeJSON(w, http.StatusOK, model.JobAssignment{
		JobID:       &job.ID,
		Code:        job.Body,
		Type:        job.Type,
		Description: job.Description,
	})
}

func (s *Server) handleSubmitResult(w http.ResponseWriter, r *http.Request) {
	var req model.SubmitResultRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		s.respondError(w, r, err, nil)
		return
	}

	res, err := s.coord.Report(r.Context(), req)
	if err != nil {
		details := map[string]any{"job_id": req.JobID}
		if req.NodeID != "" {
			details["node_id"] = req.NodeID
		}
		s.respondError(w, r, err, details)
		return
	}
	writeJSON(w, http.StatusOK, model.SubmitResultResponse{
		Status: "result_accepted",
		JobID:  res.JobID,
		State:  res.Status,
	})
}

// unnamedJobType labels submissions that give no type. The catalog has no
// template for it, so the job runs the fallback template.
const unnamedJobType = "compute"

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var req model.SubmitJobRequest
	if err := decodeJSON(w, r, &req, true); err != nil {
		s.respondError(w, r, err, nil)
		return
	}
	if req.Type == "" {
		req.Type = unnamedJobType
	}

	job, err := s.coord.Submit(r.Context(), req.Type)
	if err != nil {
		var details map[string]any
		if errors.Is(err, scheduler.ErrNoNodes) || errors.Is(err, scheduler.ErrNoActiveNodes) {
			details = map[string]any{"type": req.Type, "nodes": len(s.coord.Nodes())}
		}
		s.respondError(w, r, err, details)
		return
	}
	writeJSON(w, http.StatusOK, model.SubmitJobResponse{
		JobID:       job.ID,
		AssignedTo:  job.AssignedTo,
		Status:      "submitted",
		Description: job.Description,
	})
}

func (s *Server) handleNodes(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.coord.Nodes())
}

func (s *Server) handleJobs(w http.ResponseWriter, _ *http.Request) {
	jobs := s.coord.Jobs()
	if jobs == nil {
		jobs = []model.Job{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleResults(w http.ResponseWriter, _ *http.Request) {
	results := s.coord.Results()
	if results == nil {
		results = []model.Result{}
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")

	job, err := s.coord.Job(jobID)
	if err != nil {
		var details map[string]any
		if errors.Is(err, store.ErrJobNotFound) {
			details = map[string]any{"job_id": jobID}
		}
		s.respondError(w, r, err, details)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleClearCompleted(w http.ResponseWriter, r *http.Request) {
	stats := s.coord.ClearCompleted(r.Context())
	writeJSON(w, http.StatusOK, model.ClearCompletedResponse{
		Status:         "cleared",
		JobsRemaining:  stats.JobsRemaining,
		JobsRemoved:    stats.JobsRemoved,
		ResultsDropped: stats.ResultsDropped,
	})
}

func (s *Server) handleCleanupNodes(w http.ResponseWriter, r *http.Request) {
	removed := s.coord.CleanupNodes(r.Context())
	if removed == nil {
		removed = []string{}
	}
	writeJSON(w, http.StatusOK, model.CleanupNodesResponse{
		Status:          "cleaned",
		InactiveRemoved: len(removed),
		Removed:         removed,
	})
}
