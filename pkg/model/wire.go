package model

import (
	"encoding/json"
	"strings"
)

// Request and response bodies of the coordinator HTTP API. Field names are
// part of the wire contract with deployed workers.

type RegisterRequest struct {
	NodeID    string    `json:"node_id"`
	Resources Resources `json:"resources"`
}

type RegisterResponse struct {
	Status string `json:"status"`
	NodeID string `json:"node_id"`
}

// JobAssignment answers GET /get_job/{node_id}. JobID is null when the node
// has nothing to do.
type JobAssignment struct {
	JobID       *string `json:"job_id"`
	Code        string  `json:"code,omitempty"`
	Type        string  `json:"type,omitempty"`
	Description string  `json:"description,omitempty"`
}

func (a JobAssignment) Empty() bool {
	return a.JobID == nil || *a.JobID == ""
}

// Report statuses for SubmitResultRequest.Status.
const (
	ReportOK    = "ok"
	ReportError = "error"
)

// LegacyErrorPrefix marks a failure inside Result for workers that predate
// the Status field.
const LegacyErrorPrefix = "ERROR: "

type SubmitResultRequest struct {
	JobID         string          `json:"job_id"`
	NodeID        string          `json:"node_id"`
	Result        json.RawMessage `json:"result,omitempty"`
	ExecutionTime float64         `json:"execution_time"`
	Status        string          `json:"status,omitempty"`
	Error         string          `json:"error,omitempty"`
}

// Failed decodes the tagged outcome. An explicit Status wins; without one a
// string result carrying LegacyErrorPrefix is a failure.
func (r SubmitResultRequest) Failed() (bool, string) {
	switch r.Status {
	case ReportError:
		msg := r.Error
		if msg == "" {
			msg = r.resultString()
		}
		return true, strings.TrimPrefix(msg, LegacyErrorPrefix)
	case ReportOK:
		return false, ""
	}
	if s := r.resultString(); strings.HasPrefix(s, LegacyErrorPrefix) {
		return true, strings.TrimPrefix(s, LegacyErrorPrefix)
	}
	return false, ""
}

func (r SubmitResultRequest) resultString() string {
	var s string
	if err := json.Unmarshal(r.Result, &s); err != nil {
		return ""
	}
	return s
}

type SubmitResultResponse struct {
	Status string   `json:"status"`
	JobID  string   `json:"job_id"`
	State  JobState `json:"state"`
}

type SubmitJobRequest struct {
	Type string `json:"type"`
}

type SubmitJobResponse struct {
	JobID       string `json:"job_id"`
	AssignedTo  string `json:"assigned_to"`
	Status      string `json:"status"`
	Description string `json:"description"`
}

type ClearCompletedResponse struct {
	Status         string `json:"status"`
	JobsRemaining  int    `json:"jobs_remaining"`
	JobsRemoved    int    `json:"jobs_removed"`
	ResultsDropped int    `json:"results_dropped"`
}

type CleanupNodesResponse struct {
	Status          string   `json:"status"`
	InactiveRemoved int      `json:"inactive_removed"`
	Removed         []string `json:"removed"`
}

// ErrorResponse is the envelope every non-2xx response carries.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

type ErrorBody struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	RequestID string         `json:"request_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}
