package model

import (
	"encoding/json"
	"time"
)

type JobState string

// There is no queued state: a job is created already bound to a node.
const (
	JobAssigned  JobState = "assigned"  // bound to a node, not yet delivered
	JobExecuting JobState = "executing" // delivered to its node
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
)

// Terminal reports whether no further transition can leave s.
func (s JobState) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

type Job struct {
	ID          string   `json:"job_id"`
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Body        string   `json:"code"` // immutable once created
	State       JobState `json:"status"`
	AssignedTo  string   `json:"assigned_to"`

	SubmittedAt   time.Time  `json:"submitted_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	ExecutionTime float64    `json:"execution_time,omitempty"`

	// Set exactly once, at the completed/failed transition.
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Clone returns a copy that shares nothing mutable with j.
func (j *Job) Clone() *Job {
	c := *j
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	if j.Result != nil {
		c.Result = append(json.RawMessage(nil), j.Result...)
	}
	return &c
}

// Result is the terminal outcome of a job, kept in its own collection so
// pruned jobs keep their history.
type Result struct {
	JobID         string          `json:"job_id"`
	Type          string          `json:"type"`
	Status        JobState        `json:"status"`
	NodeID        string          `json:"node_id"`
	Result        json.RawMessage `json:"result,omitempty"`
	Error         string          `json:"error,omitempty"`
	ExecutionTime float64         `json:"execution_time"`
	CompletedAt   time.Time       `json:"completed_at"`
}

// NewResult projects a terminal job.
func NewResult(j *Job) Result {
	r := Result{
		JobID:         j.ID,
		Type:          j.Type,
		Status:        j.State,
		NodeID:        j.AssignedTo,
		Error:         j.Error,
		ExecutionTime: j.ExecutionTime,
	}
	if j.Result != nil {
		r.Result = append(json.RawMessage(nil), j.Result...)
	}
	if j.CompletedAt != nil {
		r.CompletedAt = *j.CompletedAt
	}
	return r
}
