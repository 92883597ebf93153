package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"androcompute/pkg/model"
)

var (
	ErrJobNotFound = errors.New("job not found")
	// ErrInvalidTransition is a caller logic error, not a retryable condition.
	ErrInvalidTransition = errors.New("invalid job state transition")
)

// NodeRegistry tracks known workers. It has no background scheduler of its
// own: eviction runs only when EvictStale is called.
type NodeRegistry interface {
	// Register inserts or overwrites the node and stamps LastSeen.
	Register(id string, res model.Resources) model.Node

	// Touch refreshes LastSeen and reports whether the node exists.
	Touch(id string) bool

	IsActive(id string, window time.Duration) bool

	// EvictStale removes nodes unseen for longer than window.
	EvictStale(window time.Duration) []string

	Get(id string) (model.Node, bool)
	List() []model.Node

	// Locked runs fn with the registry held so a decision over the node set
	// cannot race with registration or eviction.
	Locked(fn func(nodes []model.Node) error) error

	Now() time.Time
}

// JobStore holds job records and the result history.
type JobStore interface {
	Create(jobType, description, body, assignedTo string) (*model.Job, error)

	// NextForNode dequeues the oldest assigned job of the node and flips it
	// to executing in the same step.
	NextForNode(nodeID string) (*model.Job, bool)

	Complete(jobID string, value json.RawMessage, execTime float64) (model.Result, error)
	Fail(jobID string, errMsg string, execTime float64) (model.Result, error)

	Get(jobID string) (*model.Job, error)
	List() []model.Job
	Results() []model.Result
	Len() int

	// Prune drops terminal jobs and trims result history to maxResults.
	Prune(maxResults int) PruneStats

	// ExpireOverdue fails executing jobs started more than deadline ago.
	ExpireOverdue(deadline time.Duration) []model.Result
}

type PruneStats struct {
	Removed        []string // ids of the dropped jobs, creation order
	JobsRemoved    int
	JobsRemaining  int
	ResultsDropped int
}

// JobEventType classifies a mirror notification.
type JobEventType int

const (
	JobCreate JobEventType = iota
	JobUpdate
	JobDelete
)

func (t JobEventType) String() string {
	switch t {
	case JobCreate:
		return "create"
	case JobUpdate:
		return "update"
	case JobDelete:
		return "delete"
	}
	return "unknown"
}

// JobEvent is what watchers of the mirror receive.
type JobEvent struct {
	Type  JobEventType
	JobID string
	Job   *model.Job // nil for deletes
}

// Mirror publishes coordinator state for outside observers. It is write-only
// from the coordinator's point of view.
type Mirror interface {
	PublishJob(ctx context.Context, job model.Job) error
	DeleteJob(ctx context.Context, jobID string) error
	PublishNode(ctx context.Context, node model.Node) error
	DeleteNode(ctx context.Context, nodeID string) error
	Close() error
}
