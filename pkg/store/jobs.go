package store

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/golang-collections/collections/queue"

	"androcompute/pkg/model"
)

// MemoryJobStore keeps jobs in creation order with a FIFO of undelivered job
// ids per node, and the result history in completion order.
type MemoryJobStore struct {
	mu      sync.Mutex
	seq     uint64
	jobs    map[string]*model.Job
	order   []string
	pending map[string]*queue.Queue
	results []model.Result
	now     func() time.Time
}

func NewMemoryJobStore(opts ...Option) *MemoryJobStore {
	o := buildOptions(opts)
	return &MemoryJobStore{
		jobs:    make(map[string]*model.Job),
		pending: make(map[string]*queue.Queue),
		now:     o.now,
	}
}

func (s *MemoryJobStore) Create(jobType, description, body, assignedTo string) (*model.Job, error) {
	if assignedTo == "" {
		return nil, fmt.Errorf("create %s job: assignee is required", jobType)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// ids are never reused, even after prune
	s.seq++
	job := &model.Job{
		ID:          fmt.Sprintf("job_%d", s.seq),
		Type:        jobType,
		Description: description,
		Body:        body,
		State:       model.JobAssigned,
		AssignedTo:  assignedTo,
		SubmittedAt: s.now(),
	}
	s.jobs[job.ID] = job
	s.order = append(s.order, job.ID)

	q, ok := s.pending[assignedTo]
	if !ok {
		q = queue.New()
		s.pending[assignedTo] = q
	}
	q.Enqueue(job.ID)

	return job.Clone(), nil
}

func (s *MemoryJobStore) NextForNode(nodeID string) (*model.Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.pending[nodeID]
	if !ok {
		return nil, false
	}
	defer func() {
		if q.Len() == 0 {
			delete(s.pending, nodeID)
		}
	}()

	for q.Len() > 0 {
		id := q.Dequeue().(string)
		job, ok := s.jobs[id]
		if !ok || job.State != model.JobAssigned {
			continue
		}
		now := s.now()
		job.State = model.JobExecuting
		job.StartedAt = &now
		return job.Clone(), true
	}
	return nil, false
}

func (s *MemoryJobStore) Complete(jobID string, value json.RawMessage, execTime float64) (model.Result, error) {
	return s.finish(jobID, model.JobCompleted, value, "", execTime)
}

func (s *MemoryJobStore) Fail(jobID string, errMsg string, execTime float64) (model.Result, error) {
	return s.finish(jobID, model.JobFailed, nil, errMsg, execTime)
}

func (s *MemoryJobStore) finish(jobID string, state model.JobState, value json.RawMessage, errMsg string, execTime float64) (model.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finishLocked(jobID, state, value, errMsg, execTime)
}

// finishLocked must be called with mu held.
func (s *MemoryJobStore) finishLocked(jobID string, state model.JobState, value json.RawMessage, errMsg string, execTime float64) (model.Result, error) {
	job, ok := s.jobs[jobID]
	if !ok {
		return model.Result{}, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if job.State != model.JobExecuting {
		return model.Result{}, fmt.Errorf("%w: %s is %s, want %s", ErrInvalidTransition, jobID, job.State, model.JobExecuting)
	}

	now := s.now()
	job.State = state
	job.CompletedAt = &now
	job.ExecutionTime = execTime
	if value != nil {
		job.Result = append(json.RawMessage(nil), value...)
	}
	job.Error = errMsg

	res := model.NewResult(job)
	s.results = append(s.results, res)
	return res, nil
}

func (s *MemoryJobStore) Get(jobID string) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return job.Clone(), nil
}

func (s *MemoryJobStore) List() []model.Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.Job, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.jobs[id].Clone())
	}
	return out
}

func (s *MemoryJobStore) Results() []model.Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.Result, len(s.results))
	copy(out, s.results)
	return out
}

func (s *MemoryJobStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

func (s *MemoryJobStore) Prune(maxResults int) PruneStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stats PruneStats
	kept := s.order[:0]
	for _, id := range s.order {
		if s.jobs[id].State.Terminal() {
			delete(s.jobs, id)
			stats.Removed = append(stats.Removed, id)
			stats.JobsRemoved++
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
	stats.JobsRemaining = len(s.order)

	if maxResults < 0 {
		maxResults = 0
	}
	if drop := len(s.results) - maxResults; drop > 0 {
		s.results = append([]model.Result(nil), s.results[drop:]...)
		stats.ResultsDropped = drop
	}
	return stats
}

func (s *MemoryJobStore) ExpireOverdue(deadline time.Duration) []model.Result {
	if deadline <= 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var expired []model.Result
	for _, id := range s.order {
		job := s.jobs[id]
		if job.State != model.JobExecuting || job.StartedAt == nil {
			continue
		}
		elapsed := now.Sub(*job.StartedAt)
		if elapsed <= deadline {
			continue
		}
		msg := fmt.Sprintf("execution deadline exceeded after %s", elapsed.Round(time.Second))
		res, err := s.finishLocked(id, model.JobFailed, nil, msg, elapsed.Seconds())
		if err == nil {
			expired = append(expired, res)
		}
	}
	return expired
}
