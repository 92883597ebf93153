package scheduler

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"androcompute/internal/master/templates"
	"androcompute/pkg/model"
	"androcompute/pkg/store"
)

var (
	ErrNoNodes       = errors.New("no nodes available")
	ErrNoActiveNodes = errors.New("no active nodes available")
)

// DefaultActiveWindow is how recently a node must have been seen to receive
// new work.
const DefaultActiveWindow = 30 * time.Second

// Scheduler binds new jobs to nodes. There is no backlog: a job either gets
// a node at submission time or is rejected.
type Scheduler struct {
	registry     store.NodeRegistry
	jobs         store.JobStore
	activeWindow time.Duration
	logger       *zap.Logger
}

func NewScheduler(registry store.NodeRegistry, jobs store.JobStore, activeWindow time.Duration, logger *zap.Logger) *Scheduler {
	if activeWindow <= 0 {
		activeWindow = DefaultActiveWindow
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		registry:     registry,
		jobs:         jobs,
		activeWindow: activeWindow,
		logger:       logger.Named("scheduler"),
	}
}

func (s *Scheduler) ActiveWindow() time.Duration {
	return s.activeWindow
}

// ChooseNode applies filter then score over a node snapshot.
func (s *Scheduler) ChooseNode(nodes []model.Node) (string, bool) {
	candidates := s.filterNodes(nodes, s.registry.Now())
	best := s.scoreNodes(candidates)
	if best == nil {
		return "", false
	}
	return best.ID, true
}

// Submit picks a node for tpl and creates the job while the registry is
// held, so the chosen node cannot be evicted between choice and bind.
func (s *Scheduler) Submit(tpl templates.Template) (*model.Job, error) {
	var job *model.Job

	err := s.registry.Locked(func(nodes []model.Node) error {
		if len(nodes) == 0 {
			return ErrNoNodes
		}
		nodeID, ok := s.ChooseNode(nodes)
		if !ok {
			return ErrNoActiveNodes
		}

		var err error
		job, err = s.bind(tpl, nodeID)
		return err
	})
	if err != nil {
		s.logger.Info("Job rejected", zap.String("type", tpl.Type), zap.Error(err))
		return nil, err
	}

	s.logger.Info("Job assigned",
		zap.String("job_id", job.ID),
		zap.String("type", job.Type),
		zap.String("node_id", job.AssignedTo))
	return job, nil
}

// bind records the decision in the job store.
func (s *Scheduler) bind(tpl templates.Template, nodeID string) (*model.Job, error) {
	job, err := s.jobs.Create(tpl.Type, tpl.Description, tpl.Body, nodeID)
	if err != nil {
		return nil, fmt.Errorf("bind %s to %s: %w", tpl.Type, nodeID, err)
	}
	return job, nil
}
