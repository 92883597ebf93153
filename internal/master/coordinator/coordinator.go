package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"androcompute/internal/master/scheduler"
	"androcompute/internal/master/templates"
	"androcompute/pkg/model"
	"androcompute/pkg/store"
)

var (
	ErrJobNotOwned   = errors.New("job is assigned to another node")
	ErrInvalidNodeID = errors.New("node_id is required")
	ErrInvalidJobID  = errors.New("job_id is required")
)

const (
	DefaultEvictionWindow = 120 * time.Second
	DefaultMaxResults     = 10
)

type Config struct {
	ActiveWindow      time.Duration
	EvictionWindow    time.Duration
	MaxResults        int
	ExecutionDeadline time.Duration // 0 disables expiry
}

// Coordinator runs every API operation as one transaction against the
// registry and job store, then publishes the outcome to the mirror.
type Coordinator struct {
	registry  store.NodeRegistry
	jobs      store.JobStore
	scheduler *scheduler.Scheduler
	catalog   *templates.Catalog
	mirror    store.Mirror
	cfg       Config
	logger    *zap.Logger
}

func New(registry store.NodeRegistry, jobs store.JobStore, catalog *templates.Catalog, mirror store.Mirror, cfg Config, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if mirror == nil {
		mirror = store.NopMirror{}
	}
	if catalog == nil {
		catalog = templates.New()
	}
	if cfg.EvictionWindow <= 0 {
		cfg.EvictionWindow = DefaultEvictionWindow
	}
	if cfg.MaxResults < 0 {
		cfg.MaxResults = DefaultMaxResults
	}

	sched := scheduler.NewScheduler(registry, jobs, cfg.ActiveWindow, logger)
	cfg.ActiveWindow = sched.ActiveWindow()

	return &Coordinator{
		registry:  registry,
		jobs:      jobs,
		scheduler: sched,
		catalog:   catalog,
		mirror:    mirror,
		cfg:       cfg,
		logger:    logger.Named("coordinator"),
	}
}

func (c *Coordinator) Config() Config {
	return c.cfg
}

func (c *Coordinator) Catalog() *templates.Catalog {
	return c.catalog
}

// Register inserts or refreshes a node.
func (c *Coordinator) Register(ctx context.Context, nodeID string, res model.Resources) (model.Node, error) {
	nodeID = strings.TrimSpace(nodeID)
	if nodeID == "" {
		return model.Node{}, ErrInvalidNodeID
	}

	node := c.registry.Register(nodeID, res)
	c.logger.Info("Node registered",
		zap.String("node_id", node.ID),
		zap.Any("resources", node.Resources))
	c.publishNode(ctx, node)
	return node, nil
}

// Poll records the node's heartbeat and hands out its oldest assigned job.
// A node that was evicted still drains the jobs bound to it, but polling
// does not re-register it. ok is false when there is no work.
func (c *Coordinator) Poll(ctx context.Context, nodeID string) (*model.Job, bool) {
	if !c.registry.Touch(nodeID) {
		c.logger.Debug("Poll from unregistered node", zap.String("node_id", nodeID))
	}

	job, ok := c.jobs.NextForNode(nodeID)
	if !ok {
		return nil, false
	}

	c.logger.Info("Job delivered",
		zap.String("job_id", job.ID),
		zap.String("type", job.Type),
		zap.String("node_id", nodeID))
	c.publishJob(ctx, *job)
	return job, true
}

// Report applies a worker's outcome. The reporting node must be the assignee
// and the job must be executing.
func (c *Coordinator) Report(ctx context.Context, req model.SubmitResultRequest) (model.Result, error) {
	if req.JobID == "" {
		return model.Result{}, ErrInvalidJobID
	}

	job, err := c.jobs.Get(req.JobID)
	if err != nil {
		return model.Result{}, err
	}
	if req.NodeID != "" && req.NodeID != job.AssignedTo {
		return model.Result{}, fmt.Errorf("%w: %s reported %s owned by %s", ErrJobNotOwned, req.NodeID, req.JobID, job.AssignedTo)
	}

	var res model.Result
	if failed, msg := req.Failed(); failed {
		res, err = c.jobs.Fail(req.JobID, msg, req.ExecutionTime)
	} else {
		res, err = c.jobs.Complete(req.JobID, req.Result, req.ExecutionTime)
	}
	if err != nil {
		return model.Result{}, err
	}

	c.logger.Info("Job finished",
		zap.String("job_id", res.JobID),
		zap.String("node_id", res.NodeID),
		zap.String("state", string(res.Status)),
		zap.Float64("execution_time", res.ExecutionTime))
	c.publishJobByID(ctx, res.JobID)
	return res, nil
}

// Submit resolves jobType against the catalog and binds it to a node.
func (c *Coordinator) Submit(ctx context.Context, jobType string) (*model.Job, error) {
	tpl, known := c.catalog.Resolve(jobType)
	if !known {
		c.logger.Warn("Unknown job type, using default template",
			zap.String("type", jobType),
			zap.String("template", templates.DefaultType))
	}

	job, err := c.scheduler.Submit(tpl)
	if err != nil {
		return nil, err
	}
	c.publishJob(ctx, *job)
	return job, nil
}

// Nodes lists every registered node with its derived status.
func (c *Coordinator) Nodes() []model.NodeView {
	now := c.registry.Now()
	nodes := c.registry.List()
	views := make([]model.NodeView, 0, len(nodes))
	for _, n := range nodes {
		views = append(views, model.NewNodeView(n, now, c.cfg.ActiveWindow))
	}
	return views
}

func (c *Coordinator) Results() []model.Result {
	return c.jobs.Results()
}

func (c *Coordinator) Jobs() []model.Job {
	return c.jobs.List()
}

func (c *Coordinator) Job(jobID string) (*model.Job, error) {
	return c.jobs.Get(jobID)
}

// ClearCompleted drops terminal jobs and trims the result history.
func (c *Coordinator) ClearCompleted(ctx context.Context) store.PruneStats {
	stats := c.jobs.Prune(c.cfg.MaxResults)
	for _, id := range stats.Removed {
		if err := c.mirror.DeleteJob(ctx, id); err != nil {
			c.logger.Warn("Mirror delete failed", zap.String("job_id", id), zap.Error(err))
		}
	}
	c.logger.Info("Cleared completed jobs",
		zap.Int("removed", stats.JobsRemoved),
		zap.Int("remaining", stats.JobsRemaining),
		zap.Int("results_dropped", stats.ResultsDropped))
	return stats
}

// CleanupNodes evicts nodes unseen for longer than the eviction window.
// Jobs bound to evicted nodes are left as they are.
func (c *Coordinator) CleanupNodes(ctx context.Context) []string {
	removed := c.registry.EvictStale(c.cfg.EvictionWindow)
	for _, id := range removed {
		if err := c.mirror.DeleteNode(ctx, id); err != nil {
			c.logger.Warn("Mirror delete failed", zap.String("node_id", id), zap.Error(err))
		}
	}
	if len(removed) > 0 {
		c.logger.Info("Evicted inactive nodes",
			zap.Strings("node_ids", removed),
			zap.Duration("window", c.cfg.EvictionWindow))
	}
	return removed
}

// ExpireOverdue fails executing jobs past the execution deadline. It is a
// no-op when no deadline is configured.
func (c *Coordinator) ExpireOverdue(ctx context.Context) []model.Result {
	expired := c.jobs.ExpireOverdue(c.cfg.ExecutionDeadline)
	for _, res := range expired {
		c.logger.Warn("Job expired",
			zap.String("job_id", res.JobID),
			zap.String("node_id", res.NodeID),
			zap.String("error", res.Error))
		c.publishJobByID(ctx, res.JobID)
	}
	return expired
}

func (c *Coordinator) publishNode(ctx context.Context, node model.Node) {
	if err := c.mirror.PublishNode(ctx, node); err != nil {
		c.logger.Warn("Mirror publish failed", zap.String("node_id", node.ID), zap.Error(err))
	}
}

func (c *Coordinator) publishJob(ctx context.Context, job model.Job) {
	if err := c.mirror.PublishJob(ctx, job); err != nil {
		c.logger.Warn("Mirror publish failed", zap.String("job_id", job.ID), zap.Error(err))
	}
}

func (c *Coordinator) publishJobByID(ctx context.Context, jobID string) {
	job, err := c.jobs.Get(jobID)
	if err != nil {
		return
	}
	c.publishJob(ctx, *job)
}
