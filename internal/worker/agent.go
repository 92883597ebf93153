package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"androcompute/internal/worker/executor"
	"androcompute/pkg/model"
)

const (
	DefaultPollInterval   = 5 * time.Second
	DefaultRequestTimeout = 10 * time.Second
)

var ErrNotRegistered = errors.New("worker is not registered")

// Coordinator is the part of the coordinator API a worker uses.
type Coordinator interface {
	Register(ctx context.Context, nodeID string, res model.Resources) (model.RegisterResponse, error)
	NextJob(ctx context.Context, nodeID string) (model.JobAssignment, error)
	SubmitResult(ctx context.Context, req model.SubmitResultRequest) (model.SubmitResultResponse, error)
}

type State int32

const (
	StateUnregistered State = iota
	StateRegistered
	StatePolling
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUnregistered:
		return "unregistered"
	case StateRegistered:
		return "registered"
	case StatePolling:
		return "polling"
	case StateStopped:
		return "stopped"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

type Config struct {
	NodeID         string
	PollInterval   time.Duration
	RequestTimeout time.Duration
}

// Stats counts reported outcomes.
type Stats struct {
	Completed uint64
	Failed    uint64
}

// Agent registers once, then polls for work, executes it and reports the
// outcome. Stopping takes effect between iterations: a job that has been
// fetched is always executed and reported.
type Agent struct {
	id        string
	coord     Coordinator
	exec      executor.Executor
	cfg       Config
	resources func() model.Resources
	logger    *zap.Logger

	state     atomic.Int32
	completed atomic.Uint64
	failed    atomic.Uint64
}

type Option func(*Agent)

// WithResources replaces the host probe used at registration.
func WithResources(fn func() model.Resources) Option {
	return func(a *Agent) { a.resources = fn }
}

// NewNodeID returns a fresh worker_<8 hex> identifier.
func NewNodeID() string {
	return "worker_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

func NewAgent(coord Coordinator, exec executor.Executor, cfg Config, logger *zap.Logger, opts ...Option) *Agent {
	if cfg.NodeID == "" {
		cfg.NodeID = NewNodeID()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Agent{
		id:     cfg.NodeID,
		coord:  coord,
		exec:   exec,
		cfg:    cfg,
		logger: logger.Named("agent").With(zap.String("node_id", cfg.NodeID)),
	}
	a.resources = NewHostProbe(logger).Snapshot
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Agent) ID() string {
	return a.id
}

func (a *Agent) State() State {
	return State(a.state.Load())
}

func (a *Agent) Stats() Stats {
	return Stats{Completed: a.completed.Load(), Failed: a.failed.Load()}
}

// requestCtx detaches from parent cancellation so an in-flight exchange is
// not cut short by a stop request.
func (a *Agent) requestCtx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(parent), a.cfg.RequestTimeout)
}

// Register sends the identity and resource snapshot. It is not retried.
func (a *Agent) Register(ctx context.Context) error {
	res := a.resources()

	rctx, cancel := a.requestCtx(ctx)
	defer cancel()
	if _, err := a.coord.Register(rctx, a.id, res); err != nil {
		return fmt.Errorf("register %s: %w", a.id, err)
	}

	a.state.Store(int32(StateRegistered))
	a.logger.Info("Registered with coordinator", zap.Any("resources", res))
	return nil
}

// PollOnce fetches at most one job, executes it and reports exactly one
// outcome. It reports whether a job was handled. Transport errors are
// returned to the caller.
func (a *Agent) PollOnce(ctx context.Context) (bool, error) {
	if a.State() == StateUnregistered {
		return false, ErrNotRegistered
	}

	rctx, cancel := a.requestCtx(ctx)
	assignment, err := a.coord.NextJob(rctx, a.id)
	cancel()
	if err != nil {
		return false, fmt.Errorf("poll: %w", err)
	}
	if assignment.Empty() {
		return false, nil
	}

	jobID := *assignment.JobID
	log := a.logger.With(zap.String("job_id", jobID), zap.String("type", assignment.Type))
	log.Info("Received job", zap.String("description", assignment.Description))

	out := a.exec.Execute(context.WithoutCancel(ctx), assignment.Code)
	req := a.report(jobID, out)

	rctx, cancel = a.requestCtx(ctx)
	defer cancel()
	if _, err := a.coord.SubmitResult(rctx, req); err != nil {
		return true, fmt.Errorf("report %s: %w", jobID, err)
	}

	if req.Status == model.ReportOK {
		a.completed.Add(1)
		log.Info("Job completed", zap.Duration("took", out.Duration))
	} else {
		a.failed.Add(1)
		log.Warn("Job failed", zap.String("error", req.Error), zap.Duration("took", out.Duration))
	}
	return true, nil
}

// report turns an outcome into the tagged wire form.
func (a *Agent) report(jobID string, out executor.Outcome) model.SubmitResultRequest {
	req := model.SubmitResultRequest{
		JobID:         jobID,
		NodeID:        a.id,
		ExecutionTime: out.Duration.Seconds(),
	}
	if !out.OK {
		req.Status = model.ReportError
		req.Error = out.Error
		return req
	}

	raw, err := json.Marshal(out.Value)
	if err != nil {
		req.Status = model.ReportError
		req.Error = fmt.Sprintf("encode result: %v", err)
		return req
	}
	req.Status = model.ReportOK
	req.Result = raw
	return req
}

// Run registers and then polls every interval until ctx is cancelled. A
// registration failure ends the run.
func (a *Agent) Run(ctx context.Context) error {
	defer a.state.Store(int32(StateStopped))

	if err := a.Register(ctx); err != nil {
		return err
	}
	a.state.Store(int32(StatePolling))
	a.logger.Info("Polling for jobs", zap.Duration("interval", a.cfg.PollInterval))

	ticker := time.NewTicker(a.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := a.PollOnce(ctx); err != nil {
			a.logger.Warn("Poll iteration failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			stats := a.Stats()
			a.logger.Info("Worker stopped",
				zap.Uint64("completed", stats.Completed),
				zap.Uint64("failed", stats.Failed))
			return nil
		case <-ticker.C:
		}
	}
}
