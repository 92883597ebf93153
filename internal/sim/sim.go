package sim

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"androcompute/internal/worker"
	"androcompute/internal/worker/executor"
	"androcompute/pkg/client"
	"androcompute/pkg/model"
)

type Config struct {
	Workers      int
	Jobs         int
	JobTypes     []string
	Rate         float64 // submissions per second, 0 = unlimited
	MinWork      time.Duration
	MaxWork      time.Duration
	PollInterval time.Duration
	// Timeout bounds the whole run, submission and draining included.
	Timeout time.Duration
}

func (c *Config) setDefaults() {
	if c.Workers <= 0 {
		c.Workers = 3
	}
	if c.Jobs < 0 {
		c.Jobs = 0
	}
	if len(c.JobTypes) == 0 {
		c.JobTypes = []string{"calculate_pi", "hash_file", "process_data"}
	}
	if c.MaxWork < c.MinWork {
		c.MaxWork = c.MinWork
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Minute
	}
}

type Summary struct {
	Registered int
	Submitted  int
	Rejected   int
	Completed  int
	Failed     int
	Pending    int
	PerNode    map[string]int
}

// simulatedWork sleeps a random time and reports which node did the work.
func simulatedWork(nodeID string, minWork, maxWork time.Duration) executor.Executor {
	return executor.Func(func(ctx context.Context, _ string) executor.Outcome {
		d := minWork
		if span := maxWork - minWork; span > 0 {
			d += rand.N(span)
		}
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return executor.Outcome{Error: ctx.Err().Error(), Duration: d}
		}
		return executor.Outcome{OK: true, Value: "Result from " + nodeID, Duration: d}
	})
}

// Run starts cfg.Workers simulated workers against the coordinator at
// baseURL, submits cfg.Jobs jobs paced by cfg.Rate, and waits for them to
// finish.
func Run(ctx context.Context, baseURL string, cfg Config, logger *zap.Logger) (Summary, error) {
	cfg.setDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("sim")

	c, err := client.New(baseURL)
	if err != nil {
		return Summary{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	workerCtx, stopWorkers := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		stopWorkers()
		wg.Wait()
	}()

	summary := Summary{PerNode: make(map[string]int)}
	for i := 0; i < cfg.Workers; i++ {
		nodeID := fmt.Sprintf("test_worker_%d", i)
		a := worker.NewAgent(c, simulatedWork(nodeID, cfg.MinWork, cfg.MaxWork), worker.Config{
			NodeID:       nodeID,
			PollInterval: cfg.PollInterval,
		}, logger, worker.WithResources(randomResources))

		// register up front so submissions have somewhere to go
		if err := a.Register(ctx); err != nil {
			logger.Warn("Simulated worker failed to register", zap.String("node_id", nodeID), zap.Error(err))
			continue
		}
		summary.Registered++

		wg.Add(1)
		go func() {
			defer wg.Done()
			pollLoop(workerCtx, a, cfg.PollInterval, logger)
		}()
	}
	if summary.Registered == 0 {
		return summary, errors.New("no simulated worker could register")
	}

	limit := rate.Inf
	if cfg.Rate > 0 {
		limit = rate.Limit(cfg.Rate)
	}
	limiter := rate.NewLimiter(limit, 1)

	var submitted []string
	for i := 0; i < cfg.Jobs; i++ {
		if err := limiter.Wait(ctx); err != nil {
			return summary, fmt.Errorf("submission pacing: %w", err)
		}
		jobType := cfg.JobTypes[i%len(cfg.JobTypes)]
		resp, err := c.SubmitJob(ctx, jobType)
		if err != nil {
			summary.Rejected++
			logger.Warn("Submission rejected", zap.String("type", jobType), zap.Error(err))
			continue
		}
		submitted = append(submitted, resp.JobID)
	}
	summary.Submitted = len(submitted)

	err = drain(ctx, c, submitted, cfg.PollInterval, &summary)
	logger.Info("Simulation finished",
		zap.Int("registered", summary.Registered),
		zap.Int("submitted", summary.Submitted),
		zap.Int("rejected", summary.Rejected),
		zap.Int("completed", summary.Completed),
		zap.Int("failed", summary.Failed),
		zap.Int("pending", summary.Pending))
	return summary, err
}

// pollLoop is Agent.Run without the registration step.
func pollLoop(ctx context.Context, a *worker.Agent, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := a.PollOnce(ctx); err != nil {
			logger.Debug("Simulated poll failed", zap.String("node_id", a.ID()), zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// drain waits until every submitted job is terminal or ctx ends.
func drain(ctx context.Context, c *client.Client, ids []string, interval time.Duration, summary *Summary) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		tally(ctx, c, ids, summary)
		if summary.Pending == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%d jobs still pending: %w", summary.Pending, ctx.Err())
		case <-ticker.C:
		}
	}
}

func tally(ctx context.Context, c *client.Client, ids []string, summary *Summary) {
	summary.Completed, summary.Failed, summary.Pending = 0, 0, 0
	clear(summary.PerNode)
	for _, id := range ids {
		job, err := c.JobStatus(ctx, id)
		if err != nil {
			summary.Pending++
			continue
		}
		switch job.State {
		case model.JobCompleted:
			summary.Completed++
			summary.PerNode[job.AssignedTo]++
		case model.JobFailed:
			summary.Failed++
		default:
			summary.Pending++
		}
	}
}

func randomResources() model.Resources {
	return model.Resources{
		model.ResCPUCores:     2 + rand.IntN(7),
		model.ResMemoryTotal:  1024 * 1024 * (512 + rand.IntN(1537)),
		model.ResBatteryLevel: 20 + rand.IntN(81),
		model.ResIsCharging:   rand.IntN(2) == 0,
	}
}
