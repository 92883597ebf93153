package coordinator

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"androcompute/internal/master/scheduler"
	"androcompute/internal/master/templates"
	"androcompute/pkg/model"
	"androcompute/pkg/store"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// spyMirror records published keys synchronously.
type spyMirror struct {
	mu     sync.Mutex
	events []string
}

func (m *spyMirror) add(e string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

func (m *spyMirror) PublishJob(_ context.Context, j model.Job) error {
	return m.add("job:" + j.ID + ":" + string(j.State))
}
func (m *spyMirror) DeleteJob(_ context.Context, id string) error { return m.add("-job:" + id) }
func (m *spyMirror) PublishNode(_ context.Context, n model.Node) error {
	return m.add("node:" + n.ID)
}
func (m *spyMirror) DeleteNode(_ context.Context, id string) error { return m.add("-node:" + id) }
func (m *spyMirror) Close() error                                  { return nil }

func (m *spyMirror) Events() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.events...)
}

type fixture struct {
	coord  *Coordinator
	jobs   *store.MemoryJobStore
	clock  *clock
	mirror *spyMirror
}

func newFixture(t *testing.T, cfg Config) fixture {
	t.Helper()
	c := &clock{t: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)}
	reg := store.NewMemoryRegistry(store.WithClock(c.Now))
	jobs := store.NewMemoryJobStore(store.WithClock(c.Now))
	m := &spyMirror{}
	return fixture{
		coord:  New(reg, jobs, templates.New(), m, cfg, nil),
		jobs:   jobs,
		clock:  c,
		mirror: m,
	}
}

func okReport(jobID, nodeID, value string) model.SubmitResultRequest {
	raw, _ := json.Marshal(value)
	return model.SubmitResultRequest{JobID: jobID, NodeID: nodeID, Result: raw, ExecutionTime: 0.5, Status: model.ReportOK}
}

func TestEndToEndSingleNode(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	_, err := f.coord.Register(ctx, "n1", model.Resources{model.ResCPUCores: 4})
	require.NoError(t, err)

	job, err := f.coord.Submit(ctx, "calculate_pi")
	require.NoError(t, err)
	assert.Equal(t, model.JobAssigned, job.State)
	assert.Equal(t, "n1", job.AssignedTo)

	got, ok := f.coord.Poll(ctx, "n1")
	require.True(t, ok)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, model.JobExecuting, got.State)

	res, err := f.coord.Report(ctx, okReport(job.ID, "n1", "3.141592653"))
	require.NoError(t, err)
	assert.Equal(t, model.JobCompleted, res.Status)

	stored, err := f.coord.Job(job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobCompleted, stored.State)

	results := f.coord.Results()
	require.Len(t, results, 1)
	assert.Equal(t, "n1", results[0].NodeID)
	assert.JSONEq(t, `"3.141592653"`, string(results[0].Result))

	_, ok = f.coord.Poll(ctx, "n1")
	assert.False(t, ok, "second poll has nothing")

	assert.Equal(t, []string{
		"node:n1",
		"job:" + job.ID + ":assigned",
		"job:" + job.ID + ":executing",
		"job:" + job.ID + ":completed",
	}, f.mirror.Events())
}

func TestSubmitWithoutActiveNodesIsRejected(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	_, err := f.coord.Submit(ctx, "calculate_pi")
	assert.ErrorIs(t, err, scheduler.ErrNoNodes)

	_, err = f.coord.Register(ctx, "n1", nil)
	require.NoError(t, err)
	f.clock.Advance(31 * time.Second)

	_, err = f.coord.Submit(ctx, "calculate_pi")
	assert.ErrorIs(t, err, scheduler.ErrNoActiveNodes)
	assert.Equal(t, 0, f.jobs.Len())
	assert.Empty(t, f.coord.Jobs())
}

func TestRegisterRequiresNodeID(t *testing.T) {
	f := newFixture(t, Config{})
	_, err := f.coord.Register(context.Background(), "  ", nil)
	assert.ErrorIs(t, err, ErrInvalidNodeID)
	assert.Empty(t, f.coord.Nodes())
}

func TestSubmitUnknownTypeFallsBack(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	_, err := f.coord.Register(ctx, "n1", nil)
	require.NoError(t, err)

	job, err := f.coord.Submit(ctx, "render_video")
	require.NoError(t, err)
	assert.Equal(t, "render_video", job.Type)

	fallback, ok := f.coord.Catalog().Lookup(templates.DefaultType)
	require.True(t, ok)
	assert.Equal(t, fallback.Body, job.Body)
}

func TestReportFailure(t *testing.T) {
	tests := []struct {
		name    string
		req     func(jobID string) model.SubmitResultRequest
		wantErr string
	}{
		{
			name: "tagged error",
			req: func(id string) model.SubmitResultRequest {
				return model.SubmitResultRequest{JobID: id, NodeID: "n1", Status: model.ReportError, Error: "division by zero"}
			},
			wantErr: "division by zero",
		},
		{
			name: "legacy prefix",
			req: func(id string) model.SubmitResultRequest {
				return model.SubmitResultRequest{JobID: id, NodeID: "n1", Result: json.RawMessage(`"ERROR: no output"`)}
			},
			wantErr: "no output",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, Config{})
			ctx := context.Background()
			_, err := f.coord.Register(ctx, "n1", nil)
			require.NoError(t, err)
			job, err := f.coord.Submit(ctx, "hash_file")
			require.NoError(t, err)
			f.coord.Poll(ctx, "n1")

			res, err := f.coord.Report(ctx, tt.req(job.ID))
			require.NoError(t, err)
			assert.Equal(t, model.JobFailed, res.Status)
			assert.Equal(t, tt.wantErr, res.Error)
		})
	}
}

func TestReportRejections(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	_, err := f.coord.Register(ctx, "n1", nil)
	require.NoError(t, err)
	job, err := f.coord.Submit(ctx, "hash_file")
	require.NoError(t, err)

	_, err = f.coord.Report(ctx, okReport("", "n1", "x"))
	assert.ErrorIs(t, err, ErrInvalidJobID)

	_, err = f.coord.Report(ctx, okReport("job_404", "n1", "x"))
	assert.ErrorIs(t, err, store.ErrJobNotFound)

	_, err = f.coord.Report(ctx, okReport(job.ID, "n1", "x"))
	assert.ErrorIs(t, err, store.ErrInvalidTransition, "not delivered yet")

	f.coord.Poll(ctx, "n1")

	_, err = f.coord.Report(ctx, okReport(job.ID, "n2", "x"))
	assert.ErrorIs(t, err, ErrJobNotOwned)

	_, err = f.coord.Report(ctx, okReport(job.ID, "n1", "x"))
	require.NoError(t, err)

	_, err = f.coord.Report(ctx, okReport(job.ID, "n1", "y"))
	assert.ErrorIs(t, err, store.ErrInvalidTransition, "already terminal")

	stored, err := f.coord.Job(job.ID)
	require.NoError(t, err)
	assert.JSONEq(t, `"x"`, string(stored.Result))
	assert.Len(t, f.coord.Results(), 1)
}

func TestPollTouchesNode(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	_, err := f.coord.Register(ctx, "n1", nil)
	require.NoError(t, err)

	f.clock.Advance(20 * time.Second)
	_, ok := f.coord.Poll(ctx, "n1")
	assert.False(t, ok)

	f.clock.Advance(20 * time.Second)
	views := f.coord.Nodes()
	require.Len(t, views, 1)
	assert.Equal(t, model.NodeOnline, views[0].Status)
	assert.InDelta(t, 20.0, views[0].SecondsIdle, 0.001)
}

func TestReportDoesNotTouchNode(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	_, err := f.coord.Register(ctx, "n1", nil)
	require.NoError(t, err)
	job, err := f.coord.Submit(ctx, "hash_file")
	require.NoError(t, err)
	_, ok := f.coord.Poll(ctx, "n1")
	require.True(t, ok)

	f.clock.Advance(25 * time.Second)
	_, err = f.coord.Report(ctx, okReport(job.ID, "n1", "x"))
	require.NoError(t, err)

	views := f.coord.Nodes()
	require.Len(t, views, 1)
	assert.InDelta(t, 25.0, views[0].SecondsIdle, 0.001, "only register and poll refresh last_seen")

	f.clock.Advance(10 * time.Second)
	_, err = f.coord.Submit(ctx, "hash_file")
	assert.ErrorIs(t, err, scheduler.ErrNoActiveNodes)
}

func TestEvictedNodeStillDrainsItsJobs(t *testing.T) {
	f := newFixture(t, Config{EvictionWindow: time.Minute})
	ctx := context.Background()
	_, err := f.coord.Register(ctx, "n1", nil)
	require.NoError(t, err)
	job, err := f.coord.Submit(ctx, "fibonacci")
	require.NoError(t, err)

	f.clock.Advance(2 * time.Minute)
	assert.Equal(t, []string{"n1"}, f.coord.CleanupNodes(ctx))
	assert.Empty(t, f.coord.Nodes())

	got, ok := f.coord.Poll(ctx, "n1")
	require.True(t, ok)
	assert.Equal(t, job.ID, got.ID)
	assert.Empty(t, f.coord.Nodes(), "polling does not re-register")
}

func TestNodesDerivedStatus(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	_, err := f.coord.Register(ctx, "old", nil)
	require.NoError(t, err)
	f.clock.Advance(40 * time.Second)
	_, err = f.coord.Register(ctx, "new", nil)
	require.NoError(t, err)

	views := f.coord.Nodes()
	require.Len(t, views, 2)
	byID := map[string]model.NodeStatus{}
	for _, v := range views {
		byID[v.ID] = v.Status
	}
	assert.Equal(t, model.NodeOnline, byID["new"])
	assert.Equal(t, model.NodeStale, byID["old"])
}

func TestClearCompleted(t *testing.T) {
	f := newFixture(t, Config{MaxResults: 1})
	ctx := context.Background()
	_, err := f.coord.Register(ctx, "n1", nil)
	require.NoError(t, err)

	var done []string
	for i := 0; i < 3; i++ {
		job, err := f.coord.Submit(ctx, "hash_file")
		require.NoError(t, err)
		f.coord.Poll(ctx, "n1")
		_, err = f.coord.Report(ctx, okReport(job.ID, "n1", "v"))
		require.NoError(t, err)
		done = append(done, job.ID)
	}
	pending, err := f.coord.Submit(ctx, "hash_file")
	require.NoError(t, err)

	stats := f.coord.ClearCompleted(ctx)
	assert.Equal(t, 3, stats.JobsRemoved)
	assert.Equal(t, 1, stats.JobsRemaining)
	assert.Equal(t, 2, stats.ResultsDropped)

	jobs := f.coord.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, pending.ID, jobs[0].ID)

	results := f.coord.Results()
	require.Len(t, results, 1)
	assert.Equal(t, done[2], results[0].JobID)

	events := f.mirror.Events()
	for _, id := range done {
		assert.Contains(t, events, "-job:"+id)
	}
}

func TestCleanupNodesUsesEvictionWindow(t *testing.T) {
	f := newFixture(t, Config{ActiveWindow: 30 * time.Second, EvictionWindow: 120 * time.Second})
	ctx := context.Background()
	_, err := f.coord.Register(ctx, "n1", nil)
	require.NoError(t, err)

	f.clock.Advance(60 * time.Second)
	assert.Empty(t, f.coord.CleanupNodes(ctx), "stale but inside eviction window")

	f.clock.Advance(61 * time.Second)
	assert.Equal(t, []string{"n1"}, f.coord.CleanupNodes(ctx))
	assert.Contains(t, f.mirror.Events(), "-node:n1")
}

func TestExpireOverdue(t *testing.T) {
	ctx := context.Background()

	t.Run("disabled by default", func(t *testing.T) {
		f := newFixture(t, Config{})
		_, err := f.coord.Register(ctx, "n1", nil)
		require.NoError(t, err)
		_, err = f.coord.Submit(ctx, "hash_file")
		require.NoError(t, err)
		f.coord.Poll(ctx, "n1")
		f.clock.Advance(time.Hour)
		assert.Empty(t, f.coord.ExpireOverdue(ctx))
	})

	t.Run("fails overdue executing jobs", func(t *testing.T) {
		f := newFixture(t, Config{ExecutionDeadline: time.Minute})
		_, err := f.coord.Register(ctx, "n1", nil)
		require.NoError(t, err)
		job, err := f.coord.Submit(ctx, "hash_file")
		require.NoError(t, err)
		f.coord.Poll(ctx, "n1")
		f.clock.Advance(2 * time.Minute)

		expired := f.coord.ExpireOverdue(ctx)
		require.Len(t, expired, 1)
		assert.Equal(t, job.ID, expired[0].JobID)
		assert.Contains(t, expired[0].Error, "execution deadline exceeded")
		assert.Contains(t, f.mirror.Events(), "job:"+job.ID+":failed")

		_, err = f.coord.Report(ctx, okReport(job.ID, "n1", "late"))
		assert.ErrorIs(t, err, store.ErrInvalidTransition)
	})
}

func TestConfigDefaults(t *testing.T) {
	f := newFixture(t, Config{MaxResults: -1})
	cfg := f.coord.Config()
	assert.Equal(t, scheduler.DefaultActiveWindow, cfg.ActiveWindow)
	assert.Equal(t, DefaultEvictionWindow, cfg.EvictionWindow)
	assert.Equal(t, DefaultMaxResults, cfg.MaxResults)
}
