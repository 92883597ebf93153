package janitor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"androcompute/internal/master/coordinator"
	"androcompute/internal/master/templates"
	"androcompute/pkg/model"
	"androcompute/pkg/store"
)

type countingMaintainer struct {
	sweeps atomic.Int32
}

func (m *countingMaintainer) CleanupNodes(context.Context) []string {
	m.sweeps.Add(1)
	return nil
}

func (m *countingMaintainer) ExpireOverdue(context.Context) []model.Result { return nil }

func TestRunSweepsUntilCancelled(t *testing.T) {
	m := &countingMaintainer{}
	j := New(m, 5*time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		j.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return m.sweeps.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop")
	}
}

func TestRunDisabled(t *testing.T) {
	m := &countingMaintainer{}
	j := New(m, 0, nil)
	assert.False(t, j.Enabled())

	j.Run(context.Background())
	assert.Zero(t, m.sweeps.Load())
}

func TestSweepOnceAgainstCoordinator(t *testing.T) {
	now := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	reg := store.NewMemoryRegistry(store.WithClock(clock))
	jobs := store.NewMemoryJobStore(store.WithClock(clock))
	coord := coordinator.New(reg, jobs, templates.New(), nil, coordinator.Config{
		EvictionWindow:    time.Minute,
		ExecutionDeadline: 30 * time.Second,
	}, nil)
	ctx := context.Background()

	_, err := coord.Register(ctx, "gone", nil)
	require.NoError(t, err)
	job, err := coord.Submit(ctx, "calculate_pi")
	require.NoError(t, err)
	_, ok := coord.Poll(ctx, "gone")
	require.True(t, ok)

	now = now.Add(2 * time.Minute)

	sweep := New(coord, time.Second, nil).SweepOnce(ctx)
	assert.Equal(t, []string{"gone"}, sweep.Evicted)
	require.Len(t, sweep.Expired, 1)
	assert.Equal(t, job.ID, sweep.Expired[0].JobID)
	assert.Equal(t, model.JobFailed, sweep.Expired[0].Status)
}
