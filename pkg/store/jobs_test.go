package store

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"androcompute/pkg/model"
)

func createJob(t *testing.T, s *MemoryJobStore, node string) *model.Job {
	t.Helper()
	job, err := s.Create("calculate_pi", "Calculate Pi to 10 digits", "pi?digits=10", node)
	require.NoError(t, err)
	return job
}

func TestJobStore_CreateAssignsMonotonicIDs(t *testing.T) {
	clock := newFakeClock()
	s := NewMemoryJobStore(WithClock(clock.Now))

	j1 := createJob(t, s, "n1")
	j2 := createJob(t, s, "n2")

	assert.Equal(t, "job_1", j1.ID)
	assert.Equal(t, "job_2", j2.ID)
	assert.Equal(t, model.JobAssigned, j1.State)
	assert.Equal(t, "n1", j1.AssignedTo)
	assert.Equal(t, clock.Now(), j1.SubmittedAt)
	assert.Equal(t, 2, s.Len())
}

func TestJobStore_CreateRequiresAssignee(t *testing.T) {
	s := NewMemoryJobStore()
	_, err := s.Create("hash_file", "", "md5", "")
	assert.Error(t, err)
	assert.Equal(t, 0, s.Len())
}

func TestJobStore_IDsNotReusedAfterPrune(t *testing.T) {
	s := NewMemoryJobStore()
	j := createJob(t, s, "n1")
	_, ok := s.NextForNode("n1")
	require.True(t, ok)
	_, err := s.Complete(j.ID, json.RawMessage(`"ok"`), 0.1)
	require.NoError(t, err)
	s.Prune(10)

	next := createJob(t, s, "n1")
	assert.Equal(t, "job_2", next.ID)
}

func TestJobStore_NextForNodeFIFOAndFlip(t *testing.T) {
	s := NewMemoryJobStore()
	first := createJob(t, s, "n1")
	createJob(t, s, "n2")
	second := createJob(t, s, "n1")

	got, ok := s.NextForNode("n1")
	require.True(t, ok)
	assert.Equal(t, first.ID, got.ID)
	assert.Equal(t, model.JobExecuting, got.State)
	assert.NotNil(t, got.StartedAt)

	stored, err := s.Get(first.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobExecuting, stored.State)

	got, ok = s.NextForNode("n1")
	require.True(t, ok)
	assert.Equal(t, second.ID, got.ID)

	_, ok = s.NextForNode("n1")
	assert.False(t, ok)
	_, ok = s.NextForNode("unknown")
	assert.False(t, ok)
}

func TestJobStore_AtMostOnceDelivery(t *testing.T) {
	s := NewMemoryJobStore()
	const jobs = 200
	for i := 0; i < jobs; i++ {
		createJob(t, s, "n1")
	}

	var (
		mu        sync.Mutex
		delivered = make(map[string]int)
		wg        sync.WaitGroup
	)
	for p := 0; p < 16; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				job, ok := s.NextForNode("n1")
				if !ok {
					return
				}
				mu.Lock()
				delivered[job.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, delivered, jobs)
	for id, n := range delivered {
		assert.Equal(t, 1, n, "job %s delivered %d times", id, n)
	}
}

func TestJobStore_CompleteRecordsResult(t *testing.T) {
	clock := newFakeClock()
	s := NewMemoryJobStore(WithClock(clock.Now))
	j := createJob(t, s, "n1")
	_, ok := s.NextForNode("n1")
	require.True(t, ok)

	clock.Advance(2 * time.Second)
	res, err := s.Complete(j.ID, json.RawMessage(`"3.141592653"`), 0.25)
	require.NoError(t, err)

	assert.Equal(t, j.ID, res.JobID)
	assert.Equal(t, "n1", res.NodeID)
	assert.Equal(t, model.JobCompleted, res.Status)
	assert.JSONEq(t, `"3.141592653"`, string(res.Result))
	assert.Equal(t, 0.25, res.ExecutionTime)
	assert.Equal(t, clock.Now(), res.CompletedAt)

	stored, err := s.Get(j.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobCompleted, stored.State)
	require.NotNil(t, stored.CompletedAt)
	assert.Equal(t, clock.Now(), *stored.CompletedAt)

	require.Len(t, s.Results(), 1)
}

func TestJobStore_FailIsTerminalWithResult(t *testing.T) {
	s := NewMemoryJobStore()
	j := createJob(t, s, "n1")
	s.NextForNode("n1")

	res, err := s.Fail(j.ID, "unknown job kind", 0)
	require.NoError(t, err)
	assert.Equal(t, model.JobFailed, res.Status)
	assert.Equal(t, "unknown job kind", res.Error)

	stored, _ := s.Get(j.ID)
	assert.Equal(t, model.JobFailed, stored.State)
	assert.True(t, stored.State.Terminal())
}

func TestJobStore_RejectedTransitionsLeaveJobUntouched(t *testing.T) {
	s := NewMemoryJobStore()
	assigned := createJob(t, s, "n1")
	done := createJob(t, s, "n2")
	s.NextForNode("n2")
	_, err := s.Complete(done.ID, json.RawMessage(`1`), 1)
	require.NoError(t, err)

	tests := []struct {
		name string
		id   string
		want error
	}{
		{"unknown job", "job_99", ErrJobNotFound},
		{"still assigned", assigned.ID, ErrInvalidTransition},
		{"already completed", done.ID, ErrInvalidTransition},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var before *model.Job
			if tt.want != ErrJobNotFound {
				before, err = s.Get(tt.id)
				require.NoError(t, err)
			}
			resultsBefore := len(s.Results())

			_, err := s.Complete(tt.id, json.RawMessage(`"late"`), 9)
			assert.ErrorIs(t, err, tt.want)
			_, err = s.Fail(tt.id, "late", 9)
			assert.ErrorIs(t, err, tt.want)

			assert.Len(t, s.Results(), resultsBefore)
			if before != nil {
				after, err := s.Get(tt.id)
				require.NoError(t, err)
				assert.Equal(t, before, after)
			}
		})
	}
}

func TestJobStore_Prune(t *testing.T) {
	s := NewMemoryJobStore()

	var finished []string
	for i := 0; i < 6; i++ {
		j := createJob(t, s, "n1")
		s.NextForNode("n1")
		if i%2 == 0 {
			_, err := s.Complete(j.ID, json.RawMessage(fmt.Sprintf("%d", i)), 0)
			require.NoError(t, err)
		} else {
			_, err := s.Fail(j.ID, "boom", 0)
			require.NoError(t, err)
		}
		finished = append(finished, j.ID)
	}
	executing := createJob(t, s, "n1")
	s.NextForNode("n1")
	assigned := createJob(t, s, "n1")

	stats := s.Prune(4)

	assert.Equal(t, 6, stats.JobsRemoved)
	assert.Equal(t, finished, stats.Removed)
	assert.Equal(t, 2, stats.JobsRemaining)
	assert.Equal(t, 2, stats.ResultsDropped)

	jobs := s.List()
	require.Len(t, jobs, 2)
	assert.Equal(t, executing.ID, jobs[0].ID)
	assert.Equal(t, model.JobExecuting, jobs[0].State)
	assert.Equal(t, assigned.ID, jobs[1].ID)
	assert.Equal(t, model.JobAssigned, jobs[1].State)

	results := s.Results()
	require.Len(t, results, 4)
	for i, r := range results {
		assert.Equal(t, finished[i+2], r.JobID, "oldest results are dropped first")
	}

	// pruned jobs are gone from the active view
	_, err := s.Get(finished[0])
	assert.ErrorIs(t, err, ErrJobNotFound)

	// the assigned job is still deliverable
	got, ok := s.NextForNode("n1")
	require.True(t, ok)
	assert.Equal(t, assigned.ID, got.ID)
}

func TestJobStore_PruneZeroDropsAllResults(t *testing.T) {
	s := NewMemoryJobStore()
	j := createJob(t, s, "n1")
	s.NextForNode("n1")
	_, _ = s.Complete(j.ID, nil, 0)

	stats := s.Prune(0)
	assert.Equal(t, 1, stats.ResultsDropped)
	assert.Empty(t, s.Results())
	assert.Equal(t, 0, s.Len())
}

func TestJobStore_ExpireOverdue(t *testing.T) {
	clock := newFakeClock()
	s := NewMemoryJobStore(WithClock(clock.Now))

	stuck := createJob(t, s, "n1")
	s.NextForNode("n1")
	clock.Advance(50 * time.Second)
	recent := createJob(t, s, "n1")
	s.NextForNode("n1")
	waiting := createJob(t, s, "n2")
	clock.Advance(20 * time.Second)

	assert.Nil(t, s.ExpireOverdue(0), "zero deadline disables expiry")

	expired := s.ExpireOverdue(time.Minute)
	require.Len(t, expired, 1)
	assert.Equal(t, stuck.ID, expired[0].JobID)
	assert.Equal(t, model.JobFailed, expired[0].Status)
	assert.Contains(t, expired[0].Error, "deadline exceeded")

	r, _ := s.Get(recent.ID)
	assert.Equal(t, model.JobExecuting, r.State)
	w, _ := s.Get(waiting.ID)
	assert.Equal(t, model.JobAssigned, w.State)

	// a late report for the expired job is rejected
	_, err := s.Complete(stuck.ID, json.RawMessage(`"late"`), 1)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestJobStore_ReturnedJobsAreCopies(t *testing.T) {
	s := NewMemoryJobStore()
	j := createJob(t, s, "n1")
	j.State = model.JobFailed
	j.AssignedTo = "other"

	stored, err := s.Get(j.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobAssigned, stored.State)
	assert.Equal(t, "n1", stored.AssignedTo)
}
