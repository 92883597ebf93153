package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"androcompute/pkg/model"
)

type recordingMirror struct {
	mu     sync.Mutex
	calls  []string
	block  chan struct{}
	err    error
	closed bool
}

func (m *recordingMirror) record(call string) error {
	if m.block != nil {
		<-m.block
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call)
	return m.err
}

func (m *recordingMirror) PublishJob(_ context.Context, job model.Job) error {
	return m.record("job:" + job.ID)
}
func (m *recordingMirror) DeleteJob(_ context.Context, id string) error {
	return m.record("-job:" + id)
}
func (m *recordingMirror) PublishNode(_ context.Context, node model.Node) error {
	return m.record("node:" + node.ID)
}
func (m *recordingMirror) DeleteNode(_ context.Context, id string) error {
	return m.record("-node:" + id)
}
func (m *recordingMirror) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *recordingMirror) snapshot() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func TestAsyncMirror_DeliversInOrder(t *testing.T) {
	next := &recordingMirror{}
	m := NewAsyncMirror(next, 16, time.Second, nil)
	ctx := context.Background()

	_ = m.PublishNode(ctx, model.Node{ID: "n1"})
	_ = m.PublishJob(ctx, model.Job{ID: "job_1"})
	_ = m.DeleteJob(ctx, "job_1")
	_ = m.DeleteNode(ctx, "n1")

	assert.NoError(t, m.Close())
	assert.Equal(t, []string{"node:n1", "job:job_1", "-job:job_1", "-node:n1"}, next.snapshot())
	assert.True(t, next.closed)

	// ignored after close
	_ = m.PublishJob(ctx, model.Job{ID: "job_2"})
	assert.Len(t, next.snapshot(), 4)
	assert.NoError(t, m.Close())
}

func TestAsyncMirror_DropsWhenFull(t *testing.T) {
	next := &recordingMirror{block: make(chan struct{})}
	m := NewAsyncMirror(next, 1, time.Second, nil)
	ctx := context.Background()

	// the first op is picked up by the publisher and blocks; the second
	// fills the buffer; anything after that is dropped
	_ = m.PublishJob(ctx, model.Job{ID: "job_1"})
	assert.Eventually(t, func() bool { return len(m.ops) == 0 }, time.Second, time.Millisecond)
	_ = m.PublishJob(ctx, model.Job{ID: "job_2"})
	_ = m.PublishJob(ctx, model.Job{ID: "job_3"})
	_ = m.PublishJob(ctx, model.Job{ID: "job_4"})

	assert.Equal(t, uint64(2), m.Dropped())

	close(next.block)
	assert.NoError(t, m.Close())
	assert.Equal(t, []string{"job:job_1", "job:job_2"}, next.snapshot())
}

func TestAsyncMirror_ErrorsDoNotStopPublisher(t *testing.T) {
	next := &recordingMirror{err: errors.New("etcd unavailable")}
	m := NewAsyncMirror(next, 4, time.Second, nil)

	_ = m.PublishJob(context.Background(), model.Job{ID: "job_1"})
	_ = m.PublishJob(context.Background(), model.Job{ID: "job_2"})

	assert.NoError(t, m.Close())
	assert.Len(t, next.snapshot(), 2)
}

func TestNopMirror(t *testing.T) {
	var m Mirror = NopMirror{}
	assert.NoError(t, m.PublishJob(context.Background(), model.Job{}))
	assert.NoError(t, m.Close())
}

func TestJobEventTypeString(t *testing.T) {
	assert.Equal(t, "create", JobCreate.String())
	assert.Equal(t, "update", JobUpdate.String())
	assert.Equal(t, "delete", JobDelete.String())
	assert.Equal(t, "unknown", JobEventType(42).String())
}
