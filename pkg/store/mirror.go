package store

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"androcompute/pkg/model"
)

// NopMirror discards everything. Used when no mirror is configured.
type NopMirror struct{}

func (NopMirror) PublishJob(context.Context, model.Job) error   { return nil }
func (NopMirror) DeleteJob(context.Context, string) error       { return nil }
func (NopMirror) PublishNode(context.Context, model.Node) error { return nil }
func (NopMirror) DeleteNode(context.Context, string) error      { return nil }
func (NopMirror) Close() error                                  { return nil }

type mirrorOp func(ctx context.Context, m Mirror) error

// AsyncMirror queues publications and applies them from a single goroutine
// so request handlers never wait on the backing mirror. When the queue is
// full the publication is dropped.
type AsyncMirror struct {
	next    Mirror
	ops     chan mirrorOp
	timeout time.Duration
	logger  *zap.Logger

	done chan struct{}

	mu      sync.Mutex
	closed  bool
	dropped uint64
}

func NewAsyncMirror(next Mirror, buffer int, timeout time.Duration, logger *zap.Logger) *AsyncMirror {
	if buffer <= 0 {
		buffer = 1
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &AsyncMirror{
		next:    next,
		ops:     make(chan mirrorOp, buffer),
		timeout: timeout,
		logger:  logger.Named("mirror"),
		done:    make(chan struct{}),
	}
	go m.run()
	return m
}

func (m *AsyncMirror) run() {
	defer close(m.done)
	for op := range m.ops {
		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		if err := op(ctx, m.next); err != nil {
			m.logger.Warn("Mirror publication failed", zap.Error(err))
		}
		cancel()
	}
}

func (m *AsyncMirror) enqueue(op mirrorOp) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	select {
	case m.ops <- op:
	default:
		m.dropped++
		m.logger.Warn("Mirror queue full, dropping publication", zap.Uint64("dropped_total", m.dropped))
	}
	return nil
}

func (m *AsyncMirror) PublishJob(_ context.Context, job model.Job) error {
	return m.enqueue(func(ctx context.Context, next Mirror) error { return next.PublishJob(ctx, job) })
}

func (m *AsyncMirror) DeleteJob(_ context.Context, jobID string) error {
	return m.enqueue(func(ctx context.Context, next Mirror) error { return next.DeleteJob(ctx, jobID) })
}

func (m *AsyncMirror) PublishNode(_ context.Context, node model.Node) error {
	return m.enqueue(func(ctx context.Context, next Mirror) error { return next.PublishNode(ctx, node) })
}

func (m *AsyncMirror) DeleteNode(_ context.Context, nodeID string) error {
	return m.enqueue(func(ctx context.Context, next Mirror) error { return next.DeleteNode(ctx, nodeID) })
}

// Dropped reports how many publications were discarded on a full queue.
func (m *AsyncMirror) Dropped() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropped
}

// Close drains the queue, then closes the backing mirror. Later
// publications are ignored.
func (m *AsyncMirror) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		<-m.done
		return nil
	}
	m.closed = true
	close(m.ops)
	m.mu.Unlock()

	<-m.done
	return m.next.Close()
}
