package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	"androcompute/pkg/model"
)

// Key layout under the configured prefix.
const (
	jobKeyDir  = "/jobs/"
	nodeKeyDir = "/nodes/"
)

// EtcdMirror writes JSON snapshots of jobs and nodes to etcd so operators can
// watch the cluster. Every key hangs off one lease, so the snapshots vanish
// when the coordinator stops renewing it. Nothing is ever read back.
type EtcdMirror struct {
	client   etcdAPI
	prefix   string
	leaseTTL time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	leaseID clientv3.LeaseID
	stopKA  context.CancelFunc
}

type EtcdConfig struct {
	Endpoints   []string
	Prefix      string
	LeaseTTL    time.Duration
	DialTimeout time.Duration
}

// etcdAPI is the part of *clientv3.Client the mirror uses.
type etcdAPI interface {
	Put(ctx context.Context, key, val string, opts ...clientv3.OpOption) (*clientv3.PutResponse, error)
	Get(ctx context.Context, key string, opts ...clientv3.OpOption) (*clientv3.GetResponse, error)
	Delete(ctx context.Context, key string, opts ...clientv3.OpOption) (*clientv3.DeleteResponse, error)
	Grant(ctx context.Context, ttl int64) (*clientv3.LeaseGrantResponse, error)
	Revoke(ctx context.Context, id clientv3.LeaseID) (*clientv3.LeaseRevokeResponse, error)
	KeepAlive(ctx context.Context, id clientv3.LeaseID) (<-chan *clientv3.LeaseKeepAliveResponse, error)
	Watch(ctx context.Context, key string, opts ...clientv3.OpOption) clientv3.WatchChan
	Close() error
}

func NewEtcdMirror(cfg EtcdConfig, logger *zap.Logger) (*EtcdMirror, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("connect etcd %v: %w", cfg.Endpoints, err)
	}
	return newEtcdMirror(cli, cfg, logger), nil
}

func newEtcdMirror(cli etcdAPI, cfg EtcdConfig, logger *zap.Logger) *EtcdMirror {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EtcdMirror{
		client:   cli,
		prefix:   strings.TrimSuffix(cfg.Prefix, "/"),
		leaseTTL: cfg.LeaseTTL,
		logger:   logger.Named("etcd"),
	}
}

// ---------------------------------------------------------
// Jobs
// ---------------------------------------------------------

func (e *EtcdMirror) PublishJob(ctx context.Context, job model.Job) error {
	return e.putValue(ctx, e.jobKey(job.ID), job)
}

func (e *EtcdMirror) DeleteJob(ctx context.Context, jobID string) error {
	_, err := e.client.Delete(ctx, e.jobKey(jobID))
	return err
}

// WatchJobs turns the etcd watch on the jobs prefix into a channel of
// JobEvents. The channel closes when ctx ends.
func (e *EtcdMirror) WatchJobs(ctx context.Context) <-chan JobEvent {
	eventChan := make(chan JobEvent)
	dir := e.prefix + jobKeyDir

	go func() {
		defer close(eventChan)
		watchChan := e.client.Watch(ctx, dir, clientv3.WithPrefix(), clientv3.WithPrevKV())

		for watchResp := range watchChan {
			for _, ev := range watchResp.Events {
				event := JobEvent{JobID: strings.TrimPrefix(string(ev.Kv.Key), dir)}
				switch ev.Type {
				case clientv3.EventTypePut:
					event.Type = JobUpdate
					if ev.IsCreate() {
						event.Type = JobCreate
					}
					var job model.Job
					if err := json.Unmarshal(ev.Kv.Value, &job); err != nil {
						e.logger.Warn("Failed to unmarshal job", zap.String("key", string(ev.Kv.Key)), zap.Error(err))
						continue
					}
					event.Job = &job
				case clientv3.EventTypeDelete:
					event.Type = JobDelete
				}

				select {
				case eventChan <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return eventChan
}

// ---------------------------------------------------------
// Nodes
// ---------------------------------------------------------

func (e *EtcdMirror) PublishNode(ctx context.Context, node model.Node) error {
	return e.putValue(ctx, e.nodeKey(node.ID), node)
}

func (e *EtcdMirror) DeleteNode(ctx context.Context, nodeID string) error {
	_, err := e.client.Delete(ctx, e.nodeKey(nodeID))
	return err
}

// ListNodes reads the mirrored node snapshots.
func (e *EtcdMirror) ListNodes(ctx context.Context) ([]model.Node, error) {
	resp, err := e.client.Get(ctx, e.prefix+nodeKeyDir, clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}

	nodes := make([]model.Node, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var node model.Node
		if err := json.Unmarshal(kv.Value, &node); err != nil {
			e.logger.Warn("Failed to unmarshal node", zap.String("key", string(kv.Key)), zap.Error(err))
			continue
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

func (e *EtcdMirror) Close() error {
	e.mu.Lock()
	if e.stopKA != nil {
		e.stopKA()
	}
	leaseID := e.leaseID
	e.mu.Unlock()

	if leaseID != 0 {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := e.client.Revoke(ctx, leaseID); err != nil {
			e.logger.Debug("Failed to revoke lease", zap.Error(err))
		}
	}
	return e.client.Close()
}

// ---------------------------------------------------------
// Helpers
// ---------------------------------------------------------

func (e *EtcdMirror) jobKey(id string) string  { return e.prefix + jobKeyDir + id }
func (e *EtcdMirror) nodeKey(id string) string { return e.prefix + nodeKeyDir + id }

// lease grants the shared lease on first use and keeps it alive until Close.
func (e *EtcdMirror) lease(ctx context.Context) (clientv3.LeaseID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.leaseID != 0 {
		return e.leaseID, nil
	}
	ttl := int64(e.leaseTTL / time.Second)
	if ttl < 5 {
		ttl = 5
	}
	grant, err := e.client.Grant(ctx, ttl)
	if err != nil {
		return 0, fmt.Errorf("grant lease: %w", err)
	}

	kaCtx, cancel := context.WithCancel(context.Background())
	ka, err := e.client.KeepAlive(kaCtx, grant.ID)
	if err != nil {
		cancel()
		return 0, fmt.Errorf("keep lease alive: %w", err)
	}
	go func() {
		for range ka {
		}
		e.mu.Lock()
		if e.leaseID == grant.ID {
			e.leaseID = 0
		}
		e.mu.Unlock()
	}()

	if e.stopKA != nil {
		e.stopKA()
	}
	e.leaseID = grant.ID
	e.stopKA = cancel
	return grant.ID, nil
}

// putValue JSON-encodes val and writes it under the shared lease.
func (e *EtcdMirror) putValue(ctx context.Context, key string, val any) error {
	bytes, err := json.Marshal(val)
	if err != nil {
		return err
	}
	leaseID, err := e.lease(ctx)
	if err != nil {
		return err
	}
	_, err = e.client.Put(ctx, key, string(bytes), clientv3.WithLease(leaseID))
	return err
}
