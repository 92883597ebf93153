package store

import (
	"sort"
	"sync"
	"time"

	"androcompute/pkg/model"
)

// MemoryRegistry is a NodeRegistry backed by a map behind one mutex. Poll
// traffic is seconds apart per node, so contention stays low.
type MemoryRegistry struct {
	mu    sync.Mutex
	nodes map[string]*model.Node
	now   func() time.Time
}

func NewMemoryRegistry(opts ...Option) *MemoryRegistry {
	o := buildOptions(opts)
	return &MemoryRegistry{
		nodes: make(map[string]*model.Node),
		now:   o.now,
	}
}

func (r *MemoryRegistry) Now() time.Time {
	return r.now()
}

func (r *MemoryRegistry) Register(id string, res model.Resources) model.Node {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	node := &model.Node{
		ID:           id,
		Resources:    res.Clone(),
		RegisteredAt: now,
		LastSeen:     now,
	}
	r.nodes[id] = node
	return *node
}

func (r *MemoryRegistry) Touch(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	node, ok := r.nodes[id]
	if !ok {
		return false
	}
	node.LastSeen = r.now()
	return true
}

func (r *MemoryRegistry) IsActive(id string, window time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	node, ok := r.nodes[id]
	if !ok {
		return false
	}
	return node.Active(r.now(), window)
}

func (r *MemoryRegistry) EvictStale(window time.Duration) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	var evicted []string
	for id, node := range r.nodes {
		if now.Sub(node.LastSeen) > window {
			delete(r.nodes, id)
			evicted = append(evicted, id)
		}
	}
	sort.Strings(evicted)
	return evicted
}

func (r *MemoryRegistry) Get(id string) (model.Node, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	node, ok := r.nodes[id]
	if !ok {
		return model.Node{}, false
	}
	return copyNode(node), true
}

func (r *MemoryRegistry) List() []model.Node {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshot()
}

func (r *MemoryRegistry) Locked(fn func(nodes []model.Node) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(r.snapshot())
}

// snapshot must be called with mu held.
func (r *MemoryRegistry) snapshot() []model.Node {
	out := make([]model.Node, 0, len(r.nodes))
	for _, node := range r.nodes {
		out = append(out, copyNode(node))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func copyNode(n *model.Node) model.Node {
	c := *n
	c.Resources = n.Resources.Clone()
	return c
}
