package model

import "time"

// NodeStatus is derived from LastSeen, never stored.
type NodeStatus string

const (
	NodeOnline NodeStatus = "online"
	NodeStale  NodeStatus = "stale" // not seen within the active window
)

// Node is a worker known to the coordinator. The ID is chosen by the worker
// itself at registration time.
type Node struct {
	ID           string    `json:"node_id"`
	Resources    Resources `json:"resources"`
	RegisteredAt time.Time `json:"registered_at"`
	LastSeen     time.Time `json:"last_seen"`
}

// Active reports whether the node contacted the coordinator within window.
func (n Node) Active(now time.Time, window time.Duration) bool {
	return now.Sub(n.LastSeen) < window
}

func (n Node) Status(now time.Time, window time.Duration) NodeStatus {
	if n.Active(now, window) {
		return NodeOnline
	}
	return NodeStale
}

// NodeView is the read-only projection served by GET /nodes.
type NodeView struct {
	Node
	Status      NodeStatus `json:"status"`
	SecondsIdle float64    `json:"seconds_idle"`
}

func NewNodeView(n Node, now time.Time, window time.Duration) NodeView {
	return NodeView{
		Node:        n,
		Status:      n.Status(now, window),
		SecondsIdle: now.Sub(n.LastSeen).Seconds(),
	}
}
