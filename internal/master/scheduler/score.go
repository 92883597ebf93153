package scheduler

import "androcompute/pkg/model"

// scoreNodes returns the candidate that contacted the coordinator last, as a
// weak proxy for "reachable and awake". Equal timestamps go to the smaller id
// so the choice is deterministic.
func (s *Scheduler) scoreNodes(nodes []model.Node) *model.Node {
	var best *model.Node

	for i := range nodes {
		node := &nodes[i]
		if best == nil || newer(node, best) {
			best = node
		}
	}
	return best
}

func newer(a, b *model.Node) bool {
	if !a.LastSeen.Equal(b.LastSeen) {
		return a.LastSeen.After(b.LastSeen)
	}
	return a.ID < b.ID
}
