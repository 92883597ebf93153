package scheduler

import (
	"time"

	"go.uber.org/zap"

	"androcompute/pkg/model"
)

// filterNodes keeps the nodes seen within the active window.
func (s *Scheduler) filterNodes(nodes []model.Node, now time.Time) []model.Node {
	candidates := make([]model.Node, 0, len(nodes))

	for _, node := range nodes {
		if s.checkNode(node, now) {
			candidates = append(candidates, node)
		}
	}
	return candidates
}

func (s *Scheduler) checkNode(node model.Node, now time.Time) bool {
	if !node.Active(now, s.activeWindow) {
		s.logger.Debug("Node filtered: not seen within active window",
			zap.String("node_id", node.ID),
			zap.Duration("idle", now.Sub(node.LastSeen)),
			zap.Duration("window", s.activeWindow))
		return false
	}
	return true
}
