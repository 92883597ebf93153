package janitor

import (
	"context"
	"time"

	"go.uber.org/zap"

	"androcompute/pkg/model"
)

// Maintainer is the part of the coordinator the janitor drives.
type Maintainer interface {
	CleanupNodes(ctx context.Context) []string
	ExpireOverdue(ctx context.Context) []model.Result
}

// Sweep is the outcome of one maintenance pass.
type Sweep struct {
	Evicted []string
	Expired []model.Result
}

// Janitor runs node eviction and deadline expiry on a fixed interval.
type Janitor struct {
	target   Maintainer
	interval time.Duration
	logger   *zap.Logger
}

func New(target Maintainer, interval time.Duration, logger *zap.Logger) *Janitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Janitor{target: target, interval: interval, logger: logger.Named("janitor")}
}

// Enabled reports whether Run does anything.
func (j *Janitor) Enabled() bool {
	return j.interval > 0
}

// Run sweeps every interval until ctx is done. It returns immediately when
// the interval is not positive.
func (j *Janitor) Run(ctx context.Context) {
	if !j.Enabled() {
		j.logger.Debug("Janitor disabled")
		return
	}

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.logger.Info("Janitor started", zap.Duration("interval", j.interval))
	for {
		select {
		case <-ticker.C:
			j.SweepOnce(ctx)
		case <-ctx.Done():
			j.logger.Info("Janitor stopped")
			return
		}
	}
}

func (j *Janitor) SweepOnce(ctx context.Context) Sweep {
	s := Sweep{
		Evicted: j.target.CleanupNodes(ctx),
		Expired: j.target.ExpireOverdue(ctx),
	}
	if len(s.Evicted) > 0 || len(s.Expired) > 0 {
		j.logger.Info("Sweep finished",
			zap.Int("evicted", len(s.Evicted)),
			zap.Int("expired", len(s.Expired)))
	}
	return s
}
