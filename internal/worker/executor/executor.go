package executor

import (
	"context"
	"time"
)

// Outcome is the tagged result of running one job body. Exactly one of
// Value (OK) or Error (!OK) is meaningful.
type Outcome struct {
	OK       bool
	Value    any
	Error    string
	Duration time.Duration
}

func success(v any, d time.Duration) Outcome {
	return Outcome{OK: true, Value: v, Duration: d}
}

func failure(msg string, d time.Duration) Outcome {
	return Outcome{Error: msg, Duration: d}
}

// Executor runs a job body. Execute never returns a Go error: every
// problem is folded into a failed Outcome so the worker always has
// something to report.
type Executor interface {
	Execute(ctx context.Context, body string) Outcome
}

// Func adapts a plain function to Executor.
type Func func(ctx context.Context, body string) Outcome

func (f Func) Execute(ctx context.Context, body string) Outcome {
	return f(ctx, body)
}
