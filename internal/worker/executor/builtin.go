package executor

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"runtime/debug"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"androcompute/pkg/model"
)

// DefaultJobTimeout bounds a single builtin execution.
const DefaultJobTimeout = 60 * time.Second

var errNoOutput = errors.New("no result produced")

// Output is the single slot a capability writes its result to.
type Output struct {
	value any
	set   bool
}

func (o *Output) Set(v any) {
	o.value = v
	o.set = true
}

// capability computes one job kind. Long loops must watch ctx.
type capability func(ctx context.Context, args url.Values, out *Output) error

// Builtin dispatches job bodies to a fixed table of capabilities. Nothing
// outside the table can run.
type Builtin struct {
	caps    map[string]capability
	timeout time.Duration
	logger  *zap.Logger
}

func NewBuiltin(timeout time.Duration, logger *zap.Logger) *Builtin {
	if timeout <= 0 {
		timeout = DefaultJobTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builtin{
		caps:    builtinCapabilities(),
		timeout: timeout,
		logger:  logger.Named("builtin"),
	}
}

// Kinds lists the supported body kinds, sorted.
func (b *Builtin) Kinds() []string {
	kinds := make([]string, 0, len(b.caps))
	for k := range b.caps {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

func (b *Builtin) Execute(ctx context.Context, body string) Outcome {
	start := time.Now()

	parsed, err := model.ParseBody(body)
	if err != nil {
		return failure(err.Error(), time.Since(start))
	}
	capFn, ok := b.caps[parsed.Kind]
	if !ok {
		return failure(fmt.Sprintf("unsupported job kind %q", parsed.Kind), time.Since(start))
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	type done struct {
		out Output
		err error
	}
	ch := make(chan done, 1)
	go func() {
		var d done
		defer func() {
			if r := recover(); r != nil {
				b.logger.Error("Capability panicked",
					zap.String("kind", parsed.Kind),
					zap.Any("panic", r),
					zap.ByteString("stack", debug.Stack()))
				d.err = fmt.Errorf("panic: %v", r)
			}
			ch <- d
		}()
		d.err = capFn(ctx, parsed.Args, &d.out)
	}()

	var d done
	select {
	case d = <-ch:
	case <-ctx.Done():
		d.err = ctx.Err()
	}

	elapsed := time.Since(start)
	switch {
	case d.err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded):
		return failure(fmt.Sprintf("job timed out after %s", b.timeout), elapsed)
	case d.err != nil:
		return failure(d.err.Error(), elapsed)
	case !d.out.set:
		return failure(errNoOutput.Error(), elapsed)
	}
	return success(d.out.value, elapsed)
}

// intArg reads name from args, applying def when absent and enforcing
// [lo, hi].
func intArg(args url.Values, name string, def, lo, hi int) (int, error) {
	raw := args.Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("argument %s: %q is not an integer", name, raw)
	}
	if n < lo || n > hi {
		return 0, fmt.Errorf("argument %s: %d outside [%d, %d]", name, n, lo, hi)
	}
	return n, nil
}

func stringArg(args url.Values, name, def string) string {
	if v := args.Get(name); v != "" {
		return v
	}
	return def
}
