package dispatch

import (
	"context"

	fgerrors "github.com/randalmurphal/toolflow/pkg/flowgraph/errors"
)

// Caller invokes an operation by name. Registry, stdio.Channel, sse.Client
// and toolbox.Toolbox all implement it, so pipeline stages can be written
// against any of them.
//
// A handler failure is a Result with IsError set and a nil error. The error
// return is reserved for failures to dispatch at all.
type Caller interface {
	Call(ctx context.Context, name string, params map[string]any) (Result, error)
}

// CallerFunc adapts a function to Caller.
type CallerFunc func(ctx context.Context, name string, params map[string]any) (Result, error)

// Call implements Caller.
func (f CallerFunc) Call(ctx context.Context, name string, params map[string]any) (Result, error) {
	return f(ctx, name, params)
}

// Retrying retries transient dispatch errors with backoff. Retry is never
// implicit: wrap a Caller explicitly to opt in. Failure Results are
// returned as-is and never retried.
type Retrying struct {
	Caller Caller
	Config fgerrors.RetryConfig
}

// Retry wraps c with the retry configuration cfg.
func Retry(c Caller, cfg fgerrors.RetryConfig) *Retrying {
	return &Retrying{Caller: c, Config: cfg}
}

// Call implements Caller. The returned Result carries the number of
// attempts made, also on error.
func (r *Retrying) Call(ctx context.Context, name string, params map[string]any) (Result, error) {
	out := fgerrors.WithRetryContext(ctx, r.Config, func(ctx context.Context) (Result, error) {
		return r.Caller.Call(ctx, name, params)
	})
	res := out.Value
	res.Attempts = out.Attempts
	if res.Operation == "" {
		res.Operation = name
	}
	return res, out.Err
}
