package flowgraph

import (
	"context"
	"runtime/debug"
	"sync"
	"time"
)

// Outcome is the result of one fan-out item, tagged with its input.
type Outcome[In, Out any] struct {
	// Index is the input's position in the slice passed to FanOut.
	Index int
	// Input is the originating input.
	Input In
	// Value is fn's result. Meaningful only when Err is nil.
	Value Out
	// Err is fn's error, a *PanicError if fn panicked, or the context error
	// if the item never started.
	Err error
	// Duration is how long fn ran.
	Duration time.Duration
}

// OK reports whether the item succeeded.
func (o Outcome[In, Out]) OK() bool {
	return o.Err == nil
}

// FanOutOption configures FanOut.
type FanOutOption func(*fanOutConfig)

type fanOutConfig struct {
	maxConcurrency int
}

// WithMaxConcurrency limits how many items run at once.
// 0 = unlimited (all items start immediately).
func WithMaxConcurrency(n int) FanOutOption {
	return func(c *fanOutConfig) {
		if n >= 0 {
			c.maxConcurrency = n
		}
	}
}

// FanOut runs fn once per input concurrently and waits for every call to
// finish. Outcomes are returned in input order regardless of completion
// order. Failures, including panics, are recorded per item; FanOut itself
// never fails.
//
// Use it inside a node to issue independent tool calls, then build the
// node's update from the joined outcomes:
//
//	outcomes := flowgraph.FanOut(ctx, s.Currencies, func(ctx context.Context, c string) (float64, error) {
//	    return rates.Lookup(ctx, c)
//	})
//	for _, o := range outcomes {
//	    if !o.OK() {
//	        ctx.Logger().Warn("rate lookup failed", "currency", o.Input, "error", o.Err)
//	    }
//	}
func FanOut[In, Out any](ctx context.Context, inputs []In, fn func(ctx context.Context, in In) (Out, error), opts ...FanOutOption) []Outcome[In, Out] {
	var cfg fanOutConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	startTime := time.Now()
	outcomes := make([]Outcome[In, Out], len(inputs))

	var sem chan struct{}
	if cfg.maxConcurrency > 0 {
		sem = make(chan struct{}, cfg.maxConcurrency)
	}

	var wg sync.WaitGroup
	for i, in := range inputs {
		outcomes[i] = Outcome[In, Out]{Index: i, Input: in}

		wg.Add(1)
		go func(o *Outcome[In, Out]) {
			defer wg.Done()

			if sem != nil {
				select {
				case sem <- struct{}{}:
					defer func() { <-sem }()
				case <-ctx.Done():
					o.Err = ctx.Err()
					return
				}
			}

			runItem(ctx, o, fn)
		}(&outcomes[i])
	}
	wg.Wait()

	if fgCtx, ok := ctx.(Context); ok {
		failed := 0
		for _, o := range outcomes {
			if !o.OK() {
				failed++
			}
		}
		fgCtx.Logger().Debug("fan-out completed",
			"items", len(outcomes),
			"failed", failed,
			"duration_ms", time.Since(startTime).Milliseconds())
	}

	return outcomes
}

// runItem executes one fan-out call with panic recovery.
func runItem[In, Out any](ctx context.Context, o *Outcome[In, Out], fn func(context.Context, In) (Out, error)) {
	start := time.Now()
	defer func() {
		o.Duration = time.Since(start)
		if r := recover(); r != nil {
			var zero Out
			o.Value = zero
			o.Err = &PanicError{
				NodeID: nodeIDOf(ctx),
				Value:  r,
				Stack:  string(debug.Stack()),
			}
		}
	}()

	o.Value, o.Err = fn(ctx, o.Input)
}

func nodeIDOf(ctx context.Context) string {
	if fgCtx, ok := ctx.(Context); ok {
		return fgCtx.NodeID()
	}
	return ""
}

// Partition splits outcomes into successes and failures, keeping order.
func Partition[In, Out any](outcomes []Outcome[In, Out]) (succeeded, failed []Outcome[In, Out]) {
	for _, o := range outcomes {
		if o.OK() {
			succeeded = append(succeeded, o)
		} else {
			failed = append(failed, o)
		}
	}
	return succeeded, failed
}
