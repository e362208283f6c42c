package flowgraph

import (
	"fmt"
	"log/slog"

	"github.com/randalmurphal/toolflow/pkg/flowgraph/checkpoint"
	"github.com/randalmurphal/toolflow/pkg/flowgraph/observability"
)

const (
	// DefaultMaxIterations bounds node executions per run.
	DefaultMaxIterations = 1000

	// MaxIterationsLimit is the largest value WithMaxIterations accepts.
	MaxIterationsLimit = 100000
)

// runConfig holds configuration for graph execution.
type runConfig struct {
	maxIterations int

	checkpointStore        checkpoint.Store
	threadID               string
	checkpointFailureFatal bool
	interruptBefore        map[string]bool

	logger         *slog.Logger
	metrics        observability.MetricsRecorder
	spans          observability.SpanManager
	tracingEnabled bool

	// Resume bookkeeping, set internally.
	step             int
	parentID         string
	skipInterruptFor string
}

// defaultRunConfig returns the default execution configuration.
func defaultRunConfig() runConfig {
	return runConfig{
		maxIterations:          DefaultMaxIterations,
		checkpointFailureFatal: true,
		logger:                 slog.New(slog.DiscardHandler),
		metrics:                observability.NoopMetrics{},
		spans:                  observability.NoopSpanManager{},
	}
}

// RunOption configures execution behavior.
type RunOption func(*runConfig)

// WithMaxIterations sets the maximum number of node executions.
// Default: 1000
//
// This prevents infinite loops from hanging forever. If a graph
// exceeds this limit, Run returns a *MaxIterationsError.
//
// Panics if n <= 0 or n > MaxIterationsLimit.
//
// Example:
//
//	result, err := compiled.Run(ctx, state, flowgraph.WithMaxIterations(100))
func WithMaxIterations(n int) RunOption {
	if n <= 0 {
		panic("flowgraph: max iterations must be > 0")
	}
	if n > MaxIterationsLimit {
		panic(fmt.Sprintf("flowgraph: max iterations exceeds limit (%d)", MaxIterationsLimit))
	}
	return func(c *runConfig) {
		c.maxIterations = n
	}
}

// WithCheckpointing saves a checkpoint for the input state and after every
// node. Requires WithThreadID.
func WithCheckpointing(store checkpoint.Store) RunOption {
	return func(c *runConfig) {
		c.checkpointStore = store
	}
}

// WithThreadID names the conversation thread checkpoints are written to.
// Runs on the same thread continue its step sequence.
func WithThreadID(id string) RunOption {
	return func(c *runConfig) {
		c.threadID = id
	}
}

// WithCheckpointFailureFatal controls whether a failed checkpoint write
// aborts the run (default true). When false, failures are logged and the
// run continues.
func WithCheckpointFailureFatal(fatal bool) RunOption {
	return func(c *runConfig) {
		c.checkpointFailureFatal = fatal
	}
}

// WithInterruptBefore pauses the run before any of the listed nodes executes,
// returning an *InterruptError. Use with checkpointing so the run can be resumed.
func WithInterruptBefore(nodeIDs ...string) RunOption {
	return func(c *runConfig) {
		if c.interruptBefore == nil {
			c.interruptBefore = make(map[string]bool, len(nodeIDs))
		}
		for _, id := range nodeIDs {
			c.interruptBefore[id] = true
		}
	}
}

// WithObservabilityLogger sets the logger used for run and node lifecycle
// logs. By default lifecycle logs are discarded.
func WithObservabilityLogger(logger *slog.Logger) RunOption {
	return func(c *runConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics enables OpenTelemetry metrics for node and run execution.
func WithMetrics(enabled bool) RunOption {
	return func(c *runConfig) {
		if enabled {
			c.metrics = observability.NewMetricsRecorder()
		} else {
			c.metrics = observability.NoopMetrics{}
		}
	}
}

// WithTracing enables OpenTelemetry spans for the run and each node.
func WithTracing(enabled bool) RunOption {
	return func(c *runConfig) {
		c.tracingEnabled = enabled
		if enabled {
			c.spans = observability.NewSpanManager()
		} else {
			c.spans = observability.NoopSpanManager{}
		}
	}
}
