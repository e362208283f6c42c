// Package observability provides structured logging, metrics and tracing
// for pipeline runs and tool invocations.
//
// Logging uses log/slog. Metrics and tracing use the OpenTelemetry API
// against the global providers; both are opt-in and have no-op
// implementations when disabled.
package observability

import (
	"log/slog"
	"time"
)

// EnrichLogger adds pipeline context to a logger.
// Returns a new logger with run_id and node_id fields.
func EnrichLogger(logger *slog.Logger, runID, nodeID string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("run_id", runID),
		slog.String("node_id", nodeID),
	)
}

// LogRunStart logs the start of a pipeline run.
func LogRunStart(logger *slog.Logger, runID, threadID string) {
	if logger == nil {
		return
	}
	attrs := []any{slog.String("run_id", runID)}
	if threadID != "" {
		attrs = append(attrs, slog.String("thread_id", threadID))
	}
	logger.Info("pipeline run starting", attrs...)
}

// LogRunComplete logs successful run completion.
func LogRunComplete(logger *slog.Logger, runID string, durationMs float64, nodeCount int) {
	if logger == nil {
		return
	}
	logger.Info("pipeline run completed",
		slog.String("run_id", runID),
		slog.Float64("duration_ms", durationMs),
		slog.Int("nodes_executed", nodeCount),
	)
}

// LogRunError logs run failure.
func LogRunError(logger *slog.Logger, runID string, err error, durationMs float64, lastNode string) {
	if logger == nil {
		return
	}
	logger.Error("pipeline run failed",
		slog.String("run_id", runID),
		slog.String("error", err.Error()),
		slog.Float64("duration_ms", durationMs),
		slog.String("last_node", lastNode),
	)
}

// LogRunInterrupted logs a run paused before a stage.
func LogRunInterrupted(logger *slog.Logger, runID, nodeID string) {
	if logger == nil {
		return
	}
	logger.Info("pipeline run interrupted",
		slog.String("run_id", runID),
		slog.String("before_node", nodeID),
	)
}

// LogNodeStart logs node execution start.
func LogNodeStart(logger *slog.Logger, nodeID string) {
	if logger == nil {
		return
	}
	logger.Debug("node starting",
		slog.String("node_id", nodeID),
	)
}

// LogNodeComplete logs successful node completion.
func LogNodeComplete(logger *slog.Logger, nodeID string, durationMs float64, fields []string) {
	if logger == nil {
		return
	}
	logger.Debug("node completed",
		slog.String("node_id", nodeID),
		slog.Float64("duration_ms", durationMs),
		slog.Any("updated_fields", fields),
	)
}

// LogNodeError logs node execution error.
func LogNodeError(logger *slog.Logger, nodeID string, err error) {
	if logger == nil {
		return
	}
	logger.Error("node failed",
		slog.String("node_id", nodeID),
		slog.String("error", err.Error()),
	)
}

// LogRoute logs the branch label a router chose.
func LogRoute(logger *slog.Logger, fromNode, label, target string) {
	if logger == nil {
		return
	}
	logger.Debug("route selected",
		slog.String("node_id", fromNode),
		slog.String("label", label),
		slog.String("target", target),
	)
}

// LogCheckpoint logs checkpoint creation.
func LogCheckpoint(logger *slog.Logger, nodeID, checkpointID string, sizeBytes int) {
	if logger == nil {
		return
	}
	logger.Debug("checkpoint saved",
		slog.String("node_id", nodeID),
		slog.String("checkpoint_id", checkpointID),
		slog.Int("size_bytes", sizeBytes),
	)
}

// LogCheckpointError logs checkpoint failure (non-fatal).
func LogCheckpointError(logger *slog.Logger, nodeID string, op string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("checkpoint failed",
		slog.String("node_id", nodeID),
		slog.String("operation", op),
		slog.String("error", err.Error()),
	)
}

// LogInvocation logs one completed tool invocation. Failures reported by
// the handler are logged at warn, transport errors at error.
func LogInvocation(logger *slog.Logger, transport, operation string, durationMs float64, failed bool, err error) {
	if logger == nil {
		return
	}
	attrs := []any{
		slog.String("transport", transport),
		slog.String("operation", operation),
		slog.Float64("duration_ms", durationMs),
	}
	switch {
	case err != nil:
		logger.Error("invocation error", append(attrs, slog.String("error", err.Error()))...)
	case failed:
		logger.Warn("invocation returned failure", attrs...)
	default:
		logger.Debug("invocation completed", attrs...)
	}
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time in milliseconds.
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Milliseconds())
	}
}
