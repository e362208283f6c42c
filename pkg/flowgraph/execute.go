package flowgraph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/randalmurphal/toolflow/pkg/flowgraph/checkpoint"
	"github.com/randalmurphal/toolflow/pkg/flowgraph/observability"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Run executes the graph with the given initial state.
// Returns the final state and any error encountered.
//
// On success, returns the state after the last node executed.
// On error, returns the state at the point of failure (useful for debugging).
//
// Execution flow:
//  1. Start at the entry point node
//  2. Check for cancellation and interrupts
//  3. Execute the current node and merge its update
//  4. Determine the next node (simple edge, route table, or termination)
//  5. Repeat until END is reached or an error occurs
//
// Nodes run strictly one at a time. Concurrent Run calls on the same
// CompiledGraph are independent.
//
// Example:
//
//	ctx := flowgraph.NewContext(context.Background())
//	result, err := compiled.Run(ctx, initialState)
//	if err != nil {
//	    // result contains state at point of failure
//	}
func (cg *CompiledGraph[S]) Run(ctx Context, state S, opts ...RunOption) (S, error) {
	if ctx == nil {
		return state, ErrNilContext
	}

	cfg := defaultRunConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.checkpointStore != nil {
		if cfg.threadID == "" {
			return state, ErrThreadIDRequired
		}

		// A new run on an existing thread continues its step sequence.
		latest, err := cfg.checkpointStore.Latest(ctx, cfg.threadID)
		switch {
		case err == nil:
			cfg.step = latest.Step + 1
			cfg.parentID = latest.ID
		case !errors.Is(err, checkpoint.ErrNotFound):
			return state, &CheckpointError{Op: "load", Err: err}
		}
	}

	return cg.execute(ctx, state, cg.entryPoint, &cfg, true)
}

// execute wraps the node loop with run-level logging, metrics and tracing.
// writeInput saves the starting state as an input checkpoint.
func (cg *CompiledGraph[S]) execute(ctx Context, state S, start string, cfg *runConfig, writeInput bool) (result S, runErr error) {
	runID := ctx.RunID()
	startTime := time.Now()

	observability.LogRunStart(cfg.logger, runID, cfg.threadID)

	var execCtx context.Context = ctx
	var runSpan trace.Span
	if cfg.tracingEnabled {
		execCtx, runSpan = cfg.spans.StartRunSpan(ctx, "flowgraph", runID)
	}

	var nodeCount int
	if writeInput && cfg.checkpointStore != nil {
		runErr = cg.saveCheckpoint(ctx, cfg, runID, checkpoint.SourceInput, "", state, start)
	}
	if runErr == nil {
		result, nodeCount, runErr = cg.runLoop(execCtx, ctx, state, start, cfg, runID)
	} else {
		result = state
	}

	duration := time.Since(startTime)
	durationMs := float64(duration.Milliseconds())

	var interrupt *InterruptError
	interrupted := errors.As(runErr, &interrupt)

	cfg.metrics.RecordGraphRun(ctx, runErr == nil || interrupted, duration)

	switch {
	case interrupted:
		observability.LogRunInterrupted(cfg.logger, runID, interrupt.NodeID)
		if cfg.tracingEnabled {
			cfg.spans.AddSpanEvent(execCtx, "interrupted", attribute.String("node_id", interrupt.NodeID))
			cfg.spans.EndSpanWithError(runSpan, nil)
		}
	case runErr != nil:
		observability.LogRunError(cfg.logger, runID, runErr, durationMs, lastNodeOf(runErr))
		if cfg.tracingEnabled {
			cfg.spans.EndSpanWithError(runSpan, runErr)
		}
	default:
		observability.LogRunComplete(cfg.logger, runID, durationMs, nodeCount)
		if cfg.tracingEnabled {
			cfg.spans.EndSpanWithError(runSpan, nil)
		}
	}

	return result, runErr
}

// lastNodeOf extracts the failing node from engine errors.
func lastNodeOf(err error) string {
	var nodeErr *NodeError
	var panicErr *PanicError
	var maxErr *MaxIterationsError
	var cancelErr *CancellationError
	var routerErr *RouterError
	var cpErr *CheckpointError
	switch {
	case errors.As(err, &nodeErr):
		return nodeErr.NodeID
	case errors.As(err, &panicErr):
		return panicErr.NodeID
	case errors.As(err, &maxErr):
		return maxErr.LastNodeID
	case errors.As(err, &cancelErr):
		return cancelErr.NodeID
	case errors.As(err, &routerErr):
		return routerErr.FromNode
	case errors.As(err, &cpErr):
		return cpErr.NodeID
	}
	return ""
}

// runLoop executes nodes from startNode until termination.
// tracingCtx carries span context; fgCtx is the flowgraph Context.
// Returns the final state, node count, and any error.
func (cg *CompiledGraph[S]) runLoop(tracingCtx context.Context, fgCtx Context, state S, startNode string, cfg *runConfig, runID string) (S, int, error) {
	current := startNode
	iterations := 0
	nodeCount := 0

	for current != END {
		iterations++
		if iterations > cfg.maxIterations {
			return state, nodeCount, &MaxIterationsError{
				Max:        cfg.maxIterations,
				LastNodeID: current,
				State:      state,
			}
		}

		select {
		case <-fgCtx.Done():
			return state, nodeCount, &CancellationError{
				NodeID:       current,
				State:        state,
				Cause:        fgCtx.Err(),
				WasExecuting: false,
			}
		default:
		}

		if cfg.interruptBefore[current] && current != cfg.skipInterruptFor {
			return state, nodeCount, &InterruptError{
				NodeID:       current,
				ThreadID:     cfg.threadID,
				CheckpointID: cfg.parentID,
				State:        state,
			}
		}
		cfg.skipInterruptFor = ""

		observability.LogNodeStart(cfg.logger, current)

		nodeTracingCtx := tracingCtx
		var nodeSpan trace.Span
		if cfg.tracingEnabled {
			nodeTracingCtx, nodeSpan = cfg.spans.StartNodeSpan(tracingCtx, current)
		}

		nodeStart := time.Now()
		update, nodeErr := cg.executeNode(fgCtx, current, state)
		if nodeErr == nil {
			var mergeErr error
			state, mergeErr = applyUpdate(state, update, cg.fields)
			if mergeErr != nil {
				nodeErr = &NodeError{NodeID: current, Op: "merge", Err: mergeErr}
			}
		}
		nodeDuration := time.Since(nodeStart)

		cfg.metrics.RecordNodeExecution(nodeTracingCtx, current, nodeDuration, nodeErr)
		if cfg.tracingEnabled {
			cfg.spans.EndSpanWithError(nodeSpan, nodeErr)
		}

		if nodeErr != nil {
			observability.LogNodeError(cfg.logger, current, nodeErr)
			if fgCtx.Err() != nil && errors.Is(nodeErr, fgCtx.Err()) {
				return state, nodeCount, &CancellationError{
					NodeID:       current,
					State:        state,
					Cause:        fgCtx.Err(),
					WasExecuting: true,
				}
			}
			return state, nodeCount, nodeErr
		}
		observability.LogNodeComplete(cfg.logger, current, float64(nodeDuration.Milliseconds()), update.Fields())
		nodeCount++

		next, err := cg.nextNode(fgCtx, state, current, cfg)
		if err != nil {
			return state, nodeCount, err
		}

		if cfg.checkpointStore != nil {
			if err := cg.saveCheckpoint(fgCtx, cfg, runID, checkpoint.SourceLoop, current, state, next); err != nil {
				return state, nodeCount, err
			}
		}

		current = next
	}

	return state, nodeCount, nil
}

// saveCheckpoint persists state and advances the thread's step and parent.
func (cg *CompiledGraph[S]) saveCheckpoint(ctx context.Context, cfg *runConfig, runID, source, nodeID string, state S, nextNode string) error {
	stateBytes, err := json.Marshal(state)
	if err != nil {
		return checkpointFailure(cfg, nodeID, "serialize", err)
	}

	cp := checkpoint.New(cfg.threadID, nodeID, cfg.step, stateBytes, nextNode).
		WithParent(cfg.parentID).
		WithSource(source).
		WithRunID(runID)

	if err := cfg.checkpointStore.Put(ctx, cp); err != nil {
		return checkpointFailure(cfg, nodeID, "save", err)
	}

	cfg.step++
	cfg.parentID = cp.ID

	observability.LogCheckpoint(cfg.logger, nodeID, cp.ID, len(stateBytes))
	cfg.metrics.RecordCheckpoint(ctx, nodeID, int64(len(stateBytes)))
	return nil
}

func checkpointFailure(cfg *runConfig, nodeID, op string, err error) error {
	if cfg.checkpointFailureFatal {
		return &CheckpointError{NodeID: nodeID, Op: op, Err: err}
	}
	observability.LogCheckpointError(cfg.logger, nodeID, op, err)
	return nil
}

// executeNode executes a single node with panic recovery.
// Returns the node's update and any error (including wrapped panics).
func (cg *CompiledGraph[S]) executeNode(ctx Context, nodeID string, state S) (update Update[S], err error) {
	fn, exists := cg.getNode(nodeID)
	if !exists {
		return nil, &NodeError{
			NodeID: nodeID,
			Op:     "lookup",
			Err:    fmt.Errorf("%w: %s", ErrNodeNotFound, nodeID),
		}
	}

	nodeCtx := nodeContext(ctx, nodeID)

	defer func() {
		if r := recover(); r != nil {
			update = nil
			err = &PanicError{
				NodeID: nodeID,
				Value:  r,
				Stack:  string(debug.Stack()),
			}
		}
	}()

	update, err = fn(nodeCtx, state)
	if err != nil {
		return nil, &NodeError{
			NodeID: nodeID,
			Op:     "execute",
			Err:    err,
		}
	}

	return update, nil
}

// nextNode determines the next node to execute.
// A conditional node's label is resolved through its route table; a node
// with a simple edge follows it; any other node terminates the run.
func (cg *CompiledGraph[S]) nextNode(ctx Context, state S, current string, cfg *runConfig) (next string, err error) {
	router, conditional := cg.routers[current]
	if !conditional {
		if to, ok := cg.edges[current]; ok {
			return to, nil
		}
		return END, nil
	}

	routerCtx := nodeContext(ctx, current)

	var label string
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = &PanicError{
					NodeID: current,
					Value:  r,
					Stack:  string(debug.Stack()),
				}
			}
		}()
		label = router(routerCtx, state)
	}()
	if err != nil {
		return "", err
	}

	if label == "" {
		return "", &RouterError{
			FromNode: current,
			Returned: label,
			Err:      ErrInvalidRouterResult,
		}
	}

	target, ok := cg.routes[current][label]
	if !ok {
		return "", &RouterError{
			FromNode: current,
			Returned: label,
			Err:      ErrUnknownRoute,
		}
	}

	observability.LogRoute(cfg.logger, current, label, target)
	return target, nil
}
