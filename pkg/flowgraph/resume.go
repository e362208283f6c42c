package flowgraph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/randalmurphal/toolflow/pkg/flowgraph/checkpoint"
)

// Resume continues a thread from its latest checkpoint.
// Execution starts at the checkpoint's next node; an interrupt registered
// for that node is skipped once so an interrupted run can proceed.
// If the thread already finished, the stored state is returned unchanged.
//
// Options are the same as for Run; checkpointing to store on threadID is
// always enabled.
//
// Example:
//
//	// Run paused before "approve"
//	_, err := compiled.Run(ctx, state,
//	    flowgraph.WithCheckpointing(store),
//	    flowgraph.WithThreadID("thread-1"),
//	    flowgraph.WithInterruptBefore("approve"))
//	// ...human edits state with UpdateState...
//	result, err := compiled.Resume(ctx, store, "thread-1")
func (cg *CompiledGraph[S]) Resume(ctx Context, store checkpoint.Store, threadID string, opts ...RunOption) (S, error) {
	var zero S

	if ctx == nil {
		return zero, ErrNilContext
	}

	cp, err := latestCheckpoint(ctx, store, threadID)
	if err != nil {
		return zero, err
	}

	return cg.resumeFrom(ctx, store, cp, cp, opts)
}

// ResumeFrom continues a thread from a specific earlier checkpoint, forking
// the history: new checkpoints take the checkpoint as parent and continue
// the thread's step sequence.
func (cg *CompiledGraph[S]) ResumeFrom(ctx Context, store checkpoint.Store, threadID, checkpointID string, opts ...RunOption) (S, error) {
	var zero S

	if ctx == nil {
		return zero, ErrNilContext
	}

	cp, err := store.Get(ctx, threadID, checkpointID)
	if err != nil {
		if errors.Is(err, checkpoint.ErrNotFound) {
			return zero, fmt.Errorf("%w: %s at checkpoint %s", ErrNoCheckpoints, threadID, checkpointID)
		}
		return zero, fmt.Errorf("load checkpoint: %w", err)
	}

	latest, err := latestCheckpoint(ctx, store, threadID)
	if err != nil {
		return zero, err
	}

	return cg.resumeFrom(ctx, store, cp, latest, opts)
}

func (cg *CompiledGraph[S]) resumeFrom(ctx Context, store checkpoint.Store, cp, latest *checkpoint.Checkpoint, opts []RunOption) (S, error) {
	state, err := decodeState[S](cp)
	if err != nil {
		var zero S
		return zero, err
	}

	if cp.NextNode == END {
		return state, nil
	}
	if !cg.HasNode(cp.NextNode) {
		return state, fmt.Errorf("%w: %s", ErrInvalidResumeNode, cp.NextNode)
	}

	cfg := defaultRunConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.checkpointStore = store
	cfg.threadID = cp.ThreadID
	cfg.step = latest.Step + 1
	cfg.parentID = cp.ID
	cfg.skipInterruptFor = cp.NextNode

	return cg.execute(ctx, state, cp.NextNode, &cfg, false)
}

// latestCheckpoint loads the newest checkpoint in a thread.
func latestCheckpoint(ctx context.Context, store checkpoint.Store, threadID string) (*checkpoint.Checkpoint, error) {
	cp, err := store.Latest(ctx, threadID)
	if errors.Is(err, checkpoint.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNoCheckpoints, threadID)
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	return cp, nil
}

// decodeState checks the checkpoint version and deserializes its state.
func decodeState[S any](cp *checkpoint.Checkpoint) (S, error) {
	var state S
	if cp.Version != checkpoint.Version {
		return state, fmt.Errorf("%w: got %d, expected %d",
			ErrCheckpointVersionMismatch, cp.Version, checkpoint.Version)
	}
	if err := json.Unmarshal(cp.State, &state); err != nil {
		return state, fmt.Errorf("%w: %v", ErrDeserializeState, err)
	}
	return state, nil
}
