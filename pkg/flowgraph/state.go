package flowgraph

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/randalmurphal/toolflow/pkg/flowgraph/checkpoint"
)

// Snapshot is a thread's state at one checkpoint.
type Snapshot[S any] struct {
	// Values is the state.
	Values S
	// Next is the node that runs on resume, or END.
	Next string
	// CheckpointID identifies the checkpoint.
	CheckpointID string
	// ParentID is the checkpoint this one follows.
	ParentID string
	// Step is the checkpoint's position in the thread.
	Step int
	// NodeID is the node (or UpdateState caller) that produced the state.
	NodeID string
	// Source is checkpoint.SourceInput, SourceLoop or SourceUpdate.
	Source    string
	CreatedAt time.Time
}

// Done reports whether the thread has nothing left to run.
func (s Snapshot[S]) Done() bool {
	return s.Next == END
}

func snapshotOf[S any](cp *checkpoint.Checkpoint) (Snapshot[S], error) {
	values, err := decodeState[S](cp)
	if err != nil {
		return Snapshot[S]{}, err
	}
	return Snapshot[S]{
		Values:       values,
		Next:         cp.NextNode,
		CheckpointID: cp.ID,
		ParentID:     cp.ParentID,
		Step:         cp.Step,
		NodeID:       cp.NodeID,
		Source:       cp.Source,
		CreatedAt:    cp.Timestamp,
	}, nil
}

// GetState returns the thread's latest snapshot.
func (cg *CompiledGraph[S]) GetState(ctx context.Context, store checkpoint.Store, threadID string) (Snapshot[S], error) {
	cp, err := latestCheckpoint(ctx, store, threadID)
	if err != nil {
		return Snapshot[S]{}, err
	}
	return snapshotOf[S](cp)
}

// StateHistory returns every snapshot in the thread, newest first.
func (cg *CompiledGraph[S]) StateHistory(ctx context.Context, store checkpoint.Store, threadID string) ([]Snapshot[S], error) {
	infos, err := store.List(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}

	history := make([]Snapshot[S], 0, len(infos))
	for _, info := range slices.Backward(infos) {
		cp, err := store.Get(ctx, threadID, info.ID)
		if err != nil {
			return nil, fmt.Errorf("load checkpoint %s: %w", info.ID, err)
		}
		snap, err := snapshotOf[S](cp)
		if err != nil {
			return nil, err
		}
		history = append(history, snap)
	}
	return history, nil
}

// UpdateState merges update into the thread's latest state with the declared
// field policies and writes the result as a new checkpoint.
//
// If asNode is empty the pending next node is kept. Otherwise the update is
// treated as if asNode had just produced it, and the next node is computed
// from asNode's outgoing edge or route table.
func (cg *CompiledGraph[S]) UpdateState(ctx context.Context, store checkpoint.Store, threadID string, update Update[S], asNode string) (Snapshot[S], error) {
	latest, err := latestCheckpoint(ctx, store, threadID)
	if err != nil {
		return Snapshot[S]{}, err
	}

	state, err := decodeState[S](latest)
	if err != nil {
		return Snapshot[S]{}, err
	}

	state, err = applyUpdate(state, update, cg.fields)
	if err != nil {
		return Snapshot[S]{}, err
	}

	next := latest.NextNode
	if asNode != "" {
		if !cg.HasNode(asNode) {
			return Snapshot[S]{}, fmt.Errorf("%w: %s", ErrNodeNotFound, asNode)
		}
		cfg := defaultRunConfig()
		next, err = cg.nextNode(NewContext(ctx), state, asNode, &cfg)
		if err != nil {
			return Snapshot[S]{}, err
		}
	}

	data, err := json.Marshal(state)
	if err != nil {
		return Snapshot[S]{}, &CheckpointError{NodeID: asNode, Op: "serialize", Err: err}
	}

	cp := checkpoint.New(threadID, asNode, latest.Step+1, data, next).
		WithParent(latest.ID).
		WithSource(checkpoint.SourceUpdate)
	if err := store.Put(ctx, cp); err != nil {
		return Snapshot[S]{}, &CheckpointError{NodeID: asNode, Op: "save", Err: err}
	}

	return snapshotOf[S](cp)
}
