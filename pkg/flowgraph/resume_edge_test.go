package flowgraph_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/toolflow/pkg/flowgraph"
	"github.com/randalmurphal/toolflow/pkg/flowgraph/checkpoint"
)

// putRaw stores a hand-built checkpoint for a thread.
func putRaw(t *testing.T, store checkpoint.Store, thread string, mutate func(cp *checkpoint.Checkpoint)) *checkpoint.Checkpoint {
	t.Helper()
	state, err := json.Marshal(CheckpointState{Value: 10})
	require.NoError(t, err)

	cp := checkpoint.New(thread, "a", 1, state, "b")
	if mutate != nil {
		mutate(cp)
	}
	require.NoError(t, store.Put(context.Background(), cp))
	return cp
}

// TestResume_EdgeCases tests checkpoint contents Resume and ResumeFrom reject.
func TestResume_EdgeCases(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(cp *checkpoint.Checkpoint)
		wantErr error
		errMsg  string
	}{
		{
			name:    "checkpoint version mismatch",
			mutate:  func(cp *checkpoint.Checkpoint) { cp.Version = 42 },
			wantErr: flowgraph.ErrCheckpointVersionMismatch,
			errMsg:  "got 42",
		},
		{
			name:    "corrupted state",
			mutate:  func(cp *checkpoint.Checkpoint) { cp.State = json.RawMessage(`{"value": "not a number"}`) },
			wantErr: flowgraph.ErrDeserializeState,
		},
		{
			name:    "next node not in graph",
			mutate:  func(cp *checkpoint.Checkpoint) { cp.NextNode = "removed-node" },
			wantErr: flowgraph.ErrInvalidResumeNode,
			errMsg:  "removed-node",
		},
	}

	for _, tt := range tests {
		t.Run("Resume/"+tt.name, func(t *testing.T) {
			store := checkpoint.NewMemoryStore()
			rec := &recorder{}
			compiled := linearABC(t, rec)
			putRaw(t, store, "edge", tt.mutate)

			_, err := compiled.Resume(bgCtx(), store, "edge")

			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			if tt.errMsg != "" {
				assert.Contains(t, err.Error(), tt.errMsg)
			}
			assert.Empty(t, rec.ran)
		})

		t.Run("ResumeFrom/"+tt.name, func(t *testing.T) {
			store := checkpoint.NewMemoryStore()
			rec := &recorder{}
			compiled := linearABC(t, rec)
			cp := putRaw(t, store, "edge", tt.mutate)

			_, err := compiled.ResumeFrom(bgCtx(), store, "edge", cp.ID)

			assert.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, rec.ran)
		})
	}
}

// TestResume_VersionMismatchMessage tests the expected version is reported.
func TestResume_VersionMismatchMessage(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	compiled := linearABC(t, &recorder{})
	putRaw(t, store, "old", func(cp *checkpoint.Checkpoint) { cp.Version = 1 })

	_, err := compiled.Resume(bgCtx(), store, "old")

	assert.ErrorIs(t, err, flowgraph.ErrCheckpointVersionMismatch)
	assert.Contains(t, err.Error(), "expected 2")
}

// TestResume_NoCheckpoints tests Resume with no checkpoints.
func TestResume_NoCheckpoints(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	compiled := linearABC(t, &recorder{})

	_, err := compiled.Resume(bgCtx(), store, "nonexistent-thread")

	require.Error(t, err)
	assert.ErrorIs(t, err, flowgraph.ErrNoCheckpoints)
	assert.Contains(t, err.Error(), "nonexistent-thread")
}

// TestResume_ENDAsNextNode tests that a finished checkpoint returns its state.
func TestResume_ENDAsNextNode(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	rec := &recorder{}
	compiled := linearABC(t, rec)
	cp := putRaw(t, store, "finished", func(cp *checkpoint.Checkpoint) { cp.NextNode = flowgraph.END })

	result, err := compiled.Resume(bgCtx(), store, "finished")
	require.NoError(t, err)
	assert.Equal(t, 10, result.Value)

	result, err = compiled.ResumeFrom(bgCtx(), store, "finished", cp.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, result.Value)

	assert.Empty(t, rec.ran)
}

// TestResume_FromHandBuiltCheckpoint tests resuming a checkpoint written
// outside a run.
func TestResume_FromHandBuiltCheckpoint(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	rec := &recorder{}
	compiled := linearABC(t, rec)
	putRaw(t, store, "manual", nil)

	result, err := compiled.Resume(bgCtx(), store, "manual")
	require.NoError(t, err)

	assert.Equal(t, []string{"b", "c"}, rec.ran)
	assert.Equal(t, 12, result.Value)

	latest, err := store.Latest(context.Background(), "manual")
	require.NoError(t, err)
	assert.Equal(t, 3, latest.Step)
}

// TestResumeFrom_NilContext tests ResumeFrom with nil context.
func TestResumeFrom_NilContext(t *testing.T) {
	compiled := linearABC(t, &recorder{})

	//nolint:staticcheck // Testing nil context handling
	_, err := compiled.ResumeFrom(nil, checkpoint.NewMemoryStore(), "thread", "cp")

	assert.ErrorIs(t, err, flowgraph.ErrNilContext)
}

// TestResume_NilContext tests Resume with nil context.
func TestResume_NilContext(t *testing.T) {
	compiled := linearABC(t, &recorder{})

	//nolint:staticcheck // Testing nil context handling
	_, err := compiled.Resume(nil, checkpoint.NewMemoryStore(), "thread")

	assert.ErrorIs(t, err, flowgraph.ErrNilContext)
}
