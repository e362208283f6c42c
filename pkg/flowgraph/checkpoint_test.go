package flowgraph_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/toolflow/pkg/flowgraph"
	"github.com/randalmurphal/toolflow/pkg/flowgraph/checkpoint"
)

// CheckpointState for checkpoint integration tests.
type CheckpointState struct {
	Value    int      `json:"value"`
	Messages []string `json:"messages"`
}

var (
	cpValue    = flowgraph.NewField("value", func(s *CheckpointState) *int { return &s.Value }, flowgraph.Sum[int]())
	cpMessages = flowgraph.NewField("messages", func(s *CheckpointState) *[]string { return &s.Messages }, flowgraph.Append[string]())
)

// recorder tracks which nodes ran.
type recorder struct {
	ran []string
}

func (r *recorder) node(name string) flowgraph.NodeFunc[CheckpointState] {
	return func(ctx flowgraph.Context, s CheckpointState) (flowgraph.Update[CheckpointState], error) {
		r.ran = append(r.ran, name)
		return flowgraph.Update[CheckpointState]{cpValue.Set(1), cpMessages.Set([]string{name})}, nil
	}
}

// linearABC compiles a -> b -> c -> END.
func linearABC(t *testing.T, rec *recorder) *flowgraph.CompiledGraph[CheckpointState] {
	t.Helper()
	compiled, err := flowgraph.NewGraph[CheckpointState](cpValue, cpMessages).
		AddNode("a", rec.node("a")).
		AddNode("b", rec.node("b")).
		AddNode("c", rec.node("c")).
		AddEdge("a", "b").
		AddEdge("b", "c").
		AddEdge("c", flowgraph.END).
		SetEntry("a").
		Compile()
	require.NoError(t, err)
	return compiled
}

func bgCtx() flowgraph.Context {
	return flowgraph.NewContext(context.Background())
}

// failingPutStore rejects every write.
type failingPutStore struct {
	checkpoint.Store
}

func (s failingPutStore) Put(ctx context.Context, cp *checkpoint.Checkpoint) error {
	return errors.New("disk full")
}

func TestCheckpointing_BasicExecution(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	rec := &recorder{}
	compiled := linearABC(t, rec)

	result, err := compiled.Run(bgCtx(), CheckpointState{},
		flowgraph.WithCheckpointing(store),
		flowgraph.WithThreadID("thread-1"))

	require.NoError(t, err)
	assert.Equal(t, 3, result.Value)
	assert.Equal(t, []string{"a", "b", "c"}, result.Messages)

	infos, err := store.List(context.Background(), "thread-1")
	require.NoError(t, err)
	require.Len(t, infos, 4) // input plus one per node

	assert.Equal(t, checkpoint.SourceInput, infos[0].Source)
	assert.Equal(t, "a", infos[0].NextNode)
	for i, info := range infos {
		assert.Equal(t, i, info.Step)
		if i > 0 {
			assert.Equal(t, checkpoint.SourceLoop, info.Source)
			assert.Equal(t, infos[i-1].ID, info.ParentID)
		}
	}
	assert.Equal(t, "c", infos[3].NodeID)
	assert.Equal(t, flowgraph.END, infos[3].NextNode)
}

func TestCheckpointing_RequiresThreadID(t *testing.T) {
	rec := &recorder{}
	compiled := linearABC(t, rec)

	_, err := compiled.Run(bgCtx(), CheckpointState{},
		flowgraph.WithCheckpointing(checkpoint.NewMemoryStore()))

	assert.ErrorIs(t, err, flowgraph.ErrThreadIDRequired)
	assert.Empty(t, rec.ran)
}

func TestCheckpointing_RunIDRecorded(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	compiled := linearABC(t, &recorder{})

	ctx := flowgraph.NewContext(context.Background(), flowgraph.WithContextRunID("run-42"))
	_, err := compiled.Run(ctx, CheckpointState{},
		flowgraph.WithCheckpointing(store),
		flowgraph.WithThreadID("thread-1"))
	require.NoError(t, err)

	latest, err := store.Latest(context.Background(), "thread-1")
	require.NoError(t, err)
	assert.Equal(t, "run-42", latest.RunID)
}

func TestCheckpointing_ResumeCompletedThread(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	rec := &recorder{}
	compiled := linearABC(t, rec)

	_, err := compiled.Run(bgCtx(), CheckpointState{},
		flowgraph.WithCheckpointing(store),
		flowgraph.WithThreadID("done"))
	require.NoError(t, err)
	rec.ran = nil

	result, err := compiled.Resume(bgCtx(), store, "done")
	require.NoError(t, err)

	assert.Empty(t, rec.ran, "finished thread should not execute nodes")
	assert.Equal(t, 3, result.Value)
}

func TestCheckpointing_ResumeAfterCrash(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	var ran []string
	crash := true

	node := func(name string) flowgraph.NodeFunc[CheckpointState] {
		return func(ctx flowgraph.Context, s CheckpointState) (flowgraph.Update[CheckpointState], error) {
			ran = append(ran, name)
			if name == "b" && crash {
				return nil, errors.New("simulated crash")
			}
			return flowgraph.Update[CheckpointState]{cpValue.Set(1), cpMessages.Set([]string{name})}, nil
		}
	}

	compiled, err := flowgraph.NewGraph[CheckpointState](cpValue, cpMessages).
		AddNode("a", node("a")).
		AddNode("b", node("b")).
		AddNode("c", node("c")).
		AddEdge("a", "b").
		AddEdge("b", "c").
		SetEntry("a").
		Compile()
	require.NoError(t, err)

	_, err = compiled.Run(bgCtx(), CheckpointState{},
		flowgraph.WithCheckpointing(store),
		flowgraph.WithThreadID("crash"))
	require.Error(t, err)
	assert.Equal(t, []string{"a", "b"}, ran)

	crash = false
	ran = nil

	result, err := compiled.Resume(bgCtx(), store, "crash")
	require.NoError(t, err)

	assert.Equal(t, []string{"b", "c"}, ran, "resume starts at the failed node")
	assert.Equal(t, 3, result.Value)
	assert.Equal(t, []string{"a", "b", "c"}, result.Messages)
}

func TestCheckpointing_ResumeFrom(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	rec := &recorder{}
	compiled := linearABC(t, rec)
	bg := context.Background()

	_, err := compiled.Run(bgCtx(), CheckpointState{},
		flowgraph.WithCheckpointing(store),
		flowgraph.WithThreadID("fork"))
	require.NoError(t, err)

	infos, err := store.List(bg, "fork")
	require.NoError(t, err)
	afterA := infos[1]
	require.Equal(t, "a", afterA.NodeID)

	rec.ran = nil
	result, err := compiled.ResumeFrom(bgCtx(), store, "fork", afterA.ID)
	require.NoError(t, err)

	assert.Equal(t, []string{"b", "c"}, rec.ran)
	assert.Equal(t, 3, result.Value)

	infos, err = store.List(bg, "fork")
	require.NoError(t, err)
	require.Len(t, infos, 6)
	assert.Equal(t, 4, infos[4].Step)
	assert.Equal(t, afterA.ID, infos[4].ParentID, "fork links to the chosen checkpoint")
	assert.Equal(t, infos[4].ID, infos[5].ParentID)
}

func TestCheckpointing_ResumeFrom_UnknownCheckpoint(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	compiled := linearABC(t, &recorder{})

	_, err := compiled.Run(bgCtx(), CheckpointState{},
		flowgraph.WithCheckpointing(store),
		flowgraph.WithThreadID("t"))
	require.NoError(t, err)

	_, err = compiled.ResumeFrom(bgCtx(), store, "t", "missing")
	assert.ErrorIs(t, err, flowgraph.ErrNoCheckpoints)
}

func TestCheckpointing_ContinuesThreadSteps(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	compiled := linearABC(t, &recorder{})
	bg := context.Background()

	for range 2 {
		_, err := compiled.Run(bgCtx(), CheckpointState{},
			flowgraph.WithCheckpointing(store),
			flowgraph.WithThreadID("chat"))
		require.NoError(t, err)
	}

	infos, err := store.List(bg, "chat")
	require.NoError(t, err)
	require.Len(t, infos, 8)
	assert.Equal(t, 4, infos[4].Step)
	assert.Equal(t, checkpoint.SourceInput, infos[4].Source)
	assert.Equal(t, infos[3].ID, infos[4].ParentID)
}

func TestCheckpointing_InterruptAndResume(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	rec := &recorder{}
	compiled := linearABC(t, rec)

	state, err := compiled.Run(bgCtx(), CheckpointState{},
		flowgraph.WithCheckpointing(store),
		flowgraph.WithThreadID("review"),
		flowgraph.WithInterruptBefore("b"))

	var interrupt *flowgraph.InterruptError
	require.ErrorAs(t, err, &interrupt)
	assert.ErrorIs(t, err, flowgraph.ErrInterrupted)
	assert.Equal(t, "b", interrupt.NodeID)
	assert.Equal(t, "review", interrupt.ThreadID)
	assert.Equal(t, []string{"a"}, rec.ran)
	assert.Equal(t, 1, state.Value)

	latest, err := store.Latest(context.Background(), "review")
	require.NoError(t, err)
	assert.Equal(t, latest.ID, interrupt.CheckpointID)
	assert.Equal(t, "b", latest.NextNode)

	snap, err := compiled.UpdateState(context.Background(), store, "review",
		flowgraph.Update[CheckpointState]{cpMessages.Set([]string{"approved"})}, "")
	require.NoError(t, err)
	assert.Equal(t, "b", snap.Next, "update without asNode keeps the pending node")
	assert.Equal(t, checkpoint.SourceUpdate, snap.Source)

	result, err := compiled.Resume(bgCtx(), store, "review", flowgraph.WithInterruptBefore("b"))
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b", "c"}, rec.ran)
	assert.Equal(t, []string{"a", "approved", "b", "c"}, result.Messages)
}

func TestCheckpointing_InterruptBeforeEntry(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	rec := &recorder{}
	compiled := linearABC(t, rec)

	_, err := compiled.Run(bgCtx(), CheckpointState{Value: 10},
		flowgraph.WithCheckpointing(store),
		flowgraph.WithThreadID("entry"),
		flowgraph.WithInterruptBefore("a"))
	require.ErrorIs(t, err, flowgraph.ErrInterrupted)
	assert.Empty(t, rec.ran)

	result, err := compiled.Resume(bgCtx(), store, "entry")
	require.NoError(t, err)
	assert.Equal(t, 13, result.Value)
}

func TestCheckpointing_ResumeStopsAtNextInterrupt(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	rec := &recorder{}
	compiled := linearABC(t, rec)

	_, err := compiled.Run(bgCtx(), CheckpointState{},
		flowgraph.WithCheckpointing(store),
		flowgraph.WithThreadID("steps"),
		flowgraph.WithInterruptBefore("b", "c"))
	require.ErrorIs(t, err, flowgraph.ErrInterrupted)

	_, err = compiled.Resume(bgCtx(), store, "steps", flowgraph.WithInterruptBefore("b", "c"))
	var interrupt *flowgraph.InterruptError
	require.ErrorAs(t, err, &interrupt)
	assert.Equal(t, "c", interrupt.NodeID)
	assert.Equal(t, []string{"a", "b"}, rec.ran)
}

func TestCheckpointing_UpdateStateAsNode(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	rec := &recorder{}
	compiled := linearABC(t, rec)
	bg := context.Background()

	_, err := compiled.Run(bgCtx(), CheckpointState{},
		flowgraph.WithCheckpointing(store),
		flowgraph.WithThreadID("edit"))
	require.NoError(t, err)

	snap, err := compiled.UpdateState(bg, store, "edit",
		flowgraph.Update[CheckpointState]{cpValue.Set(100)}, "b")
	require.NoError(t, err)
	assert.Equal(t, "c", snap.Next)
	assert.Equal(t, 103, snap.Values.Value)
	assert.Equal(t, "b", snap.NodeID)
	assert.False(t, snap.Done())

	rec.ran = nil
	result, err := compiled.Resume(bgCtx(), store, "edit")
	require.NoError(t, err)

	assert.Equal(t, []string{"c"}, rec.ran)
	assert.Equal(t, 104, result.Value)
}

func TestCheckpointing_UpdateStateErrors(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	compiled := linearABC(t, &recorder{})
	bg := context.Background()

	_, err := compiled.UpdateState(bg, store, "nothing", nil, "")
	assert.ErrorIs(t, err, flowgraph.ErrNoCheckpoints)

	_, err = compiled.Run(bgCtx(), CheckpointState{},
		flowgraph.WithCheckpointing(store),
		flowgraph.WithThreadID("edit"))
	require.NoError(t, err)

	_, err = compiled.UpdateState(bg, store, "edit", nil, "ghost")
	assert.ErrorIs(t, err, flowgraph.ErrNodeNotFound)

	other := flowgraph.NewField("value", func(s *CheckpointState) *int { return &s.Value }, nil)
	_, err = compiled.UpdateState(bg, store, "edit",
		flowgraph.Update[CheckpointState]{other.Set(5)}, "")
	assert.ErrorIs(t, err, flowgraph.ErrUndeclaredField)
}

func TestCheckpointing_StateHistory(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	compiled := linearABC(t, &recorder{})
	bg := context.Background()

	_, err := compiled.Run(bgCtx(), CheckpointState{},
		flowgraph.WithCheckpointing(store),
		flowgraph.WithThreadID("hist"))
	require.NoError(t, err)

	history, err := compiled.StateHistory(bg, store, "hist")
	require.NoError(t, err)
	require.Len(t, history, 4)

	assert.Equal(t, 3, history[0].Step, "newest first")
	assert.True(t, history[0].Done())
	assert.Equal(t, checkpoint.SourceInput, history[3].Source)
	assert.Equal(t, 0, history[3].Values.Value)
	assert.Equal(t, []string{"a", "b"}, history[1].Values.Messages)

	current, err := compiled.GetState(bg, store, "hist")
	require.NoError(t, err)
	assert.Equal(t, history[0].CheckpointID, current.CheckpointID)
	assert.Equal(t, history[0].Values, current.Values)
}

func TestCheckpointing_StateHistory_UnknownThread(t *testing.T) {
	compiled := linearABC(t, &recorder{})

	history, err := compiled.StateHistory(context.Background(), checkpoint.NewMemoryStore(), "none")
	require.NoError(t, err)
	assert.Empty(t, history)

	_, err = compiled.GetState(context.Background(), checkpoint.NewMemoryStore(), "none")
	assert.ErrorIs(t, err, flowgraph.ErrNoCheckpoints)
}

func TestCheckpointing_FailureFatalByDefault(t *testing.T) {
	rec := &recorder{}
	compiled := linearABC(t, rec)

	_, err := compiled.Run(bgCtx(), CheckpointState{},
		flowgraph.WithCheckpointing(failingPutStore{checkpoint.NewMemoryStore()}),
		flowgraph.WithThreadID("t"))

	var cpErr *flowgraph.CheckpointError
	require.ErrorAs(t, err, &cpErr)
	assert.Equal(t, "save", cpErr.Op)
	assert.Empty(t, rec.ran, "input checkpoint failure stops the run")
}

func TestCheckpointing_FailureNonFatal(t *testing.T) {
	rec := &recorder{}
	compiled := linearABC(t, rec)

	result, err := compiled.Run(bgCtx(), CheckpointState{},
		flowgraph.WithCheckpointing(failingPutStore{checkpoint.NewMemoryStore()}),
		flowgraph.WithThreadID("t"),
		flowgraph.WithCheckpointFailureFatal(false))

	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, rec.ran)
	assert.Equal(t, 3, result.Value)
}

func TestCheckpointing_SQLiteStore(t *testing.T) {
	store, err := checkpoint.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer store.Close()

	rec := &recorder{}
	compiled := linearABC(t, rec)

	_, err = compiled.Run(bgCtx(), CheckpointState{},
		flowgraph.WithCheckpointing(store),
		flowgraph.WithThreadID("sqlite"),
		flowgraph.WithInterruptBefore("c"))
	require.ErrorIs(t, err, flowgraph.ErrInterrupted)

	result, err := compiled.Resume(bgCtx(), store, "sqlite")
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b", "c"}, rec.ran)
	assert.Equal(t, []string{"a", "b", "c"}, result.Messages)

	threads, err := store.Threads(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"sqlite"}, threads)
}
