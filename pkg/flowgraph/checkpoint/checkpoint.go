package checkpoint

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Version is the current checkpoint format version.
// Increment when making breaking changes to checkpoint structure.
const Version = 2

// Source records why a checkpoint was written.
const (
	SourceInput  = "input"  // initial state before the first stage
	SourceLoop   = "loop"   // after a stage completed
	SourceUpdate = "update" // manual state update
)

// Checkpoint is the persisted snapshot of a thread's state.
// Checkpoints in a thread form a chain through ParentID; the one with the
// highest Step is the thread's current state.
type Checkpoint struct {
	Version   int       `json:"version"`
	ID        string    `json:"id"`
	ThreadID  string    `json:"thread_id"`
	ParentID  string    `json:"parent_id,omitempty"`
	RunID     string    `json:"run_id,omitempty"`
	Step      int       `json:"step"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`

	// NodeID is the stage that produced this state (empty for input).
	NodeID string `json:"node_id,omitempty"`
	// NextNode is where execution continues; END when the run finished.
	NextNode string          `json:"next_node"`
	State    json.RawMessage `json:"state"`
}

// New creates a checkpoint with a fresh id. State must already be JSON-serialized.
func New(threadID, nodeID string, step int, state []byte, nextNode string) *Checkpoint {
	return &Checkpoint{
		Version:   Version,
		ID:        uuid.NewString(),
		ThreadID:  threadID,
		Step:      step,
		Source:    SourceLoop,
		Timestamp: time.Now().UTC(),
		NodeID:    nodeID,
		NextNode:  nextNode,
		State:     state,
	}
}

// WithParent links the checkpoint to its predecessor.
func (c *Checkpoint) WithParent(parentID string) *Checkpoint {
	c.ParentID = parentID
	return c
}

// WithSource sets why the checkpoint was written.
func (c *Checkpoint) WithSource(source string) *Checkpoint {
	c.Source = source
	return c
}

// WithRunID records which run wrote the checkpoint.
func (c *Checkpoint) WithRunID(runID string) *Checkpoint {
	c.RunID = runID
	return c
}

// Info returns the checkpoint's metadata.
func (c *Checkpoint) Info() Info {
	return Info{
		ID:        c.ID,
		ThreadID:  c.ThreadID,
		ParentID:  c.ParentID,
		Step:      c.Step,
		Source:    c.Source,
		NodeID:    c.NodeID,
		NextNode:  c.NextNode,
		Timestamp: c.Timestamp,
		Size:      int64(len(c.State)),
	}
}

// Marshal serializes a checkpoint to JSON.
func (c *Checkpoint) Marshal() ([]byte, error) {
	return json.Marshal(c)
}

// Unmarshal deserializes a checkpoint from JSON.
func Unmarshal(data []byte) (*Checkpoint, error) {
	var c Checkpoint
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	return &c, nil
}
