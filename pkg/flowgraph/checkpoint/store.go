// Package checkpoint persists pipeline state per conversation thread so runs
// can be inspected, edited and resumed.
package checkpoint

import (
	"context"
	"errors"
	"time"
)

// Store persists checkpoints grouped by thread.
// Implementations must be safe for concurrent use.
type Store interface {
	// Put stores a checkpoint. A checkpoint with the same (thread, id)
	// is overwritten.
	Put(ctx context.Context, cp *Checkpoint) error

	// Get retrieves one checkpoint. Returns ErrNotFound if it doesn't exist.
	Get(ctx context.Context, threadID, checkpointID string) (*Checkpoint, error)

	// Latest returns the checkpoint with the highest step in the thread.
	// Returns ErrNotFound if the thread has no checkpoints.
	Latest(ctx context.Context, threadID string) (*Checkpoint, error)

	// List returns metadata for every checkpoint in the thread, ordered by step.
	// Returns an empty slice (not an error) for unknown threads.
	List(ctx context.Context, threadID string) ([]Info, error)

	// Threads returns every thread id with at least one checkpoint, sorted.
	Threads(ctx context.Context) ([]string, error)

	// DeleteThread removes all checkpoints for a thread.
	// Returns nil if the thread has no checkpoints.
	DeleteThread(ctx context.Context, threadID string) error

	// Close releases any resources (connections, files).
	Close() error
}

// Info provides metadata without loading full state.
type Info struct {
	ID        string
	ThreadID  string
	ParentID  string
	Step      int
	Source    string
	NodeID    string
	NextNode  string
	Timestamp time.Time
	Size      int64
}

// Sentinel errors for checkpoint operations.
var (
	// ErrNotFound indicates a checkpoint doesn't exist.
	ErrNotFound = errors.New("checkpoint not found")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("checkpoint store closed")

	// ErrInvalidCheckpoint indicates a checkpoint is missing its id or thread.
	ErrInvalidCheckpoint = errors.New("checkpoint requires id and thread id")
)

func validate(cp *Checkpoint) error {
	if cp == nil || cp.ID == "" || cp.ThreadID == "" {
		return ErrInvalidCheckpoint
	}
	return nil
}
