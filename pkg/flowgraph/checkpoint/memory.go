package checkpoint

import (
	"context"
	"slices"
	"sort"
	"sync"
)

// MemoryStore is an in-memory checkpoint store for tests and short-lived
// coordinators. Data is lost when the process exits.
type MemoryStore struct {
	mu      sync.RWMutex
	threads map[string][]*Checkpoint // threadID -> checkpoints ordered by step
	closed  bool
}

// NewMemoryStore creates a new in-memory checkpoint store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		threads: make(map[string][]*Checkpoint),
	}
}

// Put implements Store.
func (m *MemoryStore) Put(_ context.Context, cp *Checkpoint) error {
	if err := validate(cp); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	stored := clone(cp)
	list := m.threads[cp.ThreadID]
	if i := slices.IndexFunc(list, func(c *Checkpoint) bool { return c.ID == cp.ID }); i >= 0 {
		list[i] = stored
	} else {
		list = append(list, stored)
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].Step < list[j].Step })
	m.threads[cp.ThreadID] = list
	return nil
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, threadID, checkpointID string) (*Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	for _, cp := range m.threads[threadID] {
		if cp.ID == checkpointID {
			return clone(cp), nil
		}
	}
	return nil, ErrNotFound
}

// Latest implements Store.
func (m *MemoryStore) Latest(_ context.Context, threadID string) (*Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	list := m.threads[threadID]
	if len(list) == 0 {
		return nil, ErrNotFound
	}
	return clone(list[len(list)-1]), nil
}

// List implements Store.
func (m *MemoryStore) List(_ context.Context, threadID string) ([]Info, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	list := m.threads[threadID]
	infos := make([]Info, 0, len(list))
	for _, cp := range list {
		infos = append(infos, cp.Info())
	}
	return infos, nil
}

// Threads implements Store.
func (m *MemoryStore) Threads(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	ids := make([]string, 0, len(m.threads))
	for id := range m.threads {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

// DeleteThread implements Store.
func (m *MemoryStore) DeleteThread(_ context.Context, threadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	delete(m.threads, threadID)
	return nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.threads = nil
	return nil
}

// Len returns the total number of checkpoints across all threads.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, list := range m.threads {
		count += len(list)
	}
	return count
}

// clone copies a checkpoint so callers can't mutate stored state.
func clone(cp *Checkpoint) *Checkpoint {
	c := *cp
	c.State = slices.Clone(cp.State)
	return &c
}
