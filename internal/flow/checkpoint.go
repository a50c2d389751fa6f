package flow

import (
	"context"
	"sync"
	"time"
)

// Checkpoint is the persisted snapshot of one thread between Advance calls.
type Checkpoint struct {
	ThreadID string
	// Next is the node the thread resumes at; empty when Done.
	Next string
	// Done marks a terminal thread.
	Done bool
	// State is the full shared-store contents at suspension time.
	State map[string]any
	// UpdatedAt is set by the checkpointer on save.
	UpdatedAt time.Time
}

// Checkpointer persists thread checkpoints keyed by thread identifier.
// Load returns (nil, nil) for an unknown thread.
type Checkpointer interface {
	Save(ctx context.Context, cp *Checkpoint) error
	Load(ctx context.Context, threadID string) (*Checkpoint, error)
	Delete(ctx context.Context, threadID string) error
}

// MemoryCheckpointer keeps checkpoints in process memory. Suitable for tests
// and single-process interactive sessions; state does not survive restarts.
type MemoryCheckpointer struct {
	mu   sync.RWMutex
	data map[string]*Checkpoint
}

// NewMemoryCheckpointer creates an empty in-memory checkpointer.
func NewMemoryCheckpointer() *MemoryCheckpointer {
	return &MemoryCheckpointer{
		data: make(map[string]*Checkpoint),
	}
}

// Save stores a copy of the checkpoint.
func (m *MemoryCheckpointer) Save(ctx context.Context, cp *Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := &Checkpoint{
		ThreadID:  cp.ThreadID,
		Next:      cp.Next,
		Done:      cp.Done,
		State:     make(map[string]any, len(cp.State)),
		UpdatedAt: time.Now(),
	}
	for k, v := range cp.State {
		stored.State[k] = v
	}
	m.data[cp.ThreadID] = stored
	return nil
}

// Load returns a copy of the checkpoint for a thread, or nil if absent.
func (m *MemoryCheckpointer) Load(ctx context.Context, threadID string) (*Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cp, ok := m.data[threadID]
	if !ok {
		return nil, nil
	}
	loaded := &Checkpoint{
		ThreadID:  cp.ThreadID,
		Next:      cp.Next,
		Done:      cp.Done,
		State:     make(map[string]any, len(cp.State)),
		UpdatedAt: cp.UpdatedAt,
	}
	for k, v := range cp.State {
		loaded.State[k] = v
	}
	return loaded, nil
}

// Delete removes a thread's checkpoint. Deleting an unknown thread is a no-op.
func (m *MemoryCheckpointer) Delete(ctx context.Context, threadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, threadID)
	return nil
}
