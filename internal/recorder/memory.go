package recorder

import (
	"context"
	"sync"

	"github.com/fyrsmithlabs/promptloop/internal/loop"
)

// MemoryStore is an in-memory loop.Recorder for tests and local runs.
// Entries are retained in append order.
type MemoryStore struct {
	mu      sync.Mutex
	entries []loop.IterationRecord

	// FailWith, when set, is returned from every append. Used to exercise
	// the loop's best-effort recording contract.
	FailWith error
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// RecordLoopIteration appends the record in memory.
func (m *MemoryStore) RecordLoopIteration(_ context.Context, rec loop.IterationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return m.FailWith
	}
	m.entries = append(m.entries, rec)
	return nil
}

// Entries returns a copy of the appended records in order.
func (m *MemoryStore) Entries() []loop.IterationRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]loop.IterationRecord, len(m.entries))
	copy(out, m.entries)
	return out
}
