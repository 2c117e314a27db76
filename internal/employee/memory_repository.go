package employee

import (
	"context"
	"fmt"
	"sync"
)

// MemoryDirectory is a seedable in-memory directory for development and tests.
type MemoryDirectory struct {
	mu      sync.RWMutex
	storage map[string]Employee
}

// NewMemoryDirectory constructs an empty in-memory directory.
func NewMemoryDirectory(seed ...Employee) *MemoryDirectory {
	d := &MemoryDirectory{storage: make(map[string]Employee, len(seed))}
	for _, e := range seed {
		d.storage[e.ID] = e
	}
	return d
}

// Put inserts or replaces an employee.
func (d *MemoryDirectory) Put(e Employee) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.storage[e.ID] = e
}

func (d *MemoryDirectory) Get(_ context.Context, id string) (Employee, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.storage[id]
	if !ok {
		return Employee{}, fmt.Errorf("employee %s: %w", id, ErrNotFound)
	}
	return e, nil
}

func (d *MemoryDirectory) GetMany(_ context.Context, ids []string) ([]Employee, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Employee, 0, len(ids))
	for _, id := range ids {
		if e, ok := d.storage[id]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}
