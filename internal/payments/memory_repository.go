package payments

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

type memoryRepository struct {
	mu       sync.Mutex
	payments map[string]Payment
	batches  map[string]Batch
	order    map[string]int
	seq      int
}

// NewMemoryRepository returns an in-memory repository for development and tests.
func NewMemoryRepository() Repository {
	return &memoryRepository{
		payments: make(map[string]Payment),
		batches:  make(map[string]Batch),
		order:    make(map[string]int),
	}
}

func (r *memoryRepository) insert(p Payment) error {
	if _, exists := r.payments[p.ID]; exists {
		return fmt.Errorf("payment %s already exists", p.ID)
	}
	r.seq++
	r.payments[p.ID] = p
	r.order[p.ID] = r.seq
	return nil
}

func (r *memoryRepository) CreatePayment(_ context.Context, p Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.insert(p)
}

func (r *memoryRepository) CreateBatch(_ context.Context, b Batch, members []Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.batches[b.ID]; exists {
		return fmt.Errorf("batch %s already exists", b.ID)
	}
	for _, p := range members {
		if _, exists := r.payments[p.ID]; exists {
			return fmt.Errorf("payment %s already exists", p.ID)
		}
	}
	r.batches[b.ID] = b
	for _, p := range members {
		_ = r.insert(p)
	}
	return nil
}

func (r *memoryRepository) GetPayment(_ context.Context, id string) (Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payments[id]
	if !ok {
		return Payment{}, fmt.Errorf("payment %s: %w", id, ErrNotFound)
	}
	return p, nil
}

func (r *memoryRepository) GetBatch(_ context.Context, id string) (Batch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.batches[id]
	if !ok {
		return Batch{}, fmt.Errorf("batch %s: %w", id, ErrNotFound)
	}
	return b, nil
}

func (r *memoryRepository) ListPayments(_ context.Context, f Filter) ([]Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Payment, 0)
	for _, p := range r.payments {
		if f.Status != "" && p.Status != f.Status {
			continue
		}
		if f.Network != "" && p.Network != f.Network {
			continue
		}
		if f.EmployeeID != "" && p.EmployeeID != f.EmployeeID {
			continue
		}
		if f.BatchID != "" && p.BatchID != f.BatchID {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return r.order[out[i].ID] > r.order[out[j].ID]
	})
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return []Payment{}, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r *memoryRepository) BatchPayments(_ context.Context, batchID string) ([]Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.batches[batchID]; !ok {
		return nil, fmt.Errorf("batch %s: %w", batchID, ErrNotFound)
	}
	out := make([]Payment, 0)
	for _, p := range r.payments {
		if p.BatchID == batchID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return r.order[out[i].ID] < r.order[out[j].ID] })
	return out, nil
}

func (r *memoryRepository) UpdatePayment(_ context.Context, id string, fn Mutation) (Payment, *Batch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payments[id]
	if !ok {
		return Payment{}, nil, fmt.Errorf("payment %s: %w", id, ErrNotFound)
	}
	var batch *Batch
	if p.BatchID != "" {
		b, ok := r.batches[p.BatchID]
		if !ok {
			return Payment{}, nil, fmt.Errorf("batch %s: %w", p.BatchID, ErrNotFound)
		}
		batch = &b
	}
	if err := fn(&p, batch); err != nil {
		return Payment{}, nil, err
	}
	r.payments[id] = p
	if batch != nil {
		r.batches[batch.ID] = *batch
	}
	return p, batch, nil
}
