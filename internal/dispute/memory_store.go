package dispute

import (
	"context"
	"sort"
	"sync"

	"github.com/Adam-Maverick/perks-app-sub000/internal/pagination"
)

// MemoryStore is an in-memory dispute store for tests and local
// development.
type MemoryStore struct {
	mu       sync.RWMutex
	disputes map[string]*Dispute
	byHold   map[string]string
}

// NewMemoryStore creates an in-memory dispute store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		disputes: make(map[string]*Dispute),
		byHold:   make(map[string]string),
	}
}

func (m *MemoryStore) Create(_ context.Context, d *Dispute) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byHold[d.HoldID]; exists {
		return ErrDisputeExists
	}
	cp := copyDispute(d)
	m.disputes[d.ID] = cp
	m.byHold[d.HoldID] = d.ID
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Dispute, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.disputes[id]
	if !ok {
		return nil, ErrDisputeNotFound
	}
	return copyDispute(d), nil
}

func (m *MemoryStore) GetByHold(_ context.Context, holdID string) (*Dispute, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byHold[holdID]
	if !ok {
		return nil, ErrDisputeNotFound
	}
	return copyDispute(m.disputes[id]), nil
}

func (m *MemoryStore) List(_ context.Context, status Status, cursor *pagination.Cursor, limit int) ([]*Dispute, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Dispute
	for _, d := range m.disputes {
		if status != "" && d.Status != status {
			continue
		}
		if cursor != nil && !before(d, cursor) {
			continue
		}
		out = append(out, copyDispute(d))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// before reports whether d sorts after the cursor position in the
// newest-first order, i.e. is strictly older than the cursor row.
func before(d *Dispute, c *pagination.Cursor) bool {
	if !d.CreatedAt.Equal(c.CreatedAt) {
		return d.CreatedAt.Before(c.CreatedAt)
	}
	return d.ID < c.ID
}

func (m *MemoryStore) Update(_ context.Context, d *Dispute) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.disputes[d.ID]; !ok {
		return ErrDisputeNotFound
	}
	m.disputes[d.ID] = copyDispute(d)
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.disputes[id]
	if !ok {
		return nil
	}
	delete(m.byHold, d.HoldID)
	delete(m.disputes, id)
	return nil
}

func copyDispute(d *Dispute) *Dispute {
	cp := *d
	if d.Evidence != nil {
		cp.Evidence = append([]string(nil), d.Evidence...)
	}
	if d.ResolvedAt != nil {
		t := *d.ResolvedAt
		cp.ResolvedAt = &t
	}
	return &cp
}

// Compile-time assertion that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
