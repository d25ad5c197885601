package escrow

import (
	"context"
	"sync"
	"time"

	"github.com/Adam-Maverick/perks-app-sub000/internal/syncutil"
)

// MemoryStore is an in-memory escrow store for demo/development mode.
type MemoryStore struct {
	holds  map[string]*Hold
	byTxn  map[string]string // transaction id -> hold id
	audit  []*AuditEntry
	nextID int64
	mu     sync.RWMutex

	// Per-hold critical sections for Transition, mirroring the
	// row-level lock the Postgres store takes.
	locks syncutil.ShardedMutex
}

// NewMemoryStore creates a new in-memory escrow store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		holds: make(map[string]*Hold),
		byTxn: make(map[string]string),
	}
}

func (m *MemoryStore) Create(ctx context.Context, h *Hold) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byTxn[h.TransactionID]; ok {
		return ErrHoldExists
	}
	cp := *h
	m.holds[h.ID] = &cp
	m.byTxn[h.TransactionID] = h.ID
	holdsCreatedTotal.Inc()
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Hold, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	h, ok := m.holds[id]
	if !ok {
		return nil, ErrHoldNotFound
	}
	cp := *h
	return &cp, nil
}

func (m *MemoryStore) GetByTransaction(ctx context.Context, transactionID string) (*Hold, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byTxn[transactionID]
	if !ok {
		return nil, ErrHoldNotFound
	}
	cp := *m.holds[id]
	return &cp, nil
}

func (m *MemoryStore) Transition(ctx context.Context, id string, apply func(h *Hold) (*AuditEntry, error)) error {
	unlock := m.locks.Lock(id)
	defer unlock()

	m.mu.RLock()
	stored, ok := m.holds[id]
	m.mu.RUnlock()
	if !ok {
		return ErrHoldNotFound
	}

	cp := *stored
	entry, err := apply(&cp)
	if err != nil {
		return err
	}
	if entry == nil {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	entry.ID = m.nextID
	m.holds[id] = &cp
	m.audit = append(m.audit, entry)
	return nil
}

func (m *MemoryStore) ListHeldBefore(ctx context.Context, cutoff time.Time, limit int) ([]*Hold, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Hold
	for _, h := range m.holds {
		if h.State == StateHeld && h.HeldAt.Before(cutoff) {
			cp := *h
			result = append(result, &cp)
			if len(result) >= limit {
				break
			}
		}
	}
	return result, nil
}

func (m *MemoryStore) ListHeldOnDay(ctx context.Context, day time.Time) ([]*Hold, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	y, mo, d := day.UTC().Date()
	var result []*Hold
	for _, h := range m.holds {
		hy, hm, hd := h.HeldAt.UTC().Date()
		if h.State == StateHeld && hy == y && hm == mo && hd == d {
			cp := *h
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (m *MemoryStore) SumHeld(ctx context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var total int64
	for _, h := range m.holds {
		if h.State == StateHeld {
			total += h.Amount
		}
	}
	return total, nil
}

func (m *MemoryStore) ListAudit(ctx context.Context, holdID string, limit int) ([]*AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}
	var result []*AuditEntry
	for _, e := range m.audit {
		if e.HoldID == holdID {
			cp := *e
			result = append(result, &cp)
			if len(result) >= limit {
				break
			}
		}
	}
	return result, nil
}

// Compile-time assertion that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
