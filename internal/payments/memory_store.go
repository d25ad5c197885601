package payments

import (
	"context"
	"sync"
	"time"

	"github.com/Adam-Maverick/perks-app-sub000/internal/escrow"
)

// MemoryStore is an in-memory transaction store for tests and local
// development.
type MemoryStore struct {
	mu     sync.RWMutex
	txns   map[string]*Transaction
	byRef  map[string]string
	escrow escrow.Store
}

// NewMemoryStore creates an in-memory transaction store. The escrow
// store receives holds created by CompleteWithHold.
func NewMemoryStore(escrowStore escrow.Store) *MemoryStore {
	return &MemoryStore{
		txns:   make(map[string]*Transaction),
		byRef:  make(map[string]string),
		escrow: escrowStore,
	}
}

func (m *MemoryStore) Create(_ context.Context, t *Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byRef[t.ExternalReference]; exists {
		return ErrDuplicateReference
	}
	cp := *t
	m.txns[t.ID] = &cp
	m.byRef[t.ExternalReference] = t.ID
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.txns[id]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *MemoryStore) GetByReference(_ context.Context, reference string) (*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byRef[reference]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	cp := *m.txns[id]
	return &cp, nil
}

func (m *MemoryStore) SetStatus(_ context.Context, id string, status Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.txns[id]
	if !ok {
		return ErrTransactionNotFound
	}
	t.Status = status
	t.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) CompleteWithHold(ctx context.Context, transactionID string, hold *escrow.Hold) error {
	m.mu.Lock()
	t, ok := m.txns[transactionID]
	if !ok {
		m.mu.Unlock()
		return ErrTransactionNotFound
	}
	m.mu.Unlock()

	if err := m.escrow.Create(ctx, hold); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	t.Status = StatusCompleted
	t.EscrowHoldID = hold.ID
	t.UpdatedAt = time.Now().UTC()
	return nil
}

// Compile-time assertion that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)

// MemoryMerchantStore is an in-memory merchant store for tests and
// local development.
type MemoryMerchantStore struct {
	mu        sync.RWMutex
	merchants map[string]*Merchant
}

// NewMemoryMerchantStore creates an in-memory merchant store.
func NewMemoryMerchantStore() *MemoryMerchantStore {
	return &MemoryMerchantStore{merchants: make(map[string]*Merchant)}
}

func (m *MemoryMerchantStore) Get(_ context.Context, id string) (*Merchant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	mc, ok := m.merchants[id]
	if !ok {
		return nil, ErrMerchantNotFound
	}
	cp := *mc
	return &cp, nil
}

func (m *MemoryMerchantStore) Upsert(_ context.Context, mc *Merchant) error {
	if err := mc.Bank.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *mc
	if existing, ok := m.merchants[mc.ID]; ok && cp.RecipientCode == "" {
		cp.RecipientCode = existing.RecipientCode
	}
	m.merchants[mc.ID] = &cp
	return nil
}

func (m *MemoryMerchantStore) SetRecipientCode(_ context.Context, id, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	mc, ok := m.merchants[id]
	if !ok {
		return ErrMerchantNotFound
	}
	mc.RecipientCode = code
	mc.UpdatedAt = time.Now().UTC()
	return nil
}

// Compile-time assertion that MemoryMerchantStore implements MerchantStore.
var _ MerchantStore = (*MemoryMerchantStore)(nil)
