// Package payments tracks the payment transactions that escrow holds
// protect, and the merchant records settlement is paid out to.
package payments

import (
	"context"
	"errors"
	"time"

	"github.com/Adam-Maverick/perks-app-sub000/internal/escrow"
	"github.com/Adam-Maverick/perks-app-sub000/internal/settlement"
)

var (
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrMerchantNotFound    = errors.New("merchant not found")
	ErrDuplicateReference  = errors.New("transaction reference already exists")
)

// Status represents the payment state of a transaction.
type Status string

const (
	StatusPending       Status = "pending"
	StatusCompleted     Status = "completed"
	StatusFailed        Status = "failed"
	StatusAutoCompleted Status = "auto_completed"
)

// Transaction is the payment record an escrow hold protects.
// ExternalReference is globally unique and is the idempotency key for
// inbound gateway events.
type Transaction struct {
	ID                string    `json:"id"`
	UserID            string    `json:"userId"`
	UserEmail         string    `json:"userEmail"`
	MerchantID        string    `json:"merchantId"`
	Amount            int64     `json:"amount"`
	Status            Status    `json:"status"`
	ExternalReference string    `json:"externalReference"`
	EscrowHoldID      string    `json:"escrowHoldId,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// Merchant is a payout destination. RecipientCode is assigned by the
// settlement gateway the first time a transfer recipient is created.
type Merchant struct {
	ID            string                 `json:"id"`
	Name          string                 `json:"name"`
	Email         string                 `json:"email"`
	RecipientCode string                 `json:"recipientCode,omitempty"`
	Bank          settlement.BankDetails `json:"bank"`
	CreatedAt     time.Time              `json:"createdAt"`
	UpdatedAt     time.Time              `json:"updatedAt"`
}

// Store persists transactions.
type Store interface {
	Create(ctx context.Context, t *Transaction) error
	Get(ctx context.Context, id string) (*Transaction, error)
	GetByReference(ctx context.Context, reference string) (*Transaction, error)
	SetStatus(ctx context.Context, id string, status Status) error

	// CompleteWithHold marks the transaction completed, creates the
	// escrow hold, and links the two — all atomically. A hold must
	// never exist without its transaction pointing back at it.
	CompleteWithHold(ctx context.Context, transactionID string, hold *escrow.Hold) error
}

// MerchantStore persists merchants and their settlement recipients.
type MerchantStore interface {
	Get(ctx context.Context, id string) (*Merchant, error)
	Upsert(ctx context.Context, m *Merchant) error
	SetRecipientCode(ctx context.Context, id, code string) error
}

// EnsureRecipient returns the merchant's transfer recipient code,
// registering the merchant's bank account with the gateway on first
// use and persisting the assigned code.
func EnsureRecipient(ctx context.Context, store MerchantStore, gateway settlement.Gateway, merchantID string) (string, error) {
	m, err := store.Get(ctx, merchantID)
	if err != nil {
		return "", err
	}
	if m.RecipientCode != "" {
		return m.RecipientCode, nil
	}

	code, err := gateway.CreateTransferRecipient(ctx, m.Bank)
	if err != nil {
		return "", err
	}
	if err := store.SetRecipientCode(ctx, merchantID, code); err != nil {
		return "", err
	}
	return code, nil
}
