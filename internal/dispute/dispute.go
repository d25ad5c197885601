// Package dispute manages challenges against held payments.
//
// An employee who paid into escrow can dispute the hold before it
// releases. Opening a dispute freezes auto-release by moving the hold
// to DISPUTED; an operator then resolves in the employee's favor
// (refund) or the merchant's favor (payout). One dispute per hold.
package dispute

import (
	"context"
	"errors"
	"time"

	"github.com/Adam-Maverick/perks-app-sub000/internal/escrow"
	"github.com/Adam-Maverick/perks-app-sub000/internal/pagination"
)

var (
	ErrDisputeNotFound = errors.New("dispute not found")
	ErrDisputeExists   = errors.New("hold already has a dispute")
	ErrAlreadyResolved = errors.New("dispute already resolved")
	ErrNotHoldOwner    = errors.New("only the paying user can dispute this hold")
	ErrInvalidFavor    = errors.New("resolution favor must be employee or merchant")
)

// Status represents the dispute workflow state.
type Status string

const (
	StatusPending               Status = "PENDING"
	StatusUnderReview           Status = "UNDER_REVIEW"
	StatusResolvedEmployeeFavor Status = "RESOLVED_EMPLOYEE_FAVOR"
	StatusResolvedMerchantFavor Status = "RESOLVED_MERCHANT_FAVOR"
)

// Resolved reports whether the dispute has reached a terminal status.
func (s Status) Resolved() bool {
	return s == StatusResolvedEmployeeFavor || s == StatusResolvedMerchantFavor
}

// Favor identifies who a resolution sides with.
type Favor string

const (
	FavorEmployee Favor = "employee"
	FavorMerchant Favor = "merchant"
)

// Dispute is a challenge against a single escrow hold.
type Dispute struct {
	ID              string     `json:"id"`
	HoldID          string     `json:"holdId"`
	TransactionID   string     `json:"transactionId"`
	UserID          string     `json:"userId"`
	MerchantID      string     `json:"merchantId"`
	Reason          string     `json:"reason"`
	Evidence        []string   `json:"evidence,omitempty"`
	Status          Status     `json:"status"`
	ResolvedBy      string     `json:"resolvedBy,omitempty"`
	ResolutionNotes string     `json:"resolutionNotes,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
	ResolvedAt      *time.Time `json:"resolvedAt,omitempty"`
}

// Store persists disputes.
type Store interface {
	// Create fails with ErrDisputeExists if the hold already has one.
	Create(ctx context.Context, d *Dispute) error
	Get(ctx context.Context, id string) (*Dispute, error)
	GetByHold(ctx context.Context, holdID string) (*Dispute, error)
	// List returns disputes newest first, starting after the cursor
	// position when one is given.
	List(ctx context.Context, status Status, cursor *pagination.Cursor, limit int) ([]*Dispute, error)
	Update(ctx context.Context, d *Dispute) error
	Delete(ctx context.Context, id string) error
}

// AtomicOpener is implemented by stores that insert the dispute and
// move its hold HELD→DISPUTED in a single transaction, so a failure at
// any point leaves neither a stranded dispute nor a frozen hold. The
// returned audit entry is already committed.
type AtomicOpener interface {
	OpenAtomic(ctx context.Context, d *Dispute) (*escrow.AuditEntry, error)
}
