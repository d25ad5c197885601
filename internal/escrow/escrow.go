// Package escrow holds customer payments until delivery is confirmed
// or a dispute is resolved, then authorizes settlement to the merchant
// or a refund to the payer.
//
// Flow:
//  1. Payment confirmed by the gateway → hold created: HELD
//  2. Employee confirms delivery → HELD → RELEASED (funds to merchant)
//  3. Employee disputes → HELD → DISPUTED
//  4. Dispute resolved → DISPUTED → RELEASED or DISPUTED → REFUNDED
//  5. 14 days with no action → auto-released to merchant
//
// The state machine never moves real money. Callers sequence settlement
// gateway calls around a successful transition.
package escrow

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrHoldNotFound   = errors.New("escrow hold not found")
	ErrActorRequired  = errors.New("actor id is required")
	ErrReasonRequired = errors.New("reason is required")
	ErrHoldExists     = errors.New("escrow hold already exists for transaction")
)

// SystemActor is the actor id recorded for scheduled/system transitions.
const SystemActor = "system"

// State represents the disposition of an escrow hold.
type State string

const (
	StateHeld     State = "HELD"
	StateReleased State = "RELEASED"
	StateDisputed State = "DISPUTED"
	StateRefunded State = "REFUNDED"
)

// transitions is the allowed state graph. Terminal states have no entry.
var transitions = map[State][]State{
	StateHeld:     {StateReleased, StateDisputed},
	StateDisputed: {StateReleased, StateRefunded},
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	switch s {
	case StateHeld, StateReleased, StateDisputed, StateRefunded:
		return true
	}
	return false
}

// Terminal reports whether s has no outgoing transitions.
func (s State) Terminal() bool {
	return s == StateReleased || s == StateRefunded
}

// CanTransitionTo reports whether the graph allows s → target.
func (s State) CanTransitionTo(target State) bool {
	for _, next := range transitions[s] {
		if next == target {
			return true
		}
	}
	return false
}

// InvalidTransitionError is returned when a requested transition is not
// an edge of the state graph.
type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("Invalid transition from %s to %s", e.From, e.To)
}

// Hold represents funds collected for one transaction, pending disposition.
// Amount is in minor currency units (kobo/cents) and is immutable after
// creation.
type Hold struct {
	ID            string     `json:"id"`
	TransactionID string     `json:"transactionId"`
	MerchantID    string     `json:"merchantId"`
	Amount        int64      `json:"amount"`
	State         State      `json:"state"`
	HeldAt        time.Time  `json:"heldAt"`
	ReleasedAt    *time.Time `json:"releasedAt,omitempty"`
	RefundedAt    *time.Time `json:"refundedAt,omitempty"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// AuditEntry is an immutable record of one effective transition.
// Entries are written only inside the state machine's transaction and
// are never updated or deleted.
type AuditEntry struct {
	ID        int64     `json:"id"`
	HoldID    string    `json:"holdId"`
	FromState State     `json:"fromState"`
	ToState   State     `json:"toState"`
	ActorID   string    `json:"actorId"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store persists escrow holds and their audit trail.
//
// Transition runs apply under an exclusive per-hold critical section
// (row lock in PostgreSQL, per-id mutex in memory). apply receives the
// freshest hold; returning a non-nil audit entry commits the mutated
// hold and appends the entry atomically. Returning (nil, nil) commits
// nothing — the idempotent no-op path.
type Store interface {
	Create(ctx context.Context, h *Hold) error
	Get(ctx context.Context, id string) (*Hold, error)
	GetByTransaction(ctx context.Context, transactionID string) (*Hold, error)
	Transition(ctx context.Context, id string, apply func(h *Hold) (*AuditEntry, error)) error

	// ListHeldBefore returns HELD holds with heldAt strictly before cutoff.
	ListHeldBefore(ctx context.Context, cutoff time.Time, limit int) ([]*Hold, error)
	// ListHeldOnDay returns HELD holds whose heldAt falls on the given
	// calendar day (UTC), used by the reminder job's date thresholds.
	ListHeldOnDay(ctx context.Context, day time.Time) ([]*Hold, error)
	// SumHeld returns the total amount across all HELD holds.
	SumHeld(ctx context.Context) (int64, error)

	ListAudit(ctx context.Context, holdID string, limit int) ([]*AuditEntry, error)
}
