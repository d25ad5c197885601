package escrow

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/Adam-Maverick/perks-app-sub000/internal/metrics"
	"github.com/Adam-Maverick/perks-app-sub000/internal/traces"
)

// AuditPublisher receives audit entries after they are committed, e.g.
// for live operator feeds. Implementations must not block.
type AuditPublisher interface {
	PublishAudit(e *AuditEntry)
}

// Machine validates and applies hold state transitions. It is the sole
// writer of Hold.State and the audit log; no other component mutates
// hold state directly.
type Machine struct {
	store     Store
	logger    *slog.Logger
	publisher AuditPublisher
}

// NewMachine creates a state machine over the given store.
func NewMachine(store Store, logger *slog.Logger) *Machine {
	return &Machine{store: store, logger: logger}
}

// WithPublisher adds a post-commit audit publisher.
func (m *Machine) WithPublisher(p AuditPublisher) *Machine {
	m.publisher = p
	return m
}

// Transition moves the hold to target and appends exactly one audit
// entry, atomically. A transition to the hold's current state succeeds
// with no write and no audit entry, so callers can retry indefinitely.
// An edge not in the graph fails with *InvalidTransitionError and
// leaves the store unchanged.
func (m *Machine) Transition(ctx context.Context, holdID string, target State, actorID, reason string) (*Hold, error) {
	return m.TransitionIf(ctx, holdID, target, actorID, reason, nil)
}

// TransitionIf is Transition with a precondition evaluated against the
// locked hold, inside the store's critical section. The guard sees the
// state no concurrent transition can change under it, so callers can
// forbid edges the graph itself allows without racing. A guard error
// aborts with no write and no audit entry.
func (m *Machine) TransitionIf(ctx context.Context, holdID string, target State, actorID, reason string, guard func(*Hold) error) (*Hold, error) {
	if strings.TrimSpace(actorID) == "" {
		return nil, ErrActorRequired
	}
	if strings.TrimSpace(reason) == "" {
		return nil, ErrReasonRequired
	}
	if !target.Valid() {
		return nil, &InvalidTransitionError{To: target}
	}

	ctx, span := traces.StartSpan(ctx, "escrow.transition",
		traces.HoldID(holdID), traces.TargetState(string(target)))
	defer span.End()

	var (
		result *Hold
		noop   bool
		entry  *AuditEntry
	)

	apply := NewTransition(target, actorID, reason)
	err := m.store.Transition(ctx, holdID, func(h *Hold) (*AuditEntry, error) {
		if guard != nil {
			if err := guard(h); err != nil {
				return nil, err
			}
		}
		e, err := apply(h)
		if err != nil {
			return nil, err
		}
		cp := *h
		result = &cp
		if e == nil {
			noop = true
			return nil, nil
		}
		entry = e
		return e, nil
	})
	if err != nil {
		transitionsRejected.WithLabelValues(string(target)).Inc()
		return nil, err
	}

	if noop {
		m.logger.Debug("transition no-op", "holdId", holdID, "state", target)
		return result, nil
	}

	transitionsTotal.WithLabelValues(string(entry.FromState), string(entry.ToState)).Inc()
	if result.State.Terminal() {
		metrics.HoldDuration.Observe(result.UpdatedAt.Sub(result.HeldAt).Seconds())
	}
	m.logger.Info("hold transitioned",
		"holdId", holdID,
		"from", entry.FromState,
		"to", entry.ToState,
		"actor", actorID,
	)

	if m.publisher != nil {
		m.publisher.PublishAudit(entry)
	}

	return result, nil
}

// Publish counts and broadcasts a transition that another component
// committed through its own store transaction, such as the dispute
// store folding HELD→DISPUTED into the dispute insert.
func (m *Machine) Publish(entry *AuditEntry) {
	if entry == nil {
		return
	}
	transitionsTotal.WithLabelValues(string(entry.FromState), string(entry.ToState)).Inc()
	m.logger.Info("hold transitioned",
		"holdId", entry.HoldID,
		"from", entry.FromState,
		"to", entry.ToState,
		"actor", entry.ActorID,
	)
	if m.publisher != nil {
		m.publisher.PublishAudit(entry)
	}
}

// NewTransition returns the canonical mutation applying a target-state
// transition to a locked hold: validate the edge, stamp the state
// timestamps, and produce the audit entry. A hold already in target
// yields a nil entry, the idempotent no-op. Stores that fold a hold
// transition into a wider transaction use this so the semantics stay
// in one place.
func NewTransition(target State, actorID, reason string) func(h *Hold) (*AuditEntry, error) {
	return func(h *Hold) (*AuditEntry, error) {
		if h.State == target {
			return nil, nil
		}
		if !h.State.CanTransitionTo(target) {
			return nil, &InvalidTransitionError{From: h.State, To: target}
		}

		now := time.Now().UTC()
		e := &AuditEntry{
			HoldID:    h.ID,
			FromState: h.State,
			ToState:   target,
			ActorID:   actorID,
			Reason:    reason,
			CreatedAt: now,
		}

		h.State = target
		h.UpdatedAt = now
		switch target {
		case StateReleased:
			h.ReleasedAt = &now
		case StateRefunded:
			h.RefundedAt = &now
		}
		return e, nil
	}
}

// Get returns a hold by id.
func (m *Machine) Get(ctx context.Context, id string) (*Hold, error) {
	return m.store.Get(ctx, id)
}

// AuditTrail returns the hold's audit entries ordered by timestamp.
func (m *Machine) AuditTrail(ctx context.Context, holdID string, limit int) ([]*AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	if _, err := m.store.Get(ctx, holdID); err != nil {
		return nil, err
	}
	return m.store.ListAudit(ctx, holdID, limit)
}
