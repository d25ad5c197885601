package dispute

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Adam-Maverick/perks-app-sub000/internal/escrow"
	"github.com/Adam-Maverick/perks-app-sub000/internal/idgen"
	"github.com/Adam-Maverick/perks-app-sub000/internal/notify"
	"github.com/Adam-Maverick/perks-app-sub000/internal/pagination"
	"github.com/Adam-Maverick/perks-app-sub000/internal/payments"
	"github.com/Adam-Maverick/perks-app-sub000/internal/settlement"
	"github.com/Adam-Maverick/perks-app-sub000/internal/traces"
)

// SettlementError reports a resolution whose hold transition committed
// but whose gateway money movement failed. The dispute stays open;
// retrying the resolution is safe because the transition retries as a
// no-op and the gateway dedupes by reference.
type SettlementError struct {
	DisputeID string
	Err       error
}

func (e *SettlementError) Error() string {
	return fmt.Sprintf("dispute %s resolved but settlement failed: %v", e.DisputeID, e.Err)
}

func (e *SettlementError) Unwrap() error { return e.Err }

// Service coordinates disputes with the hold state machine and the
// settlement gateway.
type Service struct {
	store     Store
	machine   *escrow.Machine
	txns      payments.Store
	merchants payments.MerchantStore
	gateway   settlement.Gateway
	logger    *slog.Logger
	emitter   *notify.Emitter
}

// NewService creates a dispute service.
func NewService(store Store, machine *escrow.Machine, txns payments.Store,
	merchants payments.MerchantStore, gateway settlement.Gateway,
	logger *slog.Logger, emitter *notify.Emitter) *Service {
	return &Service{
		store:     store,
		machine:   machine,
		txns:      txns,
		merchants: merchants,
		gateway:   gateway,
		logger:    logger,
		emitter:   emitter,
	}
}

// Open creates a dispute on a held payment and freezes auto-release.
// Only the user who paid the underlying transaction may open one.
func (s *Service) Open(ctx context.Context, holdID, userID, reason string, evidence []string) (*Dispute, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, escrow.ErrReasonRequired
	}

	ctx, span := traces.StartSpan(ctx, "dispute.open", traces.HoldID(holdID))
	defer span.End()

	hold, err := s.machine.Get(ctx, holdID)
	if err != nil {
		return nil, err
	}

	txn, err := s.txns.Get(ctx, hold.TransactionID)
	if err != nil {
		return nil, err
	}
	if txn.UserID != userID {
		return nil, ErrNotHoldOwner
	}

	now := time.Now().UTC()
	d := &Dispute{
		ID:            idgen.WithPrefix("dsp_"),
		HoldID:        hold.ID,
		TransactionID: hold.TransactionID,
		UserID:        userID,
		MerchantID:    hold.MerchantID,
		Reason:        reason,
		Evidence:      evidence,
		Status:        StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if opener, ok := s.store.(AtomicOpener); ok {
		// Postgres: dispute insert and HELD→DISPUTED commit together.
		entry, err := opener.OpenAtomic(ctx, d)
		if err != nil {
			return nil, err
		}
		s.machine.Publish(entry)
	} else {
		// Memory: the unique hold index serializes concurrent opens;
		// a rejected transition unwinds the insert, and the in-memory
		// delete cannot fail.
		if err := s.store.Create(ctx, d); err != nil {
			return nil, err
		}
		if _, err := s.machine.Transition(ctx, hold.ID, escrow.StateDisputed, userID, reason); err != nil {
			_ = s.store.Delete(ctx, d.ID)
			return nil, err
		}
	}

	disputesOpened.Inc()
	s.logger.Info("dispute opened", "disputeId", d.ID, "holdId", hold.ID, "user", userID)
	s.emitter.EmitDisputeOpened(txn.MerchantID, d.ID, hold.ID, reason)
	return d, nil
}

// Review moves a pending dispute under review.
func (s *Service) Review(ctx context.Context, disputeID, reviewerID string) (*Dispute, error) {
	d, err := s.store.Get(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if d.Status.Resolved() {
		return nil, ErrAlreadyResolved
	}
	if d.Status == StatusUnderReview {
		return d, nil
	}

	d.Status = StatusUnderReview
	d.UpdatedAt = time.Now().UTC()
	if err := s.store.Update(ctx, d); err != nil {
		return nil, err
	}

	s.logger.Info("dispute under review", "disputeId", d.ID, "reviewer", reviewerID)
	return d, nil
}

// Resolve closes a dispute. Employee favor refunds the charge and the
// hold ends REFUNDED; merchant favor pays the merchant out and the hold
// ends RELEASED. Ordering is transition, settlement, dispute row: a
// gateway failure fails the resolution with *SettlementError, raises an
// operator alert, and leaves the dispute open for a safe retry.
func (s *Service) Resolve(ctx context.Context, disputeID, resolverID string, favor Favor, notes string) (*Dispute, error) {
	if favor != FavorEmployee && favor != FavorMerchant {
		return nil, ErrInvalidFavor
	}

	ctx, span := traces.StartSpan(ctx, "dispute.resolve", traces.DisputeID(disputeID))
	defer span.End()

	d, err := s.store.Get(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if d.Status.Resolved() {
		return nil, ErrAlreadyResolved
	}

	hold, err := s.machine.Get(ctx, d.HoldID)
	if err != nil {
		return nil, err
	}

	target := escrow.StateReleased
	status := StatusResolvedMerchantFavor
	if favor == FavorEmployee {
		target = escrow.StateRefunded
		status = StatusResolvedEmployeeFavor
	}

	reason := fmt.Sprintf("dispute %s resolved in %s favor", d.ID, favor)
	if _, err := s.machine.Transition(ctx, d.HoldID, target, resolverID, reason); err != nil {
		return nil, err
	}

	if err := s.settle(ctx, d, hold, favor); err != nil {
		settlementFailures.Inc()
		s.logger.Error("dispute settlement failed",
			"disputeId", d.ID, "holdId", d.HoldID, "favor", favor, "error", err)
		s.emitter.EmitOperatorAlert("dispute settlement failed",
			fmt.Sprintf("dispute %s (hold %s): %v", d.ID, d.HoldID, err))
		return d, &SettlementError{DisputeID: d.ID, Err: err}
	}

	now := time.Now().UTC()
	d.Status = status
	d.ResolvedBy = resolverID
	d.ResolutionNotes = notes
	d.ResolvedAt = &now
	d.UpdatedAt = now
	if err := s.store.Update(ctx, d); err != nil {
		return nil, err
	}

	disputesResolved.WithLabelValues(string(favor)).Inc()
	s.logger.Info("dispute resolved",
		"disputeId", d.ID, "holdId", d.HoldID, "favor", favor, "resolver", resolverID)
	s.emitter.EmitDisputeResolved(d.UserID, d.ID, d.HoldID, string(status))
	return d, nil
}

func (s *Service) settle(ctx context.Context, d *Dispute, hold *escrow.Hold, favor Favor) error {
	if favor == FavorEmployee {
		txn, err := s.txns.Get(ctx, d.TransactionID)
		if err != nil {
			return err
		}
		refundID, err := s.gateway.Refund(ctx, txn.ExternalReference)
		if err != nil {
			return err
		}
		s.emitter.EmitHoldRefunded(d.UserID, hold, refundID)
		return nil
	}

	code, err := payments.EnsureRecipient(ctx, s.merchants, s.gateway, d.MerchantID)
	if err != nil {
		return err
	}
	// hold.ID as reference keeps retried transfers idempotent.
	transferCode, err := s.gateway.Transfer(ctx, hold.Amount, code, hold.ID)
	if err != nil {
		return err
	}
	s.emitter.EmitHoldReleased(d.UserID, hold, transferCode)
	return nil
}

// Get returns a dispute by id.
func (s *Service) Get(ctx context.Context, id string) (*Dispute, error) {
	return s.store.Get(ctx, id)
}

// List returns a page of disputes filtered by status, newest first,
// plus a cursor for the next page. An empty status lists all.
func (s *Service) List(ctx context.Context, status Status, cursor string, limit int) ([]*Dispute, string, error) {
	if limit <= 0 {
		limit = 50
	}
	cur, err := pagination.Decode(cursor)
	if err != nil {
		return nil, "", err
	}

	// One extra row decides whether another page exists.
	disputes, err := s.store.List(ctx, status, cur, limit+1)
	if err != nil {
		return nil, "", err
	}
	disputes, next, _ := pagination.ComputePage(disputes, limit, func(d *Dispute) (time.Time, string) {
		return d.CreatedAt, d.ID
	})
	return disputes, next, nil
}
