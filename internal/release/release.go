// Package release pays merchants out of escrow.
//
// Both the manual confirm-receipt endpoint and the scheduled
// auto-release job funnel through the same Releaser. The state
// transition commits first; the hold id is the transfer reference, so
// a settlement failure after that is healed by an operator retry whose
// transfer the gateway deduplicates.
package release

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adam-Maverick/perks-app-sub000/internal/escrow"
	"github.com/Adam-Maverick/perks-app-sub000/internal/notify"
	"github.com/Adam-Maverick/perks-app-sub000/internal/payments"
	"github.com/Adam-Maverick/perks-app-sub000/internal/retry"
	"github.com/Adam-Maverick/perks-app-sub000/internal/settlement"
	"github.com/Adam-Maverick/perks-app-sub000/internal/syncutil"
	"github.com/Adam-Maverick/perks-app-sub000/internal/traces"
)

// ErrHoldNotReleasable reports a hold in a state release cannot act on.
var ErrHoldNotReleasable = errors.New("hold is not releasable")

const (
	transferAttempts = 3
	transferBackoff  = 2 * time.Second
)

// SettlementError reports a release whose state change committed but
// whose transfer failed. The hold is RELEASED; an operator retries the
// payout with the hold id as reference.
type SettlementError struct {
	HoldID string
	Err    error
}

func (e *SettlementError) Error() string {
	return fmt.Sprintf("hold %s released but transfer failed: %v", e.HoldID, e.Err)
}

func (e *SettlementError) Unwrap() error { return e.Err }

// Releaser finalizes holds and moves money to the merchant.
type Releaser struct {
	machine   *escrow.Machine
	txns      payments.Store
	merchants payments.MerchantStore
	gateway   settlement.Gateway
	logger    *slog.Logger
	emitter   *notify.Emitter
	mailer    notify.Mailer
	locks     *syncutil.ContextShardedMutex
}

// NewReleaser creates a release orchestrator.
func NewReleaser(machine *escrow.Machine, txns payments.Store, merchants payments.MerchantStore,
	gateway settlement.Gateway, logger *slog.Logger, emitter *notify.Emitter, mailer notify.Mailer) *Releaser {
	return &Releaser{
		machine:   machine,
		txns:      txns,
		merchants: merchants,
		gateway:   gateway,
		logger:    logger,
		emitter:   emitter,
		mailer:    mailer,
		locks:     syncutil.NewContextShardedMutex(),
	}
}

// Release moves the hold to RELEASED, then transfers the held amount
// to the merchant. Releasing an already released hold re-attempts the
// payout, which the gateway dedupes by reference; this is how a
// transfer that failed after the transition gets healed. A transfer
// failure returns *SettlementError and is never rolled back. auto
// marks the release as scheduler-driven, which also flips the
// transaction to auto_completed.
func (r *Releaser) Release(ctx context.Context, holdID, actorID, reason string, auto bool) (*escrow.Hold, error) {
	ctx, span := traces.StartSpan(ctx, "release.release", traces.HoldID(holdID))
	defer span.End()

	// Concurrent releases of the same hold run one at a time so a
	// manual confirm and the auto-release job never both transfer.
	unlock, err := r.locks.LockContext(ctx, holdID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	// The guard runs inside the store's critical section: a dispute
	// that lands between a read and the transition cannot slip a
	// DISPUTED hold through to RELEASED. A disputed hold only leaves
	// DISPUTED through dispute resolution, and a refunded hold is
	// settled for good.
	hold, err := r.machine.TransitionIf(ctx, holdID, escrow.StateReleased, actorID, reason,
		func(h *escrow.Hold) error {
			if h.State == escrow.StateRefunded || h.State == escrow.StateDisputed {
				return fmt.Errorf("%w: state %s", ErrHoldNotReleasable, h.State)
			}
			return nil
		})
	if err != nil {
		return nil, err
	}

	txn, err := r.txns.Get(ctx, hold.TransactionID)
	if err != nil {
		r.logger.Error("released hold has no loadable transaction",
			"holdId", hold.ID, "transactionId", hold.TransactionID, "error", err)
		txn = nil
	}

	transferCode, err := r.transfer(ctx, hold)
	if err != nil {
		r.logger.Error("release transfer failed", "holdId", hold.ID, "error", err)
		r.emitter.EmitOperatorAlert("release transfer failed",
			fmt.Sprintf("hold %s released, transfer of %d to merchant %s failed: %v",
				hold.ID, hold.Amount, hold.MerchantID, err))
		return hold, &SettlementError{HoldID: hold.ID, Err: err}
	}

	// auto_completed only once the money has actually moved; a failed
	// transfer leaves the status for the retry that heals the payout.
	if auto && txn != nil {
		if err := r.txns.SetStatus(ctx, txn.ID, payments.StatusAutoCompleted); err != nil {
			r.logger.Error("auto-release status update failed",
				"transactionId", txn.ID, "error", err)
		}
	}

	r.notifyReleased(ctx, hold, txn, transferCode, auto)
	r.logger.Info("hold released",
		"holdId", hold.ID,
		"merchantId", hold.MerchantID,
		"amount", hold.Amount,
		"transferCode", transferCode,
		"auto", auto,
	)
	return hold, nil
}

func (r *Releaser) transfer(ctx context.Context, hold *escrow.Hold) (string, error) {
	code, err := payments.EnsureRecipient(ctx, r.merchants, r.gateway, hold.MerchantID)
	if err != nil {
		return "", err
	}

	var transferCode string
	err = retry.Do(ctx, transferAttempts, transferBackoff, func() error {
		tc, terr := r.gateway.Transfer(ctx, hold.Amount, code, hold.ID)
		if terr != nil {
			var apiErr *settlement.APIError
			// 4xx responses will not succeed on retry.
			if errors.As(terr, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 {
				return retry.Permanent(terr)
			}
			return terr
		}
		transferCode = tc
		return nil
	})
	return transferCode, err
}

func (r *Releaser) notifyReleased(ctx context.Context, hold *escrow.Hold, txn *payments.Transaction, transferCode string, auto bool) {
	if txn == nil {
		return
	}
	if auto {
		r.emitter.EmitHoldAutoReleased(txn.UserID, hold, transferCode)
	} else {
		r.emitter.EmitHoldReleased(txn.UserID, hold, transferCode)
	}

	if txn.UserEmail == "" {
		return
	}
	subject := "Your payment was released to the merchant"
	body := fmt.Sprintf("Payment %s for %d was released to the merchant.", txn.ID, hold.Amount)
	if auto {
		subject = "Your payment was automatically released"
		body = fmt.Sprintf("Payment %s for %d was automatically released after the holding period.", txn.ID, hold.Amount)
	}
	if err := r.mailer.Send(ctx, txn.UserEmail, subject, body); err != nil {
		r.logger.Warn("release email failed", "holdId", hold.ID, "error", err)
	}
}
