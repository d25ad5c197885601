package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Adam-Maverick/perks-app-sub000/internal/escrow"
	"github.com/Adam-Maverick/perks-app-sub000/internal/idgen"
)

var (
	notifyEmitTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "perks",
		Subsystem: "notify",
		Name:      "emit_total",
		Help:      "Total notification emit attempts by event type.",
	}, []string{"event_type"})

	notifyEmitErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "perks",
		Subsystem: "notify",
		Name:      "emit_errors_total",
		Help:      "Total notification emit failures by event type.",
	}, []string{"event_type"})
)

func init() {
	prometheus.MustRegister(notifyEmitTotal, notifyEmitErrors)
}

// Emitter wraps a Dispatcher to emit lifecycle events across subsystems.
// All methods are fire-and-forget: errors are logged but never returned.
// A nil Emitter is safe to call.
type Emitter struct {
	d      *Dispatcher
	logger *slog.Logger
}

// NewEmitter creates a new notification emitter.
func NewEmitter(d *Dispatcher, logger *slog.Logger) *Emitter {
	return &Emitter{d: d, logger: logger}
}

func (e *Emitter) emitToUser(userID string, eventType EventType, data map[string]interface{}) {
	if e == nil || e.d == nil {
		return
	}
	notifyEmitTotal.WithLabelValues(string(eventType)).Inc()
	event := &Event{
		ID:        idgen.WithPrefix("evt_"),
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := e.d.DispatchToUser(ctx, userID, event); err != nil {
		notifyEmitErrors.WithLabelValues(string(eventType)).Inc()
		e.logger.Warn("notification emit failed", "event", eventType, "user", userID, "error", err)
	}
}

func (e *Emitter) emitBroadcast(eventType EventType, data map[string]interface{}) {
	if e == nil || e.d == nil {
		return
	}
	notifyEmitTotal.WithLabelValues(string(eventType)).Inc()
	event := &Event{
		ID:        idgen.WithPrefix("evt_"),
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := e.d.Dispatch(ctx, event); err != nil {
		notifyEmitErrors.WithLabelValues(string(eventType)).Inc()
		e.logger.Warn("notification emit failed", "event", eventType, "error", err)
	}
}

// --- Hold events ---

// EmitPaymentHeld emits a payment.held event to the paying user.
func (e *Emitter) EmitPaymentHeld(userID string, hold *escrow.Hold) {
	e.emitToUser(userID, EventPaymentHeld, map[string]interface{}{
		"holdId":        hold.ID,
		"transactionId": hold.TransactionID,
		"merchantId":    hold.MerchantID,
		"amount":        hold.Amount,
		"heldAt":        hold.HeldAt,
	})
}

// EmitHoldReleased emits a hold.released event.
func (e *Emitter) EmitHoldReleased(userID string, hold *escrow.Hold, transferCode string) {
	e.emitToUser(userID, EventHoldReleased, map[string]interface{}{
		"holdId":       hold.ID,
		"merchantId":   hold.MerchantID,
		"amount":       hold.Amount,
		"transferCode": transferCode,
	})
}

// EmitHoldAutoReleased emits a hold.auto_released event after the
// scheduled job releases an expired hold.
func (e *Emitter) EmitHoldAutoReleased(userID string, hold *escrow.Hold, transferCode string) {
	e.emitToUser(userID, EventHoldAutoReleased, map[string]interface{}{
		"holdId":       hold.ID,
		"merchantId":   hold.MerchantID,
		"amount":       hold.Amount,
		"transferCode": transferCode,
	})
}

// EmitHoldRefunded emits a hold.refunded event.
func (e *Emitter) EmitHoldRefunded(userID string, hold *escrow.Hold, refundID string) {
	e.emitToUser(userID, EventHoldRefunded, map[string]interface{}{
		"holdId":   hold.ID,
		"amount":   hold.Amount,
		"refundId": refundID,
	})
}

// EmitReleaseReminder emits a hold.release_reminder event telling the
// user how many days remain before auto-release.
func (e *Emitter) EmitReleaseReminder(userID string, hold *escrow.Hold, daysHeld, daysUntilRelease int) {
	e.emitToUser(userID, EventReleaseReminder, map[string]interface{}{
		"holdId":           hold.ID,
		"merchantId":       hold.MerchantID,
		"amount":           hold.Amount,
		"daysHeld":         daysHeld,
		"daysUntilRelease": daysUntilRelease,
	})
}

// --- Dispute events ---

// EmitDisputeOpened emits a dispute.opened event.
func (e *Emitter) EmitDisputeOpened(userID, disputeID, holdID, reason string) {
	e.emitToUser(userID, EventDisputeOpened, map[string]interface{}{
		"disputeId": disputeID,
		"holdId":    holdID,
		"reason":    reason,
	})
}

// EmitDisputeResolved emits a dispute.resolved event.
func (e *Emitter) EmitDisputeResolved(userID, disputeID, holdID, resolution string) {
	e.emitToUser(userID, EventDisputeResolved, map[string]interface{}{
		"disputeId":  disputeID,
		"holdId":     holdID,
		"resolution": resolution,
	})
}

// --- Operator events ---

// EmitOperatorAlert broadcasts an operator.alert event to every
// subscriber of that event type.
func (e *Emitter) EmitOperatorAlert(subject, detail string) {
	e.emitBroadcast(EventOperatorAlert, map[string]interface{}{
		"subject": subject,
		"detail":  detail,
	})
}

// EmitReconciliationReport broadcasts the daily reconciliation outcome.
func (e *Emitter) EmitReconciliationReport(internalTotal, externalTotal, discrepancy int64, match bool) {
	e.emitBroadcast(EventReconciliationReport, map[string]interface{}{
		"internalTotal": internalTotal,
		"externalTotal": externalTotal,
		"discrepancy":   discrepancy,
		"match":         match,
	})
}
