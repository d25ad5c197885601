// Package webhook ingests payment events from the settlement gateway.
//
// The gateway signs each delivery with HMAC-SHA512 over the raw request
// body. Unverified payloads are rejected before any parsing. Successful
// charges create an escrow hold exactly once per transaction reference;
// redelivered events acknowledge without writing anything.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adam-Maverick/perks-app-sub000/internal/escrow"
	"github.com/Adam-Maverick/perks-app-sub000/internal/idgen"
	"github.com/Adam-Maverick/perks-app-sub000/internal/notify"
	"github.com/Adam-Maverick/perks-app-sub000/internal/payments"
	"github.com/Adam-Maverick/perks-app-sub000/internal/traces"
)

// Gateway event types we act on. Anything else is acknowledged and
// ignored.
const (
	EventChargeSuccess = "charge.success"
	EventChargeFailed  = "charge.failed"
)

var ErrUnknownReference = errors.New("no transaction for reference")

// event is the gateway's delivery envelope.
type event struct {
	Event string `json:"event"`
	Data  struct {
		Reference string `json:"reference"`
		Amount    int64  `json:"amount"`
		Status    string `json:"status"`
	} `json:"data"`
}

// Ingestor verifies and processes inbound gateway events.
type Ingestor struct {
	txns    payments.Store
	secret  string
	logger  *slog.Logger
	emitter *notify.Emitter
}

// NewIngestor creates a webhook ingestor. secret is the shared HMAC key
// configured with the gateway.
func NewIngestor(txns payments.Store, secret string, logger *slog.Logger, emitter *notify.Emitter) *Ingestor {
	return &Ingestor{txns: txns, secret: secret, logger: logger, emitter: emitter}
}

// VerifySignature checks the hex HMAC-SHA512 signature over the raw
// body in constant time.
func (i *Ingestor) VerifySignature(body []byte, signature string) bool {
	mac := hmac.New(sha512.New, []byte(i.secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// Process parses and applies a verified event. Returning an error means
// the delivery should be retried by the gateway; ErrUnknownReference and
// unparseable bodies are caller-visible but acknowledgeable.
func (i *Ingestor) Process(ctx context.Context, body []byte) error {
	var ev event
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("malformed event payload: %w", err)
	}

	ctx, span := traces.StartSpan(ctx, "webhook.process", traces.Reference(ev.Data.Reference))
	defer span.End()

	switch ev.Event {
	case EventChargeSuccess:
		return i.chargeSuccess(ctx, &ev)
	case EventChargeFailed:
		return i.chargeFailed(ctx, &ev)
	default:
		i.logger.Debug("ignoring gateway event", "event", ev.Event)
		return nil
	}
}

func (i *Ingestor) chargeSuccess(ctx context.Context, ev *event) error {
	txn, err := i.txns.GetByReference(ctx, ev.Data.Reference)
	if errors.Is(err, payments.ErrTransactionNotFound) {
		return fmt.Errorf("%w: %s", ErrUnknownReference, ev.Data.Reference)
	}
	if err != nil {
		return err
	}

	// Redelivery: the hold already exists, acknowledge without writing.
	if txn.EscrowHoldID != "" {
		eventsDuplicate.WithLabelValues(EventChargeSuccess).Inc()
		i.logger.Info("duplicate charge.success acknowledged",
			"reference", ev.Data.Reference, "holdId", txn.EscrowHoldID)
		return nil
	}

	if ev.Data.Amount != 0 && ev.Data.Amount != txn.Amount {
		i.logger.Warn("gateway amount differs from transaction",
			"reference", ev.Data.Reference,
			"gatewayAmount", ev.Data.Amount,
			"transactionAmount", txn.Amount,
		)
		i.emitter.EmitOperatorAlert("webhook amount mismatch",
			fmt.Sprintf("reference %s: gateway reported %d, transaction holds %d",
				ev.Data.Reference, ev.Data.Amount, txn.Amount))
	}

	now := time.Now().UTC()
	hold := &escrow.Hold{
		ID:            idgen.WithPrefix("hold_"),
		TransactionID: txn.ID,
		MerchantID:    txn.MerchantID,
		Amount:        txn.Amount,
		State:         escrow.StateHeld,
		HeldAt:        now,
		UpdatedAt:     now,
	}

	if err := i.txns.CompleteWithHold(ctx, txn.ID, hold); err != nil {
		// A concurrent delivery won the race; treat like a redelivery.
		if errors.Is(err, escrow.ErrHoldExists) {
			eventsDuplicate.WithLabelValues(EventChargeSuccess).Inc()
			return nil
		}
		return err
	}

	eventsProcessed.WithLabelValues(EventChargeSuccess).Inc()
	i.logger.Info("payment held in escrow",
		"reference", ev.Data.Reference,
		"transactionId", txn.ID,
		"holdId", hold.ID,
		"amount", hold.Amount,
	)
	i.emitter.EmitPaymentHeld(txn.UserID, hold)
	return nil
}

func (i *Ingestor) chargeFailed(ctx context.Context, ev *event) error {
	txn, err := i.txns.GetByReference(ctx, ev.Data.Reference)
	if errors.Is(err, payments.ErrTransactionNotFound) {
		return fmt.Errorf("%w: %s", ErrUnknownReference, ev.Data.Reference)
	}
	if err != nil {
		return err
	}

	// A failure event never creates a hold, and never unwinds a
	// completed payment.
	if txn.Status != payments.StatusPending {
		eventsDuplicate.WithLabelValues(EventChargeFailed).Inc()
		return nil
	}

	if err := i.txns.SetStatus(ctx, txn.ID, payments.StatusFailed); err != nil {
		return err
	}

	eventsProcessed.WithLabelValues(EventChargeFailed).Inc()
	i.logger.Info("payment failed", "reference", ev.Data.Reference, "transactionId", txn.ID)
	return nil
}
