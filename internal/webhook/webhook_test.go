package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Adam-Maverick/perks-app-sub000/internal/escrow"
	"github.com/Adam-Maverick/perks-app-sub000/internal/payments"
)

const testSecret = "whsec_test"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestIngestor(t *testing.T) (*Ingestor, *payments.MemoryStore, *escrow.MemoryStore) {
	t.Helper()
	escrowStore := escrow.NewMemoryStore()
	txns := payments.NewMemoryStore(escrowStore)
	return NewIngestor(txns, testSecret, testLogger(), nil), txns, escrowStore
}

func seedPending(t *testing.T, txns *payments.MemoryStore, id, ref string, amount int64) {
	t.Helper()
	now := time.Now().UTC()
	err := txns.Create(context.Background(), &payments.Transaction{
		ID:                id,
		UserID:            "user_1",
		UserEmail:         "user@example.com",
		MerchantID:        "merch_1",
		Amount:            amount,
		Status:            payments.StatusPending,
		ExternalReference: ref,
		CreatedAt:         now,
		UpdatedAt:         now,
	})
	if err != nil {
		t.Fatalf("seed transaction: %v", err)
	}
}

func sign(body []byte, secret string) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func chargeBody(event, ref string, amount int64) []byte {
	return []byte(fmt.Sprintf(`{"event":%q,"data":{"reference":%q,"amount":%d,"status":"success"}}`, event, ref, amount))
}

func TestVerifySignature(t *testing.T) {
	ing, _, _ := newTestIngestor(t)
	body := chargeBody(EventChargeSuccess, "ref_1", 5000)

	if !ing.VerifySignature(body, sign(body, testSecret)) {
		t.Error("Valid signature rejected")
	}
	if ing.VerifySignature(body, sign(body, "wrong-secret")) {
		t.Error("Signature with wrong secret accepted")
	}
	if ing.VerifySignature(body, "deadbeef") {
		t.Error("Garbage signature accepted")
	}
	// Tampered body fails against the original signature.
	sig := sign(body, testSecret)
	tampered := bytes.Replace(body, []byte("5000"), []byte("9000"), 1)
	if ing.VerifySignature(tampered, sig) {
		t.Error("Tampered body accepted")
	}
}

func TestChargeSuccess_CreatesHoldOnce(t *testing.T) {
	ing, txns, escrowStore := newTestIngestor(t)
	ctx := context.Background()
	seedPending(t, txns, "txn_1", "ref_1", 5000)

	body := chargeBody(EventChargeSuccess, "ref_1", 5000)
	if err := ing.Process(ctx, body); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	txn, _ := txns.Get(ctx, "txn_1")
	if txn.Status != payments.StatusCompleted {
		t.Errorf("Expected completed, got %s", txn.Status)
	}
	if txn.EscrowHoldID == "" {
		t.Fatal("Expected a linked escrow hold")
	}

	hold, err := escrowStore.Get(ctx, txn.EscrowHoldID)
	if err != nil {
		t.Fatalf("Hold lookup failed: %v", err)
	}
	if hold.State != escrow.StateHeld || hold.Amount != 5000 {
		t.Errorf("Hold = %+v", hold)
	}

	// Redelivery acknowledges without creating a second hold.
	if err := ing.Process(ctx, body); err != nil {
		t.Fatalf("Redelivery failed: %v", err)
	}
	again, _ := txns.Get(ctx, "txn_1")
	if again.EscrowHoldID != txn.EscrowHoldID {
		t.Errorf("Redelivery changed hold link: %s -> %s", txn.EscrowHoldID, again.EscrowHoldID)
	}
}

func TestChargeSuccess_UnknownReference(t *testing.T) {
	ing, _, _ := newTestIngestor(t)

	err := ing.Process(context.Background(), chargeBody(EventChargeSuccess, "ref_nope", 100))
	if !errors.Is(err, ErrUnknownReference) {
		t.Errorf("Expected ErrUnknownReference, got %v", err)
	}
}

func TestChargeSuccess_AmountMismatchUsesTransactionAmount(t *testing.T) {
	ing, txns, escrowStore := newTestIngestor(t)
	ctx := context.Background()
	seedPending(t, txns, "txn_1", "ref_1", 5000)

	// Gateway reports a different amount; the transaction's amount wins.
	if err := ing.Process(ctx, chargeBody(EventChargeSuccess, "ref_1", 4200)); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	txn, _ := txns.Get(ctx, "txn_1")
	hold, _ := escrowStore.Get(ctx, txn.EscrowHoldID)
	if hold.Amount != 5000 {
		t.Errorf("Expected hold amount 5000, got %d", hold.Amount)
	}
}

func TestChargeFailed_NeverCreatesHold(t *testing.T) {
	ing, txns, _ := newTestIngestor(t)
	ctx := context.Background()
	seedPending(t, txns, "txn_1", "ref_1", 5000)

	if err := ing.Process(ctx, chargeBody(EventChargeFailed, "ref_1", 5000)); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	txn, _ := txns.Get(ctx, "txn_1")
	if txn.Status != payments.StatusFailed {
		t.Errorf("Expected failed, got %s", txn.Status)
	}
	if txn.EscrowHoldID != "" {
		t.Error("charge.failed must not create a hold")
	}

	// A late failure event never unwinds a completed payment.
	seedPending(t, txns, "txn_2", "ref_2", 100)
	if err := ing.Process(ctx, chargeBody(EventChargeSuccess, "ref_2", 100)); err != nil {
		t.Fatalf("success failed: %v", err)
	}
	if err := ing.Process(ctx, chargeBody(EventChargeFailed, "ref_2", 100)); err != nil {
		t.Fatalf("late failure errored: %v", err)
	}
	txn2, _ := txns.Get(ctx, "txn_2")
	if txn2.Status != payments.StatusCompleted {
		t.Errorf("Late failure changed status to %s", txn2.Status)
	}
}

func TestProcess_IgnoresUnknownEvents(t *testing.T) {
	ing, _, _ := newTestIngestor(t)
	body := []byte(`{"event":"transfer.success","data":{"reference":"ref_x"}}`)
	if err := ing.Process(context.Background(), body); err != nil {
		t.Errorf("Unknown event type should be ignored, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// HTTP handler
// ---------------------------------------------------------------------------

func newTestRouter(ing *Ingestor) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewHandler(ing).RegisterRoutes(r.Group("/v1"))
	return r
}

func postWebhook(r *gin.Engine, body []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/paystack", bytes.NewReader(body))
	if signature != "" {
		req.Header.Set(SignatureHeader, signature)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestReceive_RejectsBadSignature(t *testing.T) {
	ing, txns, _ := newTestIngestor(t)
	seedPending(t, txns, "txn_1", "ref_1", 5000)
	r := newTestRouter(ing)
	body := chargeBody(EventChargeSuccess, "ref_1", 5000)

	if w := postWebhook(r, body, ""); w.Code != http.StatusBadRequest {
		t.Errorf("Missing signature: expected 400, got %d", w.Code)
	}
	if w := postWebhook(r, body, "ffff"); w.Code != http.StatusBadRequest {
		t.Errorf("Bad signature: expected 400, got %d", w.Code)
	}

	// Nothing was written.
	txn, _ := txns.Get(context.Background(), "txn_1")
	if txn.Status != payments.StatusPending {
		t.Errorf("Rejected delivery mutated transaction: %s", txn.Status)
	}
}

func TestReceive_AcknowledgesKnownAndUnknown(t *testing.T) {
	ing, txns, _ := newTestIngestor(t)
	seedPending(t, txns, "txn_1", "ref_1", 5000)
	r := newTestRouter(ing)

	body := chargeBody(EventChargeSuccess, "ref_1", 5000)
	if w := postWebhook(r, body, sign(body, testSecret)); w.Code != http.StatusOK {
		t.Errorf("Valid delivery: expected 200, got %d (%s)", w.Code, w.Body.String())
	}

	// Unknown reference is acknowledged so the gateway stops retrying.
	unknown := chargeBody(EventChargeSuccess, "ref_unknown", 100)
	w := postWebhook(r, unknown, sign(unknown, testSecret))
	if w.Code != http.StatusOK {
		t.Errorf("Unknown reference: expected 200, got %d", w.Code)
	}
	if !bytes.Contains(w.Body.Bytes(), []byte("ignored")) {
		t.Errorf("Expected ignored status, got %s", w.Body.String())
	}
}
