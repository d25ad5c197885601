package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/Adam-Maverick/perks-app-sub000/internal/escrow"
	"github.com/Adam-Maverick/perks-app-sub000/internal/payments"
	"github.com/Adam-Maverick/perks-app-sub000/internal/release"
	"github.com/Adam-Maverick/perks-app-sub000/internal/settlement"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeGateway serves transfers and a configurable balance.
type fakeGateway struct {
	transfers  []string
	failRefs   map[string]error
	balance    int64
	balanceErr error
}

func (g *fakeGateway) InitializeTransaction(ctx context.Context, email string, amount int64, reference, callbackURL string) (*settlement.Authorization, error) {
	return &settlement.Authorization{Reference: reference}, nil
}

func (g *fakeGateway) VerifyTransaction(ctx context.Context, reference string) (*settlement.Verification, error) {
	return &settlement.Verification{Status: "success"}, nil
}

func (g *fakeGateway) CreateTransferRecipient(ctx context.Context, details settlement.BankDetails) (string, error) {
	return "RCP_test", nil
}

func (g *fakeGateway) Transfer(ctx context.Context, amount int64, recipientCode, reference string) (string, error) {
	if err, ok := g.failRefs[reference]; ok {
		return "", err
	}
	g.transfers = append(g.transfers, reference)
	return "TRF_test", nil
}

func (g *fakeGateway) Refund(ctx context.Context, transactionReference string) (string, error) {
	return "RFD_test", nil
}

func (g *fakeGateway) Balance(ctx context.Context) (int64, error) {
	return g.balance, g.balanceErr
}

type recordingMailer struct {
	sent []string
}

func (m *recordingMailer) Send(ctx context.Context, to, subject, body string) error {
	m.sent = append(m.sent, to)
	return nil
}

type fixture struct {
	escrowStore *escrow.MemoryStore
	txns        *payments.MemoryStore
	releaser    *release.Releaser
	gateway     *fakeGateway
	mailer      *recordingMailer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	escrowStore := escrow.NewMemoryStore()
	txns := payments.NewMemoryStore(escrowStore)
	merchants := payments.NewMemoryMerchantStore()
	gateway := &fakeGateway{failRefs: map[string]error{}}
	machine := escrow.NewMachine(escrowStore, testLogger())
	mailer := &recordingMailer{}

	if err := merchants.Upsert(ctx, &payments.Merchant{
		ID: "merch_1", Name: "Cafe One", Email: "owner@cafeone.test",
		Bank: settlement.BankDetails{
			AccountName: "Cafe One Ltd", AccountNumber: "0123456789",
			BankCode: "058", Currency: "NGN",
		},
	}); err != nil {
		t.Fatalf("seed merchant: %v", err)
	}

	releaser := release.NewReleaser(machine, txns, merchants, gateway, testLogger(), nil, mailer)
	return &fixture{escrowStore: escrowStore, txns: txns, releaser: releaser, gateway: gateway, mailer: mailer}
}

func (f *fixture) seedHold(t *testing.T, holdID, txnID, email string, amount int64, heldAt time.Time) {
	t.Helper()
	ctx := context.Background()

	if err := f.txns.Create(ctx, &payments.Transaction{
		ID: txnID, UserID: "user_" + txnID, UserEmail: email,
		MerchantID: "merch_1", Amount: amount, Status: payments.StatusCompleted,
		ExternalReference: "ref_" + txnID, CreatedAt: heldAt, UpdatedAt: heldAt,
	}); err != nil {
		t.Fatalf("seed transaction %s: %v", txnID, err)
	}
	if err := f.escrowStore.Create(ctx, &escrow.Hold{
		ID: holdID, TransactionID: txnID, MerchantID: "merch_1",
		Amount: amount, State: escrow.StateHeld, HeldAt: heldAt, UpdatedAt: heldAt,
	}); err != nil {
		t.Fatalf("seed hold %s: %v", holdID, err)
	}
}

// ---------------------------------------------------------------------------
// Scheduler
// ---------------------------------------------------------------------------

type stubJob struct {
	name   string
	report interface{}
	err    error
	panics bool
	runs   int
}

func (j *stubJob) Name() string { return j.name }

func (j *stubJob) Run(ctx context.Context) (interface{}, error) {
	j.runs++
	if j.panics {
		panic("boom")
	}
	return j.report, j.err
}

func TestScheduler_AddRejectsBadTime(t *testing.T) {
	s := NewScheduler(testLogger())

	if err := s.Add(&stubJob{name: "ok"}, "03:30"); err != nil {
		t.Fatalf("valid time rejected: %v", err)
	}
	if err := s.Add(&stubJob{name: "bad"}, "25:99"); err == nil {
		t.Error("Expected error for invalid wall time")
	}
	if err := s.Add(&stubJob{name: "bad"}, "3pm"); err == nil {
		t.Error("Expected error for unparseable time")
	}

	names := s.Names()
	if len(names) != 1 || names[0] != "ok" {
		t.Errorf("Names = %v", names)
	}
}

func TestScheduler_RunNow(t *testing.T) {
	s := NewScheduler(testLogger())
	job := &stubJob{name: "demo", report: "done"}
	if err := s.Add(job, "00:00"); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	report, err := s.RunNow(context.Background(), "demo")
	if err != nil {
		t.Fatalf("RunNow failed: %v", err)
	}
	if report != "done" || job.runs != 1 {
		t.Errorf("report=%v runs=%d", report, job.runs)
	}

	if _, err := s.RunNow(context.Background(), "nope"); !errors.Is(err, ErrUnknownJob) {
		t.Errorf("Expected ErrUnknownJob, got %v", err)
	}
}

func TestScheduler_RunNowRecoversPanic(t *testing.T) {
	s := NewScheduler(testLogger())
	if err := s.Add(&stubJob{name: "explosive", panics: true}, "00:00"); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	_, err := s.RunNow(context.Background(), "explosive")
	if err == nil || !strings.Contains(err.Error(), "panic") {
		t.Errorf("Expected panic error, got %v", err)
	}
}

// blockingJob parks in Run until released, to hold a run in flight.
type blockingJob struct {
	started chan struct{}
	release chan struct{}
}

func (j *blockingJob) Name() string { return "slow" }

func (j *blockingJob) Run(ctx context.Context) (interface{}, error) {
	close(j.started)
	<-j.release
	return "finished", nil
}

func TestScheduler_RejectsConcurrentRun(t *testing.T) {
	s := NewScheduler(testLogger())
	job := &blockingJob{started: make(chan struct{}), release: make(chan struct{})}
	if err := s.Add(job, "00:00"); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := s.RunNow(context.Background(), "slow")
		done <- err
	}()

	select {
	case <-job.started:
	case <-time.After(2 * time.Second):
		t.Fatal("First run never started")
	}

	// A trigger while the first run is in flight is turned away.
	if _, err := s.RunNow(context.Background(), "slow"); !errors.Is(err, ErrJobRunning) {
		t.Errorf("Expected ErrJobRunning, got %v", err)
	}

	close(job.release)
	if err := <-done; err != nil {
		t.Fatalf("First run failed: %v", err)
	}

	// Once the run finishes the job can be triggered again.
	job.started = make(chan struct{})
	job.release = make(chan struct{})
	close(job.release)
	if _, err := s.RunNow(context.Background(), "slow"); err != nil {
		t.Errorf("Run after completion failed: %v", err)
	}
}

func TestNextOccurrence(t *testing.T) {
	now := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)

	next := nextOccurrence(now, "15:04")
	want := time.Date(2026, 9, 1, 15, 4, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("Later today: got %v, want %v", next, want)
	}

	// A wall time already past rolls to tomorrow.
	next = nextOccurrence(now, "09:00")
	want = time.Date(2026, 9, 2, 9, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("Tomorrow: got %v, want %v", next, want)
	}
}

// ---------------------------------------------------------------------------
// Auto-release
// ---------------------------------------------------------------------------

func TestAutoRelease_ReleasesExpiredOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	f.seedHold(t, "hold_old", "txn_old", "old@example.com", 5000, now.AddDate(0, 0, -15))
	f.seedHold(t, "hold_young", "txn_young", "young@example.com", 3000, now.AddDate(0, 0, -3))

	job := NewAutoRelease(f.escrowStore, f.releaser, 14, testLogger(), nil)
	raw, err := job.Run(ctx)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	report := raw.(*AutoReleaseReport)
	if report.Eligible != 1 || report.Released != 1 || report.Failed != 0 {
		t.Errorf("Report = %+v", report)
	}

	old, _ := f.escrowStore.Get(ctx, "hold_old")
	if old.State != escrow.StateReleased {
		t.Errorf("Expired hold not released: %s", old.State)
	}
	young, _ := f.escrowStore.Get(ctx, "hold_young")
	if young.State != escrow.StateHeld {
		t.Errorf("Young hold touched: %s", young.State)
	}

	// Auto-release flips the transaction status.
	txn, _ := f.txns.Get(ctx, "txn_old")
	if txn.Status != payments.StatusAutoCompleted {
		t.Errorf("Expected auto_completed, got %s", txn.Status)
	}
}

func TestAutoRelease_FailureDoesNotAbortBatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	f.seedHold(t, "hold_a", "txn_a", "a@example.com", 5000, now.AddDate(0, 0, -20))
	f.seedHold(t, "hold_b", "txn_b", "b@example.com", 3000, now.AddDate(0, 0, -20))
	f.gateway.failRefs["hold_a"] = &settlement.APIError{StatusCode: 400, Message: "invalid recipient"}

	job := NewAutoRelease(f.escrowStore, f.releaser, 14, testLogger(), nil)
	raw, err := job.Run(ctx)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	report := raw.(*AutoReleaseReport)
	if report.Eligible != 2 || report.Released != 1 || report.Failed != 1 {
		t.Errorf("Report = %+v", report)
	}
	if len(f.gateway.transfers) != 1 || f.gateway.transfers[0] != "hold_b" {
		t.Errorf("Transfers = %v", f.gateway.transfers)
	}
}

// ---------------------------------------------------------------------------
// Reminders
// ---------------------------------------------------------------------------

func TestReminders_SendsAtDayMarksOnly(t *testing.T) {
	f := newFixture(t)
	now := time.Now().UTC()

	f.seedHold(t, "hold_7", "txn_7", "seven@example.com", 5000, now.AddDate(0, 0, -7))
	f.seedHold(t, "hold_12", "txn_12", "twelve@example.com", 3000, now.AddDate(0, 0, -12))
	f.seedHold(t, "hold_3", "txn_3", "three@example.com", 1000, now.AddDate(0, 0, -3))

	job := NewReminders(f.escrowStore, f.txns, nil, 14, testLogger(), nil, f.mailer)
	raw, err := job.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	report := raw.(*ReminderReport)
	if report.Sent != 2 || report.Failed != 0 {
		t.Errorf("Report = %+v", report)
	}
	if len(f.mailer.sent) != 2 {
		t.Errorf("Mails sent to %v", f.mailer.sent)
	}
}

func TestReminders_RepeatRunDoesNotResend(t *testing.T) {
	f := newFixture(t)
	now := time.Now().UTC()

	f.seedHold(t, "hold_7", "txn_7", "payer@example.com", 5000, now.AddDate(0, 0, -7))

	job := NewReminders(f.escrowStore, f.txns, nil, 14, testLogger(), nil, f.mailer)
	if _, err := job.Run(context.Background()); err != nil {
		t.Fatalf("First run failed: %v", err)
	}

	// A manual re-trigger on the same day must not email the hold again.
	raw, err := job.Run(context.Background())
	if err != nil {
		t.Fatalf("Second run failed: %v", err)
	}
	report := raw.(*ReminderReport)
	if report.Sent != 0 {
		t.Errorf("Second run re-sent %d reminders", report.Sent)
	}
	if len(f.mailer.sent) != 1 {
		t.Errorf("Expected 1 mail total, got %d: %v", len(f.mailer.sent), f.mailer.sent)
	}
}

func TestReminders_MissingEmailCountsAsFailure(t *testing.T) {
	f := newFixture(t)
	now := time.Now().UTC()

	f.seedHold(t, "hold_7", "txn_7", "", 5000, now.AddDate(0, 0, -7))

	job := NewReminders(f.escrowStore, f.txns, nil, 14, testLogger(), nil, f.mailer)
	raw, err := job.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	report := raw.(*ReminderReport)
	if report.Sent != 0 || report.Failed != 1 {
		t.Errorf("Report = %+v", report)
	}

	// Failing to remind never touches escrow state.
	hold, _ := f.escrowStore.Get(context.Background(), "hold_7")
	if hold.State != escrow.StateHeld {
		t.Errorf("Reminder failure changed state to %s", hold.State)
	}
}

// ---------------------------------------------------------------------------
// Reconciliation
// ---------------------------------------------------------------------------

func TestReconciliation_ReportsDiscrepancy(t *testing.T) {
	f := newFixture(t)
	now := time.Now().UTC()

	f.seedHold(t, "hold_1", "txn_1", "a@example.com", 300000, now)
	f.seedHold(t, "hold_2", "txn_2", "b@example.com", 200000, now)
	f.gateway.balance = 450000

	job := NewReconciliation(f.escrowStore, f.gateway, testLogger(), nil)
	raw, err := job.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	report := raw.(*ReconciliationReport)
	if report.InternalTotal != 500000 || report.ExternalTotal != 450000 {
		t.Errorf("Totals = %+v", report)
	}
	if report.Discrepancy != 50000 || report.Match {
		t.Errorf("Expected +50000 discrepancy, got %+v", report)
	}

	last := job.LastReport()
	if last == nil || last.Discrepancy != 50000 {
		t.Errorf("LastReport = %+v", last)
	}
}

func TestReconciliation_MatchAndGatewayError(t *testing.T) {
	f := newFixture(t)
	now := time.Now().UTC()

	f.seedHold(t, "hold_1", "txn_1", "a@example.com", 75000, now)
	f.gateway.balance = 75000

	job := NewReconciliation(f.escrowStore, f.gateway, testLogger(), nil)
	raw, err := job.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report := raw.(*ReconciliationReport); !report.Match || report.Discrepancy != 0 {
		t.Errorf("Report = %+v", report)
	}

	// A balance read failure produces no report; the last good one stays.
	f.gateway.balanceErr = errors.New("gateway down")
	if _, err := job.Run(context.Background()); err == nil {
		t.Error("Expected error on gateway failure")
	}
	if last := job.LastReport(); last == nil || !last.Match {
		t.Errorf("LastReport overwritten by failed run: %+v", last)
	}
}
