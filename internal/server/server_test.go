package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/Adam-Maverick/perks-app-sub000/internal/config"
	"github.com/Adam-Maverick/perks-app-sub000/internal/settlement"
)

type fakeGateway struct{}

func (f *fakeGateway) InitializeTransaction(ctx context.Context, email string, amount int64, reference, callbackURL string) (*settlement.Authorization, error) {
	return &settlement.Authorization{Reference: reference, AuthorizationURL: "https://pay.example.com/" + reference}, nil
}

func (f *fakeGateway) VerifyTransaction(ctx context.Context, reference string) (*settlement.Verification, error) {
	return &settlement.Verification{Status: "success"}, nil
}

func (f *fakeGateway) CreateTransferRecipient(ctx context.Context, details settlement.BankDetails) (string, error) {
	return "RCP_test", nil
}

func (f *fakeGateway) Transfer(ctx context.Context, amount int64, recipientCode, reference string) (string, error) {
	return "TRF_test", nil
}

func (f *fakeGateway) Refund(ctx context.Context, transactionReference string) (string, error) {
	return "RFD_test", nil
}

func (f *fakeGateway) Balance(ctx context.Context) (int64, error) {
	return 0, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Port:               "0",
		Env:                "development",
		LogLevel:           "error",
		SettlementProvider: "paystack",
		PaystackSecretKey:  "sk_test_abc",
		WebhookSecret:      "whsec_test",
		GraceDays:          14,
		ReminderDays:       []int{7, 12},
		AutoReleaseAt:      "02:00",
		RemindersAt:        "09:00",
		ReconciliationAt:   "04:00",
	}
}

func newTestServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := New(cfg, WithLogger(logger), WithGateway(&fakeGateway{}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func doRequest(s *Server, method, path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func TestNew_MemoryMode(t *testing.T) {
	s := newTestServer(t, testConfig())

	w := doRequest(s, "GET", "/healthz", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("/healthz: expected 200, got %d (%s)", w.Code, w.Body.String())
	}

	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("Invalid health response: %v", err)
	}
	if body["status"] != "healthy" {
		t.Errorf("Expected healthy status, got %v", body["status"])
	}
}

func TestNew_UnknownProvider(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := testConfig()
	cfg.SettlementProvider = "cash"

	// No WithGateway here so the provider switch runs.
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	_, err := New(cfg, WithLogger(logger))
	if err == nil {
		t.Fatal("Expected error for unknown provider")
	}
	if !strings.Contains(err.Error(), "unknown settlement provider") {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestServer_Liveness(t *testing.T) {
	s := newTestServer(t, testConfig())

	w := doRequest(s, "GET", "/health/live", nil)
	if w.Code != http.StatusOK {
		t.Errorf("/health/live: expected 200, got %d", w.Code)
	}
}

func TestServer_ReadinessBeforeRun(t *testing.T) {
	s := newTestServer(t, testConfig())

	// Readiness flips only once Run has bound the listener.
	w := doRequest(s, "GET", "/readyz", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("/readyz before Run: expected 503, got %d", w.Code)
	}
}

func TestServer_Info(t *testing.T) {
	s := newTestServer(t, testConfig())

	w := doRequest(s, "GET", "/api", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("/api: expected 200, got %d", w.Code)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("Invalid info response: %v", err)
	}
	if body["provider"] != "paystack" {
		t.Errorf("Expected provider paystack, got %v", body["provider"])
	}
}

func TestServer_Metrics(t *testing.T) {
	s := newTestServer(t, testConfig())

	w := doRequest(s, "GET", "/metrics", nil)
	if w.Code != http.StatusOK {
		t.Errorf("/metrics: expected 200, got %d", w.Code)
	}
}

func TestServer_UnknownRoute(t *testing.T) {
	s := newTestServer(t, testConfig())

	w := doRequest(s, "GET", "/nope", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("Unknown route: expected 404, got %d", w.Code)
	}
}

func TestServer_AdminAuth(t *testing.T) {
	cfg := testConfig()
	cfg.AdminSecret = "topsecret"
	s := newTestServer(t, cfg)

	// Missing secret
	w := doRequest(s, "GET", "/v1/admin/jobs", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Missing admin secret: expected 401, got %d", w.Code)
	}

	// Wrong secret
	w = doRequest(s, "GET", "/v1/admin/jobs", map[string]string{"X-Admin-Secret": "wrong"})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Wrong admin secret: expected 401, got %d", w.Code)
	}

	// Correct secret
	w = doRequest(s, "GET", "/v1/admin/jobs", map[string]string{"X-Admin-Secret": "topsecret"})
	if w.Code != http.StatusOK {
		t.Errorf("Correct admin secret: expected 200, got %d (%s)", w.Code, w.Body.String())
	}
}

func TestServer_AdminOpenWhenNoSecret(t *testing.T) {
	s := newTestServer(t, testConfig())

	// No AdminSecret configured, admin routes are open (development mode).
	w := doRequest(s, "GET", "/v1/admin/jobs", nil)
	if w.Code != http.StatusOK {
		t.Errorf("Admin without configured secret: expected 200, got %d", w.Code)
	}
}

func TestServer_FeedStats(t *testing.T) {
	s := newTestServer(t, testConfig())

	w := doRequest(s, "GET", "/v1/ops/feed/stats", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("/v1/ops/feed/stats: expected 200, got %d", w.Code)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("Invalid stats response: %v", err)
	}
	if _, ok := body["connectedClients"]; !ok {
		t.Error("Expected connectedClients in feed stats")
	}
}
