package settlement

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/Adam-Maverick/perks-app-sub000/internal/circuitbreaker"
	"github.com/Adam-Maverick/perks-app-sub000/internal/traces"
)

// DefaultPaystackBaseURL is the production Paystack API endpoint.
const DefaultPaystackBaseURL = "https://api.paystack.co"

// breakerKey is the single circuit key; Paystack is one upstream.
const breakerKey = "paystack"

// PaystackClient implements Gateway against the Paystack REST API.
type PaystackClient struct {
	baseURL string
	secret  string
	client  *http.Client
	breaker *circuitbreaker.Breaker
	logger  *slog.Logger
}

// NewPaystackClient creates a Paystack-backed gateway client.
func NewPaystackClient(baseURL, secretKey string, logger *slog.Logger) *PaystackClient {
	if baseURL == "" {
		baseURL = DefaultPaystackBaseURL
	}
	return &PaystackClient{
		baseURL: baseURL,
		secret:  secretKey,
		client:  &http.Client{Timeout: 30 * time.Second},
		breaker: circuitbreaker.New(5, 30*time.Second),
		logger:  logger,
	}
}

// envelope is Paystack's standard response wrapper.
type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (p *PaystackClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	if !p.breaker.Allow(breakerKey) {
		return ErrGatewayUnavailable
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+p.secret)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		p.breaker.RecordFailure(breakerKey)
		return fmt.Errorf("paystack request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	// 5xx trips the circuit; 4xx is an API-level rejection, the
	// upstream itself is healthy.
	if resp.StatusCode >= 500 {
		p.breaker.RecordFailure(breakerKey)
	} else {
		p.breaker.RecordSuccess(breakerKey)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("paystack response read failed: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("paystack response decode failed: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 || !env.Status {
		return &APIError{StatusCode: resp.StatusCode, Message: env.Message}
	}

	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("paystack data decode failed: %w", err)
		}
	}
	return nil
}

func (p *PaystackClient) InitializeTransaction(ctx context.Context, email string, amount int64, reference, callbackURL string) (*Authorization, error) {
	ctx, span := traces.StartSpan(ctx, "settlement.initialize", traces.Reference(reference))
	defer span.End()

	var data struct {
		AuthorizationURL string `json:"authorization_url"`
		Reference        string `json:"reference"`
	}
	err := p.do(ctx, http.MethodPost, "/transaction/initialize", map[string]interface{}{
		"email":        email,
		"amount":       amount,
		"reference":    reference,
		"callback_url": callbackURL,
	}, &data)
	if err != nil {
		return nil, err
	}
	return &Authorization{AuthorizationURL: data.AuthorizationURL, Reference: data.Reference}, nil
}

func (p *PaystackClient) VerifyTransaction(ctx context.Context, reference string) (*Verification, error) {
	ctx, span := traces.StartSpan(ctx, "settlement.verify", traces.Reference(reference))
	defer span.End()

	var data struct {
		Status string `json:"status"`
		Amount int64  `json:"amount"`
	}
	if err := p.do(ctx, http.MethodGet, "/transaction/verify/"+reference, nil, &data); err != nil {
		return nil, err
	}
	return &Verification{Status: data.Status, Amount: data.Amount}, nil
}

func (p *PaystackClient) CreateTransferRecipient(ctx context.Context, details BankDetails) (string, error) {
	if err := details.Validate(); err != nil {
		return "", err
	}

	ctx, span := traces.StartSpan(ctx, "settlement.create_recipient")
	defer span.End()

	var data struct {
		RecipientCode string `json:"recipient_code"`
	}
	err := p.do(ctx, http.MethodPost, "/transferrecipient", map[string]interface{}{
		"type":           "nuban",
		"name":           details.AccountName,
		"account_number": details.AccountNumber,
		"bank_code":      details.BankCode,
		"currency":       details.Currency,
	}, &data)
	if err != nil {
		return "", err
	}
	return data.RecipientCode, nil
}

func (p *PaystackClient) Transfer(ctx context.Context, amount int64, recipientCode, reference string) (string, error) {
	if recipientCode == "" {
		return "", ErrRecipientRequired
	}

	ctx, span := traces.StartSpan(ctx, "settlement.transfer",
		traces.Reference(reference), traces.Amount(amount))
	defer span.End()

	var data struct {
		TransferCode string `json:"transfer_code"`
	}
	err := p.do(ctx, http.MethodPost, "/transfer", map[string]interface{}{
		"source":    "balance",
		"amount":    amount,
		"recipient": recipientCode,
		"reference": reference,
		"reason":    "escrow release",
	}, &data)
	if err != nil {
		return "", err
	}
	return data.TransferCode, nil
}

func (p *PaystackClient) Refund(ctx context.Context, transactionReference string) (string, error) {
	ctx, span := traces.StartSpan(ctx, "settlement.refund", traces.Reference(transactionReference))
	defer span.End()

	var data struct {
		ID int64 `json:"id"`
	}
	err := p.do(ctx, http.MethodPost, "/refund", map[string]interface{}{
		"transaction": transactionReference,
	}, &data)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d", data.ID), nil
}

func (p *PaystackClient) Balance(ctx context.Context) (int64, error) {
	ctx, span := traces.StartSpan(ctx, "settlement.balance")
	defer span.End()

	var data []struct {
		Currency string `json:"currency"`
		Balance  int64  `json:"balance"`
	}
	if err := p.do(ctx, http.MethodGet, "/balance", nil, &data); err != nil {
		return 0, err
	}

	var total int64
	for _, b := range data {
		total += b.Balance
	}
	return total, nil
}

// Compile-time assertion that PaystackClient implements Gateway.
var _ Gateway = (*PaystackClient)(nil)
