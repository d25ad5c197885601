// Package settlement abstracts the external payment gateway that moves
// real money: collecting payments, transferring to merchants, and
// refunding payers. The escrow engine consumes this interface and never
// coordinates transactions with the gateway — callers always pass a
// stable reference so retried calls are no-ops on the gateway side.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrRecipientRequired = errors.New("recipient code is required")

	// ErrGatewayUnavailable is returned while the circuit to the
	// gateway is open after repeated transport failures.
	ErrGatewayUnavailable = errors.New("gateway temporarily unavailable")
)

// Authorization is the result of initializing a payment.
type Authorization struct {
	AuthorizationURL string `json:"authorizationUrl"`
	Reference        string `json:"reference"`
}

// Verification is the gateway's view of a transaction.
type Verification struct {
	Status string `json:"status"`
	Amount int64  `json:"amount"`
}

// BankDetails identifies a settlement recipient's bank account. All
// fields are required; Validate is called at the boundary before any
// gateway call so malformed recipients never reach the wire.
type BankDetails struct {
	AccountName   string `json:"accountName"`
	AccountNumber string `json:"accountNumber"`
	BankCode      string `json:"bankCode"`
	Currency      string `json:"currency"`
}

// Validate checks that all required recipient fields are present.
func (b BankDetails) Validate() error {
	var missing []string
	if strings.TrimSpace(b.AccountName) == "" {
		missing = append(missing, "accountName")
	}
	if strings.TrimSpace(b.AccountNumber) == "" {
		missing = append(missing, "accountNumber")
	}
	if strings.TrimSpace(b.BankCode) == "" {
		missing = append(missing, "bankCode")
	}
	if strings.TrimSpace(b.Currency) == "" {
		missing = append(missing, "currency")
	}
	if len(missing) > 0 {
		return fmt.Errorf("bank details missing required fields: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Gateway is the settlement operations contract. Amounts are in minor
// currency units. Transfer and Refund are idempotent by reference on
// the gateway side.
type Gateway interface {
	InitializeTransaction(ctx context.Context, email string, amount int64, reference, callbackURL string) (*Authorization, error)
	VerifyTransaction(ctx context.Context, reference string) (*Verification, error)
	CreateTransferRecipient(ctx context.Context, details BankDetails) (recipientCode string, err error)
	Transfer(ctx context.Context, amount int64, recipientCode, reference string) (transferCode string, err error)
	Refund(ctx context.Context, transactionReference string) (refundID string, err error)
	Balance(ctx context.Context) (int64, error)
}

// APIError is a non-2xx response from the gateway.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway error (status %d): %s", e.StatusCode, e.Message)
}
