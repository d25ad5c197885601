package settlement

import (
	"context"
	"log/slog"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
)

// StripeGateway implements Gateway on Stripe for deployments outside
// Paystack's supported regions. Checkout sessions stand in for the
// initialize/authorization-URL flow and Connect accounts stand in for
// transfer recipients; references map onto Stripe idempotency keys so
// retried transfers and refunds are no-ops.
type StripeGateway struct {
	api    *client.API
	logger *slog.Logger
}

// NewStripeGateway creates a Stripe-backed gateway client.
func NewStripeGateway(apiKey string, logger *slog.Logger) *StripeGateway {
	api := &client.API{}
	api.Init(apiKey, nil)
	return &StripeGateway{api: api, logger: logger}
}

func (g *StripeGateway) InitializeTransaction(ctx context.Context, email string, amount int64, reference, callbackURL string) (*Authorization, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		CustomerEmail:     stripe.String(email),
		ClientReferenceID: stripe.String(reference),
		SuccessURL:        stripe.String(callbackURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(string(stripe.CurrencyUSD)),
				UnitAmount: stripe.Int64(amount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String("Perks purchase"),
				},
			},
		}},
	}
	params.Context = ctx
	params.SetIdempotencyKey("init-" + reference)

	sess, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, err
	}
	return &Authorization{AuthorizationURL: sess.URL, Reference: reference}, nil
}

func (g *StripeGateway) VerifyTransaction(ctx context.Context, reference string) (*Verification, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	pi, err := g.api.PaymentIntents.Get(reference, params)
	if err != nil {
		return nil, err
	}

	status := "failed"
	if pi.Status == stripe.PaymentIntentStatusSucceeded {
		status = "success"
	}
	return &Verification{Status: status, Amount: pi.Amount}, nil
}

func (g *StripeGateway) CreateTransferRecipient(ctx context.Context, details BankDetails) (string, error) {
	if err := details.Validate(); err != nil {
		return "", err
	}

	params := &stripe.AccountParams{
		Type: stripe.String(string(stripe.AccountTypeExpress)),
		BusinessProfile: &stripe.AccountBusinessProfileParams{
			Name: stripe.String(details.AccountName),
		},
	}
	params.Context = ctx

	acct, err := g.api.Accounts.New(params)
	if err != nil {
		return "", err
	}
	return acct.ID, nil
}

func (g *StripeGateway) Transfer(ctx context.Context, amount int64, recipientCode, reference string) (string, error) {
	if recipientCode == "" {
		return "", ErrRecipientRequired
	}

	params := &stripe.TransferParams{
		Amount:        stripe.Int64(amount),
		Currency:      stripe.String(string(stripe.CurrencyUSD)),
		Destination:   stripe.String(recipientCode),
		TransferGroup: stripe.String(reference),
	}
	params.Context = ctx
	params.SetIdempotencyKey(reference)

	tr, err := g.api.Transfers.New(params)
	if err != nil {
		return "", err
	}
	return tr.ID, nil
}

func (g *StripeGateway) Refund(ctx context.Context, transactionReference string) (string, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(transactionReference),
	}
	params.Context = ctx
	params.SetIdempotencyKey("refund-" + transactionReference)

	r, err := g.api.Refunds.New(params)
	if err != nil {
		return "", err
	}
	return r.ID, nil
}

func (g *StripeGateway) Balance(ctx context.Context) (int64, error) {
	params := &stripe.BalanceParams{}
	params.Context = ctx

	bal, err := g.api.Balance.Get(params)
	if err != nil {
		return 0, err
	}

	var total int64
	for _, a := range bal.Available {
		total += a.Amount
	}
	return total, nil
}

// Compile-time assertion that StripeGateway implements Gateway.
var _ Gateway = (*StripeGateway)(nil)
