// Package payments wraps the Stripe API surface the marketplace uses:
// customers, checkout sessions with split payouts, transfers, and webhook
// signature verification.
package payments

import (
	"context"
	"fmt"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
	"go.uber.org/zap"
)

// Client is the process-wide Stripe handle. It is constructed once at
// startup and injected into the services that need it.
type Client struct {
	api    *client.API
	logger *zap.Logger
}

// NewClient builds a Stripe client from the configured secret key.
func NewClient(secretKey string, logger *zap.Logger) (*Client, error) {
	if secretKey == "" {
		return nil, fmt.Errorf("payments: missing stripe secret key")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	api := &client.API{}
	api.Init(secretKey, nil)

	return &Client{api: api, logger: logger}, nil
}

// CreateCustomer creates a processor-side customer for the user and returns
// its identifier.
func (c *Client) CreateCustomer(ctx context.Context, email, userID string) (string, error) {
	params := &stripe.CustomerParams{
		Email: stripe.String(email),
	}
	params.Context = ctx
	params.AddMetadata("user_id", userID)

	cust, err := c.api.Customers.New(params)
	if err != nil {
		return "", fmt.Errorf("payments: create customer: %w", err)
	}

	c.logger.Info("stripe customer created",
		zap.String("customer_id", cust.ID),
		zap.String("user_id", userID),
	)
	return cust.ID, nil
}

// SessionParams describes the checkout session for one domain purchase. All
// amounts are minor currency units.
type SessionParams struct {
	CustomerID          string
	DomainName          string
	Description         string
	PriceCents          int64
	MarketplaceFeeCents int64
	SellerAccountID     string
	SuccessURL          string
	CancelURL           string
	Metadata            map[string]string
}

// Session is the subset of the created checkout session callers need.
type Session struct {
	ID              string
	URL             string
	PaymentIntentID string
}

// CreateCheckoutSession creates a hosted checkout session that routes the
// marketplace fee to the platform account and the remainder to the seller's
// connected account.
func (c *Client) CreateCheckoutSession(ctx context.Context, p SessionParams) (Session, error) {
	description := p.Description
	if description == "" {
		description = fmt.Sprintf("Premium domain %s", p.DomainName)
	}

	params := &stripe.CheckoutSessionParams{
		Customer:           stripe.String(p.CustomerID),
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		SuccessURL:         stripe.String(p.SuccessURL),
		CancelURL:          stripe.String(p.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(string(stripe.CurrencyUSD)),
					UnitAmount: stripe.Int64(p.PriceCents),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name:        stripe.String(fmt.Sprintf("Domain: %s", p.DomainName)),
						Description: stripe.String(description),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			ApplicationFeeAmount: stripe.Int64(p.MarketplaceFeeCents),
			TransferData: &stripe.CheckoutSessionPaymentIntentDataTransferDataParams{
				Destination: stripe.String(p.SellerAccountID),
			},
			Metadata: p.Metadata,
		},
	}
	params.Context = ctx
	for k, v := range p.Metadata {
		params.AddMetadata(k, v)
	}

	sess, err := c.api.CheckoutSessions.New(params)
	if err != nil {
		return Session{}, fmt.Errorf("payments: create checkout session: %w", err)
	}

	result := Session{ID: sess.ID, URL: sess.URL}
	if sess.PaymentIntent != nil {
		result.PaymentIntentID = sess.PaymentIntent.ID
	}
	if result.PaymentIntentID == "" {
		return Session{}, fmt.Errorf("payments: session %s has no payment intent", sess.ID)
	}

	c.logger.Info("checkout session created",
		zap.String("session_id", sess.ID),
		zap.String("payment_intent_id", result.PaymentIntentID),
	)
	return result, nil
}

// TransferParams describes a payout transfer to a connected account.
type TransferParams struct {
	AmountCents   int64
	Currency      string
	DestinationID string
	TransferGroup string
	Metadata      map[string]string
}

// CreateTransfer moves the seller's share to their connected account. The
// transfer group keys repeated attempts for the same sale.
func (c *Client) CreateTransfer(ctx context.Context, p TransferParams) (string, error) {
	currency := p.Currency
	if currency == "" {
		currency = string(stripe.CurrencyUSD)
	}

	params := &stripe.TransferParams{
		Amount:        stripe.Int64(p.AmountCents),
		Currency:      stripe.String(currency),
		Destination:   stripe.String(p.DestinationID),
		TransferGroup: stripe.String(p.TransferGroup),
	}
	params.Context = ctx
	for k, v := range p.Metadata {
		params.AddMetadata(k, v)
	}

	tr, err := c.api.Transfers.New(params)
	if err != nil {
		return "", fmt.Errorf("payments: create transfer: %w", err)
	}

	c.logger.Info("transfer created",
		zap.String("transfer_id", tr.ID),
		zap.String("transfer_group", p.TransferGroup),
		zap.Int64("amount_cents", p.AmountCents),
	)
	return tr.ID, nil
}
