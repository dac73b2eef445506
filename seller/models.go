package seller

import "time"

// PayoutProfile captures the connected payout account for a seller. Rows are
// provisioned by the Stripe Connect onboarding flow; this service only reads
// them.
type PayoutProfile struct {
	SellerID        string
	StripeAccountID string
	PayoutsEnabled  bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
