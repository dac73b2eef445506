package payout

import "time"

// Status of a payout line item.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Record is one audit line item for a transfer to a seller's connected
// account. Exactly one row exists per completed sale.
type Record struct {
	ID               string
	SellerID         string
	SaleID           string
	AmountCents      int64
	StripeTransferID string
	Status           Status
	CreatedAt        time.Time
}
