package sale

import "time"

// Status is the settlement state of a sale record.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Record is the authoritative, append-only record of a buyer/seller
// transaction for a listing. Only the settlement reconciler mutates its
// status after creation.
type Record struct {
	ID                    string
	ListingID             string
	SellerID              string
	BuyerID               string
	SalePriceCents        int64
	MarketplaceFeeCents   int64
	SellerAmountCents     int64
	StripePaymentIntentID string
	StripeTransferID      *string
	Status                Status
	CreatedAt             time.Time
	CompletedAt           *time.Time
}
