package listing

import "time"

// SaleStatus tracks where a listing sits in the purchase lifecycle.
type SaleStatus string

const (
	SaleStatusAvailable SaleStatus = "available"
	SaleStatusPending   SaleStatus = "pending"
	SaleStatusSold      SaleStatus = "sold"
)

// VerificationStatus tracks domain-ownership verification.
type VerificationStatus string

const (
	VerificationUnverified VerificationStatus = "unverified"
	VerificationPending    VerificationStatus = "pending"
	VerificationVerified   VerificationStatus = "verified"
	VerificationFailed     VerificationStatus = "failed"
	VerificationExpired    VerificationStatus = "expired"
)

// Listing mirrors the listings table.
type Listing struct {
	ID                 string
	Name               string
	Description        *string
	Category           string
	SellerID           string
	BuyerID            *string
	PriceCents         int64
	IsVisible          bool
	IsForSale          bool
	VerificationStatus VerificationStatus
	SaleStatus         SaleStatus
	SoldAt             *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Purchasable reports whether a checkout may be initiated for the listing.
func (l Listing) Purchasable() bool {
	return l.IsForSale &&
		l.SaleStatus == SaleStatusAvailable &&
		l.VerificationStatus == VerificationVerified
}

// Filters drives the marketplace browse query.
type Filters struct {
	SellerID   string
	Category   string
	Search     string
	MinPrice   int64
	MaxPrice   int64
	SaleStatus SaleStatus
	Page       int
	PageSize   int
	SortKey    string
	SortOrder  string
}
