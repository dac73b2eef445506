package checkout

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"domainvault/listing"
	"domainvault/payments"
	"domainvault/sale"
	"domainvault/seller"
)

var (
	// ErrListingUnavailable signals the listing does not exist or may not be purchased.
	ErrListingUnavailable = errors.New("checkout: domain not found or not available for sale")
	// ErrSelfPurchase signals the buyer owns the listing.
	ErrSelfPurchase = errors.New("checkout: cannot purchase your own domain")
	// ErrSellerNotPayoutReady signals the seller has no enabled payout account.
	ErrSellerNotPayoutReady = errors.New("checkout: seller is not set up to receive payouts")
	// ErrPriceBelowMinimumFee signals the listing price leaves the seller nothing after the fee.
	ErrPriceBelowMinimumFee = errors.New("checkout: price does not cover the minimum fee")
	// ErrPersistence signals the sale record and listing flip could not be committed as a unit.
	ErrPersistence = errors.New("checkout: failed to persist sale")
)

// ListingStore is the slice of the listing repository checkout needs.
type ListingStore interface {
	GetByID(ctx context.Context, id string) (listing.Listing, error)
	TransitionSaleStatusTx(ctx context.Context, tx pgx.Tx, id string, expected, next listing.SaleStatus) (bool, error)
}

// SaleStore writes the provisional sale record.
type SaleStore interface {
	InsertPendingTx(ctx context.Context, tx pgx.Tx, params sale.InsertParams) (sale.Record, error)
}

// PaymentGateway is the processor surface the initiator drives.
type PaymentGateway interface {
	CreateCustomer(ctx context.Context, email, userID string) (string, error)
	CreateCheckoutSession(ctx context.Context, params payments.SessionParams) (payments.Session, error)
}

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Service initiates domain purchases: validates the request, computes the
// fee split, opens the processor checkout session, and records the
// provisional sale atomically with the listing flip.
type Service struct {
	pool        TxBeginner
	listings    ListingStore
	sellers     seller.ProfileReader
	sales       SaleStore
	customers   CustomerStore
	gateway     PaymentGateway
	minFeeCents int64
	logger      *zap.Logger
}

func NewService(
	pool TxBeginner,
	listings ListingStore,
	sellers seller.ProfileReader,
	sales SaleStore,
	customers CustomerStore,
	gateway PaymentGateway,
	minFeeCents int64,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		pool:        pool,
		listings:    listings,
		sellers:     sellers,
		sales:       sales,
		customers:   customers,
		gateway:     gateway,
		minFeeCents: minFeeCents,
		logger:      logger,
	}
}

// InitiateParams is a validated purchase request for one listing.
type InitiateParams struct {
	ListingID  string
	BuyerID    string
	BuyerEmail string
	SuccessURL string
	CancelURL  string
}

// Result is returned to the buyer's client for redirect.
type Result struct {
	SessionID string
	URL       string
	SaleID    string
}

// Initiate runs the full checkout sequence. The processor session is created
// before the local writes; the sale insert and the available→pending listing
// flip then commit in one transaction so no partial state survives a failure.
func (s *Service) Initiate(ctx context.Context, params InitiateParams) (Result, error) {
	if params.ListingID == "" || params.BuyerID == "" {
		return Result{}, fmt.Errorf("checkout: missing listing or buyer id")
	}
	if !validRedirectURL(params.SuccessURL) || !validRedirectURL(params.CancelURL) {
		return Result{}, fmt.Errorf("checkout: invalid redirect urls")
	}

	l, err := s.listings.GetByID(ctx, params.ListingID)
	if err != nil {
		if errors.Is(err, listing.ErrNotFound) {
			return Result{}, ErrListingUnavailable
		}
		return Result{}, err
	}
	if !l.Purchasable() {
		return Result{}, ErrListingUnavailable
	}
	if l.SellerID == params.BuyerID {
		return Result{}, ErrSelfPurchase
	}

	profile, err := s.sellers.GetPayoutProfile(ctx, l.SellerID)
	if err != nil {
		if errors.Is(err, seller.ErrProfileNotFound) {
			return Result{}, ErrSellerNotPayoutReady
		}
		return Result{}, err
	}
	if !profile.PayoutsEnabled || profile.StripeAccountID == "" {
		return Result{}, ErrSellerNotPayoutReady
	}

	feeCents, sellerCents := SplitPrice(l.PriceCents, s.minFeeCents)
	if sellerCents <= 0 {
		return Result{}, fmt.Errorf("%w: price %d", ErrPriceBelowMinimumFee, l.PriceCents)
	}

	customerID, err := s.resolveCustomer(ctx, params.BuyerID, params.BuyerEmail)
	if err != nil {
		return Result{}, err
	}

	metadata := map[string]string{
		"listing_id":      l.ID,
		"seller_id":       l.SellerID,
		"buyer_id":        params.BuyerID,
		"marketplace_fee": strconv.FormatInt(feeCents, 10),
		"seller_amount":   strconv.FormatInt(sellerCents, 10),
	}

	session, err := s.gateway.CreateCheckoutSession(ctx, payments.SessionParams{
		CustomerID:          customerID,
		DomainName:          l.Name,
		Description:         derefOrEmpty(l.Description),
		PriceCents:          l.PriceCents,
		MarketplaceFeeCents: feeCents,
		SellerAccountID:     profile.StripeAccountID,
		SuccessURL:          params.SuccessURL,
		CancelURL:           params.CancelURL,
		Metadata:            metadata,
	})
	if err != nil {
		return Result{}, err
	}

	rec, err := s.persistPendingSale(ctx, l, params.BuyerID, feeCents, sellerCents, session.PaymentIntentID)
	if err != nil {
		return Result{}, err
	}

	s.logger.Info("checkout initiated",
		zap.String("listing_id", l.ID),
		zap.String("sale_id", rec.ID),
		zap.String("session_id", session.ID),
		zap.Int64("price_cents", l.PriceCents),
		zap.Int64("fee_cents", feeCents),
	)

	return Result{SessionID: session.ID, URL: session.URL, SaleID: rec.ID}, nil
}

func (s *Service) resolveCustomer(ctx context.Context, buyerID, buyerEmail string) (string, error) {
	customerID, err := s.customers.GetCustomerID(ctx, buyerID)
	if err == nil {
		return customerID, nil
	}
	if !errors.Is(err, ErrNoCustomer) {
		return "", err
	}

	customerID, err = s.gateway.CreateCustomer(ctx, buyerEmail, buyerID)
	if err != nil {
		return "", err
	}
	if err := s.customers.SaveCustomerID(ctx, buyerID, customerID); err != nil {
		return "", err
	}
	return customerID, nil
}

func (s *Service) persistPendingSale(ctx context.Context, l listing.Listing, buyerID string, feeCents, sellerCents int64, paymentIntentID string) (sale.Record, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return sale.Record{}, fmt.Errorf("checkout: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := s.sales.InsertPendingTx(ctx, tx, sale.InsertParams{
		ListingID:             l.ID,
		SellerID:              l.SellerID,
		BuyerID:               buyerID,
		SalePriceCents:        l.PriceCents,
		MarketplaceFeeCents:   feeCents,
		SellerAmountCents:     sellerCents,
		StripePaymentIntentID: paymentIntentID,
	})
	if err != nil {
		return sale.Record{}, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	flipped, err := s.listings.TransitionSaleStatusTx(ctx, tx, l.ID, listing.SaleStatusAvailable, listing.SaleStatusPending)
	if err != nil {
		return sale.Record{}, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	if !flipped {
		// Another checkout won the listing between our read and this write.
		return sale.Record{}, ErrListingUnavailable
	}

	if err := tx.Commit(ctx); err != nil {
		return sale.Record{}, fmt.Errorf("%w: commit: %w", ErrPersistence, err)
	}

	return rec, nil
}

func validRedirectURL(u string) bool {
	return strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://")
}

func derefOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
