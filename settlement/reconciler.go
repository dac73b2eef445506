// Package settlement applies verified payment-processor events to sale and
// listing records. Every mutating step is a single status-guarded write, so
// duplicated or out-of-order deliveries settle each sale exactly once.
package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/stripe/stripe-go/v81"
	"go.uber.org/zap"

	"domainvault/checkout"
	"domainvault/listing"
	"domainvault/payments"
	"domainvault/payout"
	"domainvault/sale"
	"domainvault/seller"
)

// ListingStore is the slice of the listing repository settlement needs.
type ListingStore interface {
	GetByID(ctx context.Context, id string) (listing.Listing, error)
	TransitionSaleStatus(ctx context.Context, id string, expected, next listing.SaleStatus) (bool, error)
	RecordCheckoutCompletion(ctx context.Context, id, buyerID string, completedAt time.Time) (bool, error)
	ReclaimForSale(ctx context.Context, id string) (bool, error)
}

// SaleStore is the slice of the sale repository settlement needs.
type SaleStore interface {
	GetByPaymentIntent(ctx context.Context, paymentIntentID string) (sale.Record, error)
	CompleteIfPending(ctx context.Context, id string, completedAt time.Time) (bool, error)
	AttachTransfer(ctx context.Context, id, transferID string) error
	FailIfPending(ctx context.Context, id string) (bool, error)
	ListStalePending(ctx context.Context, olderThan time.Time) ([]sale.Record, error)
}

// PayoutStore records payout line items.
type PayoutStore interface {
	Insert(ctx context.Context, params payout.InsertParams) (payout.Record, error)
}

// TransferCreator initiates the fund transfer to the seller.
type TransferCreator interface {
	CreateTransfer(ctx context.Context, params payments.TransferParams) (string, error)
}

// Reconciler is the settlement state machine. It never mutates anything
// except through status-guarded conditional writes.
type Reconciler struct {
	listings    ListingStore
	sales       SaleStore
	payouts     PayoutStore
	sellers     seller.ProfileReader
	transfers   TransferCreator
	minFeeCents int64
	pendingTTL  time.Duration
	now         func() time.Time
	logger      *zap.Logger
}

func NewReconciler(
	listings ListingStore,
	sales SaleStore,
	payouts PayoutStore,
	sellers seller.ProfileReader,
	transfers TransferCreator,
	minFeeCents int64,
	pendingTTL time.Duration,
	logger *zap.Logger,
) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		listings:    listings,
		sales:       sales,
		payouts:     payouts,
		sellers:     sellers,
		transfers:   transfers,
		minFeeCents: minFeeCents,
		pendingTTL:  pendingTTL,
		now:         time.Now,
		logger:      logger,
	}
}

// WithClock overrides the reconciler's clock, for tests.
func (r *Reconciler) WithClock(now func() time.Time) *Reconciler {
	r.now = now
	return r
}

// HandleEvent dispatches a verified processor event. Unknown event types and
// events without marketplace metadata are ignored.
func (r *Reconciler) HandleEvent(ctx context.Context, event stripe.Event) error {
	switch string(event.Type) {
	case payments.EventCheckoutSessionCompleted:
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return fmt.Errorf("settlement: decode checkout session: %w", err)
		}
		if session.Metadata["listing_id"] == "" {
			return nil
		}
		return r.HandleCheckoutCompleted(ctx, session)

	case payments.EventPaymentIntentSucceeded:
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return fmt.Errorf("settlement: decode payment intent: %w", err)
		}
		if pi.Metadata["listing_id"] == "" {
			return nil
		}
		return r.HandlePaymentSucceeded(ctx, pi)

	default:
		r.logger.Debug("ignoring event", zap.String("type", string(event.Type)))
		return nil
	}
}

// HandleCheckoutCompleted records the buyer and takes the listing off the
// marketplace. The listing stays pending; sold is reserved for a confirmed
// transfer.
func (r *Reconciler) HandleCheckoutCompleted(ctx context.Context, session stripe.CheckoutSession) error {
	listingID := session.Metadata["listing_id"]
	buyerID := session.Metadata["buyer_id"]
	if buyerID == "" {
		return fmt.Errorf("settlement: session %s missing buyer_id metadata", session.ID)
	}

	updated, err := r.listings.RecordCheckoutCompletion(ctx, listingID, buyerID, r.now())
	if err != nil {
		return err
	}
	if !updated {
		r.logger.Info("checkout completion skipped, listing not pending",
			zap.String("listing_id", listingID),
			zap.String("session_id", session.ID),
		)
		return nil
	}

	r.logger.Info("checkout completed",
		zap.String("listing_id", listingID),
		zap.String("buyer_id", buyerID),
	)
	return nil
}

// HandlePaymentSucceeded settles a paid sale: it claims the sale record with
// a status-guarded write, initiates the seller transfer, records the payout,
// and marks the listing sold. Replayed deliveries lose the claim and no-op.
func (r *Reconciler) HandlePaymentSucceeded(ctx context.Context, pi stripe.PaymentIntent) error {
	rec, err := r.sales.GetByPaymentIntent(ctx, pi.ID)
	if err != nil {
		if errors.Is(err, sale.ErrNotFound) {
			r.logger.Warn("no sale record for payment intent", zap.String("payment_intent_id", pi.ID))
			return nil
		}
		return err
	}
	if rec.Status != sale.StatusPending {
		r.logger.Info("sale already settled, skipping replay",
			zap.String("sale_id", rec.ID),
			zap.String("status", string(rec.Status)),
		)
		return nil
	}

	// Amounts come from the authoritative listing price, never from event
	// metadata. Metadata is cross-checked for drift only.
	l, err := r.listings.GetByID(ctx, rec.ListingID)
	if err != nil {
		return err
	}
	feeCents, sellerCents := checkout.SplitPrice(l.PriceCents, r.minFeeCents)
	r.crossCheckAmounts(rec, pi.Metadata, feeCents, sellerCents)

	profile, err := r.sellers.GetPayoutProfile(ctx, rec.SellerID)
	if err != nil || !profile.PayoutsEnabled || profile.StripeAccountID == "" {
		// The buyer's payment stands: record the buyer and take the listing
		// off the marketplace, then leave the sale pending for manual payout.
		// A recorded buyer keeps the sale out of the expiry sweep.
		if _, cerr := r.listings.RecordCheckoutCompletion(ctx, rec.ListingID, rec.BuyerID, r.now()); cerr != nil {
			r.logger.Error("failed to record buyer on paid listing",
				zap.String("listing_id", rec.ListingID),
				zap.Error(cerr),
			)
		}
		r.logger.Error("seller payout profile unavailable, manual reconciliation required",
			zap.String("sale_id", rec.ID),
			zap.String("seller_id", rec.SellerID),
			zap.Error(err),
		)
		return nil
	}

	claimed, err := r.sales.CompleteIfPending(ctx, rec.ID, r.now())
	if err != nil {
		return err
	}
	if !claimed {
		r.logger.Info("sale claimed by concurrent delivery, skipping",
			zap.String("sale_id", rec.ID),
			zap.String("payment_intent_id", pi.ID),
		)
		return nil
	}

	currency := string(stripe.CurrencyUSD)
	if pi.Currency != "" {
		currency = string(pi.Currency)
	}
	transferID, err := r.transfers.CreateTransfer(ctx, payments.TransferParams{
		AmountCents:   sellerCents,
		Currency:      currency,
		DestinationID: profile.StripeAccountID,
		TransferGroup: TransferGroup(rec.ListingID),
		Metadata: map[string]string{
			"listing_id":                 rec.ListingID,
			"seller_id":                  rec.SellerID,
			"buyer_id":                   rec.BuyerID,
			"original_payment_intent_id": pi.ID,
		},
	})
	if err != nil {
		r.logger.Error("transfer failed after claiming sale, manual reconciliation required",
			zap.String("sale_id", rec.ID),
			zap.String("seller_id", rec.SellerID),
			zap.Int64("amount_cents", sellerCents),
			zap.Error(err),
		)
		return fmt.Errorf("settlement: create transfer for sale %s: %w", rec.ID, err)
	}

	if err := r.sales.AttachTransfer(ctx, rec.ID, transferID); err != nil {
		r.logger.Error("failed to attach transfer to sale", zap.String("sale_id", rec.ID), zap.Error(err))
	}

	if _, err := r.payouts.Insert(ctx, payout.InsertParams{
		SellerID:         rec.SellerID,
		SaleID:           rec.ID,
		AmountCents:      sellerCents,
		StripeTransferID: transferID,
		Status:           payout.StatusCompleted,
	}); err != nil {
		if errors.Is(err, payout.ErrDuplicatePayout) {
			r.logger.Info("payout already recorded", zap.String("sale_id", rec.ID))
		} else {
			r.logger.Error("failed to record payout", zap.String("sale_id", rec.ID), zap.Error(err))
		}
	}

	sold, err := r.listings.TransitionSaleStatus(ctx, rec.ListingID, listing.SaleStatusPending, listing.SaleStatusSold)
	if err != nil {
		return err
	}
	if !sold {
		r.logger.Info("listing already past pending", zap.String("listing_id", rec.ListingID))
	}

	r.logger.Info("sale settled",
		zap.String("sale_id", rec.ID),
		zap.String("listing_id", rec.ListingID),
		zap.String("transfer_id", transferID),
		zap.Int64("seller_amount_cents", sellerCents),
		zap.Int64("fee_cents", feeCents),
	)
	return nil
}

func (r *Reconciler) crossCheckAmounts(rec sale.Record, metadata map[string]string, feeCents, sellerCents int64) {
	if rec.MarketplaceFeeCents != feeCents || rec.SellerAmountCents != sellerCents {
		r.logger.Warn("sale record amounts differ from recomputed split",
			zap.String("sale_id", rec.ID),
			zap.Int64("recorded_fee", rec.MarketplaceFeeCents),
			zap.Int64("recomputed_fee", feeCents),
		)
	}
	if raw, ok := metadata["marketplace_fee"]; ok {
		if claimed, err := strconv.ParseInt(raw, 10, 64); err == nil && claimed != feeCents {
			r.logger.Warn("event metadata fee differs from recomputed fee",
				zap.String("sale_id", rec.ID),
				zap.Int64("metadata_fee", claimed),
				zap.Int64("recomputed_fee", feeCents),
			)
		}
	}
}

// TransferGroup derives the dedup key tying every transfer attempt for a
// listing's sale together.
func TransferGroup(listingID string) string {
	return "domain_sale_" + listingID
}

// ExpireStale reclaims abandoned checkouts that sat pending longer than the
// configured window: the sale fails and its listing returns to the
// marketplace. Sales whose listing already has a buyer recorded were paid
// and are never reclaimed. Returns the number of sales reclaimed.
func (r *Reconciler) ExpireStale(ctx context.Context) (int, error) {
	cutoff := r.now().Add(-r.pendingTTL)
	stale, err := r.sales.ListStalePending(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	reclaimed := 0
	for _, rec := range stale {
		failed, err := r.sales.FailIfPending(ctx, rec.ID)
		if err != nil {
			return reclaimed, err
		}
		if !failed {
			// Settled between the listing read and this write.
			continue
		}

		if _, err := r.listings.ReclaimForSale(ctx, rec.ListingID); err != nil {
			return reclaimed, err
		}
		reclaimed++

		r.logger.Info("expired stale pending sale",
			zap.String("sale_id", rec.ID),
			zap.String("listing_id", rec.ListingID),
			zap.Time("created_at", rec.CreatedAt),
		)
	}

	return reclaimed, nil
}
