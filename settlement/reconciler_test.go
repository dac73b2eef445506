package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v81"

	"domainvault/listing"
	"domainvault/payments"
	"domainvault/payout"
	"domainvault/sale"
	"domainvault/seller"
)

func pendingSale() sale.Record {
	return sale.Record{
		ID:                    "sale-1",
		ListingID:             "listing-1",
		SellerID:              "seller-1",
		BuyerID:               "buyer-1",
		SalePriceCents:        1_500_000,
		MarketplaceFeeCents:   15_000,
		SellerAmountCents:     1_485_000,
		StripePaymentIntentID: "pi_1",
		Status:                sale.StatusPending,
	}
}

func soldListing() listing.Listing {
	return listing.Listing{
		ID:         "listing-1",
		Name:       "example.com",
		SellerID:   "seller-1",
		PriceCents: 1_500_000,
		SaleStatus: listing.SaleStatusPending,
	}
}

func paymentIntent() stripe.PaymentIntent {
	return stripe.PaymentIntent{
		ID:       "pi_1",
		Currency: stripe.CurrencyUSD,
		Metadata: map[string]string{
			"listing_id":      "listing-1",
			"seller_id":       "seller-1",
			"buyer_id":        "buyer-1",
			"marketplace_fee": "15000",
		},
	}
}

func newTestReconciler(listings *fakeListingStore, sales *fakeSaleStore, payouts *fakePayoutStore, sellers *fakeProfileReader, transfers *fakeTransferCreator) *Reconciler {
	return NewReconciler(listings, sales, payouts, sellers, transfers, 50, 30*time.Minute, nil)
}

func TestHandlePaymentSucceeded_SettlesSale(t *testing.T) {
	listings := &fakeListingStore{listing: soldListing(), transitionOK: true}
	sales := &fakeSaleStore{rec: pendingSale(), completeOK: true}
	payouts := &fakePayoutStore{}
	sellers := &fakeProfileReader{profile: seller.PayoutProfile{
		SellerID: "seller-1", StripeAccountID: "acct_123", PayoutsEnabled: true,
	}}
	transfers := &fakeTransferCreator{transferID: "tr_1"}

	r := newTestReconciler(listings, sales, payouts, sellers, transfers)

	if err := r.HandlePaymentSucceeded(context.Background(), paymentIntent()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if transfers.calls != 1 {
		t.Fatalf("expected exactly one transfer, got %d", transfers.calls)
	}
	if transfers.params.AmountCents != 1_485_000 {
		t.Fatalf("expected transfer of 1485000, got %d", transfers.params.AmountCents)
	}
	if transfers.params.TransferGroup != "domain_sale_listing-1" {
		t.Fatalf("unexpected transfer group %q", transfers.params.TransferGroup)
	}
	if transfers.params.DestinationID != "acct_123" {
		t.Fatalf("unexpected destination %q", transfers.params.DestinationID)
	}

	if !sales.completed {
		t.Fatal("expected sale to complete")
	}
	if sales.attachedTransfer != "tr_1" {
		t.Fatalf("expected transfer tr_1 attached, got %q", sales.attachedTransfer)
	}
	if len(payouts.inserted) != 1 {
		t.Fatalf("expected one payout record, got %d", len(payouts.inserted))
	}
	if payouts.inserted[0].AmountCents != 1_485_000 {
		t.Fatalf("unexpected payout amount %d", payouts.inserted[0].AmountCents)
	}
	if listings.transitionFrom != listing.SaleStatusPending || listings.transitionTo != listing.SaleStatusSold {
		t.Fatalf("unexpected listing transition %s -> %s", listings.transitionFrom, listings.transitionTo)
	}
}

func TestHandlePaymentSucceeded_ReplayAfterCompletion(t *testing.T) {
	rec := pendingSale()
	rec.Status = sale.StatusCompleted

	sales := &fakeSaleStore{rec: rec}
	transfers := &fakeTransferCreator{}
	payouts := &fakePayoutStore{}

	r := newTestReconciler(&fakeListingStore{listing: soldListing()}, sales, payouts, &fakeProfileReader{}, transfers)

	if err := r.HandlePaymentSucceeded(context.Background(), paymentIntent()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if transfers.calls != 0 {
		t.Fatal("expected no transfer on replay")
	}
	if len(payouts.inserted) != 0 {
		t.Fatal("expected no payout on replay")
	}
}

func TestHandlePaymentSucceeded_ClaimLostToConcurrentDelivery(t *testing.T) {
	sales := &fakeSaleStore{rec: pendingSale(), completeOK: false}
	transfers := &fakeTransferCreator{}
	sellers := &fakeProfileReader{profile: seller.PayoutProfile{
		SellerID: "seller-1", StripeAccountID: "acct_123", PayoutsEnabled: true,
	}}

	r := newTestReconciler(&fakeListingStore{listing: soldListing()}, sales, &fakePayoutStore{}, sellers, transfers)

	if err := r.HandlePaymentSucceeded(context.Background(), paymentIntent()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if transfers.calls != 0 {
		t.Fatal("expected no transfer when the claim is lost")
	}
}

func TestHandlePaymentSucceeded_NoSaleRecord(t *testing.T) {
	sales := &fakeSaleStore{getErr: sale.ErrNotFound}
	transfers := &fakeTransferCreator{}

	r := newTestReconciler(&fakeListingStore{}, sales, &fakePayoutStore{}, &fakeProfileReader{}, transfers)

	if err := r.HandlePaymentSucceeded(context.Background(), paymentIntent()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if transfers.calls != 0 {
		t.Fatal("expected no transfer without a sale record")
	}
}

func TestHandlePaymentSucceeded_SellerProfileMissing(t *testing.T) {
	sales := &fakeSaleStore{rec: pendingSale(), completeOK: true}
	transfers := &fakeTransferCreator{}
	sellers := &fakeProfileReader{err: seller.ErrProfileNotFound}
	listings := &fakeListingStore{listing: soldListing(), checkoutOK: true}

	r := newTestReconciler(listings, sales, &fakePayoutStore{}, sellers, transfers)

	// The payment stands; the payout is left for manual follow-up.
	if err := r.HandlePaymentSucceeded(context.Background(), paymentIntent()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if transfers.calls != 0 {
		t.Fatal("expected no transfer without a payout profile")
	}
	if sales.completed {
		t.Fatal("expected sale to remain pending for manual reconciliation")
	}
	// The buyer paid: the listing must come off the marketplace so the
	// expiry sweep can never resell it.
	if listings.checkoutListing != "listing-1" || listings.checkoutBuyer != "buyer-1" {
		t.Fatalf("expected buyer recorded on paid listing, got %s/%s",
			listings.checkoutListing, listings.checkoutBuyer)
	}
}

func TestHandlePaymentSucceeded_TransferFailure(t *testing.T) {
	sales := &fakeSaleStore{rec: pendingSale(), completeOK: true}
	transfers := &fakeTransferCreator{err: errors.New("stripe: account cannot receive transfers")}
	sellers := &fakeProfileReader{profile: seller.PayoutProfile{
		SellerID: "seller-1", StripeAccountID: "acct_123", PayoutsEnabled: true,
	}}
	payouts := &fakePayoutStore{}

	r := newTestReconciler(&fakeListingStore{listing: soldListing()}, sales, payouts, sellers, transfers)

	if err := r.HandlePaymentSucceeded(context.Background(), paymentIntent()); err == nil {
		t.Fatal("expected transfer failure to surface")
	}
	if len(payouts.inserted) != 0 {
		t.Fatal("expected no payout record after transfer failure")
	}
}

func TestHandleCheckoutCompleted_RecordsBuyer(t *testing.T) {
	listings := &fakeListingStore{listing: soldListing(), checkoutOK: true}
	r := newTestReconciler(listings, &fakeSaleStore{}, &fakePayoutStore{}, &fakeProfileReader{}, &fakeTransferCreator{})

	session := stripe.CheckoutSession{
		ID: "cs_1",
		Metadata: map[string]string{
			"listing_id": "listing-1",
			"buyer_id":   "buyer-1",
		},
	}

	if err := r.HandleCheckoutCompleted(context.Background(), session); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if listings.checkoutListing != "listing-1" || listings.checkoutBuyer != "buyer-1" {
		t.Fatalf("unexpected completion write: %s/%s", listings.checkoutListing, listings.checkoutBuyer)
	}
}

func TestHandleEvent_DispatchesPaymentIntent(t *testing.T) {
	listings := &fakeListingStore{listing: soldListing(), transitionOK: true}
	sales := &fakeSaleStore{rec: pendingSale(), completeOK: true}
	sellers := &fakeProfileReader{profile: seller.PayoutProfile{
		SellerID: "seller-1", StripeAccountID: "acct_123", PayoutsEnabled: true,
	}}
	transfers := &fakeTransferCreator{transferID: "tr_1"}

	r := newTestReconciler(listings, sales, &fakePayoutStore{}, sellers, transfers)

	raw, err := json.Marshal(paymentIntent())
	if err != nil {
		t.Fatalf("marshal payment intent: %v", err)
	}
	event := stripe.Event{
		Type: stripe.EventType(payments.EventPaymentIntentSucceeded),
		Data: &stripe.EventData{Raw: raw},
	}

	if err := r.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if transfers.calls != 1 {
		t.Fatalf("expected one transfer, got %d", transfers.calls)
	}
}

func TestHandleEvent_IgnoresUnknownAndUnrelated(t *testing.T) {
	transfers := &fakeTransferCreator{}
	r := newTestReconciler(&fakeListingStore{}, &fakeSaleStore{}, &fakePayoutStore{}, &fakeProfileReader{}, transfers)

	unknown := stripe.Event{Type: "invoice.paid", Data: &stripe.EventData{Raw: []byte(`{}`)}}
	if err := r.HandleEvent(context.Background(), unknown); err != nil {
		t.Fatalf("unexpected error for unknown type: %v", err)
	}

	// payment_intent.succeeded with no marketplace metadata is someone
	// else's payment.
	raw, _ := json.Marshal(stripe.PaymentIntent{ID: "pi_other"})
	unrelated := stripe.Event{
		Type: stripe.EventType(payments.EventPaymentIntentSucceeded),
		Data: &stripe.EventData{Raw: raw},
	}
	if err := r.HandleEvent(context.Background(), unrelated); err != nil {
		t.Fatalf("unexpected error for unrelated intent: %v", err)
	}
	if transfers.calls != 0 {
		t.Fatal("expected no transfers")
	}
}

func TestExpireStale_ReclaimsListings(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	first := pendingSale()
	second := pendingSale()
	second.ID = "sale-2"
	second.ListingID = "listing-2"

	sales := &fakeSaleStore{
		stale:       []sale.Record{first, second},
		failResults: map[string]bool{"sale-1": true, "sale-2": false},
	}
	listings := &fakeListingStore{reclaimOK: true}

	r := newTestReconciler(listings, sales, &fakePayoutStore{}, &fakeProfileReader{}, &fakeTransferCreator{}).
		WithClock(func() time.Time { return now })

	n, err := r.ExpireStale(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 reclaim, got %d", n)
	}
	if sales.staleCutoff != now.Add(-30*time.Minute) {
		t.Fatalf("unexpected cutoff %v", sales.staleCutoff)
	}
	if listings.reclaimed != "listing-1" {
		t.Fatalf("expected listing-1 reclaimed, got %q", listings.reclaimed)
	}
}

type fakeListingStore struct {
	listing         listing.Listing
	getErr          error
	transitionOK    bool
	transitionFrom  listing.SaleStatus
	transitionTo    listing.SaleStatus
	checkoutOK      bool
	checkoutListing string
	checkoutBuyer   string
	reclaimOK       bool
	reclaimed       string
}

func (f *fakeListingStore) GetByID(context.Context, string) (listing.Listing, error) {
	if f.getErr != nil {
		return listing.Listing{}, f.getErr
	}
	return f.listing, nil
}

func (f *fakeListingStore) TransitionSaleStatus(_ context.Context, _ string, expected, next listing.SaleStatus) (bool, error) {
	f.transitionFrom = expected
	f.transitionTo = next
	return f.transitionOK, nil
}

func (f *fakeListingStore) RecordCheckoutCompletion(_ context.Context, id, buyerID string, _ time.Time) (bool, error) {
	f.checkoutListing = id
	f.checkoutBuyer = buyerID
	return f.checkoutOK, nil
}

func (f *fakeListingStore) ReclaimForSale(_ context.Context, id string) (bool, error) {
	f.reclaimed = id
	return f.reclaimOK, nil
}

type fakeSaleStore struct {
	rec              sale.Record
	getErr           error
	completeOK       bool
	completed        bool
	attachedTransfer string
	stale            []sale.Record
	staleCutoff      time.Time
	failResults      map[string]bool
}

func (f *fakeSaleStore) GetByPaymentIntent(context.Context, string) (sale.Record, error) {
	if f.getErr != nil {
		return sale.Record{}, f.getErr
	}
	return f.rec, nil
}

func (f *fakeSaleStore) CompleteIfPending(_ context.Context, _ string, _ time.Time) (bool, error) {
	if f.completeOK {
		f.completed = true
	}
	return f.completeOK, nil
}

func (f *fakeSaleStore) AttachTransfer(_ context.Context, _ string, transferID string) error {
	f.attachedTransfer = transferID
	return nil
}

func (f *fakeSaleStore) FailIfPending(_ context.Context, id string) (bool, error) {
	return f.failResults[id], nil
}

func (f *fakeSaleStore) ListStalePending(_ context.Context, olderThan time.Time) ([]sale.Record, error) {
	f.staleCutoff = olderThan
	return f.stale, nil
}

type fakePayoutStore struct {
	inserted  []payout.InsertParams
	insertErr error
}

func (f *fakePayoutStore) Insert(_ context.Context, params payout.InsertParams) (payout.Record, error) {
	if f.insertErr != nil {
		return payout.Record{}, f.insertErr
	}
	f.inserted = append(f.inserted, params)
	return payout.Record{ID: "payout-1", SaleID: params.SaleID}, nil
}

type fakeProfileReader struct {
	profile seller.PayoutProfile
	err     error
}

func (f *fakeProfileReader) GetPayoutProfile(context.Context, string) (seller.PayoutProfile, error) {
	if f.err != nil {
		return seller.PayoutProfile{}, f.err
	}
	return f.profile, nil
}

type fakeTransferCreator struct {
	transferID string
	err        error
	calls      int
	params     payments.TransferParams
}

func (f *fakeTransferCreator) CreateTransfer(_ context.Context, params payments.TransferParams) (string, error) {
	f.calls++
	f.params = params
	if f.err != nil {
		return "", f.err
	}
	return f.transferID, nil
}
