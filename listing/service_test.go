package listing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"

	"domainvault/auth"
)

type fakeRepository struct {
	created      CreateParams
	createResult Listing
	createErr    error
	moderated    VerificationStatus
	moderatedID  string
	moderateErr  error
	listings     []Listing
	listFilters  Filters
}

func (f *fakeRepository) Create(_ context.Context, params CreateParams) (Listing, error) {
	if f.createErr != nil {
		return Listing{}, f.createErr
	}
	f.created = params
	return f.createResult, nil
}

func (f *fakeRepository) GetByID(_ context.Context, id string) (Listing, error) {
	for _, l := range f.listings {
		if l.ID == id {
			return l, nil
		}
	}
	return Listing{}, ErrNotFound
}

func (f *fakeRepository) List(_ context.Context, filters Filters) ([]Listing, int, error) {
	f.listFilters = filters
	return f.listings, len(f.listings), nil
}

func (f *fakeRepository) TransitionSaleStatusTx(context.Context, pgx.Tx, string, SaleStatus, SaleStatus) (bool, error) {
	return false, errors.New("not implemented")
}

func (f *fakeRepository) TransitionSaleStatus(context.Context, string, SaleStatus, SaleStatus) (bool, error) {
	return false, errors.New("not implemented")
}

func (f *fakeRepository) RecordCheckoutCompletion(context.Context, string, string, time.Time) (bool, error) {
	return false, errors.New("not implemented")
}

func (f *fakeRepository) ReclaimForSale(context.Context, string) (bool, error) {
	return false, errors.New("not implemented")
}

func (f *fakeRepository) SetVerificationStatus(_ context.Context, id string, status VerificationStatus) (Listing, error) {
	if f.moderateErr != nil {
		return Listing{}, f.moderateErr
	}
	f.moderatedID = id
	f.moderated = status
	return Listing{ID: id, VerificationStatus: status}, nil
}

func TestCreate_NormalizesAndSubmits(t *testing.T) {
	repo := &fakeRepository{createResult: Listing{ID: "listing-1", Name: "example.com", SellerID: "seller-1"}}
	svc := NewService(repo, nil)

	created, err := svc.Create(context.Background(), CreateParams{
		Name:       "  Example.COM  ",
		SellerID:   "seller-1",
		PriceCents: 1_500_000,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created.ID != "listing-1" {
		t.Fatalf("unexpected listing %q", created.ID)
	}
	if repo.created.Name != "example.com" {
		t.Fatalf("expected normalized name, got %q", repo.created.Name)
	}
	if repo.created.Category != "other" {
		t.Fatalf("expected default category, got %q", repo.created.Category)
	}
}

func TestCreate_RejectsInvalidInput(t *testing.T) {
	repo := &fakeRepository{}
	svc := NewService(repo, nil)

	cases := []struct {
		name   string
		params CreateParams
	}{
		{"no dot in name", CreateParams{Name: "example", SellerID: "seller-1", PriceCents: 100}},
		{"empty name", CreateParams{Name: "   ", SellerID: "seller-1", PriceCents: 100}},
		{"missing seller", CreateParams{Name: "example.com", PriceCents: 100}},
		{"zero price", CreateParams{Name: "example.com", SellerID: "seller-1"}},
		{"negative price", CreateParams{Name: "example.com", SellerID: "seller-1", PriceCents: -5}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Create(context.Background(), tc.params); err == nil {
				t.Fatal("expected validation error")
			}
			if repo.created.Name != "" {
				t.Fatal("repository must not be called for invalid input")
			}
		})
	}
}

func TestModerate_AdminOnly(t *testing.T) {
	repo := &fakeRepository{}
	svc := NewService(repo, nil)

	for _, role := range []auth.Role{auth.RoleBuyer, auth.RoleSeller} {
		_, err := svc.Moderate(context.Background(), ModerateParams{
			ListingID: "listing-1",
			ActorRole: role,
			Decision:  VerificationVerified,
		})
		if !errors.Is(err, ErrModerationForbidden) {
			t.Fatalf("role %s: expected ErrModerationForbidden, got %v", role, err)
		}
	}
	if repo.moderatedID != "" {
		t.Fatal("repository must not be called for forbidden actors")
	}
}

func TestModerate_RejectsInvalidDecision(t *testing.T) {
	svc := NewService(&fakeRepository{}, nil)

	for _, decision := range []VerificationStatus{VerificationPending, VerificationUnverified, VerificationExpired} {
		_, err := svc.Moderate(context.Background(), ModerateParams{
			ListingID: "listing-1",
			ActorRole: auth.RoleAdmin,
			Decision:  decision,
		})
		if !errors.Is(err, ErrInvalidModeration) {
			t.Fatalf("decision %s: expected ErrInvalidModeration, got %v", decision, err)
		}
	}
}

func TestModerate_AppliesDecision(t *testing.T) {
	repo := &fakeRepository{}
	svc := NewService(repo, nil)

	updated, err := svc.Moderate(context.Background(), ModerateParams{
		ListingID: "listing-1",
		ActorRole: auth.RoleAdmin,
		Decision:  VerificationVerified,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.VerificationStatus != VerificationVerified {
		t.Fatalf("unexpected status %s", updated.VerificationStatus)
	}
	if repo.moderatedID != "listing-1" || repo.moderated != VerificationVerified {
		t.Fatalf("unexpected write %s/%s", repo.moderatedID, repo.moderated)
	}
}

func TestPurchasable(t *testing.T) {
	base := Listing{
		IsForSale:          true,
		SaleStatus:         SaleStatusAvailable,
		VerificationStatus: VerificationVerified,
	}
	if !base.Purchasable() {
		t.Fatal("expected base listing to be purchasable")
	}

	cases := []struct {
		name   string
		mutate func(*Listing)
	}{
		{"not for sale", func(l *Listing) { l.IsForSale = false }},
		{"pending sale", func(l *Listing) { l.SaleStatus = SaleStatusPending }},
		{"sold", func(l *Listing) { l.SaleStatus = SaleStatusSold }},
		{"unverified", func(l *Listing) { l.VerificationStatus = VerificationUnverified }},
		{"verification failed", func(l *Listing) { l.VerificationStatus = VerificationFailed }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			l := base
			tc.mutate(&l)
			if l.Purchasable() {
				t.Fatal("expected listing not purchasable")
			}
		})
	}
}
