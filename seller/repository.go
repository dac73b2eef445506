package seller

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrProfileNotFound signals the seller has no connected payout account.
var ErrProfileNotFound = errors.New("seller: payout profile not found")

// ProfileReader abstracts payout-profile reads for the checkout and
// settlement services.
type ProfileReader interface {
	GetPayoutProfile(ctx context.Context, sellerID string) (PayoutProfile, error)
}

// Repository provides read access to seller payout profiles.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed repository implementation.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetPayoutProfile fetches the payout profile for a seller.
func (r *Repository) GetPayoutProfile(ctx context.Context, sellerID string) (PayoutProfile, error) {
	const query = `
		SELECT seller_id, stripe_account_id, payouts_enabled, created_at, updated_at
		FROM seller_accounts
		WHERE seller_id = $1
	`

	var profile PayoutProfile
	err := r.pool.QueryRow(ctx, query, sellerID).Scan(
		&profile.SellerID,
		&profile.StripeAccountID,
		&profile.PayoutsEnabled,
		&profile.CreatedAt,
		&profile.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PayoutProfile{}, ErrProfileNotFound
		}
		return PayoutProfile{}, fmt.Errorf("seller: query payout profile: %w", err)
	}

	return profile, nil
}
