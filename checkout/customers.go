package checkout

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNoCustomer signals the user has no processor-side customer yet.
var ErrNoCustomer = errors.New("checkout: no customer mapping")

// CustomerStore maps marketplace users 1:1 to processor customers.
type CustomerStore interface {
	GetCustomerID(ctx context.Context, userID string) (string, error)
	SaveCustomerID(ctx context.Context, userID, customerID string) error
}

// PGCustomerRepository implements CustomerStore over the payment_customers table.
type PGCustomerRepository struct {
	pool *pgxpool.Pool
}

func NewCustomerRepository(pool *pgxpool.Pool) *PGCustomerRepository {
	return &PGCustomerRepository{pool: pool}
}

// GetCustomerID returns the live customer mapping for a user.
func (r *PGCustomerRepository) GetCustomerID(ctx context.Context, userID string) (string, error) {
	const selectSQL = `
		SELECT customer_id
		FROM payment_customers
		WHERE user_id = $1 AND deleted_at IS NULL
	`

	var customerID string
	if err := r.pool.QueryRow(ctx, selectSQL, userID).Scan(&customerID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNoCustomer
		}
		return "", fmt.Errorf("checkout: get customer mapping: %w", err)
	}

	return customerID, nil
}

// SaveCustomerID records the mapping. A concurrent insert for the same user
// wins quietly; the lookup-then-create sequence stays idempotent.
func (r *PGCustomerRepository) SaveCustomerID(ctx context.Context, userID, customerID string) error {
	const insertSQL = `
		INSERT INTO payment_customers (user_id, customer_id)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO NOTHING
	`

	if _, err := r.pool.Exec(ctx, insertSQL, userID, customerID); err != nil {
		return fmt.Errorf("checkout: save customer mapping: %w", err)
	}
	return nil
}
