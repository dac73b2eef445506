package payout

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrDuplicatePayout signals a payout row already exists for the sale. The
// unique constraint on sale_id backs the exactly-once transfer guarantee.
var ErrDuplicatePayout = errors.New("payout: payout already recorded for sale")

// InsertParams contains write parameters for a payout line item.
type InsertParams struct {
	SellerID         string
	SaleID           string
	AmountCents      int64
	StripeTransferID string
	Status           Status
}

// PGRepository persists payout records in PostgreSQL. Consumers declare the
// narrow slice of it they use.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// Insert records a payout line item, at most once per sale.
func (r *PGRepository) Insert(ctx context.Context, params InsertParams) (Record, error) {
	const insertSQL = `
		INSERT INTO seller_payouts (seller_id, sale_id, amount_cents, stripe_transfer_id, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, seller_id, sale_id, amount_cents, stripe_transfer_id, status, created_at
	`

	rec, err := scanRecord(r.pool.QueryRow(ctx, insertSQL,
		params.SellerID,
		params.SaleID,
		params.AmountCents,
		params.StripeTransferID,
		params.Status,
	))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Record{}, ErrDuplicatePayout
		}
		return Record{}, fmt.Errorf("payout: insert: %w", err)
	}

	return rec, nil
}

// ListBySeller returns the most recent payout line items for a seller.
func (r *PGRepository) ListBySeller(ctx context.Context, sellerID string, limit int) ([]Record, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	const query = `
		SELECT id, seller_id, sale_id, amount_cents, stripe_transfer_id, status, created_at
		FROM seller_payouts
		WHERE seller_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, sellerID, limit)
	if err != nil {
		return nil, fmt.Errorf("payout: list by seller: %w", err)
	}
	defer rows.Close()

	records := make([]Record, 0, limit)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("payout: scan record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("payout: iterate records: %w", err)
	}

	return records, nil
}

func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	return rec, row.Scan(
		&rec.ID,
		&rec.SellerID,
		&rec.SaleID,
		&rec.AmountCents,
		&rec.StripeTransferID,
		&rec.Status,
		&rec.CreatedAt,
	)
}
