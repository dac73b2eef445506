package sale

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound signals no sale record matches the identifier.
	ErrNotFound = errors.New("sale: not found")
	// ErrDuplicatePaymentIntent signals a record already exists for the payment intent.
	ErrDuplicatePaymentIntent = errors.New("sale: duplicate payment intent")
)

const saleColumns = `id, listing_id, seller_id, buyer_id, sale_price_cents, marketplace_fee_cents,
       seller_amount_cents, stripe_payment_intent_id, stripe_transfer_id, status, created_at, completed_at`

// InsertParams contains write parameters for a new pending sale record.
type InsertParams struct {
	ListingID             string
	SellerID              string
	BuyerID               string
	SalePriceCents        int64
	MarketplaceFeeCents   int64
	SellerAmountCents     int64
	StripePaymentIntentID string
}

// PGRepository persists sale records in PostgreSQL. Consumers declare the
// narrow slice of it they use.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// InsertPendingTx creates the provisional sale record inside the checkout
// transaction so it commits or fails together with the listing flip.
func (r *PGRepository) InsertPendingTx(ctx context.Context, tx pgx.Tx, params InsertParams) (Record, error) {
	const insertSQL = `
		INSERT INTO domain_sales (listing_id, seller_id, buyer_id, sale_price_cents,
			marketplace_fee_cents, seller_amount_cents, stripe_payment_intent_id, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'pending')
		RETURNING ` + saleColumns

	rec, err := scanRecord(tx.QueryRow(ctx, insertSQL,
		params.ListingID,
		params.SellerID,
		params.BuyerID,
		params.SalePriceCents,
		params.MarketplaceFeeCents,
		params.SellerAmountCents,
		params.StripePaymentIntentID,
	))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Record{}, ErrDuplicatePaymentIntent
		}
		return Record{}, fmt.Errorf("sale: insert pending: %w", err)
	}

	return rec, nil
}

// GetByPaymentIntent looks up the sale record the processor event refers to.
func (r *PGRepository) GetByPaymentIntent(ctx context.Context, paymentIntentID string) (Record, error) {
	const selectSQL = `SELECT ` + saleColumns + ` FROM domain_sales WHERE stripe_payment_intent_id = $1`

	rec, err := scanRecord(r.pool.QueryRow(ctx, selectSQL, paymentIntentID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("sale: get by payment intent: %w", err)
	}

	return rec, nil
}

// CompleteIfPending completes the sale, guarded on status=pending. A false
// return means another delivery already won; exactly one caller ever gets
// true per sale, which is what keeps the transfer exactly-once.
func (r *PGRepository) CompleteIfPending(ctx context.Context, id string, completedAt time.Time) (bool, error) {
	const updateSQL = `
		UPDATE domain_sales
		SET status = 'completed',
		    completed_at = $2
		WHERE id = $1 AND status = 'pending'
	`

	tag, err := r.pool.Exec(ctx, updateSQL, id, completedAt)
	if err != nil {
		return false, fmt.Errorf("sale: complete: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// AttachTransfer records the processor transfer reference on a completed sale.
func (r *PGRepository) AttachTransfer(ctx context.Context, id, transferID string) error {
	const updateSQL = `
		UPDATE domain_sales
		SET stripe_transfer_id = $2
		WHERE id = $1
	`

	if _, err := r.pool.Exec(ctx, updateSQL, id, transferID); err != nil {
		return fmt.Errorf("sale: attach transfer: %w", err)
	}
	return nil
}

// FailIfPending abandons a pending sale, guarded on status=pending.
func (r *PGRepository) FailIfPending(ctx context.Context, id string) (bool, error) {
	const updateSQL = `
		UPDATE domain_sales
		SET status = 'failed'
		WHERE id = $1 AND status = 'pending'
	`

	tag, err := r.pool.Exec(ctx, updateSQL, id)
	if err != nil {
		return false, fmt.Errorf("sale: fail: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListStalePending returns pending sales created before the cutoff whose
// checkout never completed. A listing with a recorded buyer means money
// changed hands; those sales await manual payout and are excluded so the
// sweep can never put a paid-for domain back on the marketplace.
func (r *PGRepository) ListStalePending(ctx context.Context, olderThan time.Time) ([]Record, error) {
	const selectSQL = `
		SELECT s.id, s.listing_id, s.seller_id, s.buyer_id, s.sale_price_cents, s.marketplace_fee_cents,
		       s.seller_amount_cents, s.stripe_payment_intent_id, s.stripe_transfer_id, s.status,
		       s.created_at, s.completed_at
		FROM domain_sales s
		JOIN listings l ON l.id = s.listing_id
		WHERE s.status = 'pending' AND s.created_at < $1 AND l.buyer_id IS NULL
	`

	rows, err := r.pool.Query(ctx, selectSQL, olderThan)
	if err != nil {
		return nil, fmt.Errorf("sale: list stale pending: %w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("sale: scan stale pending: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sale: iterate stale pending: %w", err)
	}

	return records, nil
}

func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	return rec, row.Scan(
		&rec.ID,
		&rec.ListingID,
		&rec.SellerID,
		&rec.BuyerID,
		&rec.SalePriceCents,
		&rec.MarketplaceFeeCents,
		&rec.SellerAmountCents,
		&rec.StripePaymentIntentID,
		&rec.StripeTransferID,
		&rec.Status,
		&rec.CreatedAt,
		&rec.CompletedAt,
	)
}
