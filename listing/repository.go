package listing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound signals the listing does not exist or is not visible to the caller.
	ErrNotFound = errors.New("listing: not found")
	// ErrDuplicateName signals the domain name is already listed.
	ErrDuplicateName = errors.New("listing: domain name already listed")
)

const listingColumns = `id, name, description, category, seller_id, buyer_id, price_cents,
       is_visible, is_for_sale, verification_status, sale_status, sold_at, created_at, updated_at`

// Repository provides data access for listings.
type Repository interface {
	Create(ctx context.Context, params CreateParams) (Listing, error)
	GetByID(ctx context.Context, id string) (Listing, error)
	List(ctx context.Context, filters Filters) ([]Listing, int, error)
	TransitionSaleStatusTx(ctx context.Context, tx pgx.Tx, id string, expected, next SaleStatus) (bool, error)
	TransitionSaleStatus(ctx context.Context, id string, expected, next SaleStatus) (bool, error)
	RecordCheckoutCompletion(ctx context.Context, id, buyerID string, completedAt time.Time) (bool, error)
	ReclaimForSale(ctx context.Context, id string) (bool, error)
	SetVerificationStatus(ctx context.Context, id string, status VerificationStatus) (Listing, error)
}

// CreateParams contains write parameters for new listings.
type CreateParams struct {
	Name        string
	Description *string
	Category    string
	SellerID    string
	PriceCents  int64
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

func (r *PGRepository) Create(ctx context.Context, params CreateParams) (Listing, error) {
	const insertSQL = `
		INSERT INTO listings (name, description, category, seller_id, price_cents, verification_status)
		VALUES ($1, $2, $3, $4, $5, 'pending')
		RETURNING ` + listingColumns

	l, err := scanListing(r.pool.QueryRow(ctx, insertSQL,
		params.Name,
		params.Description,
		params.Category,
		params.SellerID,
		params.PriceCents,
	))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Listing{}, ErrDuplicateName
		}
		return Listing{}, fmt.Errorf("listing: create: %w", err)
	}

	return l, nil
}

func (r *PGRepository) GetByID(ctx context.Context, id string) (Listing, error) {
	const selectSQL = `SELECT ` + listingColumns + ` FROM listings WHERE id = $1`

	l, err := scanListing(r.pool.QueryRow(ctx, selectSQL, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Listing{}, ErrNotFound
		}
		return Listing{}, fmt.Errorf("listing: get by id: %w", err)
	}

	return l, nil
}

func (r *PGRepository) List(ctx context.Context, filters Filters) ([]Listing, int, error) {
	if filters.Page <= 0 {
		filters.Page = 1
	}
	if filters.PageSize <= 0 || filters.PageSize > 100 {
		filters.PageSize = 20
	}
	if filters.SortKey == "" {
		filters.SortKey = "created_at"
	}
	if filters.SortOrder == "" {
		filters.SortOrder = "desc"
	}

	base := `SELECT ` + listingColumns + ` FROM listings`
	where := []string{"is_visible = true"}
	args := []any{}

	if filters.SellerID != "" {
		where = append(where, fmt.Sprintf("seller_id=$%d", len(args)+1))
		args = append(args, filters.SellerID)
	}
	if filters.Category != "" {
		where = append(where, fmt.Sprintf("category=$%d", len(args)+1))
		args = append(args, filters.Category)
	}
	if filters.Search != "" {
		where = append(where, fmt.Sprintf("name ILIKE '%%' || $%d || '%%'", len(args)+1))
		args = append(args, filters.Search)
	}
	if filters.MinPrice > 0 {
		where = append(where, fmt.Sprintf("price_cents >= $%d", len(args)+1))
		args = append(args, filters.MinPrice)
	}
	if filters.MaxPrice > 0 {
		where = append(where, fmt.Sprintf("price_cents <= $%d", len(args)+1))
		args = append(args, filters.MaxPrice)
	}
	if filters.SaleStatus != "" {
		where = append(where, fmt.Sprintf("sale_status=$%d", len(args)+1))
		args = append(args, filters.SaleStatus)
	}

	whereClause := " WHERE " + strings.Join(where, " AND ")

	sortKey := mapSortKey(filters.SortKey)
	sortOrder := strings.ToUpper(filters.SortOrder)
	if sortOrder != "ASC" && sortOrder != "DESC" {
		sortOrder = "DESC"
	}

	limit := filters.PageSize
	offset := (filters.Page - 1) * filters.PageSize

	query := fmt.Sprintf(`%s%s ORDER BY %s %s LIMIT %d OFFSET %d`, base, whereClause, sortKey, sortOrder, limit, offset)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing: query list: %w", err)
	}
	defer rows.Close()

	list := []Listing{}
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, 0, err
		}
		list = append(list, l)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("listing: iterate list: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM listings%s", whereClause)
	var total int
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("listing: count list: %w", err)
	}

	return list, total, nil
}

// TransitionSaleStatusTx flips sale_status inside the caller's transaction,
// guarded on the expected current status. Returns false when the guard did
// not match and nothing was written.
func (r *PGRepository) TransitionSaleStatusTx(ctx context.Context, tx pgx.Tx, id string, expected, next SaleStatus) (bool, error) {
	return transitionSaleStatus(ctx, tx, id, expected, next)
}

// TransitionSaleStatus is the pool-backed variant for single-statement transitions.
func (r *PGRepository) TransitionSaleStatus(ctx context.Context, id string, expected, next SaleStatus) (bool, error) {
	return transitionSaleStatus(ctx, r.pool, id, expected, next)
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func transitionSaleStatus(ctx context.Context, q execer, id string, expected, next SaleStatus) (bool, error) {
	const updateSQL = `
		UPDATE listings
		SET sale_status = $3,
		    updated_at = now()
		WHERE id = $1 AND sale_status = $2
	`

	tag, err := q.Exec(ctx, updateSQL, id, expected, next)
	if err != nil {
		return false, fmt.Errorf("listing: transition sale status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// RecordCheckoutCompletion attaches the buyer and takes the listing off the
// marketplace once the buyer has paid. The listing stays pending; sold is
// reserved for a confirmed transfer.
func (r *PGRepository) RecordCheckoutCompletion(ctx context.Context, id, buyerID string, completedAt time.Time) (bool, error) {
	const updateSQL = `
		UPDATE listings
		SET buyer_id = $2,
		    is_for_sale = false,
		    is_visible = false,
		    sold_at = $3,
		    updated_at = now()
		WHERE id = $1 AND sale_status = 'pending'
	`

	tag, err := r.pool.Exec(ctx, updateSQL, id, buyerID, completedAt)
	if err != nil {
		return false, fmt.Errorf("listing: record checkout completion: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ReclaimForSale puts an abandoned pending listing back on the marketplace.
// Guarded on sale_status=pending and on no buyer being recorded: a listing
// with a buyer was paid for and must never return to sale automatically.
func (r *PGRepository) ReclaimForSale(ctx context.Context, id string) (bool, error) {
	const updateSQL = `
		UPDATE listings
		SET sale_status = 'available',
		    is_for_sale = true,
		    is_visible = true,
		    sold_at = NULL,
		    updated_at = now()
		WHERE id = $1 AND sale_status = 'pending' AND buyer_id IS NULL
	`

	tag, err := r.pool.Exec(ctx, updateSQL, id)
	if err != nil {
		return false, fmt.Errorf("listing: reclaim for sale: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// SetVerificationStatus is the moderation write; it returns the updated row.
func (r *PGRepository) SetVerificationStatus(ctx context.Context, id string, status VerificationStatus) (Listing, error) {
	const updateSQL = `
		UPDATE listings
		SET verification_status = $2,
		    updated_at = now()
		WHERE id = $1
		RETURNING ` + listingColumns

	l, err := scanListing(r.pool.QueryRow(ctx, updateSQL, id, status))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Listing{}, ErrNotFound
		}
		return Listing{}, fmt.Errorf("listing: set verification status: %w", err)
	}

	return l, nil
}

func scanListing(row pgx.Row) (Listing, error) {
	var l Listing
	return l, row.Scan(
		&l.ID,
		&l.Name,
		&l.Description,
		&l.Category,
		&l.SellerID,
		&l.BuyerID,
		&l.PriceCents,
		&l.IsVisible,
		&l.IsForSale,
		&l.VerificationStatus,
		&l.SaleStatus,
		&l.SoldAt,
		&l.CreatedAt,
		&l.UpdatedAt,
	)
}

func mapSortKey(key string) string {
	switch key {
	case "price":
		return "price_cents"
	case "name":
		return "name"
	case "updatedAt":
		return "updated_at"
	case "createdAt":
		fallthrough
	default:
		return "created_at"
	}
}
