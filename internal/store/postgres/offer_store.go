package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/deedmarket/deedmarketd/internal/domain"
)

// OfferStore implements domain.OfferStore using PostgreSQL. The escrow state
// is denormalized into the offer row; the mirror never needs to join them
// separately.
type OfferStore struct {
	pool *pgxpool.Pool
}

// NewOfferStore creates an OfferStore backed by the given pool.
func NewOfferStore(pool *pgxpool.Pool) *OfferStore {
	return &OfferStore{pool: pool}
}

const offerCols = `address, property, buyer, amount, status,
	expiration_time, escrow, escrow_active, created_at, updated_at`

// Upsert inserts or updates an offer mirror row.
func (s *OfferStore) Upsert(ctx context.Context, o domain.Offer) error {
	const query = `
		INSERT INTO offers (
			address, property, buyer, amount, status,
			expiration_time, escrow, escrow_active, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (address) DO UPDATE SET
			amount          = EXCLUDED.amount,
			status          = EXCLUDED.status,
			expiration_time = EXCLUDED.expiration_time,
			escrow_active   = EXCLUDED.escrow_active,
			updated_at      = EXCLUDED.updated_at`

	escrowActive := o.Status == domain.OfferStatusPending
	_, err := s.pool.Exec(ctx, query,
		o.Address, o.Property, o.Buyer, int64(o.Amount), string(o.Status),
		o.ExpirationTime, o.Escrow, escrowActive, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert offer %s: %w", o.Address, err)
	}
	return nil
}

// scanOffer scans a single offer row.
func scanOffer(row pgx.Row) (domain.Offer, error) {
	var o domain.Offer
	var amount int64
	var status string
	var escrowActive bool
	err := row.Scan(
		&o.Address, &o.Property, &o.Buyer, &amount, &status,
		&o.ExpirationTime, &o.Escrow, &escrowActive, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return domain.Offer{}, err
	}
	o.Amount = uint64(amount)
	o.Status = domain.OfferStatus(status)
	return o, nil
}

// GetByAddress retrieves an offer by its derived address.
func (s *OfferStore) GetByAddress(ctx context.Context, address string) (domain.Offer, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+offerCols+` FROM offers WHERE address = $1`, address)
	o, err := scanOffer(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Offer{}, domain.ErrNotFound
		}
		return domain.Offer{}, fmt.Errorf("postgres: get offer %s: %w", address, err)
	}
	return o, nil
}

// ListByProperty returns offers on one property, newest first.
func (s *OfferStore) ListByProperty(ctx context.Context, property string, opts domain.ListOpts) ([]domain.Offer, error) {
	query := `SELECT ` + offerCols + ` FROM offers WHERE property = $1 ORDER BY created_at DESC`
	args := []any{property}
	if opts.Limit > 0 {
		query += ` LIMIT $2`
		args = append(args, opts.Limit)
	}
	return s.list(ctx, query, args...)
}

// ListByBuyer returns offers made by one identity, newest first.
func (s *OfferStore) ListByBuyer(ctx context.Context, buyer string, opts domain.ListOpts) ([]domain.Offer, error) {
	query := `SELECT ` + offerCols + ` FROM offers WHERE buyer = $1 ORDER BY created_at DESC`
	args := []any{buyer}
	if opts.Limit > 0 {
		query += ` LIMIT $2`
		args = append(args, opts.Limit)
	}
	return s.list(ctx, query, args...)
}

// ListResolvedBefore returns terminal offers last updated before the cutoff.
// The archiver uses this to snapshot settled offers to blob storage.
func (s *OfferStore) ListResolvedBefore(ctx context.Context, before time.Time) ([]domain.Offer, error) {
	const query = `SELECT ` + offerCols + ` FROM offers
		WHERE status IN ('completed', 'rejected', 'expired') AND updated_at < $1
		ORDER BY updated_at`
	return s.list(ctx, query, before)
}

func (s *OfferStore) list(ctx context.Context, query string, args ...any) ([]domain.Offer, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list offers: %w", err)
	}
	defer rows.Close()

	var out []domain.Offer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan offer: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list offers rows: %w", err)
	}
	return out, nil
}

// Compile-time interface check.
var _ domain.OfferStore = (*OfferStore)(nil)
