package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/deedmarket/deedmarketd/internal/domain"
)

// PropertyStore implements domain.PropertyStore using PostgreSQL.
type PropertyStore struct {
	pool *pgxpool.Pool
}

// NewPropertyStore creates a PropertyStore backed by the given pool.
func NewPropertyStore(pool *pgxpool.Pool) *PropertyStore {
	return &PropertyStore{pool: pool}
}

const propertyCols = `address, marketplace, property_id, owner, price, is_active,
	metadata_uri, asset_mint, location, square_feet, bedrooms, bathrooms,
	offers_count, transaction_count, created_at, updated_at`

// Upsert inserts or updates a property mirror row.
func (s *PropertyStore) Upsert(ctx context.Context, p domain.Property) error {
	const query = `
		INSERT INTO properties (
			address, marketplace, property_id, owner, price, is_active,
			metadata_uri, asset_mint, location, square_feet, bedrooms, bathrooms,
			offers_count, transaction_count, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, $12,
			$13, $14, $15, $16
		)
		ON CONFLICT (address) DO UPDATE SET
			owner             = EXCLUDED.owner,
			price             = EXCLUDED.price,
			is_active         = EXCLUDED.is_active,
			metadata_uri      = EXCLUDED.metadata_uri,
			offers_count      = EXCLUDED.offers_count,
			transaction_count = EXCLUDED.transaction_count,
			updated_at        = EXCLUDED.updated_at`

	_, err := s.pool.Exec(ctx, query,
		p.Address, p.Marketplace, p.ID, p.Owner, int64(p.Price), p.IsActive,
		p.MetadataURI, p.AssetMint, p.Location, int64(p.SquareFeet), int16(p.Bedrooms), int16(p.Bathrooms),
		int64(p.OffersCount), int64(p.TransactionCount), p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert property %s: %w", p.Address, err)
	}
	return nil
}

// scanProperty scans a single property row.
func scanProperty(row pgx.Row) (domain.Property, error) {
	var p domain.Property
	var price, sqft, offers, txs int64
	var beds, baths int16
	err := row.Scan(
		&p.Address, &p.Marketplace, &p.ID, &p.Owner, &price, &p.IsActive,
		&p.MetadataURI, &p.AssetMint, &p.Location, &sqft, &beds, &baths,
		&offers, &txs, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return domain.Property{}, err
	}
	p.Price = uint64(price)
	p.SquareFeet = uint64(sqft)
	p.Bedrooms = uint8(beds)
	p.Bathrooms = uint8(baths)
	p.OffersCount = uint64(offers)
	p.TransactionCount = uint64(txs)
	return p, nil
}

// GetByAddress retrieves a property by its derived address.
func (s *PropertyStore) GetByAddress(ctx context.Context, address string) (domain.Property, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+propertyCols+` FROM properties WHERE address = $1`, address)
	p, err := scanProperty(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Property{}, domain.ErrNotFound
		}
		return domain.Property{}, fmt.Errorf("postgres: get property %s: %w", address, err)
	}
	return p, nil
}

// GetByID retrieves a property by its marketplace and caller-chosen id.
func (s *PropertyStore) GetByID(ctx context.Context, marketplace, id string) (domain.Property, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+propertyCols+` FROM properties WHERE marketplace = $1 AND property_id = $2`,
		marketplace, id)
	p, err := scanProperty(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Property{}, domain.ErrNotFound
		}
		return domain.Property{}, fmt.Errorf("postgres: get property %s/%s: %w", marketplace, id, err)
	}
	return p, nil
}

// ListActive returns active properties under a marketplace with pagination
// and optional time filtering.
func (s *PropertyStore) ListActive(ctx context.Context, marketplace string, opts domain.ListOpts) ([]domain.Property, error) {
	query := `SELECT ` + propertyCols + ` FROM properties WHERE marketplace = $1 AND is_active = TRUE`
	args := []any{marketplace}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	return s.list(ctx, query, args...)
}

// ListByOwner returns properties held by one identity.
func (s *PropertyStore) ListByOwner(ctx context.Context, owner string, opts domain.ListOpts) ([]domain.Property, error) {
	query := `SELECT ` + propertyCols + ` FROM properties WHERE owner = $1 ORDER BY created_at DESC`
	args := []any{owner}
	if opts.Limit > 0 {
		query += ` LIMIT $2`
		args = append(args, opts.Limit)
	}
	return s.list(ctx, query, args...)
}

// Count returns the number of mirrored properties under a marketplace.
func (s *PropertyStore) Count(ctx context.Context, marketplace string) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM properties WHERE marketplace = $1`, marketplace).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("postgres: count properties: %w", err)
	}
	return count, nil
}

func (s *PropertyStore) list(ctx context.Context, query string, args ...any) ([]domain.Property, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list properties: %w", err)
	}
	defer rows.Close()

	var out []domain.Property
	for rows.Next() {
		p, err := scanProperty(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan property: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list properties rows: %w", err)
	}
	return out, nil
}

// Compile-time interface check.
var _ domain.PropertyStore = (*PropertyStore)(nil)
