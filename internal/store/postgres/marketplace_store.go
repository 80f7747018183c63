package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/deedmarket/deedmarketd/internal/domain"
)

// MarketplaceStore implements domain.MarketplaceStore using PostgreSQL.
type MarketplaceStore struct {
	pool *pgxpool.Pool
}

// NewMarketplaceStore creates a MarketplaceStore backed by the given pool.
func NewMarketplaceStore(pool *pgxpool.Pool) *MarketplaceStore {
	return &MarketplaceStore{pool: pool}
}

const marketplaceCols = `address, authority, fee_percentage, properties_count,
	fee_vault, created_at, updated_at`

// Upsert inserts or updates a marketplace mirror row.
func (s *MarketplaceStore) Upsert(ctx context.Context, m domain.Marketplace) error {
	const query = `
		INSERT INTO marketplaces (
			address, authority, fee_percentage, properties_count,
			fee_vault, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (address) DO UPDATE SET
			fee_percentage   = EXCLUDED.fee_percentage,
			properties_count = EXCLUDED.properties_count,
			updated_at       = EXCLUDED.updated_at`

	_, err := s.pool.Exec(ctx, query,
		m.Address, m.Authority, int32(m.FeePercentage), int64(m.PropertiesCount),
		m.FeeVault, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert marketplace %s: %w", m.Address, err)
	}
	return nil
}

// scanMarketplace scans a single marketplace row.
func scanMarketplace(row pgx.Row) (domain.Marketplace, error) {
	var m domain.Marketplace
	var feePct int32
	var count int64
	err := row.Scan(
		&m.Address, &m.Authority, &feePct, &count,
		&m.FeeVault, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return domain.Marketplace{}, err
	}
	m.FeePercentage = uint16(feePct)
	m.PropertiesCount = uint64(count)
	return m, nil
}

// GetByAddress retrieves a marketplace by its derived address.
func (s *MarketplaceStore) GetByAddress(ctx context.Context, address string) (domain.Marketplace, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+marketplaceCols+` FROM marketplaces WHERE address = $1`, address)
	m, err := scanMarketplace(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Marketplace{}, domain.ErrNotFound
		}
		return domain.Marketplace{}, fmt.Errorf("postgres: get marketplace %s: %w", address, err)
	}
	return m, nil
}

// GetByAuthority retrieves a marketplace by its owning authority identity.
func (s *MarketplaceStore) GetByAuthority(ctx context.Context, authority string) (domain.Marketplace, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+marketplaceCols+` FROM marketplaces WHERE authority = $1`, authority)
	m, err := scanMarketplace(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Marketplace{}, domain.ErrNotFound
		}
		return domain.Marketplace{}, fmt.Errorf("postgres: get marketplace by authority %s: %w", authority, err)
	}
	return m, nil
}

// List returns all mirrored marketplaces.
func (s *MarketplaceStore) List(ctx context.Context) ([]domain.Marketplace, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+marketplaceCols+` FROM marketplaces ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list marketplaces: %w", err)
	}
	defer rows.Close()

	var out []domain.Marketplace
	for rows.Next() {
		m, err := scanMarketplace(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan marketplace: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list marketplaces rows: %w", err)
	}
	return out, nil
}

// Compile-time interface check.
var _ domain.MarketplaceStore = (*MarketplaceStore)(nil)
