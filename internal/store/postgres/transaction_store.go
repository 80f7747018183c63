package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/deedmarket/deedmarketd/internal/domain"
)

// TransactionStore implements domain.TransactionStore using PostgreSQL. The
// table mirrors the protocol's append-only sale log; rows are never updated.
type TransactionStore struct {
	pool *pgxpool.Pool
}

// NewTransactionStore creates a TransactionStore backed by the given pool.
func NewTransactionStore(pool *pgxpool.Pool) *TransactionStore {
	return &TransactionStore{pool: pool}
}

const transactionCols = `address, property, buyer, seller, price, fee, seq_index, created_at`

// Insert appends one sale record. Replaying an already-mirrored event is a
// no-op thanks to ON CONFLICT DO NOTHING, which keeps the mirror idempotent.
func (s *TransactionStore) Insert(ctx context.Context, tx domain.TransactionRecord) error {
	const query = `
		INSERT INTO transactions (
			address, property, buyer, seller, price, fee, seq_index, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (address) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		tx.Address, tx.Property, tx.Buyer, tx.Seller,
		int64(tx.Price), int64(tx.Fee), int64(tx.Index), tx.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert transaction %s: %w", tx.Address, err)
	}
	return nil
}

// scanTransaction scans a single sale record row.
func scanTransaction(row pgx.Row) (domain.TransactionRecord, error) {
	var tx domain.TransactionRecord
	var price, fee, idx int64
	err := row.Scan(
		&tx.Address, &tx.Property, &tx.Buyer, &tx.Seller,
		&price, &fee, &idx, &tx.CreatedAt,
	)
	if err != nil {
		return domain.TransactionRecord{}, err
	}
	tx.Price = uint64(price)
	tx.Fee = uint64(fee)
	tx.Index = uint64(idx)
	return tx, nil
}

// ListByProperty returns the sale history of one property in sequence order.
func (s *TransactionStore) ListByProperty(ctx context.Context, property string, opts domain.ListOpts) ([]domain.TransactionRecord, error) {
	query := `SELECT ` + transactionCols + ` FROM transactions WHERE property = $1 ORDER BY seq_index`
	args := []any{property}
	if opts.Limit > 0 {
		query += ` LIMIT $2`
		args = append(args, opts.Limit)
	}
	return s.list(ctx, query, args...)
}

// ListRecent returns the most recent sales across all properties.
func (s *TransactionStore) ListRecent(ctx context.Context, limit int) ([]domain.TransactionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.list(ctx,
		`SELECT `+transactionCols+` FROM transactions ORDER BY created_at DESC LIMIT $1`, limit)
}

// ListBefore returns sales settled strictly before the cutoff, oldest first.
// The archiver uses this for snapshot runs.
func (s *TransactionStore) ListBefore(ctx context.Context, before time.Time) ([]domain.TransactionRecord, error) {
	return s.list(ctx,
		`SELECT `+transactionCols+` FROM transactions WHERE created_at < $1 ORDER BY created_at`, before)
}

func (s *TransactionStore) list(ctx context.Context, query string, args ...any) ([]domain.TransactionRecord, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list transactions: %w", err)
	}
	defer rows.Close()

	var out []domain.TransactionRecord
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan transaction: %w", err)
		}
		out = append(out, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list transactions rows: %w", err)
	}
	return out, nil
}

// Compile-time interface check.
var _ domain.TransactionStore = (*TransactionStore)(nil)
