package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// MarketplaceStore mirrors committed marketplace state.
type MarketplaceStore interface {
	Upsert(ctx context.Context, m Marketplace) error
	GetByAddress(ctx context.Context, address string) (Marketplace, error)
	GetByAuthority(ctx context.Context, authority string) (Marketplace, error)
	List(ctx context.Context) ([]Marketplace, error)
}

// PropertyStore mirrors committed property records.
type PropertyStore interface {
	Upsert(ctx context.Context, p Property) error
	GetByAddress(ctx context.Context, address string) (Property, error)
	GetByID(ctx context.Context, marketplace, id string) (Property, error)
	ListActive(ctx context.Context, marketplace string, opts ListOpts) ([]Property, error)
	ListByOwner(ctx context.Context, owner string, opts ListOpts) ([]Property, error)
	Count(ctx context.Context, marketplace string) (int64, error)
}

// OfferStore mirrors committed offers together with their escrow state.
type OfferStore interface {
	Upsert(ctx context.Context, o Offer) error
	GetByAddress(ctx context.Context, address string) (Offer, error)
	ListByProperty(ctx context.Context, property string, opts ListOpts) ([]Offer, error)
	ListByBuyer(ctx context.Context, buyer string, opts ListOpts) ([]Offer, error)
	ListResolvedBefore(ctx context.Context, before time.Time) ([]Offer, error)
}

// TransactionStore mirrors the append-only sale log.
type TransactionStore interface {
	Insert(ctx context.Context, tx TransactionRecord) error
	ListByProperty(ctx context.Context, property string, opts ListOpts) ([]TransactionRecord, error)
	ListRecent(ctx context.Context, limit int) ([]TransactionRecord, error)
	ListBefore(ctx context.Context, before time.Time) ([]TransactionRecord, error)
}
