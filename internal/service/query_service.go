package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/deedmarket/deedmarketd/internal/domain"
)

// QueryService is the read path: it serves property, offer, marketplace and
// transaction queries from the postgres mirror, fronted by the redis property
// cache for single-record lookups.
type QueryService struct {
	marketplaces domain.MarketplaceStore
	properties   domain.PropertyStore
	offers       domain.OfferStore
	transactions domain.TransactionStore
	cache        domain.PropertyCache
	logger       *slog.Logger
}

// NewQueryService creates a QueryService. The cache may be nil, in which case
// all reads go straight to the stores.
func NewQueryService(
	marketplaces domain.MarketplaceStore,
	properties domain.PropertyStore,
	offers domain.OfferStore,
	transactions domain.TransactionStore,
	cache domain.PropertyCache,
	logger *slog.Logger,
) *QueryService {
	return &QueryService{
		marketplaces: marketplaces,
		properties:   properties,
		offers:       offers,
		transactions: transactions,
		cache:        cache,
		logger:       logger.With(slog.String("component", "query_service")),
	}
}

// GetMarketplace returns a mirrored marketplace by address.
func (s *QueryService) GetMarketplace(ctx context.Context, address string) (domain.Marketplace, error) {
	m, err := s.marketplaces.GetByAddress(ctx, address)
	if err != nil {
		return domain.Marketplace{}, fmt.Errorf("query_service: get marketplace %s: %w", address, err)
	}
	return m, nil
}

// ListMarketplaces returns all mirrored marketplaces.
func (s *QueryService) ListMarketplaces(ctx context.Context) ([]domain.Marketplace, error) {
	ms, err := s.marketplaces.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("query_service: list marketplaces: %w", err)
	}
	return ms, nil
}

// GetProperty returns a property by derived address, consulting the cache
// first and refilling it on a store hit.
func (s *QueryService) GetProperty(ctx context.Context, address string) (domain.Property, error) {
	if s.cache != nil {
		if p, err := s.cache.Get(ctx, address); err == nil {
			return p, nil
		} else if !errors.Is(err, domain.ErrNotFound) {
			s.logger.WarnContext(ctx, "property cache read failed",
				slog.String("address", address),
				slog.String("error", err.Error()),
			)
		}
	}

	p, err := s.properties.GetByAddress(ctx, address)
	if err != nil {
		return domain.Property{}, fmt.Errorf("query_service: get property %s: %w", address, err)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, p); err != nil {
			s.logger.WarnContext(ctx, "property cache fill failed",
				slog.String("address", address),
				slog.String("error", err.Error()),
			)
		}
	}
	return p, nil
}

// ListActiveProperties returns active listings under a marketplace.
func (s *QueryService) ListActiveProperties(ctx context.Context, marketplace string, opts domain.ListOpts) ([]domain.Property, error) {
	ps, err := s.properties.ListActive(ctx, marketplace, opts)
	if err != nil {
		return nil, fmt.Errorf("query_service: list active properties: %w", err)
	}
	return ps, nil
}

// ListPropertiesByOwner returns properties held by one identity.
func (s *QueryService) ListPropertiesByOwner(ctx context.Context, owner string, opts domain.ListOpts) ([]domain.Property, error) {
	ps, err := s.properties.ListByOwner(ctx, owner, opts)
	if err != nil {
		return nil, fmt.Errorf("query_service: list properties by owner %s: %w", owner, err)
	}
	return ps, nil
}

// GetOffer returns an offer by derived address.
func (s *QueryService) GetOffer(ctx context.Context, address string) (domain.Offer, error) {
	o, err := s.offers.GetByAddress(ctx, address)
	if err != nil {
		return domain.Offer{}, fmt.Errorf("query_service: get offer %s: %w", address, err)
	}
	return o, nil
}

// ListOffersByProperty returns offers on one property.
func (s *QueryService) ListOffersByProperty(ctx context.Context, property string, opts domain.ListOpts) ([]domain.Offer, error) {
	os, err := s.offers.ListByProperty(ctx, property, opts)
	if err != nil {
		return nil, fmt.Errorf("query_service: list offers for %s: %w", property, err)
	}
	return os, nil
}

// ListOffersByBuyer returns offers made by one identity.
func (s *QueryService) ListOffersByBuyer(ctx context.Context, buyer string, opts domain.ListOpts) ([]domain.Offer, error) {
	os, err := s.offers.ListByBuyer(ctx, buyer, opts)
	if err != nil {
		return nil, fmt.Errorf("query_service: list offers by buyer %s: %w", buyer, err)
	}
	return os, nil
}

// ListTransactionsByProperty returns the sale history of one property.
func (s *QueryService) ListTransactionsByProperty(ctx context.Context, property string, opts domain.ListOpts) ([]domain.TransactionRecord, error) {
	txs, err := s.transactions.ListByProperty(ctx, property, opts)
	if err != nil {
		return nil, fmt.Errorf("query_service: list transactions for %s: %w", property, err)
	}
	return txs, nil
}

// ListRecentTransactions returns the most recent completed sales.
func (s *QueryService) ListRecentTransactions(ctx context.Context, limit int) ([]domain.TransactionRecord, error) {
	txs, err := s.transactions.ListRecent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("query_service: list recent transactions: %w", err)
	}
	return txs, nil
}
