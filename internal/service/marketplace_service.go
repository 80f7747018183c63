// Package service orchestrates the protocol engine with its surrounding
// collaborators: signature verification on the way in, and mirroring,
// event publication and notifications on the way out.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/deedmarket/deedmarketd/internal/crypto"
	"github.com/deedmarket/deedmarketd/internal/domain"
	"github.com/deedmarket/deedmarketd/internal/notify"
	"github.com/deedmarket/deedmarketd/internal/protocol"
)

// eventStream is the durable stream committed events are appended to, so a
// mirror that was down can catch up in order.
const eventStream = "events"

// MarketplaceService is the write path of the node. Every mutating request
// flows through Submit: verify the signature, decode the instruction, apply
// it atomically on the engine, then fan the committed result out to the
// read-side mirror, the signal bus, and operator notifications.
type MarketplaceService struct {
	engine       *protocol.Engine
	marketplaces domain.MarketplaceStore
	properties   domain.PropertyStore
	offers       domain.OfferStore
	transactions domain.TransactionStore
	cache        domain.PropertyCache
	bus          domain.SignalBus
	notifier     *notify.Notifier
	logger       *slog.Logger
}

// NewMarketplaceService creates a MarketplaceService. Store, cache, bus and
// notifier dependencies may be nil; fan-out steps for absent collaborators
// are skipped (engine-only mode used in tests and single-node setups).
func NewMarketplaceService(
	engine *protocol.Engine,
	marketplaces domain.MarketplaceStore,
	properties domain.PropertyStore,
	offers domain.OfferStore,
	transactions domain.TransactionStore,
	cache domain.PropertyCache,
	bus domain.SignalBus,
	notifier *notify.Notifier,
	logger *slog.Logger,
) *MarketplaceService {
	return &MarketplaceService{
		engine:       engine,
		marketplaces: marketplaces,
		properties:   properties,
		offers:       offers,
		transactions: transactions,
		cache:        cache,
		bus:          bus,
		notifier:     notifier,
		logger:       logger.With(slog.String("component", "marketplace_service")),
	}
}

// Engine exposes the underlying engine for read accessors (balances).
func (s *MarketplaceService) Engine() *protocol.Engine {
	return s.engine
}

// Submit verifies the signature over the canonical instruction bytes,
// recovers the caller identity, and applies the instruction. The receipt is
// only produced after the engine committed the whole operation; mirroring and
// publication happen strictly after commit, so every committed mutation is
// observable exactly once.
func (s *MarketplaceService) Submit(ctx context.Context, instruction, signature []byte) (*protocol.Receipt, error) {
	caller, err := crypto.RecoverSigner(instruction, signature)
	if err != nil {
		return nil, fmt.Errorf("marketplace_service: %w", err)
	}

	ix, err := protocol.Decode(instruction)
	if err != nil {
		return nil, fmt.Errorf("marketplace_service: %w", err)
	}

	receipt, err := s.engine.Apply(caller, ix)
	if err != nil {
		return nil, fmt.Errorf("marketplace_service: apply %s: %w", ix.Name(), err)
	}

	s.logger.InfoContext(ctx, "instruction committed",
		slog.String("operation", receipt.Operation),
		slog.String("caller", caller.Hex()),
	)

	s.fanOut(ctx, receipt)
	return receipt, nil
}

// fanOut mirrors the receipt to the read-side stores and publishes its
// events. Failures here never roll back the committed operation; they are
// logged and the mirror catches up from the event stream.
func (s *MarketplaceService) fanOut(ctx context.Context, receipt *protocol.Receipt) {
	if receipt.Marketplace != nil && s.marketplaces != nil {
		if err := s.marketplaces.Upsert(ctx, *receipt.Marketplace); err != nil {
			s.logger.WarnContext(ctx, "mirror marketplace failed",
				slog.String("address", receipt.Marketplace.Address),
				slog.String("error", err.Error()),
			)
		}
	}
	if receipt.Property != nil {
		if s.properties != nil {
			if err := s.properties.Upsert(ctx, *receipt.Property); err != nil {
				s.logger.WarnContext(ctx, "mirror property failed",
					slog.String("address", receipt.Property.Address),
					slog.String("error", err.Error()),
				)
			}
		}
		if s.cache != nil {
			if err := s.cache.Invalidate(ctx, receipt.Property.Address); err != nil {
				s.logger.WarnContext(ctx, "invalidate property cache failed",
					slog.String("address", receipt.Property.Address),
					slog.String("error", err.Error()),
				)
			}
		}
	}
	if receipt.Offer != nil && s.offers != nil {
		if err := s.offers.Upsert(ctx, *receipt.Offer); err != nil {
			s.logger.WarnContext(ctx, "mirror offer failed",
				slog.String("address", receipt.Offer.Address),
				slog.String("error", err.Error()),
			)
		}
	}
	if receipt.Transaction != nil && s.transactions != nil {
		if err := s.transactions.Insert(ctx, *receipt.Transaction); err != nil {
			s.logger.WarnContext(ctx, "mirror transaction failed",
				slog.String("address", receipt.Transaction.Address),
				slog.String("error", err.Error()),
			)
		}
	}

	for _, evt := range receipt.Events {
		evt.ID = uuid.New().String()
		s.publish(ctx, evt)
		s.notifyEvent(ctx, evt)
	}
}

// publish sends an event to its pub/sub channel and appends it to the durable
// event stream.
func (s *MarketplaceService) publish(ctx context.Context, evt domain.Event) {
	if s.bus == nil {
		return
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		s.logger.WarnContext(ctx, "encode event failed",
			slog.String("type", string(evt.Type)),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := s.bus.Publish(ctx, evt.Channel(), payload); err != nil {
		s.logger.WarnContext(ctx, "publish event failed",
			slog.String("channel", evt.Channel()),
			slog.String("error", err.Error()),
		)
	}
	if err := s.bus.StreamAppend(ctx, eventStream, payload); err != nil {
		s.logger.WarnContext(ctx, "stream append failed",
			slog.String("stream", eventStream),
			slog.String("error", err.Error()),
		)
	}
}

// notifyEvent forwards noteworthy events to the operator notification
// channels.
func (s *MarketplaceService) notifyEvent(ctx context.Context, evt domain.Event) {
	if s.notifier == nil {
		return
	}

	var title, message string
	switch evt.Type {
	case domain.EventPropertyListed:
		title = "Property listed"
		message = fmt.Sprintf("property %v listed at %v", evt.Payload["id"], evt.Payload["price"])
	case domain.EventOfferMade:
		title = "Offer made"
		message = fmt.Sprintf("offer of %v on %s", evt.Payload["amount"], evt.Property)
	case domain.EventSaleCompleted:
		title = "Sale completed"
		message = fmt.Sprintf("property %s sold for %v (fee %v)", evt.Property, evt.Payload["price"], evt.Payload["fee"])
	case domain.EventOfferRejected:
		title = "Offer rejected"
		message = fmt.Sprintf("offer %s rejected, %v refunded", evt.Offer, evt.Payload["amount"])
	default:
		return
	}

	if err := s.notifier.Notify(ctx, string(evt.Type), title, message); err != nil {
		s.logger.WarnContext(ctx, "notify failed",
			slog.String("type", string(evt.Type)),
			slog.String("error", err.Error()),
		)
	}
}
