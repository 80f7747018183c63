package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/deedmarket/deedmarketd/internal/address"
	"github.com/deedmarket/deedmarketd/internal/domain"
	"github.com/deedmarket/deedmarketd/internal/protocol"
	"github.com/deedmarket/deedmarketd/internal/server"
	"github.com/deedmarket/deedmarketd/internal/server/handler"
	"github.com/deedmarket/deedmarketd/internal/server/ws"
	"github.com/deedmarket/deedmarketd/internal/service"
)

// archiveLockKey guards the archive job so at most one node runs it at a time.
const archiveLockKey = "archive:run"

// NodeMode runs the full write path: the protocol engine behind the HTTP API,
// with mirroring and event publication, but no background archive job.
func (a *App) NodeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting node mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startAPI(ctx, g, deps, true)
	return g.Wait()
}

// MirrorMode serves read-only queries from the postgres mirror and relays
// events over WebSocket. Mutating endpoints are not registered.
func (a *App) MirrorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting mirror mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startAPI(ctx, g, deps, false)
	return g.Wait()
}

// ArchiveMode runs only the periodic settled-history archive job.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.runArchiveLoop(ctx, deps)
	})
	return g.Wait()
}

// FullMode runs the write path, the read API, and (when enabled) the archive
// job in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startAPI(ctx, g, deps, true)
	if a.cfg.Archive.Enabled && deps.Archiver != nil {
		g.Go(func() error {
			return a.runArchiveLoop(ctx, deps)
		})
	}
	return g.Wait()
}

// startAPI builds the services, WebSocket hub and HTTP server and registers
// them on the errgroup. When writes is false the engine is absent and only
// read endpoints are meaningful; mutating requests then fail with a decode
// error before touching any state.
func (a *App) startAPI(ctx context.Context, g *errgroup.Group, deps *Dependencies, writes bool) {
	if !a.cfg.Server.Enabled {
		a.logger.WarnContext(ctx, "server.enabled is false; API not started")
		return
	}

	querySvc := service.NewQueryService(
		deps.MarketplaceStore,
		deps.PropertyStore,
		deps.OfferStore,
		deps.TransactionStore,
		deps.PropertyCache,
		a.logger,
	)

	var marketplaceSvc *service.MarketplaceService
	if writes && deps.Engine != nil {
		marketplaceSvc = service.NewMarketplaceService(
			deps.Engine,
			deps.MarketplaceStore,
			deps.PropertyStore,
			deps.OfferStore,
			deps.TransactionStore,
			deps.PropertyCache,
			deps.SignalBus,
			deps.Notifier,
			a.logger,
		)
	}

	var submitter handler.Submitter
	var balances handler.BalanceQuery
	if marketplaceSvc != nil {
		submitter = marketplaceSvc
		balances = marketplaceSvc.Engine()
	} else {
		submitter = rejectSubmitter{}
		balances = emptyBalances{}
	}

	startedAt := time.Now().UTC()
	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: startedAt,
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	handlers := server.Handlers{
		Health:       handler.NewHealthHandler(a.cfg.Mode, startedAt, a.logger),
		Marketplace:  handler.NewMarketplaceHandler(submitter, querySvc, balances, a.logger),
		Properties:   handler.NewPropertyHandler(submitter, querySvc, a.logger),
		Offers:       handler.NewOfferHandler(submitter, querySvc, a.logger),
		Transactions: handler.NewTransactionHandler(querySvc, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		APIKey:          a.cfg.Server.APIKey,
		RateLimit:       a.cfg.Server.RateLimit,
		RateLimitWindow: a.cfg.Server.RateLimitWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// runArchiveLoop periodically archives settled history older than the
// retention window. A distributed lock ensures only one node archives per
// tick; losing the lock race is normal and just skips the tick.
func (a *App) runArchiveLoop(ctx context.Context, deps *Dependencies) error {
	if deps.Archiver == nil {
		return fmt.Errorf("app: archive loop requires blob storage")
	}

	interval := a.cfg.Archive.Interval.Duration
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	lockTTL := a.cfg.Archive.LockTTL.Duration
	if lockTTL <= 0 {
		lockTTL = 10 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			a.runArchiveOnce(ctx, deps, lockTTL)
		}
	}
}

func (a *App) runArchiveOnce(ctx context.Context, deps *Dependencies, lockTTL time.Duration) {
	unlock, err := deps.LockManager.Acquire(ctx, archiveLockKey, lockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			a.logger.InfoContext(ctx, "archive run skipped, another node holds the lock")
			return
		}
		a.logger.ErrorContext(ctx, "archive lock failed",
			slog.String("error", err.Error()),
		)
		return
	}
	defer unlock()

	before := time.Now().UTC().AddDate(0, 0, -a.cfg.Archive.RetentionDays)
	report, err := deps.Archiver.Run(ctx, before)
	if err != nil {
		a.logger.ErrorContext(ctx, "archive run failed",
			slog.String("error", err.Error()),
		)
		return
	}
	a.logger.InfoContext(ctx, "archive run finished",
		slog.Int64("transactions", report.TransactionsArchived),
		slog.Int64("offers", report.OffersArchived),
	)
}

// rejectSubmitter stands in for the write path in mirror mode: every
// submission is refused before signature recovery.
type rejectSubmitter struct{}

func (rejectSubmitter) Submit(ctx context.Context, instruction, signature []byte) (*protocol.Receipt, error) {
	return nil, fmt.Errorf("app: this node does not accept instructions: %w", domain.ErrUnauthorized)
}

// emptyBalances serves balance reads when no engine is running.
type emptyBalances struct{}

func (emptyBalances) SpendableBalance(common.Address) uint64 { return 0 }

func (emptyBalances) VaultBalance(address.Address) (uint64, error) {
	return 0, domain.ErrNotFound
}
