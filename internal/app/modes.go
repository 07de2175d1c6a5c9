package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/livebid/internal/fanout"
	"github.com/alanyoungcy/livebid/internal/server"
	"github.com/alanyoungcy/livebid/internal/server/handler"
	"github.com/alanyoungcy/livebid/internal/server/ws"
	"github.com/alanyoungcy/livebid/internal/service"
)

const shutdownTimeout = 5 * time.Second

// services holds the domain services shared by every mode.
type services struct {
	adapter   *fanout.Adapter
	emitter   *service.Emitter
	lifecycle *service.Lifecycle
	ledger    *service.BidLedger
	auctions  *service.AuctionService
	rooms     *service.RoomService
}

// buildServices constructs the services on top of deps. Sweeper nodes still
// get an adapter so ended-auction events reach clients on other nodes.
func (a *App) buildServices(deps *Dependencies) *services {
	ac := a.cfg.Auction
	fc := a.cfg.Fanout

	adapter := fanout.New(fanout.Config{
		NodeID:            deps.NodeID,
		HeartbeatInterval: fc.HeartbeatInterval.Duration,
		PresenceTTL:       fc.PresenceTTL.Duration,
		ClientTTL:         fc.ClientTTL.Duration,
	}, deps.SignalBus, deps.Presence, deps.Directory, deps.Rooms, deps.Codec, a.logger)

	emitter := service.NewEmitter(adapter, deps.Sinks, ac.EventBuffer, a.logger)

	lifecycle := service.NewLifecycle(deps.Auctions, emitter, deps.Rooms, deps.LockManager, service.LifecycleConfig{
		SweepInterval: ac.SweepInterval.Duration,
		SweepBatch:    ac.SweepBatch,
		LockTTL:       ac.LockTTL.Duration,
		RoomGrace:     ac.RoomGrace.Duration,
	}, a.logger)

	ledger := service.NewBidLedger(deps.Auctions, deps.RateLimiter, emitter, service.BidLedgerConfig{
		BidLimit:     ac.BidLimit,
		BidWindow:    ac.BidWindow.Duration,
		StoreTimeout: ac.StoreTimeout.Duration,
		RoomGrace:    ac.RoomGrace.Duration,
	}, a.logger).WithRoomRegistry(deps.Rooms)

	return &services{
		adapter:   adapter,
		emitter:   emitter,
		lifecycle: lifecycle,
		ledger:    ledger,
		auctions:  service.NewAuctionService(deps.Auctions, deps.Sanctions, lifecycle, a.logger),
		rooms:     service.NewRoomService(deps.Auctions, deps.Rooms, adapter, ac.RoomGrace.Duration, a.logger),
	}
}

// APIMode serves HTTP and WebSocket clients without sweeping.
func (a *App) APIMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting api mode", slog.String("node_id", deps.NodeID))

	svc := a.buildServices(deps)
	g, ctx := errgroup.WithContext(ctx)
	a.startDelivery(ctx, g, svc)
	a.startHTTPServer(ctx, g, deps, svc)
	return g.Wait()
}

// SweeperMode runs only the lifecycle sweeper.
func (a *App) SweeperMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting sweeper mode", slog.String("node_id", deps.NodeID))

	svc := a.buildServices(deps)
	g, ctx := errgroup.WithContext(ctx)
	a.startDelivery(ctx, g, svc)
	g.Go(func() error {
		return svc.lifecycle.Run(ctx)
	})
	return g.Wait()
}

// FullMode serves clients and sweeps on the same node.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode", slog.String("node_id", deps.NodeID))

	svc := a.buildServices(deps)
	g, ctx := errgroup.WithContext(ctx)
	a.startDelivery(ctx, g, svc)
	g.Go(func() error {
		return svc.lifecycle.Run(ctx)
	})
	a.startHTTPServer(ctx, g, deps, svc)
	return g.Wait()
}

// startDelivery runs the fan-out adapter and the event emitter.
func (a *App) startDelivery(ctx context.Context, g *errgroup.Group, svc *services) {
	g.Go(func() error {
		return svc.adapter.Run(ctx)
	})
	g.Go(func() error {
		err := svc.emitter.Run(ctx)
		if n := svc.emitter.Dropped(); n > 0 {
			a.logger.Warn("app: emitter dropped events during run", slog.Int64("dropped", n))
		}
		return err
	})
}

// startHTTPServer builds the API and WebSocket front and shuts it down
// when ctx is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, svc *services) {
	sc := a.cfg.Server

	hub := ws.NewHub(ws.Config{
		AllowedOrigins: sc.CORSOrigins,
		ConnectLimit:   sc.ConnectLimit,
		ConnectWindow:  sc.ConnectWindow.Duration,
	}, svc.adapter, svc.rooms, deps.RateLimiter, a.logger)

	srv := server.NewServer(server.Config{
		Port:          sc.Port,
		CORSOrigins:   sc.CORSOrigins,
		APIKey:        sc.APIKey,
		RequestLimit:  sc.RequestLimit,
		RequestWindow: sc.RequestWindow.Duration,
	}, server.Handlers{
		Health:    handler.NewHealthHandler(deps.NodeID, deps.Checks, a.logger),
		Nodes:     handler.NewNodeHandler(deps.Presence, deps.NodeID, a.logger),
		Auctions:  handler.NewAuctionHandler(svc.auctions, a.logger),
		Bids:      handler.NewBidHandler(svc.ledger, a.logger),
		Watchers:  handler.NewWatcherHandler(svc.rooms, a.logger),
		Sanctions: handler.NewSanctionHandler(svc.auctions, a.logger),
	}, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		return hub.Run(ctx)
	})
	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}
