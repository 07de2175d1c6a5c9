package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/livebid/internal/domain"
)

// sweepLockKey guards the periodic sweep so one node runs it at a time.
const sweepLockKey = "lifecycle:sweep"

// LifecycleConfig tunes the time-driven state machine.
type LifecycleConfig struct {
	SweepInterval time.Duration
	SweepBatch    int
	LockTTL       time.Duration
	RoomGrace     time.Duration
}

// Lifecycle drives auctions through scheduled -> active -> ended. Every
// transition re-reads the auction under its row lock, so a sweep racing a
// bid that extended endsAt simply finds nothing to do.
type Lifecycle struct {
	store  domain.AuctionStore
	events domain.EventEmitter
	rooms  domain.RoomRegistry
	locks  domain.LockManager
	cfg    LifecycleConfig
	now    func() time.Time
	logger *slog.Logger
}

// NewLifecycle creates a Lifecycle. rooms and locks may be nil.
func NewLifecycle(
	store domain.AuctionStore,
	events domain.EventEmitter,
	rooms domain.RoomRegistry,
	locks domain.LockManager,
	cfg LifecycleConfig,
	logger *slog.Logger,
) *Lifecycle {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Second
	}
	if cfg.SweepBatch <= 0 {
		cfg.SweepBatch = 100
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 5 * cfg.SweepInterval
	}
	return &Lifecycle{
		store:  store,
		events: events,
		rooms:  rooms,
		locks:  locks,
		cfg:    cfg,
		now:    time.Now,
		logger: logger.With(slog.String("component", "lifecycle")),
	}
}

// Run sweeps every SweepInterval until ctx is cancelled.
func (l *Lifecycle) Run(ctx context.Context) error {
	l.logger.InfoContext(ctx, "lifecycle: sweeper started",
		slog.Duration("interval", l.cfg.SweepInterval),
	)

	ticker := time.NewTicker(l.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.logger.InfoContext(ctx, "lifecycle: sweeper stopped")
			return nil
		case <-ticker.C:
			l.tick(ctx)
		}
	}
}

func (l *Lifecycle) tick(ctx context.Context) {
	if l.locks != nil {
		unlock, err := l.locks.Acquire(ctx, sweepLockKey, l.cfg.LockTTL)
		switch {
		case errors.Is(err, domain.ErrLockHeld):
			return
		case err != nil:
			// Row locks keep transitions correct without the sweep lock.
			l.logger.WarnContext(ctx, "lifecycle: sweep lock unavailable, sweeping anyway",
				slog.String("error", err.Error()),
			)
		default:
			defer unlock()
		}
	}

	if _, err := l.Sweep(ctx, l.now()); err != nil {
		l.logger.ErrorContext(ctx, "lifecycle: sweep failed", slog.String("error", err.Error()))
	}
}

// Sweep applies every transition due at now and returns how many auctions
// changed state. A failure on one auction does not stop the others.
func (l *Lifecycle) Sweep(ctx context.Context, now time.Time) (int, error) {
	due, err := l.store.ListDue(ctx, now, l.cfg.SweepBatch)
	if err != nil {
		return 0, fmt.Errorf("lifecycle: list due: %w", err)
	}

	var (
		changed int
		errs    []error
	)
	for _, a := range due {
		var ok bool
		if a.Status == domain.AuctionScheduled && now.Before(a.EndsAt) {
			ok, err = l.Activate(ctx, a.ID, now)
		} else {
			ok, err = l.End(ctx, a.ID, now)
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			changed++
		}
	}
	return changed, errors.Join(errs...)
}

// Activate moves a scheduled auction whose start has passed to active. It
// reports false when there was nothing to do.
func (l *Lifecycle) Activate(ctx context.Context, auctionID string, now time.Time) (bool, error) {
	now = now.UTC()
	var activated domain.Auction
	err := l.store.Mutate(ctx, auctionID, func(tx domain.AuctionTx) error {
		a := tx.Auction()
		if a.Status != domain.AuctionScheduled || now.Before(a.StartsAt) || !now.Before(a.EndsAt) {
			return nil
		}
		a.Status = domain.AuctionActive
		a.UpdatedAt = now
		if err := tx.UpdateAuction(ctx, a); err != nil {
			return err
		}
		activated = a
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("lifecycle: activate %s: %w", auctionID, err)
	}
	if activated.ID == "" {
		return false, nil
	}

	l.logger.InfoContext(ctx, "lifecycle: auction activated", slog.String("auction_id", auctionID))
	l.emit(startedEvent(activated, now))
	return true, nil
}

// End closes an auction whose end has passed, choosing ended_sold or
// ended_unsold from the reserve rule. A scheduled auction that never
// opened ends unsold. It reports false when there was nothing to do,
// including when a late bid has pushed endsAt past now.
func (l *Lifecycle) End(ctx context.Context, auctionID string, now time.Time) (bool, error) {
	now = now.UTC()
	var ended domain.Auction
	err := l.store.Mutate(ctx, auctionID, func(tx domain.AuctionTx) error {
		a := tx.Auction()
		if a.Status.Terminal() || now.Before(a.EndsAt) {
			return nil
		}
		a.Status = a.EndOutcome()
		a.UpdatedAt = now
		if err := tx.UpdateAuction(ctx, a); err != nil {
			return err
		}
		ended = a
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("lifecycle: end %s: %w", auctionID, err)
	}
	if ended.ID == "" {
		return false, nil
	}

	l.logger.InfoContext(ctx, "lifecycle: auction ended",
		slog.String("auction_id", auctionID),
		slog.String("outcome", string(ended.Status)),
	)
	l.emit(auctionEndedEvent(ended, now))
	if ended.Status == domain.AuctionEndedSold {
		l.emit(wonEvent(ended, now))
	}
	pinRoom(ctx, l.rooms, auctionID, now, l.cfg.RoomGrace, l.logger)
	return true, nil
}

// Cancel withdraws an auction that has not opened yet. Any other state is
// rejected with ErrAuctionNotActive.
func (l *Lifecycle) Cancel(ctx context.Context, auctionID string, now time.Time) (domain.Auction, error) {
	now = now.UTC()
	var cancelled domain.Auction
	err := l.store.Mutate(ctx, auctionID, func(tx domain.AuctionTx) error {
		a := tx.Auction()
		if a.Status != domain.AuctionScheduled {
			return domain.Reject(domain.ErrAuctionNotActive, "auction %s is %s and cannot be cancelled", a.ID, a.Status)
		}
		a.Status = domain.AuctionCancelled
		a.UpdatedAt = now
		if err := tx.UpdateAuction(ctx, a); err != nil {
			return err
		}
		cancelled = a
		return nil
	})
	if err != nil {
		return domain.Auction{}, fmt.Errorf("lifecycle: cancel %s: %w", auctionID, err)
	}

	l.logger.InfoContext(ctx, "lifecycle: auction cancelled", slog.String("auction_id", auctionID))
	l.emit(auctionEndedEvent(cancelled, now))
	pinRoom(ctx, l.rooms, auctionID, now, l.cfg.RoomGrace, l.logger)
	return cancelled, nil
}

func (l *Lifecycle) emit(ev domain.Event, err error) {
	if err != nil {
		l.logger.Error("lifecycle: build event", slog.String("error", err.Error()))
		return
	}
	l.events.Emit(ev)
}
