package service

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/livebid/internal/domain"
)

// drainTimeout bounds delivery of events still queued at shutdown.
const drainTimeout = 5 * time.Second

// Fanout delivers events to connected clients across all nodes.
type Fanout interface {
	Broadcast(ctx context.Context, ev domain.Event) error
	SendToRoom(ctx context.Context, roomID string, ev domain.Event) error
	SendToUser(ctx context.Context, userID string, ev domain.Event) error
}

// EventSink forwards events to an external collaborator.
type EventSink interface {
	Name() string
	Send(ctx context.Context, ev domain.Event) error
}

// Emitter implements domain.EventEmitter with a bounded queue drained by
// Run. Emit never blocks; when the queue is full the event is dropped.
// Each sink has its own queue and worker so a slow collaborator never
// delays fan-out.
type Emitter struct {
	queue       chan domain.Event
	fanout      Fanout
	sinks       []*sinkWorker
	dropped     atomic.Int64
	sinkDropped atomic.Int64
	logger      *slog.Logger
}

// sinkWorker feeds one EventSink from its own bounded queue.
type sinkWorker struct {
	sink  EventSink
	queue chan domain.Event
}

// NewEmitter creates an Emitter. When fanout is nil events reach only the
// sinks. buffer sizes the main queue and every sink queue.
func NewEmitter(fanout Fanout, sinks []EventSink, buffer int, logger *slog.Logger) *Emitter {
	if buffer <= 0 {
		buffer = 1024
	}
	workers := make([]*sinkWorker, 0, len(sinks))
	for _, s := range sinks {
		workers = append(workers, &sinkWorker{sink: s, queue: make(chan domain.Event, buffer)})
	}
	return &Emitter{
		queue:  make(chan domain.Event, buffer),
		fanout: fanout,
		sinks:  workers,
		logger: logger.With(slog.String("component", "emitter")),
	}
}

// Emit enqueues ev for delivery.
func (e *Emitter) Emit(ev domain.Event) {
	select {
	case e.queue <- ev:
	default:
		n := e.dropped.Add(1)
		e.logger.Warn("emitter: queue full, event dropped",
			slog.String("type", string(ev.Type)),
			slog.String("auction_id", ev.AuctionID),
			slog.Int64("dropped_total", n),
		)
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (e *Emitter) Dropped() int64 {
	return e.dropped.Load()
}

// SinkDropped returns how many sink deliveries were discarded because a
// sink queue was full.
func (e *Emitter) SinkDropped() int64 {
	return e.sinkDropped.Load()
}

// Run delivers queued events until ctx is cancelled, then drains whatever
// is still queued. Sinks get drainTimeout after cancellation to finish
// their backlog. Run must be called once.
func (e *Emitter) Run(ctx context.Context) error {
	sinkCtx, cancelSinks := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelSinks()

	var g errgroup.Group
	for _, w := range e.sinks {
		g.Go(func() error {
			e.runSink(sinkCtx, w)
			return nil
		})
	}

	e.loop(ctx)

	for _, w := range e.sinks {
		close(w.queue)
	}
	stop := time.AfterFunc(drainTimeout, cancelSinks)
	defer stop.Stop()
	return g.Wait()
}

func (e *Emitter) loop(ctx context.Context) {
	for {
		select {
		case ev := <-e.queue:
			e.deliver(ctx, ev)
		case <-ctx.Done():
			e.drain()
			return
		}
	}
}

func (e *Emitter) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	for {
		select {
		case ev := <-e.queue:
			e.deliver(ctx, ev)
		default:
			return
		}
	}
}

func (e *Emitter) runSink(ctx context.Context, w *sinkWorker) {
	for ev := range w.queue {
		if err := w.sink.Send(ctx, ev); err != nil {
			e.logger.WarnContext(ctx, "emitter: sink failed",
				slog.String("sink", w.sink.Name()),
				slog.String("type", string(ev.Type)),
				slog.String("error", err.Error()),
			)
		}
	}
}

// deliver routes one event. Room events go to the auction room, direct
// notifications to their recipient and the rest marketplace-wide. Sinks
// only get the event queued.
func (e *Emitter) deliver(ctx context.Context, ev domain.Event) {
	if e.fanout != nil {
		var err error
		switch {
		case ev.Recipient != "":
			err = e.fanout.SendToUser(ctx, ev.Recipient, ev)
		case ev.Type == domain.EventNotification || ev.AuctionID == "":
			err = e.fanout.Broadcast(ctx, ev)
		default:
			err = e.fanout.SendToRoom(ctx, ev.AuctionID, ev)
		}
		if err != nil {
			e.logger.WarnContext(ctx, "emitter: fan-out failed",
				slog.String("type", string(ev.Type)),
				slog.String("auction_id", ev.AuctionID),
				slog.String("error", err.Error()),
			)
		}
	}

	for _, w := range e.sinks {
		select {
		case w.queue <- ev:
		default:
			n := e.sinkDropped.Add(1)
			e.logger.WarnContext(ctx, "emitter: sink queue full, event dropped",
				slog.String("sink", w.sink.Name()),
				slog.String("type", string(ev.Type)),
				slog.Int64("dropped_total", n),
			)
		}
	}
}

// Compile-time interface check.
var _ domain.EventEmitter = (*Emitter)(nil)
