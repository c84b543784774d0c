package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/example/campusride/internal/models"
	"github.com/example/campusride/internal/observability"
	"github.com/example/campusride/internal/storage"
)

// Sink is one collaborator that mirrors offer changes (store, broker, live clients).
type Sink interface {
	Name() string
	Handle(ctx context.Context, ev models.OfferEvent) error
}

const defaultQueueSize = 256

type worker struct {
	sink  Sink
	queue chan models.OfferEvent
}

// Fanout hands each change to every sink through a bounded per-sink queue
// drained by that sink's own goroutine, so a slow sink never delays the
// booking that produced the event. Events are delivered to a sink in order.
// When a queue is full the event is dropped for that sink and counted;
// stores recover on the next, newer snapshot.
type Fanout struct {
	workers []*worker
	logger  *slog.Logger
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewFanout(logger *slog.Logger, timeout time.Duration, sinks ...Sink) *Fanout {
	return NewFanoutWithQueue(logger, timeout, defaultQueueSize, sinks...)
}

func NewFanoutWithQueue(logger *slog.Logger, timeout time.Duration, queueSize int, sinks ...Sink) *Fanout {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	f := &Fanout{logger: logger, timeout: timeout}
	for _, s := range sinks {
		w := &worker{sink: s, queue: make(chan models.OfferEvent, queueSize)}
		f.workers = append(f.workers, w)
		f.wg.Add(1)
		go f.run(w)
	}
	return f
}

// Notify enqueues without blocking. Events after Close are ignored.
func (f *Fanout) Notify(ev models.OfferEvent) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return
	}
	for _, w := range f.workers {
		select {
		case w.queue <- ev:
		default:
			observability.SyncDropped.WithLabelValues(w.sink.Name()).Inc()
			f.logger.Warn("offer sync queue full; event dropped", "sink", w.sink.Name(), "event", ev.Type, "offer_id", ev.Offer.ID, "version", ev.Offer.Version)
		}
	}
}

func (f *Fanout) run(w *worker) {
	defer f.wg.Done()
	for ev := range w.queue {
		ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
		err := w.sink.Handle(ctx, ev)
		cancel()
		if err != nil {
			observability.SyncErrors.WithLabelValues(w.sink.Name()).Inc()
			f.logger.Warn("offer sync failed", "sink", w.sink.Name(), "event", ev.Type, "offer_id", ev.Offer.ID, "error", err)
		}
	}
}

// Close stops accepting events and waits until every queued one was handled.
func (f *Fanout) Close() error {
	f.mu.Lock()
	if !f.closed {
		f.closed = true
		for _, w := range f.workers {
			close(w.queue)
		}
	}
	f.mu.Unlock()
	f.wg.Wait()
	return nil
}

// StoreSink persists snapshots: inserts on creation, forward-only updates afterwards.
type StoreSink struct {
	Store storage.OfferStore
	Label string
}

func (s StoreSink) Name() string {
	if s.Label != "" {
		return s.Label
	}
	return "store"
}

func (s StoreSink) Handle(ctx context.Context, ev models.OfferEvent) error {
	if ev.Type == models.EventOfferCreated {
		return s.Store.SaveOffer(ctx, ev.Offer)
	}
	return s.Store.UpdateOffer(ctx, ev.Offer)
}
