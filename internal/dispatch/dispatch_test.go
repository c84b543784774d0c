package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/example/campusride/internal/booking"
	"github.com/example/campusride/internal/models"
	"github.com/example/campusride/internal/storage"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeConn struct {
	sent   []models.OfferEvent
	fail   bool
	closed bool
}

func (f *fakeConn) WriteJSON(v interface{}) error {
	if f.fail {
		return errors.New("broken pipe")
	}
	f.sent = append(f.sent, v.(models.OfferEvent))
	return nil
}

func (f *fakeConn) SetWriteDeadline(time.Time) error { return nil }
func (f *fakeConn) Close() error { f.closed = true; return nil }

type failingSink struct{ calls int }

func (f *failingSink) Name() string { return "broken" }
func (f *failingSink) Handle(context.Context, models.OfferEvent) error {
	f.calls++
	return errors.New("down")
}

func event(t models.OfferEventType, vt models.VehicleType, version int64) models.OfferEvent {
	return models.OfferEvent{ID: "e", Type: t, Offer: models.RideOffer{ID: "o1", VehicleType: vt, TotalSeats: 4, Version: version}}
}

func TestHubFiltersAndDropsBrokenSessions(t *testing.T) {
	h := NewHub(quiet)
	all := &fakeConn{}
	buses := &fakeConn{}
	broken := &fakeConn{fail: true}
	h.Add(all, models.VehicleAny)
	h.Add(buses, models.VehicleBus)
	h.Add(broken, "")

	_ = h.Handle(context.Background(), event(models.EventOfferCreated, models.VehicleCar, 1))

	if len(all.sent) != 1 || len(buses.sent) != 0 {
		t.Fatalf("expected car event only for wildcard session, got all=%d buses=%d", len(all.sent), len(buses.sent))
	}
	if !broken.closed || h.Len() != 2 {
		t.Fatalf("broken session should be dropped, len=%d", h.Len())
	}
}

func TestFanoutContinuesPastFailingSink(t *testing.T) {
	store := storage.NewMemoryStore()
	bad := &failingSink{}
	f := NewFanout(quiet, time.Second, bad, StoreSink{Store: store})

	f.Notify(event(models.EventOfferCreated, models.VehicleCar, 1))
	booked := event(models.EventSeatsBooked, models.VehicleCar, 2)
	booked.Offer.BookedSeats = 3
	f.Notify(booked)
	_ = f.Close()

	if bad.calls != 2 {
		t.Fatalf("expected failing sink to be called twice, got %d", bad.calls)
	}
	got, ok := store.Get("o1")
	if !ok || got.BookedSeats != 3 || got.Version != 2 {
		t.Fatalf("store not updated: %+v", got)
	}
}

func TestStoreSinkKeepsBookingDeliveredBeforeCreation(t *testing.T) {
	store := storage.NewMemoryStore()
	sink := StoreSink{Store: store}
	booked := event(models.EventSeatsBooked, models.VehicleCar, 2)
	booked.Offer.BookedSeats = 4

	if err := sink.Handle(context.Background(), booked); err != nil {
		t.Fatalf("booked: %v", err)
	}
	if err := sink.Handle(context.Background(), event(models.EventOfferCreated, models.VehicleCar, 1)); err != nil {
		t.Fatalf("created: %v", err)
	}
	got, _ := store.Get("o1")
	if got.Version != 2 || got.BookedSeats != 4 {
		t.Fatalf("expected v2 with 4 booked, got %+v", got)
	}
}

// blockingConn never completes a write until released.
type blockingConn struct{ release chan struct{} }

func (b *blockingConn) WriteJSON(interface{}) error { <-b.release; return nil }
func (b *blockingConn) SetWriteDeadline(time.Time) error { return nil }
func (b *blockingConn) Close() error { return nil }

func TestStalledSubscribersDoNotDelayBooking(t *testing.T) {
	hub := NewHub(quiet)
	release := make(chan struct{})
	for i := 0; i < 3; i++ {
		hub.Add(&blockingConn{release: release}, models.VehicleAny)
	}
	fan := NewFanout(quiet, time.Second, hub)
	model := booking.NewModel(fan)

	start := time.Now()
	offer, err := model.CreateOffer(models.OfferSpec{VehicleType: models.VehicleBus, Origin: "Library", Destination: "Main Gate", Price: 100})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := model.BookSeat(offer.ID, 1); err != nil {
			t.Fatalf("book: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("booking waited on websocket writes: %s", elapsed)
	}

	close(release)
	_ = fan.Close()
}

func TestFanoutIgnoresEventsAfterClose(t *testing.T) {
	store := storage.NewMemoryStore()
	f := NewFanout(quiet, time.Second, StoreSink{Store: store})
	_ = f.Close()
	f.Notify(event(models.EventOfferCreated, models.VehicleCar, 1))
	if _, ok := store.Get("o1"); ok {
		t.Fatalf("event after close should be ignored")
	}
}

func TestFanoutDropsWhenQueueIsFull(t *testing.T) {
	release := make(chan struct{})
	gate := &gatedSink{release: release}
	f := NewFanoutWithQueue(quiet, time.Second, 1, gate)

	for v := int64(1); v <= 10; v++ {
		f.Notify(event(models.EventSeatsBooked, models.VehicleCar, v))
	}
	close(release)
	_ = f.Close()

	if n := gate.count(); n < 1 || n > 2 {
		t.Fatalf("expected at most worker + queue capacity events, got %d", n)
	}
}

type gatedSink struct {
	release chan struct{}
	mu      sync.Mutex
	n       int
}

func (g *gatedSink) Name() string { return "gated" }

func (g *gatedSink) Handle(context.Context, models.OfferEvent) error {
	<-g.release
	g.mu.Lock()
	g.n++
	g.mu.Unlock()
	return nil
}

func (g *gatedSink) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.n
}
