package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/campusride/internal/models"
)

// fakeWriter fails the first n PutOffer calls.
type fakeWriter struct {
	fail  int
	calls int
	last  models.RideOffer
}

func (f *fakeWriter) PutOffer(_ context.Context, o models.RideOffer) error {
	f.calls++
	if f.calls <= f.fail {
		return errors.New("put fail")
	}
	f.last = o
	return nil
}

func snapshot() models.RideOffer {
	return models.RideOffer{ID: "o1", VehicleType: models.VehicleBus, TotalSeats: 8, BookedSeats: 3, Status: models.StatusWaiting, Version: 4}
}

func TestUpdateRedisWithRetry_SucceedsAfterRetries(t *testing.T) {
	f := &fakeWriter{fail: 2}
	start := time.Now()
	if err := updateRedisWithRetry(context.Background(), f, snapshot(), 3, 10*time.Millisecond); err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}
	if f.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", f.calls)
	}
	if f.last.ID != "o1" || f.last.Version != 4 {
		t.Fatalf("unexpected snapshot written: %+v", f.last)
	}
	if time.Since(start) < 30*time.Millisecond {
		t.Fatalf("expected doubling backoff between attempts")
	}
}

func TestUpdateRedisWithRetry_FailsWhenExhausted(t *testing.T) {
	f := &fakeWriter{fail: 5}
	if err := updateRedisWithRetry(context.Background(), f, snapshot(), 3, 5*time.Millisecond); err == nil {
		t.Fatalf("expected error after retries")
	}
	if f.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", f.calls)
	}
}

func TestUpdateRedisWithRetry_StopsOnCancel(t *testing.T) {
	f := &fakeWriter{fail: 5}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := updateRedisWithRetry(ctx, f, snapshot(), 3, time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if f.calls != 1 {
		t.Fatalf("expected a single attempt, got %d", f.calls)
	}
}
