package reservation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ventylab/mediation-core/internal/store"
)

type fakeBus struct {
	events []string
	data   []interface{}
}

func (f *fakeBus) Broadcast(event string, data interface{}) {
	f.events = append(f.events, event)
	f.data = append(f.data, data)
}

// settableClock lets a test advance wall-clock time deterministically
// between operations without caring how many times Now is called.
type settableClock struct{ t time.Time }

func (c *settableClock) Now() time.Time { return c.t }
func (c *settableClock) Set(t time.Time) { c.t = t }

// TestReservationContention mirrors the spec's literal scenario 2.
func TestReservationContention(t *testing.T) {
	t0 := time.Unix(0, 0).UTC()
	bus := &fakeBus{}
	st := store.NewMemoryReservationStore()
	clock := &settableClock{t: t0}
	m := New("ventilab-device-001", st, WithClock(clock.Now), WithBroadcaster(bus))
	ctx := context.Background()

	r1, err := m.Reserve(ctx, "userA", 60, "")
	if err != nil {
		t.Fatalf("userA reserve: %v", err)
	}
	if r1.EndTime.Sub(t0) != time.Hour {
		t.Fatalf("endTime offset = %v, want 1h", r1.EndTime.Sub(t0))
	}

	clock.Set(t0.Add(1 * time.Second))
	_, err = m.Reserve(ctx, "userB", 30, "")
	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if conflict.CurrentUser != "userA" {
		t.Fatalf("currentUser = %q, want userA", conflict.CurrentUser)
	}

	clock.Set(t0.Add(2 * time.Second))
	r1Again, err := m.Reserve(ctx, "userA", 60, "")
	if err != nil {
		t.Fatalf("userA idempotent reserve: %v", err)
	}
	if r1Again.ID != r1.ID {
		t.Fatalf("expected idempotent recovery returning R1, got different id")
	}

	clock.Set(t0.Add(3600001 * time.Millisecond))
	r2, err := m.Reserve(ctx, "userB", 30, "")
	if err != nil {
		t.Fatalf("userB reserve after expiry: %v", err)
	}
	if r2.ID == r1.ID {
		t.Fatalf("expected a new reservation id after expiry")
	}
	if len(bus.events) < 2 || bus.events[0] != EventReserved {
		t.Fatalf("expected reserved broadcasts, got %v", bus.events)
	}
}

func TestRelease_NotFound(t *testing.T) {
	st := store.NewMemoryReservationStore()
	m := New("dev", st)
	if _, err := m.Release(context.Background(), "nobody"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRelease_Success(t *testing.T) {
	st := store.NewMemoryReservationStore()
	bus := &fakeBus{}
	m := New("dev", st, WithBroadcaster(bus))
	ctx := context.Background()
	if _, err := m.Reserve(ctx, "u1", 10, "teaching"); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	res, err := m.Release(ctx, "u1")
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if res.Status != store.ReservationCompleted {
		t.Fatalf("status = %v, want COMPLETED", res.Status)
	}
	current, err := m.Current(ctx)
	if err == nil {
		t.Fatalf("expected no current reservation after release, got %+v", current)
	}
}

func TestCurrent_ExpiresOverdue(t *testing.T) {
	t0 := time.Unix(0, 0).UTC()
	clock := &settableClock{t: t0}
	st := store.NewMemoryReservationStore()
	m := New("dev", st, WithClock(clock.Now))
	ctx := context.Background()
	if _, err := m.Reserve(ctx, "u1", 1, ""); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	clock.Set(t0.Add(2 * time.Minute))
	if _, err := m.Current(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after overdue expiry, got %v", err)
	}
}
