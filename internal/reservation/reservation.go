// Package reservation implements the single-writer lease over the
// physical ventilator: reserve/release/current with lazy auto-expiry,
// enforcing the at-most-one-ACTIVE-per-device invariant. The mutex-
// guarded state plus broadcast-on-transition shape follows the teacher's
// internal/hub client bookkeeping, generalized from a client set to a
// single lease row.
package reservation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ventylab/mediation-core/internal/logging"
	"github.com/ventylab/mediation-core/internal/metrics"
	"github.com/ventylab/mediation-core/internal/store"
)

// ErrNotFound is returned by Release when the caller holds no ACTIVE lease.
var ErrNotFound = errors.New("reservation: not found")

// ConflictError is returned by Reserve when another user already holds
// the ACTIVE lease; CurrentUser names the holder.
type ConflictError struct {
	CurrentUser string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("reservation: device held by %s", e.CurrentUser)
}

// Reservation is the caller-facing value; a copy of the persisted row.
type Reservation struct {
	ID              string                   `json:"id"`
	UserID          string                   `json:"userId"`
	DeviceID        string                   `json:"deviceId"`
	Status          store.ReservationStatus  `json:"status"`
	StartTime       time.Time                `json:"startTime"`
	EndTime         time.Time                `json:"endTime"`
	DurationMinutes int                      `json:"durationMinutes"`
	Purpose         string                   `json:"purpose,omitempty"`
}

// Broadcaster emits the two gateway events this component fires on
// successful state transitions; the mediation service's gateway server
// satisfies it.
type Broadcaster interface {
	Broadcast(event string, data interface{})
}

const (
	EventReserved = "ventilator:reserved"
	EventReleased = "ventilator:released"
)

// Manager owns reservation lifecycle for a single deviceID.
type Manager struct {
	deviceID string
	store    store.ReservationStore
	bus      Broadcaster
	now      func() time.Time
}

// Option configures a Manager at construction time.
type Option func(*Manager)

// WithClock overrides the time source; used by tests to control expiry.
func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

// WithBroadcaster registers the gateway used to emit reserved/released.
func WithBroadcaster(b Broadcaster) Option { return func(m *Manager) { m.bus = b } }

// New constructs a Manager for deviceID backed by st.
func New(deviceID string, st store.ReservationStore, opts ...Option) *Manager {
	m := &Manager{deviceID: deviceID, store: st, now: time.Now}
	for _, o := range opts {
		o(m)
	}
	return m
}

func rowToReservation(r store.ReservationRow) Reservation {
	return Reservation{
		ID:              r.ID,
		UserID:          r.UserID,
		DeviceID:        r.DeviceID,
		Status:          r.Status,
		StartTime:       r.StartTime,
		EndTime:         r.EndTime,
		DurationMinutes: r.DurationMinutes,
		Purpose:         r.Purpose,
	}
}

// expireOverdue sets every ACTIVE row with endTime<now to EXPIRED.
func (m *Manager) expireOverdue(ctx context.Context) error {
	before, err := m.store.FindActiveByDevice(ctx, m.deviceID)
	hadActive := err == nil
	if err := m.store.ExpireOverdue(ctx, m.deviceID, m.now()); err != nil {
		return err
	}
	if hadActive {
		if _, err := m.store.FindActiveByDevice(ctx, m.deviceID); errors.Is(err, store.ErrNotFound) {
			metrics.IncReservationExpired()
			metrics.SetReservationActive(false)
			logging.Component("reservation").Info("reservation_expired", "reservation_id", before.ID, "user_id", before.UserID)
		}
	}
	return nil
}

// Reserve implements reserve(userId, durationMinutes, purpose?): expires
// overdue rows first, then returns the existing row idempotently if it
// already belongs to userID, refuses with ConflictError if another user
// holds it, or creates a new ACTIVE row and broadcasts "reserved".
func (m *Manager) Reserve(ctx context.Context, userID string, durationMinutes int, purpose string) (Reservation, error) {
	if err := m.expireOverdue(ctx); err != nil {
		return Reservation{}, err
	}
	active, err := m.store.FindActiveByDevice(ctx, m.deviceID)
	if err == nil {
		if active.UserID == userID {
			return rowToReservation(active), nil
		}
		return Reservation{}, &ConflictError{CurrentUser: active.UserID}
	}
	if !errors.Is(err, store.ErrNotFound) {
		return Reservation{}, err
	}

	start := m.now()
	row := store.ReservationRow{
		ID:              uuid.NewString(),
		UserID:          userID,
		DeviceID:        m.deviceID,
		Status:          store.ReservationActive,
		StartTime:       start,
		EndTime:         start.Add(time.Duration(durationMinutes) * time.Minute),
		DurationMinutes: durationMinutes,
		Purpose:         purpose,
	}
	created, err := m.store.Create(ctx, row)
	if err != nil {
		return Reservation{}, err
	}
	metrics.SetReservationActive(true)
	res := rowToReservation(created)
	if m.bus != nil {
		m.bus.Broadcast(EventReserved, res)
	}
	logging.Component("reservation").Info("reservation_created", "reservation_id", res.ID, "user_id", userID, "duration_minutes", durationMinutes)
	return res, nil
}

// Release implements release(userId): finds the ACTIVE row owned by
// userID, marks it COMPLETED, and broadcasts "released". ErrNotFound if
// userID holds no ACTIVE row.
func (m *Manager) Release(ctx context.Context, userID string) (Reservation, error) {
	active, err := m.store.FindActiveByDevice(ctx, m.deviceID)
	if err != nil || active.UserID != userID {
		return Reservation{}, ErrNotFound
	}
	now := m.now()
	active.Status = store.ReservationCompleted
	active.ReleasedAt = &now
	if err := m.store.Update(ctx, active); err != nil {
		return Reservation{}, err
	}
	metrics.SetReservationActive(false)
	res := rowToReservation(active)
	if m.bus != nil {
		m.bus.Broadcast(EventReleased, res)
	}
	logging.Component("reservation").Info("reservation_released", "reservation_id", res.ID, "user_id", userID)
	return res, nil
}

// Current implements current(): expires overdue rows, then returns the
// ACTIVE row if any. ErrNotFound if the device is currently unreserved.
func (m *Manager) Current(ctx context.Context) (Reservation, error) {
	if err := m.expireOverdue(ctx); err != nil {
		return Reservation{}, err
	}
	active, err := m.store.FindActiveByDevice(ctx, m.deviceID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Reservation{}, ErrNotFound
		}
		return Reservation{}, err
	}
	return rowToReservation(active), nil
}
