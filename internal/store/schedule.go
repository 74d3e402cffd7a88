package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"reservio/backend/internal/domain"
)

// ScheduleRepository is the persistence surface for the scheduling and
// booking services. Multi-step writes (slot claims, postponement) run
// through InTransaction so they commit or roll back as a unit.
type ScheduleRepository interface {
	CreateRule(ctx context.Context, rule domain.RecurringRule) (domain.RecurringRule, error)
	GetRule(ctx context.Context, ruleID uuid.UUID) (domain.RecurringRule, error)
	UpdateRule(ctx context.Context, rule domain.RecurringRule) (domain.RecurringRule, error)
	// ReplaceRule updates the rule's recurrence parameters and retracts
	// the slots the old shape produced from the given instant onward,
	// in one transaction under the provider's schedule lock.
	ReplaceRule(ctx context.Context, rule domain.RecurringRule, retractFrom time.Time) (domain.RecurringRule, error)
	DeleteRule(ctx context.Context, providerID string, ruleID uuid.UUID) error
	ListRulesIntersecting(ctx context.Context, providerID string, windowStart, windowEnd time.Time) ([]domain.RecurringRule, error)

	// UpsertSlots inserts slots that do not already exist, keyed by the
	// (provider_id, start_time) uniqueness invariant, and reports how
	// many rows were actually inserted. Existing slots, including their
	// availability flags, are never touched.
	UpsertSlots(ctx context.Context, providerID string, slots []domain.Slot) (int, error)
	CreateSlot(ctx context.Context, slot domain.Slot) (domain.Slot, error)
	GetSlot(ctx context.Context, slotID uuid.UUID) (domain.Slot, error)
	DeleteSlot(ctx context.Context, providerID string, slotID uuid.UUID) error
	ListAvailableSlots(ctx context.Context, providerID string, windowStart, windowEnd time.Time) ([]domain.Slot, error)

	// RemoveAvailableRuleSlotOn deletes the rule's still-available slot
	// on the given calendar date, if any. Booked slots are left alone.
	RemoveAvailableRuleSlotOn(ctx context.Context, ruleID uuid.UUID, date time.Time) error
	// HasConfirmedRuleBookingOn reports whether a confirmed booking sits
	// on one of the rule's slots on the given calendar date. One-off
	// slots and other rules' slots do not count.
	HasConfirmedRuleBookingOn(ctx context.Context, ruleID uuid.UUID, date time.Time) (bool, error)

	GetBooking(ctx context.Context, bookingID uuid.UUID) (domain.Booking, error)
	ListBookings(ctx context.Context, consumerID string) ([]domain.Booking, error)

	InTransaction(ctx context.Context, fn func(ctx context.Context, tx ScheduleTx) error) error
}

// ScheduleTx exposes the primitives the reservation and postponement
// coordinators compose inside one transaction. ClaimSlot and
// ReleaseSlot are the only operations that flip a slot's availability
// flag, and both are conditional writes: a lost race surfaces as
// ErrAlreadyClaimed rather than a partial update.
type ScheduleTx interface {
	GetSlot(ctx context.Context, slotID uuid.UUID) (domain.Slot, error)
	ClaimSlot(ctx context.Context, slotID uuid.UUID) (domain.Slot, error)
	ReleaseSlot(ctx context.Context, slotID uuid.UUID) error

	InsertBooking(ctx context.Context, b domain.Booking) (domain.Booking, error)
	// GetBookingForUpdate locks the booking row for the remainder of
	// the transaction so concurrent transitions serialize.
	GetBookingForUpdate(ctx context.Context, bookingID uuid.UUID) (domain.Booking, error)
	UpdateBooking(ctx context.Context, b domain.Booking) (domain.Booking, error)
	ListExpiredHolds(ctx context.Context, now time.Time, limit int) ([]domain.Booking, error)
}
