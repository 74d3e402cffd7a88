package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "pending"
	BookingStatusConfirmed BookingStatus = "confirmed"
	BookingStatusCancelled BookingStatus = "cancelled"
	BookingStatusPostponed BookingStatus = "postponed"
)

// Cancel reasons recorded on the booking when it leaves the active set.
const (
	CancelReasonConsumer      = "consumer_cancelled"
	CancelReasonProvider      = "provider_cancelled"
	CancelReasonHoldExpired   = "hold_expired"
	CancelReasonPaymentFailed = "payment_failed"
)

// Active reports whether the booking holds its slot. Only pending and
// confirmed bookings occupy a slot; cancelled and postponed do not.
func (s BookingStatus) Active() bool {
	return s == BookingStatusPending || s == BookingStatusConfirmed
}

// CanTransitionTo encodes the booking state machine:
// pending→confirmed, pending→cancelled, confirmed→cancelled,
// confirmed→postponed. No state ever returns to pending, and
// cancelled and postponed are terminal.
func (s BookingStatus) CanTransitionTo(next BookingStatus) bool {
	switch s {
	case BookingStatusPending:
		return next == BookingStatusConfirmed || next == BookingStatusCancelled
	case BookingStatusConfirmed:
		return next == BookingStatusCancelled || next == BookingStatusPostponed
	default:
		return false
	}
}

// Booking records a consumer's claim on a slot. ProviderID is
// denormalized from the slot for query convenience. HoldExpiresAt is
// set while the booking is pending and bounds the payment window;
// it is cleared on confirmation.
type Booking struct {
	bun.BaseModel `bun:"table:bookings"`

	ID              uuid.UUID     `bun:"id,pk,type:uuid"`
	SlotID          uuid.UUID     `bun:"slot_id,notnull,type:uuid"`
	ConsumerID      string        `bun:"consumer_id,notnull"`
	ProviderID      string        `bun:"provider_id,notnull"`
	Status          BookingStatus `bun:"status,notnull"`
	Notes           string        `bun:"notes"`
	CancelReason    string        `bun:"cancel_reason"`
	PostponeReason  string        `bun:"postpone_reason"`
	HoldExpiresAt   *time.Time    `bun:"hold_expires_at"`
	CreatedAt       time.Time     `bun:"created_at,notnull"`
	StatusChangedAt time.Time     `bun:"status_changed_at,notnull"`
}

func (b *Booking) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if b.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			b.ID = id
		}
		if b.CreatedAt.IsZero() {
			b.CreatedAt = now
		}
		if b.StatusChangedAt.IsZero() {
			b.StatusChangedAt = now
		}
	}
	return nil
}

// HoldElapsed reports whether a pending booking's payment window has
// passed at the given instant.
func (b Booking) HoldElapsed(now time.Time) bool {
	return b.Status == BookingStatusPending &&
		b.HoldExpiresAt != nil &&
		!now.Before(*b.HoldExpiresAt)
}
