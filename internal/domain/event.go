package domain

import "time"

type EventKind string

const (
	EventBookingCreated   EventKind = "booking.created"
	EventBookingConfirmed EventKind = "booking.confirmed"
	EventBookingCancelled EventKind = "booking.cancelled"
	EventBookingPostponed EventKind = "booking.postponed"
	EventRefundRequested  EventKind = "booking.refund_requested"
)

// BookingEvent is handed to the notification collaborator after a
// state change commits. Delivery is out-of-band and fire-and-forget;
// nothing in the engine waits on it. ReplacementID is set on
// postponement events and names the booking created for the new slot.
type BookingEvent struct {
	Kind          EventKind
	Booking       Booking
	ReplacementID string
	OccurredAt    time.Time
}
