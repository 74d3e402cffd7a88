package booking

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"reservio/backend/internal/domain"
	"reservio/backend/internal/store"
)

// Postpone moves a confirmed booking to a new slot: claim the new slot
// first, then release the old one, close the old booking as postponed,
// and open a replacement booking already confirmed (the payment was
// made; none is owed again). The whole sequence runs in one
// transaction, so a failed claim leaves the original booking and slot
// untouched and the system is never left holding both slots or
// neither.
//
// Pending bookings cannot be postponed; cancel and recreate instead.
func (s *Service) Postpone(ctx context.Context, bookingID, newSlotID uuid.UUID, reason string) (domain.Booking, domain.Booking, error) {
	if bookingID == uuid.Nil {
		return domain.Booking{}, domain.Booking{}, validationError("booking_id is required")
	}
	if newSlotID == uuid.Nil {
		return domain.Booking{}, domain.Booking{}, validationError("new_slot_id is required")
	}

	now := s.now()
	var old, replacement domain.Booking

	err := s.repo.InTransaction(ctx, func(ctx context.Context, tx store.ScheduleTx) error {
		b, err := tx.GetBookingForUpdate(ctx, bookingID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrBookingNotFound
			}
			return err
		}
		if !b.Status.CanTransitionTo(domain.BookingStatusPostponed) {
			return ErrInvalidTransition
		}
		if b.SlotID == newSlotID {
			return validationError("new slot must differ from the current slot")
		}

		newSlot, err := claimSlot(ctx, tx, newSlotID)
		if err != nil {
			return err
		}
		if !newSlot.StartTime.After(now) {
			return ErrSlotInPast
		}

		if err := tx.ReleaseSlot(ctx, b.SlotID); err != nil {
			return err
		}

		b.Status = domain.BookingStatusPostponed
		b.PostponeReason = strings.TrimSpace(reason)
		b.StatusChangedAt = now
		b, err = tx.UpdateBooking(ctx, b)
		if err != nil {
			return err
		}

		r, err := tx.InsertBooking(ctx, domain.Booking{
			SlotID:     newSlotID,
			ConsumerID: b.ConsumerID,
			ProviderID: newSlot.ProviderID,
			Status:     domain.BookingStatusConfirmed,
			Notes:      b.Notes,
		})
		if err != nil {
			if errors.Is(err, store.ErrConflict) {
				return ErrSlotUnavailable
			}
			return err
		}

		old = b
		replacement = r
		return nil
	})
	if err != nil {
		return domain.Booking{}, domain.Booking{}, err
	}

	s.emit(domain.EventBookingPostponed, old, replacement.ID.String())
	s.emit(domain.EventBookingConfirmed, replacement, "")
	return old, replacement, nil
}
