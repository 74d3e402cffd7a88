package booking

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"reservio/backend/internal/domain"
	"reservio/backend/internal/notify"
	"reservio/backend/internal/store"
)

// Service is the booking ledger. Every slot-availability change in the
// system funnels through the claim/release primitives it drives inside
// repository transactions, so the at-most-one-active-booking-per-slot
// invariant holds under concurrent callers.
type Service struct {
	repo     store.ScheduleRepository
	notifier notify.Notifier
	holdTTL  time.Duration
	now      func() time.Time
}

func NewService(repo store.ScheduleRepository, notifier notify.Notifier, holdTTL time.Duration) *Service {
	if notifier == nil {
		notifier = notify.NopNotifier{}
	}
	if holdTTL <= 0 {
		holdTTL = 15 * time.Minute
	}
	return &Service{
		repo:     repo,
		notifier: notifier,
		holdTTL:  holdTTL,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Create claims the slot and opens a pending booking with a time-boxed
// hold for the payment window. Exactly one of any set of concurrent
// calls on the same slot succeeds; the rest get ErrSlotUnavailable.
func (s *Service) Create(ctx context.Context, consumerID string, slotID uuid.UUID, notes string) (domain.Booking, error) {
	if consumerID == "" {
		return domain.Booking{}, validationError("consumer_id is required")
	}
	if slotID == uuid.Nil {
		return domain.Booking{}, validationError("slot_id is required")
	}

	now := s.now()
	holdUntil := now.Add(s.holdTTL)

	var created domain.Booking
	err := s.repo.InTransaction(ctx, func(ctx context.Context, tx store.ScheduleTx) error {
		slot, err := claimSlot(ctx, tx, slotID)
		if err != nil {
			return err
		}
		if !slot.StartTime.After(now) {
			// Rolling back undoes the claim.
			return ErrSlotInPast
		}

		b, err := tx.InsertBooking(ctx, domain.Booking{
			SlotID:        slotID,
			ConsumerID:    consumerID,
			ProviderID:    slot.ProviderID,
			Status:        domain.BookingStatusPending,
			Notes:         strings.TrimSpace(notes),
			HoldExpiresAt: &holdUntil,
		})
		if err != nil {
			if errors.Is(err, store.ErrConflict) {
				return ErrSlotUnavailable
			}
			return err
		}
		created = b
		return nil
	})
	if err != nil {
		return domain.Booking{}, err
	}

	s.emit(domain.EventBookingCreated, created, "")
	return created, nil
}

// Confirm is the payment collaborator's success callback. If the hold
// elapsed before the payment landed, the booking is cancelled, the
// slot released, and the caller gets ErrHoldExpired so the reservation
// can be restarted.
func (s *Service) Confirm(ctx context.Context, bookingID uuid.UUID) (domain.Booking, error) {
	if bookingID == uuid.Nil {
		return domain.Booking{}, validationError("booking_id is required")
	}

	now := s.now()
	var out domain.Booking
	expired := false

	err := s.repo.InTransaction(ctx, func(ctx context.Context, tx store.ScheduleTx) error {
		b, err := tx.GetBookingForUpdate(ctx, bookingID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrBookingNotFound
			}
			return err
		}

		if b.Status == domain.BookingStatusCancelled && b.CancelReason == domain.CancelReasonHoldExpired {
			// The sweeper got here first. The caller still needs the
			// expired-hold signal so the reservation can be restarted.
			return ErrHoldExpired
		}

		if b.HoldElapsed(now) {
			// Cooperative expiry: commit the cancellation, then report
			// the expired hold to the caller.
			released, err := expireHold(ctx, tx, b, now)
			if err != nil {
				return err
			}
			out = released
			expired = true
			return nil
		}

		if !b.Status.CanTransitionTo(domain.BookingStatusConfirmed) {
			return ErrInvalidTransition
		}

		b.Status = domain.BookingStatusConfirmed
		b.HoldExpiresAt = nil
		b.StatusChangedAt = now
		b, err = tx.UpdateBooking(ctx, b)
		if err != nil {
			return err
		}
		out = b
		return nil
	})
	if err != nil {
		return domain.Booking{}, err
	}

	if expired {
		s.emit(domain.EventBookingCancelled, out, "")
		return out, ErrHoldExpired
	}

	s.emit(domain.EventBookingConfirmed, out, "")
	return out, nil
}

// Cancel releases the slot and closes the booking. Valid from pending
// and confirmed only. Cancelling a confirmed booking additionally
// raises a refund event for the payment collaborator; the engine does
// not move money itself.
func (s *Service) Cancel(ctx context.Context, bookingID uuid.UUID, reason string) (domain.Booking, error) {
	if bookingID == uuid.Nil {
		return domain.Booking{}, validationError("booking_id is required")
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = domain.CancelReasonConsumer
	}

	now := s.now()
	var out domain.Booking
	wasConfirmed := false

	err := s.repo.InTransaction(ctx, func(ctx context.Context, tx store.ScheduleTx) error {
		b, err := tx.GetBookingForUpdate(ctx, bookingID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrBookingNotFound
			}
			return err
		}
		if !b.Status.CanTransitionTo(domain.BookingStatusCancelled) {
			return ErrInvalidTransition
		}
		wasConfirmed = b.Status == domain.BookingStatusConfirmed

		if err := tx.ReleaseSlot(ctx, b.SlotID); err != nil {
			return err
		}

		b.Status = domain.BookingStatusCancelled
		b.CancelReason = reason
		b.HoldExpiresAt = nil
		b.StatusChangedAt = now
		b, err = tx.UpdateBooking(ctx, b)
		if err != nil {
			return err
		}
		out = b
		return nil
	})
	if err != nil {
		return domain.Booking{}, err
	}

	s.emit(domain.EventBookingCancelled, out, "")
	if wasConfirmed && reason != domain.CancelReasonPaymentFailed {
		s.emit(domain.EventRefundRequested, out, "")
	}
	return out, nil
}

func (s *Service) Get(ctx context.Context, bookingID uuid.UUID) (domain.Booking, error) {
	if bookingID == uuid.Nil {
		return domain.Booking{}, validationError("booking_id is required")
	}
	b, err := s.repo.GetBooking(ctx, bookingID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Booking{}, ErrBookingNotFound
		}
		return domain.Booking{}, err
	}
	return b, nil
}

func (s *Service) List(ctx context.Context, consumerID string) ([]domain.Booking, error) {
	if consumerID == "" {
		return nil, validationError("consumer_id is required")
	}
	return s.repo.ListBookings(ctx, consumerID)
}

// claimSlot maps the store's claim outcomes onto the ledger's error
// vocabulary: a lost race is ErrSlotUnavailable, never a fault.
func claimSlot(ctx context.Context, tx store.ScheduleTx, slotID uuid.UUID) (domain.Slot, error) {
	slot, err := tx.ClaimSlot(ctx, slotID)
	if err != nil {
		if errors.Is(err, store.ErrAlreadyClaimed) {
			return domain.Slot{}, ErrSlotUnavailable
		}
		return domain.Slot{}, err
	}
	return slot, nil
}

func expireHold(ctx context.Context, tx store.ScheduleTx, b domain.Booking, now time.Time) (domain.Booking, error) {
	if err := tx.ReleaseSlot(ctx, b.SlotID); err != nil {
		return domain.Booking{}, err
	}
	b.Status = domain.BookingStatusCancelled
	b.CancelReason = domain.CancelReasonHoldExpired
	b.HoldExpiresAt = nil
	b.StatusChangedAt = now
	return tx.UpdateBooking(ctx, b)
}

func (s *Service) emit(kind domain.EventKind, b domain.Booking, replacementID string) {
	s.notifier.Emit(domain.BookingEvent{
		Kind:          kind,
		Booking:       b,
		ReplacementID: replacementID,
		OccurredAt:    s.now(),
	})
}
