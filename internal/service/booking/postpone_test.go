package booking

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"reservio/backend/internal/domain"
)

func confirmedBooking(t *testing.T, svc *Service, consumerID string, slotID uuid.UUID) domain.Booking {
	t.Helper()
	b, err := svc.Create(context.Background(), consumerID, slotID, "")
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	b, err = svc.Confirm(context.Background(), b.ID)
	if err != nil {
		t.Fatalf("Confirm error: %v", err)
	}
	return b
}

func TestPostpone_MovesConfirmedBookingToNewSlot(t *testing.T) {
	oldSlot := futureSlot("prov-1", fixedNow().Add(24*time.Hour))
	newSlot := futureSlot("prov-1", fixedNow().Add(48*time.Hour))
	repo := newMemRepo(oldSlot, newSlot)
	notifier := &recordingNotifier{}
	svc := newTestService(repo, notifier, 15*time.Minute)

	b := confirmedBooking(t, svc, "cons-1", oldSlot.ID)

	old, replacement, err := svc.Postpone(context.Background(), b.ID, newSlot.ID, "provider request")
	if err != nil {
		t.Fatalf("Postpone error: %v", err)
	}

	if old.Status != domain.BookingStatusPostponed {
		t.Fatalf("old status = %s, want postponed", old.Status)
	}
	if old.PostponeReason != "provider request" {
		t.Fatalf("postpone_reason = %q, want %q", old.PostponeReason, "provider request")
	}
	if replacement.Status != domain.BookingStatusConfirmed {
		t.Fatalf("replacement status = %s, want confirmed", replacement.Status)
	}
	if replacement.SlotID != newSlot.ID || replacement.ConsumerID != "cons-1" {
		t.Fatalf("unexpected replacement: %+v", replacement)
	}
	if replacement.ID == old.ID {
		t.Fatalf("replacement must be a distinct booking")
	}

	if !repo.slot(t, oldSlot.ID).Available {
		t.Fatalf("old slot must be released")
	}
	if repo.slot(t, newSlot.ID).Available {
		t.Fatalf("new slot must be claimed")
	}

	kinds := notifier.kinds()
	sawPostponed, sawConfirmed := false, 0
	for i, kind := range kinds {
		switch kind {
		case domain.EventBookingPostponed:
			sawPostponed = true
			if notifier.events[i].ReplacementID != replacement.ID.String() {
				t.Fatalf("postponed event replacement id = %q, want %q",
					notifier.events[i].ReplacementID, replacement.ID.String())
			}
		case domain.EventBookingConfirmed:
			sawConfirmed++
		}
	}
	if !sawPostponed || sawConfirmed < 2 {
		t.Fatalf("events = %v, want postponed plus confirmations", kinds)
	}
}

func TestPostpone_NewSlotTakenLeavesOriginalUntouched(t *testing.T) {
	oldSlot := futureSlot("prov-1", fixedNow().Add(24*time.Hour))
	takenSlot := futureSlot("prov-1", fixedNow().Add(48*time.Hour))
	takenSlot.Available = false
	repo := newMemRepo(oldSlot, takenSlot)
	svc := newTestService(repo, nil, 15*time.Minute)

	b := confirmedBooking(t, svc, "cons-1", oldSlot.ID)

	_, _, err := svc.Postpone(context.Background(), b.ID, takenSlot.ID, "")
	if !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("err = %v, want ErrSlotUnavailable", err)
	}

	got, err := repo.GetBooking(context.Background(), b.ID)
	if err != nil {
		t.Fatalf("GetBooking error: %v", err)
	}
	if got.Status != domain.BookingStatusConfirmed {
		t.Fatalf("original status = %s, want confirmed", got.Status)
	}
	if repo.slot(t, oldSlot.ID).Available {
		t.Fatalf("original slot must stay claimed after a failed postponement")
	}
}

func TestPostpone_NewSlotInPastRollsBack(t *testing.T) {
	oldSlot := futureSlot("prov-1", fixedNow().Add(24*time.Hour))
	pastSlot := futureSlot("prov-1", fixedNow().Add(-time.Hour))
	repo := newMemRepo(oldSlot, pastSlot)
	svc := newTestService(repo, nil, 15*time.Minute)

	b := confirmedBooking(t, svc, "cons-1", oldSlot.ID)

	_, _, err := svc.Postpone(context.Background(), b.ID, pastSlot.ID, "")
	if !errors.Is(err, ErrSlotInPast) {
		t.Fatalf("err = %v, want ErrSlotInPast", err)
	}
	if !repo.slot(t, pastSlot.ID).Available {
		t.Fatalf("failed postponement must release the claimed slot")
	}
	if repo.slot(t, oldSlot.ID).Available {
		t.Fatalf("original slot must stay claimed")
	}
}

func TestPostpone_PendingBookingIsInvalidTransition(t *testing.T) {
	oldSlot := futureSlot("prov-1", fixedNow().Add(24*time.Hour))
	newSlot := futureSlot("prov-1", fixedNow().Add(48*time.Hour))
	repo := newMemRepo(oldSlot, newSlot)
	svc := newTestService(repo, nil, 15*time.Minute)

	b, err := svc.Create(context.Background(), "cons-1", oldSlot.ID, "")
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}

	_, _, err = svc.Postpone(context.Background(), b.ID, newSlot.ID, "")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
}

func TestPostpone_SameSlotRejected(t *testing.T) {
	slot := futureSlot("prov-1", fixedNow().Add(24*time.Hour))
	repo := newMemRepo(slot)
	svc := newTestService(repo, nil, 15*time.Minute)

	b := confirmedBooking(t, svc, "cons-1", slot.ID)

	_, _, err := svc.Postpone(context.Background(), b.ID, slot.ID, "")
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("error type = %T, want *ValidationError", err)
	}
}
