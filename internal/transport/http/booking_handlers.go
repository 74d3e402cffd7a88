package http

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"reservio/backend/internal/domain"
	"reservio/backend/internal/service/booking"
)

type createBookingRequest struct {
	ConsumerID string `json:"consumer_id" validate:"required"`
	SlotID     string `json:"slot_id" validate:"required,uuid"`
	Notes      string `json:"notes"`
}

type cancelBookingRequest struct {
	Reason string `json:"reason"`
}

type postponeBookingRequest struct {
	NewSlotID string `json:"new_slot_id" validate:"required,uuid"`
	Reason    string `json:"reason"`
}

type paymentCallbackRequest struct {
	BookingID string `json:"booking_id" validate:"required,uuid"`
	Status    string `json:"status" validate:"required,oneof=succeeded failed"`
}

type bookingResponse struct {
	ID              string `json:"id"`
	SlotID          string `json:"slot_id"`
	ConsumerID      string `json:"consumer_id"`
	ProviderID      string `json:"provider_id"`
	Status          string `json:"status"`
	Notes           string `json:"notes,omitempty"`
	CancelReason    string `json:"cancel_reason,omitempty"`
	PostponeReason  string `json:"postpone_reason,omitempty"`
	HoldExpiresAt   string `json:"hold_expires_at,omitempty"`
	CreatedAt       string `json:"created_at"`
	StatusChangedAt string `json:"status_changed_at"`
}

func (a *API) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	log := a.log.With(slog.String("handler", "CreateBooking"))

	var req createBookingRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := a.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "consumer_id and a UUID slot_id are required")
		return
	}
	slotID, _ := uuid.Parse(req.SlotID)

	b, err := a.booking.Create(r.Context(), req.ConsumerID, slotID, req.Notes)
	if err != nil {
		if errors.Is(err, booking.ErrSlotUnavailable) {
			log.Info("booking lost slot race",
				slog.String("slot_id", req.SlotID),
				slog.String("consumer_id", req.ConsumerID),
			)
		}
		writeServiceError(w, log, err)
		return
	}

	log.Info("booking created",
		slog.String("booking_id", b.ID.String()),
		slog.String("slot_id", req.SlotID),
		slog.String("consumer_id", req.ConsumerID),
	)
	writeJSON(w, http.StatusCreated, toBookingResponse(b))
}

func (a *API) handleGetBooking(w http.ResponseWriter, r *http.Request) {
	log := a.log.With(slog.String("handler", "GetBooking"))
	bookingID, ok := pathUUID(r, "bookingID")
	if !ok {
		writeError(w, http.StatusBadRequest, "booking_id must be a UUID")
		return
	}

	b, err := a.booking.Get(r.Context(), bookingID)
	if err != nil {
		writeServiceError(w, log, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingResponse(b))
}

func (a *API) handleListBookings(w http.ResponseWriter, r *http.Request) {
	log := a.log.With(slog.String("handler", "ListBookings"))

	consumerID := r.URL.Query().Get("consumer_id")
	bookings, err := a.booking.List(r.Context(), consumerID)
	if err != nil {
		writeServiceError(w, log, err)
		return
	}

	out := make([]bookingResponse, 0, len(bookings))
	for _, b := range bookings {
		out = append(out, toBookingResponse(b))
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookings": out})
}

func (a *API) handleConfirmBooking(w http.ResponseWriter, r *http.Request) {
	log := a.log.With(slog.String("handler", "ConfirmBooking"))
	bookingID, ok := pathUUID(r, "bookingID")
	if !ok {
		writeError(w, http.StatusBadRequest, "booking_id must be a UUID")
		return
	}

	b, err := a.booking.Confirm(r.Context(), bookingID)
	if err != nil {
		if errors.Is(err, booking.ErrHoldExpired) {
			log.Info("confirm after hold expiry", slog.String("booking_id", bookingID.String()))
		}
		writeServiceError(w, log, err)
		return
	}

	log.Info("booking confirmed", slog.String("booking_id", b.ID.String()))
	writeJSON(w, http.StatusOK, toBookingResponse(b))
}

func (a *API) handleCancelBooking(w http.ResponseWriter, r *http.Request) {
	log := a.log.With(slog.String("handler", "CancelBooking"))
	bookingID, ok := pathUUID(r, "bookingID")
	if !ok {
		writeError(w, http.StatusBadRequest, "booking_id must be a UUID")
		return
	}

	var req cancelBookingRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	b, err := a.booking.Cancel(r.Context(), bookingID, req.Reason)
	if err != nil {
		writeServiceError(w, log, err)
		return
	}

	log.Info("booking cancelled",
		slog.String("booking_id", b.ID.String()),
		slog.String("reason", b.CancelReason),
	)
	writeJSON(w, http.StatusOK, toBookingResponse(b))
}

func (a *API) handlePostponeBooking(w http.ResponseWriter, r *http.Request) {
	log := a.log.With(slog.String("handler", "PostponeBooking"))
	bookingID, ok := pathUUID(r, "bookingID")
	if !ok {
		writeError(w, http.StatusBadRequest, "booking_id must be a UUID")
		return
	}

	var req postponeBookingRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := a.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "new_slot_id must be a UUID")
		return
	}
	newSlotID, _ := uuid.Parse(req.NewSlotID)

	old, replacement, err := a.booking.Postpone(r.Context(), bookingID, newSlotID, req.Reason)
	if err != nil {
		if errors.Is(err, booking.ErrSlotUnavailable) {
			log.Info("postpone lost slot race",
				slog.String("booking_id", bookingID.String()),
				slog.String("new_slot_id", req.NewSlotID),
			)
		}
		writeServiceError(w, log, err)
		return
	}

	log.Info("booking postponed",
		slog.String("booking_id", old.ID.String()),
		slog.String("replacement_id", replacement.ID.String()),
	)
	writeJSON(w, http.StatusOK, map[string]any{
		"postponed":   toBookingResponse(old),
		"replacement": toBookingResponse(replacement),
	})
}

// handlePaymentCallback is the payment collaborator's entry point: a
// success confirms the pending booking, a failure cancels it with the
// payment_failed reason.
func (a *API) handlePaymentCallback(w http.ResponseWriter, r *http.Request) {
	log := a.log.With(slog.String("handler", "PaymentCallback"))

	var req paymentCallbackRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := a.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "booking_id (UUID) and status (succeeded|failed) are required")
		return
	}
	bookingID, _ := uuid.Parse(req.BookingID)

	var (
		b   domain.Booking
		err error
	)
	if req.Status == "succeeded" {
		b, err = a.booking.Confirm(r.Context(), bookingID)
	} else {
		b, err = a.booking.Cancel(r.Context(), bookingID, domain.CancelReasonPaymentFailed)
	}
	if err != nil {
		writeServiceError(w, log, err)
		return
	}

	log.Info("payment callback processed",
		slog.String("booking_id", req.BookingID),
		slog.String("payment_status", req.Status),
		slog.String("booking_status", string(b.Status)),
	)
	writeJSON(w, http.StatusOK, toBookingResponse(b))
}

func toBookingResponse(b domain.Booking) bookingResponse {
	out := bookingResponse{
		ID:              b.ID.String(),
		SlotID:          b.SlotID.String(),
		ConsumerID:      b.ConsumerID,
		ProviderID:      b.ProviderID,
		Status:          string(b.Status),
		Notes:           b.Notes,
		CancelReason:    b.CancelReason,
		PostponeReason:  b.PostponeReason,
		CreatedAt:       b.CreatedAt.UTC().Format(time.RFC3339),
		StatusChangedAt: b.StatusChangedAt.UTC().Format(time.RFC3339),
	}
	if b.HoldExpiresAt != nil {
		out.HoldExpiresAt = b.HoldExpiresAt.UTC().Format(time.RFC3339)
	}
	return out
}
