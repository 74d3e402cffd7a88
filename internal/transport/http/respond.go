package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"reservio/backend/internal/service/booking"
	"reservio/backend/internal/service/scheduling"
	"reservio/backend/internal/store"
)

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeServiceError maps the engine's recoverable error taxonomy onto
// HTTP statuses. Everything except a persistence failure is a 4xx the
// caller can act on; race losses are conflicts, not server errors.
func writeServiceError(w http.ResponseWriter, log *slog.Logger, err error) {
	var schedErr *scheduling.ValidationError
	var bookErr *booking.ValidationError

	switch {
	case errors.As(err, &schedErr):
		writeError(w, http.StatusBadRequest, schedErr.Error())
	case errors.As(err, &bookErr):
		writeError(w, http.StatusBadRequest, bookErr.Error())
	case errors.Is(err, booking.ErrBookingNotFound), errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, booking.ErrSlotUnavailable):
		writeError(w, http.StatusConflict, "slot unavailable")
	case errors.Is(err, booking.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid booking transition")
	case errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusConflict, "conflict")
	case errors.Is(err, booking.ErrHoldExpired):
		writeError(w, http.StatusGone, "hold expired; restart the reservation")
	case errors.Is(err, booking.ErrSlotInPast):
		writeError(w, http.StatusUnprocessableEntity, "slot is in the past")
	default:
		log.Error("request failed", slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}
