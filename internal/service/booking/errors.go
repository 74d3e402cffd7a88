package booking

import "errors"

// Recoverable, caller-facing conditions. A lost claim race is the
// expected outcome for the losing caller, not a server fault.
var (
	ErrSlotUnavailable   = errors.New("slot unavailable")
	ErrSlotInPast        = errors.New("slot is in the past")
	ErrHoldExpired       = errors.New("hold expired")
	ErrBookingNotFound   = errors.New("booking not found")
	ErrInvalidTransition = errors.New("invalid booking transition")
)

type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string {
	return e.msg
}

func validationError(msg string) error {
	return &ValidationError{msg: msg}
}
