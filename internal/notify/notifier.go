package notify

import (
	"log/slog"

	"reservio/backend/internal/domain"
)

// Notifier hands booking events to the notification collaborator.
// Delivery is fire-and-forget: implementations must not block the
// caller and the engine never checks the outcome.
type Notifier interface {
	Emit(event domain.BookingEvent)
}

// LogNotifier is the default sink when no delivery integration is
// configured: it records every event as a structured log line.
type LogNotifier struct {
	log *slog.Logger
}

func NewLogNotifier(log *slog.Logger) *LogNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &LogNotifier{log: log.With(slog.String("component", "notify"))}
}

func (n *LogNotifier) Emit(event domain.BookingEvent) {
	n.log.Info("booking event",
		slog.String("kind", string(event.Kind)),
		slog.String("booking_id", event.Booking.ID.String()),
		slog.String("slot_id", event.Booking.SlotID.String()),
		slog.String("consumer_id", event.Booking.ConsumerID),
		slog.String("provider_id", event.Booking.ProviderID),
		slog.String("status", string(event.Booking.Status)),
		slog.String("replacement_id", event.ReplacementID),
		slog.Time("occurred_at", event.OccurredAt),
	)
}

// NopNotifier discards events; used in tests.
type NopNotifier struct{}

func (NopNotifier) Emit(domain.BookingEvent) {}
