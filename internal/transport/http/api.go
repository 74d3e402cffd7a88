package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"reservio/backend/internal/domain"
	"reservio/backend/internal/service/scheduling"
)

type schedulingService interface {
	CreateRule(ctx context.Context, providerID string, spec scheduling.RuleSpec) (domain.RecurringRule, error)
	UpdateRule(ctx context.Context, providerID string, ruleID uuid.UUID, spec scheduling.RuleSpec) (domain.RecurringRule, error)
	DeleteRule(ctx context.Context, providerID string, ruleID uuid.UUID) error
	AddException(ctx context.Context, providerID string, ruleID uuid.UUID, date time.Time) (domain.RecurringRule, bool, error)
	RemoveException(ctx context.Context, providerID string, ruleID uuid.UUID, date time.Time) (domain.RecurringRule, error)
	CreateSlot(ctx context.Context, providerID string, startTime time.Time) (domain.Slot, error)
	DeleteSlot(ctx context.Context, providerID string, slotID uuid.UUID) error
	ListAvailable(ctx context.Context, providerID string, windowStart, windowEnd time.Time) ([]domain.Slot, error)
	Calendar(ctx context.Context, providerID string, from, to time.Time) ([]scheduling.DayAvailability, error)
}

type bookingService interface {
	Create(ctx context.Context, consumerID string, slotID uuid.UUID, notes string) (domain.Booking, error)
	Confirm(ctx context.Context, bookingID uuid.UUID) (domain.Booking, error)
	Cancel(ctx context.Context, bookingID uuid.UUID, reason string) (domain.Booking, error)
	Postpone(ctx context.Context, bookingID, newSlotID uuid.UUID, reason string) (domain.Booking, domain.Booking, error)
	Get(ctx context.Context, bookingID uuid.UUID) (domain.Booking, error)
	List(ctx context.Context, consumerID string) ([]domain.Booking, error)
}

// API wires the engine's command/query surface onto gorilla/mux.
// Identity is supplied by the auth collaborator upstream; the engine
// trusts the provider and consumer ids it receives.
type API struct {
	scheduling   schedulingService
	booking      bookingService
	slotDuration time.Duration
	validate     *validator.Validate
	log          *slog.Logger
}

func NewAPI(sched schedulingService, book bookingService, slotDuration time.Duration, log *slog.Logger) *API {
	if log == nil {
		log = slog.Default()
	}
	return &API{
		scheduling:   sched,
		booking:      book,
		slotDuration: slotDuration,
		validate:     validator.New(validator.WithRequiredStructEnabled()),
		log:          log.With(slog.String("component", "http.api")),
	}
}

func (a *API) Router() *mux.Router {
	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/providers/{providerID}/calendar", a.handleCalendar).Methods(http.MethodGet)
	api.HandleFunc("/providers/{providerID}/slots", a.handleListSlots).Methods(http.MethodGet)
	api.HandleFunc("/providers/{providerID}/slots", a.handleCreateSlot).Methods(http.MethodPost)
	api.HandleFunc("/providers/{providerID}/slots/{slotID}", a.handleDeleteSlot).Methods(http.MethodDelete)

	api.HandleFunc("/providers/{providerID}/rules", a.handleCreateRule).Methods(http.MethodPost)
	api.HandleFunc("/providers/{providerID}/rules/{ruleID}", a.handleUpdateRule).Methods(http.MethodPatch)
	api.HandleFunc("/providers/{providerID}/rules/{ruleID}", a.handleDeleteRule).Methods(http.MethodDelete)
	api.HandleFunc("/providers/{providerID}/rules/{ruleID}/exceptions", a.handleAddException).Methods(http.MethodPost)
	api.HandleFunc("/providers/{providerID}/rules/{ruleID}/exceptions/{date}", a.handleRemoveException).Methods(http.MethodDelete)

	api.HandleFunc("/bookings", a.handleCreateBooking).Methods(http.MethodPost)
	api.HandleFunc("/bookings", a.handleListBookings).Methods(http.MethodGet)
	api.HandleFunc("/bookings/{bookingID}", a.handleGetBooking).Methods(http.MethodGet)
	api.HandleFunc("/bookings/{bookingID}/confirm", a.handleConfirmBooking).Methods(http.MethodPost)
	api.HandleFunc("/bookings/{bookingID}/cancel", a.handleCancelBooking).Methods(http.MethodPost)
	api.HandleFunc("/bookings/{bookingID}/postpone", a.handlePostponeBooking).Methods(http.MethodPost)

	api.HandleFunc("/payments/callback", a.handlePaymentCallback).Methods(http.MethodPost)

	return r
}

func pathUUID(r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)[name])
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func parseDate(s string) (time.Time, error) {
	return time.Parse(domain.DateLayout, s)
}
