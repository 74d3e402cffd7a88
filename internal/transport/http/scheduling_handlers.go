package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"reservio/backend/internal/domain"
	"reservio/backend/internal/service/scheduling"
)

type ruleRequest struct {
	Frequency   string  `json:"frequency" validate:"required,oneof=daily weekly monthly"`
	Interval    int     `json:"interval" validate:"omitempty,min=1"`
	Weekdays    []int16 `json:"weekdays" validate:"omitempty,dive,min=0,max=6"`
	TimeOfDay   string  `json:"time_of_day" validate:"required"`
	StartDate   string  `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate     string  `json:"end_date" validate:"required,datetime=2006-01-02"`
	Description string  `json:"description"`
}

type ruleResponse struct {
	ID          string   `json:"id"`
	ProviderID  string   `json:"provider_id"`
	Frequency   string   `json:"frequency"`
	Interval    int      `json:"interval"`
	Weekdays    []int16  `json:"weekdays,omitempty"`
	TimeOfDay   string   `json:"time_of_day"`
	StartDate   string   `json:"start_date"`
	EndDate     string   `json:"end_date"`
	Exceptions  []string `json:"exceptions,omitempty"`
	Description string   `json:"description,omitempty"`
	Warning     string   `json:"warning,omitempty"`
}

type slotResponse struct {
	ID              string `json:"id"`
	ProviderID      string `json:"provider_id"`
	StartTime       string `json:"start_time"`
	DurationMinutes int    `json:"duration_minutes"`
	Available       bool   `json:"available"`
	RuleID          string `json:"rule_id,omitempty"`
}

type createSlotRequest struct {
	StartTime time.Time `json:"start_time" validate:"required"`
}

func (a *API) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	log := a.log.With(slog.String("handler", "CreateRule"))
	providerID := mux.Vars(r)["providerID"]

	var req ruleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := a.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid rule spec: "+err.Error())
		return
	}

	spec, ok := a.ruleSpec(w, req)
	if !ok {
		return
	}

	rule, err := a.scheduling.CreateRule(r.Context(), providerID, spec)
	if err != nil {
		writeServiceError(w, log, err)
		return
	}

	log.Info("rule created",
		slog.String("rule_id", rule.ID.String()),
		slog.String("provider_id", providerID),
		slog.String("frequency", string(rule.Frequency)),
	)
	writeJSON(w, http.StatusCreated, toRuleResponse(rule, ""))
}

func (a *API) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	log := a.log.With(slog.String("handler", "UpdateRule"))
	providerID := mux.Vars(r)["providerID"]
	ruleID, ok := pathUUID(r, "ruleID")
	if !ok {
		writeError(w, http.StatusBadRequest, "rule_id must be a UUID")
		return
	}

	var req ruleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := a.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid rule spec: "+err.Error())
		return
	}

	spec, specOK := a.ruleSpec(w, req)
	if !specOK {
		return
	}

	rule, err := a.scheduling.UpdateRule(r.Context(), providerID, ruleID, spec)
	if err != nil {
		writeServiceError(w, log, err)
		return
	}

	log.Info("rule updated", slog.String("rule_id", rule.ID.String()), slog.String("provider_id", providerID))
	writeJSON(w, http.StatusOK, toRuleResponse(rule, ""))
}

func (a *API) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	log := a.log.With(slog.String("handler", "DeleteRule"))
	providerID := mux.Vars(r)["providerID"]
	ruleID, ok := pathUUID(r, "ruleID")
	if !ok {
		writeError(w, http.StatusBadRequest, "rule_id must be a UUID")
		return
	}

	if err := a.scheduling.DeleteRule(r.Context(), providerID, ruleID); err != nil {
		writeServiceError(w, log, err)
		return
	}

	log.Info("rule deleted", slog.String("rule_id", ruleID.String()), slog.String("provider_id", providerID))
	w.WriteHeader(http.StatusNoContent)
}

type exceptionRequest struct {
	Date string `json:"date" validate:"required,datetime=2006-01-02"`
}

func (a *API) handleAddException(w http.ResponseWriter, r *http.Request) {
	log := a.log.With(slog.String("handler", "AddException"))
	providerID := mux.Vars(r)["providerID"]
	ruleID, ok := pathUUID(r, "ruleID")
	if !ok {
		writeError(w, http.StatusBadRequest, "rule_id must be a UUID")
		return
	}

	var req exceptionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := a.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}
	date, _ := parseDate(req.Date)

	rule, warn, err := a.scheduling.AddException(r.Context(), providerID, ruleID, date)
	if err != nil {
		writeServiceError(w, log, err)
		return
	}

	warning := ""
	if warn {
		warning = "a confirmed booking exists on this date; it was not cancelled"
	}
	log.Info("exception added",
		slog.String("rule_id", ruleID.String()),
		slog.String("date", req.Date),
		slog.Bool("confirmed_booking_on_date", warn),
	)
	writeJSON(w, http.StatusOK, toRuleResponse(rule, warning))
}

func (a *API) handleRemoveException(w http.ResponseWriter, r *http.Request) {
	log := a.log.With(slog.String("handler", "RemoveException"))
	providerID := mux.Vars(r)["providerID"]
	ruleID, ok := pathUUID(r, "ruleID")
	if !ok {
		writeError(w, http.StatusBadRequest, "rule_id must be a UUID")
		return
	}
	date, err := parseDate(mux.Vars(r)["date"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	rule, err := a.scheduling.RemoveException(r.Context(), providerID, ruleID, date)
	if err != nil {
		writeServiceError(w, log, err)
		return
	}

	log.Info("exception removed", slog.String("rule_id", ruleID.String()), slog.String("date", domain.DateKey(date)))
	writeJSON(w, http.StatusOK, toRuleResponse(rule, ""))
}

func (a *API) handleCreateSlot(w http.ResponseWriter, r *http.Request) {
	log := a.log.With(slog.String("handler", "CreateSlot"))
	providerID := mux.Vars(r)["providerID"]

	var req createSlotRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := a.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "start_time is required")
		return
	}

	slot, err := a.scheduling.CreateSlot(r.Context(), providerID, req.StartTime)
	if err != nil {
		writeServiceError(w, log, err)
		return
	}

	log.Info("slot created",
		slog.String("slot_id", slot.ID.String()),
		slog.String("provider_id", providerID),
		slog.Time("start_time", slot.StartTime),
	)
	writeJSON(w, http.StatusCreated, a.toSlotResponse(slot))
}

func (a *API) handleDeleteSlot(w http.ResponseWriter, r *http.Request) {
	log := a.log.With(slog.String("handler", "DeleteSlot"))
	providerID := mux.Vars(r)["providerID"]
	slotID, ok := pathUUID(r, "slotID")
	if !ok {
		writeError(w, http.StatusBadRequest, "slot_id must be a UUID")
		return
	}

	if err := a.scheduling.DeleteSlot(r.Context(), providerID, slotID); err != nil {
		writeServiceError(w, log, err)
		return
	}

	log.Info("slot deleted", slog.String("slot_id", slotID.String()), slog.String("provider_id", providerID))
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleListSlots(w http.ResponseWriter, r *http.Request) {
	log := a.log.With(slog.String("handler", "ListSlots"))
	providerID := mux.Vars(r)["providerID"]

	date, err := parseDate(r.URL.Query().Get("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "date query parameter must be YYYY-MM-DD")
		return
	}

	slots, err := a.scheduling.ListAvailable(r.Context(), providerID, date, date.AddDate(0, 0, 1))
	if err != nil {
		writeServiceError(w, log, err)
		return
	}

	out := make([]slotResponse, 0, len(slots))
	for _, s := range slots {
		out = append(out, a.toSlotResponse(s))
	}
	log.Debug("slots listed", slog.String("provider_id", providerID), slog.Int("count", len(out)))
	writeJSON(w, http.StatusOK, map[string]any{"slots": out})
}

func (a *API) handleCalendar(w http.ResponseWriter, r *http.Request) {
	log := a.log.With(slog.String("handler", "Calendar"))
	providerID := mux.Vars(r)["providerID"]

	from, err := parseDate(r.URL.Query().Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "from query parameter must be YYYY-MM-DD")
		return
	}
	to, err := parseDate(r.URL.Query().Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "to query parameter must be YYYY-MM-DD")
		return
	}

	days, err := a.scheduling.Calendar(r.Context(), providerID, from, to)
	if err != nil {
		writeServiceError(w, log, err)
		return
	}

	type dayResponse struct {
		Date             string `json:"date"`
		HasAvailableSlot bool   `json:"has_available_slot"`
	}
	out := make([]dayResponse, 0, len(days))
	for _, d := range days {
		out = append(out, dayResponse{Date: d.Date, HasAvailableSlot: d.HasAvailableSlot})
	}
	log.Debug("calendar listed", slog.String("provider_id", providerID), slog.Int("days", len(out)))
	writeJSON(w, http.StatusOK, map[string]any{"days": out})
}

func (a *API) ruleSpec(w http.ResponseWriter, req ruleRequest) (scheduling.RuleSpec, bool) {
	startDate, err := parseDate(req.StartDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "start_date must be YYYY-MM-DD")
		return scheduling.RuleSpec{}, false
	}
	endDate, err := parseDate(req.EndDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "end_date must be YYYY-MM-DD")
		return scheduling.RuleSpec{}, false
	}
	return scheduling.RuleSpec{
		Frequency:   domain.Frequency(req.Frequency),
		Interval:    req.Interval,
		Weekdays:    req.Weekdays,
		TimeOfDay:   req.TimeOfDay,
		StartDate:   startDate,
		EndDate:     endDate,
		Description: req.Description,
	}, true
}

func toRuleResponse(rule domain.RecurringRule, warning string) ruleResponse {
	hour, minute := rule.TimeOfDayClock()
	return ruleResponse{
		ID:          rule.ID.String(),
		ProviderID:  rule.ProviderID,
		Frequency:   string(rule.Frequency),
		Interval:    rule.Interval,
		Weekdays:    rule.Weekdays,
		TimeOfDay:   formatClock(hour, minute),
		StartDate:   domain.DateKey(rule.StartDate),
		EndDate:     domain.DateKey(rule.EndDate),
		Exceptions:  rule.Exceptions,
		Description: rule.Description,
		Warning:     warning,
	}
}

func (a *API) toSlotResponse(s domain.Slot) slotResponse {
	out := slotResponse{
		ID:              s.ID.String(),
		ProviderID:      s.ProviderID,
		StartTime:       s.StartTime.UTC().Format(time.RFC3339),
		DurationMinutes: int(a.slotDuration.Minutes()),
		Available:       s.Available,
	}
	if s.RuleID != nil {
		out.RuleID = s.RuleID.String()
	}
	return out
}

func formatClock(hour, minute int) string {
	return time.Date(0, 1, 1, hour, minute, 0, 0, time.UTC).Format("15:04")
}
