package scheduling

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"reservio/backend/internal/domain"
	"reservio/backend/internal/store"
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

// Service owns the provider-facing schedule: recurring rules, one-off
// slots, and the materialized slot catalog queries run against. All
// slot-state changes stay behind the booking coordinators; this
// service only inserts, retracts, and reads.
type Service struct {
	repo    store.ScheduleRepository
	horizon time.Duration
	now     func() time.Time
}

func NewService(repo store.ScheduleRepository, horizon time.Duration) *Service {
	if horizon <= 0 {
		horizon = 90 * 24 * time.Hour
	}
	return &Service{
		repo:    repo,
		horizon: horizon,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

type RuleSpec struct {
	Frequency   domain.Frequency
	Interval    int
	Weekdays    []int16
	TimeOfDay   string // "HH:MM"
	StartDate   time.Time
	EndDate     time.Time
	Description string
}

func (s *Service) CreateRule(ctx context.Context, providerID string, spec RuleSpec) (domain.RecurringRule, error) {
	if providerID == "" {
		return domain.RecurringRule{}, validationError("provider_id is required")
	}
	rule, err := buildRule(providerID, spec)
	if err != nil {
		return domain.RecurringRule{}, err
	}
	return s.repo.CreateRule(ctx, rule)
}

// UpdateRule replaces the rule's recurrence parameters and retracts
// every future slot the old shape produced that nobody has booked.
// Booked slots are detached and their bookings survive unchanged. The
// update and the retraction commit together.
func (s *Service) UpdateRule(ctx context.Context, providerID string, ruleID uuid.UUID, spec RuleSpec) (domain.RecurringRule, error) {
	if providerID == "" {
		return domain.RecurringRule{}, validationError("provider_id is required")
	}
	existing, err := s.getOwnedRule(ctx, providerID, ruleID)
	if err != nil {
		return domain.RecurringRule{}, err
	}

	updated, err := buildRule(providerID, spec)
	if err != nil {
		return domain.RecurringRule{}, err
	}
	updated.ID = existing.ID
	updated.Exceptions = existing.Exceptions
	updated.CreatedAt = existing.CreatedAt

	return s.repo.ReplaceRule(ctx, updated, s.now())
}

func (s *Service) DeleteRule(ctx context.Context, providerID string, ruleID uuid.UUID) error {
	if providerID == "" {
		return validationError("provider_id is required")
	}
	if ruleID == uuid.Nil {
		return validationError("rule_id is required")
	}
	return s.repo.DeleteRule(ctx, providerID, ruleID)
}

// AddException excludes one calendar date from the rule. If a
// confirmed booking already sits on one of this rule's slots that day
// the exception still goes in, but the caller gets warned: intent
// could be "cancel that booking" or merely "stop recurring here", and
// the engine never infers cancellation.
func (s *Service) AddException(ctx context.Context, providerID string, ruleID uuid.UUID, date time.Time) (domain.RecurringRule, bool, error) {
	if providerID == "" {
		return domain.RecurringRule{}, false, validationError("provider_id is required")
	}
	rule, err := s.getOwnedRule(ctx, providerID, ruleID)
	if err != nil {
		return domain.RecurringRule{}, false, err
	}

	key := domain.DateKey(date)
	if !rule.HasException(date) {
		rule.Exceptions = append(rule.Exceptions, key)
		rule, err = s.repo.UpdateRule(ctx, rule)
		if err != nil {
			return domain.RecurringRule{}, false, err
		}
		if err := s.repo.RemoveAvailableRuleSlotOn(ctx, ruleID, date); err != nil {
			return domain.RecurringRule{}, false, err
		}
	}

	warn, err := s.repo.HasConfirmedRuleBookingOn(ctx, ruleID, date)
	if err != nil {
		return domain.RecurringRule{}, false, err
	}
	return rule, warn, nil
}

func (s *Service) RemoveException(ctx context.Context, providerID string, ruleID uuid.UUID, date time.Time) (domain.RecurringRule, error) {
	if providerID == "" {
		return domain.RecurringRule{}, validationError("provider_id is required")
	}
	rule, err := s.getOwnedRule(ctx, providerID, ruleID)
	if err != nil {
		return domain.RecurringRule{}, err
	}

	key := domain.DateKey(date)
	kept := rule.Exceptions[:0]
	for _, ex := range rule.Exceptions {
		if ex != key {
			kept = append(kept, ex)
		}
	}
	rule.Exceptions = kept
	return s.repo.UpdateRule(ctx, rule)
}

// CreateSlot inserts a one-off slot. It does not go through expansion;
// the (provider, instant) uniqueness invariant still applies and a
// duplicate surfaces as store.ErrConflict.
func (s *Service) CreateSlot(ctx context.Context, providerID string, startTime time.Time) (domain.Slot, error) {
	if providerID == "" {
		return domain.Slot{}, validationError("provider_id is required")
	}
	start := startTime.UTC().Truncate(time.Minute)
	if !start.After(s.now()) {
		return domain.Slot{}, validationError("start_time must be in the future")
	}
	return s.repo.CreateSlot(ctx, domain.Slot{
		ProviderID: providerID,
		StartTime:  start,
		Available:  true,
	})
}

func (s *Service) DeleteSlot(ctx context.Context, providerID string, slotID uuid.UUID) error {
	if providerID == "" {
		return validationError("provider_id is required")
	}
	if slotID == uuid.Nil {
		return validationError("slot_id is required")
	}
	return s.repo.DeleteSlot(ctx, providerID, slotID)
}

// Materialize expands every rule intersecting the window and upserts
// the resulting slots. Re-running over the same window is a no-op for
// instants that already exist; availability flags are never touched.
// Returns the number of newly created slots.
func (s *Service) Materialize(ctx context.Context, providerID string, windowStart, windowEnd time.Time) (int, error) {
	if providerID == "" {
		return 0, validationError("provider_id is required")
	}
	start := windowStart.UTC()
	end := windowEnd.UTC()
	if !end.After(start) {
		return 0, validationError("window_end must be after window_start")
	}
	if max := s.now().Add(s.horizon); end.After(max) {
		end = max
	}
	if !end.After(start) {
		return 0, nil
	}

	rules, err := s.repo.ListRulesIntersecting(ctx, providerID, start, end)
	if err != nil {
		return 0, err
	}

	slots := make([]domain.Slot, 0, 32)
	for _, rule := range rules {
		instants, err := domain.Expand(rule, start, end)
		if err != nil {
			return 0, fmt.Errorf("expand rule %s: %w", rule.ID, err)
		}
		ruleID := rule.ID
		for _, at := range instants {
			slots = append(slots, domain.Slot{
				ProviderID: providerID,
				StartTime:  at,
				Available:  true,
				RuleID:     &ruleID,
			})
		}
	}

	return s.repo.UpsertSlots(ctx, providerID, slots)
}

// ListAvailable materializes the window on demand, then returns the
// available slots ascending by instant.
func (s *Service) ListAvailable(ctx context.Context, providerID string, windowStart, windowEnd time.Time) ([]domain.Slot, error) {
	if providerID == "" {
		return nil, validationError("provider_id is required")
	}
	start := windowStart.UTC()
	end := windowEnd.UTC()
	if !end.After(start) {
		return nil, validationError("window_end must be after window_start")
	}
	if _, err := s.Materialize(ctx, providerID, start, end); err != nil {
		return nil, err
	}
	return s.repo.ListAvailableSlots(ctx, providerID, start, end)
}

type DayAvailability struct {
	Date             string
	HasAvailableSlot bool
}

// Calendar reports, for every day in the range, whether at least one
// available slot exists.
func (s *Service) Calendar(ctx context.Context, providerID string, from, to time.Time) ([]DayAvailability, error) {
	start := time.Date(from.UTC().Year(), from.UTC().Month(), from.UTC().Day(), 0, 0, 0, 0, time.UTC)
	end := time.Date(to.UTC().Year(), to.UTC().Month(), to.UTC().Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)

	slots, err := s.ListAvailable(ctx, providerID, start, end)
	if err != nil {
		return nil, err
	}

	byDay := make(map[string]bool, len(slots))
	for _, slot := range slots {
		byDay[domain.DateKey(slot.StartTime)] = true
	}

	out := make([]DayAvailability, 0, daysBetween(start, end))
	for day := start; day.Before(end); day = day.AddDate(0, 0, 1) {
		key := domain.DateKey(day)
		out = append(out, DayAvailability{Date: key, HasAvailableSlot: byDay[key]})
	}
	return out, nil
}

func (s *Service) getOwnedRule(ctx context.Context, providerID string, ruleID uuid.UUID) (domain.RecurringRule, error) {
	if ruleID == uuid.Nil {
		return domain.RecurringRule{}, validationError("rule_id is required")
	}
	rule, err := s.repo.GetRule(ctx, ruleID)
	if err != nil {
		return domain.RecurringRule{}, err
	}
	if rule.ProviderID != providerID {
		return domain.RecurringRule{}, store.ErrNotFound
	}
	return rule, nil
}

func buildRule(providerID string, spec RuleSpec) (domain.RecurringRule, error) {
	timeOfDay, err := parseTimeOfDay(spec.TimeOfDay)
	if err != nil {
		return domain.RecurringRule{}, err
	}

	interval := spec.Interval
	if interval == 0 {
		interval = 1
	}

	rule := domain.RecurringRule{
		ProviderID:  providerID,
		Frequency:   spec.Frequency,
		Interval:    interval,
		Weekdays:    dedupWeekdays(spec.Weekdays),
		TimeOfDay:   timeOfDay,
		StartDate:   dateOnly(spec.StartDate),
		EndDate:     dateOnly(spec.EndDate),
		Description: strings.TrimSpace(spec.Description),
	}
	if rule.Frequency != domain.FrequencyWeekly {
		// Daily and monthly rules ignore the weekday set.
		rule.Weekdays = nil
	}
	if err := rule.Validate(); err != nil {
		return domain.RecurringRule{}, validationError(err.Error())
	}
	return rule, nil
}

func parseTimeOfDay(s string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, validationError("time_of_day must be HH:MM")
	}
	return t.Hour()*60 + t.Minute(), nil
}

func dedupWeekdays(weekdays []int16) []int16 {
	seen := make(map[int16]struct{}, len(weekdays))
	out := make([]int16, 0, len(weekdays))
	for _, wd := range weekdays {
		if _, ok := seen[wd]; ok {
			continue
		}
		seen[wd] = struct{}{}
		out = append(out, wd)
	}
	return out
}

func dateOnly(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func daysBetween(a, b time.Time) int {
	return int(b.Sub(a) / (24 * time.Hour))
}
