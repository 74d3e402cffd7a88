package domain

import (
	"errors"
	"sort"
	"time"
)

// Validate checks the rule's parameter combination. Expansion runs the
// same check, so a malformed rule never reaches the slot catalog.
func (r RecurringRule) Validate() error {
	switch r.Frequency {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly:
	default:
		return errors.New("unsupported frequency")
	}
	if r.Interval < 1 {
		return errors.New("interval must be at least 1")
	}
	if r.TimeOfDay < 0 || r.TimeOfDay >= 24*60 {
		return errors.New("time_of_day out of range")
	}
	if r.EndDate.Before(r.StartDate) {
		return errors.New("end_date must not be before start_date")
	}
	if r.Frequency == FrequencyWeekly {
		if len(r.Weekdays) == 0 {
			return errors.New("at least one weekday is required")
		}
		for _, wd := range r.Weekdays {
			if wd < 0 || wd > 6 {
				return errors.New("invalid weekday")
			}
		}
	}
	for _, ex := range r.Exceptions {
		if _, err := time.Parse(DateLayout, ex); err != nil {
			return errors.New("invalid exception date")
		}
	}
	return nil
}

// Expand materializes the rule into concrete instants within
// [windowStart, windowEnd], ascending and distinct. It is pure: no
// I/O, no mutation, deterministic for identical inputs. Instants on
// exception dates, outside the rule's active date range, or outside
// the window are dropped. A rule that matches nothing in the window
// yields an empty slice, not an error.
func Expand(rule RecurringRule, windowStart, windowEnd time.Time) ([]time.Time, error) {
	if err := rule.Validate(); err != nil {
		return nil, err
	}

	start := dateUTC(rule.StartDate)
	end := dateUTC(rule.EndDate)
	hour, minute := rule.TimeOfDayClock()

	// Last calendar date that can possibly contribute.
	limit := end
	if winLimit := dateUTC(windowEnd); winLimit.Before(limit) {
		limit = winLimit
	}

	emit := func(out []time.Time, date time.Time) []time.Time {
		if date.Before(start) || date.After(end) {
			return out
		}
		instant := time.Date(date.Year(), date.Month(), date.Day(), hour, minute, 0, 0, time.UTC)
		if instant.Before(windowStart.UTC()) || instant.After(windowEnd.UTC()) {
			return out
		}
		if rule.HasException(instant) {
			return out
		}
		return append(out, instant)
	}

	out := make([]time.Time, 0, 16)

	switch rule.Frequency {
	case FrequencyDaily:
		step := rule.Interval
		day := start
		if ws := dateUTC(windowStart); ws.After(day) {
			skipped := daysBetween(day, ws) / step
			day = day.AddDate(0, 0, skipped*step)
		}
		for ; !day.After(limit); day = day.AddDate(0, 0, step) {
			out = emit(out, day)
		}

	case FrequencyWeekly:
		offsets := weekdayOffsets(rule.Weekdays)
		weekStep := rule.Interval * 7
		weekMonday := mondayOf(start)
		if ws := mondayOf(dateUTC(windowStart)); ws.After(weekMonday) {
			skipped := daysBetween(weekMonday, ws) / weekStep
			weekMonday = weekMonday.AddDate(0, 0, skipped*weekStep)
		}
		for ; !weekMonday.After(limit); weekMonday = weekMonday.AddDate(0, 0, weekStep) {
			for _, off := range offsets {
				out = emit(out, weekMonday.AddDate(0, 0, off))
			}
		}

	case FrequencyMonthly:
		day := start.Day()
		for k := 0; ; k += rule.Interval {
			first := time.Date(start.Year(), start.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, k, 0)
			if first.After(limit) {
				break
			}
			d := day
			if last := daysInMonth(first); d > last {
				d = last
			}
			out = emit(out, first.AddDate(0, 0, d-1))
		}
	}

	return out, nil
}

func dateUTC(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func daysBetween(a, b time.Time) int {
	return int(b.Sub(a) / (24 * time.Hour))
}

func mondayOf(date time.Time) time.Time {
	offset := int(date.Weekday()) - 1
	if date.Weekday() == time.Sunday {
		offset = 6
	}
	return date.AddDate(0, 0, -offset)
}

// weekdayOffsets maps the 0=Sunday..6=Saturday set onto sorted,
// deduplicated offsets from Monday so weekly emission stays ascending.
func weekdayOffsets(weekdays []int16) []int {
	seen := make(map[int]struct{}, len(weekdays))
	out := make([]int, 0, len(weekdays))
	for _, wd := range weekdays {
		off := int(wd) - 1
		if wd == 0 {
			off = 6
		}
		if _, ok := seen[off]; ok {
			continue
		}
		seen[off] = struct{}{}
		out = append(out, off)
	}
	sort.Ints(out)
	return out
}

func daysInMonth(firstOfMonth time.Time) int {
	return firstOfMonth.AddDate(0, 1, -1).Day()
}
