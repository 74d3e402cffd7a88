package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

// DateKey is the canonical calendar-date form used for exception
// matching. Exceptions compare by date, never by instant.
const DateLayout = "2006-01-02"

func DateKey(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// RecurringRule is a provider-owned pattern that generates bookable
// slots. Weekly rules carry a non-empty weekday set (0=Sunday through
// 6=Saturday); daily and monthly rules ignore it. TimeOfDay is minutes
// from midnight UTC. StartDate and EndDate are inclusive calendar dates
// stored at UTC midnight. Exceptions hold DateLayout-formatted dates
// excluded from expansion.
type RecurringRule struct {
	bun.BaseModel `bun:"table:rules"`

	ID          uuid.UUID `bun:"id,pk,type:uuid"`
	ProviderID  string    `bun:"provider_id,notnull"`
	Frequency   Frequency `bun:"frequency,notnull"`
	Interval    int       `bun:"interval,notnull"`
	Weekdays    []int16   `bun:"weekdays,array"`
	TimeOfDay   int       `bun:"time_of_day,notnull"`
	StartDate   time.Time `bun:"start_date,notnull"`
	EndDate     time.Time `bun:"end_date,notnull"`
	Exceptions  []string  `bun:"exceptions,array"`
	Description string    `bun:"description"`
	CreatedAt   time.Time `bun:"created_at,notnull"`
	UpdatedAt   time.Time `bun:"updated_at,notnull"`
}

func (r *RecurringRule) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if r.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			r.ID = id
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = now
		}
		if r.UpdatedAt.IsZero() {
			r.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		r.UpdatedAt = now
	}
	return nil
}

// HasException reports whether the calendar date of t is excluded.
func (r RecurringRule) HasException(t time.Time) bool {
	key := DateKey(t)
	for _, ex := range r.Exceptions {
		if ex == key {
			return true
		}
	}
	return false
}

// TimeOfDayClock splits TimeOfDay into hour and minute components.
func (r RecurringRule) TimeOfDayClock() (hour, minute int) {
	return r.TimeOfDay / 60, r.TimeOfDay % 60
}
