package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/uptrace/bun"

	"reservio/backend/internal/domain"
	"reservio/backend/internal/store"
)

type ScheduleRepo struct {
	db *bun.DB
}

func NewScheduleRepo(db *bun.DB) *ScheduleRepo {
	return &ScheduleRepo{db: db}
}

type scheduleTx struct {
	tx bun.Tx
}

func (r *ScheduleRepo) CreateRule(ctx context.Context, rule domain.RecurringRule) (domain.RecurringRule, error) {
	m := rule
	if _, err := r.db.NewInsert().Model(&m).Exec(ctx); err != nil {
		return domain.RecurringRule{}, mapPgError(err)
	}
	return m, nil
}

func (r *ScheduleRepo) GetRule(ctx context.Context, ruleID uuid.UUID) (domain.RecurringRule, error) {
	var rule domain.RecurringRule
	err := r.db.NewSelect().
		Model(&rule).
		Where("id = ?", ruleID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.RecurringRule{}, store.ErrNotFound
		}
		return domain.RecurringRule{}, err
	}
	return rule, nil
}

func (r *ScheduleRepo) UpdateRule(ctx context.Context, rule domain.RecurringRule) (domain.RecurringRule, error) {
	m := rule
	res, err := r.db.NewUpdate().
		Model(&m).
		WherePK().
		Where("provider_id = ?", rule.ProviderID).
		Exec(ctx)
	if err != nil {
		return domain.RecurringRule{}, mapPgError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.RecurringRule{}, err
	}
	if affected == 0 {
		return domain.RecurringRule{}, store.ErrNotFound
	}
	return m, nil
}

func (r *ScheduleRepo) ReplaceRule(ctx context.Context, rule domain.RecurringRule, retractFrom time.Time) (domain.RecurringRule, error) {
	m := rule
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := lockProviderSchedule(ctx, tx, rule.ProviderID); err != nil {
			return err
		}
		res, err := tx.NewUpdate().
			Model(&m).
			WherePK().
			Where("provider_id = ?", rule.ProviderID).
			Exec(ctx)
		if err != nil {
			return mapPgError(err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return store.ErrNotFound
		}
		return retractRuleSlots(ctx, tx, rule.ID, retractFrom)
	})
	if err != nil {
		return domain.RecurringRule{}, err
	}
	return m, nil
}

func (r *ScheduleRepo) DeleteRule(ctx context.Context, providerID string, ruleID uuid.UUID) error {
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := lockProviderSchedule(ctx, tx, providerID); err != nil {
			return err
		}
		if err := retractRuleSlots(ctx, tx, ruleID, time.Now().UTC()); err != nil {
			return err
		}
		res, err := tx.NewDelete().
			Model((*domain.RecurringRule)(nil)).
			Where("id = ?", ruleID).
			Where("provider_id = ?", providerID).
			Exec(ctx)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return store.ErrNotFound
		}
		return nil
	})
}

func (r *ScheduleRepo) ListRulesIntersecting(ctx context.Context, providerID string, windowStart, windowEnd time.Time) ([]domain.RecurringRule, error) {
	var rows []domain.RecurringRule
	err := r.db.NewSelect().
		Model(&rows).
		Where("provider_id = ?", providerID).
		Where("start_date <= ?", windowEnd).
		Where("end_date >= ?", windowStart).
		OrderExpr("start_date ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *ScheduleRepo) UpsertSlots(ctx context.Context, providerID string, slots []domain.Slot) (int, error) {
	if len(slots) == 0 {
		return 0, nil
	}
	inserted := 0
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := lockProviderSchedule(ctx, tx, providerID); err != nil {
			return err
		}
		m := make([]domain.Slot, len(slots))
		copy(m, slots)
		res, err := tx.NewInsert().
			Model(&m).
			On("CONFLICT (provider_id, start_time) DO NOTHING").
			Exec(ctx)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		inserted = int(affected)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

func (r *ScheduleRepo) CreateSlot(ctx context.Context, slot domain.Slot) (domain.Slot, error) {
	m := slot
	if _, err := r.db.NewInsert().Model(&m).Exec(ctx); err != nil {
		return domain.Slot{}, mapPgError(err)
	}
	return m, nil
}

func (r *ScheduleRepo) GetSlot(ctx context.Context, slotID uuid.UUID) (domain.Slot, error) {
	var slot domain.Slot
	err := r.db.NewSelect().
		Model(&slot).
		Where("id = ?", slotID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Slot{}, store.ErrNotFound
		}
		return domain.Slot{}, err
	}
	return slot, nil
}

// DeleteSlot removes a slot only while it is still available. A
// claimed slot has an active booking behind it and may not be deleted
// out from under the consumer.
func (r *ScheduleRepo) DeleteSlot(ctx context.Context, providerID string, slotID uuid.UUID) error {
	res, err := r.db.NewDelete().
		Model((*domain.Slot)(nil)).
		Where("id = ?", slotID).
		Where("provider_id = ?", providerID).
		Where("available = TRUE").
		Exec(ctx)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		exists, err := r.db.NewSelect().
			Model((*domain.Slot)(nil)).
			Where("id = ?", slotID).
			Where("provider_id = ?", providerID).
			Exists(ctx)
		if err != nil {
			return err
		}
		if exists {
			return store.ErrConflict
		}
		return store.ErrNotFound
	}
	return nil
}

func (r *ScheduleRepo) ListAvailableSlots(ctx context.Context, providerID string, windowStart, windowEnd time.Time) ([]domain.Slot, error) {
	var rows []domain.Slot
	err := r.db.NewSelect().
		Model(&rows).
		Where("provider_id = ?", providerID).
		Where("available = TRUE").
		Where("start_time >= ?", windowStart).
		Where("start_time < ?", windowEnd).
		OrderExpr("start_time ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// retractRuleSlots deletes the rule's unbooked slots starting at or
// after the given instant and detaches booked ones, so confirmed
// bookings survive rule edits and deletes.
func retractRuleSlots(ctx context.Context, tx bun.Tx, ruleID uuid.UUID, from time.Time) error {
	_, err := tx.NewDelete().
		Model((*domain.Slot)(nil)).
		Where("rule_id = ?", ruleID).
		Where("start_time >= ?", from).
		Where("available = TRUE").
		Exec(ctx)
	if err != nil {
		return err
	}
	// Booked future slots are detached; their bookings become ordinary
	// standalone bookings decoupled from the rule.
	_, err = tx.NewUpdate().
		Model((*domain.Slot)(nil)).
		Set("rule_id = NULL").
		Set("updated_at = ?", time.Now().UTC()).
		Where("rule_id = ?", ruleID).
		Where("start_time >= ?", from).
		Exec(ctx)
	return err
}

func (r *ScheduleRepo) RemoveAvailableRuleSlotOn(ctx context.Context, ruleID uuid.UUID, date time.Time) error {
	dayStart := time.Date(date.UTC().Year(), date.UTC().Month(), date.UTC().Day(), 0, 0, 0, 0, time.UTC)
	_, err := r.db.NewDelete().
		Model((*domain.Slot)(nil)).
		Where("rule_id = ?", ruleID).
		Where("available = TRUE").
		Where("start_time >= ?", dayStart).
		Where("start_time < ?", dayStart.AddDate(0, 0, 1)).
		Exec(ctx)
	return err
}

func (r *ScheduleRepo) HasConfirmedRuleBookingOn(ctx context.Context, ruleID uuid.UUID, date time.Time) (bool, error) {
	dayStart := time.Date(date.UTC().Year(), date.UTC().Month(), date.UTC().Day(), 0, 0, 0, 0, time.UTC)
	return r.db.NewSelect().
		Model((*domain.Booking)(nil)).
		Join("JOIN slots AS s ON s.id = booking.slot_id").
		Where("s.rule_id = ?", ruleID).
		Where("booking.status = ?", domain.BookingStatusConfirmed).
		Where("s.start_time >= ?", dayStart).
		Where("s.start_time < ?", dayStart.AddDate(0, 0, 1)).
		Exists(ctx)
}

func (r *ScheduleRepo) GetBooking(ctx context.Context, bookingID uuid.UUID) (domain.Booking, error) {
	var b domain.Booking
	err := r.db.NewSelect().
		Model(&b).
		Where("id = ?", bookingID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Booking{}, store.ErrNotFound
		}
		return domain.Booking{}, err
	}
	return b, nil
}

func (r *ScheduleRepo) ListBookings(ctx context.Context, consumerID string) ([]domain.Booking, error) {
	var rows []domain.Booking
	err := r.db.NewSelect().
		Model(&rows).
		Where("consumer_id = ?", consumerID).
		OrderExpr("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *ScheduleRepo) InTransaction(ctx context.Context, fn func(ctx context.Context, tx store.ScheduleTx) error) error {
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, scheduleTx{tx: tx})
	})
}

// Materialization and slot retraction for one provider serialize on an
// advisory lock. Claims on already-materialized slots never need it.
func lockProviderSchedule(ctx context.Context, tx bun.Tx, providerID string) error {
	_, err := tx.NewRaw("SELECT pg_advisory_xact_lock(hashtext(?))", providerID).Exec(ctx)
	return err
}

func (t scheduleTx) GetSlot(ctx context.Context, slotID uuid.UUID) (domain.Slot, error) {
	var slot domain.Slot
	err := t.tx.NewSelect().
		Model(&slot).
		Where("id = ?", slotID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Slot{}, store.ErrNotFound
		}
		return domain.Slot{}, err
	}
	return slot, nil
}

// ClaimSlot flips availability with a compare-and-swap: the conditional
// update succeeds for exactly one of any set of concurrent claimants.
func (t scheduleTx) ClaimSlot(ctx context.Context, slotID uuid.UUID) (domain.Slot, error) {
	var slot domain.Slot
	err := t.tx.NewUpdate().
		Model(&slot).
		Set("available = FALSE").
		Set("version = version + 1").
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", slotID).
		Where("available = TRUE").
		Returning("*").
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			exists, existsErr := t.tx.NewSelect().
				Model((*domain.Slot)(nil)).
				Where("id = ?", slotID).
				Exists(ctx)
			if existsErr != nil {
				return domain.Slot{}, existsErr
			}
			if exists {
				return domain.Slot{}, store.ErrAlreadyClaimed
			}
			return domain.Slot{}, store.ErrNotFound
		}
		return domain.Slot{}, err
	}
	return slot, nil
}

// ReleaseSlot is idempotent: releasing an already-available slot is a
// no-op so the cooperative expiry path and the sweeper cannot trip
// over each other.
func (t scheduleTx) ReleaseSlot(ctx context.Context, slotID uuid.UUID) error {
	res, err := t.tx.NewUpdate().
		Model((*domain.Slot)(nil)).
		Set("available = TRUE").
		Set("version = version + 1").
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", slotID).
		Where("available = FALSE").
		Exec(ctx)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		exists, err := t.tx.NewSelect().
			Model((*domain.Slot)(nil)).
			Where("id = ?", slotID).
			Exists(ctx)
		if err != nil {
			return err
		}
		if !exists {
			return store.ErrNotFound
		}
	}
	return nil
}

func (t scheduleTx) InsertBooking(ctx context.Context, b domain.Booking) (domain.Booking, error) {
	m := b
	if _, err := t.tx.NewInsert().Model(&m).Exec(ctx); err != nil {
		return domain.Booking{}, mapPgError(err)
	}
	return m, nil
}

func (t scheduleTx) GetBookingForUpdate(ctx context.Context, bookingID uuid.UUID) (domain.Booking, error) {
	var b domain.Booking
	err := t.tx.NewSelect().
		Model(&b).
		Where("id = ?", bookingID).
		Limit(1).
		For("UPDATE").
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Booking{}, store.ErrNotFound
		}
		return domain.Booking{}, err
	}
	return b, nil
}

func (t scheduleTx) UpdateBooking(ctx context.Context, b domain.Booking) (domain.Booking, error) {
	m := b
	res, err := t.tx.NewUpdate().
		Model(&m).
		WherePK().
		Exec(ctx)
	if err != nil {
		return domain.Booking{}, mapPgError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Booking{}, err
	}
	if affected == 0 {
		return domain.Booking{}, store.ErrNotFound
	}
	return m, nil
}

func (t scheduleTx) ListExpiredHolds(ctx context.Context, now time.Time, limit int) ([]domain.Booking, error) {
	var rows []domain.Booking
	q := t.tx.NewSelect().
		Model(&rows).
		Where("status = ?", domain.BookingStatusPending).
		Where("hold_expires_at IS NOT NULL").
		Where("hold_expires_at <= ?", now).
		OrderExpr("hold_expires_at ASC").
		For("UPDATE SKIP LOCKED")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return rows, nil
}

// mapPgError turns the unique-violation class into store sentinels.
// 23505 on the partial active-booking index or the provider+start_time
// slot key both mean a lost race, reported as ErrConflict.
func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return store.ErrConflict
	}
	return err
}
