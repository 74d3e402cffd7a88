package postgres

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"reservio/backend/internal/domain"
	"reservio/backend/internal/store"
)

// openTestDB opens a single-connection pool against a throwaway schema
// so the whole test runs isolated and cleans up after itself. One
// connection keeps the session-level search_path stable.
func openTestDB(t *testing.T) *bun.DB {
	t.Helper()

	databaseURL := strings.TrimSpace(os.Getenv("RESERVIO_TEST_DATABASE_URL"))
	if databaseURL == "" {
		t.Skip("RESERVIO_TEST_DATABASE_URL not set")
	}

	db, err := Open(databaseURL, PoolConfig{MaxOpenConns: 1})
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	t.Cleanup(func() {
		_ = Close(db)
	})

	schema := "reservio_test_" + randomHex(t, 8)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := db.NewRaw("CREATE SCHEMA " + schema).Exec(ctx); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	t.Cleanup(func() {
		cctx, ccancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer ccancel()
		_, _ = db.NewRaw("DROP SCHEMA IF EXISTS " + schema + " CASCADE").Exec(cctx)
	})
	if _, err := db.NewRaw("SET search_path TO " + schema).Exec(ctx); err != nil {
		t.Fatalf("set search_path: %v", err)
	}
	if err := applyMigrations(ctx, db); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return db
}

func TestPostgresIntegration_SlotClaimReleaseAndBookingInvariant(t *testing.T) {
	db := openTestDB(t)
	repo := NewScheduleRepo(db)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	start := time.Date(2030, 6, 3, 9, 0, 0, 0, time.UTC)
	slot, err := repo.CreateSlot(ctx, domain.Slot{
		ProviderID: "prov-int",
		StartTime:  start,
		Available:  true,
	})
	if err != nil {
		t.Fatalf("CreateSlot error: %v", err)
	}
	if slot.ID == uuid.Nil {
		t.Fatal("slot id not assigned")
	}

	// Duplicate (provider, instant) violates the slot key.
	_, err = repo.CreateSlot(ctx, domain.Slot{
		ProviderID: "prov-int",
		StartTime:  start,
		Available:  true,
	})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("duplicate slot err = %v, want ErrConflict", err)
	}

	var booking domain.Booking
	err = repo.InTransaction(ctx, func(ctx context.Context, tx store.ScheduleTx) error {
		claimed, err := tx.ClaimSlot(ctx, slot.ID)
		if err != nil {
			return err
		}
		if claimed.Available {
			return fmt.Errorf("claimed slot still available")
		}
		if claimed.Version != slot.Version+1 {
			return fmt.Errorf("version = %d, want %d", claimed.Version, slot.Version+1)
		}

		booking, err = tx.InsertBooking(ctx, domain.Booking{
			SlotID:     slot.ID,
			ConsumerID: "cons-int",
			ProviderID: "prov-int",
			Status:     domain.BookingStatusPending,
		})
		return err
	})
	if err != nil {
		t.Fatalf("claim tx error: %v", err)
	}

	// A second claim on the taken slot loses.
	err = repo.InTransaction(ctx, func(ctx context.Context, tx store.ScheduleTx) error {
		_, err := tx.ClaimSlot(ctx, slot.ID)
		return err
	})
	if !errors.Is(err, store.ErrAlreadyClaimed) {
		t.Fatalf("second claim err = %v, want ErrAlreadyClaimed", err)
	}

	// A second active booking on the same slot trips the partial unique
	// index even without going through a claim.
	err = repo.InTransaction(ctx, func(ctx context.Context, tx store.ScheduleTx) error {
		_, err := tx.InsertBooking(ctx, domain.Booking{
			SlotID:     slot.ID,
			ConsumerID: "cons-other",
			ProviderID: "prov-int",
			Status:     domain.BookingStatusConfirmed,
		})
		return err
	})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("second booking err = %v, want ErrConflict", err)
	}

	// A claimed slot may not be deleted.
	if err := repo.DeleteSlot(ctx, "prov-int", slot.ID); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("delete claimed slot err = %v, want ErrConflict", err)
	}

	// Release is idempotent.
	err = repo.InTransaction(ctx, func(ctx context.Context, tx store.ScheduleTx) error {
		if err := tx.ReleaseSlot(ctx, slot.ID); err != nil {
			return err
		}
		return tx.ReleaseSlot(ctx, slot.ID)
	})
	if err != nil {
		t.Fatalf("release tx error: %v", err)
	}

	got, err := repo.GetSlot(ctx, slot.ID)
	if err != nil {
		t.Fatalf("GetSlot error: %v", err)
	}
	if !got.Available {
		t.Fatal("slot must be available after release")
	}

	// Close the booking; a fresh active booking then fits.
	err = repo.InTransaction(ctx, func(ctx context.Context, tx store.ScheduleTx) error {
		b, err := tx.GetBookingForUpdate(ctx, booking.ID)
		if err != nil {
			return err
		}
		b.Status = domain.BookingStatusCancelled
		b.CancelReason = domain.CancelReasonConsumer
		b.StatusChangedAt = time.Now().UTC()
		_, err = tx.UpdateBooking(ctx, b)
		return err
	})
	if err != nil {
		t.Fatalf("cancel tx error: %v", err)
	}
	err = repo.InTransaction(ctx, func(ctx context.Context, tx store.ScheduleTx) error {
		_, err := tx.InsertBooking(ctx, domain.Booking{
			SlotID:     slot.ID,
			ConsumerID: "cons-other",
			ProviderID: "prov-int",
			Status:     domain.BookingStatusPending,
		})
		return err
	})
	if err != nil {
		t.Fatalf("rebook after cancel error: %v", err)
	}
}

func TestPostgresIntegration_RuleLifecycleAndSlotUpsert(t *testing.T) {
	db := openTestDB(t)
	repo := NewScheduleRepo(db)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	rule, err := repo.CreateRule(ctx, domain.RecurringRule{
		ProviderID: "prov-rule",
		Frequency:  domain.FrequencyWeekly,
		Interval:   1,
		Weekdays:   []int16{1, 3},
		TimeOfDay:  9 * 60,
		StartDate:  time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:    time.Date(2030, 12, 31, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("CreateRule error: %v", err)
	}

	rules, err := repo.ListRulesIntersecting(ctx, "prov-rule",
		time.Date(2030, 6, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2030, 7, 1, 0, 0, 0, 0, time.UTC),
	)
	if err != nil {
		t.Fatalf("ListRulesIntersecting error: %v", err)
	}
	if len(rules) != 1 || rules[0].ID != rule.ID {
		t.Fatalf("rules = %+v, want the created rule", rules)
	}

	ruleID := rule.ID
	mkSlot := func(day int) domain.Slot {
		return domain.Slot{
			ProviderID: "prov-rule",
			StartTime:  time.Date(2030, 6, day, 9, 0, 0, 0, time.UTC),
			Available:  true,
			RuleID:     &ruleID,
		}
	}

	inserted, err := repo.UpsertSlots(ctx, "prov-rule", []domain.Slot{mkSlot(3), mkSlot(5), mkSlot(10)})
	if err != nil {
		t.Fatalf("UpsertSlots error: %v", err)
	}
	if inserted != 3 {
		t.Fatalf("inserted = %d, want 3", inserted)
	}

	// Upserting an overlapping batch only adds the new instant.
	inserted, err = repo.UpsertSlots(ctx, "prov-rule", []domain.Slot{mkSlot(5), mkSlot(12)})
	if err != nil {
		t.Fatalf("second UpsertSlots error: %v", err)
	}
	if inserted != 1 {
		t.Fatalf("inserted = %d, want 1", inserted)
	}

	slots, err := repo.ListAvailableSlots(ctx, "prov-rule",
		time.Date(2030, 6, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2030, 7, 1, 0, 0, 0, 0, time.UTC),
	)
	if err != nil {
		t.Fatalf("ListAvailableSlots error: %v", err)
	}
	if len(slots) != 4 {
		t.Fatalf("slots = %d, want 4", len(slots))
	}
	for i := 1; i < len(slots); i++ {
		if !slots[i-1].StartTime.Before(slots[i].StartTime) {
			t.Fatalf("slots not ascending at %d", i)
		}
	}

	// Claim one slot, then retract: the claimed slot survives detached,
	// the available ones go.
	claimedID := slots[0].ID
	err = repo.InTransaction(ctx, func(ctx context.Context, tx store.ScheduleTx) error {
		_, err := tx.ClaimSlot(ctx, claimedID)
		return err
	})
	if err != nil {
		t.Fatalf("claim error: %v", err)
	}

	// Reshape the rule; the update and the retraction commit together.
	reshaped := rule
	reshaped.Weekdays = []int16{5}
	reshaped, err = repo.ReplaceRule(ctx, reshaped, time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("ReplaceRule error: %v", err)
	}
	if len(reshaped.Weekdays) != 1 || reshaped.Weekdays[0] != 5 {
		t.Fatalf("weekdays = %v, want [5]", reshaped.Weekdays)
	}

	remaining, err := repo.ListAvailableSlots(ctx, "prov-rule",
		time.Date(2030, 6, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2030, 7, 1, 0, 0, 0, 0, time.UTC),
	)
	if err != nil {
		t.Fatalf("ListAvailableSlots error: %v", err)
	}
	if len(remaining) != 0 {
		t.Fatalf("available after retraction = %d, want 0", len(remaining))
	}

	survivor, err := repo.GetSlot(ctx, claimedID)
	if err != nil {
		t.Fatalf("GetSlot error: %v", err)
	}
	if survivor.RuleID != nil {
		t.Fatalf("claimed slot must be detached from the rule, got %v", survivor.RuleID)
	}

	if err := repo.DeleteRule(ctx, "prov-rule", rule.ID); err != nil {
		t.Fatalf("DeleteRule error: %v", err)
	}
	if _, err := repo.GetRule(ctx, rule.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("GetRule after delete err = %v, want ErrNotFound", err)
	}
}

func TestPostgresIntegration_ExpiredHoldListing(t *testing.T) {
	db := openTestDB(t)
	repo := NewScheduleRepo(db)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	now := time.Now().UTC()
	mkBooked := func(offset time.Duration, holdUntil time.Time) domain.Booking {
		slot, err := repo.CreateSlot(ctx, domain.Slot{
			ProviderID: "prov-sweep",
			StartTime:  now.Add(24*time.Hour + offset),
			Available:  true,
		})
		if err != nil {
			t.Fatalf("CreateSlot error: %v", err)
		}
		var b domain.Booking
		err = repo.InTransaction(ctx, func(ctx context.Context, tx store.ScheduleTx) error {
			if _, err := tx.ClaimSlot(ctx, slot.ID); err != nil {
				return err
			}
			b, err = tx.InsertBooking(ctx, domain.Booking{
				SlotID:        slot.ID,
				ConsumerID:    "cons-sweep",
				ProviderID:    "prov-sweep",
				Status:        domain.BookingStatusPending,
				HoldExpiresAt: &holdUntil,
			})
			return err
		})
		if err != nil {
			t.Fatalf("booking tx error: %v", err)
		}
		return b
	}

	expired := mkBooked(0, now.Add(-time.Minute))
	mkBooked(time.Hour, now.Add(15*time.Minute))

	err := repo.InTransaction(ctx, func(ctx context.Context, tx store.ScheduleTx) error {
		holds, err := tx.ListExpiredHolds(ctx, now, 10)
		if err != nil {
			return err
		}
		if len(holds) != 1 {
			return fmt.Errorf("holds = %d, want 1", len(holds))
		}
		if holds[0].ID != expired.ID {
			return fmt.Errorf("hold id = %s, want %s", holds[0].ID, expired.ID)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("list tx error: %v", err)
	}
}

func randomHex(t *testing.T, bytesLen int) string {
	t.Helper()
	b := make([]byte, bytesLen)
	if _, err := rand.Read(b); err != nil {
		t.Fatalf("rand.Read error: %v", err)
	}
	return hex.EncodeToString(b)
}

type rawExecutor interface {
	NewRaw(query string, args ...any) *bun.RawQuery
}

func applyMigrations(ctx context.Context, exec rawExecutor) error {
	dir, err := migrationsDir()
	if err != nil {
		return err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		b, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return err
		}
		upSQL, err := extractGooseUp(string(b))
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		for _, stmt := range splitSQLStatements(upSQL) {
			if _, err := exec.NewRaw(stmt).Exec(ctx); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
		}
	}
	return nil
}

func migrationsDir() (string, error) {
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		return "", fmt.Errorf("runtime.Caller failed")
	}
	base := filepath.Dir(file)
	return filepath.Clean(filepath.Join(base, "..", "..", "..", "migrations")), nil
}

func extractGooseUp(sql string) (string, error) {
	upMarker := "-- +goose Up"
	downMarker := "-- +goose Down"

	upIdx := strings.Index(sql, upMarker)
	if upIdx < 0 {
		return "", fmt.Errorf("missing goose up marker")
	}
	afterUp := sql[upIdx+len(upMarker):]
	afterUp = strings.TrimLeft(afterUp, "\r\n")

	downIdx := strings.Index(afterUp, downMarker)
	if downIdx < 0 {
		return strings.TrimSpace(afterUp), nil
	}
	return strings.TrimSpace(afterUp[:downIdx]), nil
}

func splitSQLStatements(sql string) []string {
	parts := strings.Split(sql, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s == "" {
			continue
		}
		out = append(out, s)
	}
	return out
}
