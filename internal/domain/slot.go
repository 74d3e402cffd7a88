package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Slot is a concrete bookable unit for one provider. The
// (provider_id, start_time) pair is unique: no two slots may occupy
// the same instant for the same provider. Duration is the configured
// consultation length and is not stored per row. RuleID points at the
// generating rule for materialized slots and is nil for one-off slots
// or slots detached from a retracted rule. Version is bumped on every
// availability change and backs the compare-and-swap claim path.
type Slot struct {
	bun.BaseModel `bun:"table:slots"`

	ID         uuid.UUID  `bun:"id,pk,type:uuid"`
	ProviderID string     `bun:"provider_id,notnull"`
	StartTime  time.Time  `bun:"start_time,notnull"`
	Available  bool       `bun:"available,notnull"`
	RuleID     *uuid.UUID `bun:"rule_id,type:uuid"`
	Version    int64      `bun:"version,notnull"`
	CreatedAt  time.Time  `bun:"created_at,notnull"`
	UpdatedAt  time.Time  `bun:"updated_at,notnull"`
}

func (s *Slot) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if s.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			s.ID = id
		}
		if s.CreatedAt.IsZero() {
			s.CreatedAt = now
		}
		if s.UpdatedAt.IsZero() {
			s.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		s.UpdatedAt = now
	}
	return nil
}
