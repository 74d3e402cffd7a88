package booking

import (
	"context"

	"reservio/backend/internal/domain"
	"reservio/backend/internal/store"
)

const sweepBatchSize = 100

// ExpireStaleHolds cancels pending bookings whose payment window has
// passed and releases their slots. It is the sweep counterpart to the
// cooperative check in Confirm: both paths funnel through the same
// transactional release, so a hold is released exactly once no matter
// which side wins. Returns the number of holds expired.
func (s *Service) ExpireStaleHolds(ctx context.Context) (int, error) {
	now := s.now()
	total := 0

	for {
		var batch []domain.Booking
		err := s.repo.InTransaction(ctx, func(ctx context.Context, tx store.ScheduleTx) error {
			expired, err := tx.ListExpiredHolds(ctx, now, sweepBatchSize)
			if err != nil {
				return err
			}
			for _, b := range expired {
				released, err := expireHold(ctx, tx, b, now)
				if err != nil {
					return err
				}
				batch = append(batch, released)
			}
			return nil
		})
		if err != nil {
			return total, err
		}

		for _, b := range batch {
			s.emit(domain.EventBookingCancelled, b, "")
		}
		total += len(batch)

		if len(batch) < sweepBatchSize {
			return total, nil
		}
	}
}
