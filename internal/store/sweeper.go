package store

import (
	"context"
	"time"

	"github.com/chatshop/chatshop/internal/domain"
	"github.com/chatshop/chatshop/pkg/metrics"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Sweeper releases reservations older than the basket TTL. It runs
// periodically from the application scheduler and relies on the store's
// transaction isolation to stay safe against concurrent reserve/release on
// the same user.
type Sweeper struct {
	db *gorm.DB
}

func NewSweeper(db *gorm.DB) *Sweeper {
	return &Sweeper{db: db}
}

// Sweep scans all baskets and releases entries older than ttl. Idempotent:
// an entry is only ever released once because the releasing transaction also
// deletes it. Returns the number of entries released.
func (s *Sweeper) Sweep(ctx context.Context, ttl time.Duration) (int, error) {
	cutoff := time.Now().Add(-ttl)

	var userIDs []int64
	if err := s.db.WithContext(ctx).Model(&domain.BasketEntry{}).
		Where("reserved_at < ?", cutoff).
		Distinct("user_id").
		Pluck("user_id", &userIDs).Error; err != nil {
		return 0, err
	}

	released := 0
	for _, userID := range userIDs {
		n, err := s.sweepUser(ctx, userID, cutoff)
		if err != nil {
			zap.L().Error("basket sweep failed for user",
				zap.Int64("user_id", userID), zap.Error(err))
			continue
		}
		released += n
	}
	if released > 0 {
		metrics.IncrCounter("basket_expired_entries", int64(released))
		zap.L().Info("basket sweep released expired reservations",
			zap.Int("entries", released), zap.Int("users", len(userIDs)))
	}
	return released, nil
}

// sweepUser releases one user's expired entries in a single transaction:
// partition expired vs fresh, batch-decrement reserved grouped by product,
// delete only the expired rows. Fresh entries are untouched.
func (s *Sweeper) sweepUser(ctx context.Context, userID int64, cutoff time.Time) (int, error) {
	released := 0
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var expired []domain.BasketEntry
		if err := tx.Where("user_id = ? AND reserved_at < ?", userID, cutoff).
			Find(&expired).Error; err != nil {
			return err
		}
		if len(expired) == 0 {
			return nil
		}

		counts := map[int64]int{}
		ids := make([]int64, 0, len(expired))
		for _, en := range expired {
			counts[en.ProductId]++
			ids = append(ids, en.ID)
		}
		if err := releaseCounts(tx, counts); err != nil {
			return err
		}
		if err := tx.Where("id IN ?", ids).Delete(&domain.BasketEntry{}).Error; err != nil {
			return err
		}
		released = len(expired)
		return nil
	})
	return released, err
}
