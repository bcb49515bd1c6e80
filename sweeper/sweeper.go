// Package sweeper moves expired loyalty state forward: positive points
// entries past their expiry get compensating ledger entries, and coupon
// instances and templates past their windows get flipped to expired. Every
// pass is idempotent, so overlapping runs and manual admin triggers are
// safe.
package sweeper

import (
	"fmt"
	"log"
	"time"

	"loyalty-backend/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Sweeper struct {
	DB *gorm.DB
}

func New(db *gorm.DB) *Sweeper {
	return &Sweeper{DB: db}
}

// Result summarizes one sweep pass.
type Result struct {
	PointsEntriesExpired int   `json:"points_entries_expired"`
	PointsExpired        int   `json:"points_expired"`
	UserCouponsExpired   int64 `json:"user_coupons_expired"`
	CouponsExpired       int64 `json:"coupons_expired"`
}

// Run executes a full sweep. Partial failure in one phase does not block
// the others; the first error is returned after all phases ran.
func (s *Sweeper) Run() (Result, error) {
	var result Result
	var firstErr error

	entries, points, err := s.ExpirePoints()
	if err != nil {
		firstErr = err
	}
	result.PointsEntriesExpired = entries
	result.PointsExpired = points

	if n, err := s.ExpireUserCoupons(); err != nil {
		if firstErr == nil {
			firstErr = err
		}
	} else {
		result.UserCouponsExpired = n
	}

	if n, err := s.ExpireCoupons(); err != nil {
		if firstErr == nil {
			firstErr = err
		}
	} else {
		result.CouponsExpired = n
	}

	log.Printf("Sweep complete: %d points entries (%d points) expired, %d user coupons expired, %d coupon templates expired",
		result.PointsEntriesExpired, result.PointsExpired, result.UserCouponsExpired, result.CouponsExpired)
	return result, firstErr
}

// ExpirePoints writes a compensating negative entry for every positive
// entry whose expiry has passed and that has not been compensated yet.
// The unique index on source_transaction_id absorbs races between
// concurrent sweeps: the loser's insert is a no-op.
func (s *Sweeper) ExpirePoints() (int, int, error) {
	now := time.Now()

	var due []models.PointsTransaction
	err := s.DB.
		Where("points > 0 AND expires_at IS NOT NULL AND expires_at <= ?", now).
		Where("id NOT IN (?)", s.DB.Session(&gorm.Session{NewDB: true}).
			Model(&models.PointsTransaction{}).
			Select("source_transaction_id").
			Where("source_transaction_id IS NOT NULL")).
		Find(&due).Error
	if err != nil {
		return 0, 0, fmt.Errorf("finding expired entries: %w", err)
	}

	entriesExpired := 0
	pointsExpired := 0
	for i := range due {
		src := due[i]
		sourceID := src.ID
		compensation := models.PointsTransaction{
			ID:                  uuid.New(),
			UserID:              src.UserID,
			Points:              -src.Points,
			Type:                models.PointsExpired,
			Description:         fmt.Sprintf("Points expired (earned %s)", src.CreatedAt.Format("2006-01-02")),
			SourceTransactionID: &sourceID,
		}
		res := s.DB.Clauses(clause.OnConflict{DoNothing: true}).Create(&compensation)
		if res.Error != nil {
			return entriesExpired, pointsExpired, fmt.Errorf("expiring entry %s: %w", src.ID, res.Error)
		}
		if res.RowsAffected == 1 {
			entriesExpired++
			pointsExpired += src.Points
		}
	}

	return entriesExpired, pointsExpired, nil
}

// ExpireUserCoupons flips available instances past their effective expiry.
// The status guard in the WHERE clause keeps it from touching instances a
// concurrent redemption just used.
func (s *Sweeper) ExpireUserCoupons() (int64, error) {
	now := time.Now()

	// Instance-level expiry wins when set; otherwise the template's
	// valid_until applies.
	res := s.DB.Model(&models.UserCoupon{}).
		Where("status = ? AND expires_at IS NOT NULL AND expires_at <= ?", models.UserCouponAvailable, now).
		Update("status", models.UserCouponExpired)
	if res.Error != nil {
		return 0, fmt.Errorf("expiring user coupons: %w", res.Error)
	}
	flipped := res.RowsAffected

	res = s.DB.Model(&models.UserCoupon{}).
		Where("status = ? AND expires_at IS NULL", models.UserCouponAvailable).
		Where("coupon_id IN (?)", s.DB.Session(&gorm.Session{NewDB: true}).
			Model(&models.Coupon{}).
			Select("id").
			Where("valid_until IS NOT NULL AND valid_until <= ?", now)).
		Update("status", models.UserCouponExpired)
	if res.Error != nil {
		return flipped, fmt.Errorf("expiring user coupons via template: %w", res.Error)
	}

	return flipped + res.RowsAffected, nil
}

// ExpireCoupons moves templates past valid_until into the terminal
// expired status.
func (s *Sweeper) ExpireCoupons() (int64, error) {
	now := time.Now()

	res := s.DB.Model(&models.Coupon{}).
		Where("status IN (?, ?, ?)", models.CouponStatusDraft, models.CouponStatusActive, models.CouponStatusPaused).
		Where("valid_until IS NOT NULL AND valid_until <= ?", now).
		Update("status", models.CouponStatusExpired)
	if res.Error != nil {
		return 0, fmt.Errorf("expiring coupon templates: %w", res.Error)
	}
	return res.RowsAffected, nil
}
