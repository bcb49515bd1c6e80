package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type PointsTransactionType string

const (
	PointsEarnedStay     PointsTransactionType = "earned_stay"
	PointsEarnedDining   PointsTransactionType = "earned_dining"
	PointsBonus          PointsTransactionType = "bonus"
	PointsAdminAward     PointsTransactionType = "admin_award"
	PointsRedeemedCoupon PointsTransactionType = "redeemed_coupon"
	PointsAdminDeduction PointsTransactionType = "admin_deduction"
	PointsExpired        PointsTransactionType = "expired"
	PointsAdjustment     PointsTransactionType = "adjustment"
)

// IsCredit reports whether the type represents points flowing to the user.
func (t PointsTransactionType) IsCredit() bool {
	switch t {
	case PointsEarnedStay, PointsEarnedDining, PointsBonus, PointsAdminAward:
		return true
	}
	return false
}

// IsDebit reports whether the type represents points leaving the user.
func (t PointsTransactionType) IsDebit() bool {
	switch t {
	case PointsRedeemedCoupon, PointsAdminDeduction, PointsExpired:
		return true
	}
	return false
}

// Expires reports whether awards of this type carry an expiry by default.
// Promotional points expire; stay credits and admin awards do not unless
// the caller asks for it.
func (t PointsTransactionType) Expires() bool {
	return t == PointsBonus || t == PointsEarnedDining
}

// PointsTransaction is an append-only ledger entry. Rows are never updated
// or deleted; corrections and expirations are new offsetting entries.
type PointsTransaction struct {
	ID          uuid.UUID             `gorm:"type:uuid;primary_key;default:gen_random_uuid()" json:"id"`
	UserID      uuid.UUID             `gorm:"type:uuid;not null;index" json:"user_id"`
	User        User                  `gorm:"foreignKey:UserID" json:"-"`
	Points      int                   `gorm:"not null" json:"points"` // positive = earn, negative = deduct/expire
	Type        PointsTransactionType `gorm:"not null" json:"type"`
	Description string                `json:"description"`
	AdminUserID *uuid.UUID            `gorm:"type:uuid" json:"admin_user_id,omitempty"`
	AdminReason string                `json:"admin_reason,omitempty"`
	// SourceTransactionID links a compensating "expired" entry to the entry
	// it offsets. The unique index makes sweeper runs idempotent: a second
	// sweep cannot expire the same source twice.
	SourceTransactionID *uuid.UUID `gorm:"type:uuid;uniqueIndex" json:"source_transaction_id,omitempty"`
	ExpiresAt           *time.Time `json:"expires_at,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
}

func (t *PointsTransaction) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

// PointsBreakdown partitions a user's ledger by category.
type PointsBreakdown struct {
	Earned   int `json:"earned"`
	Redeemed int `json:"redeemed"`
	Expired  int `json:"expired"`
	Adjusted int `json:"adjusted"`
}

// PointsSummary is the balance view computed from the ledger. ActivePoints
// is the authoritative spendable balance; nothing caches it.
type PointsSummary struct {
	TotalPoints    int             `json:"total_points"`
	ActivePoints   int             `json:"active_points"`
	ExpiringPoints int             `json:"expiring_points"`
	ExpirationDate *time.Time      `json:"expiration_date,omitempty"`
	Breakdown      PointsBreakdown `json:"breakdown"`
}
